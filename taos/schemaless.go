package taos

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/danthegoodman1/tsmover/codec"
	"github.com/danthegoodman1/tsmover/coltype"
	"github.com/danthegoodman1/tsmover/utils"
)

// RESTSchemaless posts schemaless payloads to the adapter endpoints of the REST service.
type RESTSchemaless struct {
	BaseURL  string
	User     string
	Password string
	Client   *http.Client
}

func NewRESTSchemaless(dsn string) (*RESTSchemaless, error) {
	d, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	return &RESTSchemaless{
		BaseURL:  d.Scheme + "://" + d.Addr,
		User:     d.User,
		Password: d.Password,
		Client:   &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func influxPrecision(p coltype.Precision) string {
	if p == coltype.Microsecond {
		return "u"
	}
	return string(p)
}

// Endpoint is the adapter URL a protocol posts to.
func (s *RESTSchemaless) Endpoint(db string, protocol codec.Protocol, p coltype.Precision) (string, error) {
	switch protocol {
	case codec.ProtocolLine:
		q := url.Values{"db": {db}, "precision": {influxPrecision(p)}}
		return s.BaseURL + "/influxdb/v1/write?" + q.Encode(), nil
	case codec.ProtocolTelnet:
		return s.BaseURL + "/opentsdb/v1/put/telnet/" + url.PathEscape(db), nil
	case codec.ProtocolJSON:
		return s.BaseURL + "/opentsdb/v1/put/json/" + url.PathEscape(db), nil
	}
	return "", fmt.Errorf("unknown protocol %q", protocol)
}

func (s *RESTSchemaless) WriteSchemaless(ctx context.Context, db string, protocol codec.Protocol, p coltype.Precision, payload []byte) error {
	endpoint, err := s.Endpoint(db, protocol, p)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("error in http.NewRequestWithContext: %w", err)
	}
	req.SetBasicAuth(s.User, s.Password)
	req.Header.Set("Content-Type", "text/plain")
	if protocol == codec.ProtocolJSON {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: error in Client.Do: %s", utils.ErrConnectivity, err)
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("%w: status %d: %s", ErrSchemaless, res.StatusCode, string(body))
	}
	_, _ = io.Copy(io.Discard, res.Body)
	return nil
}

func (s *RESTSchemaless) Close() error {
	s.Client.CloseIdleConnections()
	return nil
}

// NewSchemaless opens the schemaless writer for the DSN's transport.
func NewSchemaless(dsn string) (SchemalessClient, error) {
	d, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	if d.WebSocket() {
		return NewWSSchemaless(d), nil
	}
	return NewRESTSchemaless(dsn)
}
