package taos

import (
	"fmt"
	"regexp"
)

// DSN is the parsed form of user:password@scheme(host:port)/db. http and https DSNs use the REST service, ws and
// wss DSNs the WebSocket service.
type DSN struct {
	User     string
	Password string
	Scheme   string
	Addr     string
	DB       string
}

var dsnPattern = regexp.MustCompile(`^(?:([^:@]*)(?::([^@]*))?@)?(https?|wss?)\(([^)]*)\)/?(.*)$`)

func ParseDSN(dsn string) (DSN, error) {
	m := dsnPattern.FindStringSubmatch(dsn)
	if m == nil {
		return DSN{}, fmt.Errorf("%w: %q", ErrBadDSN, dsn)
	}
	return DSN{User: m[1], Password: m[2], Scheme: m[3], Addr: m[4], DB: m[5]}, nil
}

func (d DSN) WebSocket() bool {
	return d.Scheme == "ws" || d.Scheme == "wss"
}

// Driver is the database/sql driver registered for the DSN's transport.
func (d DSN) Driver() string {
	if d.WebSocket() {
		return wsDriverName
	}
	return restDriverName
}

// URL is the service endpoint at path, e.g. "/rest/stmt".
func (d DSN) URL(path string) string {
	return d.Scheme + "://" + d.Addr + path
}
