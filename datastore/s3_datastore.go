package datastore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/danthegoodman1/tsmover/s3_helper"
	"github.com/rs/zerolog"
)

type (
	S3DataStore struct {
		client *s3_helper.Client
		prefix string
	}

	// s3File streams writes into a multipart upload running in the background.
	s3File struct {
		pw   *io.PipeWriter
		done chan error
	}
)

func NewS3DataStore(client *s3_helper.Client, prefix string) *S3DataStore {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3DataStore{client: client, prefix: prefix}
}

func contentType(name string) *string {
	switch {
	case strings.HasSuffix(name, ".sql"):
		return aws.String("text/plain")
	case strings.HasSuffix(name, ".json"):
		return aws.String("application/json")
	}
	return aws.String("application/octet-stream")
}

func (s *S3DataStore) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	pr, pw := io.Pipe()
	f := &s3File{pw: pw, done: make(chan error, 1)}
	go func() {
		_, err := s.client.WriteBytesToS3(ctx, s.prefix+name, pr, contentType(name))
		pr.CloseWithError(err)
		f.done <- err
	}()
	return f, nil
}

func (f *s3File) Write(p []byte) (int, error) {
	return f.pw.Write(p)
}

func (f *s3File) Close() error {
	f.pw.Close()
	return <-f.done
}

// Abort fails the upload so no object is created.
func (f *s3File) Abort() error {
	f.pw.CloseWithError(ErrAborted)
	<-f.done
	return nil
}

func (s *S3DataStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	b, err := s.client.ReadBytesFromS3(ctx, s.prefix+name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrNotFound, name, err)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (s *S3DataStore) List(ctx context.Context) ([]string, error) {
	keys, err := s.client.ListKeys(ctx, s.prefix)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		name := strings.TrimPrefix(k, s.prefix)
		if name == "" || strings.Contains(name, "/") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	zerolog.Ctx(ctx).Debug().Str("prefix", s.prefix).Int("files", len(names)).Msg("listed s3 dump files")
	return names, nil
}

func (s *S3DataStore) Shutdown(context.Context) error {
	return nil
}
