package datastore

import (
	"context"
	"fmt"
	"io"

	"github.com/zeebo/xxh3"
)

type (
	// SummingWriter counts and hashes everything written through it.
	SummingWriter struct {
		w io.WriteCloser
		h *xxh3.Hasher
		n int64
	}
)

func NewSummingWriter(w io.WriteCloser) *SummingWriter {
	return &SummingWriter{w: w, h: xxh3.New()}
}

func (s *SummingWriter) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	s.n += int64(n)
	_, _ = s.h.Write(p[:n])
	return n, err
}

func (s *SummingWriter) Close() error {
	return s.w.Close()
}

func (s *SummingWriter) Abort() error {
	return Abort(s.w)
}

func (s *SummingWriter) Bytes() int64 {
	return s.n
}

func (s *SummingWriter) Sum64() uint64 {
	return s.h.Sum64()
}

// Checksum reads a whole file and returns its length and xxh3 hash.
func Checksum(ctx context.Context, ds DataStore, name string) (int64, uint64, error) {
	r, err := ds.Open(ctx, name)
	if err != nil {
		return 0, 0, err
	}
	defer r.Close()
	h := xxh3.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return 0, 0, fmt.Errorf("error hashing %s: %w", name, err)
	}
	return n, h.Sum64(), nil
}
