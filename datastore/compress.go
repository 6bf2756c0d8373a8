package datastore

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const zstdExt = ".zst"

type (
	// Compressed stores every file zstd compressed under name + ".zst" and hides the suffix from callers.
	Compressed struct {
		DataStore
		Level zstd.EncoderLevel
	}

	zstdWriter struct {
		*zstd.Encoder
		inner io.WriteCloser
	}

	zstdReader struct {
		*zstd.Decoder
		inner io.ReadCloser
	}
)

func NewCompressed(inner DataStore) *Compressed {
	return &Compressed{DataStore: inner, Level: zstd.SpeedDefault}
}

func (c *Compressed) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	w, err := c.DataStore.Create(ctx, name+zstdExt)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(c.Level))
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("error in zstd.NewWriter: %w", err)
	}
	return &zstdWriter{Encoder: enc, inner: w}, nil
}

func (w *zstdWriter) Close() error {
	if err := w.Encoder.Close(); err != nil {
		w.inner.Close()
		return fmt.Errorf("error in zstd Encoder.Close: %w", err)
	}
	return w.inner.Close()
}

func (w *zstdWriter) Abort() error {
	w.Encoder.Close()
	return Abort(w.inner)
}

func (c *Compressed) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	r, err := c.DataStore.Open(ctx, name+zstdExt)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(r)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("error in zstd.NewReader: %w", err)
	}
	return &zstdReader{Decoder: dec, inner: r}, nil
}

func (r *zstdReader) Close() error {
	r.Decoder.Close()
	return r.inner.Close()
}

// List returns only compressed files, without their suffix.
func (c *Compressed) List(ctx context.Context) ([]string, error) {
	names, err := c.DataStore.List(ctx)
	if err != nil {
		return nil, err
	}
	out := names[:0]
	for _, n := range names {
		if strings.HasSuffix(n, zstdExt) {
			out = append(out, strings.TrimSuffix(n, zstdExt))
		}
	}
	return out, nil
}
