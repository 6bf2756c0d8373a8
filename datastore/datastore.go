package datastore

import (
	"context"
	"errors"
	"io"

	"github.com/danthegoodman1/tsmover/gologger"
)

var (
	logger = gologger.NewLogger()

	ErrNotFound = errors.New("file not found")
	ErrAborted  = errors.New("write aborted")
)

type (
	// DataStore holds the files of one dump, addressed by flat file name.
	DataStore interface {
		// Create opens a file for writing. The file becomes visible to Open and List once the writer is closed.
		Create(ctx context.Context, name string) (io.WriteCloser, error)
		Open(ctx context.Context, name string) (io.ReadCloser, error)
		// List returns the names of all committed files, sorted.
		List(ctx context.Context) ([]string, error)

		Shutdown(ctx context.Context) error
	}
)

// Aborter is implemented by writers that can discard a file instead of committing it.
type Aborter interface {
	Abort() error
}

// Abort discards w when it supports it and closes it otherwise.
func Abort(w io.WriteCloser) error {
	if a, ok := w.(Aborter); ok {
		return a.Abort()
	}
	return w.Close()
}
