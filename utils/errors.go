package utils

import (
	"context"
	"errors"
)

type PermError string

func (e PermError) Error() string {
	return string(e)
}

func (e PermError) IsPermanent() bool {
	return true
}

var (
	// ErrConfig marks invalid configuration. Reported before any work starts.
	ErrConfig = errors.New("configuration error")
	// ErrConnectivity marks a database or storage endpoint that cannot be reached. It aborts the run.
	ErrConnectivity = errors.New("connectivity error")
	// ErrItem marks the failure of one row, table or file. The item is counted and the worker moves on.
	ErrItem = errors.New("item failed")
	// ErrSchemaMismatch marks an unknown or unsupported column type met while encoding or decoding a record.
	ErrSchemaMismatch = errors.New("schema mismatch")
)

// IsFatal reports whether err should abort the whole run rather than count against one item. A cancelled run
// is fatal.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfig) || errors.Is(err, ErrConnectivity) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
