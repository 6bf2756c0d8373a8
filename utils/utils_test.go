package utils

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestVersionToInt(t *testing.T) {
	a, err := VersionToInt("3.0.4.0")
	if err != nil {
		t.Fatal(err)
	}
	b, err := VersionToInt("3.1")
	if err != nil {
		t.Fatal(err)
	}
	if a >= b {
		t.Fatalf("3.0.4 should sort before 3.1: %d %d", a, b)
	}
	if _, err = VersionToInt("ver3"); !errors.Is(err, ErrVersionBadFormat) {
		t.Fatalf("expected bad format, got %v", err)
	}
}

func TestIsFatal(t *testing.T) {
	if !IsFatal(fmt.Errorf("%w: bad", ErrConfig)) || !IsFatal(fmt.Errorf("%w: down", ErrConnectivity)) {
		t.Fatal("config and connectivity errors abort the run")
	}
	if !IsFatal(fmt.Errorf("worker 0: %w", context.Canceled)) {
		t.Fatal("a cancelled run aborts")
	}
	if IsFatal(fmt.Errorf("%w: row", ErrItem)) {
		t.Fatal("item errors are counted, not fatal")
	}
}
