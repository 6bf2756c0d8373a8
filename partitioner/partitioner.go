package partitioner

import (
	"errors"
	"fmt"
)

type (
	// Range is the contiguous slice of work handed to one worker: items [Offset, Offset+Count).
	Range struct {
		Worker int
		Offset int64
		Count  int64
	}
)

var (
	ErrNoThreads  = errors.New("thread count must be at least 1")
	ErrNegativeN  = errors.New("item count must not be negative")
	ErrOutOfRange = errors.New("range exceeds item list")
)

func (r Range) End() int64 {
	return r.Offset + r.Count
}

func (r Range) String() string {
	return fmt.Sprintf("worker %d [%d, %d)", r.Worker, r.Offset, r.End())
}

// Plan splits n items across min(threads, n) workers. The first n%workers workers get one extra item, and ranges
// follow enumeration order. Zero items yields no ranges.
func Plan(n int64, threads int) ([]Range, error) {
	if threads < 1 {
		return nil, ErrNoThreads
	}
	if n < 0 {
		return nil, ErrNegativeN
	}
	workers := int64(threads)
	if n < workers {
		workers = n
	}
	if workers == 0 {
		return nil, nil
	}
	base, remainder := n/workers, n%workers
	ranges := make([]Range, workers)
	var offset int64
	for i := range ranges {
		count := base
		if int64(i) < remainder {
			count++
		}
		ranges[i] = Range{Worker: i, Offset: offset, Count: count}
		offset += count
	}
	return ranges, nil
}

// Slice returns the items of r.
func Slice[T any](items []T, r Range) ([]T, error) {
	if r.Offset < 0 || r.End() > int64(len(items)) {
		return nil, fmt.Errorf("%w: %s of %d", ErrOutOfRange, r, len(items))
	}
	return items[r.Offset:r.End()], nil
}
