package partitioner

import (
	"testing"
)

func TestPlan(t *testing.T) {
	ranges, err := Plan(37, 8)
	if err != nil {
		t.Fatal(err)
	}
	if len(ranges) != 8 {
		t.Fatalf("got %d workers", len(ranges))
	}
	fives, fours := 0, 0
	for i, r := range ranges {
		switch {
		case r.Count == 5 && i < 5:
			fives++
		case r.Count == 4 && i >= 5:
			fours++
		default:
			t.Fatalf("unexpected %s", r)
		}
	}
	if fives != 5 || fours != 3 {
		t.Fatal("bad split")
	}
	if ranges[7].End() != 37 {
		t.Fatal("does not cover all items")
	}
}

func TestPlanProperties(t *testing.T) {
	for n := int64(0); n < 60; n++ {
		for threads := 1; threads < 12; threads++ {
			ranges, err := Plan(n, threads)
			if err != nil {
				t.Fatal(err)
			}
			want := threads
			if int(n) < want {
				want = int(n)
			}
			if len(ranges) != want {
				t.Fatalf("n=%d t=%d: %d workers", n, threads, len(ranges))
			}
			var next int64
			var lo, hi int64 = n, 0
			for _, r := range ranges {
				if r.Offset != next {
					t.Fatalf("n=%d t=%d: gap or overlap at %s", n, threads, r)
				}
				next = r.End()
				if r.Count < lo {
					lo = r.Count
				}
				if r.Count > hi {
					hi = r.Count
				}
			}
			if next != n {
				t.Fatalf("n=%d t=%d: covers [0, %d)", n, threads, next)
			}
			if len(ranges) > 0 && hi-lo > 1 {
				t.Fatalf("n=%d t=%d: sizes differ by %d", n, threads, hi-lo)
			}
		}
	}
}

func TestPlanErrors(t *testing.T) {
	if _, err := Plan(5, 0); err != ErrNoThreads {
		t.Fatal("expected ErrNoThreads")
	}
	if _, err := Plan(-1, 2); err != ErrNegativeN {
		t.Fatal("expected ErrNegativeN")
	}
}

func TestSlice(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e"}
	ranges, err := Plan(int64(len(items)), 2)
	if err != nil {
		t.Fatal(err)
	}
	first, err := Slice(items, ranges[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 3 || first[2] != "c" {
		t.Fatalf("got %v", first)
	}
	if _, err = Slice(items, Range{Offset: 4, Count: 2}); err == nil {
		t.Fatal("expected out of range")
	}
}
