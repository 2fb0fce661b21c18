package cache

import (
	"testing"

	"github.com/intellect4all/durastore/common"
)

func TestGetLoadsOnMiss(t *testing.T) {
	calls := 0
	c := New[int, string](2, func(k int) (string, error) {
		calls++
		return "val", nil
	}, nil)

	v, err := c.Get(1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != "val" {
		t.Fatalf("Get = %q", v)
	}
	if calls != 1 {
		t.Fatalf("loader called %d times, want 1", calls)
	}
	c.Release(1)
}

func TestGetPinsAgainstEviction(t *testing.T) {
	evicted := make(map[int]bool)
	c := New[int, int](1, func(k int) (int, error) { return k * 10, nil }, func(k int, v int) error {
		evicted[k] = true
		return nil
	})

	if _, err := c.Get(1); err != nil {
		t.Fatalf("Get(1): %v", err)
	}
	// Capacity is 1 and key 1 is still pinned: Get(2) must fail rather
	// than silently evicting a pinned resource.
	if _, err := c.Get(2); err == nil || !common.Is(err, common.KindCacheFull) {
		t.Fatalf("Get(2) while 1 pinned: err = %v, want CacheFull", err)
	}

	c.Release(1)
	v, err := c.Get(2)
	if err != nil {
		t.Fatalf("Get(2) after release: %v", err)
	}
	if v != 20 {
		t.Fatalf("Get(2) = %d, want 20", v)
	}
	if !evicted[1] {
		t.Fatalf("expected key 1 to have been evicted")
	}
}

func TestCloseDrainsAndWritesBack(t *testing.T) {
	written := make(map[int]int)
	c := New[int, int](4, func(k int) (int, error) { return k, nil }, func(k int, v int) error {
		written[k] = v
		return nil
	})

	for _, k := range []int{1, 2, 3} {
		v, err := c.Get(k)
		if err != nil {
			t.Fatalf("Get(%d): %v", k, err)
		}
		c.Release(k)
		_ = v
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(written) != 3 {
		t.Fatalf("Close wrote back %d entries, want 3", len(written))
	}
}

func TestReleaseUnknownKeyIsNoop(t *testing.T) {
	c := New[int, int](1, func(k int) (int, error) { return k, nil }, nil)
	c.Release(42) // must not panic
	if c.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", c.Len())
	}
}
