// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package cache

import (
	"errors"
	"strconv"
	"sync"
	"testing"
)

func TestGetOrCreate(t *testing.T) {
	c := New[string, int](0)
	calls := 0
	create := func() (int, error) {
		calls++
		return 42, nil
	}
	for i := 0; i < 3; i++ {
		v, err := c.GetOrCreate("a", create)
		if err != nil || v != 42 {
			t.Fatalf("GetOrCreate() = %d, %v", v, err)
		}
	}
	if calls != 1 {
		t.Errorf("create called %d times, want 1", calls)
	}
	if s := c.Stats(); s.Len != 1 || s.Hits != 2 || s.Misses != 1 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestGetOrCreateErrorNotCached(t *testing.T) {
	c := New[string, int](0)
	boom := errors.New("boom")
	if _, err := c.GetOrCreate("a", func() (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Fatalf("error = %v, want boom", err)
	}
	if _, ok := c.Get("a"); ok {
		t.Error("failed value was cached")
	}
	v, err := c.GetOrCreate("a", func() (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Errorf("retry = %d, %v", v, err)
	}
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c := New[string, int](4)
	for i := 0; i < 4; i++ {
		_, _ = c.GetOrCreate(strconv.Itoa(i), func() (int, error) { return i, nil })
	}
	// Touch 0 so 1 is the oldest.
	if _, ok := c.Get("0"); !ok {
		t.Fatal("entry 0 missing")
	}
	_, _ = c.GetOrCreate("4", func() (int, error) { return 4, nil })

	if n := c.Stats().Len; n != 3 {
		t.Fatalf("Len = %d after eviction, want 3", n)
	}
	if _, ok := c.Get("0"); !ok {
		t.Error("recently used entry evicted")
	}
	if _, ok := c.Get("4"); !ok {
		t.Error("new entry evicted")
	}
	if _, ok := c.Get("1"); ok {
		t.Error("oldest entry survived")
	}
}

func TestClear(t *testing.T) {
	c := New[int, int](0)
	_, _ = c.GetOrCreate(1, func() (int, error) { return 1, nil })
	c.Clear()
	if n := c.Stats().Len; n != 0 {
		t.Errorf("Len = %d after Clear", n)
	}
}

func TestConcurrentGetOrCreate(t *testing.T) {
	c := New[int, int](0)
	var mu sync.Mutex
	calls := 0
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.GetOrCreate(1, func() (int, error) {
				mu.Lock()
				calls++
				mu.Unlock()
				return 1, nil
			})
		}()
	}
	wg.Wait()
	if calls != 1 {
		t.Errorf("create called %d times, want 1", calls)
	}
}

func BenchmarkGetOrCreateHit(b *testing.B) {
	c := New[string, int](1000)
	_, _ = c.GetOrCreate("k", func() (int, error) { return 1, nil })
	b.ReportAllocs()
	for b.Loop() {
		_, _ = c.GetOrCreate("k", func() (int, error) { return 1, nil })
	}
}
