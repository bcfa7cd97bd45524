package cache_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"memstore/internal/cache"
)

func ranked(ids ...string) []cache.Ranked {
	out := make([]cache.Ranked, 0, len(ids))
	for i, id := range ids {
		out = append(out, cache.Ranked{ID: id, Relevance: 1 - float64(i)*0.1})
	}

	return out
}

func TestPut_Get_RoundTrips(t *testing.T) {
	t.Parallel()

	c := cache.New(2)
	c.Put("q1", ranked("a", "b"))

	got, ok := c.Get("q1")
	if !ok {
		t.Fatalf("Get(q1) miss, want hit")
	}

	if diff := cmp.Diff(ranked("a", "b"), got); diff != "" {
		t.Fatalf("Get(q1) diff:\n%s", diff)
	}
}

func TestPut_EvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	c := cache.New(2)
	c.Put("q1", ranked("a"))
	c.Put("q2", ranked("b"))
	c.Put("q3", ranked("c")) // evicts q1 (least recently used)

	if _, ok := c.Get("q1"); ok {
		t.Fatalf("Get(q1) hit after eviction, want miss")
	}

	if _, ok := c.Get("q2"); !ok {
		t.Fatalf("Get(q2) miss, want hit")
	}

	if _, ok := c.Get("q3"); !ok {
		t.Fatalf("Get(q3) miss, want hit")
	}
}

func TestGet_PromotesToMostRecentlyUsed(t *testing.T) {
	t.Parallel()

	c := cache.New(2)
	c.Put("q1", ranked("a"))
	c.Put("q2", ranked("b"))

	c.Get("q1") // promote q1 so q2 becomes the LRU victim

	c.Put("q3", ranked("c"))

	if _, ok := c.Get("q2"); ok {
		t.Fatalf("Get(q2) hit after eviction, want miss")
	}

	if _, ok := c.Get("q1"); !ok {
		t.Fatalf("Get(q1) miss, want hit (recently promoted)")
	}
}

func TestClear_RemovesAllEntries(t *testing.T) {
	t.Parallel()

	c := cache.New(8)
	c.Put("q1", ranked("a"))
	c.Clear()

	if c.Len() != 0 {
		t.Fatalf("Len()=%d after Clear, want 0", c.Len())
	}

	if _, ok := c.Get("q1"); ok {
		t.Fatalf("Get(q1) hit after Clear, want miss")
	}
}

func TestNew_NonPositiveMax_DisablesCaching(t *testing.T) {
	t.Parallel()

	c := cache.New(0)
	c.Put("q1", ranked("a"))

	if _, ok := c.Get("q1"); ok {
		t.Fatalf("Get(q1) hit with max=0, want miss")
	}
}
