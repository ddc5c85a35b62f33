package engine

import (
	"errors"
	"testing"
	"time"
)

// =============================================================================
// PREVIEW CACHE TESTS
// =============================================================================

func newClockedCache(t *testing.T) (*Cache[string], *time.Time) {
	t.Helper()
	c := NewCache[string](DefaultPreviewTTL())
	clock := time.Now()
	c.now = func() time.Time { return clock }
	return c, &clock
}

func TestCache_ServesWithinTTL(t *testing.T) {
	// GIVEN: A fresh-classified entry with a 5 minute TTL
	// WHEN: Getting again within the TTL
	// THEN: The producer does not run a second time

	c, _ := newClockedCache(t)

	calls := 0
	produce := func() (string, Freshness, error) {
		calls++
		return "preview", FreshnessFresh, nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.Get("k", produce)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if v != "preview" {
			t.Errorf("unexpected value %q", v)
		}
	}
	if calls != 1 {
		t.Errorf("expected one producer call, got %d", calls)
	}
}

func TestCache_TTLVariesByFreshness(t *testing.T) {
	// GIVEN: Entries classified FRESH and STALE
	// WHEN: Advancing the clock past the stale TTL but not the fresh one
	// THEN: Only the stale entry is recomputed

	c, clock := newClockedCache(t)

	freshCalls, staleCalls := 0, 0
	c.Get("fresh", func() (string, Freshness, error) {
		freshCalls++
		return "f", FreshnessFresh, nil
	})
	c.Get("stale", func() (string, Freshness, error) {
		staleCalls++
		return "s", FreshnessStale, nil
	})

	*clock = clock.Add(30 * time.Second)

	c.Get("fresh", func() (string, Freshness, error) {
		freshCalls++
		return "f", FreshnessFresh, nil
	})
	c.Get("stale", func() (string, Freshness, error) {
		staleCalls++
		return "s", FreshnessStale, nil
	})

	if freshCalls != 1 {
		t.Errorf("fresh entry should still be cached, got %d calls", freshCalls)
	}
	if staleCalls != 2 {
		t.Errorf("stale entry should have expired, got %d calls", staleCalls)
	}
}

func TestCache_UnknownFreshnessNeverCached(t *testing.T) {
	c, _ := newClockedCache(t)

	calls := 0
	produce := func() (string, Freshness, error) {
		calls++
		return "u", FreshnessUnknown, nil
	}

	c.Get("k", produce)
	c.Get("k", produce)

	if calls != 2 {
		t.Errorf("unknown freshness must bypass the cache, got %d calls", calls)
	}
}

func TestCache_ProducerErrorNotCached(t *testing.T) {
	c, _ := newClockedCache(t)

	boom := errors.New("inventory unavailable")
	_, err := c.Get("k", func() (string, Freshness, error) {
		return "", FreshnessFresh, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected producer error, got %v", err)
	}

	v, err := c.Get("k", func() (string, Freshness, error) {
		return "recovered", FreshnessFresh, nil
	})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if v != "recovered" {
		t.Errorf("error result must not stick, got %q", v)
	}
}

func TestCache_InvalidateAll(t *testing.T) {
	c, _ := newClockedCache(t)

	calls := 0
	produce := func() (string, Freshness, error) {
		calls++
		return "v", FreshnessFresh, nil
	}

	c.Get("a", produce)
	c.Get("b", produce)
	c.InvalidateAll()
	c.Get("a", produce)
	c.Get("b", produce)

	if calls != 4 {
		t.Errorf("expected recompute after InvalidateAll, got %d calls", calls)
	}
}

func TestCache_InvalidateSingleKey(t *testing.T) {
	c, _ := newClockedCache(t)

	calls := map[string]int{}
	produce := func(key string) func() (string, Freshness, error) {
		return func() (string, Freshness, error) {
			calls[key]++
			return key, FreshnessFresh, nil
		}
	}

	c.Get("a", produce("a"))
	c.Get("b", produce("b"))
	c.Invalidate("a")
	c.Get("a", produce("a"))
	c.Get("b", produce("b"))

	if calls["a"] != 2 {
		t.Errorf("invalidated key should recompute, got %d", calls["a"])
	}
	if calls["b"] != 1 {
		t.Errorf("other keys should stay cached, got %d", calls["b"])
	}
}
