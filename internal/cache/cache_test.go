package cache

import (
	"testing"
	"time"
)

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache(0, time.Minute)
	if _, ok := c.Get("paris"); ok {
		t.Fatal("empty cache should miss")
	}

	_ = c.Set("paris", []float64{1, 2}, 0)
	v, ok := c.Get("paris")
	if !ok || v[1] != 2 {
		t.Fatalf("expected hit, got %v %v", v, ok)
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", c.Len())
	}

	_ = c.Delete("paris")
	if _, ok := c.Get("paris"); ok {
		t.Error("deleted key should miss")
	}

	_ = c.Set("a", []float64{1}, 0)
	_ = c.Set("b", []float64{2}, 0)
	_ = c.Clear()
	if c.Len() != 0 {
		t.Errorf("expected empty cache after clear, got %d", c.Len())
	}
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Minute)
	_ = c.Set("k", []float64{1}, 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Error("expired entry should miss")
	}
}

func TestLayeredCache_PromotesSourceHits(t *testing.T) {
	lookups := 0
	src := SourceFunc(func(key string) ([]float64, bool) {
		lookups++
		if key == "known" {
			return []float64{0.5}, true
		}
		return nil, false
	})
	c := NewLayeredCache(0, src)

	for i := 0; i < 3; i++ {
		v, ok := c.Get("known")
		if !ok || v[0] != 0.5 {
			t.Fatalf("expected source hit, got %v %v", v, ok)
		}
	}
	if lookups != 1 {
		t.Errorf("expected one source lookup, got %d", lookups)
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("missing key should miss")
	}

	_ = c.Clear()
	c.Get("known")
	if lookups != 3 {
		t.Errorf("expected source consulted again after clear, got %d lookups", lookups)
	}
}
