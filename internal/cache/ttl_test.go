package cache

import (
	"errors"
	"testing"
	"time"
)

func TestTTLExpires(t *testing.T) {
	now := time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC)
	c := NewTTL[string, int](time.Minute)
	c.now = func() time.Time { return now }

	c.Set("demo", 1)
	if v, ok := c.Get("demo"); !ok || v != 1 {
		t.Fatalf("expected hit, got %v %v", v, ok)
	}
	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("demo"); ok {
		t.Fatal("entry should have expired")
	}
}

func TestTTLGetOrLoad(t *testing.T) {
	c := NewTTL[string, int](time.Hour)
	loads := 0
	load := func() (int, error) {
		loads++
		return 42, nil
	}
	for range 3 {
		v, err := c.GetOrLoad("demo", load)
		if err != nil || v != 42 {
			t.Fatalf("got %v %v", v, err)
		}
	}
	if loads != 1 {
		t.Fatalf("loader called %d times", loads)
	}

	if _, err := c.GetOrLoad("kn", func() (int, error) { return 0, errors.New("boom") }); err == nil {
		t.Fatal("expected load error")
	}
	if _, ok := c.Get("kn"); ok {
		t.Fatal("errors must not be cached")
	}

	c.Purge()
	if _, ok := c.Get("demo"); ok {
		t.Fatal("purge should drop entries")
	}
}

func TestTTLNilSafe(t *testing.T) {
	var c *TTL[string, int]
	c.Set("x", 1)
	if _, ok := c.Get("x"); ok {
		t.Fatal("nil memo never hits")
	}
}
