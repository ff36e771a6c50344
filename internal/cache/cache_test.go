package cache

import (
	"context"
	"testing"
	"time"
)

type payload struct {
	Answer string `json:"answer"`
	Score  float64
}

func newTestCache(t *testing.T, ttl time.Duration) *ResponseCache {
	t.Helper()
	store := NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	return NewResponseCache(store, ttl)
}

func TestKeyNormalization(t *testing.T) {
	if Key("What is EB-2?", "en") != Key("  what is eb-2?  ", "en") {
		t.Error("key should ignore case and surrounding whitespace")
	}
	if Key("What is EB-2?", "en") == Key("What is EB-2?", "zh") {
		t.Error("key must differ across languages")
	}
	if Key("What is EB-2?", "") != Key("What is EB-2?", "auto") {
		t.Error("empty language must map to the auto sentinel")
	}
}

func TestGetSetRoundTrip(t *testing.T) {
	c := newTestCache(t, time.Minute)
	ctx := context.Background()

	var miss payload
	found, err := c.Get(ctx, "What is EB-2?", "en", &miss)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Fatal("empty cache reported a hit")
	}

	want := payload{Answer: "EB-2 is an employment-based category.", Score: 0.82}
	if err := c.Set(ctx, "What is EB-2?", "en", want); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var got payload
	found, err = c.Get(ctx, "what is eb-2?", "en", &got)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found {
		t.Fatal("expected hit after Set with normalized question")
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestLanguageIsolation(t *testing.T) {
	c := newTestCache(t, time.Minute)
	ctx := context.Background()

	c.Set(ctx, "What is EB-2?", "en", payload{Answer: "english"})

	var got payload
	found, _ := c.Get(ctx, "What is EB-2?", "zh", &got)
	if found {
		t.Error("entry cached under en must not hit for zh")
	}
}

func TestExpiry(t *testing.T) {
	c := newTestCache(t, 20*time.Millisecond)
	ctx := context.Background()

	c.Set(ctx, "q", "en", payload{Answer: "a"})
	time.Sleep(40 * time.Millisecond)

	var got payload
	found, err := c.Get(ctx, "q", "en", &got)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Error("entry should have expired")
	}
}

func TestDisabledWhenTTLNonPositive(t *testing.T) {
	for _, ttl := range []time.Duration{0, -time.Second} {
		c := newTestCache(t, ttl)
		ctx := context.Background()

		if c.Enabled() {
			t.Errorf("ttl %v: cache should be disabled", ttl)
		}
		if err := c.Set(ctx, "q", "en", payload{Answer: "a"}); err != nil {
			t.Fatalf("Set: %v", err)
		}
		var got payload
		found, err := c.Get(ctx, "q", "en", &got)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if found {
			t.Errorf("ttl %v: disabled cache returned a hit", ttl)
		}

		stats := c.Stats()
		if stats.Hits != 0 || stats.Misses != 0 {
			t.Errorf("ttl %v: disabled cache must not count lookups, got %+v", ttl, stats)
		}
	}
}

func TestDelete(t *testing.T) {
	c := newTestCache(t, time.Minute)
	ctx := context.Background()

	c.Set(ctx, "What is EB-2?", "en", payload{Answer: "a"})
	c.Set(ctx, "What is EB-2?", "zh", payload{Answer: "b"})

	if err := c.Delete(ctx, "  what is eb-2?  ", "en"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	var got payload
	if found, _ := c.Get(ctx, "What is EB-2?", "en", &got); found {
		t.Error("deleted entry still hit")
	}
	if found, _ := c.Get(ctx, "What is EB-2?", "zh", &got); !found {
		t.Error("delete must only evict the requested language")
	}
}

func TestClear(t *testing.T) {
	c := newTestCache(t, time.Minute)
	ctx := context.Background()

	c.Set(ctx, "q one", "en", payload{Answer: "a"})
	c.Set(ctx, "q two", "en", payload{Answer: "b"})

	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	var got payload
	if found, _ := c.Get(ctx, "q one", "en", &got); found {
		t.Error("entry survived Clear")
	}
}

func TestStats(t *testing.T) {
	c := newTestCache(t, time.Minute)
	ctx := context.Background()

	var got payload
	c.Get(ctx, "q", "en", &got) // miss
	c.Set(ctx, "q", "en", payload{Answer: "a"})
	c.Get(ctx, "q", "en", &got) // hit
	c.Get(ctx, "q", "en", &got) // hit

	stats := c.Stats()
	if stats.Hits != 2 || stats.Misses != 1 {
		t.Errorf("stats = %+v, want 2 hits 1 miss", stats)
	}
	if stats.HitRate < 0.66 || stats.HitRate > 0.67 {
		t.Errorf("hit rate = %f, want ~0.667", stats.HitRate)
	}
	if !stats.Enabled {
		t.Error("stats should report cache enabled")
	}
}
