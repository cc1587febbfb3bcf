package cache

import (
	"context"
	"testing"
	"time"
)

type payload struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

func TestMemoryRoundTrip(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	var got payload
	hit, err := c.Get(ctx, "missing", &got)
	if err != nil || hit {
		t.Fatalf("expected clean miss, got hit=%v err=%v", hit, err)
	}

	want := payload{ID: "abc", Score: 41.5}
	if err := c.Set(ctx, "k", want, TTLShort); err != nil {
		t.Fatal(err)
	}
	hit, err = c.Get(ctx, "k", &got)
	if err != nil || !hit {
		t.Fatalf("expected hit, got hit=%v err=%v", hit, err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	if err := c.Set(ctx, "k", payload{ID: "abc"}, 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(25 * time.Millisecond)

	var got payload
	hit, err := c.Get(ctx, "k", &got)
	if err != nil {
		t.Fatal(err)
	}
	if hit {
		t.Fatal("entry should have expired")
	}
}

func TestMemoryDelete(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	if err := c.Set(ctx, "k", payload{ID: "abc"}, TTLDaily); err != nil {
		t.Fatal(err)
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	var got payload
	if hit, _ := c.Get(ctx, "k", &got); hit {
		t.Fatal("deleted entry still present")
	}
}
