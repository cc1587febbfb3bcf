package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/airbar/internal/notify"
)

// fakeSender implements Sender for tests
type fakeSender struct {
	fail  int // number of times to fail before succeeding
	calls int
}

func (f *fakeSender) Send(ctx context.Context, e notify.Event) error {
	f.calls++
	if f.calls <= f.fail {
		return errors.New("send fail")
	}
	return nil
}

func TestDeliverWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeSender{fail: 2}
	e := notify.Event{Type: notify.EventRequestCreated, UserID: "u1", At: time.Now()}
	start := time.Now()
	if err := deliverWithRetry(context.Background(), f, e, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.calls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
}

func TestDeliverWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeSender{fail: 5}
	e := notify.Event{Type: notify.EventTracking, UserID: "u1", At: time.Now()}
	if err := deliverWithRetry(context.Background(), f, e, 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
	if f.calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", f.calls)
	}
}
