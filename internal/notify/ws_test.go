package notify

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeConn struct {
	writes int
	fail   bool
	closed bool
}

func (f *fakeConn) WriteJSON(_ any) error {
	f.writes++
	if f.fail {
		return errors.New("broken pipe")
	}
	return nil
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func (r *WSRegistry) addConn(userID string, conn wsConn) *WSSession {
	s := &WSSession{conn: conn}
	r.mu.Lock()
	r.sessions[userID] = s
	r.mu.Unlock()
	return s
}

func TestEmitSkipsOffline(t *testing.T) {
	r := NewWSRegistry()
	if err := r.Emit(context.Background(), Event{Type: EventRequestCreated, UserID: "nobody"}); err != nil {
		t.Fatalf("offline user must be a silent skip, got %v", err)
	}
}

func TestEmitEvictsDeadSession(t *testing.T) {
	r := NewWSRegistry()
	fc := &fakeConn{}
	r.addConn("u1", fc)

	e := Event{Type: EventRequestCreated, UserID: "u1", At: time.Now()}
	if err := r.Emit(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	if fc.writes != 1 {
		t.Fatalf("expected one write, got %d", fc.writes)
	}

	fc.fail = true
	if err := r.Emit(context.Background(), e); err == nil {
		t.Fatal("expected write error")
	}
	if !fc.closed {
		t.Fatal("dead conn not closed")
	}
	// the registry healed itself: the dead session is gone, emits skip
	if err := r.Emit(context.Background(), e); err != nil {
		t.Fatalf("evicted session still erroring: %v", err)
	}
	if fc.writes != 2 {
		t.Fatalf("dead conn written to after eviction: %d writes", fc.writes)
	}
}

func TestRemoveOnlyDropsOwnSession(t *testing.T) {
	r := NewWSRegistry()
	old := r.addConn("u1", &fakeConn{})
	fresh := &fakeConn{}
	r.addConn("u1", fresh)

	// a late read-pump cleanup for the old session must not drop the new one
	r.Remove("u1", old)
	if err := r.Emit(context.Background(), Event{Type: EventRequestCreated, UserID: "u1"}); err != nil {
		t.Fatal(err)
	}
	if fresh.writes != 1 {
		t.Fatalf("fresh session dropped by stale remove: %d writes", fresh.writes)
	}
}
