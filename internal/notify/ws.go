package notify

import (
	"context"
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// wsConn is the slice of *websocket.Conn the registry needs; tests swap in a
// fake.
type wsConn interface {
	WriteJSON(v any) error
	Close() error
}

// WSSession is one connected user client.
type WSSession struct {
	conn wsConn
	mu   sync.Mutex
}

func (s *WSSession) Send(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(e)
}

// WSRegistry holds live user sessions and implements Emitter: events reach
// the recipient immediately when they have a socket open, and are silently
// skipped when they do not (Kafka delivery covers the offline case). A session
// whose write fails is evicted on the spot so a dead conn cannot keep erroring
// on every emit.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry() *WSRegistry { return &WSRegistry{sessions: make(map[string]*WSSession)} }

func (r *WSRegistry) Add(userID string, conn *websocket.Conn) *WSSession {
	s := &WSSession{conn: conn}
	r.mu.Lock()
	old := r.sessions[userID]
	r.sessions[userID] = s
	r.mu.Unlock()
	if old != nil {
		_ = old.conn.Close()
	}
	return s
}

// Remove drops the user's session if it is still the given one. A nil session
// drops unconditionally.
func (r *WSRegistry) Remove(userID string, s *WSSession) {
	r.mu.Lock()
	cur, ok := r.sessions[userID]
	if ok && (s == nil || cur == s) {
		delete(r.sessions, userID)
	} else {
		cur = nil
	}
	r.mu.Unlock()
	if cur != nil {
		_ = cur.conn.Close()
	}
}

func (r *WSRegistry) Emit(_ context.Context, e Event) error {
	r.mu.RLock()
	s, ok := r.sessions[e.UserID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	if err := s.Send(e); err != nil {
		log.Printf("ws send error, dropping session for %s: %v", e.UserID, err)
		r.Remove(e.UserID, s)
		return err
	}
	return nil
}
