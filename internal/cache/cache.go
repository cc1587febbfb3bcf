package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// TTL tiers. Match-finder results use Medium: supply churns fast enough that
// anything longer serves stale candidates for too long.
const (
	TTLShort  = 5 * time.Minute
	TTLMedium = 30 * time.Minute
	TTLLong   = 2 * time.Hour
	TTLDaily  = 24 * time.Hour
)

// Cache is a TTL key-value store for memoized query results. Get reports a
// miss rather than an error where possible; callers treat errors as misses
// and recompute.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, v any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type memEntry struct {
	b  []byte
	ts time.Time
	tt time.Duration
}

// Memory is an in-process Cache for tests and single-node runs.
type Memory struct {
	mu    sync.RWMutex
	store map[string]memEntry
}

func NewMemory() *Memory {
	return &Memory{store: make(map[string]memEntry)}
}

func (c *Memory) Get(_ context.Context, key string, dest any) (bool, error) {
	c.mu.RLock()
	e, ok := c.store[key]
	c.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if time.Since(e.ts) > e.tt {
		c.mu.Lock()
		delete(c.store, key)
		c.mu.Unlock()
		return false, nil
	}
	if err := json.Unmarshal(e.b, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Memory) Set(_ context.Context, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.store[key] = memEntry{b: b, ts: time.Now(), tt: ttl}
	c.mu.Unlock()
	return nil
}

func (c *Memory) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.store, key)
	c.mu.Unlock()
	return nil
}
