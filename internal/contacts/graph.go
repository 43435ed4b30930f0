// Package contacts answers who should hear about a user's presence.
package contacts

import (
	"context"
	"sync"
	"time"

	"secumsg/internal/store"
)

// Graph lists the users holding an accepted contact relation with userID.
type Graph interface {
	Accepted(ctx context.Context, userID string) ([]string, error)
}

// StoreGraph reads the relation straight from the contacts table.
type StoreGraph struct {
	store *store.Store
}

func NewStoreGraph(st *store.Store) *StoreGraph { return &StoreGraph{store: st} }

func (g *StoreGraph) Accepted(ctx context.Context, userID string) ([]string, error) {
	return g.store.Contacts().Accepted(ctx, userID)
}

type entry struct {
	ids     []string
	expires time.Time
}

// Cached memoises another Graph per user for ttl.
type Cached struct {
	next Graph
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]entry
}

// NewCached wraps next. A non-positive ttl returns next unchanged.
func NewCached(next Graph, ttl time.Duration) Graph {
	if ttl <= 0 {
		return next
	}
	return &Cached{next: next, ttl: ttl, now: time.Now, entries: make(map[string]entry)}
}

func (c *Cached) Accepted(ctx context.Context, userID string) ([]string, error) {
	now := c.now()
	c.mu.Lock()
	e, ok := c.entries[userID]
	c.mu.Unlock()
	if ok && now.Before(e.expires) {
		return e.ids, nil
	}

	ids, err := c.next.Accepted(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.entries[userID] = entry{ids: ids, expires: now.Add(c.ttl)}
	c.mu.Unlock()
	return ids, nil
}
