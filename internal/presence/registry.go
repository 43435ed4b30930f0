// Package presence tracks which users hold a live realtime connection on
// this instance.
package presence

import (
	"log/slog"
	"sync"
)

// Conn is a live client session the registry can push events to.
type Conn interface {
	ID() string
	Alive() bool
	Send(event string, payload any) error
}

// Registry maps a user to at most one connection. It is safe for concurrent
// use from any number of connection goroutines.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn
	log   *slog.Logger
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]Conn), log: slog.Default()}
}

// Register binds conn to userID and returns the connection it replaced, if
// any. The newest registration always wins.
func (r *Registry) Register(userID string, conn Conn) Conn {
	r.mu.Lock()
	prev := r.conns[userID]
	r.conns[userID] = conn
	r.mu.Unlock()

	if prev != nil && prev.ID() != conn.ID() {
		r.log.Info("connection replaced", "user_id", userID, "old_conn", prev.ID(), "new_conn", conn.ID())
		return prev
	}
	return nil
}

// Unregister drops the binding only while it still points at conn. It
// reports whether a binding was removed.
func (r *Registry) Unregister(userID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.conns[userID]
	if !ok || cur.ID() != conn.ID() {
		return false
	}
	delete(r.conns, userID)
	return true
}

func (r *Registry) IsOnline(userID string) bool {
	_, ok := r.lookup(userID)
	return ok
}

// Send pushes an event to userID. It returns false when the user has no live
// connection or the push failed; neither case is an error for the caller.
func (r *Registry) Send(userID, event string, payload any) bool {
	conn, ok := r.lookup(userID)
	if !ok {
		return false
	}
	if err := conn.Send(event, payload); err != nil {
		r.log.Warn("realtime push failed", "user_id", userID, "conn_id", conn.ID(), "event", event, "error", err)
		if !conn.Alive() {
			r.evict(userID, conn)
		}
		return false
	}
	return true
}

// Online returns the number of registered users.
func (r *Registry) Online() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) lookup(userID string) (Conn, bool) {
	r.mu.RLock()
	conn, ok := r.conns[userID]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !conn.Alive() {
		r.evict(userID, conn)
		return nil, false
	}
	return conn, true
}

func (r *Registry) evict(userID string, conn Conn) {
	if r.Unregister(userID, conn) {
		r.log.Debug("stale connection evicted", "user_id", userID, "conn_id", conn.ID())
	}
}
