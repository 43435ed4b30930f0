// Package broadcast reacts to connection changes: it drains a user's queued
// messages on connect and tells accepted contacts when the user comes online
// or goes offline.
package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"secumsg/internal/contacts"
	"secumsg/internal/events"
	"secumsg/internal/observability/metrics"
)

const fanoutTimeout = 10 * time.Second

type Notifier interface {
	Notify(userID, event string, payload any) bool
	IsOnline(userID string) bool
}

type Flusher interface {
	FlushPending(ctx context.Context, userID string) (int, error)
}

type Broadcaster struct {
	graph    contacts.Graph
	notifier Notifier
	flusher  Flusher
	debounce time.Duration
	log      *slog.Logger

	mu        sync.Mutex
	timers    map[string]*time.Timer
	announced map[string]bool
	closed    bool
}

func New(graph contacts.Graph, notifier Notifier, flusher Flusher, debounce time.Duration) *Broadcaster {
	return &Broadcaster{
		graph:     graph,
		notifier:  notifier,
		flusher:   flusher,
		debounce:  debounce,
		log:       slog.Default(),
		timers:    make(map[string]*time.Timer),
		announced: make(map[string]bool),
	}
}

// Connected delivers whatever was queued for userID and schedules an online
// announcement.
func (b *Broadcaster) Connected(ctx context.Context, userID string) {
	if _, err := b.flusher.FlushPending(ctx, userID); err != nil {
		b.log.Error("pending flush failed", "user_id", userID, "error", err)
	}
	b.schedule(userID)
}

// Disconnected schedules an offline announcement. It is dropped if the user
// reconnects within the debounce window.
func (b *Broadcaster) Disconnected(userID string) {
	b.schedule(userID)
}

func (b *Broadcaster) schedule(userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if t, ok := b.timers[userID]; ok {
		t.Stop()
	}
	b.timers[userID] = time.AfterFunc(b.debounce, func() { b.settle(userID) })
}

// settle compares the current presence with what contacts last heard and
// announces only a real change.
func (b *Broadcaster) settle(userID string) {
	online := b.notifier.IsOnline(userID)

	b.mu.Lock()
	delete(b.timers, userID)
	if b.closed || b.announced[userID] == online {
		b.mu.Unlock()
		return
	}
	if online {
		b.announced[userID] = true
	} else {
		delete(b.announced, userID)
	}
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), fanoutTimeout)
	defer cancel()
	peers, err := b.graph.Accepted(ctx, userID)
	if err != nil {
		b.log.Error("contact lookup failed", "user_id", userID, "error", err)
		return
	}

	status := "offline"
	if online {
		status = "online"
	}
	payload := events.UserStatusPayload{UserID: userID, IsOnline: online}
	reached := 0
	for _, peer := range peers {
		if b.notifier.Notify(peer, events.UserStatus, payload) {
			reached++
		}
	}
	metrics.PresenceBroadcastsTotal.WithLabelValues(status).Inc()
	b.log.Info("presence broadcast", "user_id", userID, "status", status, "contacts", len(peers), "reached", reached)
}

// Close cancels pending announcements.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, t := range b.timers {
		t.Stop()
		delete(b.timers, id)
	}
}
