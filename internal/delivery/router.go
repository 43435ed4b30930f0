// Package delivery routes server events to users: push when the recipient
// is connected, otherwise queue durable events and drop ephemeral ones.
package delivery

import (
	"context"
	"log/slog"

	"secumsg/internal/events"
	"secumsg/internal/observability/metrics"
)

// Sender is the presence registry view the router needs.
type Sender interface {
	Send(userID, event string, payload any) bool
	IsOnline(userID string) bool
}

// QueueFunc persists an undeliverable durable event.
type QueueFunc func(ctx context.Context) error

type Router struct {
	sender Sender
	log    *slog.Logger
}

func NewRouter(sender Sender) *Router {
	return &Router{sender: sender, log: slog.Default()}
}

// Notify pushes an ephemeral event. Offline targets simply miss it.
func (r *Router) Notify(userID, event string, payload any) bool {
	ok := r.sender.Send(userID, event, payload)
	if ok {
		metrics.RealtimePushesTotal.WithLabelValues(event, "delivered").Inc()
	} else {
		metrics.RealtimePushesTotal.WithLabelValues(event, "dropped").Inc()
		r.log.Debug("ephemeral event dropped, target offline", "user_id", userID, "event", event)
	}
	return ok
}

// Deliver pushes a durable event and falls back to queue when the target is
// unreachable. The call is complete only once queue has returned; its error
// is returned to the caller.
func (r *Router) Deliver(ctx context.Context, userID, event string, payload any, queue QueueFunc) (bool, error) {
	if r.sender.Send(userID, event, payload) {
		metrics.RealtimePushesTotal.WithLabelValues(event, "delivered").Inc()
		return true, nil
	}
	if queue == nil || !events.Durable(event) {
		metrics.RealtimePushesTotal.WithLabelValues(event, "dropped").Inc()
		return false, nil
	}
	if err := queue(ctx); err != nil {
		metrics.RealtimePushesTotal.WithLabelValues(event, "failure").Inc()
		r.log.Error("queueing undelivered event failed", "user_id", userID, "event", event, "error", err)
		return false, err
	}
	metrics.RealtimePushesTotal.WithLabelValues(event, "queued").Inc()
	return false, nil
}

func (r *Router) IsOnline(userID string) bool { return r.sender.IsOnline(userID) }
