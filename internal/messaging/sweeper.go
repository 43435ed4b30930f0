package messaging

import (
	"context"

	"secumsg/internal/events"
	"secumsg/internal/observability/metrics"
)

// Sweep removes every message whose visibility window has closed and tells
// both parties it expired. Running it again without the clock moving finds
// nothing to do.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := m.sweepBatch(ctx)
		total += n
		if err != nil {
			return total, err
		}
		if n < m.opts.SweepBatch {
			break
		}
	}
	if total > 0 {
		m.log.Info("expired messages swept", "count", total)
	}
	return total, nil
}

func (m *Manager) sweepBatch(ctx context.Context) (int, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	msgs, err := m.store.Messages().Expired(ctx, m.now().UTC(), m.opts.SweepBatch)
	if err != nil || len(msgs) == 0 {
		return 0, err
	}
	ids := make([]string, 0, len(msgs))
	for i := range msgs {
		ids = append(ids, msgs[i].MessageID)
	}
	if err := m.store.Messages().MarkExpired(ctx, ids); err != nil {
		return 0, err
	}

	for i := range msgs {
		payload := events.Expired{MessageID: msgs[i].MessageID, Reason: events.ExpiredReasonDuration}
		m.router.Notify(msgs[i].SenderID, events.MessageExpired, payload)
		m.router.Notify(msgs[i].RecipientID, events.MessageExpired, payload)
	}

	if _, err := m.store.Messages().DeleteIDs(ctx, ids); err != nil {
		return 0, err
	}
	metrics.MessagesExpiredTotal.Add(float64(len(ids)))
	return len(ids), nil
}

// Purge physically removes rows left marked expired and rows deleted for
// everyone longer ago than the retention window.
func (m *Manager) Purge(ctx context.Context) (int64, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	cutoff := m.now().UTC().Add(-m.opts.DeletedRetention)
	n, err := m.store.Messages().Purge(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.MessagesPurgedTotal.Add(float64(n))
		m.log.Info("deleted messages purged", "count", n, "cutoff", cutoff)
	}
	return n, nil
}
