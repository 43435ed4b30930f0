// Package messaging implements the message lifecycle: send, delivery and
// status acknowledgements, deletion, conversation views and the expiry
// sweep.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"secumsg/internal/delivery"
	"secumsg/internal/domain"
	"secumsg/internal/events"
	"secumsg/internal/msgjson"
	"secumsg/internal/observability/metrics"
	"secumsg/internal/store"
)

const (
	maxMessageIDLength  = 128
	defaultPendingBatch = 100
	defaultSweepBatch   = 500
)

// Router is the delivery path the manager pushes events through.
type Router interface {
	Notify(userID, event string, payload any) bool
	Deliver(ctx context.Context, userID, event string, payload any, queue delivery.QueueFunc) (bool, error)
}

type Options struct {
	// DeleteForEveryoneWindow limits how long after sending a sender may
	// delete for everyone. Zero means no limit.
	DeleteForEveryoneWindow time.Duration
	// DeletedRetention is how long deleted-for-everyone rows are kept
	// before Purge removes them.
	DeletedRetention time.Duration
	StoreTimeout     time.Duration
	PendingBatch     int
	SweepBatch       int
}

type Manager struct {
	store  *store.Store
	router Router
	opts   Options
	now    func() time.Time
	log    *slog.Logger

	flushMu  sync.Mutex
	flushing map[string]*flushLock
}

type flushLock struct {
	sync.Mutex
	refs int
}

func NewManager(st *store.Store, router Router, opts Options) *Manager {
	if opts.PendingBatch <= 0 {
		opts.PendingBatch = defaultPendingBatch
	}
	if opts.SweepBatch <= 0 {
		opts.SweepBatch = defaultSweepBatch
	}
	if opts.DeletedRetention <= 0 {
		opts.DeletedRetention = 24 * time.Hour
	}
	return &Manager{
		store:    st,
		router:   router,
		opts:     opts,
		now:      time.Now,
		log:      slog.Default(),
		flushing: make(map[string]*flushLock),
	}
}

// SetClock overrides the time source.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

func (m *Manager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.opts.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.opts.StoreTimeout)
}

// Send pushes a new message to its recipient or queues it when the recipient
// is offline. ack, when non-nil, receives the sender acknowledgement before
// any follow-up status event is emitted.
func (m *Manager) Send(ctx context.Context, senderID string, req events.SendMessage, ack func(events.SentAck)) (events.SentAck, error) {
	if err := validateSend(senderID, req); err != nil {
		return events.SentAck{}, err
	}

	now := m.now().UTC()
	msg := domain.Message{
		MessageID:          req.MessageID,
		SenderID:           senderID,
		RecipientID:        req.RecipientID,
		EncryptedType:      req.EncryptedType,
		EncryptedBody:      req.EncryptedBody,
		Status:             domain.StatusSent,
		DeletedFor:         msgjson.UserSet{},
		VisibilityDuration: req.VisibilityDuration,
		CreatedAt:          now,
	}
	if a := req.Attachment; a != nil {
		msg.AttachmentData, msg.AttachmentType, msg.AttachmentName, msg.AttachmentMimeType = a.Data, a.Type, a.Name, a.MimeType
	}
	if d := req.VisibilityDuration; d != nil {
		exp := now.Add(time.Duration(*d) * time.Second)
		msg.ExpiresAt = &exp
	}

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	delivered, err := m.router.Deliver(ctx, msg.RecipientID, events.MessageNew, Envelope(&msg), func(ctx context.Context) error {
		err := m.store.Messages().Create(ctx, &msg)
		if errors.Is(err, store.ErrDuplicate) {
			return fmt.Errorf("%w: message %s already exists", domain.ErrInvalidRequest, msg.MessageID)
		}
		return err
	})
	if err != nil {
		return events.SentAck{}, err
	}

	path := "queued"
	if delivered {
		path = "direct"
	}
	metrics.MessagesSentTotal.WithLabelValues(path).Inc()
	m.log.Info("message accepted", "message_id", msg.MessageID, "sender_id", senderID, "recipient_id", msg.RecipientID, "delivered", delivered)

	res := events.SentAck{MessageID: msg.MessageID, Delivered: delivered, Timestamp: now.UnixMilli()}
	if ack != nil {
		ack(res)
	}
	if delivered {
		m.router.Notify(senderID, events.MessageStatusUpdate, events.StatusUpdate{
			MessageID: msg.MessageID,
			Status:    string(domain.StatusDelivered),
			Timestamp: now.UnixMilli(),
		})
	}
	return res, nil
}

func validateSend(senderID string, req events.SendMessage) error {
	switch {
	case senderID == "":
		return fmt.Errorf("%w: missing sender", domain.ErrUnauthenticated)
	case req.MessageID == "" || len(req.MessageID) > maxMessageIDLength:
		return fmt.Errorf("%w: messageId is required and at most %d bytes", domain.ErrInvalidRequest, maxMessageIDLength)
	case req.RecipientID == "":
		return fmt.Errorf("%w: missing recipientId", domain.ErrInvalidRequest)
	case req.EncryptedBody == "":
		return fmt.Errorf("%w: missing encryptedBody", domain.ErrInvalidRequest)
	case req.VisibilityDuration != nil && *req.VisibilityDuration <= 0:
		return fmt.Errorf("%w: visibilityDuration must be positive", domain.ErrInvalidRequest)
	}
	return nil
}

// ConfirmDelivered records that recipientID received a message and tells the
// stored sender, whatever senderId the ack names. The row is created when the message was pushed directly and never
// stored.
func (m *Manager) ConfirmDelivered(ctx context.Context, recipientID string, ack events.DeliveredAck) error {
	if ack.MessageID == "" || ack.SenderID == "" {
		return fmt.Errorf("%w: messageId and senderId are required", domain.ErrInvalidRequest)
	}
	now := m.now().UTC()

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	senderID := ack.SenderID
	err := m.store.WithTx(ctx, func(tx *store.Store) error {
		existing, err := tx.Messages().GetForUpdate(ctx, ack.MessageID)
		switch {
		case errors.Is(err, store.ErrRecordNotFound):
			msg := domain.Message{
				MessageID:     ack.MessageID,
				SenderID:      ack.SenderID,
				RecipientID:   recipientID,
				EncryptedType: ack.EncryptedType,
				EncryptedBody: ack.EncryptedBody,
				Status:        domain.StatusDelivered,
				DeletedFor:    msgjson.UserSet{},
				ExpiresAt:     ack.ExpiresAt,
				CreatedAt:     now,
				DeliveredAt:   &now,
			}
			if ack.CreatedAt != nil {
				msg.CreatedAt = ack.CreatedAt.UTC()
			}
			if a := ack.Attachment; a != nil {
				msg.AttachmentData, msg.AttachmentType, msg.AttachmentName, msg.AttachmentMimeType = a.Data, a.Type, a.Name, a.MimeType
			}
			return tx.Messages().Create(ctx, &msg)
		case err != nil:
			return err
		}

		if existing.RecipientID != recipientID {
			return fmt.Errorf("%w: message %s is addressed to another user", domain.ErrForbidden, ack.MessageID)
		}
		if existing.DeletedForEveryone {
			return fmt.Errorf("%w: message %s", domain.ErrAlreadyDeleted, ack.MessageID)
		}
		senderID = existing.SenderID
		fields := map[string]any{"delivered_at": now}
		if existing.Status == domain.StatusSent {
			fields["status"] = domain.StatusDelivered
		}
		_, err = tx.Messages().UpdateLive(ctx, ack.MessageID, fields)
		return err
	})
	if err != nil {
		return err
	}

	m.router.Notify(senderID, events.MessageStatusUpdate, events.StatusUpdate{
		MessageID: ack.MessageID,
		Status:    string(domain.StatusDelivered),
		Timestamp: now.UnixMilli(),
	})
	return nil
}

// UpdateStatus applies a delivery or read acknowledgement and relays it to
// the other party. Unknown messages are relayed without persisting anything.
func (m *Manager) UpdateStatus(ctx context.Context, requesterID string, req events.StatusChange) (domain.MessageStatus, error) {
	status, ok := domain.ParseStatus(req.Status)
	if !ok || (status != domain.StatusDelivered && status != domain.StatusVerified) {
		return "", fmt.Errorf("%w: unsupported status %q", domain.ErrInvalidRequest, req.Status)
	}
	if req.MessageID == "" {
		return "", fmt.Errorf("%w: missing messageId", domain.ErrInvalidRequest)
	}
	now := m.now().UTC()

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	target := req.RecipientID
	err := m.store.WithTx(ctx, func(tx *store.Store) error {
		msg, err := tx.Messages().GetForUpdate(ctx, req.MessageID)
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if msg.SenderID != requesterID && msg.RecipientID != requesterID {
			return fmt.Errorf("%w: not a party to message %s", domain.ErrForbidden, req.MessageID)
		}
		if msg.DeletedForEveryone {
			return fmt.Errorf("%w: message %s", domain.ErrAlreadyDeleted, req.MessageID)
		}
		target = msg.Peer(requesterID)

		fields := map[string]any{"status": status}
		if status == domain.StatusVerified {
			fields["read_at"] = now
		} else {
			fields["delivered_at"] = now
		}
		changed, err := tx.Messages().UpdateLive(ctx, req.MessageID, fields)
		if err != nil {
			return err
		}
		if !changed {
			return fmt.Errorf("%w: message %s", domain.ErrAlreadyDeleted, req.MessageID)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if target == "" {
		return "", fmt.Errorf("%w: missing recipientId", domain.ErrInvalidRequest)
	}

	m.router.Notify(target, events.MessageStatusUpdate, events.StatusUpdate{
		MessageID: req.MessageID,
		Status:    string(status),
		Timestamp: now.UnixMilli(),
	})
	return status, nil
}

// DeleteForRecipient hides a message from its recipient. Only the sender may
// do this; repeating it is a no-op.
func (m *Manager) DeleteForRecipient(ctx context.Context, requesterID, messageID string) error {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	var (
		recipient string
		changed   bool
	)
	err := m.store.WithTx(ctx, func(tx *store.Store) error {
		msg, err := m.loadOwned(ctx, tx, requesterID, messageID)
		if err != nil {
			return err
		}
		recipient = msg.RecipientID
		var set msgjson.UserSet
		set, changed = msg.DeletedFor.Add(msg.RecipientID)
		if !changed {
			return nil
		}
		_, err = tx.Messages().UpdateLive(ctx, messageID, map[string]any{
			"deleted_for":           set,
			"deleted_for_recipient": true,
		})
		return err
	})
	metrics.MessageDeletionsTotal.WithLabelValues(string(events.DeleteForRecipient), metrics.Result(err)).Inc()
	if err != nil {
		return err
	}
	if !changed {
		m.log.Debug("message already hidden from recipient", "message_id", messageID)
		return nil
	}

	m.router.Notify(recipient, events.MessageDeleted, events.Deleted{MessageID: messageID, DeletedFor: events.DeleteForRecipient})
	m.log.Info("message deleted for recipient", "message_id", messageID, "sender_id", requesterID)
	return nil
}

// DeleteForEveryone retracts a message for both parties. Only the sender may
// do this, and only once.
func (m *Manager) DeleteForEveryone(ctx context.Context, requesterID, messageID string) error {
	now := m.now().UTC()

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	var msg *domain.Message
	err := m.store.WithTx(ctx, func(tx *store.Store) error {
		var err error
		msg, err = m.loadOwned(ctx, tx, requesterID, messageID)
		if err != nil {
			return err
		}
		if w := m.opts.DeleteForEveryoneWindow; w > 0 && now.Sub(msg.CreatedAt) > w {
			return fmt.Errorf("%w: delete for everyone window of %s has passed", domain.ErrForbidden, w)
		}
		return tx.Messages().Update(ctx, messageID, map[string]any{
			"deleted_for_everyone":    true,
			"deleted_for_everyone_at": now,
			"status":                  domain.StatusDeleted,
		})
	})
	metrics.MessageDeletionsTotal.WithLabelValues(string(events.DeleteForEveryone), metrics.Result(err)).Inc()
	if err != nil {
		return err
	}

	payload := events.Deleted{MessageID: messageID, DeletedFor: events.DeleteForEveryone}
	m.router.Notify(msg.RecipientID, events.MessageDeleted, payload)
	m.router.Notify(msg.SenderID, events.MessageDeleted, payload)
	m.log.Info("message deleted for everyone", "message_id", messageID, "sender_id", requesterID)
	return nil
}

// loadOwned locks the message and checks that requesterID sent it and that
// it has not been retracted.
func (m *Manager) loadOwned(ctx context.Context, tx *store.Store, requesterID, messageID string) (*domain.Message, error) {
	if messageID == "" {
		return nil, fmt.Errorf("%w: missing messageId", domain.ErrInvalidRequest)
	}
	msg, err := tx.Messages().GetForUpdate(ctx, messageID)
	if errors.Is(err, store.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: message %s", domain.ErrNotFound, messageID)
	}
	if err != nil {
		return nil, err
	}
	if !msg.CanDeleteForEveryone(requesterID) {
		return nil, fmt.Errorf("%w: only the sender may delete message %s", domain.ErrForbidden, messageID)
	}
	if msg.DeletedForEveryone {
		return nil, fmt.Errorf("%w: message %s", domain.ErrAlreadyDeleted, messageID)
	}
	return msg, nil
}

// FlushPending delivers messages queued for userID in creation order. Each
// delivered row is removed and its sender told it was delivered. Flushing
// stops at the first push that fails; the rest stay queued.
func (m *Manager) FlushPending(ctx context.Context, userID string) (int, error) {
	unlock := m.lockFlush(userID)
	defer unlock()

	flushed := 0
	for {
		batch, err := m.pendingBatch(ctx, userID)
		if err != nil {
			return flushed, err
		}
		for i := range batch {
			msg := &batch[i]
			if !m.router.Notify(userID, events.MessageNew, Envelope(msg)) {
				m.log.Info("pending flush interrupted", "user_id", userID, "flushed", flushed)
				return flushed, nil
			}
			if err := m.removeDelivered(ctx, msg.MessageID); err != nil {
				return flushed, err
			}
			flushed++
			metrics.PendingFlushedTotal.Inc()
			m.router.Notify(msg.SenderID, events.MessageStatusUpdate, events.StatusUpdate{
				MessageID: msg.MessageID,
				Status:    string(domain.StatusDelivered),
				Timestamp: m.now().UTC().UnixMilli(),
			})
		}
		if len(batch) < m.opts.PendingBatch {
			break
		}
	}
	if flushed > 0 {
		m.log.Info("pending messages flushed", "user_id", userID, "count", flushed)
	}
	return flushed, nil
}

func (m *Manager) pendingBatch(ctx context.Context, userID string) ([]domain.Message, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	return m.store.Messages().Pending(ctx, userID, m.now().UTC(), m.opts.PendingBatch)
}

func (m *Manager) removeDelivered(ctx context.Context, messageID string) error {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	_, err := m.store.Messages().Delete(ctx, messageID)
	return err
}

// lockFlush serialises flushes per user so a fast reconnect cannot push the
// same queued row twice.
func (m *Manager) lockFlush(userID string) func() {
	m.flushMu.Lock()
	l, ok := m.flushing[userID]
	if !ok {
		l = &flushLock{}
		m.flushing[userID] = l
	}
	l.refs++
	m.flushMu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		m.flushMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.flushing, userID)
		}
		m.flushMu.Unlock()
	}
}

// Envelope builds the message:new payload for a stored message.
func Envelope(msg *domain.Message) events.NewMessage {
	env := events.NewMessage{
		MessageID:          msg.MessageID,
		SenderID:           msg.SenderID,
		RecipientID:        msg.RecipientID,
		EncryptedType:      msg.EncryptedType,
		EncryptedBody:      msg.EncryptedBody,
		VisibilityDuration: msg.VisibilityDuration,
		CreatedAt:          msg.CreatedAt,
		ExpiresAt:          msg.ExpiresAt,
	}
	if msg.AttachmentData != "" {
		env.Attachment = &events.Attachment{
			Data:     msg.AttachmentData,
			Type:     msg.AttachmentType,
			Name:     msg.AttachmentName,
			MimeType: msg.AttachmentMimeType,
		}
	}
	return env
}
