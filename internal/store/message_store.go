package store

import (
	"context"
	"time"

	"secumsg/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type MessageStore struct{ db *gorm.DB }

func (s *Store) Messages() *MessageStore { return &MessageStore{db: s.DB} }

func (m *MessageStore) Create(ctx context.Context, msg *domain.Message) error {
	return translate(m.db.WithContext(ctx).Create(msg).Error)
}

func (m *MessageStore) Get(ctx context.Context, messageID string) (*domain.Message, error) {
	var msg domain.Message
	if err := m.db.WithContext(ctx).First(&msg, "message_id = ?", messageID).Error; err != nil {
		return nil, translate(err)
	}
	return &msg, nil
}

// GetForUpdate loads a message and locks the row so deletion and status
// writes on the same message serialise.
func (m *MessageStore) GetForUpdate(ctx context.Context, messageID string) (*domain.Message, error) {
	var msg domain.Message
	err := m.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&msg, "message_id = ?", messageID).Error
	if err != nil {
		return nil, translate(err)
	}
	return &msg, nil
}

func (m *MessageStore) Update(ctx context.Context, messageID string, fields map[string]any) error {
	res := m.db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("message_id = ?", messageID).
		Updates(fields)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// UpdateLive applies fields only while the message has not been deleted for
// everyone. It reports whether a row changed.
func (m *MessageStore) UpdateLive(ctx context.Context, messageID string, fields map[string]any) (bool, error) {
	res := m.db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("message_id = ? AND deleted_for_everyone = ?", messageID, false).
		Updates(fields)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Pending returns messages queued for an offline recipient, oldest first.
// Rows whose visibility window closed at or before now are left to the sweep.
func (m *MessageStore) Pending(ctx context.Context, recipientID string, now time.Time, limit int) ([]domain.Message, error) {
	var msgs []domain.Message
	tx := m.db.WithContext(ctx).
		Where("recipient_id = ? AND status = ?", recipientID, domain.StatusSent).
		Where("deleted_for_everyone = ? AND deleted_for_recipient = ? AND is_expired = ?", false, false, false).
		Where("(expires_at IS NULL OR expires_at > ?)", now).
		Order("created_at ASC, message_id ASC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&msgs).Error; err != nil {
		return nil, translate(err)
	}
	return msgs, nil
}

func (m *MessageStore) Delete(ctx context.Context, messageID string) (int64, error) {
	res := m.db.WithContext(ctx).Where("message_id = ?", messageID).Delete(&domain.Message{})
	return res.RowsAffected, translate(res.Error)
}

func (m *MessageStore) DeleteIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := m.db.WithContext(ctx).Where("message_id IN ?", ids).Delete(&domain.Message{})
	return res.RowsAffected, translate(res.Error)
}

// Expired returns live messages whose visibility window closed at or before
// now. Rows deleted for everyone are left to Purge.
func (m *MessageStore) Expired(ctx context.Context, now time.Time, limit int) ([]domain.Message, error) {
	var msgs []domain.Message
	tx := m.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ? AND is_expired = ?", now, false).
		Where("deleted_for_everyone = ?", false).
		Order("expires_at ASC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&msgs).Error; err != nil {
		return nil, translate(err)
	}
	return msgs, nil
}

func (m *MessageStore) MarkExpired(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return translate(m.db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("message_id IN ?", ids).
		Update("is_expired", true).Error)
}

// Purge physically removes rows that are no longer visible to anyone:
// expired rows and rows deleted for everyone before cutoff.
func (m *MessageStore) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	res := m.db.WithContext(ctx).
		Where("is_expired = ? OR (deleted_for_everyone = ? AND deleted_for_everyone_at <= ?)", true, true, cutoff).
		Delete(&domain.Message{})
	return res.RowsAffected, translate(res.Error)
}

// Conversation returns up to limit live, unexpired messages exchanged
// between a and b, newest first, optionally created strictly before `before`.
func (m *MessageStore) Conversation(ctx context.Context, a, b string, before *time.Time, now time.Time, offset, limit int) ([]domain.Message, error) {
	var msgs []domain.Message
	tx := m.db.WithContext(ctx).
		Where("((sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?))", a, b, b, a).
		Where("deleted_for_everyone = ? AND is_expired = ? AND (expires_at IS NULL OR expires_at > ?)", false, false, now).
		Order("created_at DESC, message_id DESC")
	if offset > 0 {
		tx = tx.Offset(offset)
	}
	if before != nil {
		tx = tx.Where("created_at < ?", *before)
	}
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&msgs).Error; err != nil {
		return nil, translate(err)
	}
	return msgs, nil
}

// Involving returns every live message userID sent or received.
func (m *MessageStore) Involving(ctx context.Context, userID string) ([]domain.Message, error) {
	var msgs []domain.Message
	err := m.db.WithContext(ctx).
		Select("message_id", "sender_id", "recipient_id", "status", "deleted_for", "deleted_for_everyone", "expires_at", "created_at").
		Where("(sender_id = ? OR recipient_id = ?) AND deleted_for_everyone = ? AND is_expired = ?", userID, userID, false, false).
		Find(&msgs).Error
	if err != nil {
		return nil, translate(err)
	}
	return msgs, nil
}

// Between returns every message of the pair, locked for update.
func (m *MessageStore) Between(ctx context.Context, a, b string) ([]domain.Message, error) {
	var msgs []domain.Message
	err := m.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("((sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?))", a, b, b, a).
		Find(&msgs).Error
	if err != nil {
		return nil, translate(err)
	}
	return msgs, nil
}
