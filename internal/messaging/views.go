package messaging

import (
	"context"
	"fmt"
	"time"

	"secumsg/internal/domain"
	"secumsg/internal/dto"
	"secumsg/internal/store"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Conversation returns the newest page of messages between userID and
// peerID that userID may see, ordered oldest to newest.
func (m *Manager) Conversation(ctx context.Context, userID, peerID string, before *time.Time, limit int) (dto.ConversationResponse, error) {
	if peerID == "" {
		return dto.ConversationResponse{}, fmt.Errorf("%w: missing peer", domain.ErrInvalidRequest)
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	now := m.now().UTC()

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	visible := make([]domain.Message, 0, limit+1)
	batch := limit + 1
	for offset := 0; len(visible) <= limit; offset += batch {
		rows, err := m.store.Messages().Conversation(ctx, userID, peerID, before, now, offset, batch)
		if err != nil {
			return dto.ConversationResponse{}, err
		}
		for i := range rows {
			if rows[i].IsVisibleTo(userID) {
				visible = append(visible, rows[i])
			}
		}
		if len(rows) < batch {
			break
		}
	}

	resp := dto.ConversationResponse{PeerID: peerID, Messages: []dto.MessageView{}}
	if len(visible) > limit {
		resp.HasMore = true
		visible = visible[:limit]
	}
	for i := len(visible) - 1; i >= 0; i-- {
		resp.Messages = append(resp.Messages, view(&visible[i]))
	}
	return resp, nil
}

// HideConversation removes every message of the pair from userID's view.
// The peer's view is unaffected.
func (m *Manager) HideConversation(ctx context.Context, userID, peerID string) (dto.HideConversationResponse, error) {
	if peerID == "" {
		return dto.HideConversationResponse{}, fmt.Errorf("%w: missing peer", domain.ErrInvalidRequest)
	}

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	var hidden int64
	err := m.store.WithTx(ctx, func(tx *store.Store) error {
		msgs, err := tx.Messages().Between(ctx, userID, peerID)
		if err != nil {
			return err
		}
		for _, msg := range msgs {
			set, added := msg.DeletedFor.Add(userID)
			if !added {
				continue
			}
			if err := tx.Messages().Update(ctx, msg.MessageID, map[string]any{"deleted_for": set}); err != nil {
				return err
			}
			hidden++
		}
		return nil
	})
	if err != nil {
		return dto.HideConversationResponse{}, err
	}
	m.log.Info("conversation hidden", "user_id", userID, "peer_id", peerID, "messages", hidden)
	return dto.HideConversationResponse{PeerID: peerID, Hidden: hidden}, nil
}

// Stats counts unread messages addressed to userID and the conversations
// that still have something visible to userID.
func (m *Manager) Stats(ctx context.Context, userID string) (dto.StatsResponse, error) {
	now := m.now().UTC()

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	msgs, err := m.store.Messages().Involving(ctx, userID)
	if err != nil {
		return dto.StatsResponse{}, err
	}
	var stats dto.StatsResponse
	peers := map[string]struct{}{}
	for i := range msgs {
		msg := &msgs[i]
		if !msg.IsVisibleTo(userID) || (msg.ExpiresAt != nil && !msg.ExpiresAt.After(now)) {
			continue
		}
		peers[msg.Peer(userID)] = struct{}{}
		if msg.RecipientID == userID && (msg.Status == domain.StatusSent || msg.Status == domain.StatusDelivered) {
			stats.Unread++
		}
	}
	stats.Conversations = len(peers)
	return stats, nil
}

func view(msg *domain.Message) dto.MessageView {
	v := dto.MessageView{
		MessageID:          msg.MessageID,
		SenderID:           msg.SenderID,
		RecipientID:        msg.RecipientID,
		EncryptedType:      msg.EncryptedType,
		EncryptedBody:      msg.EncryptedBody,
		Status:             string(msg.Status),
		VisibilityDuration: msg.VisibilityDuration,
		CreatedAt:          msg.CreatedAt,
		DeliveredAt:        msg.DeliveredAt,
		ReadAt:             msg.ReadAt,
		ExpiresAt:          msg.ExpiresAt,
	}
	if msg.AttachmentData != "" {
		v.Attachment = &dto.Attachment{
			Data:     msg.AttachmentData,
			Type:     msg.AttachmentType,
			Name:     msg.AttachmentName,
			MimeType: msg.AttachmentMimeType,
		}
	}
	return v
}
