package store

import (
	"context"

	"secumsg/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ContactStore struct{ db *gorm.DB }

func (s *Store) Contacts() *ContactStore { return &ContactStore{db: s.DB} }

// Accepted returns the ids of users with an accepted contact relation to
// userID, in either direction.
func (c *ContactStore) Accepted(ctx context.Context, userID string) ([]string, error) {
	var rows []domain.Contact
	err := c.db.WithContext(ctx).
		Select("requester_id", "recipient_id").
		Where("status = ? AND (requester_id = ? OR recipient_id = ?)", domain.ContactAccepted, userID, userID).
		Find(&rows).Error
	if err != nil {
		return nil, translate(err)
	}
	seen := make(map[string]struct{}, len(rows))
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		peer := r.RecipientID
		if peer == userID {
			peer = r.RequesterID
		}
		if _, ok := seen[peer]; ok || peer == userID {
			continue
		}
		seen[peer] = struct{}{}
		out = append(out, peer)
	}
	return out, nil
}

// Save inserts or updates the relation between the two users.
func (c *ContactStore) Save(ctx context.Context, contact *domain.Contact) error {
	if contact.ID == uuid.Nil {
		contact.ID = uuid.New()
	}
	return translate(c.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "requester_id"}, {Name: "recipient_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status"}),
		}).
		Create(contact).Error)
}
