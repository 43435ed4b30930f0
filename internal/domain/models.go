package domain

import (
	"time"

	"secumsg/internal/msgjson"

	"github.com/google/uuid"
)

type KeyBundle struct {
	UserID                string    `gorm:"type:varchar(128);primaryKey"`
	RegistrationID        uint32    `gorm:"not null"`
	IdentityKey           string    `gorm:"type:text;not null"`
	SignedPreKeyID        uint32    `gorm:"not null"`
	SignedPreKeyPublic    string    `gorm:"type:text;not null"`
	SignedPreKeySignature string    `gorm:"type:text;not null"`
	SignedPreKeyTimestamp time.Time `gorm:"not null"`
	Version               int64     `gorm:"not null"`
	LastRotatedAt         time.Time `gorm:"not null"`
	CreatedAt             time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt             time.Time `gorm:"not null;autoUpdateTime"`
}

type OneTimePreKey struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey"`
	UserID    string     `gorm:"type:varchar(128);not null;uniqueIndex:idx_otk_user_key,priority:1;index:idx_otk_user_used,priority:1"`
	KeyID     uint32     `gorm:"not null;uniqueIndex:idx_otk_user_key,priority:2"`
	PublicKey string     `gorm:"type:text;not null"`
	Used      bool       `gorm:"not null;default:false;index:idx_otk_user_used,priority:2"`
	UsedAt    *time.Time `gorm:"index"`
	CreatedAt time.Time  `gorm:"not null"`
}

type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusVerified  MessageStatus = "verified"
	StatusDeleted   MessageStatus = "deleted"
)

// ParseStatus normalises a client supplied status; "read" is an alias of verified.
func ParseStatus(s string) (MessageStatus, bool) {
	switch s {
	case string(StatusSent):
		return StatusSent, true
	case string(StatusDelivered):
		return StatusDelivered, true
	case string(StatusVerified), "read":
		return StatusVerified, true
	case string(StatusDeleted):
		return StatusDeleted, true
	}
	return "", false
}

type Message struct {
	MessageID            string          `gorm:"type:varchar(128);primaryKey"`
	SenderID             string          `gorm:"type:varchar(128);not null;index"`
	RecipientID          string          `gorm:"type:varchar(128);not null;index:idx_messages_recipient_created,priority:1"`
	EncryptedType        int             `gorm:"not null"`
	EncryptedBody        string          `gorm:"type:text;not null"`
	AttachmentData       string          `gorm:"type:text"`
	AttachmentType       string          `gorm:"type:varchar(16)"`
	AttachmentName       string          `gorm:"type:text"`
	AttachmentMimeType   string          `gorm:"type:varchar(255)"`
	Status               MessageStatus   `gorm:"type:varchar(16);not null;default:sent"`
	DeletedFor           msgjson.UserSet `gorm:"type:text"`
	DeletedForRecipient  bool            `gorm:"not null;default:false"`
	DeletedForEveryone   bool            `gorm:"not null;default:false"`
	DeletedForEveryoneAt *time.Time
	VisibilityDuration   *int
	ExpiresAt            *time.Time `gorm:"index:idx_messages_expiry,priority:1"`
	IsExpired            bool       `gorm:"not null;default:false;index:idx_messages_expiry,priority:2"`
	CreatedAt            time.Time  `gorm:"not null;index:idx_messages_recipient_created,priority:2"`
	DeliveredAt          *time.Time
	ReadAt               *time.Time
	UpdatedAt            time.Time `gorm:"not null;autoUpdateTime"`
}

// IsVisibleTo is the authoritative visibility rule for conversation views.
func (m *Message) IsVisibleTo(userID string) bool {
	if m.DeletedForEveryone {
		return false
	}
	return !m.DeletedFor.Has(userID)
}

func (m *Message) CanDeleteForEveryone(userID string) bool {
	return m.SenderID == userID
}

// Peer returns the other party of the message relative to userID.
func (m *Message) Peer(userID string) string {
	if m.SenderID == userID {
		return m.RecipientID
	}
	return m.SenderID
}

type ContactStatus string

const (
	ContactPending  ContactStatus = "pending"
	ContactAccepted ContactStatus = "accepted"
	ContactRejected ContactStatus = "rejected"
)

type Contact struct {
	ID          uuid.UUID     `gorm:"type:uuid;primaryKey"`
	RequesterID string        `gorm:"type:varchar(128);not null;uniqueIndex:idx_contacts_pair,priority:1"`
	RecipientID string        `gorm:"type:varchar(128);not null;uniqueIndex:idx_contacts_pair,priority:2;index"`
	Status      ContactStatus `gorm:"type:varchar(16);not null;default:accepted"`
	CreatedAt   time.Time     `gorm:"not null;autoCreateTime"`
}
