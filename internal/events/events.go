// Package events defines the realtime wire protocol: event names and the
// payloads carried in {"event", "data"} frames.
package events

import (
	"encoding/json"
	"time"
)

// Client to server.
const (
	MessageSend       = "message:send"
	MessageDelivered  = "message:delivered"
	MessageStatus     = "message:status"
	MessageDelete     = "message:delete"
	Typing            = "typing"
	RequestUserStatus = "request:user_status"
)

// Server to client.
const (
	Connected           = "connected"
	MessageNew          = "message:new"
	MessageSent         = "message:sent"
	MessageStatusUpdate = "message:status_update"
	MessageDeleted      = "message:deleted"
	MessageExpired      = "message:expired"
	UserStatus          = "user:status"
	Error               = "error"
)

// Durable reports whether an undeliverable event must be queued instead of
// dropped.
func Durable(event string) bool {
	return event == MessageNew
}

// Frame is one realtime message in either direction.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type Attachment struct {
	Data     string `json:"data"`
	Type     string `json:"type,omitempty"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

type SendMessage struct {
	MessageID          string      `json:"messageId"`
	RecipientID        string      `json:"recipientId"`
	EncryptedType      int         `json:"encryptedType"`
	EncryptedBody      string      `json:"encryptedBody"`
	Attachment         *Attachment `json:"attachment,omitempty"`
	VisibilityDuration *int        `json:"visibilityDuration,omitempty"`
}

// DeliveredAck is sent by a recipient that received a message directly, so
// the server can record it.
type DeliveredAck struct {
	MessageID     string      `json:"messageId"`
	SenderID      string      `json:"senderId"`
	EncryptedType int         `json:"encryptedType"`
	EncryptedBody string      `json:"encryptedBody"`
	Attachment    *Attachment `json:"attachment,omitempty"`
	CreatedAt     *time.Time  `json:"createdAt,omitempty"`
	ExpiresAt     *time.Time  `json:"expiresAt,omitempty"`
}

type StatusChange struct {
	MessageID   string `json:"messageId"`
	Status      string `json:"status"`
	RecipientID string `json:"recipientId"`
}

type DeleteScope string

const (
	DeleteForEveryone  DeleteScope = "everyone"
	DeleteForRecipient DeleteScope = "recipient"
)

type DeleteRequest struct {
	MessageID string      `json:"messageId"`
	DeleteFor DeleteScope `json:"deleteFor"`
}

type TypingRequest struct {
	RecipientID string `json:"recipientId"`
	IsTyping    bool   `json:"isTyping"`
}

type UserStatusRequest struct {
	TargetUserID string `json:"targetUserId"`
}

type ConnectedPayload struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

type NewMessage struct {
	MessageID          string      `json:"messageId"`
	SenderID           string      `json:"senderId"`
	RecipientID        string      `json:"recipientId"`
	EncryptedType      int         `json:"encryptedType"`
	EncryptedBody      string      `json:"encryptedBody"`
	Attachment         *Attachment `json:"attachment,omitempty"`
	VisibilityDuration *int        `json:"visibilityDuration,omitempty"`
	CreatedAt          time.Time   `json:"createdAt"`
	ExpiresAt          *time.Time  `json:"expiresAt,omitempty"`
}

type SentAck struct {
	MessageID string `json:"messageId"`
	Delivered bool   `json:"delivered"`
	Timestamp int64  `json:"timestamp"`
}

type StatusUpdate struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

type Deleted struct {
	MessageID  string      `json:"messageId"`
	DeletedFor DeleteScope `json:"deletedFor"`
}

// ExpiredReasonDuration is the only expiry reason the sweep emits.
const ExpiredReasonDuration = "duration_ended"

type Expired struct {
	MessageID string `json:"messageId"`
	Reason    string `json:"reason"`
}

type UserStatusPayload struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

type TypingPayload struct {
	SenderID string `json:"senderId"`
	IsTyping bool   `json:"isTyping"`
}

type ErrorPayload struct {
	Event   string `json:"event,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
