package dto

import "time"

type Attachment struct {
	Data     string `json:"data"`
	Type     string `json:"type,omitempty"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

type MessageView struct {
	MessageID          string      `json:"messageId"`
	SenderID           string      `json:"senderId"`
	RecipientID        string      `json:"recipientId"`
	EncryptedType      int         `json:"encryptedType"`
	EncryptedBody      string      `json:"encryptedBody"`
	Attachment         *Attachment `json:"attachment,omitempty"`
	Status             string      `json:"status"`
	VisibilityDuration *int        `json:"visibilityDuration,omitempty"`
	CreatedAt          time.Time   `json:"createdAt"`
	DeliveredAt        *time.Time  `json:"deliveredAt,omitempty"`
	ReadAt             *time.Time  `json:"readAt,omitempty"`
	ExpiresAt          *time.Time  `json:"expiresAt,omitempty"`
}

type ConversationResponse struct {
	PeerID   string        `json:"peerId"`
	Messages []MessageView `json:"messages"`
	HasMore  bool          `json:"hasMore"`
}

type HideConversationResponse struct {
	PeerID string `json:"peerId"`
	Hidden int64  `json:"hidden"`
}

type StatsResponse struct {
	Unread        int `json:"unread"`
	Conversations int `json:"conversations"`
}

type SendMessageRequest struct {
	MessageID          string      `json:"messageId,omitempty"`
	RecipientID        string      `json:"recipientId"`
	EncryptedType      int         `json:"encryptedType"`
	EncryptedBody      string      `json:"encryptedBody"`
	Attachment         *Attachment `json:"attachment,omitempty"`
	VisibilityDuration *int        `json:"visibilityDuration,omitempty"`
}

type SendMessageResponse struct {
	MessageID string `json:"messageId"`
	Delivered bool   `json:"delivered"`
	Timestamp int64  `json:"timestamp"`
}

type DeleteMessageRequest struct {
	DeleteFor string `json:"deleteFor"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type UpdateStatusResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}
