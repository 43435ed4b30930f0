package dto

import "time"

type SignedPreKey struct {
	KeyID     uint32    `json:"keyId"`
	PublicKey string    `json:"publicKey"`
	Signature string    `json:"signature"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

type OneTimePreKey struct {
	KeyID     uint32 `json:"keyId"`
	PublicKey string `json:"publicKey"`
}

// UploadBundleRequest creates, fully replaces or tops up a bundle. Supplying
// registrationId, identityKey and signedPreKey together means a full
// replacement; omitting all three means a top-up of oneTimePreKeys.
type UploadBundleRequest struct {
	UserID         string          `json:"userId,omitempty"`
	RegistrationID *uint32         `json:"registrationId,omitempty"`
	IdentityKey    string          `json:"identityKey,omitempty"`
	SignedPreKey   *SignedPreKey   `json:"signedPreKey,omitempty"`
	OneTimePreKeys []OneTimePreKey `json:"oneTimePreKeys"`
}

type UploadKind string

const (
	UploadCreated  UploadKind = "created"
	UploadReplaced UploadKind = "replaced"
	UploadToppedUp UploadKind = "topped_up"
)

type UploadBundleResponse struct {
	UserID        string     `json:"userId"`
	Kind          UploadKind `json:"kind"`
	Version       int64      `json:"version"`
	AddedKeys     int64      `json:"addedKeys"`
	TotalKeys     int64      `json:"totalKeys"`
	AvailableKeys int64      `json:"availableKeys"`
}

type PreKeyBundleResponse struct {
	UserID         string        `json:"userId"`
	RegistrationID uint32        `json:"registrationId"`
	IdentityKey    string        `json:"identityKey"`
	SignedPreKey   SignedPreKey  `json:"signedPreKey"`
	OneTimePreKey  OneTimePreKey `json:"preKey"`
	Version        int64         `json:"version"`
}

type BundleVersionResponse struct {
	Exists     bool       `json:"exists"`
	Version    *int64     `json:"version"`
	LastUpdate *time.Time `json:"lastUpdate,omitempty"`
}

type RemainingResponse struct {
	Available    int64  `json:"available"`
	Total        int64  `json:"total"`
	Version      *int64 `json:"version,omitempty"`
	NeedsRefresh bool   `json:"needsRefresh"`
}

type RotateSignedPreKeyRequest struct {
	SignedPreKey SignedPreKey `json:"signedPreKey"`
}

type RotateSignedPreKeyResponse struct {
	UserID       string       `json:"userId"`
	SignedPreKey SignedPreKey `json:"signedPreKey"`
	Version      int64        `json:"version"`
}

type CleanupResponse struct {
	DeletedCount   int64 `json:"deletedCount"`
	RemainingCount int64 `json:"remainingCount"`
}

type DeleteBundleResponse struct {
	Deleted map[string]int64 `json:"deleted"`
}
