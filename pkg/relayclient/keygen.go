package relayclient

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"secumsg/internal/dto"

	"golang.org/x/crypto/curve25519"
)

// djbType prefixes serialized Curve25519 public keys.
const djbType = 0x05

// PublicKey returns a fresh Curve25519 public key in the serialized
// libsignal form. The private half is discarded.
func PublicKey() (string, error) {
	var priv [curve25519.ScalarSize]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return "", err
	}
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(append([]byte{djbType}, pub...)), nil
}

// OneTimePreKeys generates n prekeys with ids starting at firstID.
func OneTimePreKeys(firstID uint32, n int) ([]dto.OneTimePreKey, error) {
	out := make([]dto.OneTimePreKey, 0, n)
	for i := 0; i < n; i++ {
		pk, err := PublicKey()
		if err != nil {
			return nil, err
		}
		out = append(out, dto.OneTimePreKey{KeyID: firstID + uint32(i), PublicKey: pk})
	}
	return out, nil
}

// SignedPreKey generates a signed prekey with a random 64-byte signature.
// The relay checks only its shape, which is enough for load and smoke tests.
func SignedPreKey(keyID uint32) (dto.SignedPreKey, error) {
	pk, err := PublicKey()
	if err != nil {
		return dto.SignedPreKey{}, err
	}
	sig := make([]byte, 64)
	if _, err := rand.Read(sig); err != nil {
		return dto.SignedPreKey{}, err
	}
	return dto.SignedPreKey{
		KeyID:     keyID,
		PublicKey: pk,
		Signature: base64.StdEncoding.EncodeToString(sig),
		Timestamp: time.Now().UTC(),
	}, nil
}

// GenerateBundle builds a full upload with n one-time prekeys.
func GenerateBundle(registrationID uint32, n int) (dto.UploadBundleRequest, error) {
	if n <= 0 {
		return dto.UploadBundleRequest{}, fmt.Errorf("relayclient: need at least one one-time prekey")
	}
	identity, err := PublicKey()
	if err != nil {
		return dto.UploadBundleRequest{}, err
	}
	spk, err := SignedPreKey(1)
	if err != nil {
		return dto.UploadBundleRequest{}, err
	}
	otks, err := OneTimePreKeys(1, n)
	if err != nil {
		return dto.UploadBundleRequest{}, err
	}
	return dto.UploadBundleRequest{
		RegistrationID: &registrationID,
		IdentityKey:    identity,
		SignedPreKey:   &spk,
		OneTimePreKeys: otks,
	}, nil
}
