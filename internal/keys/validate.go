package keys

import (
	"encoding/base64"
	"fmt"

	"secumsg/internal/domain"

	"golang.org/x/crypto/curve25519"
)

// djbType prefixes serialized Curve25519 public keys in the libsignal format.
const djbType = 0x05

// probeScalar is multiplied with uploaded keys to detect low-order points.
var probeScalar = [32]byte{9, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29, 30, 31}

func decodeBase64(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}

func (s *Service) checkPublicKey(field, value string) error {
	if value == "" {
		return fmt.Errorf("%w: missing %s", domain.ErrInvalidRequest, field)
	}
	if !s.opts.StrictValidation {
		return nil
	}
	raw, err := decodeBase64(value)
	if err != nil {
		return fmt.Errorf("%w: %s is not base64", domain.ErrInvalidRequest, field)
	}
	switch {
	case len(raw) == curve25519.PointSize+1 && raw[0] == djbType:
		raw = raw[1:]
	case len(raw) == curve25519.PointSize:
	default:
		return fmt.Errorf("%w: %s has length %d", domain.ErrInvalidRequest, field, len(raw))
	}
	if _, err := curve25519.X25519(probeScalar[:], raw); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrInvalidRequest, field, err)
	}
	return nil
}

func (s *Service) checkSignature(value string) error {
	if value == "" {
		return fmt.Errorf("%w: missing signedPreKey.signature", domain.ErrInvalidRequest)
	}
	if !s.opts.StrictValidation {
		return nil
	}
	raw, err := decodeBase64(value)
	if err != nil {
		return fmt.Errorf("%w: signedPreKey.signature is not base64", domain.ErrInvalidRequest)
	}
	if len(raw) != 64 {
		return fmt.Errorf("%w: signedPreKey.signature has length %d", domain.ErrInvalidRequest, len(raw))
	}
	return nil
}
