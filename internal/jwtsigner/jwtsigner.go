// Package jwtsigner issues the bearer tokens the relay accepts. The relay
// itself only verifies; the signer backs relayctl and tests.
package jwtsigner

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Signer issues EdDSA or HS256 tokens for a user id.
type Signer struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
	secret  []byte
	KeyID   string
	Issuer  string
}

// NewEd25519 creates a signer from a base64 encoded ed25519 seed (32 bytes)
// or private key (64 bytes). An empty key generates an ephemeral one.
func NewEd25519(privB64, kid, iss string) (*Signer, error) {
	var priv ed25519.PrivateKey
	if privB64 == "" {
		_, priv, _ = ed25519.GenerateKey(rand.Reader)
	} else {
		raw, err := base64.StdEncoding.DecodeString(privB64)
		if err != nil {
			return nil, err
		}
		switch len(raw) {
		case ed25519.SeedSize:
			priv = ed25519.NewKeyFromSeed(raw)
		case ed25519.PrivateKeySize:
			priv = ed25519.PrivateKey(raw)
		default:
			return nil, errors.New("invalid ed25519 private key size")
		}
	}
	pub := priv.Public().(ed25519.PublicKey)
	return &Signer{private: priv, public: pub, KeyID: kid, Issuer: iss}, nil
}

// NewHS256 creates a signer sharing secret with the relay.
func NewHS256(secret, iss string) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("empty hs256 secret")
	}
	return &Signer{secret: []byte(secret), Issuer: iss}, nil
}

// Sign issues a token for userID valid for ttl. Extra claims are copied in
// first so the registered ones always win.
func (s *Signer) Sign(userID string, ttl time.Duration, extra map[string]any) (string, error) {
	now := time.Now()
	m := jwt.MapClaims{}
	for k, v := range extra {
		m[k] = v
	}
	m["sub"] = userID
	m["iat"] = now.Unix()
	m["exp"] = now.Add(ttl).Unix()
	if s.Issuer != "" {
		m["iss"] = s.Issuer
	}

	if s.secret != nil {
		return jwt.NewWithClaims(jwt.SigningMethodHS256, m).SignedString(s.secret)
	}
	t := jwt.NewWithClaims(jwt.SigningMethodEdDSA, m)
	if s.KeyID != "" {
		t.Header["kid"] = s.KeyID
	}
	return t.SignedString(s.private)
}

// PublicKeyBase64 is the value expected in AUTH_ED25519_PUBLIC_KEY.
func (s *Signer) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(s.public)
}

// PublicJWK renders the public part as a JWK.
func (s *Signer) PublicJWK() map[string]any {
	return map[string]any{
		"kty": "OKP",
		"crv": "Ed25519",
		"alg": "EdDSA",
		"use": "sig",
		"kid": s.KeyID,
		"x":   base64.RawURLEncoding.EncodeToString(s.public),
	}
}

// JWKS wraps PublicJWK in a key set document.
func (s *Signer) JWKS() map[string]any {
	return map[string]any{"keys": []any{s.PublicJWK()}}
}
