package jwtsigner

import (
	"crypto/ed25519"
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEd25519FromSeed(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}
	s, err := NewEd25519(base64.StdEncoding.EncodeToString(seed), "k1", "secumsg")
	require.NoError(t, err)

	want := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
	assert.Equal(t, base64.StdEncoding.EncodeToString(want), s.PublicKeyBase64())

	tok, err := s.Sign("alice", time.Minute, map[string]any{"sub": "mallory", "role": "user"})
	require.NoError(t, err)

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return want, nil
	}, jwt.WithValidMethods([]string{"EdDSA"}))
	require.NoError(t, err)
	assert.Equal(t, "k1", parsed.Header["kid"])
	assert.Equal(t, "alice", claims["sub"])
	assert.Equal(t, "user", claims["role"])
	assert.Equal(t, "secumsg", claims["iss"])
}

func TestRejectsBadKeys(t *testing.T) {
	_, err := NewEd25519(base64.StdEncoding.EncodeToString([]byte("short")), "", "")
	assert.Error(t, err)

	_, err = NewEd25519("%%%", "", "")
	assert.Error(t, err)

	_, err = NewHS256("", "")
	assert.Error(t, err)
}

func TestJWKSShape(t *testing.T) {
	s, err := NewEd25519("", "kid-1", "")
	require.NoError(t, err)

	keys := s.JWKS()["keys"].([]any)
	require.Len(t, keys, 1)
	jwk := keys[0].(map[string]any)
	assert.Equal(t, "OKP", jwk["kty"])
	assert.Equal(t, "kid-1", jwk["kid"])

	x, err := base64.RawURLEncoding.DecodeString(jwk["x"].(string))
	require.NoError(t, err)
	assert.Len(t, x, ed25519.PublicKeySize)
}
