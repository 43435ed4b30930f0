// Package authz validates bearer tokens and carries the authenticated user
// id through request contexts.
package authz

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"secumsg/internal/domain"

	"github.com/MicahParks/keyfunc"
	jwtv4 "github.com/golang-jwt/jwt/v4"
	"github.com/golang-jwt/jwt/v5"
)

// Verifier checks a raw token and returns the user id it authenticates.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

type HMACVerifier struct {
	secret []byte
	issuer string
}

func NewHMACVerifier(secret, issuer string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret), issuer: issuer}
}

func (h *HMACVerifier) Verify(_ context.Context, raw string) (string, error) {
	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %T", token.Method)
		}
		return h.secret, nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	claims, _ := token.Claims.(jwt.MapClaims)
	return subjectOf(claims, h.issuer)
}

type Ed25519Verifier struct {
	public ed25519.PublicKey
	issuer string
}

// NewEd25519Verifier takes the base64 encoded 32 byte public key.
func NewEd25519Verifier(publicB64, issuer string) (*Ed25519Verifier, error) {
	raw, err := base64.StdEncoding.DecodeString(publicB64)
	if err != nil {
		return nil, fmt.Errorf("decode ed25519 public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, errors.New("invalid ed25519 public key size")
	}
	return &Ed25519Verifier{public: ed25519.PublicKey(raw), issuer: issuer}, nil
}

func (e *Ed25519Verifier) Verify(_ context.Context, raw string) (string, error) {
	token, err := jwt.Parse(raw, func(*jwt.Token) (interface{}, error) {
		return e.public, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}))
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	claims, _ := token.Claims.(jwt.MapClaims)
	return subjectOf(claims, e.issuer)
}

// JWKSVerifier validates tokens against a remote key set that refreshes in
// the background.
type JWKSVerifier struct {
	jwks   *keyfunc.JWKS
	issuer string
}

func NewJWKSVerifier(ctx context.Context, jwksURL, issuer string) (*JWKSVerifier, error) {
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		Ctx:               ctx,
		RefreshInterval:   15 * time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, err
	}
	return &JWKSVerifier{jwks: jwks, issuer: issuer}, nil
}

func (j *JWKSVerifier) Verify(_ context.Context, raw string) (string, error) {
	token, err := jwtv4.Parse(raw, j.jwks.Keyfunc)
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	claims, _ := token.Claims.(jwtv4.MapClaims)
	return subjectOf(claims, j.issuer)
}

// Close stops the background key refresh.
func (j *JWKSVerifier) Close() { j.jwks.EndBackground() }

// Chain accepts a token if any of its verifiers does.
type Chain []Verifier

func (c Chain) Verify(ctx context.Context, raw string) (string, error) {
	if len(c) == 0 {
		return "", fmt.Errorf("%w: no token verifier configured", domain.ErrUnauthenticated)
	}
	var errs []error
	for _, v := range c {
		sub, err := v.Verify(ctx, raw)
		if err == nil {
			return sub, nil
		}
		errs = append(errs, err)
	}
	return "", errors.Join(errs...)
}

// subjectOf extracts the user id from the claim shapes issued by the auth
// service over time: sub, userId, id or a nested user.id.
func subjectOf(claims map[string]any, issuer string) (string, error) {
	if claims == nil {
		return "", fmt.Errorf("%w: invalid token claims", domain.ErrUnauthenticated)
	}
	if iss, _ := claims["iss"].(string); issuer != "" && iss != "" && iss != issuer {
		return "", fmt.Errorf("%w: issuer mismatch %q", domain.ErrUnauthenticated, iss)
	}
	for _, key := range []string{"sub", "userId", "id"} {
		if s := claimString(claims[key]); s != "" {
			return s, nil
		}
	}
	if user, ok := claims["user"].(map[string]any); ok {
		if s := claimString(user["id"]); s != "" {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: no subject", domain.ErrUnauthenticated)
}

func claimString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return fmt.Sprintf("%.0f", t)
	}
	return ""
}
