package authz_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"secumsg/internal/authz"
	"secumsg/internal/domain"
	"secumsg/internal/jwtsigner"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHMACVerifier(t *testing.T) {
	signer, err := jwtsigner.NewHS256("s3cret", "secumsg")
	require.NoError(t, err)
	tok, err := signer.Sign("alice", time.Minute, nil)
	require.NoError(t, err)

	v := authz.NewHMACVerifier("s3cret", "secumsg")
	sub, err := v.Verify(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", sub)

	_, err = authz.NewHMACVerifier("other", "").Verify(context.Background(), tok)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	_, err = authz.NewHMACVerifier("s3cret", "someone-else").Verify(context.Background(), tok)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestSubjectClaimShapes(t *testing.T) {
	secret := []byte("k")
	v := authz.NewHMACVerifier("k", "")
	cases := map[string]jwt.MapClaims{
		"userId":  {"userId": "u1"},
		"id":      {"id": "u1"},
		"user.id": {"user": map[string]any{"id": "u1"}},
	}
	for name, claims := range cases {
		t.Run(name, func(t *testing.T) {
			tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
			require.NoError(t, err)
			sub, err := v.Verify(context.Background(), tok)
			require.NoError(t, err)
			assert.Equal(t, "u1", sub)
		})
	}

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"role": "x"}).SignedString(secret)
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), tok)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestEd25519AndJWKSVerifiers(t *testing.T) {
	signer, err := jwtsigner.NewEd25519("", "k1", "")
	require.NoError(t, err)
	tok, err := signer.Sign("bob", time.Minute, nil)
	require.NoError(t, err)

	ed, err := authz.NewEd25519Verifier(signer.PublicKeyBase64(), "")
	require.NoError(t, err)
	sub, err := ed.Verify(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, "bob", sub)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(signer.JWKS())
	}))
	defer srv.Close()

	jwks, err := authz.NewJWKSVerifier(context.Background(), srv.URL, "")
	require.NoError(t, err)
	defer jwks.Close()
	sub, err = jwks.Verify(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, "bob", sub)

	chain := authz.Chain{authz.NewHMACVerifier("nope", ""), ed}
	sub, err = chain.Verify(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, "bob", sub)
}

func TestMiddleware(t *testing.T) {
	signer, err := jwtsigner.NewHS256("k", "")
	require.NoError(t, err)
	tok, err := signer.Sign("carol", time.Minute, nil)
	require.NoError(t, err)

	h := authz.Middleware(authz.NewHMACVerifier("k", ""))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub, ok := authz.SubjectFrom(r.Context())
		require.True(t, ok)
		_, _ = w.Write([]byte(sub))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "carol", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?token="+tok, nil))
	assert.Equal(t, "carol", rec.Body.String())
}
