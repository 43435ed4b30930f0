package http_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"secumsg/internal/authz"
	"secumsg/internal/delivery"
	"secumsg/internal/dto"
	"secumsg/internal/jwtsigner"
	"secumsg/internal/keys"
	"secumsg/internal/messaging"
	"secumsg/internal/presence"
	"secumsg/internal/store/storetest"
	transport "secumsg/internal/transport/http"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "router-test-secret"

type env struct {
	srv    *httptest.Server
	signer *jwtsigner.Signer
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := storetest.Open(t)
	reg := presence.NewRegistry()
	signer, err := jwtsigner.NewHS256(secret, "")
	require.NoError(t, err)

	h := transport.NewRouter(transport.Deps{
		Keys:     keys.New(st, keys.Options{}),
		Messages: messaging.NewManager(st, delivery.NewRouter(reg), messaging.Options{}),
		Verifier: authz.NewHMACVerifier(secret, ""),
		Metrics:  http.NotFoundHandler(),
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &env{srv: srv, signer: signer}
}

func (e *env) do(t *testing.T, userID, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	if userID != "" {
		tok, err := e.signer.Sign(userID, time.Hour, nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func bundleFor(n int) dto.UploadBundleRequest {
	reg := uint32(42)
	otks := make([]dto.OneTimePreKey, n)
	for i := range otks {
		otks[i] = dto.OneTimePreKey{KeyID: uint32(i + 1), PublicKey: "otk"}
	}
	return dto.UploadBundleRequest{
		RegistrationID: &reg,
		IdentityKey:    "identity",
		SignedPreKey:   &dto.SignedPreKey{KeyID: 7, PublicKey: "spk", Signature: "sig"},
		OneTimePreKeys: otks,
	}
}

func TestHealthAndAuth(t *testing.T) {
	e := newEnv(t)

	resp, err := http.Get(e.srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	var body map[string]string
	status := e.do(t, "", http.MethodGet, "/v1/keys/version", nil, &body)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthenticated", body["code"])
}

func TestKeyLifecycleOverHTTP(t *testing.T) {
	e := newEnv(t)

	var up dto.UploadBundleResponse
	require.Equal(t, http.StatusCreated, e.do(t, "alice", http.MethodPost, "/v1/keys/upload", bundleFor(2), &up))
	assert.Equal(t, dto.UploadCreated, up.Kind)
	assert.EqualValues(t, 2, up.AvailableKeys)

	var top dto.UploadBundleResponse
	req := dto.UploadBundleRequest{OneTimePreKeys: []dto.OneTimePreKey{{KeyID: 3, PublicKey: "otk"}}}
	require.Equal(t, http.StatusOK, e.do(t, "alice", http.MethodPost, "/v1/keys/upload", req, &top))
	assert.Equal(t, dto.UploadToppedUp, top.Kind)
	assert.Equal(t, up.Version, top.Version)

	seen := map[uint32]bool{}
	for i := 0; i < 3; i++ {
		var b dto.PreKeyBundleResponse
		require.Equal(t, http.StatusOK, e.do(t, "bob", http.MethodGet, "/v1/keys/bundle/alice", nil, &b))
		assert.Equal(t, "alice", b.UserID)
		assert.False(t, seen[b.OneTimePreKey.KeyID], "prekey handed out twice")
		seen[b.OneTimePreKey.KeyID] = true
	}

	var errBody map[string]string
	assert.Equal(t, http.StatusServiceUnavailable, e.do(t, "bob", http.MethodGet, "/v1/keys/bundle/alice", nil, &errBody))
	assert.Equal(t, http.StatusNotFound, e.do(t, "bob", http.MethodGet, "/v1/keys/bundle/nobody", nil, &errBody))

	var rem dto.RemainingResponse
	require.Equal(t, http.StatusOK, e.do(t, "alice", http.MethodGet, "/v1/keys/remaining", nil, &rem))
	assert.Zero(t, rem.Available)
	assert.True(t, rem.NeedsRefresh)

	var clean dto.CleanupResponse
	require.Equal(t, http.StatusOK, e.do(t, "alice", http.MethodDelete, "/v1/keys/cleanup-old?olderThan=0s", nil, &clean))
	assert.EqualValues(t, 3, clean.DeletedCount)

	assert.Equal(t, http.StatusBadRequest, e.do(t, "alice", http.MethodDelete, "/v1/keys/cleanup-old?olderThan=soon", nil, &errBody))

	var del dto.DeleteBundleResponse
	require.Equal(t, http.StatusOK, e.do(t, "alice", http.MethodDelete, "/v1/keys/bundle", nil, &del))
	assert.EqualValues(t, 1, del.Deleted["bundles"])

	var ver dto.BundleVersionResponse
	require.Equal(t, http.StatusOK, e.do(t, "alice", http.MethodGet, "/v1/keys/version", nil, &ver))
	assert.False(t, ver.Exists)
}

func TestUploadForAnotherUserIsForbidden(t *testing.T) {
	e := newEnv(t)
	req := bundleFor(1)
	req.UserID = "mallory"

	var body map[string]string
	assert.Equal(t, http.StatusForbidden, e.do(t, "alice", http.MethodPost, "/v1/keys/upload", req, &body))
	assert.Equal(t, "forbidden", body["code"])
}

func TestMessagesOverHTTP(t *testing.T) {
	e := newEnv(t)

	var sent dto.SendMessageResponse
	require.Equal(t, http.StatusCreated, e.do(t, "alice", http.MethodPost, "/v1/messages/send",
		dto.SendMessageRequest{RecipientID: "bob", EncryptedType: 3, EncryptedBody: "b64"}, &sent))
	assert.NotEmpty(t, sent.MessageID)
	assert.False(t, sent.Delivered)

	var conv dto.ConversationResponse
	require.Equal(t, http.StatusOK, e.do(t, "bob", http.MethodGet, "/v1/messages/conversation/alice?limit=10", nil, &conv))
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, sent.MessageID, conv.Messages[0].MessageID)

	var stats dto.StatsResponse
	require.Equal(t, http.StatusOK, e.do(t, "bob", http.MethodGet, "/v1/messages/stats", nil, &stats))
	assert.Equal(t, 1, stats.Unread)
	assert.Equal(t, 1, stats.Conversations)

	var errBody map[string]string
	assert.Equal(t, http.StatusBadRequest, e.do(t, "bob", http.MethodGet, "/v1/messages/conversation/alice?limit=-1", nil, &errBody))
	assert.Equal(t, http.StatusForbidden, e.do(t, "bob", http.MethodDelete, "/v1/messages/"+sent.MessageID,
		dto.DeleteMessageRequest{DeleteFor: "everyone"}, &errBody))
	assert.Equal(t, http.StatusBadRequest, e.do(t, "alice", http.MethodDelete, "/v1/messages/"+sent.MessageID,
		dto.DeleteMessageRequest{DeleteFor: "nobody"}, &errBody))

	require.Equal(t, http.StatusOK, e.do(t, "alice", http.MethodDelete, "/v1/messages/"+sent.MessageID,
		dto.DeleteMessageRequest{DeleteFor: "everyone"}, nil))

	conv = dto.ConversationResponse{}
	require.Equal(t, http.StatusOK, e.do(t, "bob", http.MethodGet, "/v1/messages/conversation/alice", nil, &conv))
	assert.Empty(t, conv.Messages)
}
