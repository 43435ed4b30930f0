package relayclient_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"secumsg/internal/authz"
	"secumsg/internal/broadcast"
	"secumsg/internal/contacts"
	"secumsg/internal/delivery"
	"secumsg/internal/events"
	"secumsg/internal/jwtsigner"
	"secumsg/internal/keys"
	"secumsg/internal/messaging"
	"secumsg/internal/presence"
	"secumsg/internal/store/storetest"
	transport "secumsg/internal/transport/http"
	"secumsg/internal/transport/ws"
	"secumsg/pkg/relayclient"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "client-test-secret"

func startRelay(t *testing.T) (string, *jwtsigner.Signer) {
	t.Helper()
	st := storetest.Open(t)
	reg := presence.NewRegistry()
	router := delivery.NewRouter(reg)
	mgr := messaging.NewManager(st, router, messaging.Options{})
	verifier := authz.NewHMACVerifier(secret, "")
	bc := broadcast.New(contacts.NewStoreGraph(st), router, mgr, 10*time.Millisecond)
	t.Cleanup(bc.Close)

	srv := httptest.NewServer(transport.NewRouter(transport.Deps{
		Keys:     keys.New(st, keys.Options{StrictValidation: true}),
		Messages: mgr,
		Verifier: verifier,
		Realtime: ws.NewServer(ws.Deps{Verifier: verifier, Registry: reg, Router: router, Messages: mgr, Broadcaster: bc}),
		Metrics:  http.NotFoundHandler(),
	}))
	t.Cleanup(srv.Close)

	signer, err := jwtsigner.NewHS256(secret, "")
	require.NoError(t, err)
	return srv.URL, signer
}

func clientFor(t *testing.T, base string, signer *jwtsigner.Signer, userID string) *relayclient.Client {
	t.Helper()
	tok, err := signer.Sign(userID, time.Hour, nil)
	require.NoError(t, err)
	return relayclient.New(base, tok)
}

func TestBundleRoundTrip(t *testing.T) {
	base, signer := startRelay(t)
	ctx := context.Background()
	alice := clientFor(t, base, signer, "alice")
	bob := clientFor(t, base, signer, "bob")

	bundle, err := relayclient.GenerateBundle(1234, 2)
	require.NoError(t, err)
	up, err := alice.UploadBundle(ctx, bundle)
	require.NoError(t, err)
	assert.EqualValues(t, 2, up.AvailableKeys)

	got, err := bob.FetchBundle(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, bundle.IdentityKey, got.IdentityKey)
	assert.EqualValues(t, 1234, got.RegistrationID)

	rem, err := alice.Remaining(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, rem.Available)

	_, err = bob.FetchBundle(ctx, "nobody")
	var apiErr *relayclient.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "not_found", apiErr.Code)
}

func TestRealtimeSend(t *testing.T) {
	base, signer := startRelay(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bobRT, err := clientFor(t, base, signer, "bob").Dial(ctx)
	require.NoError(t, err)
	defer bobRT.Close()
	require.NoError(t, bobRT.Await(ctx, events.Connected, nil))

	aliceRT, err := clientFor(t, base, signer, "alice").Dial(ctx)
	require.NoError(t, err)
	defer aliceRT.Close()
	require.NoError(t, aliceRT.Await(ctx, events.Connected, nil))

	require.NoError(t, aliceRT.Emit(ctx, events.MessageSend, events.SendMessage{
		MessageID: "rt-1", RecipientID: "bob", EncryptedType: 1, EncryptedBody: "aGk=",
	}))
	var ack events.SentAck
	require.NoError(t, aliceRT.Await(ctx, events.MessageSent, &ack))
	assert.True(t, ack.Delivered)

	var msg events.NewMessage
	require.NoError(t, bobRT.Await(ctx, events.MessageNew, &msg))
	assert.Equal(t, "rt-1", msg.MessageID)

	require.NoError(t, aliceRT.Emit(ctx, events.MessageSend, events.SendMessage{RecipientID: "bob", EncryptedBody: "x"}))
	err = aliceRT.Await(ctx, events.MessageSent, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_request")
}
