package delivery_test

import (
	"context"
	"errors"
	"testing"

	"secumsg/internal/delivery"
	"secumsg/internal/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSender struct {
	online map[string]bool
	sent   []string
}

func (s *stubSender) Send(userID, event string, _ any) bool {
	if !s.online[userID] {
		return false
	}
	s.sent = append(s.sent, userID+"/"+event)
	return true
}

func (s *stubSender) IsOnline(userID string) bool { return s.online[userID] }

func TestDeliverOnlineSkipsQueue(t *testing.T) {
	s := &stubSender{online: map[string]bool{"bob": true}}
	r := delivery.NewRouter(s)

	queued := false
	ok, err := r.Deliver(context.Background(), "bob", events.MessageNew, nil, func(context.Context) error {
		queued = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, queued)
	assert.Equal(t, []string{"bob/" + events.MessageNew}, s.sent)
}

func TestDeliverOfflineQueuesDurable(t *testing.T) {
	r := delivery.NewRouter(&stubSender{})

	queued := false
	ok, err := r.Deliver(context.Background(), "bob", events.MessageNew, nil, func(context.Context) error {
		queued = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, queued)
}

func TestDeliverOfflineDropsEphemeral(t *testing.T) {
	r := delivery.NewRouter(&stubSender{})

	ok, err := r.Deliver(context.Background(), "bob", events.Typing, nil, func(context.Context) error {
		t.Fatal("ephemeral events must not be queued")
		return nil
	})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, r.Notify("bob", events.MessageStatusUpdate, nil))
}

func TestDeliverSurfacesQueueError(t *testing.T) {
	r := delivery.NewRouter(&stubSender{})
	boom := errors.New("db down")

	_, err := r.Deliver(context.Background(), "bob", events.MessageNew, nil, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}
