package broadcast_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"secumsg/internal/broadcast"
	"secumsg/internal/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	mu     sync.Mutex
	online map[string]bool
	got    map[string][]events.UserStatusPayload
}

func newNotifier() *fakeNotifier {
	return &fakeNotifier{online: map[string]bool{}, got: map[string][]events.UserStatusPayload{}}
}

func (n *fakeNotifier) setOnline(user string, v bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.online[user] = v
}

func (n *fakeNotifier) IsOnline(user string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.online[user]
}

func (n *fakeNotifier) Notify(user, event string, payload any) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if event == events.UserStatus {
		n.got[user] = append(n.got[user], payload.(events.UserStatusPayload))
	}
	return true
}

func (n *fakeNotifier) received(user string) []events.UserStatusPayload {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]events.UserStatusPayload(nil), n.got[user]...)
}

type staticGraph map[string][]string

func (g staticGraph) Accepted(_ context.Context, user string) ([]string, error) { return g[user], nil }

type countingFlusher struct {
	mu    sync.Mutex
	calls []string
}

func (f *countingFlusher) FlushPending(_ context.Context, user string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, user)
	return 0, nil
}

const debounce = 20 * time.Millisecond

func TestConnectFlushesThenAnnounces(t *testing.T) {
	n := newNotifier()
	f := &countingFlusher{}
	b := broadcast.New(staticGraph{"alice": {"bob", "carol"}}, n, f, debounce)
	defer b.Close()

	n.setOnline("alice", true)
	b.Connected(context.Background(), "alice")
	assert.Equal(t, []string{"alice"}, f.calls)

	require.Eventually(t, func() bool { return len(n.received("carol")) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []events.UserStatusPayload{{UserID: "alice", IsOnline: true}}, n.received("bob"))

	n.setOnline("alice", false)
	b.Disconnected("alice")
	require.Eventually(t, func() bool { return len(n.received("bob")) == 2 }, time.Second, time.Millisecond)
	assert.False(t, n.received("bob")[1].IsOnline)
}

func TestFlappingIsDebounced(t *testing.T) {
	n := newNotifier()
	b := broadcast.New(staticGraph{"alice": {"bob"}}, n, &countingFlusher{}, debounce)
	defer b.Close()

	n.setOnline("alice", true)
	b.Connected(context.Background(), "alice")
	require.Eventually(t, func() bool { return len(n.received("bob")) == 1 }, time.Second, time.Millisecond)

	// Drop and come back inside the window: contacts hear nothing.
	n.setOnline("alice", false)
	b.Disconnected("alice")
	n.setOnline("alice", true)
	b.Connected(context.Background(), "alice")

	time.Sleep(5 * debounce)
	assert.Len(t, n.received("bob"), 1)
}

func TestCloseCancelsPending(t *testing.T) {
	n := newNotifier()
	b := broadcast.New(staticGraph{"alice": {"bob"}}, n, &countingFlusher{}, debounce)

	n.setOnline("alice", true)
	b.Connected(context.Background(), "alice")
	b.Close()

	time.Sleep(5 * debounce)
	assert.Empty(t, n.received("bob"))
}
