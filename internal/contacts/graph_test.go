package contacts

import (
	"context"
	"sort"
	"testing"
	"time"

	"secumsg/internal/domain"
	"secumsg/internal/store/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreGraphAcceptedBothDirections(t *testing.T) {
	st := storetest.Open(t)
	ctx := context.Background()

	for _, c := range []domain.Contact{
		{RequesterID: "alice", RecipientID: "bob", Status: domain.ContactAccepted},
		{RequesterID: "carol", RecipientID: "alice", Status: domain.ContactAccepted},
		{RequesterID: "alice", RecipientID: "dave", Status: domain.ContactPending},
		{RequesterID: "erin", RecipientID: "frank", Status: domain.ContactAccepted},
	} {
		c := c
		require.NoError(t, st.Contacts().Save(ctx, &c))
	}

	ids, err := NewStoreGraph(st).Accepted(ctx, "alice")
	require.NoError(t, err)
	sort.Strings(ids)
	assert.Equal(t, []string{"bob", "carol"}, ids)
}

type countingGraph struct {
	calls int
	ids   []string
}

func (g *countingGraph) Accepted(context.Context, string) ([]string, error) {
	g.calls++
	return g.ids, nil
}

func TestCachedHonoursTTL(t *testing.T) {
	inner := &countingGraph{ids: []string{"bob"}}
	g := NewCached(inner, time.Minute).(*Cached)
	now := time.Unix(1000, 0)
	g.now = func() time.Time { return now }
	ctx := context.Background()

	_, _ = g.Accepted(ctx, "alice")
	_, _ = g.Accepted(ctx, "alice")
	assert.Equal(t, 1, inner.calls)

	now = now.Add(2 * time.Minute)
	_, _ = g.Accepted(ctx, "alice")
	assert.Equal(t, 2, inner.calls)

	_, _ = g.Accepted(ctx, "bob")
	assert.Equal(t, 3, inner.calls)
}

func TestCachedDisabled(t *testing.T) {
	inner := &countingGraph{}
	assert.Same(t, Graph(inner), NewCached(inner, 0))
}
