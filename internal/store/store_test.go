package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"secumsg/internal/domain"
	"secumsg/internal/msgjson"
	"secumsg/internal/store"
	"secumsg/internal/store/storetest"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedKeys(t *testing.T, st *store.Store, userID string, ids ...uint32) {
	t.Helper()
	now := time.Now().UTC()
	keys := make([]domain.OneTimePreKey, 0, len(ids))
	for i, id := range ids {
		keys = append(keys, domain.OneTimePreKey{
			ID:        uuid.New(),
			UserID:    userID,
			KeyID:     id,
			PublicKey: "pk",
			CreatedAt: now.Add(time.Duration(i) * time.Millisecond),
		})
	}
	_, err := st.OneTimePreKeys().AddBatch(context.Background(), keys)
	require.NoError(t, err)
}

func TestAddBatchSkipsKnownKeyIDs(t *testing.T) {
	st := storetest.Open(t)
	seedKeys(t, st, "alice", 1, 2)

	n, err := st.OneTimePreKeys().AddBatch(context.Background(), []domain.OneTimePreKey{
		{ID: uuid.New(), UserID: "alice", KeyID: 2, PublicKey: "pk", CreatedAt: time.Now()},
		{ID: uuid.New(), UserID: "alice", KeyID: 3, PublicKey: "pk", CreatedAt: time.Now()},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	avail, total, err := st.OneTimePreKeys().Counts(context.Background(), "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 3, avail)
	assert.EqualValues(t, 3, total)
}

func TestConsumeNextOldestFirstUntilEmpty(t *testing.T) {
	st := storetest.Open(t)
	ctx := context.Background()
	seedKeys(t, st, "alice", 10, 11)

	at := time.Now().UTC()
	first, err := st.OneTimePreKeys().ConsumeNext(ctx, "alice", at)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.EqualValues(t, 10, first.KeyID)
	assert.True(t, first.Used)

	second, err := st.OneTimePreKeys().ConsumeNext(ctx, "alice", at)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.EqualValues(t, 11, second.KeyID)

	none, err := st.OneTimePreKeys().ConsumeNext(ctx, "alice", at)
	require.NoError(t, err)
	assert.Nil(t, none)

	n, err := st.OneTimePreKeys().DeleteUsedBefore(ctx, "", at.Add(time.Second))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestDuplicateMessageIsTranslated(t *testing.T) {
	st := storetest.Open(t)
	ctx := context.Background()
	msg := func() *domain.Message {
		return &domain.Message{
			MessageID: "dup", SenderID: "a", RecipientID: "b",
			EncryptedBody: "x", Status: domain.StatusSent, DeletedFor: msgjson.UserSet{},
			CreatedAt: time.Now().UTC(),
		}
	}
	require.NoError(t, st.Messages().Create(ctx, msg()))
	err := st.Messages().Create(ctx, msg())
	assert.True(t, errors.Is(err, store.ErrDuplicate), "got %v", err)

	_, err = st.Messages().Get(ctx, "missing")
	assert.True(t, errors.Is(err, store.ErrRecordNotFound))
}

func TestUpdateLiveSkipsRetractedMessages(t *testing.T) {
	st := storetest.Open(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, st.Messages().Create(ctx, &domain.Message{
		MessageID: "m", SenderID: "a", RecipientID: "b", EncryptedBody: "x",
		Status: domain.StatusSent, DeletedFor: msgjson.UserSet{}, CreatedAt: now,
	}))
	require.NoError(t, st.Messages().Update(ctx, "m", map[string]any{
		"deleted_for_everyone": true, "deleted_for_everyone_at": now, "status": domain.StatusDeleted,
	}))

	changed, err := st.Messages().UpdateLive(ctx, "m", map[string]any{"status": domain.StatusVerified})
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := st.Messages().Get(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeleted, got.Status)

	n, err := st.Messages().Purge(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestContactSaveUpsertsStatus(t *testing.T) {
	st := storetest.Open(t)
	ctx := context.Background()

	require.NoError(t, st.Contacts().Save(ctx, &domain.Contact{RequesterID: "a", RecipientID: "b", Status: domain.ContactPending}))
	peers, err := st.Contacts().Accepted(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, peers)

	require.NoError(t, st.Contacts().Save(ctx, &domain.Contact{RequesterID: "a", RecipientID: "b", Status: domain.ContactAccepted}))
	peers, err = st.Contacts().Accepted(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, peers)
}

func TestTouchKeepsRotationTime(t *testing.T) {
	st := storetest.Open(t)
	ctx := context.Background()
	rotated := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.Bundles().Create(ctx, &domain.KeyBundle{
		UserID:                "alice",
		RegistrationID:        7,
		IdentityKey:           "ik",
		SignedPreKeyID:        1,
		SignedPreKeyPublic:    "spk",
		SignedPreKeySignature: "sig",
		SignedPreKeyTimestamp: rotated,
		Version:               42,
		LastRotatedAt:         rotated,
	}))

	toppedUp := rotated.Add(time.Hour)
	require.NoError(t, st.Bundles().Touch(ctx, "alice", toppedUp))

	b, err := st.Bundles().Get(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, b.LastRotatedAt.Equal(rotated), "rotation time moved to %v", b.LastRotatedAt)
	assert.True(t, b.UpdatedAt.Equal(toppedUp), "updated_at = %v", b.UpdatedAt)
	assert.EqualValues(t, 42, b.Version)
}
