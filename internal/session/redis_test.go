package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := NewRedisStore(client)
	require.NoError(t, err)
	return store
}

func TestNewRedisStoreRequiresClient(t *testing.T) {
	_, err := NewRedisStore(nil)
	assert.Error(t, err)
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	record := &Record{
		SessionID: "s-1",
		DeviceID:  "glasses-01",
		State:     StateActive,
		StartTime: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Frames:    []FrameRecord{},
	}
	require.NoError(t, store.Put(ctx, record))

	got, err := store.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, record.SessionID, got.SessionID)
	assert.Equal(t, record.DeviceID, got.DeviceID)
	assert.Equal(t, StateActive, got.State)
	assert.True(t, record.StartTime.Equal(got.StartTime))
}

func TestRedisStorePutReplaces(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	record := &Record{SessionID: "s-1", State: StateActive}
	require.NoError(t, store.Put(ctx, record))

	record.State = StateEnded
	record.FrameCount = 3
	require.NoError(t, store.Put(ctx, record))

	got, err := store.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, StateEnded, got.State)
	assert.Equal(t, 3, got.FrameCount)
}

func TestRedisStoreGetUnknown(t *testing.T) {
	store := newTestRedisStore(t)

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreDelete(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &Record{SessionID: "s-1"}))
	require.NoError(t, store.Delete(ctx, "s-1"))

	_, err := store.Get(ctx, "s-1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting an unknown id stays a no-op.
	assert.NoError(t, store.Delete(ctx, "nope"))
}

func TestAggregatorOverRedisStore(t *testing.T) {
	store := newTestRedisStore(t)
	a, err := NewAggregator(store, nil)
	require.NoError(t, err)
	ctx := context.Background()

	s, err := a.StartSession(ctx, "dev")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = a.RecordFrame(ctx, s.SessionID, frameWithQuality(0.8), guidanceWithPriority("good"))
		require.NoError(t, err)
	}

	got, err := a.GetSession(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.FrameCount)
	assert.InDelta(t, 0.8, got.MeanQuality, 1e-9)
}
