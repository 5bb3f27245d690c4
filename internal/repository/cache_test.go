package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"commonroom/internal/config"
	"commonroom/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot(t *testing.T) []models.Booking {
	t.Helper()
	date, err := time.ParseInLocation(models.DateFmt, "2025-03-10", time.Local)
	require.NoError(t, err)
	return []models.Booking{
		{ID: "b1", Date: date, Start: 18 * 60, End: 20 * 60, Status: models.StatusApproved, Apartment: "13"},
		{ID: "b2", Date: date, Start: 20 * 60, End: 21 * 60, Status: models.StatusPending, Apartment: "5"},
	}
}

func TestMemorySnapshotCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemorySnapshotCache(time.Minute)

	_, ok, err := c.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	want := sampleSnapshot(t)
	require.NoError(t, c.Set(ctx, want))

	got, ok, err := c.Get(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	require.NoError(t, c.Invalidate(ctx))
	_, ok, err = c.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemorySnapshotCacheExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemorySnapshotCache(10 * time.Millisecond)
	require.NoError(t, c.Set(ctx, sampleSnapshot(t)))

	time.Sleep(30 * time.Millisecond)
	_, ok, err := c.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisSnapshotCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewRedisClient(config.RedisConfig{Address: mr.Addr()})
	defer Close(client)

	ctx := context.Background()
	require.NoError(t, Ping(ctx, client))

	c := NewRedisSnapshotCache(client, time.Minute)

	_, ok, err := c.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	want := sampleSnapshot(t)
	require.NoError(t, c.Set(ctx, want))

	got, ok, err := c.Get(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, 2)
	assert.Equal(t, want[0].ID, got[0].ID)
	assert.Equal(t, want[0].Start, got[0].Start)
	assert.Equal(t, want[1].Status, got[1].Status)

	// TTL expiry through miniredis clock.
	mr.FastForward(2 * time.Minute)
	_, ok, err = c.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisSnapshotCacheInvalidate(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewRedisClient(config.RedisConfig{Address: mr.Addr()})
	defer Close(client)

	ctx := context.Background()
	c := NewRedisSnapshotCache(client, time.Minute)
	require.NoError(t, c.Set(ctx, sampleSnapshot(t)))
	require.NoError(t, c.Invalidate(ctx))

	_, ok, err := c.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

type failingCache struct{ err error }

func (f *failingCache) Get(context.Context) ([]models.Booking, bool, error) { return nil, false, f.err }
func (f *failingCache) Set(context.Context, []models.Booking) error         { return f.err }
func (f *failingCache) Invalidate(context.Context) error                    { return f.err }

func TestFailoverFallsBackOnError(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.New(io.Discard)
	primary := &failingCache{err: errors.New("redis down")}
	fallback := NewMemorySnapshotCache(time.Minute)

	c := NewFailoverSnapshotCache(primary, fallback, &logger)

	want := sampleSnapshot(t)
	require.NoError(t, c.Set(ctx, want))

	got, ok, err := c.Get(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestFailoverStaysOnPrimaryWhenHealthy(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewRedisClient(config.RedisConfig{Address: mr.Addr()})
	defer Close(client)

	ctx := context.Background()
	logger := zerolog.New(io.Discard)
	primary := NewRedisSnapshotCache(client, time.Minute)
	fallback := NewMemorySnapshotCache(time.Minute)
	c := NewFailoverSnapshotCache(primary, fallback, &logger)

	require.NoError(t, c.Set(ctx, sampleSnapshot(t)))
	_, ok, err := primary.Get(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "snapshot written through to redis")
}
