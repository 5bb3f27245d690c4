package repository

import (
	"context"
	"sync/atomic"
	"time"

	"commonroom/internal/models"

	"github.com/rs/zerolog"
)

// FailoverSnapshotCache prefers redis and falls back to the in-process cache
// when redis misbehaves, retrying the primary after a minute.
type FailoverSnapshotCache struct {
	primary   SnapshotCache
	fallback  SnapshotCache
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverSnapshotCache(primary, fallback SnapshotCache, logger *zerolog.Logger) *FailoverSnapshotCache {
	return &FailoverSnapshotCache{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (c *FailoverSnapshotCache) Get(ctx context.Context) ([]models.Booking, bool, error) {
	if c.primaryUsable() {
		snapshot, ok, err := c.primary.Get(ctx)
		if err == nil {
			c.isDown.Store(false)
			return snapshot, ok, nil
		}
		c.trip(err)
	}
	return c.fallback.Get(ctx)
}

func (c *FailoverSnapshotCache) Set(ctx context.Context, snapshot []models.Booking) error {
	if c.primaryUsable() {
		if err := c.primary.Set(ctx, snapshot); err != nil {
			c.trip(err)
		}
	}
	return c.fallback.Set(ctx, snapshot)
}

func (c *FailoverSnapshotCache) Invalidate(ctx context.Context) error {
	// Both sides are invalidated; a stale fallback after redis recovery would
	// serve deleted bookings.
	if c.primaryUsable() {
		if err := c.primary.Invalidate(ctx); err != nil {
			c.trip(err)
		}
	}
	return c.fallback.Invalidate(ctx)
}

func (c *FailoverSnapshotCache) primaryUsable() bool {
	if !c.isDown.Load() {
		return true
	}
	last := time.Unix(0, c.lastCheck.Load())
	return time.Since(last) > time.Minute
}

func (c *FailoverSnapshotCache) trip(err error) {
	c.logger.Error().Err(err).Msg("Primary snapshot cache failed, falling back to memory")
	c.isDown.Store(true)
	c.lastCheck.Store(time.Now().UnixNano())
}
