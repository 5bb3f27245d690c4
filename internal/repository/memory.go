package repository

import (
	"context"
	"sync"
	"time"

	"commonroom/internal/models"
)

type MemorySnapshotCache struct {
	mu        sync.RWMutex
	snapshot  []models.Booking
	hasValue  bool
	expiresAt time.Time
	ttl       time.Duration
}

func NewMemorySnapshotCache(ttl time.Duration) *MemorySnapshotCache {
	return &MemorySnapshotCache{ttl: ttl}
}

func (c *MemorySnapshotCache) Get(ctx context.Context) ([]models.Booking, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.hasValue || time.Now().After(c.expiresAt) {
		return nil, false, nil
	}
	return append([]models.Booking(nil), c.snapshot...), true, nil
}

func (c *MemorySnapshotCache) Set(ctx context.Context, snapshot []models.Booking) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.snapshot = append([]models.Booking(nil), snapshot...)
	c.hasValue = true
	c.expiresAt = time.Now().Add(c.ttl)
	return nil
}

func (c *MemorySnapshotCache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.snapshot = nil
	c.hasValue = false
	return nil
}
