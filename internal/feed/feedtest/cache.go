package feedtest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/roary/feed/internal/models"
)

// ErrCacheDown is what FailingCache returns.
var ErrCacheDown = errors.New("cache: connection refused")

// MemoryCache mimics the Redis sorted set and string keys the engine relies on,
// including the rule that an emptied sorted set stops existing.
type MemoryCache struct {
	mu        sync.Mutex
	timeline  map[int64]int64
	snapshots map[int64]models.PostView

	LastTTL          time.Duration
	GetSnapshotCalls int
	AddManyCalls     int
}

// NewMemoryCache creates an empty cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		timeline:  make(map[int64]int64),
		snapshots: make(map[int64]models.PostView),
	}
}

func (c *MemoryCache) TimelineExists(context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timeline) > 0, nil
}

func (c *MemoryCache) TimelineAppend(_ context.Context, entry models.TimelineEntry, limit int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeline[entry.ID] = entry.CreatedAt
	c.trim(limit)
	return nil
}

func (c *MemoryCache) TimelineAddMany(_ context.Context, entries []models.TimelineEntry, limit int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.AddManyCalls++
	for _, e := range entries {
		c.timeline[e.ID] = e.CreatedAt
	}
	c.trim(limit)
	return nil
}

func (c *MemoryCache) TimelineRange(_ context.Context, start, stop int64) ([]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := c.ordered()
	if start >= int64(len(ids)) {
		return []int64{}, nil
	}
	if stop >= int64(len(ids)) {
		stop = int64(len(ids)) - 1
	}
	return append([]int64{}, ids[start:stop+1]...), nil
}

func (c *MemoryCache) TimelineSize(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.timeline)), nil
}

func (c *MemoryCache) TimelineReset(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeline = make(map[int64]int64)
	return nil
}

func (c *MemoryCache) GetSnapshots(_ context.Context, ids []int64) (map[int64]models.PostView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.GetSnapshotCalls++
	out := make(map[int64]models.PostView, len(ids))
	for _, id := range ids {
		if p, ok := c.snapshots[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (c *MemoryCache) SetSnapshot(_ context.Context, post models.PostView, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots[post.ID] = post
	c.LastTTL = ttl
	return nil
}

func (c *MemoryCache) SetSnapshots(_ context.Context, posts []models.PostView, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range posts {
		c.snapshots[p.ID] = p
	}
	c.LastTTL = ttl
	return nil
}

func (c *MemoryCache) DeleteSnapshot(_ context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snapshots, id)
	return nil
}

// Snapshot returns the cached copy of id, if any
func (c *MemoryCache) Snapshot(id int64) (models.PostView, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.snapshots[id]
	return p, ok
}

// PutSnapshot plants a snapshot directly, e.g. a stale one
func (c *MemoryCache) PutSnapshot(post models.PostView) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots[post.ID] = post
}

// TimelineIDs returns the index newest first
func (c *MemoryCache) TimelineIDs() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ordered()
}

// ordered sorts by score DESC then id DESC, matching ZREVRANGE over zero-padded members.
func (c *MemoryCache) ordered() []int64 {
	ids := make([]int64, 0, len(c.timeline))
	for id := range c.timeline {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		si, sj := c.timeline[ids[i]], c.timeline[ids[j]]
		if si != sj {
			return si > sj
		}
		return ids[i] > ids[j]
	})
	return ids
}

func (c *MemoryCache) trim(limit int) {
	if limit <= 0 {
		return
	}
	ids := c.ordered()
	for _, id := range ids[min(limit, len(ids)):] {
		delete(c.timeline, id)
	}
}

// FailingCache fails every call with Err, like an unreachable Redis.
type FailingCache struct {
	Err error
}

// NewFailingCache returns a cache that always fails with ErrCacheDown
func NewFailingCache() *FailingCache {
	return &FailingCache{Err: ErrCacheDown}
}

func (c *FailingCache) TimelineExists(context.Context) (bool, error) { return false, c.Err }

func (c *FailingCache) TimelineAppend(context.Context, models.TimelineEntry, int) error {
	return c.Err
}

func (c *FailingCache) TimelineAddMany(context.Context, []models.TimelineEntry, int) error {
	return c.Err
}

func (c *FailingCache) TimelineRange(context.Context, int64, int64) ([]int64, error) {
	return nil, c.Err
}

func (c *FailingCache) TimelineSize(context.Context) (int64, error) { return 0, c.Err }

func (c *FailingCache) TimelineReset(context.Context) error { return c.Err }

func (c *FailingCache) GetSnapshots(context.Context, []int64) (map[int64]models.PostView, error) {
	return nil, c.Err
}

func (c *FailingCache) SetSnapshot(context.Context, models.PostView, time.Duration) error {
	return c.Err
}

func (c *FailingCache) SetSnapshots(context.Context, []models.PostView, time.Duration) error {
	return c.Err
}

func (c *FailingCache) DeleteSnapshot(context.Context, int64) error { return c.Err }
