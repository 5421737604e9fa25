package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/roary/feed/internal/models"
	"github.com/roary/feed/pkg/config"
	"github.com/roary/feed/pkg/logging"
)

const (
	timelineKey        = "posts:timeline"
	snapshotKeyFmt     = "post:%d"
	defaultPrefix      = "roary:"
	defaultOpTimeout   = 250 * time.Millisecond
	defaultTimelineTTL = time.Hour
)

// Cache wraps Redis client. It keeps the global timeline as a sorted set scored by
// created_at and each post's rendered form as a JSON string with a TTL.
type Cache struct {
	client      *redis.Client
	prefix      string
	opTimeout   time.Duration
	timelineTTL time.Duration
}

// New creates a new Redis cache client
func New(cfg *config.RedisConfig) (*Cache, error) {
	if !cfg.Enabled {
		logging.GetLogger().Info("Redis cache disabled")
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.GetLogger().Info("Redis connection established", zap.String("prefix", cfg.KeyPrefix))

	c := &Cache{
		client:      client,
		prefix:      cfg.KeyPrefix,
		opTimeout:   cfg.OpTimeout,
		timelineTTL: cfg.TimelineTTL,
	}
	if c.prefix == "" {
		c.prefix = defaultPrefix
	}
	if c.opTimeout <= 0 {
		c.opTimeout = defaultOpTimeout
	}
	if c.timelineTTL <= 0 {
		c.timelineTTL = defaultTimelineTTL
	}
	return c, nil
}

func (c *Cache) namespaceKey(key string) string {
	prefix := c.prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return prefix + key
}

func (c *Cache) snapshotKey(id int64) string {
	return c.namespaceKey(fmt.Sprintf(snapshotKeyFmt, id))
}

// opContext bounds a single round trip so a slow Redis degrades to a miss.
func (c *Cache) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.opTimeout)
}

// member encodes an id so equal scores order by id under ZREVRANGE.
func member(id int64) string {
	return fmt.Sprintf("%019d", id)
}

func parseMember(m string) (int64, error) {
	return strconv.ParseInt(m, 10, 64)
}

// TimelineExists reports whether the timeline index is present
func (c *Cache) TimelineExists(ctx context.Context) (bool, error) {
	if c == nil || c.client == nil {
		return false, ErrCacheDisabled
	}
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	count, err := c.client.Exists(ctx, c.namespaceKey(timelineKey)).Result()
	return count > 0, err
}

// TimelineAppend adds one post to the timeline and trims it to limit entries. The
// index keeps the expiry it was built with, so appends never keep a stale one alive.
func (c *Cache) TimelineAppend(ctx context.Context, entry models.TimelineEntry, limit int) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	key := c.namespaceKey(timelineKey)
	var ttl *redis.DurationCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, &redis.Z{Score: float64(entry.CreatedAt), Member: member(entry.ID)})
		if limit > 0 {
			pipe.ZRemRangeByRank(ctx, key, 0, -int64(limit)-1)
		}
		ttl = pipe.TTL(ctx, key)
		return nil
	})
	if err != nil {
		return err
	}
	// The index lapsed between the caller's existence check and this write.
	if ttl.Val() < 0 && c.timelineTTL > 0 {
		return c.client.Expire(ctx, key, c.timelineTTL).Err()
	}
	return nil
}

// TimelineAddMany writes entries, trims and (re)sets the index expiry in a single
// MULTI round trip
func (c *Cache) TimelineAddMany(ctx context.Context, entries []models.TimelineEntry, limit int) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	if len(entries) == 0 {
		return nil
	}
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	members := make([]*redis.Z, len(entries))
	for i, e := range entries {
		members[i] = &redis.Z{Score: float64(e.CreatedAt), Member: member(e.ID)}
	}

	key := c.namespaceKey(timelineKey)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, members...)
		if limit > 0 {
			pipe.ZRemRangeByRank(ctx, key, 0, -int64(limit)-1)
		}
		if c.timelineTTL > 0 {
			pipe.Expire(ctx, key, c.timelineTTL)
		}
		return nil
	})
	return err
}

// TimelineRange returns post ids at ranks [start, stop], newest first
func (c *Cache) TimelineRange(ctx context.Context, start, stop int64) ([]int64, error) {
	if c == nil || c.client == nil {
		return nil, ErrCacheDisabled
	}
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	members, err := c.client.ZRevRange(ctx, c.namespaceKey(timelineKey), start, stop).Result()
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := parseMember(m)
		if err != nil {
			logging.GetLogger().Warn("Skipping malformed timeline member", zap.String("member", m))
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// TimelineSize returns the number of indexed posts
func (c *Cache) TimelineSize(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, ErrCacheDisabled
	}
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	return c.client.ZCard(ctx, c.namespaceKey(timelineKey)).Result()
}

// TimelineReset deletes the timeline index
func (c *Cache) TimelineReset(ctx context.Context) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	return c.client.Del(ctx, c.namespaceKey(timelineKey)).Err()
}

// GetSnapshots fetches cached posts with one MGET. Missing and unreadable entries are
// left out of the result.
func (c *Cache) GetSnapshots(ctx context.Context, ids []int64) (map[int64]models.PostView, error) {
	if c == nil || c.client == nil {
		return nil, ErrCacheDisabled
	}
	out := make(map[int64]models.PostView, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.snapshotKey(id)
	}

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var post models.PostView
		if err := json.Unmarshal([]byte(raw), &post); err != nil {
			logging.GetLogger().Warn("Discarding unreadable post snapshot",
				zap.Int64("post_id", ids[i]), zap.Error(err))
			continue
		}
		out[ids[i]] = post
	}
	return out, nil
}

// SetSnapshot caches one post for ttl
func (c *Cache) SetSnapshot(ctx context.Context, post models.PostView, ttl time.Duration) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	data, err := json.Marshal(post)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	return c.client.Set(ctx, c.snapshotKey(post.ID), data, ttl).Err()
}

// SetSnapshots caches posts for ttl in one pipelined round trip
func (c *Cache) SetSnapshots(ctx context.Context, posts []models.PostView, ttl time.Duration) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	if len(posts) == 0 {
		return nil
	}

	encoded := make(map[string][]byte, len(posts))
	for _, p := range posts {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to encode snapshot %d: %w", p.ID, err)
		}
		encoded[c.snapshotKey(p.ID)] = data
	}

	ctx, cancel := c.opContext(ctx)
	defer cancel()

	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for key, data := range encoded {
			pipe.Set(ctx, key, data, ttl)
		}
		return nil
	})
	return err
}

// DeleteSnapshot evicts one cached post
func (c *Cache) DeleteSnapshot(ctx context.Context, id int64) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	return c.client.Del(ctx, c.snapshotKey(id)).Err()
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Health checks Redis health
func (c *Cache) Health(ctx context.Context) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	return c.client.Ping(ctx).Err()
}

var (
	// ErrCacheDisabled is returned when cache operations are attempted but cache is disabled
	ErrCacheDisabled = fmt.Errorf("cache is disabled")
)
