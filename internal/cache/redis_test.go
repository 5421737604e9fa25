package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/roary/feed/internal/models"
	"github.com/roary/feed/pkg/config"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(&config.RedisConfig{
		URL:       "redis://" + mr.Addr(),
		Enabled:   true,
		KeyPrefix: "test:",
		OpTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestCache_NamespaceKey(t *testing.T) {
	cache := &Cache{}

	tests := []struct {
		name     string
		key      string
		expected string
	}{
		{
			name:     "simple key",
			key:      "test",
			expected: "roary:test",
		},
		{
			name:     "key with colon",
			key:      "posts:timeline",
			expected: "roary:posts:timeline",
		},
		{
			name:     "empty key",
			key:      "",
			expected: "roary:",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := cache.namespaceKey(tt.key)
			if result != tt.expected {
				t.Errorf("namespaceKey() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestMember(t *testing.T) {
	tests := []struct {
		id       int64
		expected string
	}{
		{1, "0000000000000000001"},
		{42, "0000000000000000042"},
		{9223372036854775807, "9223372036854775807"},
	}

	for _, tt := range tests {
		got := member(tt.id)
		if got != tt.expected {
			t.Errorf("member(%d) = %v, want %v", tt.id, got, tt.expected)
		}
		back, err := parseMember(got)
		if err != nil || back != tt.id {
			t.Errorf("parseMember(%q) = %d, %v; want %d", got, back, err, tt.id)
		}
	}
}

func TestNew_Disabled(t *testing.T) {
	c, err := New(&config.RedisConfig{Enabled: false})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if c != nil {
		t.Fatalf("New() = %v, want nil for a disabled cache", c)
	}

	if _, err := c.TimelineExists(context.Background()); !errors.Is(err, ErrCacheDisabled) {
		t.Errorf("TimelineExists() on disabled cache error = %v, want ErrCacheDisabled", err)
	}
	if err := c.SetSnapshot(context.Background(), models.PostView{ID: 1}, time.Minute); !errors.Is(err, ErrCacheDisabled) {
		t.Errorf("SetSnapshot() on disabled cache error = %v, want ErrCacheDisabled", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on disabled cache error = %v", err)
	}
}

func TestNew_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	if _, err := New(&config.RedisConfig{URL: "redis://" + addr, Enabled: true}); err == nil {
		t.Error("New() should fail when Redis is not reachable")
	}
}

func TestTimeline(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	exists, err := c.TimelineExists(ctx)
	if err != nil || exists {
		t.Fatalf("TimelineExists() = %v, %v; want false", exists, err)
	}

	entries := []models.TimelineEntry{
		{ID: 1, CreatedAt: 100},
		{ID: 2, CreatedAt: 200},
		{ID: 3, CreatedAt: 200},
		{ID: 10, CreatedAt: 200},
		{ID: 4, CreatedAt: 50},
	}
	if err := c.TimelineAddMany(ctx, entries, 10); err != nil {
		t.Fatalf("TimelineAddMany() error: %v", err)
	}
	if !mr.Exists("test:posts:timeline") {
		t.Fatal("timeline key was not written under the prefix")
	}

	tests := []struct {
		name     string
		start    int64
		stop     int64
		expected []int64
	}{
		{"first page breaks ties by id", 0, 2, []int64{10, 3, 2}},
		{"second page", 3, 5, []int64{1, 4}},
		{"past the end", 10, 12, []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.TimelineRange(ctx, tt.start, tt.stop)
			if err != nil {
				t.Fatalf("TimelineRange() error: %v", err)
			}
			if len(got) != len(tt.expected) {
				t.Fatalf("TimelineRange() = %v, want %v", got, tt.expected)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("TimelineRange() = %v, want %v", got, tt.expected)
					break
				}
			}
		})
	}

	size, err := c.TimelineSize(ctx)
	if err != nil || size != 5 {
		t.Errorf("TimelineSize() = %d, %v; want 5", size, err)
	}

	if err := c.TimelineReset(ctx); err != nil {
		t.Fatalf("TimelineReset() error: %v", err)
	}
	exists, _ = c.TimelineExists(ctx)
	if exists {
		t.Error("timeline should be gone after TimelineReset()")
	}
}

func TestTimelineAppend_TrimsToLimit(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	for id := int64(1); id <= 6; id++ {
		if err := c.TimelineAppend(ctx, models.TimelineEntry{ID: id, CreatedAt: 1000 + id}, 4); err != nil {
			t.Fatalf("TimelineAppend() error: %v", err)
		}
	}

	size, _ := c.TimelineSize(ctx)
	if size != 4 {
		t.Errorf("TimelineSize() = %d, want 4", size)
	}
	got, _ := c.TimelineRange(ctx, 0, -1)
	expected := []int64{6, 5, 4, 3}
	for i := range expected {
		if i >= len(got) || got[i] != expected[i] {
			t.Fatalf("TimelineRange() = %v, want %v", got, expected)
		}
	}
}

func TestTimeline_Expires(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	key := "test:posts:timeline"

	entries := []models.TimelineEntry{{ID: 1, CreatedAt: 1001}, {ID: 2, CreatedAt: 1002}}
	if err := c.TimelineAddMany(ctx, entries, 10); err != nil {
		t.Fatalf("TimelineAddMany() error: %v", err)
	}
	if ttl := mr.TTL(key); ttl != defaultTimelineTTL {
		t.Errorf("timeline TTL after bootstrap = %v, want %v", ttl, defaultTimelineTTL)
	}

	// appends must not push the expiry back
	mr.FastForward(30 * time.Minute)
	if err := c.TimelineAppend(ctx, models.TimelineEntry{ID: 3, CreatedAt: 1003}, 10); err != nil {
		t.Fatalf("TimelineAppend() error: %v", err)
	}
	if ttl := mr.TTL(key); ttl != 30*time.Minute {
		t.Errorf("timeline TTL after append = %v, want %v", ttl, 30*time.Minute)
	}

	mr.FastForward(30 * time.Minute)
	if exists, _ := c.TimelineExists(ctx); exists {
		t.Error("timeline should have expired")
	}

	// an append that recreates a lapsed index gives it an expiry
	if err := c.TimelineAppend(ctx, models.TimelineEntry{ID: 4, CreatedAt: 1004}, 10); err != nil {
		t.Fatalf("TimelineAppend() error: %v", err)
	}
	if ttl := mr.TTL(key); ttl != defaultTimelineTTL {
		t.Errorf("timeline TTL after recreating append = %v, want %v", ttl, defaultTimelineTTL)
	}
}

func TestSnapshots(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	posts := []models.PostView{
		{ID: 1, Author: "alice", Content: "hello", CreatedAt: 100, Avatar: "🐸"},
		{ID: 2, Author: "bob", Content: "Ctrl+Alt+Defeat", CreatedAt: 200, Avatar: "🐧"},
	}
	if err := c.SetSnapshots(ctx, posts, time.Hour); err != nil {
		t.Fatalf("SetSnapshots() error: %v", err)
	}
	if err := c.SetSnapshot(ctx, models.PostView{ID: 3, Author: "carol", Content: "hi", CreatedAt: 300}, time.Minute); err != nil {
		t.Fatalf("SetSnapshot() error: %v", err)
	}
	if ttl := mr.TTL("test:post:1"); ttl != time.Hour {
		t.Errorf("TTL(post:1) = %v, want %v", ttl, time.Hour)
	}

	// unreadable entries are treated as misses
	if err := mr.Set("test:post:4", "{not json"); err != nil {
		t.Fatalf("miniredis Set() error: %v", err)
	}

	got, err := c.GetSnapshots(ctx, []int64{1, 2, 3, 4, 99})
	if err != nil {
		t.Fatalf("GetSnapshots() error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("GetSnapshots() returned %d posts, want 3", len(got))
	}
	if got[1] != posts[0] {
		t.Errorf("GetSnapshots()[1] = %+v, want %+v", got[1], posts[0])
	}
	if _, ok := got[99]; ok {
		t.Error("GetSnapshots() should leave out absent ids")
	}

	if err := c.DeleteSnapshot(ctx, 1); err != nil {
		t.Fatalf("DeleteSnapshot() error: %v", err)
	}
	got, _ = c.GetSnapshots(ctx, []int64{1})
	if len(got) != 0 {
		t.Errorf("snapshot 1 still cached after DeleteSnapshot(): %+v", got)
	}

	mr.FastForward(2 * time.Minute)
	got, _ = c.GetSnapshots(ctx, []int64{2, 3})
	if _, ok := got[3]; ok {
		t.Error("snapshot 3 should have expired")
	}
	if _, ok := got[2]; !ok {
		t.Error("snapshot 2 should still be cached")
	}
}

func TestCache_ServerErrors(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	mr.SetError("LOADING Redis is loading the dataset in memory")

	if _, err := c.TimelineRange(ctx, 0, 9); err == nil {
		t.Error("TimelineRange() should surface server errors")
	}
	if _, err := c.GetSnapshots(ctx, []int64{1}); err == nil {
		t.Error("GetSnapshots() should surface server errors")
	}
	if err := c.Health(ctx); err == nil {
		t.Error("Health() should fail while the server errors")
	}

	mr.SetError("")
	if err := c.Health(ctx); err != nil {
		t.Errorf("Health() error = %v after recovery", err)
	}
}
