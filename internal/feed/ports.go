package feed

import (
	"context"
	"time"

	"github.com/roary/feed/internal/cache"
	"github.com/roary/feed/internal/models"
)

var _ Cache = (*cache.Cache)(nil)

// Store is the durable source of truth for posts and users. Implementations return a
// nil post (and no error) when a row does not exist.
type Store interface {
	// InsertPost stores a new post and returns its id.
	InsertPost(ctx context.Context, author, content string, createdAt int64) (int64, error)

	GetPost(ctx context.Context, id int64) (*models.PostView, error)

	// GetPostsByIDs loads every existing post among ids in one query. Order is unspecified.
	GetPostsByIDs(ctx context.Context, ids []int64) ([]models.PostView, error)

	// ListRecent returns posts ordered by created_at DESC, id DESC.
	ListRecent(ctx context.Context, limit, offset int) ([]models.PostView, error)

	// RecentTimeline returns the (id, created_at) pairs of the limit most recent posts.
	RecentTimeline(ctx context.Context, limit int) ([]models.TimelineEntry, error)

	// GetAvatar returns the author's avatar, or the default avatar for unknown users.
	GetAvatar(ctx context.Context, username string) (string, error)

	CountPosts(ctx context.Context) (int64, error)

	// UpdatePostContent reports whether a row was changed.
	UpdatePostContent(ctx context.Context, id int64, content string) (bool, error)

	// DeletePost reports whether a row was removed.
	DeletePost(ctx context.Context, id int64) (bool, error)

	ListByAuthor(ctx context.Context, author string, limit int) ([]models.PostView, error)
	SearchPosts(ctx context.Context, query string, limit int) ([]models.PostView, error)
}

// Cache holds the timeline index and post snapshots. It is an accelerator only: any
// method may fail, and the engine treats every failure as a miss.
type Cache interface {
	TimelineExists(ctx context.Context) (bool, error)

	// TimelineAppend adds one entry and trims the index to its newest limit entries.
	TimelineAppend(ctx context.Context, entry models.TimelineEntry, limit int) error

	// TimelineAddMany writes a bootstrap batch in one round trip and trims to limit.
	TimelineAddMany(ctx context.Context, entries []models.TimelineEntry, limit int) error

	// TimelineRange returns ids at zero-based ranks [start, stop], newest first.
	TimelineRange(ctx context.Context, start, stop int64) ([]int64, error)

	TimelineSize(ctx context.Context) (int64, error)

	// TimelineReset drops the whole index so the next first-page read rebuilds it.
	TimelineReset(ctx context.Context) error

	// GetSnapshots fetches snapshots for ids in one round trip; absent ids are left out.
	GetSnapshots(ctx context.Context, ids []int64) (map[int64]models.PostView, error)

	SetSnapshot(ctx context.Context, post models.PostView, ttl time.Duration) error
	SetSnapshots(ctx context.Context, posts []models.PostView, ttl time.Duration) error
	DeleteSnapshot(ctx context.Context, id int64) error
}
