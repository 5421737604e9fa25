package feed

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/roary/feed/internal/cache"
	"github.com/roary/feed/internal/models"
	"github.com/roary/feed/pkg/config"
	"github.com/roary/feed/pkg/telemetry"
)

// MaxContentLength is the longest post the engine accepts, in characters.
const MaxContentLength = 10000

const (
	defaultPageSize         = 10
	defaultTimelineLimit    = 500
	defaultSnapshotTTL      = time.Hour
	defaultBootstrapTimeout = 5 * time.Second
	defaultListLimit        = 50
	maxListLimit            = 100
)

// Config tunes the engine
type Config struct {
	SnapshotTTL   time.Duration
	TimelineLimit int
	PageSize      int
	// AsyncBootstrap moves first-page timeline population off the request path.
	AsyncBootstrap   bool
	BootstrapTimeout time.Duration
}

// ConfigFrom builds an engine config from the application feed settings
func ConfigFrom(cfg *config.FeedConfig) Config {
	return Config{
		SnapshotTTL:    cfg.SnapshotTTL,
		TimelineLimit:  cfg.TimelineLimit,
		PageSize:       cfg.PageSize,
		AsyncBootstrap: cfg.AsyncBootstrap,
	}
}

func (c Config) withDefaults() Config {
	if c.SnapshotTTL <= 0 {
		c.SnapshotTTL = defaultSnapshotTTL
	}
	if c.TimelineLimit <= 0 {
		c.TimelineLimit = defaultTimelineLimit
	}
	if c.PageSize <= 0 {
		c.PageSize = defaultPageSize
	}
	if c.BootstrapTimeout <= 0 {
		c.BootstrapTimeout = defaultBootstrapTimeout
	}
	return c
}

// Option customizes an Engine
type Option func(*Engine)

// WithClock replaces the wall clock used to stamp new posts
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMeter records engine counters on meter instead of the application meter
func WithMeter(meter metric.Meter) Option {
	return func(e *Engine) { e.metrics = newEngineMetrics(meter) }
}

// Engine serves the global feed from the store, using the cache as a read-through
// accelerator. Store errors are returned; cache errors are logged and absorbed.
type Engine struct {
	store   Store
	cache   Cache
	cfg     Config
	logger  *zap.Logger
	metrics *engineMetrics
	now     func() time.Time
}

// NewEngine creates a feed engine
func NewEngine(store Store, c Cache, cfg Config, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		store:  store,
		cache:  c,
		cfg:    cfg.withDefaults(),
		logger: logger.With(zap.String("component", "feed-engine")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = newEngineMetrics(telemetry.Meter())
	}
	return e
}

// ValidateContent checks post content before anything is written
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return &ValidationError{Field: "content", Reason: "post content cannot be empty"}
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return &ValidationError{Field: "content", Reason: "post content cannot exceed 10,000 characters"}
	}
	return nil
}

// CreatePost stores a new post and returns its id. Once the store insert succeeds the
// post is created; indexing it and caching its snapshot are best effort.
func (e *Engine) CreatePost(ctx context.Context, author, content string) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "feed.create_post", trace.WithAttributes(attribute.String("author", author)))
	defer span.End()

	if strings.TrimSpace(author) == "" {
		return 0, &ValidationError{Field: "author", Reason: "author is required"}
	}
	if err := ValidateContent(content); err != nil {
		return 0, err
	}

	createdAt := e.now().Unix()
	id, err := e.store.InsertPost(ctx, author, content, createdAt)
	if err != nil {
		e.storeFailure(span, "insert post", err)
		return 0, &StoreError{Op: "insert post", Err: err}
	}
	e.metrics.postsCreated.Add(ctx, 1)
	span.SetAttributes(attribute.Int64("post_id", id))

	e.indexNewPost(ctx, models.TimelineEntry{ID: id, CreatedAt: createdAt})
	e.cacheNewPost(ctx, models.PostView{
		ID:        id,
		Author:    author,
		Content:   content,
		CreatedAt: createdAt,
	})

	e.logger.Debug("Created post", zap.Int64("post_id", id), zap.String("author", author))
	return id, nil
}

// indexNewPost appends to an existing timeline. An absent timeline is bootstrapped
// instead, because a one-entry index would hide every older post from page one.
func (e *Engine) indexNewPost(ctx context.Context, entry models.TimelineEntry) {
	exists, err := e.cache.TimelineExists(ctx)
	if err != nil {
		e.cacheFailure(ctx, "timeline exists", err)
		return
	}
	if !exists {
		e.bootstrap(ctx)
		return
	}
	if err := e.cache.TimelineAppend(ctx, entry, e.cfg.TimelineLimit); err != nil {
		e.cacheFailure(ctx, "timeline append", err)
	}
}

func (e *Engine) cacheNewPost(ctx context.Context, view models.PostView) {
	avatar, err := e.store.GetAvatar(ctx, view.Author)
	if err != nil {
		// The snapshot is optional, so a failed lookup only skips it.
		e.logger.Warn("Avatar lookup failed, skipping snapshot",
			zap.Int64("post_id", view.ID), zap.String("author", view.Author), zap.Error(err))
		return
	}
	view.Avatar = avatar
	if err := e.cache.SetSnapshot(ctx, view, e.cfg.SnapshotTTL); err != nil {
		e.cacheFailure(ctx, "set snapshot", err)
	}
}

// GetPage returns one page of the global feed, newest first. page is 1-based and
// coerced to at least 1; a non-positive pageSize selects the configured default.
// A page past the end is empty, not an error.
func (e *Engine) GetPage(ctx context.Context, page, pageSize int) ([]models.PostView, error) {
	page, pageSize = e.normalize(page, pageSize)

	ctx, span := telemetry.StartSpan(ctx, "feed.get_page", trace.WithAttributes(
		attribute.Int("page", page),
		attribute.Int("page_size", pageSize),
	))
	defer span.End()

	start := int64(page-1) * int64(pageSize)
	end := start + int64(pageSize) - 1

	if page == 1 {
		e.ensureTimeline(ctx)
	}

	ids, err := e.cache.TimelineRange(ctx, start, end)
	if err != nil {
		e.cacheFailure(ctx, "timeline range", err)
		ids = nil
	}
	if len(ids) > 0 && len(ids) < pageSize && e.windowTruncated(ctx) {
		// The page runs past the bounded index; the store has the rest.
		ids = nil
	}

	var posts []models.PostView
	if len(ids) > 0 {
		span.SetAttributes(attribute.String("source", "cache"))
		var stale bool
		posts, stale, err = e.loadPosts(ctx, ids)
		if err == nil && stale {
			// The index names a post the store no longer has, e.g. one a concurrent
			// bootstrap put back after a delete reset the timeline.
			e.resetTimeline(ctx)
			ids = nil
		}
	}
	if len(ids) == 0 {
		span.SetAttributes(attribute.String("source", "store"))
		posts, err = e.pageFromStore(ctx, start, pageSize)
	}
	if err != nil {
		e.storeFailure(span, "get page", err)
		return nil, err
	}
	return posts, nil
}

func (e *Engine) normalize(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = e.cfg.PageSize
	}
	return page, pageSize
}

// ensureTimeline bootstraps the index when it is absent. Failures never block the read.
func (e *Engine) ensureTimeline(ctx context.Context) {
	exists, err := e.cache.TimelineExists(ctx)
	if err != nil {
		e.cacheFailure(ctx, "timeline exists", err)
		return
	}
	if exists {
		return
	}
	if !e.cfg.AsyncBootstrap {
		e.bootstrap(ctx)
		return
	}
	go func() {
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.BootstrapTimeout)
		defer cancel()
		e.bootstrap(bctx)
	}()
}

func (e *Engine) bootstrap(ctx context.Context) {
	n, err := e.PopulateTimelineCache(ctx, e.cfg.TimelineLimit)
	if err != nil {
		var cerr *CacheError
		if errors.As(err, &cerr) {
			e.cacheFailure(ctx, cerr.Op, cerr.Err)
			return
		}
		e.logger.Error("Timeline bootstrap could not read the store", zap.Error(err))
		return
	}
	e.logger.Info("Timeline bootstrapped", zap.Int("entries", n))
}

// windowTruncated reports whether the index may be missing posts older than its tail.
// An unknown size counts as truncated, which sends the read to the store.
func (e *Engine) windowTruncated(ctx context.Context) bool {
	size, err := e.cache.TimelineSize(ctx)
	if err != nil {
		e.cacheFailure(ctx, "timeline size", err)
		return true
	}
	if size >= int64(e.cfg.TimelineLimit) {
		return true
	}
	// Below the ceiling the index may still end early: it was populated with a smaller
	// limit, or under a lower ceiling by an earlier process.
	total, err := e.store.CountPosts(ctx)
	if err != nil {
		e.logger.Warn("Could not count posts, serving the page from the store", zap.Error(err))
		return true
	}
	return total > size
}

// pageFromStore serves a page straight from the store and caches what it read.
func (e *Engine) pageFromStore(ctx context.Context, offset int64, limit int) ([]models.PostView, error) {
	e.metrics.storeFallbacks.Add(ctx, 1)

	posts, err := e.store.ListRecent(ctx, limit, int(offset))
	if err != nil {
		return nil, &StoreError{Op: "list recent posts", Err: err}
	}
	e.backfill(ctx, posts)
	sortNewestFirst(posts)
	return posts, nil
}

// loadPosts resolves timeline ids to posts: one multi-get against the cache, then one
// batched store query for whatever was missing. stale is set when the store no longer
// has some of the ids.
func (e *Engine) loadPosts(ctx context.Context, ids []int64) (posts []models.PostView, stale bool, err error) {
	hits, err := e.cache.GetSnapshots(ctx, ids)
	if err != nil {
		e.cacheFailure(ctx, "get snapshots", err)
		hits = nil
	}

	posts = make([]models.PostView, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	var missing []int64
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if post, ok := hits[id]; ok {
			posts = append(posts, post)
			continue
		}
		missing = append(missing, id)
	}

	e.metrics.cacheHits.Add(ctx, int64(len(posts)))
	if len(missing) > 0 {
		e.metrics.cacheMisses.Add(ctx, int64(len(missing)))

		fetched, err := e.store.GetPostsByIDs(ctx, missing)
		if err != nil {
			return nil, false, &StoreError{Op: "get posts by ids", Err: err}
		}
		e.backfill(ctx, fetched)
		posts = append(posts, fetched...)
		stale = len(fetched) < len(missing)
	}

	sortNewestFirst(posts)
	return posts, stale, nil
}

func (e *Engine) backfill(ctx context.Context, posts []models.PostView) {
	if len(posts) == 0 {
		return
	}
	if err := e.cache.SetSnapshots(ctx, posts, e.cfg.SnapshotTTL); err != nil {
		e.cacheFailure(ctx, "set snapshots", err)
	}
}

// PopulateTimelineCache loads the limit most recent (id, created_at) pairs from the
// store into the timeline index in one batched write. It returns the number of entries
// written. Concurrent calls do the same idempotent work.
func (e *Engine) PopulateTimelineCache(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = e.cfg.TimelineLimit
	}

	ctx, span := telemetry.StartSpan(ctx, "feed.populate_timeline", trace.WithAttributes(attribute.Int("limit", limit)))
	defer span.End()

	entries, err := e.store.RecentTimeline(ctx, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store scan failed")
		return 0, &StoreError{Op: "recent timeline", Err: err}
	}
	if len(entries) == 0 {
		return 0, nil
	}
	if err := e.cache.TimelineAddMany(ctx, entries, limit); err != nil {
		span.RecordError(err)
		return 0, &CacheError{Op: "timeline add many", Err: err}
	}
	return len(entries), nil
}

// GetPost returns a single post, from its snapshot when cached.
func (e *Engine) GetPost(ctx context.Context, id int64) (*models.PostView, error) {
	hits, err := e.cache.GetSnapshots(ctx, []int64{id})
	if err != nil {
		e.cacheFailure(ctx, "get snapshots", err)
	}
	if post, ok := hits[id]; ok {
		e.metrics.cacheHits.Add(ctx, 1)
		return &post, nil
	}
	e.metrics.cacheMisses.Add(ctx, 1)

	post, err := e.store.GetPost(ctx, id)
	if err != nil {
		return nil, &StoreError{Op: "get post", Err: err}
	}
	if post == nil {
		return nil, ErrNotFound
	}
	if err := e.cache.SetSnapshot(ctx, *post, e.cfg.SnapshotTTL); err != nil {
		e.cacheFailure(ctx, "set snapshot", err)
	}
	return post, nil
}

// UpdatePost replaces a post's content and evicts its snapshot so readers stop seeing
// the old text before the TTL runs out.
func (e *Engine) UpdatePost(ctx context.Context, id int64, content string) error {
	if err := ValidateContent(content); err != nil {
		return err
	}
	ok, err := e.store.UpdatePostContent(ctx, id, content)
	if err != nil {
		return &StoreError{Op: "update post", Err: err}
	}
	if !ok {
		return ErrNotFound
	}
	if err := e.cache.DeleteSnapshot(ctx, id); err != nil {
		e.cacheFailure(ctx, "delete snapshot", err)
	}
	return nil
}

// DeletePost removes a post, evicts its snapshot and drops the timeline index.
// Rebuilding the index keeps its window contiguous with the store. A bootstrap that
// read the store before the delete can still write the id back; GetPage notices the
// missing post and resets the index again.
func (e *Engine) DeletePost(ctx context.Context, id int64) error {
	ok, err := e.store.DeletePost(ctx, id)
	if err != nil {
		return &StoreError{Op: "delete post", Err: err}
	}
	if !ok {
		return ErrNotFound
	}
	if err := e.cache.DeleteSnapshot(ctx, id); err != nil {
		e.cacheFailure(ctx, "delete snapshot", err)
	}
	e.resetTimeline(ctx)
	return nil
}

func (e *Engine) resetTimeline(ctx context.Context) {
	if err := e.cache.TimelineReset(ctx); err != nil {
		e.cacheFailure(ctx, "timeline reset", err)
	}
}

// Page is a feed page with the totals a pager needs
type Page struct {
	Posts      []models.PostView `json:"posts"`
	Page       int               `json:"current_page"`
	PerPage    int               `json:"per_page"`
	TotalPosts int64             `json:"total_posts"`
	TotalPages int64             `json:"total_pages"`
	HasPrev    bool              `json:"has_prev"`
	HasNext    bool              `json:"has_next"`
}

// Paginate is GetPage plus totals from the store
func (e *Engine) Paginate(ctx context.Context, page, pageSize int) (*Page, error) {
	page, pageSize = e.normalize(page, pageSize)

	posts, err := e.GetPage(ctx, page, pageSize)
	if err != nil {
		return nil, err
	}
	total, err := e.store.CountPosts(ctx)
	if err != nil {
		return nil, &StoreError{Op: "count posts", Err: err}
	}

	totalPages := (total + int64(pageSize) - 1) / int64(pageSize)
	return &Page{
		Posts:      posts,
		Page:       page,
		PerPage:    pageSize,
		TotalPosts: total,
		TotalPages: totalPages,
		HasPrev:    page > 1,
		HasNext:    int64(page) < totalPages,
	}, nil
}

// PostsByAuthor lists an author's most recent posts straight from the store
func (e *Engine) PostsByAuthor(ctx context.Context, author string, limit int) ([]models.PostView, error) {
	if strings.TrimSpace(author) == "" {
		return nil, &ValidationError{Field: "author", Reason: "author is required"}
	}
	posts, err := e.store.ListByAuthor(ctx, author, clampLimit(limit))
	if err != nil {
		return nil, &StoreError{Op: "list posts by author", Err: err}
	}
	return posts, nil
}

// SearchPosts finds posts whose content contains query, newest first
func (e *Engine) SearchPosts(ctx context.Context, query string, limit int) ([]models.PostView, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &ValidationError{Field: "query", Reason: "search query cannot be empty"}
	}
	posts, err := e.store.SearchPosts(ctx, query, clampLimit(limit))
	if err != nil {
		return nil, &StoreError{Op: "search posts", Err: err}
	}
	return posts, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func (e *Engine) cacheFailure(ctx context.Context, op string, err error) {
	if errors.Is(err, cache.ErrCacheDisabled) {
		return
	}
	e.metrics.cacheErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	e.logger.Warn("Cache operation failed, continuing without cache",
		zap.String("op", op), zap.Error(err))
}

func (e *Engine) storeFailure(span trace.Span, op string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, op)
	e.logger.Error("Store operation failed", zap.String("op", op), zap.Error(err))
}

// sortNewestFirst orders by created_at DESC, breaking ties by id DESC.
func sortNewestFirst(posts []models.PostView) {
	sort.SliceStable(posts, func(i, j int) bool {
		if posts[i].CreatedAt != posts[j].CreatedAt {
			return posts[i].CreatedAt > posts[j].CreatedAt
		}
		return posts[i].ID > posts[j].ID
	})
}
