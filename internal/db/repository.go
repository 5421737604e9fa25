package db

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/roary/feed/internal/models"
)

const (
	newestFirst = "posts.created_at DESC, posts.id DESC"
	viewColumns = "posts.id, posts.author, posts.content, posts.created_at, COALESCE(users.avatar, ?) AS avatar"
)

// Repository provides database access methods
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// UserRepository provides user-related database operations
type UserRepository struct {
	*Repository
}

// NewUserRepository creates a new user repository
func NewUserRepository(repo *Repository) *UserRepository {
	return &UserRepository{Repository: repo}
}

// GetByUsername retrieves a user by name
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// Create creates a new user
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

// Ensure returns the user named username, creating it with avatar when missing.
func (r *UserRepository) Ensure(ctx context.Context, username, avatar string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Where(models.User{Username: username}).
		Attrs(models.User{Avatar: avatar}).
		FirstOrCreate(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Count returns the number of registered users
func (r *UserRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.User{}).Count(&n).Error
	return n, err
}

// PostRepository provides post-related database operations. Reads join the author's
// avatar, falling back to the default avatar for authors without a users row.
type PostRepository struct {
	*Repository
}

// NewPostRepository creates a new post repository
func NewPostRepository(repo *Repository) *PostRepository {
	return &PostRepository{Repository: repo}
}

func (r *PostRepository) views(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&models.Post{}).
		Select(viewColumns, models.DefaultAvatar).
		Joins("LEFT JOIN users ON users.username = posts.author")
}

func scanViews(tx *gorm.DB) ([]models.PostView, error) {
	posts := []models.PostView{}
	if err := tx.Scan(&posts).Error; err != nil {
		return nil, err
	}
	if posts == nil {
		posts = []models.PostView{}
	}
	return posts, nil
}

// InsertPost creates a post and returns its id
func (r *PostRepository) InsertPost(ctx context.Context, author, content string, createdAt int64) (int64, error) {
	post := models.Post{Author: author, Content: content, CreatedAt: createdAt}
	if err := r.db.WithContext(ctx).Create(&post).Error; err != nil {
		return 0, err
	}
	return post.ID, nil
}

// GetPost retrieves a post by ID
func (r *PostRepository) GetPost(ctx context.Context, id int64) (*models.PostView, error) {
	posts, err := scanViews(r.views(ctx).Where("posts.id = ?", id).Limit(1))
	if err != nil {
		return nil, err
	}
	if len(posts) == 0 {
		return nil, nil
	}
	return &posts[0], nil
}

// GetPostsByIDs retrieves every existing post among ids in one query
func (r *PostRepository) GetPostsByIDs(ctx context.Context, ids []int64) ([]models.PostView, error) {
	if len(ids) == 0 {
		return []models.PostView{}, nil
	}
	return scanViews(r.views(ctx).Where("posts.id IN ?", ids))
}

// ListRecent returns one window of the feed, newest first
func (r *PostRepository) ListRecent(ctx context.Context, limit, offset int) ([]models.PostView, error) {
	return scanViews(r.views(ctx).Order(newestFirst).Limit(limit).Offset(offset))
}

// RecentTimeline returns the ids and timestamps of the limit newest posts
func (r *PostRepository) RecentTimeline(ctx context.Context, limit int) ([]models.TimelineEntry, error) {
	var entries []models.TimelineEntry
	err := r.db.WithContext(ctx).
		Model(&models.Post{}).
		Select("posts.id, posts.created_at").
		Order(newestFirst).
		Limit(limit).
		Scan(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// GetAvatar returns the avatar of username, or the default avatar for unknown users
func (r *PostRepository) GetAvatar(ctx context.Context, username string) (string, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Select("avatar").Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.DefaultAvatar, nil
		}
		return "", err
	}
	if user.Avatar == "" {
		return models.DefaultAvatar, nil
	}
	return user.Avatar, nil
}

// CountPosts returns the number of stored posts
func (r *PostRepository) CountPosts(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Post{}).Count(&n).Error
	return n, err
}

// UpdatePostContent replaces the content of a post
func (r *PostRepository) UpdatePostContent(ctx context.Context, id int64, content string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Post{}).Where("id = ?", id).Update("content", content)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// DeletePost removes a post
func (r *PostRepository) DeletePost(ctx context.Context, id int64) (bool, error) {
	res := r.db.WithContext(ctx).Delete(&models.Post{}, id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListByAuthor returns an author's newest posts
func (r *PostRepository) ListByAuthor(ctx context.Context, author string, limit int) ([]models.PostView, error) {
	return scanViews(r.views(ctx).Where("posts.author = ?", author).Order(newestFirst).Limit(limit))
}

// SearchPosts returns the newest posts whose content contains query, ignoring case
func (r *PostRepository) SearchPosts(ctx context.Context, query string, limit int) ([]models.PostView, error) {
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	return scanViews(r.views(ctx).
		Where(`LOWER(posts.content) LIKE ? ESCAPE '\'`, pattern).
		Order(newestFirst).
		Limit(limit))
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
