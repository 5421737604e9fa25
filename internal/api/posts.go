package api

import (
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/roary/feed/internal/feed"
	"github.com/roary/feed/internal/models"
)

// MaxPostLength is the composer limit, stricter than what the engine accepts.
const MaxPostLength = 280

const maxPageSize = 100

type postRequest struct {
	Content string `json:"content"`
}

// PostsAPI serves the feed over REST
type PostsAPI struct {
	engine *feed.Engine
	logger *zap.Logger
}

// NewPostsAPI creates a new posts API
func NewPostsAPI(engine *feed.Engine, logger *zap.Logger) *PostsAPI {
	return &PostsAPI{engine: engine, logger: logger}
}

// ListPosts handles GET /api/posts
func (p *PostsAPI) ListPosts(c *gin.Context) {
	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "page_size", 0)
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	if c.Query("include") == "pagination" {
		result, err := p.engine.Paginate(c.Request.Context(), page, pageSize)
		if err != nil {
			sendError(c, p.logger, err)
			return
		}
		sendResponse(c, http.StatusOK, result, "Posts retrieved successfully")
		return
	}

	posts, err := p.engine.GetPage(c.Request.Context(), page, pageSize)
	if err != nil {
		sendError(c, p.logger, err)
		return
	}
	sendResponse(c, http.StatusOK, nonNil(posts), "Posts retrieved successfully")
}

// CreatePost handles POST /api/posts
func (p *PostsAPI) CreatePost(c *gin.Context) {
	content, err := bindContent(c)
	if err != nil {
		sendError(c, p.logger, err)
		return
	}
	author := c.GetString(authorKey)

	id, err := p.engine.CreatePost(c.Request.Context(), author, content)
	if err != nil {
		sendError(c, p.logger, err)
		return
	}

	post, err := p.engine.GetPost(c.Request.Context(), id)
	if err != nil {
		// The post exists; only the read-back failed.
		p.logger.Warn("Could not read back created post", zap.Int64("post_id", id), zap.Error(err))
		post = &models.PostView{ID: id, Author: author, Content: content}
	}
	sendResponse(c, http.StatusCreated, post, "Post created successfully")
}

// GetPost handles GET /api/posts/:id
func (p *PostsAPI) GetPost(c *gin.Context) {
	id, ok := p.postID(c)
	if !ok {
		return
	}
	post, err := p.engine.GetPost(c.Request.Context(), id)
	if err != nil {
		sendError(c, p.logger, err)
		return
	}
	sendResponse(c, http.StatusOK, post, "Post retrieved successfully")
}

// UpdatePost handles PUT /api/posts/:id
func (p *PostsAPI) UpdatePost(c *gin.Context) {
	id, ok := p.postID(c)
	if !ok || !p.authorize(c, id, "You can only edit your own posts") {
		return
	}
	content, err := bindContent(c)
	if err != nil {
		sendError(c, p.logger, err)
		return
	}

	if err := p.engine.UpdatePost(c.Request.Context(), id, content); err != nil {
		sendError(c, p.logger, err)
		return
	}
	post, err := p.engine.GetPost(c.Request.Context(), id)
	if err != nil {
		sendError(c, p.logger, err)
		return
	}
	sendResponse(c, http.StatusOK, post, "Post updated successfully")
}

// DeletePost handles DELETE /api/posts/:id
func (p *PostsAPI) DeletePost(c *gin.Context) {
	id, ok := p.postID(c)
	if !ok || !p.authorize(c, id, "You can only delete your own posts") {
		return
	}
	if err := p.engine.DeletePost(c.Request.Context(), id); err != nil {
		sendError(c, p.logger, err)
		return
	}
	sendResponse(c, http.StatusOK, nil, "Post deleted successfully")
}

// SearchPosts handles GET /api/posts/search
func (p *PostsAPI) SearchPosts(c *gin.Context) {
	posts, err := p.engine.SearchPosts(c.Request.Context(), c.Query("q"), queryInt(c, "limit", 0))
	if err != nil {
		sendError(c, p.logger, err)
		return
	}
	sendResponse(c, http.StatusOK, nonNil(posts), "Posts retrieved successfully")
}

// UserPosts handles GET /api/users/:username/posts
func (p *PostsAPI) UserPosts(c *gin.Context) {
	posts, err := p.engine.PostsByAuthor(c.Request.Context(), c.Param("username"), queryInt(c, "limit", 0))
	if err != nil {
		sendError(c, p.logger, err)
		return
	}
	sendResponse(c, http.StatusOK, nonNil(posts), "Posts retrieved successfully")
}

func (p *PostsAPI) postID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		sendError(c, p.logger, NewError(http.StatusBadRequest, "Invalid post id"))
		return 0, false
	}
	return id, true
}

// authorize checks that the signed-in user wrote post id
func (p *PostsAPI) authorize(c *gin.Context, id int64, denied string) bool {
	post, err := p.engine.GetPost(c.Request.Context(), id)
	if err != nil {
		sendError(c, p.logger, err)
		return false
	}
	if post.Author != c.GetString(authorKey) {
		sendError(c, p.logger, NewError(http.StatusForbidden, denied))
		return false
	}
	return true
}

func bindContent(c *gin.Context) (string, error) {
	var req postRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return "", NewError(http.StatusBadRequest, "Content is required")
	}
	content := strings.TrimSpace(req.Content)
	if n := utf8.RuneCountInString(content); n < 1 || n > MaxPostLength {
		return "", NewError(http.StatusBadRequest, "Content must be between 1 and 280 characters")
	}
	return content, nil
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return def
	}
	return v
}

func nonNil(posts []models.PostView) []models.PostView {
	if posts == nil {
		return []models.PostView{}
	}
	return posts
}
