// Package feedtest provides in-memory implementations of the feed engine's Store and
// Cache ports for tests.
package feedtest

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/roary/feed/internal/models"
)

// MemoryStore is a Store backed by a slice. Setting Err makes every call fail.
type MemoryStore struct {
	mu      sync.Mutex
	posts   []models.Post
	avatars map[string]string
	nextID  int64

	Err error

	ListRecentCalls     int
	GetByIDsCalls       int
	RecentTimelineCalls int
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{avatars: make(map[string]string), nextID: 1}
}

// AddUser registers an avatar for username
func (s *MemoryStore) AddUser(username, avatar string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.avatars[username] = avatar
}

// Seed inserts n posts by author with ids 1..n and created_at base+id.
func (s *MemoryStore) Seed(n int, author string, base int64) {
	for i := 0; i < n; i++ {
		s.mu.Lock()
		id := s.nextID
		s.nextID++
		s.posts = append(s.posts, models.Post{
			ID:        id,
			Author:    author,
			Content:   "post " + strconv.FormatInt(id, 10),
			CreatedAt: base + id,
		})
		s.mu.Unlock()
	}
}

func (s *MemoryStore) InsertPost(_ context.Context, author, content string, createdAt int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	id := s.nextID
	s.nextID++
	s.posts = append(s.posts, models.Post{ID: id, Author: author, Content: content, CreatedAt: createdAt})
	return id, nil
}

func (s *MemoryStore) GetPost(_ context.Context, id int64) (*models.PostView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for _, p := range s.posts {
		if p.ID == id {
			v := s.view(p)
			return &v, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) GetPostsByIDs(_ context.Context, ids []int64) ([]models.PostView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.GetByIDsCalls++
	if s.Err != nil {
		return nil, s.Err
	}
	want := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var out []models.PostView
	// ascending id order, like an unordered IN query usually comes back
	for _, p := range s.posts {
		if _, ok := want[p.ID]; ok {
			out = append(out, s.view(p))
		}
	}
	return out, nil
}

func (s *MemoryStore) ListRecent(_ context.Context, limit, offset int) ([]models.PostView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ListRecentCalls++
	if s.Err != nil {
		return nil, s.Err
	}
	sorted := s.newestFirst()
	return s.window(sorted, limit, offset), nil
}

func (s *MemoryStore) RecentTimeline(_ context.Context, limit int) ([]models.TimelineEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RecentTimelineCalls++
	if s.Err != nil {
		return nil, s.Err
	}
	var out []models.TimelineEntry
	for _, p := range s.window(s.newestFirst(), limit, 0) {
		out = append(out, models.TimelineEntry{ID: p.ID, CreatedAt: p.CreatedAt})
	}
	return out, nil
}

func (s *MemoryStore) GetAvatar(_ context.Context, username string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return "", s.Err
	}
	return s.avatarOf(username), nil
}

func (s *MemoryStore) CountPosts(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	return int64(len(s.posts)), nil
}

func (s *MemoryStore) UpdatePostContent(_ context.Context, id int64, content string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	for i := range s.posts {
		if s.posts[i].ID == id {
			s.posts[i].Content = content
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) DeletePost(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	for i := range s.posts {
		if s.posts[i].ID == id {
			s.posts = append(s.posts[:i], s.posts[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ListByAuthor(_ context.Context, author string, limit int) ([]models.PostView, error) {
	return s.filter(limit, func(p models.Post) bool { return p.Author == author })
}

func (s *MemoryStore) SearchPosts(_ context.Context, query string, limit int) ([]models.PostView, error) {
	return s.filter(limit, func(p models.Post) bool { return strings.Contains(p.Content, query) })
}

func (s *MemoryStore) filter(limit int, keep func(models.Post) bool) ([]models.PostView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []models.PostView
	for _, v := range s.newestFirst() {
		if keep(models.Post{ID: v.ID, Author: v.Author, Content: v.Content}) {
			out = append(out, v)
		}
	}
	return s.window(out, limit, 0), nil
}

func (s *MemoryStore) newestFirst() []models.PostView {
	out := make([]models.PostView, 0, len(s.posts))
	for _, p := range s.posts {
		out = append(out, s.view(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (s *MemoryStore) window(posts []models.PostView, limit, offset int) []models.PostView {
	if offset >= len(posts) {
		return []models.PostView{}
	}
	end := offset + limit
	if end > len(posts) {
		end = len(posts)
	}
	return append([]models.PostView{}, posts[offset:end]...)
}

func (s *MemoryStore) view(p models.Post) models.PostView {
	return models.PostView{
		ID:        p.ID,
		Author:    p.Author,
		Content:   p.Content,
		CreatedAt: p.CreatedAt,
		Avatar:    s.avatarOf(p.Author),
	}
}

func (s *MemoryStore) avatarOf(username string) string {
	if a, ok := s.avatars[username]; ok {
		return a
	}
	return models.DefaultAvatar
}
