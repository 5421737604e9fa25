package seed

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/roary/feed/internal/feed/feedtest"
	"github.com/roary/feed/internal/models"
)

type fakeUsers struct {
	created map[string]string
	err     error
}

func (f *fakeUsers) Ensure(_ context.Context, username, avatar string) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	if _, ok := f.created[username]; !ok {
		f.created[username] = avatar
	}
	return &models.User{Username: username, Avatar: f.created[username]}, nil
}

func newSeeder(store *feedtest.MemoryStore, users *fakeUsers) *Seeder {
	s := New(store, users, rand.New(rand.NewSource(42)), zap.NewNop())
	s.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return s
}

func TestSeeder_Run(t *testing.T) {
	store := feedtest.NewMemoryStore()
	users := &fakeUsers{created: make(map[string]string)}
	s := newSeeder(store, users)
	ctx := context.Background()

	n, err := s.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if n != len(Messages) {
		t.Errorf("Run() = %d, want %d", n, len(Messages))
	}
	if len(users.created) != len(Users) {
		t.Errorf("created %d users, want %d", len(users.created), len(Users))
	}

	posts, _ := store.ListRecent(ctx, 100, 0)
	if len(posts) != len(Messages) {
		t.Fatalf("store has %d posts, want %d", len(posts), len(Messages))
	}
	now := int64(1_700_000_000)
	for _, p := range posts {
		if p.CreatedAt < now-int64(window.Seconds()) || p.CreatedAt > now-int64(spacing.Seconds()) {
			t.Errorf("post %d created_at %d outside the last day", p.ID, p.CreatedAt)
		}
		if _, ok := users.created[p.Author]; !ok {
			t.Errorf("post %d written by unknown user %q", p.ID, p.Author)
		}
	}
}

func TestSeeder_SkipsNonEmptyStore(t *testing.T) {
	store := feedtest.NewMemoryStore()
	store.Seed(1, "someone", 0)
	users := &fakeUsers{created: make(map[string]string)}

	n, err := newSeeder(store, users).Run(context.Background())
	if err != nil || n != 0 {
		t.Errorf("Run() = %d, %v; want 0, nil", n, err)
	}
	if len(users.created) != 0 {
		t.Error("no users should be created when the store has posts")
	}
}

func TestSeeder_Errors(t *testing.T) {
	failing := feedtest.NewMemoryStore()
	failing.Err = errors.New("locked")
	if _, err := newSeeder(failing, &fakeUsers{created: map[string]string{}}).Run(context.Background()); err == nil {
		t.Error("Run() should fail when the store cannot be read")
	}

	users := &fakeUsers{created: map[string]string{}, err: errors.New("unique violation")}
	if _, err := newSeeder(feedtest.NewMemoryStore(), users).Run(context.Background()); err == nil {
		t.Error("Run() should fail when a user cannot be created")
	}
}
