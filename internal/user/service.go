package user

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/victornm/xo/internal/domain"
	"github.com/victornm/xo/internal/errors"
)

const maxUsernameLen = 32

type Store interface {
	NextID(ctx context.Context) (int64, error)
	CreateUser(ctx context.Context, u *domain.User) error
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	TouchUser(ctx context.Context, id int64, at time.Time) error
}

type Config struct {
	Store Store
	Now   func() time.Time
}

type Service struct {
	store Store
	now   func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		store: c.Store,
		now:   c.Now,
	}

	if s.now == nil {
		s.now = time.Now
	}

	return s
}

type RegisterRequest struct {
	Username string
	Email    string
}

// Register creates a user profile with empty statistics. Usernames are unique.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*domain.User, error) {
	username := strings.TrimSpace(req.Username)
	email := strings.TrimSpace(req.Email)

	switch {
	case username == "":
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("username is required"))
	case len(username) > maxUsernameLen:
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("username is longer than %d characters", maxUsernameLen))
	case !strings.Contains(email, "@"):
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid email: email=%s", email))
	}

	id, err := s.store.NextID(ctx)
	if err != nil {
		return nil, fmt.Errorf("allocate user id: %w", err)
	}

	now := s.now()
	u := &domain.User{
		ID:         id,
		Username:   username,
		Email:      email,
		CreatedAt:  now,
		UpdatedAt:  now,
		LastActive: now,
	}

	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	return u, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*domain.User, error) {
	return s.store.GetUser(ctx, id)
}

func (s *Service) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return s.store.GetUserByUsername(ctx, username)
}

// Touch records activity of a user.
func (s *Service) Touch(ctx context.Context, id int64) error {
	return s.store.TouchUser(ctx, id, s.now())
}
