package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/victornm/xo/internal/board"
	"github.com/victornm/xo/internal/domain"
	"github.com/victornm/xo/internal/errors"
)

const defaultMaxAttempts = 3

// Store is the part of the repository the session service needs.
type Store interface {
	NextID(ctx context.Context) (int64, error)
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	CreateSession(ctx context.Context, ss *domain.Session) error
	GetSession(ctx context.Context, id int64) (*domain.Session, error)
	// UpdateSession writes ss only if the stored version still equals ss.Version,
	// then bumps ss.Version. Otherwise it fails with a concurrency conflict.
	UpdateSession(ctx context.Context, ss *domain.Session) error
}

type Config struct {
	Store Store
	// MaxAttempts bounds how many times a write that lost a race is retried.
	MaxAttempts int
	Now         func() time.Time
}

type Service struct {
	store       Store
	maxAttempts int
	now         func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		store:       c.Store,
		maxAttempts: c.MaxAttempts,
		now:         c.Now,
	}

	if s.maxAttempts <= 0 {
		s.maxAttempts = defaultMaxAttempts
	}
	if s.now == nil {
		s.now = time.Now
	}

	return s
}

// CreateSessionRequest represents a request to start a match between two users.
type CreateSessionRequest struct {
	PlayerXID int64
	PlayerOID int64
}

// CreateSession creates a new session in the waiting state.
func (s *Service) CreateSession(ctx context.Context, req CreateSessionRequest) (*domain.Session, error) {
	if req.PlayerXID == req.PlayerOID {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithReason(errors.ReasonInvalidParticipants),
			errors.WithMessagef("a player cannot play against themselves: player=%d", req.PlayerXID),
		)
	}

	px, err := s.resolvePlayer(ctx, req.PlayerXID)
	if err != nil {
		return nil, err
	}

	po, err := s.resolvePlayer(ctx, req.PlayerOID)
	if err != nil {
		return nil, err
	}

	id, err := s.store.NextID(ctx)
	if err != nil {
		return nil, fmt.Errorf("allocate session id: %w", err)
	}

	ss := New(id, px.Ref(), po.Ref(), s.now())
	if err := s.store.CreateSession(ctx, ss); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	return ss, nil
}

func (s *Service) resolvePlayer(ctx context.Context, id int64) (*domain.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if stderrors.Is(err, errors.ErrNotFound) {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithReason(errors.ReasonInvalidParticipants),
			errors.WithMessagef("unknown player: user=%d", id),
			errors.WithCause(err),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("get player %d: %w", id, err)
	}

	return u, nil
}

// GetSession returns the session or a not found error.
func (s *Service) GetSession(ctx context.Context, id int64) (*domain.Session, error) {
	return s.store.GetSession(ctx, id)
}

type MakeMoveRequest struct {
	SessionID int64
	PlayerID  int64
	Cell      int
}

type MakeMoveResponse struct {
	Session *domain.Session
	// Outcome is terminal when this move finished the game.
	Outcome board.Outcome
}

// MakeMove applies a move with an optimistic write. If another writer got there first the
// session is re-read and the move re-validated against the new state.
func (s *Service) MakeMove(ctx context.Context, req MakeMoveRequest) (*MakeMoveResponse, error) {
	var res *MakeMoveResponse
	err := s.update(ctx, req.SessionID, func(ss *domain.Session) (bool, error) {
		outcome, err := Apply(ss, req.PlayerID, req.Cell, s.now())
		if err != nil {
			return false, err
		}
		res = &MakeMoveResponse{Session: ss, Outcome: outcome}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

type AbandonSessionRequest struct {
	SessionID int64
	Reason    string
}

// AbandonSession forces the session into abandoned. Abandoning twice is not an error.
// Changed is false when the session was already abandoned.
func (s *Service) AbandonSession(ctx context.Context, req AbandonSessionRequest) (ss *domain.Session, changed bool, err error) {
	err = s.update(ctx, req.SessionID, func(cur *domain.Session) (bool, error) {
		ss = cur
		changed, err = Abandon(cur, req.Reason, s.now())
		return changed, err
	})
	if err != nil {
		return nil, false, err
	}

	return ss, changed, nil
}

// update runs a transition on a copy of the stored session and writes it back when fn reports a change.
func (s *Service) update(ctx context.Context, id int64, fn func(ss *domain.Session) (bool, error)) error {
	for attempt := 1; ; attempt++ {
		cur, err := s.store.GetSession(ctx, id)
		if err != nil {
			return err
		}

		next := cur.Clone()
		changed, err := fn(next)
		if err != nil || !changed {
			return err
		}

		err = s.store.UpdateSession(ctx, next)
		if err == nil {
			return nil
		}

		if !stderrors.Is(err, errors.ErrConcurrencyConflict) || attempt >= s.maxAttempts {
			return err
		}

		slog.WarnContext(ctx, "session: write conflict, retrying",
			"session", id,
			"attempt", attempt,
		)
	}
}
