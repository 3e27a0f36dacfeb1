// Package game wires sessions, scoring and the leaderboard into the operations clients call.
package game

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/victornm/xo/internal/board"
	"github.com/victornm/xo/internal/domain"
	"github.com/victornm/xo/internal/errors"
	"github.com/victornm/xo/internal/event"
	"github.com/victornm/xo/internal/leaderboard"
	"github.com/victornm/xo/internal/score"
	"github.com/victornm/xo/internal/session"
	"github.com/victornm/xo/internal/telemetry"
	"github.com/victornm/xo/internal/user"
)

type Config struct {
	EventBus    *event.Bus
	Metrics     *telemetry.Metrics
	Users       *user.Service
	Sessions    *session.Service
	Scores      *score.Service
	Leaderboard *leaderboard.Service
}

type Service struct {
	eb      *event.Bus
	metrics *telemetry.Metrics
	users   *user.Service
	ss      *session.Service
	scores  *score.Service
	lb      *leaderboard.Service
}

func NewService(c Config) *Service {
	return &Service{
		eb:      c.EventBus,
		metrics: c.Metrics,
		users:   c.Users,
		ss:      c.Sessions,
		scores:  c.Scores,
		lb:      c.Leaderboard,
	}
}

func (s *Service) RegisterUser(ctx context.Context, req user.RegisterRequest) (*domain.User, error) {
	return s.users.Register(ctx, req)
}

func (s *Service) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	return s.users.Get(ctx, id)
}

func (s *Service) FindUser(ctx context.Context, username string) (*domain.User, error) {
	return s.users.GetByUsername(ctx, username)
}

func (s *Service) CreateSession(ctx context.Context, req session.CreateSessionRequest) (*domain.Session, error) {
	ss, err := s.ss.CreateSession(ctx, req)
	if err != nil {
		return nil, err
	}

	s.publishSession(ctx, ss)
	return ss, nil
}

func (s *Service) GetSession(ctx context.Context, id int64) (*domain.Session, error) {
	return s.ss.GetSession(ctx, id)
}

type MakeMoveResponse struct {
	Session *domain.Session
	Outcome board.Outcome
	// Results is set when the move ended the game.
	Results []domain.GameResult
}

// MakeMove applies a move and, when it ends the game, scores the session before returning.
func (s *Service) MakeMove(ctx context.Context, req session.MakeMoveRequest) (*MakeMoveResponse, error) {
	res, err := s.ss.MakeMove(ctx, req)
	if err != nil {
		s.metrics.MoveRejected(string(errors.Convert(err).Reason))
		return nil, err
	}
	s.metrics.MoveAccepted()

	if err := s.users.Touch(ctx, req.PlayerID); err != nil {
		slog.WarnContext(ctx, "game: touch user failed", "user", req.PlayerID, "error", err)
	}

	s.publishSession(ctx, res.Session)

	resp := &MakeMoveResponse{
		Session: res.Session,
		Outcome: res.Outcome,
	}
	if !res.Outcome.Terminal() {
		return resp, nil
	}

	s.metrics.GameEnded(res.Session.Winner(), res.Session.Duration)

	applied, err := s.applyScore(ctx, res.Session)
	if err != nil {
		return nil, err
	}
	resp.Results = applied.Results

	return resp, nil
}

// ScoreSession scores a completed session. It is safe to call any number of times and
// recovers a game whose scoring failed after the final move was stored.
func (s *Service) ScoreSession(ctx context.Context, sessionID int64) (*score.ApplyResponse, error) {
	ss, err := s.ss.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return s.applyScore(ctx, ss)
}

func (s *Service) applyScore(ctx context.Context, ss *domain.Session) (*score.ApplyResponse, error) {
	applied, err := s.scores.Apply(ctx, ss)
	if err != nil {
		slog.ErrorContext(ctx, "game: score session failed", "session", ss.ID, "error", err)
		return nil, fmt.Errorf("score session %d: %w", ss.ID, err)
	}
	s.metrics.ScoringApplied(applied.Duplicate)

	return applied, nil
}

func (s *Service) ListScores(ctx context.Context, sessionID int64) ([]domain.GameResult, error) {
	if _, err := s.ss.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.scores.ListScores(ctx, sessionID)
}

// AbandonSession ends a session without a result. Abandoned sessions are never scored.
func (s *Service) AbandonSession(ctx context.Context, req session.AbandonSessionRequest) (*domain.Session, error) {
	ss, changed, err := s.ss.AbandonSession(ctx, req)
	if err != nil {
		return nil, err
	}

	if changed {
		s.metrics.GameEnded("abandoned", ss.Duration)
		s.publishSession(ctx, ss)
	}

	return ss, nil
}

func (s *Service) GetLeaderboard(ctx context.Context, req leaderboard.RankRequest) ([]domain.LeaderboardEntry, error) {
	return s.lb.Rank(ctx, req)
}

// GetLeaderboardEntry returns a user's standing without a rank. A user who has not finished a
// game yet gets an empty entry.
func (s *Service) GetLeaderboardEntry(ctx context.Context, userID int64) (*domain.LeaderboardEntry, error) {
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	e, err := s.lb.GetEntry(ctx, userID)
	if stderrors.Is(err, errors.ErrNotFound) {
		return &domain.LeaderboardEntry{
			UserID:    u.ID,
			Username:  u.Username,
			CreatedAt: u.CreatedAt,
			UpdatedAt: u.CreatedAt,
		}, nil
	}
	return e, err
}

func (s *Service) GetLeaderboardSummary(ctx context.Context) (domain.LeaderboardSummary, error) {
	return s.lb.Summary(ctx)
}

func (s *Service) GetGameStats(ctx context.Context) (domain.GameStats, error) {
	return s.lb.Stats(ctx)
}

func (s *Service) publishSession(ctx context.Context, ss *domain.Session) {
	s.eb.Publish(ctx, domain.EventSessionUpdated{
		Session: *ss.Clone(),
	})
}
