package score

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/victornm/xo/internal/domain"
	"github.com/victornm/xo/internal/errors"
	"github.com/victornm/xo/internal/event"
)

// Store holds the scoring records. A session can be scored at most once.
type Store interface {
	ListResults(ctx context.Context, sessionID int64) ([]domain.GameResult, error)
}

// Recorder claims a session and folds its results into player statistics in one step.
// It reports an already scored session with errors.ErrDuplicateScoring.
type Recorder interface {
	RecordGame(ctx context.Context, sessionID int64, players []int64, score func(streaks map[int64]int64) []domain.GameResult) ([]domain.GameResult, error)
}

type Config struct {
	EventBus *event.Bus
	Store    Store
	Recorder Recorder
	Table    Table
	Now      func() time.Time
}

type Service struct {
	eb       *event.Bus
	store    Store
	recorder Recorder
	table    Table
	now      func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		eb:       c.EventBus,
		store:    c.Store,
		recorder: c.Recorder,
		table:    c.Table,
		now:      c.Now,
	}

	if s.now == nil {
		s.now = time.Now
	}

	return s
}

type ApplyResponse struct {
	Results []domain.GameResult
	// Duplicate is true when the session had already been scored and nothing was applied.
	Duplicate bool
}

// Apply scores a completed session and records the results on the leaderboard.
// Scoring the same session again is a no-op that returns the stored results.
func (s *Service) Apply(ctx context.Context, ss *domain.Session) (*ApplyResponse, error) {
	if ss.Status != domain.StatusCompleted {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("only completed sessions are scored: session=%d status=%s", ss.ID, ss.Status),
		)
	}

	prev, err := s.store.ListResults(ctx, ss.ID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	if len(prev) > 0 {
		return &ApplyResponse{Results: prev, Duplicate: true}, nil
	}

	now := s.now()
	players := []int64{ss.PlayerX.UserID, ss.PlayerO.UserID}
	results, err := s.recorder.RecordGame(ctx, ss.ID, players, func(streaks map[int64]int64) []domain.GameResult {
		return s.table.Calculate(ss, streaks, now)
	})
	if stderrors.Is(err, errors.ErrDuplicateScoring) {
		// Lost the race against a concurrent scorer of the same session.
		prev, err := s.store.ListResults(ctx, ss.ID)
		if err != nil {
			return nil, fmt.Errorf("list results: %w", err)
		}
		return &ApplyResponse{Results: prev, Duplicate: true}, nil
	}
	if err != nil {
		slog.ErrorContext(ctx, "score: record game failed, the session is left unscored",
			"session", ss.ID,
			"error", err,
		)
		return nil, err
	}

	s.eb.Publish(ctx, domain.EventScoreApplied{
		Results: results,
	})

	return &ApplyResponse{Results: results}, nil
}

// ListScores returns the scoring records of a session, empty if it was never scored.
func (s *Service) ListScores(ctx context.Context, sessionID int64) ([]domain.GameResult, error) {
	return s.store.ListResults(ctx, sessionID)
}
