package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/victornm/xo/internal/domain"
	"github.com/victornm/xo/internal/errors"
	"github.com/victornm/xo/internal/event"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

type Store interface {
	GetLeaderboardEntry(ctx context.Context, userID int64) (*domain.LeaderboardEntry, error)
	// RecordGame runs fn on the players' entries while holding their locks, then stores the
	// results fn returns together with the entries. Nothing is written when fn fails.
	RecordGame(ctx context.Context, sessionID int64, userIDs []int64, fn func(entries map[int64]*domain.LeaderboardEntry) ([]domain.GameResult, error)) ([]domain.LeaderboardEntry, error)
	ListLeaderboard(ctx context.Context, q domain.LeaderboardQuery) ([]domain.LeaderboardEntry, error)
	SummarizeLeaderboard(ctx context.Context) (domain.LeaderboardSummary, error)
	SessionStats(ctx context.Context) (domain.GameStats, error)
}

type Config struct {
	EventBus *event.Bus
	Store    Store
	Now      func() time.Time
}

type Service struct {
	eb    *event.Bus
	store Store
	now   func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		eb:    c.EventBus,
		store: c.Store,
		now:   c.Now,
	}

	if s.now == nil {
		s.now = time.Now
	}

	return s
}

// RecordGame scores a session and folds the results into its players' entries in one step of the
// store. score receives each player's win streak before the game. A session that was already
// scored is reported with errors.ErrDuplicateScoring and leaves every entry as it was.
func (s *Service) RecordGame(ctx context.Context, sessionID int64, players []int64, score func(streaks map[int64]int64) []domain.GameResult) ([]domain.GameResult, error) {
	now := s.now()

	var results []domain.GameResult
	entries, err := s.store.RecordGame(ctx, sessionID, players, func(entries map[int64]*domain.LeaderboardEntry) ([]domain.GameResult, error) {
		streaks := make(map[int64]int64, len(entries))
		for id, e := range entries {
			streaks[id] = e.CurrentWinStreak
		}

		results = score(streaks)
		for _, r := range results {
			e, ok := entries[r.PlayerID]
			if !ok {
				return nil, errors.Internal(fmt.Errorf("result for a player outside the game: session=%d user=%d", sessionID, r.PlayerID))
			}
			Fold(e, r, now)
		}
		return results, nil
	})
	if err != nil {
		return nil, fmt.Errorf("record game: session=%d: %w", sessionID, err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Entries: entries,
	})

	return results, nil
}

type RankRequest struct {
	Limit  int
	Offset int
	SortBy string
}

// PageSize is the limit Rank applies: zero means DefaultLimit and anything above MaxLimit is capped.
func (r RankRequest) PageSize() int {
	if r.Limit == 0 {
		return DefaultLimit
	}
	return min(r.Limit, MaxLimit)
}

// Rank returns one page of the ranked leaderboard. Ranks are 1-based and global,
// so the first entry of a page at offset k has rank k+1.
func (s *Service) Rank(ctx context.Context, req RankRequest) ([]domain.LeaderboardEntry, error) {
	if req.Offset < 0 {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("offset must not be negative: offset=%d", req.Offset))
	}
	if req.Limit < 0 {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("limit must not be negative: limit=%d", req.Limit))
	}

	by, ok := domain.ParseSortBy(req.SortBy)
	if !ok {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("unknown sort key: sort_by=%s", req.SortBy))
	}

	entries, err := s.store.ListLeaderboard(ctx, domain.LeaderboardQuery{
		Limit:  req.PageSize(),
		Offset: req.Offset,
		SortBy: by,
	})
	if err != nil {
		return nil, fmt.Errorf("list leaderboard: %w", err)
	}

	for i := range entries {
		entries[i].Rank = req.Offset + i + 1
	}

	return entries, nil
}

// GetEntry returns a single user's entry without a rank.
func (s *Service) GetEntry(ctx context.Context, userID int64) (*domain.LeaderboardEntry, error) {
	return s.store.GetLeaderboardEntry(ctx, userID)
}

func (s *Service) Summary(ctx context.Context) (domain.LeaderboardSummary, error) {
	sum, err := s.store.SummarizeLeaderboard(ctx)
	if err != nil {
		return domain.LeaderboardSummary{}, fmt.Errorf("summarize leaderboard: %w", err)
	}
	if sum.TopPlayer != nil {
		sum.TopPlayer.Rank = 1
	}
	return sum, nil
}

func (s *Service) Stats(ctx context.Context) (domain.GameStats, error) {
	st, err := s.store.SessionStats(ctx)
	if err != nil {
		return domain.GameStats{}, fmt.Errorf("session stats: %w", err)
	}
	return st, nil
}
