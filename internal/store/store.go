// Package store declares the repository contract shared by every storage backend.
// Services depend on narrower interfaces of their own; this one is the union a backend must satisfy.
package store

import (
	"context"
	"time"

	"github.com/victornm/xo/internal/domain"
)

// RecordFunc receives the entries of a game's players as they were before the game, updates them
// in place and returns the results to store under the session. Returning no results claims nothing.
type RecordFunc = func(entries map[int64]*domain.LeaderboardEntry) ([]domain.GameResult, error)

// Store is a keyed record store for users, sessions, scoring records and leaderboard entries.
//
// Implementations must guarantee:
//   - NextID is atomic across concurrent callers and never returns the same id twice.
//   - UpdateSession is a compare-and-swap on Session.Version.
//   - RecordGame accepts at most one set of results per session, and writes the results and
//     every entry it folded together or not at all.
//   - RecordGame serializes calls per user, not globally, and creates missing entries.
//
// Missing records are reported with errors.ErrNotFound, backend failures with errors.ErrStorageUnavailable.
type Store interface {
	NextID(ctx context.Context) (int64, error)

	CreateUser(ctx context.Context, u *domain.User) error
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	TouchUser(ctx context.Context, id int64, at time.Time) error
	CountUsers(ctx context.Context) (int64, error)

	CreateSession(ctx context.Context, ss *domain.Session) error
	GetSession(ctx context.Context, id int64) (*domain.Session, error)
	UpdateSession(ctx context.Context, ss *domain.Session) error
	CountSessions(ctx context.Context, statuses ...domain.Status) (int64, error)
	SessionStats(ctx context.Context) (domain.GameStats, error)

	ListResults(ctx context.Context, sessionID int64) ([]domain.GameResult, error)

	GetLeaderboardEntry(ctx context.Context, userID int64) (*domain.LeaderboardEntry, error)
	RecordGame(ctx context.Context, sessionID int64, userIDs []int64, fn RecordFunc) ([]domain.LeaderboardEntry, error)
	ListLeaderboard(ctx context.Context, q domain.LeaderboardQuery) ([]domain.LeaderboardEntry, error)
	SummarizeLeaderboard(ctx context.Context) (domain.LeaderboardSummary, error)

	Close() error
}
