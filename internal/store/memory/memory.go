// Package memory is an in-process implementation of the repository, used for local runs and tests.
package memory

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/victornm/xo/internal/domain"
	"github.com/victornm/xo/internal/errors"
	"github.com/victornm/xo/internal/lock"
	"github.com/victornm/xo/internal/store"
)

// Store keeps every record in maps guarded by a single RWMutex. Scoring a game holds the keyed
// locks of its players so the fold itself runs outside the global mutex.
type Store struct {
	seq atomic.Int64

	mu        sync.RWMutex
	users     map[int64]domain.User
	usernames map[string]int64
	sessions  map[int64]*domain.Session
	results   map[int64][]domain.GameResult
	entries   map[int64]domain.LeaderboardEntry

	userLocks *lock.Keyed[int64]
}

func New() *Store {
	return &Store{
		users:     make(map[int64]domain.User),
		usernames: make(map[string]int64),
		sessions:  make(map[int64]*domain.Session),
		results:   make(map[int64][]domain.GameResult),
		entries:   make(map[int64]domain.LeaderboardEntry),
		userLocks: lock.NewKeyed[int64](),
	}
}

func (s *Store) NextID(_ context.Context) (int64, error) {
	return s.seq.Add(1), nil
}

func (s *Store) CreateUser(_ context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.usernames[u.Username]; ok {
		return errors.New(errors.CodeAlreadyExists, errors.WithMessagef("username is taken: username=%s", u.Username))
	}
	if _, ok := s.users[u.ID]; ok {
		return errors.New(errors.CodeAlreadyExists, errors.WithMessagef("user already exists: id=%d", u.ID))
	}

	s.users[u.ID] = *u
	s.usernames[u.Username] = u.ID
	return nil
}

func (s *Store) GetUser(_ context.Context, id int64) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, errors.NotFound("user", id)
	}
	return &u, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usernames[username]
	if !ok {
		return nil, errors.NotFound("user", username)
	}
	u := s.users[id]
	return &u, nil
}

func (s *Store) TouchUser(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return errors.NotFound("user", id)
	}
	u.LastActive = at
	s.users[id] = u
	return nil
}

func (s *Store) CountUsers(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.users)), nil
}

func (s *Store) CreateSession(_ context.Context, ss *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[ss.ID]; ok {
		return errors.New(errors.CodeAlreadyExists, errors.WithMessagef("session already exists: id=%d", ss.ID))
	}

	s.sessions[ss.ID] = ss.Clone()
	return nil
}

func (s *Store) GetSession(_ context.Context, id int64) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ss, ok := s.sessions[id]
	if !ok {
		return nil, errors.NotFound("session", id)
	}
	return ss.Clone(), nil
}

func (s *Store) UpdateSession(_ context.Context, ss *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.sessions[ss.ID]
	if !ok {
		return errors.NotFound("session", ss.ID)
	}

	if cur.Version != ss.Version {
		return errors.New(errors.CodeAborted,
			errors.WithReason(errors.ReasonConcurrencyConflict),
			errors.WithMessagef("session was modified concurrently: session=%d expected_version=%d actual_version=%d", ss.ID, ss.Version, cur.Version),
		)
	}

	ss.Version++
	s.sessions[ss.ID] = ss.Clone()
	return nil
}

func (s *Store) CountSessions(_ context.Context, statuses ...domain.Status) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, ss := range s.sessions {
		if len(statuses) == 0 || slices.Contains(statuses, ss.Status) {
			n++
		}
	}
	return n, nil
}

func (s *Store) SessionStats(_ context.Context) (domain.GameStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := domain.GameStats{
		TotalGames: int64(len(s.sessions)),
		TotalUsers: int64(len(s.users)),
	}

	var total time.Duration
	for _, ss := range s.sessions {
		switch ss.Status {
		case domain.StatusWaiting, domain.StatusInProgress:
			st.ActiveGames++
		case domain.StatusAbandoned:
			st.AbandonedGames++
		case domain.StatusCompleted:
			st.CompletedGames++
			total += ss.Duration
			switch ss.Winner() {
			case "X":
				st.WinDistribution.X++
			case "O":
				st.WinDistribution.O++
			case domain.WinnerDraw:
				st.WinDistribution.Draw++
			}
		}
	}

	if st.CompletedGames > 0 {
		st.AverageGameDuration = decimal.NewFromFloat(total.Seconds()).
			Div(decimal.NewFromInt(st.CompletedGames)).
			Round(2)
	}

	return st, nil
}

func (s *Store) ListResults(_ context.Context, sessionID int64) ([]domain.GameResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.results[sessionID]), nil
}

func (s *Store) GetLeaderboardEntry(_ context.Context, userID int64) (*domain.LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[userID]
	if !ok {
		return nil, errors.NotFound("leaderboard entry", userID)
	}
	return &e, nil
}

// RecordGame folds into copies of the entries and swaps them in with the results only once fn
// succeeds, so a failure leaves neither a claim nor a partial fold behind.
func (s *Store) RecordGame(ctx context.Context, sessionID int64, userIDs []int64, fn store.RecordFunc) ([]domain.LeaderboardEntry, error) {
	unlock, err := s.userLocks.LockAll(ctx, userIDs...)
	if err != nil {
		return nil, err
	}
	defer unlock()

	entries, err := s.loadEntries(sessionID, userIDs)
	if err != nil {
		return nil, err
	}

	results, err := fn(entries)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(results) > 0 {
		if _, ok := s.results[sessionID]; ok {
			return nil, duplicateScoring(sessionID)
		}
		s.results[sessionID] = slices.Clone(results)
	}

	out := make([]domain.LeaderboardEntry, 0, len(userIDs))
	for _, id := range userIDs {
		e := *entries[id]
		s.entries[id] = e

		u := s.users[id]
		u.Stats = e.Stats
		u.UpdatedAt = e.UpdatedAt
		s.users[id] = u

		out = append(out, e)
	}

	return out, nil
}

func (s *Store) loadEntries(sessionID int64, userIDs []int64) (map[int64]*domain.LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.results[sessionID]; ok {
		return nil, duplicateScoring(sessionID)
	}

	entries := make(map[int64]*domain.LeaderboardEntry, len(userIDs))
	for _, id := range userIDs {
		u, ok := s.users[id]
		if !ok {
			return nil, errors.NotFound("user", id)
		}

		e, ok := s.entries[id]
		if !ok {
			e = domain.LeaderboardEntry{
				UserID:    u.ID,
				Username:  u.Username,
				CreatedAt: u.CreatedAt,
			}
		}
		entries[id] = &e
	}

	return entries, nil
}

func duplicateScoring(sessionID int64) error {
	return errors.New(errors.CodeAlreadyExists,
		errors.WithReason(errors.ReasonDuplicateScoring),
		errors.WithMessagef("session is already scored: session=%d", sessionID),
	)
}

func (s *Store) ListLeaderboard(_ context.Context, q domain.LeaderboardQuery) ([]domain.LeaderboardEntry, error) {
	all := s.sortedEntries(q.SortBy)

	if q.Offset >= len(all) {
		return []domain.LeaderboardEntry{}, nil
	}
	end := len(all)
	if q.Limit > 0 && q.Offset+q.Limit < end {
		end = q.Offset + q.Limit
	}

	return all[q.Offset:end], nil
}

func (s *Store) sortedEntries(by domain.SortBy) []domain.LeaderboardEntry {
	s.mu.RLock()
	all := make([]domain.LeaderboardEntry, 0, len(s.entries))
	for _, e := range s.entries {
		all = append(all, e)
	}
	s.mu.RUnlock()

	slices.SortFunc(all, func(a, b domain.LeaderboardEntry) int {
		return domain.CompareEntries(&a, &b, by)
	})
	return all
}

func (s *Store) SummarizeLeaderboard(ctx context.Context) (domain.LeaderboardSummary, error) {
	all := s.sortedEntries(domain.SortByTotalScore)

	completed, err := s.CountSessions(ctx, domain.StatusCompleted)
	if err != nil {
		return domain.LeaderboardSummary{}, err
	}

	sum := domain.LeaderboardSummary{
		TotalPlayers: int64(len(all)),
		TotalGames:   completed,
	}
	if len(all) == 0 {
		return sum, nil
	}

	top := all[0]
	sum.TopPlayer = &top

	rates := decimal.Zero
	active := all[0]
	for _, e := range all {
		rates = rates.Add(e.WinRate)
		if e.GamesPlayed > active.GamesPlayed {
			active = e
		}
	}
	sum.MostActivePlayer = &active
	sum.AverageWinRate = rates.Div(decimal.NewFromInt(int64(len(all)))).Round(2)

	return sum, nil
}

func (s *Store) Close() error {
	return nil
}
