// Package storetest is a conformance suite every store backend must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/xo/internal/board"
	"github.com/victornm/xo/internal/domain"
	"github.com/victornm/xo/internal/errors"
	"github.com/victornm/xo/internal/store"
)

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// Run runs the suite. newStore must return an empty store for every call.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	tests := map[string]func(t *testing.T, s store.Store){
		"ids":          testNextID,
		"users":        testUsers,
		"sessions":     testSessions,
		"optimistic":   testUpdateSessionConflict,
		"stats":        testSessionStats,
		"results":      testResults,
		"record game":  testRecordGame,
		"leaderboard":  testLeaderboard,
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tc(t, s)
		})
	}
}

func testNextID(t *testing.T, s store.Store) {
	ctx := context.Background()

	const n = 50
	var (
		mu  sync.Mutex
		ids = make(map[int64]struct{}, n)
		wg  sync.WaitGroup
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := s.NextID(ctx)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			ids[id] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, ids, n, "ids must never repeat")
}

func testUsers(t *testing.T, s store.Store) {
	ctx := context.Background()

	u := createUser(t, s, "alice", epoch)

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Username, got.Username)
	assert.Equal(t, u.Email, got.Email)
	assert.True(t, u.CreatedAt.Equal(got.CreatedAt))

	byName, err := s.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byName.ID)

	dup := *u
	dup.ID, err = s.NextID(ctx)
	require.NoError(t, err)
	err = s.CreateUser(ctx, &dup)
	assert.Equal(t, errors.CodeAlreadyExists, errors.Convert(err).Code, "duplicate username: %v", err)

	require.NoError(t, s.TouchUser(ctx, u.ID, epoch.Add(time.Hour)))
	got, err = s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, epoch.Add(time.Hour).Equal(got.LastActive))

	_, err = s.GetUser(ctx, u.ID+1000)
	assert.ErrorIs(t, err, errors.ErrNotFound)
	_, err = s.GetUserByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, errors.ErrNotFound)
	assert.ErrorIs(t, s.TouchUser(ctx, u.ID+1000, epoch), errors.ErrNotFound)

	n, err := s.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func testSessions(t *testing.T, s store.Store) {
	ctx := context.Background()

	ss := newSession(t, s)
	require.NoError(t, s.CreateSession(ctx, ss))

	got, err := s.GetSession(ctx, ss.ID)
	require.NoError(t, err)
	assert.Equal(t, ss, got)

	// X wins on the main diagonal.
	cells := []int{0, 1, 4, 2, 8}
	for i, c := range cells {
		m := board.X
		if i%2 == 1 {
			m = board.O
		}
		got.Moves = append(got.Moves, domain.Move{
			PlayerID:   got.Player(m).UserID,
			Mark:       m,
			Cell:       c,
			Timestamp:  epoch.Add(time.Duration(i+1) * time.Second),
			MoveNumber: i + 1,
		})
		got.Board = board.Apply(got.Board, c, m)
	}
	got.Status = domain.StatusCompleted
	got.Outcome = board.DetectOutcome(got.Board)
	got.CompletedAt = epoch.Add(5 * time.Second)
	got.Duration = 5 * time.Second
	got.UpdatedAt = got.CompletedAt

	require.NoError(t, s.UpdateSession(ctx, got))
	assert.Equal(t, int64(1), got.Version)

	stored, err := s.GetSession(ctx, ss.ID)
	require.NoError(t, err)
	assert.Equal(t, got, stored)
	assert.Equal(t, board.Win{Mark: board.X, Line: board.Line{0, 4, 8}}, stored.Outcome)

	_, err = s.GetSession(ctx, ss.ID+1000)
	assert.ErrorIs(t, err, errors.ErrNotFound)

	missing := stored.Clone()
	missing.ID += 1000
	assert.ErrorIs(t, s.UpdateSession(ctx, missing), errors.ErrNotFound)
}

func testUpdateSessionConflict(t *testing.T, s store.Store) {
	ctx := context.Background()

	ss := newSession(t, s)
	require.NoError(t, s.CreateSession(ctx, ss))

	a, err := s.GetSession(ctx, ss.ID)
	require.NoError(t, err)
	b, err := s.GetSession(ctx, ss.ID)
	require.NoError(t, err)

	a.Status = domain.StatusAbandoned
	require.NoError(t, s.UpdateSession(ctx, a))

	b.AbandonReason = "stale"
	err = s.UpdateSession(ctx, b)
	assert.ErrorIs(t, err, errors.ErrConcurrencyConflict)
	assert.ErrorContains(t, err, "expected_version=0 actual_version=1")

	stored, err := s.GetSession(ctx, ss.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAbandoned, stored.Status)
	assert.Empty(t, stored.AbandonReason)
}

func testSessionStats(t *testing.T, s store.Store) {
	ctx := context.Background()

	finish := func(outcome board.Outcome, d time.Duration) {
		ss := newSession(t, s)
		ss.Status = domain.StatusCompleted
		ss.Outcome = outcome
		ss.CompletedAt = epoch.Add(d)
		ss.Duration = d
		require.NoError(t, s.CreateSession(ctx, ss))
	}

	finish(board.Win{Mark: board.X, Line: board.Line{0, 1, 2}}, 10*time.Second)
	finish(board.Win{Mark: board.O, Line: board.Line{2, 4, 6}}, 20*time.Second)
	finish(board.Draw{}, 40*time.Second)

	waiting := newSession(t, s)
	require.NoError(t, s.CreateSession(ctx, waiting))

	abandoned := newSession(t, s)
	abandoned.Status = domain.StatusAbandoned
	require.NoError(t, s.CreateSession(ctx, abandoned))

	st, err := s.SessionStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), st.TotalGames)
	assert.Equal(t, int64(1), st.ActiveGames)
	assert.Equal(t, int64(3), st.CompletedGames)
	assert.Equal(t, int64(1), st.AbandonedGames)
	assert.Equal(t, domain.WinDistribution{X: 1, O: 1, Draw: 1}, st.WinDistribution)
	assert.Equal(t, "23.33", st.AverageGameDuration.StringFixed(2))
	assert.Equal(t, int64(10), st.TotalUsers, "newSession registers two users each")

	n, err := s.CountSessions(ctx, domain.StatusWaiting, domain.StatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.CountSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func testResults(t *testing.T, s store.Store) {
	ctx := context.Background()

	ss := newSession(t, s)
	require.NoError(t, s.CreateSession(ctx, ss))
	players := []int64{ss.PlayerX.UserID, ss.PlayerO.UserID}

	results := []domain.GameResult{
		{
			SessionID: ss.ID, PlayerID: ss.PlayerX.UserID, Username: ss.PlayerX.Username, Result: domain.ResultWin,
			Score:    domain.ScoreBreakdown{Base: 10, Win: 50, Speed: 25, Streak: 5, Total: 90},
			Duration: 12 * time.Second, MovesCount: 5, CreatedAt: epoch,
		},
		{
			SessionID: ss.ID, PlayerID: ss.PlayerO.UserID, Username: ss.PlayerO.Username, Result: domain.ResultLoss,
			Score:    domain.ScoreBreakdown{Base: 10, Total: 10},
			Duration: 12 * time.Second, MovesCount: 5, CreatedAt: epoch,
		},
	}
	record := func(entries map[int64]*domain.LeaderboardEntry) ([]domain.GameResult, error) {
		for _, r := range results {
			e := entries[r.PlayerID]
			e.GamesPlayed++
			e.TotalScore += r.Score.Total
			e.UpdatedAt = epoch
		}
		return results, nil
	}

	got, err := s.ListResults(ctx, ss.ID)
	require.NoError(t, err)
	assert.Empty(t, got)

	entries, err := s.RecordGame(ctx, ss.ID, players, record)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ss.PlayerX.UserID, entries[0].UserID, "entries come back in the order asked for")
	assert.Equal(t, int64(90), entries[0].TotalScore)
	assert.Equal(t, int64(10), entries[1].TotalScore)

	var called bool
	_, err = s.RecordGame(ctx, ss.ID, players, func(entries map[int64]*domain.LeaderboardEntry) ([]domain.GameResult, error) {
		called = true
		return record(entries)
	})
	assert.ErrorIs(t, err, errors.ErrDuplicateScoring)
	assert.False(t, called, "a scored session is not folded again")

	got, err = s.ListResults(ctx, ss.ID)
	require.NoError(t, err)
	assert.Equal(t, results, got)

	e, err := s.GetLeaderboardEntry(ctx, ss.PlayerX.UserID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.GamesPlayed)
	assert.Equal(t, int64(90), e.TotalScore)
}

func testRecordGame(t *testing.T, s store.Store) {
	ctx := context.Background()

	u := createUser(t, s, "bob", epoch)
	v := createUser(t, s, "val", epoch.Add(time.Minute))

	_, err := s.GetLeaderboardEntry(ctx, u.ID)
	assert.ErrorIs(t, err, errors.ErrNotFound)

	const n = 20
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()

			// Half of the callers name the players the other way round.
			players := []int64{u.ID, v.ID}
			if i%2 == 1 {
				players = []int64{v.ID, u.ID}
			}

			_, err := s.RecordGame(ctx, 0, players, func(entries map[int64]*domain.LeaderboardEntry) ([]domain.GameResult, error) {
				w := entries[u.ID]
				w.GamesPlayed++
				w.GamesWon++
				w.TotalScore += 60
				w.WinRate = decimal.NewFromInt(100)
				w.UpdatedAt = epoch

				l := entries[v.ID]
				l.GamesPlayed++
				l.GamesLost++
				l.TotalScore += 10
				l.UpdatedAt = epoch
				return nil, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	e, err := s.GetLeaderboardEntry(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(n), e.GamesPlayed, "no fold may be lost")
	assert.Equal(t, int64(n*60), e.TotalScore)
	assert.Equal(t, "bob", e.Username)
	assert.True(t, u.CreatedAt.Equal(e.CreatedAt), "the entry keeps the registration time")

	e, err = s.GetLeaderboardEntry(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(n), e.GamesLost)

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(n), got.Stats.GamesWon, "counters are mirrored on the profile")
	assert.True(t, decimal.NewFromInt(100).Equal(got.Stats.WinRate))

	ss := newSession(t, s)
	require.NoError(t, s.CreateSession(ctx, ss))
	players := []int64{ss.PlayerX.UserID, ss.PlayerO.UserID}

	failing := fmt.Errorf("fold failed")
	_, err = s.RecordGame(ctx, ss.ID, players, func(entries map[int64]*domain.LeaderboardEntry) ([]domain.GameResult, error) {
		entries[ss.PlayerX.UserID].GamesPlayed = 1000
		return []domain.GameResult{{SessionID: ss.ID, PlayerID: ss.PlayerX.UserID, Result: domain.ResultWin}}, failing
	})
	assert.ErrorIs(t, err, failing)

	_, err = s.GetLeaderboardEntry(ctx, ss.PlayerX.UserID)
	assert.ErrorIs(t, err, errors.ErrNotFound, "a failed fold writes no entry")

	results, err := s.ListResults(ctx, ss.ID)
	require.NoError(t, err)
	assert.Empty(t, results, "a failed fold leaves the session unclaimed")

	_, err = s.RecordGame(ctx, ss.ID, players, func(entries map[int64]*domain.LeaderboardEntry) ([]domain.GameResult, error) {
		entries[ss.PlayerX.UserID].GamesPlayed++
		entries[ss.PlayerO.UserID].GamesPlayed++
		return []domain.GameResult{
			{SessionID: ss.ID, PlayerID: ss.PlayerX.UserID, Username: ss.PlayerX.Username, Result: domain.ResultDraw, CreatedAt: epoch},
			{SessionID: ss.ID, PlayerID: ss.PlayerO.UserID, Username: ss.PlayerO.Username, Result: domain.ResultDraw, CreatedAt: epoch},
		}, nil
	})
	require.NoError(t, err, "the session can be scored once the failure is gone")

	e, err = s.GetLeaderboardEntry(ctx, ss.PlayerO.UserID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.GamesPlayed)

	_, err = s.RecordGame(ctx, 0, []int64{u.ID, u.ID + 1000}, func(map[int64]*domain.LeaderboardEntry) ([]domain.GameResult, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, errors.ErrNotFound)

	e, err = s.GetLeaderboardEntry(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(n), e.GamesPlayed, "an unknown player fails the whole call")
}

func testLeaderboard(t *testing.T, s store.Store) {
	ctx := context.Background()

	type seed struct {
		name   string
		score  int64
		won    int64
		played int64
		streak int64
	}
	seeds := []seed{
		{name: "carol", score: 100, won: 1, played: 2, streak: 1},
		{name: "dave", score: 100, won: 2, played: 2, streak: 2},
		{name: "erin", score: 300, won: 3, played: 6, streak: 3},
		{name: "frank", score: 100, won: 1, played: 2, streak: 1},
		{name: "grace", score: 50, won: 4, played: 9, streak: 4},
	}
	for i, sd := range seeds {
		u := createUser(t, s, sd.name, epoch.Add(time.Duration(i)*time.Minute))
		setStats(t, s, u.ID, func(e *domain.LeaderboardEntry) {
			e.TotalScore = sd.score
			e.GamesWon = sd.won
			e.GamesPlayed = sd.played
			e.GamesLost = sd.played - sd.won
			e.WinRate = decimal.NewFromInt(sd.won * 100).Div(decimal.NewFromInt(sd.played)).Round(2)
			e.LongestWinStreak = sd.streak
			e.CurrentWinStreak = sd.streak
			e.UpdatedAt = epoch
		})
	}

	names := func(es []domain.LeaderboardEntry) []string {
		out := make([]string, 0, len(es))
		for _, e := range es {
			out = append(out, e.Username)
		}
		return out
	}

	tests := map[string]struct {
		q    domain.LeaderboardQuery
		want []string
	}{
		"total score with tie breaks": {
			q:    domain.LeaderboardQuery{SortBy: domain.SortByTotalScore},
			want: []string{"erin", "dave", "carol", "frank", "grace"},
		},
		"a page": {
			q:    domain.LeaderboardQuery{SortBy: domain.SortByTotalScore, Limit: 2, Offset: 1},
			want: []string{"dave", "carol"},
		},
		"win rate first": {
			q:    domain.LeaderboardQuery{SortBy: domain.SortByWinRate},
			want: []string{"dave", "erin", "carol", "frank", "grace"},
		},
		"games won first": {
			q:    domain.LeaderboardQuery{SortBy: domain.SortByGamesWon},
			want: []string{"grace", "erin", "dave", "carol", "frank"},
		},
		"longest streak first": {
			q:    domain.LeaderboardQuery{SortBy: domain.SortByWinStreak},
			want: []string{"grace", "erin", "dave", "carol", "frank"},
		},
		"past the end": {
			q:    domain.LeaderboardQuery{SortBy: domain.SortByTotalScore, Offset: 10},
			want: []string{},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := s.ListLeaderboard(ctx, tt.q)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(got))
		})
	}

	sum, err := s.SummarizeLeaderboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), sum.TotalPlayers)
	require.NotNil(t, sum.TopPlayer)
	assert.Equal(t, "erin", sum.TopPlayer.Username)
	require.NotNil(t, sum.MostActivePlayer)
	assert.Equal(t, "grace", sum.MostActivePlayer.Username)
	// (50 + 100 + 50 + 50 + 44.44) / 5
	assert.Equal(t, "58.89", sum.AverageWinRate.StringFixed(2))
}

// setStats overwrites a user's entry without scoring a session.
func setStats(t *testing.T, s store.Store, userID int64, fn func(e *domain.LeaderboardEntry)) {
	t.Helper()

	_, err := s.RecordGame(context.Background(), 0, []int64{userID}, func(entries map[int64]*domain.LeaderboardEntry) ([]domain.GameResult, error) {
		fn(entries[userID])
		return nil, nil
	})
	require.NoError(t, err)
}

func createUser(t *testing.T, s store.Store, username string, createdAt time.Time) *domain.User {
	t.Helper()

	ctx := context.Background()
	id, err := s.NextID(ctx)
	require.NoError(t, err)

	u := &domain.User{
		ID:         id,
		Username:   username,
		Email:      username + "@example.com",
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
		LastActive: createdAt,
	}
	require.NoError(t, s.CreateUser(ctx, u))
	return u
}

// newSession registers two fresh players and returns a waiting session between them.
func newSession(t *testing.T, s store.Store) *domain.Session {
	t.Helper()

	ctx := context.Background()
	id, err := s.NextID(ctx)
	require.NoError(t, err)

	x := createUser(t, s, fmt.Sprintf("x%d", id), epoch)
	o := createUser(t, s, fmt.Sprintf("o%d", id), epoch)

	return &domain.Session{
		ID:            id,
		PlayerX:       x.Ref(),
		PlayerO:       o.Ref(),
		CurrentPlayer: board.X,
		Status:        domain.StatusWaiting,
		Moves:         []domain.Move{},
		StartedAt:     epoch,
		CreatedAt:     epoch,
		UpdatedAt:     epoch,
	}
}
