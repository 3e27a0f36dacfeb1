package score_test

import (
	"context"
	stderrors "errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/victornm/xo/internal/board"
	"github.com/victornm/xo/internal/domain"
	"github.com/victornm/xo/internal/errors"
	"github.com/victornm/xo/internal/event"
	"github.com/victornm/xo/internal/leaderboard"
	"github.com/victornm/xo/internal/score"
	"github.com/victornm/xo/internal/store/memory"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestTable_SpeedBonus(t *testing.T) {
	tab := score.DefaultTable

	tests := map[string]struct {
		d    time.Duration
		want int64
	}{
		"instant game":            {d: 0, want: 25},
		"at the lower bound":      {d: 30 * time.Second, want: 25},
		"halfway":                 {d: 165 * time.Second, want: 12},
		"just below upper bound":  {d: 299 * time.Second, want: 0},
		"at the upper bound":      {d: 300 * time.Second, want: 0},
		"far beyond upper bound":  {d: time.Hour, want: 0},
		"one step into the curve": {d: 40 * time.Second, want: 24},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, tab.SpeedBonus(tt.d))
		})
	}
}

func TestTable_SpeedBonusIsMonotonic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := time.Duration(rapid.Int64Range(0, int64(10*time.Minute)).Draw(t, "a"))
		b := time.Duration(rapid.Int64Range(0, int64(10*time.Minute)).Draw(t, "b"))
		if a > b {
			a, b = b, a
		}

		sa, sb := score.DefaultTable.SpeedBonus(a), score.DefaultTable.SpeedBonus(b)
		if sb > sa {
			t.Fatalf("speed bonus grew with duration: %v→%d, %v→%d", a, sa, b, sb)
		}
		if sb < 0 || sa > score.DefaultTable.MaxSpeedBonus {
			t.Fatalf("speed bonus out of range: %d, %d", sa, sb)
		}
	})
}

func TestTable_Breakdown(t *testing.T) {
	tab := score.DefaultTable

	tests := map[string]struct {
		result domain.Result
		d      time.Duration
		streak int64
		want   domain.ScoreBreakdown
	}{
		"a fast first win earns every bonus but the streak": {
			result: domain.ResultWin,
			d:      20 * time.Second,
			want:   domain.ScoreBreakdown{Base: 10, Win: 50, Speed: 25, Total: 85},
		},
		"a slow win on a streak of two": {
			result: domain.ResultWin,
			d:      10 * time.Minute,
			streak: 2,
			want:   domain.ScoreBreakdown{Base: 10, Win: 50, Streak: 10, Total: 70},
		},
		"the streak bonus should be capped": {
			result: domain.ResultWin,
			d:      10 * time.Minute,
			streak: 40,
			want:   domain.ScoreBreakdown{Base: 10, Win: 50, Streak: 25, Total: 85},
		},
		"a loss earns only the base, whatever the streak": {
			result: domain.ResultLoss,
			d:      5 * time.Second,
			streak: 3,
			want:   domain.ScoreBreakdown{Base: 10, Total: 10},
		},
		"a draw earns only the base": {
			result: domain.ResultDraw,
			d:      5 * time.Second,
			want:   domain.ScoreBreakdown{Base: 10, Total: 10},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, tab.Breakdown(tt.result, tt.d, tt.streak))
		})
	}
}

func TestTable_Calculate(t *testing.T) {
	ss := &domain.Session{
		ID:       7,
		PlayerX:  domain.PlayerRef{UserID: 1, Username: "x"},
		PlayerO:  domain.PlayerRef{UserID: 2, Username: "o"},
		Status:   domain.StatusCompleted,
		Outcome:  board.Win{Mark: board.O, Line: board.Line{2, 4, 6}},
		Duration: 45 * time.Second,
		Moves:    make([]domain.Move, 6),
	}

	got := score.DefaultTable.Calculate(ss, map[int64]int64{1: 4, 2: 1}, epoch)
	require.Len(t, got, 2)

	assert.Equal(t, int64(1), got[0].PlayerID)
	assert.Equal(t, domain.ResultLoss, got[0].Result)
	assert.Equal(t, int64(10), got[0].Score.Total)

	assert.Equal(t, int64(2), got[1].PlayerID)
	assert.Equal(t, domain.ResultWin, got[1].Result)
	// speed: floor(25 * 255 / 270) = 23, streak: 5 * 1
	assert.Equal(t, domain.ScoreBreakdown{Base: 10, Win: 50, Speed: 23, Streak: 5, Total: 88}, got[1].Score)
	assert.Equal(t, 6, got[1].MovesCount)
	assert.Equal(t, epoch, got[1].CreatedAt)
}

func TestService_Apply(t *testing.T) {
	tests := map[string]struct {
		arrange func(t *testing.T, f *fixture)
		assert  func(t *testing.T, f *fixture, resp *score.ApplyResponse, err error)
	}{
		"a completed session should be scored and recorded": {
			assert: func(t *testing.T, f *fixture, resp *score.ApplyResponse, err error) {
				require.NoError(t, err)
				assert.False(t, resp.Duplicate)
				require.Len(t, resp.Results, 2)

				e, err := f.store.GetLeaderboardEntry(context.Background(), f.session.PlayerX.UserID)
				require.NoError(t, err)
				assert.Equal(t, resp.Results[0].Score.Total, e.TotalScore)
				assert.Equal(t, int64(1), e.CurrentWinStreak)
			},
		},

		"scoring the same session twice should change nothing": {
			arrange: func(t *testing.T, f *fixture) {
				_, err := f.service.Apply(context.Background(), f.session)
				require.NoError(t, err)
			},

			assert: func(t *testing.T, f *fixture, resp *score.ApplyResponse, err error) {
				require.NoError(t, err)
				assert.True(t, resp.Duplicate)
				require.Len(t, resp.Results, 2)

				e, err := f.store.GetLeaderboardEntry(context.Background(), f.session.PlayerX.UserID)
				require.NoError(t, err)
				assert.Equal(t, int64(1), e.GamesPlayed, "the game should be counted once")
				assert.Equal(t, resp.Results[0].Score.Total, e.TotalScore)
			},
		},

		"the winner's streak before the game should earn a bonus": {
			arrange: func(t *testing.T, f *fixture) {
				for id := int64(97); id < 100; id++ {
					_, err := f.service.Apply(context.Background(), f.sessionWithID(id))
					require.NoError(t, err)
				}
			},

			assert: func(t *testing.T, f *fixture, resp *score.ApplyResponse, err error) {
				require.NoError(t, err)
				assert.Equal(t, int64(15), resp.Results[0].Score.Streak)
				assert.Zero(t, resp.Results[1].Score.Streak)
			},
		},

		"an abandoned session should not be scored": {
			arrange: func(t *testing.T, f *fixture) {
				f.session.Status = domain.StatusAbandoned
				f.session.Outcome = nil
			},

			assert: func(t *testing.T, f *fixture, _ *score.ApplyResponse, err error) {
				var e *errors.Error
				require.True(t, stderrors.As(err, &e), "should be a typed error: %v", err)
				assert.Equal(t, errors.CodeFailedPrecondition, e.Code)

				results, err := f.store.ListResults(context.Background(), f.session.ID)
				require.NoError(t, err)
				assert.Empty(t, results)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			if tt.arrange != nil {
				tt.arrange(t, f)
			}

			resp, err := f.service.Apply(context.Background(), f.session)
			tt.assert(t, f, resp, err)
		})
	}
}

func TestService_ApplyConcurrently(t *testing.T) {
	f := newFixture(t)

	const n = 20
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		duplicates int
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := f.service.Apply(context.Background(), f.session)
			if !assert.NoError(t, err) {
				return
			}
			if resp.Duplicate {
				mu.Lock()
				duplicates++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, n-1, duplicates, "exactly one caller should apply the score")

	e, err := f.store.GetLeaderboardEntry(context.Background(), f.session.PlayerO.UserID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.GamesPlayed)
}

func TestService_ApplyAfterFailedFold(t *testing.T) {
	tests := map[string]struct {
		failing func(f *fixture) int64
	}{
		"the winner's entry fails to save": {
			failing: func(f *fixture) int64 { return f.session.PlayerX.UserID },
		},
		"only the loser's entry fails to save": {
			failing: func(f *fixture) int64 { return f.session.PlayerO.UserID },
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			f.store.failNext(tt.failing(f))

			_, err := f.service.Apply(ctx, f.session)
			require.ErrorIs(t, err, errors.ErrStorageUnavailable)

			results, err := f.service.ListScores(ctx, f.session.ID)
			require.NoError(t, err)
			assert.Empty(t, results, "a failed fold should leave the session unscored")
			for _, p := range []domain.PlayerRef{f.session.PlayerX, f.session.PlayerO} {
				_, err := f.store.GetLeaderboardEntry(ctx, p.UserID)
				assert.ErrorIs(t, err, errors.ErrNotFound, "%s should not be credited", p.Username)
			}

			resp, err := f.service.Apply(ctx, f.session)
			require.NoError(t, err)
			assert.False(t, resp.Duplicate, "the retry should apply the score")
			require.Len(t, resp.Results, 2)

			_, err = f.service.Apply(ctx, f.session)
			require.NoError(t, err)

			for i, p := range []domain.PlayerRef{f.session.PlayerX, f.session.PlayerO} {
				e, err := f.store.GetLeaderboardEntry(ctx, p.UserID)
				require.NoError(t, err, "%s should be credited", p.Username)
				assert.Equal(t, int64(1), e.GamesPlayed, "%s should be credited once", p.Username)
				assert.Equal(t, resp.Results[i].Score.Total, e.TotalScore)
			}

			results, err = f.service.ListScores(ctx, f.session.ID)
			require.NoError(t, err)
			assert.Equal(t, resp.Results, results)
		})
	}
}

func TestService_ApplyConcurrentWinsBuildTheStreak(t *testing.T) {
	f := newFixture(t)

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		bonuses []int64
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := f.service.Apply(context.Background(), f.sessionWithID(int64(200+i)))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			bonuses = append(bonuses, resp.Results[0].Score.Streak)
			mu.Unlock()
		}()
	}
	wg.Wait()

	// Every win must see the streak left by the one before it.
	slices.Sort(bonuses)
	assert.Equal(t, []int64{0, 5, 10, 15, 20, 25, 25, 25}, bonuses)

	e, err := f.store.GetLeaderboardEntry(context.Background(), f.session.PlayerX.UserID)
	require.NoError(t, err)
	assert.Equal(t, int64(n), e.CurrentWinStreak)
}

// faultyStore fails the next save of a player's entry, after the fold of every player ahead of it.
type faultyStore struct {
	*memory.Store

	mu     sync.Mutex
	failOn map[int64]int
}

func (s *faultyStore) failNext(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failOn[userID]++
}

func (s *faultyStore) take(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failOn[userID] == 0 {
		return false
	}
	s.failOn[userID]--
	return true
}

func (s *faultyStore) RecordGame(ctx context.Context, sessionID int64, userIDs []int64, fn func(map[int64]*domain.LeaderboardEntry) ([]domain.GameResult, error)) ([]domain.LeaderboardEntry, error) {
	return s.Store.RecordGame(ctx, sessionID, userIDs, func(entries map[int64]*domain.LeaderboardEntry) ([]domain.GameResult, error) {
		results, err := fn(entries)
		if err != nil {
			return nil, err
		}
		for _, id := range userIDs {
			if s.take(id) {
				return nil, errors.Unavailable("update leaderboard entry", fmt.Errorf("user=%d: connection reset", id))
			}
		}
		return results, nil
	})
}

type fixture struct {
	store   *faultyStore
	service *score.Service
	session *domain.Session
}

// newFixture returns a session X won in 20 seconds between two fresh users.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	ctx := context.Background()
	st := &faultyStore{Store: memory.New(), failOn: make(map[int64]int)}
	eb := event.NewBus()
	t.Cleanup(eb.Stop)

	refs := make([]domain.PlayerRef, 0, 2)
	for _, name := range []string{"xavier", "olga"} {
		id, err := st.NextID(ctx)
		require.NoError(t, err)
		u := &domain.User{ID: id, Username: name, CreatedAt: epoch}
		require.NoError(t, st.CreateUser(ctx, u))
		refs = append(refs, u.Ref())
	}

	lb := leaderboard.NewService(leaderboard.Config{EventBus: eb, Store: st})
	s := score.NewService(score.Config{
		EventBus: eb,
		Store:    st,
		Recorder: lb,
		Table:    score.DefaultTable,
		Now:      func() time.Time { return epoch.Add(20 * time.Second) },
	})

	return &fixture{
		store:   st,
		service: s,
		session: &domain.Session{
			ID:          100,
			PlayerX:     refs[0],
			PlayerO:     refs[1],
			Status:      domain.StatusCompleted,
			Outcome:     board.Win{Mark: board.X, Line: board.Line{0, 4, 8}},
			StartedAt:   epoch,
			CompletedAt: epoch.Add(20 * time.Second),
			Duration:    20 * time.Second,
			Moves:       make([]domain.Move, 7),
		},
	}
}

// sessionWithID returns a copy of the fixture session under another id.
func (f *fixture) sessionWithID(id int64) *domain.Session {
	ss := *f.session
	ss.ID = id
	return &ss
}
