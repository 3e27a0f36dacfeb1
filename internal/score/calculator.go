package score

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/victornm/xo/internal/board"
	"github.com/victornm/xo/internal/domain"
)

// Table is the constant table every score is derived from.
type Table struct {
	// BaseScore is awarded to both participants of a completed game.
	BaseScore int64
	// WinBonus is added for the winner only.
	WinBonus int64

	// The speed bonus is MaxSpeedBonus at or below MinDuration, zero at or above MaxDuration,
	// and decreases linearly in between. Winner only.
	MinDuration   time.Duration
	MaxDuration   time.Duration
	MaxSpeedBonus int64

	// The streak bonus is StreakStep per win already on the winner's current streak,
	// capped at MaxStreakBonus. Winner only.
	StreakStep     int64
	MaxStreakBonus int64
}

// DefaultTable is the scoring table used unless configuration overrides it.
var DefaultTable = Table{
	BaseScore:      10,
	WinBonus:       50,
	MinDuration:    30 * time.Second,
	MaxDuration:    300 * time.Second,
	MaxSpeedBonus:  25,
	StreakStep:     5,
	MaxStreakBonus: 25,
}

// SpeedBonus is monotonically non-increasing in d and never negative.
func (t Table) SpeedBonus(d time.Duration) int64 {
	switch {
	case t.MaxSpeedBonus <= 0:
		return 0
	case d <= t.MinDuration:
		return t.MaxSpeedBonus
	case d >= t.MaxDuration:
		return 0
	}

	left := decimal.NewFromInt(int64(t.MaxDuration - d))
	span := decimal.NewFromInt(int64(t.MaxDuration - t.MinDuration))
	return decimal.NewFromInt(t.MaxSpeedBonus).Mul(left).Div(span).Floor().IntPart()
}

// StreakBonus rewards a winner who was already on a streak of the given length.
func (t Table) StreakBonus(streak int64) int64 {
	if streak <= 0 || t.StreakStep <= 0 {
		return 0
	}
	return min(t.StreakStep*streak, t.MaxStreakBonus)
}

// Breakdown returns the score a participant receives for result r.
func (t Table) Breakdown(r domain.Result, d time.Duration, streak int64) domain.ScoreBreakdown {
	b := domain.ScoreBreakdown{Base: t.BaseScore}
	if r == domain.ResultWin {
		b.Win = t.WinBonus
		b.Speed = t.SpeedBonus(d)
		b.Streak = t.StreakBonus(streak)
	}
	b.Total = b.Base + b.Win + b.Speed + b.Streak
	return b
}

// Calculate returns one result per participant of a completed session, X first.
// streaks holds each participant's current win streak before this game, keyed by user id.
func (t Table) Calculate(ss *domain.Session, streaks map[int64]int64, now time.Time) []domain.GameResult {
	results := make([]domain.GameResult, 0, 2)
	for _, m := range []board.Mark{board.X, board.O} {
		p := ss.Player(m)
		r := resultFor(ss.Outcome, m)
		results = append(results, domain.GameResult{
			SessionID:  ss.ID,
			PlayerID:   p.UserID,
			Username:   p.Username,
			Result:     r,
			Score:      t.Breakdown(r, ss.Duration, streaks[p.UserID]),
			Duration:   ss.Duration,
			MovesCount: len(ss.Moves),
			CreatedAt:  now,
		})
	}
	return results
}

func resultFor(o board.Outcome, m board.Mark) domain.Result {
	w, ok := o.(board.Win)
	switch {
	case !ok:
		return domain.ResultDraw
	case w.Mark == m:
		return domain.ResultWin
	default:
		return domain.ResultLoss
	}
}
