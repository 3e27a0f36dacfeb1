package leaderboard

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/victornm/xo/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Fold adds one game result to a leaderboard entry.
// A win extends the current streak; a loss or a draw ends it.
func Fold(e *domain.LeaderboardEntry, r domain.GameResult, now time.Time) {
	e.GamesPlayed++
	switch r.Result {
	case domain.ResultWin:
		e.GamesWon++
		e.CurrentWinStreak++
		e.LongestWinStreak = max(e.LongestWinStreak, e.CurrentWinStreak)
	case domain.ResultLoss:
		e.GamesLost++
		e.CurrentWinStreak = 0
	case domain.ResultDraw:
		e.GamesDrawn++
		e.CurrentWinStreak = 0
	}
	e.TotalScore += r.Score.Total
	e.WinRate = WinRate(e.GamesWon, e.GamesPlayed)

	// running mean: avg += (d - avg) / n
	d := decimal.NewFromFloat(r.Duration.Seconds())
	n := decimal.NewFromInt(e.GamesPlayed)
	e.AverageGameDuration = e.AverageGameDuration.Add(d.Sub(e.AverageGameDuration).Div(n)).Round(2)

	e.LastGameAt = r.CreatedAt
	e.UpdatedAt = now
}

// WinRate is the percentage of games won, rounded to two decimals. Zero when nothing was played.
func WinRate(won, played int64) decimal.Decimal {
	if played == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(won).Mul(hundred).Div(decimal.NewFromInt(played)).Round(2)
}
