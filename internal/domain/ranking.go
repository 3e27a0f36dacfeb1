package domain

import "strings"

// SortBy selects the primary ranking key.
type SortBy string

const (
	SortByTotalScore SortBy = "totalScore"
	SortByWinRate    SortBy = "winRate"
	SortByGamesWon   SortBy = "gamesWon"
	SortByWinStreak  SortBy = "winStreak"
)

// ParseSortBy accepts the camelCase names and their snake_case spelling. Empty means total score.
func ParseSortBy(s string) (SortBy, bool) {
	switch strings.ReplaceAll(strings.ToLower(s), "_", "") {
	case "", "totalscore":
		return SortByTotalScore, true
	case "winrate":
		return SortByWinRate, true
	case "gameswon":
		return SortByGamesWon, true
	case "winstreak":
		return SortByWinStreak, true
	}
	return "", false
}

// CompareEntries orders a before b when it returns a negative number.
// The primary key is descending, followed by total score descending, win rate descending,
// earlier registration, and finally user id so the order is total.
func CompareEntries(a, b *LeaderboardEntry, by SortBy) int {
	var c int
	switch by {
	case SortByWinRate:
		c = b.WinRate.Cmp(a.WinRate)
	case SortByGamesWon:
		c = cmpDesc(a.GamesWon, b.GamesWon)
	case SortByWinStreak:
		c = cmpDesc(a.LongestWinStreak, b.LongestWinStreak)
	}
	if c != 0 {
		return c
	}

	if c = cmpDesc(a.TotalScore, b.TotalScore); c != 0 {
		return c
	}
	if c = b.WinRate.Cmp(a.WinRate); c != 0 {
		return c
	}
	if c = a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmpDesc(b.UserID, a.UserID)
}

func cmpDesc(a, b int64) int {
	switch {
	case a > b:
		return -1
	case a < b:
		return 1
	default:
		return 0
	}
}

// LeaderboardQuery selects a page of the ranked leaderboard.
type LeaderboardQuery struct {
	Limit  int
	Offset int
	SortBy SortBy
}
