package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/victornm/xo/internal/domain"
)

type (
	registerUserRequest struct {
		Username string `json:"username"`
		Email    string `json:"email"`
	}

	createSessionRequest struct {
		PlayerXID int64 `json:"player_x_id"`
		PlayerOID int64 `json:"player_o_id"`
	}

	makeMoveRequest struct {
		PlayerID int64 `json:"player_id"`
		Cell     *int  `json:"cell"`
	}

	abandonSessionRequest struct {
		Reason string `json:"reason"`
	}
)

type (
	Stats struct {
		GamesPlayed int64           `json:"games_played"`
		GamesWon    int64           `json:"games_won"`
		GamesLost   int64           `json:"games_lost"`
		GamesDrawn  int64           `json:"games_drawn"`
		TotalScore  int64           `json:"total_score"`
		WinRate     decimal.Decimal `json:"win_rate"`
	}

	User struct {
		ID         int64     `json:"id"`
		Username   string    `json:"username"`
		Email      string    `json:"email"`
		Stats      Stats     `json:"stats"`
		CreatedAt  time.Time `json:"created_at"`
		LastActive time.Time `json:"last_active"`
	}

	Player struct {
		UserID   int64  `json:"user_id"`
		Username string `json:"username"`
	}

	Move struct {
		PlayerID   int64     `json:"player_id"`
		Mark       string    `json:"mark"`
		Cell       int       `json:"cell"`
		Timestamp  time.Time `json:"timestamp"`
		MoveNumber int       `json:"move_number"`
	}

	Session struct {
		ID            int64      `json:"id"`
		PlayerX       Player     `json:"player_x"`
		PlayerO       Player     `json:"player_o"`
		Board         []string   `json:"board"`
		CurrentPlayer string     `json:"current_player"`
		Status        string     `json:"status"`
		Winner        string     `json:"winner,omitempty"`
		WinningLine   []int      `json:"winning_line,omitempty"`
		Moves         []Move     `json:"moves"`
		StartedAt     time.Time  `json:"started_at"`
		CompletedAt   *time.Time `json:"completed_at,omitempty"`
		// Duration is in seconds.
		Duration      float64 `json:"duration"`
		AbandonReason string  `json:"abandon_reason,omitempty"`
		Version       int64   `json:"version"`
	}

	ScoreBreakdown struct {
		Base   int64 `json:"base"`
		Win    int64 `json:"win"`
		Speed  int64 `json:"speed"`
		Streak int64 `json:"streak"`
		Total  int64 `json:"total"`
	}

	GameResult struct {
		SessionID  int64          `json:"session_id"`
		PlayerID   int64          `json:"player_id"`
		Username   string         `json:"username"`
		Result     string         `json:"result"`
		Score      ScoreBreakdown `json:"score"`
		Duration   float64        `json:"duration"`
		MovesCount int            `json:"moves_count"`
	}

	MoveResponse struct {
		Session Session      `json:"session"`
		Results []GameResult `json:"results,omitempty"`
	}

	ScoreResponse struct {
		Duplicate bool         `json:"duplicate"`
		Results   []GameResult `json:"results"`
	}

	LeaderboardEntry struct {
		Rank     int    `json:"rank,omitempty"`
		UserID   int64  `json:"user_id"`
		Username string `json:"username"`
		Stats
		AverageGameDuration decimal.Decimal `json:"average_game_duration"`
		LongestWinStreak    int64           `json:"longest_win_streak"`
		CurrentWinStreak    int64           `json:"current_win_streak"`
		LastGameAt          *time.Time      `json:"last_game_at,omitempty"`
	}

	Leaderboard struct {
		Entries []LeaderboardEntry `json:"entries"`
		Limit   int                `json:"limit"`
		Offset  int                `json:"offset"`
		SortBy  string             `json:"sort_by"`
	}

	LeaderboardSummary struct {
		TotalPlayers     int64             `json:"total_players"`
		TotalGames       int64             `json:"total_games"`
		TopPlayer        *LeaderboardEntry `json:"top_player,omitempty"`
		MostActivePlayer *LeaderboardEntry `json:"most_active_player,omitempty"`
		AverageWinRate   decimal.Decimal   `json:"average_win_rate"`
	}

	WinDistribution struct {
		X    int64 `json:"x"`
		O    int64 `json:"o"`
		Draw int64 `json:"draw"`
	}

	GameStats struct {
		TotalGames          int64           `json:"total_games"`
		ActiveGames         int64           `json:"active_games"`
		CompletedGames      int64           `json:"completed_games"`
		AbandonedGames      int64           `json:"abandoned_games"`
		TotalUsers          int64           `json:"total_users"`
		AverageGameDuration decimal.Decimal `json:"average_game_duration"`
		WinDistribution     WinDistribution `json:"win_distribution"`
	}

	ErrorResponse struct {
		Error ErrorBody `json:"error"`
	}

	ErrorBody struct {
		Code      string `json:"code"`
		Reason    string `json:"reason,omitempty"`
		Message   string `json:"message"`
		RequestID string `json:"request_id,omitempty"`
	}
)

func toStats(s domain.Stats) Stats {
	return Stats{
		GamesPlayed: s.GamesPlayed,
		GamesWon:    s.GamesWon,
		GamesLost:   s.GamesLost,
		GamesDrawn:  s.GamesDrawn,
		TotalScore:  s.TotalScore,
		WinRate:     s.WinRate,
	}
}

func toUser(u *domain.User) User {
	return User{
		ID:         u.ID,
		Username:   u.Username,
		Email:      u.Email,
		Stats:      toStats(u.Stats),
		CreatedAt:  u.CreatedAt,
		LastActive: u.LastActive,
	}
}

func toSession(ss *domain.Session) Session {
	out := Session{
		ID:            ss.ID,
		PlayerX:       Player{UserID: ss.PlayerX.UserID, Username: ss.PlayerX.Username},
		PlayerO:       Player{UserID: ss.PlayerO.UserID, Username: ss.PlayerO.Username},
		Board:         ss.Board.Strings(),
		CurrentPlayer: ss.CurrentPlayer.String(),
		Status:        string(ss.Status),
		Winner:        ss.Winner(),
		Moves:         make([]Move, 0, len(ss.Moves)),
		StartedAt:     ss.StartedAt,
		CompletedAt:   optionalTime(ss.CompletedAt),
		Duration:      ss.Duration.Seconds(),
		AbandonReason: ss.AbandonReason,
		Version:       ss.Version,
	}

	if l, ok := ss.WinningLine(); ok {
		out.WinningLine = l[:]
	}

	for _, m := range ss.Moves {
		out.Moves = append(out.Moves, Move{
			PlayerID:   m.PlayerID,
			Mark:       m.Mark.String(),
			Cell:       m.Cell,
			Timestamp:  m.Timestamp,
			MoveNumber: m.MoveNumber,
		})
	}

	return out
}

func toResults(rs []domain.GameResult) []GameResult {
	out := make([]GameResult, 0, len(rs))
	for _, r := range rs {
		out = append(out, GameResult{
			SessionID: r.SessionID,
			PlayerID:  r.PlayerID,
			Username:  r.Username,
			Result:    string(r.Result),
			Score: ScoreBreakdown{
				Base:   r.Score.Base,
				Win:    r.Score.Win,
				Speed:  r.Score.Speed,
				Streak: r.Score.Streak,
				Total:  r.Score.Total,
			},
			Duration:   r.Duration.Seconds(),
			MovesCount: r.MovesCount,
		})
	}
	return out
}

func toEntry(e *domain.LeaderboardEntry) LeaderboardEntry {
	return LeaderboardEntry{
		Rank:                e.Rank,
		UserID:              e.UserID,
		Username:            e.Username,
		Stats:               toStats(e.Stats),
		AverageGameDuration: e.AverageGameDuration,
		LongestWinStreak:    e.LongestWinStreak,
		CurrentWinStreak:    e.CurrentWinStreak,
		LastGameAt:          optionalTime(e.LastGameAt),
	}
}

func toEntries(es []domain.LeaderboardEntry) []LeaderboardEntry {
	out := make([]LeaderboardEntry, 0, len(es))
	for i := range es {
		out = append(out, toEntry(&es[i]))
	}
	return out
}

func toSummary(s domain.LeaderboardSummary) LeaderboardSummary {
	out := LeaderboardSummary{
		TotalPlayers:   s.TotalPlayers,
		TotalGames:     s.TotalGames,
		AverageWinRate: s.AverageWinRate,
	}
	if s.TopPlayer != nil {
		e := toEntry(s.TopPlayer)
		out.TopPlayer = &e
	}
	if s.MostActivePlayer != nil {
		e := toEntry(s.MostActivePlayer)
		out.MostActivePlayer = &e
	}
	return out
}

func toGameStats(s domain.GameStats) GameStats {
	return GameStats{
		TotalGames:          s.TotalGames,
		ActiveGames:         s.ActiveGames,
		CompletedGames:      s.CompletedGames,
		AbandonedGames:      s.AbandonedGames,
		TotalUsers:          s.TotalUsers,
		AverageGameDuration: s.AverageGameDuration,
		WinDistribution: WinDistribution{
			X:    s.WinDistribution.X,
			O:    s.WinDistribution.O,
			Draw: s.WinDistribution.Draw,
		},
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
