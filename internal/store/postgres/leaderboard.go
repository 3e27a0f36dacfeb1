package postgres

import (
	"context"
	stderrors "errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/victornm/xo/internal/domain"
	"github.com/victornm/xo/internal/errors"
	"github.com/victornm/xo/internal/store"
)

func (s *Store) ListResults(ctx context.Context, sessionID int64) ([]domain.GameResult, error) {
	const stmt = `
SELECT session_id, player_id, username, result,
       base_score, win_bonus, speed_bonus, streak_bonus, total_score,
       duration_ns, moves_count, created_at
FROM game_results
WHERE session_id = $1
ORDER BY ordinal;`

	rows, err := s.db.Query(ctx, stmt, sessionID)
	if err != nil {
		return nil, errors.Unavailable("list results", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.GameResult, error) {
		var (
			r          domain.GameResult
			result     string
			durationNs int64
		)
		err := row.Scan(
			&r.SessionID, &r.PlayerID, &r.Username, &result,
			&r.Score.Base, &r.Score.Win, &r.Score.Speed, &r.Score.Streak, &r.Score.Total,
			&durationNs, &r.MovesCount, &r.CreatedAt,
		)
		r.Result = domain.Result(result)
		r.Duration = time.Duration(durationNs)
		r.CreatedAt = r.CreatedAt.UTC()
		return r, err
	})
	if err != nil {
		return nil, errors.Unavailable("list results", err)
	}

	return results, nil
}

const entryColumns = `
user_id, username, games_played, games_won, games_lost, games_drawn, total_score, win_rate,
average_game_duration, longest_win_streak, current_win_streak, last_game_at, created_at, updated_at`

func scanEntry(row pgx.Row) (domain.LeaderboardEntry, error) {
	var (
		e          domain.LeaderboardEntry
		lastGameAt *time.Time
	)
	err := row.Scan(
		&e.UserID, &e.Username, &e.GamesPlayed, &e.GamesWon, &e.GamesLost, &e.GamesDrawn, &e.TotalScore, &e.WinRate,
		&e.AverageGameDuration, &e.LongestWinStreak, &e.CurrentWinStreak, &lastGameAt, &e.CreatedAt, &e.UpdatedAt,
	)
	e.LastGameAt = fromNullTime(lastGameAt)
	e.CreatedAt, e.UpdatedAt = e.CreatedAt.UTC(), e.UpdatedAt.UTC()
	return e, err
}

func (s *Store) GetLeaderboardEntry(ctx context.Context, userID int64) (*domain.LeaderboardEntry, error) {
	e, err := scanEntry(s.db.QueryRow(ctx, `SELECT `+entryColumns+` FROM leaderboard_entries WHERE user_id = $1`, userID))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("leaderboard entry", userID)
	}
	if err != nil {
		return nil, errors.Unavailable("get leaderboard entry", err)
	}
	return &e, nil
}

// RecordGame locks the players' entry rows, in id order, for the length of the fold, creating
// them from the user profiles on a first game. The claim check runs after the locks are taken so a
// concurrent scorer of the same session is seen once it commits.
func (s *Store) RecordGame(ctx context.Context, sessionID int64, userIDs []int64, fn store.RecordFunc) ([]domain.LeaderboardEntry, error) {
	const (
		insertStmt = `
INSERT INTO leaderboard_entries (user_id, username, created_at, updated_at)
SELECT id, username, created_at, created_at FROM users WHERE id = $1
ON CONFLICT (user_id) DO NOTHING;`

		updateEntryStmt = `
UPDATE leaderboard_entries
SET games_played = $2, games_won = $3, games_lost = $4, games_drawn = $5, total_score = $6, win_rate = $7,
    average_game_duration = $8, longest_win_streak = $9, current_win_streak = $10, last_game_at = $11,
    updated_at = $12
WHERE user_id = $1;`

		updateUserStmt = `
UPDATE users
SET games_played = $2, games_won = $3, games_lost = $4, games_drawn = $5, total_score = $6, win_rate = $7,
    updated_at = $8
WHERE id = $1;`
	)

	ids := slices.Clone(userIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	var out []domain.LeaderboardEntry
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		entries := make(map[int64]*domain.LeaderboardEntry, len(ids))
		for _, id := range ids {
			if _, err := tx.Exec(ctx, insertStmt, id); err != nil {
				return errors.Unavailable("create leaderboard entry", err)
			}

			e, err := scanEntry(tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM leaderboard_entries WHERE user_id = $1 FOR UPDATE`, id))
			if stderrors.Is(err, pgx.ErrNoRows) {
				return errors.NotFound("user", id)
			}
			if err != nil {
				return errors.Unavailable("lock leaderboard entry", err)
			}
			entries[id] = &e
		}

		var scored bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM game_results WHERE session_id = $1)`, sessionID).Scan(&scored); err != nil {
			return errors.Unavailable("check results", err)
		}
		if scored {
			return errors.New(errors.CodeAlreadyExists,
				errors.WithReason(errors.ReasonDuplicateScoring),
				errors.WithMessagef("session is already scored: session=%d", sessionID),
			)
		}

		results, err := fn(entries)
		if err != nil {
			return err
		}

		if err := insertResults(ctx, tx, results); err != nil {
			return err
		}

		for _, id := range ids {
			e := entries[id]
			_, err := tx.Exec(ctx, updateEntryStmt, id,
				e.GamesPlayed, e.GamesWon, e.GamesLost, e.GamesDrawn, e.TotalScore, e.WinRate,
				e.AverageGameDuration, e.LongestWinStreak, e.CurrentWinStreak, nullTime(e.LastGameAt), e.UpdatedAt,
			)
			if err != nil {
				return errors.Unavailable("update leaderboard entry", err)
			}

			_, err = tx.Exec(ctx, updateUserStmt, id,
				e.GamesPlayed, e.GamesWon, e.GamesLost, e.GamesDrawn, e.TotalScore, e.WinRate, e.UpdatedAt,
			)
			if err != nil {
				return errors.Unavailable("update user stats", err)
			}
		}

		out = make([]domain.LeaderboardEntry, 0, len(userIDs))
		for _, id := range userIDs {
			out = append(out, *entries[id])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

func insertResults(ctx context.Context, tx pgx.Tx, results []domain.GameResult) error {
	const stmt = `
INSERT INTO game_results (
	session_id, player_id, ordinal, username, result,
	base_score, win_bonus, speed_bonus, streak_bonus, total_score,
	duration_ns, moves_count, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13);`

	for i, r := range results {
		_, err := tx.Exec(ctx, stmt,
			r.SessionID, r.PlayerID, i, r.Username, string(r.Result),
			r.Score.Base, r.Score.Win, r.Score.Speed, r.Score.Streak, r.Score.Total,
			int64(r.Duration), r.MovesCount, r.CreatedAt,
		)
		if isUniqueViolation(err) {
			return errors.New(errors.CodeAlreadyExists,
				errors.WithReason(errors.ReasonDuplicateScoring),
				errors.WithMessagef("session is already scored: session=%d", r.SessionID),
				errors.WithCause(err),
			)
		}
		if err != nil {
			return errors.Unavailable("insert results", err)
		}
	}
	return nil
}

var orderBy = map[domain.SortBy]string{
	domain.SortByTotalScore: "",
	domain.SortByWinRate:    "win_rate DESC, ",
	domain.SortByGamesWon:   "games_won DESC, ",
	domain.SortByWinStreak:  "longest_win_streak DESC, ",
}

const rankTieBreak = "total_score DESC, win_rate DESC, created_at ASC, user_id ASC"

func (s *Store) ListLeaderboard(ctx context.Context, q domain.LeaderboardQuery) ([]domain.LeaderboardEntry, error) {
	primary, ok := orderBy[q.SortBy]
	if !ok {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("unknown sort key: %s", q.SortBy))
	}

	var limit *int
	if q.Limit > 0 {
		limit = &q.Limit
	}

	stmt := fmt.Sprintf(`SELECT %s FROM leaderboard_entries ORDER BY %s%s LIMIT $1 OFFSET $2`, entryColumns, primary, rankTieBreak)
	return s.listEntries(ctx, stmt, limit, q.Offset)
}

func (s *Store) listEntries(ctx context.Context, stmt string, args ...any) ([]domain.LeaderboardEntry, error) {
	rows, err := s.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, errors.Unavailable("list leaderboard", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.LeaderboardEntry, error) {
		return scanEntry(row)
	})
	if err != nil {
		return nil, errors.Unavailable("list leaderboard", err)
	}

	return entries, nil
}

func (s *Store) SummarizeLeaderboard(ctx context.Context) (domain.LeaderboardSummary, error) {
	var sum domain.LeaderboardSummary

	err := s.db.QueryRow(ctx, `
SELECT
	(SELECT COUNT(*) FROM leaderboard_entries),
	(SELECT COUNT(*) FROM game_sessions WHERE status = 'completed'),
	(SELECT COALESCE(ROUND(AVG(win_rate), 2), 0) FROM leaderboard_entries);`,
	).Scan(&sum.TotalPlayers, &sum.TotalGames, &sum.AverageWinRate)
	if err != nil {
		return domain.LeaderboardSummary{}, errors.Unavailable("summarize leaderboard", err)
	}
	if sum.TotalPlayers == 0 {
		return sum, nil
	}

	top, err := s.listEntries(ctx, fmt.Sprintf(`SELECT %s FROM leaderboard_entries ORDER BY %s LIMIT 1`, entryColumns, rankTieBreak))
	if err != nil {
		return domain.LeaderboardSummary{}, err
	}
	active, err := s.listEntries(ctx, fmt.Sprintf(`SELECT %s FROM leaderboard_entries ORDER BY games_played DESC, %s LIMIT 1`, entryColumns, rankTieBreak))
	if err != nil {
		return domain.LeaderboardSummary{}, err
	}

	if len(top) > 0 {
		sum.TopPlayer = &top[0]
	}
	if len(active) > 0 {
		sum.MostActivePlayer = &active[0]
	}

	return sum, nil
}
