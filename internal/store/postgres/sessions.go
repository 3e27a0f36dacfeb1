package postgres

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/victornm/xo/internal/board"
	"github.com/victornm/xo/internal/domain"
	"github.com/victornm/xo/internal/errors"
)

type moveRecord struct {
	PlayerID   int64     `json:"player_id"`
	Mark       string    `json:"mark"`
	Cell       int       `json:"cell"`
	Timestamp  time.Time `json:"timestamp"`
	MoveNumber int       `json:"move_number"`
}

// sessionRow is the column form of a session.
type sessionRow struct {
	board         []string
	currentPlayer string
	status        string
	winner        *string
	winningLine   []int32
	moves         []byte
	completedAt   *time.Time
	durationNs    int64
}

func toRow(ss *domain.Session) (sessionRow, error) {
	moves := make([]moveRecord, 0, len(ss.Moves))
	for _, m := range ss.Moves {
		moves = append(moves, moveRecord{
			PlayerID:   m.PlayerID,
			Mark:       m.Mark.String(),
			Cell:       m.Cell,
			Timestamp:  m.Timestamp.UTC(),
			MoveNumber: m.MoveNumber,
		})
	}

	b, err := json.Marshal(moves)
	if err != nil {
		return sessionRow{}, fmt.Errorf("marshal moves: %w", err)
	}

	r := sessionRow{
		board:         ss.Board.Strings(),
		currentPlayer: ss.CurrentPlayer.String(),
		status:        string(ss.Status),
		moves:         b,
		completedAt:   nullTime(ss.CompletedAt),
		durationNs:    int64(ss.Duration),
	}

	if w := ss.Winner(); w != "" {
		r.winner = &w
	}
	if l, ok := ss.WinningLine(); ok {
		r.winningLine = []int32{int32(l[0]), int32(l[1]), int32(l[2])}
	}

	return r, nil
}

func (r sessionRow) decode(ss *domain.Session) error {
	var err error
	if ss.Board, err = board.FromStrings(r.board); err != nil {
		return fmt.Errorf("decode board: %w", err)
	}
	if ss.CurrentPlayer, err = board.ParseMark(r.currentPlayer); err != nil {
		return fmt.Errorf("decode current player: %w", err)
	}

	ss.Status = domain.Status(r.status)
	ss.CompletedAt = fromNullTime(r.completedAt)
	ss.Duration = time.Duration(r.durationNs)

	switch {
	case r.winner == nil:
		ss.Outcome = nil
	case *r.winner == domain.WinnerDraw:
		ss.Outcome = board.Draw{}
	default:
		m, err := board.ParseMark(*r.winner)
		if err != nil {
			return fmt.Errorf("decode winner: %w", err)
		}
		if len(r.winningLine) != 3 {
			return fmt.Errorf("decode winning line: %v", r.winningLine)
		}
		ss.Outcome = board.Win{Mark: m, Line: board.Line{int(r.winningLine[0]), int(r.winningLine[1]), int(r.winningLine[2])}}
	}

	var moves []moveRecord
	if err := json.Unmarshal(r.moves, &moves); err != nil {
		return fmt.Errorf("unmarshal moves: %w", err)
	}
	ss.Moves = make([]domain.Move, 0, len(moves))
	for _, m := range moves {
		mark, err := board.ParseMark(m.Mark)
		if err != nil {
			return fmt.Errorf("decode move %d: %w", m.MoveNumber, err)
		}
		ss.Moves = append(ss.Moves, domain.Move{
			PlayerID:   m.PlayerID,
			Mark:       mark,
			Cell:       m.Cell,
			Timestamp:  m.Timestamp.UTC(),
			MoveNumber: m.MoveNumber,
		})
	}

	return nil
}

func (s *Store) CreateSession(ctx context.Context, ss *domain.Session) error {
	const stmt = `
INSERT INTO game_sessions (
	id, player_x_id, player_x_username, player_o_id, player_o_username,
	board, current_player, status, winner, winning_line, moves,
	started_at, completed_at, duration_ns, abandon_reason, created_at, updated_at, version
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18);`

	r, err := toRow(ss)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, stmt,
		ss.ID, ss.PlayerX.UserID, ss.PlayerX.Username, ss.PlayerO.UserID, ss.PlayerO.Username,
		r.board, r.currentPlayer, r.status, r.winner, r.winningLine, r.moves,
		ss.StartedAt, r.completedAt, r.durationNs, ss.AbandonReason, ss.CreatedAt, ss.UpdatedAt, ss.Version,
	)
	if isUniqueViolation(err) {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("session already exists: id=%d", ss.ID),
			errors.WithCause(err),
		)
	}
	if err != nil {
		return errors.Unavailable("create session", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id int64) (*domain.Session, error) {
	const stmt = `
SELECT id, player_x_id, player_x_username, player_o_id, player_o_username,
       board, current_player, status, winner, winning_line, moves,
       started_at, completed_at, duration_ns, abandon_reason, created_at, updated_at, version
FROM game_sessions
WHERE id = $1;`

	var (
		ss domain.Session
		r  sessionRow
	)
	err := s.db.QueryRow(ctx, stmt, id).Scan(
		&ss.ID, &ss.PlayerX.UserID, &ss.PlayerX.Username, &ss.PlayerO.UserID, &ss.PlayerO.Username,
		&r.board, &r.currentPlayer, &r.status, &r.winner, &r.winningLine, &r.moves,
		&ss.StartedAt, &r.completedAt, &r.durationNs, &ss.AbandonReason, &ss.CreatedAt, &ss.UpdatedAt, &ss.Version,
	)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("session", id)
	}
	if err != nil {
		return nil, errors.Unavailable("get session", err)
	}

	if err := r.decode(&ss); err != nil {
		return nil, errors.Internal(fmt.Errorf("session %d: %w", id, err))
	}
	ss.StartedAt, ss.CreatedAt, ss.UpdatedAt = ss.StartedAt.UTC(), ss.CreatedAt.UTC(), ss.UpdatedAt.UTC()

	return &ss, nil
}

// UpdateSession writes ss only if the row still carries ss.Version.
func (s *Store) UpdateSession(ctx context.Context, ss *domain.Session) error {
	const stmt = `
UPDATE game_sessions
SET board = $3, current_player = $4, status = $5, winner = $6, winning_line = $7, moves = $8,
    completed_at = $9, duration_ns = $10, abandon_reason = $11, updated_at = $12, version = version + 1
WHERE id = $1 AND version = $2;`

	r, err := toRow(ss)
	if err != nil {
		return err
	}

	tag, err := s.db.Exec(ctx, stmt,
		ss.ID, ss.Version,
		r.board, r.currentPlayer, r.status, r.winner, r.winningLine, r.moves,
		r.completedAt, r.durationNs, ss.AbandonReason, ss.UpdatedAt,
	)
	if err != nil {
		return errors.Unavailable("update session", err)
	}

	if tag.RowsAffected() == 1 {
		ss.Version++
		return nil
	}

	var actual int64
	err = s.db.QueryRow(ctx, `SELECT version FROM game_sessions WHERE id = $1`, ss.ID).Scan(&actual)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return errors.NotFound("session", ss.ID)
	}
	if err != nil {
		return errors.Unavailable("update session", err)
	}

	return errors.New(errors.CodeAborted,
		errors.WithReason(errors.ReasonConcurrencyConflict),
		errors.WithMessagef("session was modified concurrently: session=%d expected_version=%d actual_version=%d", ss.ID, ss.Version, actual),
	)
}

func (s *Store) CountSessions(ctx context.Context, statuses ...domain.Status) (int64, error) {
	var (
		n   int64
		err error
	)
	if len(statuses) == 0 {
		err = s.db.QueryRow(ctx, `SELECT COUNT(*) FROM game_sessions`).Scan(&n)
	} else {
		ss := make([]string, 0, len(statuses))
		for _, st := range statuses {
			ss = append(ss, string(st))
		}
		err = s.db.QueryRow(ctx, `SELECT COUNT(*) FROM game_sessions WHERE status = ANY($1)`, ss).Scan(&n)
	}
	if err != nil {
		return 0, errors.Unavailable("count sessions", err)
	}
	return n, nil
}

func (s *Store) SessionStats(ctx context.Context) (domain.GameStats, error) {
	const stmt = `
SELECT
	COUNT(*),
	COUNT(*) FILTER (WHERE status IN ('waiting', 'in_progress')),
	COUNT(*) FILTER (WHERE status = 'completed'),
	COUNT(*) FILTER (WHERE status = 'abandoned'),
	COUNT(*) FILTER (WHERE status = 'completed' AND winner = 'X'),
	COUNT(*) FILTER (WHERE status = 'completed' AND winner = 'O'),
	COUNT(*) FILTER (WHERE status = 'completed' AND winner = 'draw'),
	COALESCE(ROUND(AVG(duration_ns) FILTER (WHERE status = 'completed') / 1000000000, 2), 0),
	(SELECT COUNT(*) FROM users)
FROM game_sessions;`

	var st domain.GameStats
	err := s.db.QueryRow(ctx, stmt).Scan(
		&st.TotalGames, &st.ActiveGames, &st.CompletedGames, &st.AbandonedGames,
		&st.WinDistribution.X, &st.WinDistribution.O, &st.WinDistribution.Draw,
		&st.AverageGameDuration, &st.TotalUsers,
	)
	if err != nil {
		return domain.GameStats{}, errors.Unavailable("session stats", err)
	}

	return st, nil
}
