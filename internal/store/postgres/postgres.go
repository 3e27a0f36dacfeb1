// Package postgres implements the repository on PostgreSQL with pgx.
package postgres

import (
	"context"
	_ "embed"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/xo/internal/domain"
	"github.com/victornm/xo/internal/errors"
)

const codeUniqueViolation = "23505"

//go:embed schema.sql
var schema string

type Config struct {
	Addr     string
	User     string
	Pass     string
	Name     string
	MaxConns int32
}

func (c Config) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s", c.User, c.Pass, c.Addr, c.Name)
}

type Store struct {
	db *pgxpool.Pool
}

// Connect opens a pool and checks it with a ping.
func Connect(ctx context.Context, c Config) (*Store, error) {
	cc, err := pgxpool.ParseConfig(c.ConnString())
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if c.MaxConns > 0 {
		cc.MaxConns = c.MaxConns
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("new pool: %w", err)
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return New(db), nil
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Migrate creates the schema if it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.db.Close()
	return nil
}

func (s *Store) NextID(ctx context.Context) (int64, error) {
	var id int64
	if err := s.db.QueryRow(ctx, `SELECT nextval('record_id_seq')`).Scan(&id); err != nil {
		return 0, errors.Unavailable("next id", err)
	}
	return id, nil
}

func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	const stmt = `
INSERT INTO users (id, username, email, created_at, updated_at, last_active)
VALUES ($1, $2, $3, $4, $5, $6);`

	_, err := s.db.Exec(ctx, stmt, u.ID, u.Username, u.Email, u.CreatedAt, u.UpdatedAt, u.LastActive)
	if isUniqueViolation(err) {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("username is taken: username=%s", u.Username),
			errors.WithCause(err),
		)
	}
	if err != nil {
		return errors.Unavailable("create user", err)
	}
	return nil
}

const selectUser = `
SELECT id, username, email, games_played, games_won, games_lost, games_drawn, total_score, win_rate,
       created_at, updated_at, last_active
FROM users`

func (s *Store) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	u, err := s.getUser(ctx, selectUser+` WHERE id = $1`, id)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("user", id)
	}
	return u, err
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	u, err := s.getUser(ctx, selectUser+` WHERE username = $1`, username)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("user", username)
	}
	return u, err
}

func (s *Store) getUser(ctx context.Context, stmt string, arg any) (*domain.User, error) {
	var u domain.User
	err := s.db.QueryRow(ctx, stmt, arg).Scan(
		&u.ID, &u.Username, &u.Email,
		&u.Stats.GamesPlayed, &u.Stats.GamesWon, &u.Stats.GamesLost, &u.Stats.GamesDrawn,
		&u.Stats.TotalScore, &u.Stats.WinRate,
		&u.CreatedAt, &u.UpdatedAt, &u.LastActive,
	)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, errors.Unavailable("get user", err)
	}

	u.CreatedAt, u.UpdatedAt, u.LastActive = u.CreatedAt.UTC(), u.UpdatedAt.UTC(), u.LastActive.UTC()
	return &u, nil
}

func (s *Store) TouchUser(ctx context.Context, id int64, at time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE users SET last_active = $2 WHERE id = $1`, id, at)
	if err != nil {
		return errors.Unavailable("touch user", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("user", id)
	}
	return nil
}

func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, errors.Unavailable("count users", err)
	}
	return n, nil
}

// inTx runs fn in a transaction. The transaction is rolled back when fn fails.
func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Unavailable("begin", err)
	}

	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !stderrors.Is(rbErr, pgx.ErrTxClosed) {
				err = stderrors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Unavailable("commit", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

// nullTime maps the zero time to NULL.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func fromNullTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
