package session_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/xo/internal/board"
	"github.com/victornm/xo/internal/domain"
	"github.com/victornm/xo/internal/errors"
	"github.com/victornm/xo/internal/session"
)

var (
	epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	alice = domain.PlayerRef{UserID: 1, Username: "alice"}
	bob   = domain.PlayerRef{UserID: 2, Username: "bob"}
)

type move struct {
	player int64
	cell   int
}

// play applies moves one second apart and stops at the first error.
func play(ss *domain.Session, moves ...move) (board.Outcome, error) {
	var (
		outcome board.Outcome = board.Ongoing{}
		err     error
	)
	for i, m := range moves {
		outcome, err = session.Apply(ss, m.player, m.cell, epoch.Add(time.Duration(i+1)*time.Second))
		if err != nil {
			return nil, err
		}
	}
	return outcome, nil
}

func TestApply(t *testing.T) {
	tests := map[string]struct {
		moves  []move
		assert func(t *testing.T, ss *domain.Session, outcome board.Outcome, err error)
	}{
		"the first move should start the session and pass the turn": {
			moves: []move{{1, 4}},
			assert: func(t *testing.T, ss *domain.Session, outcome board.Outcome, err error) {
				require.NoError(t, err)
				assert.Equal(t, board.Ongoing{}, outcome)
				assert.Equal(t, domain.StatusInProgress, ss.Status)
				assert.Equal(t, board.O, ss.CurrentPlayer)
				assert.Equal(t, board.X, ss.Board[4])
				require.Len(t, ss.Moves, 1)
				assert.Equal(t, domain.Move{PlayerID: 1, Mark: board.X, Cell: 4, Timestamp: epoch.Add(time.Second), MoveNumber: 1}, ss.Moves[0])
			},
		},

		"X should win on the main diagonal": {
			moves: []move{{1, 0}, {2, 1}, {1, 2}, {2, 3}, {1, 4}, {2, 5}, {1, 8}},
			assert: func(t *testing.T, ss *domain.Session, outcome board.Outcome, err error) {
				require.NoError(t, err)
				assert.Equal(t, board.Win{Mark: board.X, Line: board.Line{0, 4, 8}}, outcome)
				assert.Equal(t, domain.StatusCompleted, ss.Status)
				assert.Equal(t, "X", ss.Winner())
				assert.Equal(t, epoch.Add(7*time.Second), ss.CompletedAt)
				assert.Equal(t, 7*time.Second, ss.Duration)
				assert.Len(t, ss.Moves, 7)
			},
		},

		"a full board without a line should be a draw": {
			moves: []move{{1, 0}, {2, 1}, {1, 2}, {2, 4}, {1, 3}, {2, 5}, {1, 7}, {2, 6}, {1, 8}},
			assert: func(t *testing.T, ss *domain.Session, outcome board.Outcome, err error) {
				require.NoError(t, err)
				assert.Equal(t, board.Draw{}, outcome)
				assert.Equal(t, domain.StatusCompleted, ss.Status)
				assert.Equal(t, domain.WinnerDraw, ss.Winner())
				_, ok := ss.WinningLine()
				assert.False(t, ok)
			},
		},

		"O moving first should not be their turn": {
			moves: []move{{2, 0}},
			assert: func(t *testing.T, ss *domain.Session, _ board.Outcome, err error) {
				assert.ErrorIs(t, err, errors.ErrNotYourTurn)
				assert.ErrorContains(t, err, "expected=X actual=O")
				assert.Equal(t, domain.StatusWaiting, ss.Status)
				assert.Empty(t, ss.Moves)
			},
		},

		"a stranger should not be able to move": {
			moves: []move{{3, 0}},
			assert: func(t *testing.T, ss *domain.Session, _ board.Outcome, err error) {
				assert.ErrorIs(t, err, errors.ErrNotYourTurn)
				assert.ErrorContains(t, err, "not a participant")
			},
		},

		"an occupied cell should be rejected without changing the session": {
			moves: []move{{1, 4}, {2, 4}},
			assert: func(t *testing.T, ss *domain.Session, _ board.Outcome, err error) {
				assert.ErrorIs(t, err, errors.ErrInvalidMove)
				assert.Len(t, ss.Moves, 1)
				assert.Equal(t, board.O, ss.CurrentPlayer)
			},
		},

		"an out of range cell should be rejected": {
			moves: []move{{1, 9}},
			assert: func(t *testing.T, ss *domain.Session, _ board.Outcome, err error) {
				assert.ErrorIs(t, err, errors.ErrInvalidMove)
				assert.Equal(t, board.Board{}, ss.Board)
			},
		},

		"a move after the game ended should be rejected": {
			moves: []move{{1, 0}, {2, 3}, {1, 1}, {2, 4}, {1, 2}, {2, 5}},
			assert: func(t *testing.T, ss *domain.Session, _ board.Outcome, err error) {
				assert.ErrorIs(t, err, errors.ErrSessionTerminal)
				assert.Equal(t, "X", ss.Winner())
				assert.Len(t, ss.Moves, 5)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			ss := session.New(10, alice, bob, epoch)
			outcome, err := play(ss, tt.moves...)
			tt.assert(t, ss, outcome, err)
		})
	}
}

func TestAbandon(t *testing.T) {
	tests := map[string]struct {
		arrange func(ss *domain.Session)
		changed bool
		wantErr error
	}{
		"a waiting session can be abandoned": {
			arrange: func(*domain.Session) {},
			changed: true,
		},
		"an in progress session can be abandoned": {
			arrange: func(ss *domain.Session) {
				_, _ = play(ss, move{1, 0})
			},
			changed: true,
		},
		"abandoning twice should be a no-op": {
			arrange: func(ss *domain.Session) {
				_, _ = session.Abandon(ss, "timeout", epoch)
			},
		},
		"a completed session cannot be abandoned": {
			arrange: func(ss *domain.Session) {
				_, _ = play(ss, move{1, 0}, move{2, 3}, move{1, 1}, move{2, 4}, move{1, 2})
			},
			wantErr: errors.ErrSessionTerminal,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			ss := session.New(10, alice, bob, epoch)
			tt.arrange(ss)
			before := ss.Clone()

			changed, err := session.Abandon(ss, "player left", epoch.Add(time.Minute))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, before, ss)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.changed, changed)
			assert.Equal(t, domain.StatusAbandoned, ss.Status)
			assert.Nil(t, ss.Outcome)
			if changed {
				assert.Equal(t, "player left", ss.AbandonReason)
				assert.Equal(t, time.Minute, ss.Duration)
			} else {
				assert.Equal(t, before, ss)
			}

			_, err = session.Apply(ss, 1, 8, epoch.Add(2*time.Minute))
			assert.ErrorIs(t, err, errors.ErrSessionTerminal)
		})
	}
}
