package session

import (
	"time"

	"github.com/victornm/xo/internal/board"
	"github.com/victornm/xo/internal/domain"
	"github.com/victornm/xo/internal/errors"
)

// New returns a session in the waiting state. X always moves first.
func New(id int64, playerX, playerO domain.PlayerRef, now time.Time) *domain.Session {
	return &domain.Session{
		ID:            id,
		PlayerX:       playerX,
		PlayerO:       playerO,
		CurrentPlayer: board.X,
		Status:        domain.StatusWaiting,
		Moves:         []domain.Move{},
		StartedAt:     now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Apply places the acting player's mark on cell and advances ss.
// On error ss is left untouched. The returned outcome is terminal when the move ended the game.
func Apply(ss *domain.Session, playerID int64, cell int, now time.Time) (board.Outcome, error) {
	if ss.Status.Terminal() {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonSessionTerminal),
			errors.WithMessagef("session is %s: session=%d", ss.Status, ss.ID),
		)
	}

	mark := ss.MarkOf(playerID)
	if mark == board.Empty {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonNotYourTurn),
			errors.WithMessagef("player is not a participant: session=%d player=%d", ss.ID, playerID),
		)
	}

	if mark != ss.CurrentPlayer {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonNotYourTurn),
			errors.WithMessagef("not your turn: session=%d expected=%s actual=%s", ss.ID, ss.CurrentPlayer, mark),
		)
	}

	if err := board.IsLegalMove(ss.Board, cell); err != nil {
		return nil, err
	}

	ss.Moves = append(ss.Moves, domain.Move{
		PlayerID:   playerID,
		Mark:       mark,
		Cell:       cell,
		Timestamp:  now,
		MoveNumber: len(ss.Moves) + 1,
	})
	ss.Board = board.Apply(ss.Board, cell, mark)
	ss.UpdatedAt = now
	if ss.Status == domain.StatusWaiting {
		ss.Status = domain.StatusInProgress
	}

	outcome := board.DetectOutcome(ss.Board)
	if outcome.Terminal() {
		ss.Status = domain.StatusCompleted
		ss.Outcome = outcome
		ss.CompletedAt = now
		ss.Duration = now.Sub(ss.StartedAt)
		return outcome, nil
	}

	ss.CurrentPlayer = mark.Opponent()
	return outcome, nil
}

// Abandon forces a non-terminal session into abandoned. It reports whether anything changed:
// abandoning an abandoned session is a no-op, abandoning a completed one fails.
func Abandon(ss *domain.Session, reason string, now time.Time) (bool, error) {
	switch ss.Status {
	case domain.StatusAbandoned:
		return false, nil
	case domain.StatusCompleted:
		return false, errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonSessionTerminal),
			errors.WithMessagef("session is completed: session=%d", ss.ID),
		)
	}

	ss.Status = domain.StatusAbandoned
	ss.AbandonReason = reason
	ss.CompletedAt = now
	ss.Duration = now.Sub(ss.StartedAt)
	ss.UpdatedAt = now
	return true, nil
}
