// Package board is the tic-tac-toe rules engine: a 9-cell grid, move legality and outcome detection.
// Everything in this package is pure; boards are values and are never mutated in place.
package board

import (
	"fmt"

	"github.com/victornm/xo/internal/errors"
)

// Size is the number of cells on the board.
const Size = 9

// Mark is the symbol a player places on the board.
type Mark uint8

const (
	Empty Mark = iota
	X
	O
)

// ParseMark converts the persisted form of a mark back into a Mark. The empty string is Empty.
func ParseMark(s string) (Mark, error) {
	switch s {
	case "":
		return Empty, nil
	case "X":
		return X, nil
	case "O":
		return O, nil
	default:
		return Empty, fmt.Errorf("board: unknown mark %q", s)
	}
}

func (m Mark) String() string {
	switch m {
	case X:
		return "X"
	case O:
		return "O"
	default:
		return ""
	}
}

// Opponent returns the mark that plays after m. Empty has no opponent.
func (m Mark) Opponent() Mark {
	switch m {
	case X:
		return O
	case O:
		return X
	default:
		return Empty
	}
}

// Line is an ordered triple of cell indices.
type Line [3]int

// Lines lists every winning line in the order they are checked:
// rows top to bottom, columns left to right, then the two diagonals.
var Lines = [8]Line{
	{0, 1, 2},
	{3, 4, 5},
	{6, 7, 8},
	{0, 3, 6},
	{1, 4, 7},
	{2, 5, 8},
	{0, 4, 8},
	{2, 4, 6},
}

// Board is a 3x3 grid in row-major order.
type Board [Size]Mark

// Count returns how many cells hold m.
func (b Board) Count(m Mark) int {
	n := 0
	for _, c := range b {
		if c == m {
			n++
		}
	}
	return n
}

// Full reports whether no cell is empty.
func (b Board) Full() bool {
	return b.Count(Empty) == 0
}

// Validate checks that the board is reachable by alternating play with X first.
func (b Board) Validate() error {
	if d := b.Count(X) - b.Count(O); d != 0 && d != 1 {
		return fmt.Errorf("board: unbalanced marks: X=%d O=%d", b.Count(X), b.Count(O))
	}
	return nil
}

// Strings returns the persisted form of the board, one string per cell.
func (b Board) Strings() []string {
	out := make([]string, Size)
	for i, c := range b {
		out[i] = c.String()
	}
	return out
}

// FromStrings is the inverse of Strings.
func FromStrings(cells []string) (Board, error) {
	var b Board
	if len(cells) != Size {
		return b, fmt.Errorf("board: expected %d cells, got %d", Size, len(cells))
	}
	for i, s := range cells {
		m, err := ParseMark(s)
		if err != nil {
			return b, err
		}
		b[i] = m
	}
	return b, nil
}

// IsLegalMove returns nil when cell is on the board and empty.
func IsLegalMove(b Board, cell int) error {
	if cell < 0 || cell >= Size {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithReason(errors.ReasonInvalidMove),
			errors.WithMessagef("invalid move: cell %d is out of range [0, %d]", cell, Size-1),
		)
	}

	if b[cell] != Empty {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithReason(errors.ReasonInvalidMove),
			errors.WithMessagef("invalid move: cell %d is occupied by %s", cell, b[cell]),
		)
	}

	return nil
}

// Apply returns a copy of b with cell set to m. Callers check legality first.
func Apply(b Board, cell int, m Mark) Board {
	b[cell] = m
	return b
}
