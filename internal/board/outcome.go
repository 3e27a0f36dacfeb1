package board

// Outcome is the classification of a board. It is one of Ongoing, Win or Draw.
type Outcome interface {
	isOutcome()
	// Terminal reports whether the game is over.
	Terminal() bool
}

// Ongoing means the game can continue.
type Ongoing struct{}

// Win means Mark owns every cell of Line.
type Win struct {
	Mark Mark
	Line Line
}

// Draw means the board is full and nobody won.
type Draw struct{}

func (Ongoing) isOutcome() {}
func (Win) isOutcome()     {}
func (Draw) isOutcome()    {}

func (Ongoing) Terminal() bool { return false }
func (Win) Terminal() bool     { return true }
func (Draw) Terminal() bool    { return true }

// DetectOutcome classifies b. The first completed line in Lines order is reported.
func DetectOutcome(b Board) Outcome {
	for _, l := range Lines {
		m := b[l[0]]
		if m != Empty && m == b[l[1]] && m == b[l[2]] {
			return Win{Mark: m, Line: l}
		}
	}

	if b.Full() {
		return Draw{}
	}

	return Ongoing{}
}
