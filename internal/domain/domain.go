package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/victornm/xo/internal/board"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusAbandoned  Status = "abandoned"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusInProgress, StatusCompleted, StatusAbandoned:
		return true
	}
	return false
}

// WinnerDraw is the persisted winner marker of a drawn game.
const WinnerDraw = "draw"

// PlayerRef identifies a participant of a session.
type PlayerRef struct {
	UserID   int64
	Username string
}

// Move is an append-only record of one placed mark.
type Move struct {
	PlayerID   int64
	Mark       board.Mark
	Cell       int
	Timestamp  time.Time
	MoveNumber int
}

// Session represents a match between two players.
// Outcome is nil until the session completes; an abandoned session has no outcome.
type Session struct {
	ID            int64
	PlayerX       PlayerRef
	PlayerO       PlayerRef
	Board         board.Board
	CurrentPlayer board.Mark
	Status        Status
	Outcome       board.Outcome
	Moves         []Move
	StartedAt     time.Time
	CompletedAt   time.Time
	Duration      time.Duration
	AbandonReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	// Version is bumped on every write and used for optimistic concurrency.
	Version int64
}

// Clone returns a deep copy, so a failed transition never leaks into the original.
func (s *Session) Clone() *Session {
	c := *s
	c.Moves = append([]Move(nil), s.Moves...)
	return &c
}

// MarkOf returns the mark played by userID, or board.Empty if the user is not a participant.
func (s *Session) MarkOf(userID int64) board.Mark {
	switch userID {
	case s.PlayerX.UserID:
		return board.X
	case s.PlayerO.UserID:
		return board.O
	default:
		return board.Empty
	}
}

// Player returns the participant playing m.
func (s *Session) Player(m board.Mark) PlayerRef {
	if m == board.O {
		return s.PlayerO
	}
	return s.PlayerX
}

// Winner returns "X", "O", WinnerDraw or "" while the session has no terminal outcome.
func (s *Session) Winner() string {
	switch o := s.Outcome.(type) {
	case board.Win:
		return o.Mark.String()
	case board.Draw:
		return WinnerDraw
	default:
		return ""
	}
}

// WinningLine returns the winning line and true only for a won session.
func (s *Session) WinningLine() (board.Line, bool) {
	if w, ok := s.Outcome.(board.Win); ok {
		return w.Line, true
	}
	return board.Line{}, false
}

// User is a registered player profile.
type User struct {
	ID         int64
	Username   string
	Email      string
	Stats      Stats
	CreatedAt  time.Time
	UpdatedAt  time.Time
	LastActive time.Time
}

func (u *User) Ref() PlayerRef {
	return PlayerRef{UserID: u.ID, Username: u.Username}
}

// Stats are the cumulative competitive counters shared by users and leaderboard entries.
type Stats struct {
	GamesPlayed int64
	GamesWon    int64
	GamesLost   int64
	GamesDrawn  int64
	TotalScore  int64
	// WinRate is a percentage rounded to two decimals.
	WinRate decimal.Decimal
}

// LeaderboardEntry is the ranked projection of a user's stats.
// Rank is assigned when the leaderboard is read and is never stored.
type LeaderboardEntry struct {
	UserID   int64
	Username string
	Rank     int
	Stats
	// AverageGameDuration is in seconds.
	AverageGameDuration decimal.Decimal
	LongestWinStreak    int64
	CurrentWinStreak    int64
	LastGameAt          time.Time
	// CreatedAt is the user's registration time and breaks ranking ties.
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Result is a participant's result of a completed game.
type Result string

const (
	ResultWin  Result = "win"
	ResultLoss Result = "loss"
	ResultDraw Result = "draw"
)

// ScoreBreakdown is the score awarded for one game.
type ScoreBreakdown struct {
	Base   int64
	Win    int64
	Speed  int64
	Streak int64
	Total  int64
}

// GameResult is the scoring record of one participant in one session.
type GameResult struct {
	SessionID  int64
	PlayerID   int64
	Username   string
	Result     Result
	Score      ScoreBreakdown
	Duration   time.Duration
	MovesCount int
	CreatedAt  time.Time
}

// GameStats is an aggregate view over all sessions and users.
type GameStats struct {
	TotalGames     int64
	ActiveGames    int64
	CompletedGames int64
	AbandonedGames int64
	TotalUsers     int64
	// AverageGameDuration is in seconds over completed games.
	AverageGameDuration decimal.Decimal
	WinDistribution     WinDistribution
}

type WinDistribution struct {
	X    int64
	O    int64
	Draw int64
}

// LeaderboardSummary is a digest of the whole leaderboard.
type LeaderboardSummary struct {
	TotalPlayers     int64
	TotalGames       int64
	TopPlayer        *LeaderboardEntry
	MostActivePlayer *LeaderboardEntry
	AverageWinRate   decimal.Decimal
}
