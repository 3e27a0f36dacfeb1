package domain

const (
	EventNameSessionUpdated     = "session.updated"
	EventNameScoreApplied       = "score.applied"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

// EventSessionUpdated is published after every accepted state change of a session.
type EventSessionUpdated struct {
	Session Session
}

func (EventSessionUpdated) Name() string { return EventNameSessionUpdated }

// EventScoreApplied is published once per completed session, when its results are recorded.
type EventScoreApplied struct {
	Results []GameResult
}

func (EventScoreApplied) Name() string { return EventNameScoreApplied }

// EventLeaderboardUpdated carries the entries that changed.
type EventLeaderboardUpdated struct {
	Entries []LeaderboardEntry
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
