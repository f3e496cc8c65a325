package domain

// Question is one entry of a session's question sequence.
type Question struct {
	Prompt       string
	Options      []string
	CorrectIndex int
}

// Standing is one row of the final scoreboard. Standings are sorted by
// points in descending order, ties broken by name.
type Standing struct {
	Name   string
	Points int64
}

// Score represents one participant's running total within a session.
type Score struct {
	Code   string
	Name   string
	Points int64
}

// Leaderboard is the live score mirror for a session.
// The list is sorted by points in descending order.
type Leaderboard struct {
	Code    string
	Entries []LeaderboardEntry
}

type LeaderboardEntry struct {
	Name   string
	Points int64
}
