package domain

// Client events delivered over the transport. The set is closed: every
// message a participant can receive is one of the variants below.

const (
	EventKindGameCreated    = "game_created"
	EventKindJoinSuccessful = "join_successful"
	EventKindError          = "error"
	EventKindGameStarted    = "game_started"
	EventKindQuestionOpened = "question"
	EventKindRosterUpdated  = "users_list"
	EventKindQuestionClosed = "question_end"
	EventKindGameEnded      = "quiz_end"
)

// ClientEvent is one outbound message for a participant.
type ClientEvent interface {
	Kind() string
}

// EventGameCreated is sent to the creator with the matchmaking code.
type EventGameCreated struct {
	Code string `json:"code"`
}

func (EventGameCreated) Kind() string { return EventKindGameCreated }

// EventJoinSuccessful carries the display name assigned to the joiner,
// which may differ from the requested one on collision.
type EventJoinSuccessful struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

func (EventJoinSuccessful) Kind() string { return EventKindJoinSuccessful }

type EventError struct {
	Message string `json:"message"`
}

func (EventError) Kind() string { return EventKindError }

type EventGameStarted struct{}

func (EventGameStarted) Kind() string { return EventKindGameStarted }

// EventQuestionOpened announces a question to the whole session. The
// correct index is never part of the payload.
type EventQuestionOpened struct {
	QuestionID      int      `json:"question_id"`
	DurationSeconds int      `json:"duration"`
	Prompt          string   `json:"prompt"`
	Options         []string `json:"options"`
}

func (EventQuestionOpened) Kind() string { return EventKindQuestionOpened }

type EventRosterUpdated struct {
	Names []string `json:"names"`
}

func (EventRosterUpdated) Kind() string { return EventKindRosterUpdated }

// EventQuestionClosed is the private per-participant reveal sent after
// the question's window has elapsed.
type EventQuestionClosed struct {
	QuestionID int  `json:"question_id"`
	WasCorrect bool `json:"was_correct"`
}

func (EventQuestionClosed) Kind() string { return EventKindQuestionClosed }

type EventGameEnded struct {
	Standings []Standing `json:"standings"`
}

func (EventGameEnded) Kind() string { return EventKindGameEnded }

// In-process bus events.

const (
	EventNameScoreUpdated = "score.updated"
	EventNameSessionEnded = "session.ended"
)

type EventScoreUpdated struct {
	Score Score
}

func (EventScoreUpdated) Name() string { return EventNameScoreUpdated }

type EventSessionEnded struct {
	Code string
}

func (EventSessionEnded) Name() string { return EventNameSessionEnded }
