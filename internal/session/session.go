package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/victornm/quizlive/internal/domain"
	"github.com/victornm/quizlive/internal/errors"
	"github.com/victornm/quizlive/internal/event"
	"github.com/victornm/quizlive/internal/question"
	"github.com/victornm/quizlive/internal/score"
)

// Transport delivers outbound events to connected clients. The core only
// needs unicast and whole-session fanout; everything else is the
// adapter's business.
type Transport interface {
	Send(ctx context.Context, handle string, e domain.ClientEvent) error
	Broadcast(ctx context.Context, code string, e domain.ClientEvent) error
}

// Phase of the session state machine. Transitions are monotonic:
// Lobby -> Running -> Finished.
type Phase int

const (
	PhaseLobby Phase = iota
	PhaseRunning
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseLobby:
		return "lobby"
	case PhaseRunning:
		return "running"
	case PhaseFinished:
		return "finished"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

type Config struct {
	Code      string
	Transport Transport
	Questions question.Source
	EventBus  *event.Bus
	Policy    score.Policy

	QuestionCount    int
	QuestionDuration time.Duration
	QuestionGap      time.Duration

	// OnEnd is invoked exactly once, from the question loop goroutine,
	// when the session finishes or aborts on its own. It is not invoked
	// when the session drains to empty; the manager observes that
	// directly on RemoveParticipant.
	OnEnd func(code string)
}

// Session is one live game from lobby through completion. All state is
// guarded by mu; outbound events for the session are emitted while mu is
// held, so roster updates are ordered before any later question
// broadcast that reflects them.
type Session struct {
	c Config

	mu           sync.Mutex
	phase        Phase
	participants map[string]*participant
	order        []string
	active       *activeQuestion
	cancel       context.CancelFunc
}

type activeQuestion struct {
	id       int
	correct  int
	duration time.Duration
	openedAt time.Time
}

func New(c Config) *Session {
	return &Session{
		c:            c,
		phase:        PhaseLobby,
		participants: make(map[string]*participant),
	}
}

func (s *Session) Code() string { return s.c.Code }

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Handles returns the connection handles of all current participants.
func (s *Session) Handles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	hs := make([]string, len(s.order))
	copy(hs, s.order)
	return hs
}

// AddParticipant admits a player into the lobby under a name unique
// within the session, suffixing " #2", " #3", ... on collision. The
// updated roster is broadcast to everyone, the new player included.
func (s *Session) AddParticipant(ctx context.Context, handle, requestedName string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseLobby {
		return "", errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("game %s already started", s.c.Code))
	}

	name := s.uniqueName(requestedName)
	s.participants[handle] = newParticipant(handle, name)
	s.order = append(s.order, handle)

	s.broadcast(ctx, domain.EventRosterUpdated{Names: s.roster()})
	return name, nil
}

func (s *Session) uniqueName(requested string) string {
	if !s.nameTaken(requested) {
		return requested
	}
	for i := 2; ; i++ {
		name := fmt.Sprintf("%s #%d", requested, i)
		if !s.nameTaken(name) {
			return name
		}
	}
}

func (s *Session) nameTaken(name string) bool {
	for _, p := range s.participants {
		if p.name == name {
			return true
		}
	}
	return false
}

// RemoveParticipant drops a player and broadcasts the shrunken roster.
// Unknown handles are a no-op. When the last participant leaves the
// in-flight question loop is cancelled and the session closes; the
// caller owns the registry cleanup and is told so via empty=true.
func (s *Session) RemoveParticipant(ctx context.Context, handle string) (empty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.participants[handle]; !ok {
		return len(s.participants) == 0
	}

	delete(s.participants, handle)
	for i, h := range s.order {
		if h == handle {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	if len(s.participants) == 0 {
		s.close(ctx)
		return true
	}

	s.broadcast(ctx, domain.EventRosterUpdated{Names: s.roster()})
	return false
}

// close cancels the question loop and moves the session to Finished.
// Callers must hold mu.
func (s *Session) close(ctx context.Context) {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.active = nil
	s.phase = PhaseFinished

	if s.c.EventBus != nil {
		s.c.EventBus.Publish(ctx, domain.EventSessionEnded{Code: s.c.Code})
	}
}

// Start moves the session from Lobby to Running and launches the
// question loop. The error for a session already underway goes back to
// the requester only; the manager never broadcasts it.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseLobby {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("game %s is running already", s.c.Code))
	}

	s.phase = PhaseRunning

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	go s.run(loopCtx)

	return nil
}

// SubmitAnswer scores one on-time answer against the open question.
// The first accepted answer for a question is final: repeats are
// rejected with AlreadyExists no matter their content.
func (s *Session) SubmitAnswer(ctx context.Context, handle string, questionID, answerIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[handle]
	if !ok {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("you are not in game %s", s.c.Code))
	}

	if s.active == nil || s.active.id != questionID {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("question %d is not open", questionID))
	}

	elapsed := time.Since(s.active.openedAt)
	if elapsed > s.active.duration {
		return errors.New(errors.CodeDeadlineExceeded,
			errors.WithMessagef("question %d already ended", questionID))
	}

	if p.answered(questionID) {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("answer for question %d is already submitted", questionID))
	}

	pts := s.c.Policy.Evaluate(answerIndex, s.active.correct, elapsed, s.active.duration)
	p.record(questionID, pts)

	if s.c.EventBus != nil {
		s.c.EventBus.Publish(ctx, domain.EventScoreUpdated{Score: domain.Score{
			Code:   s.c.Code,
			Name:   p.name,
			Points: p.total(),
		}})
	}

	return nil
}

// run is the question loop. It owns the session's timed progression and
// is the only writer of active. Cancellation is checked at every
// suspension point; a cancelled loop emits nothing further.
func (s *Session) run(ctx context.Context) {
	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.broadcast(ctx, domain.EventGameStarted{})
	s.mu.Unlock()

	qs, err := s.c.Questions.Random(ctx, s.c.QuestionCount)
	if err != nil {
		s.abort(ctx, err)
		return
	}

	for i, q := range qs {
		s.openQuestion(ctx, i, q)

		if !s.wait(ctx, s.c.QuestionDuration) {
			return
		}

		s.closeQuestion(ctx, i)

		if i < len(qs)-1 && !s.wait(ctx, s.c.QuestionGap) {
			return
		}
	}

	s.finish(ctx)
}

// wait suspends for d, reporting false if the loop was cancelled first.
func (s *Session) wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return ctx.Err() == nil
	}
}

func (s *Session) openQuestion(ctx context.Context, id int, q domain.Question) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ctx.Err() != nil {
		return
	}

	s.active = &activeQuestion{
		id:       id,
		correct:  q.CorrectIndex,
		duration: s.c.QuestionDuration,
		openedAt: time.Now(),
	}

	s.broadcast(ctx, domain.EventQuestionOpened{
		QuestionID:      id,
		DurationSeconds: int(s.c.QuestionDuration / time.Second),
		Prompt:          q.Prompt,
		Options:         q.Options,
	})
}

// closeQuestion clears the window and reveals correctness to each
// participant privately. Correctness is individual information, so it is
// never broadcast.
func (s *Session) closeQuestion(ctx context.Context, id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ctx.Err() != nil {
		return
	}

	s.active = nil

	for _, h := range s.order {
		p := s.participants[h]
		s.send(ctx, h, domain.EventQuestionClosed{
			QuestionID: id,
			WasCorrect: p.wasCorrect(id),
		})
	}
}

func (s *Session) finish(ctx context.Context) {
	s.mu.Lock()

	if ctx.Err() != nil {
		s.mu.Unlock()
		return
	}

	s.broadcast(ctx, domain.EventGameEnded{Standings: s.standings()})
	s.close(ctx)
	s.mu.Unlock()

	if s.c.OnEnd != nil {
		s.c.OnEnd(s.c.Code)
	}
}

// abort degrades this session only, e.g. when the question bank is
// unavailable. Other live sessions are unaffected.
func (s *Session) abort(ctx context.Context, err error) {
	slog.ErrorContext(ctx, "session: aborting game",
		"code", s.c.Code,
		"error", err,
	)

	s.mu.Lock()

	if ctx.Err() != nil {
		s.mu.Unlock()
		return
	}

	s.broadcast(ctx, domain.EventError{Message: fmt.Sprintf("game %s aborted", s.c.Code)})
	s.close(ctx)
	s.mu.Unlock()

	if s.c.OnEnd != nil {
		s.c.OnEnd(s.c.Code)
	}
}

// standings ranks every current participant by total points, ties broken
// by name. Callers must hold mu.
func (s *Session) standings() []domain.Standing {
	st := make([]domain.Standing, 0, len(s.order))
	for _, h := range s.order {
		p := s.participants[h]
		st = append(st, domain.Standing{Name: p.name, Points: p.total()})
	}

	sort.Slice(st, func(i, j int) bool {
		if st[i].Points != st[j].Points {
			return st[i].Points > st[j].Points
		}
		return st[i].Name < st[j].Name
	})

	return st
}

// roster returns display names in join order. Callers must hold mu.
func (s *Session) roster() []string {
	names := make([]string, 0, len(s.order))
	for _, h := range s.order {
		names = append(names, s.participants[h].name)
	}
	return names
}

func (s *Session) broadcast(ctx context.Context, e domain.ClientEvent) {
	if err := s.c.Transport.Broadcast(ctx, s.c.Code, e); err != nil {
		slog.ErrorContext(ctx, "session: broadcast failed",
			"code", s.c.Code,
			"event", e.Kind(),
			"error", err,
		)
	}
}

func (s *Session) send(ctx context.Context, handle string, e domain.ClientEvent) {
	if err := s.c.Transport.Send(ctx, handle, e); err != nil {
		slog.ErrorContext(ctx, "session: send failed",
			"code", s.c.Code,
			"event", e.Kind(),
			"error", err,
		)
	}
}
