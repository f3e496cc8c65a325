package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/quizlive/internal/domain"
	"github.com/victornm/quizlive/internal/errors"
)

func TestSession_AddParticipant_UniqueNames(t *testing.T) {
	s, rec := makeSession(t)

	var names []string
	for _, h := range []string{"c1", "c2", "c3"} {
		name, err := s.AddParticipant(context.Background(), h, "Alice")
		require.NoError(t, err)
		names = append(names, name)
	}

	assert.Equal(t, []string{"Alice", "Alice #2", "Alice #3"}, names)

	// Each join broadcasts the grown roster.
	rosters := rec.broadcasts(domain.EventKindRosterUpdated)
	require.Len(t, rosters, 3)
	assert.Equal(t, []string{"Alice", "Alice #2", "Alice #3"},
		rosters[2].(domain.EventRosterUpdated).Names)
}

func TestSession_AddParticipant_SuffixSkipsTakenNames(t *testing.T) {
	s, _ := makeSession(t)

	_, err := s.AddParticipant(context.Background(), "c1", "Alice #2")
	require.NoError(t, err)

	name, err := s.AddParticipant(context.Background(), "c2", "Alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", name)

	name, err = s.AddParticipant(context.Background(), "c3", "Alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice #3", name, "suffix #2 is taken, the next free one is used")
}

func TestSession_AddParticipant_RejectedOutsideLobby(t *testing.T) {
	s, _ := makeSession(t)

	_, err := s.AddParticipant(context.Background(), "c1", "Alice")
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	_, err = s.AddParticipant(context.Background(), "c2", "Bob")
	assert.Equal(t, errors.CodeFailedPrecondition, errors.Convert(err).Code)
}

func TestSession_Start_Twice(t *testing.T) {
	s, _ := makeSession(t)

	_, err := s.AddParticipant(context.Background(), "c1", "Alice")
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	err = s.Start(context.Background())
	assert.Equal(t, errors.CodeFailedPrecondition, errors.Convert(err).Code)
}

func TestSession_SubmitAnswer(t *testing.T) {
	type state struct {
		active  *activeQuestion
		scored  map[int]int64
		elapsed time.Duration
	}

	openFor := func(d time.Duration) *activeQuestion {
		return &activeQuestion{id: 0, correct: 1, duration: 10 * time.Second, openedAt: time.Now().Add(-d)}
	}

	tests := map[string]struct {
		arrange  func() state
		question int
		answer   int
		wantCode errors.Code
	}{
		"no active question": {
			arrange:  func() state { return state{} },
			question: 0, answer: 1,
			wantCode: errors.CodeFailedPrecondition,
		},
		"question id does not match the open one": {
			arrange:  func() state { return state{active: openFor(time.Second)} },
			question: 3, answer: 1,
			wantCode: errors.CodeFailedPrecondition,
		},
		"late answer is rejected, not scored": {
			arrange:  func() state { return state{active: openFor(11 * time.Second)} },
			question: 0, answer: 1,
			wantCode: errors.CodeDeadlineExceeded,
		},
		"duplicate answer is rejected": {
			arrange: func() state {
				return state{active: openFor(time.Second), scored: map[int]int64{0: 820}}
			},
			question: 0, answer: 1,
			wantCode: errors.CodeAlreadyExists,
		},
		"on-time answer is accepted": {
			arrange:  func() state { return state{active: openFor(time.Second)} },
			question: 0, answer: 1,
			wantCode: 0,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			s, _ := makeSession(t)
			_, err := s.AddParticipant(context.Background(), "c1", "Alice")
			require.NoError(t, err)

			st := tt.arrange()
			s.mu.Lock()
			s.active = st.active
			for q, pts := range st.scored {
				s.participants["c1"].points[q] = pts
			}
			s.mu.Unlock()

			err = s.SubmitAnswer(context.Background(), "c1", tt.question, tt.answer)
			if tt.wantCode == 0 {
				require.NoError(t, err)
				return
			}
			assert.Equal(t, tt.wantCode, errors.Convert(err).Code)
		})
	}
}

func TestSession_SubmitAnswer_FirstAnswerWins(t *testing.T) {
	s, _ := makeSession(t)

	_, err := s.AddParticipant(context.Background(), "c1", "Alice")
	require.NoError(t, err)

	s.mu.Lock()
	s.active = &activeQuestion{id: 0, correct: 1, duration: 10 * time.Second, openedAt: time.Now()}
	s.mu.Unlock()

	require.NoError(t, s.SubmitAnswer(context.Background(), "c1", 0, 2), "wrong answer, scored 0")

	err = s.SubmitAnswer(context.Background(), "c1", 0, 1)
	assert.Equal(t, errors.CodeAlreadyExists, errors.Convert(err).Code,
		"a repeated correct submission never re-scores")

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, int64(0), s.participants["c1"].points[0])
}

func TestSession_QuestionLoop(t *testing.T) {
	s, rec := makeSession(t,
		withQuestions(stubSource{qs: []domain.Question{
			{Prompt: "q0", Options: []string{"a", "b", "c", "d"}, CorrectIndex: 1},
			{Prompt: "q1", Options: []string{"a", "b", "c", "d"}, CorrectIndex: 0},
		}}),
		withTiming(2, 300*time.Millisecond, 10*time.Millisecond),
	)

	_, err := s.AddParticipant(context.Background(), "c1", "Alice")
	require.NoError(t, err)
	_, err = s.AddParticipant(context.Background(), "c2", "Bob")
	require.NoError(t, err)

	ended := make(chan string)
	s.c.OnEnd = func(code string) { ended <- code }

	require.NoError(t, s.Start(context.Background()))

	// Answer the first question correctly as Alice, wrong as Bob.
	rec.waitForBroadcast(t, domain.EventKindQuestionOpened)
	require.NoError(t, s.SubmitAnswer(context.Background(), "c1", 0, 1))
	require.NoError(t, s.SubmitAnswer(context.Background(), "c2", 0, 3))

	select {
	case code := <-ended:
		assert.Equal(t, s.Code(), code)
	case <-time.After(2 * time.Second):
		t.Fatal("game never ended")
	}

	assert.Equal(t, PhaseFinished, s.Phase())

	// One start, one open+close per question, one final standings.
	assert.Len(t, rec.broadcasts(domain.EventKindGameStarted), 1)
	assert.Len(t, rec.broadcasts(domain.EventKindQuestionOpened), 2)

	// Correctness is revealed privately per participant, after the window.
	reveals := rec.sends("c1", domain.EventKindQuestionClosed)
	require.Len(t, reveals, 2)
	assert.True(t, reveals[0].(domain.EventQuestionClosed).WasCorrect)
	assert.False(t, reveals[1].(domain.EventQuestionClosed).WasCorrect, "no answer counts as wrong")

	bobReveals := rec.sends("c2", domain.EventKindQuestionClosed)
	require.Len(t, bobReveals, 2)
	assert.False(t, bobReveals[0].(domain.EventQuestionClosed).WasCorrect)

	// Final standings: everyone exactly once, totals summed, points
	// descending with ties broken by name.
	endeds := rec.broadcasts(domain.EventKindGameEnded)
	require.Len(t, endeds, 1)
	st := endeds[0].(domain.EventGameEnded).Standings
	require.Len(t, st, 2)
	assert.Equal(t, "Alice", st[0].Name)
	assert.Greater(t, st[0].Points, int64(0))
	assert.Equal(t, domain.Standing{Name: "Bob", Points: 0}, st[1])
}

func TestSession_QuestionLoop_AbortsWhenSourceFails(t *testing.T) {
	s, rec := makeSession(t,
		withQuestions(stubSource{err: context.DeadlineExceeded}),
	)

	_, err := s.AddParticipant(context.Background(), "c1", "Alice")
	require.NoError(t, err)

	ended := make(chan string, 1)
	s.c.OnEnd = func(code string) { ended <- code }

	require.NoError(t, s.Start(context.Background()))

	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatal("aborted game never signalled")
	}

	assert.Equal(t, PhaseFinished, s.Phase())
	assert.Len(t, rec.broadcasts(domain.EventKindError), 1)
	assert.Empty(t, rec.broadcasts(domain.EventKindGameEnded))
}

func TestSession_DrainCancelsLoop(t *testing.T) {
	s, rec := makeSession(t,
		withTiming(3, 300*time.Millisecond, 10*time.Millisecond),
	)

	_, err := s.AddParticipant(context.Background(), "c1", "Alice")
	require.NoError(t, err)

	s.c.OnEnd = func(string) { t.Error("OnEnd must not fire for a drained session") }

	require.NoError(t, s.Start(context.Background()))
	rec.waitForBroadcast(t, domain.EventKindQuestionOpened)

	empty := s.RemoveParticipant(context.Background(), "c1")
	require.True(t, empty)
	assert.Equal(t, PhaseFinished, s.Phase())

	// The loop is cancelled mid-window: no reveal, no standings, no
	// further questions for a late straggler to observe.
	seen := rec.count()
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, seen, rec.count(), "no events after teardown")
	assert.Empty(t, rec.broadcasts(domain.EventKindGameEnded))
}

func TestSession_RemoveParticipant(t *testing.T) {
	s, rec := makeSession(t)

	_, err := s.AddParticipant(context.Background(), "c1", "Alice")
	require.NoError(t, err)
	_, err = s.AddParticipant(context.Background(), "c2", "Bob")
	require.NoError(t, err)

	empty := s.RemoveParticipant(context.Background(), "c2")
	assert.False(t, empty)

	rosters := rec.broadcasts(domain.EventKindRosterUpdated)
	assert.Equal(t, []string{"Alice"}, rosters[len(rosters)-1].(domain.EventRosterUpdated).Names)

	// Unknown handle is a no-op.
	assert.False(t, s.RemoveParticipant(context.Background(), "ghost"))
}

// --- helpers ---

type stubSource struct {
	qs  []domain.Question
	err error
}

func (s stubSource) Random(_ context.Context, n int) ([]domain.Question, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.qs) >= n {
		return s.qs[:n], nil
	}
	return s.qs, nil
}

type recorded struct {
	target string // handle for sends, code for broadcasts
	bcast  bool
	event  domain.ClientEvent
}

// recorder is an in-memory transport capturing every outbound event.
type recorder struct {
	mu     sync.Mutex
	events []recorded
}

func (r *recorder) Send(_ context.Context, handle string, e domain.ClientEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recorded{target: handle, event: e})
	return nil
}

func (r *recorder) Broadcast(_ context.Context, code string, e domain.ClientEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recorded{target: code, bcast: true, event: e})
	return nil
}

func (r *recorder) broadcasts(kind string) []domain.ClientEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.ClientEvent
	for _, rec := range r.events {
		if rec.bcast && rec.event.Kind() == kind {
			out = append(out, rec.event)
		}
	}
	return out
}

func (r *recorder) sends(handle, kind string) []domain.ClientEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.ClientEvent
	for _, rec := range r.events {
		if !rec.bcast && rec.target == handle && rec.event.Kind() == kind {
			out = append(out, rec.event)
		}
	}
	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder) waitForBroadcast(t *testing.T, kind string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(r.broadcasts(kind)) > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for broadcast %q", kind)
}

type options func(c *Config)

func withQuestions(src stubSource) options {
	return func(c *Config) {
		c.Questions = src
	}
}

func withTiming(count int, duration, gap time.Duration) options {
	return func(c *Config) {
		c.QuestionCount = count
		c.QuestionDuration = duration
		c.QuestionGap = gap
	}
}

func makeSession(t *testing.T, opts ...options) (*Session, *recorder) {
	t.Helper()

	rec := &recorder{}
	c := Config{
		Code:      "000042",
		Transport: rec,
		Questions: stubSource{qs: []domain.Question{
			{Prompt: "q0", Options: []string{"a", "b", "c", "d"}, CorrectIndex: 1},
		}},
		QuestionCount:    1,
		QuestionDuration: 10 * time.Second,
		QuestionGap:      time.Millisecond,
	}

	for _, opt := range opts {
		opt(&c)
	}

	return New(c), rec
}
