package game

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/victornm/quizlive/internal/domain"
	"github.com/victornm/quizlive/internal/errors"
	"github.com/victornm/quizlive/internal/event"
	"github.com/victornm/quizlive/internal/question"
	"github.com/victornm/quizlive/internal/score"
	"github.com/victornm/quizlive/internal/session"
)

// Matchmaking codes are drawn uniformly from [0, codeSpace) and
// re-rolled on collision with a live session. The space is large
// relative to any plausible number of concurrent sessions in one
// process, so retries stay rare.
const codeSpace = 1_000_000

const (
	defaultQuestionCount    = 3
	defaultQuestionDuration = 10 * time.Second
	defaultQuestionGap      = 5 * time.Second
)

type Config struct {
	Transport session.Transport
	Questions question.Source
	EventBus  *event.Bus
	Policy    score.Policy

	QuestionCount    int
	QuestionDuration time.Duration
	QuestionGap      time.Duration
}

// Manager is the single entry point for routed client intents. It owns
// the two registry indices (code -> session, handle -> code) and keeps
// them consistent under one lock: a join and a teardown racing on the
// same code can never leave a participant indexed to a dead session.
type Manager struct {
	c Config

	mu       sync.Mutex
	sessions map[string]*session.Session
	index    map[string]string
}

func NewManager(c Config) *Manager {
	if c.QuestionCount == 0 {
		c.QuestionCount = defaultQuestionCount
	}
	if c.QuestionDuration == 0 {
		c.QuestionDuration = defaultQuestionDuration
	}
	if c.QuestionGap == 0 {
		c.QuestionGap = defaultQuestionGap
	}

	return &Manager{
		c:        c,
		sessions: make(map[string]*session.Session),
		index:    make(map[string]string),
	}
}

type CreateGameRequest struct {
	Handle string
	Name   string
}

type CreateGameResponse struct {
	Code string
	Name string
}

// CreateGame opens a fresh lobby under a new code and admits the creator
// into it. A creator already sitting in another session leaves it first.
func (m *Manager) CreateGame(ctx context.Context, req CreateGameRequest) (*CreateGameResponse, error) {
	if req.Name == "" {
		return nil, m.reject(ctx, req.Handle, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("name is required")))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.index[req.Handle]; ok {
		m.leaveLocked(ctx, req.Handle, prev)
	}

	code := m.newCode()
	s := session.New(session.Config{
		Code:             code,
		Transport:        m.c.Transport,
		Questions:        m.c.Questions,
		EventBus:         m.c.EventBus,
		Policy:           m.c.Policy,
		QuestionCount:    m.c.QuestionCount,
		QuestionDuration: m.c.QuestionDuration,
		QuestionGap:      m.c.QuestionGap,
		OnEnd:            m.teardown,
	})

	name, err := s.AddParticipant(ctx, req.Handle, req.Name)
	if err != nil {
		return nil, m.reject(ctx, req.Handle, err)
	}

	m.sessions[code] = s
	m.index[req.Handle] = code

	m.send(ctx, req.Handle, domain.EventGameCreated{Code: code})

	return &CreateGameResponse{Code: code, Name: name}, nil
}

type JoinGameRequest struct {
	Handle string
	Code   string
	Name   string
}

type JoinGameResponse struct {
	Code string
	Name string
}

// JoinGame admits a player into the lobby identified by code. One
// connection belongs to at most one session, so joining while indexed to
// a different session implicitly leaves it first.
func (m *Manager) JoinGame(ctx context.Context, req JoinGameRequest) (*JoinGameResponse, error) {
	if req.Name == "" || req.Code == "" {
		return nil, m.reject(ctx, req.Handle, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("name and code are required")))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[req.Code]
	if !ok {
		return nil, m.reject(ctx, req.Handle, errors.New(errors.CodeNotFound,
			errors.WithMessagef("game with code %s does not exist", req.Code)))
	}

	if prev, ok := m.index[req.Handle]; ok {
		if prev == req.Code {
			return nil, m.reject(ctx, req.Handle, errors.New(errors.CodeAlreadyExists,
				errors.WithMessagef("you are in game %s already", req.Code)))
		}
		m.leaveLocked(ctx, req.Handle, prev)
	}

	name, err := s.AddParticipant(ctx, req.Handle, req.Name)
	if err != nil {
		return nil, m.reject(ctx, req.Handle, err)
	}

	m.index[req.Handle] = req.Code

	m.send(ctx, req.Handle, domain.EventJoinSuccessful{Code: req.Code, Name: name})

	return &JoinGameResponse{Code: req.Code, Name: name}, nil
}

type LeaveGameRequest struct {
	Handle string
}

// LeaveGame removes the connection from its current session.
func (m *Manager) LeaveGame(ctx context.Context, req LeaveGameRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	code, ok := m.index[req.Handle]
	if !ok {
		return m.reject(ctx, req.Handle, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("you are not in a game")))
	}

	m.leaveLocked(ctx, req.Handle, code)
	return nil
}

// Disconnect is the transport's connection-loss notification. It is the
// same as an explicit leave, minus the error chatter to a connection
// that no longer exists.
func (m *Manager) Disconnect(ctx context.Context, handle string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	code, ok := m.index[handle]
	if !ok {
		return
	}

	m.leaveLocked(ctx, handle, code)
}

type StartGameRequest struct {
	Handle string
}

// StartGame begins the question loop of the requester's session.
func (m *Manager) StartGame(ctx context.Context, req StartGameRequest) error {
	s, err := m.resolve(ctx, req.Handle)
	if err != nil {
		return err
	}

	if err := s.Start(ctx); err != nil {
		return m.reject(ctx, req.Handle, err)
	}

	return nil
}

type SubmitAnswerRequest struct {
	Handle      string
	QuestionID  int
	AnswerIndex int
}

// SubmitAnswer routes an answer to the requester's session. The
// session's own error kinds are forwarded unchanged.
func (m *Manager) SubmitAnswer(ctx context.Context, req SubmitAnswerRequest) error {
	s, err := m.resolve(ctx, req.Handle)
	if err != nil {
		return err
	}

	if err := s.SubmitAnswer(ctx, req.Handle, req.QuestionID, req.AnswerIndex); err != nil {
		return m.reject(ctx, req.Handle, err)
	}

	return nil
}

// SessionCount reports the number of live sessions.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// resolve maps a connection to its live session. Routing ops only need
// the lookup to be consistent; the session call itself happens outside
// the registry lock.
func (m *Manager) resolve(ctx context.Context, handle string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	code, ok := m.index[handle]
	if !ok {
		return nil, m.reject(ctx, handle, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("you are not in a game")))
	}

	s, ok := m.sessions[code]
	if !ok {
		// Index and session map are mutated together; reaching here
		// means a bug, not a race.
		return nil, m.reject(ctx, handle, errors.New(errors.CodeInternal,
			errors.WithMessagef("game %s is gone", code)))
	}

	return s, nil
}

// leaveLocked removes one participant and clears a drained session.
// Callers must hold mu.
func (m *Manager) leaveLocked(ctx context.Context, handle, code string) {
	delete(m.index, handle)

	s, ok := m.sessions[code]
	if !ok {
		return
	}

	if empty := s.RemoveParticipant(ctx, handle); empty {
		delete(m.sessions, code)
		slog.InfoContext(ctx, "game: session drained", "code", code)
	}
}

// teardown is the session's completion signal, invoked from its question
// loop. Participants who already departed individually are simply absent
// from the handles snapshot.
func (m *Manager) teardown(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[code]
	if !ok {
		return
	}

	for _, h := range s.Handles() {
		delete(m.index, h)
	}
	delete(m.sessions, code)

	slog.Info("game: session ended", "code", code)
}

func (m *Manager) newCode() string {
	for {
		n, err := rand.Int(rand.Reader, big.NewInt(codeSpace))
		if err != nil {
			// crypto/rand never fails on supported platforms.
			panic(fmt.Sprintf("game: draw code: %v", err))
		}

		code := fmt.Sprintf("%06d", n.Int64())
		if _, taken := m.sessions[code]; !taken {
			return code
		}
	}
}

// reject converts a failure into a private error event for the requester
// and hands the error back for the inbound surface. Other participants
// never see it.
func (m *Manager) reject(ctx context.Context, handle string, err error) error {
	e := errors.Convert(err)
	m.send(ctx, handle, domain.EventError{Message: e.Message})
	return e
}

func (m *Manager) send(ctx context.Context, handle string, e domain.ClientEvent) {
	if err := m.c.Transport.Send(ctx, handle, e); err != nil {
		slog.ErrorContext(ctx, "game: send failed",
			"event", e.Kind(),
			"error", err,
		)
	}
}
