package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/victornm/quizlive/internal/errors"
	"github.com/victornm/quizlive/internal/game"
	"github.com/victornm/quizlive/internal/leaderboard"
)

type Config struct {
	Router      gin.IRouter
	Manager     *game.Manager
	Leaderboard *leaderboard.Service
	Pubsub      *Pubsub
}

// API is the inbound intent surface. Handlers only decode and route to
// the manager; everything a participant learns about a game arrives over
// the pubsub transport, the HTTP response is just the ack.
type API struct {
	gm *game.Manager
	ls *leaderboard.Service
	ps *Pubsub
}

func New(c Config) *API {
	a := &API{
		gm: c.Manager,
		ls: c.Leaderboard,
		ps: c.Pubsub,
	}

	v1 := c.Router.Group("/v1")
	v1.POST("/connect", a.connect)
	v1.POST("/disconnect", a.disconnect)
	v1.POST("/games", a.createGame)
	v1.POST("/games/join", a.joinGame)
	v1.POST("/games/leave", a.leaveGame)
	v1.POST("/games/start", a.startGame)
	v1.POST("/games/answers", a.submitAnswer)
	v1.GET("/leaderboard/:code", a.getLeaderboard)

	return a
}

// connect issues a fresh connection handle and tells the client which
// channel to listen on.
func (a *API) connect(c *gin.Context) {
	handle := uuid.NewString()

	c.JSON(http.StatusOK, gin.H{
		"handle":  handle,
		"channel": a.ps.ConnChannel(handle),
	})
}

type disconnectRequest struct {
	Handle string `json:"handle"`
}

func (a *API) disconnect(c *gin.Context) {
	var req disconnectRequest
	if !a.bind(c, &req) {
		return
	}

	a.gm.Disconnect(c.Request.Context(), req.Handle)
	c.Status(http.StatusOK)
}

type createGameRequest struct {
	Handle string `json:"handle"`
	Name   string `json:"name"`
}

func (a *API) createGame(c *gin.Context) {
	var req createGameRequest
	if !a.bind(c, &req) {
		return
	}

	resp, err := a.gm.CreateGame(c.Request.Context(), game.CreateGameRequest{
		Handle: req.Handle,
		Name:   req.Name,
	})
	if err != nil {
		a.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    resp.Code,
		"name":    resp.Name,
		"channel": a.ps.GameChannel(resp.Code),
	})
}

type joinGameRequest struct {
	Handle string `json:"handle"`
	Code   string `json:"code"`
	Name   string `json:"name"`
}

func (a *API) joinGame(c *gin.Context) {
	var req joinGameRequest
	if !a.bind(c, &req) {
		return
	}

	resp, err := a.gm.JoinGame(c.Request.Context(), game.JoinGameRequest{
		Handle: req.Handle,
		Code:   req.Code,
		Name:   req.Name,
	})
	if err != nil {
		a.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    resp.Code,
		"name":    resp.Name,
		"channel": a.ps.GameChannel(resp.Code),
	})
}

type leaveGameRequest struct {
	Handle string `json:"handle"`
}

func (a *API) leaveGame(c *gin.Context) {
	var req leaveGameRequest
	if !a.bind(c, &req) {
		return
	}

	if err := a.gm.LeaveGame(c.Request.Context(), game.LeaveGameRequest{
		Handle: req.Handle,
	}); err != nil {
		a.fail(c, err)
		return
	}

	c.Status(http.StatusOK)
}

type startGameRequest struct {
	Handle string `json:"handle"`
}

func (a *API) startGame(c *gin.Context) {
	var req startGameRequest
	if !a.bind(c, &req) {
		return
	}

	if err := a.gm.StartGame(c.Request.Context(), game.StartGameRequest{
		Handle: req.Handle,
	}); err != nil {
		a.fail(c, err)
		return
	}

	c.Status(http.StatusOK)
}

type submitAnswerRequest struct {
	Handle     string      `json:"handle"`
	QuestionID json.Number `json:"question_id"`
	Answer     json.Number `json:"answer"`
}

func (a *API) submitAnswer(c *gin.Context) {
	var req submitAnswerRequest
	if !a.bind(c, &req) {
		return
	}

	// Ids and answers arrive as loosely-typed client input; anything
	// non-numeric is rejected here before it reaches a session.
	qid, err := req.QuestionID.Int64()
	if err != nil {
		a.fail(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("wrong question id")))
		return
	}

	answer, err := req.Answer.Int64()
	if err != nil {
		a.fail(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("wrong answer format")))
		return
	}

	if err := a.gm.SubmitAnswer(c.Request.Context(), game.SubmitAnswerRequest{
		Handle:      req.Handle,
		QuestionID:  int(qid),
		AnswerIndex: int(answer),
	}); err != nil {
		a.fail(c, err)
		return
	}

	c.Status(http.StatusOK)
}

func (a *API) getLeaderboard(c *gin.Context) {
	l, err := a.ls.GetLeaderboard(c.Request.Context(), leaderboard.GetLeaderboardRequest{
		Code: c.Param("code"),
	})
	if err != nil {
		a.fail(c, err)
		return
	}

	entries := make([]gin.H, 0, len(l.Entries))
	for _, e := range l.Entries {
		entries = append(entries, gin.H{
			"name":   e.Name,
			"points": e.Points,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    l.Code,
		"entries": entries,
	})
}

func (a *API) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		a.fail(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("some data is missing"),
			errors.WithCause(err)))
		return false
	}

	return true
}

func (a *API) fail(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.JSON(e.HTTPStatusCode(), e)
}
