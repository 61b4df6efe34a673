package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/victornm/triviapot/internal/errors"
)

// RegisterRoutes mounts the HTTP API under /v1.
func (a *API) RegisterRoutes(e *gin.Engine) {
	v1 := e.Group("/v1")

	v1.GET("/rounds/current", a.handleCurrentRound)
	v1.GET("/leaderboard", a.handleGetLeaderboard)
	v1.GET("/payouts", a.handleGetRoundPayouts)

	authed := v1.Group("", a.auth.Middleware())
	authed.POST("/sessions", a.handleStart)
	authed.GET("/sessions/:id/questions", a.handleGetQuestions)
	authed.POST("/sessions/:id/answers", a.handleSubmitAnswer)
	authed.POST("/sessions/:id/complete", a.handleComplete)
	authed.GET("/entries", a.handleCheckEntry)
	authed.GET("/ws", a.handleWebsocket)

	if a.localnet != nil {
		a.registerLocalnetRoutes(v1.Group("/localnet"))
	}
}

func (a *API) handleStart(c *gin.Context) {
	var req StartRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := a.Start(c.Request.Context(), &req)
	respond(c, "start", resp, err)
}

func (a *API) handleGetQuestions(c *gin.Context) {
	resp, err := a.GetQuestions(c.Request.Context(), &GetQuestionsRequest{SessionID: c.Param("id")})
	respond(c, "get questions", resp, err)
}

func (a *API) handleSubmitAnswer(c *gin.Context) {
	var req SubmitAnswerRequest
	if !bindJSON(c, &req) {
		return
	}
	req.SessionID = c.Param("id")

	resp, err := a.SubmitAnswer(c.Request.Context(), &req)
	respond(c, "submit answer", resp, err)
}

func (a *API) handleComplete(c *gin.Context) {
	var req CompleteRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	req.SessionID = c.Param("id")

	resp, err := a.Complete(c.Request.Context(), &req)
	respond(c, "complete", resp, err)
}

func (a *API) handleCheckEntry(c *gin.Context) {
	resp, err := a.CheckEntry(c.Request.Context(), &CheckEntryRequest{})
	respond(c, "check entry", resp, err)
}

func (a *API) handleCurrentRound(c *gin.Context) {
	resp, err := a.CurrentRound(c.Request.Context(), &CurrentRoundRequest{})
	respond(c, "current round", resp, err)
}

func (a *API) handleGetLeaderboard(c *gin.Context) {
	var req GetLeaderboardRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		writeError(c, invalidArgument(err))
		return
	}

	resp, err := a.GetLeaderboard(c.Request.Context(), &req)
	respond(c, "get leaderboard", resp, err)
}

func (a *API) handleGetRoundPayouts(c *gin.Context) {
	var req GetRoundPayoutsRequest
	for _, s := range strings.Split(c.Query("round_ids"), ",") {
		if s == "" {
			continue
		}

		id, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			writeError(c, invalidArgument(err))
			return
		}
		req.RoundIDs = append(req.RoundIDs, id)
	}

	resp, err := a.GetRoundPayouts(c.Request.Context(), &req)
	respond(c, "get round payouts", resp, err)
}

func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		writeError(c, invalidArgument(err))
		return false
	}

	return true
}

func invalidArgument(err error) *errors.Error {
	return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid request: %v", err), errors.WithCause(err))
}

func respond[Resp any](c *gin.Context, op string, resp *Resp, err error) {
	if err != nil {
		writeError(c, toError(c.Request.Context(), op, err))
		return
	}

	c.JSON(http.StatusOK, resp)
}

func writeError(c *gin.Context, e *errors.Error) {
	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}
