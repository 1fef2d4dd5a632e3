package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/helmsman-ai/helmsman/pkg/models"
)

// SendChatResponse is the body of POST /chat/send. Response fields are only
// populated for synchronous requests.
type SendChatResponse struct {
	TaskUID   string                `json:"task_uid"`
	SessionID string                `json:"session_id"`
	Response  string                `json:"response,omitempty"`
	Sources   []models.Source       `json:"sources,omitempty"`
	Quality   *models.QualityReport `json:"quality,omitempty"`
}

// sendChatHandler handles POST /chat/send. async=true (the default) returns
// a task handle immediately; async=false blocks for the final answer.
func (s *Server) sendChatHandler(c *echo.Context) error {
	if s.chat == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "chat not available")
	}
	var req models.ChatRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Message == "" {
		return badRequest(c, "message is required")
	}

	if req.Options.IsAsync() {
		sessionID, taskUID, err := s.chat.StartChat(c.Request().Context(), req)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusAccepted, &SendChatResponse{TaskUID: taskUID, SessionID: sessionID})
	}

	resp, err := s.chat.Chat(c.Request().Context(), req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, &SendChatResponse{
		TaskUID:   resp.TaskUID,
		SessionID: resp.SessionID,
		Response:  resp.Response,
		Sources:   resp.Sources,
		Quality:   resp.Quality,
	})
}

// getSessionHandler handles GET /chat/session/:id. Turns are returned in
// order with each task's thinking timeline embedded.
func (s *Server) getSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return badRequest(c, "session id is required")
	}
	if s.store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "store not available")
	}

	ctx := c.Request().Context()
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return fail(c, err)
	}
	turns, err := s.store.GetTurnDetails(ctx, sessionID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"session": session,
		"turns":   turns,
	})
}

// clearSessionHandler handles POST /chat/session/:id/clear. The session
// survives; its turns and tasks are removed.
func (s *Server) clearSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return badRequest(c, "session id is required")
	}
	if s.store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "store not available")
	}
	if err := s.store.ClearSession(c.Request().Context(), sessionID); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"cleared": true})
}

// RateRequest is the body of POST /chat/rate: user feedback on a finished
// task's episode.
type RateRequest struct {
	EpisodeID string  `json:"episode_id"`
	Rating    float64 `json:"rating"`
}

func (s *Server) rateHandler(c *echo.Context) error {
	if s.chat == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "chat not available")
	}
	var req RateRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.EpisodeID == "" {
		return badRequest(c, "episode_id is required")
	}
	if err := s.chat.RateEpisode(c.Request().Context(), req.EpisodeID, req.Rating); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"recorded": true})
}
