package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/helmsman-ai/helmsman/pkg/models"
	"github.com/helmsman-ai/helmsman/pkg/trace"
)

// defaultRecentLimit bounds /traces/recent when no limit is given.
const defaultRecentLimit = 100

// tracesHandler handles GET /agents/debug/traces with optional filters:
// session_id, task_uid, agent, type, limit.
func (s *Server) tracesHandler(c *echo.Context) error {
	if s.ring == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "debug ring not available")
	}
	q := trace.Query{
		SessionID: c.QueryParam("session_id"),
		TaskUID:   c.QueryParam("task_uid"),
		AgentName: c.QueryParam("agent"),
		TraceType: models.TraceType(c.QueryParam("type")),
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return badRequest(c, "invalid limit: %q", v)
		}
		q.Limit = n
	}
	traces := s.ring.Query(q)
	return c.JSON(http.StatusOK, map[string]any{
		"traces": traces,
		"count":  len(traces),
	})
}

func (s *Server) recentTracesHandler(c *echo.Context) error {
	if s.ring == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "debug ring not available")
	}
	limit := defaultRecentLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return badRequest(c, "invalid limit: %q", v)
		}
		limit = n
	}
	traces := s.ring.Recent(limit)
	return c.JSON(http.StatusOK, map[string]any{
		"traces": traces,
		"count":  len(traces),
	})
}

func (s *Server) sessionFlowHandler(c *echo.Context) error {
	if s.ring == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "debug ring not available")
	}
	sessionID := c.Param("id")
	if sessionID == "" {
		return badRequest(c, "session id is required")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"session_id": sessionID,
		"flow":       s.ring.SessionFlow(sessionID),
	})
}

func (s *Server) taskFlowHandler(c *echo.Context) error {
	if s.ring == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "debug ring not available")
	}
	taskUID := c.Param("uid")
	if taskUID == "" {
		return badRequest(c, "task uid is required")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"task_uid": taskUID,
		"flow":     s.ring.TaskFlow(taskUID),
	})
}
