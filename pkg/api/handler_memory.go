package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/helmsman-ai/helmsman/pkg/memory"
	"github.com/helmsman-ai/helmsman/pkg/models"
)

// CreateObservationRequest is the body of POST /memory/observations. An
// observation is an extracted entity; re-observing the same (type, name,
// user) merges instead of duplicating.
type CreateObservationRequest struct {
	UserID     string            `json:"user_id"`
	Name       string            `json:"name"`
	Type       models.EntityType `json:"type"`
	Aliases    []string          `json:"aliases,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// UpdateObservationRequest is the body of PUT /memory/observations/:id.
type UpdateObservationRequest struct {
	Attributes map[string]string `json:"attributes"`
}

func (s *Server) listObservationsHandler(c *echo.Context) error {
	if s.memory == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "memory not available")
	}
	userID := c.Param("user")
	if userID == "" {
		return badRequest(c, "user is required")
	}
	entities, err := s.memory.Entities.ListByUser(c.Request().Context(), userID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"user_id":      userID,
		"observations": entities,
	})
}

func (s *Server) createObservationHandler(c *echo.Context) error {
	if s.memory == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "memory not available")
	}
	var req CreateObservationRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.UserID == "" || req.Name == "" {
		return badRequest(c, "user_id and name are required")
	}
	if req.Type == "" {
		req.Type = models.EntityCustom
	}

	entity, err := s.memory.Entities.Upsert(c.Request().Context(), models.Entity{
		Name:       req.Name,
		Type:       req.Type,
		Aliases:    req.Aliases,
		Attributes: req.Attributes,
		UserID:     req.UserID,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, entity)
}

func (s *Server) updateObservationHandler(c *echo.Context) error {
	if s.memory == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "memory not available")
	}
	id := c.Param("id")
	if id == "" {
		return badRequest(c, "observation id is required")
	}
	var req UpdateObservationRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	ctx := c.Request().Context()
	if err := s.memory.Entities.UpdateAttributes(ctx, id, req.Attributes); err != nil {
		return fail(c, err)
	}
	entity, err := s.memory.Entities.Get(ctx, id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, entity)
}

func (s *Server) dashboardHandler(c *echo.Context) error {
	if s.memory == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "memory not available")
	}
	userID := c.Param("user")
	if userID == "" {
		return badRequest(c, "user is required")
	}
	dashboard, err := s.memory.BuildDashboard(c.Request().Context(), userID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, dashboard)
}

// contextHandler handles GET /memory/context/:user?query=…: the assembled
// memory context exactly as the pipeline would inject it. The
// include_cross_session_episodes query param mirrors the chat option of the
// same name and defaults to off.
func (s *Server) contextHandler(c *echo.Context) error {
	if s.memory == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "memory not available")
	}
	userID := c.Param("user")
	if userID == "" {
		return badRequest(c, "user is required")
	}
	query := c.QueryParam("query")
	if query == "" {
		return badRequest(c, "query is required")
	}

	opts := memory.ContextOptions{IncludePrefs: true}
	if raw := c.QueryParam("include_cross_session_episodes"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return badRequest(c, "include_cross_session_episodes must be a boolean")
		}
		opts.IncludeCrossSessionEpisodes = v
	}

	context, err := s.memory.BuildContext(c.Request().Context(),
		c.QueryParam("session_id"), userID, query, c.QueryParam("category"), opts)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"user_id": userID,
		"context": context,
	})
}
