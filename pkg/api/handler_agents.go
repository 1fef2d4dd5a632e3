package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/helmsman-ai/helmsman/pkg/agent"
)

// AgentTaskRequest is the body of POST /agents/task: a direct single-agent
// invocation that bypasses the routing pipeline.
type AgentTaskRequest struct {
	Agent     string `json:"agent"`
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

func (s *Server) listAgentsHandler(c *echo.Context) error {
	if s.registry == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "agent pool not available")
	}
	gate := s.registry.Gate()
	return c.JSON(http.StatusOK, map[string]any{
		"agents": s.registry.List(),
		"pool": &AgentPoolHealth{
			Capacity: gate.Capacity(),
			Active:   gate.Active(),
			Waiting:  gate.Waiting(),
		},
	})
}

func (s *Server) agentTaskHandler(c *echo.Context) error {
	if s.registry == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "agent pool not available")
	}
	var req AgentTaskRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Agent == "" || req.Message == "" {
		return badRequest(c, "agent and message are required")
	}

	result, err := s.registry.Invoke(c.Request().Context(), req.Agent, agent.TaskContext{
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Query:     req.Message,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) interruptAllHandler(c *echo.Context) error {
	if s.registry == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "agent pool not available")
	}
	s.registry.InterruptAll()
	return c.JSON(http.StatusOK, map[string]bool{"interrupted": true})
}

func (s *Server) startAgentHandler(c *echo.Context) error {
	return s.setAgentState(c, s.registry.Start)
}

func (s *Server) stopAgentHandler(c *echo.Context) error {
	return s.setAgentState(c, s.registry.Stop)
}

func (s *Server) setAgentState(c *echo.Context, op func(string) error) error {
	if s.registry == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "agent pool not available")
	}
	name := c.Param("name")
	if name == "" {
		return badRequest(c, "agent name is required")
	}
	if err := op(name); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"agent": name})
}

func (s *Server) startAllHandler(c *echo.Context) error {
	if s.registry == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "agent pool not available")
	}
	for _, info := range s.registry.List() {
		if err := s.registry.Start(info.Name); err != nil {
			return fail(c, err)
		}
	}
	return c.JSON(http.StatusOK, map[string]bool{"started": true})
}

func (s *Server) stopAllHandler(c *echo.Context) error {
	if s.registry == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "agent pool not available")
	}
	s.registry.StopAll()
	return c.JSON(http.StatusOK, map[string]bool{"stopped": true})
}
