package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// HealthCheck is one component's health.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string                 `json:"status"`
	UptimeS     int64                  `json:"uptime_s"`
	ActiveTasks int                    `json:"active_tasks"`
	Agents      *AgentPoolHealth       `json:"agents,omitempty"`
	Checks      map[string]HealthCheck `json:"checks"`
}

// AgentPoolHealth reports gate occupancy.
type AgentPoolHealth struct {
	Capacity int `json:"capacity"`
	Active   int `json:"active"`
	Waiting  int `json:"waiting"`
}

// healthHandler handles GET /health. Only the server's own components are
// checked; the LLM endpoint is external and deliberately excluded so an
// upstream outage does not make the orchestrator restart.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	resp := &HealthResponse{
		Status:  healthStatusHealthy,
		UptimeS: int64(time.Since(s.startedAt).Seconds()),
		Checks:  make(map[string]HealthCheck),
	}

	if s.store != nil {
		if err := s.store.Health(reqCtx); err != nil {
			resp.Status = healthStatusUnhealthy
			resp.Checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
		} else {
			resp.Checks["database"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	if s.registry != nil {
		gate := s.registry.Gate()
		resp.Agents = &AgentPoolHealth{
			Capacity: gate.Capacity(),
			Active:   gate.Active(),
			Waiting:  gate.Waiting(),
		}
		resp.Checks["agent_pool"] = HealthCheck{Status: healthStatusHealthy}
	}

	if s.chat != nil {
		resp.ActiveTasks = s.chat.ActiveTasks()
	}

	status := http.StatusOK
	if resp.Status == healthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, resp)
}

// manifestHandler handles GET /: the feature manifest and endpoint catalog.
func (s *Server) manifestHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"name": "helmsman",
		"features": map[string]bool{
			"chat":          s.chat != nil,
			"rag":           s.kb != nil,
			"memory":        s.memory != nil,
			"agents":        s.registry != nil,
			"websocket":     s.connManager != nil,
			"debug_traces":  s.ring != nil,
			"quality_gate":  true,
			"metacognition": true,
		},
		"endpoints": []string{
			"GET /health",
			"POST /auth/login",
			"POST /chat/send",
			"GET /chat/session/:id",
			"POST /chat/session/:id/clear",
			"POST /chat/rate",
			"GET /rag/databases",
			"POST /rag/databases",
			"DELETE /rag/databases/:name",
			"POST /rag/databases/query",
			"POST /rag/databases/smart-insert",
			"POST /rag/databases/suggest-target",
			"GET /agents/",
			"POST /agents/task",
			"POST /agents/interrupt",
			"POST /agents/:name/start",
			"POST /agents/:name/stop",
			"POST /agents/start-all",
			"POST /agents/stop-all",
			"GET /agents/debug/traces",
			"GET /agents/debug/traces/recent",
			"GET /agents/debug/session/:id/flow",
			"GET /agents/debug/task/:uid/flow",
			"GET /memory/observations/:user",
			"POST /memory/observations",
			"PUT /memory/observations/:id",
			"GET /memory/dashboard/:user",
			"GET /memory/context/:user",
			"GET /ws",
			"GET /ws/chat",
		},
	})
}
