// Package api exposes the HTTP and WebSocket surface: chat, knowledge base
// management, agent pool control, debug traces, memory, and auth.
package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/helmsman-ai/helmsman/pkg/agent"
	"github.com/helmsman-ai/helmsman/pkg/config"
	"github.com/helmsman-ai/helmsman/pkg/events"
	"github.com/helmsman-ai/helmsman/pkg/kb"
	"github.com/helmsman-ai/helmsman/pkg/memory"
	"github.com/helmsman-ai/helmsman/pkg/models"
	"github.com/helmsman-ai/helmsman/pkg/trace"
)

// ChatService drives the chat pipeline. Implemented by the Manager.
type ChatService interface {
	Chat(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error)
	StartChat(ctx context.Context, req models.ChatRequest) (sessionID, taskUID string, err error)
	CancelTask(taskUID string) bool
	ActiveTasks() int
	RateEpisode(ctx context.Context, episodeID string, rating float64) error
}

// SessionStore is the slice of the durable store the API reads directly.
// Implemented by store.Client.
type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (models.Session, error)
	GetTurnDetails(ctx context.Context, sessionID string) ([]models.TurnDetail, error)
	ClearSession(ctx context.Context, sessionID string) error
	Health(ctx context.Context) error
}

// Server is the HTTP server. Collaborators may be nil in tests; the
// corresponding endpoints then return 503.
type Server struct {
	cfg         *config.Config
	store       SessionStore
	kb          *kb.Store
	ring        *trace.Ring
	registry    *agent.Registry
	chat        ChatService
	memory      *memory.Manager
	connManager *events.ConnectionManager

	startedAt time.Time
	echo      *echo.Echo
	http      *http.Server
}

// NewServer wires the server and registers all routes.
func NewServer(cfg *config.Config, store SessionStore, kbStore *kb.Store, ring *trace.Ring,
	registry *agent.Registry, chat ChatService, mem *memory.Manager,
	connManager *events.ConnectionManager) *Server {
	s := &Server{
		cfg:         cfg,
		store:       store,
		kb:          kbStore,
		ring:        ring,
		registry:    registry,
		chat:        chat,
		memory:      mem,
		connManager: connManager,
		startedAt:   time.Now(),
	}

	e := echo.New()
	e.Use(securityHeaders())
	s.registerRoutes(e)
	s.echo = e
	return s
}

func (s *Server) registerRoutes(e *echo.Echo) {
	e.GET("/health", s.healthHandler)
	e.GET("/", s.manifestHandler)
	e.POST("/auth/login", s.loginHandler)

	chat := e.Group("/chat")
	chat.POST("/send", s.sendChatHandler)
	chat.GET("/session/:id", s.getSessionHandler)
	chat.POST("/session/:id/clear", s.clearSessionHandler)
	chat.POST("/rate", s.rateHandler)

	rag := e.Group("/rag")
	rag.GET("/databases", s.listDatabasesHandler)
	rag.POST("/databases", s.createDatabaseHandler)
	rag.DELETE("/databases/:name", s.deleteDatabaseHandler)
	rag.POST("/databases/query", s.queryDatabaseHandler)
	rag.POST("/databases/smart-insert", s.smartInsertHandler)
	rag.POST("/databases/suggest-target", s.suggestTargetHandler)

	agents := e.Group("/agents")
	agents.GET("/", s.listAgentsHandler)
	agents.POST("/task", s.agentTaskHandler)
	agents.POST("/interrupt", s.interruptAllHandler)
	agents.POST("/:name/start", s.startAgentHandler)
	agents.POST("/:name/stop", s.stopAgentHandler)
	agents.POST("/start-all", s.startAllHandler)
	agents.POST("/stop-all", s.stopAllHandler)

	debug := agents.Group("/debug")
	debug.GET("/traces", s.tracesHandler)
	debug.GET("/traces/recent", s.recentTracesHandler)
	debug.GET("/session/:id/flow", s.sessionFlowHandler)
	debug.GET("/task/:uid/flow", s.taskFlowHandler)

	mem := e.Group("/memory")
	mem.GET("/observations/:user", s.listObservationsHandler)
	mem.POST("/observations", s.createObservationHandler)
	mem.PUT("/observations/:id", s.updateObservationHandler)
	mem.GET("/dashboard/:user", s.dashboardHandler)
	mem.GET("/context/:user", s.contextHandler)

	e.GET("/ws", s.wsHandler)
	e.GET("/ws/chat", s.wsHandler)
}

// Start listens on addr. Blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Echo exposes the router for tests.
func (s *Server) Echo() *echo.Echo { return s.echo }
