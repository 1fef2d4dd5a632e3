// Helmsman orchestrator server: provides the HTTP/WebSocket API, manages
// the agent pool, and coordinates task processing.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/helmsman-ai/helmsman/pkg/agent"
	"github.com/helmsman-ai/helmsman/pkg/api"
	"github.com/helmsman-ai/helmsman/pkg/classify"
	"github.com/helmsman-ai/helmsman/pkg/config"
	"github.com/helmsman-ai/helmsman/pkg/evaluate"
	"github.com/helmsman-ai/helmsman/pkg/events"
	"github.com/helmsman-ai/helmsman/pkg/kb"
	"github.com/helmsman-ai/helmsman/pkg/llm"
	"github.com/helmsman-ai/helmsman/pkg/manager"
	"github.com/helmsman-ai/helmsman/pkg/memory"
	"github.com/helmsman-ai/helmsman/pkg/quality"
	"github.com/helmsman-ai/helmsman/pkg/react"
	"github.com/helmsman-ai/helmsman/pkg/store"
	"github.com/helmsman-ai/helmsman/pkg/strategy"
	"github.com/helmsman-ai/helmsman/pkg/trace"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Load(*configDir)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("Starting Helmsman",
		"http_port", cfg.HTTPPort,
		"config_dir", *configDir,
		"agent_concurrency", cfg.AgentConcurrency)

	// 2. Initialize database
	dbConfig, err := store.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := store.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 3. Open the vector knowledge base and seed declared collections
	kbStore, err := kb.New(cfg.KB, cfg.Embedding)
	if err != nil {
		slog.Error("Failed to open vector store", "error", err)
		os.Exit(1)
	}
	for _, col := range cfg.Collections {
		if _, err := kbStore.GetCollection(col.Name); err == nil {
			continue
		}
		if err := kbStore.CreateCollection(col.Name, col.Description, col.Category, col.Skills); err != nil {
			slog.Error("Failed to seed collection", "name", col.Name, "error", err)
			os.Exit(1)
		}
		slog.Info("Seeded knowledge base collection", "name", col.Name)
	}

	// 4. Debug ring, event bus, LLM client
	ring := trace.NewRing(cfg.RingSize)
	bus := events.NewBus(0)
	llmClient, err := llm.NewOpenAIClient(cfg.LLM, ring)
	if err != nil {
		slog.Error("Failed to initialize LLM client", "error", err)
		os.Exit(1)
	}
	slog.Info("LLM client initialized", "model", cfg.LLM.Model)

	// 5. Agent pool behind the global gate
	gate := agent.NewGate(cfg.AgentConcurrency, cfg.QueueDepth)
	registry := agent.NewRegistry(gate, ring)
	registry.Register(agent.NewRAGAgent(llmClient, kbStore))
	registry.Register(agent.NewThinkingAgent(llmClient))
	registry.Register(agent.NewCalculationAgent())
	registry.Register(agent.NewTranslationAgent(llmClient))
	registry.Register(agent.NewSummarizationAgent(llmClient))
	registry.Register(agent.NewValidationAgent(llmClient))
	registry.Register(agent.NewCasualChatAgent(llmClient))
	slog.Info("Agent pool initialized", "agents", len(registry.List()))

	// 6. Memory tiers
	working := memory.NewWorkingMemory(cfg.WorkingMemoryCapacity)
	episodes := memory.NewEpisodicStore(dbClient.DB())
	entities := memory.NewEntityStore(dbClient.DB())
	prefs := memory.NewPreferenceStore(dbClient.DB())
	mem := memory.NewManager(working, episodes, entities, prefs, dbClient)
	extractor := memory.NewEntityExtractor(llmClient, entities)

	// 7. Pipeline: classifier, strategy, ReAct engine, quality, metacognition
	classifier := classify.New(llmClient)
	strat := strategy.New()
	engine := react.NewEngine(llmClient, registry, bus, ring, dbClient, working)
	gatekeeper := quality.New(llmClient, cfg.QualityThreshold)
	evaluator := evaluate.NewSelfEvaluator(llmClient)
	learner := evaluate.NewLearner(episodes, cfg.PatternCacheTTL)
	adaptive := evaluate.NewAdaptiveEvaluator(0)

	mgr := manager.New(manager.Config{RequestTimeout: cfg.RequestTimeout},
		dbClient, bus, ring, registry, classifier, strat, engine, gatekeeper,
		evaluator, learner, adaptive, mem, working, episodes, extractor)

	// 8. WebSocket connection manager and HTTP server
	connManager := events.NewConnectionManager(bus, mgr, dbClient, cfg.HeartbeatInterval, 10*time.Second)
	httpServer := api.NewServer(cfg, dbClient, kbStore, ring, registry, mgr, mem, connManager)

	// 9. Retention cleanup loop
	cleanupCtx, cleanupCancel := context.WithCancel(ctx)
	defer cleanupCancel()
	if cfg.Retention > 0 {
		go func() {
			ticker := time.NewTicker(time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-cleanupCtx.Done():
					return
				case <-ticker.C:
					n, err := dbClient.CleanupOldSessions(cleanupCtx, cfg.Retention)
					if err != nil {
						slog.Error("Retention cleanup failed", "error", err)
						continue
					}
					if n > 0 {
						slog.Info("Retention cleanup removed old sessions", "count", n)
					}
				}
			}
		}()
	}

	// 10. Start HTTP server (non-blocking)
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.HTTPPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Helmsman started successfully")

	// 11. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 12. Graceful shutdown: stop accepting work, drain in-flight tasks,
	// then stop the HTTP server with its own timeout budget.
	cleanupCancel()
	registry.StopAll()

	done := make(chan struct{})
	go func() {
		mgr.Shutdown()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Task manager stopped gracefully")
	case <-time.After(30 * time.Second):
		slog.Warn("Task manager shutdown timeout exceeded")
	}

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
