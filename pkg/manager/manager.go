// Package manager implements the top-level orchestrator: it owns the task
// lifecycle from classification through routing, execution, quality gating,
// and episode recording.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helmsman-ai/helmsman/pkg/agent"
	"github.com/helmsman-ai/helmsman/pkg/apperr"
	"github.com/helmsman-ai/helmsman/pkg/evaluate"
	"github.com/helmsman-ai/helmsman/pkg/memory"
	"github.com/helmsman-ai/helmsman/pkg/models"
	"github.com/helmsman-ai/helmsman/pkg/quality"
	"github.com/helmsman-ai/helmsman/pkg/react"
	"github.com/helmsman-ai/helmsman/pkg/strategy"
	"github.com/helmsman-ai/helmsman/pkg/trace"
)

// TaskStore is the durable store surface the manager drives. Implemented by
// store.Client.
type TaskStore interface {
	EnsureSession(ctx context.Context, sessionID, userID, firstMessage string) (models.Session, error)
	AddTurn(ctx context.Context, sessionID string, role models.TurnRole, content, taskUID string) (models.Turn, error)
	CreateTask(ctx context.Context, task models.Task) error
	MarkTaskRunning(ctx context.Context, taskUID, sessionID, category, primaryAgent string, supportingAgents []string) error
	FinalizeTask(ctx context.Context, taskUID, sessionID string, status models.TaskStatus, outcome models.TaskOutcome, qualityScore float64, errText string) error
}

// Classifier decides category, complexity, and suggested routing.
type Classifier interface {
	Classify(ctx context.Context, query, historyHint string) models.Classification
}

// Engine runs the bounded multi-step loop.
type Engine interface {
	Run(ctx context.Context, task react.Task) (react.Result, error)
}

// QualityGate scores candidate responses.
type QualityGate interface {
	Check(ctx context.Context, query, candidate string, sources []models.Source, workflow string) models.QualityReport
	Threshold() float64
}

// Evaluator scores a finished interaction.
type Evaluator interface {
	Evaluate(ctx context.Context, query, response string, steps []models.ExecutionStep) (models.Evaluation, error)
}

// ContextBuilder assembles the memory context for a task.
type ContextBuilder interface {
	BuildContext(ctx context.Context, sessionID, userID, query, category string, opts memory.ContextOptions) (string, error)
}

// EntityObserver extracts and persists entities from a finished exchange.
type EntityObserver interface {
	Extract(ctx context.Context, userID, query, answer string) ([]models.Entity, error)
}

// EpisodeRater reads and rates stored episodes.
type EpisodeRater interface {
	Get(ctx context.Context, episodeID string) (models.Episode, error)
	Rate(ctx context.Context, episodeID string, rating float64) error
}

// Publisher fans events out to a session's subscribers.
type Publisher interface {
	Publish(sessionID string, ev models.ChatEvent)
}

// Config is the manager's tunables.
type Config struct {
	RequestTimeout time.Duration
	DefaultUserID  string
}

// Manager coordinates one task end to end.
type Manager struct {
	cfg        Config
	store      TaskStore
	bus        Publisher
	ring       *trace.Ring
	agents     react.Invoker
	classifier Classifier
	strategy   *strategy.Adapter
	engine     Engine
	quality    QualityGate
	evaluator  Evaluator
	learner    *evaluate.Learner
	adaptive   *evaluate.AdaptiveEvaluator
	memory     ContextBuilder
	working    *memory.WorkingMemory
	episodes   EpisodeRater
	observer   EntityObserver

	mu      sync.Mutex
	wg      sync.WaitGroup
	cancels map[string]context.CancelFunc
	// base is the lifetime context detached async tasks run under, so
	// shutdown can cancel them.
	base       context.Context
	cancelBase context.CancelFunc
}

// New wires a manager. evaluator, learner, adaptive, memory, working,
// episodes, and observer may be nil; the corresponding phases are skipped.
func New(cfg Config, store TaskStore, bus Publisher, ring *trace.Ring, agents react.Invoker,
	classifier Classifier, strat *strategy.Adapter, engine Engine, gate QualityGate,
	evaluator Evaluator, learner *evaluate.Learner, adaptive *evaluate.AdaptiveEvaluator,
	mem ContextBuilder, working *memory.WorkingMemory, episodes EpisodeRater, observer EntityObserver) *Manager {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 2 * time.Minute
	}
	if cfg.DefaultUserID == "" {
		cfg.DefaultUserID = "guest"
	}
	base, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:        cfg,
		store:      store,
		bus:        bus,
		ring:       ring,
		agents:     agents,
		classifier: classifier,
		strategy:   strat,
		engine:     engine,
		quality:    gate,
		evaluator:  evaluator,
		learner:    learner,
		adaptive:   adaptive,
		memory:     mem,
		working:    working,
		episodes:   episodes,
		observer:   observer,
		cancels:    make(map[string]context.CancelFunc),
		base:       base,
		cancelBase: cancel,
	}
}

// StartChat opens a task and runs it in the background. Implements the
// WebSocket chat runner.
func (m *Manager) StartChat(ctx context.Context, req models.ChatRequest) (string, string, error) {
	session, taskUID, err := m.openTask(ctx, req)
	if err != nil {
		return "", "", err
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		_, runErr := m.runTask(session, taskUID, req)
		if runErr != nil {
			slog.Warn("Task finished with error", "task_uid", taskUID, "code", apperr.CodeOf(runErr))
		}
	}()
	return session.SessionID, taskUID, nil
}

// Chat opens a task and runs it synchronously, returning the final
// response. Used by POST /chat/send with async=false.
func (m *Manager) Chat(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error) {
	session, taskUID, err := m.openTask(ctx, req)
	if err != nil {
		return models.ChatResponse{}, err
	}
	m.wg.Add(1)
	defer m.wg.Done()
	return m.runTask(session, taskUID, req)
}

// CancelTask cooperatively cancels a running task. Returns false when the
// task is not in flight.
func (m *Manager) CancelTask(taskUID string) bool {
	m.mu.Lock()
	cancel, ok := m.cancels[taskUID]
	m.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// ActiveTasks returns the number of in-flight tasks.
func (m *Manager) ActiveTasks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cancels)
}

// Shutdown cancels every in-flight task and blocks until each one has been
// finalized, so no task is left pending in the store after exit.
func (m *Manager) Shutdown() {
	m.cancelBase()
	m.wg.Wait()
}

// RateEpisode records user feedback on a finished task's episode and feeds
// the rating into the adaptive calibration window.
func (m *Manager) RateEpisode(ctx context.Context, episodeID string, rating float64) error {
	if m.episodes == nil {
		return apperr.New(apperr.CodeInternal, "episode store not configured")
	}
	if rating < 0 || rating > 1 {
		return apperr.New(apperr.CodeInvalidRequest, "rating must be in [0,1]")
	}
	if _, err := m.episodes.Get(ctx, episodeID); err != nil {
		return err
	}
	if err := m.episodes.Rate(ctx, episodeID, rating); err != nil {
		return err
	}
	if m.adaptive != nil {
		// The pipeline's self-score is not persisted on the episode, so the
		// pass threshold serves as the reference point.
		m.adaptive.RecordRating(quality.DefaultThreshold, rating)
	}
	return nil
}

// openTask validates the request, binds the session, and persists the
// pending task plus the user's turn.
func (m *Manager) openTask(ctx context.Context, req models.ChatRequest) (models.Session, string, error) {
	if strings.TrimSpace(req.Message) == "" {
		return models.Session{}, "", apperr.New(apperr.CodeInvalidRequest, "message is required")
	}
	userID := req.UserID
	if userID == "" {
		userID = m.cfg.DefaultUserID
	}

	session, err := m.store.EnsureSession(ctx, req.SessionID, userID, req.Message)
	if err != nil {
		return models.Session{}, "", err
	}

	taskUID := uuid.NewString()
	if err := m.store.CreateTask(ctx, models.Task{
		TaskUID:   taskUID,
		SessionID: session.SessionID,
		Query:     req.Message,
		Status:    models.TaskStatusPending,
		StartedAt: time.Now().UTC(),
	}); err != nil {
		return models.Session{}, "", err
	}
	if _, err := m.store.AddTurn(ctx, session.SessionID, models.RoleUser, req.Message, taskUID); err != nil {
		return models.Session{}, "", err
	}

	m.publish(session.SessionID, models.ChatEvent{
		Type:    models.EventInit,
		TaskUID: taskUID,
		Content: "task accepted",
	})
	return session, taskUID, nil
}

// runTask drives the full pipeline for one task and closes it out whatever
// happens.
func (m *Manager) runTask(session models.Session, taskUID string, req models.ChatRequest) (models.ChatResponse, error) {
	ctx, cancel := context.WithTimeout(m.base, m.cfg.RequestTimeout)
	m.mu.Lock()
	m.cancels[taskUID] = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.cancels, taskUID)
		m.mu.Unlock()
		cancel()
	}()

	start := time.Now()
	if m.working != nil {
		m.working.SetCurrentTask(taskUID)
	}

	run, err := m.execute(ctx, session, taskUID, req)
	duration := time.Since(start)

	if err != nil {
		// Downstream layers may report a context interruption under their
		// own code; the task context is authoritative. A deadline on it is
		// a timeout, a plain cancel is the user's (or shutdown's) doing.
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = apperr.Wrap(apperr.CodeTimeout, err, "task exceeded the request timeout")
		} else if errors.Is(ctx.Err(), context.Canceled) {
			err = apperr.Wrap(apperr.CodeCancelled, err, "task cancelled")
		}
		m.closeFailed(session, taskUID, req, err, run, duration)
		return models.ChatResponse{}, err
	}

	status := models.TaskStatusSucceeded
	qualityScore := 0.0
	if run.resp.Quality != nil {
		qualityScore = run.resp.Quality.Overall
	}
	// Finalization uses a fresh context: the task context may already be
	// done, and an acknowledged result must still be persisted.
	closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer closeCancel()
	if err := m.store.FinalizeTask(closeCtx, taskUID, session.SessionID, status, run.outcome, qualityScore, ""); err != nil {
		slog.Error("Failed to finalize task", "task_uid", taskUID, "error", err)
	}
	if _, err := m.store.AddTurn(closeCtx, session.SessionID, models.RoleAssistant, run.resp.Response, taskUID); err != nil {
		slog.Error("Failed to persist assistant turn", "task_uid", taskUID, "error", err)
	}

	m.publish(session.SessionID, models.ChatEvent{
		Type:    models.EventFinalAnswer,
		TaskUID: taskUID,
		Content: run.resp.Response,
		Sources: run.resp.Sources,
		Quality: run.resp.Quality,
	})
	m.publish(session.SessionID, models.ChatEvent{
		Type:    models.EventResult,
		TaskUID: taskUID,
		Content: run.resp.Response,
	})

	m.recordEpisode(closeCtx, session, taskUID, req, run.resp.Response, run.outcome, run.category, run.steps, duration, run.tokens)
	m.observeEntities(closeCtx, session, taskUID, req.Message, run.resp.Response)
	return run.resp, nil
}

// execution carries everything runTask needs to close a task out.
type execution struct {
	resp     models.ChatResponse
	outcome  models.TaskOutcome
	category string
	steps    []models.ExecutionStep
	tokens   int
}

// execute runs classification, planning, memory injection, the engine or a
// single-shot call, and the quality gate.
func (m *Manager) execute(ctx context.Context, session models.Session, taskUID string, req models.ChatRequest) (execution, error) {
	run := execution{
		resp:    models.ChatResponse{TaskUID: taskUID, SessionID: session.SessionID, Sources: []models.Source{}},
		outcome: models.OutcomeSuccess,
	}

	m.publish(session.SessionID, models.ChatEvent{
		Type: models.EventStatus, TaskUID: taskUID, Stage: "classifying", Content: "analyzing the request",
	})
	cls := m.classifier.Classify(ctx, req.Message, "")
	run.category = string(cls.Category)
	m.record(models.DebugTrace{
		SessionID: session.SessionID,
		TaskUID:   taskUID,
		TraceType: models.TraceRouting,
		Source:    "classifier",
		Target:    "strategy",
		Content:   fmt.Sprintf("category=%s complexity=%s confidence=%.2f", cls.Category, cls.Complexity, cls.Confidence),
	})

	var rec *strategy.Recommendation
	if m.learner != nil {
		var err error
		rec, err = m.learner.Recommend(ctx, session.UserID, string(cls.Category))
		if err != nil {
			slog.Warn("Experience recommendation failed", "task_uid", taskUID, "error", err)
		}
	}
	plan := m.strategy.Plan(cls, rec)
	if !req.Options.RAG() && !contains(plan.SkipAgents, agent.NameRAG) {
		plan.SkipAgents = append(plan.SkipAgents, agent.NameRAG)
	}

	if err := m.store.MarkTaskRunning(ctx, taskUID, session.SessionID, string(cls.Category), plan.PrimaryAgent, plan.SupportingAgents); err != nil {
		return run, err
	}
	m.publish(session.SessionID, models.ChatEvent{
		Type: models.EventStatus, TaskUID: taskUID, Stage: "routing",
		Content: fmt.Sprintf("mode=%s primary=%s", plan.Mode, plan.PrimaryAgent),
	})

	memoryContext := ""
	if req.Options.Memory() && m.memory != nil {
		var err error
		memoryContext, err = m.memory.BuildContext(ctx, session.SessionID, session.UserID, req.Message, string(cls.Category),
			memory.ContextOptions{
				IncludePrefs:                true,
				IncludeCrossSessionEpisodes: req.Options.IncludeCrossSessionEpisodes,
			})
		if err != nil {
			slog.Warn("Memory context build failed", "task_uid", taskUID, "error", err)
			memoryContext = ""
		} else if memoryContext != "" {
			m.record(models.DebugTrace{
				SessionID: session.SessionID,
				TaskUID:   taskUID,
				TraceType: models.TraceMemoryInjection,
				Source:    "memory",
				Target:    plan.PrimaryAgent,
				Content:   memoryContext,
			})
		}
	}

	var (
		answer  string
		sources []models.Source
	)

	if req.Options.React() && cls.Complexity != models.ComplexityLow {
		result, err := m.engine.Run(ctx, react.Task{
			TaskUID:       taskUID,
			SessionID:     session.SessionID,
			UserID:        session.UserID,
			Query:         req.Message,
			Category:      cls.Category,
			MemoryContext: memoryContext,
			Plan:          plan,
		})
		run.steps, run.tokens = result.Steps, result.TokensUsed
		if err != nil {
			return run, err
		}
		answer, sources = result.FinalAnswer, result.Sources
		if result.Partial {
			run.outcome = models.OutcomePartial
		}
	} else {
		result, err := m.agents.Invoke(ctx, plan.PrimaryAgent, agent.TaskContext{
			TaskUID:       taskUID,
			SessionID:     session.SessionID,
			UserID:        session.UserID,
			Query:         req.Message,
			Category:      cls.Category,
			MemoryContext: memoryContext,
		})
		if err != nil {
			return run, err
		}
		answer, sources, run.tokens = result.Content, result.Sources, result.TokensUsed
		run.steps = []models.ExecutionStep{{
			Step: 1, Agent: plan.PrimaryAgent, Action: "direct",
			Output: truncate(answer), DurationMS: result.DurationMS, Success: true,
		}}
	}

	answer, report := m.gateQuality(ctx, session, taskUID, req.Message, answer, sources, plan)
	run.resp.Response = answer
	run.resp.Sources = append(run.resp.Sources, sources...)
	run.resp.Quality = report
	return run, nil
}

// gateQuality checks the candidate and performs at most one targeted
// retry. A second failure is surfaced with quality.Low, never masked.
func (m *Manager) gateQuality(ctx context.Context, session models.Session, taskUID, query, answer string, sources []models.Source, plan models.ExecutionPlan) (string, *models.QualityReport) {
	if m.quality == nil {
		return answer, nil
	}
	m.publish(session.SessionID, models.ChatEvent{
		Type: models.EventEvaluating, TaskUID: taskUID, Content: "checking answer quality",
	})
	report := m.quality.Check(ctx, query, answer, sources, string(plan.Mode))
	if report.Passed || report.Overall >= m.quality.Threshold() {
		return answer, &report
	}

	retryPrompt := quality.BuildRetryPrompt(query, answer, report, sources)
	retry, err := m.agents.Invoke(ctx, plan.PrimaryAgent, agent.TaskContext{
		TaskUID:   taskUID,
		SessionID: session.SessionID,
		UserID:    session.UserID,
		Query:     query,
		Input:     retryPrompt,
	})
	if err != nil {
		slog.Warn("Quality retry failed, returning original answer", "task_uid", taskUID, "error", err)
		report.Low = true
		return answer, &report
	}

	second := m.quality.Check(ctx, query, retry.Content, sources, string(plan.Mode))
	if !second.Passed {
		second.Low = true
	}
	return retry.Content, &second
}

// closeFailed finalizes a task whose pipeline errored, emitting the
// matching terminal event.
func (m *Manager) closeFailed(session models.Session, taskUID string, req models.ChatRequest, taskErr error, run execution, duration time.Duration) {
	code := apperr.CodeOf(taskErr)
	status := models.TaskStatusFailed
	outcome := models.OutcomeFailure
	switch code {
	case apperr.CodeCancelled:
		status, outcome = models.TaskStatusCancelled, models.OutcomeCancelled
	case apperr.CodeTimeout:
		outcome = models.OutcomeTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.store.FinalizeTask(ctx, taskUID, session.SessionID, status, outcome, 0, taskErr.Error()); err != nil {
		slog.Error("Failed to finalize failed task", "task_uid", taskUID, "error", err)
	}

	switch code {
	case apperr.CodeCancelled:
		m.publish(session.SessionID, models.ChatEvent{
			Type: models.EventCancelled, TaskUID: taskUID, Content: "task cancelled",
		})
	case apperr.CodeQuotaExceeded:
		m.publish(session.SessionID, models.ChatEvent{
			Type: models.EventTimeout, TaskUID: taskUID, Code: string(code),
			Content: "the system is saturated, try again shortly",
		})
	default:
		m.publish(session.SessionID, models.ChatEvent{
			Type: models.EventError, TaskUID: taskUID, Code: string(code), Content: taskErr.Error(),
		})
	}

	m.recordEpisode(ctx, session, taskUID, req, "", outcome, run.category, run.steps, duration, run.tokens)
}

// recordEpisode closes the learning loop: every finished task leaves an
// episode behind.
func (m *Manager) recordEpisode(ctx context.Context, session models.Session, taskUID string, req models.ChatRequest, answer string, outcome models.TaskOutcome, category string, steps []models.ExecutionStep, duration time.Duration, tokens int) {
	if m.learner == nil {
		return
	}
	if category == "" {
		// Classification never ran; file the episode under analysis rather
		// than inventing a verdict.
		category = string(models.CategoryAnalysis)
	}

	var eval *models.Evaluation
	if m.evaluator != nil && answer != "" {
		if e, err := m.evaluator.Evaluate(ctx, req.Message, answer, steps); err == nil {
			eval = &e
		} else {
			slog.Warn("Self-evaluation skipped", "task_uid", taskUID, "error", err)
		}
	}

	agents := make([]string, 0, len(steps))
	for _, s := range steps {
		if s.Agent != "" && !contains(agents, s.Agent) {
			agents = append(agents, s.Agent)
		}
	}

	ep := models.Episode{
		UserID:          session.UserID,
		SessionID:       session.SessionID,
		TaskCategory:    category,
		TaskQuery:       req.Message,
		AgentsInvolved:  agents,
		Steps:           steps,
		Outcome:         outcome,
		FinalSummary:    truncate(answer),
		TotalDurationMS: duration.Milliseconds(),
		TokensUsed:      tokens,
	}
	if _, err := m.learner.Learn(ctx, ep, eval); err != nil {
		slog.Error("Failed to record episode", "task_uid", taskUID, "error", err)
	}
}

// observeEntities feeds the finished exchange to the entity extractor so
// the entity graph keeps up with the conversation.
func (m *Manager) observeEntities(ctx context.Context, session models.Session, taskUID, query, answer string) {
	if m.observer == nil || answer == "" {
		return
	}
	if _, err := m.observer.Extract(ctx, session.UserID, query, answer); err != nil {
		slog.Warn("Entity extraction skipped", "task_uid", taskUID, "error", err)
	}
}

func (m *Manager) publish(sessionID string, ev models.ChatEvent) {
	if m.bus != nil {
		m.bus.Publish(sessionID, ev)
	}
}

func (m *Manager) record(t models.DebugTrace) {
	if m.ring != nil {
		m.ring.Record(t)
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// truncate caps a summary at 500 runes, never splitting a character.
func truncate(s string) string {
	const max = 500
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
