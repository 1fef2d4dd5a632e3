package agent

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/helmsman-ai/helmsman/pkg/apperr"
	"github.com/helmsman-ai/helmsman/pkg/models"
	"github.com/helmsman-ai/helmsman/pkg/trace"
)

// entry tracks one registered agent and its lifecycle state.
type entry struct {
	agent     Agent
	status    Status
	running   int
	interrupt chan struct{}
}

// Registry owns the agent pool. Every activation goes through Invoke, which
// funnels through the global gate, maintains per-agent status, honors
// interrupts, and records input/output traces.
type Registry struct {
	gate *Gate
	ring *trace.Ring

	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry creates a registry using the given gate and debug ring.
func NewRegistry(gate *Gate, ring *trace.Ring) *Registry {
	return &Registry{
		gate:    gate,
		ring:    ring,
		entries: make(map[string]*entry),
	}
}

// Register adds an agent to the pool in idle state. Re-registering a name
// replaces the agent.
func (r *Registry) Register(a Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[a.Name()] = &entry{
		agent:     a,
		status:    StatusIdle,
		interrupt: make(chan struct{}),
	}
}

// Get returns a registered agent.
func (r *Registry) Get(name string) (Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, apperr.New(apperr.CodeAgentUnavailable, "unknown agent %q", name)
	}
	return e.agent, nil
}

// List returns pool info sorted by agent name.
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	infos := make([]Info, 0, len(r.entries))
	for _, e := range r.entries {
		infos = append(infos, Info{
			Name:         e.agent.Name(),
			Role:         e.agent.Role(),
			Capabilities: e.agent.Capabilities(),
			Status:       e.status,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Gate exposes the concurrency gate for health reporting.
func (r *Registry) Gate() *Gate { return r.gate }

// Invoke runs one agent activation under the global gate. The activation is
// cancelled when ctx ends or the agent is interrupted.
func (r *Registry) Invoke(ctx context.Context, name string, tc TaskContext) (Result, error) {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		r.mu.Unlock()
		return Result{}, apperr.New(apperr.CodeAgentUnavailable, "unknown agent %q", name)
	}
	if e.status == StatusStopped {
		r.mu.Unlock()
		return Result{}, apperr.New(apperr.CodeAgentUnavailable, "agent %q is stopped", name)
	}
	interrupt := e.interrupt
	r.mu.Unlock()

	if err := r.gate.Acquire(ctx); err != nil {
		return Result{}, err
	}
	defer r.gate.Release()

	r.setRunning(name, +1)
	defer r.setRunning(name, -1)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-interrupt:
			cancel()
		case <-stop:
		}
	}()

	r.record(models.DebugTrace{
		SessionID: tc.SessionID,
		TaskUID:   tc.TaskUID,
		TraceType: models.TraceAgentInput,
		AgentName: name,
		Source:    "manager",
		Target:    name,
		Content:   tc.EffectiveInput(),
	})

	start := time.Now()
	result, err := e.agent.Handle(runCtx, tc)
	result.AgentName = name
	result.DurationMS = time.Since(start).Milliseconds()

	if err != nil {
		r.record(models.DebugTrace{
			SessionID:  tc.SessionID,
			TaskUID:    tc.TaskUID,
			TraceType:  models.TraceError,
			AgentName:  name,
			Source:     name,
			Target:     "manager",
			Content:    err.Error(),
			DurationMS: result.DurationMS,
			Metadata:   map[string]string{"code": string(apperr.CodeOf(err))},
		})
		return result, err
	}

	r.record(models.DebugTrace{
		SessionID:  tc.SessionID,
		TaskUID:    tc.TaskUID,
		TraceType:  models.TraceAgentOutput,
		AgentName:  name,
		Source:     name,
		Target:     "manager",
		Content:    result.Content,
		DurationMS: result.DurationMS,
	})
	return result, nil
}

// Interrupt cooperatively cancels every in-flight activation of one agent.
func (r *Registry) Interrupt(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return apperr.New(apperr.CodeAgentUnavailable, "unknown agent %q", name)
	}
	r.interruptLocked(e)
	return nil
}

// InterruptAll cancels every in-flight activation in the pool.
func (r *Registry) InterruptAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		r.interruptLocked(e)
	}
}

// interruptLocked fires the entry's interrupt channel and arms a fresh one
// for subsequent activations. Caller holds the lock.
func (r *Registry) interruptLocked(e *entry) {
	close(e.interrupt)
	e.interrupt = make(chan struct{})
}

// Stop marks an agent stopped; new activations are refused.
func (r *Registry) Stop(name string) error {
	return r.setStatus(name, StatusStopped, true)
}

// Start returns a stopped agent to the pool.
func (r *Registry) Start(name string) error {
	return r.setStatus(name, StatusIdle, false)
}

// StopAll stops every agent and interrupts in-flight activations.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		r.interruptLocked(e)
		e.status = StatusStopped
	}
	slog.Info("Agent pool stopped")
}

func (r *Registry) setStatus(name string, status Status, interrupt bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return apperr.New(apperr.CodeAgentUnavailable, "unknown agent %q", name)
	}
	if interrupt {
		r.interruptLocked(e)
	}
	if e.running > 0 && status == StatusIdle {
		status = StatusRunning
	}
	e.status = status
	return nil
}

func (r *Registry) setRunning(name string, delta int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return
	}
	e.running += delta
	switch {
	case e.status == StatusStopped:
	case e.running > 0:
		e.status = StatusRunning
	default:
		e.status = StatusIdle
	}
}

func (r *Registry) record(t models.DebugTrace) {
	if r.ring != nil {
		r.ring.Record(t)
	}
}
