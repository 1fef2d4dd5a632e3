// Package agent defines the specialist agents, the registry that owns them,
// and the global concurrency gate bounding agent activations.
package agent

import (
	"context"

	"github.com/helmsman-ai/helmsman/pkg/models"
)

// Status is an agent's lifecycle status.
type Status string

// Agent statuses.
const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
)

// Well-known agent names. These appear in plans, routing traces, and the
// ReAct action table.
const (
	NameRAG           = "rag"
	NameThinking      = "thinking"
	NameCalculation   = "calculation"
	NameTranslation   = "translation"
	NameSummarization = "summarization"
	NameValidation    = "validation"
	NameCasualChat    = "casual_chat"
)

// TaskContext is the input handed to an agent for one activation.
type TaskContext struct {
	TaskUID   string
	SessionID string
	UserID    string
	// Query is the original user query; Input is the step-specific argument
	// (falls back to Query when empty).
	Query         string
	Input         string
	Category      models.Category
	MemoryContext string
	// History carries prior step observations for agents that build on them.
	History []string
}

// EffectiveInput returns the step input, defaulting to the task query.
func (tc TaskContext) EffectiveInput() string {
	if tc.Input != "" {
		return tc.Input
	}
	return tc.Query
}

// Result is what an agent activation produced.
type Result struct {
	AgentName  string          `json:"agent_name"`
	Content    string          `json:"content"`
	Sources    []models.Source `json:"sources,omitempty"`
	TokensUsed int             `json:"tokens_used,omitempty"`
	DurationMS int64           `json:"duration_ms"`
}

// Agent is one specialist in the pool.
type Agent interface {
	Name() string
	Role() string
	Capabilities() []string
	Handle(ctx context.Context, tc TaskContext) (Result, error)
}

// Info is the registry's public view of an agent.
type Info struct {
	Name         string   `json:"name"`
	Role         string   `json:"role"`
	Capabilities []string `json:"capabilities"`
	Status       Status   `json:"status"`
}
