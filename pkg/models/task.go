// Package models holds the domain and wire types shared between the store,
// the orchestration pipeline, and the HTTP/WebSocket API.
package models

import "time"

// TaskStatus is the lifecycle status of a task.
type TaskStatus string

// Task status values.
const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// TaskOutcome is the post-hoc outcome classification of a task.
type TaskOutcome string

// Task outcome values.
const (
	OutcomeSuccess   TaskOutcome = "success"
	OutcomePartial   TaskOutcome = "partial"
	OutcomeFailure   TaskOutcome = "failure"
	OutcomeTimeout   TaskOutcome = "timeout"
	OutcomeCancelled TaskOutcome = "cancelled"
)

// Task is one user request handled end-to-end by the Manager.
type Task struct {
	TaskUID          string      `json:"task_uid"`
	SessionID        string      `json:"session_id"`
	Query            string      `json:"query"`
	Category         string      `json:"category,omitempty"`
	Status           TaskStatus  `json:"status"`
	StartedAt        time.Time   `json:"started_at"`
	FinishedAt       *time.Time  `json:"finished_at,omitempty"`
	DurationMS       int64       `json:"duration_ms,omitempty"`
	PrimaryAgent     string      `json:"primary_agent,omitempty"`
	SupportingAgents []string    `json:"supporting_agents,omitempty"`
	QualityScore     float64     `json:"quality_score,omitempty"`
	Outcome          TaskOutcome `json:"outcome,omitempty"`
	Error            string      `json:"error,omitempty"`
}

// StepType discriminates thinking step records.
type StepType string

// Thinking step types.
const (
	StepTypeThinking    StepType = "thinking"
	StepTypeStatus      StepType = "status"
	StepTypeProgress    StepType = "progress"
	StepTypeToolCall    StepType = "tool_call"
	StepTypeObservation StepType = "observation"
	StepTypeFinal       StepType = "final"
)

// ThinkingStep is one append-only step in a task's reasoning timeline.
// Seq is gap-free starting at 1 per task.
type ThinkingStep struct {
	Seq       int       `json:"seq"`
	TaskUID   string    `json:"task_uid"`
	StepType  StepType  `json:"step_type"`
	AgentName string    `json:"agent_name,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
