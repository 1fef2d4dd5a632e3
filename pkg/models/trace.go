package models

import "time"

// TraceType discriminates debug trace records.
type TraceType string

// Trace types.
const (
	TraceAgentInput      TraceType = "agent_input"
	TraceAgentOutput     TraceType = "agent_output"
	TraceLLMRequest      TraceType = "llm_request"
	TraceLLMResponse     TraceType = "llm_response"
	TraceRouting         TraceType = "routing"
	TraceThinking        TraceType = "thinking"
	TraceMemoryInjection TraceType = "memory_injection"
	TraceError           TraceType = "error"
)

// DebugTrace is one record in the in-process debug ring buffer. Large
// payloads are truncated before storage; the ring may drop oldest traces
// but never reorders them.
type DebugTrace struct {
	ID         int64             `json:"id"`
	TS         time.Time         `json:"ts"`
	SessionID  string            `json:"session_id,omitempty"`
	TaskUID    string            `json:"task_uid,omitempty"`
	TraceType  TraceType         `json:"trace_type"`
	AgentName  string            `json:"agent_name,omitempty"`
	Source     string            `json:"source,omitempty"`
	Target     string            `json:"target,omitempty"`
	Content    string            `json:"content"`
	DurationMS int64             `json:"duration_ms,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}
