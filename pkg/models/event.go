package models

import "time"

// EventType tags a ChatEvent.
type EventType string

// Chat event types. These are the transport-level tags streamed to
// WebSocket subscribers.
const (
	EventInit        EventType = "init"
	EventThinking    EventType = "thinking"
	EventStatus      EventType = "status"
	EventProgress    EventType = "progress"
	EventSearching   EventType = "searching"
	EventSources     EventType = "sources"
	EventEvaluating  EventType = "evaluating"
	EventResult      EventType = "result"
	EventFinalAnswer EventType = "final_answer"
	EventError       EventType = "error"
	EventCancelled   EventType = "cancelled"
	EventPong        EventType = "pong"
	EventTimeout     EventType = "conversation_timeout"
)

// ChatEvent is the tagged union streamed to subscribers of a session.
// Every event carries the session id; task-scoped events also carry the
// task uid. TS is ISO-8601 (RFC3339Nano on the wire).
type ChatEvent struct {
	Type      EventType      `json:"type"`
	SessionID string         `json:"session_id"`
	TaskUID   string         `json:"task_uid,omitempty"`
	Stage     string         `json:"stage,omitempty"`
	Step      int            `json:"step,omitempty"`
	Content   string         `json:"content,omitempty"`
	Sources   []Source       `json:"sources,omitempty"`
	Quality   *QualityReport `json:"quality,omitempty"`
	Code      string         `json:"code,omitempty"`
	TS        time.Time      `json:"ts"`
}

// ChatOptions controls how a single chat request is processed.
type ChatOptions struct {
	UseRAG    *bool `json:"use_rag,omitempty"`
	UseReact  *bool `json:"use_react,omitempty"`
	UseMemory *bool `json:"use_memory,omitempty"`
	Async     *bool `json:"async,omitempty"`
	// IncludeCrossSessionEpisodes opts in to episodic context from other
	// sessions of the same user. Off unless explicitly requested.
	IncludeCrossSessionEpisodes bool `json:"include_cross_session_episodes,omitempty"`
}

// RAG reports whether RAG retrieval is enabled (default true).
func (o ChatOptions) RAG() bool { return o.UseRAG == nil || *o.UseRAG }

// React reports whether the ReAct loop is enabled (default true).
func (o ChatOptions) React() bool { return o.UseReact == nil || *o.UseReact }

// Memory reports whether memory injection is enabled (default true).
func (o ChatOptions) Memory() bool { return o.UseMemory == nil || *o.UseMemory }

// IsAsync reports whether the caller wants a task handle instead of a
// synchronous response (default true).
func (o ChatOptions) IsAsync() bool { return o.Async == nil || *o.Async }

// ChatRequest is the body of POST /chat/send and the WS "chat" message.
type ChatRequest struct {
	Message   string      `json:"message"`
	SessionID string      `json:"session_id,omitempty"`
	UserID    string      `json:"user_id,omitempty"`
	Options   ChatOptions `json:"options"`
}

// ChatResponse is the Manager's final answer for one task.
type ChatResponse struct {
	TaskUID   string         `json:"task_uid"`
	SessionID string         `json:"session_id"`
	Response  string         `json:"response,omitempty"`
	Sources   []Source       `json:"sources"`
	Quality   *QualityReport `json:"quality,omitempty"`
}
