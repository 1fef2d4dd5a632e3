package models

import "time"

// WorkingMemoryItem is a scratch item valid only for the current task.
// Eviction rank is 0.7*relevance + 0.3*recency.
type WorkingMemoryItem struct {
	Key          string    `json:"key"`
	Content      string    `json:"content"`
	Relevance    float64   `json:"relevance"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	AccessCount  int       `json:"access_count"`
}

// ExecutionStep records one agent invocation inside an episode.
type ExecutionStep struct {
	Step       int    `json:"step"`
	Agent      string `json:"agent"`
	Action     string `json:"action"`
	Input      string `json:"input_summary"`
	Output     string `json:"output_summary"`
	DurationMS int64  `json:"duration_ms"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

// Episode is the post-hoc record of a task used to learn patterns.
// Immutable once stored except for the user feedback fields.
type Episode struct {
	ID                 string          `json:"id"`
	UserID             string          `json:"user_id"`
	SessionID          string          `json:"session_id"`
	TaskCategory       string          `json:"task_category"`
	TaskQuery          string          `json:"task_query"`
	PlanSummary        string          `json:"plan_summary,omitempty"`
	AgentsInvolved     []string        `json:"agents_involved,omitempty"`
	Steps              []ExecutionStep `json:"steps,omitempty"`
	Outcome            TaskOutcome     `json:"outcome"`
	FinalSummary       string          `json:"final_summary,omitempty"`
	Lessons            []string        `json:"lessons,omitempty"`
	SuccessfulPatterns []string        `json:"successful_patterns,omitempty"`
	FailurePatterns    []string        `json:"failure_patterns,omitempty"`
	TotalDurationMS    int64           `json:"total_duration_ms"`
	TokensUsed         int             `json:"tokens_used"`
	UserRating         *float64        `json:"user_rating,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

// EntityType classifies extracted referents.
type EntityType string

// Entity types.
const (
	EntityPerson   EntityType = "person"
	EntityOrg      EntityType = "org"
	EntityLocation EntityType = "location"
	EntityConcept  EntityType = "concept"
	EntityTool     EntityType = "tool"
	EntityProject  EntityType = "project"
	EntityDocument EntityType = "document"
	EntityDate     EntityType = "date"
	EntityCustom   EntityType = "custom"
)

// Entity is a referent extracted from conversation. Its ID is deterministic
// over (type, lower(name), user_id), making inserts idempotent.
type Entity struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Type           EntityType        `json:"type"`
	Aliases        []string          `json:"aliases,omitempty"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	UserID         string            `json:"user_id"`
	FirstMentioned time.Time         `json:"first_mentioned"`
	LastMentioned  time.Time         `json:"last_mentioned"`
	MentionCount   int               `json:"mention_count"`
}

// EntityRelation is an edge between two entities, deduplicated on
// (src, dst, type).
type EntityRelation struct {
	Src        string    `json:"src"`
	Dst        string    `json:"dst"`
	Type       string    `json:"type"`
	Confidence float64   `json:"confidence"`
	Context    string    `json:"context,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Preference is a cross-session user preference, distinct from episodic
// content.
type Preference struct {
	UserID string `json:"user_id"`
	Key    string `json:"key"`
	Value  string `json:"value"`
}
