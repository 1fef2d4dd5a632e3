package models

import "time"

// Session is a conversation container owned by a single user.
// Sessions are never silently merged across users.
type Session struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TurnRole is the author role of a conversation turn.
type TurnRole string

// Turn roles.
const (
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
)

// Turn is one message in a session, ordered by CreatedAt.
// TaskUID links assistant turns to the task that produced them.
type Turn struct {
	TurnID    string    `json:"turn_id"`
	SessionID string    `json:"session_id"`
	Role      TurnRole  `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	TaskUID   string    `json:"task_uid,omitempty"`
}

// TurnDetail is a turn with the thinking timeline of its task embedded.
// Used by GET /chat/session/:id so the UI can reconstruct timelines.
type TurnDetail struct {
	Turn
	Steps []ThinkingStep `json:"steps,omitempty"`
}
