package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/helmsman-ai/helmsman/pkg/apperr"
	"github.com/helmsman-ai/helmsman/pkg/models"
)

// CreateSession creates a new session for a user and returns it.
func (c *Client) CreateSession(ctx context.Context, userID, title string) (models.Session, error) {
	s := models.Session{
		SessionID: uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, user_id, title, created_at) VALUES ($1, $2, $3, $4)`,
		s.SessionID, s.UserID, s.Title, s.CreatedAt,
	)
	if err != nil {
		return models.Session{}, fmt.Errorf("failed to create session: %w", err)
	}
	return s, nil
}

// GetSession returns a session by id.
func (c *Client) GetSession(ctx context.Context, sessionID string) (models.Session, error) {
	var s models.Session
	err := c.db.QueryRowContext(ctx,
		`SELECT session_id, user_id, title, created_at FROM sessions WHERE session_id = $1`,
		sessionID,
	).Scan(&s.SessionID, &s.UserID, &s.Title, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Session{}, apperr.Wrap(apperr.CodeNotFound, apperr.ErrNotFound, "session %s", sessionID)
	}
	if err != nil {
		return models.Session{}, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// sessionTitleLimit caps the auto-generated session title length in runes.
const sessionTitleLimit = 80

// sessionTitle derives a session title from the first user message.
func sessionTitle(message string) string {
	message = strings.TrimSpace(message)
	runes := []rune(message)
	if len(runes) > sessionTitleLimit {
		return string(runes[:sessionTitleLimit])
	}
	return message
}

// EnsureSession returns the existing session or creates one with the given
// id for the user. A new session is titled after the first user message,
// truncated to 80 runes; an existing untitled session picks its title up the
// same way. A session owned by a different user is rejected rather than
// silently reused.
func (c *Client) EnsureSession(ctx context.Context, sessionID, userID, firstMessage string) (models.Session, error) {
	title := sessionTitle(firstMessage)
	if sessionID == "" {
		return c.CreateSession(ctx, userID, title)
	}
	s, err := c.GetSession(ctx, sessionID)
	if errors.Is(err, apperr.ErrNotFound) {
		s = models.Session{
			SessionID: sessionID,
			UserID:    userID,
			Title:     title,
			CreatedAt: time.Now().UTC(),
		}
		_, insErr := c.db.ExecContext(ctx,
			`INSERT INTO sessions (session_id, user_id, title, created_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (session_id) DO NOTHING`,
			s.SessionID, s.UserID, s.Title, s.CreatedAt,
		)
		if insErr != nil {
			return models.Session{}, fmt.Errorf("failed to create session: %w", insErr)
		}
		return s, nil
	}
	if err != nil {
		return models.Session{}, err
	}
	if s.UserID != userID {
		return models.Session{}, apperr.New(apperr.CodeAuthFailed, "session %s belongs to another user", sessionID)
	}
	if s.Title == "" && title != "" {
		_, upErr := c.db.ExecContext(ctx,
			`UPDATE sessions SET title = $2 WHERE session_id = $1 AND title = ''`,
			sessionID, title,
		)
		if upErr != nil {
			return models.Session{}, fmt.Errorf("failed to title session: %w", upErr)
		}
		s.Title = title
	}
	return s, nil
}

// ListSessions returns the user's sessions, newest first.
func (c *Client) ListSessions(ctx context.Context, userID string) ([]models.Session, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT session_id, user_id, title, created_at FROM sessions
		 WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []models.Session{}
	for rows.Next() {
		var s models.Session
		if err := rows.Scan(&s.SessionID, &s.UserID, &s.Title, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// AddTurn appends a turn to a session. Writes within one session are
// serialized so turn order matches arrival order.
func (c *Client) AddTurn(ctx context.Context, sessionID string, role models.TurnRole, content, taskUID string) (models.Turn, error) {
	lock := c.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	turn := models.Turn{
		TurnID:    uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		TaskUID:   taskUID,
		CreatedAt: time.Now().UTC(),
	}
	var uid any
	if taskUID != "" {
		uid = taskUID
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO turns (turn_id, session_id, role, content, task_uid, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		turn.TurnID, turn.SessionID, turn.Role, turn.Content, uid, turn.CreatedAt,
	)
	if err != nil {
		return models.Turn{}, fmt.Errorf("failed to add turn: %w", err)
	}
	return turn, nil
}

// GetTurns returns a session's turns in chronological order.
func (c *Client) GetTurns(ctx context.Context, sessionID string) ([]models.Turn, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT turn_id, session_id, role, content, COALESCE(task_uid, ''), created_at
		 FROM turns WHERE session_id = $1 ORDER BY created_at, turn_id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get turns: %w", err)
	}
	defer rows.Close()

	turns := []models.Turn{}
	for rows.Next() {
		var t models.Turn
		if err := rows.Scan(&t.TurnID, &t.SessionID, &t.Role, &t.Content, &t.TaskUID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// GetTurnDetails returns a session's turns with each assistant turn's
// thinking timeline embedded, so the UI can rebuild the full view.
func (c *Client) GetTurnDetails(ctx context.Context, sessionID string) ([]models.TurnDetail, error) {
	turns, err := c.GetTurns(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	details := make([]models.TurnDetail, 0, len(turns))
	for _, t := range turns {
		d := models.TurnDetail{Turn: t}
		if t.TaskUID != "" {
			steps, err := c.GetThinkingSteps(ctx, t.TaskUID)
			if err != nil {
				return nil, err
			}
			d.Steps = steps
		}
		details = append(details, d)
	}
	return details, nil
}

// ClearSession deletes a session's turns and tasks but keeps the session
// itself so an open WebSocket subscription stays valid.
func (c *Client) ClearSession(ctx context.Context, sessionID string) error {
	lock := c.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := c.GetSession(ctx, sessionID); err != nil {
		return err
	}
	if _, err := c.db.ExecContext(ctx, `DELETE FROM turns WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to clear turns: %w", err)
	}
	if _, err := c.db.ExecContext(ctx, `DELETE FROM tasks WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to clear tasks: %w", err)
	}
	return nil
}

// DeleteSession removes a session and everything attached to it.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.Wrap(apperr.CodeNotFound, apperr.ErrNotFound, "session %s", sessionID)
	}
	return nil
}

// CleanupOldSessions deletes sessions created before the retention window.
// Returns the number of sessions removed.
func (c *Client) CleanupOldSessions(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	res, err := c.db.ExecContext(ctx, `DELETE FROM sessions WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
