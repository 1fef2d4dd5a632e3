package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/helmsman-ai/helmsman/pkg/apperr"
	"github.com/helmsman-ai/helmsman/pkg/models"
)

// CreateTask records a new task in pending state.
func (c *Client) CreateTask(ctx context.Context, task models.Task) error {
	lock := c.sessionLock(task.SessionID)
	lock.Lock()
	defer lock.Unlock()

	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}
	if task.StartedAt.IsZero() {
		task.StartedAt = time.Now().UTC()
	}
	supporting, err := json.Marshal(emptyIfNil(task.SupportingAgents))
	if err != nil {
		return fmt.Errorf("failed to encode supporting agents: %w", err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO tasks (task_uid, session_id, query, category, status, primary_agent,
		                    supporting_agents, quality_score, error, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		task.TaskUID, task.SessionID, task.Query, task.Category, task.Status,
		task.PrimaryAgent, supporting, task.QualityScore, task.Error, task.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// GetTask returns a task by uid.
func (c *Client) GetTask(ctx context.Context, taskUID string) (models.Task, error) {
	var (
		t          models.Task
		supporting []byte
		finishedAt sql.NullTime
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT task_uid, session_id, query, category, status, outcome, primary_agent,
		        supporting_agents, quality_score, error, started_at, finished_at, duration_ms
		 FROM tasks WHERE task_uid = $1`,
		taskUID,
	).Scan(&t.TaskUID, &t.SessionID, &t.Query, &t.Category, &t.Status, &t.Outcome,
		&t.PrimaryAgent, &supporting, &t.QualityScore, &t.Error,
		&t.StartedAt, &finishedAt, &t.DurationMS)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Task{}, apperr.Wrap(apperr.CodeNotFound, apperr.ErrNotFound, "task %s", taskUID)
	}
	if err != nil {
		return models.Task{}, fmt.Errorf("failed to get task: %w", err)
	}
	if finishedAt.Valid {
		ts := finishedAt.Time
		t.FinishedAt = &ts
	}
	if err := json.Unmarshal(supporting, &t.SupportingAgents); err != nil {
		return models.Task{}, fmt.Errorf("failed to decode supporting agents: %w", err)
	}
	return t, nil
}

// MarkTaskRunning transitions a task to running and records routing.
func (c *Client) MarkTaskRunning(ctx context.Context, taskUID, sessionID, category, primaryAgent string, supportingAgents []string) error {
	lock := c.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	supporting, err := json.Marshal(emptyIfNil(supportingAgents))
	if err != nil {
		return fmt.Errorf("failed to encode supporting agents: %w", err)
	}
	res, err := c.db.ExecContext(ctx,
		`UPDATE tasks SET status = $2, category = $3, primary_agent = $4, supporting_agents = $5
		 WHERE task_uid = $1`,
		taskUID, models.TaskStatusRunning, category, primaryAgent, supporting,
	)
	if err != nil {
		return fmt.Errorf("failed to mark task running: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.Wrap(apperr.CodeNotFound, apperr.ErrNotFound, "task %s", taskUID)
	}
	return nil
}

// FinalizeTask closes out a task with its terminal status, outcome, quality
// score, and error text. FinishedAt and DurationMS are set from the stored
// StartedAt so duration is consistent with the record itself.
func (c *Client) FinalizeTask(ctx context.Context, taskUID, sessionID string, status models.TaskStatus, outcome models.TaskOutcome, qualityScore float64, errText string) error {
	lock := c.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()
	res, err := c.db.ExecContext(ctx,
		`UPDATE tasks
		 SET status = $2, outcome = $3, quality_score = $4, error = $5,
		     finished_at = $6,
		     duration_ms = (EXTRACT(EPOCH FROM ($6::timestamptz - started_at)) * 1000)::bigint
		 WHERE task_uid = $1`,
		taskUID, status, outcome, qualityScore, errText, now,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.Wrap(apperr.CodeNotFound, apperr.ErrNotFound, "task %s", taskUID)
	}
	return nil
}

// AppendThinkingStep appends one step to a task's timeline and returns its
// sequence number. Sequence numbers are gap-free from 1: assignment happens
// inside a transaction under the session's write lock, so concurrent
// appends for the same session cannot race.
func (c *Client) AppendThinkingStep(ctx context.Context, sessionID, taskUID string, stepType models.StepType, agentName, content string) (models.ThinkingStep, error) {
	lock := c.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return models.ThinkingStep{}, fmt.Errorf("failed to begin step transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	step := models.ThinkingStep{
		TaskUID:   taskUID,
		StepType:  stepType,
		AgentName: agentName,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO thinking_steps (task_uid, seq, step_type, agent_name, content, created_at)
		 SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4, $5 FROM thinking_steps WHERE task_uid = $1
		 RETURNING seq`,
		taskUID, step.StepType, step.AgentName, step.Content, step.CreatedAt,
	).Scan(&step.Seq)
	if err != nil {
		return models.ThinkingStep{}, fmt.Errorf("failed to append thinking step: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.ThinkingStep{}, fmt.Errorf("failed to commit thinking step: %w", err)
	}
	return step, nil
}

// GetThinkingSteps returns a task's timeline ordered by seq.
func (c *Client) GetThinkingSteps(ctx context.Context, taskUID string) ([]models.ThinkingStep, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT task_uid, seq, step_type, agent_name, content, created_at
		 FROM thinking_steps WHERE task_uid = $1 ORDER BY seq`,
		taskUID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get thinking steps: %w", err)
	}
	defer rows.Close()

	steps := []models.ThinkingStep{}
	for rows.Next() {
		var s models.ThinkingStep
		if err := rows.Scan(&s.TaskUID, &s.Seq, &s.StepType, &s.AgentName, &s.Content, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan thinking step: %w", err)
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

// ActiveTaskCount returns the number of pending or running tasks.
func (c *Client) ActiveTaskCount(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE status IN ($1, $2)`,
		models.TaskStatusPending, models.TaskStatusRunning,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count active tasks: %w", err)
	}
	return n, nil
}

// CatchupEvents reconstructs the recent event timeline of a session from the
// durable store so a reconnecting subscriber can rebuild its view. It replays
// the thinking steps of the session's most recent task plus that task's
// terminal event if any. The bool result reports overflow: more steps exist
// than limit allowed, so only the newest limit were returned.
func (c *Client) CatchupEvents(ctx context.Context, sessionID string, limit int) ([]models.ChatEvent, bool, error) {
	if limit <= 0 {
		limit = 200
	}

	var (
		t          models.Task
		finishedAt sql.NullTime
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT task_uid, status, outcome, error, finished_at FROM tasks
		 WHERE session_id = $1 ORDER BY started_at DESC LIMIT 1`,
		sessionID,
	).Scan(&t.TaskUID, &t.Status, &t.Outcome, &t.Error, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return []models.ChatEvent{}, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to find latest task: %w", err)
	}
	active := t.Status == models.TaskStatusPending || t.Status == models.TaskStatusRunning

	// One extra row tells truncation apart from an exact fit.
	rows, err := c.db.QueryContext(ctx,
		`SELECT seq, step_type, agent_name, content, created_at
		 FROM (SELECT seq, step_type, agent_name, content, created_at
		       FROM thinking_steps WHERE task_uid = $1 ORDER BY seq DESC LIMIT $2) latest
		 ORDER BY seq`,
		t.TaskUID, limit+1,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load catchup steps: %w", err)
	}
	defer rows.Close()

	events := []models.ChatEvent{}
	for rows.Next() {
		var s models.ThinkingStep
		if err := rows.Scan(&s.Seq, &s.StepType, &s.AgentName, &s.Content, &s.CreatedAt); err != nil {
			return nil, false, fmt.Errorf("failed to scan catchup step: %w", err)
		}
		events = append(events, models.ChatEvent{
			Type:      stepEventType(s.StepType),
			SessionID: sessionID,
			TaskUID:   t.TaskUID,
			Step:      s.Seq,
			Content:   s.Content,
			Stage:     s.AgentName,
			TS:        s.CreatedAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	overflow := len(events) > limit
	if overflow {
		events = events[len(events)-limit:]
	}

	if !active && !overflow {
		ev := models.ChatEvent{
			SessionID: sessionID,
			TaskUID:   t.TaskUID,
			TS:        time.Now().UTC(),
		}
		if finishedAt.Valid {
			ev.TS = finishedAt.Time
		}
		switch t.Status {
		case models.TaskStatusCancelled:
			ev.Type = models.EventCancelled
		case models.TaskStatusFailed:
			ev.Type = models.EventError
			ev.Content = t.Error
			ev.Code = string(apperr.CodeInternal)
			if t.Outcome == models.OutcomeTimeout {
				ev.Code = string(apperr.CodeTimeout)
			}
		default:
			ev.Type = models.EventResult
		}
		events = append(events, ev)
	}

	return events, overflow, nil
}

// stepEventType maps a durable step type to its streamed event type.
func stepEventType(st models.StepType) models.EventType {
	switch st {
	case models.StepTypeThinking:
		return models.EventThinking
	case models.StepTypeStatus:
		return models.EventStatus
	case models.StepTypeProgress:
		return models.EventProgress
	case models.StepTypeToolCall:
		return models.EventSearching
	case models.StepTypeObservation:
		return models.EventProgress
	case models.StepTypeFinal:
		return models.EventFinalAnswer
	default:
		return models.EventStatus
	}
}

func emptyIfNil(vals []string) []string {
	if vals == nil {
		return []string{}
	}
	return vals
}
