package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helmsman-ai/helmsman/pkg/apperr"
	"github.com/helmsman-ai/helmsman/pkg/models"
)

// EpisodicStore persists task episodes indexed by (user, category, outcome).
// Writes are serialized by a store-wide lock.
type EpisodicStore struct {
	mu sync.Mutex
	db *sql.DB
}

// NewEpisodicStore creates an episodic store on the shared database.
func NewEpisodicStore(db *sql.DB) *EpisodicStore {
	return &EpisodicStore{db: db}
}

// Record stores an episode. The episode is immutable afterwards except for
// the user rating.
func (s *EpisodicStore) Record(ctx context.Context, ep models.Episode) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ep.ID == "" {
		ep.ID = uuid.NewString()
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = time.Now().UTC()
	}

	agents, err := json.Marshal(emptySlice(ep.AgentsInvolved))
	if err != nil {
		return "", fmt.Errorf("failed to encode agents: %w", err)
	}
	steps, err := json.Marshal(ep.Steps)
	if err != nil {
		return "", fmt.Errorf("failed to encode steps: %w", err)
	}
	if ep.Steps == nil {
		steps = []byte("[]")
	}
	lessons, _ := json.Marshal(emptySlice(ep.Lessons))
	successes, _ := json.Marshal(emptySlice(ep.SuccessfulPatterns))
	failures, _ := json.Marshal(emptySlice(ep.FailurePatterns))

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO episodes (id, user_id, session_id, task_category, task_query, plan_summary,
		                       agents_involved, steps, outcome, final_summary, lessons,
		                       successful_patterns, failure_patterns, total_duration_ms,
		                       tokens_used, user_rating, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		ep.ID, ep.UserID, ep.SessionID, ep.TaskCategory, ep.TaskQuery, ep.PlanSummary,
		agents, steps, ep.Outcome, ep.FinalSummary, lessons,
		successes, failures, ep.TotalDurationMS, ep.TokensUsed, ep.UserRating, ep.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to record episode: %w", err)
	}
	return ep.ID, nil
}

// Rate attaches a user rating to an episode. The only mutation episodes
// permit.
func (s *EpisodicStore) Rate(ctx context.Context, episodeID string, rating float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE episodes SET user_rating = $2 WHERE id = $1`, episodeID, rating)
	if err != nil {
		return fmt.Errorf("failed to rate episode: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.Wrap(apperr.CodeNotFound, apperr.ErrNotFound, "episode %s", episodeID)
	}
	return nil
}

// Get returns one episode by id.
func (s *EpisodicStore) Get(ctx context.Context, episodeID string) (models.Episode, error) {
	rows, err := s.db.QueryContext(ctx, episodeSelect+` WHERE id = $1`, episodeID)
	if err != nil {
		return models.Episode{}, fmt.Errorf("failed to get episode: %w", err)
	}
	defer rows.Close()
	episodes, err := scanEpisodes(rows)
	if err != nil {
		return models.Episode{}, err
	}
	if len(episodes) == 0 {
		return models.Episode{}, apperr.Wrap(apperr.CodeNotFound, apperr.ErrNotFound, "episode %s", episodeID)
	}
	return episodes[0], nil
}

// FindSimilar returns episodes of the same user and category, most recent
// first. onlySuccessful narrows to outcome=success.
func (s *EpisodicStore) FindSimilar(ctx context.Context, userID, category string, onlySuccessful bool, limit int) ([]models.Episode, error) {
	if limit <= 0 {
		limit = 5
	}
	query := episodeSelect + ` WHERE user_id = $1 AND task_category = $2`
	args := []any{userID, category}
	if onlySuccessful {
		query += ` AND outcome = $3`
		args = append(args, models.OutcomeSuccess)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find episodes: %w", err)
	}
	defer rows.Close()
	return scanEpisodes(rows)
}

// ListByUser returns the user's recent episodes, newest first.
func (s *EpisodicStore) ListByUser(ctx context.Context, userID string, limit int) ([]models.Episode, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		episodeSelect+fmt.Sprintf(` WHERE user_id = $1 ORDER BY created_at DESC LIMIT %d`, limit),
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list episodes: %w", err)
	}
	defer rows.Close()
	return scanEpisodes(rows)
}

// SuccessPatterns aggregates deduplicated successful patterns for a user
// and category, newest episodes first.
func (s *EpisodicStore) SuccessPatterns(ctx context.Context, userID, category string) ([]string, error) {
	return s.patterns(ctx, userID, category, "successful_patterns")
}

// FailurePatterns aggregates deduplicated failure patterns for a user and
// category, newest episodes first.
func (s *EpisodicStore) FailurePatterns(ctx context.Context, userID, category string) ([]string, error) {
	return s.patterns(ctx, userID, category, "failure_patterns")
}

func (s *EpisodicStore) patterns(ctx context.Context, userID, category, column string) ([]string, error) {
	// column is one of two fixed identifiers, never user input.
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM episodes WHERE user_id = $1 AND task_category = $2
		             ORDER BY created_at DESC LIMIT 50`, column),
		userID, category,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load patterns: %w", err)
	}
	defer rows.Close()

	seen := map[string]bool{}
	patterns := []string{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan patterns: %w", err)
		}
		var batch []string
		if err := json.Unmarshal(raw, &batch); err != nil {
			return nil, fmt.Errorf("failed to decode patterns: %w", err)
		}
		for _, p := range batch {
			if p != "" && !seen[p] {
				seen[p] = true
				patterns = append(patterns, p)
			}
		}
	}
	return patterns, rows.Err()
}

// CountByUser returns the user's episode count.
func (s *EpisodicStore) CountByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM episodes WHERE user_id = $1`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count episodes: %w", err)
	}
	return n, nil
}

const episodeSelect = `SELECT id, user_id, session_id, task_category, task_query, plan_summary,
       agents_involved, steps, outcome, final_summary, lessons,
       successful_patterns, failure_patterns, total_duration_ms, tokens_used,
       user_rating, created_at
  FROM episodes`

func scanEpisodes(rows *sql.Rows) ([]models.Episode, error) {
	episodes := []models.Episode{}
	for rows.Next() {
		var (
			ep                                          models.Episode
			agents, steps, lessons, successes, failures []byte
			rating                                      sql.NullFloat64
		)
		err := rows.Scan(&ep.ID, &ep.UserID, &ep.SessionID, &ep.TaskCategory, &ep.TaskQuery,
			&ep.PlanSummary, &agents, &steps, &ep.Outcome, &ep.FinalSummary,
			&lessons, &successes, &failures, &ep.TotalDurationMS, &ep.TokensUsed,
			&rating, &ep.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan episode: %w", err)
		}
		if err := errors.Join(
			json.Unmarshal(agents, &ep.AgentsInvolved),
			json.Unmarshal(steps, &ep.Steps),
			json.Unmarshal(lessons, &ep.Lessons),
			json.Unmarshal(successes, &ep.SuccessfulPatterns),
			json.Unmarshal(failures, &ep.FailurePatterns),
		); err != nil {
			return nil, fmt.Errorf("failed to decode episode %s: %w", ep.ID, err)
		}
		if rating.Valid {
			v := rating.Float64
			ep.UserRating = &v
		}
		episodes = append(episodes, ep)
	}
	return episodes, rows.Err()
}

func emptySlice(vals []string) []string {
	if vals == nil {
		return []string{}
	}
	return vals
}
