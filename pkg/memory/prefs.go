package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/helmsman-ai/helmsman/pkg/apperr"
	"github.com/helmsman-ai/helmsman/pkg/models"
)

// PreferenceStore persists cross-session user preferences.
type PreferenceStore struct {
	mu sync.Mutex
	db *sql.DB
}

// NewPreferenceStore creates a preference store on the shared database.
func NewPreferenceStore(db *sql.DB) *PreferenceStore {
	return &PreferenceStore{db: db}
}

// Set upserts one preference.
func (s *PreferenceStore) Set(ctx context.Context, userID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key == "" {
		return apperr.New(apperr.CodeInvalidRequest, "preference key is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO preferences (user_id, key, value) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, key) DO UPDATE SET value = EXCLUDED.value`,
		userID, key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set preference: %w", err)
	}
	return nil
}

// Get returns one preference value.
func (s *PreferenceStore) Get(ctx context.Context, userID, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM preferences WHERE user_id = $1 AND key = $2`,
		userID, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperr.Wrap(apperr.CodeNotFound, apperr.ErrNotFound, "preference %s", key)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get preference: %w", err)
	}
	return value, nil
}

// All returns every preference of a user, ordered by key.
func (s *PreferenceStore) All(ctx context.Context, userID string) ([]models.Preference, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, key, value FROM preferences WHERE user_id = $1 ORDER BY key`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list preferences: %w", err)
	}
	defer rows.Close()

	prefs := []models.Preference{}
	for rows.Next() {
		var p models.Preference
		if err := rows.Scan(&p.UserID, &p.Key, &p.Value); err != nil {
			return nil, fmt.Errorf("failed to scan preference: %w", err)
		}
		prefs = append(prefs, p)
	}
	return prefs, rows.Err()
}

// Delete removes one preference.
func (s *PreferenceStore) Delete(ctx context.Context, userID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM preferences WHERE user_id = $1 AND key = $2`, userID, key)
	if err != nil {
		return fmt.Errorf("failed to delete preference: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.Wrap(apperr.CodeNotFound, apperr.ErrNotFound, "preference %s", key)
	}
	return nil
}
