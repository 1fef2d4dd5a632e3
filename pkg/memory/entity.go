package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/helmsman-ai/helmsman/pkg/apperr"
	"github.com/helmsman-ai/helmsman/pkg/models"
)

// EntityStore persists extracted referents and their relations. Entity ids
// are deterministic over (type, lower(name), user_id) so re-inserts are
// idempotent. Writes are serialized by a store-wide lock.
type EntityStore struct {
	mu sync.Mutex
	db *sql.DB
}

// NewEntityStore creates an entity store on the shared database.
func NewEntityStore(db *sql.DB) *EntityStore {
	return &EntityStore{db: db}
}

// EntityID computes the deterministic id for an entity.
func EntityID(entityType models.EntityType, name, userID string) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s:%s:%s", entityType, strings.ToLower(strings.TrimSpace(name)), userID)
	return fmt.Sprintf("ent_%016x", h.Sum64())
}

// Upsert inserts an entity or, when it already exists, bumps mention_count
// and last_mentioned and merges aliases and attributes.
func (s *EntityStore) Upsert(ctx context.Context, e models.Entity) (models.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(e.Name) == "" {
		return models.Entity{}, apperr.New(apperr.CodeInvalidRequest, "entity name is required")
	}
	if e.Type == "" {
		e.Type = models.EntityCustom
	}
	e.ID = EntityID(e.Type, e.Name, e.UserID)
	now := time.Now().UTC()

	existing, err := s.getLocked(ctx, e.ID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		aliases, _ := json.Marshal(emptySlice(e.Aliases))
		attrs, _ := json.Marshal(emptyMap(e.Attributes))
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO entities (id, name, type, aliases, attributes, user_id,
			                       first_mentioned, last_mentioned, mention_count)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $7, 1)`,
			e.ID, e.Name, e.Type, aliases, attrs, e.UserID, now,
		)
		if err != nil {
			return models.Entity{}, fmt.Errorf("failed to insert entity: %w", err)
		}
		e.FirstMentioned, e.LastMentioned, e.MentionCount = now, now, 1
		return e, nil
	case err != nil:
		return models.Entity{}, err
	}

	merged := existing
	merged.Aliases = mergeStrings(existing.Aliases, e.Aliases)
	merged.Attributes = mergeMaps(existing.Attributes, e.Attributes)
	merged.LastMentioned = now
	merged.MentionCount = existing.MentionCount + 1

	aliases, _ := json.Marshal(emptySlice(merged.Aliases))
	attrs, _ := json.Marshal(emptyMap(merged.Attributes))
	_, err = s.db.ExecContext(ctx,
		`UPDATE entities SET aliases = $2, attributes = $3, last_mentioned = $4,
		        mention_count = mention_count + 1
		 WHERE id = $1`,
		merged.ID, aliases, attrs, now,
	)
	if err != nil {
		return models.Entity{}, fmt.Errorf("failed to update entity: %w", err)
	}
	return merged, nil
}

// Get returns an entity by id.
func (s *EntityStore) Get(ctx context.Context, id string) (models.Entity, error) {
	return s.getLocked(ctx, id)
}

func (s *EntityStore) getLocked(ctx context.Context, id string) (models.Entity, error) {
	rows, err := s.db.QueryContext(ctx, entitySelect+` WHERE id = $1`, id)
	if err != nil {
		return models.Entity{}, fmt.Errorf("failed to get entity: %w", err)
	}
	defer rows.Close()
	entities, err := scanEntities(rows)
	if err != nil {
		return models.Entity{}, err
	}
	if len(entities) == 0 {
		return models.Entity{}, apperr.Wrap(apperr.CodeNotFound, apperr.ErrNotFound, "entity %s", id)
	}
	return entities[0], nil
}

// Find looks an entity up by name or alias, optionally narrowed by type.
func (s *EntityStore) Find(ctx context.Context, userID, name string, entityType models.EntityType) (models.Entity, error) {
	query := entitySelect + ` WHERE user_id = $1 AND (LOWER(name) = LOWER($2) OR aliases @> to_jsonb($2::text))`
	args := []any{userID, name}
	if entityType != "" {
		query += ` AND type = $3`
		args = append(args, entityType)
	}
	query += ` ORDER BY mention_count DESC LIMIT 1`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return models.Entity{}, fmt.Errorf("failed to find entity: %w", err)
	}
	defer rows.Close()
	entities, err := scanEntities(rows)
	if err != nil {
		return models.Entity{}, err
	}
	if len(entities) == 0 {
		return models.Entity{}, apperr.Wrap(apperr.CodeNotFound, apperr.ErrNotFound, "entity %q", name)
	}
	return entities[0], nil
}

// ListByUser returns the user's entities, most mentioned first.
func (s *EntityStore) ListByUser(ctx context.Context, userID string) ([]models.Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		entitySelect+` WHERE user_id = $1 ORDER BY mention_count DESC, name`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

// UpdateAttributes replaces an entity's attribute map.
func (s *EntityStore) UpdateAttributes(ctx context.Context, id string, attributes map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	attrs, err := json.Marshal(emptyMap(attributes))
	if err != nil {
		return fmt.Errorf("failed to encode attributes: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE entities SET attributes = $2 WHERE id = $1`, id, attrs)
	if err != nil {
		return fmt.Errorf("failed to update entity attributes: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.Wrap(apperr.CodeNotFound, apperr.ErrNotFound, "entity %s", id)
	}
	return nil
}

// AddRelation records an edge between two entities. Duplicate (src, dst,
// type) edges are ignored.
func (s *EntityStore) AddRelation(ctx context.Context, rel models.EntityRelation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entity_relations (src, dst, type, confidence, context, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (src, dst, type) DO NOTHING`,
		rel.Src, rel.Dst, rel.Type, rel.Confidence, rel.Context, rel.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add relation: %w", err)
	}
	return nil
}

// Related returns entities one hop from id, optionally filtered by relation
// type.
func (s *EntityStore) Related(ctx context.Context, id string, relType string) ([]models.Entity, error) {
	query := entitySelect + ` WHERE id IN (SELECT dst FROM entity_relations WHERE src = $1`
	args := []any{id}
	if relType != "" {
		query += ` AND type = $2`
		args = append(args, relType)
	}
	query += `) ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load related entities: %w", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

// Traverse walks the relation graph breadth-first from id up to maxDepth
// hops. The visited set makes cycles safe.
func (s *EntityStore) Traverse(ctx context.Context, id string, maxDepth int) ([]models.Entity, error) {
	if maxDepth <= 0 {
		maxDepth = 2
	}
	visited := map[string]bool{id: true}
	frontier := []string{id}
	result := []models.Entity{}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		next := []string{}
		for _, cur := range frontier {
			related, err := s.Related(ctx, cur, "")
			if err != nil {
				return nil, err
			}
			for _, e := range related {
				if visited[e.ID] {
					continue
				}
				visited[e.ID] = true
				result = append(result, e)
				next = append(next, e.ID)
			}
		}
		frontier = next
	}
	return result, nil
}

// CountByUser returns the user's entity count.
func (s *EntityStore) CountByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entities WHERE user_id = $1`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count entities: %w", err)
	}
	return n, nil
}

const entitySelect = `SELECT id, name, type, aliases, attributes, user_id,
       first_mentioned, last_mentioned, mention_count
  FROM entities`

func scanEntities(rows *sql.Rows) ([]models.Entity, error) {
	entities := []models.Entity{}
	for rows.Next() {
		var (
			e              models.Entity
			aliases, attrs []byte
		)
		err := rows.Scan(&e.ID, &e.Name, &e.Type, &aliases, &attrs, &e.UserID,
			&e.FirstMentioned, &e.LastMentioned, &e.MentionCount)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		if err := errors.Join(
			json.Unmarshal(aliases, &e.Aliases),
			json.Unmarshal(attrs, &e.Attributes),
		); err != nil {
			return nil, fmt.Errorf("failed to decode entity %s: %w", e.ID, err)
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

func mergeStrings(base, extra []string) []string {
	seen := map[string]bool{}
	merged := []string{}
	for _, v := range append(append([]string{}, base...), extra...) {
		if v != "" && !seen[v] {
			seen[v] = true
			merged = append(merged, v)
		}
	}
	return merged
}

func mergeMaps(base, extra map[string]string) map[string]string {
	merged := map[string]string{}
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

func emptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
