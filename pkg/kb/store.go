// Package kb implements the vector knowledge base facade. Vectors live in
// an embedded chromem-go database persisted under a dedicated data
// directory; collection metadata (description, category, routing skills)
// lives in a JSON sidecar in the same directory.
package kb

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"

	"github.com/helmsman-ai/helmsman/pkg/apperr"
	"github.com/helmsman-ai/helmsman/pkg/config"
	"github.com/helmsman-ai/helmsman/pkg/models"
)

// metadataFile is the sidecar holding per-collection metadata.
const metadataFile = "collections.json"

// collectionMeta is the persisted sidecar entry for one collection.
type collectionMeta struct {
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category,omitempty"`
	Skills      models.KBSkills `json:"skills"`
}

// Store is the per-collection vector knowledge base facade.
type Store struct {
	db      *chromem.DB
	embed   chromem.EmbeddingFunc
	dataDir string

	mu   sync.RWMutex
	meta map[string]collectionMeta
}

// New opens (or creates) the on-disk vector store. The embedding model is a
// configuration point; any OpenAI-compatible endpoint works.
func New(cfg config.KBConfig, emb config.EmbeddingConfig) (*Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create KB data directory: %w", err)
	}

	db, err := chromem.NewPersistentDB(cfg.DataDir, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector database: %w", err)
	}

	embed := chromem.NewEmbeddingFuncOpenAICompat(emb.BaseURL, emb.APIKey, emb.Model, nil)
	s := &Store{db: db, embed: embed, dataDir: cfg.DataDir, meta: make(map[string]collectionMeta)}
	if err := s.loadMeta(); err != nil {
		return nil, err
	}
	slog.Info("Vector store opened", "data_dir", cfg.DataDir, "collections", len(db.ListCollections()))
	return s, nil
}

// NewWithEmbedding builds a store with a custom embedding function
// (in-memory when dataDir is empty). Used by tests.
func NewWithEmbedding(dataDir string, embed chromem.EmbeddingFunc) (*Store, error) {
	var db *chromem.DB
	var err error
	if dataDir != "" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, err
		}
		db, err = chromem.NewPersistentDB(dataDir, false)
		if err != nil {
			return nil, err
		}
	} else {
		db = chromem.NewDB()
	}
	s := &Store{db: db, embed: embed, dataDir: dataDir, meta: make(map[string]collectionMeta)}
	if err := s.loadMeta(); err != nil {
		return nil, err
	}
	return s, nil
}

// ListCollections returns every collection with its metadata and doc count.
func (s *Store) ListCollections() []models.KBCollection {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.KBCollection, 0)
	for name, col := range s.db.ListCollections() {
		m := s.meta[name]
		out = append(out, models.KBCollection{
			Name:        name,
			Description: m.Description,
			Category:    m.Category,
			DocCount:    col.Count(),
			Skills:      m.Skills,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetCollection returns one collection's descriptor.
func (s *Store) GetCollection(name string) (models.KBCollection, error) {
	col := s.db.GetCollection(name, s.embed)
	if col == nil {
		return models.KBCollection{}, apperr.ErrNotFound
	}
	s.mu.RLock()
	m := s.meta[name]
	s.mu.RUnlock()
	return models.KBCollection{
		Name:        name,
		Description: m.Description,
		Category:    m.Category,
		DocCount:    col.Count(),
		Skills:      m.Skills,
	}, nil
}

// CreateCollection creates a collection with routing skills. Creating an
// existing collection updates its metadata only.
func (s *Store) CreateCollection(name, description, category string, skills models.KBSkills) error {
	if name == "" {
		return apperr.New(apperr.CodeInvalidRequest, "collection name is required")
	}
	if _, err := s.db.GetOrCreateCollection(name, nil, s.embed); err != nil {
		return fmt.Errorf("failed to create collection %q: %w", name, err)
	}

	s.mu.Lock()
	s.meta[name] = collectionMeta{Description: description, Category: category, Skills: skills}
	err := s.saveMetaLocked()
	s.mu.Unlock()
	return err
}

// DeleteCollection removes a collection, its vectors, and its metadata.
func (s *Store) DeleteCollection(name string) error {
	if s.db.GetCollection(name, s.embed) == nil {
		return apperr.ErrNotFound
	}
	if err := s.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("failed to delete collection %q: %w", name, err)
	}
	s.mu.Lock()
	delete(s.meta, name)
	err := s.saveMetaLocked()
	s.mu.Unlock()
	return err
}

// Insert embeds and stores a document, returning its id.
func (s *Store) Insert(ctx context.Context, collection string, doc models.KBDocument) (string, error) {
	col := s.db.GetCollection(collection, s.embed)
	if col == nil {
		return "", apperr.ErrNotFound
	}
	if strings.TrimSpace(doc.Content) == "" {
		return "", apperr.New(apperr.CodeInvalidRequest, "document content is required")
	}

	id := doc.ID
	if id == "" {
		id = uuid.New().String()
	}
	metadata := make(map[string]string, len(doc.Metadata)+2)
	for k, v := range doc.Metadata {
		metadata[k] = v
	}
	if doc.Title != "" {
		metadata["title"] = doc.Title
	}
	if len(doc.Tags) > 0 {
		metadata["tags"] = strings.Join(doc.Tags, ",")
	}

	err := col.AddDocument(ctx, chromem.Document{ID: id, Content: doc.Content, Metadata: metadata})
	if err != nil {
		return "", apperr.Wrap(apperr.CodeRetrievalFailure, err, "failed to insert document into %q", collection)
	}
	return id, nil
}

// Delete removes a document by id.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	col := s.db.GetCollection(collection, s.embed)
	if col == nil {
		return apperr.ErrNotFound
	}
	return col.Delete(ctx, nil, nil, id)
}

// Query returns the topK most similar documents. Results are deterministic
// given identical embeddings and index state. Fewer hits than requested is
// not an error.
func (s *Store) Query(ctx context.Context, collection, text string, topK int) ([]models.KBResult, error) {
	col := s.db.GetCollection(collection, s.embed)
	if col == nil {
		return nil, apperr.ErrNotFound
	}
	if topK <= 0 {
		topK = 5
	}
	count := col.Count()
	if count == 0 {
		return []models.KBResult{}, nil
	}
	if topK > count {
		topK = count
	}

	results, err := col.Query(ctx, text, topK, nil, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeRetrievalFailure, err, "query against %q failed", collection)
	}

	out := make([]models.KBResult, 0, len(results))
	for _, r := range results {
		out = append(out, models.KBResult{
			ID:       r.ID,
			Content:  r.Content,
			Score:    float64(r.Similarity),
			Metadata: r.Metadata,
		})
	}
	return out, nil
}

func (s *Store) metaPath() string {
	return filepath.Join(s.dataDir, metadataFile)
}

func (s *Store) loadMeta() error {
	if s.dataDir == "" {
		return nil
	}
	data, err := os.ReadFile(s.metaPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read collection metadata: %w", err)
	}
	if err := json.Unmarshal(data, &s.meta); err != nil {
		return fmt.Errorf("failed to parse collection metadata: %w", err)
	}
	return nil
}

func (s *Store) saveMetaLocked() error {
	if s.dataDir == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.meta, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.metaPath(), data, 0o644); err != nil {
		return fmt.Errorf("failed to persist collection metadata: %w", err)
	}
	return nil
}
