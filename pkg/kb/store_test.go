package kb

import (
	"context"
	"hash/fnv"
	"testing"

	chromem "github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmsman-ai/helmsman/pkg/apperr"
	"github.com/helmsman-ai/helmsman/pkg/models"
)

// fakeEmbedding produces deterministic unit vectors so similarity search
// works without a network.
func fakeEmbedding(_ context.Context, text string) ([]float32, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum32()
	vec := make([]float32, 8)
	var norm float32
	for i := range vec {
		seed = seed*1664525 + 1013904223
		vec[i] = float32(seed%1000)/1000.0 - 0.5
		norm += vec[i] * vec[i]
	}
	for i := range vec {
		vec[i] /= sqrt32(norm)
	}
	return vec, nil
}

func sqrt32(f float32) float32 {
	x := f
	for i := 0; i < 20; i++ {
		x = (x + f/x) / 2
	}
	return x
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewWithEmbedding("", chromem.EmbeddingFunc(fakeEmbedding))
	require.NoError(t, err)
	return s
}

func TestStoreCollectionLifecycle(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.CreateCollection("docs", "System documentation", "reference", models.KBSkills{
		DisplayName: "Docs",
		Keywords:    []string{"api", "endpoint"},
	}))

	cols := s.ListCollections()
	require.Len(t, cols, 1)
	assert.Equal(t, "docs", cols[0].Name)
	assert.Equal(t, "System documentation", cols[0].Description)
	assert.Equal(t, 0, cols[0].DocCount)

	t.Run("recreate updates metadata only", func(t *testing.T) {
		require.NoError(t, s.CreateCollection("docs", "Updated", "reference", models.KBSkills{}))
		col, err := s.GetCollection("docs")
		require.NoError(t, err)
		assert.Equal(t, "Updated", col.Description)
	})

	t.Run("delete removes collection", func(t *testing.T) {
		require.NoError(t, s.DeleteCollection("docs"))
		_, err := s.GetCollection("docs")
		assert.ErrorIs(t, err, apperr.ErrNotFound)
		assert.ErrorIs(t, s.DeleteCollection("docs"), apperr.ErrNotFound)
	})
}

func TestStoreInsertAndQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateCollection("kb", "", "", models.KBSkills{}))

	id1, err := s.Insert(ctx, "kb", models.KBDocument{Title: "System Overview", Content: "The system routes queries through agents."})
	require.NoError(t, err)
	require.NotEmpty(t, id1)

	_, err = s.Insert(ctx, "kb", models.KBDocument{Title: "API Reference", Content: "Endpoints for chat and knowledge bases."})
	require.NoError(t, err)

	t.Run("query returns ranked results with titles", func(t *testing.T) {
		results, err := s.Query(ctx, "kb", "The system routes queries through agents.", 5)
		require.NoError(t, err)
		require.NotEmpty(t, results)
		assert.Equal(t, id1, results[0].ID)
		assert.Equal(t, "System Overview", results[0].Metadata["title"])
		for i := 1; i < len(results); i++ {
			assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
		}
	})

	t.Run("topK larger than corpus is clamped", func(t *testing.T) {
		results, err := s.Query(ctx, "kb", "agents", 100)
		require.NoError(t, err)
		assert.Len(t, results, 2)
	})

	t.Run("empty collection yields empty results", func(t *testing.T) {
		require.NoError(t, s.CreateCollection("empty", "", "", models.KBSkills{}))
		results, err := s.Query(ctx, "empty", "anything", 3)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("unknown collection is NOT_FOUND", func(t *testing.T) {
		_, err := s.Query(ctx, "missing", "q", 3)
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("empty content rejected", func(t *testing.T) {
		_, err := s.Insert(ctx, "kb", models.KBDocument{Content: "   "})
		require.Error(t, err)
	})
}

func TestSuggest(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateCollection("recipes", "Cooking", "food", models.KBSkills{
		Keywords: []string{"recipe", "ingredient"},
		Topics:   []string{"cooking"},
	}))
	require.NoError(t, s.CreateCollection("infra", "Infrastructure", "ops", models.KBSkills{
		Keywords: []string{"kubernetes", "deployment"},
		Topics:   []string{"cloud"},
	}))

	t.Run("routes by keyword", func(t *testing.T) {
		got, err := s.Suggest("A recipe with three ingredients for cooking pasta", "Pasta")
		require.NoError(t, err)
		assert.Equal(t, "recipes", got.Database)
		assert.Greater(t, got.Confidence, 0.5)
		assert.Contains(t, got.Reason, "recipe")
	})

	t.Run("no match yields low confidence", func(t *testing.T) {
		got, err := s.Suggest("completely unrelated text", "")
		require.NoError(t, err)
		assert.LessOrEqual(t, got.Confidence, 0.1)
	})

	t.Run("no collections is an error", func(t *testing.T) {
		empty := newTestStore(t)
		_, err := empty.Suggest("anything", "")
		require.Error(t, err)
	})
}

func TestSmartInsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateCollection("infra", "Infrastructure", "ops", models.KBSkills{
		Keywords: []string{"kubernetes"},
	}))

	t.Run("inserts into matching collection", func(t *testing.T) {
		db, id, err := s.SmartInsert(ctx, models.KBDocument{Content: "kubernetes deployment guide"}, false)
		require.NoError(t, err)
		assert.Equal(t, "infra", db)
		assert.NotEmpty(t, id)
	})

	t.Run("unmatched without auto_create fails", func(t *testing.T) {
		_, _, err := s.SmartInsert(ctx, models.KBDocument{Content: "poetry about rivers"}, false)
		require.Error(t, err)
	})

	t.Run("unmatched with auto_create lands in general", func(t *testing.T) {
		db, id, err := s.SmartInsert(ctx, models.KBDocument{Content: "poetry about rivers"}, true)
		require.NoError(t, err)
		assert.Equal(t, "general", db)
		assert.NotEmpty(t, id)
	})
}
