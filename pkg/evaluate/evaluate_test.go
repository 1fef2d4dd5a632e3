package evaluate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmsman-ai/helmsman/pkg/llm"
	"github.com/helmsman-ai/helmsman/pkg/models"
)

type fakeLLM struct {
	response string
	err      error
}

func (f *fakeLLM) Generate(_ context.Context, _ llm.Request) (string, llm.Usage, error) {
	return f.response, llm.Usage{}, f.err
}

func TestSelfEvaluator(t *testing.T) {
	e := NewSelfEvaluator(&fakeLLM{response: `{
		"accuracy": 0.9, "completeness": 0.8, "relevance": 0.9,
		"clarity": 0.7, "efficiency": 0.6, "user_alignment": 0.9,
		"patterns": ["retrieve-then-summarize"],
		"lessons": ["cite the source"]
	}`})

	eval, err := e.Evaluate(context.Background(), "q", "a", []models.ExecutionStep{
		{Step: 1, Agent: "rag", Action: "retrieve", Success: true, Output: "found it"},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.8, eval.Overall, 1e-9)
	assert.Equal(t, []string{"retrieve-then-summarize"}, eval.Patterns)

	_, err = NewSelfEvaluator(&fakeLLM{err: errors.New("down")}).Evaluate(context.Background(), "q", "a", nil)
	assert.Error(t, err)

	_, err = NewSelfEvaluator(&fakeLLM{response: "not json"}).Evaluate(context.Background(), "q", "a", nil)
	assert.Error(t, err)
}

func TestAdaptiveEvaluatorCalibration(t *testing.T) {
	a := NewAdaptiveEvaluator(3)

	assert.InDelta(t, 0.5, a.Calibrate(0.5), 1e-9, "no ratings means no offset")

	// Users consistently rate 0.2 below the self-score.
	a.RecordRating(0.9, 0.7)
	a.RecordRating(0.8, 0.6)
	assert.InDelta(t, -0.2, a.Offset(), 1e-9)
	assert.InDelta(t, 0.5, a.Calibrate(0.7), 1e-9)

	t.Run("window slides", func(t *testing.T) {
		a.RecordRating(0.5, 0.5)
		a.RecordRating(0.5, 0.5)
		a.RecordRating(0.5, 0.5)
		assert.InDelta(t, 0, a.Offset(), 1e-9, "old deltas fell out of the window")
	})

	t.Run("clamped to [0,1]", func(t *testing.T) {
		b := NewAdaptiveEvaluator(2)
		b.RecordRating(0.1, 1.0)
		assert.InDelta(t, 1.0, b.Calibrate(0.9), 1e-9)
		c := NewAdaptiveEvaluator(2)
		c.RecordRating(1.0, 0.0)
		assert.InDelta(t, 0.0, c.Calibrate(0.3), 1e-9)
	})
}

// fakeEpisodes implements EpisodeStore in memory.
type fakeEpisodes struct {
	episodes       []models.Episode
	patternQueries int
}

func (f *fakeEpisodes) Record(_ context.Context, ep models.Episode) (string, error) {
	f.episodes = append(f.episodes, ep)
	return "ep-id", nil
}

func (f *fakeEpisodes) FindSimilar(_ context.Context, userID, category string, onlySuccessful bool, _ int) ([]models.Episode, error) {
	var out []models.Episode
	for _, ep := range f.episodes {
		if ep.UserID != userID || ep.TaskCategory != category {
			continue
		}
		if onlySuccessful && ep.Outcome != models.OutcomeSuccess {
			continue
		}
		out = append(out, ep)
	}
	return out, nil
}

func (f *fakeEpisodes) SuccessPatterns(_ context.Context, _, _ string) ([]string, error) {
	f.patternQueries++
	return []string{"retrieve-first"}, nil
}

func (f *fakeEpisodes) FailurePatterns(_ context.Context, _, _ string) ([]string, error) {
	return []string{"skip-validation"}, nil
}

func TestLearnerMergesEvaluation(t *testing.T) {
	store := &fakeEpisodes{}
	l := NewLearner(store, time.Minute)

	_, err := l.Learn(context.Background(), models.Episode{
		UserID:       "u1",
		TaskCategory: "rag_search",
		Outcome:      models.OutcomeSuccess,
	}, &models.Evaluation{
		Patterns: []string{"cite-sources"},
		Lessons:  []string{"always quote the doc"},
	})
	require.NoError(t, err)
	require.Len(t, store.episodes, 1)
	assert.Equal(t, []string{"cite-sources"}, store.episodes[0].SuccessfulPatterns)
	assert.Equal(t, []string{"always quote the doc"}, store.episodes[0].Lessons)

	t.Run("failures collect failure patterns", func(t *testing.T) {
		_, err := l.Learn(context.Background(), models.Episode{
			UserID:       "u1",
			TaskCategory: "rag_search",
			Outcome:      models.OutcomeFailure,
		}, &models.Evaluation{Patterns: []string{"guessed-blindly"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"guessed-blindly"}, store.episodes[1].FailurePatterns)
	})
}

func TestLearnerPatternCacheTTL(t *testing.T) {
	store := &fakeEpisodes{}
	l := NewLearner(store, 300*time.Second)

	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	_, _, err := l.Patterns(context.Background(), "u1", "rag_search")
	require.NoError(t, err)
	_, _, err = l.Patterns(context.Background(), "u1", "rag_search")
	require.NoError(t, err)
	assert.Equal(t, 1, store.patternQueries, "second lookup served from cache")

	now = now.Add(301 * time.Second)
	_, _, err = l.Patterns(context.Background(), "u1", "rag_search")
	require.NoError(t, err)
	assert.Equal(t, 2, store.patternQueries, "expired cache refetches")

	t.Run("learn invalidates", func(t *testing.T) {
		_, err := l.Learn(context.Background(), models.Episode{
			UserID: "u1", TaskCategory: "rag_search", Outcome: models.OutcomeSuccess,
		}, nil)
		require.NoError(t, err)
		_, _, err = l.Patterns(context.Background(), "u1", "rag_search")
		require.NoError(t, err)
		assert.Equal(t, 3, store.patternQueries)
	})
}

func TestLearnerRecommend(t *testing.T) {
	store := &fakeEpisodes{}
	l := NewLearner(store, time.Minute)
	ctx := context.Background()

	t.Run("nothing to learn from", func(t *testing.T) {
		rec, err := l.Recommend(ctx, "u1", "rag_search")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	for i := 0; i < 3; i++ {
		_, err := l.Learn(ctx, models.Episode{
			UserID:         "u1",
			TaskCategory:   "rag_search",
			Outcome:        models.OutcomeSuccess,
			AgentsInvolved: []string{"rag", "summarization"},
		}, nil)
		require.NoError(t, err)
	}

	rec, err := l.Recommend(ctx, "u1", "rag_search")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "rag", rec.PrimaryAgent)
	assert.Greater(t, rec.Confidence, 0.5)
	assert.Equal(t, []string{"retrieve-first"}, rec.ApplyPatterns)
	assert.Equal(t, []string{"skip-validation"}, rec.AvoidPatterns)
}
