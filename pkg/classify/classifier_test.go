package classify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmsman-ai/helmsman/pkg/llm"
	"github.com/helmsman-ai/helmsman/pkg/models"
)

// fakeLLM returns canned responses in order.
type fakeLLM struct {
	responses []string
	err       error
	calls     int
}

func (f *fakeLLM) Generate(_ context.Context, _ llm.Request) (string, llm.Usage, error) {
	if f.err != nil {
		return "", llm.Usage{}, f.err
	}
	if f.calls >= len(f.responses) {
		return "", llm.Usage{}, errors.New("no more canned responses")
	}
	resp := f.responses[f.calls]
	f.calls++
	return resp, llm.Usage{TotalTokens: 10}, nil
}

func TestClassifyLLMPath(t *testing.T) {
	c := New(&fakeLLM{responses: []string{
		`{"category":"rag_search","complexity":"medium","confidence":0.9,"suggested_primary":"rag","suggested_supporting":["validation"]}`,
	}})

	verdict := c.Classify(context.Background(), "what is the release cadence?", "")
	assert.Equal(t, models.CategoryRAGSearch, verdict.Category)
	assert.Equal(t, models.ComplexityMedium, verdict.Complexity)
	assert.InDelta(t, 0.9, verdict.Confidence, 1e-9)
	assert.Equal(t, "rag", verdict.SuggestedPrimary)
	assert.Equal(t, []string{"validation"}, verdict.SuggestedSupporting)
}

func TestClassifyFallsBackOnBadJSON(t *testing.T) {
	tests := []struct {
		name string
		llm  *fakeLLM
	}{
		{"llm error", &fakeLLM{err: errors.New("upstream down")}},
		{"not json", &fakeLLM{responses: []string{"I think it is a search query."}}},
		{"unknown enum", &fakeLLM{responses: []string{`{"category":"weird","complexity":"low","confidence":0.9}`}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := New(tc.llm)
			verdict := c.Classify(context.Background(), "summarize this document for me", "")
			assert.Equal(t, models.CategorySummarization, verdict.Category)
			assert.LessOrEqual(t, verdict.Confidence, 0.5, "fallback verdicts are low confidence")
		})
	}
}

func TestClassifyKeywordScan(t *testing.T) {
	tests := []struct {
		query    string
		category models.Category
		primary  string
	}{
		{"what is 2+2?", models.CategoryCalculation, "calculation"},
		{"translate hello in french", models.CategoryTranslation, "translation"},
		{"summarize the meeting notes", models.CategorySummarization, "summarization"},
		{"what is the capital of France", models.CategoryRAGSearch, "rag"},
		{"hey there!", models.CategorySimpleChat, "casual_chat"},
		{"analyze these benchmark results", models.CategoryAnalysis, "thinking"},
	}
	for _, tc := range tests {
		t.Run(tc.query, func(t *testing.T) {
			verdict := classifyKeywords(tc.query)
			assert.Equal(t, tc.category, verdict.Category)
			assert.Equal(t, tc.primary, verdict.SuggestedPrimary)
		})
	}
}

func TestClassifyConfidenceClamped(t *testing.T) {
	c := New(&fakeLLM{responses: []string{
		`{"category":"simple_chat","complexity":"low","confidence":3.5}`,
	}})
	verdict := c.Classify(context.Background(), "hi", "")
	require.Equal(t, models.CategorySimpleChat, verdict.Category)
	assert.InDelta(t, 1.0, verdict.Confidence, 1e-9)
	assert.Equal(t, "casual_chat", verdict.SuggestedPrimary, "missing primary is filled from category")
}
