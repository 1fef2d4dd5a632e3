// Package classify decides what kind of query a message is and which agents
// should handle it. The primary path is an LLM call with a JSON-only
// response; when that fails to parse, a deterministic keyword scan takes
// over at reduced confidence.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/helmsman-ai/helmsman/pkg/agent"
	"github.com/helmsman-ai/helmsman/pkg/llm"
	"github.com/helmsman-ai/helmsman/pkg/models"
)

// fallbackConfidence caps the confidence of keyword-scan verdicts.
const fallbackConfidence = 0.5

const systemPrompt = `You classify user queries for an agent router.
Respond with a single JSON object, nothing else:
{
  "category": one of ["simple_chat","rag_search","calculation","translation","summarization","analysis","planning","creative","multi_step","tool_use"],
  "complexity": one of ["low","medium","high"],
  "confidence": number in [0,1],
  "suggested_primary": agent name,
  "suggested_supporting": [agent names]
}
Agents: rag, thinking, calculation, translation, summarization, validation, casual_chat.`

// Classifier routes queries to categories and agents.
type Classifier struct {
	client llm.Client
}

// New creates a classifier.
func New(client llm.Client) *Classifier {
	return &Classifier{client: client}
}

// Classify returns the verdict for a query. historyHint may carry a short
// summary of the conversation so far.
func (c *Classifier) Classify(ctx context.Context, query, historyHint string) models.Classification {
	if c.client != nil {
		if verdict, ok := c.classifyLLM(ctx, query, historyHint); ok {
			return verdict
		}
	}
	return classifyKeywords(query)
}

func (c *Classifier) classifyLLM(ctx context.Context, query, historyHint string) (models.Classification, bool) {
	prompt := query
	if historyHint != "" {
		prompt = fmt.Sprintf("Conversation so far:\n%s\n\nQuery: %s", historyHint, query)
	}
	content, _, err := c.client.Generate(ctx, llm.Request{
		Prompt:      prompt,
		System:      systemPrompt,
		Temperature: 0,
		JSONOnly:    true,
	})
	if err != nil {
		slog.Warn("Classifier LLM call failed, falling back to keywords", "error", err)
		return models.Classification{}, false
	}

	raw, err := llm.ExtractJSON(content)
	if err != nil {
		slog.Warn("Classifier response is not JSON, falling back to keywords", "error", err)
		return models.Classification{}, false
	}
	var verdict models.Classification
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		slog.Warn("Classifier JSON does not match schema, falling back to keywords", "error", err)
		return models.Classification{}, false
	}
	if !validCategory(verdict.Category) || !validComplexity(verdict.Complexity) {
		slog.Warn("Classifier returned unknown enum values, falling back to keywords",
			"category", verdict.Category, "complexity", verdict.Complexity)
		return models.Classification{}, false
	}
	if verdict.Confidence < 0 {
		verdict.Confidence = 0
	}
	if verdict.Confidence > 1 {
		verdict.Confidence = 1
	}
	if verdict.SuggestedPrimary == "" {
		verdict.SuggestedPrimary = primaryFor(verdict.Category)
	}
	return verdict, true
}

// keywordRules is checked in order; the first rule whose keywords match
// wins.
var keywordRules = []struct {
	category models.Category
	keywords []string
}{
	{models.CategoryCalculation, []string{"calculate", "compute", "how much is", "+", "-", "*", "/", "="}},
	{models.CategoryTranslation, []string{"translate", "in french", "in spanish", "in german", "in japanese"}},
	{models.CategorySummarization, []string{"summarize", "summary", "tl;dr", "shorten"}},
	{models.CategoryPlanning, []string{"plan", "roadmap", "schedule", "steps to"}},
	{models.CategoryAnalysis, []string{"analyze", "compare", "evaluate", "why does", "explain why"}},
	{models.CategoryCreative, []string{"write a poem", "write a story", "imagine", "compose"}},
	{models.CategoryRAGSearch, []string{"what is", "who is", "when did", "where is", "find", "search", "look up", "according to"}},
}

// classifyKeywords is the deterministic fallback scan.
func classifyKeywords(query string) models.Classification {
	lowered := strings.ToLower(query)

	category := models.CategorySimpleChat
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lowered, kw) {
				category = rule.category
				break
			}
		}
		if category != models.CategorySimpleChat {
			break
		}
	}

	complexity := models.ComplexityLow
	words := len(strings.Fields(query))
	switch {
	case words > 60 || strings.Count(query, "?") > 1:
		complexity = models.ComplexityHigh
	case words > 20:
		complexity = models.ComplexityMedium
	}

	return models.Classification{
		Category:         category,
		Complexity:       complexity,
		Confidence:       fallbackConfidence,
		SuggestedPrimary: primaryFor(category),
	}
}

// primaryFor maps a category to its default primary agent.
func primaryFor(category models.Category) string {
	switch category {
	case models.CategorySimpleChat:
		return agent.NameCasualChat
	case models.CategoryCalculation:
		return agent.NameCalculation
	case models.CategoryTranslation:
		return agent.NameTranslation
	case models.CategorySummarization:
		return agent.NameSummarization
	case models.CategoryRAGSearch:
		return agent.NameRAG
	default:
		return agent.NameThinking
	}
}

func validCategory(c models.Category) bool {
	switch c {
	case models.CategorySimpleChat, models.CategoryRAGSearch, models.CategoryCalculation,
		models.CategoryTranslation, models.CategorySummarization, models.CategoryAnalysis,
		models.CategoryPlanning, models.CategoryCreative, models.CategoryMultiStep,
		models.CategoryToolUse:
		return true
	}
	return false
}

func validComplexity(c models.Complexity) bool {
	return c == models.ComplexityLow || c == models.ComplexityMedium || c == models.ComplexityHigh
}
