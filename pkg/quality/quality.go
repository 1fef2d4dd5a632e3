// Package quality gates candidate responses behind an LLM-judged rubric and
// builds the single permitted targeted retry.
package quality

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/helmsman-ai/helmsman/pkg/llm"
	"github.com/helmsman-ai/helmsman/pkg/models"
)

// DefaultThreshold is the pass mark for the overall score.
const DefaultThreshold = 0.6

const rubricSystemPrompt = `You judge answer quality. Respond with a single JSON object only:
{
  "relevance": number in [0,1],
  "completeness": number in [0,1],
  "accuracy_signals": number in [0,1],
  "language_match": number in [0,1],
  "harmful_content_free": number in [0,1],
  "issues": [strings],
  "suggestions": [strings],
  "retry_hint": string (empty when no retry is needed)
}
relevance: does the answer address the question. completeness: is anything
essential missing. accuracy_signals: is the answer consistent with the
provided sources. language_match: does the answer use the question's
language. harmful_content_free: 1 when the answer is safe.`

// Controller scores candidate responses.
type Controller struct {
	client    llm.Client
	threshold float64
}

// New creates a controller. threshold <= 0 falls back to the default.
func New(client llm.Client, threshold float64) *Controller {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Controller{client: client, threshold: threshold}
}

// Threshold returns the configured pass mark.
func (c *Controller) Threshold() float64 { return c.threshold }

// Check scores a candidate response. When the judge itself fails, the
// check fails open: the response passes with a logged warning.
func (c *Controller) Check(ctx context.Context, query, candidate string, sources []models.Source, workflow string) models.QualityReport {
	report, err := c.judge(ctx, query, candidate, sources, workflow)
	if err != nil {
		slog.Warn("Quality check failed open", "error", err)
		return models.QualityReport{
			Relevance:          1,
			Completeness:       1,
			AccuracySignals:    1,
			LanguageMatch:      1,
			HarmfulContentFree: 1,
			Overall:            1,
			Passed:             true,
			Issues:             []string{"quality judge unavailable; defaulted to pass"},
		}
	}
	return report
}

func (c *Controller) judge(ctx context.Context, query, candidate string, sources []models.Source, workflow string) (models.QualityReport, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Question: %s\n\nCandidate answer:\n%s\n", query, candidate)
	if len(sources) > 0 {
		prompt.WriteString("\nSources the answer should be consistent with:\n")
		for i, s := range sources {
			fmt.Fprintf(&prompt, "[%d] %s: %s\n", i+1, s.Title, s.Snippet)
		}
	}
	if workflow != "" {
		fmt.Fprintf(&prompt, "\nWorkflow: %s\n", workflow)
	}

	content, _, err := c.client.Generate(ctx, llm.Request{
		Prompt:      prompt.String(),
		System:      rubricSystemPrompt,
		Temperature: 0,
		JSONOnly:    true,
	})
	if err != nil {
		return models.QualityReport{}, err
	}
	raw, err := llm.ExtractJSON(content)
	if err != nil {
		return models.QualityReport{}, fmt.Errorf("judge response is not JSON: %w", err)
	}

	var report models.QualityReport
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		return models.QualityReport{}, fmt.Errorf("judge JSON does not match rubric: %w", err)
	}

	clamp(&report.Relevance)
	clamp(&report.Completeness)
	clamp(&report.AccuracySignals)
	clamp(&report.LanguageMatch)
	clamp(&report.HarmfulContentFree)
	report.Overall = (report.Relevance + report.Completeness + report.AccuracySignals +
		report.LanguageMatch + report.HarmfulContentFree) / 5
	report.Passed = report.Overall >= c.threshold
	return report, nil
}

// retrySourceLimit bounds how many source snippets the retry prompt quotes.
const retrySourceLimit = 3

// BuildRetryPrompt assembles the one-shot targeted retry from the judge's
// hint and the best sources. It is a prompt for the primary agent, not a
// full pipeline re-run.
func BuildRetryPrompt(query, candidate string, report models.QualityReport, sources []models.Source) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nYour previous answer:\n%s\n\n", query, candidate)
	if len(report.Issues) > 0 {
		b.WriteString("Problems found:\n")
		for _, issue := range report.Issues {
			fmt.Fprintf(&b, "- %s\n", issue)
		}
	}
	if report.RetryHint != "" {
		fmt.Fprintf(&b, "\nFix specifically: %s\n", report.RetryHint)
	}
	if len(sources) > 0 {
		b.WriteString("\nUse these sources:\n")
		for i, s := range sources {
			if i >= retrySourceLimit {
				break
			}
			fmt.Fprintf(&b, "[%d] %s: %s\n", i+1, s.Title, s.Snippet)
		}
	}
	b.WriteString("\nWrite an improved answer.")
	return b.String()
}

func clamp(v *float64) {
	if *v < 0 {
		*v = 0
	}
	if *v > 1 {
		*v = 1
	}
}
