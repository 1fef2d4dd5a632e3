// Package evaluate implements the metacognition path: post-run
// self-evaluation, experience learning into episodes, and rating-calibrated
// scoring.
package evaluate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/helmsman-ai/helmsman/pkg/llm"
	"github.com/helmsman-ai/helmsman/pkg/models"
)

const evalSystemPrompt = `You review a completed assistant interaction. Respond with one JSON object only:
{
  "accuracy": number in [0,1],
  "completeness": number in [0,1],
  "relevance": number in [0,1],
  "clarity": number in [0,1],
  "efficiency": number in [0,1],
  "user_alignment": number in [0,1],
  "strengths": [strings],
  "weaknesses": [strings],
  "patterns": [short reusable tactic descriptions],
  "lessons": [strings]
}`

// SelfEvaluator scores a finished interaction.
type SelfEvaluator struct {
	client llm.Client
}

// NewSelfEvaluator creates a self-evaluator.
func NewSelfEvaluator(client llm.Client) *SelfEvaluator {
	return &SelfEvaluator{client: client}
}

// Evaluate scores the full interaction on six axes and extracts reusable
// patterns.
func (e *SelfEvaluator) Evaluate(ctx context.Context, query, response string, steps []models.ExecutionStep) (models.Evaluation, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "User query: %s\n\nFinal response:\n%s\n", query, response)
	if len(steps) > 0 {
		prompt.WriteString("\nExecution steps:\n")
		for _, s := range steps {
			fmt.Fprintf(&prompt, "%d. %s/%s ok=%t: %s\n", s.Step, s.Agent, s.Action, s.Success, s.Output)
		}
	}

	content, _, err := e.client.Generate(ctx, llm.Request{
		Prompt:      prompt.String(),
		System:      evalSystemPrompt,
		Temperature: 0,
		JSONOnly:    true,
	})
	if err != nil {
		return models.Evaluation{}, fmt.Errorf("self-evaluation failed: %w", err)
	}
	raw, err := llm.ExtractJSON(content)
	if err != nil {
		return models.Evaluation{}, fmt.Errorf("self-evaluation response is not JSON: %w", err)
	}

	var eval models.Evaluation
	if err := json.Unmarshal([]byte(raw), &eval); err != nil {
		return models.Evaluation{}, fmt.Errorf("self-evaluation JSON does not match schema: %w", err)
	}
	eval.Overall = (eval.Accuracy + eval.Completeness + eval.Relevance +
		eval.Clarity + eval.Efficiency + eval.UserAlignment) / 6
	return eval, nil
}

// AdaptiveEvaluator keeps a moving-window calibration offset between
// self-evaluation scores and later user ratings, and applies it to future
// scores.
type AdaptiveEvaluator struct {
	mu     sync.Mutex
	deltas []float64
	window int
}

// NewAdaptiveEvaluator creates an adaptive evaluator with the given window
// size (default 20).
func NewAdaptiveEvaluator(window int) *AdaptiveEvaluator {
	if window <= 0 {
		window = 20
	}
	return &AdaptiveEvaluator{window: window}
}

// RecordRating feeds one (self-score, user-rating) pair into the window.
func (a *AdaptiveEvaluator) RecordRating(selfScore, userRating float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deltas = append(a.deltas, userRating-selfScore)
	if len(a.deltas) > a.window {
		a.deltas = a.deltas[len(a.deltas)-a.window:]
	}
}

// Offset returns the current calibration offset.
func (a *AdaptiveEvaluator) Offset() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.offsetLocked()
}

func (a *AdaptiveEvaluator) offsetLocked() float64 {
	if len(a.deltas) == 0 {
		return 0
	}
	var sum float64
	for _, d := range a.deltas {
		sum += d
	}
	return sum / float64(len(a.deltas))
}

// Calibrate applies the offset to a raw score, clamped to [0,1].
func (a *AdaptiveEvaluator) Calibrate(score float64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	v := score + a.offsetLocked()
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
