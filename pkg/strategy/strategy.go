// Package strategy turns a classification plus optional learned experience
// into an execution plan.
package strategy

import (
	"fmt"

	"github.com/helmsman-ai/helmsman/pkg/agent"
	"github.com/helmsman-ai/helmsman/pkg/models"
)

// Recommendation is what the experience learner suggests for a category,
// derived from past episodes.
type Recommendation struct {
	PrimaryAgent     string
	SupportingAgents []string
	ApplyPatterns    []string
	AvoidPatterns    []string
	Confidence       float64
}

// experienceThreshold is the confidence above which a recommendation
// overrides the rule-based routing.
const experienceThreshold = 0.5

// Adapter derives execution plans. Stateless.
type Adapter struct{}

// New creates a strategy adapter.
func New() *Adapter { return &Adapter{} }

// Plan builds the execution plan for a classified query. rec may be nil.
func (a *Adapter) Plan(cls models.Classification, rec *Recommendation) models.ExecutionPlan {
	mode := modeFor(cls)
	plan := models.ExecutionPlan{
		Mode:              mode,
		PrimaryAgent:      cls.SuggestedPrimary,
		SupportingAgents:  cls.SuggestedSupporting,
		MaxSteps:          maxSteps(mode, cls.Complexity),
		DecomposeTask:     cls.Category == models.CategoryMultiStep || cls.Complexity == models.ComplexityHigh,
		RequireValidation: mode == models.ModeThorough || mode == models.ModeCautious,
		Confidence:        cls.Confidence,
		Reason:            fmt.Sprintf("category=%s complexity=%s", cls.Category, cls.Complexity),
	}
	if plan.PrimaryAgent == "" {
		plan.PrimaryAgent = agent.NameThinking
	}

	// Heavy agents are skipped in fast mode; retrieval is pointless for
	// chat and arithmetic.
	if mode == models.ModeFast {
		plan.SkipAgents = append(plan.SkipAgents, agent.NameThinking, agent.NameValidation)
	}
	if cls.Category == models.CategorySimpleChat || cls.Category == models.CategoryCalculation {
		plan.SkipAgents = append(plan.SkipAgents, agent.NameRAG)
	}

	if rec != nil && rec.Confidence > experienceThreshold {
		if rec.PrimaryAgent != "" {
			plan.PrimaryAgent = rec.PrimaryAgent
		}
		if len(rec.SupportingAgents) > 0 {
			plan.SupportingAgents = rec.SupportingAgents
		}
		plan.ApplyPatterns = rec.ApplyPatterns
		plan.AvoidPatterns = rec.AvoidPatterns
		plan.Reason += fmt.Sprintf("; experience override (%.2f)", rec.Confidence)
	}

	plan.SupportingAgents = dropSkipped(plan.SupportingAgents, plan.SkipAgents)
	return plan
}

func modeFor(cls models.Classification) models.PlanMode {
	switch {
	case cls.Category == models.CategorySimpleChat:
		return models.ModeFast
	case cls.Complexity == models.ComplexityHigh:
		return models.ModeThorough
	case cls.Complexity == models.ComplexityLow:
		return models.ModeFast
	default:
		return models.ModeStandard
	}
}

// maxSteps is the per-mode budget, shifted by ±2 for complexity extremes
// and clamped to at least 1.
func maxSteps(mode models.PlanMode, complexity models.Complexity) int {
	base := map[models.PlanMode]int{
		models.ModeFast:     2,
		models.ModeStandard: 5,
		models.ModeThorough: 10,
		models.ModeCautious: 8,
	}[mode]

	switch complexity {
	case models.ComplexityHigh:
		base += 2
	case models.ComplexityLow:
		base -= 2
	}
	if base < 1 {
		base = 1
	}
	return base
}

func dropSkipped(agents, skipped []string) []string {
	if len(agents) == 0 || len(skipped) == 0 {
		return agents
	}
	skip := map[string]bool{}
	for _, s := range skipped {
		skip[s] = true
	}
	kept := agents[:0]
	for _, a := range agents {
		if !skip[a] {
			kept = append(kept, a)
		}
	}
	return kept
}
