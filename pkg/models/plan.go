package models

// Category is the classified kind of a user query.
type Category string

// Query categories.
const (
	CategorySimpleChat    Category = "simple_chat"
	CategoryRAGSearch     Category = "rag_search"
	CategoryCalculation   Category = "calculation"
	CategoryTranslation   Category = "translation"
	CategorySummarization Category = "summarization"
	CategoryAnalysis      Category = "analysis"
	CategoryPlanning      Category = "planning"
	CategoryCreative      Category = "creative"
	CategoryMultiStep     Category = "multi_step"
	CategoryToolUse       Category = "tool_use"
)

// Complexity is the classified difficulty of a query.
type Complexity string

// Complexity levels.
const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Classification is the Classifier's verdict for a query.
type Classification struct {
	Category            Category   `json:"category"`
	Complexity          Complexity `json:"complexity"`
	Confidence          float64    `json:"confidence"`
	SuggestedPrimary    string     `json:"suggested_primary"`
	SuggestedSupporting []string   `json:"suggested_supporting,omitempty"`
}

// PlanMode is the execution mode chosen by the strategy adapter.
type PlanMode string

// Plan modes.
const (
	ModeFast     PlanMode = "fast"
	ModeStandard PlanMode = "standard"
	ModeThorough PlanMode = "thorough"
	ModeCautious PlanMode = "cautious"
)

// ExecutionPlan tells the Manager how to run a task.
type ExecutionPlan struct {
	Mode              PlanMode `json:"mode"`
	PrimaryAgent      string   `json:"primary_agent"`
	SupportingAgents  []string `json:"supporting_agents,omitempty"`
	SkipAgents        []string `json:"skip_agents,omitempty"`
	DecomposeTask     bool     `json:"decompose_task"`
	MaxSteps          int      `json:"max_steps"`
	RequireValidation bool     `json:"require_validation"`
	ApplyPatterns     []string `json:"apply_patterns,omitempty"`
	AvoidPatterns     []string `json:"avoid_patterns,omitempty"`
	Reason            string   `json:"reason,omitempty"`
	Confidence        float64  `json:"confidence"`
}

// QualityReport is the Quality Controller's verdict on a candidate response.
type QualityReport struct {
	Relevance          float64  `json:"relevance"`
	Completeness       float64  `json:"completeness"`
	AccuracySignals    float64  `json:"accuracy_signals"`
	LanguageMatch      float64  `json:"language_match"`
	HarmfulContentFree float64  `json:"harmful_content_free"`
	Overall            float64  `json:"overall"`
	Passed             bool     `json:"passed"`
	Issues             []string `json:"issues,omitempty"`
	Suggestions        []string `json:"suggestions,omitempty"`
	RetryHint          string   `json:"retry_hint,omitempty"`
	// Low marks a response that failed quality even after the single
	// permitted retry. Never masked as success.
	Low bool `json:"low,omitempty"`
}

// Evaluation is the Self-Evaluator's post-run scoring of a full interaction.
type Evaluation struct {
	Accuracy      float64  `json:"accuracy"`
	Completeness  float64  `json:"completeness"`
	Relevance     float64  `json:"relevance"`
	Clarity       float64  `json:"clarity"`
	Efficiency    float64  `json:"efficiency"`
	UserAlignment float64  `json:"user_alignment"`
	Overall       float64  `json:"overall"`
	Strengths     []string `json:"strengths,omitempty"`
	Weaknesses    []string `json:"weaknesses,omitempty"`
	Patterns      []string `json:"patterns,omitempty"`
	Lessons       []string `json:"lessons,omitempty"`
}
