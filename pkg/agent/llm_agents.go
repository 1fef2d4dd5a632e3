package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/helmsman-ai/helmsman/pkg/apperr"
	"github.com/helmsman-ai/helmsman/pkg/llm"
)

// promptAgent is the shared shape of the pure-LLM specialists: a name, a
// role, a system prompt, and a temperature.
type promptAgent struct {
	name         string
	role         string
	capabilities []string
	system       string
	temperature  float32
	client       llm.Client
}

func (a *promptAgent) Name() string           { return a.name }
func (a *promptAgent) Role() string           { return a.role }
func (a *promptAgent) Capabilities() []string { return a.capabilities }

func (a *promptAgent) Handle(ctx context.Context, tc TaskContext) (Result, error) {
	prompt := a.buildPrompt(tc)
	content, usage, err := a.client.Generate(ctx, llm.Request{
		Prompt:      prompt,
		System:      a.system,
		Temperature: a.temperature,
		SessionID:   tc.SessionID,
		TaskUID:     tc.TaskUID,
	})
	if err != nil {
		// A cancellation or deadline is the caller's doing, not a model
		// failure; the code must survive to the task's terminal event.
		if code := apperr.CodeOf(err); code == apperr.CodeCancelled || code == apperr.CodeTimeout {
			return Result{}, err
		}
		return Result{}, apperr.Wrap(apperr.CodeLLMFailure, err, "%s agent failed", a.name)
	}
	return Result{Content: strings.TrimSpace(content), TokensUsed: usage.TotalTokens}, nil
}

func (a *promptAgent) buildPrompt(tc TaskContext) string {
	var b strings.Builder
	if tc.MemoryContext != "" {
		b.WriteString(tc.MemoryContext)
		b.WriteString("\n\n")
	}
	if len(tc.History) > 0 {
		b.WriteString("Previous findings:\n")
		for _, h := range tc.History {
			fmt.Fprintf(&b, "- %s\n", h)
		}
		b.WriteString("\n")
	}
	b.WriteString(tc.EffectiveInput())
	return b.String()
}

// NewThinkingAgent creates the step-by-step reasoning specialist.
func NewThinkingAgent(client llm.Client) Agent {
	return &promptAgent{
		name:         NameThinking,
		role:         "deep reasoning",
		capabilities: []string{"analysis", "planning", "decomposition"},
		system: "You are a careful analyst. Reason step by step about the request " +
			"and produce a clear, well-structured answer. State assumptions explicitly.",
		temperature: 0.3,
		client:      client,
	}
}

// NewTranslationAgent creates the translation specialist.
func NewTranslationAgent(client llm.Client) Agent {
	return &promptAgent{
		name:         NameTranslation,
		role:         "translation",
		capabilities: []string{"translation", "language detection"},
		system: "You are a professional translator. Translate the text as requested, " +
			"preserving tone and meaning. If no target language is given, infer it " +
			"from the request. Reply with the translation only.",
		temperature: 0.2,
		client:      client,
	}
}

// NewSummarizationAgent creates the summarization specialist.
func NewSummarizationAgent(client llm.Client) Agent {
	return &promptAgent{
		name:         NameSummarization,
		role:         "summarization",
		capabilities: []string{"summarization", "compression"},
		system: "You summarize content faithfully and concisely. Keep key facts and " +
			"numbers, drop filler, and never invent information.",
		temperature: 0.2,
		client:      client,
	}
}

// NewValidationAgent creates the consistency-checking specialist.
func NewValidationAgent(client llm.Client) Agent {
	return &promptAgent{
		name:         NameValidation,
		role:         "validation",
		capabilities: []string{"fact checking", "consistency"},
		system: "You check a candidate answer against the request and any provided " +
			"findings. Point out contradictions, unsupported claims, and gaps. " +
			"If the answer is sound, say so briefly.",
		temperature: 0.1,
		client:      client,
	}
}

// NewCasualChatAgent creates the small-talk specialist used for simple
// conversational turns.
func NewCasualChatAgent(client llm.Client) Agent {
	return &promptAgent{
		name:         NameCasualChat,
		role:         "casual conversation",
		capabilities: []string{"chat"},
		system: "You are a friendly, concise assistant. Answer conversational " +
			"questions directly without unnecessary elaboration.",
		temperature: 0.7,
		client:      client,
	}
}
