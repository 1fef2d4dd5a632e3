package react

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/helmsman-ai/helmsman/pkg/agent"
	"github.com/helmsman-ai/helmsman/pkg/apperr"
	"github.com/helmsman-ai/helmsman/pkg/llm"
	"github.com/helmsman-ai/helmsman/pkg/models"
	"github.com/helmsman-ai/helmsman/pkg/trace"
)

// Invoker runs one agent activation. Implemented by the agent registry.
type Invoker interface {
	Invoke(ctx context.Context, name string, tc agent.TaskContext) (agent.Result, error)
}

// Publisher fans an event out to a session's subscribers.
type Publisher interface {
	Publish(sessionID string, ev models.ChatEvent)
}

// Scratch receives intermediate findings for reuse while the task runs.
// Implemented by the working memory tier.
type Scratch interface {
	Store(key, content string, relevance float64)
}

// StepRecorder appends to a task's durable thinking timeline.
type StepRecorder interface {
	AppendThinkingStep(ctx context.Context, sessionID, taskUID string, stepType models.StepType, agentName, content string) (models.ThinkingStep, error)
}

// Task is one run of the loop.
type Task struct {
	TaskUID       string
	SessionID     string
	UserID        string
	Query         string
	Category      models.Category
	MemoryContext string
	Plan          models.ExecutionPlan
}

// Termination reasons.
const (
	TerminationFinalAnswer = "final_answer"
	TerminationReflect     = "reflect_confident"
	TerminationMaxSteps    = "max_steps"
	TerminationCancelled   = "cancelled"
	TerminationLLMError    = "llm_error"
)

// Result is what the loop produced.
type Result struct {
	FinalAnswer string
	Sources     []models.Source
	Steps       []models.ExecutionStep
	TokensUsed  int
	Termination string
	// Partial marks a best-effort synthesis after the step budget ran out.
	Partial bool
}

// actionAgents maps loop actions to pool agents.
var actionAgents = map[string]string{
	"retrieve":  agent.NameRAG,
	"compute":   agent.NameCalculation,
	"translate": agent.NameTranslation,
	"summarize": agent.NameSummarization,
	"reason":    agent.NameThinking,
}

// Engine drives the bounded think/act/observe/reflect loop.
type Engine struct {
	llm     llm.Client
	agents  Invoker
	bus     Publisher
	ring    *trace.Ring
	steps   StepRecorder
	scratch Scratch
}

// NewEngine wires the loop to its collaborators. bus, ring, steps, and
// scratch may be nil in tests.
func NewEngine(client llm.Client, agents Invoker, bus Publisher, ring *trace.Ring, steps StepRecorder, scratch Scratch) *Engine {
	return &Engine{llm: client, agents: agents, bus: bus, ring: ring, steps: steps, scratch: scratch}
}

// Run executes the loop for a task. Cancellation is observed before every
// LLM call and agent activation. A hard LLM failure ends the loop; agent
// failures become observations the next thought can react to.
func (e *Engine) Run(ctx context.Context, task Task) (Result, error) {
	maxSteps := task.Plan.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 5
	}
	skipped := map[string]bool{}
	for _, name := range task.Plan.SkipAgents {
		skipped[name] = true
	}

	res := Result{}
	var history []string

	for step := 1; step <= maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			res.Termination = TerminationCancelled
			return res, apperr.Wrap(apperr.CodeCancelled, err, "task cancelled at step %d", step)
		}

		content, usage, err := e.llm.Generate(ctx, llm.Request{
			Prompt:      e.buildPrompt(task, history),
			System:      loopSystemPrompt,
			Temperature: 0.2,
			SessionID:   task.SessionID,
			TaskUID:     task.TaskUID,
		})
		res.TokensUsed += usage.TotalTokens
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				res.Termination = TerminationCancelled
				return res, apperr.Wrap(apperr.CodeCancelled, err, "task cancelled at step %d", step)
			}
			res.Termination = TerminationLLMError
			return res, apperr.Wrap(apperr.CodeLLMFailure, err, "loop LLM call failed at step %d", step)
		}

		parsed := Parse(content)
		if parsed.Thought != "" {
			e.emitThinking(ctx, task, step, parsed.Thought)
		}

		if parsed.IsFinalAnswer {
			res.FinalAnswer = parsed.FinalAnswer
			res.Termination = TerminationFinalAnswer
			e.recordStep(ctx, task, models.StepTypeFinal, "", parsed.FinalAnswer)
			return res, nil
		}

		if parsed.IsMalformed {
			history = append(history,
				"Observation: response did not follow the format. Reply with either "+
					"'Action: <name>' plus 'Action Input: <input>' or 'Final Answer: <answer>'.")
			continue
		}

		// "finish" with the answer as input is accepted as an alternative
		// to the Final Answer form.
		if parsed.Action == "finish" {
			answer := strings.TrimSpace(parsed.ActionInput)
			if answer == "" {
				history = append(history,
					"Observation: finish needs the answer as Action Input, or use 'Final Answer: <answer>'.")
				continue
			}
			res.FinalAnswer = answer
			res.Termination = TerminationFinalAnswer
			e.recordStep(ctx, task, models.StepTypeFinal, "", answer)
			return res, nil
		}

		observation, sources, execStep := e.act(ctx, task, step, parsed, skipped)
		res.TokensUsed += execStep.tokens
		res.Sources = append(res.Sources, sources...)
		res.Steps = append(res.Steps, execStep.step)
		history = append(history,
			fmt.Sprintf("Thought: %s", parsed.Thought),
			fmt.Sprintf("Action: %s", parsed.Action),
			fmt.Sprintf("Observation: %s", observation),
		)

		if err := ctx.Err(); err != nil {
			res.Termination = TerminationCancelled
			return res, apperr.Wrap(apperr.CodeCancelled, err, "task cancelled at step %d", step)
		}

		if answer, confident := e.reflect(ctx, task, history); confident {
			res.FinalAnswer = answer
			res.Termination = TerminationReflect
			e.recordStep(ctx, task, models.StepTypeFinal, "", answer)
			return res, nil
		}
	}

	// Budget exhausted: synthesize a best-effort answer from what was
	// observed and mark the run partial.
	res.Termination = TerminationMaxSteps
	res.Partial = true
	answer, usage, err := e.llm.Generate(ctx, llm.Request{
		Prompt: fmt.Sprintf(
			"Question: %s\n\nFindings so far:\n%s\n\nThe step budget is exhausted. "+
				"Give the best possible answer from the findings and say what remains uncertain.",
			task.Query, strings.Join(history, "\n")),
		System:      "You synthesize a direct answer from partial findings without inventing facts.",
		Temperature: 0.2,
		SessionID:   task.SessionID,
		TaskUID:     task.TaskUID,
	})
	res.TokensUsed += usage.TotalTokens
	if err != nil {
		slog.Warn("Best-effort synthesis failed", "task_uid", task.TaskUID, "error", err)
		answer = "The task ran out of reasoning steps before reaching a confident answer."
	}
	res.FinalAnswer = strings.TrimSpace(answer)
	e.recordStep(ctx, task, models.StepTypeFinal, "", res.FinalAnswer)
	return res, nil
}

type actOutcome struct {
	step   models.ExecutionStep
	tokens int
}

// act resolves the action to an agent and invokes it. Failures become
// observations, not loop errors.
func (e *Engine) act(ctx context.Context, task Task, step int, parsed *Parsed, skipped map[string]bool) (string, []models.Source, actOutcome) {
	agentName, ok := actionAgents[parsed.Action]
	if !ok {
		obs := fmt.Sprintf("unknown action %q; valid actions: retrieve, compute, translate, summarize, reason, finish", parsed.Action)
		return obs, nil, actOutcome{step: models.ExecutionStep{
			Step: step, Action: parsed.Action, Output: obs,
		}}
	}
	if skipped[agentName] {
		obs := fmt.Sprintf("agent %s is excluded by the execution plan; choose another action or finish", agentName)
		return obs, nil, actOutcome{step: models.ExecutionStep{
			Step: step, Agent: agentName, Action: parsed.Action, Output: obs,
		}}
	}

	if parsed.Action == "retrieve" {
		e.publish(task, models.ChatEvent{
			Type: models.EventSearching, TaskUID: task.TaskUID, Step: step,
			Content: parsed.ActionInput,
		})
	}
	e.recordStep(ctx, task, models.StepTypeToolCall, agentName, parsed.Action+": "+parsed.ActionInput)

	start := time.Now()
	result, err := e.agents.Invoke(ctx, agentName, agent.TaskContext{
		TaskUID:       task.TaskUID,
		SessionID:     task.SessionID,
		UserID:        task.UserID,
		Query:         task.Query,
		Input:         parsed.ActionInput,
		Category:      task.Category,
		MemoryContext: task.MemoryContext,
		History:       nil,
	})
	duration := time.Since(start).Milliseconds()

	execStep := models.ExecutionStep{
		Step:       step,
		Agent:      agentName,
		Action:     parsed.Action,
		Input:      summarize(parsed.ActionInput),
		DurationMS: duration,
		Success:    err == nil,
	}
	if err != nil {
		execStep.Error = err.Error()
		obs := fmt.Sprintf("agent %s failed: %v", agentName, err)
		execStep.Output = summarize(obs)
		e.recordStep(ctx, task, models.StepTypeObservation, agentName, obs)
		return obs, nil, actOutcome{step: execStep}
	}

	execStep.Output = summarize(result.Content)
	e.stash(fmt.Sprintf("%s-step-%d", parsed.Action, step), summarize(result.Content), 0.7)
	for i, src := range result.Sources {
		e.stash(fmt.Sprintf("source-step-%d-%d", step, i+1), src.Snippet, src.Score)
	}
	e.recordStep(ctx, task, models.StepTypeObservation, agentName, result.Content)
	e.publish(task, models.ChatEvent{
		Type: models.EventProgress, TaskUID: task.TaskUID, Step: step,
		Stage: agentName, Content: summarize(result.Content),
	})
	if len(result.Sources) > 0 {
		e.publish(task, models.ChatEvent{
			Type: models.EventSources, TaskUID: task.TaskUID, Step: step,
			Sources: result.Sources,
		})
	}
	return result.Content, result.Sources, actOutcome{step: execStep, tokens: result.TokensUsed}
}

// reflect asks the LLM whether the evidence already answers the query.
func (e *Engine) reflect(ctx context.Context, task Task, history []string) (string, bool) {
	content, _, err := e.llm.Generate(ctx, llm.Request{
		Prompt: fmt.Sprintf(
			"Question: %s\n\nEvidence:\n%s\n\nDoes the evidence answer the question confidently? "+
				"Reply 'YES: <final answer>' or 'NO'.",
			task.Query, strings.Join(history, "\n")),
		System:      "You judge whether collected evidence suffices to answer a question.",
		Temperature: 0,
		SessionID:   task.SessionID,
		TaskUID:     task.TaskUID,
	})
	if err != nil {
		return "", false
	}
	trimmed := strings.TrimSpace(content)
	if rest, ok := strings.CutPrefix(trimmed, "YES:"); ok {
		answer := strings.TrimSpace(rest)
		if answer != "" {
			return answer, true
		}
	}
	return "", false
}

const loopSystemPrompt = `You solve tasks step by step using actions.
Each turn, reply in exactly one of two forms:

Thought: <your reasoning>
Action: <one of retrieve, compute, translate, summarize, reason>
Action Input: <input for the action>

or, when you can answer:

Thought: <your reasoning>
Final Answer: <the answer>

Actions: retrieve searches the knowledge bases; compute evaluates arithmetic;
translate translates text; summarize condenses text; reason thinks through a
sub-problem.`

func (e *Engine) buildPrompt(task Task, history []string) string {
	var b strings.Builder
	if task.MemoryContext != "" {
		b.WriteString(task.MemoryContext)
		b.WriteString("\n\n")
	}
	b.WriteString("Question: ")
	b.WriteString(task.Query)
	if len(history) > 0 {
		b.WriteString("\n\n")
		b.WriteString(strings.Join(history, "\n"))
	}
	b.WriteString("\nThought:")
	return b.String()
}

// emitThinking publishes and persists one thought.
func (e *Engine) emitThinking(ctx context.Context, task Task, step int, thought string) {
	e.publish(task, models.ChatEvent{
		Type: models.EventThinking, TaskUID: task.TaskUID, Step: step, Content: thought,
	})
	if e.ring != nil {
		e.ring.Record(models.DebugTrace{
			SessionID: task.SessionID,
			TaskUID:   task.TaskUID,
			TraceType: models.TraceThinking,
			Content:   thought,
		})
	}
	e.recordStep(ctx, task, models.StepTypeThinking, "", thought)
}

// stash feeds a finding into working memory for later prompt injection.
func (e *Engine) stash(key, content string, relevance float64) {
	if e.scratch != nil && content != "" {
		e.scratch.Store(key, content, relevance)
	}
}

func (e *Engine) publish(task Task, ev models.ChatEvent) {
	if e.bus != nil {
		e.bus.Publish(task.SessionID, ev)
	}
}

func (e *Engine) recordStep(ctx context.Context, task Task, stepType models.StepType, agentName, content string) {
	if e.steps == nil {
		return
	}
	if _, err := e.steps.AppendThinkingStep(ctx, task.SessionID, task.TaskUID, stepType, agentName, content); err != nil {
		slog.Warn("Failed to persist thinking step", "task_uid", task.TaskUID, "error", err)
	}
}

// summarize truncates long payloads for step records on a rune boundary.
func summarize(s string) string {
	const max = 300
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
