package react

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmsman-ai/helmsman/pkg/agent"
	"github.com/helmsman-ai/helmsman/pkg/apperr"
	"github.com/helmsman-ai/helmsman/pkg/llm"
	"github.com/helmsman-ai/helmsman/pkg/models"
)

// scriptedLLM pops canned responses in order.
type scriptedLLM struct {
	responses []string
	err       error
	calls     int
}

func (s *scriptedLLM) Generate(_ context.Context, _ llm.Request) (string, llm.Usage, error) {
	if s.err != nil {
		return "", llm.Usage{}, s.err
	}
	if s.calls >= len(s.responses) {
		return "", llm.Usage{}, errors.New("script exhausted")
	}
	resp := s.responses[s.calls]
	s.calls++
	return resp, llm.Usage{TotalTokens: 7}, nil
}

// fakeInvoker returns canned agent results keyed by agent name.
type fakeInvoker struct {
	results map[string]agent.Result
	errs    map[string]error
	calls   []string
}

func (f *fakeInvoker) Invoke(_ context.Context, name string, _ agent.TaskContext) (agent.Result, error) {
	f.calls = append(f.calls, name)
	if err, ok := f.errs[name]; ok {
		return agent.Result{}, err
	}
	return f.results[name], nil
}

func TestEngineImmediateFinalAnswer(t *testing.T) {
	e := NewEngine(&scriptedLLM{responses: []string{
		"Thought: this is trivial\nFinal Answer: 42",
	}}, &fakeInvoker{}, nil, nil, nil, nil)

	res, err := e.Run(context.Background(), Task{
		Query: "what is the answer?",
		Plan:  models.ExecutionPlan{MaxSteps: 5},
	})
	require.NoError(t, err)
	assert.Equal(t, "42", res.FinalAnswer)
	assert.Equal(t, TerminationFinalAnswer, res.Termination)
	assert.False(t, res.Partial)
	assert.Empty(t, res.Steps)
}

func TestEngineActionThenConfidentReflect(t *testing.T) {
	inv := &fakeInvoker{results: map[string]agent.Result{
		"rag": {
			Content: "Releases ship every six weeks.",
			Sources: []models.Source{{Title: "Release policy", Collection: "docs", Score: 0.9}},
		},
	}}
	e := NewEngine(&scriptedLLM{responses: []string{
		"Thought: I should check the docs\nAction: retrieve\nAction Input: release cadence",
		"YES: Releases ship every six weeks.",
	}}, inv, nil, nil, nil, nil)

	res, err := e.Run(context.Background(), Task{
		Query: "how often do releases ship?",
		Plan:  models.ExecutionPlan{MaxSteps: 5},
	})
	require.NoError(t, err)
	assert.Equal(t, TerminationReflect, res.Termination)
	assert.Equal(t, "Releases ship every six weeks.", res.FinalAnswer)
	assert.Equal(t, []string{"rag"}, inv.calls)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, "rag", res.Steps[0].Agent)
	assert.Equal(t, "retrieve", res.Steps[0].Action)
	assert.True(t, res.Steps[0].Success)
	require.Len(t, res.Sources, 1)
	assert.Equal(t, "Release policy", res.Sources[0].Title)
}

func TestEngineMaxStepsSynthesizesPartial(t *testing.T) {
	inv := &fakeInvoker{results: map[string]agent.Result{
		"thinking": {Content: "inconclusive"},
	}}
	e := NewEngine(&scriptedLLM{responses: []string{
		"Thought: dig deeper\nAction: reason\nAction Input: consider the options",
		"NO",
		"Best guess from partial findings.",
	}}, inv, nil, nil, nil, nil)

	res, err := e.Run(context.Background(), Task{
		Query: "hard question",
		Plan:  models.ExecutionPlan{MaxSteps: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, TerminationMaxSteps, res.Termination)
	assert.True(t, res.Partial)
	assert.Equal(t, "Best guess from partial findings.", res.FinalAnswer)
}

func TestEngineUnknownActionRecovers(t *testing.T) {
	e := NewEngine(&scriptedLLM{responses: []string{
		"Thought: hm\nAction: fly\nAction Input: away",
		"NO",
		"Thought: use what I know\nFinal Answer: done",
	}}, &fakeInvoker{}, nil, nil, nil, nil)

	res, err := e.Run(context.Background(), Task{
		Query: "q",
		Plan:  models.ExecutionPlan{MaxSteps: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, "done", res.FinalAnswer)
	require.Len(t, res.Steps, 1)
	assert.Contains(t, res.Steps[0].Output, "unknown action")
}

func TestEngineSkippedAgentBecomesObservation(t *testing.T) {
	inv := &fakeInvoker{}
	e := NewEngine(&scriptedLLM{responses: []string{
		"Thought: search\nAction: retrieve\nAction Input: stuff",
		"NO",
		"Thought: fine\nFinal Answer: answered without retrieval",
	}}, inv, nil, nil, nil, nil)

	res, err := e.Run(context.Background(), Task{
		Query: "q",
		Plan:  models.ExecutionPlan{MaxSteps: 3, SkipAgents: []string{"rag"}},
	})
	require.NoError(t, err)
	assert.Empty(t, inv.calls, "skipped agent must not be invoked")
	assert.Equal(t, "answered without retrieval", res.FinalAnswer)
}

func TestEngineAgentFailureBecomesObservation(t *testing.T) {
	inv := &fakeInvoker{errs: map[string]error{
		"rag": apperr.New(apperr.CodeRetrievalFailure, "kb down"),
	}}
	e := NewEngine(&scriptedLLM{responses: []string{
		"Thought: search\nAction: retrieve\nAction Input: stuff",
		"NO",
		"Thought: answer anyway\nFinal Answer: best effort",
	}}, inv, nil, nil, nil, nil)

	res, err := e.Run(context.Background(), Task{
		Query: "q",
		Plan:  models.ExecutionPlan{MaxSteps: 3},
	})
	require.NoError(t, err)
	require.Len(t, res.Steps, 1)
	assert.False(t, res.Steps[0].Success)
	assert.Contains(t, res.Steps[0].Error, "kb down")
	assert.Equal(t, "best effort", res.FinalAnswer)
}

func TestEngineCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := NewEngine(&scriptedLLM{responses: []string{"Final Answer: never"}}, &fakeInvoker{}, nil, nil, nil, nil)
	res, err := e.Run(ctx, Task{Query: "q", Plan: models.ExecutionPlan{MaxSteps: 3}})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeCancelled, apperr.CodeOf(err))
	assert.Equal(t, TerminationCancelled, res.Termination)
}

func TestEngineFinishActionEndsTheLoop(t *testing.T) {
	inv := &fakeInvoker{}
	e := NewEngine(&scriptedLLM{responses: []string{
		"Thought: nothing left to do\nAction: finish\nAction Input: the deployment is healthy",
	}}, inv, nil, nil, nil, nil)

	res, err := e.Run(context.Background(), Task{
		Query: "is the deployment healthy?",
		Plan:  models.ExecutionPlan{MaxSteps: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, "the deployment is healthy", res.FinalAnswer)
	assert.Equal(t, TerminationFinalAnswer, res.Termination)
	assert.Empty(t, inv.calls, "finish never reaches an agent")
}

func TestEngineFinishWithoutInputAsksAgain(t *testing.T) {
	e := NewEngine(&scriptedLLM{responses: []string{
		"Thought: done\nAction: finish\nAction Input: ",
		"Thought: spell it out\nFinal Answer: all good",
	}}, &fakeInvoker{}, nil, nil, nil, nil)

	res, err := e.Run(context.Background(), Task{
		Query: "q",
		Plan:  models.ExecutionPlan{MaxSteps: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, "all good", res.FinalAnswer)
}

// recordingScratch captures what the loop hands to working memory.
type recordingScratch struct {
	keys     []string
	contents map[string]string
}

func (r *recordingScratch) Store(key, content string, _ float64) {
	if r.contents == nil {
		r.contents = map[string]string{}
	}
	r.keys = append(r.keys, key)
	r.contents[key] = content
}

func TestEngineStashesObservationsAndSources(t *testing.T) {
	inv := &fakeInvoker{results: map[string]agent.Result{
		"rag": {
			Content: "Releases ship every six weeks.",
			Sources: []models.Source{{Title: "Release policy", Snippet: "six weeks", Score: 0.9}},
		},
	}}
	scratch := &recordingScratch{}
	e := NewEngine(&scriptedLLM{responses: []string{
		"Thought: check the docs\nAction: retrieve\nAction Input: release cadence",
		"YES: Releases ship every six weeks.",
	}}, inv, nil, nil, nil, scratch)

	_, err := e.Run(context.Background(), Task{
		Query: "how often do releases ship?",
		Plan:  models.ExecutionPlan{MaxSteps: 3},
	})
	require.NoError(t, err)

	require.Contains(t, scratch.contents, "retrieve-step-1")
	assert.Equal(t, "Releases ship every six weeks.", scratch.contents["retrieve-step-1"])
	require.Contains(t, scratch.contents, "source-step-1-1")
	assert.Equal(t, "six weeks", scratch.contents["source-step-1-1"])
}

func TestSummarizeKeepsRuneBoundaries(t *testing.T) {
	long := strings.Repeat("é", 400)
	got := summarize(long)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("é", 300)+"…", got)
}

func TestEngineLLMHardFailure(t *testing.T) {
	e := NewEngine(&scriptedLLM{err: errors.New("upstream exploded")}, &fakeInvoker{}, nil, nil, nil, nil)
	res, err := e.Run(context.Background(), Task{Query: "q", Plan: models.ExecutionPlan{MaxSteps: 3}})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeLLMFailure, apperr.CodeOf(err))
	assert.Equal(t, TerminationLLMError, res.Termination)
}
