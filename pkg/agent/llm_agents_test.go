package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmsman-ai/helmsman/pkg/apperr"
	"github.com/helmsman-ai/helmsman/pkg/llm"
)

// erringLLM fails every generation with a fixed error.
type erringLLM struct{ err error }

func (e erringLLM) Generate(context.Context, llm.Request) (string, llm.Usage, error) {
	return "", llm.Usage{}, e.err
}

func TestPromptAgentPreservesInterruptionCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperr.Code
	}{
		{"cancellation passes through", apperr.Wrap(apperr.CodeCancelled, context.Canceled, "generation aborted"), apperr.CodeCancelled},
		{"timeout passes through", apperr.Wrap(apperr.CodeTimeout, context.DeadlineExceeded, "generation aborted"), apperr.CodeTimeout},
		{"other failures become LLM_FAILURE", errors.New("bad gateway"), apperr.CodeLLMFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewThinkingAgent(erringLLM{err: tt.err})
			_, err := a.Handle(context.Background(), TaskContext{Query: "q"})
			require.Error(t, err)
			assert.Equal(t, tt.want, apperr.CodeOf(err))
		})
	}
}

func TestSnippetKeepsRuneBoundaries(t *testing.T) {
	long := strings.Repeat("ß", 300)
	got := snippet(long)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("ß", 200)+"…", got)
}
