package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmsman-ai/helmsman/pkg/apperr"
)

func TestEvalExpression(t *testing.T) {
	tests := []struct {
		expr string
		want float64
	}{
		{"2+2", 4},
		{"2 + 3 * 4", 14},
		{"(2 + 3) * 4", 20},
		{"10 / 4", 2.5},
		{"7 % 3", 1},
		{"2 ^ 10", 1024},
		{"2 ^ 3 ^ 2", 512}, // right-associative
		{"-5 + 3", -2},
		{"-(2 + 3)", -5},
		{"1.5 * 2", 3},
	}
	for _, tc := range tests {
		t.Run(tc.expr, func(t *testing.T) {
			got, err := evalExpression(tc.expr)
			require.NoError(t, err)
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}
}

func TestEvalExpressionErrors(t *testing.T) {
	for _, expr := range []string{"1/0", "5 % 0", "(1+2", "2 +", "", "1 2"} {
		t.Run(expr, func(t *testing.T) {
			_, err := evalExpression(expr)
			assert.Error(t, err)
		})
	}
}

func TestCalculationAgentExtractsFromProse(t *testing.T) {
	a := NewCalculationAgent()

	res, err := a.Handle(context.Background(), TaskContext{Query: "what is 2+2?"})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "4")

	res, err = a.Handle(context.Background(), TaskContext{Query: "please compute (12 + 8) * 3 for me"})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "60")
}

func TestCalculationAgentRejectsNonMath(t *testing.T) {
	a := NewCalculationAgent()
	_, err := a.Handle(context.Background(), TaskContext{Query: "tell me a story"})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidRequest, apperr.CodeOf(err))
}
