package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "bare object",
			input: `{"category": "simple_chat"}`,
			want:  `{"category": "simple_chat"}`,
		},
		{
			name:  "fenced json block",
			input: "```json\n{\"a\": 1}\n```",
			want:  `{"a": 1}`,
		},
		{
			name:  "prose around object",
			input: "Here is the result: {\"pass\": true} hope it helps",
			want:  `{"pass": true}`,
		},
		{
			name:  "nested objects and braces in strings",
			input: `{"issues": ["unbalanced } inside"], "inner": {"x": 1}}`,
			want:  `{"issues": ["unbalanced } inside"], "inner": {"x": 1}}`,
		},
		{
			name:    "no object at all",
			input:   "I cannot answer that.",
			wantErr: true,
		},
		{
			name:    "unterminated object",
			input:   `{"a": {"b": 1}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, json.Valid([]byte(got)))
		})
	}
}
