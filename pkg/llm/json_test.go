package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{
			name:     "plain object",
			input:    `{"sql": "SELECT 1"}`,
			expected: `{"sql": "SELECT 1"}`,
		},
		{
			name:     "object in markdown fence",
			input:    "```json\n{\"sql\": \"SELECT 1\"}\n```",
			expected: `{"sql": "SELECT 1"}`,
		},
		{
			name:     "object after think block",
			input:    "<think>let me reason</think>\n{\"tables\": [\"orders\"]}",
			expected: `{"tables": ["orders"]}`,
		},
		{
			name:     "array",
			input:    `here you go: ["a", "b"]`,
			expected: `["a", "b"]`,
		},
		{
			name:     "nested braces inside strings",
			input:    `{"sql": "SELECT '{' FROM t"}`,
			expected: `{"sql": "SELECT '{' FROM t"}`,
		},
		{
			name:     "surrounding prose",
			input:    "Sure, the plan is {\"suitable\": true} as requested.",
			expected: `{"suitable": true}`,
		},
		{
			name:    "no json",
			input:   "I cannot answer that.",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestExtractThinking(t *testing.T) {
	assert.Equal(t, "step one", ExtractThinking("<think>step one</think>answer"))
	assert.Equal(t, "", ExtractThinking("no tags here"))
}

func TestParseJSONResponse(t *testing.T) {
	type plan struct {
		Suitable bool     `json:"suitable"`
		Tables   []string `json:"tables"`
	}

	got, err := ParseJSONResponse[plan]("```json\n{\"suitable\": true, \"tables\": [\"orders\"]}\n```")
	require.NoError(t, err)
	assert.True(t, got.Suitable)
	assert.Equal(t, []string{"orders"}, got.Tables)

	_, err = ParseJSONResponse[plan]("not json at all")
	assert.Error(t, err)
}
