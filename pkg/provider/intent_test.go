package provider

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIntentWellFormed(t *testing.T) {
	intent, err := ParseIntent(`{"reasoning": "simple math", "tool_calls": [], "final_response": "4"}`)
	require.NoError(t, err)
	assert.Equal(t, "4", intent.FinalResponse)
	assert.Empty(t, intent.ToolCalls)
	assert.Equal(t, "simple math", intent.Reasoning)
}

func TestParseIntentToolCalls(t *testing.T) {
	intent, err := ParseIntent(`{"tool_calls": [{"name": "clock", "args": {"timezone": "UTC"}}]}`)
	require.NoError(t, err)
	require.Len(t, intent.ToolCalls, 1)
	assert.Equal(t, "clock", intent.ToolCalls[0].Name)
	assert.Equal(t, "UTC", intent.ToolCalls[0].Args["timezone"])
	assert.Empty(t, intent.FinalResponse)
}

func TestParseIntentFencedJSON(t *testing.T) {
	raw := "```json\n{\"final_response\": \"here you go\"}\n```"
	intent, err := ParseIntent(raw)
	require.NoError(t, err)
	assert.Equal(t, "here you go", intent.FinalResponse)
}

func TestParseIntentJSONInsideProse(t *testing.T) {
	raw := `Sure! {"reasoning": "ok", "final_response": "42"} Hope that helps.`
	intent, err := ParseIntent(raw)
	require.NoError(t, err)
	assert.Equal(t, "42", intent.FinalResponse)
}

func TestParseIntentPlainTextIsBareFinal(t *testing.T) {
	intent, err := ParseIntent("The answer is four.")
	require.NoError(t, err)
	assert.Equal(t, "The answer is four.", intent.FinalResponse)
}

func TestParseIntentProseWithStrayBraceIsBareFinal(t *testing.T) {
	raw := "In Go the entry point looks like: func main() { and then your code."
	intent, err := ParseIntent(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, intent.FinalResponse)
	assert.Empty(t, intent.ToolCalls)
}

func TestParseIntentMemoryDeltas(t *testing.T) {
	intent, err := ParseIntent(`{"final_response": "noted", "memory_deltas": [{"kind": "user_preference", "content": "prefers short answers", "confidence": 0.7}]}`)
	require.NoError(t, err)
	require.Len(t, intent.MemoryDeltas, 1)
	assert.Equal(t, "user_preference", intent.MemoryDeltas[0].Kind)
	assert.Equal(t, "prefers short answers", intent.MemoryDeltas[0].Content)
	assert.Equal(t, 0.7, intent.MemoryDeltas[0].Confidence)
}

func TestParseIntentMalformed(t *testing.T) {
	cases := map[string]string{
		"empty":             "",
		"truncated json":    `{"final_response": "4"`,
		"unknown field":     `{"final_answer": "4"}`,
		"empty object":      `{}`,
		"nameless tool":     `{"tool_calls": [{"args": {}}]}`,
		"wrong type":        `{"final_response": 4}`,
		"contentless delta": `{"final_response": "ok", "memory_deltas": [{"kind": "semantic_fact"}]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseIntent(raw)
			require.Error(t, err)
			var schemaErr *SchemaError
			assert.True(t, errors.As(err, &schemaErr), "expected SchemaError, got %v", err)
		})
	}
}
