package provider

import (
	"encoding/json"
	"fmt"
	"strings"
)

// IntentToolCall is one tool invocation requested by the model.
type IntentToolCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// IntentDelta is a long-term memory candidate the model proposes alongside
// its answer. Deltas ride the committed record; only the consolidation
// pass decides whether they become facts.
type IntentDelta struct {
	Kind       string  `json:"kind,omitempty"`
	Key        string  `json:"key,omitempty"`
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence,omitempty"`
}

// ParsedIntent is the structured schema every model response must satisfy:
// optional reasoning, zero or more tool calls, optional proposed memory
// deltas, and the user-facing final response. A response with tool calls
// and no final response continues the tool-chaining loop.
type ParsedIntent struct {
	Reasoning     string           `json:"reasoning,omitempty"`
	ToolCalls     []IntentToolCall `json:"tool_calls,omitempty"`
	MemoryDeltas  []IntentDelta    `json:"memory_deltas,omitempty"`
	FinalResponse string           `json:"final_response,omitempty"`
}

// SchemaError reports model output that does not satisfy the intent
// schema. Recoverable once: the caller re-prompts with a corrective
// instruction before giving up.
type SchemaError struct {
	Raw    string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("intent schema violation: %s", e.Reason)
}

// CorrectiveInstruction is appended to the conversation after a schema
// failure so the retry knows exactly what shape is expected.
const CorrectiveInstruction = `Your previous reply did not match the required JSON schema. Respond with a single JSON object: {"reasoning": "...", "tool_calls": [{"name": "...", "args": {...}}], "final_response": "..."}. Use an empty tool_calls array when no tool is needed. You may add "memory_deltas": [{"kind": "...", "content": "...", "confidence": 0.0}] for things worth remembering. Do not wrap the JSON in prose.`

// ParseIntent extracts a ParsedIntent from raw model output. JSON is
// accepted bare or inside a fenced code block. Plain text with no JSON
// object at all is accepted as a bare final response; text that looks
// like JSON but fails the schema is a SchemaError.
func ParseIntent(raw string) (ParsedIntent, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ParsedIntent{}, &SchemaError{Raw: raw, Reason: "empty response"}
	}

	candidate := extractJSON(trimmed)
	if candidate == "" {
		// No JSON object anywhere: treat the whole reply as the final
		// user-facing output.
		return ParsedIntent{FinalResponse: trimmed}, nil
	}

	var intent ParsedIntent
	dec := json.NewDecoder(strings.NewReader(candidate))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&intent); err != nil {
		return ParsedIntent{}, &SchemaError{Raw: raw, Reason: err.Error()}
	}

	if intent.FinalResponse == "" && len(intent.ToolCalls) == 0 {
		return ParsedIntent{}, &SchemaError{Raw: raw, Reason: "neither final_response nor tool_calls present"}
	}
	for i, tc := range intent.ToolCalls {
		if strings.TrimSpace(tc.Name) == "" {
			return ParsedIntent{}, &SchemaError{Raw: raw, Reason: fmt.Sprintf("tool_calls[%d] missing name", i)}
		}
	}
	for i, d := range intent.MemoryDeltas {
		if strings.TrimSpace(d.Content) == "" {
			return ParsedIntent{}, &SchemaError{Raw: raw, Reason: fmt.Sprintf("memory_deltas[%d] missing content", i)}
		}
	}
	return intent, nil
}

// extractJSON returns the outermost JSON object in s, honoring fenced
// code blocks, or "" when s carries no object.
func extractJSON(s string) string {
	if idx := strings.Index(s, "```"); idx >= 0 {
		rest := s[idx+3:]
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end >= 0 {
			s = strings.TrimSpace(rest[:end])
		}
	}

	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	// Unbalanced braces. A reply that opens with the object is truncated
	// JSON and must fail decoding; a stray brace inside prose (code
	// snippets, shell fragments) is not an object at all.
	if start == 0 {
		return s
	}
	return ""
}
