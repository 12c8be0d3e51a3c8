package provider

import (
	"context"
	"fmt"
)

// Message is one chat message in provider wire format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Response is the raw completion returned by the reasoning collaborator.
type Response struct {
	Content      string
	FinishReason string
	Usage        *UsageInfo
}

// UsageInfo mirrors the provider's token accounting, when reported.
type UsageInfo struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatProvider is the external reasoning collaborator. Implementations
// block on the network; callers bound them with the context.
type ChatProvider interface {
	Chat(ctx context.Context, messages []Message, model string, options map[string]interface{}) (*Response, error)
}

// GenerationError reports a collaborator failure that exhausted its retry:
// transport failure, or structured output that stayed malformed after a
// corrective re-prompt.
type GenerationError struct {
	EpochID string
	Stage   string
	Err     error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed (epoch=%s stage=%s): %v", e.EpochID, e.Stage, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
