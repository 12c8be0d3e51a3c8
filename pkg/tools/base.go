package tools

import "context"

// Tool is the interface that all tools must implement.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *ToolResult
}

// ClosableTool is an optional interface for tools that hold runtime
// resources and require explicit teardown.
type ClosableTool interface {
	Tool
	Close() error
}

// ToolResult carries a tool outcome back into the model loop. Failures
// are results too: they are surfaced to the next model call as context
// rather than tearing down the cycle.
type ToolResult struct {
	ForLLM  string
	ForUser string
	IsError bool
	Err     error
}

func SuccessResult(forLLM string) *ToolResult {
	return &ToolResult{ForLLM: forLLM}
}

func ErrorResult(forLLM string) *ToolResult {
	return &ToolResult{ForLLM: forLLM, IsError: true}
}

func (r *ToolResult) WithError(err error) *ToolResult {
	r.Err = err
	return r
}
