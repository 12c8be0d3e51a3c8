package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/halcyonai/halcyon/pkg/logger"
)

// ToolRegistry holds the tools a session may call. Registration respects
// the configured allow-list; lookups for unregistered names produce error
// results, not panics.
type ToolRegistry struct {
	tools map[string]Tool
	allow map[string]bool
	mu    sync.RWMutex
}

// NewToolRegistry builds a registry. An empty allow-list permits nothing;
// tools must be explicitly allowed.
func NewToolRegistry(allow []string) *ToolRegistry {
	allowed := make(map[string]bool, len(allow))
	for _, name := range allow {
		allowed[strings.TrimSpace(name)] = true
	}
	return &ToolRegistry{
		tools: make(map[string]Tool),
		allow: allowed,
	}
}

// Register adds a tool if the allow-list permits it. Disallowed tools are
// skipped with a log line rather than an error, so a shared registration
// block works across deployments with different policies.
func (r *ToolRegistry) Register(tool Tool) {
	if !r.allow[tool.Name()] {
		logger.DebugCF("tool", "tool not in allow-list, skipped", map[string]interface{}{
			"tool": tool.Name(),
		})
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns registered tool names, sorted.
func (r *ToolRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes all registered tools that implement ClosableTool.
func (r *ToolRegistry) Close() error {
	r.mu.RLock()
	closers := make([]ClosableTool, 0, len(r.tools))
	for _, tool := range r.tools {
		if closer, ok := tool.(ClosableTool); ok {
			closers = append(closers, closer)
		}
	}
	r.mu.RUnlock()

	var errs []string
	for _, closer := range closers {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", closer.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("tool close failures: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Execute runs a named tool. Missing or disallowed names come back as
// error results so the model sees what went wrong.
func (r *ToolRegistry) Execute(ctx context.Context, name string, args map[string]interface{}) *ToolResult {
	logger.InfoCF("tool", "Tool execution started", map[string]interface{}{
		"tool": name,
	})

	tool, ok := r.Get(name)
	if !ok {
		logger.ErrorCF("tool", "Tool not found", map[string]interface{}{
			"tool": name,
		})
		return ErrorResult(fmt.Sprintf("tool %q not available", name)).WithError(fmt.Errorf("tool not found"))
	}

	start := time.Now()
	result := tool.Execute(ctx, args)
	duration := time.Since(start)

	if result == nil {
		err := fmt.Errorf("tool %q returned nil result", name)
		logger.ErrorCF("tool", "Tool returned nil result", map[string]interface{}{
			"tool": name,
		})
		return ErrorResult(err.Error()).WithError(err)
	}

	if result.IsError {
		logger.ErrorCF("tool", "Tool execution failed", map[string]interface{}{
			"tool":        name,
			"duration_ms": duration.Milliseconds(),
			"error":       result.ForLLM,
		})
	} else {
		logger.InfoCF("tool", "Tool execution completed", map[string]interface{}{
			"tool":          name,
			"duration_ms":   duration.Milliseconds(),
			"result_length": len(result.ForLLM),
		})
	}
	return result
}

// Describe renders the registered tools as prompt text for the model.
func (r *ToolRegistry) Describe() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.tools) == 0 {
		return "No tools are available."
	}
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Available tools:\n")
	for _, name := range names {
		tool := r.tools[name]
		fmt.Fprintf(&b, "- %s: %s\n", tool.Name(), tool.Description())
	}
	return strings.TrimSpace(b.String())
}
