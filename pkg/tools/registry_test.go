package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryAllowList(t *testing.T) {
	registry := NewToolRegistry([]string{"clock"})
	registry.Register(NewClockTool())
	registry.Register(NewReadFileTool([]string{"/tmp"}))

	assert.Equal(t, []string{"clock"}, registry.List())

	_, ok := registry.Get("read_file")
	assert.False(t, ok, "disallowed tool must not register")

	result := registry.Execute(context.Background(), "read_file", map[string]interface{}{"path": "/etc/passwd"})
	require.NotNil(t, result)
	assert.True(t, result.IsError)
}

func TestRegistryUnknownTool(t *testing.T) {
	registry := NewToolRegistry([]string{"clock"})

	result := registry.Execute(context.Background(), "bogus", nil)
	require.NotNil(t, result)
	assert.True(t, result.IsError)
	assert.Contains(t, result.ForLLM, "bogus")
}

func TestClockTool(t *testing.T) {
	tool := NewClockTool()

	result := tool.Execute(context.Background(), map[string]interface{}{})
	require.False(t, result.IsError)
	assert.Contains(t, result.ForLLM, "Current time:")

	result = tool.Execute(context.Background(), map[string]interface{}{"timezone": "not/a/zone"})
	assert.True(t, result.IsError)
}

func TestReadFileSandbox(t *testing.T) {
	root := t.TempDir()
	inside := filepath.Join(root, "notes.txt")
	require.NoError(t, os.WriteFile(inside, []byte("remember the milk"), 0o644))

	outside := filepath.Join(t.TempDir(), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("top secret"), 0o644))

	tool := NewReadFileTool([]string{root})

	result := tool.Execute(context.Background(), map[string]interface{}{"path": inside})
	require.False(t, result.IsError, result.ForLLM)
	assert.Equal(t, "remember the milk", result.ForLLM)

	result = tool.Execute(context.Background(), map[string]interface{}{"path": outside})
	assert.True(t, result.IsError)
	assert.Contains(t, result.ForLLM, "access denied")

	// Escapes via dot-dot stay inside the fence.
	result = tool.Execute(context.Background(), map[string]interface{}{"path": filepath.Join(root, "..", "elsewhere")})
	assert.True(t, result.IsError)
}

func TestReadFileNoRoots(t *testing.T) {
	tool := NewReadFileTool(nil)
	result := tool.Execute(context.Background(), map[string]interface{}{"path": "/anything"})
	assert.True(t, result.IsError)
}
