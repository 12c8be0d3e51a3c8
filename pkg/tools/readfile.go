package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const maxReadBytes = 64 * 1024

// ReadFileTool reads a file from inside the configured sandbox roots.
// Paths that escape every root, including via symlinks, are refused.
type ReadFileTool struct {
	roots []string
}

func NewReadFileTool(roots []string) *ReadFileTool {
	cleaned := make([]string, 0, len(roots))
	for _, r := range roots {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if abs, err := filepath.Abs(r); err == nil {
			cleaned = append(cleaned, abs)
		}
	}
	return &ReadFileTool{roots: cleaned}
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read a text file from the workspace. Only paths inside the configured sandbox are accessible."
}

func (t *ReadFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file to read",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(_ context.Context, args map[string]interface{}) *ToolResult {
	path, ok := args["path"].(string)
	if !ok || strings.TrimSpace(path) == "" {
		return ErrorResult("path is required")
	}

	resolved, err := t.resolve(path)
	if err != nil {
		return ErrorResult(fmt.Sprintf("access denied: %v", err)).WithError(err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("cannot read %q: %v", path, err)).WithError(err)
	}
	if info.IsDir() {
		return ErrorResult(fmt.Sprintf("%q is a directory", path))
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("cannot read %q: %v", path, err)).WithError(err)
	}

	truncated := len(data) > maxReadBytes
	if truncated {
		data = data[:maxReadBytes]
	}
	out := string(data)
	if truncated {
		out += fmt.Sprintf("\n[truncated at %d bytes]", maxReadBytes)
	}
	return SuccessResult(out)
}

func (t *ReadFileTool) resolve(path string) (string, error) {
	if len(t.roots) == 0 {
		return "", fmt.Errorf("no sandbox roots configured")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// Fall back to the lexical path for not-yet-existing files so the
		// stat below reports the real error.
		resolved = abs
	}

	for _, root := range t.roots {
		realRoot, err := filepath.EvalSymlinks(root)
		if err != nil {
			realRoot = root
		}
		rel, err := filepath.Rel(realRoot, resolved)
		if err != nil {
			continue
		}
		if rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)) {
			return resolved, nil
		}
	}
	return "", fmt.Errorf("path %q is outside the sandbox", path)
}
