// Package files provides file_read and file_write tools sandboxed to a
// workspace directory. Paths are resolved relative to the workspace root and
// may never escape it.
package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/praxisworks/praxis/internal/chat"
)

const maxReadBytes = 1 << 20

// Workspace is the sandbox both tools operate in.
type Workspace struct {
	root string
}

// NewWorkspace creates a workspace rooted at dir, creating it if needed.
func NewWorkspace(dir string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace dir: %w", err)
	}
	return &Workspace{root: abs}, nil
}

// Root returns the workspace's absolute path.
func (w *Workspace) Root() string { return w.root }

// resolve maps a tool-supplied path into the workspace, rejecting absolute
// paths and traversal out of the root.
func (w *Workspace) resolve(rel string) (string, error) {
	rel = strings.TrimSpace(rel)
	if rel == "" {
		return "", fmt.Errorf("path is required")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("path must be relative to the workspace")
	}
	full := filepath.Join(w.root, rel)
	if full != w.root && !strings.HasPrefix(full, w.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes the workspace")
	}
	return full, nil
}

// ReadTool implements file_read.
type ReadTool struct {
	ws *Workspace
}

var _ chat.Tool = (*ReadTool)(nil)

// NewReadTool creates the file_read tool over ws.
func NewReadTool(ws *Workspace) *ReadTool { return &ReadTool{ws: ws} }

func (t *ReadTool) Name() string { return "file_read" }

func (t *ReadTool) Description() string {
	return "Read a file from the workspace. Paths are relative to the workspace root."
}

func (t *ReadTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Workspace-relative path of the file to read"}
		},
		"required": ["path"]
	}`)
}

func (t *ReadTool) Execute(_ context.Context, args json.RawMessage, _ *chat.RunContext) (string, error) {
	var params struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}
	full, err := t.ws.resolve(params.Path)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(full)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", params.Path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", params.Path)
	}
	if info.Size() > maxReadBytes {
		return "", fmt.Errorf("%s is too large to read (%d bytes)", params.Path, info.Size())
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", params.Path, err)
	}

	output, err := json.Marshal(map[string]any{
		"path":    params.Path,
		"size":    info.Size(),
		"content": string(data),
	})
	if err != nil {
		return "", fmt.Errorf("format response: %w", err)
	}
	return string(output), nil
}

// WriteTool implements file_write. Offloaded content references in the
// arguments are resolved by the executor before this runs, so the model can
// write previously offloaded payloads to disk.
type WriteTool struct {
	ws *Workspace
}

var _ chat.Tool = (*WriteTool)(nil)

// NewWriteTool creates the file_write tool over ws.
func NewWriteTool(ws *Workspace) *WriteTool { return &WriteTool{ws: ws} }

func (t *WriteTool) Name() string { return "file_write" }

func (t *WriteTool) Description() string {
	return "Write content to a file in the workspace, creating parent directories as needed. Paths are relative to the workspace root."
}

func (t *WriteTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Workspace-relative path of the file to write"},
			"content": {"type": "string", "description": "Content to write"},
			"append": {"type": "boolean", "description": "Append instead of overwrite (default: false)"}
		},
		"required": ["path", "content"]
	}`)
}

func (t *WriteTool) Execute(_ context.Context, args json.RawMessage, _ *chat.RunContext) (string, error) {
	var params struct {
		Path    string `json:"path"`
		Content string `json:"content"`
		Append  bool   `json:"append"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}
	full, err := t.ws.resolve(params.Path)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create parent dirs for %s: %w", params.Path, err)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if params.Append {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	f, err := os.OpenFile(full, flags, 0o644)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", params.Path, err)
	}
	n, err := f.WriteString(params.Content)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("write %s: %w", params.Path, err)
	}

	output, err := json.Marshal(map[string]any{
		"path":          params.Path,
		"bytes_written": n,
		"appended":      params.Append,
	})
	if err != nil {
		return "", fmt.Errorf("format response: %w", err)
	}
	return string(output), nil
}
