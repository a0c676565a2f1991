package plugins

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/praxisworks/praxis/internal/chat"
	"github.com/praxisworks/praxis/pkg/models"
)

func writeManifest(t *testing.T, dir, filename, body string) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const catManifest = `
name: echo_stdin
description: Echoes its stdin back.
command: ["/bin/cat"]
`

func TestManagerLoad(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "echo.yaml", catManifest)
	writeManifest(t, dir, "broken.yaml", "name: [unclosed")
	writeManifest(t, dir, "nameless.yml", `command: ["/bin/true"]`)
	writeManifest(t, dir, "notes.txt", "not a manifest")

	m := NewManager(dir, chat.NewRegistry(), nil)
	if err := m.Load(); err != nil {
		t.Fatal(err)
	}

	// Only the valid manifest registers; the rest are logged and skipped.
	if got := len(m.Registry().Tools()); got != 1 {
		t.Fatalf("registered tools = %d, want 1", got)
	}
	tool, ok := m.Registry().Resolve("echo_stdin")
	if !ok {
		t.Fatal("echo_stdin not registered")
	}
	if tool.Description() != "Echoes its stdin back." {
		t.Errorf("description = %q", tool.Description())
	}
}

func TestManagerLoadMissingDir(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "nope"), chat.NewRegistry(), nil)
	if err := m.Load(); err != nil {
		t.Errorf("missing dir should not be an error, got %v", err)
	}
}

func TestManagerReloadRenamedTool(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "tool.yaml", catManifest)

	m := NewManager(dir, chat.NewRegistry(), nil)
	if err := m.Load(); err != nil {
		t.Fatal(err)
	}

	// Same file now declares a different tool name; the old name must go.
	if err := os.WriteFile(path, []byte(strings.Replace(catManifest, "echo_stdin", "echo_v2", 1)), 0o644); err != nil {
		t.Fatal(err)
	}
	m.loadFile(path)

	if _, ok := m.Registry().Resolve("echo_stdin"); ok {
		t.Error("old tool name still registered after rename")
	}
	if _, ok := m.Registry().Resolve("echo_v2"); !ok {
		t.Error("new tool name not registered")
	}
}

func TestManagerRemoveFile(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "tool.yaml", catManifest)

	m := NewManager(dir, chat.NewRegistry(), nil)
	if err := m.Load(); err != nil {
		t.Fatal(err)
	}
	m.removeFile(path)

	if _, ok := m.Registry().Resolve("echo_stdin"); ok {
		t.Error("tool still registered after its manifest was removed")
	}
	// Removing an unknown path is a no-op.
	m.removeFile(filepath.Join(dir, "ghost.yaml"))
}

func TestPluginToolExecute(t *testing.T) {
	tool, err := newPluginTool(&Manifest{
		Name:    "echo_stdin",
		Command: []string{"/bin/cat"},
	}, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	rc := chat.NewRunContext("c1", "u1", "fake", "fake-1", models.ChatGeneral)
	out, err := tool.Execute(context.Background(), []byte(`{"text":"hello"}`), rc)
	if err != nil {
		t.Fatal(err)
	}
	if out != `{"text":"hello"}` {
		t.Errorf("out = %q", out)
	}
}

func TestPluginToolExecuteStderrSurfaced(t *testing.T) {
	tool, err := newPluginTool(&Manifest{
		Name:    "failing",
		Command: []string{"/bin/sh", "-c", "echo boom >&2; exit 1"},
	}, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	_, err = tool.Execute(context.Background(), []byte(`{}`), nil)
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("err = %v, want stderr text surfaced", err)
	}
}

func TestPluginToolExecuteTimeout(t *testing.T) {
	tool, err := newPluginTool(&Manifest{
		Name:           "sleeper",
		Command:        []string{"/bin/sh", "-c", "sleep 5"},
		TimeoutSeconds: 1,
	}, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	_, err = tool.Execute(context.Background(), []byte(`{}`), nil)
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Errorf("err = %v, want timeout", err)
	}
}

func TestPluginEnv(t *testing.T) {
	rc := chat.NewRunContext("conv-9", "user-7", "fake", "fake-1", models.ChatGeneral)
	env := pluginEnv(rc)

	want := map[string]bool{
		"PRAXIS_USER_ID=user-7":         false,
		"PRAXIS_CONVERSATION_ID=conv-9": false,
		"run id":                        false,
	}
	for _, kv := range env {
		if _, ok := want[kv]; ok {
			want[kv] = true
		}
		if strings.HasPrefix(kv, "PRAXIS_RUN_ID=") && len(kv) > len("PRAXIS_RUN_ID=") {
			want["run id"] = true
		}
	}
	for k, seen := range want {
		if !seen {
			t.Errorf("env missing %s: %v", k, env)
		}
	}
}

func TestLimitedWriterCaps(t *testing.T) {
	var buf bytes.Buffer
	w := &limitedWriter{buf: &buf, limit: 10}

	n, err := w.Write([]byte("0123456789abcdef"))
	if err != nil || n != 16 {
		t.Fatalf("n = %d, err = %v; the writer must report full consumption", n, err)
	}
	if buf.String() != "0123456789" {
		t.Errorf("buffered %q, want the first 10 bytes", buf.String())
	}

	// Further writes are discarded but still reported consumed.
	n, _ = w.Write([]byte("more"))
	if n != 4 || buf.Len() != 10 {
		t.Errorf("n = %d, buffered = %d", n, buf.Len())
	}
}
