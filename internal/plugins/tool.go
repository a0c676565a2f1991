package plugins

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/praxisworks/praxis/internal/chat"
)

// maxOutputBytes caps how much of a plugin's stdout is kept. Anything past
// the cap is discarded rather than buffered without bound.
const maxOutputBytes = 1 << 20

// pluginTool runs a manifest's command as a subprocess per call.
type pluginTool struct {
	manifest *Manifest
	schema   json.RawMessage
	dir      string
}

var _ chat.Tool = (*pluginTool)(nil)

func newPluginTool(m *Manifest, dir string) (*pluginTool, error) {
	schema, err := m.SchemaJSON()
	if err != nil {
		return nil, err
	}
	return &pluginTool{manifest: m, schema: schema, dir: dir}, nil
}

func (t *pluginTool) Name() string            { return t.manifest.Name }
func (t *pluginTool) Description() string     { return t.manifest.Description }
func (t *pluginTool) Schema() json.RawMessage { return t.schema }

// Execute writes the arguments JSON to the command's stdin and returns its
// stdout. The manifest's timeout bounds the whole process, including any
// children that inherit the process group.
func (t *pluginTool) Execute(ctx context.Context, args json.RawMessage, rc *chat.RunContext) (string, error) {
	if t.manifest.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(t.manifest.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	argv := t.manifest.Command
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = t.dir
	cmd.Stdin = bytes.NewReader(args)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{buf: &stdout, limit: maxOutputBytes}
	cmd.Stderr = &limitedWriter{buf: &stderr, limit: 8 << 10}

	cmd.Env = pluginEnv(rc)

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("plugin %s timed out after %ds", t.manifest.Name, t.manifest.TimeoutSeconds)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("plugin %s: %s", t.manifest.Name, msg)
	}
	return stdout.String(), nil
}

// pluginEnv passes run identity to the subprocess without exposing the
// parent's full environment decisions to the manifest author.
func pluginEnv(rc *chat.RunContext) []string {
	env := []string{"PATH=" + pathEnv()}
	if rc != nil {
		env = append(env,
			"PRAXIS_RUN_ID="+rc.RunID,
			"PRAXIS_USER_ID="+rc.UserID,
			"PRAXIS_CONVERSATION_ID="+rc.ConversationID,
		)
	}
	return env
}

func pathEnv() string { return os.Getenv("PATH") }

type limitedWriter struct {
	buf   *bytes.Buffer
	limit int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining > 0 {
		if len(p) > remaining {
			w.buf.Write(p[:remaining])
		} else {
			w.buf.Write(p)
		}
	}
	// Report full consumption so the process never blocks on a full pipe.
	return len(p), nil
}
