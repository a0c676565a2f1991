package plugins

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/praxisworks/praxis/internal/chat"
)

// reloadDebounce coalesces the bursts of filesystem events editors and
// package managers produce for a single logical change.
const reloadDebounce = 250 * time.Millisecond

// Manager loads plugin manifests from a directory and keeps a tool registry
// in sync with it.
type Manager struct {
	dir      string
	registry *chat.Registry
	logger   *slog.Logger

	mu     sync.Mutex
	byPath map[string]string // manifest path -> registered tool name
}

// NewManager creates a manager over dir that registers tools into registry.
func NewManager(dir string, registry *chat.Registry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		dir:      dir,
		registry: registry,
		logger:   logger,
		byPath:   make(map[string]string),
	}
}

// Registry returns the registry the manager maintains.
func (m *Manager) Registry() *chat.Registry { return m.registry }

func isManifestFilename(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// Load scans the plugin directory and registers every valid manifest.
// Invalid manifests are logged and skipped; a missing directory is not an
// error, it just means no plugins.
func (m *Manager) Load() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read plugin dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !isManifestFilename(entry.Name()) {
			continue
		}
		m.loadFile(filepath.Join(m.dir, entry.Name()))
	}
	return nil
}

// loadFile registers the tool a manifest describes, replacing whatever was
// previously registered from the same path.
func (m *Manager) loadFile(path string) {
	manifest, err := DecodeManifestFile(path)
	if err != nil {
		m.logger.Warn("skipping plugin manifest", "path", path, "error", err)
		return
	}
	if err := manifest.Validate(); err != nil {
		m.logger.Warn("skipping plugin manifest", "path", path, "error", err)
		return
	}
	tool, err := newPluginTool(manifest, m.dir)
	if err != nil {
		m.logger.Warn("skipping plugin manifest", "path", path, "error", err)
		return
	}

	m.mu.Lock()
	if prev, ok := m.byPath[path]; ok && prev != manifest.Name {
		m.registry.Unregister(prev)
	}
	m.byPath[path] = manifest.Name
	m.mu.Unlock()

	m.registry.Register(tool)
	m.logger.Info("registered plugin tool",
		"tool", manifest.Name, "version", manifest.Version, "path", path)
}

// removeFile unregisters the tool that came from a deleted manifest.
func (m *Manager) removeFile(path string) {
	m.mu.Lock()
	name, ok := m.byPath[path]
	delete(m.byPath, path)
	m.mu.Unlock()
	if !ok {
		return
	}
	m.registry.Unregister(name)
	m.logger.Info("unregistered plugin tool", "tool", name, "path", path)
}

// Watch blocks until ctx is done, reloading manifests as the plugin
// directory changes. Call Load first for the initial scan.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create plugin watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(m.dir); err != nil {
		return fmt.Errorf("watch plugin dir: %w", err)
	}

	// Pending changes per path, flushed after the debounce window.
	pending := make(map[string]fsnotify.Op)
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		for path, op := range pending {
			// A create or write wins over an earlier remove in the same
			// window (atomic-save editors remove then recreate).
			if op.Has(fsnotify.Create) || op.Has(fsnotify.Write) {
				m.loadFile(path)
				continue
			}
			if op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename) {
				m.removeFile(path)
			}
		}
		pending = make(map[string]fsnotify.Op)
		timerC = nil
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isManifestFilename(filepath.Base(event.Name)) {
				continue
			}
			pending[event.Name] |= event.Op
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Stop()
				timer.Reset(reloadDebounce)
			}
			timerC = timer.C
		case <-timerC:
			flush()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.Warn("plugin watcher error", "error", err)
		}
	}
}
