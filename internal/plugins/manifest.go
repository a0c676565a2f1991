// Package plugins turns YAML manifests on disk into callable tools. Each
// manifest describes one tool backed by a subprocess; the manager keeps the
// registry in sync with the plugin directory, reloading manifests as files
// change.
package plugins

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest describes one plugin tool.
type Manifest struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Version     string `yaml:"version"`

	// Command is the argv executed for each call. Arguments JSON is written
	// to the process's stdin; the tool result is read from stdout.
	Command []string `yaml:"command"`

	// Schema is the JSON Schema for the tool's arguments, written as YAML.
	Schema map[string]any `yaml:"schema"`

	// TimeoutSeconds caps one execution's wall clock. Zero means the
	// executor's default applies.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// DecodeManifest parses a YAML manifest.
func DecodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

// DecodeManifestFile reads and parses a manifest file.
func DecodeManifestFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := DecodeManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Validate checks the fields a runnable plugin needs.
func (m *Manifest) Validate() error {
	if m == nil {
		return fmt.Errorf("manifest is nil")
	}
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("manifest name is required")
	}
	if len(m.Command) == 0 || strings.TrimSpace(m.Command[0]) == "" {
		return fmt.Errorf("manifest %s: command is required", m.Name)
	}
	if m.TimeoutSeconds < 0 {
		return fmt.Errorf("manifest %s: timeout_seconds must not be negative", m.Name)
	}
	return nil
}

// SchemaJSON renders the manifest's YAML schema as JSON for the provider
// declaration. A missing schema becomes the empty-object schema.
func (m *Manifest) SchemaJSON() (json.RawMessage, error) {
	if len(m.Schema) == 0 {
		return json.RawMessage(`{"type":"object","properties":{}}`), nil
	}
	data, err := json.Marshal(m.Schema)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: schema: %w", m.Name, err)
	}
	return data, nil
}
