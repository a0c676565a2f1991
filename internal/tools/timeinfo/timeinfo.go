// Package timeinfo provides the current_time tool.
package timeinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/praxisworks/praxis/internal/chat"
)

// Tool reports the current time, optionally in a named timezone.
type Tool struct {
	// now is swappable for tests.
	now func() time.Time
}

var _ chat.Tool = (*Tool)(nil)

// New creates the current_time tool.
func New() *Tool {
	return &Tool{now: time.Now}
}

func (t *Tool) Name() string { return "current_time" }

func (t *Tool) Description() string {
	return "Get the current date and time, optionally in a specific IANA timezone such as America/New_York."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"timezone": {"type": "string", "description": "IANA timezone name (default: UTC)"}
		}
	}`)
}

func (t *Tool) Execute(_ context.Context, args json.RawMessage, _ *chat.RunContext) (string, error) {
	var params struct {
		Timezone string `json:"timezone"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return "", fmt.Errorf("invalid parameters: %w", err)
		}
	}

	loc := time.UTC
	if params.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(params.Timezone)
		if err != nil {
			return "", fmt.Errorf("unknown timezone %q", params.Timezone)
		}
	}

	now := t.now().In(loc)
	output, err := json.Marshal(map[string]any{
		"iso":      now.Format(time.RFC3339),
		"unix":     now.Unix(),
		"weekday":  now.Weekday().String(),
		"timezone": loc.String(),
	})
	if err != nil {
		return "", fmt.Errorf("format response: %w", err)
	}
	return string(output), nil
}
