package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/praxisworks/praxis/internal/chat"
)

// FetchTool implements web_fetch: retrieve one URL and return its readable
// text.
type FetchTool struct {
	extractor *ContentExtractor
}

var _ chat.Tool = (*FetchTool)(nil)

// NewFetchTool creates the web_fetch tool.
func NewFetchTool() *FetchTool {
	return &FetchTool{extractor: NewContentExtractor()}
}

// newFetchToolForTesting allows loopback URLs. Tests only.
func newFetchToolForTesting() *FetchTool {
	return &FetchTool{extractor: NewContentExtractorForTesting()}
}

func (t *FetchTool) Name() string { return "web_fetch" }

func (t *FetchTool) Description() string {
	return "Fetch a web page and return its readable text content. Use after web_search to read a promising result in full."
}

func (t *FetchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "The URL to fetch"}
		},
		"required": ["url"]
	}`)
}

func (t *FetchTool) Execute(ctx context.Context, args json.RawMessage, _ *chat.RunContext) (string, error) {
	var params struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}
	if strings.TrimSpace(params.URL) == "" {
		return "", fmt.Errorf("url parameter is required")
	}

	content, err := t.extractor.Extract(ctx, params.URL)
	if err != nil {
		return "", err
	}

	output, err := json.Marshal(map[string]string{
		"url":     params.URL,
		"content": content,
	})
	if err != nil {
		return "", fmt.Errorf("format response: %w", err)
	}
	return string(output), nil
}
