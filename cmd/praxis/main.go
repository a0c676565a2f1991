// Package main provides the praxis CLI: a chat orchestration engine that
// drives LLM conversations through tool execution rounds behind an HTTP/SSE
// gateway.
//
// Start the server:
//
//	praxis serve --config praxis.yaml
//
// Check a configuration file:
//
//	praxis config validate --config praxis.yaml
//
// Credentials can also come from environment variables:
//
//   - PRAXIS_ANTHROPIC_API_KEY
//   - PRAXIS_OPENAI_API_KEY
//   - PRAXIS_GOOGLE_API_KEY
//   - PRAXIS_OLLAMA_URL
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := buildRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
