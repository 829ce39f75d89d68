// Package model defines the LLM client interface used by the reasoning loop
// and the orchestrator, with Azure OpenAI and Gemini implementations.
package model

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned by clients that have no usable backend.
// Callers treat it as the signal to take the degraded (mock) path.
var ErrNotConfigured = errors.New("model backend not configured")

// Turn is one entry of a conversation history.
type Turn struct {
	Role    string `json:"role"` // "assistant" or "user"
	Content string `json:"content"`
}

// Client is the interface all model backends implement.
//
// Errors returned from any method are fatal to the calling session by
// contract: retry policy lives inside the client, not in the loop.
type Client interface {
	// Complete sends a bare prompt.
	Complete(ctx context.Context, prompt string) (string, error)

	// CompleteWithSystem sends a prompt with a system instruction.
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// CompleteChat sends a system instruction plus a full ordered turn
	// history. The reasoning loop uses this for every iteration.
	CompleteChat(ctx context.Context, systemPrompt string, turns []Turn) (string, error)
}

// NoopClient is the degraded backend used when no provider is configured.
// Every call fails with ErrNotConfigured, which sessions translate into a
// clearly-labeled placeholder result so the system stays demoable offline.
type NoopClient struct{}

func (NoopClient) Complete(ctx context.Context, prompt string) (string, error) {
	return "", ErrNotConfigured
}

func (NoopClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return "", ErrNotConfigured
}

func (NoopClient) CompleteChat(ctx context.Context, systemPrompt string, turns []Turn) (string, error) {
	return "", ErrNotConfigured
}
