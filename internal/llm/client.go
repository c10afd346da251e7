// Package llm provides the LLM capability consumed by the intent
// classifier and the auto-reply drafter.
package llm

import "context"

// ChatRequest is a single-turn chat completion request.
type ChatRequest struct {
	// System is the system prompt; may be empty.
	System string
	// User is the user message.
	User string
	// Model overrides the client's default model when non-empty.
	Model string
	// Temperature in [0,1]. Zero is a valid value.
	Temperature float64
	// MaxTokens caps the response length. Zero means the client default.
	MaxTokens int
}

// Client is the interface LLM providers implement. Chat returns the
// model's text response; structured contracts (JSON) are parsed by the
// caller, which treats non-conforming output as a failure.
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (string, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
