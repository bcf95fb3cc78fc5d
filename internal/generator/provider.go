// Package generator contains the blog generation client for the external
// chat-completions API.
package generator

import "context"

// Completion is the provider's answer to a single prompt.
type Completion struct {
	Content      string
	FinishReason string
	InputTokens  int
	OutputTokens int
}

// Provider turns a prompt into a completion. Implemented by *OpenAIClient.
type Provider interface {
	// Complete sends one user prompt and returns the model's reply.
	Complete(ctx context.Context, prompt string, temperature float64) (*Completion, error)

	// Verify checks credentials and connectivity with a minimal request.
	Verify(ctx context.Context) error
}
