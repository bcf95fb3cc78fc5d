package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	openaiAPIURL = "https://api.openai.com/v1/chat/completions"

	// responseBodyLimit caps how much of a completion response is read. A
	// single blog post is well under this.
	responseBodyLimit = 1 << 20

	verifyPrompt    = "ping"
	verifyMaxTokens = 1
)

// OpenAIClient calls the OpenAI chat completions API. Blog generation only
// needs single-turn, non-streaming completions, so that is all it speaks.
type OpenAIClient struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

// NewOpenAIClient creates a completion client. An empty endpoint selects the
// public OpenAI API.
func NewOpenAIClient(apiKey, model, endpoint string) *OpenAIClient {
	if endpoint == "" {
		endpoint = openaiAPIURL
	}
	return &OpenAIClient{
		apiKey:   apiKey,
		model:    model,
		endpoint: endpoint,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatPayload struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// chatResult covers both the success and error shapes of the completions
// endpoint, so one decode handles either.
type chatResult struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete sends one user prompt and returns the model's reply.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string, temperature float64) (*Completion, error) {
	return c.send(ctx, chatPayload{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: temperature,
	})
}

// Verify checks the API key and connectivity with a one-token request.
func (c *OpenAIClient) Verify(ctx context.Context) error {
	_, err := c.send(ctx, chatPayload{
		Model:     c.model,
		Messages:  []chatMessage{{Role: "user", Content: verifyPrompt}},
		MaxTokens: verifyMaxTokens,
	})
	return err
}

func (c *OpenAIClient) send(ctx context.Context, payload chatPayload) (*Completion, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	var result chatResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, responseBodyLimit)).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode completion response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		if result.Error != nil && result.Error.Message != "" {
			return nil, fmt.Errorf("completion API error (%d): %s", resp.StatusCode, result.Error.Message)
		}
		return nil, fmt.Errorf("completion API error (%d)", resp.StatusCode)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("completion response has no choices")
	}

	choice := result.Choices[0]
	return &Completion{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		InputTokens:  result.Usage.PromptTokens,
		OutputTokens: result.Usage.CompletionTokens,
	}, nil
}
