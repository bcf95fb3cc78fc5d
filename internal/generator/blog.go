package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedOutput is returned when the provider responds but the payload
// cannot be parsed into a usable blog post. Callers treat it the same as a
// provider failure: no credit is charged.
var ErrMalformedOutput = errors.New("generation output is not a usable blog post")

const blogTemperature = 0.7

// BlogPost is the structured payload the provider is asked to produce.
type BlogPost struct {
	Title           string   `json:"title"`
	MetaDescription string   `json:"meta_description"`
	Content         string   `json:"content"`
	Tags            []string `json:"tags"`
}

// BlogGenerator produces structured blog posts through a chat provider.
type BlogGenerator struct {
	provider Provider
}

// NewBlogGenerator wraps a chat provider for blog generation.
func NewBlogGenerator(provider Provider) *BlogGenerator {
	return &BlogGenerator{provider: provider}
}

func blogPrompt(topic string) string {
	return fmt.Sprintf(`Write a high-quality, SEO-optimized blog post about %q.

Return JSON ONLY with:
- title
- meta_description (155 chars)
- content (HTML with H1, H2, paragraphs)
- tags (5 keywords)`, topic)
}

// Generate asks the provider for a blog post on the given topic. Provider
// errors are returned as-is; responses that do not parse into a BlogPost
// with a title and content return ErrMalformedOutput.
func (g *BlogGenerator) Generate(ctx context.Context, topic string) (*BlogPost, error) {
	resp, err := g.provider.Complete(ctx, blogPrompt(topic), blogTemperature)
	if err != nil {
		return nil, err
	}

	post, err := ParseBlogPost(resp.Content)
	if err != nil {
		return nil, err
	}
	return post, nil
}

// ParseBlogPost decodes a provider response into a BlogPost. Models often
// wrap JSON in markdown code fences, so those are stripped first.
func ParseBlogPost(raw string) (*BlogPost, error) {
	cleaned := stripCodeFences(raw)

	var post BlogPost
	if err := json.Unmarshal([]byte(cleaned), &post); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if strings.TrimSpace(post.Title) == "" || strings.TrimSpace(post.Content) == "" {
		return nil, fmt.Errorf("%w: missing title or content", ErrMalformedOutput)
	}
	return &post, nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop a language tag like "json" on the opening fence.
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
