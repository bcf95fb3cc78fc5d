package generator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	content  string
	err      error
	prompt   string
	lastTemp float64
}

func (f *fakeProvider) Complete(ctx context.Context, prompt string, temperature float64) (*Completion, error) {
	f.prompt = prompt
	f.lastTemp = temperature
	if f.err != nil {
		return nil, f.err
	}
	return &Completion{Content: f.content}, nil
}

func (f *fakeProvider) Verify(ctx context.Context) error { return f.err }

const validPostJSON = `{
	"title": "Go Concurrency Patterns",
	"meta_description": "A practical tour of goroutines and channels.",
	"content": "<h1>Go Concurrency Patterns</h1><p>...</p>",
	"tags": ["go", "concurrency", "channels", "goroutines", "patterns"]
}`

func TestGenerate_Success(t *testing.T) {
	provider := &fakeProvider{content: validPostJSON}
	g := NewBlogGenerator(provider)

	post, err := g.Generate(context.Background(), "go concurrency")
	require.NoError(t, err)
	assert.Equal(t, "Go Concurrency Patterns", post.Title)
	assert.Len(t, post.Tags, 5)

	assert.Contains(t, provider.prompt, `"go concurrency"`)
	assert.Equal(t, blogTemperature, provider.lastTemp)
}

func TestGenerate_ProviderError(t *testing.T) {
	wantErr := fmt.Errorf("completion API error (500)")
	g := NewBlogGenerator(&fakeProvider{err: wantErr})

	_, err := g.Generate(context.Background(), "anything")
	require.ErrorIs(t, err, wantErr)
	assert.False(t, errors.Is(err, ErrMalformedOutput))
}

func TestGenerate_MalformedOutput(t *testing.T) {
	g := NewBlogGenerator(&fakeProvider{content: "Sorry, I cannot help with that."})

	_, err := g.Generate(context.Background(), "anything")
	require.ErrorIs(t, err, ErrMalformedOutput)
}

func TestParseBlogPost(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "plain json", raw: validPostJSON},
		{name: "fenced json", raw: "```json\n" + validPostJSON + "\n```"},
		{name: "fenced no language", raw: "```\n" + validPostJSON + "\n```"},
		{name: "surrounding whitespace", raw: "\n  " + validPostJSON + "  \n"},
		{name: "not json", raw: "here is your blog post!", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
		{name: "missing title", raw: `{"content":"<p>x</p>"}`, wantErr: true},
		{name: "missing content", raw: `{"title":"x"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			post, err := ParseBlogPost(tt.raw)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformedOutput)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, post.Title)
			assert.NotEmpty(t, post.Content)
		})
	}
}
