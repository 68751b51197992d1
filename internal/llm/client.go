package llm

import (
	"context"
	"strings"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a chat completion call. Model is a full model identifier such as
// "groq/llama-3.1-8b-instant"; the part before the first slash names the provider.
type Request struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature *float64
}

// Usage is the token accounting reported by the provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response carries the generated text.
type Response struct {
	Model string
	Text  string
	Usage Usage
}

// Client performs model calls.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) (Response, error)

func (f ClientFunc) Complete(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// SplitModel separates the provider prefix from the provider-side model name.
func SplitModel(id string) (provider, model string) {
	provider, model, ok := strings.Cut(id, "/")
	if !ok {
		return "", id
	}
	return provider, model
}

// EstimateTokens approximates the budget a request will consume: four
// characters per prompt token plus the completion allowance. Zero means unknown.
func EstimateTokens(req Request) int {
	chars := 0
	for _, m := range req.Messages {
		chars += len(m.Content)
	}
	est := (chars + 3) / 4
	if req.MaxTokens > 0 {
		est += req.MaxTokens
	}
	return est
}
