package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"research-assistant/internal/config"
	"research-assistant/internal/telemetry"
)

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	Stream      bool      `json:"stream"`
}

type chatChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   *Usage       `json:"usage,omitempty"`
}

// OpenAIClient talks to any OpenAI-compatible /chat/completions endpoint.
// Groq and Gemini both expose one.
type OpenAIClient struct {
	providers  map[string]config.Provider
	httpClient *http.Client
}

// NewOpenAIClient builds a client over the configured providers.
func NewOpenAIClient(providers map[string]config.Provider, timeout time.Duration) *OpenAIClient {
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	return &OpenAIClient{
		providers:  providers,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Complete sends one non-streaming chat completion.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (Response, error) {
	providerName, model := SplitModel(req.Model)
	provider, ok := c.providers[providerName]
	if !ok || provider.BaseURL == "" {
		return Response{}, fmt.Errorf("no provider configured for model %q", req.Model)
	}

	body := chatRequest{
		Model:       model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
	}
	if req.MaxTokens > 0 {
		body.MaxTokens = &req.MaxTokens
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(provider.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if provider.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+provider.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		telemetry.LLMCalls.WithLabelValues(req.Model, "error").Inc()
		return Response{}, fmt.Errorf("%s: %w", req.Model, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		telemetry.LLMCalls.WithLabelValues(req.Model, "error").Inc()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Response{}, fmt.Errorf("%s: http %d: %s", req.Model, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		telemetry.LLMCalls.WithLabelValues(req.Model, "error").Inc()
		return Response{}, fmt.Errorf("%s: decode response: %w", req.Model, err)
	}
	if len(out.Choices) == 0 {
		telemetry.LLMCalls.WithLabelValues(req.Model, "error").Inc()
		return Response{}, fmt.Errorf("%s: response contained no choices", req.Model)
	}

	telemetry.LLMCalls.WithLabelValues(req.Model, "ok").Inc()
	result := Response{
		Model: req.Model,
		Text:  strings.TrimSpace(out.Choices[0].Message.Content),
	}
	if out.Usage != nil {
		result.Usage = *out.Usage
		telemetry.LLMTokens.WithLabelValues(req.Model, "prompt").Add(float64(out.Usage.PromptTokens))
		telemetry.LLMTokens.WithLabelValues(req.Model, "completion").Add(float64(out.Usage.CompletionTokens))
	}
	return result, nil
}
