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
)

const (
	defaultAnthropicURL     = "https://api.anthropic.com/v1/messages"
	defaultAnthropicVersion = "2023-06-01"
	defaultAnthropicTokens  = 4096
)

// AnthropicOption configures an AnthropicAdapter.
type AnthropicOption func(*AnthropicAdapter)

// WithHTTPClient sets a custom HTTP client (useful for testing).
func WithHTTPClient(c *http.Client) AnthropicOption {
	return func(a *AnthropicAdapter) { a.client = c }
}

// WithBaseURL overrides the Anthropic API base URL.
func WithBaseURL(url string) AnthropicOption {
	return func(a *AnthropicAdapter) {
		if url != "" {
			a.baseURL = url
		}
	}
}

// WithMaxRetries sets the maximum number of retry attempts for retryable errors.
func WithMaxRetries(n int) AnthropicOption {
	return func(a *AnthropicAdapter) { a.maxRetries = n }
}

// AnthropicAdapter implements Adapter for the Anthropic Messages API.
type AnthropicAdapter struct {
	model      string
	apiKey     string
	baseURL    string
	client     *http.Client
	maxRetries int
}

// NewAnthropicAdapter creates an adapter for a claude-* model.
func NewAnthropicAdapter(model, apiKey string, opts ...AnthropicOption) *AnthropicAdapter {
	a := &AnthropicAdapter{
		model:      model,
		apiKey:     apiKey,
		baseURL:    defaultAnthropicURL,
		client:     &http.Client{Timeout: 60 * time.Second},
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Model returns the configured model identifier.
func (a *AnthropicAdapter) Model() string { return a.model }

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Type       string                  `json:"type"`
	Role       string                  `json:"role"`
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicErrorResponse struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate sends the prompt to the Messages API.
func (a *AnthropicAdapter) Generate(ctx context.Context, prompt string) (*Response, error) {
	body, err := json.Marshal(anthropicRequest{
		Model:     a.model,
		MaxTokens: defaultAnthropicTokens,
		Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, fmt.Errorf("building request body: %w", err)
	}

	c, attempts, err := withRetries(ctx, a.maxRetries, func() (Completion, error) {
		return a.doRequest(ctx, body)
	})
	if err != nil {
		if isRetryable(err) {
			return nil, fmt.Errorf("anthropic API request failed after %d attempts: %w", attempts, err)
		}
		return nil, err
	}
	return NewResponse(ctx, c, a.model), nil
}

func (a *AnthropicAdapter) doRequest(ctx context.Context, body []byte) (Completion, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(body))
	if err != nil {
		return Completion{}, fmt.Errorf("creating HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", a.apiKey)
	httpReq.Header.Set("Anthropic-Version", defaultAnthropicVersion)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return Completion{}, &retryableError{err: fmt.Errorf("sending HTTP request: %w", err)}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Completion{}, &retryableError{err: fmt.Errorf("reading response body: %w", err)}
	}

	if httpResp.StatusCode == http.StatusTooManyRequests || httpResp.StatusCode >= 500 {
		return Completion{}, &retryableError{err: anthropicStatusError(httpResp.StatusCode, respBody)}
	}
	if httpResp.StatusCode != http.StatusOK {
		return Completion{}, anthropicStatusError(httpResp.StatusCode, respBody)
	}

	var ar anthropicResponse
	if err := json.Unmarshal(respBody, &ar); err != nil {
		return UnstructuredCompletion(string(respBody)), nil
	}
	return parseAnthropicResponse(&ar, respBody), nil
}

func anthropicStatusError(status int, body []byte) error {
	var apiErr anthropicErrorResponse
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
		return fmt.Errorf("HTTP %d: %s", status, apiErr.Error.Message)
	}
	return fmt.Errorf("HTTP %d: %s", status, string(body))
}

func parseAnthropicResponse(ar *anthropicResponse, raw []byte) Completion {
	var parts []string
	for _, block := range ar.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		return UnstructuredCompletion(string(raw))
	}

	var usage Usage
	if ar.Usage != nil {
		usage = Usage{InputTokens: ar.Usage.InputTokens, OutputTokens: ar.Usage.OutputTokens}
	}
	return StructuredCompletion(strings.Join(parts, "\n"), usage)
}
