package llm

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
	defaultOpenAIURL = "https://api.openai.com/v1/chat/completions"
)

// OpenAIOption configures an OpenAIAdapter.
type OpenAIOption func(*OpenAIAdapter)

// WithOpenAIHTTPClient sets a custom HTTP client (useful for testing).
func WithOpenAIHTTPClient(c *http.Client) OpenAIOption {
	return func(a *OpenAIAdapter) { a.client = c }
}

// WithOpenAIBaseURL overrides the chat completions endpoint.
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(a *OpenAIAdapter) {
		if url != "" {
			a.baseURL = url
		}
	}
}

// WithOpenAIMaxRetries sets the maximum number of retry attempts.
func WithOpenAIMaxRetries(n int) OpenAIOption {
	return func(a *OpenAIAdapter) { a.maxRetries = n }
}

// WithOpenAIMaxTokens caps the completion length.
func WithOpenAIMaxTokens(n int) OpenAIOption {
	return func(a *OpenAIAdapter) { a.maxTokens = n }
}

// OpenAIAdapter implements Adapter for the OpenAI Chat Completions API.
type OpenAIAdapter struct {
	model      string
	apiKey     string
	baseURL    string
	client     *http.Client
	maxRetries int
	maxTokens  int
}

// NewOpenAIAdapter creates an adapter for the given GPT model.
func NewOpenAIAdapter(model, apiKey string, opts ...OpenAIOption) *OpenAIAdapter {
	a := &OpenAIAdapter{
		model:      model,
		apiKey:     apiKey,
		baseURL:    defaultOpenAIURL,
		client:     &http.Client{Timeout: 60 * time.Second},
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Model returns the configured model identifier.
func (a *OpenAIAdapter) Model() string { return a.model }

type openaiRequest struct {
	Model     string          `json:"model"`
	Messages  []openaiMessage `json:"messages"`
	MaxTokens *int            `json:"max_tokens,omitempty"`
}

type openaiMessage struct {
	Role    string  `json:"role"`
	Content *string `json:"content"`
}

// openaiResponse is the Chat Completions response body. Usage is a pointer so
// a missing block is distinguishable from zero tokens.
type openaiResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Choices []openaiChoice `json:"choices"`
	Usage   *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type openaiChoice struct {
	Index        int           `json:"index"`
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Generate sends the prompt as a single user message.
func (a *OpenAIAdapter) Generate(ctx context.Context, prompt string) (*Response, error) {
	body, err := a.buildRequestBody(prompt)
	if err != nil {
		return nil, fmt.Errorf("building request body: %w", err)
	}

	c, attempts, err := withRetries(ctx, a.maxRetries, func() (Completion, error) {
		return a.doRequest(ctx, body)
	})
	if err != nil {
		if isRetryable(err) {
			return nil, fmt.Errorf("openai API request failed after %d attempts: %w", attempts, err)
		}
		return nil, err
	}
	return NewResponse(ctx, c, a.model), nil
}

func (a *OpenAIAdapter) buildRequestBody(prompt string) ([]byte, error) {
	p := prompt
	or := openaiRequest{
		Model:    a.model,
		Messages: []openaiMessage{{Role: "user", Content: &p}},
	}
	if a.maxTokens != 0 {
		m := a.maxTokens
		or.MaxTokens = &m
	}
	return json.Marshal(or)
}

func (a *OpenAIAdapter) doRequest(ctx context.Context, body []byte) (Completion, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(body))
	if err != nil {
		return Completion{}, fmt.Errorf("creating HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

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
		return Completion{}, &retryableError{err: openaiStatusError(httpResp.StatusCode, respBody)}
	}
	if httpResp.StatusCode != http.StatusOK {
		return Completion{}, openaiStatusError(httpResp.StatusCode, respBody)
	}

	var or openaiResponse
	if err := json.Unmarshal(respBody, &or); err != nil {
		return UnstructuredCompletion(string(respBody)), nil
	}
	return parseOpenAIResponse(&or, respBody), nil
}

func openaiStatusError(status int, body []byte) error {
	var apiErr openaiErrorResponse
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
		return fmt.Errorf("HTTP %d: %s", status, apiErr.Error.Message)
	}
	return fmt.Errorf("HTTP %d: %s", status, string(body))
}

func parseOpenAIResponse(or *openaiResponse, raw []byte) Completion {
	if len(or.Choices) == 0 || or.Choices[0].Message.Content == nil {
		return UnstructuredCompletion(string(raw))
	}

	var usage Usage
	if or.Usage != nil {
		usage = Usage{
			InputTokens:  or.Usage.PromptTokens,
			OutputTokens: or.Usage.CompletionTokens,
			TotalTokens:  or.Usage.TotalTokens,
		}
	}
	return StructuredCompletion(*or.Choices[0].Message.Content, usage)
}
