// Package verify queries external credentialing sources for a provider's
// mapped data.
package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"time"
)

// Verifier returns the raw verification record for one provider.
type Verifier interface {
	Verify(ctx context.Context, providerID string, mapped map[string]any) (map[string]any, error)
}

// StaticResponse is the canned record Static returns when none is supplied.
var StaticResponse = map[string]any{
	"license_verification":     "Verified",
	"disciplinary_check":       "Clean",
	"malpractice_verification": "Active",
	"board_certification":      "Verified",
	"background_check":         "Passed",
	"education_verification":   "Verified",
	"hospital_privileges":      "Confirmed",
	"insurance_verification":   "Active",
}

// Static answers every request with the same record. It stands in for the
// external API in local runs and tests.
type Static struct {
	Response map[string]any
}

// Verify returns a copy of the configured record, or StaticResponse.
func (s Static) Verify(ctx context.Context, _ string, _ map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src := s.Response
	if src == nil {
		src = StaticResponse
	}
	return maps.Clone(src), nil
}

// Option configures an HTTP verifier.
type Option func(*HTTP)

// WithHTTPClient sets a custom HTTP client (useful for testing).
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTP) { h.client = c }
}

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) Option {
	return func(h *HTTP) { h.apiKey = key }
}

// HTTP posts mapped provider data to a credentialing API and returns the
// decoded JSON object it answers with.
type HTTP struct {
	url    string
	apiKey string
	client *http.Client
}

// NewHTTP creates a verifier for the endpoint at url.
func NewHTTP(url string, opts ...Option) *HTTP {
	h := &HTTP{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type verifyRequest struct {
	ProviderID string         `json:"provider_id"`
	MappedData map[string]any `json:"mapped_data"`
}

// Verify sends one request. Non-2xx statuses and non-object bodies are errors.
func (h *HTTP) Verify(ctx context.Context, providerID string, mapped map[string]any) (map[string]any, error) {
	body, err := json.Marshal(verifyRequest{ProviderID: providerID, MappedData: mapped})
	if err != nil {
		return nil, fmt.Errorf("building verification request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending verification request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading verification response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("verification API HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var out map[string]any
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("decoding verification response: %w", err)
	}
	if out == nil {
		return nil, fmt.Errorf("verification API returned no record")
	}
	return out, nil
}
