// Package llmtest provides in-process llm.Adapter fakes for tests that must
// not reach a real backend.
package llmtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jdgilhuly/go_credential_agent/pkg/llm"
)

// RespondFunc produces the content for one prompt.
type RespondFunc func(ctx context.Context, prompt string) (string, error)

// Adapter is a configurable fake. It records every prompt it receives and the
// highest number of calls it saw in flight at once. It is safe for concurrent
// use.
type Adapter struct {
	model   string
	respond RespondFunc
	usage   llm.Usage
	delay   func(prompt string) time.Duration

	mu          sync.Mutex
	prompts     []string
	inFlight    int
	maxInFlight int
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithUsage sets the token usage reported on every response.
func WithUsage(in, out int) Option {
	return func(a *Adapter) { a.usage = llm.Usage{InputTokens: in, OutputTokens: out} }
}

// WithDelay makes each call sleep for delay(prompt) before responding.
func WithDelay(delay func(prompt string) time.Duration) Option {
	return func(a *Adapter) { a.delay = delay }
}

// New creates an Adapter that answers with respond.
func New(model string, respond RespondFunc, opts ...Option) *Adapter {
	a := &Adapter{model: model, respond: respond}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Echo returns an Adapter whose response content is the prompt itself.
func Echo(model string, opts ...Option) *Adapter {
	return New(model, func(_ context.Context, prompt string) (string, error) {
		return prompt, nil
	}, opts...)
}

// Scripted returns an Adapter that answers with responses in order. Once all
// responses are consumed, subsequent calls return an error.
func Scripted(model string, responses ...string) *Adapter {
	var mu sync.Mutex
	idx := 0
	return New(model, func(context.Context, string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if idx >= len(responses) {
			return "", fmt.Errorf("llmtest: no more responses (consumed %d/%d)", idx, len(responses))
		}
		r := responses[idx]
		idx++
		return r, nil
	})
}

// Failing returns an Adapter whose every call fails with err.
func Failing(model string, err error) *Adapter {
	return New(model, func(context.Context, string) (string, error) {
		return "", err
	})
}

// Model returns the configured model identifier.
func (a *Adapter) Model() string { return a.model }

// Generate records the prompt and answers through the configured RespondFunc.
// Successful calls are priced and reported to ledgers like a real adapter.
func (a *Adapter) Generate(ctx context.Context, prompt string) (*llm.Response, error) {
	a.mu.Lock()
	a.prompts = append(a.prompts, prompt)
	a.inFlight++
	if a.inFlight > a.maxInFlight {
		a.maxInFlight = a.inFlight
	}
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.inFlight--
		a.mu.Unlock()
	}()

	if a.delay != nil {
		select {
		case <-time.After(a.delay(prompt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	content, err := a.respond(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return llm.NewResponse(ctx, llm.StructuredCompletion(content, a.usage), a.model), nil
}

// Prompts returns a copy of every prompt received, in arrival order.
func (a *Adapter) Prompts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.prompts))
	copy(out, a.prompts)
	return out
}

// Calls returns how many calls were made.
func (a *Adapter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.prompts)
}

// MaxInFlight returns the highest number of concurrent calls observed.
func (a *Adapter) MaxInFlight() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.maxInFlight
}
