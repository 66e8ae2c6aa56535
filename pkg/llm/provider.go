package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultModel is used when no model identifier is configured.
const DefaultModel = "gpt-4.1"

// Admission caps how many LLM calls may be in flight across the whole
// process, independent of any batch's wave size. Share one Admission between
// every Provider that talks to the same account.
type Admission struct {
	sem *semaphore.Weighted
	max int64
}

// NewAdmission returns an Admission allowing n concurrent calls. A value
// below one disables the limit.
func NewAdmission(n int) *Admission {
	if n < 1 {
		return nil
	}
	return &Admission{sem: semaphore.NewWeighted(int64(n)), max: int64(n)}
}

// Limit returns the configured capacity.
func (a *Admission) Limit() int {
	if a == nil {
		return 0
	}
	return int(a.max)
}

func (a *Admission) acquire(ctx context.Context) error {
	if a == nil {
		return nil
	}
	return a.sem.Acquire(ctx, 1)
}

func (a *Admission) release() {
	if a != nil {
		a.sem.Release(1)
	}
}

// Option configures a Provider.
type Option func(*Provider)

// WithRegistry overrides the family registry used for adapter selection.
func WithRegistry(r *Registry) Option {
	return func(p *Provider) { p.registry = r }
}

// WithAdapterOptions passes credentials and transport settings to the
// selected adapter's constructor.
func WithAdapterOptions(o AdapterOptions) Option {
	return func(p *Provider) { p.adapterOpts = o }
}

// WithAdmission attaches a process-wide in-flight limit.
func WithAdmission(a *Admission) Option {
	return func(p *Provider) { p.admission = a }
}

// WithCallTimeout bounds every individual call. An expired call fails like
// any other adapter error.
func WithCallTimeout(d time.Duration) Option {
	return func(p *Provider) { p.callTimeout = d }
}

// WithWaveSize overrides the adapter's wave size.
func WithWaveSize(n int) Option {
	return func(p *Provider) { p.waveSize = n }
}

// Provider is the unified entry point: it owns one adapter selected from the
// model name and exposes single, batch and flexible calls on top of it.
type Provider struct {
	model       string
	adapter     Adapter
	registry    *Registry
	adapterOpts AdapterOptions
	admission   *Admission
	callTimeout time.Duration
	waveSize    int
}

// NewProvider selects and builds the adapter for model. An empty model uses
// DefaultModel. Unrecognized models fail with ErrUnsupportedModel.
func NewProvider(ctx context.Context, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		model = DefaultModel
	}
	p := &Provider{model: model}
	for _, opt := range opts {
		opt(p)
	}
	if p.registry == nil {
		p.registry = DefaultRegistry()
	}

	a, err := p.registry.New(ctx, model, p.adapterOpts)
	if err != nil {
		return nil, fmt.Errorf("selecting LLM backend: %w", err)
	}
	p.adapter = a
	return p, nil
}

// FromAdapter wraps an already-built adapter.
func FromAdapter(a Adapter, opts ...Option) *Provider {
	p := &Provider{model: a.Model(), adapter: a}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Model returns the configured model identifier.
func (p *Provider) Model() string { return p.model }

// Adapter returns the selected backend adapter.
func (p *Provider) Adapter() Adapter { return p.adapter }

// WaveSize returns the effective per-batch concurrency cap.
func (p *Provider) WaveSize() int {
	if p.waveSize > 0 {
		return p.waveSize
	}
	if ws, ok := p.adapter.(WaveSizer); ok && ws.WaveSize() > 0 {
		return ws.WaveSize()
	}
	return DefaultWaveSize
}

// call runs one prompt under admission control and the per-call timeout.
func (p *Provider) call(ctx context.Context, prompt string) (*Response, error) {
	if err := p.admission.acquire(ctx); err != nil {
		return nil, fmt.Errorf("waiting for LLM admission: %w", err)
	}
	defer p.admission.release()

	if p.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.callTimeout)
		defer cancel()
	}

	if _, ok := p.adapter.(AsyncAdapter); ok {
		select {
		case r := <-GenerateAsync(ctx, p.adapter, prompt):
			return r.Response, r.Err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return p.adapter.Generate(ctx, prompt)
}

// Generate performs one blocking call.
func (p *Provider) Generate(ctx context.Context, prompt string) (*Response, error) {
	return p.call(ctx, prompt)
}

// GenerateAsync starts one call and returns immediately.
func (p *Provider) GenerateAsync(ctx context.Context, prompt string) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		resp, err := p.call(ctx, prompt)
		ch <- Result{Response: resp, Err: err}
	}()
	return ch
}

// GenerateBatch runs prompts sequentially.
func (p *Provider) GenerateBatch(ctx context.Context, prompts []string) ([]*Response, error) {
	return Sequential(ctx, prompts, p.call)
}

// GenerateBatchAsync runs prompts concurrently in waves of WaveSize and
// returns responses in input order.
func (p *Provider) GenerateBatchAsync(ctx context.Context, prompts []string) ([]*Response, error) {
	return Scheduler{WaveSize: p.WaveSize()}.Run(ctx, prompts, p.call)
}

// GenerateFlexible accepts one or many prompts. A single prompt is a plain
// call; several go through GenerateBatch.
func (p *Provider) GenerateFlexible(ctx context.Context, prompts ...string) ([]*Response, error) {
	if len(prompts) == 1 {
		resp, err := p.Generate(ctx, prompts[0])
		if err != nil {
			return nil, err
		}
		return []*Response{resp}, nil
	}
	return p.GenerateBatch(ctx, prompts)
}

// GenerateFlexibleAsync is GenerateFlexible with the concurrent batch path.
func (p *Provider) GenerateFlexibleAsync(ctx context.Context, prompts ...string) ([]*Response, error) {
	if len(prompts) == 1 {
		r := <-p.GenerateAsync(ctx, prompts[0])
		if r.Err != nil {
			return nil, r.Err
		}
		return []*Response{r.Response}, nil
	}
	return p.GenerateBatchAsync(ctx, prompts)
}
