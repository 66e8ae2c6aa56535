package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
)

// ErrUnsupportedModel is returned when a model identifier maps to no known
// provider family. It is a configuration error and is never retried.
var ErrUnsupportedModel = errors.New("unknown or unsupported model name")

// Family identifies a backend vendor.
type Family string

const (
	FamilyBedrock   Family = "bedrock"
	FamilyOpenAI    Family = "openai"
	FamilyAnthropic Family = "anthropic"
)

// familyPrefixes are checked in order against the lower-cased model name.
var familyPrefixes = []struct {
	prefix string
	family Family
}{
	{"anthropic", FamilyBedrock},
	{"amazon", FamilyBedrock},
	{"gpt-", FamilyOpenAI},
	{"openai", FamilyOpenAI},
	{"o1", FamilyOpenAI},
	{"o3", FamilyOpenAI},
	{"claude-", FamilyAnthropic},
}

// FamilyFor maps a model identifier to its provider family.
func FamilyFor(model string) (Family, error) {
	name := strings.ToLower(strings.TrimSpace(model))
	for _, fp := range familyPrefixes {
		if strings.HasPrefix(name, fp.prefix) {
			return fp.family, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedModel, model)
}

// AdapterOptions carries the settings an adapter constructor may need.
type AdapterOptions struct {
	APIKey     string
	BaseURL    string
	Region     string
	MaxRetries int
	HTTPClient *http.Client
}

// Constructor builds an adapter for a model within one family.
type Constructor func(ctx context.Context, model string, opts AdapterOptions) (Adapter, error)

// Registry maps provider families to adapter constructors.
type Registry struct {
	mu           sync.RWMutex
	constructors map[Family]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[Family]Constructor)}
}

// DefaultRegistry returns a registry populated with the built-in families.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(FamilyBedrock, newBedrock)
	r.Register(FamilyOpenAI, newOpenAI)
	r.Register(FamilyAnthropic, newAnthropic)
	return r
}

// Register sets the constructor for a family, replacing any previous one.
func (r *Registry) Register(f Family, c Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[f] = c
}

// New selects the family for model and builds its adapter.
func (r *Registry) New(ctx context.Context, model string, opts AdapterOptions) (Adapter, error) {
	fam, err := FamilyFor(model)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	c, ok := r.constructors[fam]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no adapter registered for family %q", ErrUnsupportedModel, fam)
	}
	return c(ctx, model, opts)
}

func newBedrock(ctx context.Context, model string, opts AdapterOptions) (Adapter, error) {
	return NewBedrockAdapter(ctx, model, WithRegion(opts.Region))
}

func newOpenAI(_ context.Context, model string, opts AdapterOptions) (Adapter, error) {
	key := opts.APIKey
	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}
	o := []OpenAIOption{WithOpenAIBaseURL(opts.BaseURL)}
	if opts.MaxRetries > 0 {
		o = append(o, WithOpenAIMaxRetries(opts.MaxRetries))
	}
	if opts.HTTPClient != nil {
		o = append(o, WithOpenAIHTTPClient(opts.HTTPClient))
	}
	return NewOpenAIAdapter(model, key, o...), nil
}

func newAnthropic(_ context.Context, model string, opts AdapterOptions) (Adapter, error) {
	key := opts.APIKey
	if key == "" {
		key = os.Getenv("ANTHROPIC_API_KEY")
	}
	o := []AnthropicOption{WithBaseURL(opts.BaseURL)}
	if opts.MaxRetries > 0 {
		o = append(o, WithMaxRetries(opts.MaxRetries))
	}
	if opts.HTTPClient != nil {
		o = append(o, WithHTTPClient(opts.HTTPClient))
	}
	return NewAnthropicAdapter(model, key, o...), nil
}
