package llm

import (
	"context"
	"math"
)

// Usage tracks token consumption for a single call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// CompletionKind tells whether an adapter recognized the vendor response.
type CompletionKind int

const (
	// Structured means content and usage were read from the expected fields.
	Structured CompletionKind = iota
	// Unstructured means the response shape was not recognized and the raw
	// payload is carried as content with zero usage.
	Unstructured
)

// Completion is the vendor-neutral outcome of one adapter call, before
// pricing is applied.
type Completion struct {
	Kind    CompletionKind
	Content string
	Usage   Usage
}

// StructuredCompletion builds a Completion from recognized content and usage.
func StructuredCompletion(content string, usage Usage) Completion {
	return Completion{Kind: Structured, Content: content, Usage: usage}
}

// UnstructuredCompletion wraps a raw payload the adapter could not interpret.
func UnstructuredCompletion(raw string) Completion {
	return Completion{Kind: Unstructured, Content: raw}
}

// Response is the immutable result of one completed LLM call. Costs are
// derived from the token counts and the pricing table at construction.
type Response struct {
	Content string `json:"content"`
	Usage
	Model      string  `json:"model_name"`
	InputCost  float64 `json:"input_cost"`
	OutputCost float64 `json:"output_cost"`
	TotalCost  float64 `json:"total_cost"`
}

// NewResponse prices a completion for the given model and reports it to every
// ledger attached to ctx. Ledger failures are logged, never returned.
func NewResponse(ctx context.Context, c Completion, model string) *Response {
	u := c.Usage
	if u.TotalTokens == 0 {
		u.TotalTokens = u.InputTokens + u.OutputTokens
	}
	in, out := PriceFor(model).Cost(u.InputTokens, u.OutputTokens)
	r := &Response{
		Content:    c.Content,
		Usage:      u,
		Model:      model,
		InputCost:  in,
		OutputCost: out,
		TotalCost:  in + out,
	}
	record(ctx, r)
	return r
}

// Fields returns the plain serializable form with costs rounded to six
// decimal places, for logs and reports.
func (r *Response) Fields() map[string]any {
	return map[string]any{
		"content":       r.Content,
		"input_tokens":  r.InputTokens,
		"output_tokens": r.OutputTokens,
		"total_tokens":  r.TotalTokens,
		"model_name":    r.Model,
		"input_cost":    round6(r.InputCost),
		"output_cost":   round6(r.OutputCost),
		"total_cost":    round6(r.TotalCost),
	}
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
