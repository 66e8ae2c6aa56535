package llm

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Ledger receives every priced response. Implementations must be safe for
// concurrent use.
type Ledger interface {
	Record(r *Response) error
}

type ledgerKey struct{}

// WithLedger returns a context that reports responses to l in addition to any
// ledgers already attached to ctx.
func WithLedger(ctx context.Context, l Ledger) context.Context {
	if l == nil {
		return ctx
	}
	prev := ledgersFrom(ctx)
	chain := make([]Ledger, len(prev), len(prev)+1)
	copy(chain, prev)
	return context.WithValue(ctx, ledgerKey{}, append(chain, l))
}

func ledgersFrom(ctx context.Context) []Ledger {
	if ctx == nil {
		return nil
	}
	chain, _ := ctx.Value(ledgerKey{}).([]Ledger)
	return chain
}

func record(ctx context.Context, r *Response) {
	for _, l := range ledgersFrom(ctx) {
		if err := l.Record(r); err != nil {
			log.WithFields(log.Fields{
				"model": r.Model,
				"error": err.Error(),
			}).Warn("cost ledger record failed")
		}
	}
}

// Totals is the cost accounting export summed over many responses.
type Totals struct {
	Requests     int     `json:"total_requests"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	InputCost    float64 `json:"input_cost"`
	OutputCost   float64 `json:"output_cost"`
	TotalCost    float64 `json:"total_cost"`
}

// Add folds one response into the totals.
func (t *Totals) Add(r *Response) {
	t.Requests++
	t.InputTokens += r.InputTokens
	t.OutputTokens += r.OutputTokens
	t.TotalTokens += r.TotalTokens
	t.InputCost += r.InputCost
	t.OutputCost += r.OutputCost
	t.TotalCost += r.TotalCost
}

// Tally is an in-memory Ledger. A fresh Tally per credentialing run gives
// per-run usage; one long-lived Tally gives process-wide usage.
type Tally struct {
	mu     sync.Mutex
	totals Totals
}

// NewTally returns an empty Tally.
func NewTally() *Tally { return &Tally{} }

// Record adds r to the running totals.
func (t *Tally) Record(r *Response) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totals.Add(r)
	return nil
}

// Snapshot returns a copy of the current totals.
func (t *Tally) Snapshot() Totals {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totals
}
