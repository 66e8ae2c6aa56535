// Package credential runs the credentialing pipeline for healthcare
// providers: data retrieval, LLM data mapping, external verification, batch
// evaluation of hard and soft regulations, and aggregation into a result.
package credential

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/iter"

	"github.com/jdgilhuly/go_credential_agent/pkg/audit"
	"github.com/jdgilhuly/go_credential_agent/pkg/llm"
	"github.com/jdgilhuly/go_credential_agent/pkg/prompt"
	"github.com/jdgilhuly/go_credential_agent/pkg/provider"
	"github.com/jdgilhuly/go_credential_agent/pkg/regulation"
	"github.com/jdgilhuly/go_credential_agent/pkg/result"
	"github.com/jdgilhuly/go_credential_agent/pkg/store"
	"github.com/jdgilhuly/go_credential_agent/pkg/verify"
)

// Generator is the LLM surface the pipeline needs. *llm.Provider implements it.
type Generator interface {
	Model() string
	Generate(ctx context.Context, prompt string) (*llm.Response, error)
	GenerateBatchAsync(ctx context.Context, prompts []string) ([]*llm.Response, error)
}

// Providers looks provider records up by id. *provider.Store implements it.
type Providers interface {
	Get(id string) (*provider.Provider, error)
}

// Reporter writes a report for a finished run and returns where it went.
type Reporter interface {
	Write(r *result.CredentialingResult, s *audit.Session) (string, error)
}

// DefaultConcurrency bounds CredentialMany when no option sets it.
const DefaultConcurrency = 4

// Option configures a Service.
type Option func(*Service)

// WithVerifier sets the external verification source.
func WithVerifier(v verify.Verifier) Option {
	return func(s *Service) { s.verifier = v }
}

// WithResults sets where results are stored.
func WithResults(r store.Results) Option {
	return func(s *Service) { s.results = r }
}

// WithAudit sets the audit logger.
func WithAudit(a *audit.Logger) Option {
	return func(s *Service) { s.audit = a }
}

// WithReporter enables the report phase.
func WithReporter(r Reporter) Option {
	return func(s *Service) { s.reporter = r }
}

// WithPrompts overrides the prompt templates.
func WithPrompts(l *prompt.Library) Option {
	return func(s *Service) { s.prompts = l }
}

// WithLedger reports every LLM response of every run to l as well.
func WithLedger(l llm.Ledger) Option {
	return func(s *Service) { s.ledger = l }
}

// WithConcurrency bounds how many providers CredentialMany runs at once.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l log.FieldLogger) Option {
	return func(s *Service) { s.log = l }
}

// Service credentials providers against a regulation set.
type Service struct {
	providers   Providers
	regs        *regulation.Set
	gen         Generator
	prompts     *prompt.Library
	verifier    verify.Verifier
	results     store.Results
	audit       *audit.Logger
	reporter    Reporter
	ledger      llm.Ledger
	usage       *llm.Tally
	concurrency int
	log         log.FieldLogger
}

// New builds a Service. Unset collaborators default to the static verifier,
// an in-memory result store and the built-in prompts.
func New(providers Providers, regs *regulation.Set, gen Generator, opts ...Option) *Service {
	s := &Service{
		providers:   providers,
		regs:        regs,
		gen:         gen,
		prompts:     prompt.Defaults(),
		verifier:    verify.Static{},
		results:     store.NewMemory(),
		usage:       llm.NewTally(),
		concurrency: DefaultConcurrency,
		log:         log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Regulations returns the rule book the service evaluates against.
func (s *Service) Regulations() *regulation.Set { return s.regs }

// Credential runs the full pipeline for one provider. It always returns a
// result; failures are reported through a FAILED status and its errors.
func (s *Service) Credential(ctx context.Context, providerID string) *result.CredentialingResult {
	start := time.Now()
	res := result.New(providerID)
	session := audit.NewSession(providerID)
	res.SessionID = session.ID

	tally := llm.NewTally()
	ctx = llm.WithLedger(ctx, s.usage)
	ctx = llm.WithLedger(ctx, s.ledger)
	ctx = llm.WithLedger(ctx, tally)

	logger := s.log.WithFields(log.Fields{
		"provider_id": providerID,
		"session_id":  session.ID,
	})
	logger.Info("credentialing started")
	_ = s.audit.Event(ctx, audit.Event{
		Type:       audit.EventStarted,
		SessionID:  session.ID,
		ProviderID: providerID,
		Data:       map[string]any{"model": s.gen.Model()},
	})

	r := &run{
		id:      providerID,
		res:     res,
		session: session,
		log:     logger,
	}
	err := s.runSafely(ctx, r)

	res.LLMUsage = tally.Snapshot()
	res.ProcessingTime = time.Since(start).Seconds()

	if err != nil {
		res.Fail(err)
		logger.WithField("error", err.Error()).Error("credentialing failed")
		session.LogStep("error", map[string]any{"error": err.Error()}, "")
		_ = s.audit.Event(ctx, audit.Event{
			Type:       audit.EventFailed,
			SessionID:  session.ID,
			ProviderID: providerID,
			Data:       map[string]any{"error": err.Error()},
		})
	} else {
		s.report(ctx, r)
		logger.WithFields(log.Fields{
			"status": res.Status,
			"score":  res.Score,
		}).Info("credentialing completed")
		_ = s.audit.Event(ctx, audit.Event{
			Type:       audit.EventCompleted,
			SessionID:  session.ID,
			ProviderID: providerID,
			Data: map[string]any{
				"compliance_status": res.Status,
				"score":             res.Score,
				"processing_time":   res.ProcessingTime,
			},
		})
	}

	session.Finish(res)
	_ = s.audit.SaveSession(ctx, session)
	if err := s.results.Put(ctx, res); err != nil {
		logger.WithField("error", err.Error()).Warn("storing result failed")
	}
	return res
}

func (s *Service) runSafely(ctx context.Context, r *run) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("credentialing aborted: %v", p)
		}
	}()
	return s.run(ctx, r)
}

// CredentialMany credentials several providers concurrently, bounded by the
// configured concurrency. Results are returned in the order of ids.
func (s *Service) CredentialMany(ctx context.Context, ids []string) []*result.CredentialingResult {
	m := iter.Mapper[string, *result.CredentialingResult]{MaxGoroutines: s.concurrency}
	return m.Map(ids, func(id *string) *result.CredentialingResult {
		return s.Credential(ctx, *id)
	})
}

// Result returns the latest stored result for providerID.
func (s *Service) Result(ctx context.Context, providerID string) (*result.CredentialingResult, error) {
	return s.results.Get(ctx, providerID)
}

// Results returns every stored result.
func (s *Service) Results(ctx context.Context) ([]*result.CredentialingResult, error) {
	return s.results.List(ctx)
}

// CompliantProviders returns the ids whose latest result is COMPLIANT.
func (s *Service) CompliantProviders(ctx context.Context) ([]string, error) {
	all, err := s.results.List(ctx)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, r := range all {
		if r.Status == result.Compliant {
			ids = append(ids, r.ProviderID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Stats summarizes every stored result.
func (s *Service) Stats(ctx context.Context) (result.Stats, error) {
	all, err := s.results.List(ctx)
	if err != nil {
		return result.Stats{}, err
	}
	return result.ComputeStats(all), nil
}

// UsageStats returns LLM usage summed over every run since the service
// was built.
func (s *Service) UsageStats() llm.Totals {
	return s.usage.Snapshot()
}

// ErrNoRegulations is returned when the service has no rule book.
var ErrNoRegulations = errors.New("no regulations loaded")
