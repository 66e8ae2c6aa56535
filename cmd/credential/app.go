package main

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/jdgilhuly/go_credential_agent/pkg/audit"
	"github.com/jdgilhuly/go_credential_agent/pkg/config"
	"github.com/jdgilhuly/go_credential_agent/pkg/credential"
	"github.com/jdgilhuly/go_credential_agent/pkg/llm"
	"github.com/jdgilhuly/go_credential_agent/pkg/prompt"
	"github.com/jdgilhuly/go_credential_agent/pkg/provider"
	"github.com/jdgilhuly/go_credential_agent/pkg/regulation"
	"github.com/jdgilhuly/go_credential_agent/pkg/report"
	"github.com/jdgilhuly/go_credential_agent/pkg/server"
	"github.com/jdgilhuly/go_credential_agent/pkg/store"
	"github.com/jdgilhuly/go_credential_agent/pkg/verify"
)

// app holds everything built from one config.
type app struct {
	cfg       *config.Config
	log       *log.Logger
	providers *provider.Store
	regs      *regulation.Set
	prompts   *prompt.Library
	db        *store.SQLite
	auditDB   *audit.SQLiteSink
	audit     *audit.Logger
	svc       *credential.Service

	closers []func() error
}

// loadData reads providers, regulations and prompts. Empty paths fall back
// to the built-in data.
func loadData(cfg *config.Config) (*provider.Store, *regulation.Set, *prompt.Library, error) {
	providers := provider.Sample()
	if cfg.Data.ProvidersFile != "" {
		p, err := provider.Load(cfg.Data.ProvidersFile)
		if err != nil {
			return nil, nil, nil, err
		}
		providers = p
	}

	regs := regulation.Default()
	if cfg.Data.RegulationsFile != "" {
		r, err := regulation.Load(cfg.Data.RegulationsFile)
		if err != nil {
			return nil, nil, nil, err
		}
		regs = r
	}

	prompts := prompt.Defaults()
	if cfg.Data.PromptsDir != "" {
		l, err := prompt.LoadDir(cfg.Data.PromptsDir)
		if err != nil {
			return nil, nil, nil, err
		}
		prompts = l
	}
	return providers, regs, prompts, nil
}

// newApp wires the service. gen overrides the configured LLM backend when
// non-nil.
func newApp(ctx context.Context, cfg *config.Config, logger *log.Logger, gen credential.Generator) (_ *app, err error) {
	a := &app{cfg: cfg, log: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.providers, a.regs, a.prompts, err = loadData(cfg)
	if err != nil {
		return nil, err
	}

	if gen == nil {
		opts, err := cfg.ProviderOptions()
		if err != nil {
			return nil, err
		}
		p, err := llm.NewProvider(ctx, cfg.LLM.Model, opts...)
		if err != nil {
			return nil, err
		}
		gen = p
	}

	if err := a.openAudit(); err != nil {
		return nil, err
	}

	var verifier verify.Verifier = verify.Static{}
	if cfg.Verify.URL != "" {
		key, err := cfg.ResolveVerifyKey()
		if err != nil {
			return nil, err
		}
		verifier = verify.NewHTTP(cfg.Verify.URL, verify.WithAPIKey(key))
	}

	opts := []credential.Option{
		credential.WithPrompts(a.prompts),
		credential.WithVerifier(verifier),
		credential.WithAudit(a.audit),
		credential.WithReporter(report.JSONWriter{Dir: cfg.ReportsDir}),
		credential.WithConcurrency(cfg.BatchConcurrency),
		credential.WithLogger(logger),
	}
	if cfg.Storage.DBPath != "" {
		a.db, err = store.Open(cfg.Storage.DBPath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.db.Close)
		opts = append(opts, credential.WithResults(a.db), credential.WithLedger(a.db))
	}

	a.svc = credential.New(a.providers, a.regs, gen, opts...)
	logger.WithFields(log.Fields{
		"model":       gen.Model(),
		"providers":   a.providers.Len(),
		"regulations": len(a.regs.All()),
	}).Debug("credentialing service ready")
	return a, nil
}

// openAudit sets up the file trail and, when configured, the SQLite audit
// database.
func (a *app) openAudit() error {
	fileSink, err := audit.NewFileSink(a.cfg.Audit.LogsDir)
	if err != nil {
		return err
	}
	sinks := []audit.Sink{fileSink}
	if a.cfg.Audit.DBPath != "" {
		a.auditDB, err = audit.OpenSQLite(a.cfg.Audit.DBPath)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, a.auditDB.Close)
		// the database answers queries ahead of the file trail
		sinks = []audit.Sink{a.auditDB, fileSink}
	}
	a.audit = audit.NewLogger(sinks...)
	return nil
}

// server builds the HTTP API over the app.
func (a *app) server() *server.Server {
	opts := []server.Option{
		server.WithAudit(a.audit),
		server.WithLogger(a.log),
	}
	if a.db != nil {
		opts = append(opts, server.WithUsageHistory(a.db))
	}
	if a.auditDB != nil {
		opts = append(opts, server.WithSessionIndex(a.auditDB))
	}
	return server.New(a.svc, a.providers, opts...)
}

// Close releases the databases.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("closing: %w", err)
	}
	return nil
}

// setupLogging applies the configured level and format to the process-wide
// logger and returns it.
func setupLogging(cfg *config.Config) (*log.Logger, error) {
	l, err := cfg.Logger()
	if err != nil {
		return nil, err
	}
	std := log.StandardLogger()
	std.SetLevel(l.GetLevel())
	std.SetFormatter(l.Formatter)
	return std, nil
}
