// Package server exposes the credentialing service over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/jdgilhuly/go_credential_agent/pkg/audit"
	"github.com/jdgilhuly/go_credential_agent/pkg/credential"
	"github.com/jdgilhuly/go_credential_agent/pkg/llm"
	"github.com/jdgilhuly/go_credential_agent/pkg/provider"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Directory is the provider lookup surface the API needs. *provider.Store
// implements it.
type Directory interface {
	Get(id string) (*provider.Provider, error)
	List() []*provider.Provider
	BySpecialty(specialty string) []*provider.Provider
	ByMinExperience(years int) []*provider.Provider
	ByLocation(location string) []*provider.Provider
}

// UsageHistory reports persisted LLM usage. *store.SQLite implements it.
type UsageHistory interface {
	UsageTotals(ctx context.Context, since time.Time) (llm.Totals, error)
	UsageByModel(ctx context.Context) (map[string]llm.Totals, error)
}

// SessionIndex lists stored audit sessions. *audit.SQLiteSink implements it.
type SessionIndex interface {
	Sessions(ctx context.Context, providerID string, limit int) ([]audit.SessionSummary, error)
}

// Option configures a Server.
type Option func(*Server)

// WithAudit enables the audit log endpoints.
func WithAudit(l *audit.Logger) Option {
	return func(s *Server) { s.audit = l }
}

// WithUsageHistory adds persisted usage to the usage stats endpoint.
func WithUsageHistory(u UsageHistory) Option {
	return func(s *Server) { s.usage = u }
}

// WithSessionIndex enables session listing.
func WithSessionIndex(i SessionIndex) Option {
	return func(s *Server) { s.sessions = i }
}

// WithLogger sets the request logger.
func WithLogger(l log.FieldLogger) Option {
	return func(s *Server) { s.log = l }
}

// Server routes HTTP requests to the credentialing service.
type Server struct {
	svc       *credential.Service
	providers Directory
	audit     *audit.Logger
	usage     UsageHistory
	sessions  SessionIndex
	log       log.FieldLogger
	router    *gin.Engine
}

// New builds a Server and its routes.
func New(svc *credential.Service, providers Directory, opts ...Option) *Server {
	s := &Server{
		svc:       svc,
		providers: providers,
		log:       log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestIDMiddleware(), LoggingMiddleware(s.log))

	r.GET("/health", s.health)

	r.POST("/credential/:id", s.credential)
	r.POST("/batch-credential", s.batchCredential)

	r.GET("/providers", s.listProviders)
	r.GET("/providers/:id", s.getProvider)
	r.GET("/regulations", s.regulations)

	r.GET("/results", s.listResults)
	r.GET("/results/:id", s.getResult)
	r.GET("/compliant-providers", s.compliantProviders)

	r.GET("/stats/llm-usage", s.llmUsage)
	r.GET("/stats/credentialing", s.credentialingStats)

	r.GET("/logs/audit-trail", s.auditTrail)
	r.GET("/logs/sessions", s.listSessions)
	r.GET("/logs/sessions/:id", s.getSession)
	return r
}

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("credentialing API listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.log.Info("shutting down credentialing API")
	return srv.Shutdown(shutdownCtx)
}

// apiError writes the uniform error body.
func apiError(c *gin.Context, status int, kind, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"type":    kind,
			"message": message,
		},
	})
}
