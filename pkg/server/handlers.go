package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	log "github.com/sirupsen/logrus"

	"github.com/jdgilhuly/go_credential_agent/pkg/audit"
	"github.com/jdgilhuly/go_credential_agent/pkg/provider"
	"github.com/jdgilhuly/go_credential_agent/pkg/result"
	"github.com/jdgilhuly/go_credential_agent/pkg/store"
)

// MaxBatch bounds how many providers one batch request may name.
const MaxBatch = 100

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "credentialing-service",
		"version": Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// credential handles POST /credential/:id. Unknown providers are a 404; any
// other failure still returns the FAILED result.
func (s *Server) credential(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.providers.Get(id); err != nil {
		apiError(c, http.StatusNotFound, "not_found", fmt.Sprintf("Provider %s not found", id))
		return
	}

	res := s.svc.Credential(c.Request.Context(), id)
	c.JSON(http.StatusOK, gin.H{
		"success":     res.Status != result.Failed,
		"provider_id": id,
		"result":      res,
	})
}

type batchRequest struct {
	ProviderIDs []string `json:"provider_ids" binding:"required,min=1,dive,required"`
}

// batchCredential handles POST /batch-credential. The body is either
// {"provider_ids": [...]} or a bare JSON array of ids.
func (s *Server) batchCredential(c *gin.Context) {
	ids, err := bindBatch(c)
	if err != nil {
		apiError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if len(ids) > MaxBatch {
		apiError(c, http.StatusBadRequest, "invalid_request",
			fmt.Sprintf("at most %d providers per batch, got %d", MaxBatch, len(ids)))
		return
	}

	results := s.svc.CredentialMany(c.Request.Context(), ids)
	out := make(map[string]gin.H, len(results))
	for _, r := range results {
		entry := gin.H{"success": r.Status != result.Failed, "result": r}
		if len(r.Errors) > 0 {
			entry["error"] = r.Errors[0]
		}
		out[r.ProviderID] = entry
	}
	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"batch_results":   out,
		"total_processed": len(ids),
	})
}

func bindBatch(c *gin.Context) ([]string, error) {
	body, err := c.GetRawData()
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	var ids []string
	if err := binding.JSON.BindBody(body, &ids); err == nil {
		if len(ids) == 0 {
			return nil, errors.New("no provider ids given")
		}
		for _, id := range ids {
			if id == "" {
				return nil, errors.New("empty provider id")
			}
		}
		return ids, checkUnique(ids)
	}
	var req batchRequest
	if err := binding.JSON.BindBody(body, &req); err != nil {
		return nil, fmt.Errorf("invalid body: %w", err)
	}
	return req.ProviderIDs, checkUnique(req.ProviderIDs)
}

// checkUnique rejects a batch naming the same provider twice.
func checkUnique(ids []string) error {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return fmt.Errorf("duplicate provider id %q", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// listProviders handles GET /providers with optional specialty,
// min_experience and location filters.
func (s *Server) listProviders(c *gin.Context) {
	var list []*provider.Provider
	criteria := gin.H{}
	switch {
	case c.Query("specialty") != "":
		criteria["specialty"] = c.Query("specialty")
		list = s.providers.BySpecialty(c.Query("specialty"))
	case c.Query("min_experience") != "":
		years, err := strconv.Atoi(c.Query("min_experience"))
		if err != nil || years < 0 {
			apiError(c, http.StatusBadRequest, "invalid_request", "min_experience must be a non-negative integer")
			return
		}
		criteria["min_experience"] = years
		list = s.providers.ByMinExperience(years)
	case c.Query("location") != "":
		criteria["location"] = c.Query("location")
		list = s.providers.ByLocation(c.Query("location"))
	default:
		list = s.providers.List()
	}

	summaries := make([]provider.Summary, len(list))
	for i, p := range list {
		summaries[i] = p.Summarize()
	}
	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"providers":       summaries,
		"count":           len(summaries),
		"search_criteria": criteria,
	})
}

func (s *Server) getProvider(c *gin.Context) {
	p, err := s.providers.Get(c.Param("id"))
	if err != nil {
		apiError(c, http.StatusNotFound, "not_found", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "provider": p.Data()})
}

func (s *Server) regulations(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "regulations": s.svc.Regulations()})
}

func (s *Server) listResults(c *gin.Context) {
	all, err := s.svc.Results(c.Request.Context())
	if err != nil {
		s.internal(c, err)
		return
	}
	out := make(map[string]*result.CredentialingResult, len(all))
	for _, r := range all {
		out[r.ProviderID] = r
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "results": out, "count": len(out)})
}

func (s *Server) getResult(c *gin.Context) {
	id := c.Param("id")
	r, err := s.svc.Result(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		apiError(c, http.StatusNotFound, "not_found",
			fmt.Sprintf("No credentialing result found for provider %s", id))
		return
	}
	if err != nil {
		s.internal(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": r})
}

type compliantProvider struct {
	provider.Summary
	Score int `json:"score"`
}

func (s *Server) compliantProviders(c *gin.Context) {
	ctx := c.Request.Context()
	ids, err := s.svc.CompliantProviders(ctx)
	if err != nil {
		s.internal(c, err)
		return
	}
	out := []compliantProvider{}
	for _, id := range ids {
		p, err := s.providers.Get(id)
		if err != nil {
			continue
		}
		cp := compliantProvider{Summary: p.Summarize()}
		if r, err := s.svc.Result(ctx, id); err == nil {
			cp.Score = r.Score
		}
		out = append(out, cp)
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "compliant_providers": out, "count": len(out)})
}

func (s *Server) llmUsage(c *gin.Context) {
	body := gin.H{"success": true, "llm_usage": s.svc.UsageStats()}
	if s.usage != nil {
		ctx := c.Request.Context()
		total, err := s.usage.UsageTotals(ctx, time.Time{})
		if err != nil {
			s.internal(c, err)
			return
		}
		byModel, err := s.usage.UsageByModel(ctx)
		if err != nil {
			s.internal(c, err)
			return
		}
		body["persisted"] = gin.H{"total": total, "by_model": byModel}
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) credentialingStats(c *gin.Context) {
	all, err := s.svc.Results(c.Request.Context())
	if err != nil {
		s.internal(c, err)
		return
	}
	dist := map[int]int{1: 0, 2: 0, 3: 0, 4: 0, 5: 0}
	for _, r := range all {
		if r.Status != result.Failed {
			dist[r.Score]++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"success":            true,
		"stats":              result.ComputeStats(all),
		"score_distribution": dist,
	})
}

func (s *Server) auditTrail(c *gin.Context) {
	limit, err := queryLimit(c)
	if err != nil {
		apiError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	q := audit.Query{
		Type:       c.Query("event_type"),
		ProviderID: c.Query("provider_id"),
		SessionID:  c.Query("session_id"),
		Limit:      limit,
	}
	events, err := s.audit.Events(c.Request.Context(), q)
	if err != nil {
		s.internal(c, err)
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"audit_events": events,
		"count":        len(events),
		"event_type":   q.Type,
		"limit":        limit,
	})
}

func (s *Server) listSessions(c *gin.Context) {
	if s.sessions == nil {
		apiError(c, http.StatusNotImplemented, "unavailable", "session listing requires the SQLite audit store")
		return
	}
	limit, err := queryLimit(c)
	if err != nil {
		apiError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	list, err := s.sessions.Sessions(c.Request.Context(), c.Query("provider_id"), limit)
	if err != nil {
		s.internal(c, err)
		return
	}
	if list == nil {
		list = []audit.SessionSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "sessions": list, "count": len(list)})
}

func (s *Server) getSession(c *gin.Context) {
	id := c.Param("id")
	sess, err := s.audit.Session(c.Request.Context(), id)
	if errors.Is(err, audit.ErrNotFound) {
		apiError(c, http.StatusNotFound, "not_found", fmt.Sprintf("Session %s not found", id))
		return
	}
	if err != nil {
		s.internal(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session_log": sess})
}

func queryLimit(c *gin.Context) (int, error) {
	raw := c.DefaultQuery("limit", "100")
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("limit must be a positive integer, got %q", raw)
	}
	return n, nil
}

func (s *Server) internal(c *gin.Context, err error) {
	s.log.WithFields(log.Fields{
		"request_id": c.GetString("request_id"),
		"error":      err.Error(),
	}).Error("request failed")
	apiError(c, http.StatusInternalServerError, "internal_error", err.Error())
}
