package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/jdgilhuly/go_credential_agent/pkg/audit"
	"github.com/jdgilhuly/go_credential_agent/pkg/credential"
	"github.com/jdgilhuly/go_credential_agent/pkg/llm"
	"github.com/jdgilhuly/go_credential_agent/pkg/llm/llmtest"
	"github.com/jdgilhuly/go_credential_agent/pkg/provider"
	"github.com/jdgilhuly/go_credential_agent/pkg/regulation"
	"github.com/jdgilhuly/go_credential_agent/pkg/store"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fixture struct {
	srv    *Server
	audit  *audit.Logger
	sqlite *store.SQLite
	sink   *audit.SQLiteSink
}

// newFixture wires a service whose LLM is down, so every verdict comes from
// the deterministic rules: DR001 and DR003 are compliant, DR002 is not.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	results, err := store.Open(filepath.Join(dir, "store.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = results.Close() })
	sink, err := audit.OpenSQLite(filepath.Join(dir, "audit.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = sink.Close() })
	logger := audit.NewLogger(sink)

	providers := provider.Sample()
	gen := llm.FromAdapter(llmtest.Failing("gpt-4o-mini", errors.New("down")))
	svc := credential.New(providers, regulation.Default(), gen,
		credential.WithResults(results),
		credential.WithAudit(logger),
		credential.WithLedger(results),
	)
	srv := New(svc, providers,
		WithAudit(logger),
		WithUsageHistory(results),
		WithSessionIndex(sink),
	)
	return &fixture{srv: srv, audit: logger, sqlite: results, sink: sink}
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)

	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("%s %s: response is not JSON: %s", method, path, rec.Body.String())
	}
	return rec.Code, out
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Header().Get(RequestIDHeader), "req_") {
		t.Errorf("request id header = %q", rec.Header().Get(RequestIDHeader))
	}
	if !strings.Contains(rec.Body.String(), `"healthy"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestRequestID_Propagated(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req_client01")
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got != "req_client01" {
		t.Errorf("request id = %q, want the client's", got)
	}
}

func TestCredential(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodPost, "/credential/DR001", "")
	if code != http.StatusOK || body["success"] != true {
		t.Fatalf("POST /credential/DR001 = %d %v", code, body)
	}
	res := body["result"].(map[string]any)
	if res["compliance_status"] != "COMPLIANT" || res["score"] != float64(5) {
		t.Errorf("result = %v", res)
	}

	code, body = f.do(t, http.MethodPost, "/credential/NOPE", "")
	if code != http.StatusNotFound {
		t.Errorf("POST /credential/NOPE = %d, want 404", code)
	}
	if body["success"] != false {
		t.Errorf("body = %v", body)
	}

	code, body = f.do(t, http.MethodGet, "/results/DR001", "")
	if code != http.StatusOK || body["result"].(map[string]any)["provider_id"] != "DR001" {
		t.Errorf("GET /results/DR001 = %d %v", code, body)
	}
	code, _ = f.do(t, http.MethodGet, "/results/DR003", "")
	if code != http.StatusNotFound {
		t.Errorf("GET /results/DR003 = %d, want 404 before credentialing", code)
	}
}

func TestBatchCredential(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"bare array", `["DR001", "DR002", "NOPE"]`, http.StatusOK},
		{"object", `{"provider_ids": ["DR001", "DR002", "NOPE"]}`, http.StatusOK},
		{"empty array", `[]`, http.StatusBadRequest},
		{"empty object", `{"provider_ids": []}`, http.StatusBadRequest},
		{"blank id", `["DR001", ""]`, http.StatusBadRequest},
		{"duplicate id", `["DR001", "DR002", "DR001"]`, http.StatusBadRequest},
		{"duplicate id in object", `{"provider_ids": ["DR002", "DR002"]}`, http.StatusBadRequest},
		{"not json", `DR001`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			code, body := f.do(t, http.MethodPost, "/batch-credential", tt.body)
			if code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%v)", code, tt.wantCode, body)
			}
			if code != http.StatusOK {
				return
			}
			results := body["batch_results"].(map[string]any)
			if len(results) != 3 || body["total_processed"] != float64(3) {
				t.Fatalf("batch_results = %v", results)
			}
			if results["DR002"].(map[string]any)["success"] != true {
				t.Errorf("DR002 = %v", results["DR002"])
			}
			nope := results["NOPE"].(map[string]any)
			if nope["success"] != false || !strings.Contains(nope["error"].(string), "not found") {
				t.Errorf("NOPE = %v", nope)
			}
		})
	}
}

func TestBatchCredential_TooMany(t *testing.T) {
	f := newFixture(t)
	ids := make([]string, MaxBatch+1)
	for i := range ids {
		ids[i] = fmt.Sprintf("DR%03d", i)
	}
	raw, _ := json.Marshal(ids)
	code, _ := f.do(t, http.MethodPost, "/batch-credential", string(raw))
	if code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}
}

func TestProviders(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		path      string
		wantCode  int
		wantCount float64
	}{
		{"/providers", http.StatusOK, 3},
		{"/providers?min_experience=8", http.StatusOK, 2},
		{"/providers?min_experience=100", http.StatusOK, 0},
		{"/providers?min_experience=lots", http.StatusBadRequest, 0},
		{"/providers?specialty=General%20Surgery", http.StatusOK, 1},
		{"/providers?location=nowhere", http.StatusOK, 0},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			code, body := f.do(t, http.MethodGet, tt.path, "")
			if code != tt.wantCode {
				t.Fatalf("status = %d, want %d", code, tt.wantCode)
			}
			if code == http.StatusOK && body["count"] != tt.wantCount {
				t.Errorf("count = %v, want %v", body["count"], tt.wantCount)
			}
		})
	}

	code, body := f.do(t, http.MethodGet, "/providers/DR002", "")
	if code != http.StatusOK {
		t.Fatalf("GET /providers/DR002 = %d", code)
	}
	p := body["provider"].(map[string]any)
	if p["PLIs"].(map[string]any)["malpractice_insurance"] != "Expired" {
		t.Errorf("provider = %v", p)
	}
	if code, _ := f.do(t, http.MethodGet, "/providers/NOPE", ""); code != http.StatusNotFound {
		t.Errorf("GET /providers/NOPE = %d, want 404", code)
	}
}

func TestRegulations(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, http.MethodGet, "/regulations", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	regs := body["regulations"].(map[string]any)
	if len(regs["hard_regulations"].([]any)) != 5 || len(regs["soft_regulations"].([]any)) != 3 {
		t.Errorf("regulations = %v", regs)
	}
}

func TestResultsAndStats(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/batch-credential", `["DR001", "DR002", "DR003", "NOPE"]`)

	code, body := f.do(t, http.MethodGet, "/results", "")
	if code != http.StatusOK || body["count"] != float64(4) {
		t.Errorf("GET /results = %d %v", code, body["count"])
	}

	code, body = f.do(t, http.MethodGet, "/compliant-providers", "")
	if code != http.StatusOK || body["count"] != float64(2) {
		t.Fatalf("GET /compliant-providers = %d %v", code, body)
	}
	first := body["compliant_providers"].([]any)[0].(map[string]any)
	if first["provider_id"] != "DR001" || first["score"] != float64(5) {
		t.Errorf("first compliant provider = %v", first)
	}

	code, body = f.do(t, http.MethodGet, "/stats/credentialing", "")
	if code != http.StatusOK {
		t.Fatalf("GET /stats/credentialing = %d", code)
	}
	stats := body["stats"].(map[string]any)
	if stats["total_providers"] != float64(4) || stats["compliant"] != float64(2) || stats["failed"] != float64(1) {
		t.Errorf("stats = %v", stats)
	}
	dist := body["score_distribution"].(map[string]any)
	if dist["5"] != float64(1) || dist["3"] != float64(2) {
		t.Errorf("score_distribution = %v", dist)
	}

	code, body = f.do(t, http.MethodGet, "/stats/llm-usage", "")
	if code != http.StatusOK || body["llm_usage"] == nil || body["persisted"] == nil {
		t.Errorf("GET /stats/llm-usage = %d %v", code, body)
	}
}

func TestLogs(t *testing.T) {
	f := newFixture(t)
	_, body := f.do(t, http.MethodPost, "/credential/DR002", "")
	sessionID := body["result"].(map[string]any)["session_id"].(string)

	code, body := f.do(t, http.MethodGet, "/logs/audit-trail?provider_id=DR002", "")
	if code != http.StatusOK || body["count"] != float64(2) {
		t.Errorf("GET /logs/audit-trail = %d %v", code, body)
	}
	code, body = f.do(t, http.MethodGet, "/logs/audit-trail?event_type=credentialing_completed&limit=1", "")
	if code != http.StatusOK || body["count"] != float64(1) {
		t.Errorf("filtered audit trail = %d %v", code, body)
	}
	if code, _ := f.do(t, http.MethodGet, "/logs/audit-trail?limit=0", ""); code != http.StatusBadRequest {
		t.Errorf("limit=0 status = %d, want 400", code)
	}

	code, body = f.do(t, http.MethodGet, "/logs/sessions/"+sessionID, "")
	if code != http.StatusOK {
		t.Fatalf("GET /logs/sessions/:id = %d", code)
	}
	if body["session_log"].(map[string]any)["provider_id"] != "DR002" {
		t.Errorf("session_log = %v", body["session_log"])
	}
	if code, _ := f.do(t, http.MethodGet, "/logs/sessions/unknown", ""); code != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", code)
	}

	code, body = f.do(t, http.MethodGet, "/logs/sessions?provider_id=DR002", "")
	if code != http.StatusOK || body["count"] != float64(1) {
		t.Errorf("GET /logs/sessions = %d %v", code, body)
	}
}

func TestLogs_NoSessionIndex(t *testing.T) {
	svc := credential.New(provider.Sample(), regulation.Default(),
		llm.FromAdapter(llmtest.Failing("gpt-4o-mini", errors.New("down"))))
	srv := New(svc, provider.Sample())

	req := httptest.NewRequest(http.MethodGet, "/logs/sessions", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/logs/audit-trail", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"count":0`) {
		t.Errorf("audit trail without sinks = %d %s", rec.Code, rec.Body.String())
	}
}

func TestRun_Shutdown(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.srv.Run(ctx, "127.0.0.1:0") }()
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() = %v, want clean shutdown", err)
	}
}
