package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/jdgilhuly/go_credential_agent/pkg/config"
	"github.com/jdgilhuly/go_credential_agent/pkg/llm"
	"github.com/jdgilhuly/go_credential_agent/pkg/llm/llmtest"
	"github.com/jdgilhuly/go_credential_agent/pkg/result"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	}()
	err := executeContext(context.Background(), args...)
	return buf.String(), err
}

func quietLogger() *log.Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

func TestInit(t *testing.T) {
	dir := t.TempDir()

	out, err := runCLI(t, "init", "--dir", dir)
	if err != nil {
		t.Fatalf("init: %v\n%s", err, out)
	}
	for _, p := range []string{
		"credential.yaml",
		filepath.Join("data", "providers.yaml"),
		filepath.Join("data", "regulations.yaml"),
		"logs",
		"reports",
	} {
		if _, err := os.Stat(filepath.Join(dir, p)); err != nil {
			t.Errorf("expected %s: %v", p, err)
		}
	}

	out, err = runCLI(t, "init", "--dir", dir)
	if err != nil {
		t.Fatalf("second init: %v", err)
	}
	if strings.Count(out, "skipped") != 3 {
		t.Errorf("second init should skip all 3 files:\n%s", out)
	}
}

func TestValidate_AfterInit(t *testing.T) {
	t.Chdir(t.TempDir())
	if _, err := runCLI(t, "init", "--dir", "."); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "validate", "--config", "credential.yaml")
	if err != nil {
		t.Fatalf("validate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "3 providers, 5 hard and 3 soft regulations") {
		t.Errorf("unexpected validate output: %s", out)
	}
}

func TestList(t *testing.T) {
	tests := []struct {
		what string
		want []string
	}{
		{"providers", []string{"DR001", "DR002", "DR003"}},
		{"regulations", []string{"HR001", "SR003", "(weight 0.40)"}},
		{"prompts", []string{"hard_check", "soft_score", "data_mapping", "verification"}},
	}
	for _, tt := range tests {
		t.Run(tt.what, func(t *testing.T) {
			out, err := runCLI(t, "list", tt.what, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
			if err != nil {
				t.Fatalf("list %s: %v", tt.what, err)
			}
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("list %s output missing %q:\n%s", tt.what, w, out)
				}
			}
		})
	}
}

func TestNewApp(t *testing.T) {
	t.Chdir(t.TempDir())
	if _, err := runCLI(t, "init", "--dir", "."); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load("credential.yaml")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Audit.DBPath = filepath.Join("data", "audit.db")

	ctx := context.Background()
	gen := llm.FromAdapter(llmtest.Failing("gpt-4.1", errors.New("backend down")))
	a, err := newApp(ctx, cfg, quietLogger(), gen)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	res := a.svc.Credential(ctx, "DR001")
	if res.Status != result.Compliant || res.Score != 5 {
		t.Fatalf("DR001 = %s/%d, want COMPLIANT/5 from rule fallbacks", res.Status, res.Score)
	}

	stored, err := a.db.Get(ctx, "DR001")
	if err != nil {
		t.Fatalf("result not persisted: %v", err)
	}
	if stored.SessionID != res.SessionID {
		t.Errorf("stored session %q, want %q", stored.SessionID, res.SessionID)
	}

	reports, err := filepath.Glob(filepath.Join("reports", "credentialing_report_DR001_*.json"))
	if err != nil || len(reports) != 1 {
		t.Errorf("expected one report file, got %v (%v)", reports, err)
	}

	sessions, err := a.auditDB.Sessions(ctx, "DR001", 10)
	if err != nil || len(sessions) != 1 {
		t.Errorf("expected one audit session, got %v (%v)", sessions, err)
	}

	srv := httptest.NewServer(a.server().Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/results/DR001")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /results/DR001 = %d, want 200", resp.StatusCode)
	}
}

func TestNewApp_BadData(t *testing.T) {
	cfg := config.Default()
	cfg.Data.ProvidersFile = filepath.Join(t.TempDir(), "nope.yaml")
	if _, err := newApp(context.Background(), cfg, quietLogger(), nil); err == nil {
		t.Fatal("expected error for missing providers file")
	}
}

func TestRun_LLMRejectsEveryCall(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"bad request"}}`))
	}))
	defer backend.Close()

	dir := t.TempDir()
	t.Chdir(dir)
	cfgYAML := "llm:\n  model: gpt-4.1\n  base_url: " + backend.URL + "\n  max_retries: 0\nlog_level: error\n"
	if err := os.WriteFile("credential.yaml", []byte(cfgYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "run", "DR001", "DR002", "--config", "credential.yaml", "--no-color", "--output", "out")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	for _, want := range []string{"DR001", "DR002", "NON_COMPLIANT", "1 compliant"} {
		if !strings.Contains(out, want) {
			t.Errorf("run output missing %q:\n%s", want, out)
		}
	}
	saved, _ := filepath.Glob(filepath.Join("out", "*.json"))
	if len(saved) != 2 {
		t.Errorf("saved %d result files, want 2", len(saved))
	}

	out, err = runCLI(t, "diff", "out", "out", "--format", "table")
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if !strings.Contains(out, "0 improved  0 regressed  2 unchanged") {
		t.Errorf("diff output:\n%s", out)
	}

	out, err = runCLI(t, "results", "DR002", "--config", "credential.yaml", "--no-color")
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if !strings.Contains(out, "Provider: DR002 [NON_COMPLIANT]") {
		t.Errorf("results output:\n%s", out)
	}

	rootCmd.SetIn(strings.NewReader("deny insurance lapsed\n"))
	out, err = runCLI(t, "review", "--config", "credential.yaml", "--filter", "fail")
	rootCmd.SetIn(nil)
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if !strings.Contains(out, "1 decision(s) recorded.") {
		t.Errorf("review output:\n%s", out)
	}

	out, err = runCLI(t, "usage", "--config", "credential.yaml")
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if !strings.Contains(out, "total:") {
		t.Errorf("usage output:\n%s", out)
	}
}

func TestRun_NoProviders(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := runCLI(t, "run", "--config", "credential.yaml")
	if err == nil || !strings.Contains(err.Error(), "no providers given") {
		t.Fatalf("err = %v, want no providers given", err)
	}
}
