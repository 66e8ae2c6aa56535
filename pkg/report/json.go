package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jdgilhuly/go_credential_agent/pkg/audit"
	"github.com/jdgilhuly/go_credential_agent/pkg/result"
)

// Document is the comprehensive report written after a successful run.
type Document struct {
	GeneratedAt  time.Time                   `json:"report_generated"`
	ProviderID   string                      `json:"provider_id"`
	SessionID    string                      `json:"session_id"`
	Result       *result.CredentialingResult `json:"credentialing_result"`
	FailedChecks []result.HardCheck          `json:"failed_checks"`
	Audit        AuditSummary                `json:"audit_summary"`
}

// AuditSummary condenses the session trace.
type AuditSummary struct {
	Steps            []string         `json:"steps"`
	LLMInteractions  int              `json:"llm_interactions"`
	RegulationChecks int              `json:"regulation_checks"`
	Decisions        []audit.Decision `json:"decisions"`
}

// JSONWriter writes one report file per run into Dir.
type JSONWriter struct {
	Dir string
	// Now is used for file names; defaults to time.Now.
	Now func() time.Time
}

// Path returns where a report for providerID generated at ts is written.
func (j JSONWriter) Path(providerID string, ts time.Time) string {
	name := fmt.Sprintf("credentialing_report_%s_%s.json", providerID, ts.UTC().Format("20060102_150405"))
	return filepath.Join(j.Dir, name)
}

// Write builds the report document for r and s and writes it.
func (j JSONWriter) Write(r *result.CredentialingResult, s *audit.Session) (string, error) {
	if r == nil {
		return "", fmt.Errorf("no result to report")
	}
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	ts := now()

	doc := Document{
		GeneratedAt:  ts.UTC(),
		ProviderID:   r.ProviderID,
		SessionID:    r.SessionID,
		Result:       r,
		FailedChecks: r.FailedChecks(),
	}
	if doc.FailedChecks == nil {
		doc.FailedChecks = []result.HardCheck{}
	}
	if s != nil {
		doc.Audit = AuditSummary{
			Steps:            s.StepNames(),
			LLMInteractions:  len(s.GetInteractions()),
			RegulationChecks: s.CheckCount(),
			Decisions:        s.GetDecisions(),
		}
	}

	if err := os.MkdirAll(j.Dir, 0o755); err != nil {
		return "", fmt.Errorf("creating reports directory %s: %w", j.Dir, err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling report: %w", err)
	}
	path := j.Path(r.ProviderID, ts)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing report to %s: %w", path, err)
	}
	return path, nil
}
