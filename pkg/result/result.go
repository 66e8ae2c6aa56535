package result

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jdgilhuly/go_credential_agent/pkg/llm"
)

// Status is the compliance outcome of one credentialing run.
type Status string

const (
	Compliant    Status = "COMPLIANT"
	NonCompliant Status = "NON_COMPLIANT"
	Pending      Status = "PENDING"
	Failed       Status = "FAILED"
)

// Source tells which evaluator produced a regulation verdict.
type Source string

const (
	FromLLM   Source = "llm"
	FromRules Source = "rules"
)

// MaxScore is the top of the soft regulation scale.
const MaxScore = 5

// HardCheck is the pass/fail verdict for one hard regulation.
type HardCheck struct {
	RegulationID   string `json:"regulation_id"`
	RegulationName string `json:"regulation_name"`
	Passed         bool   `json:"passed"`
	Details        string `json:"details"`
	FailureReason  string `json:"failure_reason,omitempty"`
	Source         Source `json:"source"`
}

// SoftScore is the 1-5 score for one soft regulation.
type SoftScore struct {
	RegulationID   string  `json:"regulation_id"`
	RegulationName string  `json:"regulation_name"`
	Score          int     `json:"score"`
	MaxScore       int     `json:"max_score"`
	Weight         float64 `json:"weight"`
	WeightedScore  float64 `json:"weighted_score"`
	Details        string  `json:"details"`
	Source         Source  `json:"source"`
}

// CredentialingResult is the outcome of one credentialing run for one
// provider. A later run for the same provider supersedes it.
type CredentialingResult struct {
	ProviderID      string          `json:"provider_id"`
	SessionID       string          `json:"session_id,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
	Score           int             `json:"score"`
	Status          Status          `json:"compliance_status"`
	HardRegulations map[string]bool `json:"hard_regulations"`
	SoftRegulations map[string]int  `json:"soft_regulations"`
	OverallScore    float64         `json:"overall_score"`
	WeightedAverage float64         `json:"weighted_average"`
	IsCompliant     bool            `json:"is_compliant"`
	// ProcessingTime is in seconds.
	ProcessingTime float64  `json:"processing_time"`
	Errors         []string `json:"errors"`
	Warnings       []string `json:"warnings"`

	HardDetails         []HardCheck    `json:"hard_regulation_details,omitempty"`
	SoftDetails         []SoftScore    `json:"soft_regulation_details,omitempty"`
	MappedData          map[string]any `json:"mapped_data,omitempty"`
	VerificationDetails map[string]any `json:"verification_details,omitempty"`
	LLMUsage            llm.Totals     `json:"llm_usage"`
}

// New returns an empty PENDING result for providerID.
func New(providerID string) *CredentialingResult {
	return &CredentialingResult{
		ProviderID:      providerID,
		Timestamp:       time.Now().UTC(),
		Score:           1,
		Status:          Pending,
		HardRegulations: map[string]bool{},
		SoftRegulations: map[string]int{},
		Errors:          []string{},
		Warnings:        []string{},
	}
}

// Fail marks the result FAILED and records err.
func (r *CredentialingResult) Fail(err error) {
	r.Status = Failed
	r.IsCompliant = false
	r.Errors = append(r.Errors, err.Error())
}

// Warn records a non-fatal problem.
func (r *CredentialingResult) Warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Aggregate fills the verdict maps, the scores, and the compliance status
// from the per-regulation outcomes.
//
// The score is the weight-averaged soft score rounded half to even and
// clamped to [1,5], or 1 when there is no weight. WeightedAverage keeps the
// average to two decimals. The status is COMPLIANT only when at least one hard
// regulation was checked and all of them passed; an empty hard set is FAILED.
func (r *CredentialingResult) Aggregate(hard []HardCheck, soft []SoftScore) {
	r.HardDetails = hard
	r.SoftDetails = soft
	r.HardRegulations = make(map[string]bool, len(hard))
	r.SoftRegulations = make(map[string]int, len(soft))

	allPassed := true
	for _, h := range hard {
		r.HardRegulations[h.RegulationID] = h.Passed
		allPassed = allPassed && h.Passed
	}

	var weighted, totalWeight float64
	for _, s := range soft {
		r.SoftRegulations[s.RegulationID] = s.Score
		weighted += float64(s.Score) * s.Weight
		totalWeight += s.Weight
	}

	r.Score = 1
	r.WeightedAverage = 0
	if totalWeight > 0 {
		avg := weighted / totalWeight
		r.Score = clamp(int(math.RoundToEven(avg)), 1, MaxScore)
		r.WeightedAverage = math.Round(avg*100) / 100
	}
	r.OverallScore = float64(r.Score)

	switch {
	case len(hard) == 0:
		r.Fail(fmt.Errorf("no hard regulations were evaluated"))
	case allPassed:
		r.Status = Compliant
		r.IsCompliant = true
	default:
		r.Status = NonCompliant
		r.IsCompliant = false
	}
}

// FailedChecks returns the hard regulations that did not pass.
func (r *CredentialingResult) FailedChecks() []HardCheck {
	var out []HardCheck
	for _, h := range r.HardDetails {
		if !h.Passed {
			out = append(out, h)
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Stats holds aggregate statistics over many results.
type Stats struct {
	Total          int     `json:"total_providers"`
	Compliant      int     `json:"compliant"`
	NonCompliant   int     `json:"non_compliant"`
	Pending        int     `json:"pending"`
	Failed         int     `json:"failed"`
	ComplianceRate float64 `json:"compliance_rate"`
	AvgScore       float64 `json:"average_score"`
	ProcessingP50  float64 `json:"processing_time_p50"`
	ProcessingP95  float64 `json:"processing_time_p95"`
	TotalTokens    int     `json:"total_tokens"`
	TotalCost      float64 `json:"total_cost"`
}

// ComputeStats calculates aggregate statistics. Failed runs are excluded
// from the compliance rate and the average score.
func ComputeStats(results []*CredentialingResult) Stats {
	s := Stats{Total: len(results)}
	if len(results) == 0 {
		return s
	}

	var totalScore float64
	var durations []float64

	for _, r := range results {
		switch r.Status {
		case Compliant:
			s.Compliant++
		case NonCompliant:
			s.NonCompliant++
		case Pending:
			s.Pending++
		default:
			s.Failed++
		}
		if r.Status != Failed {
			totalScore += float64(r.Score)
		}
		durations = append(durations, r.ProcessingTime)
		s.TotalTokens += r.LLMUsage.TotalTokens
		s.TotalCost += r.LLMUsage.TotalCost
	}

	if evaluated := s.Total - s.Failed; evaluated > 0 {
		s.ComplianceRate = float64(s.Compliant) / float64(evaluated)
		s.AvgScore = totalScore / float64(evaluated)
	}

	sort.Float64s(durations)
	s.ProcessingP50 = percentile(durations, 0.5)
	s.ProcessingP95 = percentile(durations, 0.95)

	return s
}

// percentile returns the value at the given percentile (0.0-1.0) from a
// sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := p * float64(len(sorted)-1)
	lower := int(math.Floor(idx))
	upper := int(math.Ceil(idx))
	if lower == upper || upper >= len(sorted) {
		return sorted[lower]
	}
	frac := idx - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}

// DefaultPath returns the default report file path for a result.
func DefaultPath(outputDir, providerID string, ts time.Time) string {
	filename := fmt.Sprintf("credentialing_%s_%s.json", providerID, ts.Format("20060102_150405"))
	return filepath.Join(outputDir, filename)
}

// Save writes the result as pretty-printed JSON to the given path.
// Parent directories are created automatically.
func (r *CredentialingResult) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating result directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing result to %s: %w", path, err)
	}

	return nil
}

// Load reads a CredentialingResult from a JSON file.
func Load(path string) (*CredentialingResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading result file %s: %w", path, err)
	}

	var r CredentialingResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing result file %s: %w", path, err)
	}

	return &r, nil
}
