// Package review walks a human reviewer through credentialing results that
// need sign-off and records their decisions.
package review

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/jdgilhuly/go_credential_agent/pkg/audit"
	"github.com/jdgilhuly/go_credential_agent/pkg/result"
)

// Filter determines which results are shown for review.
type Filter string

const (
	// FilterReview shows results that used a fallback or are not compliant.
	FilterReview Filter = "review"
	FilterFail   Filter = "fail"
	FilterAll    Filter = "all"
)

// ParseFilter converts a string to a Filter, defaulting to FilterReview.
func ParseFilter(s string) Filter {
	switch strings.ToLower(s) {
	case "fail", "failed":
		return FilterFail
	case "all":
		return FilterAll
	default:
		return FilterReview
	}
}

// Verdict is the reviewer's call on a result.
type Verdict string

const (
	Approved Verdict = "approved"
	Denied   Verdict = "denied"
)

// Decision is one recorded sign-off.
type Decision struct {
	ProviderID string        `json:"provider_id"`
	SessionID  string        `json:"session_id,omitempty"`
	Status     result.Status `json:"compliance_status"`
	Verdict    Verdict       `json:"verdict"`
	Note       string        `json:"note,omitempty"`
}

// Event returns the audit trail entry for d.
func (d Decision) Event() audit.Event {
	data := map[string]any{
		"verdict":           string(d.Verdict),
		"compliance_status": string(d.Status),
	}
	if d.Note != "" {
		data["note"] = d.Note
	}
	return audit.Event{
		Type:       audit.EventReviewed,
		SessionID:  d.SessionID,
		ProviderID: d.ProviderID,
		Data:       data,
	}
}

// Reviewer handles interactive review of credentialing results.
type Reviewer struct {
	In  io.Reader
	Out io.Writer
}

// Review presents filtered results and returns the decisions entered.
// Input is "approve [note]", "deny [note]" or "skip"; stored results are
// never modified.
func (r *Reviewer) Review(results []*result.CredentialingResult, filter Filter) ([]Decision, error) {
	selected := filterResults(results, filter)
	if len(selected) == 0 {
		fmt.Fprintf(r.Out, "No results match filter %q.\n", string(filter))
		return nil, nil
	}

	scanner := bufio.NewScanner(r.In)
	var decisions []Decision

	for i, res := range selected {
		fmt.Fprintf(r.Out, "\n--- Provider %d of %d ---\n", i+1, len(selected))
		printResult(r.Out, res)

		fmt.Fprintf(r.Out, "\nDecision [approve/deny/skip] [note]: ")
		if !scanner.Scan() {
			break
		}

		verdict, note, ok := parseInput(scanner.Text())
		if !ok {
			fmt.Fprintf(r.Out, "  Skipped.\n")
			continue
		}
		decisions = append(decisions, Decision{
			ProviderID: res.ProviderID,
			SessionID:  res.SessionID,
			Status:     res.Status,
			Verdict:    verdict,
			Note:       note,
		})
		fmt.Fprintf(r.Out, "  Recorded: %s\n", verdict)
	}

	return decisions, scanner.Err()
}

func parseInput(line string) (Verdict, string, bool) {
	word, note, _ := strings.Cut(strings.TrimSpace(line), " ")
	note = strings.TrimSpace(note)
	switch strings.ToLower(word) {
	case "approve", "a":
		return Approved, note, true
	case "deny", "d":
		return Denied, note, true
	}
	return "", "", false
}

func filterResults(results []*result.CredentialingResult, filter Filter) []*result.CredentialingResult {
	var out []*result.CredentialingResult
	for _, r := range results {
		switch filter {
		case FilterReview:
			if r.Status != result.Compliant || len(r.Warnings) > 0 {
				out = append(out, r)
			}
		case FilterFail:
			if r.Status == result.NonCompliant || r.Status == result.Failed {
				out = append(out, r)
			}
		case FilterAll:
			out = append(out, r)
		}
	}
	return out
}

func printResult(w io.Writer, r *result.CredentialingResult) {
	fmt.Fprintf(w, "Provider: %s\n", r.ProviderID)
	fmt.Fprintf(w, "Status:   %s (score %d, weighted %.2f)\n", r.Status, r.Score, r.WeightedAverage)
	for _, c := range r.FailedChecks() {
		fmt.Fprintf(w, "Failed:   %s %s\n", c.RegulationID, truncateStr(c.FailureReason, 120))
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "Error:    %s\n", truncateStr(e, 200))
	}
	for _, warn := range r.Warnings {
		fmt.Fprintf(w, "Warning:  %s\n", truncateStr(warn, 200))
	}
}

func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
