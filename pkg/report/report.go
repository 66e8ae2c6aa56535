package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jdgilhuly/go_credential_agent/pkg/llm"
	"github.com/jdgilhuly/go_credential_agent/pkg/result"
)

// ANSI color codes for terminal output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
)

// StatusLabel returns a colored status string for terminal display.
func StatusLabel(s result.Status) string {
	switch s {
	case result.Compliant:
		return colorGreen + string(s) + colorReset
	case result.NonCompliant, result.Failed:
		return colorRed + string(s) + colorReset
	}
	return colorYellow + string(s) + colorReset
}

// StatusLabelPlain returns an uncolored status string.
func StatusLabelPlain(s result.Status) string {
	return string(s)
}

func label(s result.Status, color bool) string {
	if color {
		return StatusLabel(s)
	}
	return StatusLabelPlain(s)
}

// FormatDuration formats a duration for table display.
func FormatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dus", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// seconds converts a processing time in seconds to a duration.
func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// PrintSummaryTable writes one row per result and a stats footer.
func PrintSummaryTable(w io.Writer, results []*result.CredentialingResult, color bool) {
	sep := strings.Repeat("-", 78)
	fmt.Fprintf(w, "%s\n", sep)
	fmt.Fprintf(w, "  %-12s  %-15s  %5s  %9s  %8s  %8s\n", "PROVIDER", "STATUS", "SCORE", "HARD", "TIME", "COST")
	fmt.Fprintf(w, "%s\n", sep)

	for _, r := range results {
		passed := len(r.HardDetails) - len(r.FailedChecks())
		// pad before coloring so escape codes do not break alignment
		status := fmt.Sprintf("%-15s", r.Status)
		if color {
			status = strings.Replace(status, string(r.Status), StatusLabel(r.Status), 1)
		}
		fmt.Fprintf(w, "  %-12s  %s  %5d  %9s  %8s  %8s\n",
			truncate(r.ProviderID, 12), status, r.Score,
			fmt.Sprintf("%d/%d", passed, len(r.HardDetails)),
			FormatDuration(seconds(r.ProcessingTime)), formatCost(r.LLMUsage.TotalCost))
	}

	fmt.Fprintf(w, "%s\n", sep)
	s := result.ComputeStats(results)
	if color {
		fmt.Fprintf(w, "  %s%d compliant%s  %s%d non-compliant%s  %s%d failed%s  | avg score %.2f | rate %.0f%%\n",
			colorGreen, s.Compliant, colorReset,
			colorRed, s.NonCompliant, colorReset,
			colorYellow, s.Failed, colorReset,
			s.AvgScore, s.ComplianceRate*100)
	} else {
		fmt.Fprintf(w, "  %d compliant  %d non-compliant  %d failed  | avg score %.2f | rate %.0f%%\n",
			s.Compliant, s.NonCompliant, s.Failed, s.AvgScore, s.ComplianceRate*100)
	}
	fmt.Fprintf(w, "  p50 %s | p95 %s | tokens: %d | cost: %s\n",
		FormatDuration(seconds(s.ProcessingP50)), FormatDuration(seconds(s.ProcessingP95)),
		s.TotalTokens, formatCost(s.TotalCost))
	fmt.Fprintf(w, "%s\n", sep)
}

// PrintVerbose writes the summary table followed by per-regulation detail.
func PrintVerbose(w io.Writer, results []*result.CredentialingResult, color bool) {
	PrintSummaryTable(w, results, color)

	fmt.Fprintf(w, "\n--- Detailed Results ---\n\n")

	for _, r := range results {
		fmt.Fprintf(w, "Provider: %s [%s]\n", r.ProviderID, label(r.Status, color))
		fmt.Fprintf(w, "  Session:  %s\n", r.SessionID)
		fmt.Fprintf(w, "  Score:    %d (weighted %.2f)\n", r.Score, r.WeightedAverage)
		fmt.Fprintf(w, "  Time:     %s\n", FormatDuration(seconds(r.ProcessingTime)))
		fmt.Fprintf(w, "  Tokens:   %d in / %d out\n", r.LLMUsage.InputTokens, r.LLMUsage.OutputTokens)

		for _, e := range r.Errors {
			fmt.Fprintf(w, "  Error:    %s\n", e)
		}
		for _, warn := range r.Warnings {
			fmt.Fprintf(w, "  Warning:  %s\n", warn)
		}

		if len(r.HardDetails) > 0 {
			fmt.Fprintf(w, "  Hard regulations:\n")
			for _, h := range r.HardDetails {
				verdict := "PASS"
				if !h.Passed {
					verdict = "FAIL"
				}
				fmt.Fprintf(w, "    %-6s %-4s %-32s (%s)\n", h.RegulationID, verdict, truncate(h.RegulationName, 32), h.Source)
				if h.FailureReason != "" {
					fmt.Fprintf(w, "           %s\n", h.FailureReason)
				}
			}
		}
		if len(r.SoftDetails) > 0 {
			fmt.Fprintf(w, "  Soft regulations:\n")
			for _, s := range r.SoftDetails {
				fmt.Fprintf(w, "    %-6s %d/%d  x%.2f %-32s (%s)\n",
					s.RegulationID, s.Score, s.MaxScore, s.Weight, truncate(s.RegulationName, 32), s.Source)
			}
		}
		fmt.Fprintln(w)
	}
}

// PrintUsage writes LLM usage totals.
func PrintUsage(w io.Writer, t llm.Totals) {
	fmt.Fprintf(w, "requests: %d | tokens: %d in / %d out | cost: %s\n",
		t.Requests, t.InputTokens, t.OutputTokens, formatCost(t.TotalCost))
}

func formatCost(c float64) string {
	return fmt.Sprintf("$%.4f", c)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
