// Package diff compares two credentialing runs provider by provider.
package diff

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jdgilhuly/go_credential_agent/pkg/result"
)

// Category classifies a provider comparison.
type Category string

const (
	Improved  Category = "improved"
	Regressed Category = "regressed"
	Unchanged Category = "unchanged"
	New       Category = "new"
	Removed   Category = "removed"
)

// ProviderDiff is the comparison of one provider between two runs.
type ProviderDiff struct {
	ProviderID string        `json:"provider_id"`
	Category   Category      `json:"category"`
	StatusA    result.Status `json:"status_a,omitempty"`
	StatusB    result.Status `json:"status_b,omitempty"`
	ScoreA     float64       `json:"score_a"`
	ScoreB     float64       `json:"score_b"`
	ScoreDelta float64       `json:"score_delta"`
	// Flipped lists hard regulations whose verdict changed.
	Flipped []string `json:"flipped,omitempty"`
}

// DiffResult holds the full comparison between two runs.
type DiffResult struct {
	Providers []ProviderDiff `json:"providers"`
	Summary
}

// Summary holds counts by category.
type Summary struct {
	Improved  int `json:"improved"`
	Regressed int `json:"regressed"`
	Unchanged int `json:"unchanged"`
	New       int `json:"new"`
	Removed   int `json:"removed"`
}

func (s *Summary) count(c Category) {
	switch c {
	case Improved:
		s.Improved++
	case Regressed:
		s.Regressed++
	case Unchanged:
		s.Unchanged++
	case New:
		s.New++
	case Removed:
		s.Removed++
	}
}

// rank orders statuses so a move up is an improvement.
func rank(s result.Status) int {
	switch s {
	case result.Compliant:
		return 2
	case result.NonCompliant:
		return 1
	}
	return 0
}

// Compare diffs run b against run a. Providers are matched by id. A status
// change decides the category; with equal status the weighted average must
// move by more than threshold to count as improved or regressed.
func Compare(a, b []*result.CredentialingResult, threshold float64) *DiffResult {
	aMap := make(map[string]*result.CredentialingResult, len(a))
	for _, r := range a {
		aMap[r.ProviderID] = r
	}

	dr := &DiffResult{}
	seen := make(map[string]bool, len(b))
	for _, rb := range b {
		seen[rb.ProviderID] = true
		pd := ProviderDiff{
			ProviderID: rb.ProviderID,
			StatusB:    rb.Status,
			ScoreB:     rb.WeightedAverage,
		}

		ra, inA := aMap[rb.ProviderID]
		if !inA {
			pd.Category = New
		} else {
			pd.StatusA = ra.Status
			pd.ScoreA = ra.WeightedAverage
			pd.ScoreDelta = pd.ScoreB - pd.ScoreA
			pd.Flipped = flipped(ra.HardRegulations, rb.HardRegulations)
			pd.Category = classify(ra.Status, rb.Status, pd.ScoreDelta, threshold)
		}
		dr.count(pd.Category)
		dr.Providers = append(dr.Providers, pd)
	}

	for _, ra := range a {
		if seen[ra.ProviderID] {
			continue
		}
		dr.Providers = append(dr.Providers, ProviderDiff{
			ProviderID: ra.ProviderID,
			Category:   Removed,
			StatusA:    ra.Status,
			ScoreA:     ra.WeightedAverage,
		})
		dr.count(Removed)
	}
	return dr
}

func classify(a, b result.Status, delta, threshold float64) Category {
	switch ra, rb := rank(a), rank(b); {
	case rb > ra:
		return Improved
	case rb < ra:
		return Regressed
	case math.Abs(delta) <= threshold:
		return Unchanged
	case delta > 0:
		return Improved
	}
	return Regressed
}

func flipped(a, b map[string]bool) []string {
	var ids []string
	for id, passB := range b {
		if passA, ok := a[id]; ok && passA != passB {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Filter returns a new DiffResult with only providers matching the given
// categories. Pass nil to include all.
func (dr *DiffResult) Filter(categories []Category) *DiffResult {
	if len(categories) == 0 {
		return dr
	}

	catSet := make(map[Category]bool, len(categories))
	for _, c := range categories {
		catSet[c] = true
	}

	filtered := &DiffResult{Summary: dr.Summary}
	for _, pd := range dr.Providers {
		if catSet[pd.Category] {
			filtered.Providers = append(filtered.Providers, pd)
		}
	}
	return filtered
}

// JSON serializes the diff result.
func (dr *DiffResult) JSON() ([]byte, error) {
	return json.MarshalIndent(dr, "", "  ")
}

// PrintTable writes a formatted diff table.
func (dr *DiffResult) PrintTable(w io.Writer) {
	sep := strings.Repeat("-", 90)
	fmt.Fprintf(w, "%s\n", sep)
	fmt.Fprintf(w, "  %-10s  %-10s  %-14s  %-14s  %8s  %s\n", "PROVIDER", "CHANGE", "STATUS A", "STATUS B", "DELTA", "FLIPPED")
	fmt.Fprintf(w, "%s\n", sep)

	for _, pd := range dr.Providers {
		var delta string
		switch pd.Category {
		case New:
			delta = "new"
		case Removed:
			delta = "removed"
		default:
			delta = fmt.Sprintf("%+.2f", pd.ScoreDelta)
		}

		fmt.Fprintf(w, "  %-10s  %-10s  %-14s  %-14s  %8s  %s\n",
			pd.ProviderID, string(pd.Category), orDash(pd.StatusA), orDash(pd.StatusB),
			delta, strings.Join(pd.Flipped, ","))
	}

	fmt.Fprintf(w, "%s\n", sep)
	fmt.Fprintf(w, "  %d improved  %d regressed  %d unchanged  %d new  %d removed\n",
		dr.Improved, dr.Regressed, dr.Unchanged, dr.New, dr.Removed)
	fmt.Fprintf(w, "%s\n", sep)
}

func orDash(s result.Status) string {
	if s == "" {
		return "-"
	}
	return string(s)
}

// LoadDir reads every result file in dir, keeping the newest result per
// provider. Results are returned sorted by provider id.
func LoadDir(dir string) ([]*result.CredentialingResult, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("reading results dir: %w", err)
		}
	}

	latest := make(map[string]*result.CredentialingResult)
	for _, p := range paths {
		r, err := result.Load(p)
		if err != nil {
			return nil, err
		}
		if cur, ok := latest[r.ProviderID]; !ok || r.Timestamp.After(cur.Timestamp) {
			latest[r.ProviderID] = r
		}
	}

	out := make([]*result.CredentialingResult, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProviderID < out[j].ProviderID })
	return out, nil
}
