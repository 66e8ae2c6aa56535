package diff

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jdgilhuly/go_credential_agent/pkg/result"
)

func res(id string, status result.Status, weighted float64, hard map[string]bool) *result.CredentialingResult {
	r := result.New(id)
	r.Status = status
	r.WeightedAverage = weighted
	r.HardRegulations = hard
	return r
}

func runA() []*result.CredentialingResult {
	return []*result.CredentialingResult{
		res("stable", result.Compliant, 4.0, map[string]bool{"HR001": true}),
		res("improved", result.NonCompliant, 3.0, map[string]bool{"HR001": true, "HR003": false}),
		res("regressed", result.Compliant, 4.6, map[string]bool{"HR001": true}),
		res("drifted", result.Compliant, 4.5, nil),
		res("removed", result.Compliant, 5.0, nil),
	}
}

func runB() []*result.CredentialingResult {
	return []*result.CredentialingResult{
		res("stable", result.Compliant, 4.05, map[string]bool{"HR001": true}),
		res("improved", result.Compliant, 2.5, map[string]bool{"HR001": true, "HR003": true}),
		res("regressed", result.Failed, 0, nil),
		res("drifted", result.Compliant, 3.5, nil),
		res("new", result.Compliant, 5.0, nil),
	}
}

func TestCompare(t *testing.T) {
	dr := Compare(runA(), runB(), 0.1)

	if len(dr.Providers) != 6 {
		t.Fatalf("len(Providers) = %d, want 6", len(dr.Providers))
	}

	got := map[string]ProviderDiff{}
	for _, pd := range dr.Providers {
		got[pd.ProviderID] = pd
	}

	want := map[string]Category{
		"stable":    Unchanged,
		"improved":  Improved, // status wins over a lower score
		"regressed": Regressed,
		"drifted":   Regressed,
		"new":       New,
		"removed":   Removed,
	}
	for id, c := range want {
		if got[id].Category != c {
			t.Errorf("%s = %q, want %q", id, got[id].Category, c)
		}
	}

	if f := got["improved"].Flipped; len(f) != 1 || f[0] != "HR003" {
		t.Errorf("improved flipped = %v, want [HR003]", f)
	}
	if got["drifted"].ScoreDelta != -1.0 {
		t.Errorf("drifted delta = %v, want -1", got["drifted"].ScoreDelta)
	}
	if got["removed"].StatusB != "" || got["new"].StatusA != "" {
		t.Error("one-sided entries should leave the other status empty")
	}

	s := dr.Summary
	if s.Improved != 1 || s.Regressed != 2 || s.Unchanged != 1 || s.New != 1 || s.Removed != 1 {
		t.Errorf("summary = %+v", s)
	}
}

func TestCompare_Identical(t *testing.T) {
	dr := Compare(runA(), runA(), 0)
	if dr.Unchanged != len(runA()) {
		t.Errorf("Unchanged = %d, want %d", dr.Unchanged, len(runA()))
	}
}

func TestFilter(t *testing.T) {
	dr := Compare(runA(), runB(), 0.1)

	if all := dr.Filter(nil); len(all.Providers) != 6 {
		t.Errorf("Filter(nil) kept %d, want 6", len(all.Providers))
	}

	f := dr.Filter([]Category{Regressed, Removed})
	if len(f.Providers) != 3 {
		t.Fatalf("filtered = %d, want 3", len(f.Providers))
	}
	for _, pd := range f.Providers {
		if pd.Category != Regressed && pd.Category != Removed {
			t.Errorf("unexpected category %q", pd.Category)
		}
	}
	if f.Summary != dr.Summary {
		t.Error("Filter should keep the full summary")
	}
}

func TestJSON(t *testing.T) {
	data, err := Compare(runA(), runB(), 0.1).JSON()
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if doc["regressed"] != float64(2) {
		t.Errorf("regressed = %v, want 2", doc["regressed"])
	}
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer
	Compare(runA(), runB(), 0.1).PrintTable(&buf)
	out := buf.String()

	for _, want := range []string{
		"PROVIDER", "improved", "HR003", "new", "removed", "-1.00",
		"1 improved  2 regressed  1 unchanged  1 new  1 removed",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	older := res("DR001", result.NonCompliant, 2.0, nil)
	older.Timestamp = base
	newer := res("DR001", result.Compliant, 4.0, nil)
	newer.Timestamp = base.Add(time.Hour)
	other := res("DR002", result.Compliant, 3.0, nil)
	other.Timestamp = base

	for _, r := range []*result.CredentialingResult{older, newer, other} {
		if err := r.Save(result.DefaultPath(dir, r.ProviderID, r.Timestamp)); err != nil {
			t.Fatal(err)
		}
	}

	got, err := LoadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ProviderID != "DR001" || got[1].ProviderID != "DR002" {
		t.Fatalf("LoadDir = %v", got)
	}
	if got[0].Status != result.Compliant {
		t.Errorf("DR001 status = %s, want the newest (COMPLIANT)", got[0].Status)
	}
}

func TestLoadDir_Missing(t *testing.T) {
	if _, err := LoadDir(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error for missing dir")
	}
}
