package review

import (
	"bytes"
	"strings"
	"testing"

	"github.com/jdgilhuly/go_credential_agent/pkg/audit"
	"github.com/jdgilhuly/go_credential_agent/pkg/result"
)

func testResults() []*result.CredentialingResult {
	clean := result.New("DR001")
	clean.Status = result.Compliant
	clean.Score = 5

	fallback := result.New("DR003")
	fallback.Status = result.Compliant
	fallback.Score = 3
	fallback.Warnings = []string{"hard regulation checks used rule fallback"}

	nonCompliant := result.New("DR002")
	nonCompliant.SessionID = "sess-2"
	nonCompliant.Status = result.NonCompliant
	nonCompliant.HardDetails = []result.HardCheck{
		{RegulationID: "HR001", Passed: true},
		{RegulationID: "HR003", Passed: false, FailureReason: "Failed to meet Active Malpractice Insurance requirements"},
	}

	failed := result.New("NOPE")
	failed.Status = result.Failed
	failed.Errors = []string{"provider NOPE not found"}

	return []*result.CredentialingResult{clean, fallback, nonCompliant, failed}
}

func TestParseFilter(t *testing.T) {
	tests := []struct {
		in   string
		want Filter
	}{
		{"fail", FilterFail},
		{"FAILED", FilterFail},
		{"all", FilterAll},
		{"review", FilterReview},
		{"", FilterReview},
		{"bogus", FilterReview},
	}
	for _, tt := range tests {
		if got := ParseFilter(tt.in); got != tt.want {
			t.Errorf("ParseFilter(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFilterResults(t *testing.T) {
	tests := []struct {
		filter Filter
		want   []string
	}{
		{FilterReview, []string{"DR003", "DR002", "NOPE"}},
		{FilterFail, []string{"DR002", "NOPE"}},
		{FilterAll, []string{"DR001", "DR003", "DR002", "NOPE"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.filter), func(t *testing.T) {
			got := filterResults(testResults(), tt.filter)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d results, want %d", len(got), len(tt.want))
			}
			for i, r := range got {
				if r.ProviderID != tt.want[i] {
					t.Errorf("[%d] = %s, want %s", i, r.ProviderID, tt.want[i])
				}
			}
		})
	}
}

func TestReviewer_Review(t *testing.T) {
	var out bytes.Buffer
	r := &Reviewer{
		In:  strings.NewReader("approve fallback checked by hand\ndeny  insurance lapsed \nskip\n"),
		Out: &out,
	}

	decisions, err := r.Review(testResults(), FilterReview)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(decisions) != 2 {
		t.Fatalf("decisions = %d, want 2", len(decisions))
	}

	if d := decisions[0]; d.ProviderID != "DR003" || d.Verdict != Approved || d.Note != "fallback checked by hand" {
		t.Errorf("first decision = %+v", d)
	}
	d := decisions[1]
	if d.ProviderID != "DR002" || d.Verdict != Denied || d.Note != "insurance lapsed" {
		t.Errorf("second decision = %+v", d)
	}
	if d.SessionID != "sess-2" || d.Status != result.NonCompliant {
		t.Errorf("decision should carry session and status: %+v", d)
	}

	text := out.String()
	for _, want := range []string{"Provider 1 of 3", "Failed:   HR003", "Skipped.", "Recorded: denied"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}

func TestReviewer_ShortInput(t *testing.T) {
	r := &Reviewer{In: strings.NewReader("a\n"), Out: &bytes.Buffer{}}

	decisions, err := r.Review(testResults(), FilterAll)
	if err != nil {
		t.Fatal(err)
	}
	if len(decisions) != 1 || decisions[0].ProviderID != "DR001" {
		t.Errorf("decisions = %+v, want one for DR001", decisions)
	}
}

func TestReviewer_UnknownInputSkips(t *testing.T) {
	r := &Reviewer{In: strings.NewReader("maybe\nd\n"), Out: &bytes.Buffer{}}

	decisions, err := r.Review(testResults(), FilterFail)
	if err != nil {
		t.Fatal(err)
	}
	if len(decisions) != 1 || decisions[0].ProviderID != "NOPE" || decisions[0].Verdict != Denied {
		t.Errorf("decisions = %+v", decisions)
	}
}

func TestReviewer_NoMatches(t *testing.T) {
	var out bytes.Buffer
	r := &Reviewer{In: strings.NewReader(""), Out: &out}

	decisions, err := r.Review(testResults()[:1], FilterFail)
	if err != nil || decisions != nil {
		t.Fatalf("got %v, %v", decisions, err)
	}
	if !strings.Contains(out.String(), "No results match") {
		t.Errorf("output = %q", out.String())
	}
}

func TestDecision_Event(t *testing.T) {
	e := Decision{ProviderID: "DR002", SessionID: "s1", Status: result.NonCompliant, Verdict: Denied, Note: "lapsed"}.Event()
	if e.Type != audit.EventReviewed || e.ProviderID != "DR002" || e.SessionID != "s1" {
		t.Errorf("event = %+v", e)
	}
	if e.Data["verdict"] != "denied" || e.Data["note"] != "lapsed" || e.Data["compliance_status"] != "NON_COMPLIANT" {
		t.Errorf("data = %v", e.Data)
	}

	e = Decision{ProviderID: "DR001", Verdict: Approved}.Event()
	if _, ok := e.Data["note"]; ok {
		t.Error("empty note should be omitted")
	}
}
