package regulation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// DefaultScore is assigned when a soft regulation has no scorable data.
const DefaultScore = 3

// Outcome is a deterministic rule decision with a short explanation.
type Outcome struct {
	Passed bool
	Score  int
	Reason string
}

// hardCheck inspects one validation criterion. ok reports whether the
// criterion could be evaluated against the data at all.
type hardCheck func(want any, data map[string]any) (passed, ok bool, reason string)

// hardChecks is evaluated in this order so explanations are stable.
var hardChecks = []struct {
	criterion string
	check     hardCheck
}{
	{"license_status", checkLicense},
	{"disciplinary_actions", checkDisciplinary},
	{"license_suspensions", checkSuspensions},
	{"voluntary_surrender", checkSurrender},
	{"malpractice_insurance", checkInsurance},
	{"board_certification", checkBoardCert},
	{"board_certifications", checkBoardCert},
	{"criminal_record", checkCriminal},
}

// Check evaluates a hard regulation against the relevant provider data
// without an LLM. Criteria whose section is absent from data are skipped;
// a regulation with nothing to fail passes.
func Check(r Regulation, data map[string]any) Outcome {
	var checked []string
	for _, hc := range hardChecks {
		want, ok := r.ValidationCriteria[hc.criterion]
		if !ok {
			continue
		}
		passed, evaluated, reason := hc.check(want, data)
		if !evaluated {
			continue
		}
		if !passed {
			return Outcome{Passed: false, Reason: reason}
		}
		checked = append(checked, hc.criterion)
	}
	if len(checked) == 0 {
		return Outcome{Passed: true, Reason: "no failing criteria found in available data"}
	}
	return Outcome{Passed: true, Reason: "satisfied: " + strings.Join(checked, ", ")}
}

func checkLicense(_ any, data map[string]any) (bool, bool, string) {
	ids, ok := section(data, "ProfessionalIds")
	if !ok {
		return false, false, ""
	}
	if str(ids["license_number"]) == "" {
		return false, true, "no license number on file"
	}
	return true, true, ""
}

func checkDisciplinary(_ any, data map[string]any) (bool, bool, string) {
	d, ok := section(data, "Disclosure")
	if !ok {
		return false, false, ""
	}
	if n := length(d["disciplinary_actions"]); n > 0 {
		return false, true, fmt.Sprintf("%d disciplinary action(s) disclosed", n)
	}
	return true, true, ""
}

func checkSuspensions(want any, data map[string]any) (bool, bool, string) {
	d, ok := section(data, "Disclosure")
	if !ok {
		return false, false, ""
	}
	limit, _ := number(want)
	got, ok := number(d["license_suspensions"])
	if !ok {
		return false, false, ""
	}
	if got > limit {
		return false, true, fmt.Sprintf("%v license suspension(s), at most %v allowed", got, limit)
	}
	return true, true, ""
}

func checkSurrender(want any, data map[string]any) (bool, bool, string) {
	d, ok := section(data, "Disclosure")
	if !ok {
		return false, false, ""
	}
	allowed, _ := want.(bool)
	if surrendered, _ := d["voluntary_surrender"].(bool); surrendered && !allowed {
		return false, true, "license was voluntarily surrendered"
	}
	return true, true, ""
}

func checkInsurance(want any, data map[string]any) (bool, bool, string) {
	p, ok := section(data, "PLIs")
	if !ok {
		return false, false, ""
	}
	expected := expectedString(want, "Active")
	if got := str(p["malpractice_insurance"]); got != expected {
		return false, true, fmt.Sprintf("malpractice insurance is %q, want %q", got, expected)
	}
	return true, true, ""
}

func checkBoardCert(_ any, data map[string]any) (bool, bool, string) {
	b, ok := section(data, "BoardCertifications")
	if !ok {
		return false, false, ""
	}
	if length(b["board_certifications"]) == 0 {
		return false, true, "no board certifications on file"
	}
	return true, true, ""
}

func checkCriminal(want any, data map[string]any) (bool, bool, string) {
	d, ok := section(data, "Disclosure")
	if !ok {
		return false, false, ""
	}
	expected := expectedString(want, "Clean")
	if got := str(d["criminal_record"]); got != expected {
		return false, true, fmt.Sprintf("criminal record is %q, want %q", got, expected)
	}
	return true, true, ""
}

// Score evaluates a soft regulation without an LLM. The value at
// ScoringCriteria.Field is compared against the descending thresholds;
// missing data or criteria yield DefaultScore.
func Score(r Regulation, data map[string]any) Outcome {
	sc := r.ScoringCriteria
	if sc == nil || sc.Field == "" || len(sc.Thresholds) == 0 {
		return Outcome{Score: DefaultScore, Reason: "no deterministic scoring criteria"}
	}

	v, ok := Lookup(data, sc.Field)
	if !ok {
		return Outcome{Score: DefaultScore, Reason: fmt.Sprintf("%s not available", sc.Field)}
	}
	n, ok := number(v)
	if !ok {
		return Outcome{Score: DefaultScore, Reason: fmt.Sprintf("%s is not numeric", sc.Field)}
	}

	score := 1
	for i, t := range sc.Thresholds {
		if n >= t {
			score = 5 - i
			break
		}
	}
	return Outcome{Score: score, Reason: fmt.Sprintf("%s = %v", sc.Field, n)}
}

// Lookup resolves a dotted path such as "QualityMetrics.quality_score".
func Lookup(data map[string]any, path string) (any, bool) {
	var cur any = data
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func section(data map[string]any, name string) (map[string]any, bool) {
	m, ok := data[name].(map[string]any)
	return m, ok
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func length(v any) int {
	switch t := v.(type) {
	case []any:
		return len(t)
	case []string:
		return len(t)
	}
	return 0
}

func expectedString(want any, fallback string) string {
	if s, ok := want.(string); ok && s != "" {
		return s
	}
	return fallback
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}
