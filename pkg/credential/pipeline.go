package credential

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/jdgilhuly/go_credential_agent/pkg/audit"
	"github.com/jdgilhuly/go_credential_agent/pkg/prompt"
	"github.com/jdgilhuly/go_credential_agent/pkg/regulation"
	"github.com/jdgilhuly/go_credential_agent/pkg/result"
)

// Fallback confidence attached to deterministic mapping and verification
// records.
const fallbackConfidence = 0.5

// run carries the state of one pipeline execution.
type run struct {
	id      string
	res     *result.CredentialingResult
	session *audit.Session
	log     log.FieldLogger

	data         map[string]any
	mapping      map[string]any
	verification map[string]any
}

// run drives the phases in order. Only provider retrieval can fail the run;
// every later phase degrades to deterministic behavior instead.
func (s *Service) run(ctx context.Context, r *run) error {
	if s.regs == nil {
		return ErrNoRegulations
	}

	p, err := s.providers.Get(r.id)
	if err != nil {
		r.session.LogStep("provider_retrieval", map[string]any{"found": false}, "")
		return fmt.Errorf("retrieving provider %s: %w", r.id, err)
	}
	r.data = p.Data()
	completeness, empty := p.Completeness()
	r.session.LogStep("provider_retrieval", map[string]any{
		"found":          true,
		"name":           p.PersonalInfo.Name,
		"completeness":   completeness,
		"empty_sections": empty,
	}, "")
	r.session.LogDataPoint("provider_data", r.data)

	r.mapping = s.mapData(ctx, r)
	r.res.MappedData = r.mapping

	r.verification = s.verifyExternal(ctx, r)
	r.res.VerificationDetails = r.verification

	hard := s.checkHard(ctx, r)
	soft := s.scoreSoft(ctx, r)

	r.res.Aggregate(hard, soft)
	s.logAggregation(r)
	return nil
}

func (s *Service) mapData(ctx context.Context, r *run) map[string]any {
	regs := s.regs.All()
	fallback := fallbackMapping(regs)

	summary := make([]map[string]any, len(regs))
	for i, reg := range regs {
		summary[i] = map[string]any{
			"id":          reg.ID,
			"name":        reg.Name,
			"kind":        reg.Kind,
			"data_fields": reg.DataFields,
		}
	}

	text, err := s.prompts.Render(prompt.DataMapping, map[string]any{
		"Provider":    r.data,
		"Regulations": summary,
	})
	if err != nil {
		return s.mappingFallback(r, fallback, "rendering mapping prompt", err)
	}
	resp, err := s.gen.Generate(ctx, text)
	if err != nil {
		return s.mappingFallback(r, fallback, "mapping call failed", err)
	}
	r.session.LogInteraction("data_mapping", text, resp.Content, "", nil)

	mapping, err := decodeObject(resp.Content, mappingSchema)
	if err != nil {
		return s.mappingFallback(r, fallback, "mapping response rejected", err)
	}
	for id, entry := range fallback {
		if _, ok := mapping[id]; !ok {
			mapping[id] = entry
		}
	}

	r.session.LogStep("data_mapping", map[string]any{"regulations_mapped": len(mapping)}, "mapped by LLM")
	r.session.LogDataPoint("data_mapping", mapping)
	return mapping
}

func (s *Service) mappingFallback(r *run, fallback map[string]any, what string, err error) map[string]any {
	r.log.WithField("error", err.Error()).Warn(what + ", using declared data fields")
	r.res.Warn("data mapping fell back to declared data fields: %v", err)
	r.session.LogStep("data_mapping", map[string]any{"regulations_mapped": len(fallback), "fallback": true}, err.Error())
	r.session.LogDataPoint("data_mapping", fallback)
	return fallback
}

// fallbackMapping maps every regulation onto its declared data fields.
func fallbackMapping(regs []regulation.Regulation) map[string]any {
	out := make(map[string]any, len(regs))
	for _, reg := range regs {
		fields := make([]any, len(reg.DataFields))
		for i, f := range reg.DataFields {
			fields[i] = f
		}
		out[reg.ID] = map[string]any{
			"data_fields":        fields,
			"mapping_confidence": fallbackConfidence,
			"reasoning":          "Fallback mapping based on regulation data_fields",
		}
	}
	return out
}

func (s *Service) verifyExternal(ctx context.Context, r *run) map[string]any {
	raw, err := s.verifier.Verify(ctx, r.id, r.mapping)
	if err != nil {
		r.log.WithField("error", err.Error()).Warn("external verification failed")
		r.res.Warn("external verification unavailable: %v", err)
		out := map[string]any{
			"verification_status": "unavailable",
			"confidence":          0.0,
			"error":               err.Error(),
		}
		r.session.LogStep("external_verification", out, "")
		return out
	}
	r.session.LogDataPoint("verification_response", raw)

	fallback := map[string]any{
		"verification_status": "processed",
		"confidence":          fallbackConfidence,
		"raw_response":        raw,
	}

	text, err := s.prompts.Render(prompt.Verification, map[string]any{"Response": raw})
	if err != nil {
		return s.verificationFallback(r, fallback, err)
	}
	resp, err := s.gen.Generate(ctx, text)
	if err != nil {
		return s.verificationFallback(r, fallback, err)
	}
	r.session.LogInteraction("external_verification", text, resp.Content, "", nil)

	details, err := decodeObject(resp.Content, verificationSchema)
	if err != nil {
		return s.verificationFallback(r, fallback, err)
	}
	r.session.LogStep("external_verification", details, "summarized by LLM")
	return details
}

func (s *Service) verificationFallback(r *run, fallback map[string]any, err error) map[string]any {
	r.log.WithField("error", err.Error()).Warn("verification summary unavailable, keeping raw response")
	r.res.Warn("verification summary fell back to raw response: %v", err)
	r.session.LogStep("external_verification", fallback, err.Error())
	return fallback
}

// relevantData selects the provider sections a regulation looks at: its
// declared data fields plus any the mapping added, keyed by section name,
// and the verification details.
func relevantData(reg regulation.Regulation, data, mapping, verification map[string]any) map[string]any {
	fields := append([]string(nil), reg.DataFields...)
	if entry, ok := mapping[reg.ID].(map[string]any); ok {
		if extra, ok := entry["data_fields"].([]any); ok {
			for _, f := range extra {
				if name, ok := f.(string); ok {
					fields = append(fields, name)
				}
			}
		}
	}

	out := make(map[string]any)
	for _, f := range fields {
		name, _, _ := strings.Cut(f, ".")
		if v, ok := data[name]; ok {
			out[name] = v
		}
	}
	out["verification"] = verification
	return out
}

func (s *Service) vars(reg regulation.Regulation, criteria any, r *run, relevant map[string]any) map[string]any {
	return map[string]any{
		"RegulationID":   reg.ID,
		"RegulationName": reg.Name,
		"Criteria":       criteria,
		"Provider":       r.data,
		"Relevant":       relevant,
	}
}

// checkHard evaluates every hard regulation in one ordered LLM batch. If the
// batch cannot be built or fails, every regulation is evaluated by the
// deterministic rules instead; an unparseable single response falls back for
// that regulation only.
func (s *Service) checkHard(ctx context.Context, r *run) []result.HardCheck {
	regs := s.regs.Hard
	if len(regs) == 0 {
		r.session.LogStep("hard_regulations_check", map[string]any{"count": 0}, "")
		return nil
	}

	relevant := make([]map[string]any, len(regs))
	for i, reg := range regs {
		relevant[i] = relevantData(reg, r.data, r.mapping, r.verification)
	}

	out := make([]result.HardCheck, len(regs))
	prompts, err := s.renderAll(prompt.HardCheck, regs, r, relevant, func(reg regulation.Regulation) any {
		return reg.ValidationCriteria
	})
	var contents []string
	if err == nil {
		contents, err = s.batch(ctx, prompts)
	}
	if err != nil {
		r.log.WithField("error", err.Error()).Warn("hard regulation batch failed, using deterministic rules")
		r.res.Warn("hard regulation batch failed, evaluated with deterministic rules: %v", err)
		for i, reg := range regs {
			out[i] = ruleHard(reg, relevant[i])
		}
	} else {
		for i, reg := range regs {
			r.session.LogInteraction("hard_regulation_check", prompts[i], contents[i], "",
				map[string]any{"regulation_id": reg.ID})
			passed, ok := ParseHard(contents[i])
			if !ok {
				r.log.WithField("regulation_id", reg.ID).Debug("no PASS/FAIL in response, using deterministic rule")
				r.res.Warn("%s: response had no PASS/FAIL verdict, evaluated with deterministic rule", reg.ID)
				out[i] = ruleHard(reg, relevant[i])
				continue
			}
			out[i] = hardCheck(reg, passed, strings.TrimSpace(contents[i]), result.FromLLM)
		}
	}

	passed := 0
	for _, h := range out {
		r.session.LogRegulationCheck(audit.RegulationCheck{
			RegulationID: h.RegulationID,
			Kind:         string(regulation.Hard),
			Outcome:      h.Passed,
			Source:       string(h.Source),
			Reasoning:    h.Details,
		})
		if h.Passed {
			passed++
		}
	}
	r.session.LogStep("hard_regulations_check", map[string]any{"count": len(out), "passed": passed}, "")
	return out
}

func ruleHard(reg regulation.Regulation, relevant map[string]any) result.HardCheck {
	o := regulation.Check(reg, relevant)
	return hardCheck(reg, o.Passed, o.Reason, result.FromRules)
}

func hardCheck(reg regulation.Regulation, passed bool, details string, src result.Source) result.HardCheck {
	h := result.HardCheck{
		RegulationID:   reg.ID,
		RegulationName: reg.Name,
		Passed:         passed,
		Details:        details,
		Source:         src,
	}
	if !passed {
		h.FailureReason = fmt.Sprintf("Failed to meet %s requirements", reg.Name)
	}
	return h
}

// scoreSoft mirrors checkHard for the weighted 1-5 regulations.
func (s *Service) scoreSoft(ctx context.Context, r *run) []result.SoftScore {
	regs := s.regs.Soft
	if len(regs) == 0 {
		r.session.LogStep("soft_regulations_scoring", map[string]any{"count": 0}, "")
		return nil
	}

	relevant := make([]map[string]any, len(regs))
	for i, reg := range regs {
		relevant[i] = relevantData(reg, r.data, r.mapping, r.verification)
	}

	out := make([]result.SoftScore, len(regs))
	prompts, err := s.renderAll(prompt.SoftScore, regs, r, relevant, func(reg regulation.Regulation) any {
		return reg.ScoringCriteria
	})
	var contents []string
	if err == nil {
		contents, err = s.batch(ctx, prompts)
	}
	if err != nil {
		r.log.WithField("error", err.Error()).Warn("soft regulation batch failed, using deterministic rules")
		r.res.Warn("soft regulation batch failed, scored with deterministic rules: %v", err)
		for i, reg := range regs {
			out[i] = ruleSoft(reg, relevant[i])
		}
	} else {
		for i, reg := range regs {
			r.session.LogInteraction("soft_regulation_score", prompts[i], contents[i], "",
				map[string]any{"regulation_id": reg.ID})
			score, ok := ParseSoft(contents[i])
			if !ok {
				r.log.WithField("regulation_id", reg.ID).Debug("no 1-5 score in response, using deterministic rule")
				r.res.Warn("%s: response had no 1-5 score, scored with deterministic rule", reg.ID)
				out[i] = ruleSoft(reg, relevant[i])
				continue
			}
			out[i] = softScore(reg, score, strings.TrimSpace(contents[i]), result.FromLLM)
		}
	}

	for _, sc := range out {
		r.session.LogRegulationCheck(audit.RegulationCheck{
			RegulationID: sc.RegulationID,
			Kind:         string(regulation.Soft),
			Outcome:      sc.Score,
			Source:       string(sc.Source),
			Reasoning:    sc.Details,
		})
	}
	r.session.LogStep("soft_regulations_scoring", map[string]any{"count": len(out)}, "")
	return out
}

func ruleSoft(reg regulation.Regulation, relevant map[string]any) result.SoftScore {
	o := regulation.Score(reg, relevant)
	return softScore(reg, o.Score, o.Reason, result.FromRules)
}

func softScore(reg regulation.Regulation, score int, details string, src result.Source) result.SoftScore {
	return result.SoftScore{
		RegulationID:   reg.ID,
		RegulationName: reg.Name,
		Score:          score,
		MaxScore:       result.MaxScore,
		Weight:         reg.Weight,
		WeightedScore:  float64(score) * reg.Weight,
		Details:        details,
		Source:         src,
	}
}

func (s *Service) renderAll(name string, regs []regulation.Regulation, r *run, relevant []map[string]any, criteria func(regulation.Regulation) any) ([]string, error) {
	prompts := make([]string, len(regs))
	for i, reg := range regs {
		text, err := s.prompts.Render(name, s.vars(reg, criteria(reg), r, relevant[i]))
		if err != nil {
			return nil, fmt.Errorf("rendering %s prompt for %s: %w", name, reg.ID, err)
		}
		prompts[i] = text
	}
	return prompts, nil
}

// batch submits prompts as one ordered batch and returns the contents.
func (s *Service) batch(ctx context.Context, prompts []string) ([]string, error) {
	resps, err := s.gen.GenerateBatchAsync(ctx, prompts)
	if err != nil {
		return nil, err
	}
	if len(resps) != len(prompts) {
		return nil, fmt.Errorf("batch returned %d responses for %d prompts", len(resps), len(prompts))
	}
	out := make([]string, len(resps))
	for i, resp := range resps {
		if resp == nil {
			return nil, fmt.Errorf("batch response %d is empty", i)
		}
		out[i] = resp.Content
	}
	return out, nil
}

func (s *Service) logAggregation(r *run) {
	res := r.res

	failed := res.FailedChecks()
	reasons := make([]string, len(failed))
	for i, h := range failed {
		reasons[i] = h.RegulationID + ": " + h.FailureReason
	}
	hardSummary := fmt.Sprintf("%d of %d hard regulations passed", len(res.HardDetails)-len(failed), len(res.HardDetails))
	r.session.LogDecision(audit.Decision{
		Type:           "hard_regulations_summary",
		Decision:       hardSummary,
		Reasoning:      strings.Join(reasons, "; "),
		SupportingData: map[string]any{"hard_regulations": res.HardRegulations},
		Confidence:     1,
	})
	r.session.LogDecision(audit.Decision{
		Type:           "soft_regulations_summary",
		Decision:       fmt.Sprintf("weighted average %.2f", res.WeightedAverage),
		Reasoning:      fmt.Sprintf("%d soft regulations scored", len(res.SoftDetails)),
		SupportingData: map[string]any{"soft_regulations": res.SoftRegulations},
		Confidence:     1,
	})

	reasoning := "all hard regulations passed"
	switch res.Status {
	case result.NonCompliant:
		reasoning = "failed: " + strings.Join(reasons, "; ")
	case result.Failed:
		reasoning = strings.Join(res.Errors, "; ")
	}
	r.session.LogDecision(audit.Decision{
		Type:      "final_compliance_decision",
		Decision:  string(res.Status),
		Reasoning: reasoning,
		SupportingData: map[string]any{
			"score":        res.Score,
			"is_compliant": res.IsCompliant,
		},
		Confidence: 1,
	})
	r.session.LogStep("aggregation", map[string]any{
		"score":             res.Score,
		"compliance_status": res.Status,
	}, "")
}

// report runs the best-effort report phase. Failures become audit events and
// warnings, never run failures.
func (s *Service) report(ctx context.Context, r *run) {
	if s.reporter == nil {
		return
	}
	path, err := s.reporter.Write(r.res, r.session)
	if err != nil {
		r.log.WithField("error", err.Error()).Warn("report generation failed")
		r.res.Warn("report generation failed: %v", err)
		_ = s.audit.Event(ctx, audit.Event{
			Type:       audit.EventReportFailed,
			SessionID:  r.session.ID,
			ProviderID: r.id,
			Data:       map[string]any{"error": err.Error()},
		})
		return
	}
	r.session.LogStep("report", map[string]any{"path": path}, "")
	_ = s.audit.Event(ctx, audit.Event{
		Type:       audit.EventReport,
		SessionID:  r.session.ID,
		ProviderID: r.id,
		Data:       map[string]any{"path": path},
	})
}
