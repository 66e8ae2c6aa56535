// Package audit records what happened during each credentialing run: a
// per-session document of steps, LLM interactions and decisions, plus an
// append-only trail of lifecycle events.
package audit

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session captures the full trace of one credentialing run. It is safe for
// concurrent use.
type Session struct {
	ID               string               `json:"session_id"`
	ProviderID       string               `json:"provider_id"`
	StartTime        time.Time            `json:"start_time"`
	EndTime          *time.Time           `json:"end_time,omitempty"`
	Steps            []Step               `json:"steps"`
	LLMReasoning     []Interaction        `json:"llm_reasoning"`
	DataPoints       map[string]DataPoint `json:"data_points"`
	Decisions        []Decision           `json:"decisions"`
	RegulationChecks []RegulationCheck    `json:"regulation_checks"`
	FinalResult      *FinalResult         `json:"final_result,omitempty"`

	mu sync.Mutex
}

// Step is one pipeline phase.
type Step struct {
	Name      string         `json:"step_name"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
	Reasoning string         `json:"llm_reasoning,omitempty"`
}

// Interaction is one prompt/response exchange with the LLM.
type Interaction struct {
	Type       string         `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	Prompt     string         `json:"prompt"`
	Response   string         `json:"response"`
	Reasoning  string         `json:"reasoning,omitempty"`
	DataPoints map[string]any `json:"data_points,omitempty"`
}

// DataPoint is a named snapshot of data a step worked from.
type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Decision is a conclusion the pipeline reached and why.
type Decision struct {
	Type           string         `json:"type"`
	Decision       string         `json:"decision"`
	Reasoning      string         `json:"reasoning"`
	SupportingData map[string]any `json:"supporting_data,omitempty"`
	Confidence     float64        `json:"confidence"`
	Timestamp      time.Time      `json:"timestamp"`
}

// RegulationCheck is the verdict on one regulation.
type RegulationCheck struct {
	RegulationID string    `json:"regulation_id"`
	Kind         string    `json:"kind"`
	Outcome      any       `json:"outcome"`
	Source       string    `json:"source"`
	Reasoning    string    `json:"reasoning"`
	Timestamp    time.Time `json:"timestamp"`
}

// FinalResult wraps the result the session ended with.
type FinalResult struct {
	Timestamp time.Time `json:"timestamp"`
	Result    any       `json:"result"`
}

// NewSession starts a session for providerID. The id embeds the provider and
// start time plus a random suffix so runs in the same second stay distinct.
func NewSession(providerID string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:         fmt.Sprintf("%s_%s_%s", providerID, now.Format("20060102_150405"), uuid.NewString()[:8]),
		ProviderID: providerID,
		StartTime:  now,
		DataPoints: map[string]DataPoint{},
	}
}

// LogStep appends a pipeline step.
func (s *Session) LogStep(name string, data map[string]any, reasoning string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Steps = append(s.Steps, Step{
		Name:      name,
		Timestamp: time.Now().UTC(),
		Data:      data,
		Reasoning: reasoning,
	})
}

// LogInteraction appends an LLM exchange.
func (s *Session) LogInteraction(kind, prompt, response, reasoning string, dataPoints map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LLMReasoning = append(s.LLMReasoning, Interaction{
		Type:       kind,
		Timestamp:  time.Now().UTC(),
		Prompt:     prompt,
		Response:   response,
		Reasoning:  reasoning,
		DataPoints: dataPoints,
	})
}

// LogDataPoint stores data under name, replacing any earlier value.
func (s *Session) LogDataPoint(name string, data any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DataPoints[name] = DataPoint{Timestamp: time.Now().UTC(), Data: data}
}

// LogDecision appends a decision.
func (s *Session) LogDecision(d Decision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now().UTC()
	}
	s.Decisions = append(s.Decisions, d)
}

// LogRegulationCheck appends a regulation verdict.
func (s *Session) LogRegulationCheck(c RegulationCheck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now().UTC()
	}
	s.RegulationChecks = append(s.RegulationChecks, c)
}

// Finish records the final result and the end time.
func (s *Session) Finish(result any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	s.FinalResult = &FinalResult{Timestamp: now, Result: result}
	s.EndTime = &now
}

// StepNames returns the recorded step names in order.
func (s *Session) StepNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.Steps))
	for i, st := range s.Steps {
		names[i] = st.Name
	}
	return names
}

// GetDecisions returns a copy of the recorded decisions.
func (s *Session) GetDecisions() []Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Decision, len(s.Decisions))
	copy(out, s.Decisions)
	return out
}

// GetInteractions returns a copy of the recorded LLM exchanges.
func (s *Session) GetInteractions() []Interaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Interaction, len(s.LLMReasoning))
	copy(out, s.LLMReasoning)
	return out
}

// CheckCount returns how many regulation verdicts were recorded.
func (s *Session) CheckCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.RegulationChecks)
}

// JSON serializes the session to indented JSON bytes.
func (s *Session) JSON() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.MarshalIndent(s, "", "  ")
}

// ParseSession decodes a session document.
func ParseSession(data []byte) (*Session, error) {
	s := &Session{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing session: %w", err)
	}
	if s.DataPoints == nil {
		s.DataPoints = map[string]DataPoint{}
	}
	return s, nil
}
