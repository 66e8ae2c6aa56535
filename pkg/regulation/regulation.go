package regulation

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Kind distinguishes boolean gates from weighted scores.
type Kind string

const (
	Hard Kind = "hard"
	Soft Kind = "soft"
)

// Regulation is one credentialing rule. Hard regulations carry
// ValidationCriteria and yield pass/fail; soft regulations carry
// ScoringCriteria and a Weight and yield a 1-5 score.
type Regulation struct {
	ID                 string           `yaml:"id" json:"id" validate:"required"`
	Name               string           `yaml:"name" json:"name" validate:"required"`
	Description        string           `yaml:"description" json:"description,omitempty"`
	DataFields         []string         `yaml:"data_fields" json:"data_fields"`
	Kind               Kind             `yaml:"-" json:"kind"`
	ValidationCriteria map[string]any   `yaml:"validation_criteria,omitempty" json:"validation_criteria,omitempty"`
	FailureConsequence string           `yaml:"failure_consequence,omitempty" json:"failure_consequence,omitempty"`
	ScoringCriteria    *ScoringCriteria `yaml:"scoring_criteria,omitempty" json:"scoring_criteria,omitempty"`
	Weight             float64          `yaml:"weight" json:"weight,omitempty" validate:"gte=0,lte=1"`
}

// ScoringCriteria describes how a soft regulation is scored without an LLM.
// Field is a dotted path into the provider data, for example
// "WorkHistory.years_experience". Thresholds are descending minimums for
// scores 5, 4, 3 and 2; anything below the last threshold scores 1.
type ScoringCriteria struct {
	Field      string         `yaml:"field" json:"field,omitempty"`
	Thresholds []float64      `yaml:"thresholds" json:"thresholds,omitempty" validate:"max=4"`
	Criteria   map[string]int `yaml:"criteria,omitempty" json:"criteria,omitempty"`
}

// Set is the full rule book loaded at service start.
type Set struct {
	Hard []Regulation `yaml:"hard_regulations" json:"hard_regulations" validate:"dive"`
	Soft []Regulation `yaml:"soft_regulations" json:"soft_regulations" validate:"dive"`
}

type file struct {
	Regulations Set `yaml:"regulations"`
}

// Load reads a regulation set from a YAML or JSON file shaped as
// {regulations: {hard_regulations: [...], soft_regulations: [...]}}.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading regulations file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a regulation set.
func Parse(data []byte) (*Set, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing regulations: %w", err)
	}

	s := &f.Regulations
	s.applyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Set) applyDefaults() {
	for i := range s.Hard {
		s.Hard[i].Kind = Hard
	}
	for i := range s.Soft {
		s.Soft[i].Kind = Soft
		if s.Soft[i].ScoringCriteria == nil {
			s.Soft[i].ScoringCriteria = &ScoringCriteria{}
		}
	}
}

var validate = validator.New()

// Validate checks field constraints and cross-regulation invariants.
func (s *Set) Validate() error {
	var errs []error
	if err := validate.Struct(s); err != nil {
		errs = append(errs, fmt.Errorf("regulation validation failed: %w", err))
	}

	seen := make(map[string]bool)
	for _, r := range s.All() {
		if r.ID == "" {
			continue
		}
		if seen[r.ID] {
			errs = append(errs, fmt.Errorf("duplicate regulation id %q", r.ID))
		}
		seen[r.ID] = true
	}

	for _, r := range s.Hard {
		if len(r.ValidationCriteria) == 0 {
			errs = append(errs, fmt.Errorf("hard regulation %q: validation_criteria is required", r.ID))
		}
	}
	for _, r := range s.Soft {
		th := r.ScoringCriteria.Thresholds
		for i := 1; i < len(th); i++ {
			if th[i] > th[i-1] {
				errs = append(errs, fmt.Errorf("soft regulation %q: thresholds must be descending", r.ID))
				break
			}
		}
	}

	return errors.Join(errs...)
}

// All returns hard regulations followed by soft regulations.
func (s *Set) All() []Regulation {
	out := make([]Regulation, 0, len(s.Hard)+len(s.Soft))
	out = append(out, s.Hard...)
	return append(out, s.Soft...)
}

// Get looks a regulation up by id.
func (s *Set) Get(id string) (Regulation, bool) {
	for _, r := range s.All() {
		if r.ID == id {
			return r, true
		}
	}
	return Regulation{}, false
}

// TotalWeight sums the weights of all soft regulations.
func (s *Set) TotalWeight() float64 {
	var w float64
	for _, r := range s.Soft {
		w += r.Weight
	}
	return w
}
