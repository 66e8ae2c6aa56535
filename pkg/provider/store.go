package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when a provider id is not in the store.
var ErrNotFound = errors.New("provider not found")

var validate = validator.New()

// Store is an immutable, in-memory provider directory. It is safe for
// concurrent reads.
type Store struct {
	byID  map[string]*Provider
	order []string
}

type file struct {
	Providers []*Provider `yaml:"providers"`
}

// Load reads providers from a YAML or JSON file shaped as
// {providers: [...]}.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading providers file %s: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("loading providers file %s: %w", path, err)
	}
	return s, nil
}

// Parse decodes and validates a provider file.
func Parse(data []byte) (*Store, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing providers: %w", err)
	}
	return NewStore(f.Providers...)
}

// NewStore builds a store from already-decoded providers. Every record is
// validated; ids must be unique.
func NewStore(providers ...*Provider) (*Store, error) {
	s := &Store{byID: make(map[string]*Provider, len(providers))}
	var errs []error
	for i, p := range providers {
		if p == nil {
			errs = append(errs, fmt.Errorf("provider %d: empty record", i))
			continue
		}
		if err := validate.Struct(p); err != nil {
			errs = append(errs, fmt.Errorf("provider %d (%s): %w", i, p.ID, err))
			continue
		}
		if _, dup := s.byID[p.ID]; dup {
			errs = append(errs, fmt.Errorf("duplicate provider id %q", p.ID))
			continue
		}
		s.byID[p.ID] = p
		s.order = append(s.order, p.ID)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the provider with the given id.
func (s *Store) Get(id string) (*Provider, error) {
	p, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p, nil
}

// List returns all providers in file order.
func (s *Store) List() []*Provider {
	out := make([]*Provider, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// IDs returns all provider ids in file order.
func (s *Store) IDs() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of providers.
func (s *Store) Len() int { return len(s.order) }

// Search returns providers matching every criterion. A key naming a section
// with a map value matches when each listed sub-field is equal; any other key
// is looked up as a field inside whichever section defines it.
func (s *Store) Search(criteria map[string]any) []*Provider {
	want := normalize(criteria)
	var out []*Provider
	for _, p := range s.List() {
		if matches(p.Data(), want) {
			out = append(out, p)
		}
	}
	return out
}

// BySpecialty returns providers whose primary specialty equals specialty.
func (s *Store) BySpecialty(specialty string) []*Provider {
	return s.Search(map[string]any{"Specialties": map[string]any{"primary_specialty": specialty}})
}

// ByMinExperience returns providers with at least years of experience.
func (s *Store) ByMinExperience(years int) []*Provider {
	var out []*Provider
	for _, p := range s.List() {
		if p.WorkHistory.YearsExperience >= years {
			out = append(out, p)
		}
	}
	return out
}

// ByLocation returns providers whose practice address contains location,
// case-insensitively.
func (s *Store) ByLocation(location string) []*Provider {
	loc := strings.ToLower(location)
	var out []*Provider
	for _, p := range s.List() {
		if strings.Contains(strings.ToLower(p.PracticeInformation.PracticeAddress), loc) {
			out = append(out, p)
		}
	}
	return out
}

func matches(data, criteria map[string]any) bool {
	for key, want := range criteria {
		if got, ok := data[key]; ok {
			sub, isMap := want.(map[string]any)
			gotMap, gotIsMap := got.(map[string]any)
			if isMap && gotIsMap {
				for k, v := range sub {
					if !reflect.DeepEqual(gotMap[k], v) {
						return false
					}
				}
				continue
			}
			if !reflect.DeepEqual(got, want) {
				return false
			}
			continue
		}

		found := false
		for _, name := range Sections {
			sec, ok := data[name].(map[string]any)
			if !ok {
				continue
			}
			if v, ok := sec[key]; ok {
				if !reflect.DeepEqual(v, want) {
					return false
				}
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// normalize gives criteria the same JSON-decoded shape as Provider.Data.
func normalize(criteria map[string]any) map[string]any {
	raw, err := json.Marshal(criteria)
	if err != nil {
		return criteria
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return criteria
	}
	return out
}
