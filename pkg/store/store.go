// Package store keeps the latest credentialing result per provider and the
// LLM usage recorded while producing them.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jdgilhuly/go_credential_agent/pkg/result"
)

// ErrNotFound is returned when no result exists for a provider.
var ErrNotFound = errors.New("result not found")

// Results stores one result per provider id. Put replaces any earlier
// result for the same provider (last write wins); concurrent runs for the
// same provider race and the later Put is kept.
type Results interface {
	Put(ctx context.Context, r *result.CredentialingResult) error
	Get(ctx context.Context, providerID string) (*result.CredentialingResult, error)
	List(ctx context.Context) ([]*result.CredentialingResult, error)
}

// Memory is an in-process Results store.
type Memory struct {
	mu      sync.RWMutex
	results map[string]*result.CredentialingResult
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{results: make(map[string]*result.CredentialingResult)}
}

// Put stores r under its provider id.
func (m *Memory) Put(_ context.Context, r *result.CredentialingResult) error {
	if r == nil || r.ProviderID == "" {
		return fmt.Errorf("result without provider id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[r.ProviderID] = r
	return nil
}

// Get returns the latest result for providerID.
func (m *Memory) Get(_ context.Context, providerID string) (*result.CredentialingResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[providerID]
	if !ok {
		return nil, fmt.Errorf("provider %q: %w", providerID, ErrNotFound)
	}
	return r, nil
}

// List returns every stored result ordered by provider id.
func (m *Memory) List(_ context.Context) ([]*result.CredentialingResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*result.CredentialingResult, 0, len(m.results))
	for _, r := range m.results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProviderID < out[j].ProviderID })
	return out, nil
}
