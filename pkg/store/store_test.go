package store

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jdgilhuly/go_credential_agent/pkg/llm"
	"github.com/jdgilhuly/go_credential_agent/pkg/result"
)

func openSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func stores(t *testing.T) map[string]Results {
	return map[string]Results{
		"memory": NewMemory(),
		"sqlite": openSQLite(t),
	}
}

func mkResult(id string, status result.Status, score int) *result.CredentialingResult {
	r := result.New(id)
	r.Status = status
	r.Score = score
	return r
}

func TestResults_PutGet(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.Put(ctx, mkResult("DR001", result.NonCompliant, 2)); err != nil {
				t.Fatalf("Put: %v", err)
			}
			if err := s.Put(ctx, mkResult("DR001", result.Compliant, 5)); err != nil {
				t.Fatalf("Put (replace): %v", err)
			}

			got, err := s.Get(ctx, "DR001")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.Status != result.Compliant || got.Score != 5 {
				t.Errorf("Get() = %s/%d, want the later result", got.Status, got.Score)
			}

			if _, err := s.Get(ctx, "NOPE"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get(NOPE) error = %v, want ErrNotFound", err)
			}
			if err := s.Put(ctx, result.New("")); err == nil {
				t.Error("Put() without provider id should fail")
			}
		})
	}
}

func TestResults_List(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, id := range []string{"DR003", "DR001", "DR002"} {
				if err := s.Put(ctx, mkResult(id, result.Compliant, 3)); err != nil {
					t.Fatal(err)
				}
			}
			list, err := s.List(ctx)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(list) != 3 || list[0].ProviderID != "DR001" || list[2].ProviderID != "DR003" {
				t.Errorf("List() not ordered by provider id: %v", list)
			}
		})
	}
}

func TestMemory_ConcurrentPut(t *testing.T) {
	m := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(score int) {
			defer wg.Done()
			_ = m.Put(context.Background(), mkResult("DR001", result.Compliant, score))
		}(i%5 + 1)
	}
	wg.Wait()
	list, _ := m.List(context.Background())
	if len(list) != 1 {
		t.Errorf("List() = %d entries, want 1", len(list))
	}
}

func TestSQLite_Usage(t *testing.T) {
	s := openSQLite(t)
	ctx := llm.WithLedger(context.Background(), s)

	llm.NewResponse(ctx, llm.StructuredCompletion("a", llm.Usage{InputTokens: 1000, OutputTokens: 1000}), "gpt-4o-mini")
	llm.NewResponse(ctx, llm.StructuredCompletion("b", llm.Usage{InputTokens: 500, OutputTokens: 0}), "gpt-4o-mini")
	llm.NewResponse(ctx, llm.StructuredCompletion("c", llm.Usage{InputTokens: 10, OutputTokens: 20}), "claude-3-haiku")

	totals, err := s.UsageTotals(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("UsageTotals: %v", err)
	}
	if totals.Requests != 3 || totals.InputTokens != 1510 || totals.OutputTokens != 1020 {
		t.Errorf("UsageTotals() = %+v", totals)
	}

	byModel, err := s.UsageByModel(context.Background())
	if err != nil {
		t.Fatalf("UsageByModel: %v", err)
	}
	mini := byModel["gpt-4o-mini"]
	if mini.Requests != 2 || math.Abs(mini.TotalCost-0.000825) > 1e-9 {
		t.Errorf("gpt-4o-mini totals = %+v", mini)
	}
	if len(byModel) != 2 {
		t.Errorf("UsageByModel() has %d models, want 2", len(byModel))
	}

	future, err := s.UsageTotals(context.Background(), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("UsageTotals(future): %v", err)
	}
	if future.Requests != 0 || future.TotalCost != 0 {
		t.Errorf("UsageTotals(future) = %+v, want zero", future)
	}
}

func TestSQLite_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	r := mkResult("DR002", result.NonCompliant, 2)
	r.Errors = []string{}
	r.Warnings = []string{"hard regulation batch failed"}
	if err := s.Put(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, err := s.Get(context.Background(), "DR002")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if len(got.Warnings) != 1 {
		t.Errorf("Warnings = %v", got.Warnings)
	}
}
