package audit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestSession_Log(t *testing.T) {
	s := NewSession("DR001")
	if !strings.HasPrefix(s.ID, "DR001_") {
		t.Errorf("ID = %q, want DR001_ prefix", s.ID)
	}
	if other := NewSession("DR001"); other.ID == s.ID {
		t.Error("session ids should be unique")
	}

	s.LogStep("provider_retrieval", map[string]any{"found": true}, "")
	s.LogInteraction("hard_regulation_check", "prompt", "PASS", "PASS", nil)
	s.LogDataPoint("mapping", map[string]any{"HR001": "x"})
	s.LogDecision(Decision{Type: "final_compliance_decision", Decision: "COMPLIANT", Confidence: 1})
	s.LogRegulationCheck(RegulationCheck{RegulationID: "HR001", Kind: "hard", Outcome: true, Source: "llm"})
	s.Finish(map[string]any{"compliance_status": "COMPLIANT"})

	if got := s.StepNames(); len(got) != 1 || got[0] != "provider_retrieval" {
		t.Errorf("StepNames() = %v", got)
	}
	if d := s.GetDecisions(); len(d) != 1 || d[0].Timestamp.IsZero() {
		t.Errorf("GetDecisions() = %+v", d)
	}
	if len(s.GetInteractions()) != 1 {
		t.Error("interaction not recorded")
	}
	if s.EndTime == nil || s.FinalResult == nil {
		t.Error("Finish() should set end time and final result")
	}
}

func TestSession_JSONRoundTrip(t *testing.T) {
	s := NewSession("DR002")
	s.LogStep("aggregation", map[string]any{"score": 3}, "")
	s.Finish("done")

	data, err := s.JSON()
	if err != nil {
		t.Fatal(err)
	}
	got, err := ParseSession(data)
	if err != nil {
		t.Fatalf("ParseSession() error: %v", err)
	}
	if got.ID != s.ID || len(got.Steps) != 1 || got.FinalResult.Result != "done" {
		t.Errorf("parsed = %+v", got)
	}
}

func TestSession_Concurrent(t *testing.T) {
	s := NewSession("DR001")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.LogInteraction("soft_regulation_score", "p", "4", "", nil)
		}()
	}
	wg.Wait()
	if n := len(s.GetInteractions()); n != 50 {
		t.Errorf("interactions = %d, want 50", n)
	}
}

// sinks returns a fresh instance of every sink implementation.
func sinks(t *testing.T) map[string]interface {
	Sink
	Reader
} {
	t.Helper()
	fileSink, err := NewFileSink(filepath.Join(t.TempDir(), "logs"))
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	dbSink, err := OpenSQLite(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = dbSink.Close() })
	return map[string]interface {
		Sink
		Reader
	}{"file": fileSink, "sqlite": dbSink}
}

func TestSinks_Events(t *testing.T) {
	for name, sink := range sinks(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
			events := []Event{
				{Timestamp: base, Type: EventStarted, ProviderID: "DR001", SessionID: "s1", Data: map[string]any{"n": 1}},
				{Timestamp: base.Add(time.Second), Type: EventCompleted, ProviderID: "DR001", SessionID: "s1", Data: map[string]any{"n": 2}},
				{Timestamp: base.Add(2 * time.Second), Type: EventStarted, ProviderID: "DR002", SessionID: "s2", Data: map[string]any{"n": 3}},
			}
			for _, e := range events {
				if err := sink.WriteEvent(ctx, e); err != nil {
					t.Fatalf("WriteEvent: %v", err)
				}
			}

			all, err := sink.Events(ctx, Query{})
			if err != nil {
				t.Fatalf("Events: %v", err)
			}
			if len(all) != 3 || all[0].ProviderID != "DR002" {
				t.Fatalf("Events() = %+v, want 3 newest first", all)
			}

			byProvider, _ := sink.Events(ctx, Query{ProviderID: "DR001"})
			if len(byProvider) != 2 {
				t.Errorf("provider filter = %d, want 2", len(byProvider))
			}
			byType, _ := sink.Events(ctx, Query{Type: EventCompleted})
			if len(byType) != 1 || byType[0].Data["n"] != float64(2) {
				t.Errorf("type filter = %+v", byType)
			}
			limited, _ := sink.Events(ctx, Query{Limit: 1})
			if len(limited) != 1 {
				t.Errorf("limit = %d, want 1", len(limited))
			}
			since, _ := sink.Events(ctx, Query{Since: base.Add(time.Second)})
			if len(since) != 2 {
				t.Errorf("since filter = %d, want 2", len(since))
			}
		})
	}
}

func TestSinks_Session(t *testing.T) {
	for name, sink := range sinks(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := NewSession("DR003")
			s.LogStep("provider_retrieval", nil, "")
			if err := sink.WriteSession(ctx, s); err != nil {
				t.Fatalf("WriteSession: %v", err)
			}
			s.Finish("ok")
			if err := sink.WriteSession(ctx, s); err != nil {
				t.Fatalf("WriteSession (update): %v", err)
			}

			got, err := sink.Session(ctx, s.ID)
			if err != nil {
				t.Fatalf("Session: %v", err)
			}
			if got.ProviderID != "DR003" || got.FinalResult == nil {
				t.Errorf("Session() = %+v", got)
			}

			if _, err := sink.Session(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Session(missing) error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestFileSink_Layout(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFileSink(dir)
	if err != nil {
		t.Fatal(err)
	}
	s := NewSession("DR001")
	if err := f.WriteSession(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "credentialing_"+s.ID+".json")); err != nil {
		t.Errorf("session file missing: %v", err)
	}
	if _, err := f.Session(context.Background(), "../etc/passwd"); !errors.Is(err, ErrNotFound) {
		t.Errorf("path traversal should be rejected, got %v", err)
	}
	if events, err := f.Events(context.Background(), Query{}); err != nil || events != nil {
		t.Errorf("Events() without trail = %v, %v", events, err)
	}
}

func TestSQLiteSink_Sessions(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	ctx := context.Background()

	for _, id := range []string{"DR001", "DR001", "DR002"} {
		s := NewSession(id)
		s.Finish(nil)
		if err := db.WriteSession(ctx, s); err != nil {
			t.Fatal(err)
		}
	}
	all, err := db.Sessions(ctx, "", 0)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Sessions() = %d, want 3", len(all))
	}
	mine, _ := db.Sessions(ctx, "DR001", 10)
	if len(mine) != 2 || mine[0].EndTime == nil {
		t.Errorf("Sessions(DR001) = %+v", mine)
	}
}

type failingSink struct{}

func (failingSink) WriteEvent(context.Context, Event) error { return errors.New("disk full") }
func (failingSink) WriteSession(context.Context, *Session) error { return errors.New("disk full") }

func TestLogger(t *testing.T) {
	ctx := context.Background()
	f, err := NewFileSink(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	l := NewLogger(failingSink{}, f)

	err = l.Event(ctx, Event{Type: EventStarted, ProviderID: "DR001"})
	if err == nil {
		t.Error("Event() should report the failing sink")
	}
	events, err := l.Events(ctx, Query{})
	if err != nil || len(events) != 1 {
		t.Fatalf("Events() = %v, %v", events, err)
	}
	if events[0].Timestamp.IsZero() || events[0].Data == nil {
		t.Errorf("event not stamped: %+v", events[0])
	}

	var nilLogger *Logger
	if err := nilLogger.Event(ctx, Event{}); err != nil {
		t.Errorf("nil Logger Event() = %v", err)
	}
	if _, err := nilLogger.Session(ctx, "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("nil Logger Session() = %v", err)
	}
}
