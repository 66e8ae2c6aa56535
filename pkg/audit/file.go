package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

// TrailFile is the name of the JSONL event trail inside a FileSink's dir.
const TrailFile = "audit_trail.jsonl"

// FileSink writes one JSON document per session and appends events as JSON
// lines, all under one directory.
type FileSink struct {
	dir string
	mu  sync.Mutex
}

// NewFileSink creates dir if needed.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating audit directory %s: %w", dir, err)
	}
	return &FileSink{dir: dir}, nil
}

func (f *FileSink) sessionPath(id string) string {
	return filepath.Join(f.dir, "credentialing_"+id+".json")
}

// WriteSession writes credentialing_<id>.json, replacing an earlier copy.
func (f *FileSink) WriteSession(_ context.Context, s *Session) error {
	data, err := s.JSON()
	if err != nil {
		return fmt.Errorf("marshaling session %s: %w", s.ID, err)
	}
	if err := os.WriteFile(f.sessionPath(s.ID), data, 0o644); err != nil {
		return fmt.Errorf("writing session %s: %w", s.ID, err)
	}
	return nil
}

// WriteEvent appends one line to the trail.
func (f *FileSink) WriteEvent(_ context.Context, e Event) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling audit event: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(filepath.Join(f.dir, TrailFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening audit trail: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("appending audit event: %w", err)
	}
	return nil
}

// Events scans the trail. Lines that do not decode are skipped.
func (f *FileSink) Events(_ context.Context, q Query) ([]Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.Open(filepath.Join(f.dir, TrailFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening audit trail: %w", err)
	}
	defer file.Close()

	var events []Event
	sc := bufio.NewScanner(file)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var e Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		if q.matches(e) {
			events = append(events, e)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading audit trail: %w", err)
	}

	slices.Reverse(events)
	if len(events) > q.limit() {
		events = events[:q.limit()]
	}
	return events, nil
}

// Session reads back a session document.
func (f *FileSink) Session(_ context.Context, id string) (*Session, error) {
	if id == "" || filepath.Base(id) != id {
		return nil, fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	data, err := os.ReadFile(f.sessionPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading session %s: %w", id, err)
	}
	return ParseSession(data)
}
