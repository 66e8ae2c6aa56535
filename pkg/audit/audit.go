package audit

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
)

// Event types written to the audit trail.
const (
	EventStarted      = "credentialing_started"
	EventCompleted    = "credentialing_completed"
	EventFailed       = "credentialing_failed"
	EventReport       = "comprehensive_report_generated"
	EventReportFailed = "comprehensive_report_generation_failed"
	EventReviewed     = "human_review_recorded"
)

// ErrNotFound is returned when a session id is unknown to a sink.
var ErrNotFound = errors.New("audit record not found")

// Event is one entry of the append-only audit trail.
type Event struct {
	Timestamp  time.Time      `json:"timestamp"`
	Type       string         `json:"event_type"`
	SessionID  string         `json:"session_id,omitempty"`
	ProviderID string         `json:"provider_id,omitempty"`
	Data       map[string]any `json:"event_data"`
}

// Query filters audit trail reads. Zero fields match everything; Limit
// defaults to 100.
type Query struct {
	ProviderID string
	SessionID  string
	Type       string
	Since      time.Time
	Limit      int
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return 100
	}
	return q.Limit
}

func (q Query) matches(e Event) bool {
	if q.ProviderID != "" && e.ProviderID != q.ProviderID {
		return false
	}
	if q.SessionID != "" && e.SessionID != q.SessionID {
		return false
	}
	if q.Type != "" && e.Type != q.Type {
		return false
	}
	if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
		return false
	}
	return true
}

// Sink persists sessions and events.
type Sink interface {
	WriteEvent(ctx context.Context, e Event) error
	WriteSession(ctx context.Context, s *Session) error
}

// Reader reads back what a Sink persisted. Events are returned newest first.
type Reader interface {
	Events(ctx context.Context, q Query) ([]Event, error)
	Session(ctx context.Context, id string) (*Session, error)
}

// Logger fans audit writes out to every configured sink and serves reads
// from the first sink that is also a Reader. A nil Logger discards writes.
type Logger struct {
	sinks []Sink
}

// NewLogger returns a Logger over sinks.
func NewLogger(sinks ...Sink) *Logger {
	return &Logger{sinks: sinks}
}

// Event stamps and writes e to every sink. Sink failures are logged and
// joined into the returned error.
func (l *Logger) Event(ctx context.Context, e Event) error {
	if l == nil {
		return nil
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Data == nil {
		e.Data = map[string]any{}
	}
	var errs []error
	for _, s := range l.sinks {
		if err := s.WriteEvent(ctx, e); err != nil {
			log.WithFields(log.Fields{
				"event_type": e.Type,
				"error":      err.Error(),
			}).Warn("audit event write failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SaveSession writes the session document to every sink.
func (l *Logger) SaveSession(ctx context.Context, s *Session) error {
	if l == nil || s == nil {
		return nil
	}
	var errs []error
	for _, sink := range l.sinks {
		if err := sink.WriteSession(ctx, s); err != nil {
			log.WithFields(log.Fields{
				"session_id": s.ID,
				"error":      err.Error(),
			}).Warn("audit session write failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (l *Logger) reader() Reader {
	if l == nil {
		return nil
	}
	for _, s := range l.sinks {
		if r, ok := s.(Reader); ok {
			return r
		}
	}
	return nil
}

// Events returns trail entries matching q, newest first. Without a readable
// sink it returns no events.
func (l *Logger) Events(ctx context.Context, q Query) ([]Event, error) {
	r := l.reader()
	if r == nil {
		return nil, nil
	}
	return r.Events(ctx, q)
}

// Session returns a stored session document.
func (l *Logger) Session(ctx context.Context, id string) (*Session, error) {
	r := l.reader()
	if r == nil {
		return nil, ErrNotFound
	}
	return r.Session(ctx, id)
}
