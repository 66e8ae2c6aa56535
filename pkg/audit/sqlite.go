package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteSink keeps the audit trail and session documents in a dedicated
// SQLite database.
type SQLiteSink struct {
	db *sql.DB
}

// OpenSQLite opens the audit database at path and creates the schema.
func OpenSQLite(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS audit_events (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at  DATETIME NOT NULL,
		event_type  TEXT NOT NULL,
		session_id  TEXT,
		provider_id TEXT,
		event_data  TEXT NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_audit_events_provider ON audit_events(provider_id, created_at)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS sessions (
		session_id  TEXT PRIMARY KEY,
		provider_id TEXT NOT NULL,
		start_time  DATETIME NOT NULL,
		end_time    DATETIME,
		document    TEXT NOT NULL
	)`)
	return err
}

// WriteEvent inserts one trail entry.
func (s *SQLiteSink) WriteEvent(ctx context.Context, e Event) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("marshaling event data: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_events (created_at, event_type, session_id, provider_id, event_data)
		 VALUES (?, ?, ?, ?, ?)`,
		e.Timestamp.UTC(), e.Type, e.SessionID, e.ProviderID, string(data),
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// WriteSession upserts the session document.
func (s *SQLiteSink) WriteSession(ctx context.Context, sess *Session) error {
	doc, err := sess.JSON()
	if err != nil {
		return fmt.Errorf("marshaling session %s: %w", sess.ID, err)
	}

	var end any
	sess.mu.Lock()
	if sess.EndTime != nil {
		end = sess.EndTime.UTC()
	}
	start := sess.StartTime.UTC()
	sess.mu.Unlock()

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions (session_id, provider_id, start_time, end_time, document)
		 VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.ProviderID, start, end, string(doc),
	)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", sess.ID, err)
	}
	return nil
}

// Events returns trail entries matching q, newest first.
func (s *SQLiteSink) Events(ctx context.Context, q Query) ([]Event, error) {
	stmt := `SELECT created_at, event_type, session_id, provider_id, event_data
		FROM audit_events WHERE 1=1`
	var args []any

	if q.ProviderID != "" {
		stmt += " AND provider_id = ?"
		args = append(args, q.ProviderID)
	}
	if q.SessionID != "" {
		stmt += " AND session_id = ?"
		args = append(args, q.SessionID)
	}
	if q.Type != "" {
		stmt += " AND event_type = ?"
		args = append(args, q.Type)
	}
	if !q.Since.IsZero() {
		stmt += " AND created_at >= ?"
		args = append(args, q.Since.UTC())
	}

	stmt += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, q.limit())

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var sessionID, providerID sql.NullString
		var data string
		if err := rows.Scan(&e.Timestamp, &e.Type, &sessionID, &providerID, &data); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.SessionID = sessionID.String
		e.ProviderID = providerID.String
		if err := json.Unmarshal([]byte(data), &e.Data); err != nil {
			e.Data = map[string]any{"raw": data}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Session reads back a session document.
func (s *SQLiteSink) Session(ctx context.Context, id string) (*Session, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM sessions WHERE session_id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query session %s: %w", id, err)
	}
	return ParseSession([]byte(doc))
}

// SessionSummary is one row of the session history.
type SessionSummary struct {
	ID         string     `json:"session_id"`
	ProviderID string     `json:"provider_id"`
	StartTime  time.Time  `json:"start_time"`
	EndTime    *time.Time `json:"end_time,omitempty"`
}

// Sessions lists the sessions for providerID, or all sessions when it is
// empty, newest first.
func (s *SQLiteSink) Sessions(ctx context.Context, providerID string, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	stmt := `SELECT session_id, provider_id, start_time, end_time FROM sessions`
	var args []any
	if providerID != "" {
		stmt += " WHERE provider_id = ?"
		args = append(args, providerID)
	}
	stmt += " ORDER BY start_time DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var ss SessionSummary
		var end sql.NullTime
		if err := rows.Scan(&ss.ID, &ss.ProviderID, &ss.StartTime, &end); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if end.Valid {
			t := end.Time
			ss.EndTime = &t
		}
		out = append(out, ss)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
