package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jdgilhuly/go_credential_agent/pkg/llm"
	"github.com/jdgilhuly/go_credential_agent/pkg/result"
)

const createResults = `
CREATE TABLE IF NOT EXISTS results (
	provider_id       TEXT PRIMARY KEY,
	compliance_status TEXT NOT NULL,
	score             INTEGER NOT NULL,
	updated_at        DATETIME NOT NULL,
	document          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_results_status ON results(compliance_status);
`

const createUsage = `
CREATE TABLE IF NOT EXISTS usage_records (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	model         TEXT NOT NULL,
	input_tokens  INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	total_tokens  INTEGER NOT NULL,
	input_cost    REAL NOT NULL,
	output_cost   REAL NOT NULL,
	total_cost    REAL NOT NULL,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_usage_model ON usage_records(model);
`

// SQLite persists results and LLM usage in one database. It implements
// Results and llm.Ledger.
type SQLite struct {
	db *sql.DB
}

// Open opens the database at path and runs auto-migration. The parent
// directory is created if needed.
func Open(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	if _, err := db.Exec(createResults); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate results table: %w", err)
	}
	if _, err := db.Exec(createUsage); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate usage table: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Put upserts the result for its provider.
func (s *SQLite) Put(ctx context.Context, r *result.CredentialingResult) error {
	if r == nil || r.ProviderID == "" {
		return fmt.Errorf("result without provider id")
	}
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO results (provider_id, compliance_status, score, updated_at, document)
		 VALUES (?, ?, ?, ?, ?)`,
		r.ProviderID, string(r.Status), r.Score, time.Now().UTC(), string(doc),
	)
	if err != nil {
		return fmt.Errorf("store result for %s: %w", r.ProviderID, err)
	}
	return nil
}

// Get returns the stored result for providerID.
func (s *SQLite) Get(ctx context.Context, providerID string) (*result.CredentialingResult, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM results WHERE provider_id = ?`, providerID,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("provider %q: %w", providerID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query result for %s: %w", providerID, err)
	}
	return decode(doc)
}

// List returns every stored result ordered by provider id.
func (s *SQLite) List(ctx context.Context) ([]*result.CredentialingResult, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT document FROM results ORDER BY provider_id`)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var out []*result.CredentialingResult
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r, err := decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func decode(doc string) (*result.CredentialingResult, error) {
	var r result.CredentialingResult
	if err := json.Unmarshal([]byte(doc), &r); err != nil {
		return nil, fmt.Errorf("decoding stored result: %w", err)
	}
	return &r, nil
}

// Record stores one priced LLM response.
func (s *SQLite) Record(r *llm.Response) error {
	_, err := s.db.Exec(
		`INSERT INTO usage_records (model, input_tokens, output_tokens, total_tokens,
		 input_cost, output_cost, total_cost, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Model, r.InputTokens, r.OutputTokens, r.TotalTokens,
		r.InputCost, r.OutputCost, r.TotalCost, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

const usageColumns = `COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0),
	COALESCE(SUM(total_tokens), 0), COALESCE(SUM(input_cost), 0),
	COALESCE(SUM(output_cost), 0), COALESCE(SUM(total_cost), 0)`

func scanTotals(row interface{ Scan(...any) error }, t *llm.Totals) error {
	return row.Scan(&t.Requests, &t.InputTokens, &t.OutputTokens, &t.TotalTokens,
		&t.InputCost, &t.OutputCost, &t.TotalCost)
}

// UsageTotals sums every recorded response, optionally since a time.
func (s *SQLite) UsageTotals(ctx context.Context, since time.Time) (llm.Totals, error) {
	q := `SELECT ` + usageColumns + ` FROM usage_records`
	var args []any
	if !since.IsZero() {
		q += ` WHERE created_at >= ?`
		args = append(args, since.UTC())
	}
	var t llm.Totals
	if err := scanTotals(s.db.QueryRowContext(ctx, q, args...), &t); err != nil {
		return llm.Totals{}, fmt.Errorf("usage totals: %w", err)
	}
	return t, nil
}

// UsageByModel sums recorded responses per model.
func (s *SQLite) UsageByModel(ctx context.Context) (map[string]llm.Totals, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT model, `+usageColumns+` FROM usage_records GROUP BY model ORDER BY model`)
	if err != nil {
		return nil, fmt.Errorf("usage by model: %w", err)
	}
	defer rows.Close()

	out := make(map[string]llm.Totals)
	for rows.Next() {
		var model string
		var t llm.Totals
		if err := rows.Scan(&model, &t.Requests, &t.InputTokens, &t.OutputTokens,
			&t.TotalTokens, &t.InputCost, &t.OutputCost, &t.TotalCost); err != nil {
			return nil, fmt.Errorf("scan usage row: %w", err)
		}
		out[model] = t
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
