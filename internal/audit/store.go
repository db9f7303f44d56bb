package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Record is a single tools/call audit entry. Arguments and results are
// never persisted here — only call metadata — so audit storage carries no
// obligation to redact backend-specific secrets or PII (§4.8).
type Record struct {
	ID           string
	Timestamp    time.Time
	SessionID    string
	BackendName  string
	ExposedName  string
	UpstreamName string
	Status       string // "success" or "error"
	ErrorCode    string
	ErrorMessage string
	LatencyMs    int
}

// DB is the SQLite-backed audit log, independent of any other persistence
// layer in this repository: it owns a single table and nothing else.
type DB struct {
	db *sql.DB
}

// Open opens (creating if absent) a SQLite database at path and ensures
// the audit_records table exists.
func Open(ctx context.Context, path string) (*DB, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: ping sqlite: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}

	return &DB{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_records (
	id             TEXT PRIMARY KEY,
	timestamp      TEXT NOT NULL,
	session_id     TEXT NOT NULL,
	backend_name   TEXT NOT NULL,
	exposed_name   TEXT NOT NULL,
	upstream_name  TEXT NOT NULL,
	status         TEXT NOT NULL,
	error_code     TEXT,
	error_message  TEXT,
	latency_ms     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_records_timestamp ON audit_records(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_records_backend ON audit_records(backend_name);
`

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Insert writes a single audit record, assigning an ID and timestamp if absent.
func (d *DB) Insert(ctx context.Context, r *Record) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO audit_records
			(id, timestamp, session_id, backend_name, exposed_name, upstream_name,
			 status, error_code, error_message, latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Timestamp.Format(time.RFC3339), r.SessionID, r.BackendName,
		r.ExposedName, r.UpstreamName, r.Status, r.ErrorCode, r.ErrorMessage,
		r.LatencyMs,
	)
	if err != nil {
		return fmt.Errorf("audit: insert record: %w", err)
	}
	return nil
}

// Filter narrows a Query to matching records.
type Filter struct {
	BackendName string
	Status      string
	After       *time.Time
	Before      *time.Time
	Limit       int
	Offset      int
}

// Query lists audit records matching f, most recent first, and the total
// count of matching records ignoring Limit/Offset.
func (d *DB) Query(ctx context.Context, f Filter) ([]Record, int, error) {
	where, args := buildWhere(f)

	var total int
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_records"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("audit: count: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	queryArgs := append(append([]any{}, args...), limit, f.Offset)
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, timestamp, session_id, backend_name, exposed_name, upstream_name,
		       status, error_code, error_message, latency_ms
		FROM audit_records`+where+`
		ORDER BY timestamp DESC LIMIT ? OFFSET ?`,
		queryArgs...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var ts string
		if err := rows.Scan(&r.ID, &ts, &r.SessionID, &r.BackendName, &r.ExposedName,
			&r.UpstreamName, &r.Status, &r.ErrorCode, &r.ErrorMessage, &r.LatencyMs); err != nil {
			return nil, 0, fmt.Errorf("audit: scan row: %w", err)
		}
		r.Timestamp, _ = time.Parse(time.RFC3339, ts)
		out = append(out, r)
	}
	return out, total, rows.Err()
}

func buildWhere(f Filter) (string, []any) {
	var conds []string
	var args []any
	if f.BackendName != "" {
		conds = append(conds, "backend_name = ?")
		args = append(args, f.BackendName)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}
	if f.After != nil {
		conds = append(conds, "timestamp >= ?")
		args = append(args, f.After.UTC().Format(time.RFC3339))
	}
	if f.Before != nil {
		conds = append(conds, "timestamp <= ?")
		args = append(args, f.Before.UTC().Format(time.RFC3339))
	}
	if len(conds) == 0 {
		return "", nil
	}
	where := " WHERE "
	for i, c := range conds {
		if i > 0 {
			where += " AND "
		}
		where += c
	}
	return where, args
}
