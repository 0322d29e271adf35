// Package sqlite persists security events to a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	// Pure-Go SQLite driver, registered as "sqlite".
	_ "modernc.org/sqlite"

	"github.com/Sentinel-Gate/aiwaf/internal/domain/audit"
)

const schema = `
CREATE TABLE IF NOT EXISTS security_events (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp     TEXT    NOT NULL,
	request_id    TEXT    NOT NULL,
	user_id       TEXT    NOT NULL,
	session_id    TEXT    NOT NULL DEFAULT '',
	action        TEXT    NOT NULL,
	stage         TEXT    NOT NULL DEFAULT '',
	prompt_hash   TEXT    NOT NULL DEFAULT '',
	prompt_length INTEGER NOT NULL DEFAULT 0,
	risk_score    INTEGER NOT NULL DEFAULT 0,
	reasons       TEXT    NOT NULL DEFAULT '[]',
	details       TEXT    NOT NULL DEFAULT '{}',
	environment   TEXT    NOT NULL DEFAULT '',
	latency_ms    REAL    NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_security_events_request ON security_events(request_id);
CREATE INDEX IF NOT EXISTS idx_security_events_action_time ON security_events(action, timestamp);
`

const insertEvent = `INSERT INTO security_events
	(timestamp, request_id, user_id, session_id, action, stage, prompt_hash,
	 prompt_length, risk_score, reasons, details, environment, latency_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// AuditStore appends security events to the security_events table.
// Rows are never updated or deleted by the gateway.
type AuditStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*AuditStore, error) {
	dsn := "file:" + path + "?" + url.Values{
		"_pragma": []string{"journal_mode(WAL)", "busy_timeout(5000)"},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite audit db: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply audit schema: %w", err)
	}
	return &AuditStore{db: db}, nil
}

// Append inserts events in one transaction.
func (s *AuditStore) Append(ctx context.Context, events ...audit.SecurityEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertEvent)
	if err != nil {
		return fmt.Errorf("prepare audit insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		reasons, err := json.Marshal(nonNilStrings(e.Reasons))
		if err != nil {
			return fmt.Errorf("marshal reasons: %w", err)
		}
		details := []byte("{}")
		if len(e.Details) > 0 {
			if details, err = json.Marshal(e.Details); err != nil {
				return fmt.Errorf("marshal details: %w", err)
			}
		}
		if _, err := stmt.ExecContext(ctx,
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			e.RequestID, e.UserID, e.SessionID, e.Action, e.Stage, e.PromptHash,
			e.PromptLength, e.RiskScore, string(reasons), string(details),
			e.Environment, e.LatencyMs,
		); err != nil {
			return fmt.Errorf("insert security event %s: %w", e.RequestID, err)
		}
	}
	return tx.Commit()
}

// Flush is a no-op; every Append commits.
func (s *AuditStore) Flush(context.Context) error { return nil }

// Close closes the database.
func (s *AuditStore) Close() error { return s.db.Close() }

// Query returns the events recorded for requestID, oldest first.
func (s *AuditStore) Query(ctx context.Context, requestID string) ([]audit.SecurityEvent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT timestamp, request_id, user_id, session_id,
		action, stage, prompt_hash, prompt_length, risk_score, reasons, details,
		environment, latency_ms FROM security_events WHERE request_id = ? ORDER BY id`, requestID)
	if err != nil {
		return nil, fmt.Errorf("query security events: %w", err)
	}
	defer rows.Close()

	var out []audit.SecurityEvent
	for rows.Next() {
		var (
			e                 audit.SecurityEvent
			ts, reasons, dets string
		)
		if err := rows.Scan(&ts, &e.RequestID, &e.UserID, &e.SessionID, &e.Action,
			&e.Stage, &e.PromptHash, &e.PromptLength, &e.RiskScore, &reasons, &dets,
			&e.Environment, &e.LatencyMs); err != nil {
			return nil, fmt.Errorf("scan security event: %w", err)
		}
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse timestamp %q: %w", ts, err)
		}
		if err := json.Unmarshal([]byte(reasons), &e.Reasons); err != nil {
			return nil, fmt.Errorf("decode reasons: %w", err)
		}
		if dets != "{}" {
			if err := json.Unmarshal([]byte(dets), &e.Details); err != nil {
				return nil, fmt.Errorf("decode details: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ audit.AuditStore = (*AuditStore)(nil)
