// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package transcript persists debug sessions to a local SQLite database:
// every notification the host saw, every oracle exchange and the final
// report. The history command reads it back.
package transcript

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tombee/llmdebug/internal/log"
	"github.com/tombee/llmdebug/internal/notify"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session not found")

// timeLayout sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// writeTimeout bounds a single insert made from Notify.
const writeTimeout = 5 * time.Second

// Session summarises one recorded debug session.
type Session struct {
	ID        string     `json:"id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	Report    string     `json:"report,omitempty"`
}

// Exchange is one oracle request and its answer.
type Exchange struct {
	SessionID string    `json:"session_id"`
	Stage     string    `json:"stage"`
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response,omitempty"`
	ToolCalls []string  `json:"tool_calls,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is a SQLite-backed transcript store. It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ notify.Sink = (*Store)(nil)

// Open opens or creates the database at path and runs migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create transcript directory: %w", err)
		}
	}

	connStr := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps :memory: databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: log.WithComponent(logger, "transcript")}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			reason TEXT NOT NULL DEFAULT '',
			report TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS notifications (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			kind TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS exchanges (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			stage TEXT NOT NULL,
			prompt TEXT NOT NULL,
			response TEXT NOT NULL,
			tool_calls TEXT NOT NULL DEFAULT '[]',
			error TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_notifications_session ON notifications(session_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_exchanges_session ON exchanges(session_id, id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ensureSession creates the session row on first sight.
func (s *Store) ensureSession(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, started_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`,
		id, formatTime(at))
	return err
}

// Notify implements notify.Sink. Notifications without a session are
// dropped. Write failures are logged, never returned.
func (s *Store) Notify(n notify.Notification) {
	if n.SessionID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.record(ctx, n); err != nil {
		s.logger.Warn("failed to record notification",
			log.SessionIDKey, n.SessionID,
			log.EventKey, string(n.Type),
			log.Error(err))
	}
}

func (s *Store) record(ctx context.Context, n notify.Notification) error {
	at := n.Time
	if at.IsZero() {
		at = time.Now()
	}
	if err := s.ensureSession(ctx, n.SessionID, at); err != nil {
		return err
	}

	payload, err := n.JSON()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (session_id, kind, payload, created_at) VALUES (?, ?, ?, ?)`,
		n.SessionID, string(n.Type), string(payload), formatTime(at)); err != nil {
		return err
	}

	if n.Results != nil && n.Results.Text != nil {
		_, err := s.db.ExecContext(ctx,
			`UPDATE sessions SET report = ?, reason = ?, ended_at = ? WHERE id = ?`,
			*n.Results.Text, n.Results.Reason, formatTime(at), n.SessionID)
		return err
	}
	return nil
}

// RecordExchange stores one oracle exchange.
func (s *Store) RecordExchange(ctx context.Context, e Exchange) error {
	if e.SessionID == "" {
		return fmt.Errorf("exchange has no session")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if err := s.ensureSession(ctx, e.SessionID, e.CreatedAt); err != nil {
		return fmt.Errorf("failed to record exchange: %w", err)
	}

	calls := e.ToolCalls
	if calls == nil {
		calls = []string{}
	}
	callsJSON, err := json.Marshal(calls)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO exchanges (session_id, stage, prompt, response, tool_calls, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.Stage, e.Prompt, e.Response, string(callsJSON), e.Error, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to record exchange: %w", err)
	}
	return nil
}

// ListSessions returns the most recent sessions first. A limit of zero
// returns all of them.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	query := `SELECT id, started_at, ended_at, reason, report FROM sessions ORDER BY started_at DESC, rowid DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

// GetSession returns one session, or ErrNotFound.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, ended_at, reason, report FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sess, err
}

// Notifications returns the notifications of a session in arrival order.
func (s *Store) Notifications(ctx context.Context, sessionID string) ([]notify.Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM notifications WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var out []notify.Notification
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var n notify.Notification
		if err := json.Unmarshal([]byte(payload), &n); err != nil {
			return nil, fmt.Errorf("corrupt notification payload: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Exchanges returns the oracle exchanges of a session in order.
func (s *Store) Exchanges(ctx context.Context, sessionID string) ([]Exchange, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, prompt, response, tool_calls, error, created_at
		 FROM exchanges WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query exchanges: %w", err)
	}
	defer rows.Close()

	var out []Exchange
	for rows.Next() {
		e := Exchange{SessionID: sessionID}
		var calls, created string
		if err := rows.Scan(&e.Stage, &e.Prompt, &e.Response, &calls, &e.Error, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(calls), &e.ToolCalls); err != nil {
			return nil, fmt.Errorf("corrupt tool calls: %w", err)
		}
		e.CreatedAt = parseTime(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var (
		sess    Session
		started string
		ended   sql.NullString
	)
	if err := row.Scan(&sess.ID, &started, &ended, &sess.Reason, &sess.Report); err != nil {
		return nil, err
	}
	sess.StartedAt = parseTime(started)
	if ended.Valid {
		t := parseTime(ended.String)
		sess.EndedAt = &t
	}
	return &sess, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}
