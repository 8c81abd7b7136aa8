package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Nitish0223/Ai-powered-Meeting-Summariser/internal/session"

	_ "modernc.org/sqlite"
)

const schema = `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updatedAt REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		tabId INTEGER NOT NULL DEFAULT 0,
		startedAt REAL NOT NULL,
		endedAt REAL,
		totalChunks INTEGER NOT NULL DEFAULT 0,
		summary TEXT,
		transcript TEXT,
		status TEXT NOT NULL DEFAULT 'active'
	);
`

// Store provides access to the summariser SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// DefaultDBPath returns the default database path.
func DefaultDBPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "summariser", "summariser.sqlite")
}

// Open opens (creating if needed) the database with WAL and applies the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer keeps the snapshot writes strictly ordered.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load reads the recording-state slot. The bool is false when nothing has
// been stored yet.
func (s *Store) Load(ctx context.Context) (session.Record, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, session.StateKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Record{}, false, nil
	}
	if err != nil {
		return session.Record{}, false, fmt.Errorf("query state: %w", err)
	}

	var rec session.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return session.Record{}, false, fmt.Errorf("decode state: %w", err)
	}
	return rec, true, nil
}

// Save overwrites the recording-state slot.
func (s *Store) Save(ctx context.Context, rec session.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updatedAt) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updatedAt = excluded.updatedAt
	`, session.StateKey, string(data), unixFromTime(s.now()))
	if err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// BeginSession inserts an active history row.
func (s *Store) BeginSession(ctx context.Context, id string, tabID int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, tabId, startedAt, status) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, tabID, unixFromTime(s.now()), StatusActive)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// CompleteSession closes a history row with its outcome.
func (s *Store) CompleteSession(ctx context.Context, id string, totalChunks int, summary, transcript, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET endedAt = ?, totalChunks = ?, summary = ?, transcript = ?, status = ?
		WHERE id = ?
	`, unixFromTime(s.now()), totalChunks, summary, transcript, status, id)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// ActiveSession returns the most recent active session, if any.
func (s *Store) ActiveSession(ctx context.Context) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tabId, startedAt, endedAt, totalChunks, summary, transcript, status
		FROM sessions
		WHERE status = 'active'
		ORDER BY startedAt DESC
		LIMIT 1
	`)
	return scanSession(row)
}

// LatestSession returns the most recent session regardless of status.
func (s *Store) LatestSession(ctx context.Context) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tabId, startedAt, endedAt, totalChunks, summary, transcript, status
		FROM sessions
		ORDER BY startedAt DESC
		LIMIT 1
	`)
	return scanSession(row)
}

// Sessions returns up to limit sessions, newest first.
func (s *Store) Sessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tabId, startedAt, endedAt, totalChunks, summary, transcript, status
		FROM sessions
		ORDER BY startedAt DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
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

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var sess Session
	var startedAt float64
	var endedAt sql.NullFloat64
	var summary, transcript sql.NullString

	if err := row.Scan(&sess.ID, &sess.TabID, &startedAt, &endedAt,
		&sess.TotalChunks, &summary, &transcript, &sess.Status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}

	sess.StartedAt = timeFromUnix(startedAt)
	if endedAt.Valid {
		t := timeFromUnix(endedAt.Float64)
		sess.EndedAt = &t
	}
	sess.Summary = summary.String
	sess.Transcript = transcript.String

	return &sess, nil
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
