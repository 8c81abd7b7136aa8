// Package db provides SQLite persistence for the summariser daemon: the
// key-value slot holding the current recording state and the history of
// finished sessions.
package db

import "time"

// Session statuses recorded in the history table.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Session is one row of recording history.
type Session struct {
	ID          string
	TabID       int
	StartedAt   time.Time
	EndedAt     *time.Time
	TotalChunks int
	Summary     string
	Transcript  string
	Status      string
}
