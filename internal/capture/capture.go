// Package capture describes the collaborators that own the browser tab and
// the media recorder. The coordinator only sees these interfaces.
package capture

import (
	"context"
	"time"
)

// DefaultChunkInterval is how much audio each chunk carries.
const DefaultChunkInterval = 20 * time.Second

// MinChunkInterval is the smallest slice a recorder accepts.
const MinChunkInterval = time.Second

// EventKind identifies a driver event.
type EventKind string

const (
	EventChunkReady EventKind = "chunk_ready"
	EventStopped    EventKind = "stopped"
	EventError      EventKind = "error"
)

// Event is emitted asynchronously by a Driver.
type Event struct {
	Kind      EventKind
	SessionID string
	Order     int
	Payload   []byte
	Message   string
}

// StartRequest tells the driver what to record.
type StartRequest struct {
	SessionID     string
	StreamID      string
	TabID         int
	ChunkInterval time.Duration
}

// Driver owns the media recorder. Stop is a request: the recorder confirms
// with an EventStopped (or EventError) later.
type Driver interface {
	Start(ctx context.Context, req StartRequest) error
	Stop(ctx context.Context, reason string) error
	Events() <-chan Event
}

// Host owns the browser-side resources a capture needs.
type Host interface {
	// ActiveTab returns the focused tab, or 0 when there is none.
	ActiveTab(ctx context.Context) (int, error)
	// EnsureDocument provisions the capture document. Calling it while one
	// exists is a no-op on the browser side.
	EnsureDocument(ctx context.Context) error
	CloseDocument(ctx context.Context) error
	// StreamID acquires a capture handle for the tab.
	StreamID(ctx context.Context, tabID int) (string, error)
	ShowPanel(ctx context.Context, tabID int) error
}

// ClampInterval enforces MinChunkInterval and substitutes the default for
// non-positive values.
func ClampInterval(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultChunkInterval
	}
	if d < MinChunkInterval {
		return MinChunkInterval
	}
	return d
}
