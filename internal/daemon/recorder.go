package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/Nitish0223/Ai-powered-Meeting-Summariser/internal/capture"
)

// DefaultRecorderTimeout bounds each request to the recorder peer.
const DefaultRecorderTimeout = 10 * time.Second

var (
	// ErrNoRecorder is returned when no browser peer is attached.
	ErrNoRecorder = errors.New("no recorder attached")
	// ErrRecorderDetached fails requests pending when the peer goes away.
	ErrRecorderDetached = errors.New("recorder detached")
)

// peer is one socket connection. Writes are serialized.
type peer struct {
	mu   sync.Mutex
	conn net.Conn
	enc  *json.Encoder
}

func newPeer(conn net.Conn) *peer {
	return &peer{conn: conn, enc: json.NewEncoder(conn)}
}

func (p *peer) send(v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enc.Encode(v); err != nil {
		return fmt.Errorf("write to peer: %w", err)
	}
	return nil
}

type pendingRequest struct {
	peer  *peer
	reply chan Command
}

// Recorder drives a browser-side recorder attached over the daemon socket.
// It implements capture.Driver and capture.Host.
type Recorder struct {
	log     hclog.Logger
	timeout time.Duration
	events  chan capture.Event

	mu        sync.Mutex
	peer      *peer
	pending   map[string]pendingRequest
	recording bool
}

var (
	_ capture.Driver = (*Recorder)(nil)
	_ capture.Host   = (*Recorder)(nil)
)

// NewRecorder creates a Recorder with no peer attached.
func NewRecorder(log hclog.Logger, timeout time.Duration) *Recorder {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	if timeout <= 0 {
		timeout = DefaultRecorderTimeout
	}
	return &Recorder{
		log:     log,
		timeout: timeout,
		events:  make(chan capture.Event, 64),
		pending: make(map[string]pendingRequest),
	}
}

// Attached reports whether a recorder peer is connected.
func (r *Recorder) Attached() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peer != nil
}

// attach makes p the active recorder, dropping any previous one.
func (r *Recorder) attach(p *peer) {
	r.mu.Lock()
	old := r.peer
	r.mu.Unlock()

	if old != nil && old != p {
		r.log.Info("replacing attached recorder")
		r.detach(old)
		_ = old.conn.Close()
	}

	r.mu.Lock()
	r.peer = p
	r.mu.Unlock()
}

// detach forgets p. Its pending requests fail, and if p was the active
// recorder a recording in progress is reported as a driver error.
func (r *Recorder) detach(p *peer) {
	var failed []chan Command
	wasRecording := false

	r.mu.Lock()
	if r.peer == p {
		r.peer = nil
		wasRecording = r.recording
		r.recording = false
	}
	for id, req := range r.pending {
		if req.peer == p {
			failed = append(failed, req.reply)
			delete(r.pending, id)
		}
	}
	r.mu.Unlock()

	for _, ch := range failed {
		ch <- Command{Cmd: CmdRecorderReply, Error: ErrRecorderDetached.Error()}
	}
	if wasRecording {
		r.log.Warn("recorder detached while recording")
		r.events <- capture.Event{Kind: capture.EventError, Message: ErrRecorderDetached.Error()}
	}
}

// handle routes a command received from peer p. Commands from a peer that
// is no longer attached are dropped.
func (r *Recorder) handle(p *peer, cmd Command) {
	r.mu.Lock()
	active := r.peer == p
	r.mu.Unlock()
	if !active {
		r.log.Debug("dropping command from detached recorder", "cmd", cmd.Cmd)
		return
	}

	switch cmd.Cmd {
	case CmdRecorderReply:
		r.mu.Lock()
		req, ok := r.pending[cmd.RequestID]
		delete(r.pending, cmd.RequestID)
		r.mu.Unlock()
		if !ok {
			r.log.Debug("reply for unknown request", "request", cmd.RequestID)
			return
		}
		req.reply <- cmd

	case CmdChunkReady:
		var order int
		if cmd.Order != nil {
			order = *cmd.Order
		}
		r.events <- capture.Event{
			Kind:      capture.EventChunkReady,
			SessionID: cmd.SessionID,
			Order:     order,
			Payload:   cmd.Payload,
		}

	case CmdRecorderStopped:
		r.mu.Lock()
		r.recording = false
		r.mu.Unlock()
		r.events <- capture.Event{Kind: capture.EventStopped, SessionID: cmd.SessionID}

	case CmdRecorderError:
		r.mu.Lock()
		r.recording = false
		r.mu.Unlock()
		r.events <- capture.Event{Kind: capture.EventError, SessionID: cmd.SessionID, Message: cmd.Error}
	}
}

// request sends a recorder_request and waits for the matching reply.
func (r *Recorder) request(ctx context.Context, ev Event) (Command, error) {
	id := uuid.NewString()
	ch := make(chan Command, 1)

	r.mu.Lock()
	p := r.peer
	if p == nil {
		r.mu.Unlock()
		return Command{}, ErrNoRecorder
	}
	r.pending[id] = pendingRequest{peer: p, reply: ch}
	r.mu.Unlock()

	forget := func() {
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
	}

	ev.Event = EventRecorderRequest
	ev.RequestID = id
	if err := p.send(ev); err != nil {
		forget()
		return Command{}, err
	}

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case reply := <-ch:
		if reply.Error != "" {
			return reply, fmt.Errorf("recorder %s: %s", ev.Action, reply.Error)
		}
		return reply, nil
	case <-timer.C:
		forget()
		return Command{}, fmt.Errorf("recorder %s: timed out after %s", ev.Action, r.timeout)
	case <-ctx.Done():
		forget()
		return Command{}, ctx.Err()
	}
}

// Events implements capture.Driver.
func (r *Recorder) Events() <-chan capture.Event {
	return r.events
}

// Start implements capture.Driver.
func (r *Recorder) Start(ctx context.Context, req capture.StartRequest) error {
	_, err := r.request(ctx, Event{
		Action:          ActionStartRecorder,
		SessionID:       req.SessionID,
		StreamID:        req.StreamID,
		TabID:           IntPtr(req.TabID),
		ChunkIntervalMs: IntPtr(int(req.ChunkInterval / time.Millisecond)),
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.recording = true
	r.mu.Unlock()
	return nil
}

// Stop implements capture.Driver. The peer confirms with recorder_stopped.
func (r *Recorder) Stop(ctx context.Context, reason string) error {
	_, err := r.request(ctx, Event{Action: ActionStopRecorder, Reason: reason})
	return err
}

// ActiveTab implements capture.Host.
func (r *Recorder) ActiveTab(ctx context.Context) (int, error) {
	reply, err := r.request(ctx, Event{Action: ActionActiveTab})
	if err != nil {
		return 0, err
	}
	if reply.TabID == nil {
		return 0, nil
	}
	return *reply.TabID, nil
}

// EnsureDocument implements capture.Host.
func (r *Recorder) EnsureDocument(ctx context.Context) error {
	_, err := r.request(ctx, Event{Action: ActionEnsureDoc})
	return err
}

// CloseDocument implements capture.Host. Without a peer there is nothing to
// close.
func (r *Recorder) CloseDocument(ctx context.Context) error {
	_, err := r.request(ctx, Event{Action: ActionCloseDoc})
	if errors.Is(err, ErrNoRecorder) {
		return nil
	}
	return err
}

// StreamID implements capture.Host.
func (r *Recorder) StreamID(ctx context.Context, tabID int) (string, error) {
	reply, err := r.request(ctx, Event{Action: ActionStreamID, TabID: IntPtr(tabID)})
	if err != nil {
		return "", err
	}
	return reply.StreamID, nil
}

// ShowPanel implements capture.Host.
func (r *Recorder) ShowPanel(ctx context.Context, tabID int) error {
	_, err := r.request(ctx, Event{Action: ActionShowPanel, TabID: IntPtr(tabID)})
	return err
}
