// Package coordinator runs a recording session from start to finalization.
// Every session ends back in the idle state, even after partial failures.
package coordinator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/singleflight"

	"github.com/Nitish0223/Ai-powered-Meeting-Summariser/internal/backend"
	"github.com/Nitish0223/Ai-powered-Meeting-Summariser/internal/broadcast"
	"github.com/Nitish0223/Ai-powered-Meeting-Summariser/internal/capture"
	"github.com/Nitish0223/Ai-powered-Meeting-Summariser/internal/db"
	"github.com/Nitish0223/Ai-powered-Meeting-Summariser/internal/session"
	"github.com/Nitish0223/Ai-powered-Meeting-Summariser/internal/store"
)

// User-visible status strings.
const (
	StatusStarted         = "Recording started…"
	StatusStopRequested   = "Stop requested. Finalizing session…"
	StatusChunkAbort      = "Chunk upload failed. Stopping recording."
	StatusSummaryReady    = "✅ Summary ready! Chatbot enabled."
	StatusRecovering      = "Recovered an interrupted session. Finalizing…"
	DefaultSummary        = "Summary will be available shortly."
	DefaultChatResponse   = "No response returned from the server."
	NoSessionChatResponse = "There is no completed session to chat about yet."
)

// Backend is the remote transcription/summarization service.
type Backend interface {
	UploadChunk(ctx context.Context, sessionID string, order int, chunk []byte) (backend.ChunkResult, error)
	UploadFinal(ctx context.Context, sessionID string, totalChunks int) (backend.FinalResult, error)
	Chat(ctx context.Context, sessionID, query string) (backend.ChatResult, error)
}

// Archive records finished sessions. Optional.
type Archive interface {
	BeginSession(ctx context.Context, id string, tabID int) error
	CompleteSession(ctx context.Context, id string, totalChunks int, summary, transcript, status string) error
	ActiveSession(ctx context.Context) (*db.Session, error)
}

// Options wires a Coordinator to its collaborators.
type Options struct {
	Store         *store.StateStore
	Backend       Backend
	Driver        capture.Driver
	Host          capture.Host
	Hub           *broadcast.Hub
	Archive       Archive
	Logger        hclog.Logger
	ChunkInterval time.Duration
	// NewID generates session ids. Defaults to random UUIDs.
	NewID func() string
}

// Coordinator owns the single global session slot.
type Coordinator struct {
	store         *store.StateStore
	backend       Backend
	driver        capture.Driver
	host          capture.Host
	hub           *broadcast.Hub
	archive       Archive
	log           hclog.Logger
	chunkInterval time.Duration
	newID         func() string

	mu  sync.Mutex
	run session.RunState

	uploads    *taskSet
	background *taskSet
	finalizing singleflight.Group
}

// New creates an idle Coordinator.
func New(opts Options) *Coordinator {
	log := opts.Logger
	if log == nil {
		log = hclog.NewNullLogger()
	}
	hub := opts.Hub
	if hub == nil {
		hub = broadcast.NewHub()
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Coordinator{
		store:         opts.Store,
		backend:       opts.Backend,
		driver:        opts.Driver,
		host:          opts.Host,
		hub:           hub,
		archive:       opts.Archive,
		log:           log,
		chunkInterval: capture.ClampInterval(opts.ChunkInterval),
		newID:         newID,
		run:           session.RunState{State: session.StateIdle},
		uploads:       newTaskSet(log),
		background:    newTaskSet(log),
	}
}

// Hub returns the broadcast channel the coordinator publishes on.
func (c *Coordinator) Hub() *broadcast.Hub {
	return c.hub
}

// Snapshot returns the committed record and the current run state.
func (c *Coordinator) Snapshot() session.Snapshot {
	c.mu.Lock()
	run := c.run
	c.mu.Unlock()
	return session.Snapshot{Record: c.store.Get(), Run: run}
}

// State returns the current lifecycle state.
func (c *Coordinator) State() session.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run.State
}

// Run consumes driver events until ctx ends or the driver closes its event
// channel. Events are handled one at a time.
func (c *Coordinator) Run(ctx context.Context) error {
	events := c.driver.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.HandleEvent(ctx, ev)
		}
	}
}

// Close waits for in-flight uploads and background finalization.
func (c *Coordinator) Close(ctx context.Context) error {
	if err := c.uploads.Wait(ctx); err != nil {
		return err
	}
	return c.background.Wait(ctx)
}

// Start begins a new session on the active tab and returns its id.
func (c *Coordinator) Start(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.run.State != session.StateIdle {
		c.mu.Unlock()
		return "", session.ErrAlreadyRecording
	}
	c.run.State = session.StateStarting
	c.mu.Unlock()

	tabID, err := c.host.ActiveTab(ctx)
	if err != nil {
		c.abortStart(ctx)
		return "", fmt.Errorf("%w: resolve active tab: %w", session.ErrCaptureUnavailable, err)
	}
	if tabID == 0 {
		c.abortStart(ctx)
		return "", session.ErrNoActiveTab
	}

	if err := c.ensureDocument(ctx); err != nil {
		c.abortStart(ctx)
		return "", fmt.Errorf("%w: create capture document: %w", session.ErrCaptureUnavailable, err)
	}

	streamID, err := c.host.StreamID(ctx, tabID)
	if err != nil {
		c.abortStart(ctx)
		return "", fmt.Errorf("%w: %w", session.ErrCaptureUnavailable, err)
	}
	if streamID == "" {
		c.abortStart(ctx)
		return "", fmt.Errorf("%w: unable to obtain stream id for tab %d", session.ErrCaptureUnavailable, tabID)
	}

	sessionID := c.newID()
	if _, err := c.store.Update(ctx, func(r *session.Record) {
		*r = session.Record{SessionID: sessionID, IsRecording: true, TabID: tabID}
	}); err != nil {
		c.abortStart(ctx)
		return "", err
	}
	c.archiveBegin(ctx, sessionID, tabID)
	c.showPanel(ctx, tabID)

	err = c.driver.Start(ctx, capture.StartRequest{
		SessionID:     sessionID,
		StreamID:      streamID,
		TabID:         tabID,
		ChunkInterval: c.chunkInterval,
	})
	if err != nil {
		c.log.Error("capture driver failed to start", "session", sessionID, "error", err)
		if _, perr := c.store.Update(ctx, func(r *session.Record) {
			r.IsRecording = false
			r.TabID = 0
		}); perr != nil {
			c.log.Warn("persist stopped state", "error", perr)
		}
		_ = c.Finalize(ctx)
		return "", fmt.Errorf("%w: %w", session.ErrCaptureDriver, err)
	}

	c.mu.Lock()
	c.run.IsActive = true
	c.run.IsStopping = false
	c.run.State = session.StateRecording
	c.mu.Unlock()

	c.log.Info("recording started", "session", sessionID, "tab", tabID)
	c.hub.Publish(broadcast.Message{
		Action:      broadcast.ActionUpdateStatus,
		Status:      StatusStarted,
		SessionID:   sessionID,
		IsRecording: broadcast.BoolPtr(true),
	})
	return sessionID, nil
}

// abortStart returns a failed start to idle without touching the record.
func (c *Coordinator) abortStart(ctx context.Context) {
	c.closeDocument(ctx)
	c.mu.Lock()
	c.run = session.RunState{State: session.StateIdle}
	c.mu.Unlock()
}

// Stop ends the current recording; the final summary is requested once the
// driver confirms. While a stop is already pending the reason is only
// broadcast. In any other state Stop is a no-op.
func (c *Coordinator) Stop(ctx context.Context, reason string) error {
	c.mu.Lock()
	if c.run.State == session.StateStopping && c.run.IsActive && reason != "" {
		c.mu.Unlock()
		c.publishStatus(reason, false)
		return nil
	}
	if c.run.State != session.StateRecording {
		c.mu.Unlock()
		return nil
	}
	requestStop := c.run.IsActive && !c.run.IsStopping
	if requestStop {
		c.run.IsStopping = true
		c.run.State = session.StateStopping
	}
	active := c.run.IsActive
	c.mu.Unlock()

	if reason == "" {
		reason = "Stopping recording…"
	}
	rec := c.publishStatus(reason, false)

	if _, err := c.store.Update(ctx, func(r *session.Record) {
		r.IsRecording = false
		r.TabID = 0
	}); err != nil {
		c.log.Warn("persist stopped state", "error", err)
	}

	switch {
	case requestStop:
		c.log.Info("stopping recorder", "session", rec.SessionID, "reason", reason)
		if err := c.driver.Stop(ctx, reason); err != nil {
			c.log.Error("failed to stop recorder", "error", err)
			c.driverFailed(ctx, err.Error())
		}
	case !active:
		return c.Finalize(ctx)
	}
	return nil
}

// HandleEvent processes one capture driver event.
func (c *Coordinator) HandleEvent(ctx context.Context, ev capture.Event) {
	if ev.Kind != capture.EventChunkReady && c.State() == session.StateIdle {
		c.log.Debug("ignoring driver event while idle", "kind", ev.Kind, "session", ev.SessionID)
		return
	}

	switch ev.Kind {
	case capture.EventChunkReady:
		c.handleChunk(ctx, ev)
	case capture.EventStopped:
		c.log.Info("recorder stopped", "session", ev.SessionID)
		c.mu.Lock()
		c.run.IsActive = false
		c.run.IsStopping = false
		c.mu.Unlock()
		c.finalizeInBackground(ctx)
	case capture.EventError:
		c.log.Error("recorder error", "message", ev.Message)
		c.driverFailed(ctx, ev.Message)
	default:
		c.log.Debug("ignoring driver event", "kind", ev.Kind)
	}
}

func (c *Coordinator) handleChunk(ctx context.Context, ev capture.Event) {
	if len(ev.Payload) == 0 || ev.SessionID == "" {
		return
	}

	switch c.State() {
	case session.StateIdle, session.StateFinalizing:
		c.log.Warn("dropping chunk outside a recording", "session", ev.SessionID, "order", ev.Order)
		return
	}

	if _, err := c.store.Update(ctx, func(r *session.Record) {
		r.ChunkCounter = ev.Order
	}); err != nil {
		c.log.Warn("persist chunk counter", "order", ev.Order, "error", err)
	}

	uploadCtx := context.WithoutCancel(ctx)
	sessionID, order, payload := ev.SessionID, ev.Order, ev.Payload
	c.uploads.Go(func() {
		if err := c.uploadChunk(uploadCtx, sessionID, order, payload); err != nil {
			c.background.Go(func() {
				if err := c.Stop(uploadCtx, StatusChunkAbort); err != nil {
					c.log.Error("abort after chunk failure", "error", err)
				}
			})
		}
	})
}

func (c *Coordinator) uploadChunk(ctx context.Context, sessionID string, order int, payload []byte) error {
	res, err := c.backend.UploadChunk(ctx, sessionID, order, payload)
	if err != nil {
		c.log.Error("chunk upload failed", "session", sessionID, "order", order, "error", err)
		c.hub.Publish(broadcast.Message{
			Action:     broadcast.ActionUpdateStatus,
			Status:     fmt.Sprintf("Chunk %d failed: %v", order, err),
			ChunkCount: order,
			SessionID:  sessionID,
			Level:      broadcast.LevelError,
		})
		return fmt.Errorf("%w: chunk %d: %w", session.ErrUploadFailed, order, err)
	}

	status := fmt.Sprintf("Chunk %d uploaded.", order)
	if res.Message != nil {
		status = *res.Message
	}
	c.log.Debug("chunk uploaded", "session", sessionID, "order", order)
	c.hub.Publish(broadcast.Message{
		Action:      broadcast.ActionUpdateStatus,
		Status:      status,
		ChunkCount:  order,
		SessionID:   sessionID,
		IsRecording: broadcast.BoolPtr(true),
	})
	return nil
}

// driverFailed treats a recorder failure like a stop: flags are cleared,
// the error is surfaced and the session is finalized.
func (c *Coordinator) driverFailed(ctx context.Context, message string) {
	c.mu.Lock()
	c.run.IsActive = false
	c.run.IsStopping = false
	c.mu.Unlock()

	status := "Recorder stopped unexpectedly."
	if message != "" {
		status = "Recorder error: " + message
	}
	rec := c.store.Get()
	c.hub.Publish(broadcast.Message{
		Action:     broadcast.ActionUpdateStatus,
		Status:     status,
		ChunkCount: rec.ChunkCounter,
		SessionID:  rec.SessionID,
		Level:      broadcast.LevelError,
	})
	c.finalizeInBackground(ctx)
}

func (c *Coordinator) finalizeInBackground(ctx context.Context) {
	bg := context.WithoutCancel(ctx)
	c.background.Go(func() {
		if err := c.Finalize(bg); err != nil {
			c.log.Warn("finalize finished with error", "error", err)
		}
	})
}

// Finalize drains pending uploads and requests the session summary.
// Concurrent callers share a single run and its outcome.
func (c *Coordinator) Finalize(ctx context.Context) error {
	select {
	case res := <-c.startFinalize(ctx):
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) startFinalize(ctx context.Context) <-chan singleflight.Result {
	bg := context.WithoutCancel(ctx)
	return c.finalizing.DoChan("finalize", func() (any, error) {
		return nil, c.finalize(bg)
	})
}

func (c *Coordinator) finalize(ctx context.Context) error {
	c.mu.Lock()
	c.run.State = session.StateFinalizing
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.run.IsActive = false
		c.run.IsStopping = false
		c.mu.Unlock()
		c.closeDocument(ctx)
		c.mu.Lock()
		c.run.State = session.StateIdle
		c.mu.Unlock()
	}()

	_ = c.uploads.Wait(ctx)

	rec := c.store.Get()
	if rec.SessionID == "" {
		return nil
	}
	sessionID, totalChunks := rec.SessionID, rec.ChunkCounter

	res, err := c.backend.UploadFinal(ctx, sessionID, totalChunks)
	if err != nil {
		c.log.Error("failed to finalize session", "session", sessionID, "error", err)
		c.hub.Publish(broadcast.Message{
			Action:     broadcast.ActionUpdateStatus,
			Status:     "Failed to finalize session: " + err.Error(),
			ChunkCount: totalChunks,
			SessionID:  sessionID,
			Level:      broadcast.LevelError,
		})
		c.archiveComplete(ctx, sessionID, totalChunks, "", "", db.StatusFailed)
		return fmt.Errorf("%w: %w", session.ErrFinalizeFailed, err)
	}

	summary := DefaultSummary
	if res.Summary != nil {
		summary = *res.Summary
	}
	var transcript string
	if res.Transcript != nil {
		transcript = *res.Transcript
	}

	if _, err := c.store.Update(ctx, func(r *session.Record) {
		r.IsRecording = false
		r.ChunkCounter = 0
		r.LastSummary = summary
		r.LastTranscript = transcript
		r.TabID = 0
	}); err != nil {
		c.log.Warn("persist summary", "session", sessionID, "error", err)
	}
	c.archiveComplete(ctx, sessionID, totalChunks, summary, transcript, db.StatusCompleted)

	c.log.Info("session finalized", "session", sessionID, "chunks", totalChunks)
	c.hub.Publish(broadcast.Message{
		Action:      broadcast.ActionSummaryReady,
		Summary:     summary,
		Transcript:  transcript,
		Status:      StatusSummaryReady,
		SessionID:   sessionID,
		TotalChunks: totalChunks,
	})
	return nil
}

// Chat asks the backend about the last session. A missing session is a soft
// failure reported through the broadcast channel.
func (c *Coordinator) Chat(ctx context.Context, query string) error {
	if strings.TrimSpace(query) == "" {
		return session.ErrEmptyQuery
	}

	sessionID := c.store.Get().SessionID
	if sessionID == "" {
		c.hub.Publish(broadcast.Message{
			Action: broadcast.ActionChatResponse,
			Error:  NoSessionChatResponse,
			Query:  query,
		})
		return nil
	}

	res, err := c.backend.Chat(ctx, sessionID, query)
	if err != nil {
		c.log.Error("chat query failed", "session", sessionID, "error", err)
		c.hub.Publish(broadcast.Message{
			Action:    broadcast.ActionChatResponse,
			Error:     err.Error(),
			Query:     query,
			SessionID: sessionID,
		})
		return nil
	}

	response := DefaultChatResponse
	if res.Response != nil {
		response = *res.Response
	}
	c.hub.Publish(broadcast.Message{
		Action:    broadcast.ActionChatResponse,
		Response:  response,
		Query:     query,
		SessionID: sessionID,
	})
	return nil
}

// Recover finalizes a session that a previous process left recording or
// finalizing. Other history rows still marked active are marked failed.
func (c *Coordinator) Recover(ctx context.Context) error {
	if c.State() != session.StateIdle {
		return nil
	}
	rec := c.store.Get()
	pending := c.failAbandoned(ctx, rec.SessionID)
	if rec.SessionID == "" || !(rec.IsRecording || pending) {
		return nil
	}

	c.log.Warn("finalizing interrupted session", "session", rec.SessionID, "chunks", rec.ChunkCounter)
	if _, err := c.store.Update(ctx, func(r *session.Record) {
		r.IsRecording = false
		r.TabID = 0
	}); err != nil {
		return err
	}
	c.hub.Publish(broadcast.Message{
		Action:      broadcast.ActionUpdateStatus,
		Status:      StatusRecovering,
		ChunkCount:  rec.ChunkCounter,
		SessionID:   rec.SessionID,
		IsRecording: broadcast.BoolPtr(false),
	})
	err := c.Finalize(ctx)
	c.failAbandoned(ctx, "")
	return err
}

// failAbandoned marks history rows left active by an earlier process as
// failed, stopping at keep. It reports whether keep is still active.
func (c *Coordinator) failAbandoned(ctx context.Context, keep string) bool {
	if c.archive == nil {
		return false
	}
	seen := make(map[string]bool)
	for {
		row, err := c.archive.ActiveSession(ctx)
		if err != nil {
			c.log.Warn("look up active session", "error", err)
			return false
		}
		if row == nil || seen[row.ID] {
			return false
		}
		seen[row.ID] = true
		if keep != "" && row.ID == keep {
			return true
		}
		c.log.Warn("marking abandoned session failed", "session", row.ID)
		if err := c.archive.CompleteSession(ctx, row.ID, row.TotalChunks, row.Summary, row.Transcript, db.StatusFailed); err != nil {
			c.log.Warn("record session outcome", "session", row.ID, "error", err)
			return false
		}
	}
}

func (c *Coordinator) ensureDocument(ctx context.Context) error {
	c.mu.Lock()
	has := c.run.HasDocument
	c.mu.Unlock()
	if has {
		return nil
	}

	if err := c.host.EnsureDocument(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.run.HasDocument = true
	c.mu.Unlock()
	return nil
}

func (c *Coordinator) closeDocument(ctx context.Context) {
	c.mu.Lock()
	has := c.run.HasDocument
	c.run.HasDocument = false
	c.mu.Unlock()
	if !has {
		return
	}
	if err := c.host.CloseDocument(ctx); err != nil {
		c.log.Warn("close capture document", "error", err)
	}
}

func (c *Coordinator) showPanel(ctx context.Context, tabID int) {
	c.hub.Publish(broadcast.Message{Action: broadcast.ActionShowPanel, TabID: tabID})
	if err := c.host.ShowPanel(ctx, tabID); err != nil {
		c.log.Debug("unable to show panel automatically", "tab", tabID, "error", err)
	}
}

// publishStatus broadcasts an info-level status for the current record.
func (c *Coordinator) publishStatus(status string, recording bool) session.Record {
	rec := c.store.Get()
	c.hub.Publish(broadcast.Message{
		Action:      broadcast.ActionUpdateStatus,
		Status:      status,
		ChunkCount:  rec.ChunkCounter,
		SessionID:   rec.SessionID,
		IsRecording: broadcast.BoolPtr(recording),
	})
	return rec
}

func (c *Coordinator) archiveBegin(ctx context.Context, sessionID string, tabID int) {
	if c.archive == nil {
		return
	}
	if err := c.archive.BeginSession(ctx, sessionID, tabID); err != nil {
		c.log.Warn("record session start", "session", sessionID, "error", err)
	}
}

func (c *Coordinator) archiveComplete(ctx context.Context, sessionID string, totalChunks int, summary, transcript, status string) {
	if c.archive == nil {
		return
	}
	if err := c.archive.CompleteSession(ctx, sessionID, totalChunks, summary, transcript, status); err != nil {
		c.log.Warn("record session outcome", "session", sessionID, "error", err)
	}
}
