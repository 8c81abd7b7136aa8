package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Nitish0223/Ai-powered-Meeting-Summariser/internal/backend"
	"github.com/Nitish0223/Ai-powered-Meeting-Summariser/internal/broadcast"
	"github.com/Nitish0223/Ai-powered-Meeting-Summariser/internal/capture"
	"github.com/Nitish0223/Ai-powered-Meeting-Summariser/internal/db"
	"github.com/Nitish0223/Ai-powered-Meeting-Summariser/internal/session"
	"github.com/Nitish0223/Ai-powered-Meeting-Summariser/internal/store"
)

const waitTimeout = 2 * time.Second

func strPtr(s string) *string { return &s }

// fakeDriver confirms every stop request with an EventStopped.
type fakeDriver struct {
	events chan capture.Event

	mu       sync.Mutex
	starts   []capture.StartRequest
	stops    []string
	startErr error
	noAuto   bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{events: make(chan capture.Event, 64)}
}

func (d *fakeDriver) Start(_ context.Context, req capture.StartRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.starts = append(d.starts, req)
	return d.startErr
}

func (d *fakeDriver) Stop(_ context.Context, reason string) error {
	d.mu.Lock()
	d.stops = append(d.stops, reason)
	auto := !d.noAuto
	var id string
	if len(d.starts) > 0 {
		id = d.starts[len(d.starts)-1].SessionID
	}
	d.mu.Unlock()
	if auto {
		d.events <- capture.Event{Kind: capture.EventStopped, SessionID: id}
	}
	return nil
}

func (d *fakeDriver) Events() <-chan capture.Event { return d.events }

func (d *fakeDriver) emitChunk(sessionID string, order int) {
	d.events <- capture.Event{Kind: capture.EventChunkReady, SessionID: sessionID, Order: order, Payload: []byte("audio")}
}

func (d *fakeDriver) stopReasons() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.stops...)
}

type fakeHost struct {
	mu        sync.Mutex
	tab       int
	tabErr    error
	stream    string
	streamErr error
	ensured   int
	closed    int
	shown     []int
}

func (h *fakeHost) ActiveTab(context.Context) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tab, h.tabErr
}

func (h *fakeHost) EnsureDocument(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ensured++
	return nil
}

func (h *fakeHost) CloseDocument(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed++
	return nil
}

func (h *fakeHost) StreamID(context.Context, int) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stream, h.streamErr
}

func (h *fakeHost) ShowPanel(_ context.Context, tabID int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shown = append(h.shown, tabID)
	return nil
}

func (h *fakeHost) closedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

type finalCall struct {
	sessionID   string
	totalChunks int
}

type fakeBackend struct {
	mu        sync.Mutex
	chunkErr  map[int]error
	chunks    []int
	finals    []finalCall
	finalRes  backend.FinalResult
	finalErr  error
	finalGate chan struct{}
	chats     []string
	chatRes   backend.ChatResult
	chatErr   error
}

func (b *fakeBackend) UploadChunk(_ context.Context, _ string, order int, _ []byte) (backend.ChunkResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = append(b.chunks, order)
	if err := b.chunkErr[order]; err != nil {
		return backend.ChunkResult{}, err
	}
	return backend.ChunkResult{}, nil
}

func (b *fakeBackend) UploadFinal(_ context.Context, sessionID string, totalChunks int) (backend.FinalResult, error) {
	b.mu.Lock()
	b.finals = append(b.finals, finalCall{sessionID, totalChunks})
	gate := b.finalGate
	b.mu.Unlock()
	if gate != nil {
		<-gate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.finalRes, b.finalErr
}

func (b *fakeBackend) Chat(_ context.Context, _ string, query string) (backend.ChatResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chats = append(b.chats, query)
	return b.chatRes, b.chatErr
}

func (b *fakeBackend) finalCalls() []finalCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]finalCall(nil), b.finals...)
}

// fakeArchive keeps history rows in insertion order, oldest first.
type fakeArchive struct {
	mu   sync.Mutex
	rows []db.Session
}

func (a *fakeArchive) BeginSession(_ context.Context, id string, tabID int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rows = append(a.rows, db.Session{ID: id, TabID: tabID, Status: db.StatusActive})
	return nil
}

func (a *fakeArchive) CompleteSession(_ context.Context, id string, totalChunks int, summary, transcript, status string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.rows {
		if a.rows[i].ID == id {
			a.rows[i].TotalChunks = totalChunks
			a.rows[i].Summary = summary
			a.rows[i].Transcript = transcript
			a.rows[i].Status = status
		}
	}
	return nil
}

func (a *fakeArchive) ActiveSession(_ context.Context) (*db.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := len(a.rows) - 1; i >= 0; i-- {
		if a.rows[i].Status == db.StatusActive {
			row := a.rows[i]
			return &row, nil
		}
	}
	return nil, nil
}

func (a *fakeArchive) status(id string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.rows {
		if r.ID == id {
			return r.Status
		}
	}
	return ""
}

type harness struct {
	c       *Coordinator
	driver  *fakeDriver
	host    *fakeHost
	backend *fakeBackend
	slot    *store.MemorySlot
	states  *store.StateStore
	msgs    <-chan broadcast.Message
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		driver:  newFakeDriver(),
		host:    &fakeHost{tab: 7, stream: "stream-7"},
		backend: &fakeBackend{chunkErr: map[int]error{}},
		slot:    &store.MemorySlot{},
	}
	h.states = store.New(h.slot)
	if err := h.states.Init(context.Background()); err != nil {
		t.Fatalf("init store: %v", err)
	}

	hub := broadcast.NewHub()
	msgs, cancel := hub.Subscribe(128)
	t.Cleanup(cancel)
	h.msgs = msgs

	h.c = New(Options{
		Store:   h.states,
		Backend: h.backend,
		Driver:  h.driver,
		Host:    h.host,
		Hub:     hub,
		NewID:   func() string { return "session-1" },
	})

	ctx, stop := context.WithCancel(context.Background())
	go h.c.Run(ctx)
	t.Cleanup(func() {
		stop()
		closeCtx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = h.c.Close(closeCtx)
	})
	return h
}

// waitFor drains broadcast messages until match returns true.
func (h *harness) waitFor(t *testing.T, match func(broadcast.Message) bool) broadcast.Message {
	t.Helper()
	timer := time.NewTimer(waitTimeout)
	defer timer.Stop()
	for {
		select {
		case msg := <-h.msgs:
			if match(msg) {
				return msg
			}
		case <-timer.C:
			t.Fatalf("timed out waiting for broadcast")
			return broadcast.Message{}
		}
	}
}

func isAction(a broadcast.Action) func(broadcast.Message) bool {
	return func(m broadcast.Message) bool { return m.Action == a }
}

func (h *harness) waitIdle(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for h.c.State() != session.StateIdle {
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want idle", h.c.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStartPersistsAndBroadcasts(t *testing.T) {
	h := newHarness(t)

	id, err := h.c.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if id != "session-1" {
		t.Errorf("session id = %q", id)
	}

	rec := h.slot.Record()
	if rec.SessionID != "session-1" || !rec.IsRecording || rec.TabID != 7 || rec.ChunkCounter != 0 {
		t.Errorf("persisted record = %+v", rec)
	}
	if h.c.State() != session.StateRecording {
		t.Errorf("state = %s", h.c.State())
	}

	panel := h.waitFor(t, isAction(broadcast.ActionShowPanel))
	if panel.TabID != 7 {
		t.Errorf("panel tab = %d", panel.TabID)
	}
	status := h.waitFor(t, isAction(broadcast.ActionUpdateStatus))
	if status.Status != StatusStarted || status.IsRecording == nil || !*status.IsRecording {
		t.Errorf("status = %+v", status)
	}

	if len(h.driver.starts) != 1 || h.driver.starts[0].StreamID != "stream-7" {
		t.Errorf("driver starts = %+v", h.driver.starts)
	}
	if h.driver.starts[0].ChunkInterval != capture.DefaultChunkInterval {
		t.Errorf("chunk interval = %v", h.driver.starts[0].ChunkInterval)
	}
}

func TestStartWhileRecordingFails(t *testing.T) {
	h := newHarness(t)
	if _, err := h.c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	before := h.c.Snapshot()
	writes := h.slot.Writes()

	_, err := h.c.Start(context.Background())
	if !errors.Is(err, session.ErrAlreadyRecording) {
		t.Fatalf("err = %v, want ErrAlreadyRecording", err)
	}
	if after := h.c.Snapshot(); after != before {
		t.Errorf("snapshot changed: %+v -> %+v", before, after)
	}
	if h.slot.Writes() != writes {
		t.Error("second start wrote state")
	}
}

func TestStartWithoutActiveTab(t *testing.T) {
	h := newHarness(t)
	h.host.tab = 0

	_, err := h.c.Start(context.Background())
	if !errors.Is(err, session.ErrNoActiveTab) {
		t.Fatalf("err = %v, want ErrNoActiveTab", err)
	}
	if h.c.State() != session.StateIdle {
		t.Errorf("state = %s", h.c.State())
	}
	if h.slot.Writes() != 0 {
		t.Error("failed start persisted state")
	}
}

func TestStartWithoutStreamClosesDocument(t *testing.T) {
	h := newHarness(t)
	h.host.stream = ""

	_, err := h.c.Start(context.Background())
	if !errors.Is(err, session.ErrCaptureUnavailable) {
		t.Fatalf("err = %v, want ErrCaptureUnavailable", err)
	}
	if h.host.closedCount() != 1 {
		t.Errorf("document closed %d times", h.host.closedCount())
	}
	if h.c.Snapshot().Run.HasDocument {
		t.Error("document still marked open")
	}
}

func TestDriverStartFailureFinalizes(t *testing.T) {
	h := newHarness(t)
	h.driver.startErr = errors.New("recorder busy")
	h.backend.finalRes = backend.FinalResult{Summary: strPtr("partial")}

	_, err := h.c.Start(context.Background())
	if !errors.Is(err, session.ErrCaptureDriver) {
		t.Fatalf("err = %v, want ErrCaptureDriver", err)
	}
	h.waitIdle(t)

	if rec := h.slot.Record(); rec.IsRecording {
		t.Errorf("record still recording: %+v", rec)
	}
	if calls := h.backend.finalCalls(); len(calls) != 1 || calls[0].totalChunks != 0 {
		t.Errorf("final calls = %+v", calls)
	}
}

func TestStopWhileIdleIsNoop(t *testing.T) {
	h := newHarness(t)

	if err := h.c.Stop(context.Background(), "bye"); err != nil {
		t.Fatalf("stop: %v", err)
	}

	select {
	case msg := <-h.msgs:
		t.Errorf("unexpected broadcast %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
	if calls := h.backend.finalCalls(); len(calls) != 0 {
		t.Errorf("final calls = %+v", calls)
	}
	if got := h.driver.stopReasons(); len(got) != 0 {
		t.Errorf("driver stops = %v", got)
	}
	if h.slot.Writes() != 0 {
		t.Error("idle stop wrote state")
	}
}

func TestChunkCounterFollowsOrder(t *testing.T) {
	h := newHarness(t)
	if _, err := h.c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	ctx := context.Background()
	for order := 1; order <= 5; order++ {
		h.c.HandleEvent(ctx, capture.Event{
			Kind: capture.EventChunkReady, SessionID: "session-1", Order: order, Payload: []byte("x"),
		})
		if got := h.slot.Record().ChunkCounter; got != order {
			t.Fatalf("after chunk %d counter = %d", order, got)
		}
	}

	if err := h.c.uploads.Wait(ctx); err != nil {
		t.Fatalf("wait uploads: %v", err)
	}
	h.backend.mu.Lock()
	uploaded := len(h.backend.chunks)
	h.backend.mu.Unlock()
	if uploaded != 5 {
		t.Errorf("uploaded %d chunks, want 5", uploaded)
	}
}

func TestEmptyChunkIgnored(t *testing.T) {
	h := newHarness(t)
	if _, err := h.c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	writes := h.slot.Writes()

	h.c.HandleEvent(context.Background(), capture.Event{Kind: capture.EventChunkReady, SessionID: "session-1", Order: 1})

	if h.slot.Writes() != writes || h.c.uploads.Len() != 0 {
		t.Error("empty chunk was accepted")
	}
}

func TestChunkIgnoredWhenIdle(t *testing.T) {
	h := newHarness(t)

	h.c.HandleEvent(context.Background(), capture.Event{
		Kind: capture.EventChunkReady, SessionID: "stale", Order: 3, Payload: []byte("x"),
	})

	if h.slot.Writes() != 0 || h.c.uploads.Len() != 0 {
		t.Error("chunk accepted while idle")
	}
}

func TestFullSession(t *testing.T) {
	h := newHarness(t)
	h.backend.finalRes = backend.FinalResult{Summary: strPtr("S"), Transcript: strPtr("T")}
	ctx := context.Background()

	if res := h.c.Dispatch(ctx, Intent{Action: IntentStartRecording}); !res.Success {
		t.Fatalf("start failed: %s", res.Error)
	}
	for order := 1; order <= 3; order++ {
		h.driver.emitChunk("session-1", order)
	}
	if res := h.c.Dispatch(ctx, Intent{Action: IntentStopRecording}); !res.Success {
		t.Fatalf("stop failed: %s", res.Error)
	}

	ready := h.waitFor(t, isAction(broadcast.ActionSummaryReady))
	if ready.TotalChunks != 3 || ready.Summary != "S" || ready.Transcript != "T" {
		t.Errorf("summary broadcast = %+v", ready)
	}
	if ready.Status != StatusSummaryReady {
		t.Errorf("status = %q", ready.Status)
	}
	h.waitIdle(t)

	rec := h.slot.Record()
	if rec.ChunkCounter != 0 || rec.LastSummary != "S" || rec.LastTranscript != "T" || rec.IsRecording || rec.TabID != 0 {
		t.Errorf("persisted record = %+v", rec)
	}
	if rec.SessionID != "session-1" {
		t.Errorf("session id not retained: %q", rec.SessionID)
	}
	if got := h.driver.stopReasons(); len(got) != 1 || got[0] != StatusStopRequested {
		t.Errorf("driver stops = %v", got)
	}
	if calls := h.backend.finalCalls(); len(calls) != 1 || calls[0] != (finalCall{"session-1", 3}) {
		t.Errorf("final calls = %+v", calls)
	}
	if h.host.closedCount() != 1 {
		t.Errorf("document closed %d times", h.host.closedCount())
	}
}

func TestChunkFailureStopsAndFinalizes(t *testing.T) {
	h := newHarness(t)
	h.backend.chunkErr[1] = &backend.StatusError{StatusCode: 502}
	ctx := context.Background()

	if _, err := h.c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.driver.emitChunk("session-1", 1)

	failed := h.waitFor(t, func(m broadcast.Message) bool { return m.Level == broadcast.LevelError })
	if failed.Status != "Chunk 1 failed: request failed with status 502" {
		t.Errorf("failure status = %q", failed.Status)
	}
	abort := h.waitFor(t, func(m broadcast.Message) bool { return m.Status == StatusChunkAbort })
	if abort.IsRecording == nil || *abort.IsRecording {
		t.Errorf("abort broadcast = %+v", abort)
	}

	ready := h.waitFor(t, isAction(broadcast.ActionSummaryReady))
	if ready.Summary != DefaultSummary {
		t.Errorf("summary = %q", ready.Summary)
	}
	h.waitIdle(t)

	calls := h.backend.finalCalls()
	if len(calls) != 1 {
		t.Fatalf("final calls = %+v", calls)
	}
	// The counter advances when a chunk arrives, before its upload settles.
	if calls[0].totalChunks != 1 {
		t.Errorf("totalChunks = %d, want 1", calls[0].totalChunks)
	}
}

func TestFinalizeIsSingleFlight(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.states.Update(ctx, func(r *session.Record) {
		r.SessionID = "session-9"
		r.ChunkCounter = 2
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	gate := make(chan struct{})
	h.backend.finalGate = gate
	first := h.c.startFinalize(ctx)
	second := h.c.startFinalize(ctx)
	close(gate)

	r1, r2 := <-first, <-second
	if r1.Err != nil || r2.Err != nil {
		t.Fatalf("finalize errors: %v, %v", r1.Err, r2.Err)
	}
	if !r2.Shared {
		t.Error("second finalize did not share the in-flight run")
	}
	if calls := h.backend.finalCalls(); len(calls) != 1 {
		t.Errorf("upload-final called %d times", len(calls))
	}
}

func TestFinalizeFailureReturnsToIdle(t *testing.T) {
	h := newHarness(t)
	h.backend.finalErr = errors.New("boom")
	ctx := context.Background()
	if _, err := h.states.Update(ctx, func(r *session.Record) { r.SessionID = "session-2" }); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := h.c.Finalize(ctx)
	if !errors.Is(err, session.ErrFinalizeFailed) {
		t.Fatalf("err = %v, want ErrFinalizeFailed", err)
	}
	if h.c.State() != session.StateIdle {
		t.Errorf("state = %s", h.c.State())
	}
	msg := h.waitFor(t, func(m broadcast.Message) bool { return m.Level == broadcast.LevelError })
	if msg.Status != "Failed to finalize session: boom" {
		t.Errorf("status = %q", msg.Status)
	}
}

func TestFinalizeWithoutSessionSkipsBackend(t *testing.T) {
	h := newHarness(t)

	if err := h.c.Finalize(context.Background()); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if calls := h.backend.finalCalls(); len(calls) != 0 {
		t.Errorf("final calls = %+v", calls)
	}
}

func TestDriverErrorFinalizes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	h.driver.events <- capture.Event{Kind: capture.EventError, Message: "device lost"}

	msg := h.waitFor(t, func(m broadcast.Message) bool { return m.Level == broadcast.LevelError })
	if msg.Status != "Recorder error: device lost" {
		t.Errorf("status = %q", msg.Status)
	}
	h.waitFor(t, isAction(broadcast.ActionSummaryReady))
	h.waitIdle(t)
}

func TestChunkFailureWhileStoppingBroadcastsAbort(t *testing.T) {
	h := newHarness(t)
	h.driver.noAuto = true
	h.backend.chunkErr[3] = errors.New("backend down")
	ctx := context.Background()
	if _, err := h.c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.c.Stop(ctx, ""); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if h.c.State() != session.StateStopping {
		t.Fatalf("state = %s, want stopping", h.c.State())
	}

	h.c.HandleEvent(ctx, capture.Event{Kind: capture.EventChunkReady, SessionID: "session-1", Order: 3, Payload: []byte("x")})

	msg := h.waitFor(t, func(m broadcast.Message) bool { return m.Status == StatusChunkAbort })
	if msg.SessionID != "session-1" || msg.ChunkCount != 3 {
		t.Errorf("abort broadcast = %+v", msg)
	}
	if reasons := h.driver.stopReasons(); len(reasons) != 1 {
		t.Errorf("stop requests = %v, want 1", reasons)
	}

	h.driver.events <- capture.Event{Kind: capture.EventStopped, SessionID: "session-1"}
	h.waitFor(t, isAction(broadcast.ActionSummaryReady))
	h.waitIdle(t)
}

func TestDriverEventsIgnoredWhileIdle(t *testing.T) {
	h := newHarness(t)
	h.backend.finalRes = backend.FinalResult{Summary: strPtr("S")}
	ctx := context.Background()
	if _, err := h.c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	for order := 1; order <= 2; order++ {
		h.driver.events <- capture.Event{
			Kind: capture.EventChunkReady, SessionID: "session-1", Order: order, Payload: []byte("x"),
		}
	}
	h.waitFor(t, func(m broadcast.Message) bool { return m.Status == "Chunk 2 uploaded." })
	if err := h.c.Stop(ctx, ""); err != nil {
		t.Fatalf("stop: %v", err)
	}
	h.waitFor(t, isAction(broadcast.ActionSummaryReady))
	h.waitIdle(t)

	h.backend.mu.Lock()
	h.backend.finalRes = backend.FinalResult{Summary: strPtr("overwritten")}
	h.backend.mu.Unlock()
	h.c.HandleEvent(ctx, capture.Event{Kind: capture.EventError, Message: "late"})
	h.c.HandleEvent(ctx, capture.Event{Kind: capture.EventStopped, SessionID: "session-1"})

	waitCtx, cancel := context.WithTimeout(ctx, waitTimeout)
	defer cancel()
	if err := h.c.background.Wait(waitCtx); err != nil {
		t.Fatalf("wait background: %v", err)
	}
	if calls := h.backend.finalCalls(); len(calls) != 1 || calls[0] != (finalCall{"session-1", 2}) {
		t.Errorf("final calls = %+v, want one for session-1 with 2 chunks", calls)
	}
	if rec := h.slot.Record(); rec.LastSummary != "S" {
		t.Errorf("lastSummary = %q, want S", rec.LastSummary)
	}
}

func TestChatWithoutSession(t *testing.T) {
	h := newHarness(t)

	res := h.c.Dispatch(context.Background(), Intent{Action: IntentChatQuery, Query: "what happened?"})
	if !res.Success {
		t.Fatalf("chat failed: %s", res.Error)
	}
	msg := h.waitFor(t, isAction(broadcast.ActionChatResponse))
	if msg.Error != NoSessionChatResponse {
		t.Errorf("chat error = %q", msg.Error)
	}
	if len(h.backend.chats) != 0 {
		t.Errorf("backend called: %v", h.backend.chats)
	}
}

func TestChatForwardsResponse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.states.Update(ctx, func(r *session.Record) { r.SessionID = "session-3" }); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tests := []struct {
		name string
		res  backend.ChatResult
		err  error
		want broadcast.Message
	}{
		{"answer", backend.ChatResult{Response: strPtr("Alice owns it.")}, nil,
			broadcast.Message{Response: "Alice owns it."}},
		{"missing field", backend.ChatResult{}, nil,
			broadcast.Message{Response: DefaultChatResponse}},
		{"failure", backend.ChatResult{}, errors.New("timeout"),
			broadcast.Message{Error: "timeout"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h.backend.mu.Lock()
			h.backend.chatRes, h.backend.chatErr = tt.res, tt.err
			h.backend.mu.Unlock()

			if err := h.c.Chat(ctx, "who owns it?"); err != nil {
				t.Fatalf("chat: %v", err)
			}
			msg := h.waitFor(t, isAction(broadcast.ActionChatResponse))
			if msg.Response != tt.want.Response || msg.Error != tt.want.Error {
				t.Errorf("got response=%q error=%q", msg.Response, msg.Error)
			}
			if msg.Query != "who owns it?" || msg.SessionID != "session-3" {
				t.Errorf("query/session = %q/%q", msg.Query, msg.SessionID)
			}
		})
	}
}

func TestDispatchEmptyQuery(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.states.Update(ctx, func(r *session.Record) {
		r.SessionID = "session-9"
		r.ChunkCounter = 3
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	res := h.c.Dispatch(ctx, Intent{Action: IntentChatQuery, Query: "   "})
	if res.Success || res.Error != session.ErrEmptyQuery.Error() {
		t.Errorf("result = %+v", res)
	}
	msg := h.waitFor(t, isAction(broadcast.ActionUpdateStatus))
	if msg.Level != broadcast.LevelError || msg.Status != "Error: query text is required" {
		t.Errorf("broadcast = %+v", msg)
	}
	if msg.SessionID != "session-9" || msg.ChunkCount != 3 {
		t.Errorf("broadcast session/chunks = %q/%d, want session-9/3", msg.SessionID, msg.ChunkCount)
	}
}

func TestDispatchUnknownAndToggle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if res := h.c.Dispatch(ctx, Intent{Action: "REWIND"}); res.Success || res.Error == "" {
		t.Errorf("unknown action result = %+v", res)
	}
	if res := h.c.Dispatch(ctx, Intent{Action: IntentTogglePanel}); !res.Success {
		t.Errorf("toggle result = %+v", res)
	}
	select {
	case msg := <-h.msgs:
		t.Errorf("unexpected broadcast %+v", msg)
	default:
	}
}

func TestRecoverFinalizesInterruptedSession(t *testing.T) {
	slot := &store.MemorySlot{}
	ctx := context.Background()
	if err := slot.Save(ctx, session.Record{SessionID: "old", ChunkCounter: 4, IsRecording: true, TabID: 3}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	states := store.New(slot)
	if err := states.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	be := &fakeBackend{finalRes: backend.FinalResult{Summary: strPtr("recovered")}}
	c := New(Options{Store: states, Backend: be, Driver: newFakeDriver(), Host: &fakeHost{}})

	if err := c.Recover(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if calls := be.finalCalls(); len(calls) != 1 || calls[0] != (finalCall{"old", 4}) {
		t.Errorf("final calls = %+v", calls)
	}
	rec := slot.Record()
	if rec.IsRecording || rec.ChunkCounter != 0 || rec.LastSummary != "recovered" {
		t.Errorf("record = %+v", rec)
	}
}

func TestRecoverResumesInterruptedFinalize(t *testing.T) {
	slot := &store.MemorySlot{}
	ctx := context.Background()
	if err := slot.Save(ctx, session.Record{SessionID: "old", ChunkCounter: 4}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	states := store.New(slot)
	if err := states.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	archive := &fakeArchive{}
	_ = archive.BeginSession(ctx, "stale", 1)
	_ = archive.BeginSession(ctx, "old", 3)

	be := &fakeBackend{finalRes: backend.FinalResult{Summary: strPtr("recovered")}}
	c := New(Options{Store: states, Backend: be, Driver: newFakeDriver(), Host: &fakeHost{}, Archive: archive})

	if err := c.Recover(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if calls := be.finalCalls(); len(calls) != 1 || calls[0] != (finalCall{"old", 4}) {
		t.Errorf("final calls = %+v", calls)
	}
	if got := archive.status("old"); got != db.StatusCompleted {
		t.Errorf("old status = %q, want completed", got)
	}
	if got := archive.status("stale"); got != db.StatusFailed {
		t.Errorf("stale status = %q, want failed", got)
	}
}

func TestRecoverFailsAbandonedHistory(t *testing.T) {
	slot := &store.MemorySlot{}
	ctx := context.Background()
	states := store.New(slot)
	if err := states.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	archive := &fakeArchive{}
	_ = archive.BeginSession(ctx, "abandoned", 2)

	be := &fakeBackend{}
	c := New(Options{Store: states, Backend: be, Driver: newFakeDriver(), Host: &fakeHost{}, Archive: archive})

	if err := c.Recover(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if calls := be.finalCalls(); len(calls) != 0 {
		t.Errorf("final calls = %+v, want none", calls)
	}
	if got := archive.status("abandoned"); got != db.StatusFailed {
		t.Errorf("status = %q, want failed", got)
	}
}

func TestTaskSetRecoversPanics(t *testing.T) {
	h := newHarness(t)
	ts := h.c.background

	ts.Go(func() { panic("boom") })
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := ts.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if ts.Len() != 0 {
		t.Errorf("len = %d", ts.Len())
	}
}
