package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/Nitish0223/Ai-powered-Meeting-Summariser/internal/broadcast"
	"github.com/Nitish0223/Ai-powered-Meeting-Summariser/internal/coordinator"
	"github.com/Nitish0223/Ai-powered-Meeting-Summariser/internal/db"
	"github.com/Nitish0223/Ai-powered-Meeting-Summariser/internal/session"
)

// DefaultHistoryLimit caps history listings when the client sends no limit.
const DefaultHistoryLimit = 20

// subscriberBuffer is how many events a slow subscriber may fall behind.
const subscriberBuffer = 64

// Coordinator is the session coordinator as seen by the server.
type Coordinator interface {
	Dispatch(ctx context.Context, in coordinator.Intent) coordinator.Result
	Snapshot() session.Snapshot
	Hub() *broadcast.Hub
}

// History lists recorded sessions, newest first.
type History interface {
	Sessions(ctx context.Context, limit int) ([]db.Session, error)
	LatestSession(ctx context.Context) (*db.Session, error)
}

// ServerOptions wires a Server.
type ServerOptions struct {
	Coordinator Coordinator
	Recorder    *Recorder
	History     History
	Logger      hclog.Logger
}

// Server accepts NDJSON connections from user surfaces and the recorder.
type Server struct {
	coord    Coordinator
	recorder *Recorder
	history  History
	log      hclog.Logger

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// NewServer creates a Server.
func NewServer(opts ServerOptions) *Server {
	log := opts.Logger
	if log == nil {
		log = hclog.NewNullLogger()
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = NewRecorder(log, 0)
	}
	return &Server{
		coord:    opts.Coordinator,
		recorder: recorder,
		history:  opts.History,
		log:      log,
		conns:    make(map[net.Conn]struct{}),
	}
}

// ListenAndServe listens on socketPath, replacing a stale socket, and serves
// until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, socketPath string) error {
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o755); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0o600); err != nil {
		_ = ln.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}
	defer os.Remove(socketPath)

	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx ends, then closes every open
// connection and waits for their handlers.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-stop:
		}
	}()
	defer close(stop)
	defer s.shutdown()

	s.log.Info("listening", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}

		s.track(conn, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.track(conn, false)
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

func (s *Server) shutdown() {
	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	p := newPeer(conn)
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLine)

	attached := false
	defer func() {
		if attached {
			s.recorder.detach(p)
			s.log.Info("recorder detached")
		}
	}()

	for scanner.Scan() {
		var cmd Command
		if err := json.Unmarshal(scanner.Bytes(), &cmd); err != nil {
			s.log.Warn("malformed command", "error", err)
			if err := p.send(Response{Error: "malformed command"}); err != nil {
				return
			}
			continue
		}

		switch cmd.Cmd {
		case CmdAttachRecorder:
			if err := p.send(Response{OK: true}); err != nil {
				return
			}
			s.recorder.attach(p)
			attached = true
			s.log.Info("recorder attached")
			continue
		case CmdRecorderReply, CmdChunkReady, CmdRecorderStopped, CmdRecorderError:
			if !attached {
				s.log.Debug("recorder command from unattached client", "cmd", cmd.Cmd)
				continue
			}
			s.recorder.handle(p, cmd)
			continue
		case CmdSubscribe:
			if err := p.send(Response{OK: true}); err != nil {
				return
			}
			s.stream(ctx, p, cmd.Events)
			return
		}

		if err := p.send(s.execute(ctx, cmd)); err != nil {
			s.log.Debug("write response", "error", err)
			return
		}
	}
	if err := scanner.Err(); err != nil {
		s.log.Debug("read command", "error", err)
	}
}

// execute runs a request/response command.
func (s *Server) execute(ctx context.Context, cmd Command) Response {
	switch cmd.Cmd {
	case CmdStart:
		return resultResponse(s.coord.Dispatch(ctx, coordinator.Intent{Action: coordinator.IntentStartRecording}))
	case CmdStop:
		return resultResponse(s.coord.Dispatch(ctx, coordinator.Intent{Action: coordinator.IntentStopRecording}))
	case CmdChat:
		return resultResponse(s.coord.Dispatch(ctx, coordinator.Intent{Action: coordinator.IntentChatQuery, Query: cmd.Query}))
	case CmdTogglePanel:
		return resultResponse(s.coord.Dispatch(ctx, coordinator.Intent{Action: coordinator.IntentTogglePanel}))
	case CmdStatus:
		return s.withLatest(ctx, statusResponse(s.coord.Snapshot()))
	case CmdHistory:
		return s.historyResponse(ctx, cmd.Limit)
	default:
		return Response{Error: fmt.Sprintf("unknown command %q", cmd.Cmd)}
	}
}

func resultResponse(res coordinator.Result) Response {
	return Response{OK: res.Success, Error: res.Error, SessionID: res.SessionID}
}

func statusResponse(snap session.Snapshot) Response {
	return Response{
		OK:         true,
		SessionID:  snap.SessionID,
		Recording:  BoolPtr(snap.IsRecording),
		Chunks:     IntPtr(snap.ChunkCounter),
		State:      string(snap.Run.State),
		Summary:    snap.LastSummary,
		Transcript: snap.LastTranscript,
	}
}

// withLatest attaches the newest history row to a status response.
func (s *Server) withLatest(ctx context.Context, resp Response) Response {
	if s.history == nil {
		return resp
	}
	latest, err := s.history.LatestSession(ctx)
	if err != nil {
		s.log.Warn("latest session", "error", err)
		return resp
	}
	if latest != nil {
		info := sessionInfo(*latest)
		resp.Latest = &info
	}
	return resp
}

func (s *Server) historyResponse(ctx context.Context, limit *int) Response {
	if s.history == nil {
		return Response{Error: "history unavailable"}
	}
	n := DefaultHistoryLimit
	if limit != nil && *limit > 0 {
		n = *limit
	}
	rows, err := s.history.Sessions(ctx, n)
	if err != nil {
		s.log.Error("list sessions", "error", err)
		return Response{Error: err.Error()}
	}
	resp := Response{OK: true, Sessions: make([]SessionInfo, 0, len(rows))}
	for _, row := range rows {
		resp.Sessions = append(resp.Sessions, sessionInfo(row))
	}
	return resp
}

// stream forwards broadcast messages to a subscriber until it disconnects.
// An empty filter subscribes to every action.
func (s *Server) stream(ctx context.Context, p *peer, filter []string) {
	want := make(map[string]bool, len(filter))
	for _, name := range filter {
		want[name] = true
	}

	msgs, cancel := s.coord.Hub().Subscribe(subscriberBuffer)
	defer cancel()

	// Subscribers send nothing further; a read returning means they left.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		buf := make([]byte, 512)
		for {
			if _, err := p.conn.Read(buf); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-gone:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if len(want) > 0 && !want[string(msg.Action)] {
				continue
			}
			if err := p.send(EventFromMessage(msg)); err != nil {
				s.log.Debug("subscriber write failed", "error", err)
				return
			}
		}
	}
}
