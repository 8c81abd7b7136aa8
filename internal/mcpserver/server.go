// Package mcpserver exposes the summariser daemon as MCP tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Nitish0223/Ai-powered-Meeting-Summariser/internal/broadcast"
	"github.com/Nitish0223/Ai-powered-Meeting-Summariser/internal/daemon"
)

// DefaultChatTimeout bounds how long chat_query waits for an answer.
const DefaultChatTimeout = 90 * time.Second

// Conn is one daemon connection.
type Conn interface {
	SendCommand(cmd daemon.Command) (daemon.Response, error)
	ReadEvent() (daemon.Event, error)
	Close() error
}

// Dialer opens a daemon connection.
type Dialer func() (Conn, error)

// SocketDialer dials the daemon at socketPath.
func SocketDialer(socketPath string) Dialer {
	return func() (Conn, error) {
		c, err := daemon.Connect(socketPath)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Tools implements the tool handlers.
type Tools struct {
	dial        Dialer
	chatTimeout time.Duration
}

// NewTools creates tool handlers that reach the daemon through dial.
func NewTools(dial Dialer, chatTimeout time.Duration) *Tools {
	if chatTimeout <= 0 {
		chatTimeout = DefaultChatTimeout
	}
	return &Tools{dial: dial, chatTimeout: chatTimeout}
}

// New builds the MCP server with every tool registered.
func New(version string, tools *Tools) *server.MCPServer {
	s := server.NewMCPServer("summariser", version, server.WithToolCapabilities(false))

	s.AddTool(mcp.NewTool("start_recording",
		mcp.WithDescription("Start recording the active browser tab and stream audio chunks for transcription."),
	), tools.StartRecording)

	s.AddTool(mcp.NewTool("stop_recording",
		mcp.WithDescription("Stop the current recording. The summary is produced once all chunks are uploaded."),
	), tools.StopRecording)

	s.AddTool(mcp.NewTool("chat_query",
		mcp.WithDescription("Ask a question about the most recently summarized meeting."),
		mcp.WithString("query", mcp.Required(), mcp.Description("The question to ask")),
	), tools.ChatQuery)

	s.AddTool(mcp.NewTool("recording_status",
		mcp.WithDescription("Report whether a recording is in progress, its chunk count and the last summary."),
	), tools.RecordingStatus)

	s.AddTool(mcp.NewTool("session_history",
		mcp.WithDescription("List recent recording sessions, newest first."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of sessions (default 10)")),
	), tools.SessionHistory)

	return s
}

// Serve runs s on stdin/stdout.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

// send runs one request/response command on a fresh connection.
func (t *Tools) send(cmd daemon.Command) (daemon.Response, error) {
	conn, err := t.dial()
	if err != nil {
		return daemon.Response{}, err
	}
	defer conn.Close()
	return conn.SendCommand(cmd)
}

// StartRecording handles start_recording.
func (t *Tools) StartRecording(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resp, err := t.send(daemon.Command{Cmd: daemon.CmdStart})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("daemon unavailable: %v", err)), nil
	}
	if !resp.OK {
		return mcp.NewToolResultError(resp.Error), nil
	}
	return mcp.NewToolResultText("Recording started. Session " + resp.SessionID + "."), nil
}

// StopRecording handles stop_recording.
func (t *Tools) StopRecording(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resp, err := t.send(daemon.Command{Cmd: daemon.CmdStop})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("daemon unavailable: %v", err)), nil
	}
	if !resp.OK {
		return mcp.NewToolResultError(resp.Error), nil
	}
	return mcp.NewToolResultText("Stop requested. The summary will be ready once the session is finalized."), nil
}

// RecordingStatus handles recording_status.
func (t *Tools) RecordingStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resp, err := t.send(daemon.Command{Cmd: daemon.CmdStatus})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("daemon unavailable: %v", err)), nil
	}
	if !resp.OK {
		return mcp.NewToolResultError(resp.Error), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "State: %s\n", resp.State)
	if resp.Recording != nil && *resp.Recording {
		fmt.Fprintf(&b, "Recording: yes\n")
	} else {
		fmt.Fprintf(&b, "Recording: no\n")
	}
	if resp.Chunks != nil {
		fmt.Fprintf(&b, "Chunks: %d\n", *resp.Chunks)
	}
	if resp.SessionID != "" {
		fmt.Fprintf(&b, "Session: %s\n", resp.SessionID)
	}
	if l := resp.Latest; l != nil {
		fmt.Fprintf(&b, "Last session: %s (%s, %d chunks)\n", l.ID, l.Status, l.TotalChunks)
	}
	if resp.Summary != "" {
		fmt.Fprintf(&b, "\nLast summary:\n%s\n", resp.Summary)
	}
	return mcp.NewToolResultText(b.String()), nil
}

// SessionHistory handles session_history.
func (t *Tools) SessionHistory(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 10)
	resp, err := t.send(daemon.Command{Cmd: daemon.CmdHistory, Limit: daemon.IntPtr(limit)})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("daemon unavailable: %v", err)), nil
	}
	if !resp.OK {
		return mcp.NewToolResultError(resp.Error), nil
	}

	data, err := json.MarshalIndent(resp.Sessions, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal sessions: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ChatQuery handles chat_query.
func (t *Tools) ChatQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("query text is required"), nil
	}

	answer, err := t.Ask(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(answer), nil
}

// Ask sends query to the daemon and waits for its answer. The answer
// arrives as a CHAT_RESPONSE broadcast, so a subscription is opened before
// the question is sent.
func (t *Tools) Ask(ctx context.Context, query string) (string, error) {
	events, err := t.dial()
	if err != nil {
		return "", fmt.Errorf("daemon unavailable: %w", err)
	}
	defer events.Close()

	sub, err := events.SendCommand(daemon.Command{
		Cmd:    daemon.CmdSubscribe,
		Events: []string{string(broadcast.ActionChatResponse)},
	})
	if err != nil {
		return "", fmt.Errorf("subscribe: %w", err)
	}
	if !sub.OK {
		return "", errors.New("subscribe: " + sub.Error)
	}

	resp, err := t.send(daemon.Command{Cmd: daemon.CmdChat, Query: query})
	if err != nil {
		return "", fmt.Errorf("daemon unavailable: %w", err)
	}
	if !resp.OK {
		return "", errors.New(resp.Error)
	}

	answer := make(chan daemon.Event, 1)
	go func() {
		defer close(answer)
		for {
			ev, err := events.ReadEvent()
			if err != nil {
				return
			}
			if ev.Query == query {
				answer <- ev
				return
			}
		}
	}()

	timer := time.NewTimer(t.chatTimeout)
	defer timer.Stop()

	select {
	case ev, ok := <-answer:
		if !ok {
			return "", errors.New("daemon closed the connection before answering")
		}
		if ev.Error != "" {
			return "", errors.New(ev.Error)
		}
		return ev.Response, nil
	case <-timer.C:
		return "", errors.New("timed out waiting for a chat response")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
