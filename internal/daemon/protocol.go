// Package daemon provides the NDJSON protocol, socket server, client and
// remote recorder bridge for the summariser daemon.
package daemon

import (
	"time"

	"github.com/Nitish0223/Ai-powered-Meeting-Summariser/internal/broadcast"
	"github.com/Nitish0223/Ai-powered-Meeting-Summariser/internal/db"
)

// Client commands.
const (
	CmdStart       = "start"
	CmdStop        = "stop"
	CmdChat        = "chat"
	CmdTogglePanel = "toggle_panel"
	CmdStatus      = "status"
	CmdHistory     = "history"
	CmdSubscribe   = "subscribe"
)

// Recorder peer commands. These never receive a Response.
const (
	CmdAttachRecorder  = "attach_recorder"
	CmdRecorderReply   = "recorder_reply"
	CmdChunkReady      = "chunk_ready"
	CmdRecorderStopped = "recorder_stopped"
	CmdRecorderError   = "recorder_error"
)

// EventRecorderRequest asks the attached recorder to perform an action.
const EventRecorderRequest = "recorder_request"

// Recorder request actions.
const (
	ActionActiveTab     = "active_tab"
	ActionEnsureDoc     = "ensure_document"
	ActionCloseDoc      = "close_document"
	ActionStreamID      = "stream_id"
	ActionStartRecorder = "start"
	ActionStopRecorder  = "stop"
	ActionShowPanel     = "show_panel"
)

// Command is sent from a client to the daemon.
type Command struct {
	Cmd    string   `json:"cmd"`
	Query  string   `json:"query,omitempty"`
	Limit  *int     `json:"limit,omitempty"`
	Events []string `json:"events,omitempty"`

	// Recorder peer fields.
	RequestID string `json:"requestId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	TabID     *int   `json:"tabId,omitempty"`
	StreamID  string `json:"streamId,omitempty"`
	Order     *int   `json:"order,omitempty"`
	Payload   []byte `json:"payload,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Response is returned by the daemon after processing a command.
type Response struct {
	OK         bool          `json:"ok"`
	Error      string        `json:"error,omitempty"`
	SessionID  string        `json:"sessionId,omitempty"`
	Recording  *bool         `json:"recording,omitempty"`
	Chunks     *int          `json:"chunks,omitempty"`
	State      string        `json:"state,omitempty"`
	Summary    string        `json:"summary,omitempty"`
	Transcript string        `json:"transcript,omitempty"`
	Sessions   []SessionInfo `json:"sessions,omitempty"`
	Latest     *SessionInfo  `json:"latest,omitempty"`
}

// SessionInfo is one finished or running session in a history listing.
type SessionInfo struct {
	ID          string     `json:"id"`
	TabID       int        `json:"tabId"`
	StartedAt   time.Time  `json:"startedAt"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
	TotalChunks int        `json:"totalChunks"`
	Summary     string     `json:"summary,omitempty"`
	Status      string     `json:"status"`
}

// Event is streamed from the daemon to subscribers and to the recorder.
type Event struct {
	Event       string `json:"event"`
	Status      string `json:"status,omitempty"`
	ChunkCount  *int   `json:"chunkCount,omitempty"`
	SessionID   string `json:"sessionId,omitempty"`
	Recording   *bool  `json:"isRecording,omitempty"`
	Level       string `json:"level,omitempty"`
	Summary     string `json:"summary,omitempty"`
	Transcript  string `json:"transcript,omitempty"`
	TotalChunks *int   `json:"totalChunks,omitempty"`
	Response    string `json:"response,omitempty"`
	Error       string `json:"error,omitempty"`
	Query       string `json:"query,omitempty"`
	TabID       *int   `json:"tabId,omitempty"`

	// Recorder request fields.
	RequestID       string `json:"requestId,omitempty"`
	Action          string `json:"action,omitempty"`
	StreamID        string `json:"streamId,omitempty"`
	ChunkIntervalMs *int   `json:"chunkIntervalMs,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// EventFromMessage converts a broadcast message to its wire form.
func EventFromMessage(m broadcast.Message) Event {
	ev := Event{
		Event:      string(m.Action),
		Status:     m.Status,
		SessionID:  m.SessionID,
		Recording:  m.IsRecording,
		Level:      m.Level,
		Summary:    m.Summary,
		Transcript: m.Transcript,
		Response:   m.Response,
		Error:      m.Error,
		Query:      m.Query,
	}
	if m.Action == broadcast.ActionUpdateStatus || m.ChunkCount > 0 {
		ev.ChunkCount = IntPtr(m.ChunkCount)
	}
	if m.Action == broadcast.ActionSummaryReady {
		ev.TotalChunks = IntPtr(m.TotalChunks)
	}
	if m.TabID != 0 {
		ev.TabID = IntPtr(m.TabID)
	}
	return ev
}

func sessionInfo(s db.Session) SessionInfo {
	return SessionInfo{
		ID:          s.ID,
		TabID:       s.TabID,
		StartedAt:   s.StartedAt,
		EndedAt:     s.EndedAt,
		TotalChunks: s.TotalChunks,
		Summary:     s.Summary,
		Status:      s.Status,
	}
}

// BoolPtr returns a pointer to a bool value.
func BoolPtr(b bool) *bool { return &b }

// IntPtr returns a pointer to an int value.
func IntPtr(n int) *int { return &n }
