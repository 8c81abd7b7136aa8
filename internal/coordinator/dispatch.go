package coordinator

import (
	"context"
	"fmt"

	"github.com/Nitish0223/Ai-powered-Meeting-Summariser/internal/broadcast"
)

// IntentAction names a request from a user surface.
type IntentAction string

const (
	IntentStartRecording IntentAction = "START_RECORDING"
	IntentStopRecording  IntentAction = "STOP_RECORDING"
	IntentChatQuery      IntentAction = "CHAT_QUERY"
	IntentTogglePanel    IntentAction = "TOGGLE_PANEL"
)

// Intent is a request from a user surface.
type Intent struct {
	Action IntentAction `json:"action"`
	Query  string       `json:"query,omitempty"`
}

// Result acknowledges an Intent.
type Result struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// Dispatch routes an intent to the matching operation. Failures are logged,
// surfaced on the broadcast channel and reported in the Result.
func (c *Coordinator) Dispatch(ctx context.Context, in Intent) Result {
	var (
		sessionID string
		err       error
	)

	switch in.Action {
	case IntentStartRecording:
		sessionID, err = c.Start(ctx)
	case IntentStopRecording:
		err = c.Stop(ctx, StatusStopRequested)
	case IntentChatQuery:
		err = c.Chat(ctx, in.Query)
	case IntentTogglePanel:
		// The panel belongs to the surface; nothing to coordinate.
	default:
		return Result{Error: fmt.Sprintf("unknown action %q", in.Action)}
	}

	if err != nil {
		c.log.Error("intent failed", "action", in.Action, "error", err)
		rec := c.store.Get()
		c.hub.Publish(broadcast.Message{
			Action:     broadcast.ActionUpdateStatus,
			Status:     "Error: " + err.Error(),
			ChunkCount: rec.ChunkCounter,
			SessionID:  rec.SessionID,
			Level:      broadcast.LevelError,
		})
		return Result{Error: err.Error()}
	}
	return Result{Success: true, SessionID: sessionID}
}
