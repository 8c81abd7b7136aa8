// Package session defines the recording session record, the coordinator
// state machine states and the error taxonomy shared by every surface.
package session

// StateKey is the name of the durable slot holding the current Record.
const StateKey = "recordingState"

// Record is the persisted metadata of the current (or last) recording session.
type Record struct {
	SessionID      string `json:"sessionId"`
	ChunkCounter   int    `json:"chunkCounter"`
	IsRecording    bool   `json:"isRecording"`
	TabID          int    `json:"tabId"`
	LastSummary    string `json:"lastSummary"`
	LastTranscript string `json:"lastTranscript"`
}

// State is a coordinator lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateStarting   State = "starting"
	StateRecording  State = "recording"
	StateStopping   State = "stopping"
	StateFinalizing State = "finalizing"
)

// RunState is process-local and never persisted. It makes start and stop
// idempotent and gates re-entrant calls.
type RunState struct {
	State       State `json:"state"`
	IsActive    bool  `json:"isActive"`
	IsStopping  bool  `json:"isStopping"`
	HasDocument bool  `json:"hasDocument"`
}

// Snapshot pairs the persisted record with the run state.
type Snapshot struct {
	Record
	Run RunState `json:"run"`
}
