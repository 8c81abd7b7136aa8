package app

import "github.com/Nitish0223/Ai-powered-Meeting-Summariser/internal/daemon"

// DaemonConnectedMsg is sent when both daemon connections are established.
type DaemonConnectedMsg struct {
	Client   *daemon.Client // for commands (start, stop, chat, status)
	EvClient *daemon.Client // for event subscription
}

// DaemonConnectErrorMsg is sent when the daemon connection fails.
type DaemonConnectErrorMsg struct {
	Err error
}

// DaemonEventMsg wraps a streamed event from the daemon.
type DaemonEventMsg struct {
	Event daemon.Event
}

// DaemonEventErrorMsg is sent when either connection fails.
type DaemonEventErrorMsg struct {
	Err error
}

// StatusResponseMsg carries the response to a status command.
type StatusResponseMsg struct {
	Response daemon.Response
}

// StartResponseMsg carries the response to a start command.
type StartResponseMsg struct {
	Response daemon.Response
}

// StopResponseMsg carries the response to a stop command.
type StopResponseMsg struct {
	Response daemon.Response
}

// ChatAckMsg carries the daemon's acknowledgement of a chat query. The
// answer itself arrives later as a CHAT_RESPONSE event.
type ChatAckMsg struct {
	Query    string
	Response daemon.Response
}

// ClearTransientErrorMsg clears a transient error after a timeout.
type ClearTransientErrorMsg struct{}

// ReconnectTickMsg triggers a reconnection attempt.
type ReconnectTickMsg struct{}
