// Package broadcast fans coordinator messages out to every listening surface.
package broadcast

import "sync"

// Action names a cross-surface message.
type Action string

const (
	ActionUpdateStatus Action = "UPDATE_STATUS"
	ActionSummaryReady Action = "SUMMARY_READY"
	ActionChatResponse Action = "CHAT_RESPONSE"
	ActionShowPanel    Action = "SHOW_PANEL"
)

// LevelError marks an error status.
const LevelError = "error"

// Message is the union of everything the coordinator publishes. Which fields
// are set depends on Action.
type Message struct {
	Action      Action `json:"action"`
	Status      string `json:"status,omitempty"`
	ChunkCount  int    `json:"chunkCount,omitempty"`
	SessionID   string `json:"sessionId,omitempty"`
	IsRecording *bool  `json:"isRecording,omitempty"`
	Level       string `json:"level,omitempty"`
	Summary     string `json:"summary,omitempty"`
	Transcript  string `json:"transcript,omitempty"`
	TotalChunks int    `json:"totalChunks,omitempty"`
	Response    string `json:"response,omitempty"`
	Error       string `json:"error,omitempty"`
	Query       string `json:"query,omitempty"`
	// TabID directs SHOW_PANEL at the owning tab.
	TabID int `json:"tabId,omitempty"`
}

// Hub is a fire-and-forget publish/subscribe channel.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]chan Message
	nextID int
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Message)}
}

// Subscribe registers a listener with the given buffer. The returned cancel
// func unregisters it and closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan Message, func()) {
	ch := make(chan Message, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers msg to every subscriber that has room. Slow listeners
// miss messages rather than stall the publisher.
func (h *Hub) Publish(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool { return &b }
