package daemon

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/Nitish0223/Ai-powered-Meeting-Summariser/internal/broadcast"
)

func TestCommandOmitsEmptyFields(t *testing.T) {
	data, err := json.Marshal(Command{Cmd: CmdStop})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}

	if len(raw) != 1 {
		t.Errorf("stop command = %s, want only cmd", data)
	}
}

func TestChunkReadyPayloadIsBase64(t *testing.T) {
	j := `{"cmd":"chunk_ready","sessionId":"sess-1","order":2,"payload":"GkXfow=="}`

	var cmd Command
	if err := json.Unmarshal([]byte(j), &cmd); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if cmd.Order == nil || *cmd.Order != 2 {
		t.Errorf("order = %v, want 2", cmd.Order)
	}
	want := []byte{0x1a, 0x45, 0xdf, 0xa3}
	if string(cmd.Payload) != string(want) {
		t.Errorf("payload = %x, want %x", cmd.Payload, want)
	}
}

func TestResponseStatus(t *testing.T) {
	j := `{"ok":true,"sessionId":"abc-123","recording":false,"chunks":0,"state":"idle","summary":"S"}`

	var resp Response
	if err := json.Unmarshal([]byte(j), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if resp.Recording == nil || *resp.Recording {
		t.Errorf("recording = %v, want false", resp.Recording)
	}
	if resp.Chunks == nil || *resp.Chunks != 0 {
		t.Errorf("chunks = %v, want 0", resp.Chunks)
	}
	if resp.State != "idle" || resp.Summary != "S" {
		t.Errorf("state/summary = %q/%q", resp.State, resp.Summary)
	}
}

func TestEventFromMessage(t *testing.T) {
	tests := []struct {
		name  string
		msg   broadcast.Message
		check func(t *testing.T, ev Event)
	}{
		{
			name: "status",
			msg: broadcast.Message{
				Action: broadcast.ActionUpdateStatus, Status: "Chunk 2 uploaded.",
				ChunkCount: 2, SessionID: "s", IsRecording: broadcast.BoolPtr(true),
			},
			check: func(t *testing.T, ev Event) {
				if ev.Event != "UPDATE_STATUS" || ev.Status != "Chunk 2 uploaded." {
					t.Errorf("event = %+v", ev)
				}
				if ev.ChunkCount == nil || *ev.ChunkCount != 2 {
					t.Errorf("chunkCount = %v", ev.ChunkCount)
				}
				if ev.Recording == nil || !*ev.Recording {
					t.Errorf("isRecording = %v", ev.Recording)
				}
			},
		},
		{
			name: "status with zero chunks",
			msg:  broadcast.Message{Action: broadcast.ActionUpdateStatus, Status: "Recording started…", SessionID: "s"},
			check: func(t *testing.T, ev Event) {
				if ev.ChunkCount == nil || *ev.ChunkCount != 0 {
					t.Errorf("chunkCount = %v, want 0", ev.ChunkCount)
				}
				data, err := json.Marshal(ev)
				if err != nil {
					t.Fatalf("marshal: %v", err)
				}
				if !strings.Contains(string(data), `"chunkCount":0`) {
					t.Errorf("wire form = %s, want chunkCount 0", data)
				}
			},
		},
		{
			name: "summary with zero chunks",
			msg:  broadcast.Message{Action: broadcast.ActionSummaryReady, Summary: "S", TotalChunks: 0},
			check: func(t *testing.T, ev Event) {
				if ev.TotalChunks == nil || *ev.TotalChunks != 0 {
					t.Errorf("totalChunks = %v, want 0", ev.TotalChunks)
				}
			},
		},
		{
			name: "show panel",
			msg:  broadcast.Message{Action: broadcast.ActionShowPanel, TabID: 12},
			check: func(t *testing.T, ev Event) {
				if ev.TabID == nil || *ev.TabID != 12 {
					t.Errorf("tabId = %v", ev.TabID)
				}
				if ev.ChunkCount != nil || ev.TotalChunks != nil {
					t.Errorf("unexpected counts: %+v", ev)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, EventFromMessage(tt.msg))
		})
	}
}

func TestEventWireNames(t *testing.T) {
	ev := EventFromMessage(broadcast.Message{Action: broadcast.ActionUpdateStatus, IsRecording: broadcast.BoolPtr(false)})
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	if v, ok := raw["isRecording"]; !ok || v != false {
		t.Errorf("isRecording = %v, want false", v)
	}
}
