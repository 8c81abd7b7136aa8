package broadcast

import "testing"

func TestPublishReachesAllSubscribers(t *testing.T) {
	h := NewHub()
	a, cancelA := h.Subscribe(4)
	defer cancelA()
	b, cancelB := h.Subscribe(4)
	defer cancelB()

	h.Publish(Message{Action: ActionUpdateStatus, Status: "Recording started…"})

	for name, ch := range map[string]<-chan Message{"a": a, "b": b} {
		select {
		case msg := <-ch:
			if msg.Status != "Recording started…" {
				t.Errorf("%s got status %q", name, msg.Status)
			}
		default:
			t.Errorf("%s received nothing", name)
		}
	}
}

func TestPublishDropsForFullSubscriber(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe(1)
	defer cancel()

	h.Publish(Message{Action: ActionUpdateStatus, Status: "first"})
	h.Publish(Message{Action: ActionUpdateStatus, Status: "second"})

	if msg := <-ch; msg.Status != "first" {
		t.Errorf("status = %q, want first", msg.Status)
	}
	select {
	case msg := <-ch:
		t.Errorf("unexpected message %q", msg.Status)
	default:
	}
}

func TestCancelClosesChannel(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe(1)
	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}
	h.Publish(Message{Action: ActionShowPanel})
}
