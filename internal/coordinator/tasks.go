package coordinator

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// taskSet tracks fire-and-forget goroutines. Wait joins the tasks that are
// tracked at the moment it is called; tasks started afterwards are not
// awaited.
type taskSet struct {
	log hclog.Logger

	mu    sync.Mutex
	next  int
	tasks map[int]chan struct{}
}

func newTaskSet(log hclog.Logger) *taskSet {
	return &taskSet{log: log, tasks: make(map[int]chan struct{})}
}

// Go runs fn in a tracked goroutine. A panic in fn is logged and the task
// still settles.
func (s *taskSet) Go(fn func()) {
	done := make(chan struct{})

	s.mu.Lock()
	id := s.next
	s.next++
	s.tasks[id] = done
	s.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in background task", "panic", r, "stack", string(debug.Stack()))
			}
			s.mu.Lock()
			delete(s.tasks, id)
			s.mu.Unlock()
			close(done)
		}()
		fn()
	}()
}

// Wait blocks until every currently tracked task has settled or ctx ends.
func (s *taskSet) Wait(ctx context.Context) error {
	s.mu.Lock()
	pending := make([]chan struct{}, 0, len(s.tasks))
	for _, done := range s.tasks {
		pending = append(pending, done)
	}
	s.mu.Unlock()

	for _, done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Len returns the number of unsettled tasks.
func (s *taskSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}
