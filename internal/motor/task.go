package motor

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Task is a detached run-forever activity on one port.
type Task struct {
	ID        uuid.UUID
	Port      string
	StartedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// startTask runs start on its own goroutine and keeps the task alive until
// cancelled. The task outlives the caller's context but keeps its values.
// A non-nil prev is cancelled and waited for before start is called, so
// Wait on the new task also covers the hardware call of the old one.
func startTask(parent context.Context, port string, prev *Task, start func(ctx context.Context) error) *Task {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	t := &Task{
		ID:        uuid.New(),
		Port:      port,
		StartedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	go func() {
		defer close(t.done)
		if prev != nil {
			prev.Cancel()
			<-prev.done
		}
		if ctx.Err() != nil {
			return
		}
		if err := start(ctx); err != nil {
			t.err = err
			return
		}
		<-ctx.Done()
	}()

	return t
}

// Cancel ends the task. It does not stop the motor.
func (t *Task) Cancel() {
	t.cancel()
}

// Done is closed when the task has ended.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task ends and returns the start error, if any.
func (t *Task) Wait() error {
	<-t.done
	return t.err
}

// Running reports whether the task is still alive.
func (t *Task) Running() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}
