package attachment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrCanceled is the result of a task dropped from the backlog before it ran.
	ErrCanceled = errors.New("task canceled before start")
	// ErrQueueClosed is the result of a task submitted after Shutdown.
	ErrQueueClosed = errors.New("attachment queue closed")
)

// Work is one unit of attachment processing. It should return once ctx is
// done; the worker slot stays taken until it does.
type Work func(ctx context.Context) error

// TaskState is where a task is in its lifecycle.
type TaskState int

const (
	TaskQueued TaskState = iota
	TaskRunning
	TaskFinished
)

func (s TaskState) String() string {
	switch s {
	case TaskQueued:
		return "queued"
	case TaskRunning:
		return "running"
	case TaskFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Result is the outcome of a finished task. Started and Finished are zero
// for a task that never ran.
type Result struct {
	TaskID   uuid.UUID
	Err      error
	Started  time.Time
	Finished time.Time
}

// Duration is how long the work ran.
func (r Result) Duration() time.Duration {
	if r.Started.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}

// Task is a submitted Work with its completion signal. A task runs at most
// once.
type Task struct {
	id   uuid.UUID
	work Work
	q    *Queue

	done   chan struct{}
	state  TaskState // guarded by q.mu
	result Result    // written before done is closed
}

func newTask(q *Queue, work Work) *Task {
	return &Task{
		id:   uuid.New(),
		work: work,
		q:    q,
		done: make(chan struct{}),
	}
}

// ID returns the task id.
func (t *Task) ID() uuid.UUID { return t.id }

// State returns the task's current lifecycle state.
func (t *Task) State() TaskState {
	t.q.mu.Lock()
	defer t.q.mu.Unlock()
	return t.state
}

// Done is closed once the task has finished, whatever the outcome.
func (t *Task) Done() <-chan struct{} { return t.done }

// Result returns the outcome. It is only meaningful after Done is closed.
func (t *Task) Result() Result {
	select {
	case <-t.done:
		return t.result
	default:
		return Result{TaskID: t.id}
	}
}

// Wait blocks until the task finishes or ctx is done.
func (t *Task) Wait(ctx context.Context) (Result, error) {
	select {
	case <-t.done:
		return t.result, nil
	case <-ctx.Done():
		return Result{TaskID: t.id}, ctx.Err()
	}
}
