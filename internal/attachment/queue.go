package attachment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/1ureka/wavelength/internal/util"
)

// DefaultTaskTimeout bounds one task's run unless QueueOptions says otherwise.
const DefaultTaskTimeout = 2 * time.Minute

// QueueOptions tunes a Queue.
type QueueOptions struct {
	// TaskTimeout is the deadline of each task's context. Zero means
	// DefaultTaskTimeout, a negative value disables it.
	TaskTimeout time.Duration
	// OnComplete, when set, is called with every result from the goroutine
	// that finished the task, before Done is closed.
	OnComplete func(Result)
}

// Queue runs submitted tasks on a Pool with at most max(1, pool.Size()/2)
// of them running at once, admitted in submission order.
type Queue struct {
	pool      *Pool
	opts      QueueOptions
	maxActive int

	ctx    context.Context // parent of every task context
	cancel context.CancelFunc

	mu      sync.Mutex
	backlog []*Task
	running map[*Task]struct{}
	closed  bool

	wg sync.WaitGroup // running tasks
}

// NewQueue creates a queue over pool.
func NewQueue(pool *Pool, opts QueueOptions) *Queue {
	if opts.TaskTimeout == 0 {
		opts.TaskTimeout = DefaultTaskTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		pool:      pool,
		opts:      opts,
		maxActive: max(1, pool.Size()/2),
		ctx:       ctx,
		cancel:    cancel,
		running:   make(map[*Task]struct{}),
	}
}

// MaxActive returns the running-task bound.
func (q *Queue) MaxActive() int { return q.maxActive }

// Running returns how many tasks are running now.
func (q *Queue) Running() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.running)
}

// Pending returns how many tasks wait in the backlog.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.backlog)
}

// Submit queues work and returns its task without blocking. After Shutdown
// the task is returned already finished with ErrQueueClosed.
func (q *Queue) Submit(work Work) *Task {
	t := newTask(q, work)

	q.mu.Lock()
	if q.closed {
		t.state = TaskFinished
		q.mu.Unlock()
		q.finish(t, Result{TaskID: t.id, Err: ErrQueueClosed})
		return t
	}
	q.backlog = append(q.backlog, t)
	admitted := q.admitLocked()
	q.mu.Unlock()

	util.LogDebug("task [%s] queued", util.ShortID(t.id))
	q.dispatch(admitted)
	return t
}

// Cancel drops t if it is still in the backlog; its result is ErrCanceled.
// A task that already started cannot be canceled.
func (q *Queue) Cancel(t *Task) bool {
	q.mu.Lock()
	if !q.unqueueLocked(t) {
		q.mu.Unlock()
		return false
	}
	q.mu.Unlock()

	q.finish(t, Result{TaskID: t.id, Err: ErrCanceled})
	return true
}

// Shutdown refuses new work, cancels the backlog and waits for running
// tasks. If ctx ends first, running tasks see their context canceled and
// Shutdown returns ctx.Err() without waiting further.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	dropped := q.backlog
	q.backlog = nil
	for _, t := range dropped {
		t.state = TaskFinished
	}
	q.mu.Unlock()

	for _, t := range dropped {
		q.finish(t, Result{TaskID: t.id, Err: ErrCanceled})
	}

	idle := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(idle)
	}()

	select {
	case <-idle:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		return ctx.Err()
	}
}

// admitLocked moves backlog entries into the running set while there is
// room and returns them for dispatch.
func (q *Queue) admitLocked() []*Task {
	var admitted []*Task
	for len(q.running) < q.maxActive && len(q.backlog) > 0 {
		t := q.backlog[0]
		q.backlog[0] = nil
		q.backlog = q.backlog[1:]

		t.state = TaskRunning
		q.running[t] = struct{}{}
		q.wg.Add(1)
		admitted = append(admitted, t)
	}
	return admitted
}

func (q *Queue) unqueueLocked(t *Task) bool {
	for i, queued := range q.backlog {
		if queued == t {
			q.backlog = append(q.backlog[:i], q.backlog[i+1:]...)
			t.state = TaskFinished
			return true
		}
	}
	return false
}

func (q *Queue) dispatch(tasks []*Task) {
	for _, t := range tasks {
		q.pool.Go(func() { q.run(t) })
	}
}

// run executes one admitted task on a worker.
func (q *Queue) run(t *Task) {
	res := Result{TaskID: t.id, Started: time.Now()}
	ctx, cancel := q.taskContext()
	defer cancel()

	res.Err = safeRun(ctx, t.work)
	res.Finished = time.Now()
	if res.Err == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.Err = ctx.Err()
	}

	q.mu.Lock()
	delete(q.running, t)
	t.state = TaskFinished
	admitted := q.admitLocked()
	q.mu.Unlock()

	q.finish(t, res)
	q.wg.Done()
	q.dispatch(admitted)
}

func (q *Queue) taskContext() (context.Context, context.CancelFunc) {
	if q.opts.TaskTimeout < 0 {
		return context.WithCancel(q.ctx)
	}
	return context.WithTimeout(q.ctx, q.opts.TaskTimeout)
}

// finish publishes the result of a task that left the queue.
func (q *Queue) finish(t *Task, res Result) {
	t.result = res
	util.Stats.AddTask(res.Err)

	switch {
	case res.Err == nil:
		util.LogDebug("task [%s] finished in %s", util.ShortID(t.id), res.Duration().Round(time.Millisecond))
	case errors.Is(res.Err, ErrCanceled), errors.Is(res.Err, ErrQueueClosed):
		util.LogDebug("task [%s] dropped: %v", util.ShortID(t.id), res.Err)
	default:
		util.LogWarning("task [%s] failed: %v", util.ShortID(t.id), res.Err)
	}

	if q.opts.OnComplete != nil {
		q.opts.OnComplete(res)
	}
	close(t.done)
}

// safeRun turns a panic in work into an error.
func safeRun(ctx context.Context, work Work) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return work(ctx)
}
