package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrStopped is returned when work is submitted to a loop that has stopped.
var ErrStopped = errors.New("dispatch: loop stopped")

// Task is a unit of work run on a Loop goroutine.
type Task func()

// Loop runs tasks one at a time, in submission order, on a single goroutine.
//
// CRITICAL: Do must not be called from inside a task on the same loop; the
// caller would wait on itself.
type Loop struct {
	name   string
	logger *zap.Logger
	queue  *Queue[Task]

	startOnce sync.Once
	done      chan struct{}
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithLogger sets the logger used for task panics and lifecycle events.
func WithLogger(logger *zap.Logger) LoopOption {
	return func(l *Loop) {
		l.logger = logger
	}
}

// NewLoop creates a loop. Call Start or Run to begin processing.
func NewLoop(name string, opts ...LoopOption) *Loop {
	l := &Loop{
		name:   name,
		logger: zap.NewNop(),
		queue:  NewQueue[Task](),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(zap.String("loop", name))
	return l
}

// Name returns the loop name.
func (l *Loop) Name() string {
	return l.name
}

// Start runs the loop on a new goroutine. Subsequent calls are no-ops.
func (l *Loop) Start() {
	go func() { _ = l.Run(context.Background()) }()
}

// Run processes tasks until Stop is called and the queue drains, or ctx is
// cancelled. Only the first call runs; later calls return immediately.
func (l *Loop) Run(ctx context.Context) error {
	started := false
	l.startOnce.Do(func() { started = true })
	if !started {
		return fmt.Errorf("dispatch: loop %s already running", l.name)
	}
	defer close(l.done)

	for {
		if task, ok := l.queue.TryDequeue(); ok {
			l.runTask(task)
			continue
		}

		select {
		case <-ctx.Done():
			l.queue.Close()
			l.logger.Debug("loop stopping: context cancelled")
			return ctx.Err()
		case <-l.queue.Wait():
			if l.queue.Closed() && l.queue.Len() == 0 {
				l.logger.Debug("loop stopping: queue closed")
				return nil
			}
		}
	}
}

// runTask recovers panics so one faulty task does not kill the owner.
func (l *Loop) runTask(task Task) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("task panicked", zap.Any("panic", r))
		}
	}()
	task()
}

// Post queues a task without waiting. Returns false if the loop is stopped.
func (l *Loop) Post(task Task) bool {
	return l.queue.Enqueue(task)
}

// Do queues a task and waits until it has run. It also serves as a barrier:
// when Do returns nil, every task posted before it has run.
func (l *Loop) Do(ctx context.Context, task Task) error {
	ran := make(chan struct{})
	if !l.Post(func() {
		defer close(ran)
		task()
	}) {
		return ErrStopped
	}

	select {
	case <-ran:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		select {
		case <-ran:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Stop rejects new tasks. Tasks already queued still run.
func (l *Loop) Stop() {
	l.queue.Close()
}

// Done is closed when Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
