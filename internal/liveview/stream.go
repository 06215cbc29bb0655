package liveview

import (
	"context"
	"sync"

	"github.com/roach88/liveview/internal/dispatch"
)

// Stream is a cancellable sequence of snapshots from one view. The first
// item is the view's snapshot at the time Updates was called, if it had
// one; then every snapshot the view publishes, in order. It is infinite
// until cancelled or the view closes.
type Stream struct {
	queue *dispatch.Queue[Snapshot]

	mu       sync.Mutex
	closed   bool
	onCancel func()
}

func newStream(onCancel func()) *Stream {
	return &Stream{queue: dispatch.NewQueue[Snapshot](), onCancel: onCancel}
}

// Next blocks until the next snapshot is available. After Cancel, or once
// the view has closed and the stream is drained, it returns
// ErrStreamClosed. A snapshot queued before Cancel is never returned after
// it.
func (s *Stream) Next(ctx context.Context) (Snapshot, error) {
	for {
		if s.isCancelled() {
			return Snapshot{}, ErrStreamClosed
		}
		if snap, ok := s.queue.TryDequeue(); ok {
			return snap, nil
		}
		if s.queue.Closed() {
			return Snapshot{}, ErrStreamClosed
		}

		select {
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		case <-s.queue.Wait():
		}
	}
}

// Cancel ends the stream. Safe to call more than once and from any
// goroutine.
func (s *Stream) Cancel() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	onCancel := s.onCancel
	s.mu.Unlock()

	s.queue.Close()
	if onCancel != nil {
		onCancel()
	}
}

func (s *Stream) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// push runs on the owner loop.
func (s *Stream) push(snap Snapshot) {
	s.queue.Enqueue(snap)
}

// finish is called when the view closes: queued snapshots stay readable,
// then Next reports ErrStreamClosed.
func (s *Stream) finish() {
	s.queue.Close()
}
