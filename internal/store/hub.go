package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/roach88/liveview/internal/dispatch"
	"github.com/roach88/liveview/internal/ir"
)

// QueryFunc re-runs an observer's filter against current store state.
type QueryFunc func(ctx context.Context) ([]ir.RawDocument, error)

// Hub fans committed change batches out to observers.
//
// All deliveries run on one dispatch.Loop, so observers see batches in the
// order they were published and never concurrently. Both store
// implementations share it.
type Hub struct {
	loop   *dispatch.Loop
	logger *zap.Logger

	mu        sync.Mutex
	observers map[uint64]*observerHandle
	nextID    uint64
}

// NewHub creates a hub and starts its delivery loop.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		loop:      dispatch.NewLoop("store-hub", dispatch.WithLogger(logger)),
		logger:    logger,
		observers: make(map[uint64]*observerHandle),
	}
	h.loop.Start()
	return h
}

// Attach registers an observer whose current match set is docs as of seq,
// and schedules the initial observation.
//
// CRITICAL: the caller must hold the lock that serializes its writes, from
// before computing docs until Attach returns. Otherwise a batch could
// commit between the query and the registration and be skipped.
func (h *Hub) Attach(collection string, seq int64, docs []ir.RawDocument, query QueryFunc, fn ObserverFunc) (Handle, error) {
	h.mu.Lock()
	h.nextID++
	o := &observerHandle{
		hub:        h,
		id:         h.nextID,
		collection: collection,
		query:      query,
		fn:         fn,
		lastSeq:    seq,
		matched:    idSet(docs),
	}
	h.observers[o.id] = o
	h.mu.Unlock()

	initial := Observation{Seq: seq, Documents: docs, Initial: true}
	if !h.loop.Post(func() { o.deliver(initial) }) {
		h.remove(o.id)
		return nil, ErrClosed
	}
	return o, nil
}

// Publish schedules delivery of a committed batch.
func (h *Hub) Publish(batch ir.ChangeBatch) {
	if !h.loop.Post(func() { h.dispatch(batch) }) {
		h.logger.Debug("batch dropped: hub stopped", zap.Int64("seq", batch.Seq))
	}
}

// Flush waits until every batch published before the call was delivered.
func (h *Hub) Flush(ctx context.Context) error {
	err := h.loop.Do(ctx, func() {})
	if errors.Is(err, dispatch.ErrStopped) {
		return ErrClosed
	}
	return err
}

// Len returns the number of registered observers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.observers)
}

// Close stops the delivery loop after the queued batches ran.
func (h *Hub) Close() {
	h.loop.Stop()
	<-h.loop.Done()
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	delete(h.observers, id)
	h.mu.Unlock()
}

// dispatch runs on the hub loop.
func (h *Hub) dispatch(batch ir.ChangeBatch) {
	h.mu.Lock()
	targets := make([]*observerHandle, 0, len(h.observers))
	for _, o := range h.observers {
		if o.collection == batch.Collection {
			targets = append(targets, o)
		}
	}
	h.mu.Unlock()

	sort.Slice(targets, func(i, j int) bool { return targets[i].id < targets[j].id })
	for _, o := range targets {
		o.onBatch(batch)
	}
}

type observerHandle struct {
	hub        *Hub
	id         uint64
	collection string
	query      QueryFunc
	fn         ObserverFunc

	// lastSeq, matched and stale are only touched on the hub loop after
	// Attach. stale is set when a re-query failed: matched may then be out
	// of date, so the next successful re-query delivers unconditionally.
	lastSeq int64
	matched map[string]bool
	stale   bool

	// mu is held for the whole of a delivery, so Cancel waits for one in
	// flight.
	mu        sync.Mutex
	cancelled bool
}

func (o *observerHandle) onBatch(batch ir.ChangeBatch) {
	if batch.Seq <= o.lastSeq || !o.Active() {
		return
	}
	o.lastSeq = batch.Seq

	docs, err := o.query(context.Background())
	if err != nil {
		o.hub.logger.Warn("observer query failed",
			zap.Uint64("observer", o.id),
			zap.Int64("seq", batch.Seq),
			zap.Error(err))
		o.stale = true
		return
	}

	current := idSet(docs)
	if !o.stale && !touches(batch, o.matched, current) {
		return
	}
	o.matched = current
	o.stale = false
	o.deliver(Observation{Seq: batch.Seq, Documents: docs})
}

func (o *observerHandle) deliver(obs Observation) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancelled {
		return
	}
	o.fn(obs)
}

func (o *observerHandle) Cancel() {
	o.mu.Lock()
	already := o.cancelled
	o.cancelled = true
	o.mu.Unlock()
	if !already {
		o.hub.remove(o.id)
	}
}

func (o *observerHandle) Active() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return !o.cancelled
}

// touches reports whether a batch changed any id in either match set.
func touches(batch ir.ChangeBatch, before, after map[string]bool) bool {
	for _, c := range batch.Changes {
		if before[c.ID] || after[c.ID] {
			return true
		}
	}
	return false
}

func idSet(docs []ir.RawDocument) map[string]bool {
	set := make(map[string]bool, len(docs))
	for _, d := range docs {
		set[d.ID] = true
	}
	return set
}
