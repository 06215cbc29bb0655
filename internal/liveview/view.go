package liveview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/roach88/liveview/internal/dispatch"
	"github.com/roach88/liveview/internal/ir"
	"github.com/roach88/liveview/internal/metrics"
	"github.com/roach88/liveview/internal/predicate"
	"github.com/roach88/liveview/internal/queryir"
	"github.com/roach88/liveview/internal/store"
)

// View is one live result set bound to a selection.
//
// All state changes run on the view's owner loop. Public methods are safe
// for concurrent use, but must not be called from inside a Stream consumer
// that the owner loop is waiting on.
type View struct {
	name    string
	store   store.DocumentStore
	builder *predicate.Builder
	loop    *dispatch.Loop
	logger  *zap.Logger

	registry *Registry
	observer *Observer

	// latest is written on the owner loop and read from anywhere.
	latest atomic.Pointer[Snapshot]

	// Owner-loop state.
	filter     queryir.Filter
	hasFilter  bool
	selection  predicate.Selection
	streams    map[uint64]*Stream
	nextStream uint64
	closed     bool

	closeOnce sync.Once
}

// ViewOption configures a View.
type ViewOption func(*viewOptions)

type viewOptions struct {
	name      string
	logger    *zap.Logger
	validator FieldValidator
}

// WithName names the view in logs.
func WithName(name string) ViewOption {
	return func(o *viewOptions) { o.name = name }
}

// WithLogger sets the view logger.
func WithLogger(logger *zap.Logger) ViewOption {
	return func(o *viewOptions) { o.logger = logger }
}

// WithValidator checks decoded documents against a collection schema.
// Documents that fail are skipped like any other decode failure.
func WithValidator(v FieldValidator) ViewOption {
	return func(o *viewOptions) { o.validator = v }
}

// NewView creates a view over st and starts its owner loop. The view has
// no filter until SetSelection is called.
func NewView(st store.DocumentStore, builder *predicate.Builder, opts ...ViewOption) *View {
	o := viewOptions{name: "view", logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With(zap.String("view", o.name))
	schema := builder.Schema()

	loop := dispatch.NewLoop("view-"+o.name, dispatch.WithLogger(logger))
	v := &View{
		name:     o.name,
		store:    st,
		builder:  builder,
		loop:     loop,
		logger:   logger,
		registry: NewRegistry(st, logger),
		observer: NewObserver(st, loop, NewDecoder(schema.Name, o.validator), schema.VisibilityField, logger),
		streams:  make(map[uint64]*Stream),
	}
	loop.Start()
	metrics.LiveViews.Inc()
	return v
}

// Name returns the view name.
func (v *View) Name() string {
	return v.name
}

// SetSelection rebuilds the filter for sel and, if it differs from the
// current one, resubscribes and reattaches with it.
//
// The registry is cancelled and re-registered first, then the observer.
// A subscription failure is returned as a *store.RegistrationError, but
// the observer is still attached so locally stored documents stay
// visible. Calling SetSelection again with the same selection retries a
// failed registration.
func (v *View) SetSelection(ctx context.Context, sel predicate.Selection) error {
	var err error
	doErr := v.loop.Do(ctx, func() {
		err = v.applySelection(ctx, sel)
	})
	if errors.Is(doErr, dispatch.ErrStopped) {
		return ErrViewClosed
	}
	if doErr != nil {
		return doErr
	}
	return err
}

func (v *View) applySelection(ctx context.Context, sel predicate.Selection) error {
	if v.closed {
		return ErrViewClosed
	}

	filter := v.builder.Build(sel)
	_, subscribed := v.registry.Active()
	if v.hasFilter && filter.Equal(v.filter) && subscribed && v.observer.Attached() {
		return nil
	}

	v.filter = filter
	v.hasFilter = true
	v.selection = sel
	v.logger.Debug("selection changed", zap.String("owner", sel.Owner), zap.String("filter", filter.Text()))

	regErr := v.registry.Resubscribe(ctx, filter)
	obsErr := v.observer.Attach(ctx, filter, v.publish)
	return errors.Join(regErr, obsErr)
}

// publish runs on the owner loop.
func (v *View) publish(snap Snapshot) {
	v.latest.Store(&snap)
	metrics.SnapshotsTotal.WithLabelValues(snap.Filter.Collection).Inc()
	metrics.SnapshotDocuments.WithLabelValues(snap.Filter.Collection).Observe(float64(len(snap.Documents)))
	for _, s := range v.streams {
		s.push(snap)
	}
}

// Snapshot returns the latest published snapshot.
func (v *View) Snapshot() (Snapshot, bool) {
	snap := v.latest.Load()
	if snap == nil {
		return Snapshot{}, false
	}
	return *snap, true
}

// Results returns the documents of the latest snapshot. The slice is
// shared and must not be modified.
func (v *View) Results() []ir.Document {
	snap, ok := v.Snapshot()
	if !ok {
		return nil
	}
	return snap.Documents
}

// Filter returns the filter of the current selection.
func (v *View) Filter(ctx context.Context) (queryir.Filter, bool, error) {
	var (
		f  queryir.Filter
		ok bool
	)
	if err := v.loop.Do(ctx, func() { f, ok = v.filter, v.hasFilter }); err != nil {
		if errors.Is(err, dispatch.ErrStopped) {
			return queryir.Filter{}, false, ErrViewClosed
		}
		return queryir.Filter{}, false, err
	}
	return f, ok, nil
}

// Selection returns the current selection.
func (v *View) Selection(ctx context.Context) (predicate.Selection, error) {
	var sel predicate.Selection
	if err := v.loop.Do(ctx, func() { sel = v.selection }); err != nil {
		if errors.Is(err, dispatch.ErrStopped) {
			return predicate.Selection{}, ErrViewClosed
		}
		return predicate.Selection{}, err
	}
	return sel, nil
}

// Updates returns a new stream of snapshots. If the view has published a
// snapshot, it is the stream's first item. On a closed view the stream is
// already closed.
func (v *View) Updates() *Stream {
	var id uint64
	s := newStream(func() {
		v.loop.Post(func() { delete(v.streams, id) })
	})

	posted := v.loop.Post(func() {
		if v.closed {
			s.finish()
			return
		}
		if s.isCancelled() {
			return
		}
		v.nextStream++
		id = v.nextStream
		v.streams[id] = s
		if snap := v.latest.Load(); snap != nil {
			s.push(*snap)
		}
	})
	if !posted {
		s.finish()
	}
	return s
}

// Sync waits until every store batch committed before the call has been
// projected and published by this view.
func (v *View) Sync(ctx context.Context) error {
	if err := v.store.Flush(ctx); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err := v.loop.Do(ctx, func() {}); err != nil {
		if errors.Is(err, dispatch.ErrStopped) {
			return ErrViewClosed
		}
		return fmt.Errorf("sync: %w", err)
	}
	return nil
}

// Close cancels the subscription and observer, ends every stream and
// stops the owner loop. Safe to call more than once.
func (v *View) Close() {
	v.closeOnce.Do(func() {
		_ = v.loop.Do(context.Background(), func() {
			v.closed = true
			v.observer.Detach()
			v.registry.Cancel()
			for id, s := range v.streams {
				s.finish()
				delete(v.streams, id)
			}
		})
		v.loop.Stop()
		<-v.loop.Done()
		metrics.LiveViews.Dec()
		v.logger.Debug("view closed")
	})
}
