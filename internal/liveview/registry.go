package liveview

import (
	"context"

	"go.uber.org/zap"

	"github.com/roach88/liveview/internal/metrics"
	"github.com/roach88/liveview/internal/queryir"
	"github.com/roach88/liveview/internal/store"
)

// SubscriptionStore is the part of the store a Registry uses.
type SubscriptionStore interface {
	RegisterSubscription(ctx context.Context, filter queryir.Filter) (store.Handle, error)
}

// Registry holds at most one live subscription for one view.
//
// It is not safe for concurrent use; a View calls it from its owner loop
// only.
type Registry struct {
	store  SubscriptionStore
	logger *zap.Logger

	handle store.Handle
	filter queryir.Filter
}

// NewRegistry creates an empty registry. A nil logger is replaced by a
// no-op logger.
func NewRegistry(st SubscriptionStore, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{store: st, logger: logger}
}

// Resubscribe replaces the live subscription with one for filter.
//
// The previous handle is cancelled and cleared before the new filter is
// registered, so two subscriptions are never live at once. If
// registration fails the view has no remote interest until the next
// Resubscribe; the failure is logged, counted and returned as a
// *store.RegistrationError.
func (r *Registry) Resubscribe(ctx context.Context, filter queryir.Filter) error {
	r.Cancel()

	h, err := r.store.RegisterSubscription(ctx, filter)
	if err != nil {
		if !store.IsRegistrationError(err) {
			err = &store.RegistrationError{Kind: store.KindSubscription, Filter: filter.Text(), Err: err}
		}
		metrics.RegistrationFailuresTotal.WithLabelValues(string(store.KindSubscription)).Inc()
		r.logger.Warn("view has no remote interest",
			zap.String("filter", filter.Text()),
			zap.Error(err))
		return err
	}

	r.handle = h
	r.filter = filter
	return nil
}

// Cancel cancels the live subscription, if any.
func (r *Registry) Cancel() {
	if r.handle == nil {
		return
	}
	r.handle.Cancel()
	r.handle = nil
	r.filter = queryir.Filter{}
}

// Active returns the filter of the live subscription.
func (r *Registry) Active() (queryir.Filter, bool) {
	if r.handle == nil || !r.handle.Active() {
		return queryir.Filter{}, false
	}
	return r.filter, true
}
