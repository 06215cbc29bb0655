package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/roach88/liveview/internal/ir"
	"github.com/roach88/liveview/internal/queryir"
)

// SubscriptionRecord is one row of declared remote interest.
type SubscriptionRecord struct {
	ID         int64       `json:"id"`
	Collection string      `json:"collection"`
	Text       string      `json:"text"`
	FilterKey  string      `json:"filter_key"`
	Params     ir.IRObject `json:"params"`
	CreatedSeq int64       `json:"created_seq"`
}

// RegisterSubscription validates filter and records it in the
// subscriptions table. The row is deleted when the handle is cancelled.
func (s *Store) RegisterSubscription(ctx context.Context, filter queryir.Filter) (Handle, error) {
	if err := s.checkFilter(KindSubscription, filter); err != nil {
		return nil, err
	}

	key, err := filter.Key()
	if err != nil {
		return nil, &RegistrationError{Kind: KindSubscription, Filter: filter.Text(), Err: err}
	}
	params, err := ir.MarshalCanonical(orEmpty(filter.Params))
	if err != nil {
		return nil, &RegistrationError{Kind: KindSubscription, Filter: filter.Text(), Err: err}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (collection, query_text, filter_key, params, created_seq)
		VALUES (?, ?, ?, ?, ?)
	`, filter.Collection, filter.Text(), key, string(params), s.clock.Current())
	if err != nil {
		return nil, &RegistrationError{Kind: KindSubscription, Filter: filter.Text(), Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, &RegistrationError{Kind: KindSubscription, Filter: filter.Text(), Err: err}
	}

	s.logger.Debug("subscription registered", zap.Int64("subscription", id), zap.String("filter", filter.Text()))
	return &subscriptionHandle{store: s, id: id}, nil
}

// RegisterObserver validates filter, evaluates it, and attaches fn to the
// hub. fn first receives the current matches, then one observation per
// change batch that touches them.
func (s *Store) RegisterObserver(ctx context.Context, filter queryir.Filter, fn ObserverFunc) (Handle, error) {
	if err := s.checkFilter(KindObserver, filter); err != nil {
		return nil, err
	}

	sel := filter.Select()
	params := filter.Params
	query := func(ctx context.Context) ([]ir.RawDocument, error) {
		return s.queryDocs(ctx, sel, params)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	seq := s.clock.Current()
	docs, err := query(ctx)
	if err != nil {
		return nil, &RegistrationError{Kind: KindObserver, Filter: filter.Text(), Err: err}
	}
	h, err := s.hub.Attach(filter.Collection, seq, docs, query, fn)
	if err != nil {
		return nil, &RegistrationError{Kind: KindObserver, Filter: filter.Text(), Err: err}
	}
	return h, nil
}

// Subscriptions lists live subscription rows ordered by id.
func (s *Store) Subscriptions(ctx context.Context) ([]SubscriptionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, collection, query_text, filter_key, params, created_seq
		FROM subscriptions
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	records := []SubscriptionRecord{}
	for rows.Next() {
		var rec SubscriptionRecord
		var params string
		if err := rows.Scan(&rec.ID, &rec.Collection, &rec.Text, &rec.FilterKey, &params, &rec.CreatedSeq); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &rec.Params); err != nil {
			return nil, fmt.Errorf("subscription %d params: %w", rec.ID, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return records, nil
}

// checkFilter rejects filters no backend could evaluate.
func (s *Store) checkFilter(kind RegistrationKind, filter queryir.Filter) error {
	if s.closed.Load() {
		return &RegistrationError{Kind: kind, Filter: filter.Text(), Err: ErrClosed}
	}
	if err := queryir.ValidateFilter(filter); err != nil {
		return &RegistrationError{Kind: kind, Filter: filter.Text(), Err: err}
	}
	if _, _, err := s.compiler.CompileSelect(filter.Select(), filter.Params); err != nil {
		return &RegistrationError{Kind: kind, Filter: filter.Text(), Err: err}
	}
	return nil
}

func orEmpty(obj ir.IRObject) ir.IRObject {
	if obj == nil {
		return ir.IRObject{}
	}
	return obj
}

type subscriptionHandle struct {
	store *Store
	id    int64

	mu        sync.Mutex
	cancelled bool
}

// Cancel deletes the subscription row. Cancelling after the store closed
// only marks the handle.
func (h *subscriptionHandle) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled {
		return
	}
	h.cancelled = true

	if h.store.closed.Load() {
		return
	}
	if _, err := h.store.db.Exec(`DELETE FROM subscriptions WHERE id = ?`, h.id); err != nil {
		h.store.logger.Warn("cancel subscription failed", zap.Int64("subscription", h.id), zap.Error(err))
		return
	}
	h.store.logger.Debug("subscription cancelled", zap.Int64("subscription", h.id))
}

func (h *subscriptionHandle) Active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.cancelled
}
