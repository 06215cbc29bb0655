// Package memstore is an in-memory document store with the same contract
// as the SQLite store.
//
// Predicates are evaluated with queryexpr, updates apply the same RFC 7386
// merge patch, and change batches go through a store.Hub, so a live view
// behaves identically on either backend. Tests can inject failures per
// operation with Fail.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/liveview/internal/ir"
	"github.com/roach88/liveview/internal/queryexpr"
	"github.com/roach88/liveview/internal/queryir"
	"github.com/roach88/liveview/internal/store"
)

// Operations that accept injected failures.
const (
	OpSelect    = "select"
	OpInsert    = "insert"
	OpUpdate    = "update"
	OpEvict     = "evict"
	OpSubscribe = "subscribe"
	OpObserve   = "observe"
)

// Store keeps documents in memory. The zero value is not usable; call New.
type Store struct {
	logger *zap.Logger
	clock  *store.Clock
	hub    *store.Hub
	closed atomic.Bool

	// mu guards everything below and serializes writes with their
	// publication to the hub.
	mu          sync.Mutex
	collections map[string]map[string][]byte
	subs        map[int64]store.SubscriptionRecord
	nextSub     int64
	sweeps      map[string]time.Time
	failures    map[string]error
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates an empty store and starts its delivery hub.
func New(opts ...Option) *Store {
	s := &Store{
		logger:      zap.NewNop(),
		clock:       store.NewClock(),
		collections: make(map[string]map[string][]byte),
		subs:        make(map[int64]store.SubscriptionRecord),
		sweeps:      make(map[string]time.Time),
		failures:    make(map[string]error),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = store.NewHub(s.logger)
	return s
}

// Close stops observer delivery. Safe to call more than once.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.hub.Close()
	return nil
}

// Fail makes every later call of op fail with err until cleared with a
// nil err.
func (s *Store) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// Seq returns the seq of the last committed change batch.
func (s *Store) Seq() int64 {
	return s.clock.Current()
}

// ObserverCount returns the number of registered, uncancelled observers.
func (s *Store) ObserverCount() int {
	return s.hub.Len()
}

// Flush returns once every batch committed before the call was delivered.
func (s *Store) Flush(ctx context.Context) error {
	if s.closed.Load() {
		return store.ErrClosed
	}
	return s.hub.Flush(ctx)
}

// Execute runs one statement.
func (s *Store) Execute(ctx context.Context, stmt queryir.Statement, params ir.IRObject) (store.Result, error) {
	op := opName(stmt)
	if s.closed.Load() {
		return store.Result{}, &store.StoreError{Op: op, Err: store.ErrClosed}
	}
	if err := queryir.ValidateStatement(stmt, params); err != nil {
		return store.Result{}, &store.StoreError{Op: op, Collection: collectionOf(stmt), Err: err}
	}
	if err := ctx.Err(); err != nil {
		return store.Result{}, &store.StoreError{Op: op, Collection: stmt.CollectionName(), Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failures[op]; err != nil {
		return store.Result{}, &store.StoreError{Op: op, Collection: stmt.CollectionName(), Err: err}
	}

	var (
		affected []string
		changes  []ir.Change
		err      error
	)
	seq := s.clock.Current() + 1

	switch st := stmt.(type) {
	case queryir.Select:
		docs, err := s.selectLocked(st.Collection, st.Where, params)
		if err != nil {
			return store.Result{}, &store.StoreError{Op: op, Collection: st.Collection, Err: err}
		}
		return store.Result{Seq: s.clock.Current(), Documents: docs}, nil
	case queryir.Insert:
		affected, changes, err = s.insertLocked(st)
	case queryir.Update:
		affected, changes, err = s.updateLocked(st, params)
	case queryir.Evict:
		affected, changes, err = s.evictLocked(st, params)
	}
	if err != nil {
		return store.Result{}, &store.StoreError{Op: op, Collection: stmt.CollectionName(), Err: err}
	}
	if len(changes) == 0 {
		return store.Result{Seq: s.clock.Current(), Affected: affected}, nil
	}

	s.clock.Next()
	s.hub.Publish(ir.ChangeBatch{Seq: seq, Collection: stmt.CollectionName(), Changes: changes})
	s.logger.Debug("batch committed",
		zap.String("op", op),
		zap.String("collection", stmt.CollectionName()),
		zap.Int64("seq", seq),
		zap.Int("changes", len(changes)))
	return store.Result{Seq: seq, Affected: affected}, nil
}

// PutRaw stores body verbatim, replacing any existing document.
func (s *Store) PutRaw(ctx context.Context, collection, id string, body []byte) (store.Result, error) {
	if s.closed.Load() {
		return store.Result{}, &store.StoreError{Op: "put", Err: store.ErrClosed}
	}
	if collection == "" || id == "" {
		return store.Result{}, &store.StoreError{Op: "put", Collection: collection, Err: fmt.Errorf("collection and id are required")}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.collection(collection)[id] = append([]byte(nil), body...)
	seq := s.clock.Next()
	s.hub.Publish(ir.ChangeBatch{Seq: seq, Collection: collection, Changes: []ir.Change{{ID: id, Kind: ir.ChangeUpdate}}})
	return store.Result{Seq: seq, Affected: []string{id}}, nil
}

// RegisterSubscription records remote interest in filter.
func (s *Store) RegisterSubscription(ctx context.Context, filter queryir.Filter) (store.Handle, error) {
	if err := s.checkFilter(store.KindSubscription, filter); err != nil {
		return nil, err
	}
	key, err := filter.Key()
	if err != nil {
		return nil, &store.RegistrationError{Kind: store.KindSubscription, Filter: filter.Text(), Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failures[OpSubscribe]; err != nil {
		return nil, &store.RegistrationError{Kind: store.KindSubscription, Filter: filter.Text(), Err: err}
	}

	s.nextSub++
	params := filter.Params.Clone()
	if params == nil {
		params = ir.IRObject{}
	}
	s.subs[s.nextSub] = store.SubscriptionRecord{
		ID:         s.nextSub,
		Collection: filter.Collection,
		Text:       filter.Text(),
		FilterKey:  key,
		Params:     params,
		CreatedSeq: s.clock.Current(),
	}
	return &subscriptionHandle{store: s, id: s.nextSub}, nil
}

// Subscriptions lists live subscriptions ordered by id.
func (s *Store) Subscriptions(ctx context.Context) ([]store.SubscriptionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]store.SubscriptionRecord, 0, len(s.subs))
	for _, rec := range s.subs {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// RegisterObserver evaluates filter and attaches fn to the hub.
func (s *Store) RegisterObserver(ctx context.Context, filter queryir.Filter, fn store.ObserverFunc) (store.Handle, error) {
	if err := s.checkFilter(store.KindObserver, filter); err != nil {
		return nil, err
	}

	query := func(ctx context.Context) ([]ir.RawDocument, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.selectLocked(filter.Collection, filter.Where, filter.Params)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failures[OpObserve]; err != nil {
		return nil, &store.RegistrationError{Kind: store.KindObserver, Filter: filter.Text(), Err: err}
	}
	docs, err := s.selectLocked(filter.Collection, filter.Where, filter.Params)
	if err != nil {
		return nil, &store.RegistrationError{Kind: store.KindObserver, Filter: filter.Text(), Err: err}
	}
	h, err := s.hub.Attach(filter.Collection, s.clock.Current(), docs, query, fn)
	if err != nil {
		return nil, &store.RegistrationError{Kind: store.KindObserver, Filter: filter.Text(), Err: err}
	}
	return h, nil
}

// LastSweep returns when an eviction sweep last completed for collection.
func (s *Store) LastSweep(ctx context.Context, collection string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweeps[collection], nil
}

// RecordSweep stores the completion time of a sweep.
func (s *Store) RecordSweep(ctx context.Context, collection string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweeps[collection] = at
	return nil
}

func (s *Store) checkFilter(kind store.RegistrationKind, filter queryir.Filter) error {
	if s.closed.Load() {
		return &store.RegistrationError{Kind: kind, Filter: filter.Text(), Err: store.ErrClosed}
	}
	if err := queryir.ValidateFilter(filter); err != nil {
		return &store.RegistrationError{Kind: kind, Filter: filter.Text(), Err: err}
	}
	if _, err := queryexpr.Compile(filter.Where, filter.Params); err != nil {
		return &store.RegistrationError{Kind: kind, Filter: filter.Text(), Err: err}
	}
	return nil
}

func (s *Store) collection(name string) map[string][]byte {
	docs, ok := s.collections[name]
	if !ok {
		docs = make(map[string][]byte)
		s.collections[name] = docs
	}
	return docs
}

// selectLocked returns matching documents ordered by id. A body that does
// not decode is matched as if it had no fields, the same as a corrupt row
// in SQLite, so it reaches the caller's decoder.
func (s *Store) selectLocked(collection string, where queryir.Predicate, params ir.IRObject) ([]ir.RawDocument, error) {
	prg, err := queryexpr.Compile(where, params)
	if err != nil {
		return nil, err
	}

	docs := s.collections[collection]
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := []ir.RawDocument{}
	for _, id := range ids {
		body := docs[id]
		ok, err := prg.Match(ir.Document{ID: id, Fields: decodeLenient(body)})
		if err != nil {
			return nil, fmt.Errorf("match %s: %w", id, err)
		}
		if ok {
			out = append(out, ir.RawDocument{ID: id, Body: append([]byte(nil), body...)})
		}
	}
	return out, nil
}

func (s *Store) insertLocked(st queryir.Insert) ([]string, []ir.Change, error) {
	raw, err := ir.NewRawDocument(st.ID, st.Fields)
	if err != nil {
		return nil, nil, err
	}
	docs := s.collection(st.Collection)
	if _, exists := docs[st.ID]; exists {
		return nil, nil, nil
	}
	docs[st.ID] = raw.Body
	return []string{st.ID}, []ir.Change{{ID: st.ID, Kind: ir.ChangeInsert}}, nil
}

func (s *Store) updateLocked(st queryir.Update, params ir.IRObject) ([]string, []ir.Change, error) {
	patch, err := ir.MarshalCanonical(st.Patch)
	if err != nil {
		return nil, nil, fmt.Errorf("encode patch: %w", err)
	}
	matches, err := s.selectLocked(st.Collection, st.Where, params)
	if err != nil {
		return nil, nil, err
	}

	// Compute every new body before writing any, so a failure leaves the
	// collection untouched.
	bodies := make(map[string][]byte, len(matches))
	affected := make([]string, 0, len(matches))
	var changes []ir.Change
	for _, doc := range matches {
		affected = append(affected, doc.ID)
		body, err := store.MergeBody(doc.Body, patch)
		if err != nil {
			return nil, nil, fmt.Errorf("update %s: %w", doc.ID, err)
		}
		if string(body) == string(doc.Body) {
			continue
		}
		bodies[doc.ID] = body
		changes = append(changes, ir.Change{ID: doc.ID, Kind: ir.ChangeUpdate})
	}

	docs := s.collection(st.Collection)
	for id, body := range bodies {
		docs[id] = body
	}
	return affected, changes, nil
}

func (s *Store) evictLocked(st queryir.Evict, params ir.IRObject) ([]string, []ir.Change, error) {
	matches, err := s.selectLocked(st.Collection, st.Where, params)
	if err != nil {
		return nil, nil, err
	}
	docs := s.collections[st.Collection]
	ids := make([]string, 0, len(matches))
	changes := make([]ir.Change, 0, len(matches))
	for _, doc := range matches {
		delete(docs, doc.ID)
		ids = append(ids, doc.ID)
		changes = append(changes, ir.Change{ID: doc.ID, Kind: ir.ChangeEvict})
	}
	return ids, changes, nil
}

// decodeLenient decodes the fields predicates can compare. Fields that are
// not valid values (floats, null) are dropped and so never match, the same
// as a type-checked comparison in SQLite.
func decodeLenient(body []byte) ir.IRObject {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return ir.IRObject{}
	}
	obj := make(ir.IRObject, len(raw))
	for k, msg := range raw {
		if v, err := ir.UnmarshalIRValue(msg); err == nil {
			obj[k] = v
		}
	}
	return obj
}

func collectionOf(stmt queryir.Statement) string {
	if stmt == nil {
		return ""
	}
	return stmt.CollectionName()
}

func opName(stmt queryir.Statement) string {
	switch stmt.(type) {
	case queryir.Select:
		return OpSelect
	case queryir.Insert:
		return OpInsert
	case queryir.Update:
		return OpUpdate
	case queryir.Evict:
		return OpEvict
	default:
		return "execute"
	}
}

type subscriptionHandle struct {
	store *Store
	id    int64

	mu        sync.Mutex
	cancelled bool
}

func (h *subscriptionHandle) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled {
		return
	}
	h.cancelled = true

	h.store.mu.Lock()
	delete(h.store.subs, h.id)
	h.store.mu.Unlock()
}

func (h *subscriptionHandle) Active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.cancelled
}
