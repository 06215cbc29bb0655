package liveview

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/roach88/liveview/internal/ir"
	"github.com/roach88/liveview/internal/metrics"
	"github.com/roach88/liveview/internal/queryir"
	"github.com/roach88/liveview/internal/store"
)

// MutationStore is the part of the store a Gateway writes through.
type MutationStore interface {
	Execute(ctx context.Context, stmt queryir.Statement, params ir.IRObject) (store.Result, error)
}

// Gateway is the only path by which views cause writes. Writes go to the
// store; views learn about them through their observers.
type Gateway struct {
	store       MutationStore
	schema      ir.CollectionSchema
	ids         IDGenerator
	validator   FieldValidator
	diagnostics *Diagnostics
	logger      *zap.Logger

	wg sync.WaitGroup
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithIDGenerator sets the generator Create draws ids from.
func WithIDGenerator(g IDGenerator) GatewayOption {
	return func(gw *Gateway) { gw.ids = g }
}

// WithDiagnostics sets the channel async failures and deferred evictions
// are reported to.
func WithDiagnostics(d *Diagnostics) GatewayOption {
	return func(gw *Gateway) { gw.diagnostics = d }
}

// WithFieldValidator checks created and patched fields before they are
// written.
func WithFieldValidator(v FieldValidator) GatewayOption {
	return func(gw *Gateway) { gw.validator = v }
}

// WithGatewayLogger sets the gateway logger.
func WithGatewayLogger(logger *zap.Logger) GatewayOption {
	return func(gw *Gateway) { gw.logger = logger }
}

// NewGateway creates a gateway writing documents of schema to st.
func NewGateway(st MutationStore, schema ir.CollectionSchema, opts ...GatewayOption) *Gateway {
	gw := &Gateway{
		store:  st,
		schema: schema,
		ids:    UUIDv7Generator{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(gw)
	}
	if gw.diagnostics == nil {
		gw.diagnostics = NewDiagnostics(64, gw.logger)
	}
	gw.logger = gw.logger.With(zap.String("collection", schema.Name))
	return gw
}

// Diagnostics returns the gateway's diagnostics channel.
func (g *Gateway) Diagnostics() *Diagnostics {
	return g.diagnostics
}

// Create inserts a new visible document with a fresh id and returns the
// id.
func (g *Gateway) Create(ctx context.Context, fields ir.IRObject) (string, error) {
	id := g.ids.Generate()
	if err := g.CreateWithID(ctx, id, fields); err != nil {
		return "", err
	}
	return id, nil
}

// CreateWithID inserts a visible document under id. Creating an id that
// already exists leaves the stored document unchanged and returns nil, so
// retries are safe.
func (g *Gateway) CreateWithID(ctx context.Context, id string, fields ir.IRObject) (err error) {
	defer g.count("create", &err)

	if id == "" {
		return fmt.Errorf("create: empty id")
	}
	if _, ok := fields[ir.IDField]; ok {
		return fmt.Errorf("create %s: %w: %s", id, ErrReservedField, ir.IDField)
	}
	doc := fields.Clone()
	if doc == nil {
		doc = ir.IRObject{}
	}
	doc[g.schema.VisibilityField] = ir.IRBool(false)
	if err := g.validate(doc); err != nil {
		return fmt.Errorf("create %s: %w", id, err)
	}

	_, err = g.store.Execute(ctx, queryir.Insert{Collection: g.schema.Name, ID: id, Fields: doc}, nil)
	if err != nil {
		return fmt.Errorf("create %s: %w", id, err)
	}
	g.logger.Debug("created", zap.String("id", id))
	return nil
}

// Update merges patch into the live document id. It fails with a
// *store.NotFoundError when id is absent or already retired.
func (g *Gateway) Update(ctx context.Context, id string, patch ir.IRObject) (err error) {
	defer g.count("update", &err)

	for _, reserved := range []string{ir.IDField, g.schema.VisibilityField} {
		if _, ok := patch[reserved]; ok {
			return fmt.Errorf("update %s: %w: %s", id, ErrReservedField, reserved)
		}
	}
	if err := g.validate(patch); err != nil {
		return fmt.Errorf("update %s: %w", id, err)
	}

	where := queryir.AllOf(
		queryir.ByID(id),
		queryir.Not{Predicate: queryir.Equals{Field: g.schema.VisibilityField, Value: ir.IRBool(true)}},
	)
	res, err := g.store.Execute(ctx, queryir.Update{Collection: g.schema.Name, Where: where, Patch: patch}, nil)
	if err != nil {
		return fmt.Errorf("update %s: %w", id, err)
	}
	if len(res.Affected) == 0 {
		return &store.NotFoundError{Collection: g.schema.Name, ID: id}
	}
	return nil
}

// Retire removes id from every view in two phases.
//
// Phase 1 sets the visibility flag, which takes the document out of every
// projection. Phase 2 physically evicts it. A phase 2 failure is reported
// as a Diagnostic with Op "evict" and Retire still returns nil; the
// document stays hidden until a later sweep evicts it.
func (g *Gateway) Retire(ctx context.Context, id string) (err error) {
	defer g.count("retire", &err)

	flag := ir.IRObject{g.schema.VisibilityField: ir.IRBool(true)}
	res, err := g.store.Execute(ctx, queryir.Update{Collection: g.schema.Name, Where: queryir.ByID(id), Patch: flag}, nil)
	if err != nil {
		return fmt.Errorf("retire %s: %w", id, err)
	}
	if len(res.Affected) == 0 {
		return &store.NotFoundError{Collection: g.schema.Name, ID: id}
	}

	where := queryir.AllOf(
		queryir.ByID(id),
		queryir.Equals{Field: g.schema.VisibilityField, Value: ir.IRBool(true)},
	)
	if _, evictErr := g.store.Execute(ctx, queryir.Evict{Collection: g.schema.Name, Where: where}, nil); evictErr != nil {
		metrics.EvictionsDeferredTotal.WithLabelValues(g.schema.Name).Inc()
		g.logger.Warn("eviction deferred", zap.String("id", id), zap.Error(evictErr))
		g.diagnostics.Report(Diagnostic{Op: "evict", Collection: g.schema.Name, ID: id, Err: evictErr})
	}
	return nil
}

// CreateAsync generates an id, returns it immediately and creates the
// document in the background. Failures go to Diagnostics.
func (g *Gateway) CreateAsync(ctx context.Context, fields ir.IRObject) string {
	id := g.ids.Generate()
	fields = fields.Clone()
	g.async(ctx, "create", id, func(ctx context.Context) error {
		return g.CreateWithID(ctx, id, fields)
	})
	return id
}

// UpdateAsync runs Update in the background. Failures go to Diagnostics.
func (g *Gateway) UpdateAsync(ctx context.Context, id string, patch ir.IRObject) {
	patch = patch.Clone()
	g.async(ctx, "update", id, func(ctx context.Context) error {
		return g.Update(ctx, id, patch)
	})
}

// RetireAsync runs Retire in the background. Failures go to Diagnostics.
func (g *Gateway) RetireAsync(ctx context.Context, id string) {
	g.async(ctx, "retire", id, func(ctx context.Context) error {
		return g.Retire(ctx, id)
	})
}

// Wait blocks until every async mutation started so far has finished.
func (g *Gateway) Wait() {
	g.wg.Wait()
}

func (g *Gateway) async(ctx context.Context, op, id string, fn func(context.Context) error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := fn(ctx); err != nil {
			g.logger.Debug("async mutation failed", zap.String("op", op), zap.String("id", id), zap.Error(err))
			g.diagnostics.Report(Diagnostic{Op: op, Collection: g.schema.Name, ID: id, Err: err})
		}
	}()
}

func (g *Gateway) validate(fields ir.IRObject) error {
	if g.validator == nil {
		return nil
	}
	return g.validator.Validate(fields)
}

func (g *Gateway) count(op string, err *error) {
	metrics.MutationsTotal.WithLabelValues(op, metrics.Status(*err)).Inc()
}
