package harness

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/liveview/internal/ir"
	"github.com/roach88/liveview/internal/liveview"
	"github.com/roach88/liveview/internal/predicate"
	"github.com/roach88/liveview/internal/queryir"
	"github.com/roach88/liveview/internal/schema"
	"github.com/roach88/liveview/internal/store"
	"github.com/roach88/liveview/internal/store/memstore"
	"github.com/roach88/liveview/internal/testutil"
)

// Epoch is the sweep clock reading when a scenario starts.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// Error kinds reported in traces and matched by expect clauses.
const (
	ErrKindNotFound      = "not_found"
	ErrKindRegistration  = "registration"
	ErrKindReservedField = "reserved_field"
	ErrKindSweepTooSoon  = "sweep_too_soon"
	ErrKindStore         = "store"
	ErrKindOther         = "error"
)

// backend is what the harness needs from a document store. Both the
// SQLite store and memstore satisfy it.
type backend interface {
	store.DocumentStore
	PutRaw(ctx context.Context, collection, id string, body []byte) (store.Result, error)
	Subscriptions(ctx context.Context) ([]store.SubscriptionRecord, error)
	LastSweep(ctx context.Context, collection string) (time.Time, error)
	RecordSweep(ctx context.Context, collection string, at time.Time) error
	Seq() int64
	Close() error
}

// Harness executes one scenario against a fresh store.
type Harness struct {
	store   backend
	mem     *memstore.Store // nil unless the memory backend is used
	schema  ir.CollectionSchema
	view    *liveview.View
	gateway *liveview.Gateway
	sweeper *liveview.Sweeper
	clock   *testutil.ManualClock
	logger  *zap.Logger
}

// Option configures a scenario run.
type Option func(*runOptions)

type runOptions struct {
	logger *zap.Logger
}

// WithLogger sets the logger handed to the store, view and gateway.
func WithLogger(logger *zap.Logger) Option {
	return func(o *runOptions) { o.logger = logger }
}

// Run executes a scenario and returns its result.
//
// Each scenario runs against a fresh store: an in-memory SQLite database
// or a memstore. Ids and the sweep clock are deterministic.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	o := runOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	ctx := context.Background()

	reg, err := schema.Default()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	tasks, _ := reg.Collection("tasks")

	h := &Harness{
		schema: tasks.Schema,
		clock:  testutil.NewManualClock(Epoch),
		logger: o.logger,
	}
	switch scenario.Backend {
	case BackendMemory:
		h.mem = memstore.New(memstore.WithLogger(o.logger))
		h.store = h.mem
	default:
		st, err := store.Open(":memory:", store.WithLogger(o.logger))
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory store: %w", err)
		}
		h.store = st
	}
	defer h.store.Close()

	if err := h.seed(ctx, scenario.Setup); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}

	minInterval, err := time.ParseDuration(scenario.MinInterval)
	if err != nil {
		return nil, fmt.Errorf("min_interval: %w", err)
	}

	h.view = liveview.NewView(h.store, predicate.NewBuilder(tasks.Schema),
		liveview.WithName(scenario.Name),
		liveview.WithLogger(o.logger),
		liveview.WithValidator(tasks))
	defer h.view.Close()

	h.gateway = liveview.NewGateway(h.store, tasks.Schema,
		liveview.WithIDGenerator(testutil.NewSequentialIDs(scenario.IDPrefix)),
		liveview.WithFieldValidator(tasks),
		liveview.WithGatewayLogger(o.logger))
	h.sweeper = liveview.NewSweeper(h.store, tasks.Schema, minInterval,
		liveview.WithNow(h.clock.Now),
		liveview.WithSweeperLogger(o.logger))

	result := NewResult()
	for i, step := range scenario.Flow {
		event, err := h.step(ctx, i, step)
		if err != nil {
			return nil, err
		}
		result.Trace = append(result.Trace, event)
		for _, msg := range checkExpect(i, step, event) {
			result.AddError(msg)
		}
	}

	result.View = rows(h.view.Results())
	for _, msg := range h.evaluateAssertions(ctx, result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) seed(ctx context.Context, docs []Document) error {
	for i, doc := range docs {
		body := []byte(doc.Raw)
		if doc.Fields != nil {
			fields, err := convertArgsToIRObject(doc.Fields)
			if err != nil {
				return fmt.Errorf("setup[%d]: %w", i, err)
			}
			body, err = ir.MarshalCanonical(fields)
			if err != nil {
				return fmt.Errorf("setup[%d]: %w", i, err)
			}
		}
		if _, err := h.store.PutRaw(ctx, h.schema.Name, doc.ID, body); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
	}
	return nil
}

// step runs one action, syncs the view and records the outcome. Only
// harness failures are returned; action errors go into the event.
func (h *Harness) step(ctx context.Context, i int, step FlowStep) (TraceEvent, error) {
	event := TraceEvent{Step: i + 1, Action: step.Invoke, Args: step.Args}

	id, actionErr, err := h.execute(ctx, step)
	if err != nil {
		return TraceEvent{}, fmt.Errorf("flow[%d] %s: %w", i, step.Invoke, err)
	}
	if err := h.view.Sync(ctx); err != nil {
		return TraceEvent{}, fmt.Errorf("flow[%d] %s: sync view: %w", i, step.Invoke, err)
	}

	event.ID = id
	event.Error = ErrorKind(actionErr)
	event.Seq = h.store.Seq()
	event.View = rows(h.view.Results())

	h.logger.Debug("flow step completed",
		zap.Int("step", event.Step),
		zap.String("action", step.Invoke),
		zap.String("error", event.Error),
		zap.Int64("seq", event.Seq))
	return event, nil
}

// execute returns the action's own error separately from a malformed
// step.
func (h *Harness) execute(ctx context.Context, step FlowStep) (id string, actionErr, err error) {
	args := step.Args
	switch step.Invoke {
	case ActionSelect:
		owner, _ := args["owner"].(string)
		return "", h.view.SetSelection(ctx, predicate.Selection{Owner: owner}), nil

	case ActionCreate:
		fields, err := convertArgsToIRObject(args)
		if err != nil {
			return "", nil, err
		}
		id, actionErr := h.gateway.Create(ctx, fields)
		return id, actionErr, nil

	case ActionUpdate:
		patchArgs, ok := args["patch"].(map[string]any)
		if !ok {
			return "", nil, fmt.Errorf("patch must be a map")
		}
		patch, err := convertArgsToIRObject(patchArgs)
		if err != nil {
			return "", nil, err
		}
		return "", h.gateway.Update(ctx, stringArg(args, "id"), patch), nil

	case ActionRetire:
		return "", h.gateway.Retire(ctx, stringArg(args, "id")), nil

	case ActionPut:
		body := []byte(stringArg(args, "raw"))
		if fieldArgs, ok := args["fields"].(map[string]any); ok {
			fields, err := convertArgsToIRObject(fieldArgs)
			if err != nil {
				return "", nil, err
			}
			if body, err = ir.MarshalCanonical(fields); err != nil {
				return "", nil, err
			}
		}
		_, actionErr := h.store.PutRaw(ctx, h.schema.Name, stringArg(args, "id"), body)
		return "", actionErr, nil

	case ActionFail:
		msg := stringArg(args, "error")
		if msg == "" {
			msg = "injected failure"
		}
		h.mem.Fail(stringArg(args, "op"), errors.New(msg))
		return "", nil, nil

	case ActionRecover:
		h.mem.Fail(stringArg(args, "op"), nil)
		return "", nil, nil

	case ActionAdvance:
		d, err := time.ParseDuration(stringArg(args, "by"))
		if err != nil {
			return "", nil, err
		}
		h.clock.Advance(d)
		return "", nil, nil

	case ActionSweep:
		_, actionErr := h.sweeper.Sweep(ctx)
		return "", actionErr, nil

	default:
		return "", nil, fmt.Errorf("unknown action %q", step.Invoke)
	}
}

func checkExpect(i int, step FlowStep, event TraceEvent) []string {
	var errs []string
	want := ""
	if step.Expect != nil {
		want = step.Expect.Error
	}
	if event.Error != want {
		errs = append(errs, fmt.Sprintf("flow[%d] %s: error kind = %q, want %q", i, step.Invoke, event.Error, want))
	}
	if step.Expect != nil && step.Expect.View != nil {
		got := rowIDs(event.View)
		if !slices.Equal(got, step.Expect.View) {
			errs = append(errs, fmt.Sprintf("flow[%d] %s: view = %v, want %v", i, step.Invoke, got, step.Expect.View))
		}
	}
	return errs
}

// ErrorKind classifies an error for traces and expect clauses.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case store.IsNotFound(err):
		return ErrKindNotFound
	case store.IsRegistrationError(err):
		return ErrKindRegistration
	case errors.Is(err, liveview.ErrReservedField):
		return ErrKindReservedField
	case errors.Is(err, liveview.ErrSweepTooSoon):
		return ErrKindSweepTooSoon
	case store.IsStoreError(err):
		return ErrKindStore
	default:
		return ErrKindOther
	}
}

// storeDocument reads id from the store, hidden or not.
func (h *Harness) storeDocument(ctx context.Context, id string) (ir.RawDocument, bool, error) {
	res, err := h.store.Execute(ctx, queryir.Select{Collection: h.schema.Name, Where: queryir.ByID(id)}, nil)
	if err != nil {
		return ir.RawDocument{}, false, err
	}
	if len(res.Documents) == 0 {
		return ir.RawDocument{}, false, nil
	}
	return res.Documents[0], true, nil
}

func rows(docs []ir.Document) []Row {
	out := make([]Row, len(docs))
	for i, d := range docs {
		fields, _ := ir.ToGo(d.Fields).(map[string]any)
		out[i] = Row{ID: d.ID, Fields: fields}
	}
	return out
}

func rowIDs(rs []Row) []string {
	ids := make([]string, len(rs))
	for i, r := range rs {
		ids[i] = r.ID
	}
	return ids
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// convertArgsToIRObject converts YAML-decoded values to an ir.IRObject.
// Integral YAML numbers become IRInt; floats and nulls are rejected.
func convertArgsToIRObject(args map[string]any) (ir.IRObject, error) {
	if args == nil {
		return ir.IRObject{}, nil
	}
	v, err := ir.ToIRValue(args)
	if err != nil {
		return nil, err
	}
	return v.(ir.IRObject), nil
}
