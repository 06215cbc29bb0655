package liveview

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/roach88/liveview/internal/ir"
	"github.com/roach88/liveview/internal/predicate"
	"github.com/roach88/liveview/internal/queryir"
	"github.com/roach88/liveview/internal/schema"
	"github.com/roach88/liveview/internal/store"
	"github.com/roach88/liveview/internal/store/memstore"
)

// fixture wires a view and a gateway to one in-memory store.
type fixture struct {
	store   *memstore.Store
	tasks   *schema.Collection
	view    *View
	gateway *Gateway
	diags   *Diagnostics
	logs    *observer.ObservedLogs
}

func newFixture(t *testing.T, ids ...string) *fixture {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	reg, err := schema.Default()
	require.NoError(t, err)
	tasks, ok := reg.Collection("tasks")
	require.True(t, ok)

	st := memstore.New()
	t.Cleanup(func() { _ = st.Close() })

	gen := IDGenerator(UUIDv7Generator{})
	if len(ids) > 0 {
		gen = NewFixedGenerator(ids...)
	}
	diags := NewDiagnostics(16, logger)

	v := NewView(st, predicate.NewBuilder(tasks.Schema),
		WithName("test"), WithLogger(logger), WithValidator(tasks))
	t.Cleanup(v.Close)

	gw := NewGateway(st, tasks.Schema,
		WithIDGenerator(gen),
		WithDiagnostics(diags),
		WithFieldValidator(tasks),
		WithGatewayLogger(logger))
	t.Cleanup(gw.Wait)

	return &fixture{store: st, tasks: tasks, view: v, gateway: gw, diags: diags, logs: logs}
}

func (f *fixture) sync(t *testing.T) {
	t.Helper()
	require.NoError(t, f.view.Sync(context.Background()))
}

func (f *fixture) selectOwner(t *testing.T, owner string) {
	t.Helper()
	require.NoError(t, f.view.SetSelection(context.Background(), predicate.Selection{Owner: owner}))
	f.sync(t)
}

// stored returns the raw stored body of id, and whether it exists.
func (f *fixture) stored(t *testing.T, id string) (ir.IRObject, bool) {
	t.Helper()
	res, err := f.store.Execute(context.Background(), queryir.Select{Collection: "tasks", Where: queryir.ByID(id)}, nil)
	require.NoError(t, err)
	if len(res.Documents) == 0 {
		return nil, false
	}
	v, err := ir.UnmarshalIRValue(res.Documents[0].Body)
	require.NoError(t, err)
	return v.(ir.IRObject), true
}

func (f *fixture) subscriptions(t *testing.T) []store.SubscriptionRecord {
	t.Helper()
	subs, err := f.store.Subscriptions(context.Background())
	require.NoError(t, err)
	return subs
}

func task(body, user string) ir.IRObject {
	return ir.IRObject{
		"body":        ir.IRString(body),
		"userId":      ir.IRString(user),
		"isCompleted": ir.IRBool(false),
	}
}

func docIDs(docs []ir.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func selectAll() queryir.Select {
	return queryir.Select{Collection: "tasks"}
}
