package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/roach88/liveview/internal/ir"
)

// fakeSource is a QueryFunc backing whose result and failures the test
// controls.
type fakeSource struct {
	mu       sync.Mutex
	docs     []ir.RawDocument
	failNext bool
}

func (f *fakeSource) set(ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = f.docs[:0]
	for _, id := range ids {
		f.docs = append(f.docs, ir.RawDocument{ID: id, Body: []byte(`{}`)})
	}
}

func (f *fakeSource) failOnce() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = true
}

func (f *fakeSource) query(context.Context) ([]ir.RawDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return nil, errors.New("database is locked")
	}
	return append([]ir.RawDocument(nil), f.docs...), nil
}

func batch(seq int64, ids ...string) ir.ChangeBatch {
	b := ir.ChangeBatch{Seq: seq, Collection: "tasks"}
	for _, id := range ids {
		b.Changes = append(b.Changes, ir.Change{ID: id, Kind: ir.ChangeUpdate})
	}
	return b
}

func flushHub(t *testing.T, h *Hub) {
	t.Helper()
	require.NoError(t, h.Flush(context.Background()))
}

func TestHub_FailedQueryRedeliversOnNextBatch(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	h := NewHub(zap.New(core))
	defer h.Close()

	src := &fakeSource{}
	src.set("x", "y")
	initial, err := src.query(context.Background())
	require.NoError(t, err)

	rec := &recorder{}
	_, err = h.Attach("tasks", 1, initial, src.query, rec.observe)
	require.NoError(t, err)

	// x is retired, but re-running the filter fails.
	src.set("y")
	src.failOnce()
	h.Publish(batch(2, "x"))
	flushHub(t, h)
	assert.Equal(t, [][]string{{"x", "y"}}, rec.ids())
	assert.Equal(t, 1, logs.FilterMessage("observer query failed").Len())

	// z is outside both match sets, yet the view must catch up.
	h.Publish(batch(3, "z"))
	flushHub(t, h)

	got := rec.all()
	require.Len(t, got, 2)
	assert.Equal(t, int64(3), got[1].Seq)
	assert.Equal(t, [][]string{{"x", "y"}, {"y"}}, rec.ids())

	// Once caught up, unrelated batches are skipped again.
	h.Publish(batch(4, "z"))
	flushHub(t, h)
	assert.Len(t, rec.all(), 2)
}

func TestHub_SkipsBatchesOutsideMatchSet(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	src := &fakeSource{}
	src.set("x")
	rec := &recorder{}
	_, err := h.Attach("tasks", 1, []ir.RawDocument{{ID: "x", Body: []byte(`{}`)}}, src.query, rec.observe)
	require.NoError(t, err)

	h.Publish(batch(2, "z"))
	h.Publish(ir.ChangeBatch{Seq: 3, Collection: "notes", Changes: []ir.Change{{ID: "x", Kind: ir.ChangeUpdate}}})
	flushHub(t, h)
	assert.Len(t, rec.all(), 1, "only the initial observation")
}
