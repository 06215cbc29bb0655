package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/roach88/liveview/internal/ir"
	"github.com/roach88/liveview/internal/queryir"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// task builds a tasks document body.
func task(body, user string, completed, hidden bool) ir.IRObject {
	return ir.IRObject{
		"body":              ir.IRString(body),
		"userId":            ir.IRString(user),
		"isCompleted":       ir.IRBool(completed),
		"isSafeForEviction": ir.IRBool(hidden),
	}
}

func insertTask(t *testing.T, s *Store, id string, fields ir.IRObject) Result {
	t.Helper()
	res, err := s.Execute(context.Background(), queryir.Insert{Collection: "tasks", ID: id, Fields: fields}, nil)
	if err != nil {
		t.Fatalf("insert %s: %v", id, err)
	}
	return res
}

func visibleFilter() queryir.Filter {
	return queryir.Filter{
		Collection: "tasks",
		Where:      queryir.Not{Predicate: queryir.Equals{Field: "isSafeForEviction", Value: ir.IRBool(true)}},
	}
}

// recorder collects observations delivered to an ObserverFunc.
type recorder struct {
	mu  sync.Mutex
	got []Observation
}

func (r *recorder) observe(obs Observation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, obs)
}

func (r *recorder) all() []Observation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Observation(nil), r.got...)
}

// ids returns the document ids of each observation.
func (r *recorder) ids() [][]string {
	var out [][]string
	for _, obs := range r.all() {
		ids := []string{}
		for _, d := range obs.Documents {
			ids = append(ids, d.ID)
		}
		out = append(out, ids)
	}
	return out
}

func flush(t *testing.T, s *Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}
}
