package store

import (
	"context"

	"github.com/roach88/liveview/internal/ir"
	"github.com/roach88/liveview/internal/queryir"
)

// DocumentStore is the contract the live view engine consumes. Both the
// SQLite Store and memstore.Store implement it.
type DocumentStore interface {
	// Execute runs one statement. Writes that change rows commit as one
	// change batch.
	Execute(ctx context.Context, stmt queryir.Statement, params ir.IRObject) (Result, error)

	// RegisterSubscription records remote interest in a filter.
	RegisterSubscription(ctx context.Context, filter queryir.Filter) (Handle, error)

	// RegisterObserver delivers an initial observation and then one per
	// change batch that touches the filter's previous or current matches.
	RegisterObserver(ctx context.Context, filter queryir.Filter, fn ObserverFunc) (Handle, error)

	// Flush returns once every batch committed before the call has been
	// delivered to observers.
	Flush(ctx context.Context) error
}

// Result is the outcome of Execute.
type Result struct {
	// Seq is the batch seq for writes that changed rows, or the clock
	// position a read observed.
	Seq int64

	// Documents holds the rows a Select returned, ordered by id.
	Documents []ir.RawDocument

	// Affected lists the ids a write matched, ordered by id. An Update
	// whose patch changed nothing still lists its matches.
	Affected []string
}

// Observation is one delivery to an observer: the full current match set
// of its filter.
type Observation struct {
	Seq       int64
	Documents []ir.RawDocument
	Initial   bool
}

// ObserverFunc receives observations on the store's delivery goroutine.
// It must not block for long and must not cancel its own handle.
type ObserverFunc func(Observation)

// Handle owns one registration.
type Handle interface {
	// Cancel ends the registration. It is idempotent and synchronous: once
	// it returns, no further delivery for this handle starts, and any
	// delivery in flight has finished.
	Cancel()

	// Active reports whether Cancel has not been called.
	Active() bool
}
