package liveview

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/roach88/liveview/internal/metrics"
)

// Diagnostic reports a failure that did not surface as a returned error:
// an asynchronous mutation, or a deferred eviction.
type Diagnostic struct {
	Op         string // "create", "update", "retire", "evict"
	Collection string
	ID         string
	Err        error
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s %s/%s: %v", d.Op, d.Collection, d.ID, d.Err)
}

// Diagnostics is a buffered, non-blocking channel of diagnostics. When the
// buffer is full new diagnostics are dropped and counted, never blocking
// the reporter.
type Diagnostics struct {
	ch      chan Diagnostic
	logger  *zap.Logger
	dropped atomic.Int64
}

// NewDiagnostics creates a channel holding up to buffer undelivered
// diagnostics. A nil logger is replaced by a no-op logger.
func NewDiagnostics(buffer int, logger *zap.Logger) *Diagnostics {
	if buffer < 0 {
		buffer = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Diagnostics{ch: make(chan Diagnostic, buffer), logger: logger}
}

// C returns the receive side of the channel.
func (d *Diagnostics) C() <-chan Diagnostic {
	return d.ch
}

// Report queues diag without blocking.
func (d *Diagnostics) Report(diag Diagnostic) {
	select {
	case d.ch <- diag:
	default:
		d.dropped.Add(1)
		metrics.DiagnosticsDroppedTotal.Inc()
		d.logger.Warn("diagnostic dropped",
			zap.String("op", diag.Op),
			zap.String("id", diag.ID),
			zap.Error(diag.Err))
	}
}

// Dropped returns how many diagnostics were dropped.
func (d *Diagnostics) Dropped() int64 {
	return d.dropped.Load()
}
