package liveview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/liveview/internal/ir"
	"github.com/roach88/liveview/internal/metrics"
	"github.com/roach88/liveview/internal/queryir"
)

// SweepStore is what a Sweeper needs from the store: evicting writes plus
// a persistent record of the last sweep per collection.
type SweepStore interface {
	MutationStore
	LastSweep(ctx context.Context, collection string) (time.Time, error)
	RecordSweep(ctx context.Context, collection string, at time.Time) error
}

// Sweeper physically evicts every hidden document of one collection. It
// picks up documents whose retire left them hidden after a failed
// eviction.
type Sweeper struct {
	store       SweepStore
	schema      ir.CollectionSchema
	minInterval time.Duration
	interval    time.Duration
	now         func() time.Time
	logger      *zap.Logger

	mu sync.Mutex
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepInterval sets how often Run sweeps. Values below the minimum
// interval are raised to it.
func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) { s.interval = d }
}

// WithNow sets the time source.
func WithNow(now func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.now = now }
}

// WithSweeperLogger sets the sweeper logger.
func WithSweeperLogger(logger *zap.Logger) SweeperOption {
	return func(s *Sweeper) { s.logger = logger }
}

// NewSweeper creates a sweeper that refuses to sweep more often than
// minInterval.
func NewSweeper(st SweepStore, schema ir.CollectionSchema, minInterval time.Duration, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		store:       st,
		schema:      schema,
		minInterval: minInterval,
		now:         time.Now,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("collection", schema.Name))
	return s
}

// Interval returns the period Run sweeps at.
func (s *Sweeper) Interval() time.Duration {
	return max(s.interval, s.minInterval)
}

// Sweep evicts every hidden document and returns their ids. It returns
// ErrSweepTooSoon if the last recorded sweep is within the minimum
// interval.
func (s *Sweeper) Sweep(ctx context.Context) (evicted []string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := "ok"
	defer func() {
		if err != nil {
			result = "error"
			if errors.Is(err, ErrSweepTooSoon) {
				result = "too_soon"
			}
		}
		metrics.SweepsTotal.WithLabelValues(s.schema.Name, result).Inc()
	}()

	now := s.now()
	last, err := s.store.LastSweep(ctx, s.schema.Name)
	if err != nil {
		return nil, fmt.Errorf("sweep: %w", err)
	}
	if !last.IsZero() && now.Sub(last) < s.minInterval {
		return nil, fmt.Errorf("sweep %s: last at %s: %w", s.schema.Name, last.UTC().Format(time.RFC3339), ErrSweepTooSoon)
	}

	where := queryir.Equals{Field: s.schema.VisibilityField, Value: ir.IRBool(true)}
	res, err := s.store.Execute(ctx, queryir.Evict{Collection: s.schema.Name, Where: where}, nil)
	if err != nil {
		return nil, fmt.Errorf("sweep %s: %w", s.schema.Name, err)
	}
	if err := s.store.RecordSweep(ctx, s.schema.Name, now); err != nil {
		return res.Affected, fmt.Errorf("sweep %s: %w", s.schema.Name, err)
	}

	metrics.SweptDocumentsTotal.WithLabelValues(s.schema.Name).Add(float64(len(res.Affected)))
	s.logger.Info("sweep finished", zap.Int("evicted", len(res.Affected)))
	return res.Affected, nil
}

// Run sweeps once immediately and then every Interval until ctx is done.
// A sweep refused as too soon is skipped quietly; other failures are
// logged.
func (s *Sweeper) Run(ctx context.Context) error {
	interval := s.Interval()
	if interval <= 0 {
		return fmt.Errorf("sweeper: interval must be positive, got %s", interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil && !errors.Is(err, ErrSweepTooSoon) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("sweep failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
