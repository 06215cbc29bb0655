package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/liveview/internal/liveview"
	"github.com/roach88/liveview/internal/metrics"
	"github.com/roach88/liveview/internal/predicate"
	"github.com/roach88/liveview/internal/tasks"
)

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Owner string
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the visible tasks",
		Long: `Print the tasks a view with the given selection sees, ordered by id.

Retired tasks and records that fail to decode are never listed.

Examples:
  liveview list
  liveview list --owner Henry --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Owner, "owner", "", "only tasks owned by this user")

	return cmd
}

func runList(opts *ListOptions, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts.RootOptions)
	s, err := openSession(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.Close()

	docs, err := s.query(cmd.Context(), predicate.Selection{Owner: opts.Owner})
	if err != nil {
		return f.Fail("list failed", err)
	}
	return f.Tasks(tasks.FromDocuments(docs))
}

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Owner       string
	MetricsAddr string
	NoSweep     bool
}

// WatchUpdate is one JSON line written by watch.
type WatchUpdate struct {
	Seq   int64        `json:"seq"`
	Tasks []tasks.Task `json:"tasks"`
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the view every time it changes",
		Long: `Open a live view and print a fresh snapshot on every change until
interrupted. Edits made in this process show up at once. Edits made by
other liveview processes on the same database show up only when this
process next commits a change of its own, such as a sweep that evicts at
least one task.

While watching, hidden tasks are swept every eviction.sweep_interval. With
--metrics-addr, Prometheus metrics are served on /metrics and a health
check on /healthz.

Examples:
  liveview watch --owner Megan
  liveview watch --metrics-addr :9090 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Owner, "owner", "", "only tasks owned by this user")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve metrics on this address (overrides metrics.addr)")
	cmd.Flags().BoolVar(&opts.NoSweep, "no-sweep", false, "do not run the background sweeper")

	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts.RootOptions)
	s, err := openSession(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	var wg sync.WaitGroup
	defer func() {
		stop()
		wg.Wait()
	}()

	addr := opts.MetricsAddr
	if addr == "" {
		addr = s.cfg.Metrics.Addr
	}
	if addr != "" {
		metrics.Register()
		shutdown := serveMetrics(addr, s)
		defer shutdown()
	}

	if !opts.NoSweep {
		sweeper := s.newSweeper()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sweeper.Run(ctx); err != nil && !isCancel(err) {
				s.logger.Error("sweeper stopped", zap.Error(err))
			}
		}()
	}

	view := s.newView("watch")
	defer view.Close()

	updates := view.Updates()
	defer updates.Cancel()

	if err := view.SetSelection(ctx, predicate.Selection{Owner: opts.Owner}); err != nil {
		// The view keeps whatever it last saw; keep watching.
		f.Warn("selection not fully registered: %v", err)
	}

	for {
		snap, err := updates.Next(ctx)
		switch {
		case err == nil:
		case isCancel(err), errors.Is(err, liveview.ErrStreamClosed):
			return nil
		default:
			return f.Fail("watch failed", err)
		}
		if err := writeSnapshot(f, snap); err != nil {
			return err
		}
		s.drainDiagnostics(f)
	}
}

func writeSnapshot(f *OutputFormatter, snap liveview.Snapshot) error {
	list := tasks.FromSnapshot(snap)
	if f.Format == "json" {
		return f.Success(WatchUpdate{Seq: snap.Seq, Tasks: list})
	}
	fmt.Fprintln(f.Writer, dim(fmt.Sprintf("-- seq %d, %d task(s)", snap.Seq, len(list))))
	return f.Tasks(list)
}

// serveMetrics starts the metrics endpoint and returns a function that
// shuts it down.
func serveMetrics(addr string, s *session) func() {
	srv := &http.Server{
		Addr: addr,
		Handler: metrics.Router(func() error {
			return s.store.DB().Ping()
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		s.logger.Info("metrics endpoint listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics endpoint failed", zap.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
