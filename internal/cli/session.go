package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/liveview/internal/config"
	"github.com/roach88/liveview/internal/ir"
	"github.com/roach88/liveview/internal/liveview"
	"github.com/roach88/liveview/internal/logger"
	"github.com/roach88/liveview/internal/predicate"
	"github.com/roach88/liveview/internal/schema"
	"github.com/roach88/liveview/internal/store"
	"github.com/roach88/liveview/internal/tasks"
)

// session is everything one command needs: the store, the collection it
// works on and the write path into it.
type session struct {
	cfg        config.Config
	logger     *zap.Logger
	store      *store.Store
	collection *schema.Collection
	gateway    *liveview.Gateway
	service    *tasks.Service
}

func openSession(cmd *cobra.Command, opts *RootOptions) (*session, error) {
	cfg := opts.Config
	log := logger.FromContext(cmd.Context())

	reg, err := schema.Load(cfg.Collection.SchemaDir)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load schema", err)
	}
	coll, ok := reg.Collection(cfg.Collection.Name)
	if !ok {
		return nil, NewExitError(ExitCommandError,
			fmt.Sprintf("collection %q is not declared by the schema (have %v)", cfg.Collection.Name, reg.Names()))
	}

	st, err := store.Open(cfg.Database.Path, store.WithLogger(log))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	gw := liveview.NewGateway(st, coll.Schema,
		liveview.WithFieldValidator(coll),
		liveview.WithDiagnostics(liveview.NewDiagnostics(cfg.Diagnostics.Buffer, log)),
		liveview.WithGatewayLogger(log))

	return &session{
		cfg:        cfg,
		logger:     log,
		store:      st,
		collection: coll,
		gateway:    gw,
		service:    tasks.NewService(gw),
	}, nil
}

func (s *session) Close() {
	s.gateway.Wait()
	if err := s.store.Close(); err != nil {
		s.logger.Error("error closing database", zap.Error(err))
	}
}

// newView opens a view over the session's collection.
func (s *session) newView(name string) *liveview.View {
	return liveview.NewView(s.store, predicate.NewBuilder(s.collection.Schema),
		liveview.WithName(name),
		liveview.WithLogger(s.logger),
		liveview.WithValidator(s.collection))
}

// newSweeper builds a sweeper from the eviction config.
func (s *session) newSweeper() *liveview.Sweeper {
	return liveview.NewSweeper(s.store, s.collection.Schema, s.cfg.Eviction.MinInterval,
		liveview.WithSweepInterval(s.cfg.Eviction.SweepInterval),
		liveview.WithSweeperLogger(s.logger))
}

// query runs a one-shot view for sel and returns its documents.
func (s *session) query(ctx context.Context, sel predicate.Selection) ([]ir.Document, error) {
	view := s.newView("query")
	defer view.Close()

	if err := view.SetSelection(ctx, sel); err != nil {
		return nil, err
	}
	if err := view.Sync(ctx); err != nil {
		return nil, err
	}
	return view.Results(), nil
}

// task reads one visible task.
func (s *session) task(ctx context.Context, id string) (tasks.Task, error) {
	docs, err := s.query(ctx, predicate.Selection{})
	if err != nil {
		return tasks.Task{}, err
	}
	for _, d := range docs {
		if d.ID == id {
			return tasks.FromDocument(d), nil
		}
	}
	return tasks.Task{}, &store.NotFoundError{Collection: s.collection.Schema.Name, ID: id}
}

// drainDiagnostics reports queued background failures without blocking.
func (s *session) drainDiagnostics(f *OutputFormatter) {
	for {
		select {
		case d := <-s.gateway.Diagnostics().C():
			f.Warn("%s", d.String())
		default:
			return
		}
	}
}

// isCancel reports whether err is a context cancellation, the normal end
// of a long-running command.
func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
