package liveview

import (
	"context"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/roach88/liveview/internal/dispatch"
	"github.com/roach88/liveview/internal/ir"
	"github.com/roach88/liveview/internal/metrics"
	"github.com/roach88/liveview/internal/queryir"
	"github.com/roach88/liveview/internal/store"
)

// ObserverStore is the part of the store an Observer uses.
type ObserverStore interface {
	RegisterObserver(ctx context.Context, filter queryir.Filter, fn store.ObserverFunc) (store.Handle, error)
}

// Snapshot is one projected result set.
type Snapshot struct {
	// Seq is the store batch the snapshot reflects.
	Seq int64

	// Filter is the filter the documents were selected with.
	Filter queryir.Filter

	// Documents are visible, decoded, unique by id and ordered by id.
	// Read-only: every consumer shares the same slice.
	Documents []ir.Document
}

// IDs returns the document ids in order.
func (s Snapshot) IDs() []string {
	ids := make([]string, len(s.Documents))
	for i, d := range s.Documents {
		ids[i] = d.ID
	}
	return ids
}

// Observer holds at most one live store observer for one view and projects
// its observations onto the owner loop.
//
// Attach and Detach must be called from the owner loop.
type Observer struct {
	store      ObserverStore
	loop       *dispatch.Loop
	decoder    *Decoder
	visibility string
	logger     *zap.Logger

	handle  store.Handle
	current *attachment
}

// attachment is the liveness token of one Attach. alive is read on the
// store goroutine and on the owner loop; lastSeq is owner-loop only.
type attachment struct {
	alive     atomic.Bool
	delivered bool
	lastSeq   int64
}

// NewObserver creates an observer whose callbacks run on loop. Documents
// whose visibility field is true are never projected.
func NewObserver(st ObserverStore, loop *dispatch.Loop, decoder *Decoder, visibility string, logger *zap.Logger) *Observer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Observer{
		store:      st,
		loop:       loop,
		decoder:    decoder,
		visibility: visibility,
		logger:     logger,
	}
}

// Attach detaches the current store observer and attaches a new one for
// filter. onChange runs on the owner loop with the initial projection and
// then once per store batch that touches the filter.
func (o *Observer) Attach(ctx context.Context, filter queryir.Filter, onChange func(Snapshot)) error {
	o.Detach()

	att := &attachment{}
	att.alive.Store(true)

	h, err := o.store.RegisterObserver(ctx, filter, func(obs store.Observation) {
		if !att.alive.Load() {
			return
		}
		o.loop.Post(func() {
			if !att.alive.Load() {
				return
			}
			if att.delivered && obs.Seq <= att.lastSeq {
				o.logger.Debug("duplicate batch ignored", zap.Int64("seq", obs.Seq))
				return
			}
			att.delivered = true
			att.lastSeq = obs.Seq
			onChange(Snapshot{Seq: obs.Seq, Filter: filter, Documents: o.project(filter.Collection, obs.Documents)})
		})
	})
	if err != nil {
		att.alive.Store(false)
		if !store.IsRegistrationError(err) {
			err = &store.RegistrationError{Kind: store.KindObserver, Filter: filter.Text(), Err: err}
		}
		metrics.RegistrationFailuresTotal.WithLabelValues(string(store.KindObserver)).Inc()
		o.logger.Warn("observer registration failed", zap.String("filter", filter.Text()), zap.Error(err))
		return err
	}

	o.handle = h
	o.current = att
	return nil
}

// Detach cancels the live store observer. Once Detach returns, no callback
// from it runs, including one already queued on the owner loop.
func (o *Observer) Detach() {
	if o.current != nil {
		o.current.alive.Store(false)
		o.current = nil
	}
	if o.handle != nil {
		o.handle.Cancel()
		o.handle = nil
	}
}

// Attached reports whether a live store observer is held.
func (o *Observer) Attached() bool {
	return o.handle != nil && o.handle.Active()
}

// project decodes raws, drops hidden and undecodable documents, and
// returns the rest unique by id in id order. One bad record never empties
// the projection.
func (o *Observer) project(collection string, raws []ir.RawDocument) []ir.Document {
	seen := make(map[string]bool, len(raws))
	docs := make([]ir.Document, 0, len(raws))
	for _, raw := range raws {
		if seen[raw.ID] {
			continue
		}
		doc, err := o.decoder.Decode(raw)
		if err != nil {
			metrics.DecodeFailuresTotal.WithLabelValues(collection).Inc()
			o.logger.Warn("skipping undecodable document",
				zap.String("collection", collection),
				zap.String("id", raw.ID),
				zap.Error(err))
			continue
		}
		if doc.Hidden(o.visibility) {
			continue
		}
		seen[raw.ID] = true
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs
}
