// Package liveview binds a declarative filter to a continuously updated,
// locally observed result set.
//
// A View is instantiated once per logical screen. It owns:
//
//   - one Registry, holding at most one live subscription (remote interest)
//   - one Observer, holding at most one live store observer
//   - one owner dispatch.Loop, on which every selection change, projection
//     and snapshot publication runs
//
// SetSelection builds the filter once and hands that same value to the
// registry and the observer in one owner task, so their filters cannot
// drift apart. Replacing a handle always cancels the previous one first.
//
// Store notifications arrive on the store's delivery goroutine. The
// observer checks the attachment's liveness token there and again on the
// owner loop, so nothing from a cancelled attachment reaches consumers.
//
// Consumers read Results, or range over a Stream from Updates. Snapshots
// are replaced wholesale on each notification and must be treated as
// read-only.
//
// The Gateway applies writes (create, update, two-phase retire) and the
// Sweeper retries physical eviction of hidden documents, never more often
// than a configured minimum interval.
package liveview
