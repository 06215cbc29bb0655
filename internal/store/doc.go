// Package store provides the document store the live view engine runs on.
//
// A Store keeps schema-flexible JSON documents in SQLite, keyed by
// (collection, id). It executes queryir statements, records remote
// interest as subscription rows, and notifies observers when committed
// change batches touch their filter.
//
// # Ordering
//
//   - Every committed statement that changes at least one row is stamped
//     with one value from a monotonic logical clock and published as one
//     ir.ChangeBatch.
//   - Batches are delivered to observers in seq order on a single hub
//     goroutine.
//   - All queries end in ORDER BY id ASC COLLATE BINARY.
//
// # Idempotency
//
//   - Insert uses ON CONFLICT DO NOTHING, so replaying a create is a no-op.
//   - Update applies an RFC 7386 merge patch; a patch that changes nothing
//     produces no batch.
//   - Evict deletes rows; evicting an absent id is a no-op.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON
//
// The memstore subpackage implements the same contract in memory.
package store
