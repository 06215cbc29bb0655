// Package harness runs YAML scenarios against a real document store, a
// live view and a mutation gateway, and compares the resulting trace with
// golden files.
//
// # Scenario Format
//
//	name: get_milk
//	description: "A created task appears, updates, and disappears on retire"
//	backend: sqlite            # or "memory"; failure injection needs memory
//	setup:
//	  - id: t0
//	    fields: { body: "seeded", userId: "Megan" }
//	  - id: broken
//	    raw: '{"body":'
//	flow:
//	  - invoke: select
//	    args: { owner: "" }
//	  - invoke: create
//	    args: { body: "Get Milk", userId: "", isCompleted: false }
//	    expect:
//	      view: [t0, task-0001]
//	  - invoke: retire
//	    args: { id: task-0001 }
//	assertions:
//	  - type: view_excludes
//	    id: task-0001
//	  - type: store_contains
//	    id: t0
//	    expect: { userId: "Megan" }
//
// # Actions
//
//   - select: set the view selection ({owner})
//   - create: create a task from args; ids come from a sequential generator
//   - update: merge {patch} into {id}
//   - retire: retire {id}
//   - put: write {fields} or a {raw} body under {id} directly to the store,
//     the way replication would
//   - fail / recover: inject or clear a store failure for {op}
//   - advance: move the sweep clock forward {by} a duration
//   - sweep: run one eviction sweep
//
// After every step the view is synced and the step is appended to the
// trace with its error kind, the store seq and the visible documents.
//
// # Assertion Types
//
//   - view_contains: the final view holds {id}, with {expect} fields as a subset
//   - view_excludes: the final view does not hold {id}
//   - view_count: the final view holds exactly {count} documents
//   - store_contains / store_excludes: the same checks against the store,
//     hidden documents included
//   - subscriptions: exactly {count} subscriptions are registered
//
// # Deterministic Testing
//
// Ids come from testutil.SequentialIDs and the sweep clock from
// testutil.ManualClock, so traces are identical across runs.
package harness
