// Package harness runs YAML wallet scenarios against a real store and checks
// the resulting partitions.
//
// # Scenario Format
//
//	name: scenario_a_transfer_default
//	description: "SetDefault moves the flag from A to B"
//	owner: owner-1
//	seed:                     # optional, written as-is (may break the invariant)
//	  - ref: X
//	    kind: address
//	    default: true
//	    fields: { street: "Rua X", ... }
//	steps:
//	  - op: create            # create|update|set_default|delete|repair|concurrent
//	    as: A
//	    kind: address
//	    fields: { street: "Rua X", ... }
//	  - op: set_default
//	    ref: A
//	  - op: delete
//	    ref: A
//	    expect_error: CANNOT_DELETE_DEFAULT
//	  - op: concurrent
//	    steps:
//	      - { op: set_default, ref: B }
//	      - { op: set_default, ref: C }
//	assertions:
//	  - { type: list_order, kind: address, refs: [B, A] }
//	  - { type: default, kind: address, ref: B }
//
// # Assertion Types
//
//   - list_order: List returns exactly these refs in this order
//   - default: the partition has exactly one default, the given ref
//   - default_one_of: exactly one default, any of refs
//   - default_count: number of defaults equals count
//   - record_count: number of records equals count
//
// # Deterministic Testing
//
// Record ids come from testutil.SequentialIDGenerator ("rec-0001", ...) and
// timestamps from testutil.DeterministicClock, so sequential scenarios give
// byte-identical snapshots for golden comparison.
package harness
