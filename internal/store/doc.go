// Package store provides durable, owner-partitioned storage for wallet records.
//
// Every backend offers the same three primitives:
//   - Get: one record by (owner, id)
//   - List: every record of an (owner, kind) partition plus its revision
//   - BatchWrite: upserts, deletes and partition guards applied all-or-nothing
//
// # Optimistic Concurrency
//
// Records carry a Version and partitions a Revision. Both grow by one on every
// write that touches them. Upsert and Delete ops name the version they expect,
// Guard ops name the partition revision they read. All preconditions are
// checked before any op applies; a single mismatch rejects the whole batch
// with ErrCommitConflict.
//
// The store knows nothing about default flags. Callers build batches that
// keep their own invariants and rely on the guards to detect interleaving.
//
// # Backends
//
//   - Store (SQLite, WAL mode): the default, durable backend
//   - BoltStore (bbolt + msgpack): embedded single-file backend
//   - MemoryStore: in-process backend with fault injection for tests
package store
