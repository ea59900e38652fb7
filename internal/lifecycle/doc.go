// Package lifecycle is the public face of the wallet: it authenticates the
// caller, validates payloads, and routes every write through the enforcer.
//
// Operations:
//
//   - List, Get, GetDefault: reads, default record first
//   - Create: validates and inserts; the first record of a partition is promoted
//   - Update: merges partial fields; IsDefault=true promotes in the same batch
//   - SetDefault: promotion only, idempotent
//   - Delete: refuses the current default
//   - Repair, RepairAll: maintenance for partitions damaged outside the enforcer
//
// Every call expects a SecurityContext in ctx whose OwnerID matches the owner
// being addressed.
package lifecycle
