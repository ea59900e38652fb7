// Package resource defines the saved-record model shared by every wallet layer.
//
// A Record is a common envelope (id, owner, default flag, timestamps, version)
// around kind-specific Fields. Two kinds exist:
//   - Address: postal address used by checkout and delivery
//   - PaymentInstrument: tokenized card reference (never raw card data)
//
// # Partitions
//
// Records are partitioned by (OwnerID, Kind). Within a partition at most one
// record carries IsDefault=true. This package only describes that invariant;
// internal/enforcer maintains it and internal/lifecycle exposes the operations.
//
// # Validation
//
// Field rules live in schema.cue and are applied by Validator after the input
// has been normalized (NFC, trimmed, postal code reduced to digits). Payloads
// that carry card numbers or security codes are rejected before any schema
// check runs.
package resource
