// Package enforcer maintains the at-most-one-default invariant of every
// (owner, kind) partition.
//
// Every write that can touch a default flag goes through Apply:
//
//  1. List the partition (records plus revision)
//  2. Let a Plan turn that snapshot into a batch, starting with a Guard on the
//     revision it read
//  3. Submit the batch to the store as one atomic unit
//  4. On ErrCommitConflict or ErrUnavailable, back off with jitter, re-read and
//     try again, up to MaxAttempts
//
// Promote, Insert and Repair are the plans that move the flag. Sibling
// clearing and target setting always land in the same batch, so a failed
// commit leaves the previous state untouched.
//
// Concurrency: under PolicyLastWriterWins there are no locks; two concurrent
// promotions both succeed in turn and the later commit wins. PolicyOwnerLock
// adds a Locker around each Apply for deployments that prefer serialization.
package enforcer
