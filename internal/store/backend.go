package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/wallet/internal/resource"
)

var (
	// ErrNotFound is returned by Get when no record matches.
	ErrNotFound = errors.New("store: record not found")

	// ErrCommitConflict is returned by BatchWrite when a precondition fails.
	ErrCommitConflict = errors.New("store: commit conflict")

	// ErrUnavailable wraps transient failures (busy database, closed store,
	// deadline exceeded). Callers may retry.
	ErrUnavailable = errors.New("store: unavailable")
)

const (
	// VersionAny skips the version precondition of an Upsert or Delete.
	VersionAny int64 = -1

	// VersionAbsent requires that the record does not exist yet.
	VersionAbsent int64 = 0
)

// Backend is the storage contract consumed by the enforcer and lifecycle layers.
type Backend interface {
	Get(ctx context.Context, ownerID, id string) (resource.Record, error)
	List(ctx context.Context, ownerID string, kind resource.Kind) (Partition, error)
	BatchWrite(ctx context.Context, ops []Op) error
	Close() error
}

// Partition is a snapshot of one (owner, kind) partition.
// Records are unordered; ordering is the caller's job.
type Partition struct {
	OwnerID  string
	Kind     resource.Kind
	Records  []resource.Record
	Revision int64
}

// OpType selects what an Op does.
type OpType int

const (
	OpUpsert OpType = iota + 1
	OpDelete
	OpGuard
)

func (t OpType) String() string {
	switch t {
	case OpUpsert:
		return "upsert"
	case OpDelete:
		return "delete"
	case OpGuard:
		return "guard"
	}
	return fmt.Sprintf("op(%d)", int(t))
}

// Op is one mutation (or precondition) inside a batch.
type Op struct {
	Type OpType

	// Record is the full document written by OpUpsert. Its Version is ignored;
	// the store assigns the next one.
	Record resource.Record

	// OwnerID, Kind and ID address the record for OpDelete and the partition for OpGuard.
	OwnerID string
	Kind    resource.Kind
	ID      string

	// IfVersion is the expected current version for OpUpsert/OpDelete
	// (VersionAny, VersionAbsent or an exact version).
	IfVersion int64

	// Revision is the expected partition revision for OpGuard.
	Revision int64
}

// Upsert writes rec if its current version equals ifVersion.
func Upsert(rec resource.Record, ifVersion int64) Op {
	return Op{Type: OpUpsert, Record: rec, OwnerID: rec.OwnerID, Kind: rec.Kind, ID: rec.ID, IfVersion: ifVersion}
}

// Delete removes a record if its current version equals ifVersion.
func Delete(ownerID string, kind resource.Kind, id string, ifVersion int64) Op {
	return Op{Type: OpDelete, OwnerID: ownerID, Kind: kind, ID: id, IfVersion: ifVersion}
}

// Guard asserts that the partition revision has not moved since it was read.
func Guard(ownerID string, kind resource.Kind, revision int64) Op {
	return Op{Type: OpGuard, OwnerID: ownerID, Kind: kind, Revision: revision}
}

// NextVersion is the version a record holds after a successful write that expected ifVersion.
func NextVersion(ifVersion int64) int64 {
	if ifVersion < 0 {
		return 0
	}
	return ifVersion + 1
}

func (o Op) partition() resource.PartitionKey {
	return resource.PartitionKey{OwnerID: o.OwnerID, Kind: o.Kind}
}

// validateOps rejects malformed batches before any backend work.
func validateOps(ops []Op) error {
	if len(ops) == 0 {
		return fmt.Errorf("batch write: empty batch")
	}
	for i, op := range ops {
		if op.OwnerID == "" {
			return fmt.Errorf("batch write: op %d (%s): owner is required", i, op.Type)
		}
		if !op.Kind.IsValid() {
			return fmt.Errorf("batch write: op %d (%s): invalid kind %q", i, op.Type, op.Kind)
		}
		switch op.Type {
		case OpUpsert:
			if op.Record.ID == "" {
				return fmt.Errorf("batch write: op %d (upsert): record id is required", i)
			}
			if op.Record.Fields == nil || op.Record.Fields.Kind() != op.Record.Kind {
				return fmt.Errorf("batch write: op %d (upsert): fields do not match kind %q", i, op.Record.Kind)
			}
		case OpDelete:
			if op.ID == "" {
				return fmt.Errorf("batch write: op %d (delete): id is required", i)
			}
		case OpGuard:
		default:
			return fmt.Errorf("batch write: op %d: unknown op type %d", i, op.Type)
		}
	}
	return nil
}

// txReader is the read side a backend exposes inside its write transaction.
type txReader interface {
	// recordVersion returns the current version, or 0 if the record is absent.
	recordVersion(ownerID, id string) (int64, error)
	partitionRevision(ownerID string, kind resource.Kind) (int64, error)
}

// checkPreconditions evaluates every guard and version expectation of a batch
// against the transaction's view. Nothing is written.
func checkPreconditions(r txReader, ops []Op) error {
	for i, op := range ops {
		switch op.Type {
		case OpGuard:
			rev, err := r.partitionRevision(op.OwnerID, op.Kind)
			if err != nil {
				return err
			}
			if rev != op.Revision {
				return fmt.Errorf("%w: op %d: partition %s at revision %d, expected %d",
					ErrCommitConflict, i, op.partition(), rev, op.Revision)
			}
		case OpUpsert, OpDelete:
			if op.IfVersion == VersionAny {
				continue
			}
			v, err := r.recordVersion(op.OwnerID, op.ID)
			if err != nil {
				return err
			}
			if v != op.IfVersion {
				return fmt.Errorf("%w: op %d: record %s at version %d, expected %d",
					ErrCommitConflict, i, op.ID, v, op.IfVersion)
			}
		}
	}
	return nil
}

// touchedPartitions lists the partitions a batch mutates, in first-seen order.
func touchedPartitions(ops []Op) []resource.PartitionKey {
	seen := make(map[resource.PartitionKey]bool)
	var out []resource.PartitionKey
	for _, op := range ops {
		if op.Type == OpGuard {
			continue
		}
		p := op.partition()
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}
