package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/wallet/internal/resource"
)

// sqlTxReader exposes the precondition reads inside a write transaction.
type sqlTxReader struct {
	ctx context.Context
	tx  *sql.Tx
}

func (r sqlTxReader) recordVersion(ownerID, id string) (int64, error) {
	var v int64
	err := r.tx.QueryRowContext(r.ctx, `
		SELECT version FROM records WHERE owner_id = ? AND id = ?
	`, ownerID, id).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return v, err
}

func (r sqlTxReader) partitionRevision(ownerID string, kind resource.Kind) (int64, error) {
	return sqlPartitionRevision(r.ctx, r.tx, ownerID, kind)
}

// BatchWrite applies ops in a single transaction.
// Preconditions are checked first; any mismatch rolls back with ErrCommitConflict.
func (s *Store) BatchWrite(ctx context.Context, ops []Op) error {
	if err := validateOps(ops); err != nil {
		return err
	}
	if err := s.available("batch write"); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("batch write: begin tx", err)
	}
	defer tx.Rollback() // No-op if committed

	r := sqlTxReader{ctx: ctx, tx: tx}
	if err := checkPreconditions(r, ops); err != nil {
		return classify("batch write", err)
	}

	for i, op := range ops {
		switch op.Type {
		case OpUpsert:
			err = s.upsert(ctx, r, op)
		case OpDelete:
			_, err = tx.ExecContext(ctx, `
				DELETE FROM records WHERE owner_id = ? AND id = ?
			`, op.OwnerID, op.ID)
		}
		if err != nil {
			return classify(fmt.Sprintf("batch write: op %d (%s)", i, op.Type), err)
		}
	}

	for _, p := range touchedPartitions(ops) {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO partitions (owner_id, kind, revision)
			VALUES (?, ?, 1)
			ON CONFLICT(owner_id, kind) DO UPDATE SET revision = revision + 1
		`, p.OwnerID, string(p.Kind))
		if err != nil {
			return classify("batch write: bump revision", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return classify("batch write: commit", err)
	}
	return nil
}

func (s *Store) upsert(ctx context.Context, r sqlTxReader, op Op) error {
	rec := op.Record
	fields, err := marshalFields(rec.Fields)
	if err != nil {
		return err
	}

	current, err := r.recordVersion(rec.OwnerID, rec.ID)
	if err != nil {
		return err
	}

	_, err = r.tx.ExecContext(ctx, `
		INSERT INTO records
		(owner_id, id, kind, fields, is_default, created_at, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_id, id) DO UPDATE SET
			kind = excluded.kind,
			fields = excluded.fields,
			is_default = excluded.is_default,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			version = excluded.version
	`,
		rec.OwnerID,
		rec.ID,
		string(rec.Kind),
		fields,
		boolToInt(rec.IsDefault),
		encodeTime(rec.CreatedAt),
		encodeTime(rec.UpdatedAt),
		current+1,
	)
	return err
}
