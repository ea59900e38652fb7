package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/wallet/internal/resource"
)

const recordColumns = `owner_id, id, kind, fields, is_default, created_at, updated_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (resource.Record, error) {
	var (
		rec                  resource.Record
		kind, fields         string
		isDefault            int
		createdAt, updatedAt int64
	)
	if err := row.Scan(&rec.OwnerID, &rec.ID, &kind, &fields, &isDefault, &createdAt, &updatedAt, &rec.Version); err != nil {
		return resource.Record{}, err
	}
	rec.Kind = resource.Kind(kind)
	f, err := unmarshalFields(rec.Kind, fields)
	if err != nil {
		return resource.Record{}, fmt.Errorf("record %s: %w", rec.ID, err)
	}
	rec.Fields = f
	rec.IsDefault = isDefault == 1
	rec.CreatedAt = decodeTime(createdAt)
	rec.UpdatedAt = decodeTime(updatedAt)
	return rec, nil
}

// Get returns one record of an owner. Returns ErrNotFound if absent.
func (s *Store) Get(ctx context.Context, ownerID, id string) (resource.Record, error) {
	if err := s.available("get"); err != nil {
		return resource.Record{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM records
		WHERE owner_id = ? AND id = ?
	`, ownerID, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return resource.Record{}, fmt.Errorf("get %s/%s: %w", ownerID, id, ErrNotFound)
	}
	if err != nil {
		return resource.Record{}, classify("get", err)
	}
	return rec, nil
}

// List returns every record of a partition together with its revision.
// Revision and records are read in one transaction so they agree.
func (s *Store) List(ctx context.Context, ownerID string, kind resource.Kind) (Partition, error) {
	if err := s.available("list"); err != nil {
		return Partition{}, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Partition{}, classify("list: begin tx", err)
	}
	defer tx.Rollback()

	p := Partition{OwnerID: ownerID, Kind: kind}
	p.Revision, err = sqlPartitionRevision(ctx, tx, ownerID, kind)
	if err != nil {
		return Partition{}, classify("list: revision", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM records
		WHERE owner_id = ? AND kind = ?
		ORDER BY id ASC
	`, ownerID, string(kind))
	if err != nil {
		return Partition{}, classify("list", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return Partition{}, classify("list: scan", err)
		}
		p.Records = append(p.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return Partition{}, classify("list: rows", err)
	}

	return p, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func sqlPartitionRevision(ctx context.Context, q querier, ownerID string, kind resource.Kind) (int64, error) {
	var rev int64
	err := q.QueryRowContext(ctx, `
		SELECT revision FROM partitions WHERE owner_id = ? AND kind = ?
	`, ownerID, string(kind)).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return rev, err
}
