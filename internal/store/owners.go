package store

import (
	"context"
	"sort"

	"go.etcd.io/bbolt"
)

// OwnerLister is implemented by backends that can enumerate the owners they hold.
// Maintenance passes use it to visit every partition.
type OwnerLister interface {
	ListOwners(ctx context.Context) ([]string, error)
}

var (
	_ OwnerLister = (*Store)(nil)
	_ OwnerLister = (*BoltStore)(nil)
	_ OwnerLister = (*MemoryStore)(nil)
)

// ListOwners returns the distinct owners with at least one record, sorted.
func (s *Store) ListOwners(ctx context.Context) ([]string, error) {
	if err := s.available("list owners"); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT owner_id FROM records ORDER BY owner_id ASC`)
	if err != nil {
		return nil, classify("list owners", err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, classify("list owners: scan", err)
		}
		owners = append(owners, owner)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list owners: rows", err)
	}
	return owners, nil
}

// ListOwners returns the owners that have a bucket, sorted.
func (s *BoltStore) ListOwners(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("list owners", err)
	}
	var owners []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketOwners).ForEach(func(k, v []byte) error {
			if v == nil {
				owners = append(owners, string(k))
			}
			return nil
		})
	})
	if err != nil {
		return nil, classifyBolt("list owners", err)
	}
	return owners, nil
}

// ListOwners returns the distinct owners with at least one record, sorted.
func (m *MemoryStore) ListOwners(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.readFault("list owners"); err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var owners []string
	for key := range m.records {
		if !seen[key.ownerID] {
			seen[key.ownerID] = true
			owners = append(owners, key.ownerID)
		}
	}
	sort.Strings(owners)
	return owners, nil
}
