package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/wallet/internal/resource"
)

type memKey struct {
	ownerID string
	id      string
}

// MemoryStore implements Backend in process memory.
// It supports fault injection so callers can exercise retry paths.
type MemoryStore struct {
	mu        sync.Mutex
	records   map[memKey]resource.Record
	revisions map[resource.PartitionKey]int64
	closed    bool

	writeFaults  []error
	readFaults   []error
	beforeCommit func(ops []Op)
}

var _ Backend = (*MemoryStore)(nil)

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithBeforeCommit installs a hook that runs at the start of every BatchWrite,
// before the store lock is taken. Tests use it to interleave a competing write.
func WithBeforeCommit(fn func(ops []Op)) MemoryOption {
	return func(m *MemoryStore) { m.beforeCommit = fn }
}

// NewMemory creates an empty in-memory store.
func NewMemory(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		records:   make(map[memKey]resource.Record),
		revisions: make(map[resource.PartitionKey]int64),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FailNextWrites makes the next len(errs) BatchWrite calls return errs in order
// without touching state.
func (m *MemoryStore) FailNextWrites(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeFaults = append(m.writeFaults, errs...)
}

// FailNextReads does the same for Get and List.
func (m *MemoryStore) FailNextReads(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readFaults = append(m.readFaults, errs...)
}

// Seed stores records as-is, bypassing preconditions. Versions default to 1.
// Used to load fixtures, including partitions that break the default invariant.
func (m *MemoryStore) Seed(records ...resource.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range records {
		if rec.Version <= 0 {
			rec.Version = 1
		}
		m.records[memKey{rec.OwnerID, rec.ID}] = rec
		m.revisions[rec.Partition()]++
	}
}

// Snapshot returns every stored record sorted by owner and id.
func (m *MemoryStore) Snapshot() []resource.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]resource.Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OwnerID != out[j].OwnerID {
			return out[i].OwnerID < out[j].OwnerID
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *MemoryStore) readFault(op string) error {
	if m.closed {
		return unavailable(op, errors.New("store is closed"))
	}
	if len(m.readFaults) > 0 {
		err := m.readFaults[0]
		m.readFaults = m.readFaults[1:]
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Get returns one record of an owner.
func (m *MemoryStore) Get(ctx context.Context, ownerID, id string) (resource.Record, error) {
	if err := ctx.Err(); err != nil {
		return resource.Record{}, unavailable("get", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.readFault("get"); err != nil {
		return resource.Record{}, err
	}
	rec, ok := m.records[memKey{ownerID, id}]
	if !ok {
		return resource.Record{}, fmt.Errorf("get %s/%s: %w", ownerID, id, ErrNotFound)
	}
	return rec, nil
}

// List returns every record of a partition and its revision.
func (m *MemoryStore) List(ctx context.Context, ownerID string, kind resource.Kind) (Partition, error) {
	if err := ctx.Err(); err != nil {
		return Partition{}, unavailable("list", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.readFault("list"); err != nil {
		return Partition{}, err
	}
	p := Partition{
		OwnerID:  ownerID,
		Kind:     kind,
		Revision: m.revisions[resource.PartitionKey{OwnerID: ownerID, Kind: kind}],
	}
	for key, rec := range m.records {
		if key.ownerID == ownerID && rec.Kind == kind {
			p.Records = append(p.Records, rec)
		}
	}
	sort.Slice(p.Records, func(i, j int) bool { return p.Records[i].ID < p.Records[j].ID })
	return p, nil
}

type memTxReader struct{ m *MemoryStore }

func (r memTxReader) recordVersion(ownerID, id string) (int64, error) {
	return r.m.records[memKey{ownerID, id}].Version, nil
}

func (r memTxReader) partitionRevision(ownerID string, kind resource.Kind) (int64, error) {
	return r.m.revisions[resource.PartitionKey{OwnerID: ownerID, Kind: kind}], nil
}

// BatchWrite applies ops atomically under the store lock.
func (m *MemoryStore) BatchWrite(ctx context.Context, ops []Op) error {
	if err := validateOps(ops); err != nil {
		return err
	}
	if m.beforeCommit != nil {
		m.beforeCommit(ops)
	}
	if err := ctx.Err(); err != nil {
		return unavailable("batch write", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return unavailable("batch write", errors.New("store is closed"))
	}
	if len(m.writeFaults) > 0 {
		err := m.writeFaults[0]
		m.writeFaults = m.writeFaults[1:]
		return fmt.Errorf("batch write: %w", err)
	}

	if err := checkPreconditions(memTxReader{m}, ops); err != nil {
		return fmt.Errorf("batch write: %w", err)
	}

	for _, op := range ops {
		key := memKey{op.OwnerID, op.ID}
		switch op.Type {
		case OpUpsert:
			rec := op.Record
			rec.Version = m.records[key].Version + 1
			m.records[key] = rec
		case OpDelete:
			delete(m.records, key)
		}
	}
	for _, p := range touchedPartitions(ops) {
		m.revisions[p]++
	}
	return nil
}

// Close marks the store closed; later calls fail with ErrUnavailable.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
