package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"

	"github.com/roach88/wallet/internal/resource"
)

// Bucket layout:
//
//	owners/<ownerID>/<kind>/<id>  -> msgpack(boltRecord)
//	owners/<ownerID>  "rev:<kind>" -> big-endian uint64 partition revision
var bucketOwners = []byte("owners")

const revKeyPrefix = "rev:"

type boltRecord struct {
	ID        string            `msgpack:"id"`
	OwnerID   string            `msgpack:"owner"`
	Kind      string            `msgpack:"kind"`
	Fields    map[string]string `msgpack:"fields"`
	IsDefault bool              `msgpack:"default"`
	CreatedAt int64             `msgpack:"created"`
	UpdatedAt int64             `msgpack:"updated"`
	Version   int64             `msgpack:"v"`
}

func toBoltRecord(rec resource.Record) boltRecord {
	return boltRecord{
		ID:        rec.ID,
		OwnerID:   rec.OwnerID,
		Kind:      string(rec.Kind),
		Fields:    rec.Fields.Map(),
		IsDefault: rec.IsDefault,
		CreatedAt: encodeTime(rec.CreatedAt),
		UpdatedAt: encodeTime(rec.UpdatedAt),
		Version:   rec.Version,
	}
}

func (b boltRecord) record() (resource.Record, error) {
	kind := resource.Kind(b.Kind)
	f, err := resource.FieldsFromMap(kind, b.Fields)
	if err != nil {
		return resource.Record{}, err
	}
	return resource.Record{
		ID:        b.ID,
		OwnerID:   b.OwnerID,
		Kind:      kind,
		Fields:    f,
		IsDefault: b.IsDefault,
		CreatedAt: decodeTime(b.CreatedAt),
		UpdatedAt: decodeTime(b.UpdatedAt),
		Version:   b.Version,
	}, nil
}

// BoltStore is the embedded bbolt backend. One Update transaction per batch.
type BoltStore struct {
	db *bbolt.DB
}

var _ Backend = (*BoltStore)(nil)

// OpenBolt creates or opens a bbolt database file. timeout bounds the wait
// for the file lock held by another process.
func OpenBolt(path string, timeout time.Duration) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketOwners)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close closes the database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func classifyBolt(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCommitConflict) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnavailable) {
		return err
	}
	if errors.Is(err, bbolt.ErrDatabaseNotOpen) || errors.Is(err, bbolt.ErrTimeout) {
		return unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func ownerBucket(tx *bbolt.Tx, ownerID string) *bbolt.Bucket {
	return tx.Bucket(bucketOwners).Bucket([]byte(ownerID))
}

func kindBucket(tx *bbolt.Tx, ownerID string, kind resource.Kind) *bbolt.Bucket {
	ob := ownerBucket(tx, ownerID)
	if ob == nil {
		return nil
	}
	return ob.Bucket([]byte(kind))
}

func readBoltRecord(data []byte) (resource.Record, error) {
	var br boltRecord
	if err := msgpack.Unmarshal(data, &br); err != nil {
		return resource.Record{}, fmt.Errorf("decode record: %w", err)
	}
	return br.record()
}

// Get returns one record of an owner. Kinds are tried in order.
func (s *BoltStore) Get(ctx context.Context, ownerID, id string) (resource.Record, error) {
	if err := ctx.Err(); err != nil {
		return resource.Record{}, unavailable("get", err)
	}
	var (
		rec   resource.Record
		found bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		for _, kind := range resource.Kinds {
			kb := kindBucket(tx, ownerID, kind)
			if kb == nil {
				continue
			}
			if data := kb.Get([]byte(id)); data != nil {
				r, err := readBoltRecord(data)
				if err != nil {
					return err
				}
				rec, found = r, true
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return resource.Record{}, classifyBolt("get", err)
	}
	if !found {
		return resource.Record{}, fmt.Errorf("get %s/%s: %w", ownerID, id, ErrNotFound)
	}
	return rec, nil
}

// List returns every record of a partition and its revision from one read transaction.
func (s *BoltStore) List(ctx context.Context, ownerID string, kind resource.Kind) (Partition, error) {
	if err := ctx.Err(); err != nil {
		return Partition{}, unavailable("list", err)
	}
	p := Partition{OwnerID: ownerID, Kind: kind}
	err := s.db.View(func(tx *bbolt.Tx) error {
		p.Revision = boltRevision(ownerBucket(tx, ownerID), kind)
		kb := kindBucket(tx, ownerID, kind)
		if kb == nil {
			return nil
		}
		return kb.ForEach(func(_, v []byte) error {
			rec, err := readBoltRecord(v)
			if err != nil {
				return err
			}
			p.Records = append(p.Records, rec)
			return nil
		})
	})
	if err != nil {
		return Partition{}, classifyBolt("list", err)
	}
	sort.Slice(p.Records, func(i, j int) bool { return p.Records[i].ID < p.Records[j].ID })
	return p, nil
}

func boltRevision(ob *bbolt.Bucket, kind resource.Kind) int64 {
	if ob == nil {
		return 0
	}
	data := ob.Get([]byte(revKeyPrefix + string(kind)))
	if len(data) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(data))
}

type boltTxReader struct{ tx *bbolt.Tx }

func (r boltTxReader) recordVersion(ownerID, id string) (int64, error) {
	for _, kind := range resource.Kinds {
		kb := kindBucket(r.tx, ownerID, kind)
		if kb == nil {
			continue
		}
		if data := kb.Get([]byte(id)); data != nil {
			rec, err := readBoltRecord(data)
			if err != nil {
				return 0, err
			}
			return rec.Version, nil
		}
	}
	return 0, nil
}

func (r boltTxReader) partitionRevision(ownerID string, kind resource.Kind) (int64, error) {
	return boltRevision(ownerBucket(r.tx, ownerID), kind), nil
}

// BatchWrite applies ops inside one bbolt Update transaction.
// Returning an error from the closure rolls everything back.
func (s *BoltStore) BatchWrite(ctx context.Context, ops []Op) error {
	if err := validateOps(ops); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return unavailable("batch write", err)
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		r := boltTxReader{tx: tx}
		if err := checkPreconditions(r, ops); err != nil {
			return err
		}

		for i, op := range ops {
			switch op.Type {
			case OpUpsert:
				current, err := r.recordVersion(op.OwnerID, op.ID)
				if err != nil {
					return err
				}
				br := toBoltRecord(op.Record)
				br.Version = current + 1
				data, err := msgpack.Marshal(br)
				if err != nil {
					return fmt.Errorf("op %d: encode record: %w", i, err)
				}
				kb, err := createKindBucket(tx, op.OwnerID, op.Kind)
				if err != nil {
					return err
				}
				if err := kb.Put([]byte(op.ID), data); err != nil {
					return err
				}
			case OpDelete:
				if kb := kindBucket(tx, op.OwnerID, op.Kind); kb != nil {
					if err := kb.Delete([]byte(op.ID)); err != nil {
						return err
					}
				}
			}
		}

		for _, p := range touchedPartitions(ops) {
			ob, err := tx.Bucket(bucketOwners).CreateBucketIfNotExists([]byte(p.OwnerID))
			if err != nil {
				return err
			}
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], uint64(boltRevision(ob, p.Kind)+1))
			if err := ob.Put([]byte(revKeyPrefix+string(p.Kind)), buf[:]); err != nil {
				return err
			}
		}
		return nil
	})
	return classifyBolt("batch write", err)
}

func createKindBucket(tx *bbolt.Tx, ownerID string, kind resource.Kind) (*bbolt.Bucket, error) {
	ob, err := tx.Bucket(bucketOwners).CreateBucketIfNotExists([]byte(ownerID))
	if err != nil {
		return nil, err
	}
	return ob.CreateBucketIfNotExists([]byte(kind))
}
