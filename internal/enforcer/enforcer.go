package enforcer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/wallet/internal/resource"
	"github.com/roach88/wallet/internal/store"
)

// DefaultMaxAttempts bounds commit attempts per operation.
const DefaultMaxAttempts = 3

// Plan builds the batch for one attempt from a fresh partition snapshot.
// Returning no ops ends the operation successfully without a write.
// Errors returned by a Plan are surfaced as-is and never retried.
type Plan func(p store.Partition) ([]store.Op, error)

// Enforcer runs partition writes with optimistic retries.
type Enforcer struct {
	store       store.Backend
	maxAttempts int
	backoff     *Backoff
	policy      Policy
	locker      Locker
	logger      *slog.Logger
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

// Option configures an Enforcer.
type Option func(*Enforcer)

// WithMaxAttempts sets the attempt budget for conflicts and transient failures.
func WithMaxAttempts(n int) Option {
	return func(e *Enforcer) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithBackoff sets the delay schedule between attempts.
func WithBackoff(b *Backoff) Option {
	return func(e *Enforcer) {
		if b != nil {
			e.backoff = b
		}
	}
}

// WithPolicy selects the concurrency policy. PolicyOwnerLock requires a Locker;
// a nil locker falls back to a process-local one.
func WithPolicy(p Policy, locker Locker) Option {
	return func(e *Enforcer) {
		e.policy = p
		e.locker = locker
		if p == PolicyOwnerLock && locker == nil {
			e.locker = NewLocalLocker()
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Enforcer) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the time source used for UpdatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(e *Enforcer) {
		if now != nil {
			e.now = now
		}
	}
}

// WithSleep overrides how the enforcer waits between attempts (useful in tests).
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Enforcer) {
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

// New creates an Enforcer over st.
func New(st store.Backend, opts ...Option) *Enforcer {
	e := &Enforcer{
		store:       st,
		maxAttempts: DefaultMaxAttempts,
		backoff:     NewBackoff(20*time.Millisecond, 500*time.Millisecond, 0.5),
		policy:      PolicyLastWriterWins,
		logger:      slog.Default(),
		now:         func() time.Time { return time.Now().UTC() },
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the configured concurrency policy.
func (e *Enforcer) Policy() Policy {
	return e.policy
}

// Now returns the enforcer's current time.
func (e *Enforcer) Now() time.Time {
	return e.now()
}

// Apply runs plan against the partition until a batch commits, the plan fails,
// or the attempt budget is spent.
func (e *Enforcer) Apply(ctx context.Context, ownerID string, kind resource.Kind, plan Plan) error {
	part := resource.PartitionKey{OwnerID: ownerID, Kind: kind}

	if e.policy == PolicyOwnerLock {
		release, err := e.locker.Lock(ctx, lockKey(part))
		if err != nil {
			return resource.NewUnavailableError(ownerID, fmt.Errorf("lock partition %s: %w", part, err))
		}
		defer release()
	}

	var lastErr error
	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := e.backoff.ForAttempt(attempt - 1)
			e.logger.Debug("retrying partition write",
				"partition", part.String(),
				"attempt", attempt+1,
				"delay", delay,
				"cause", lastErr)
			if err := e.sleep(ctx, delay); err != nil {
				return resource.NewUnavailableError(ownerID, err)
			}
		}

		p, err := e.store.List(ctx, ownerID, kind)
		if err != nil {
			if errors.Is(err, store.ErrUnavailable) {
				lastErr = err
				continue
			}
			return resource.NewUnavailableError(ownerID, fmt.Errorf("read partition %s: %w", part, err))
		}

		ops, err := plan(p)
		if err != nil {
			return err
		}
		if len(ops) == 0 {
			return nil
		}

		err = e.store.BatchWrite(ctx, ops)
		if err == nil {
			return nil
		}
		if errors.Is(err, store.ErrCommitConflict) || errors.Is(err, store.ErrUnavailable) {
			lastErr = err
			continue
		}
		return resource.NewUnavailableError(ownerID, fmt.Errorf("write partition %s: %w", part, err))
	}

	return e.exhausted(part, lastErr)
}

func (e *Enforcer) exhausted(part resource.PartitionKey, lastErr error) error {
	e.logger.Warn("partition write gave up",
		"partition", part.String(),
		"attempts", e.maxAttempts,
		"error", lastErr)
	if errors.Is(lastErr, store.ErrCommitConflict) {
		return resource.NewConflictError(part.OwnerID, e.maxAttempts, lastErr)
	}
	return resource.NewUnavailableError(part.OwnerID, lastErr)
}

// read retries fn while the store reports ErrUnavailable.
func (e *Enforcer) read(ctx context.Context, ownerID string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, e.backoff.ForAttempt(attempt-1)); err != nil {
				return resource.NewUnavailableError(ownerID, err)
			}
		}
		err := fn()
		if err == nil || errors.Is(err, store.ErrNotFound) {
			return err
		}
		if !errors.Is(err, store.ErrUnavailable) {
			// Permanent store failures are surfaced at once, still typed.
			return resource.NewUnavailableError(ownerID, err)
		}
		lastErr = err
	}
	return resource.NewUnavailableError(ownerID, lastErr)
}

// Snapshot reads a partition, retrying transient failures.
func (e *Enforcer) Snapshot(ctx context.Context, ownerID string, kind resource.Kind) (store.Partition, error) {
	var p store.Partition
	err := e.read(ctx, ownerID, func() error {
		var err error
		p, err = e.store.List(ctx, ownerID, kind)
		return err
	})
	return p, err
}

// Lookup reads one record, retrying transient failures.
// A missing record is reported as a not-found error.
func (e *Enforcer) Lookup(ctx context.Context, ownerID, id string) (resource.Record, error) {
	var rec resource.Record
	err := e.read(ctx, ownerID, func() error {
		var err error
		rec, err = e.store.Get(ctx, ownerID, id)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return resource.Record{}, resource.NewNotFoundError(ownerID, id)
	}
	return rec, err
}

// Mutator transforms the target record inside a promotion batch.
type Mutator func(rec resource.Record) (resource.Record, error)

// clearOthers returns upserts that unset every default in p except keepID.
func clearOthers(p store.Partition, keepID string, now time.Time) []store.Op {
	var ops []store.Op
	for _, sib := range p.Records {
		if sib.ID == keepID || !sib.IsDefault {
			continue
		}
		cleared := sib
		cleared.IsDefault = false
		cleared.UpdatedAt = now
		ops = append(ops, store.Upsert(cleared, sib.Version))
	}
	return ops
}

// Promote makes id the partition's only default. mutate, when non-nil, is
// applied to the target in the same batch. Promoting the current sole default
// without a mutation writes nothing.
func (e *Enforcer) Promote(ctx context.Context, ownerID string, kind resource.Kind, id string, mutate Mutator) (resource.Record, error) {
	var result resource.Record
	err := e.Apply(ctx, ownerID, kind, func(p store.Partition) ([]store.Op, error) {
		target, ok := resource.FindByID(p.Records, id)
		if !ok {
			return nil, resource.NewNotFoundError(ownerID, id)
		}

		now := e.now()
		clears := clearOthers(p, id, now)
		if target.IsDefault && len(clears) == 0 && mutate == nil {
			result = target
			return nil, nil
		}

		rec := target
		if mutate != nil {
			var err error
			if rec, err = mutate(rec); err != nil {
				return nil, err
			}
		}
		rec.IsDefault = true
		rec.UpdatedAt = now

		ops := append([]store.Op{store.Guard(ownerID, kind, p.Revision)}, clears...)
		ops = append(ops, store.Upsert(rec, target.Version))

		rec.Version = store.NextVersion(target.Version)
		result = rec
		return ops, nil
	})
	return result, err
}

// Insert stores a new record. It becomes the default when requested or when
// the partition is empty at commit time; in both cases siblings are cleared
// in the same batch.
func (e *Enforcer) Insert(ctx context.Context, rec resource.Record, requestDefault bool) (resource.Record, error) {
	var result resource.Record
	err := e.Apply(ctx, rec.OwnerID, rec.Kind, func(p store.Partition) ([]store.Op, error) {
		if _, exists := resource.FindByID(p.Records, rec.ID); exists {
			return nil, &resource.Error{Code: resource.CodeConflict, Message: "record id already exists", OwnerID: rec.OwnerID, ID: rec.ID}
		}

		r := rec
		r.IsDefault = requestDefault || len(p.Records) == 0

		ops := []store.Op{store.Guard(rec.OwnerID, rec.Kind, p.Revision)}
		if r.IsDefault {
			ops = append(ops, clearOthers(p, r.ID, e.now())...)
		}
		ops = append(ops, store.Upsert(r, store.VersionAbsent))

		r.Version = store.NextVersion(store.VersionAbsent)
		result = r
		return ops, nil
	})
	return result, err
}

// RepairReport describes what Repair changed in one partition.
type RepairReport struct {
	OwnerID  string        `json:"ownerId"`
	Kind     resource.Kind `json:"kind"`
	Kept     string        `json:"kept,omitempty"`
	Cleared  []string      `json:"cleared,omitempty"`
	Promoted string        `json:"promoted,omitempty"`
}

// Changed reports whether the repair wrote anything.
func (r RepairReport) Changed() bool {
	return len(r.Cleared) > 0 || r.Promoted != ""
}

// Repair restores a damaged partition: with several defaults it keeps the most
// recently updated one; with records but no default it promotes the newest.
func (e *Enforcer) Repair(ctx context.Context, ownerID string, kind resource.Kind) (RepairReport, error) {
	var report RepairReport
	err := e.Apply(ctx, ownerID, kind, func(p store.Partition) ([]store.Op, error) {
		report = RepairReport{OwnerID: ownerID, Kind: kind}
		defaults := resource.Defaults(p.Records)

		switch {
		case len(defaults) == 1:
			report.Kept = defaults[0].ID
			return nil, nil
		case len(defaults) > 1:
			keep, _ := resource.DefaultOf(p.Records)
			report.Kept = keep.ID
			ops := []store.Op{store.Guard(ownerID, kind, p.Revision)}
			for _, op := range clearOthers(p, keep.ID, e.now()) {
				report.Cleared = append(report.Cleared, op.ID)
				ops = append(ops, op)
			}
			return ops, nil
		case len(p.Records) > 0:
			newest, _ := resource.Newest(p.Records)
			promoted := newest
			promoted.IsDefault = true
			promoted.UpdatedAt = e.now()
			report.Kept = newest.ID
			report.Promoted = newest.ID
			return []store.Op{
				store.Guard(ownerID, kind, p.Revision),
				store.Upsert(promoted, newest.Version),
			}, nil
		}
		return nil, nil
	})
	return report, err
}
