package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/wallet/internal/enforcer"
	"github.com/roach88/wallet/internal/resource"
	"github.com/roach88/wallet/internal/store"
)

// Service implements the wallet operations on top of an Enforcer.
type Service struct {
	enf       *enforcer.Enforcer
	ids       IDGenerator
	validator *resource.Validator
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithIDGenerator overrides how new record ids are made.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Service) {
		if g != nil {
			s.ids = g
		}
	}
}

// WithClock overrides the time source for CreatedAt/UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithValidator overrides the payload validator.
func WithValidator(v *resource.Validator) Option {
	return func(s *Service) {
		if v != nil {
			s.validator = v
		}
	}
}

// New creates a Service. enf must wrap the store the service reads from.
func New(enf *enforcer.Enforcer, opts ...Option) *Service {
	s := &Service{
		enf:       enf,
		ids:       UUIDv7Generator{},
		validator: resource.DefaultValidator(),
		now:       func() time.Time { return time.Now().UTC() },
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateInput is the payload of Create.
type CreateInput struct {
	Kind      resource.Kind
	Fields    map[string]any
	IsDefault bool
}

// UpdateInput is the payload of Update. Fields holds a partial patch; a nil
// value removes an optional field. IsDefault may only be set to true.
type UpdateInput struct {
	Fields    map[string]any
	IsDefault *bool
}

// List returns the partition with the default record first and the rest by
// CreatedAt descending.
func (s *Service) List(ctx context.Context, ownerID string, kind resource.Kind) ([]resource.Record, error) {
	if err := authorize(ctx, ownerID); err != nil {
		return nil, err
	}
	if !kind.IsValid() {
		return nil, resource.NewValidationError("kind", "unknown resource kind "+string(kind))
	}
	p, err := s.enf.Snapshot(ctx, ownerID, kind)
	if err != nil {
		return nil, err
	}
	return resource.SortForDisplay(p.Records), nil
}

// Get returns one record of the owner.
func (s *Service) Get(ctx context.Context, ownerID, id string) (resource.Record, error) {
	if err := authorize(ctx, ownerID); err != nil {
		return resource.Record{}, err
	}
	return s.enf.Lookup(ctx, ownerID, id)
}

// GetDefault returns the partition's default record.
func (s *Service) GetDefault(ctx context.Context, ownerID string, kind resource.Kind) (resource.Record, error) {
	records, err := s.List(ctx, ownerID, kind)
	if err != nil {
		return resource.Record{}, err
	}
	// A damaged partition answers with the record Repair would keep.
	rec, ok := resource.DefaultOf(records)
	if !ok {
		return resource.Record{}, resource.NewNoDefaultError(ownerID, kind)
	}
	return rec, nil
}

// Create validates in and stores a new record. The record becomes the default
// when requested or when its partition is empty.
func (s *Service) Create(ctx context.Context, ownerID string, in CreateInput) (resource.Record, error) {
	if err := authorize(ctx, ownerID); err != nil {
		return resource.Record{}, err
	}
	fields, err := s.validator.Build(in.Kind, in.Fields)
	if err != nil {
		return resource.Record{}, err
	}

	now := s.now()
	rec, err := s.enf.Insert(ctx, resource.Record{
		ID:        s.ids.Generate(),
		OwnerID:   ownerID,
		Kind:      in.Kind,
		Fields:    fields,
		CreatedAt: now,
		UpdatedAt: now,
	}, in.IsDefault)
	if err != nil {
		return resource.Record{}, err
	}

	s.logger.Info("record created",
		"owner", ownerID,
		"kind", rec.Kind,
		"id", rec.ID,
		"default", rec.IsDefault)
	return rec, nil
}

// Update merges in into the record. With IsDefault=true the merge and the
// promotion commit as one batch.
func (s *Service) Update(ctx context.Context, ownerID, id string, in UpdateInput) (resource.Record, error) {
	if err := authorize(ctx, ownerID); err != nil {
		return resource.Record{}, err
	}
	if in.IsDefault != nil && !*in.IsDefault {
		return resource.Record{}, resource.NewValidationError("isDefault",
			"the default flag can only be moved by setting another record as default")
	}
	promote := in.IsDefault != nil
	if !promote && len(in.Fields) == 0 {
		return resource.Record{}, resource.NewValidationError("fields", "nothing to update")
	}

	current, err := s.enf.Lookup(ctx, ownerID, id)
	if err != nil {
		return resource.Record{}, err
	}

	var mutate enforcer.Mutator
	if len(in.Fields) > 0 {
		// Validate once up front so a bad patch never reaches the store.
		if _, err := s.validator.Merge(current.Fields, in.Fields); err != nil {
			return resource.Record{}, err
		}
		mutate = func(rec resource.Record) (resource.Record, error) {
			merged, err := s.validator.Merge(rec.Fields, in.Fields)
			if err != nil {
				return resource.Record{}, err
			}
			rec.Fields = merged
			rec.UpdatedAt = s.now()
			return rec, nil
		}
	}

	var rec resource.Record
	if promote {
		rec, err = s.enf.Promote(ctx, ownerID, current.Kind, id, mutate)
	} else {
		rec, err = s.patch(ctx, ownerID, current.Kind, id, mutate)
	}
	if err != nil {
		return resource.Record{}, err
	}

	s.logger.Info("record updated", "owner", ownerID, "kind", rec.Kind, "id", id, "default", rec.IsDefault)
	return rec, nil
}

// patch rewrites fields without touching the default flag.
func (s *Service) patch(ctx context.Context, ownerID string, kind resource.Kind, id string, mutate enforcer.Mutator) (resource.Record, error) {
	var result resource.Record
	err := s.enf.Apply(ctx, ownerID, kind, func(p store.Partition) ([]store.Op, error) {
		current, ok := resource.FindByID(p.Records, id)
		if !ok {
			return nil, resource.NewNotFoundError(ownerID, id)
		}
		rec, err := mutate(current)
		if err != nil {
			return nil, err
		}
		rec.IsDefault = current.IsDefault
		result = rec
		result.Version = store.NextVersion(current.Version)
		return []store.Op{store.Upsert(rec, current.Version)}, nil
	})
	return result, err
}

// SetDefault makes id the default of its partition. Calling it on the current
// sole default changes nothing.
func (s *Service) SetDefault(ctx context.Context, ownerID, id string) (resource.Record, error) {
	yes := true
	return s.Update(ctx, ownerID, id, UpdateInput{IsDefault: &yes})
}

// Delete removes a record that is not the current default.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	if err := authorize(ctx, ownerID); err != nil {
		return err
	}
	current, err := s.enf.Lookup(ctx, ownerID, id)
	if err != nil {
		return err
	}

	err = s.enf.Apply(ctx, ownerID, current.Kind, func(p store.Partition) ([]store.Op, error) {
		rec, ok := resource.FindByID(p.Records, id)
		if !ok {
			return nil, resource.NewNotFoundError(ownerID, id)
		}
		if rec.IsDefault {
			return nil, resource.NewCannotDeleteDefaultError(ownerID, id)
		}
		return []store.Op{store.Delete(ownerID, rec.Kind, id, rec.Version)}, nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("record deleted", "owner", ownerID, "kind", current.Kind, "id", id)
	return nil
}
