package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/roach88/wallet/internal/enforcer"
	"github.com/roach88/wallet/internal/lifecycle"
	"github.com/roach88/wallet/internal/resource"
	"github.com/roach88/wallet/internal/store"
	"github.com/roach88/wallet/internal/testutil"
)

// Run executes a scenario against a fresh in-memory SQLite store.
func Run(ctx context.Context, s *Scenario, opts ...enforcer.Option) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory store: %w", err)
	}
	defer st.Close()

	return RunOn(ctx, st, s, opts...)
}

// RunOn executes a scenario against st, which should be empty.
// Enforcer options are applied after the harness defaults.
func RunOn(ctx context.Context, st store.Backend, s *Scenario, opts ...enforcer.Option) (*Result, error) {
	clock := testutil.NewDeterministicClock(testutil.DefaultEpoch, 0)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	enfOpts := append([]enforcer.Option{
		enforcer.WithClock(clock.Now),
		enforcer.WithLogger(logger),
	}, opts...)
	enf := enforcer.New(st, enfOpts...)

	r := &runner{
		st:    st,
		clock: clock,
		ids:   testutil.NewSequentialIDGenerator(""),
		owner: s.Owner,
		refs:  make(map[string]string),
	}
	r.svc = lifecycle.New(enf,
		lifecycle.WithClock(clock.Now),
		lifecycle.WithIDGenerator(r.ids),
		lifecycle.WithLogger(logger),
	)
	r.ctx = lifecycle.WithSecurityContext(ctx, lifecycle.SecurityContext{OwnerID: s.Owner})

	if err := r.seed(s.Seed); err != nil {
		return nil, err
	}

	result := NewResult()
	for i, step := range s.Steps {
		if step.Op == OpConcurrent {
			r.runConcurrent(result, i, step.Steps)
			continue
		}
		ev, err := r.execute(step)
		r.record(result, fmt.Sprintf("step %d", i+1), step, ev, err)
	}

	if err := r.captureState(result); err != nil {
		return nil, err
	}

	for _, err := range evaluateAssertions(result.State, s.Assertions) {
		result.AddError(err.Error())
	}
	return result, nil
}

type runner struct {
	st    store.Backend
	svc   *lifecycle.Service
	clock *testutil.DeterministicClock
	ids   *testutil.SequentialIDGenerator
	ctx   context.Context
	owner string

	mu   sync.Mutex
	refs map[string]string
}

// seed writes fixtures straight to the store, bypassing the enforcer so a
// broken partition can be set up for repair scenarios.
func (r *runner) seed(seeds []SeedRecord) error {
	if len(seeds) == 0 {
		return nil
	}
	validator := resource.DefaultValidator()
	ops := make([]store.Op, 0, len(seeds))
	for i, seed := range seeds {
		kind, err := resource.ParseKind(seed.Kind)
		if err != nil {
			return fmt.Errorf("seed[%d]: %w", i, err)
		}
		fields, err := validator.Build(kind, seed.Fields)
		if err != nil {
			return fmt.Errorf("seed[%d]: %w", i, err)
		}
		now := r.clock.Now()
		rec := resource.Record{
			ID:        r.ids.Generate(),
			OwnerID:   r.owner,
			Kind:      kind,
			Fields:    fields,
			IsDefault: seed.Default,
			CreatedAt: now,
			UpdatedAt: now,
		}
		r.bind(seed.Ref, rec.ID)
		ops = append(ops, store.Upsert(rec, store.VersionAbsent))
	}
	if err := r.st.BatchWrite(r.ctx, ops); err != nil {
		return fmt.Errorf("failed to write seed records: %w", err)
	}
	return nil
}

func (r *runner) bind(ref, id string) {
	if ref == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs[ref] = id
}

// resolve maps a ref to its record id. Unbound refs are returned as-is so a
// scenario can target ids that never existed.
func (r *runner) resolve(ref string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.refs[ref]; ok {
		return id
	}
	return ref
}

func (r *runner) refOf(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ref, bound := range r.refs {
		if bound == id {
			return ref
		}
	}
	return ""
}

func (r *runner) execute(step Step) (TraceEvent, error) {
	ev := TraceEvent{Op: step.Op, Ref: step.Ref}

	switch step.Op {
	case OpCreate:
		ev.Ref = step.As
		kind, err := resource.ParseKind(step.Kind)
		if err != nil {
			return ev, err
		}
		rec, err := r.svc.Create(r.ctx, r.owner, lifecycle.CreateInput{
			Kind:      kind,
			Fields:    step.Fields,
			IsDefault: step.Default,
		})
		if err != nil {
			return ev, err
		}
		ev.ID = rec.ID
		r.bind(step.As, rec.ID)
		return ev, nil

	case OpUpdate:
		ev.ID = r.resolve(step.Ref)
		in := lifecycle.UpdateInput{Fields: step.Fields}
		if step.Default {
			promote := true
			in.IsDefault = &promote
		}
		_, err := r.svc.Update(r.ctx, r.owner, ev.ID, in)
		return ev, err

	case OpSetDefault:
		ev.ID = r.resolve(step.Ref)
		_, err := r.svc.SetDefault(r.ctx, r.owner, ev.ID)
		return ev, err

	case OpDelete:
		ev.ID = r.resolve(step.Ref)
		return ev, r.svc.Delete(r.ctx, r.owner, ev.ID)

	case OpRepair:
		kind, err := resource.ParseKind(step.Kind)
		if err != nil {
			return ev, err
		}
		_, err = r.svc.Repair(r.ctx, r.owner, kind)
		return ev, err
	}
	return ev, fmt.Errorf("unknown op %q", step.Op)
}

// runConcurrent starts every child at once and records them in declaration
// order once all have returned.
func (r *runner) runConcurrent(result *Result, index int, steps []Step) {
	events := make([]TraceEvent, len(steps))
	errs := make([]error, len(steps))

	start := make(chan struct{})
	var wg sync.WaitGroup
	for j, step := range steps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			events[j], errs[j] = r.execute(step)
		}()
	}
	close(start)
	wg.Wait()

	for j, step := range steps {
		r.record(result, fmt.Sprintf("step %d.%d", index+1, j+1), step, events[j], errs[j])
	}
}

func (r *runner) record(result *Result, where string, step Step, ev TraceEvent, err error) {
	ev.Outcome = outcomeOf(err)
	result.addTrace(ev)

	want := step.ExpectError
	if want == "" {
		want = OutcomeOK
	}
	if ev.Outcome != want {
		result.AddError(fmt.Sprintf("%s (%s %s): expected %s, got %s (%v)",
			where, step.Op, ev.Ref, want, ev.Outcome, err))
	}
}

func outcomeOf(err error) string {
	if err == nil {
		return OutcomeOK
	}
	if code := resource.CodeOf(err); code != "" {
		return string(code)
	}
	return "ERROR"
}

func (r *runner) captureState(result *Result) error {
	for _, kind := range resource.Kinds {
		records, err := r.svc.List(r.ctx, r.owner, kind)
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", kind, err)
		}
		state := make([]StateRecord, 0, len(records))
		for _, rec := range records {
			state = append(state, StateRecord{
				Ref:       r.refOf(rec.ID),
				ID:        rec.ID,
				IsDefault: rec.IsDefault,
			})
		}
		result.State[kind] = state
	}
	return nil
}
