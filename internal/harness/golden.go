package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/wallet/internal/resource"
)

// Snapshot renders the trace and final state of a run as canonical JSON.
// Versions and timestamps are left out; ids come from the sequential
// generator and are stable across runs.
func Snapshot(s *Scenario, result *Result) ([]byte, error) {
	trace := make([]any, 0, len(result.Trace))
	for _, ev := range result.Trace {
		entry := map[string]any{
			"seq":     ev.Seq,
			"op":      ev.Op,
			"outcome": ev.Outcome,
		}
		if ev.Ref != "" {
			entry["ref"] = ev.Ref
		}
		if ev.ID != "" {
			entry["id"] = ev.ID
		}
		trace = append(trace, entry)
	}

	state := make(map[string]any, len(resource.Kinds))
	for _, kind := range resource.Kinds {
		records := make([]any, 0, len(result.State[kind]))
		for _, rec := range result.State[kind] {
			entry := map[string]any{
				"id":      rec.ID,
				"default": rec.IsDefault,
			}
			if rec.Ref != "" {
				entry["ref"] = rec.Ref
			}
			records = append(records, entry)
		}
		state[string(kind)] = records
	}

	return resource.MarshalCanonical(map[string]any{
		"scenario": s.Name,
		"trace":    trace,
		"state":    state,
	})
}

// AssertGolden compares the snapshot of a run against
// testdata/golden/<name>.golden.
//
// Run with -update to regenerate:
//
//	go test ./internal/harness/... -update
func AssertGolden(t *testing.T, s *Scenario, result *Result) {
	t.Helper()

	data, err := Snapshot(s, result)
	if err != nil {
		t.Fatalf("failed to snapshot result: %v", err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, s.Name, data)
}
