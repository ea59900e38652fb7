package harness

import (
	"fmt"
	"slices"

	"github.com/roach88/wallet/internal/resource"
)

// evaluateAssertions checks every assertion against the final partitions and
// returns one error per failed assertion.
func evaluateAssertions(state map[resource.Kind][]StateRecord, assertions []Assertion) []error {
	var errs []error
	for i, a := range assertions {
		if err := evaluateAssertion(state[resource.Kind(a.Kind)], a); err != nil {
			errs = append(errs, fmt.Errorf("assertion %d (%s %s): %w", i+1, a.Type, a.Kind, err))
		}
	}
	return errs
}

func evaluateAssertion(records []StateRecord, a Assertion) error {
	switch a.Type {
	case AssertListOrder:
		return assertListOrder(records, a.Refs)
	case AssertDefault:
		return assertDefaultOneOf(records, []string{a.Ref})
	case AssertDefaultOneOf:
		return assertDefaultOneOf(records, a.Refs)
	case AssertDefaultCount:
		if got := len(defaults(records)); got != a.Count {
			return fmt.Errorf("expected %d defaults, got %d", a.Count, got)
		}
		return nil
	case AssertRecordCount:
		if got := len(records); got != a.Count {
			return fmt.Errorf("expected %d records, got %d", a.Count, got)
		}
		return nil
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func assertListOrder(records []StateRecord, want []string) error {
	got := make([]string, len(records))
	for i, rec := range records {
		got[i] = labelOf(rec)
	}
	if want == nil {
		want = []string{}
	}
	if !slices.Equal(got, want) {
		return fmt.Errorf("expected order %v, got %v", want, got)
	}
	return nil
}

func assertDefaultOneOf(records []StateRecord, refs []string) error {
	ds := defaults(records)
	switch len(ds) {
	case 0:
		return fmt.Errorf("expected a default among %v, got none", refs)
	case 1:
	default:
		labels := make([]string, len(ds))
		for i, d := range ds {
			labels[i] = labelOf(d)
		}
		return fmt.Errorf("expected exactly one default, got %v", labels)
	}
	if !slices.Contains(refs, ds[0].Ref) {
		return fmt.Errorf("expected default among %v, got %s", refs, labelOf(ds[0]))
	}
	return nil
}

func defaults(records []StateRecord) []StateRecord {
	var out []StateRecord
	for _, rec := range records {
		if rec.IsDefault {
			out = append(out, rec)
		}
	}
	return out
}

// labelOf prefers the scenario ref and falls back to the record id.
func labelOf(rec StateRecord) string {
	if rec.Ref != "" {
		return rec.Ref
	}
	return rec.ID
}
