package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/wallet/internal/resource"
)

func TestEvaluateAssertions(t *testing.T) {
	state := map[resource.Kind][]StateRecord{
		resource.KindAddress: {
			{Ref: "B", ID: "rec-0002", IsDefault: true},
			{Ref: "A", ID: "rec-0001"},
			{ID: "rec-0009"},
		},
	}

	tests := []struct {
		name    string
		a       Assertion
		wantErr string
	}{
		{"order holds", Assertion{Type: AssertListOrder, Kind: "address", Refs: []string{"B", "A", "rec-0009"}}, ""},
		{"order differs", Assertion{Type: AssertListOrder, Kind: "address", Refs: []string{"A", "B", "rec-0009"}}, "expected order"},
		{"empty partition order", Assertion{Type: AssertListOrder, Kind: "payment_instrument"}, ""},
		{"default holds", Assertion{Type: AssertDefault, Kind: "address", Ref: "B"}, ""},
		{"default differs", Assertion{Type: AssertDefault, Kind: "address", Ref: "A"}, "expected default among [A], got B"},
		{"no default", Assertion{Type: AssertDefault, Kind: "payment_instrument", Ref: "A"}, "got none"},
		{"one of holds", Assertion{Type: AssertDefaultOneOf, Kind: "address", Refs: []string{"A", "B"}}, ""},
		{"default count", Assertion{Type: AssertDefaultCount, Kind: "address", Count: 1}, ""},
		{"default count differs", Assertion{Type: AssertDefaultCount, Kind: "address", Count: 0}, "expected 0 defaults, got 1"},
		{"record count", Assertion{Type: AssertRecordCount, Kind: "address", Count: 3}, ""},
		{"record count differs", Assertion{Type: AssertRecordCount, Kind: "payment_instrument", Count: 1}, "expected 1 records, got 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := evaluateAssertions(state, []Assertion{tt.a})
			if tt.wantErr == "" {
				assert.Empty(t, errs)
				return
			}
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0].Error(), tt.wantErr)
		})
	}
}

func TestEvaluateAssertions_TwoDefaults(t *testing.T) {
	state := map[resource.Kind][]StateRecord{
		resource.KindAddress: {
			{Ref: "X", ID: "rec-0001", IsDefault: true},
			{Ref: "Y", ID: "rec-0002", IsDefault: true},
		},
	}

	errs := evaluateAssertions(state, []Assertion{{Type: AssertDefaultOneOf, Kind: "address", Refs: []string{"X", "Y"}}})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "expected exactly one default, got [X Y]")
}
