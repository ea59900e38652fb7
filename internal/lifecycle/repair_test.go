package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/wallet/internal/resource"
	"github.com/roach88/wallet/internal/store"
)

func seeded(owner, id string, isDefault bool, at time.Time) resource.Record {
	return resource.Record{
		ID:      id,
		OwnerID: owner,
		Kind:    resource.KindAddress,
		Fields: resource.Address{
			Street: "Rua X", Number: "10", Neighborhood: "Centro",
			City: "Campinas", State: "SP", PostalCode: "13010000",
		},
		IsDefault: isDefault,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func TestRepair_ClearsExtraDefaults(t *testing.T) {
	f := newFixture(t)
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	f.store.Seed(
		seeded(alice, "a", true, t0),
		seeded(alice, "b", true, t0.Add(time.Hour)),
		seeded(alice, "c", false, t0.Add(2*time.Hour)),
	)

	report, err := f.svc.Repair(f.ctx, alice, resource.KindAddress)
	require.NoError(t, err)
	assert.Equal(t, "b", report.Kept)
	assert.Equal(t, []string{"a"}, report.Cleared)

	list, err := f.svc.List(f.ctx, alice, resource.KindAddress)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "a"}, ids(list))
	assert.Len(t, resource.Defaults(list), 1)
}

func TestGetDefault_DamagedPartitionMatchesRepair(t *testing.T) {
	f := newFixture(t)
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	older := seeded(alice, "a", true, t0)
	older.UpdatedAt = t0.Add(3 * time.Hour)
	f.store.Seed(older, seeded(alice, "b", true, t0.Add(time.Hour)))

	got, err := f.svc.GetDefault(f.ctx, alice, resource.KindAddress)
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID, "most recently updated default wins over newest created")

	report, err := f.svc.Repair(f.ctx, alice, resource.KindAddress)
	require.NoError(t, err)
	assert.Equal(t, got.ID, report.Kept)

	after, err := f.svc.GetDefault(f.ctx, alice, resource.KindAddress)
	require.NoError(t, err)
	assert.Equal(t, got.ID, after.ID)
}

func TestRepair_PromotesNewestWhenNoDefault(t *testing.T) {
	f := newFixture(t)
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	f.store.Seed(seeded(alice, "a", false, t0), seeded(alice, "b", false, t0.Add(time.Hour)))

	report, err := f.svc.Repair(f.ctx, alice, resource.KindAddress)
	require.NoError(t, err)
	assert.Equal(t, "b", report.Promoted)

	got, err := f.svc.GetDefault(f.ctx, alice, resource.KindAddress)
	require.NoError(t, err)
	assert.Equal(t, "b", got.ID)
}

func TestRepair_RequiresOwner(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Repair(asOwner("owner-bob"), alice, resource.KindAddress)
	assert.True(t, resource.IsUnauthenticated(err))
}

func TestRepairAll_RequiresAdmin(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RepairAll(f.ctx, []string{alice})
	assert.True(t, resource.IsUnauthenticated(err))
}

func TestRepairAll_ContinuesPastFailures(t *testing.T) {
	f := newFixture(t)
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	f.store.Seed(
		seeded(alice, "a1", true, t0),
		seeded(alice, "a2", true, t0.Add(time.Minute)),
		seeded("owner-bob", "b1", true, t0),
		seeded("owner-bob", "b2", true, t0.Add(time.Minute)),
	)
	// The first partition (alice/address) exhausts its read attempts.
	f.store.FailNextReads(store.ErrUnavailable, store.ErrUnavailable, store.ErrUnavailable)

	reports, err := f.svc.RepairAll(asAdmin(), []string{alice, "owner-bob"})
	require.Error(t, err)
	assert.True(t, resource.IsUnavailable(err))
	assert.Len(t, reports, 3)

	var cleared []string
	for _, r := range reports {
		cleared = append(cleared, r.Cleared...)
	}
	assert.Equal(t, []string{"b1"}, cleared)
	assert.Len(t, resource.Defaults(f.store.Snapshot()), 3, "alice keeps both defaults, bob keeps one")
}
