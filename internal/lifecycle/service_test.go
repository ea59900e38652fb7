package lifecycle

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/wallet/internal/enforcer"
	"github.com/roach88/wallet/internal/resource"
	"github.com/roach88/wallet/internal/store"
)

func TestCreate_FirstRecordIsPromoted(t *testing.T) {
	f := newFixture(t)

	rec, err := f.svc.Create(f.ctx, alice, CreateInput{Kind: resource.KindAddress, Fields: addressFields()})
	require.NoError(t, err)
	assert.Equal(t, "rec-0001", rec.ID)
	assert.True(t, rec.IsDefault)

	list, err := f.svc.List(f.ctx, alice, resource.KindAddress)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].IsDefault)

	addr := list[0].Fields.(resource.Address)
	assert.Equal(t, "Rua X", addr.Street)
	assert.Equal(t, "São Paulo", addr.City)
	assert.Equal(t, "01310100", addr.PostalCode)
}

func TestCreate_NonDefaultKeepsExistingDefault(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, false)
	b := f.create(t, false)

	assert.True(t, a.IsDefault)
	assert.False(t, b.IsDefault)
}

func TestCreate_RequestedDefaultMovesFlag(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, false)
	b := f.create(t, true)

	list, err := f.svc.List(f.ctx, alice, resource.KindAddress)
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID, a.ID}, ids(list))
	assert.True(t, list[0].IsDefault)
	assert.False(t, list[1].IsDefault)
}

func TestCreate_ValidationFailuresPersistNothing(t *testing.T) {
	tests := []struct {
		name string
		in   CreateInput
	}{
		{"unknown kind", CreateInput{Kind: "vehicle", Fields: addressFields()}},
		{"short postal code", CreateInput{Kind: resource.KindAddress, Fields: with(addressFields(), "postalCode", "0131010")}},
		{"bad state", CreateInput{Kind: resource.KindAddress, Fields: with(addressFields(), "state", "S")}},
		{"short street", CreateInput{Kind: resource.KindAddress, Fields: with(addressFields(), "street", "Ru")}},
		{"empty number", CreateInput{Kind: resource.KindAddress, Fields: with(addressFields(), "number", "")}},
		{"card number", CreateInput{Kind: resource.KindPaymentInstrument, Fields: with(paymentFields(), "cardNumber", "4111111111111111")}},
		{"cvv", CreateInput{Kind: resource.KindPaymentInstrument, Fields: with(paymentFields(), "cvv", "123")}},
		{"missing token", CreateInput{Kind: resource.KindPaymentInstrument, Fields: without(paymentFields(), "gatewayToken")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Create(f.ctx, alice, tt.in)
			require.Error(t, err)
			assert.True(t, resource.IsValidation(err), "got %v", err)
			assert.Empty(t, f.store.Snapshot())
		})
	}
}

func TestCreate_PaymentInstrument(t *testing.T) {
	f := newFixture(t)

	rec, err := f.svc.Create(f.ctx, alice, CreateInput{
		Kind:   resource.KindPaymentInstrument,
		Fields: with(paymentFields(), "gatewayCustomerId", "cus_9"),
	})
	require.NoError(t, err)
	assert.True(t, rec.IsDefault)

	pi := rec.Fields.(resource.PaymentInstrument)
	assert.Equal(t, "4242", pi.Last4)
	require.NotNil(t, pi.GatewayCustomerID)
	assert.Equal(t, "cus_9", *pi.GatewayCustomerID)

	// Kinds are separate partitions: an address is promoted on its own.
	addr := f.create(t, false)
	assert.True(t, addr.IsDefault)
}

func TestCreate_UnavailableStore(t *testing.T) {
	f := newFixture(t)
	f.store.FailNextWrites(store.ErrUnavailable, store.ErrUnavailable, store.ErrUnavailable)

	_, err := f.svc.Create(f.ctx, alice, CreateInput{Kind: resource.KindAddress, Fields: addressFields()})
	assert.True(t, resource.IsUnavailable(err), "got %v", err)
	assert.Empty(t, f.store.Snapshot())
}

func TestList_DefaultFirstThenNewest(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, false)
	b := f.create(t, false)
	c := f.create(t, false)

	list, err := f.svc.List(f.ctx, alice, resource.KindAddress)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID, c.ID, b.ID}, ids(list))
}

func TestList_UnknownKind(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.List(f.ctx, alice, "vehicle")
	assert.True(t, resource.IsValidation(err))
}

func TestGetDefault(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GetDefault(f.ctx, alice, resource.KindAddress)
	assert.True(t, resource.IsNotFound(err))

	a := f.create(t, false)
	f.create(t, false)

	got, err := f.svc.GetDefault(f.ctx, alice, resource.KindAddress)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
}

func TestGet(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, false)

	got, err := f.svc.Get(f.ctx, alice, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	_, err = f.svc.Get(f.ctx, alice, "missing")
	assert.True(t, resource.IsNotFound(err))
}

func TestSetDefault_ScenarioA(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, false)
	b := f.create(t, false)

	_, err := f.svc.SetDefault(f.ctx, alice, b.ID)
	require.NoError(t, err)

	list, err := f.svc.List(f.ctx, alice, resource.KindAddress)
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID, a.ID}, ids(list))
	assert.True(t, list[0].IsDefault)
	assert.False(t, list[1].IsDefault)
}

func TestSetDefault_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.create(t, false)
	b := f.create(t, false)

	_, err := f.svc.SetDefault(f.ctx, alice, b.ID)
	require.NoError(t, err)
	once := f.store.Snapshot()

	_, err = f.svc.SetDefault(f.ctx, alice, b.ID)
	require.NoError(t, err)
	assert.Equal(t, once, f.store.Snapshot())
}

func TestSetDefault_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SetDefault(f.ctx, alice, "missing")
	assert.True(t, resource.IsNotFound(err))
}

func TestDelete_DefaultIsRejected(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, false)
	before := f.store.Snapshot()

	err := f.svc.Delete(f.ctx, alice, a.ID)
	require.Error(t, err)
	assert.True(t, resource.IsCannotDeleteDefault(err), "got %v", err)
	assert.Equal(t, before, f.store.Snapshot())

	list, err := f.svc.List(f.ctx, alice, resource.KindAddress)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, ids(list))
	assert.True(t, list[0].IsDefault)
}

func TestDelete_NonDefault(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, false)
	b := f.create(t, false)

	require.NoError(t, f.svc.Delete(f.ctx, alice, b.ID))

	list, err := f.svc.List(f.ctx, alice, resource.KindAddress)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, ids(list))

	err = f.svc.Delete(f.ctx, alice, b.ID)
	assert.True(t, resource.IsNotFound(err))
}

func TestDelete_AfterTransfer(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, false)
	b := f.create(t, false)

	_, err := f.svc.SetDefault(f.ctx, alice, b.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(f.ctx, alice, a.ID))
}

func TestUpdate_FieldsKeepDefaultFlag(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, false)

	rec, err := f.svc.Update(f.ctx, alice, a.ID, UpdateInput{Fields: map[string]any{"number": "12", "complement": "apto 3"}})
	require.NoError(t, err)
	assert.True(t, rec.IsDefault)
	assert.True(t, rec.UpdatedAt.After(a.UpdatedAt))

	got, err := f.svc.Get(f.ctx, alice, a.ID)
	require.NoError(t, err)
	addr := got.Fields.(resource.Address)
	assert.Equal(t, "12", addr.Number)
	require.NotNil(t, addr.Complement)
	assert.Equal(t, "apto 3", *addr.Complement)
	assert.Equal(t, "Rua X", addr.Street)
	assert.True(t, got.IsDefault)
}

func TestUpdate_RemoveOptionalField(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, false)
	_, err := f.svc.Update(f.ctx, alice, a.ID, UpdateInput{Fields: map[string]any{"reference": "near the bakery"}})
	require.NoError(t, err)

	rec, err := f.svc.Update(f.ctx, alice, a.ID, UpdateInput{Fields: map[string]any{"reference": nil}})
	require.NoError(t, err)
	assert.Nil(t, rec.Fields.(resource.Address).Reference)
}

func TestUpdate_PromotionAndFieldsInOneBatch(t *testing.T) {
	var writes atomic.Int32
	f := newFixture(t, store.WithBeforeCommit(func([]store.Op) { writes.Add(1) }))
	f.create(t, false)
	b := f.create(t, false)
	writes.Store(0)

	yes := true
	rec, err := f.svc.Update(f.ctx, alice, b.ID, UpdateInput{Fields: map[string]any{"number": "77"}, IsDefault: &yes})
	require.NoError(t, err)
	assert.True(t, rec.IsDefault)
	assert.Equal(t, "77", rec.Fields.(resource.Address).Number)
	assert.Equal(t, int32(1), writes.Load())

	got, err := f.svc.GetDefault(f.ctx, alice, resource.KindAddress)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)
	assert.Equal(t, "77", got.Fields.(resource.Address).Number)
}

func TestUpdate_Rejections(t *testing.T) {
	no := false
	tests := []struct {
		name string
		in   UpdateInput
	}{
		{"clearing the default flag", UpdateInput{IsDefault: &no}},
		{"empty patch", UpdateInput{}},
		{"invalid postal code", UpdateInput{Fields: map[string]any{"postalCode": "123"}}},
		{"removing required field", UpdateInput{Fields: map[string]any{"street": nil}}},
		{"unknown field", UpdateInput{Fields: map[string]any{"latitude": "-23.5"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			a := f.create(t, false)
			before := f.store.Snapshot()

			_, err := f.svc.Update(f.ctx, alice, a.ID, tt.in)
			require.Error(t, err)
			assert.True(t, resource.IsValidation(err), "got %v", err)
			assert.Equal(t, before, f.store.Snapshot())
		})
	}
}

func TestUpdate_PaymentPatchCannotCarryCardNumber(t *testing.T) {
	f := newFixture(t)
	rec, err := f.svc.Create(f.ctx, alice, CreateInput{Kind: resource.KindPaymentInstrument, Fields: paymentFields()})
	require.NoError(t, err)

	_, err = f.svc.Update(f.ctx, alice, rec.ID, UpdateInput{Fields: map[string]any{"pan": "4111111111111111"}})
	assert.True(t, resource.IsValidation(err))
}

func TestAuthorization(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, false)

	tests := []struct {
		name string
		ctx  context.Context
	}{
		{"no security context", context.Background()},
		{"other owner", asOwner("owner-bob")},
		{"empty owner", asOwner("")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.List(tt.ctx, alice, resource.KindAddress)
			assert.True(t, resource.IsUnauthenticated(err))

			_, err = f.svc.Create(tt.ctx, alice, CreateInput{Kind: resource.KindAddress, Fields: addressFields()})
			assert.True(t, resource.IsUnauthenticated(err))

			_, err = f.svc.SetDefault(tt.ctx, alice, a.ID)
			assert.True(t, resource.IsUnauthenticated(err))

			err = f.svc.Delete(tt.ctx, alice, a.ID)
			assert.True(t, resource.IsUnauthenticated(err))
		})
	}

	list, err := f.svc.List(asAdmin(), alice, resource.KindAddress)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestOwnersAreIsolated(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, false)

	bob := asOwner("owner-bob")
	_, err := f.svc.Get(bob, "owner-bob", a.ID)
	assert.True(t, resource.IsNotFound(err))

	rec, err := f.svc.Create(bob, "owner-bob", CreateInput{Kind: resource.KindAddress, Fields: addressFields()})
	require.NoError(t, err)
	assert.True(t, rec.IsDefault)

	got, err := f.svc.GetDefault(f.ctx, alice, resource.KindAddress)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
}

func TestSetDefault_ConcurrentScenarioE(t *testing.T) {
	backends := []struct {
		name string
		open func(t *testing.T) store.Backend
		opts []enforcer.Option
	}{
		{"memory/last-writer-wins", func(*testing.T) store.Backend { return store.NewMemory() }, nil},
		{"memory/owner-lock", func(*testing.T) store.Backend { return store.NewMemory() },
			[]enforcer.Option{enforcer.WithPolicy(enforcer.PolicyOwnerLock, nil)}},
		{"sqlite/last-writer-wins", func(t *testing.T) store.Backend {
			s, err := store.Open(filepath.Join(t.TempDir(), "wallet.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		}, nil},
	}

	for _, bk := range backends {
		t.Run(bk.name, func(t *testing.T) {
			for round := 0; round < 10; round++ {
				opts := append([]enforcer.Option{enforcer.WithMaxAttempts(20)}, bk.opts...)
				svc := newService(bk.open(t), opts...)
				ctx := asOwner(alice)

				var recs []resource.Record
				for i := 0; i < 3; i++ {
					rec, err := svc.Create(ctx, alice, CreateInput{Kind: resource.KindAddress, Fields: addressFields()})
					require.NoError(t, err)
					recs = append(recs, rec)
				}
				a, b, c := recs[0], recs[1], recs[2]

				var wg sync.WaitGroup
				for _, id := range []string{b.ID, c.ID} {
					wg.Add(1)
					go func(id string) {
						defer wg.Done()
						_, err := svc.SetDefault(ctx, alice, id)
						assert.NoError(t, err)
					}(id)
				}
				wg.Wait()

				list, err := svc.List(ctx, alice, resource.KindAddress)
				require.NoError(t, err)
				defaults := resource.Defaults(list)
				require.Len(t, defaults, 1)
				assert.Contains(t, []string{b.ID, c.ID}, defaults[0].ID)
				assert.NotEqual(t, a.ID, defaults[0].ID)
			}
		})
	}
}

// TestInvariant_RandomOperations drives random operation sequences and checks
// the partition after every step.
func TestInvariant_RandomOperations(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		t.Run(fmt.Sprintf("seed-%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			f := newFixture(t)
			var live []string

			for step := 0; step < 60; step++ {
				switch op := rng.Intn(4); {
				case op == 0 || len(live) == 0:
					rec, err := f.svc.Create(f.ctx, alice, CreateInput{
						Kind:      resource.KindAddress,
						Fields:    addressFields(),
						IsDefault: rng.Intn(2) == 0,
					})
					require.NoError(t, err)
					live = append(live, rec.ID)
				case op == 1:
					_, err := f.svc.SetDefault(f.ctx, alice, live[rng.Intn(len(live))])
					require.NoError(t, err)
				case op == 2:
					idx := rng.Intn(len(live))
					err := f.svc.Delete(f.ctx, alice, live[idx])
					if err == nil {
						live = append(live[:idx], live[idx+1:]...)
					} else {
						require.True(t, resource.IsCannotDeleteDefault(err), "got %v", err)
					}
				default:
					_, err := f.svc.Update(f.ctx, alice, live[rng.Intn(len(live))],
						UpdateInput{Fields: map[string]any{"number": fmt.Sprint(step)}})
					require.NoError(t, err)
				}

				list, err := f.svc.List(f.ctx, alice, resource.KindAddress)
				require.NoError(t, err)
				n := len(resource.Defaults(list))
				if len(list) == 0 {
					require.Equal(t, 0, n)
				} else {
					require.Equal(t, 1, n, "step %d", step)
					require.True(t, list[0].IsDefault, "default must lead the list")
				}
			}
		})
	}
}

func with(m map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out[key] = value
	return out
}

func without(m map[string]any, key string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if k != key {
			out[k] = v
		}
	}
	return out
}
