package lifecycle

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/roach88/wallet/internal/enforcer"
	"github.com/roach88/wallet/internal/resource"
	"github.com/roach88/wallet/internal/store"
	"github.com/roach88/wallet/internal/testutil"
)

const alice = "owner-alice"

type fixture struct {
	svc   *Service
	store *store.MemoryStore
	ctx   context.Context
}

func newFixture(t *testing.T, storeOpts ...store.MemoryOption) *fixture {
	t.Helper()
	st := store.NewMemory(storeOpts...)
	return &fixture{
		svc:   newService(st),
		store: st,
		ctx:   asOwner(alice),
	}
}

func newService(st store.Backend, opts ...enforcer.Option) *Service {
	clock := testutil.NewDeterministicClock(time.Time{}, time.Second)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	base := []enforcer.Option{
		enforcer.WithClock(clock.Now),
		enforcer.WithLogger(logger),
		enforcer.WithSleep(func(context.Context, time.Duration) error { return nil }),
	}
	enf := enforcer.New(st, append(base, opts...)...)
	return New(enf,
		WithClock(clock.Now),
		WithIDGenerator(testutil.NewSequentialIDGenerator("rec")),
		WithLogger(logger),
	)
}

func asOwner(owner string) context.Context {
	return WithSecurityContext(context.Background(), SecurityContext{OwnerID: owner})
}

func asAdmin() context.Context {
	return WithSecurityContext(context.Background(), SecurityContext{OwnerID: "ops", Scopes: []string{ScopeAdmin}})
}

func addressFields() map[string]any {
	return map[string]any{
		"street":       "Rua X",
		"number":       "10",
		"neighborhood": "Centro",
		"city":         "São Paulo",
		"state":        "SP",
		"postalCode":   "01310100",
	}
}

func paymentFields() map[string]any {
	return map[string]any{
		"brand":        "visa",
		"last4":        "4242",
		"holderName":   "Maria Silva",
		"expiry":       "12/29",
		"gatewayToken": "tok_1N3xYz",
	}
}

func ids(records []resource.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func (f *fixture) create(t *testing.T, isDefault bool) resource.Record {
	t.Helper()
	rec, err := f.svc.Create(f.ctx, alice, CreateInput{Kind: resource.KindAddress, Fields: addressFields(), IsDefault: isDefault})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	return rec
}
