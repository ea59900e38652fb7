package enforcer

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/wallet/internal/resource"
	"github.com/roach88/wallet/internal/store"
)

const owner = "owner-1"

var baseTime = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func address(id string, isDefault bool, minute int) resource.Record {
	at := baseTime.Add(time.Duration(minute) * time.Minute)
	return resource.Record{
		ID:      id,
		OwnerID: owner,
		Kind:    resource.KindAddress,
		Fields: resource.Address{
			Street:       "Rua Harmonia",
			Number:       "42",
			Neighborhood: "Vila Madalena",
			City:         "Sao Paulo",
			State:        "SP",
			PostalCode:   "05435000",
		},
		IsDefault: isDefault,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func noSleep(context.Context, time.Duration) error { return nil }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnforcer(st store.Backend, opts ...Option) *Enforcer {
	base := []Option{
		WithSleep(noSleep),
		WithLogger(quietLogger()),
		WithClock(func() time.Time { return baseTime.Add(time.Hour) }),
	}
	return New(st, append(base, opts...)...)
}

func defaultIDs(records []resource.Record) []string {
	var ids []string
	for _, r := range resource.Defaults(records) {
		ids = append(ids, r.ID)
	}
	return ids
}

func byID(records []resource.Record, id string) resource.Record {
	rec, _ := resource.FindByID(records, id)
	return rec
}
