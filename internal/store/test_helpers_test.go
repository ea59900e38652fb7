package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/wallet/internal/resource"
)

var testTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// createTestStore creates a new SQLite store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestBolt(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.bolt")
	s, err := OpenBolt(path, time.Second)
	if err != nil {
		t.Fatalf("OpenBolt() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// eachBackend runs fn against every backend implementation.
func eachBackend(t *testing.T, fn func(t *testing.T, b Backend)) {
	t.Helper()
	t.Run("sqlite", func(t *testing.T) { fn(t, createTestStore(t)) })
	t.Run("bolt", func(t *testing.T) { fn(t, createTestBolt(t)) })
	t.Run("memory", func(t *testing.T) { fn(t, NewMemory()) })
}

// createTestAddress creates an address record with minimal valid fields.
func createTestAddress(ownerID, id string, isDefault bool) resource.Record {
	return resource.Record{
		ID:      id,
		OwnerID: ownerID,
		Kind:    resource.KindAddress,
		Fields: resource.Address{
			Street:       "Rua Augusta",
			Number:       "100",
			Neighborhood: "Consolação",
			City:         "São Paulo",
			State:        "SP",
			PostalCode:   "01305000",
		},
		IsDefault: isDefault,
		CreatedAt: testTime,
		UpdatedAt: testTime,
	}
}

func createTestCard(ownerID, id string, isDefault bool) resource.Record {
	customer := "cus_42"
	return resource.Record{
		ID:      id,
		OwnerID: ownerID,
		Kind:    resource.KindPaymentInstrument,
		Fields: resource.PaymentInstrument{
			Brand:             "visa",
			Last4:             "4242",
			HolderName:        "Maria Silva",
			Expiry:            "12/29",
			GatewayToken:      "tok_abc",
			GatewayCustomerID: &customer,
		},
		IsDefault: isDefault,
		CreatedAt: testTime,
		UpdatedAt: testTime,
	}
}
