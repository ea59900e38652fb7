package resource

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record is the envelope shared by every saved record.
//
// IsDefault is only ever changed by the enforcer. Version is maintained by the
// store: it starts at 1 and grows by one on every successful write.
type Record struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Kind      Kind      `json:"kind"`
	Fields    Fields    `json:"fields"`
	IsDefault bool      `json:"isDefault"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Version   int64     `json:"version"`
}

// Fields is the kind-specific part of a record.
// Implemented only by Address and PaymentInstrument.
type Fields interface {
	Kind() Kind
	// Map returns the present fields keyed by their wire names.
	Map() map[string]string
	// Summary is a short human-readable label.
	Summary() string

	sealed()
}

// Address is a saved postal address. Optional fields are nil when absent.
type Address struct {
	Street       string  `json:"street"`
	Number       string  `json:"number"`
	Complement   *string `json:"complement,omitempty"`
	Neighborhood string  `json:"neighborhood"`
	City         string  `json:"city"`
	State        string  `json:"state"`
	PostalCode   string  `json:"postalCode"`
	Reference    *string `json:"reference,omitempty"`
}

func (Address) Kind() Kind { return KindAddress }
func (Address) sealed()    {}

func (a Address) Map() map[string]string {
	m := map[string]string{
		"street":       a.Street,
		"number":       a.Number,
		"neighborhood": a.Neighborhood,
		"city":         a.City,
		"state":        a.State,
		"postalCode":   a.PostalCode,
	}
	putOptional(m, "complement", a.Complement)
	putOptional(m, "reference", a.Reference)
	return m
}

func (a Address) Summary() string {
	return fmt.Sprintf("%s, %s - %s, %s/%s", a.Street, a.Number, a.Neighborhood, a.City, a.State)
}

// PaymentInstrument is a gateway-tokenized card reference.
type PaymentInstrument struct {
	Brand             string  `json:"brand"`
	Last4             string  `json:"last4"`
	HolderName        string  `json:"holderName"`
	Expiry            string  `json:"expiry"`
	GatewayToken      string  `json:"gatewayToken"`
	GatewayCustomerID *string `json:"gatewayCustomerId,omitempty"`
}

func (PaymentInstrument) Kind() Kind { return KindPaymentInstrument }
func (PaymentInstrument) sealed()    {}

func (p PaymentInstrument) Map() map[string]string {
	m := map[string]string{
		"brand":        p.Brand,
		"last4":        p.Last4,
		"holderName":   p.HolderName,
		"expiry":       p.Expiry,
		"gatewayToken": p.GatewayToken,
	}
	putOptional(m, "gatewayCustomerId", p.GatewayCustomerID)
	return m
}

func (p PaymentInstrument) Summary() string {
	return fmt.Sprintf("%s **** %s (%s)", p.Brand, p.Last4, p.Expiry)
}

func putOptional(m map[string]string, key string, v *string) {
	if v != nil {
		m[key] = *v
	}
}

func optional(m map[string]string, key string) *string {
	v, ok := m[key]
	if !ok {
		return nil
	}
	return &v
}

// FieldsFromMap builds the variant for kind from wire-named values.
// It performs no validation; use Validator for caller input.
func FieldsFromMap(kind Kind, m map[string]string) (Fields, error) {
	switch kind {
	case KindAddress:
		return Address{
			Street:       m["street"],
			Number:       m["number"],
			Complement:   optional(m, "complement"),
			Neighborhood: m["neighborhood"],
			City:         m["city"],
			State:        m["state"],
			PostalCode:   m["postalCode"],
			Reference:    optional(m, "reference"),
		}, nil
	case KindPaymentInstrument:
		return PaymentInstrument{
			Brand:             m["brand"],
			Last4:             m["last4"],
			HolderName:        m["holderName"],
			Expiry:            m["expiry"],
			GatewayToken:      m["gatewayToken"],
			GatewayCustomerID: optional(m, "gatewayCustomerId"),
		}, nil
	}
	return nil, fmt.Errorf("fields from map: unknown kind %q", kind)
}

// Partition returns the (owner, kind) pair the record belongs to.
func (r Record) Partition() PartitionKey {
	return PartitionKey{OwnerID: r.OwnerID, Kind: r.Kind}
}

// PartitionKey is the (owner, kind) pair scoping the at-most-one-default invariant.
type PartitionKey struct {
	OwnerID string
	Kind    Kind
}

func (p PartitionKey) String() string {
	return p.OwnerID + "/" + string(p.Kind)
}

// UnmarshalJSON decodes the Fields variant according to the record's kind.
func (r *Record) UnmarshalJSON(data []byte) error {
	type envelope Record
	var raw struct {
		envelope
		Fields map[string]string `json:"fields"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Record(raw.envelope)
	if raw.Fields == nil {
		return nil
	}
	fields, err := FieldsFromMap(r.Kind, raw.Fields)
	if err != nil {
		return err
	}
	r.Fields = fields
	return nil
}
