package resource

import "fmt"

// Kind identifies the variant of a record and, together with the owner, its partition.
type Kind string

const (
	// KindAddress is a saved postal address.
	KindAddress Kind = "address"
	// KindPaymentInstrument is a saved, gateway-tokenized payment instrument.
	KindPaymentInstrument Kind = "payment_instrument"
)

// Kinds lists every known kind in a stable order.
var Kinds = []Kind{KindAddress, KindPaymentInstrument}

// String returns the string representation of the Kind.
func (k Kind) String() string {
	return string(k)
}

// IsValid reports whether k is one of the known kinds.
func (k Kind) IsValid() bool {
	switch k {
	case KindAddress, KindPaymentInstrument:
		return true
	default:
		return false
	}
}

// ParseKind accepts the canonical names plus a few aliases used by callers.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "address", "addresses":
		return KindAddress, nil
	case "payment_instrument", "payment_instruments", "payment", "payment-method", "card":
		return KindPaymentInstrument, nil
	}
	return "", NewValidationError("kind", fmt.Sprintf("unknown resource kind %q", s))
}
