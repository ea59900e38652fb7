package resource

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaCUE string

var knownFields = map[Kind][]string{
	KindAddress:           {"street", "number", "complement", "neighborhood", "city", "state", "postalCode", "reference"},
	KindPaymentInstrument: {"brand", "last4", "holderName", "expiry", "gatewayToken", "gatewayCustomerId"},
}

var optionalFields = map[string]bool{
	"complement":        true,
	"reference":         true,
	"gatewayCustomerId": true,
}

// forbiddenPaymentKeys are compared after lowercasing and dropping separators.
var forbiddenPaymentKeys = map[string]bool{
	"cardnumber":   true,
	"number":       true,
	"fullnumber":   true,
	"pan":          true,
	"cvv":          true,
	"cvv2":         true,
	"cvc":          true,
	"cvc2":         true,
	"securitycode": true,
	"cardcode":     true,
}

// Validator checks caller payloads against the kind schemas in schema.cue.
// Safe for concurrent use; CUE evaluation is serialized internally.
type Validator struct {
	mu   sync.Mutex
	ctx  *cue.Context
	defs map[Kind]cue.Value
}

// NewValidator compiles the embedded schemas.
func NewValidator() (*Validator, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	defs := map[Kind]cue.Value{
		KindAddress:           schema.LookupPath(cue.ParsePath("#Address")),
		KindPaymentInstrument: schema.LookupPath(cue.ParsePath("#PaymentInstrument")),
	}
	for kind, def := range defs {
		if !def.Exists() {
			return nil, fmt.Errorf("compile schema: no definition for %s", kind)
		}
	}
	return &Validator{ctx: ctx, defs: defs}, nil
}

var defaultValidator = sync.OnceValues(NewValidator)

// DefaultValidator returns a process-wide Validator.
func DefaultValidator() *Validator {
	v, err := defaultValidator()
	if err != nil {
		// schema.cue is embedded; failing to compile it is a build defect.
		panic(err)
	}
	return v
}

// Build validates a full create payload and returns the normalized variant.
func (v *Validator) Build(kind Kind, raw map[string]any) (Fields, error) {
	if !kind.IsValid() {
		return nil, NewValidationError("kind", fmt.Sprintf("unknown resource kind %q", kind))
	}
	if err := checkForbidden(kind, raw); err != nil {
		return nil, err
	}
	values, err := stringValues(kind, raw)
	if err != nil {
		return nil, err
	}
	if err := checkCardValues(kind, values); err != nil {
		return nil, err
	}
	return v.finish(kind, values)
}

// Merge applies a partial update to current and validates the result.
// A nil value in patch removes an optional field.
func (v *Validator) Merge(current Fields, patch map[string]any) (Fields, error) {
	kind := current.Kind()
	if err := checkForbidden(kind, patch); err != nil {
		return nil, err
	}
	values, err := stringValues(kind, patch)
	if err != nil {
		return nil, err
	}
	if err := checkCardValues(kind, values); err != nil {
		return nil, err
	}

	merged := current.Map()
	for key, raw := range patch {
		if raw == nil {
			if !optionalFields[key] {
				return nil, NewValidationError(key, "required field cannot be removed")
			}
			delete(merged, key)
			continue
		}
		merged[key] = values[key]
	}
	return v.finish(kind, merged)
}

func (v *Validator) finish(kind Kind, values map[string]string) (Fields, error) {
	normalized := normalize(kind, values)
	if err := v.unify(kind, normalized); err != nil {
		return nil, err
	}
	return FieldsFromMap(kind, normalized)
}

func (v *Validator) unify(kind Kind, values map[string]string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	data := v.ctx.Encode(values)
	if err := data.Err(); err != nil {
		return NewValidationError("", err.Error())
	}
	if err := v.defs[kind].Unify(data).Validate(cue.Concrete(true)); err != nil {
		return fromCUEError(err)
	}
	return nil
}

// fromCUEError reports the first CUE error as a field-level validation error.
func fromCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return NewValidationError("", err.Error())
	}
	first := errs[0]
	field := ""
	if path := first.Path(); len(path) > 0 {
		field = path[len(path)-1]
	}
	format, args := first.Msg()
	return &Error{
		Code:    CodeValidation,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// checkForbidden rejects payment payloads that name a raw card data key.
func checkForbidden(kind Kind, raw map[string]any) error {
	if kind != KindPaymentInstrument {
		return nil
	}
	for _, key := range sortedKeys(raw) {
		if forbiddenPaymentKeys[foldKey(key)] {
			return NewValidationError(key, "raw card data is not accepted; submit the gateway token instead")
		}
	}
	return nil
}

// checkCardValues rejects payment values shaped like a full card number.
// It runs on the string form so numeric JSON and YAML inputs are covered too.
func checkCardValues(kind Kind, values map[string]string) error {
	if kind != KindPaymentInstrument {
		return nil
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if looksLikePAN(values[key]) {
			return NewValidationError(key, "value looks like a full card number")
		}
	}
	return nil
}

func foldKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', ' ', '.':
			return -1
		}
		return r
	}, strings.ToLower(key))
}

// looksLikePAN reports whether s is 13 to 19 digits (spaces and dashes allowed)
// passing the Luhn check.
func looksLikePAN(s string) bool {
	digits := make([]int, 0, len(s))
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits = append(digits, int(r-'0'))
		case r == ' ' || r == '-':
		default:
			return false
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if (len(digits)-1-i)%2 == 1 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	return sum%10 == 0
}

// stringValues converts raw JSON-ish values to strings and rejects unknown keys.
// nil values are skipped; Merge handles them as removals.
func stringValues(kind Kind, raw map[string]any) (map[string]string, error) {
	allowed := make(map[string]bool, len(knownFields[kind]))
	for _, f := range knownFields[kind] {
		allowed[f] = true
	}

	out := make(map[string]string, len(raw))
	for _, key := range sortedKeys(raw) {
		if !allowed[key] {
			return nil, NewValidationError(key, fmt.Sprintf("unknown field for %s", kind))
		}
		switch val := raw[key].(type) {
		case nil:
		case string:
			out[key] = val
		case json.Number:
			out[key] = val.String()
		case int:
			out[key] = strconv.Itoa(val)
		case int64:
			out[key] = strconv.FormatInt(val, 10)
		case float64:
			if val != math.Trunc(val) {
				return nil, NewValidationError(key, "must be a string")
			}
			out[key] = strconv.FormatFloat(val, 'f', -1, 64)
		default:
			return nil, NewValidationError(key, "must be a string")
		}
	}
	return out, nil
}

func normalize(kind Kind, values map[string]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		v = NormalizeText(v)
		if v == "" && optionalFields[k] {
			continue
		}
		out[k] = v
	}
	switch kind {
	case KindAddress:
		if pc, ok := out["postalCode"]; ok {
			out["postalCode"] = digitsOnly(pc)
		}
		if st, ok := out["state"]; ok {
			out["state"] = strings.ToUpper(st)
		}
	case KindPaymentInstrument:
		if b, ok := out["brand"]; ok {
			out["brand"] = strings.ToLower(b)
		}
	}
	return out
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
