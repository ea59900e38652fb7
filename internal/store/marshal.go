package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/wallet/internal/resource"
)

// marshalFields converts a record's variant to canonical JSON TEXT for storage.
func marshalFields(f resource.Fields) (string, error) {
	data, err := resource.MarshalCanonical(f.Map())
	if err != nil {
		return "", fmt.Errorf("marshal fields: %w", err)
	}
	return string(data), nil
}

// unmarshalFields parses stored JSON TEXT back into the kind's variant.
func unmarshalFields(kind resource.Kind, data string) (resource.Fields, error) {
	m := map[string]string{}
	if data != "" {
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			return nil, fmt.Errorf("unmarshal fields: %w", err)
		}
	}
	f, err := resource.FieldsFromMap(kind, m)
	if err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	return f, nil
}

// Timestamps are stored as UTC Unix nanoseconds.
func encodeTime(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func decodeTime(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
