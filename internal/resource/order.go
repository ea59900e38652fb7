package resource

import "sort"

// SortForDisplay returns a copy of records ordered the way List presents them:
// the default record first, then by CreatedAt descending. Ties fall back to ID
// descending so the order is total.
func SortForDisplay(records []Record) []Record {
	out := make([]Record, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.IsDefault != b.IsDefault {
			return a.IsDefault
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	return out
}

// Defaults returns every record flagged default. More than one means the
// partition invariant was broken outside the enforcer.
func Defaults(records []Record) []Record {
	var out []Record
	for _, r := range records {
		if r.IsDefault {
			out = append(out, r)
		}
	}
	return out
}

// DefaultOf returns the default record, if exactly one exists or, for a damaged
// partition, the most recently updated of several.
func DefaultOf(records []Record) (Record, bool) {
	return MostRecentlyUpdated(Defaults(records))
}

// FindByID returns the record with the given id.
func FindByID(records []Record, id string) (Record, bool) {
	for _, r := range records {
		if r.ID == id {
			return r, true
		}
	}
	return Record{}, false
}

// MostRecentlyUpdated returns the record with the latest UpdatedAt (ties by ID).
func MostRecentlyUpdated(records []Record) (Record, bool) {
	if len(records) == 0 {
		return Record{}, false
	}
	best := records[0]
	for _, r := range records[1:] {
		if r.UpdatedAt.After(best.UpdatedAt) || (r.UpdatedAt.Equal(best.UpdatedAt) && r.ID > best.ID) {
			best = r
		}
	}
	return best, true
}

// Newest returns the record that sorts first by CreatedAt descending.
func Newest(records []Record) (Record, bool) {
	if len(records) == 0 {
		return Record{}, false
	}
	best := records[0]
	for _, r := range records[1:] {
		if r.CreatedAt.After(best.CreatedAt) || (r.CreatedAt.Equal(best.CreatedAt) && r.ID > best.ID) {
			best = r
		}
	}
	return best, true
}
