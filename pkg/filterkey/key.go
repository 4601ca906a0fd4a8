// Package filterkey derives canonical cache keys from search filters.
package filterkey

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// FilterSet maps filter field names to scalar values (ids, dates, free text).
// Empty values mean "not set" and do not take part in the query.
type FilterSet map[string]string

// Clone returns a copy of the filter set without empty fields.
func (f FilterSet) Clone() FilterSet {
	out := make(FilterSet, len(f))
	for name, value := range f {
		if value != "" {
			out[name] = value
		}
	}
	return out
}

// Equal reports whether both sets denote the same query.
func (f FilterSet) Equal(other FilterSet) bool {
	return Fingerprint(f) == Fingerprint(other)
}

// IsEmpty reports whether no filter field is set.
func (f FilterSet) IsEmpty() bool {
	for _, value := range f {
		if value != "" {
			return false
		}
	}
	return true
}

// Values returns the set fields as query parameters.
func (f FilterSet) Values() url.Values {
	values := url.Values{}
	for name, value := range f {
		if value != "" {
			values.Set(name, value)
		}
	}
	return values
}

// Key identifies one (filter set, page, page size) query.
type Key string

// Build generates a deterministic key for the given query.
// Format: search:name1=value1:name2=value2:page=N:size=M
//
// Example:
//
//	search:storeId=S1:supplierId=SUP-7:page=2:size=5
func Build(filters FilterSet, page, pageSize int) Key {
	parts := []string{"search"}
	if fp := Fingerprint(filters); fp != "" {
		parts = append(parts, fp)
	}
	parts = append(parts, fmt.Sprintf("page=%d", page), fmt.Sprintf("size=%d", pageSize))
	return Key(strings.Join(parts, ":"))
}

// Fingerprint returns the canonical form of the filters alone. Two sets have
// the same fingerprint iff they hold the same non-empty name/value pairs.
func Fingerprint(filters FilterSet) string {
	if len(filters) == 0 {
		return ""
	}

	names := make([]string, 0, len(filters))
	for name, value := range filters {
		if value != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		// escaping keeps ':' and '=' inside names and values from colliding with separators
		parts = append(parts, url.QueryEscape(name)+"="+url.QueryEscape(filters[name]))
	}
	return strings.Join(parts, ":")
}
