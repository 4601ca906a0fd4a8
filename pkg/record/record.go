// Package record defines the rows and pages exchanged between the fetch
// executor, the enricher and the result cache.
package record

// Row is a single record as returned by a list endpoint, optionally extended
// with display fields by the enricher.
type Row map[string]any

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// String returns the field as a string. Numbers decoded from JSON are
// rendered without a fractional part when they are integral.
func (r Row) String(field string) (string, bool) {
	v, ok := r[field]
	if !ok || v == nil {
		return "", false
	}
	return formatScalar(v), true
}

// Page is one page of a server-paginated list response.
type Page struct {
	Items      []Row `json:"items"`
	TotalItems int   `json:"totalItems"`
}
