package types

// Rows is a raw tabular result as returned by a read path extractor.
// Values are already normalized to Go primitives (string, int64, float64,
// bool, time.Time, []byte or nil).
type Rows struct {
	Columns []string
	Values  [][]any
}

// Len returns the number of rows
func (r *Rows) Len() int {
	if r == nil {
		return 0
	}

	return len(r.Values)
}

// Truncate keeps at most n rows and reports whether any were dropped
func (r *Rows) Truncate(n int) bool {
	if r == nil || n < 0 || len(r.Values) <= n {
		return false
	}

	r.Values = r.Values[:n]

	return true
}
