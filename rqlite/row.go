package rqlite

import "fmt"

// Row is one result tuple: an immutable ordered sequence of
// (column name, value) pairs. Columns from a join may share a name;
// positional access always reaches every value, while name lookup
// returns the value of the first matching column, the same contract
// the embedded sqlite3 driver exposes.
type Row struct {
	columns []string
	values  []any
}

func newRow(columns []string, values []any) *Row {
	return &Row{columns: columns, values: values}
}

// Len returns the number of columns in the row.
func (r *Row) Len() int {
	return len(r.values)
}

// Get returns the value at positional index i.
func (r *Row) Get(i int) any {
	return r.values[i]
}

// Value returns the value of the first column with the given name. The
// second return is false when no column has that name.
func (r *Row) Value(name string) (any, bool) {
	for i, col := range r.columns {
		if col == name {
			return r.values[i], true
		}
	}
	return nil, false
}

// Columns returns the column names in result order, duplicates included.
func (r *Row) Columns() []string {
	cols := make([]string, len(r.columns))
	copy(cols, r.columns)
	return cols
}

// Values returns all values in result order.
func (r *Row) Values() []any {
	vals := make([]any, len(r.values))
	copy(vals, r.values)
	return vals
}

// Map returns the row as a name-to-value map. For duplicate column names
// the first value wins, matching Value.
func (r *Row) Map() map[string]any {
	m := make(map[string]any, len(r.columns))
	for i, col := range r.columns {
		if _, seen := m[col]; !seen {
			m[col] = r.values[i]
		}
	}
	return m
}

// String renders the row for debugging.
func (r *Row) String() string {
	return fmt.Sprintf("Row%v", r.Map())
}
