package table

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Frame is a named table of string cells with ordered, lower-cased column names.
type Frame struct {
	Name    string
	columns []string
	index   map[string]int
	rows    [][]string
}

// MissingColumnError reports a column lookup against a frame that lacks it.
type MissingColumnError struct {
	Table  string
	Column string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("table %q has no column %q", e.Table, e.Column)
}

// NormalizeHeader lower-cases and trims a header cell, dropping a UTF-8 BOM.
func NormalizeHeader(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	return strings.ToLower(strings.TrimSpace(s))
}

// New creates an empty frame with the given columns.
func New(name string, columns ...string) *Frame {
	f := &Frame{Name: name, index: make(map[string]int, len(columns))}
	for _, c := range columns {
		c = NormalizeHeader(c)
		if _, dup := f.index[c]; dup {
			continue
		}
		f.index[c] = len(f.columns)
		f.columns = append(f.columns, c)
	}
	return f
}

// Columns returns a copy of the column names in order.
func (f *Frame) Columns() []string {
	out := make([]string, len(f.columns))
	copy(out, f.columns)
	return out
}

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.rows) }

// Has reports whether the frame carries a column.
func (f *Frame) Has(col string) bool {
	_, ok := f.index[NormalizeHeader(col)]
	return ok
}

// Require fails with MissingColumnError for the first absent column.
func (f *Frame) Require(cols ...string) error {
	for _, c := range cols {
		if !f.Has(c) {
			return &MissingColumnError{Table: f.Name, Column: NormalizeHeader(c)}
		}
	}
	return nil
}

// Append adds a row. Short rows are padded; long rows are rejected.
func (f *Frame) Append(values ...string) error {
	if len(values) > len(f.columns) {
		return fmt.Errorf("table %q: row has %d cells, want %d", f.Name, len(values), len(f.columns))
	}
	row := make([]string, len(f.columns))
	for i, v := range values {
		row[i] = strings.TrimSpace(v)
	}
	f.rows = append(f.rows, row)
	return nil
}

// Row returns a copy of row i.
func (f *Frame) Row(i int) []string {
	out := make([]string, len(f.columns))
	copy(out, f.rows[i])
	return out
}

// Value returns the cell at row i, or "" when the column is absent.
func (f *Frame) Value(i int, col string) string {
	j, ok := f.index[NormalizeHeader(col)]
	if !ok {
		return ""
	}
	return f.rows[i][j]
}

// Float parses the cell at row i as a float.
func (f *Frame) Float(i int, col string) (float64, error) {
	col = NormalizeHeader(col)
	j, ok := f.index[col]
	if !ok {
		return 0, &MissingColumnError{Table: f.Name, Column: col}
	}
	v, err := strconv.ParseFloat(f.rows[i][j], 64)
	if err != nil {
		return 0, fmt.Errorf("table %q row %d column %q: %w", f.Name, i+1, col, err)
	}
	return v, nil
}

// Column returns a copy of every value in a column.
func (f *Frame) Column(col string) ([]string, error) {
	col = NormalizeHeader(col)
	j, ok := f.index[col]
	if !ok {
		return nil, &MissingColumnError{Table: f.Name, Column: col}
	}
	out := make([]string, len(f.rows))
	for i, r := range f.rows {
		out[i] = r[j]
	}
	return out, nil
}

// Select projects the frame onto the given columns.
func (f *Frame) Select(cols ...string) (*Frame, error) {
	if err := f.Require(cols...); err != nil {
		return nil, err
	}
	out := New(f.Name, cols...)
	idx := make([]int, len(out.columns))
	for k, c := range out.columns {
		idx[k] = f.index[c]
	}
	for _, r := range f.rows {
		row := make([]string, len(idx))
		for k, j := range idx {
			row[k] = r[j]
		}
		out.rows = append(out.rows, row)
	}
	return out, nil
}

// Filter keeps the rows for which keep returns true.
func (f *Frame) Filter(keep func(i int) bool) *Frame {
	out := New(f.Name, f.columns...)
	for i, r := range f.rows {
		if keep(i) {
			out.rows = append(out.rows, r)
		}
	}
	return out
}

// Where keeps rows whose column value is one of values.
func (f *Frame) Where(col string, values ...string) *Frame {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	j, ok := f.index[NormalizeHeader(col)]
	return f.Filter(func(i int) bool {
		if !ok {
			return false
		}
		_, hit := set[f.rows[i][j]]
		return hit
	})
}

// Distinct returns the unique values of a column in first-appearance order.
func (f *Frame) Distinct(col string) []string {
	j, ok := f.index[NormalizeHeader(col)]
	if !ok {
		return nil
	}
	seen := map[string]struct{}{}
	var out []string
	for _, r := range f.rows {
		if _, dup := seen[r[j]]; dup {
			continue
		}
		seen[r[j]] = struct{}{}
		out = append(out, r[j])
	}
	return out
}

type frameJSON struct {
	Name    string     `json:"name"`
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// MarshalJSON encodes the frame as {name, columns, rows}.
func (f *Frame) MarshalJSON() ([]byte, error) {
	rows := f.rows
	if rows == nil {
		rows = [][]string{}
	}
	return json.Marshal(frameJSON{Name: f.Name, Columns: f.columns, Rows: rows})
}

// UnmarshalJSON decodes the {name, columns, rows} form.
func (f *Frame) UnmarshalJSON(b []byte) error {
	var raw frameJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	nf := New(raw.Name, raw.Columns...)
	for _, r := range raw.Rows {
		if err := nf.Append(r...); err != nil {
			return err
		}
	}
	*f = *nf
	return nil
}
