// Package table holds the in-memory record set passed between pipeline tiers
// and its CSV and Parquet codecs.
package table

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ErrEmptyInput is returned when a source has no columns or no data rows.
var ErrEmptyInput = errors.New("no data rows in input")

// Row maps a column name to its value. Values are string, int64 or nil (missing).
type Row map[string]interface{}

// Table is an ordered set of columns and the rows holding them.
type Table struct {
	Columns []string
	Rows    []Row
}

// New creates an empty table with the given column order.
func New(columns ...string) *Table {
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &Table{Columns: cols}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// HasColumn reports whether name is one of the table's columns.
func (t *Table) HasColumn(name string) bool {
	return t.columnIndex(name) >= 0
}

func (t *Table) columnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Append adds a row built from values in column order.
func (t *Table) Append(values ...interface{}) error {
	if len(values) != len(t.Columns) {
		return fmt.Errorf("row has %d values, table has %d columns", len(values), len(t.Columns))
	}
	row := make(Row, len(values))
	for i, v := range values {
		row[t.Columns[i]] = v
	}
	t.Rows = append(t.Rows, row)
	return nil
}

// Clone returns a deep copy; stages never mutate the table they received.
func (t *Table) Clone() *Table {
	out := New(t.Columns...)
	out.Rows = make([]Row, len(t.Rows))
	for i, r := range t.Rows {
		cp := make(Row, len(r))
		for k, v := range r {
			cp[k] = v
		}
		out.Rows[i] = cp
	}
	return out
}

// WithColumn returns a copy of t with name set to value on every row. An
// existing column keeps its position.
func (t *Table) WithColumn(name string, value interface{}) *Table {
	out := t.Clone()
	if !out.HasColumn(name) {
		out.Columns = append(out.Columns, name)
	}
	for _, r := range out.Rows {
		r[name] = value
	}
	return out
}

// AsText returns a copy where every value is converted to its text form.
// Missing values become the literal "nan", the way a dataframe string cast
// renders them.
func (t *Table) AsText() *Table {
	out := t.Clone()
	for _, r := range out.Rows {
		for _, c := range out.Columns {
			r[c] = Text(r[c])
		}
	}
	return out
}

// Text renders a single value as text.
func Text(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "nan"
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		if val {
			return "True"
		}
		return "False"
	case []byte:
		return string(val)
	default:
		return fmt.Sprint(val)
	}
}

// Head returns at most n leading rows rendered as aligned text, header first.
func (t *Table) Head(n int) string {
	if n > len(t.Rows) {
		n = len(t.Rows)
	}
	if n < 0 {
		n = 0
	}

	widths := make([]int, len(t.Columns))
	for i, c := range t.Columns {
		widths[i] = utf8.RuneCountInString(c)
	}
	cells := make([][]string, n)
	for r := 0; r < n; r++ {
		cells[r] = make([]string, len(t.Columns))
		for i, c := range t.Columns {
			s := Text(t.Rows[r][c])
			cells[r][i] = s
			if w := utf8.RuneCountInString(s); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	writeLine := func(values []string) {
		for i, v := range values {
			if i > 0 {
				b.WriteString("  ")
			}
			b.WriteString(v)
			b.WriteString(strings.Repeat(" ", widths[i]-utf8.RuneCountInString(v)))
		}
		b.WriteString("\n")
	}
	writeLine(t.Columns)
	for _, row := range cells {
		writeLine(row)
	}
	return strings.TrimRight(b.String(), "\n")
}
