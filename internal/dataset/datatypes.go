package dataset

import (
	"errors"
	"fmt"
	"math"
)

// ErrUnknownVariable is returned when a column name is not in the table.
var ErrUnknownVariable = errors.New("unknown variable")

// Table is a case-indexed set of numeric variables.
// Missing values are stored as NaN.
type Table struct {
	// Variable names, one per column
	Names []string
	// Columns[j][i] is the value of variable j for case i
	Columns [][]float64

	index map[string]int
}

// NewTable builds a table from named columns of equal length.
func NewTable(names []string, columns [][]float64) (*Table, error) {
	if len(names) != len(columns) {
		return nil, fmt.Errorf("got %d names for %d columns", len(names), len(columns))
	}

	index := make(map[string]int, len(names))
	rows := -1
	for j, name := range names {
		if name == "" {
			return nil, fmt.Errorf("column %d has an empty name", j+1)
		}
		if _, dup := index[name]; dup {
			return nil, fmt.Errorf("duplicate variable %q", name)
		}
		index[name] = j

		if rows >= 0 && len(columns[j]) != rows {
			return nil, fmt.Errorf("variable %q has %d cases, expected %d", name, len(columns[j]), rows)
		}
		rows = len(columns[j])
	}

	return &Table{Names: names, Columns: columns, index: index}, nil
}

// NumRows returns the number of cases.
func (t *Table) NumRows() int {
	if t == nil || len(t.Columns) == 0 {
		return 0
	}
	return len(t.Columns[0])
}

// Column returns the values of a variable.
func (t *Table) Column(name string) ([]float64, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: %q (no table)", ErrUnknownVariable, name)
	}
	j, ok := t.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariable, name)
	}
	return t.Columns[j], nil
}

// Has reports whether the table holds a variable.
func (t *Table) Has(name string) bool {
	if t == nil {
		return false
	}
	_, ok := t.index[name]
	return ok
}

// IsMissing reports whether v is the missing marker.
func IsMissing(v float64) bool { return math.IsNaN(v) }
