// Package estimable builds the contrast (L) matrices whose hypotheses
// L*beta = 0 test each model term.
//
// Every row is a difference of cell means. A cell assigns one level to each
// factor; its coefficient vector is the design row a case in that cell would
// have. Main-effect rows compare a level with the pivot level, interaction
// rows are inclusion-exclusion sums over the 2^k sub-cells of the
// interacting factors, and factors outside the term stay at their pivot.
package estimable

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/wilskk/statify-sub002/internal/design"
)

// Type selects the sum-of-squares convention.
type Type int

const (
	TypeI Type = iota + 1
	TypeII
	TypeIII
	TypeIV
)

func (t Type) String() string {
	switch t {
	case TypeI:
		return "Type I"
	case TypeII:
		return "Type II"
	case TypeIII:
		return "Type III"
	case TypeIV:
		return "Type IV"
	}
	return "Type(" + strconv.Itoa(int(t)) + ")"
}

// ParseType parses 1-4 or I-IV.
func ParseType(s string) (Type, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "1", "I":
		return TypeI, nil
	case "2", "II":
		return TypeII, nil
	case "", "3", "III":
		return TypeIII, nil
	case "4", "IV":
		return TypeIV, nil
	}
	return 0, fmt.Errorf("unknown sum-of-squares type %q", s)
}

// zeroTol is the magnitude below which a coefficient is treated as zero.
const zeroTol = 1e-12

// Row is one estimable function.
type Row struct {
	Term        design.TermID
	TermName    string
	Label       string
	Coef        []float64
	Description string
}

// Options controls row construction.
type Options struct {
	// Type is TypeIII (default) or TypeIV. TypeIV only keeps contrasts
	// whose cells are all observed.
	Type Type
	// Aliased flags parameters to skip; may be nil.
	Aliased []bool
}

// Build returns the rows of every term, in term order. Labels are
// numbered across the whole model.
func Build(m *design.Matrix, opts Options) []Row {
	b := newBuilder(m, opts)
	var out []Row
	for _, t := range m.Terms {
		out = append(out, b.termRows(t)...)
	}
	for i := range out {
		out[i].Label = "L" + strconv.Itoa(i+1)
	}
	return out
}

// ForTerm stacks the coefficient vectors of one term's rows, or returns nil
// when the term has none.
func ForTerm(rows []Row, id design.TermID) *mat.Dense {
	var data []float64
	r, p := 0, 0
	for _, row := range rows {
		if row.Term != id {
			continue
		}
		data = append(data, row.Coef...)
		p = len(row.Coef)
		r++
	}
	if r == 0 {
		return nil
	}
	return mat.NewDense(r, p, data)
}

type builder struct {
	m        *design.Matrix
	opts     Options
	pivot    []int
	occupied map[string]bool
}

func newBuilder(m *design.Matrix, opts Options) *builder {
	b := &builder{m: m, opts: opts, pivot: make([]int, len(m.Factors))}
	for f, detail := range m.Factors {
		b.pivot[f] = detail.Pivot
	}
	if opts.Type == TypeIV {
		b.occupied = make(map[string]bool)
		cell := make([]int, len(m.Factors))
		for i := 0; i < m.N; i++ {
			for f := range cell {
				cell[f] = m.LevelIndex[f][i]
			}
			b.occupied[cellKey(cell)] = true
		}
	}
	return b
}

// CellVector returns the coefficient vector of the mean of a cell. Columns
// whose covariate set differs from covariates contribute zero.
func CellVector(m *design.Matrix, cell []int, covariates []string) []float64 {
	key := design.Column{Covariates: covariates}.CovariateKey()
	out := make([]float64, m.P)
	for c, col := range m.Columns {
		if col.CovariateKey() != key {
			continue
		}
		v := 1.0
		for i, f := range col.Factors {
			v *= m.Factors[f].Coding.At(cell[f], col.Codes[i])
		}
		out[c] = v
	}
	return out
}

func (b *builder) termRows(t design.Term) []Row {
	// non-pivot level combinations, first factor varies slowest
	var combos [][]int
	k := len(t.Factors)
	if t.Kind == design.RoleIntercept || k == 0 {
		combos = [][]int{nil}
	} else {
		choices := make([][]int, k)
		for i, f := range t.Factors {
			for lvl := range b.m.Factors[f].Levels {
				if lvl != b.pivot[f] {
					choices[i] = append(choices[i], lvl)
				}
			}
		}
		combos = cartesian(choices)
	}

	var rows []Row
	for r, combo := range combos {
		if col := t.First + r; len(combos) == t.Columns() && b.isAliased(col) {
			continue
		}

		coef, desc, ok := b.contrast(t, combo)
		if !ok || isZero(coef) || containsRow(rows, coef) {
			continue
		}
		rows = append(rows, Row{Term: t.ID, TermName: t.Name, Coef: coef, Description: desc})
	}
	return rows
}

func (b *builder) isAliased(col int) bool {
	return b.opts.Aliased != nil && col < len(b.opts.Aliased) && b.opts.Aliased[col]
}

// contrast builds the inclusion-exclusion row for one non-pivot combination.
// With Type IV, anchorings of the other factors are searched until every
// sub-cell is observed.
func (b *builder) contrast(t design.Term, combo []int) ([]float64, string, bool) {
	if len(t.Factors) == 0 && len(t.Covariates) > 0 {
		// slope terms select their own column
		coef := make([]float64, b.m.P)
		coef[t.First] = 1
		return coef, "β[" + b.m.Parameters[t.First] + "]", true
	}

	inTerm := make(map[int]bool, len(t.Factors))
	for _, f := range t.Factors {
		inTerm[f] = true
	}

	anchors := [][]int{append([]int(nil), b.pivot...)}
	if b.occupied != nil {
		anchors = b.anchorings(inTerm)
	}

	for _, anchor := range anchors {
		cells, signs := b.subCells(t, combo, anchor)
		if b.occupied != nil && !b.allOccupied(cells) {
			continue
		}

		coef := make([]float64, b.m.P)
		parts := make([]string, len(cells))
		for i, cell := range cells {
			vec := CellVector(b.m, cell, t.Covariates)
			for c := range coef {
				coef[c] += signs[i] * vec[c]
			}
			parts[i] = b.describeCell(cell, signs[i], i == 0)
		}
		desc := strings.Join(parts, " ")
		if len(t.Covariates) > 0 {
			desc = "d/d(" + strings.Join(t.Covariates, "*") + ") " + desc
		}
		return coef, desc, true
	}
	return nil, "", false
}

// subCells returns the 2^k cells toggling each term factor between its
// chosen level and its pivot, with sign (-1)^(number at pivot).
func (b *builder) subCells(t design.Term, combo []int, anchor []int) ([][]int, []float64) {
	k := len(combo)
	n := 1 << k
	cells := make([][]int, 0, n)
	signs := make([]float64, 0, n)
	for mask := 0; mask < n; mask++ {
		cell := append([]int(nil), anchor...)
		atPivot := 0
		for i, f := range t.Factors {
			if mask&(1<<(k-1-i)) != 0 {
				cell[f] = b.pivot[f]
				atPivot++
			} else {
				cell[f] = combo[i]
			}
		}
		cells = append(cells, cell)
		if atPivot%2 == 0 {
			signs = append(signs, 1)
		} else {
			signs = append(signs, -1)
		}
	}
	return cells, signs
}

// anchorings lists level assignments for the factors outside the term,
// the all-pivot assignment first, then lexicographic order.
func (b *builder) anchorings(inTerm map[int]bool) [][]int {
	var free []int
	choices := make([][]int, 0, len(b.m.Factors))
	for f, detail := range b.m.Factors {
		if inTerm[f] {
			continue
		}
		free = append(free, f)
		levels := []int{b.pivot[f]}
		for lvl := range detail.Levels {
			if lvl != b.pivot[f] {
				levels = append(levels, lvl)
			}
		}
		choices = append(choices, levels)
	}

	var out [][]int
	for _, combo := range cartesian(choices) {
		anchor := append([]int(nil), b.pivot...)
		for i, f := range free {
			anchor[f] = combo[i]
		}
		out = append(out, anchor)
	}
	return out
}

func (b *builder) allOccupied(cells [][]int) bool {
	for _, cell := range cells {
		if !b.occupied[cellKey(cell)] {
			return false
		}
	}
	return true
}

func (b *builder) describeCell(cell []int, sign float64, first bool) string {
	parts := make([]string, len(cell))
	for f, lvl := range cell {
		parts[f] = b.m.Factors[f].Name + "=" + b.m.Factors[f].Labels[lvl]
	}
	s := "μ[" + strings.Join(parts, ",") + "]"
	switch {
	case sign < 0:
		return "- " + s
	case first:
		return s
	}
	return "+ " + s
}

func cartesian(choices [][]int) [][]int {
	out := [][]int{{}}
	for _, c := range choices {
		next := make([][]int, 0, len(out)*len(c))
		for _, prefix := range out {
			for _, v := range c {
				row := append(append([]int(nil), prefix...), v)
				next = append(next, row)
			}
		}
		out = next
	}
	return out
}

func cellKey(cell []int) string {
	parts := make([]string, len(cell))
	for i, v := range cell {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func isZero(v []float64) bool {
	for _, x := range v {
		if math.Abs(x) > zeroTol {
			return false
		}
	}
	return true
}

func containsRow(rows []Row, v []float64) bool {
	for _, r := range rows {
		same := true
		for i := range v {
			if math.Abs(r.Coef[i]-v[i]) > zeroTol {
				same = false
				break
			}
		}
		if same {
			return true
		}
	}
	return false
}
