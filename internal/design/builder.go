package design

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/wilskk/statify-sub002/internal/contrast"
	"github.com/wilskk/statify-sub002/internal/dataset"
)

// Roles returns the declared terms in column order. Without an explicit
// Terms list the order is intercept, covariates, factors, then interactions
// in declared order.
func (s Spec) Roles() ([]Role, error) {
	declared := make(map[string]RoleKind)
	for _, f := range s.Factors {
		if _, dup := declared[f.Name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateTerm, f.Name)
		}
		declared[f.Name] = RoleFactor
	}
	for _, c := range s.Covariates {
		if _, dup := declared[c]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateTerm, c)
		}
		declared[c] = RoleCovariate
	}

	order := s.Terms
	if len(order) == 0 {
		order = append(order, s.Covariates...)
		for _, f := range s.Factors {
			order = append(order, f.Name)
		}
		order = append(order, s.Interactions...)
	}

	var roles []Role
	if s.Intercept {
		roles = append(roles, Role{Kind: RoleIntercept, Name: "Intercept"})
	}

	seen := make(map[string]bool)
	for _, spec := range order {
		if !strings.Contains(spec, "*") {
			name := strings.TrimSpace(spec)
			kind, ok := declared[name]
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrUnknownComponent, name)
			}
			if seen[name] {
				return nil, fmt.Errorf("%w: %q", ErrDuplicateTerm, name)
			}
			seen[name] = true
			roles = append(roles, Role{Kind: kind, Name: name, Components: []string{name}})
			continue
		}

		comps, err := ParseInteraction(spec)
		if err != nil {
			return nil, err
		}
		for _, c := range comps {
			if _, ok := declared[c]; !ok {
				return nil, fmt.Errorf("%w: %q in %q", ErrUnknownComponent, c, spec)
			}
		}
		// the same components in another order are the same term
		key := strings.Join(sortedCopy(comps), "*")
		if seen[key] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateTerm, spec)
		}
		seen[key] = true
		roles = append(roles, Role{Kind: RoleInteraction, Name: strings.Join(comps, "*"), Components: comps})
	}
	return roles, nil
}

// ParseInteraction splits an "A*B" spec into its components.
func ParseInteraction(spec string) ([]string, error) {
	parts := strings.Split(spec, "*")
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: %q needs at least two components", ErrBadInteraction, spec)
	}
	seen := make(map[string]bool, len(parts))
	comps := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, fmt.Errorf("%w: empty component in %q", ErrBadInteraction, spec)
		}
		if seen[p] {
			return nil, fmt.Errorf("%w: %q repeats %q", ErrBadInteraction, spec, p)
		}
		seen[p] = true
		comps = append(comps, p)
	}
	return comps, nil
}

// Build assembles the design matrix for a request.
func Build(table *dataset.Table, spec Spec) (*Matrix, error) {
	if spec.Dependent == "" {
		return nil, ErrNoDependent
	}
	if table == nil || table.NumRows() == 0 {
		return nil, ErrNoCases
	}

	roles, err := spec.Roles()
	if err != nil {
		return nil, err
	}

	// 1. Resolve every variable the request touches
	yAll, err := table.Column(spec.Dependent)
	if err != nil {
		return nil, fmt.Errorf("dependent: %w", err)
	}
	var wAll, idAll []float64
	if spec.Weight != "" {
		if wAll, err = table.Column(spec.Weight); err != nil {
			return nil, fmt.Errorf("weight: %w", err)
		}
	}
	if spec.CaseID != "" {
		if idAll, err = table.Column(spec.CaseID); err != nil {
			return nil, fmt.Errorf("case id: %w", err)
		}
	}

	vars := make(map[string][]float64)
	for _, f := range spec.Factors {
		if vars[f.Name], err = table.Column(f.Name); err != nil {
			return nil, fmt.Errorf("factor: %w", err)
		}
	}
	for _, c := range spec.Covariates {
		if vars[c], err = table.Column(c); err != nil {
			return nil, fmt.Errorf("covariate: %w", err)
		}
	}

	// 2. Listwise case filter
	var rows []int
	for i := 0; i < table.NumRows(); i++ {
		if dataset.IsMissing(yAll[i]) {
			continue
		}
		if wAll != nil && (dataset.IsMissing(wAll[i]) || wAll[i] <= 0) {
			continue
		}
		ok := true
		for _, col := range vars {
			if dataset.IsMissing(col[i]) {
				ok = false
				break
			}
		}
		if ok {
			rows = append(rows, i)
		}
	}
	n := len(rows)
	if n == 0 {
		return nil, ErrNoCases
	}

	m := &Matrix{
		Dependent: spec.Dependent,
		Rows:      rows,
		N:         n,
	}

	yData := make([]float64, n)
	for i, r := range rows {
		yData[i] = yAll[r]
	}
	m.Y = mat.NewVecDense(n, yData)
	if wAll != nil {
		wData := make([]float64, n)
		for i, r := range rows {
			wData[i] = wAll[r]
		}
		m.W = mat.NewVecDense(n, wData)
	}
	if idAll != nil {
		m.CaseIDs = make([]float64, n)
		for i, r := range rows {
			m.CaseIDs[i] = idAll[r]
		}
	}

	// 3. Code every factor over the filtered cases
	factorIdx := make(map[string]int, len(spec.Factors))
	for _, f := range spec.Factors {
		detail, levelOf, err := codeFactor(f, vars[f.Name], rows)
		if err != nil {
			return nil, err
		}
		factorIdx[f.Name] = len(m.Factors)
		m.Factors = append(m.Factors, detail)
		m.LevelIndex = append(m.LevelIndex, levelOf)
	}

	// 4. Generate columns term by term
	var data [][]float64 // column-major while building
	for _, role := range roles {
		cols, metas, names := m.termColumns(role, factorIdx, vars)

		id := TermID(len(m.Terms))
		term := Term{
			ID:         id,
			Name:       role.Name,
			Kind:       role.Kind,
			Components: role.Components,
			First:      len(data),
			Last:       len(data) + len(cols) - 1,
		}
		for _, c := range role.Components {
			if fi, ok := factorIdx[c]; ok && !m.Factors[fi].Coding.Passthrough {
				term.Factors = append(term.Factors, fi)
			} else {
				term.Covariates = append(term.Covariates, c)
			}
		}
		for j := range metas {
			metas[j].Term = id
		}

		m.Terms = append(m.Terms, term)
		m.Columns = append(m.Columns, metas...)
		m.Parameters = append(m.Parameters, names...)
		data = append(data, cols...)
	}

	if len(data) == 0 {
		return nil, ErrNoColumns
	}

	// 5. Pack X row-major
	m.P = len(data)
	x := mat.NewDense(n, m.P, nil)
	for j, col := range data {
		x.SetCol(j, col)
	}
	m.X = x
	m.Rank = NumericRank(x)

	return m, nil
}

// codeFactor finds the observed levels of a factor and codes them.
func codeFactor(f FactorSpec, values []float64, rows []int) (FactorDetail, []int, error) {
	uniq := make(map[float64]bool)
	for _, r := range rows {
		uniq[values[r]] = true
	}
	levels := make([]float64, 0, len(uniq))
	for v := range uniq {
		levels = append(levels, v)
	}
	sort.Float64s(levels)

	labels := make([]string, len(levels))
	pos := make(map[float64]int, len(levels))
	for i, v := range levels {
		labels[i] = strconv.FormatFloat(v, 'g', -1, 64)
		pos[v] = i
	}

	coding, err := contrast.Encode(f.Name, labels, f.Reference, f.Method)
	if err != nil {
		return FactorDetail{}, nil, fmt.Errorf("factor %q: %w", f.Name, err)
	}

	levelOf := make([]int, len(rows))
	for i, r := range rows {
		levelOf[i] = pos[values[r]]
	}

	return FactorDetail{
		Name:      f.Name,
		Levels:    levels,
		Labels:    labels,
		Reference: labels[0],
		Pivot:     coding.Pivot,
		Coding:    coding,
	}, levelOf, nil
}

// generator is one component's candidate columns.
type generator struct {
	factor int // -1 for covariates
	codes  int
	values []float64
	name   string
}

// termColumns returns the columns, metadata and parameter names of one term.
// A factor with a single observed level enters as its raw numeric column.
func (m *Matrix) termColumns(role Role, factorIdx map[string]int, vars map[string][]float64) ([][]float64, []Column, []string) {
	n := m.N
	if role.Kind == RoleIntercept {
		ones := make([]float64, n)
		for i := range ones {
			ones[i] = 1
		}
		return [][]float64{ones}, []Column{{}}, []string{"Intercept"}
	}

	gens := make([]generator, 0, len(role.Components))
	for _, c := range role.Components {
		if fi, ok := factorIdx[c]; ok && !m.Factors[fi].Coding.Passthrough {
			gens = append(gens, generator{factor: fi, codes: m.Factors[fi].Coding.Columns(), name: c})
			continue
		}
		src := vars[c]
		vals := make([]float64, n)
		for i, r := range m.Rows {
			vals[i] = src[r]
		}
		gens = append(gens, generator{factor: -1, codes: 1, values: vals, name: c})
	}

	// Cartesian product, first component varies slowest
	total := 1
	for _, g := range gens {
		total *= g.codes
	}
	cols := make([][]float64, 0, total)
	metas := make([]Column, 0, total)
	names := make([]string, 0, total)

	combo := make([]int, len(gens))
	for k := 0; k < total; k++ {
		rem := k
		for g := len(gens) - 1; g >= 0; g-- {
			combo[g] = rem % gens[g].codes
			rem /= gens[g].codes
		}

		col := make([]float64, n)
		for i := range col {
			col[i] = 1
		}
		var meta Column
		tokens := make([]string, len(gens))
		for g, gen := range gens {
			if gen.factor < 0 {
				for i := range col {
					col[i] *= gen.values[i]
				}
				meta.Covariates = append(meta.Covariates, gen.name)
				tokens[g] = gen.name
				continue
			}
			f := m.Factors[gen.factor]
			levelOf := m.LevelIndex[gen.factor]
			for i := range col {
				col[i] *= f.Coding.At(levelOf[i], combo[g])
			}
			meta.Factors = append(meta.Factors, gen.factor)
			meta.Codes = append(meta.Codes, combo[g])
			tokens[g] = parameterToken(f, combo[g])
		}

		cols = append(cols, col)
		metas = append(metas, meta)
		names = append(names, strings.Join(tokens, "*"))
	}
	return cols, metas, names
}

func parameterToken(f FactorDetail, code int) string {
	if f.Coding.Method == contrast.Indicator {
		return "[" + f.Coding.Labels[code] + "]"
	}
	return f.Coding.Labels[code]
}

// NumericRank returns the rank of a matrix by SVD with the tolerance
// max(rows, cols) * sigma_max * eps.
func NumericRank(a mat.Matrix) int {
	r, c := a.Dims()
	if r == 0 || c == 0 {
		return 0
	}
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDNone) {
		return 0
	}
	sv := svd.Values(nil)
	if len(sv) == 0 || sv[0] == 0 {
		return 0
	}
	tol := float64(max(r, c)) * sv[0] * epsilon
	rank := 0
	for _, s := range sv {
		if s > tol {
			rank++
		}
	}
	return rank
}

var epsilon = math.Nextafter(1, 2) - 1

func sortedCopy(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}
