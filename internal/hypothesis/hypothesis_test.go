package hypothesis

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/wilskk/statify-sub002/internal/dataset"
	"github.com/wilskk/statify-sub002/internal/design"
	"github.com/wilskk/statify-sub002/internal/estimable"
	"github.com/wilskk/statify-sub002/internal/sweep"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// almostEqual compares floats with tolerance
func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

type fitted struct {
	m    *design.Matrix
	zwz  *mat.SymDense
	fit  *sweep.Result
	rows []estimable.Row
}

func fitSpec(t *testing.T, tbl *dataset.Table, spec design.Spec) fitted {
	t.Helper()
	m, err := design.Build(tbl, spec)
	require.NoError(t, err)
	zwz, err := sweep.CrossProduct(m.X, m.Y, nil)
	require.NoError(t, err)
	fit, err := sweep.Sweep(zwz, m.P, sweep.DefaultTolerance)
	require.NoError(t, err)
	rows := estimable.Build(m, estimable.Options{Type: estimable.TypeIII, Aliased: fit.Aliased})
	return fitted{m: m, zwz: zwz, fit: fit, rows: rows}
}

// balancedTable is a 2 x 3 design with two cases per cell.
func balancedTable(t *testing.T) *dataset.Table {
	t.Helper()
	var a, b, y []float64
	vals := []float64{4.1, 5.3, 6.8, 3.9, 7.7, 5.2, 4.6, 5.0, 7.4, 3.1, 8.9, 6.0}
	k := 0
	for i := 1; i <= 2; i++ {
		for j := 1; j <= 3; j++ {
			for r := 0; r < 2; r++ {
				a = append(a, float64(i))
				b = append(b, float64(j))
				y = append(y, vals[k])
				k++
			}
		}
	}
	tbl, err := dataset.NewTable([]string{"A", "B", "Y"}, [][]float64{a, b, y})
	require.NoError(t, err)
	return tbl
}

func testByName(tests []Test, name string) Test {
	for _, t := range tests {
		if t.Term == name {
			return t
		}
	}
	return Test{}
}

func TestTypeIMatchesTypeIIIBalanced(t *testing.T) {
	ctx := context.Background()
	for _, interactions := range [][]string{nil, {"A*B"}} {
		f := fitSpec(t, balancedTable(t), design.Spec{
			Dependent:    "Y",
			Intercept:    true,
			Factors:      []design.FactorSpec{{Name: "A"}, {Name: "B"}},
			Interactions: interactions,
		})

		typeIII, err := TermTests(ctx, f.m, f.rows, f.fit, 2)
		require.NoError(t, err)

		cache := NewFitCache(f.zwz, sweep.DefaultTolerance)
		typeI, states, err := Sequential(ctx, f.m, cache)
		require.NoError(t, err)
		require.Len(t, states, len(f.m.Terms)+1)
		assert.InDelta(t, f.fit.RSS, states[len(states)-1].Fit.RSS, 1e-9)

		last := f.m.Terms[len(f.m.Terms)-1].Name
		i, iii := testByName(typeI, last), testByName(typeIII, last)
		if !almostEqual(i.SS, iii.SS, 1e-6) {
			t.Errorf("%v: Type I SS(%s) = %v, Type III = %v", interactions, last, i.SS, iii.SS)
		}
		assert.Equal(t, iii.DF, i.DF)

		if interactions == nil {
			// balanced main-effects model: every ordering agrees
			for _, name := range []string{"A", "B"} {
				assert.InDelta(t, testByName(typeIII, name).SS, testByName(typeI, name).SS, 1e-6, name)
			}
			typeII, err := Hierarchical(ctx, f.m, cache, 3)
			require.NoError(t, err)
			for _, name := range []string{"A", "B"} {
				assert.InDelta(t, testByName(typeIII, name).SS, testByName(typeII, name).SS, 1e-6, name)
			}
		}
	}
}

func TestTypeISumsToModel(t *testing.T) {
	f := fitSpec(t, balancedTable(t), design.Spec{
		Dependent:    "Y",
		Intercept:    true,
		Factors:      []design.FactorSpec{{Name: "A"}, {Name: "B"}},
		Interactions: []string{"A*B"},
	})
	cache := NewFitCache(f.zwz, sweep.DefaultTolerance)
	typeI, _, err := Sequential(context.Background(), f.m, cache)
	require.NoError(t, err)

	total := 0.0
	df := 0
	for _, tt := range typeI {
		total += tt.SS
		df += tt.DF
	}
	// sequential SS partition y'y - RSS
	yty := f.zwz.At(f.m.P, f.m.P)
	assert.InDelta(t, yty-f.fit.RSS, total, 1e-8)
	assert.Equal(t, f.fit.Rank, df)
	assert.Equal(t, []int{1, 1, 2, 2}, []int{typeI[0].DF, typeI[1].DF, typeI[2].DF, typeI[3].DF})
}

func TestHierarchicalAdjustsForNonContaining(t *testing.T) {
	f := fitSpec(t, balancedTable(t), design.Spec{
		Dependent:    "Y",
		Intercept:    true,
		Factors:      []design.FactorSpec{{Name: "A"}, {Name: "B"}},
		Interactions: []string{"A*B"},
	})
	cache := NewFitCache(f.zwz, sweep.DefaultTolerance)
	typeII, err := Hierarchical(context.Background(), f.m, cache, 0)
	require.NoError(t, err)

	a, _ := f.m.TermByName("A")
	b, _ := f.m.TermByName("B")
	i, _ := f.m.TermByName("Intercept")

	// SS(A | Intercept, B)
	without, err := sweep.Fit(f.zwz, f.m.TermColumns([]design.TermID{i.ID, b.ID}), 0)
	require.NoError(t, err)
	with, err := sweep.Fit(f.zwz, f.m.TermColumns([]design.TermID{i.ID, a.ID, b.ID}), 0)
	require.NoError(t, err)
	assert.InDelta(t, without.RSS-with.RSS, testByName(typeII, "A").SS, 1e-9)

	// the interaction is adjusted for everything else
	typeIII, err := TermTests(context.Background(), f.m, f.rows, f.fit, 1)
	require.NoError(t, err)
	assert.InDelta(t, testByName(typeIII, "A*B").SS, testByName(typeII, "A*B").SS, 1e-6)
	assert.Greater(t, cache.Len(), 0)
}

func TestEvaluateSlopeMatchesRSSDrop(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	y := []float64{2.1, 3.9, 6.2, 7.8, 10.1, 12.2, 13.8, 16.1}
	tbl, err := dataset.NewTable([]string{"X", "Y"}, [][]float64{x, y})
	require.NoError(t, err)

	f := fitSpec(t, tbl, design.Spec{Dependent: "Y", Intercept: true, Covariates: []string{"X"}})
	L := mat.NewDense(1, 2, []float64{0, 1})
	ss, df := Evaluate(L, f.fit)
	assert.Equal(t, 1, df)

	b := f.fit.Beta.AtVec(1)
	assert.InDelta(t, b*b/f.fit.G.At(1, 1), ss, 1e-9)

	reduced, err := sweep.Fit(f.zwz, []int{0}, 0)
	require.NoError(t, err)
	assert.InDelta(t, reduced.RSS-f.fit.RSS, ss, 1e-8)

	ss, df = Evaluate(nil, f.fit)
	assert.Equal(t, 0.0, ss)
	assert.Equal(t, 0, df)

	var empty *mat.Dense
	ss, df = Evaluate(empty, f.fit)
	assert.Equal(t, 0.0, ss)
	assert.Equal(t, 0, df)
}

func TestAliasedPairContributesNothing(t *testing.T) {
	x1 := []float64{1, 2, 3, 4, 5, 6}
	x2 := []float64{2, 4, 6, 8, 10, 12}
	y := []float64{1.2, 1.8, 3.3, 3.9, 5.2, 5.8}
	tbl, err := dataset.NewTable([]string{"X1", "X2", "Y"}, [][]float64{x1, x2, y})
	require.NoError(t, err)

	f := fitSpec(t, tbl, design.Spec{Dependent: "Y", Intercept: true, Covariates: []string{"X1", "X2"}})
	assert.Equal(t, []bool{false, false, true}, f.fit.Aliased)

	x2Term, ok := f.m.TermByName("X2")
	require.True(t, ok)
	assert.Nil(t, estimable.ForTerm(f.rows, x2Term.ID))

	tests, err := TermTests(context.Background(), f.m, f.rows, f.fit, 0)
	require.NoError(t, err)
	require.Len(t, tests, 3)
	x2Test := testByName(tests, "X2")
	assert.Equal(t, 0, x2Test.DF)
	assert.Equal(t, 1, testByName(tests, "X1").DF)

	rowsIV := estimable.Build(f.m, estimable.Options{Type: estimable.TypeIV, Aliased: f.fit.Aliased})
	testsIV, err := TermTests(context.Background(), f.m, rowsIV, f.fit, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, testByName(testsIV, "X2").DF)

	x2Test.Complete(f.fit.RSS, f.m.N-f.fit.Rank, 0.05)
	assert.False(t, x2Test.Estimable)
	assert.Equal(t, 0.0, x2Test.SS)
	assert.True(t, math.IsNaN(x2Test.F))

	// a hypothesis on the aliased column alone has no degrees of freedom
	ss, df := Evaluate(mat.NewDense(1, 3, []float64{0, 0, 1}), f.fit)
	assert.Equal(t, 0, df)
	assert.Equal(t, 0.0, ss)
}

func TestComplete(t *testing.T) {
	tt := Test{Term: "A", SS: 30, DF: 2}
	tt.Complete(60, 20, 0.05)

	assert.True(t, tt.Estimable)
	assert.InDelta(t, 15, tt.MS, 1e-12)
	assert.InDelta(t, 5, tt.F, 1e-12)
	assert.InDelta(t, 10, tt.NCP, 1e-12)
	assert.InDelta(t, 30.0/90, tt.PartialEtaSq, 1e-12)

	want := 1 - distuv.F{D1: 2, D2: 20}.CDF(5)
	assert.InDelta(t, want, tt.P, 1e-12)
	assert.Greater(t, tt.Power, 0.05)
	assert.Less(t, tt.Power, 1.0)

	sat := Test{Term: "B", SS: 3, DF: 1}
	sat.Complete(0, 0, 0.05)
	assert.True(t, math.IsNaN(sat.F))
	assert.Equal(t, "no error degrees of freedom", sat.Note)
}

func TestPower(t *testing.T) {
	crit := FQuantile(0.95, 3, 12)
	assert.InDelta(t, 0.95, distuv.F{D1: 3, D2: 12}.CDF(crit), 1e-9)

	// the non-central CDF reduces to the central one at lambda 0
	assert.InDelta(t, distuv.F{D1: 3, D2: 12}.CDF(2.5), NoncentralFCDF(2.5, 3, 12, 0), 1e-9)

	assert.InDelta(t, 0.05, ObservedPower(3, 12, 0, 0.05), 1e-9)
	prev := 0.05
	for _, lambda := range []float64{1, 5, 10, 20, 40} {
		p := ObservedPower(3, 12, lambda, 0.05)
		assert.Greater(t, p, prev)
		prev = p
	}
	assert.True(t, math.IsNaN(ObservedPower(0, 12, 3, 0.05)))
}

func TestNoncentralFCDFLargeLambda(t *testing.T) {
	// mean of F(3, 100, 2e4) is about 6800 with sd near 1000
	lambda := 2e4
	assert.Less(t, NoncentralFCDF(1000, 3, 100, lambda), 1e-6)
	mid := NoncentralFCDF(6800, 3, 100, lambda)
	assert.Greater(t, mid, 0.2)
	assert.Less(t, mid, 0.8)
	assert.Greater(t, NoncentralFCDF(30000, 3, 100, lambda), 0.999)
	assert.InDelta(t, 1, ObservedPower(3, 100, lambda, 0.05), 1e-9)

	// the mixture cannot be covered within the term budget
	assert.True(t, math.IsNaN(NoncentralFCDF(2, 3, 12, 1e9)))
	assert.True(t, math.IsNaN(ObservedPower(3, 12, 1e9, 0.05)))
}

func TestHierarchicalCancelled(t *testing.T) {
	f := fitSpec(t, balancedTable(t), design.Spec{
		Dependent: "Y",
		Intercept: true,
		Factors:   []design.FactorSpec{{Name: "A"}, {Name: "B"}},
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Hierarchical(ctx, f.m, NewFitCache(f.zwz, 0), 2)
	assert.ErrorIs(t, err, context.Canceled)

	_, _, err = Sequential(ctx, f.m, NewFitCache(f.zwz, 0))
	assert.ErrorIs(t, err, context.Canceled)
}
