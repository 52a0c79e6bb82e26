package sweep

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// almostEqual compares floats with tolerance
func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

// regressionData is a small full-rank design with an intercept and two predictors.
func regressionData() (*mat.Dense, *mat.VecDense, *mat.VecDense) {
	x := mat.NewDense(8, 3, []float64{
		1, 0.5, 3,
		1, 2.0, 1,
		1, 3.0, 4,
		1, 7.0, 1,
		1, 4.5, 5,
		1, 1.0, 9,
		1, 6.0, 2,
		1, 2.5, 7,
	})
	y := mat.NewVecDense(8, []float64{1, 2, 2.5, 6, 4, 3.2, 5.1, 3.3})
	w := mat.NewVecDense(8, []float64{1, 2, 1, 0.5, 1.5, 1, 2, 1})
	return x, y, w
}

// normalEquations solves (X'WX) b = X'Wy directly.
func normalEquations(t *testing.T, x *mat.Dense, y, w *mat.VecDense) (*mat.VecDense, *mat.Dense) {
	t.Helper()
	n, p := x.Dims()
	W := mat.NewDiagDense(n, nil)
	for i := 0; i < n; i++ {
		W.SetDiag(i, w.AtVec(i))
	}
	var xtw, xtwx mat.Dense
	xtw.Mul(x.T(), W)
	xtwx.Mul(&xtw, x)

	var inv mat.Dense
	require.NoError(t, inv.Inverse(&xtwx))

	var xtwy mat.VecDense
	xtwy.MulVec(&xtw, y)
	beta := mat.NewVecDense(p, nil)
	beta.MulVec(&inv, &xtwy)
	return beta, &inv
}

func TestSweepMatchesNormalEquations(t *testing.T) {
	x, y, w := regressionData()
	_, p := x.Dims()

	zwz, err := CrossProduct(x, y, w)
	require.NoError(t, err)

	res, err := Sweep(zwz, p, DefaultTolerance)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Rank)
	assert.Equal(t, []bool{false, false, false}, res.Aliased)

	beta, inv := normalEquations(t, x, y, w)
	for i := 0; i < p; i++ {
		b := beta.AtVec(i)
		if !almostEqual(res.Beta.AtVec(i), b, 1e-8*math.Max(1, math.Abs(b))) {
			t.Errorf("beta[%d] = %v, want %v", i, res.Beta.AtVec(i), b)
		}
		for j := 0; j < p; j++ {
			assert.InDelta(t, inv.At(i, j), res.G.At(i, j), 1e-9)
		}
		assert.GreaterOrEqual(t, res.G.At(i, i), 0.0)
	}

	// RSS = y'Wy - beta'X'Wy
	ywy := zwz.At(p, p)
	bxwy := 0.0
	for i := 0; i < p; i++ {
		bxwy += res.Beta.AtVec(i) * zwz.At(i, p)
	}
	assert.InDelta(t, ywy-bxwy, res.RSS, 1e-8)

	// and equals the weighted sum of squared residuals
	var fitted mat.VecDense
	fitted.MulVec(x, res.Beta)
	rss := 0.0
	for i := 0; i < y.Len(); i++ {
		e := y.AtVec(i) - fitted.AtVec(i)
		rss += w.AtVec(i) * e * e
	}
	assert.InDelta(t, rss, res.RSS, 1e-8)
}

func TestSweepUnweighted(t *testing.T) {
	x, y, _ := regressionData()
	ones := mat.NewVecDense(8, []float64{1, 1, 1, 1, 1, 1, 1, 1})

	a, err := CrossProduct(x, y, nil)
	require.NoError(t, err)
	b, err := CrossProduct(x, y, ones)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(a, b, 1e-12))
}

func TestSweepTwiceRestores(t *testing.T) {
	x, y, w := regressionData()
	zwz, err := CrossProduct(x, y, w)
	require.NoError(t, err)

	s := NewSweeper(zwz)
	require.NoError(t, s.Sweep(0))
	require.NoError(t, s.Sweep(2))
	assert.True(t, s.Swept(0))
	mid := s.Matrix()

	// sweeping pivot 2 twice is the identity transform
	require.NoError(t, s.Sweep(2))
	assert.False(t, s.Swept(2))
	require.NoError(t, s.Sweep(2))
	assert.True(t, mat.EqualApprox(mid, s.Matrix(), 1e-9))

	// undoing every sweep recovers the cross-product
	require.NoError(t, s.Sweep(2))
	require.NoError(t, s.Sweep(0))
	assert.True(t, mat.EqualApprox(zwz, s.Matrix(), 1e-9))
}

func TestSweepAliasedPair(t *testing.T) {
	// column 2 is exactly twice column 1
	x := mat.NewDense(6, 3, []float64{
		1, 1, 2,
		1, 2, 4,
		1, 3, 6,
		1, 4, 8,
		1, 5, 10,
		1, 6, 12,
	})
	y := mat.NewVecDense(6, []float64{1.1, 1.9, 3.2, 3.8, 5.1, 6.2})

	zwz, err := CrossProduct(x, y, nil)
	require.NoError(t, err)
	res, err := Sweep(zwz, 3, DefaultTolerance)
	require.NoError(t, err)

	assert.Equal(t, []bool{false, false, true}, res.Aliased)
	assert.Equal(t, 2, res.Rank)
	assert.Equal(t, 0.0, res.Beta.AtVec(2))
	for j := 0; j < 3; j++ {
		assert.Equal(t, 0.0, res.G.At(2, j))
		assert.Equal(t, 0.0, res.G.At(j, 2))
	}

	// the reduced model without the aliased column fits identically
	sub, err := Fit(zwz, []int{0, 1}, DefaultTolerance)
	require.NoError(t, err)
	assert.InDelta(t, sub.RSS, res.RSS, 1e-9)
	assert.InDelta(t, sub.Beta.AtVec(1), res.Beta.AtVec(1), 1e-9)
}

func TestFitNested(t *testing.T) {
	x, y, w := regressionData()
	zwz, err := CrossProduct(x, y, w)
	require.NoError(t, err)

	empty, err := Fit(zwz, nil, DefaultTolerance)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Rank)
	assert.InDelta(t, zwz.At(3, 3), empty.RSS, 1e-12)

	one, err := Fit(zwz, []int{0}, DefaultTolerance)
	require.NoError(t, err)
	full, err := Fit(zwz, []int{0, 1, 2}, DefaultTolerance)
	require.NoError(t, err)

	assert.LessOrEqual(t, full.RSS, one.RSS)
	assert.LessOrEqual(t, one.RSS, empty.RSS)

	_, err = Fit(zwz, []int{3}, DefaultTolerance)
	assert.True(t, errors.Is(err, ErrDims))
}

func TestSweepSingular(t *testing.T) {
	x := mat.NewDense(3, 1, nil)
	y := mat.NewVecDense(3, []float64{1, 2, 3})
	zwz, err := CrossProduct(x, y, nil)
	require.NoError(t, err)

	res, err := Sweep(zwz, 1, DefaultTolerance)
	assert.True(t, errors.Is(err, ErrSingular))
	require.NotNil(t, res)
	assert.True(t, res.Aliased[0])
	assert.InDelta(t, 14.0, res.RSS, 1e-12)
}

func TestCrossProductDims(t *testing.T) {
	x := mat.NewDense(3, 1, []float64{1, 2, 3})
	_, err := CrossProduct(x, mat.NewVecDense(2, []float64{1, 2}), nil)
	assert.True(t, errors.Is(err, ErrDims))
}
