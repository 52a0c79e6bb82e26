// Package sweep fits least-squares models with Beaton's SWEEP operator.
//
// Sweeping the parameter rows of the augmented cross-product matrix
// [X'WX X'Wy; y'WX y'Wy] leaves the negated generalized inverse of X'WX in
// the upper-left block, the coefficients in the last column and the residual
// sum of squares in the bottom-right cell. Parameters whose pivot vanishes
// are tagged aliased and left unswept.
package sweep

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// DefaultTolerance is the relative pivot tolerance used to detect aliasing.
const DefaultTolerance = 1e-10

var (
	ErrSingular  = errors.New("cross-product matrix is singular")
	ErrZeroPivot = errors.New("zero pivot")
	ErrDims      = errors.New("dimension mismatch")
)

// Result is a swept model.
type Result struct {
	// G is the generalized inverse of X'WX; aliased rows/columns are zero.
	G *mat.SymDense
	// Beta holds the parameter estimates; aliased entries are zero.
	Beta *mat.VecDense
	// RSS is the weighted residual sum of squares.
	RSS float64
	// Aliased flags parameters that were not swept.
	Aliased []bool
	// Rank is the number of swept parameters.
	Rank int
}

// P returns the number of parameters.
func (r *Result) P() int { return len(r.Aliased) }

// CrossProduct returns Z'WZ for Z = [X | y]. w may be nil.
func CrossProduct(x mat.Matrix, y mat.Vector, w mat.Vector) (*mat.SymDense, error) {
	n, p := x.Dims()
	if y.Len() != n {
		return nil, fmt.Errorf("%w: X has %d rows, y has %d", ErrDims, n, y.Len())
	}
	if w != nil && w.Len() != n {
		return nil, fmt.Errorf("%w: X has %d rows, w has %d", ErrDims, n, w.Len())
	}

	// Rows of Z scaled by sqrt(w), so that Z'WZ = (sZ)'(sZ)
	z := mat.NewDense(n, p+1, nil)
	for i := 0; i < n; i++ {
		s := 1.0
		if w != nil {
			s = math.Sqrt(w.AtVec(i))
		}
		for j := 0; j < p; j++ {
			z.Set(i, j, s*x.At(i, j))
		}
		z.Set(i, p, s*y.AtVec(i))
	}

	zwz := mat.NewSymDense(p+1, nil)
	zwz.SymOuterK(1, z.T())
	return zwz, nil
}

// Sweep sweeps the first p rows of the augmented cross-product zwz in order.
// zwz is not modified. A parameter is aliased when its pivot is at most
// tol times its original diagonal, or is not positive.
func Sweep(zwz mat.Symmetric, p int, tol float64) (*Result, error) {
	if zwz.SymmetricDim() != p+1 {
		return nil, fmt.Errorf("%w: cross-product is %d, want %d", ErrDims, zwz.SymmetricDim(), p+1)
	}
	if tol <= 0 {
		tol = DefaultTolerance
	}

	s := NewSweeper(zwz)
	aliased := make([]bool, p)
	rank := 0
	for k := 0; k < p; k++ {
		orig := zwz.At(k, k)
		pivot := s.c.At(k, k)
		// an unswept pivot of a cross-product matrix is a residual sum of
		// squares and must be positive
		if orig <= 0 || pivot <= 0 || math.Abs(pivot) <= tol*math.Abs(orig) {
			aliased[k] = true
			continue
		}
		if err := s.Sweep(k); err != nil {
			aliased[k] = true
			continue
		}
		rank++
	}

	res := extract(s.c, aliased, p)
	res.Rank = rank
	if p > 0 && rank == 0 {
		return res, ErrSingular
	}
	return res, nil
}

// extract reads G, beta and RSS out of a swept matrix.
func extract(c *mat.Dense, aliased []bool, p int) *Result {
	rss := c.At(p, p)
	if rss < 0 {
		rss = 0
	}
	if p == 0 {
		return &Result{G: &mat.SymDense{}, Beta: &mat.VecDense{}, RSS: rss}
	}

	g := mat.NewSymDense(p, nil)
	beta := mat.NewVecDense(p, nil)
	for i := 0; i < p; i++ {
		if aliased[i] {
			continue
		}
		beta.SetVec(i, c.At(i, p))
		for j := i; j < p; j++ {
			if aliased[j] {
				continue
			}
			g.SetSym(i, j, -c.At(i, j))
		}
	}
	return &Result{G: g, Beta: beta, RSS: rss, Aliased: aliased}
}

// Fit sweeps only the listed parameter columns of a full augmented
// cross-product and returns the sub-model's fit. Beta and G are indexed by
// position in cols.
func Fit(zwz mat.Symmetric, cols []int, tol float64) (*Result, error) {
	full := zwz.SymmetricDim()
	resp := full - 1
	idx := append(append([]int(nil), cols...), resp)
	for _, c := range cols {
		if c < 0 || c >= resp {
			return nil, fmt.Errorf("%w: column %d outside 0..%d", ErrDims, c, resp-1)
		}
	}

	sub := mat.NewSymDense(len(idx), nil)
	for i, a := range idx {
		for j := i; j < len(idx); j++ {
			sub.SetSym(i, j, zwz.At(a, idx[j]))
		}
	}
	return Sweep(sub, len(cols), tol)
}

// Sweeper applies single-pivot sweeps to a working copy of a symmetric
// matrix. Sweeping a pivot that is already swept reverses it, so sweeping
// the same pivot twice restores the matrix.
type Sweeper struct {
	c     *mat.Dense
	swept []bool
}

// NewSweeper copies a into a working matrix.
func NewSweeper(a mat.Symmetric) *Sweeper {
	n := a.SymmetricDim()
	c := mat.NewDense(n, n, nil)
	c.Copy(a)
	return &Sweeper{c: c, swept: make([]bool, n)}
}

// Swept reports whether pivot k is currently swept.
func (s *Sweeper) Swept(k int) bool { return s.swept[k] }

// Matrix returns a copy of the working matrix.
func (s *Sweeper) Matrix() *mat.Dense {
	return mat.DenseCopyOf(s.c)
}

// Sweep sweeps pivot k, or reverses it when k is already swept.
func (s *Sweeper) Sweep(k int) error {
	n, _ := s.c.Dims()
	if k < 0 || k >= n {
		return fmt.Errorf("%w: pivot %d outside 0..%d", ErrDims, k, n-1)
	}
	pivot := s.c.At(k, k)
	if pivot == 0 {
		return fmt.Errorf("%w at %d", ErrZeroPivot, k)
	}

	// C[i][j] -= C[i][k]*C[k][j]/pivot for i, j != k
	for i := 0; i < n; i++ {
		if i == k {
			continue
		}
		cik := s.c.At(i, k)
		if cik == 0 {
			continue
		}
		for j := 0; j < n; j++ {
			if j == k {
				continue
			}
			s.c.Set(i, j, s.c.At(i, j)-cik*s.c.At(k, j)/pivot)
		}
	}

	// forward sweeps scale the pivot row/column by 1/pivot, reverse sweeps by -1/pivot
	scale := 1 / pivot
	if s.swept[k] {
		scale = -scale
	}
	for i := 0; i < n; i++ {
		if i == k {
			continue
		}
		s.c.Set(i, k, s.c.At(i, k)*scale)
		s.c.Set(k, i, s.c.At(k, i)*scale)
	}
	s.c.Set(k, k, -1/pivot)
	s.swept[k] = !s.swept[k]
	return nil
}
