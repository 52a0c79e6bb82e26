// Package robust computes heteroskedasticity-consistent (sandwich)
// covariance estimates for least-squares fits.
package robust

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// HCType selects the residual adjustment.
type HCType int

const (
	HC0 HCType = iota
	HC1
	HC2
	HC3
	HC4
)

// Default is the estimator used when none is requested.
const Default = HC3

// negTolerance is how far below zero a variance may fall before it is
// reported as indeterminate rather than clamped.
const negTolerance = 1e-12

var (
	ErrUnknownHC = errors.New("unknown HC type")
	ErrDims      = errors.New("dimension mismatch")
)

func (t HCType) String() string {
	if t < HC0 || t > HC4 {
		return fmt.Sprintf("HCType(%d)", int(t))
	}
	return fmt.Sprintf("HC%d", int(t))
}

// ParseHC accepts "HC0".."HC4" in any case, or the bare digit.
func ParseHC(s string) (HCType, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	if v == "" {
		return Default, nil
	}
	v = strings.TrimPrefix(v, "HC")
	if len(v) == 1 && v[0] >= '0' && v[0] <= '4' {
		return HCType(v[0] - '0'), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownHC, s)
}

// Input is a fitted model as seen by the estimator.
type Input struct {
	// X is the N x P design matrix.
	X mat.Matrix
	// Residuals are y - Xb.
	Residuals []float64
	// Weights are case weights; nil means all ones.
	Weights []float64
	// G is the generalized inverse of X'WX.
	G mat.Symmetric
	// Aliased flags parameters with no estimate.
	Aliased []bool
	Rank    int
}

// Estimate is a robust covariance matrix and its standard errors.
type Estimate struct {
	Type     HCType
	Cov      *mat.SymDense
	SE       []float64
	Leverage []float64
}

// Residuals returns y - Xb.
func Residuals(x mat.Matrix, y, beta mat.Vector) []float64 {
	n, _ := x.Dims()
	var fitted mat.VecDense
	fitted.MulVec(x, beta)
	out := make([]float64, n)
	for i := range out {
		out[i] = y.AtVec(i) - fitted.AtVec(i)
	}
	return out
}

// Leverage returns h_ii = w_i x_i G x_i' for every case.
func Leverage(x mat.Matrix, g mat.Symmetric, weights []float64) []float64 {
	n, _ := x.Dims()
	h := make([]float64, n)
	for i := 0; i < n; i++ {
		row := mat.Row(nil, i, x)
		xi := mat.NewVecDense(len(row), row)
		h[i] = weightAt(weights, i) * mat.Inner(xi, g, xi)
	}
	return h
}

// Covariance computes G (X' diag(sqrt w) Omega diag(sqrt w) X) G.
func Covariance(in Input, typ HCType) (*Estimate, error) {
	if typ < HC0 || typ > HC4 {
		return nil, fmt.Errorf("%w: %v", ErrUnknownHC, typ)
	}
	n, p := in.X.Dims()
	if len(in.Residuals) != n {
		return nil, fmt.Errorf("%w: %d residuals for %d cases", ErrDims, len(in.Residuals), n)
	}
	if in.Weights != nil && len(in.Weights) != n {
		return nil, fmt.Errorf("%w: %d weights for %d cases", ErrDims, len(in.Weights), n)
	}
	if in.G.SymmetricDim() != p {
		return nil, fmt.Errorf("%w: G is %d, X has %d columns", ErrDims, in.G.SymmetricDim(), p)
	}

	if n == 0 || p == 0 {
		return &Estimate{Type: typ, Cov: &mat.SymDense{}}, nil
	}
	h := Leverage(in.X, in.G, in.Weights)

	// rows of X scaled by sqrt(w_i * omega_i)
	z := mat.NewDense(n, p, nil)
	for i := 0; i < n; i++ {
		w := weightAt(in.Weights, i)
		u := w * in.Residuals[i] * in.Residuals[i]
		s := math.Sqrt(w * omega(u, h[i], n, in.Rank, typ))
		for j := 0; j < p; j++ {
			z.Set(i, j, s*in.X.At(i, j))
		}
	}
	meat := mat.NewSymDense(p, nil)
	meat.SymOuterK(1, z.T())

	var gm, sandwich mat.Dense
	gm.Mul(in.G, meat)
	sandwich.Mul(&gm, in.G)

	cov := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			cov.SetSym(i, j, (sandwich.At(i, j)+sandwich.At(j, i))/2)
		}
	}

	se := make([]float64, p)
	for j := range se {
		d := cov.At(j, j)
		switch {
		case j < len(in.Aliased) && in.Aliased[j]:
			se[j] = math.NaN()
		case d < -negTolerance*math.Max(1, floats.Max(diag(cov))):
			se[j] = math.NaN()
		case d < 0:
			se[j] = 0
		default:
			se[j] = math.Sqrt(d)
		}
	}
	return &Estimate{Type: typ, Cov: cov, SE: se, Leverage: h}, nil
}

// omega returns the adjusted squared residual of one case.
func omega(u, h float64, n, rank int, typ HCType) float64 {
	oneMinus := 1 - h
	degenerate := oneMinus <= 0 || math.Abs(oneMinus) <= eps
	switch typ {
	case HC1:
		if n <= rank {
			return u
		}
		return u * float64(n) / float64(n-rank)
	case HC2:
		if degenerate {
			return u
		}
		return u / oneMinus
	case HC3:
		if degenerate {
			return 0
		}
		return u / (oneMinus * oneMinus)
	case HC4:
		if degenerate || rank <= 0 {
			return 0
		}
		delta := math.Min(4, float64(n)*h/float64(rank))
		return u / math.Pow(oneMinus, delta)
	default:
		return u
	}
}

var eps = math.Nextafter(1, 2) - 1

func weightAt(w []float64, i int) float64 {
	if w == nil {
		return 1
	}
	return w[i]
}

func diag(s *mat.SymDense) []float64 {
	n := s.SymmetricDim()
	d := make([]float64, n)
	for i := range d {
		d[i] = s.At(i, i)
	}
	return d
}
