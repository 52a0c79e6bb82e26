// Package hypothesis computes sums of squares and F tests for model terms.
package hypothesis

import (
	"context"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/wilskk/statify-sub002/internal/design"
	"github.com/wilskk/statify-sub002/internal/estimable"
	"github.com/wilskk/statify-sub002/internal/sweep"
)

// RankTolerance is the relative singular-value cutoff for rank(LGL').
const RankTolerance = 1e-8

// Test is the hypothesis test of one term.
type Test struct {
	TermID design.TermID
	Term   string

	SS           float64
	DF           int
	MS           float64
	F            float64
	P            float64
	PartialEtaSq float64
	NCP          float64
	Power        float64

	// Estimable is false when the term's hypothesis has zero degrees of freedom.
	Estimable bool
	Note      string
}

// Evaluate returns SS_H = (Lb)' pinv(LGL') (Lb) and df = rank(LGL').
// A nil L has no degrees of freedom.
func Evaluate(L mat.Matrix, fit *sweep.Result) (float64, int) {
	if L == nil {
		return 0, 0
	}
	if d, ok := L.(*mat.Dense); ok && d == nil {
		return 0, 0
	}
	r, _ := L.Dims()

	var lb mat.VecDense
	lb.MulVec(L, fit.Beta)

	var lg, lgl mat.Dense
	lg.Mul(L, fit.G)
	lgl.Mul(&lg, L.T())

	var svd mat.SVD
	if !svd.Factorize(&lgl, mat.SVDThin) {
		return math.NaN(), 0
	}
	sv := svd.Values(nil)
	if len(sv) == 0 || sv[0] <= 0 {
		return 0, 0
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	df := 0
	ss := 0.0
	for i := 0; i < r && i < len(sv); i++ {
		if sv[i] <= RankTolerance*sv[0] {
			break
		}
		df++
		var ui, vi float64
		for j := 0; j < r; j++ {
			ui += u.At(j, i) * lb.AtVec(j)
			vi += v.At(j, i) * lb.AtVec(j)
		}
		ss += ui * vi / sv[i]
	}
	if df == 0 {
		return 0, 0
	}
	if ss < 0 {
		ss = 0
	}
	return ss, df
}

// Complete fills in the statistics derived from SS and DF given the error
// sum of squares and its degrees of freedom.
func (t *Test) Complete(errSS float64, dfErr int, alpha float64) {
	nan := math.NaN()
	t.MS, t.F, t.P, t.PartialEtaSq, t.NCP, t.Power = nan, nan, nan, nan, nan, nan
	if t.DF <= 0 {
		t.Estimable = false
		t.SS = 0
		if t.Note == "" {
			t.Note = "not estimable"
		}
		return
	}
	t.Estimable = true
	t.MS = t.SS / float64(t.DF)
	if t.SS+errSS > 0 {
		t.PartialEtaSq = t.SS / (t.SS + errSS)
	}
	if dfErr <= 0 {
		if t.Note == "" {
			t.Note = "no error degrees of freedom"
		}
		return
	}

	mse := errSS / float64(dfErr)
	if mse <= 0 {
		return
	}
	t.F = t.MS / mse
	t.NCP = t.F * float64(t.DF)

	if t.F <= 0 || math.IsInf(t.F, 0) {
		t.P = 1
		if t.F > 0 {
			t.P = 0
		}
	} else {
		fDist := distuv.F{D1: float64(t.DF), D2: float64(dfErr)}
		t.P = 1.0 - fDist.CDF(t.F)
	}
	t.P = clamp01(t.P)
	t.Power = ObservedPower(float64(t.DF), float64(dfErr), t.NCP, alpha)
}

// TermTests evaluates one L-matrix test per term. Terms are evaluated
// concurrently on at most workers goroutines; workers <= 0 uses NumCPU.
func TermTests(ctx context.Context, m *design.Matrix, rows []estimable.Row, fit *sweep.Result, workers int) ([]Test, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	out := make([]Test, len(m.Terms))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, term := range m.Terms {
		i, term := i, term
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = Test{TermID: term.ID, Term: term.Name}
			// a term whose parameters are all aliased has no rows
			if L := estimable.ForTerm(rows, term.ID); L != nil {
				out[i].SS, out[i].DF = Evaluate(L, fit)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func clamp01(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
