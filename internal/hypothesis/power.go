package hypothesis

import (
	"math"

	"gonum.org/v1/gonum/mathext"
)

// maxPoissonTerms bounds the Poisson mixture in NoncentralFCDF.
const maxPoissonTerms = 10000

// FQuantile returns the q-quantile of the central F distribution.
func FQuantile(q, d1, d2 float64) float64 {
	if q <= 0 {
		return 0
	}
	if q >= 1 {
		return math.Inf(1)
	}
	x := mathext.InvRegIncBeta(d1/2, d2/2, q)
	if x >= 1 {
		return math.Inf(1)
	}
	return d2 * x / (d1 * (1 - x))
}

// NoncentralFCDF returns P(F <= f) for the non-central F distribution with
// non-centrality lambda, as a Poisson mixture of incomplete beta functions.
// It returns NaN when the mixture does not converge within maxPoissonTerms.
func NoncentralFCDF(f, d1, d2, lambda float64) float64 {
	if f <= 0 {
		return 0
	}
	if math.IsInf(f, 1) {
		return 1
	}
	x := d1 * f / (d1*f + d2)
	half := lambda / 2
	if half <= 0 {
		return mathext.RegIncBeta(d1/2, d2/2, x)
	}

	// Poisson weights, summed outward from the mode
	mode := math.Floor(half)
	logHalf := math.Log(half)
	term := func(j float64) (float64, float64) {
		lg, _ := math.Lgamma(j + 1)
		w := math.Exp(-half + j*logHalf - lg)
		return w, w * mathext.RegIncBeta(d1/2+j, d2/2, x)
	}

	sum, weight := term(mode)
	for k := 1; k < maxPoissonTerms; k++ {
		wUp, up := term(mode + float64(k))
		sum += up
		weight += wUp
		wDown := 0.0
		if j := mode - float64(k); j >= 0 {
			var down float64
			wDown, down = term(j)
			sum += down
			weight += wDown
		}
		if wUp <= 1e-17*weight && wDown <= 1e-17*weight {
			break
		}
	}
	if math.Abs(1-weight) > 1e-8 {
		return math.NaN()
	}
	return clamp01(sum)
}

// ObservedPower is the probability of rejecting at level alpha when the
// non-centrality equals lambda.
func ObservedPower(d1, d2, lambda, alpha float64) float64 {
	if d1 <= 0 || d2 <= 0 || math.IsNaN(lambda) || alpha <= 0 || alpha >= 1 {
		return math.NaN()
	}
	crit := FQuantile(1-alpha, d1, d2)
	if math.IsInf(crit, 1) {
		return 0
	}
	return clamp01(1 - NoncentralFCDF(crit, d1, d2, lambda))
}
