package contrast

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var degreeNames = []string{"", "Linear", "Quadratic", "Cubic"}

// polynomial builds orthonormal polynomial contrasts over equally spaced
// level indices 0..k-1 by classical Gram-Schmidt on the power basis.
func polynomial(name string, k int) (*mat.Dense, []string) {
	basis := make([][]float64, k)
	for p := 0; p < k; p++ {
		v := make([]float64, k)
		for i := 0; i < k; i++ {
			v[i] = math.Pow(float64(i), float64(p))
		}

		// Subtract projections on every previous (unnormalized) vector
		orig := append([]float64(nil), v...)
		for q := 0; q < p; q++ {
			denom := floats.Dot(basis[q], basis[q])
			if denom == 0 {
				continue
			}
			proj := floats.Dot(orig, basis[q]) / denom
			floats.AddScaled(v, -proj, basis[q])
		}
		basis[p] = v
	}

	coef := mat.NewDense(k, k-1, nil)
	labels := make([]string, k-1)
	for p := 1; p < k; p++ {
		norm := floats.Norm(basis[p], 2)
		for i := 0; i < k; i++ {
			if norm > 0 {
				coef.Set(i, p-1, basis[p][i]/norm)
			}
		}
		labels[p-1] = fmt.Sprintf("%s(%s)", name, degreeLabel(p))
	}
	return coef, labels
}

func degreeLabel(p int) string {
	if p < len(degreeNames) {
		return degreeNames[p]
	}
	return fmt.Sprintf("Order %d", p)
}
