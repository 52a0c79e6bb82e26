// Package contrast codes a categorical variable's levels as numeric columns.
package contrast

import (
	"errors"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Method selects a coding scheme.
type Method int

// Coding schemes
const (
	Indicator Method = iota
	Simple
	Deviation
	Difference
	Helmert
	Repeated
	Polynomial
)

var methodNames = [...]string{
	Indicator:  "indicator",
	Simple:     "simple",
	Deviation:  "deviation",
	Difference: "difference",
	Helmert:    "helmert",
	Repeated:   "repeated",
	Polynomial: "polynomial",
}

func (m Method) String() string {
	if m < 0 || int(m) >= len(methodNames) {
		return fmt.Sprintf("Method(%d)", int(m))
	}
	return methodNames[m]
}

// ParseMethod parses a case-insensitive method name. "dummy" is an alias for indicator.
func ParseMethod(s string) (Method, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "dummy" {
		return Indicator, nil
	}
	for m, name := range methodNames {
		if name == s {
			return Method(m), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMethod, s)
}

// Reference selects which level is the reference (omitted) level.
type Reference int

const (
	Last Reference = iota
	First
)

func (r Reference) String() string {
	if r == First {
		return "first"
	}
	return "last"
}

// ParseReference parses "first" or "last".
func ParseReference(s string) (Reference, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "last":
		return Last, nil
	case "first":
		return First, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownReference, s)
}

var (
	ErrUnknownMethod    = errors.New("unknown contrast method")
	ErrUnknownReference = errors.New("unknown reference level")
)

// Coding is the result of coding one factor.
type Coding struct {
	Method Method
	// Coefficients is k x (k-1); row i codes level i.
	Coefficients *mat.Dense
	// Labels has one entry per column.
	Labels []string
	// Pivot is the index of the reference level.
	Pivot int
	// Passthrough is set for factors with fewer than two levels:
	// the variable is used as its raw numeric column.
	Passthrough bool
}

// Columns returns the number of coded columns.
func (c *Coding) Columns() int {
	return len(c.Labels)
}

// At returns the coded value of level i in column j.
func (c *Coding) At(i, j int) float64 {
	return c.Coefficients.At(i, j)
}

// Encode codes a factor whose sorted unique level labels are given.
// The reference only affects Indicator, Simple and Deviation; the ordered
// schemes always follow level order and use the last level as pivot.
func Encode(name string, levels []string, ref Reference, method Method) (*Coding, error) {
	k := len(levels)
	if k < 2 {
		return &Coding{
			Method:       method,
			Coefficients: mat.NewDense(1, 1, []float64{1}),
			Labels:       []string{name},
			Passthrough:  true,
		}, nil
	}

	pivot := k - 1
	if ref == First {
		pivot = 0
	}

	var (
		coef   *mat.Dense
		labels []string
	)
	switch method {
	case Indicator:
		coef, labels = indicator(name, levels, pivot)
	case Simple:
		coef, labels = simple(name, levels, pivot)
	case Deviation:
		coef, labels = deviation(name, levels, pivot)
	case Difference:
		coef, labels = difference(name, levels)
		pivot = k - 1
	case Helmert:
		coef, labels = helmert(name, levels)
		pivot = k - 1
	case Repeated:
		coef, labels = repeated(name, levels)
		pivot = k - 1
	case Polynomial:
		coef, labels = polynomial(name, k)
		pivot = k - 1
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownMethod, method)
	}

	return &Coding{
		Method:       method,
		Coefficients: coef,
		Labels:       labels,
		Pivot:        pivot,
	}, nil
}

// targets lists the non-pivot levels in order.
func targets(k, pivot int) []int {
	out := make([]int, 0, k-1)
	for i := 0; i < k; i++ {
		if i != pivot {
			out = append(out, i)
		}
	}
	return out
}

func indicator(name string, levels []string, pivot int) (*mat.Dense, []string) {
	k := len(levels)
	coef := mat.NewDense(k, k-1, nil)
	labels := make([]string, 0, k-1)
	for j, lvl := range targets(k, pivot) {
		coef.Set(lvl, j, 1)
		labels = append(labels, name+"="+levels[lvl])
	}
	return coef, labels
}

func simple(name string, levels []string, pivot int) (*mat.Dense, []string) {
	k := len(levels)
	fk := float64(k)
	coef := mat.NewDense(k, k-1, nil)
	labels := make([]string, 0, k-1)
	for j, lvl := range targets(k, pivot) {
		for i := 0; i < k; i++ {
			if i == lvl {
				coef.Set(i, j, (fk-1)/fk)
			} else {
				coef.Set(i, j, -1/fk)
			}
		}
		labels = append(labels, fmt.Sprintf("%s(%s)", name, levels[lvl]))
	}
	return coef, labels
}

func deviation(name string, levels []string, pivot int) (*mat.Dense, []string) {
	k := len(levels)
	coef := mat.NewDense(k, k-1, nil)
	labels := make([]string, 0, k-1)
	for j, lvl := range targets(k, pivot) {
		coef.Set(lvl, j, 1)
		coef.Set(pivot, j, -1)
		labels = append(labels, fmt.Sprintf("%s(%s)", name, levels[lvl]))
	}
	return coef, labels
}

// difference compares each level with the mean of the earlier levels.
func difference(name string, levels []string) (*mat.Dense, []string) {
	k := len(levels)
	coef := mat.NewDense(k, k-1, nil)
	labels := make([]string, k-1)
	for j := 1; j < k; j++ {
		fj := float64(j)
		for i := 0; i < j; i++ {
			coef.Set(i, j-1, -1/(fj+1))
		}
		coef.Set(j, j-1, fj/(fj+1))
		labels[j-1] = fmt.Sprintf("%s(Level %s)", name, levels[j])
	}
	return coef, labels
}

// helmert compares each level with the mean of the later levels.
func helmert(name string, levels []string) (*mat.Dense, []string) {
	k := len(levels)
	coef := mat.NewDense(k, k-1, nil)
	labels := make([]string, k-1)
	for j := 0; j < k-1; j++ {
		rest := float64(k - j)
		coef.Set(j, j, (rest-1)/rest)
		for i := j + 1; i < k; i++ {
			coef.Set(i, j, -1/rest)
		}
		labels[j] = fmt.Sprintf("%s(Level %s)", name, levels[j])
	}
	return coef, labels
}

// repeated compares adjacent levels.
func repeated(name string, levels []string) (*mat.Dense, []string) {
	k := len(levels)
	fk := float64(k)
	coef := mat.NewDense(k, k-1, nil)
	labels := make([]string, k-1)
	for j := 1; j < k; j++ {
		fj := float64(j)
		for i := 0; i < k; i++ {
			if i < j {
				coef.Set(i, j-1, (fk-fj)/fk)
			} else {
				coef.Set(i, j-1, -fj/fk)
			}
		}
		labels[j-1] = fmt.Sprintf("%s(Level %s)", name, levels[j-1])
	}
	return coef, labels
}
