// Package design assembles the numeric design matrix of a general linear
// model from factors, covariates and their interactions.
package design

import (
	"errors"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/wilskk/statify-sub002/internal/contrast"
)

var (
	ErrNoDependent      = errors.New("no dependent variable")
	ErrNoCases          = errors.New("no valid cases")
	ErrNoColumns        = errors.New("no columns generated")
	ErrBadInteraction   = errors.New("malformed interaction")
	ErrDuplicateTerm    = errors.New("duplicate model term")
	ErrUnknownComponent = errors.New("not a declared factor or covariate")
)

// RoleKind is the role a variable or term plays in the model.
type RoleKind int

const (
	RoleIntercept RoleKind = iota
	RoleFactor
	RoleCovariate
	RoleInteraction
)

func (r RoleKind) String() string {
	switch r {
	case RoleIntercept:
		return "intercept"
	case RoleFactor:
		return "factor"
	case RoleCovariate:
		return "covariate"
	case RoleInteraction:
		return "interaction"
	}
	return "unknown"
}

// Role is one declared model term.
type Role struct {
	Kind RoleKind
	Name string
	// Components lists the variables of an interaction in declared order.
	Components []string
}

// FactorSpec declares a categorical variable and how it is coded.
type FactorSpec struct {
	Name      string
	Method    contrast.Method
	Reference contrast.Reference
}

// Spec declares the variables of one analysis request.
type Spec struct {
	Dependent  string
	Intercept  bool
	Factors    []FactorSpec
	Covariates []string
	// Interactions are "A*B" style token strings.
	Interactions []string
	// Terms optionally fixes the model term order; entries are factor or
	// covariate names and "A*B" interactions.
	Terms []string
	// Weight names an optional case-weight variable.
	Weight string
	// CaseID names an optional case-identifier variable.
	CaseID string
}

// TermID indexes Matrix.Terms.
type TermID int

// Term is a contiguous block of design columns.
type Term struct {
	ID   TermID
	Name string
	Kind RoleKind
	// Components in declared order (the term itself for main effects)
	Components []string
	// Factors holds the factor index of every factor component, in order.
	Factors []int
	// Covariates holds the covariate components, in order.
	Covariates []string
	First      int
	Last       int
}

// Columns returns the number of columns in the term.
func (t Term) Columns() int { return t.Last - t.First + 1 }

// Contains reports whether every component of o is a component of t.
func (t Term) Contains(o Term) bool {
	if t.Kind == RoleIntercept || o.Kind == RoleIntercept {
		return false
	}
	for _, c := range o.Components {
		found := false
		for _, d := range t.Components {
			if c == d {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// FactorDetail describes a coded factor.
type FactorDetail struct {
	Name string
	// Levels are the sorted unique observed values.
	Levels []float64
	// Labels are the printable level values.
	Labels []string
	// Reference is the first level after sorting.
	Reference string
	// Pivot indexes the level coded as the contrast's reference row.
	Pivot  int
	Coding *contrast.Coding
}

// PivotLabel returns the label of the pivot level.
func (f FactorDetail) PivotLabel() string { return f.Labels[f.Pivot] }

// Column records how one design column was generated.
type Column struct {
	Term TermID
	// Factors and Codes are parallel: column Codes[i] of factor Factors[i]'s coding.
	Factors []int
	Codes   []int
	// Covariates multiplied into this column.
	Covariates []string
}

// CovariateKey returns a canonical key for the column's covariate set.
func (c Column) CovariateKey() string { return covariateKey(c.Covariates) }

// Matrix is the assembled design.
type Matrix struct {
	Dependent string

	// X is N x P
	X *mat.Dense
	// Y holds the dependent variable of the retained cases.
	Y *mat.VecDense
	// W holds case weights; nil when unweighted.
	W *mat.VecDense

	Terms   []Term
	Factors []FactorDetail
	Columns []Column
	// Parameters is aligned with the columns of X.
	Parameters []string

	// LevelIndex[f][i] is the level index of factor f for case i.
	LevelIndex [][]int
	// Rows maps each case to its row in the source table.
	Rows    []int
	CaseIDs []float64

	N    int
	P    int
	Rank int
}

// Weight returns the weight of case i (1 when unweighted).
func (m *Matrix) Weight(i int) float64 {
	if m.W == nil {
		return 1
	}
	return m.W.AtVec(i)
}

// TermByName looks up a term.
func (m *Matrix) TermByName(name string) (Term, bool) {
	key := canonicalName(name)
	for _, t := range m.Terms {
		if t.Name == key {
			return t, true
		}
	}
	return Term{}, false
}

// FactorByName returns the index of a factor in Factors.
func (m *Matrix) FactorByName(name string) (int, bool) {
	for i, f := range m.Factors {
		if f.Name == name {
			return i, true
		}
	}
	return 0, false
}

// TermMap returns term name -> [first, last] column range.
func (m *Matrix) TermMap() map[string][2]int {
	out := make(map[string][2]int, len(m.Terms))
	for _, t := range m.Terms {
		out[t.Name] = [2]int{t.First, t.Last}
	}
	return out
}

// TermColumns returns the column indexes of the given terms, in column order.
func (m *Matrix) TermColumns(ids []TermID) []int {
	var cols []int
	for _, id := range ids {
		t := m.Terms[id]
		for c := t.First; c <= t.Last; c++ {
			cols = append(cols, c)
		}
	}
	return cols
}

func canonicalName(s string) string {
	parts := strings.Split(s, "*")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return strings.Join(parts, "*")
}

func covariateKey(covs []string) string {
	return strings.Join(sortedCopy(covs), "*")
}
