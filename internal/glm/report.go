package glm

import (
	"errors"

	"github.com/wilskk/statify-sub002/internal/design"
	"github.com/wilskk/statify-sub002/internal/estimable"
	"github.com/wilskk/statify-sub002/internal/hypothesis"
	"github.com/wilskk/statify-sub002/internal/robust"
	"github.com/wilskk/statify-sub002/internal/sweep"
)

// Report is the result of one analysis.
type Report struct {
	RequestID string
	// DesignDigest identifies the design matrix and parameter names.
	DesignDigest uint64

	SSType estimable.Type
	Alpha  float64

	Matrix     *design.Matrix
	Fit        *sweep.Result
	Parameters []string
	LRows      []estimable.Row

	// Tests holds one row per term in term order. Terms without degrees of
	// freedom carry NaN statistics and a Note.
	Tests []hypothesis.Test

	Summary   Summary
	Estimates []Estimate
	Robust    *robust.Estimate

	// Issues lists non-fatal conditions wrapping ErrAliased or
	// ErrRankDeficiency.
	Issues []error
}

// Has reports whether any issue matches target.
func (r *Report) Has(target error) bool {
	for _, err := range r.Issues {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Test returns the row of a declared term.
func (r *Report) Test(name string) (hypothesis.Test, bool) {
	for _, t := range r.Tests {
		if t.Term == name {
			return t, true
		}
	}
	return hypothesis.Test{}, false
}

// Source is a sum-of-squares row with no F test.
type Source struct {
	Name string
	SS   float64
	DF   int
	MS   float64
}

// Summary holds the between-subjects totals.
type Summary struct {
	// CorrectedModel tests all terms but the intercept jointly; without an
	// intercept it is the uncorrected model.
	CorrectedModel hypothesis.Test
	Error          Source
	Total          Source
	// CorrectedTotal is the total about the weighted mean; it equals Total
	// when the model has no intercept.
	CorrectedTotal   Source
	RSquared         float64
	AdjustedRSquared float64
}

// Estimate is one row of the parameter estimates table.
type Estimate struct {
	Name    string
	B       float64
	SE      float64
	T       float64
	P       float64
	Lower   float64
	Upper   float64
	EtaSq   float64
	Aliased bool

	// Robust statistics; NaN unless Options.Robust is set.
	RobustSE float64
	RobustT  float64
	RobustP  float64
}
