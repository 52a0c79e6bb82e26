// Package glm runs one general linear model analysis: it builds the design
// matrix, sweeps the cross-product, and assembles hypothesis tests,
// between-subjects totals and parameter estimates into a Report.
package glm

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/wilskk/statify-sub002/internal/estimable"
	"github.com/wilskk/statify-sub002/internal/robust"
	"github.com/wilskk/statify-sub002/internal/sweep"
)

var (
	// ErrConfiguration reports a request that cannot be analyzed as given.
	ErrConfiguration = errors.New("invalid analysis configuration")
	// ErrSingular reports a model in which no parameter could be estimated.
	ErrSingular = errors.New("singular design")
	// ErrAliased reports parameters that are linear combinations of earlier
	// ones. It is never fatal.
	ErrAliased = errors.New("aliased parameters")
	// ErrRankDeficiency reports a saturated model with no error degrees of
	// freedom. Tests are kept with NaN statistics.
	ErrRankDeficiency = errors.New("no error degrees of freedom")
)

// Options control an analysis.
type Options struct {
	SSType estimable.Type
	Alpha  float64
	// Robust adds HC standard errors to the parameter estimates.
	Robust bool
	HC     robust.HCType
	// Workers bounds concurrent term tests; <= 0 uses NumCPU.
	Workers   int
	Tolerance float64
}

// DefaultOptions returns Type III tests at alpha 0.05 with HC3 robust errors
// available but off.
func DefaultOptions() Options {
	return Options{
		SSType:    estimable.TypeIII,
		Alpha:     0.05,
		HC:        robust.Default,
		Workers:   runtime.NumCPU(),
		Tolerance: sweep.DefaultTolerance,
	}
}

// Validate checks option ranges.
func (o Options) Validate() error {
	if o.SSType < estimable.TypeI || o.SSType > estimable.TypeIV {
		return fmt.Errorf("%w: sum of squares %v", ErrConfiguration, o.SSType)
	}
	if !(o.Alpha > 0 && o.Alpha < 1) {
		return fmt.Errorf("%w: alpha %v outside (0, 1)", ErrConfiguration, o.Alpha)
	}
	if o.HC < robust.HC0 || o.HC > robust.HC4 {
		return fmt.Errorf("%w: %v", ErrConfiguration, o.HC)
	}
	if o.Tolerance < 0 {
		return fmt.Errorf("%w: negative tolerance", ErrConfiguration)
	}
	return nil
}
