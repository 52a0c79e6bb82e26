// Package report renders analysis reports as text tables and CSV.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/wilskk/statify-sub002/internal/design"
	"github.com/wilskk/statify-sub002/internal/estimable"
	"github.com/wilskk/statify-sub002/internal/glm"
	"github.com/wilskk/statify-sub002/internal/hypothesis"
)

// PrintTests writes the between-subjects effects table.
func PrintTests(w io.Writer, rep *glm.Report) {
	fmt.Fprintf(w, "\n=== Tests of Between-Subjects Effects (%v) ===\n", rep.SSType)
	fmt.Fprintf(w, "Dependent variable: %s\n\n", rep.Matrix.Dependent)

	fmt.Fprintf(w, "%-24s | %12s | %4s | %12s | %10s | %8s | %8s | %10s | %8s\n",
		"Source", "SS", "df", "MS", "F", "Sig.", "Eta^2", "Noncent.", "Power")
	fmt.Fprintln(w, strings.Repeat("-", 120))

	row := func(t hypothesis.Test) {
		fmt.Fprintf(w, "%-24s | %12.4f | %4d | %12.4f | %10.4f | %8.6f | %8.4f | %10.4f | %8.4f",
			t.Term, t.SS, t.DF, t.MS, t.F, t.P, t.PartialEtaSq, t.NCP, t.Power)
		if t.Note != "" {
			fmt.Fprintf(w, "  (%s)", t.Note)
		}
		fmt.Fprintln(w)
	}
	source := func(s glm.Source) {
		fmt.Fprintf(w, "%-24s | %12.4f | %4d | %12.4f |\n", s.Name, s.SS, s.DF, s.MS)
	}

	row(rep.Summary.CorrectedModel)
	for _, t := range rep.Tests {
		row(t)
	}
	source(rep.Summary.Error)
	source(rep.Summary.Total)
	source(rep.Summary.CorrectedTotal)

	fmt.Fprintf(w, "\nR Squared = %.4f (Adjusted R Squared = %.4f)\n",
		rep.Summary.RSquared, rep.Summary.AdjustedRSquared)
	for _, err := range rep.Issues {
		fmt.Fprintf(w, "Note: %v\n", err)
	}
}

// PrintEstimates writes the parameter estimates table.
func PrintEstimates(w io.Writer, rep *glm.Report) {
	level := 100 * (1 - rep.Alpha)
	fmt.Fprintln(w, "\n=== Parameter Estimates ===")
	fmt.Fprintf(w, "%-28s | %12s | %10s | %9s | %8s | %12s | %12s | %8s",
		"Parameter", "B", "Std. Error", "t", "Sig.",
		fmt.Sprintf("%.0f%% Lower", level), fmt.Sprintf("%.0f%% Upper", level), "Eta^2")
	if rep.Robust != nil {
		fmt.Fprintf(w, " | %10s | %9s | %8s", "Robust SE", "Robust t", "Sig.")
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("-", 130))

	for _, e := range rep.Estimates {
		if e.Aliased {
			fmt.Fprintf(w, "%-28s | %12.4f | (redundant)\n", e.Name, e.B)
			continue
		}
		fmt.Fprintf(w, "%-28s | %12.4f | %10.4f | %9.4f | %8.6f | %12.4f | %12.4f | %8.4f",
			e.Name, e.B, e.SE, e.T, e.P, e.Lower, e.Upper, e.EtaSq)
		if rep.Robust != nil {
			fmt.Fprintf(w, " | %10.4f | %9.4f | %8.6f", e.RobustSE, e.RobustT, e.RobustP)
		}
		fmt.Fprintln(w)
	}
	if rep.Robust != nil {
		fmt.Fprintf(w, "Robust standard errors: %v\n", rep.Robust.Type)
	}
}

// PrintDesign writes the parameter list, the term map and the factor codings.
func PrintDesign(w io.Writer, m *design.Matrix) {
	fmt.Fprintln(w, "\n=== Design ===")
	fmt.Fprintf(w, "Cases (N):      %d\n", m.N)
	fmt.Fprintf(w, "Parameters (P): %d\n", m.P)
	fmt.Fprintf(w, "Rank:           %d\n\n", m.Rank)

	fmt.Fprintln(w, "Parameters:")
	for j, p := range m.Parameters {
		fmt.Fprintf(w, "  %3d  %s\n", j, p)
	}

	fmt.Fprintln(w, "\nTerms:")
	for _, t := range m.Terms {
		fmt.Fprintf(w, "  %-24s columns %d..%d\n", t.Name, t.First, t.Last)
	}

	for _, f := range m.Factors {
		if f.Coding == nil || f.Coding.Passthrough {
			continue
		}
		fmt.Fprintf(w, "\nFactor %s (%v, pivot %s), levels %s\n",
			f.Name, f.Coding.Method, f.PivotLabel(), strings.Join(f.Labels, ", "))
		fmt.Fprintf(w, "%v\n", mat.Formatted(f.Coding.Coefficients, mat.Prefix("  ")))
	}
}

// PrintLMatrix writes the estimable functions of every term.
func PrintLMatrix(w io.Writer, params []string, rows []estimable.Row) {
	fmt.Fprintln(w, "\n=== Estimable Functions ===")
	for _, r := range rows {
		var parts []string
		for j, c := range r.Coef {
			if c != 0 {
				parts = append(parts, fmt.Sprintf("%+.4g*%s", c, params[j]))
			}
		}
		fmt.Fprintf(w, "%-4s %-16s %s\n     = %s\n", r.Label, r.TermName, r.Description, strings.Join(parts, " "))
	}
}

// PrintTermMap writes term name -> column range sorted by first column.
func PrintTermMap(w io.Writer, m *design.Matrix) {
	tm := m.TermMap()
	names := make([]string, 0, len(tm))
	for n := range tm {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return tm[names[i]][0] < tm[names[j]][0] })
	for _, n := range names {
		fmt.Fprintf(w, "%s\t%d\t%d\n", n, tm[n][0], tm[n][1])
	}
}
