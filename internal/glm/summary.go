package glm

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/wilskk/statify-sub002/internal/design"
	"github.com/wilskk/statify-sub002/internal/hypothesis"
	"github.com/wilskk/statify-sub002/internal/robust"
	"github.com/wilskk/statify-sub002/internal/sweep"
)

// summarize builds the between-subjects totals. With an intercept the
// corrected model is tested against the intercept-only model.
func summarize(m *design.Matrix, zwz mat.Symmetric, fit *sweep.Result, fits *hypothesis.FitCache, dfErr int, alpha float64) (Summary, error) {
	nan := math.NaN()
	yWy := zwz.At(m.P, m.P)

	s := Summary{
		Total: Source{Name: "Total", SS: yWy, DF: m.N, MS: nan},
		Error: Source{Name: "Error", SS: fit.RSS, DF: dfErr, MS: nan},
	}
	if dfErr > 0 {
		s.Error.MS = fit.RSS / float64(dfErr)
	}

	var intercept *design.Term
	for i := range m.Terms {
		if m.Terms[i].Kind == design.RoleIntercept {
			intercept = &m.Terms[i]
			break
		}
	}

	if intercept != nil {
		base, err := fits.Fit(m.TermColumns([]design.TermID{intercept.ID}))
		if err != nil {
			return Summary{}, err
		}
		s.CorrectedTotal = Source{Name: "Corrected Total", SS: base.RSS, DF: m.N - 1, MS: nan}
		s.CorrectedModel = hypothesis.Test{
			TermID: -1,
			Term:   "Corrected Model",
			SS:     math.Max(0, base.RSS-fit.RSS),
			DF:     fit.Rank - base.Rank,
		}
	} else {
		s.CorrectedTotal = s.Total
		s.CorrectedTotal.Name = "Corrected Total"
		s.CorrectedModel = hypothesis.Test{
			TermID: -1,
			Term:   "Model",
			SS:     math.Max(0, yWy-fit.RSS),
			DF:     fit.Rank,
		}
	}
	s.CorrectedModel.Complete(fit.RSS, dfErr, alpha)

	s.RSquared, s.AdjustedRSquared = nan, nan
	if s.CorrectedTotal.SS > 0 {
		s.RSquared = s.CorrectedModel.SS / s.CorrectedTotal.SS
		if dfErr > 0 {
			s.AdjustedRSquared = 1 - (1-s.RSquared)*float64(s.CorrectedTotal.DF)/float64(dfErr)
		}
	}
	return s, nil
}

// estimates builds the parameter estimates table.
func estimates(m *design.Matrix, fit *sweep.Result, dfErr int, alpha float64) []Estimate {
	nan := math.NaN()
	out := make([]Estimate, m.P)

	mse := nan
	var tDist distuv.StudentsT
	crit := nan
	if dfErr > 0 {
		mse = fit.RSS / float64(dfErr)
		tDist = distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(dfErr)}
		crit = tDist.Quantile(1 - alpha/2)
	}

	for j := range out {
		e := Estimate{
			Name: m.Parameters[j],
			SE:   nan, T: nan, P: nan, Lower: nan, Upper: nan, EtaSq: nan,
			RobustSE: nan, RobustT: nan, RobustP: nan,
		}
		if fit.Aliased[j] {
			e.Aliased = true
			out[j] = e
			continue
		}
		e.B = fit.Beta.AtVec(j)
		if dfErr > 0 {
			e.SE = math.Sqrt(mse * fit.G.At(j, j))
			e.T = e.B / e.SE
			e.P = twoSided(tDist, e.T)
			e.Lower = e.B - crit*e.SE
			e.Upper = e.B + crit*e.SE
			t2 := e.T * e.T
			e.EtaSq = t2 / (t2 + float64(dfErr))
		}
		out[j] = e
	}
	return out
}

func applyRobust(est []Estimate, rob *robust.Estimate, dfErr int) {
	var tDist distuv.StudentsT
	if dfErr > 0 {
		tDist = distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(dfErr)}
	}
	for j := range est {
		if est[j].Aliased || j >= len(rob.SE) {
			continue
		}
		est[j].RobustSE = rob.SE[j]
		est[j].RobustT = est[j].B / rob.SE[j]
		if dfErr > 0 {
			est[j].RobustP = twoSided(tDist, est[j].RobustT)
		}
	}
}

func twoSided(t distuv.StudentsT, stat float64) float64 {
	if math.IsNaN(stat) {
		return math.NaN()
	}
	return 2 * (1 - t.CDF(math.Abs(stat)))
}
