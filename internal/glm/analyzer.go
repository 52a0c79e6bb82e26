package glm

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/wilskk/statify-sub002/internal/dataset"
	"github.com/wilskk/statify-sub002/internal/design"
	"github.com/wilskk/statify-sub002/internal/estimable"
	"github.com/wilskk/statify-sub002/internal/hypothesis"
	"github.com/wilskk/statify-sub002/internal/robust"
	"github.com/wilskk/statify-sub002/internal/sweep"
)

// Analyzer runs analyses with fixed options.
type Analyzer struct {
	logger *zap.Logger
	opts   Options
}

// NewAnalyzer returns an analyzer. A nil logger discards diagnostics.
func NewAnalyzer(logger *zap.Logger, opts Options) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{logger: logger, opts: opts}
}

// Options returns the analyzer's options.
func (a *Analyzer) Options() Options { return a.opts }

// Analyze fits the model declared by spec to table.
func (a *Analyzer) Analyze(ctx context.Context, table *dataset.Table, spec design.Spec) (*Report, error) {
	if err := a.opts.Validate(); err != nil {
		return nil, err
	}
	rep := &Report{
		RequestID: uuid.NewString(),
		SSType:    a.opts.SSType,
		Alpha:     a.opts.Alpha,
	}
	log := a.logger.With(zap.String("request", rep.RequestID))
	log.Debug("Starting analysis",
		zap.String("dependent", spec.Dependent),
		zap.Stringer("ssType", a.opts.SSType))

	m, err := design.Build(table, spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	rep.Matrix = m
	rep.Parameters = m.Parameters
	rep.DesignDigest = Digest(m)
	log.Debug("Design built",
		zap.Int("cases", m.N),
		zap.Int("parameters", m.P),
		zap.Int("rank", m.Rank))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Sweep
	var w mat.Vector
	if m.W != nil {
		w = m.W
	}
	zwz, err := sweep.CrossProduct(m.X, m.Y, w)
	if err != nil {
		return nil, err
	}
	fit, err := sweep.Sweep(zwz, m.P, a.opts.Tolerance)
	if err != nil {
		if errors.Is(err, sweep.ErrSingular) {
			return nil, fmt.Errorf("%w: %w", ErrSingular, err)
		}
		return nil, err
	}
	rep.Fit = fit

	if names := aliasedNames(m, fit); len(names) > 0 {
		rep.Issues = append(rep.Issues, fmt.Errorf("%w: %s", ErrAliased, strings.Join(names, ", ")))
		log.Warn("Aliased parameters", zap.Strings("parameters", names))
	}
	dfErr := m.N - fit.Rank
	if dfErr <= 0 {
		rep.Issues = append(rep.Issues, fmt.Errorf("%w: %d cases, rank %d", ErrRankDeficiency, m.N, fit.Rank))
		log.Warn("Saturated model", zap.Int("cases", m.N), zap.Int("rank", fit.Rank))
	}

	// Hypothesis tests
	rowType := estimable.TypeIII
	if a.opts.SSType == estimable.TypeIV {
		rowType = estimable.TypeIV
	}
	rep.LRows = estimable.Build(m, estimable.Options{Type: rowType, Aliased: fit.Aliased})

	fits := hypothesis.NewFitCache(zwz, a.opts.Tolerance)
	tests, err := a.termTests(ctx, m, rep.LRows, fit, fits)
	if err != nil {
		return nil, err
	}
	for i := range tests {
		tests[i].Complete(fit.RSS, dfErr, a.opts.Alpha)
		if !tests[i].Estimable {
			log.Warn("Term not estimable", zap.String("term", tests[i].Term), zap.String("note", tests[i].Note))
		}
	}
	rep.Tests = tests

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Totals and parameter estimates
	rep.Summary, err = summarize(m, zwz, fit, fits, dfErr, a.opts.Alpha)
	if err != nil {
		return nil, err
	}
	rep.Estimates = estimates(m, fit, dfErr, a.opts.Alpha)

	if a.opts.Robust {
		in := robust.Input{
			X:         m.X,
			Residuals: robust.Residuals(m.X, m.Y, fit.Beta),
			G:         fit.G,
			Aliased:   fit.Aliased,
			Rank:      fit.Rank,
		}
		if m.W != nil {
			in.Weights = m.W.RawVector().Data
		}
		est, err := robust.Covariance(in, a.opts.HC)
		if err != nil {
			return nil, fmt.Errorf("robust covariance: %w", err)
		}
		rep.Robust = est
		applyRobust(rep.Estimates, est, dfErr)
	}

	log.Info("Analysis completed",
		zap.Int("cases", m.N),
		zap.Int("rank", fit.Rank),
		zap.Int("tests", len(rep.Tests)),
		zap.Int("fits", fits.Len()))
	return rep, nil
}

func (a *Analyzer) termTests(ctx context.Context, m *design.Matrix, rows []estimable.Row, fit *sweep.Result, fits *hypothesis.FitCache) ([]hypothesis.Test, error) {
	switch a.opts.SSType {
	case estimable.TypeI:
		tests, _, err := hypothesis.Sequential(ctx, m, fits)
		return tests, err
	case estimable.TypeII:
		return hypothesis.Hierarchical(ctx, m, fits, a.opts.Workers)
	default:
		return hypothesis.TermTests(ctx, m, rows, fit, a.opts.Workers)
	}
}

func aliasedNames(m *design.Matrix, fit *sweep.Result) []string {
	var names []string
	for j, al := range fit.Aliased {
		if al {
			names = append(names, m.Parameters[j])
		}
	}
	return names
}

// Digest hashes the design matrix and its parameter names.
func Digest(m *design.Matrix) uint64 {
	h := xxhash.New()
	for _, p := range m.Parameters {
		_, _ = h.WriteString(p)
		_, _ = h.Write([]byte{0})
	}
	var buf [8]byte
	for i := 0; i < m.N; i++ {
		for j := 0; j < m.P; j++ {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(m.X.At(i, j)))
			_, _ = h.Write(buf[:])
		}
	}
	return h.Sum64()
}
