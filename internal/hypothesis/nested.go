package hypothesis

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"
	"gonum.org/v1/gonum/mat"

	"github.com/wilskk/statify-sub002/internal/design"
	"github.com/wilskk/statify-sub002/internal/sweep"
)

// ModelState is a fitted sub-model: the terms it includes and its fit.
// States are never modified once built.
type ModelState struct {
	Included []design.TermID
	Fit      *sweep.Result
}

// With returns the state that adds one term to s.
func (s ModelState) With(m *design.Matrix, fits *FitCache, id design.TermID) (ModelState, error) {
	included := append(slices.Clone(s.Included), id)
	fit, err := fits.Fit(m.TermColumns(included))
	if err != nil {
		return ModelState{}, err
	}
	return ModelState{Included: included, Fit: fit}, nil
}

// Sequential computes Type I sums of squares: each term's SS is the drop in
// residual sum of squares when it is added after the terms before it. The
// returned states are the nested models, starting with the empty model.
func Sequential(ctx context.Context, m *design.Matrix, fits *FitCache) ([]Test, []ModelState, error) {
	empty, err := fits.Fit(nil)
	if err != nil {
		return nil, nil, err
	}
	states := []ModelState{{Fit: empty}}
	tests := make([]Test, len(m.Terms))

	for i, term := range m.Terms {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		before := states[len(states)-1]
		after, err := before.With(m, fits, term.ID)
		if err != nil {
			tests[i] = failedTest(term, err)
			states = append(states, before)
			continue
		}
		tests[i] = dropTest(term, before.Fit, after.Fit)
		states = append(states, after)
	}
	return tests, states, nil
}

// Hierarchical computes Type II sums of squares: each term is adjusted for
// every term that does not contain it. Nested fits run on a worker pool.
func Hierarchical(ctx context.Context, m *design.Matrix, fits *FitCache, workers int) ([]Test, error) {
	nTerms := len(m.Terms)
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > nTerms {
		workers = nTerms
	}
	tests := make([]Test, nTerms)
	if nTerms == 0 {
		return tests, nil
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)

	worker := func() {
		defer wg.Done()
		for i := range jobs {
			term := m.Terms[i]
			if err := ctx.Err(); err != nil {
				tests[i] = failedTest(term, err)
				continue
			}

			var reduced []design.TermID
			for _, other := range m.Terms {
				if other.ID == term.ID || containsTerm(other, term) {
					continue
				}
				reduced = append(reduced, other.ID)
			}
			without, err := fits.Fit(m.TermColumns(reduced))
			if err != nil {
				tests[i] = failedTest(term, err)
				continue
			}
			with, err := fits.Fit(m.TermColumns(insertSorted(reduced, term.ID)))
			if err != nil {
				tests[i] = failedTest(term, err)
				continue
			}
			tests[i] = dropTest(term, without, with)
		}
	}

	for w := 0; w < workers; w++ {
		go worker()
	}

	// Feed jobs
	go func() {
		defer close(jobs)
		for i := 0; i < nTerms; i++ {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return tests, nil
}

// containsTerm reports whether outer contains inner in the Type II sense.
// Every term other than the intercept contains the intercept.
func containsTerm(outer, inner design.Term) bool {
	if inner.Kind == design.RoleIntercept {
		return outer.Kind != design.RoleIntercept
	}
	return outer.Contains(inner)
}

func insertSorted(ids []design.TermID, id design.TermID) []design.TermID {
	out := append(slices.Clone(ids), id)
	slices.Sort(out)
	return out
}

func dropTest(term design.Term, without, with *sweep.Result) Test {
	ss := without.RSS - with.RSS
	if ss < 0 {
		ss = 0
	}
	df := with.Rank - without.Rank
	if df <= 0 {
		ss, df = 0, 0
	}
	return Test{TermID: term.ID, Term: term.Name, SS: ss, DF: df}
}

func failedTest(term design.Term, err error) Test {
	return Test{TermID: term.ID, Term: term.Name, Note: err.Error()}
}

// FitCache memoizes sub-model fits of one augmented cross-product by
// column set. It is safe for concurrent use.
type FitCache struct {
	zwz *mat.SymDense
	tol float64

	mu   sync.Mutex
	fits map[uint64][]cachedFit
}

type cachedFit struct {
	cols []int
	fit  *sweep.Result
}

// NewFitCache wraps the full-model cross-product.
func NewFitCache(zwz *mat.SymDense, tol float64) *FitCache {
	return &FitCache{zwz: zwz, tol: tol, fits: make(map[uint64][]cachedFit)}
}

// Fit returns the fit of the sub-model with the given columns. A sub-model
// whose columns are all aliased still has a valid residual sum of squares.
func (c *FitCache) Fit(cols []int) (*sweep.Result, error) {
	key := columnsKey(cols)

	c.mu.Lock()
	for _, e := range c.fits[key] {
		if slices.Equal(e.cols, cols) {
			c.mu.Unlock()
			return e.fit, nil
		}
	}
	c.mu.Unlock()

	fit, err := sweep.Fit(c.zwz, cols, c.tol)
	if err != nil && !errors.Is(err, sweep.ErrSingular) {
		return nil, fmt.Errorf("fit %d columns: %w", len(cols), err)
	}

	c.mu.Lock()
	c.fits[key] = append(c.fits[key], cachedFit{cols: slices.Clone(cols), fit: fit})
	c.mu.Unlock()
	return fit, nil
}

// Len returns the number of cached fits.
func (c *FitCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, es := range c.fits {
		n += len(es)
	}
	return n
}

func columnsKey(cols []int) uint64 {
	buf := make([]byte, 8*len(cols))
	for i, c := range cols {
		binary.LittleEndian.PutUint64(buf[8*i:], uint64(c))
	}
	return xxhash.Sum64(buf)
}
