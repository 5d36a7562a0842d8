// Package imm implements an Interacting Multiple Model (IMM) estimator.
//
// The estimator fuses N concurrently-running model filters (each a
// hypothesis about the target's dynamics, e.g. constant velocity vs
// coordinated turn) into a single combined state estimate, re-weighting
// each model every cycle by how well its prediction explains the incoming
// measurements. The per-model filters are external collaborators supplied
// at construction; the estimator owns them for its lifetime and mutates
// their state and covariance in place during mixing.
package imm

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/modetrack/internal/monitoring"
)

// ModelFilter is the capability the estimator requires from each model
// hypothesis. Any one-step predictive estimator (Kalman variant or
// otherwise) qualifies, as long as it exposes its state, covariance and
// the scalar likelihood of the last measurement.
//
// State and Covariance return live references: the estimator overwrites
// them through SetState/SetCovariance during mixing. A filter must not be
// shared between two estimator instances.
type ModelFilter interface {
	// Dim returns the state dimension. All filters in one estimator must
	// report the same dimension.
	Dim() int
	// State returns the current state vector.
	State() *mat.VecDense
	// SetState overwrites the state vector.
	SetState(x *mat.VecDense)
	// Covariance returns the current state covariance.
	Covariance() *mat.SymDense
	// SetCovariance overwrites the state covariance.
	SetCovariance(p *mat.SymDense)
	// Predict propagates state and covariance one step forward. The
	// control input may be nil.
	Predict(control *mat.VecDense) error
	// Update incorporates a measurement and refreshes Likelihood.
	Update(measurement *mat.VecDense) error
	// Likelihood reports how well the last measurement agreed with this
	// model's prediction, as set by Update.
	Likelihood() float64
}

const transitionRowSumTolerance = 1e-9

// Estimator fuses N model filters into one combined estimate.
//
// Estimator is not safe for concurrent use: Predict and Update read and
// then overwrite the shared filter states and the internal probability
// buffers. Callers must serialize access, typically one estimator per
// tracked target driven from a single goroutine.
type Estimator struct {
	filters []ModelFilter
	n       int // number of models
	dim     int // shared state dimension

	mu    *mat.VecDense // mode probabilities, sums to 1
	trans *mat.Dense    // mode-transition matrix, rows sum to 1

	cbar       *mat.VecDense // predicted total mode probabilities
	omega      *mat.Dense    // mixing probabilities, columns sum to 1
	likelihood *mat.VecDense // per-model likelihoods from the last update

	x *mat.VecDense // combined state
	p *mat.SymDense // combined covariance

	xPrior *mat.VecDense
	pPrior *mat.SymDense
	xPost  *mat.VecDense
	pPost  *mat.SymDense
}

// NewEstimator builds an estimator over the given model filters.
//
// modeProbs is the initial belief over models; it is normalized in place
// conceptually (the estimator keeps its own copy), so the values need not
// sum to 1 but must be non-negative with a positive sum. trans is the
// N x N mode-transition matrix; each row should sum to 1. Row sums are the
// caller's responsibility and are not enforced, but a deviating row is
// logged once at construction.
//
// Construction fails with *ConfigurationError when fewer than two filters
// are supplied, when the filters disagree on state dimension, or when the
// probability inputs have the wrong shape. It fails with
// *NumericDegeneracyError when the initial mode probabilities leave a
// model unreachable under trans.
func NewEstimator(filters []ModelFilter, modeProbs []float64, trans *mat.Dense) (*Estimator, error) {
	if len(filters) < 2 {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("need at least 2 model filters, got %d", len(filters))}
	}

	dim := filters[0].Dim()
	for i, f := range filters {
		if f.Dim() != dim {
			return nil, &ConfigurationError{
				Reason: fmt.Sprintf("filter %d has state dimension %d, filter 0 has %d", i, f.Dim(), dim),
			}
		}
	}

	n := len(filters)
	if len(modeProbs) != n {
		return nil, &ConfigurationError{
			Reason: fmt.Sprintf("mode probability vector has length %d, want %d", len(modeProbs), n),
		}
	}
	r, c := trans.Dims()
	if r != n || c != n {
		return nil, &ConfigurationError{
			Reason: fmt.Sprintf("transition matrix is %dx%d, want %dx%d", r, c, n, n),
		}
	}

	var sum float64
	for i, v := range modeProbs {
		if v < 0 {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("mode probability %d is negative: %v", i, v)}
		}
		sum += v
	}
	if sum == 0 {
		return nil, &ConfigurationError{Reason: "mode probabilities sum to zero"}
	}

	mu := mat.NewVecDense(n, nil)
	for i, v := range modeProbs {
		mu.SetVec(i, v/sum)
	}

	warnUnnormalizedRows(trans)

	e := &Estimator{
		filters:    filters,
		n:          n,
		dim:        dim,
		mu:         mu,
		trans:      mat.DenseCopyOf(trans),
		cbar:       mat.NewVecDense(n, nil),
		omega:      mat.NewDense(n, n, nil),
		likelihood: mat.NewVecDense(n, nil),
		x:          mat.NewVecDense(dim, nil),
		p:          mat.NewSymDense(dim, nil),
	}

	if err := e.computeMixingProbabilities(); err != nil {
		return nil, err
	}
	e.combineEstimates()

	// No predict or update has run yet, so both snapshots are the initial
	// combined estimate.
	e.xPrior = mat.VecDenseCopyOf(e.x)
	e.pPrior = copySym(e.p)
	e.xPost = mat.VecDenseCopyOf(e.x)
	e.pPost = copySym(e.p)

	return e, nil
}

// Predict mixes the filter states according to the current mixing
// probabilities, overwrites each filter's initial condition with its mixed
// state, and asks every filter to propagate one step. The optional control
// input is passed to every filter unchanged.
//
// All mixed initial conditions are computed from the pre-mixing filter
// states before any filter is overwritten, so no model's mix ever consumes
// an already-mixed state.
func (e *Estimator) Predict(control *mat.VecDense) error {
	// Phase 1: snapshot all filter states, then build every mixed initial
	// condition from the snapshots.
	states := make([]*mat.VecDense, e.n)
	covs := make([]*mat.SymDense, e.n)
	for i, f := range e.filters {
		states[i] = mat.VecDenseCopyOf(f.State())
		covs[i] = copySym(f.Covariance())
	}

	mixedX := make([]*mat.VecDense, e.n)
	mixedP := make([]*mat.SymDense, e.n)
	diff := mat.NewVecDense(e.dim, nil)
	for j := 0; j < e.n; j++ {
		xs := mat.NewVecDense(e.dim, nil)
		for i := 0; i < e.n; i++ {
			xs.AddScaledVec(xs, e.omega.At(i, j), states[i])
		}

		ps := mat.NewSymDense(e.dim, nil)
		for i := 0; i < e.n; i++ {
			w := e.omega.At(i, j)
			diff.SubVec(states[i], xs)
			// Spread-of-means correction: mixing distributions with
			// different means needs the outer product of the deviation on
			// top of the weighted covariance.
			ps.SymRankOne(ps, w, diff)
			addScaledSym(ps, w, covs[i])
		}

		mixedX[j] = xs
		mixedP[j] = ps
	}

	// Phase 2: overwrite and propagate.
	for j, f := range e.filters {
		f.SetState(mixedX[j])
		f.SetCovariance(mixedP[j])
		if err := f.Predict(control); err != nil {
			return fmt.Errorf("imm: model %d predict: %w", j, err)
		}
	}

	e.combineEstimates()
	e.xPrior.CopyVec(e.x)
	e.pPrior.CopySym(e.p)
	return nil
}

// Update runs every filter's measurement update, revises the mode
// probabilities from the reported likelihoods, recomputes the mixing
// probabilities for the next cycle, and refreshes the combined estimate.
//
// The measurement is required. A nil measurement fails with
// *ConfigurationError before any filter is touched; skipping the call is
// the caller's way to express "no measurement this cycle".
//
// If every filter reports zero likelihood the revision would divide by
// zero; Update fails with *NumericDegeneracyError before mutating mu, so
// mu, omega, cbar and the combined estimate keep their pre-call values.
// The filters' own states have already advanced at that point, which is
// their internal business. If the revised mode probabilities leave a model
// unreachable under the transition matrix, Update fails with
// *NumericDegeneracyError after mu has been revised; omega and cbar then
// retain their previous cycle's values.
func (e *Estimator) Update(measurement *mat.VecDense) error {
	if measurement == nil {
		return &ConfigurationError{Reason: "nil measurement"}
	}

	for i, f := range e.filters {
		if err := f.Update(measurement); err != nil {
			return fmt.Errorf("imm: model %d update: %w", i, err)
		}
		e.likelihood.SetVec(i, f.Likelihood())
	}

	// Bayesian mode revision: prior-predicted probability times the
	// measurement likelihood under that mode.
	posterior := make([]float64, e.n)
	var total float64
	for i := 0; i < e.n; i++ {
		posterior[i] = e.cbar.AtVec(i) * e.likelihood.AtVec(i)
		total += posterior[i]
	}
	if total == 0 {
		return &NumericDegeneracyError{Op: "mode update", Model: -1}
	}
	for i := 0; i < e.n; i++ {
		e.mu.SetVec(i, posterior[i]/total)
	}

	if err := e.computeMixingProbabilities(); err != nil {
		return err
	}

	e.combineEstimates()
	e.xPost.CopyVec(e.x)
	e.pPost.CopySym(e.p)
	return nil
}

// computeMixingProbabilities derives cbar and omega from mu and the
// transition matrix:
//
//	cbar[j]     = sum_i mu[i] * M[i][j]
//	omega[i][j] = M[i][j] * mu[i] / cbar[j]
//
// cbar[j] is the probability model j is active next, marginalized over the
// current model; omega[i][j] conditions backwards on j being active.
func (e *Estimator) computeMixingProbabilities() error {
	// Compute into a scratch vector first: on degeneracy the previous
	// cycle's cbar and omega must remain observable.
	next := make([]float64, e.n)
	for j := 0; j < e.n; j++ {
		var c float64
		for i := 0; i < e.n; i++ {
			c += e.mu.AtVec(i) * e.trans.At(i, j)
		}
		if c == 0 {
			return &NumericDegeneracyError{Op: "mixing", Model: j}
		}
		next[j] = c
	}
	for j, c := range next {
		e.cbar.SetVec(j, c)
	}
	for i := 0; i < e.n; i++ {
		for j := 0; j < e.n; j++ {
			e.omega.Set(i, j, e.trans.At(i, j)*e.mu.AtVec(i)/e.cbar.AtVec(j))
		}
	}
	return nil
}

// combineEstimates synthesizes the combined state and covariance from the
// filters weighted by the current mode probabilities, with the same
// spread-of-means correction used in mixing.
func (e *Estimator) combineEstimates() {
	e.x.Zero()
	for i, f := range e.filters {
		e.x.AddScaledVec(e.x, e.mu.AtVec(i), f.State())
	}

	zeroSym(e.p)
	diff := mat.NewVecDense(e.dim, nil)
	for i, f := range e.filters {
		w := e.mu.AtVec(i)
		diff.SubVec(f.State(), e.x)
		e.p.SymRankOne(e.p, w, diff)
		addScaledSym(e.p, w, f.Covariance())
	}
}

// State returns a copy of the combined state estimate.
func (e *Estimator) State() *mat.VecDense { return mat.VecDenseCopyOf(e.x) }

// Covariance returns a copy of the combined covariance.
func (e *Estimator) Covariance() *mat.SymDense { return copySym(e.p) }

// PriorState returns a copy of the combined state as of the last Predict.
func (e *Estimator) PriorState() *mat.VecDense { return mat.VecDenseCopyOf(e.xPrior) }

// PriorCovariance returns a copy of the combined covariance as of the last Predict.
func (e *Estimator) PriorCovariance() *mat.SymDense { return copySym(e.pPrior) }

// PosteriorState returns a copy of the combined state as of the last Update.
func (e *Estimator) PosteriorState() *mat.VecDense { return mat.VecDenseCopyOf(e.xPost) }

// PosteriorCovariance returns a copy of the combined covariance as of the last Update.
func (e *Estimator) PosteriorCovariance() *mat.SymDense { return copySym(e.pPost) }

// ModeProbabilities returns a copy of the current mode-probability vector.
func (e *Estimator) ModeProbabilities() []float64 {
	out := make([]float64, e.n)
	for i := range out {
		out[i] = e.mu.AtVec(i)
	}
	return out
}

// PredictedModeProbabilities returns a copy of cbar, the predicted total
// mode probabilities for the next cycle.
func (e *Estimator) PredictedModeProbabilities() []float64 {
	out := make([]float64, e.n)
	for i := range out {
		out[i] = e.cbar.AtVec(i)
	}
	return out
}

// MixingProbabilities returns a copy of the mixing-probability matrix.
func (e *Estimator) MixingProbabilities() *mat.Dense { return mat.DenseCopyOf(e.omega) }

// Likelihoods returns a copy of the per-model likelihoods from the last
// update.
func (e *Estimator) Likelihoods() []float64 {
	out := make([]float64, e.n)
	for i := range out {
		out[i] = e.likelihood.AtVec(i)
	}
	return out
}

// NumModels returns the number of model filters.
func (e *Estimator) NumModels() int { return e.n }

// Dim returns the shared state dimension.
func (e *Estimator) Dim() int { return e.dim }

// Filter returns the i-th model filter for diagnostics. Mutating the
// returned filter outside Predict/Update corrupts the estimator.
func (e *Estimator) Filter(i int) ModelFilter { return e.filters[i] }

// String renders a diagnostic dump of the estimator's probability state
// and combined estimate. Presentation only.
func (e *Estimator) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "imm.Estimator: %d models, state dim %d\n", e.n, e.dim)
	fmt.Fprintf(&b, "mu:\n%v\n", mat.Formatted(e.mu.T(), mat.Prefix("  "), mat.Squeeze()))
	fmt.Fprintf(&b, "cbar:\n%v\n", mat.Formatted(e.cbar.T(), mat.Prefix("  "), mat.Squeeze()))
	fmt.Fprintf(&b, "omega:\n%v\n", mat.Formatted(e.omega, mat.Prefix("  "), mat.Squeeze()))
	fmt.Fprintf(&b, "likelihood:\n%v\n", mat.Formatted(e.likelihood.T(), mat.Prefix("  "), mat.Squeeze()))
	fmt.Fprintf(&b, "x:\n%v\n", mat.Formatted(e.x.T(), mat.Prefix("  "), mat.Squeeze()))
	fmt.Fprintf(&b, "P:\n%v\n", mat.Formatted(e.p, mat.Prefix("  "), mat.Squeeze()))
	fmt.Fprintf(&b, "x_prior:\n%v\n", mat.Formatted(e.xPrior.T(), mat.Prefix("  "), mat.Squeeze()))
	fmt.Fprintf(&b, "x_post:\n%v", mat.Formatted(e.xPost.T(), mat.Prefix("  "), mat.Squeeze()))
	return b.String()
}

// UniformTransitionMatrix builds an n x n transition matrix with the given
// self-stay probability on the diagonal and the remainder spread evenly
// over the other models. A convenience for the common symmetric case.
func UniformTransitionMatrix(n int, stay float64) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	off := 0.0
	if n > 1 {
		off = (1 - stay) / float64(n-1)
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				m.Set(i, j, stay)
			} else {
				m.Set(i, j, off)
			}
		}
	}
	return m
}

func warnUnnormalizedRows(trans *mat.Dense) {
	r, c := trans.Dims()
	for i := 0; i < r; i++ {
		var sum float64
		for j := 0; j < c; j++ {
			sum += trans.At(i, j)
		}
		if math.Abs(sum-1) > transitionRowSumTolerance {
			monitoring.Logf("imm: transition matrix row %d sums to %v, expected 1", i, sum)
		}
	}
}

func copySym(s *mat.SymDense) *mat.SymDense {
	out := mat.NewSymDense(s.SymmetricDim(), nil)
	out.CopySym(s)
	return out
}

func addScaledSym(dst *mat.SymDense, a float64, s *mat.SymDense) {
	n := dst.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			dst.SetSym(i, j, dst.At(i, j)+a*s.At(i, j))
		}
	}
}

func zeroSym(s *mat.SymDense) {
	n := s.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, 0)
		}
	}
}
