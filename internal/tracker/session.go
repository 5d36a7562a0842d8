// Package tracker assembles the standard planar model set and drives the
// IMM estimator through a measurement stream, optionally persisting every
// cycle to the estimate database.
package tracker

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/modetrack/internal/config"
	"github.com/banshee-data/modetrack/internal/filters"
	"github.com/banshee-data/modetrack/internal/imm"
	"github.com/banshee-data/modetrack/internal/trackdb"
)

// ModelSet builds the standard three-hypothesis planar set: near-constant
// velocity plus left and right coordinated turns at the configured rate.
func ModelSet(s config.Settings) ([]imm.ModelFilter, []string) {
	return []imm.ModelFilter{
			filters.NewConstantVelocity2D(s.DtSeconds, s.CVProcessNoise, s.MeasurementNoise),
			filters.NewCoordinatedTurn2D(s.DtSeconds, s.TurnRateRadps, s.TurnProcessNoise, s.MeasurementNoise),
			filters.NewCoordinatedTurn2D(s.DtSeconds, -s.TurnRateRadps, s.TurnProcessNoise, s.MeasurementNoise),
		}, []string{
			"cv",
			"turn-left",
			"turn-right",
		}
}

// Observation is one cycle's position measurement, with optional truth
// for simulation runs.
type Observation struct {
	TSUnixNanos    int64
	X, Y           float64
	TruthX, TruthY *float64
}

// Session drives one estimator through a measurement stream. The first
// observation initializes every filter at the measured position with zero
// velocity; subsequent observations run a full predict/update cycle.
type Session struct {
	est        *imm.Estimator
	modelNames []string
	db         *trackdb.DB // nil disables persistence
	run        *trackdb.Run
	dt         float64
	cycle      int
}

// NewSession builds the model set and estimator from settings. db may be
// nil to run without persistence; scenario labels the recorded run.
func NewSession(s config.Settings, db *trackdb.DB, scenario string) (*Session, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("tracker: %w", err)
	}

	models, names := ModelSet(s)
	modeProbs := s.InitialModeProbs
	if modeProbs == nil {
		modeProbs = make([]float64, len(models))
		for i := range modeProbs {
			modeProbs[i] = 1 / float64(len(models))
		}
	}
	if len(modeProbs) != len(models) {
		return nil, fmt.Errorf("tracker: %d initial mode probabilities for %d models", len(modeProbs), len(models))
	}

	trans := imm.UniformTransitionMatrix(len(models), s.SelfStayProbability)
	est, err := imm.NewEstimator(models, modeProbs, trans)
	if err != nil {
		return nil, fmt.Errorf("tracker: %w", err)
	}

	sess := &Session{
		est:        est,
		modelNames: names,
		db:         db,
		dt:         s.DtSeconds,
	}
	if db != nil {
		run, err := db.CreateRun(scenario, names, time.Now())
		if err != nil {
			return nil, fmt.Errorf("tracker: %w", err)
		}
		sess.run = run
	}
	return sess, nil
}

// Process runs one cycle for the observation: predict, update, persist.
func (s *Session) Process(obs Observation) error {
	if s.cycle == 0 {
		s.initializeFilters(obs)
	}

	if err := s.est.Predict(nil); err != nil {
		return fmt.Errorf("tracker: cycle %d: %w", s.cycle, err)
	}
	z := mat.NewVecDense(2, []float64{obs.X, obs.Y})
	if err := s.est.Update(z); err != nil {
		return fmt.Errorf("tracker: cycle %d: %w", s.cycle, err)
	}

	if s.db != nil {
		if err := s.persist(obs); err != nil {
			return err
		}
	}
	s.cycle++
	return nil
}

// initializeFilters seeds every model at the first measured position with
// zero velocity, leaving the models' default high position uncertainty in
// place.
func (s *Session) initializeFilters(obs Observation) {
	x0 := mat.NewVecDense(4, []float64{obs.X, obs.Y, 0, 0})
	for i := 0; i < s.est.NumModels(); i++ {
		s.est.Filter(i).SetState(x0)
	}
}

func (s *Session) persist(obs Observation) error {
	x := s.est.State()
	est := &trackdb.Estimate{
		RunID:       s.run.RunID,
		Cycle:       s.cycle,
		TSUnixNanos: obs.TSUnixNanos,
		X:           x.AtVec(0),
		Y:           x.AtVec(1),
		VX:          x.AtVec(2),
		VY:          x.AtVec(3),
		MeasX:       nullFloat(&obs.X),
		MeasY:       nullFloat(&obs.Y),
		TruthX:      nullFloat(obs.TruthX),
		TruthY:      nullFloat(obs.TruthY),
		ModeProbs:   s.est.ModeProbabilities(),
		Likelihoods: s.est.Likelihoods(),
	}
	if err := s.db.InsertEstimate(est); err != nil {
		return fmt.Errorf("tracker: cycle %d: %w", s.cycle, err)
	}
	return nil
}

// Estimator exposes the underlying estimator for diagnostics.
func (s *Session) Estimator() *imm.Estimator { return s.est }

// ModelNames returns the model labels, index-aligned with the estimator.
func (s *Session) ModelNames() []string { return s.modelNames }

// Run returns the recorded run, or nil when persistence is disabled.
func (s *Session) Run() *trackdb.Run { return s.run }

// Cycles returns the number of processed observations.
func (s *Session) Cycles() int { return s.cycle }

// Speed returns the combined estimate's speed magnitude.
func (s *Session) Speed() float64 {
	x := s.est.State()
	return math.Hypot(x.AtVec(2), x.AtVec(3))
}

func nullFloat(v *float64) (nf sql.NullFloat64) {
	if v != nil {
		nf.Float64 = *v
		nf.Valid = true
	}
	return nf
}
