// Package simulate generates truth trajectories and noisy measurements
// for exercising the estimator against a maneuvering planar target.
package simulate

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// Segment is one leg of a scenario: Steps cycles at a fixed turn rate.
// A zero turn rate is straight-line motion.
type Segment struct {
	Steps         int
	TurnRateRadps float64
}

// Scenario describes a maneuvering target: an initial velocity followed
// by straight and turning legs. Speed is conserved across turns.
type Scenario struct {
	Name             string
	Dt               float64 // seconds per cycle
	InitialSpeed     float64 // m/s
	InitialHeading   float64 // rad, anticlockwise from +x
	MeasurementSigma float64 // position noise std dev per axis, meters
	Segments         []Segment
}

// Sample is one cycle of truth state plus its noisy position measurement.
type Sample struct {
	Step          int
	T             float64 // seconds since scenario start
	TruthX        float64
	TruthY        float64
	TruthVX       float64
	TruthVY       float64
	MeasX         float64
	MeasY         float64
	TurnRateRadps float64 // the truth turn rate active this cycle
}

// DefaultScenario is a vehicle-like run: straight approach, a left turn,
// a straight leg, a right turn, and a straight exit. Turn legs cover
// roughly a quarter circle at the given rate.
func DefaultScenario(dt, measurementSigma float64) Scenario {
	const turnRate = 0.35 // rad/s
	turnSteps := int(math.Round((math.Pi / 2) / (turnRate * dt)))
	return Scenario{
		Name:             "straight-turn-straight",
		Dt:               dt,
		InitialSpeed:     10,
		InitialHeading:   0,
		MeasurementSigma: measurementSigma,
		Segments: []Segment{
			{Steps: 50, TurnRateRadps: 0},
			{Steps: turnSteps, TurnRateRadps: turnRate},
			{Steps: 50, TurnRateRadps: 0},
			{Steps: turnSteps, TurnRateRadps: -turnRate},
			{Steps: 50, TurnRateRadps: 0},
		},
	}
}

// TotalSteps returns the number of cycles across all segments.
func (sc Scenario) TotalSteps() int {
	var n int
	for _, seg := range sc.Segments {
		n += seg.Steps
	}
	return n
}

// Run propagates the truth trajectory and samples measurements. The same
// seed reproduces the same run exactly.
func (sc Scenario) Run(seed uint64) []Sample {
	noise := distuv.Normal{
		Mu:    0,
		Sigma: sc.MeasurementSigma,
		Src:   rand.NewPCG(seed, seed^0x9e3779b97f4a7c15),
	}

	x, y := 0.0, 0.0
	vx := sc.InitialSpeed * math.Cos(sc.InitialHeading)
	vy := sc.InitialSpeed * math.Sin(sc.InitialHeading)

	samples := make([]Sample, 0, sc.TotalSteps())
	step := 0
	for _, seg := range sc.Segments {
		for i := 0; i < seg.Steps; i++ {
			x, y, vx, vy = advance(x, y, vx, vy, seg.TurnRateRadps, sc.Dt)
			samples = append(samples, Sample{
				Step:          step,
				T:             float64(step+1) * sc.Dt,
				TruthX:        x,
				TruthY:        y,
				TruthVX:       vx,
				TruthVY:       vy,
				MeasX:         x + noise.Rand(),
				MeasY:         y + noise.Rand(),
				TurnRateRadps: seg.TurnRateRadps,
			})
			step++
		}
	}
	return samples
}

// advance applies one exact kinematic step at the given turn rate.
func advance(x, y, vx, vy, w, dt float64) (nx, ny, nvx, nvy float64) {
	if w == 0 {
		return x + vx*dt, y + vy*dt, vx, vy
	}
	wt := w * dt
	sin, cos := math.Sin(wt), math.Cos(wt)
	nx = x + (sin/w)*vx - ((1-cos)/w)*vy
	ny = y + ((1-cos)/w)*vx + (sin/w)*vy
	nvx = cos*vx - sin*vy
	nvy = sin*vx + cos*vy
	return nx, ny, nvx, nvy
}
