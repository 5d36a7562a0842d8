package filters

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Planar tracking state convention: [x, y, vx, vy] in the world frame,
// positions in meters, velocities in m/s. Measurements are position only.

// minTurnRate is the turn rate below which the coordinated-turn model
// degenerates to straight-line motion; the closed-form matrix divides by
// the turn rate, so small rates fall back to the constant-velocity form.
const minTurnRate = 1e-9

// Initial covariance for a freshly-initialized planar track: high
// position uncertainty, lower velocity uncertainty.
var initialPlanarCovariance = []float64{
	10, 0, 0, 0,
	0, 10, 0, 0,
	0, 0, 1, 0,
	0, 0, 0, 1,
}

// NewConstantVelocity2D returns a Kalman filter for planar near-constant
// velocity motion over the step dt. processNoise is the white-noise
// acceleration spectral density (sigma^2); measurementNoise is the
// position measurement variance per axis.
func NewConstantVelocity2D(dt, processNoise, measurementNoise float64) *KalmanFilter {
	f := mat.NewDense(4, 4, []float64{
		1, 0, dt, 0,
		0, 1, 0, dt,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
	return newPlanarFilter(f, dt, processNoise, measurementNoise)
}

// NewCoordinatedTurn2D returns a Kalman filter for a planar coordinated
// turn at the fixed rate turnRate (rad/s, positive anticlockwise) over the
// step dt. Rates below minTurnRate reduce to the constant-velocity model.
func NewCoordinatedTurn2D(dt, turnRate, processNoise, measurementNoise float64) *KalmanFilter {
	if math.Abs(turnRate) < minTurnRate {
		return NewConstantVelocity2D(dt, processNoise, measurementNoise)
	}
	wt := turnRate * dt
	sin, cos := math.Sin(wt), math.Cos(wt)
	a := sin / turnRate
	b := (1 - cos) / turnRate
	f := mat.NewDense(4, 4, []float64{
		1, 0, a, -b,
		0, 1, b, a,
		0, 0, cos, -sin,
		0, 0, sin, cos,
	})
	return newPlanarFilter(f, dt, processNoise, measurementNoise)
}

func newPlanarFilter(f *mat.Dense, dt, processNoise, measurementNoise float64) *KalmanFilter {
	h := mat.NewDense(2, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
	})
	r := mat.NewSymDense(2, []float64{
		measurementNoise, 0,
		0, measurementNoise,
	})
	x := mat.NewVecDense(4, nil)
	p := mat.NewSymDense(4, initialPlanarCovariance)
	return newFilter(f, nil, h, planarWhiteNoiseQ(dt, processNoise), r, x, p)
}

// planarWhiteNoiseQ builds the discrete white-noise acceleration process
// covariance for the [x, y, vx, vy] state: per axis the block
// [dt^4/4, dt^3/2; dt^3/2, dt^2] scaled by the noise density.
func planarWhiteNoiseQ(dt, density float64) *mat.SymDense {
	q2 := dt * dt * density
	q3 := dt * q2 / 2
	q4 := dt * q3 / 2
	q := mat.NewSymDense(4, nil)
	q.SetSym(0, 0, q4)
	q.SetSym(0, 2, q3)
	q.SetSym(2, 2, q2)
	q.SetSym(1, 1, q4)
	q.SetSym(1, 3, q3)
	q.SetSym(3, 3, q2)
	return q
}
