package filters

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/modetrack/internal/imm"
)

// The filters exist to be fused by the estimator.
var _ imm.ModelFilter = (*KalmanFilter)(nil)

func TestNew_ValidatesShapes(t *testing.T) {
	f4 := mat.NewDense(4, 4, nil)
	h24 := mat.NewDense(2, 4, nil)
	q4 := mat.NewSymDense(4, nil)
	r2 := mat.NewSymDense(2, nil)
	x4 := mat.NewVecDense(4, nil)
	p4 := mat.NewSymDense(4, nil)

	cases := []struct {
		name string
		f, h *mat.Dense
		q, r *mat.SymDense
		x    *mat.VecDense
		p    *mat.SymDense
	}{
		{"transition shape", mat.NewDense(3, 3, nil), h24, q4, r2, x4, p4},
		{"process noise shape", f4, h24, mat.NewSymDense(3, nil), r2, x4, p4},
		{"measurement columns", f4, mat.NewDense(2, 3, nil), q4, r2, x4, p4},
		{"measurement noise shape", f4, h24, q4, mat.NewSymDense(3, nil), x4, p4},
		{"covariance shape", f4, h24, q4, r2, x4, mat.NewSymDense(3, nil)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.f, nil, tc.h, tc.q, tc.r, tc.x, tc.p); err == nil {
				t.Error("expected shape error, got nil")
			}
		})
	}

	if _, err := New(f4, nil, h24, q4, r2, x4, p4); err != nil {
		t.Errorf("consistent shapes rejected: %v", err)
	}
}

func TestConstantVelocity_PredictMovesState(t *testing.T) {
	k := NewConstantVelocity2D(0.1, 0.1, 0.2)
	k.SetState(mat.NewVecDense(4, []float64{0, 0, 1, 2}))

	if err := k.Predict(nil); err != nil {
		t.Fatalf("Predict: %v", err)
	}

	x := k.State()
	want := []float64{0.1, 0.2, 1, 2}
	for i, w := range want {
		if math.Abs(x.AtVec(i)-w) > 1e-12 {
			t.Errorf("state[%d] = %v, want %v", i, x.AtVec(i), w)
		}
	}
}

func TestPredict_CovarianceGrows(t *testing.T) {
	k := NewConstantVelocity2D(0.1, 0.5, 0.2)
	before := mat.Trace(k.Covariance())

	if err := k.Predict(nil); err != nil {
		t.Fatalf("Predict: %v", err)
	}

	if after := mat.Trace(k.Covariance()); after <= before {
		t.Errorf("covariance trace %v -> %v, want growth under process noise", before, after)
	}
}

func TestPredict_ControlWithoutMatrix(t *testing.T) {
	k := NewConstantVelocity2D(0.1, 0.1, 0.2)
	if err := k.Predict(mat.NewVecDense(1, []float64{1})); err == nil {
		t.Error("expected error for control input without control matrix")
	}
}

func TestUpdate_PullsTowardMeasurement(t *testing.T) {
	k := NewConstantVelocity2D(0.1, 0.1, 0.2)
	k.SetState(mat.NewVecDense(4, nil))
	p00Before := k.Covariance().At(0, 0)

	z := mat.NewVecDense(2, []float64{1.0, -2.0})
	if err := k.Update(z); err != nil {
		t.Fatalf("Update: %v", err)
	}

	x := k.State()
	if x.AtVec(0) <= 0 || x.AtVec(0) >= 1.0 {
		t.Errorf("x = %v, want pulled into (0, 1)", x.AtVec(0))
	}
	if x.AtVec(1) >= 0 || x.AtVec(1) <= -2.0 {
		t.Errorf("y = %v, want pulled into (-2, 0)", x.AtVec(1))
	}
	if p00After := k.Covariance().At(0, 0); p00After >= p00Before {
		t.Errorf("P[0][0] = %v, want shrink from %v after measurement", p00After, p00Before)
	}
}

func TestUpdate_Likelihood(t *testing.T) {
	const measNoise = 0.5
	k := NewConstantVelocity2D(0.1, 0.1, measNoise)

	// Zero innovation: the likelihood is the Gaussian peak
	// 1 / (2*pi*sqrt(det(S))) with S = (10 + r) * I.
	if err := k.Update(mat.NewVecDense(2, nil)); err != nil {
		t.Fatalf("Update: %v", err)
	}
	want := 1 / (2 * math.Pi * (10 + measNoise))
	if got := k.Likelihood(); math.Abs(got-want) > 1e-12 {
		t.Errorf("likelihood = %v, want %v", got, want)
	}
}

func TestUpdate_LikelihoodOrdering(t *testing.T) {
	near := NewConstantVelocity2D(0.1, 0.1, 0.2)
	far := NewConstantVelocity2D(0.1, 0.1, 0.2)

	if err := near.Update(mat.NewVecDense(2, []float64{0.1, 0.1})); err != nil {
		t.Fatalf("Update near: %v", err)
	}
	if err := far.Update(mat.NewVecDense(2, []float64{20, 20})); err != nil {
		t.Fatalf("Update far: %v", err)
	}

	if near.Likelihood() <= far.Likelihood() {
		t.Errorf("near likelihood %v must exceed far likelihood %v",
			near.Likelihood(), far.Likelihood())
	}
}

func TestUpdate_RejectsBadMeasurements(t *testing.T) {
	k := NewConstantVelocity2D(0.1, 0.1, 0.2)
	if err := k.Update(nil); err == nil {
		t.Error("expected error for nil measurement")
	}
	if err := k.Update(mat.NewVecDense(3, nil)); err == nil {
		t.Error("expected error for wrong measurement dimension")
	}
}

func TestCoordinatedTurn_RotatesVelocity(t *testing.T) {
	// A quarter-turn rate over a 1s step rotates the velocity vector by
	// 90 degrees anticlockwise.
	k := NewCoordinatedTurn2D(1.0, math.Pi/2, 0.1, 0.2)
	k.SetState(mat.NewVecDense(4, []float64{0, 0, 1, 0}))

	if err := k.Predict(nil); err != nil {
		t.Fatalf("Predict: %v", err)
	}

	x := k.State()
	if math.Abs(x.AtVec(2)) > 1e-9 || math.Abs(x.AtVec(3)-1) > 1e-9 {
		t.Errorf("velocity = (%v, %v), want (0, 1)", x.AtVec(2), x.AtVec(3))
	}
}

func TestCoordinatedTurn_ZeroRateMatchesConstantVelocity(t *testing.T) {
	ct := NewCoordinatedTurn2D(0.1, 0, 0.1, 0.2)
	cv := NewConstantVelocity2D(0.1, 0.1, 0.2)
	state := mat.NewVecDense(4, []float64{1, 2, 3, 4})
	ct.SetState(state)
	cv.SetState(state)

	if err := ct.Predict(nil); err != nil {
		t.Fatalf("Predict ct: %v", err)
	}
	if err := cv.Predict(nil); err != nil {
		t.Fatalf("Predict cv: %v", err)
	}

	if !mat.EqualApprox(ct.State(), cv.State(), 1e-12) {
		t.Errorf("zero-rate turn state %v differs from constant velocity %v",
			mat.Formatted(ct.State().T()), mat.Formatted(cv.State().T()))
	}
}

func TestCycle_CovarianceStaysPositiveDefinite(t *testing.T) {
	k := NewCoordinatedTurn2D(0.1, 0.2, 0.5, 0.2)
	z := mat.NewVecDense(2, []float64{1, 1})

	var chol mat.Cholesky
	for i := 0; i < 50; i++ {
		if err := k.Predict(nil); err != nil {
			t.Fatalf("cycle %d Predict: %v", i, err)
		}
		if err := k.Update(z); err != nil {
			t.Fatalf("cycle %d Update: %v", i, err)
		}
		if !chol.Factorize(k.Covariance()) {
			t.Fatalf("cycle %d: covariance lost positive definiteness", i)
		}
	}
}

func TestPlanarWhiteNoiseQ(t *testing.T) {
	q := planarWhiteNoiseQ(0.5, 2.0)

	var chol mat.Cholesky
	if !chol.Factorize(q) {
		t.Fatal("process noise must be positive definite")
	}
	// Velocity variance per axis is dt^2 * density.
	if got, want := q.At(2, 2), 0.5*0.5*2.0; math.Abs(got-want) > 1e-12 {
		t.Errorf("Q[2][2] = %v, want %v", got, want)
	}
	// Axes are uncoupled.
	if q.At(0, 1) != 0 || q.At(2, 3) != 0 || q.At(0, 3) != 0 {
		t.Error("cross-axis process noise must be zero")
	}
}
