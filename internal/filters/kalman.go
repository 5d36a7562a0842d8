// Package filters provides linear Kalman filters usable as model
// hypotheses inside the IMM estimator, plus constructors for the planar
// tracking models the tracker runs in practice.
package filters

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const log2Pi = 1.8378770664093453 // ln(2*pi)

// KalmanFilter is a standard linear Kalman filter over gonum matrices:
// dynamics x' = F x + B u + w, w ~ N(0, Q), and measurement
// z = H x + v, v ~ N(0, R). Update additionally computes the Gaussian
// likelihood of the measurement under the predicted innovation
// distribution, which the IMM estimator reads to re-weight models.
type KalmanFilter struct {
	f *mat.Dense    // state transition
	b *mat.Dense    // control, may be nil
	q *mat.SymDense // process noise
	h *mat.Dense    // measurement
	r *mat.SymDense // measurement noise

	x *mat.VecDense // state
	p *mat.SymDense // state covariance

	likelihood float64
	dim        int // state dimension
	mdim       int // measurement dimension
}

// New builds a Kalman filter from its model matrices and initial
// condition. b may be nil for models without control input. It fails when
// the matrix shapes are inconsistent with each other.
func New(f, b, h *mat.Dense, q, r *mat.SymDense, x *mat.VecDense, p *mat.SymDense) (*KalmanFilter, error) {
	dim := x.Len()
	if r1, c1 := f.Dims(); r1 != dim || c1 != dim {
		return nil, fmt.Errorf("filters: transition matrix is %dx%d, want %dx%d", r1, c1, dim, dim)
	}
	if q.SymmetricDim() != dim {
		return nil, fmt.Errorf("filters: process noise dimension %d, want %d", q.SymmetricDim(), dim)
	}
	if p.SymmetricDim() != dim {
		return nil, fmt.Errorf("filters: initial covariance dimension %d, want %d", p.SymmetricDim(), dim)
	}
	mr, mc := h.Dims()
	if mc != dim {
		return nil, fmt.Errorf("filters: measurement matrix has %d columns, want %d", mc, dim)
	}
	if r.SymmetricDim() != mr {
		return nil, fmt.Errorf("filters: measurement noise dimension %d, want %d", r.SymmetricDim(), mr)
	}
	if b != nil {
		if br, _ := b.Dims(); br != dim {
			return nil, fmt.Errorf("filters: control matrix has %d rows, want %d", br, dim)
		}
	}
	return newFilter(f, b, h, q, r, x, p), nil
}

// newFilter assumes consistent shapes; the model constructors use it with
// matrices they built themselves.
func newFilter(f, b, h *mat.Dense, q, r *mat.SymDense, x *mat.VecDense, p *mat.SymDense) *KalmanFilter {
	mdim, _ := h.Dims()
	k := &KalmanFilter{
		f:    mat.DenseCopyOf(f),
		h:    mat.DenseCopyOf(h),
		q:    mat.NewSymDense(q.SymmetricDim(), nil),
		r:    mat.NewSymDense(r.SymmetricDim(), nil),
		x:    mat.VecDenseCopyOf(x),
		p:    mat.NewSymDense(p.SymmetricDim(), nil),
		dim:  x.Len(),
		mdim: mdim,
	}
	k.q.CopySym(q)
	k.r.CopySym(r)
	k.p.CopySym(p)
	if b != nil {
		k.b = mat.DenseCopyOf(b)
	}
	return k
}

// Dim returns the state dimension.
func (k *KalmanFilter) Dim() int { return k.dim }

// MeasurementDim returns the measurement dimension.
func (k *KalmanFilter) MeasurementDim() int { return k.mdim }

// State returns the live state vector. The IMM estimator overwrites it
// through SetState during mixing.
func (k *KalmanFilter) State() *mat.VecDense { return k.x }

// SetState overwrites the state vector.
func (k *KalmanFilter) SetState(x *mat.VecDense) {
	if x.Len() != k.dim {
		panic(fmt.Sprintf("filters: state dimension %d, want %d", x.Len(), k.dim))
	}
	k.x.CopyVec(x)
}

// Covariance returns the live state covariance.
func (k *KalmanFilter) Covariance() *mat.SymDense { return k.p }

// SetCovariance overwrites the state covariance.
func (k *KalmanFilter) SetCovariance(p *mat.SymDense) {
	if p.SymmetricDim() != k.dim {
		panic(fmt.Sprintf("filters: covariance dimension %d, want %d", p.SymmetricDim(), k.dim))
	}
	k.p.CopySym(p)
}

// Likelihood returns the Gaussian likelihood of the last measurement
// under this model, as computed by Update.
func (k *KalmanFilter) Likelihood() float64 { return k.likelihood }

// Predict propagates state and covariance one step:
// x' = F x + B u, P' = F P F^T + Q. A control input without a control
// matrix is an error; a nil control is simply no input.
func (k *KalmanFilter) Predict(control *mat.VecDense) error {
	var fx mat.VecDense
	fx.MulVec(k.f, k.x)
	if control != nil {
		if k.b == nil {
			return fmt.Errorf("filters: control input supplied but model has no control matrix")
		}
		var bu mat.VecDense
		bu.MulVec(k.b, control)
		fx.AddVec(&fx, &bu)
	}
	k.x.CopyVec(&fx)

	var fp, fpf mat.Dense
	fp.Mul(k.f, k.p)
	fpf.Mul(&fp, k.f.T())
	// Symmetrize against floating drift before folding in Q.
	for i := 0; i < k.dim; i++ {
		for j := i; j < k.dim; j++ {
			k.p.SetSym(i, j, 0.5*(fpf.At(i, j)+fpf.At(j, i))+k.q.At(i, j))
		}
	}
	return nil
}

// Update incorporates a measurement: innovation, gain via Cholesky solve
// of the innovation covariance, Joseph-form covariance update, and the
// measurement likelihood N(y; 0, S) from the same factorization.
func (k *KalmanFilter) Update(measurement *mat.VecDense) error {
	if measurement == nil {
		return fmt.Errorf("filters: nil measurement")
	}
	if measurement.Len() != k.mdim {
		return fmt.Errorf("filters: measurement dimension %d, want %d", measurement.Len(), k.mdim)
	}

	// Innovation y = z - H x.
	var hx mat.VecDense
	hx.MulVec(k.h, k.x)
	y := mat.NewVecDense(k.mdim, nil)
	y.SubVec(measurement, &hx)

	// Innovation covariance S = H P H^T + R.
	var ph mat.Dense // P H^T
	ph.Mul(k.p, k.h.T())
	var hph mat.Dense
	hph.Mul(k.h, &ph)
	s := mat.NewSymDense(k.mdim, nil)
	for i := 0; i < k.mdim; i++ {
		for j := i; j < k.mdim; j++ {
			s.SetSym(i, j, 0.5*(hph.At(i, j)+hph.At(j, i))+k.r.At(i, j))
		}
	}

	var chol mat.Cholesky
	if !chol.Factorize(s) {
		return fmt.Errorf("filters: innovation covariance not positive definite")
	}

	// Gain K = P H^T S^-1, solved as S K^T = (P H^T)^T.
	var kt mat.Dense
	if err := chol.SolveTo(&kt, ph.T()); err != nil {
		return fmt.Errorf("filters: solve for gain: %w", err)
	}
	gain := kt.T()

	// x' = x + K y.
	var ky mat.VecDense
	ky.MulVec(gain, y)
	k.x.AddVec(k.x, &ky)

	// Joseph form: P' = (I - K H) P (I - K H)^T + K R K^T. Keeps P
	// symmetric positive semi-definite even with an imperfect gain.
	var kh mat.Dense
	kh.Mul(gain, k.h)
	imkh := mat.NewDense(k.dim, k.dim, nil)
	for i := 0; i < k.dim; i++ {
		for j := 0; j < k.dim; j++ {
			v := -kh.At(i, j)
			if i == j {
				v++
			}
			imkh.Set(i, j, v)
		}
	}
	var t1, t2, kr, krk mat.Dense
	t1.Mul(imkh, k.p)
	t2.Mul(&t1, imkh.T())
	kr.Mul(gain, k.r)
	krk.Mul(&kr, gain.T())
	for i := 0; i < k.dim; i++ {
		for j := i; j < k.dim; j++ {
			k.p.SetSym(i, j, 0.5*(t2.At(i, j)+t2.At(j, i))+0.5*(krk.At(i, j)+krk.At(j, i)))
		}
	}

	// Likelihood of y under N(0, S) via the Cholesky log-determinant.
	var sy mat.VecDense
	if err := chol.SolveVecTo(&sy, y); err != nil {
		return fmt.Errorf("filters: solve for likelihood: %w", err)
	}
	maha := mat.Dot(y, &sy)
	k.likelihood = math.Exp(-0.5 * (float64(k.mdim)*log2Pi + chol.LogDet() + maha))
	return nil
}
