package l5tracks

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	stateDim = 6
	measDim  = 3
)

// kalmanModel holds the constant matrices of the constant-velocity filter.
type kalmanModel struct {
	F  *mat.Dense // state transition
	H  *mat.Dense // position-only measurement
	Q  *mat.Dense // process noise
	R  *mat.Dense // measurement noise
	P0 *mat.Dense // initial covariance
}

func newKalmanModel(cfg Config) *kalmanModel {
	dt := float64(cfg.DT)
	F := mat.NewDense(stateDim, stateDim, nil)
	Q := mat.NewDense(stateDim, stateDim, nil)
	P0 := mat.NewDense(stateDim, stateDim, nil)
	for i := 0; i < stateDim; i++ {
		F.Set(i, i, 1)
		if i < measDim {
			F.Set(i, i+measDim, dt)
			Q.Set(i, i, cfg.ProcessNoise)
			P0.Set(i, i, 1)
		} else {
			Q.Set(i, i, cfg.ProcessNoise*cfg.VelocityNoiseScale)
			P0.Set(i, i, cfg.InitialVelocityVariance)
		}
	}
	H := mat.NewDense(measDim, stateDim, nil)
	R := mat.NewDense(measDim, measDim, nil)
	for i := 0; i < measDim; i++ {
		H.Set(i, i, 1)
		R.Set(i, i, cfg.MeasurementNoise)
	}
	return &kalmanModel{F: F, H: H, Q: Q, R: R, P0: P0}
}

func stateVec(s [stateDim]float32) *mat.VecDense {
	v := make([]float64, stateDim)
	for i, x := range s {
		v[i] = float64(x)
	}
	return mat.NewVecDense(stateDim, v)
}

func covDense(c [stateDim * stateDim]float32) *mat.Dense {
	v := make([]float64, len(c))
	for i, x := range c {
		v[i] = float64(x)
	}
	return mat.NewDense(stateDim, stateDim, v)
}

func storeState(dst *[stateDim]float32, v mat.Vector) {
	for i := range dst {
		dst[i] = float32(v.AtVec(i))
	}
}

func storeCov(dst *[stateDim * stateDim]float32, m mat.Matrix) {
	for i := 0; i < stateDim; i++ {
		for j := 0; j < stateDim; j++ {
			dst[i*stateDim+j] = float32(m.At(i, j))
		}
	}
}

// predict propagates x' = F x and P' = F P Fᵀ + Q.
func (k *kalmanModel) predict(t *Track) {
	x := stateVec(t.State)
	P := covDense(t.Covariance)

	var xp mat.VecDense
	xp.MulVec(k.F, x)

	var fp, pp mat.Dense
	fp.Mul(k.F, P)
	pp.Mul(&fp, k.F.T())
	pp.Add(&pp, k.Q)

	storeState(&t.State, &xp)
	storeCov(&t.Covariance, &pp)
}

// update applies a position measurement z. It reports false, leaving the
// track untouched, when the innovation covariance is singular.
func (k *kalmanModel) update(t *Track, z [measDim]float32) bool {
	x := stateVec(t.State)
	P := covDense(t.Covariance)
	zv := mat.NewVecDense(measDim, []float64{float64(z[0]), float64(z[1]), float64(z[2])})

	// y = z - H x
	var hx, y mat.VecDense
	hx.MulVec(k.H, x)
	y.SubVec(zv, &hx)

	// S = H P Hᵀ + R
	var hp, s mat.Dense
	hp.Mul(k.H, P)
	s.Mul(&hp, k.H.T())
	s.Add(&s, k.R)

	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		return false
	}

	// K = P Hᵀ S⁻¹
	var pht, gain mat.Dense
	pht.Mul(P, k.H.T())
	gain.Mul(&pht, &sInv)

	var ky, xn mat.VecDense
	ky.MulVec(&gain, &y)
	xn.AddVec(x, &ky)

	// P = (I - K H) P
	var kh, ikh, pn mat.Dense
	kh.Mul(&gain, k.H)
	ikh.Sub(eye(stateDim), &kh)
	pn.Mul(&ikh, P)

	for i := 0; i < stateDim; i++ {
		if math.IsNaN(xn.AtVec(i)) || math.IsInf(xn.AtVec(i), 0) {
			return false
		}
	}
	storeState(&t.State, &xn)
	storeCov(&t.Covariance, &pn)
	return true
}

func eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// initTrackState seeds position from the centroid and spreads the mean
// radial velocity equally over the three axes.
func (k *kalmanModel) initTrackState(t *Track, centroid [measDim]float32, radialVelocity float32) {
	v := radialVelocity / float32(math.Sqrt(3))
	t.State = [stateDim]float32{centroid[0], centroid[1], centroid[2], v, v, v}
	storeCov(&t.Covariance, k.P0)
}
