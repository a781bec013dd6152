package l3points

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/mmwave/internal/mmwave/l2tlv"
)

// ErrInvalidArrayLength is returned when attribute slices disagree in length.
var ErrInvalidArrayLength = errors.New("l3points: point cloud arrays must have the same length")

// Metadata identifies the frame a cloud came from.
type Metadata struct {
	FrameNumber    uint32
	NumDetectedObj uint32
	Timestamp      uint64 // sensor CPU cycles
}

// PointCloud holds N points as parallel slices. Ranges are metres, angles
// radians, velocity m/s (positive receding), RCS dBsm, SNR dB.
type PointCloud struct {
	Range     []float32
	Velocity  []float32
	Azimuth   []float32
	Elevation []float32
	RCS       []float32
	SNR       []float32
	Metadata  Metadata
}

// New builds a point cloud and checks that every non-empty slice has the
// same length. Empty slices are allowed and are filled with zeros so that
// the stored cloud always has six equal-length columns.
func New(rng, vel, az, el, rcs, snr []float32, md Metadata) (*PointCloud, error) {
	n := -1
	for _, col := range [][]float32{rng, vel, az, el, rcs, snr} {
		if len(col) == 0 {
			continue
		}
		if n >= 0 && len(col) != n {
			return nil, fmt.Errorf("%w: range=%d velocity=%d azimuth=%d elevation=%d rcs=%d snr=%d",
				ErrInvalidArrayLength, len(rng), len(vel), len(az), len(el), len(rcs), len(snr))
		}
		n = len(col)
	}
	if n < 0 {
		return &PointCloud{Metadata: md}, nil
	}
	return &PointCloud{
		Range:     fill(rng, n),
		Velocity:  fill(vel, n),
		Azimuth:   fill(az, n),
		Elevation: fill(el, n),
		RCS:       fill(rcs, n),
		SNR:       fill(snr, n),
		Metadata:  md,
	}, nil
}

func fill(col []float32, n int) []float32 {
	if len(col) == n {
		return col
	}
	return make([]float32, n)
}

// Len returns the number of points.
func (pc *PointCloud) Len() int {
	if pc == nil {
		return 0
	}
	return len(pc.Range)
}

// ToCartesian returns x, y, z for every point.
func (pc *PointCloud) ToCartesian() (x, y, z []float32) {
	n := pc.Len()
	x, y, z = make([]float32, n), make([]float32, n), make([]float32, n)
	for i := 0; i < n; i++ {
		x[i], y[i], z[i] = SphericalToCartesian(pc.Range[i], pc.Azimuth[i], pc.Elevation[i])
	}
	return x, y, z
}

// CartesianPoints returns the cloud as N rows of [x, y, z].
func (pc *PointCloud) CartesianPoints() [][3]float32 {
	n := pc.Len()
	out := make([][3]float32, n)
	for i := 0; i < n; i++ {
		x, y, z := SphericalToCartesian(pc.Range[i], pc.Azimuth[i], pc.Elevation[i])
		out[i] = [3]float32{x, y, z}
	}
	return out
}

// ToCartesian2D projects onto the ground plane, ignoring elevation.
func (pc *PointCloud) ToCartesian2D() (x, y []float32) {
	n := pc.Len()
	x, y = make([]float32, n), make([]float32, n)
	for i := 0; i < n; i++ {
		r, az := float64(pc.Range[i]), float64(pc.Azimuth[i])
		x[i] = float32(r * math.Sin(az))
		y[i] = float32(r * math.Cos(az))
	}
	return x, y
}

// SphericalToCartesian converts one point.
func SphericalToCartesian(r, az, el float32) (x, y, z float32) {
	rr, a, e := float64(r), float64(az), float64(el)
	ce := math.Cos(e)
	return float32(rr * ce * math.Sin(a)), float32(rr * ce * math.Cos(a)), float32(rr * math.Sin(e))
}

// CartesianToSpherical converts one point. Elevation is 0 at the origin.
func CartesianToSpherical(x, y, z float32) (r, az, el float32) {
	fx, fy, fz := float64(x), float64(y), float64(z)
	rr := math.Sqrt(fx*fx + fy*fy + fz*fz)
	var e float64
	if rr > 0 {
		e = math.Asin(clamp(fz/rr, -1, 1))
	}
	return float32(rr), float32(math.Atan2(fx, fy)), float32(e)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// FromCartesian builds a cloud from Cartesian coordinates. velocity, rcs
// and snr may be nil, in which case they are zero.
func FromCartesian(x, y, z, velocity, rcs, snr []float32) (*PointCloud, error) {
	if len(x) != len(y) || len(x) != len(z) {
		return nil, fmt.Errorf("%w: x=%d y=%d z=%d", ErrInvalidArrayLength, len(x), len(y), len(z))
	}
	n := len(x)
	rng, az, el := make([]float32, n), make([]float32, n), make([]float32, n)
	for i := 0; i < n; i++ {
		rng[i], az[i], el[i] = CartesianToSpherical(x[i], y[i], z[i])
	}
	return New(rng, velocity, az, el, rcs, snr, Metadata{})
}

// FromCartesian2D builds a cloud in the z = 0 plane.
func FromCartesian2D(x, y []float32) (*PointCloud, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("%w: x=%d y=%d", ErrInvalidArrayLength, len(x), len(y))
	}
	return FromCartesian(x, y, make([]float32, len(x)), nil, nil, nil)
}

// FromFrame converts the detected points of a decoded frame. SNR comes
// from side info when its count matches the points; RCS is then estimated
// from SNR and range. Without usable side info both are zero.
func FromFrame(f *l2tlv.Frame) *PointCloud {
	md := Metadata{
		FrameNumber:    f.Header.FrameNumber,
		NumDetectedObj: f.Header.NumDetectedObj,
		Timestamp:      uint64(f.Header.TimeCPUCycles),
	}
	n := len(f.Points)
	pc := &PointCloud{
		Range:     make([]float32, n),
		Velocity:  make([]float32, n),
		Azimuth:   make([]float32, n),
		Elevation: make([]float32, n),
		RCS:       make([]float32, n),
		SNR:       make([]float32, n),
		Metadata:  md,
	}
	for i, p := range f.Points {
		pc.Range[i], pc.Azimuth[i], pc.Elevation[i] = CartesianToSpherical(p.X, p.Y, p.Z)
		pc.Velocity[i] = p.Velocity
	}
	if snr := f.SNR(); len(snr) == n && n > 0 {
		copy(pc.SNR, snr)
		for i := range pc.RCS {
			pc.RCS[i] = EstimateRCS(pc.SNR[i], pc.Range[i])
		}
	}
	return pc
}

// EstimateRCS applies the radar-equation proportionality rcs ~ snr * r^4
// and returns dB, floored at -100 dB.
func EstimateRCS(snrDB, rangeM float32) float32 {
	snr := clamp(float64(snrDB), -100, 100)
	r := float64(rangeM)
	rcs := math.Pow(10, snr/10) * r * r * r * r / 1e6
	return float32(10 * math.Log10(math.Max(rcs, 1e-10)))
}

// Subset returns a new cloud holding the points at indices, in order.
func (pc *PointCloud) Subset(indices []int) *PointCloud {
	out := &PointCloud{
		Range:     make([]float32, len(indices)),
		Velocity:  make([]float32, len(indices)),
		Azimuth:   make([]float32, len(indices)),
		Elevation: make([]float32, len(indices)),
		RCS:       make([]float32, len(indices)),
		SNR:       make([]float32, len(indices)),
		Metadata:  pc.Metadata,
	}
	for j, i := range indices {
		out.Range[j] = pc.Range[i]
		out.Velocity[j] = pc.Velocity[i]
		out.Azimuth[j] = pc.Azimuth[i]
		out.Elevation[j] = pc.Elevation[i]
		out.RCS[j] = pc.RCS[i]
		out.SNR[j] = pc.SNR[i]
	}
	return out
}

// Finite reports whether point i has finite spherical coordinates.
func (pc *PointCloud) Finite(i int) bool {
	for _, v := range []float32{pc.Range[i], pc.Azimuth[i], pc.Elevation[i]} {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return false
		}
	}
	return true
}
