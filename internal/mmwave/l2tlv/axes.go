package l2tlv

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/mat"
)

const (
	SpeedOfLight     = 3e8  // m/s
	CarrierFrequency = 77e9 // Hz

	DefaultRangeStep      = 0.044 // m per bin
	DefaultRampEndTimeUs  = 60
	DefaultChirpsPerFrame = 32

	// AzimuthDisplayPoints is the interpolated width of the range-azimuth map.
	AzimuthDisplayPoints = 64
)

// RangeAxis returns the range in metres at the start of each of n bins.
func RangeAxis(n int, rangeStep float64) []float64 {
	if rangeStep <= 0 {
		rangeStep = DefaultRangeStep
	}
	axis := make([]float64, n)
	for i := range axis {
		axis[i] = float64(i) * rangeStep
	}
	return axis
}

// VelocityResolution is the Doppler bin width in m/s for a 77 GHz carrier.
func VelocityResolution(rampEndTimeUs float64, chirpsPerFrame int) float64 {
	if rampEndTimeUs <= 0 {
		rampEndTimeUs = DefaultRampEndTimeUs
	}
	if chirpsPerFrame <= 0 {
		chirpsPerFrame = DefaultChirpsPerFrame
	}
	lambda := SpeedOfLight / CarrierFrequency
	return lambda / (4 * rampEndTimeUs * 1e-6 * float64(chirpsPerFrame))
}

// DopplerAxis centres n Doppler bins on zero velocity: bin i maps to
// (floor(-n/2) + i) * vres.
func DopplerAxis(n int, vres float64) []float64 {
	start := int(math.Floor(-float64(n) / 2))
	axis := make([]float64, n)
	for i := range axis {
		axis[i] = float64(start+i) * vres
	}
	return axis
}

// RangeDopplerDB converts linear heat-map bins to dB with a +1 offset.
func RangeDopplerDB(m *mat.Dense) *mat.Dense {
	if m == nil {
		return nil
	}
	var out mat.Dense
	out.Apply(func(_, _ int, v float64) float64 {
		return 20 * math.Log10(v+1)
	}, m)
	return &out
}

// NoiseProfileDB converts a noise profile to dB.
func NoiseProfileDB(p []uint16) []float64 {
	out := make([]float64, len(p))
	for i, v := range p {
		out[i] = 20 * math.Log10(float64(v)+1e-9)
	}
	return out
}

// RangeProfileDB converts a range profile to dB with a +1 offset.
func RangeProfileDB(p []uint16) []float64 {
	out := make([]float64, len(p))
	for i, v := range p {
		out[i] = 20 * math.Log10(float64(v)+1)
	}
	return out
}

// RangeAzimuthDB converts the azimuth magnitude map to dB and linearly
// resamples each range row from the antenna count onto width points over
// -90..90 degrees. It returns the resampled map and its azimuth axis.
func RangeAzimuthDB(m *mat.Dense, width int) (*mat.Dense, []float64) {
	if m == nil || width < 2 {
		return nil, nil
	}
	rows, cols := m.Dims()
	outAxis := floats.Span(make([]float64, width), -90, 90)
	out := mat.NewDense(rows, width, nil)

	db := make([]float64, cols)
	inAxis := floats.Span(make([]float64, max(cols, 2)), -90, 90)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			v := m.At(r, c)
			if v == 0 {
				v = 1e-10
			}
			db[c] = 20 * math.Log10(v)
		}
		if cols == 1 {
			for c := 0; c < width; c++ {
				out.Set(r, c, db[0])
			}
			continue
		}
		var pl interp.PiecewiseLinear
		if err := pl.Fit(inAxis, db); err != nil {
			continue
		}
		for c, az := range outAxis {
			out.Set(r, c, pl.Predict(az))
		}
	}
	return out, outAxis
}
