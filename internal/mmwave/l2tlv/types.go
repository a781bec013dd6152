package l2tlv

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/mmwave/internal/mmwave/l1frames"
)

// Type identifies a TLV record.
type Type uint32

const (
	TypeDetectedPoints          Type = 1
	TypeRangeProfile            Type = 2
	TypeNoiseProfile            Type = 3
	TypeAzimuthStaticHeatMap    Type = 4
	TypeRangeDopplerHeatMap     Type = 5
	TypeStats                   Type = 6
	TypeSideInfo                Type = 7
	TypeAzimuthElevationHeatMap Type = 8
	TypeTemperatureStats        Type = 9
)

func (t Type) String() string {
	switch t {
	case TypeDetectedPoints:
		return "detected_points"
	case TypeRangeProfile:
		return "range_profile"
	case TypeNoiseProfile:
		return "noise_profile"
	case TypeAzimuthStaticHeatMap:
		return "azimuth_static_heatmap"
	case TypeRangeDopplerHeatMap:
		return "range_doppler_heatmap"
	case TypeStats:
		return "stats"
	case TypeSideInfo:
		return "side_info"
	case TypeAzimuthElevationHeatMap:
		return "azimuth_elevation_heatmap"
	case TypeTemperatureStats:
		return "temperature_stats"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(t))
	}
}

// Known reports whether t has a typed decoder.
func (t Type) Known() bool {
	return t >= TypeDetectedPoints && t <= TypeTemperatureStats && t != TypeAzimuthElevationHeatMap
}

const (
	tlvHeaderSize   = 8
	pointSize       = 16
	sideInfoSize    = 4
	complexSize     = 4
	statsSize       = 24
	temperatureSize = 28
)

// Record is an undecoded TLV, kept for types without a decoder or with a
// layout the decoder does not recognise.
type Record struct {
	Type  Type
	Value []byte
}

// Point is one detected object in sensor Cartesian coordinates (metres)
// with its radial velocity (m/s, positive receding).
type Point struct {
	X, Y, Z, Velocity float32
}

// SideInfo carries per-point SNR and noise in dB.
type SideInfo struct {
	SNR   float32
	Noise float32
}

// Stats are the demo firmware's timing counters.
type Stats struct {
	InterFrameProcessingTime   uint32 // usec
	TransmitOutputTime         uint32 // usec
	InterFrameProcessingMargin uint32 // usec
	InterChirpProcessingMargin uint32 // usec
	ActiveFrameCPULoad         uint32 // percent
	InterFrameCPULoad          uint32 // percent
}

// Temperature is the RF front-end temperature report. Sensors is ordered
// RX0..RX3, TX0..TX2, PM, Dig0, Dig1 in degrees C, and is only populated
// when the record carries the full report.
type Temperature struct {
	ReportValid int32 // 0 means valid
	TimeMs      uint32
	Sensors     []int16
}

// Frame is one decoded frame. Absent records leave their field nil.
type Frame struct {
	Header l1frames.Header

	Points              []Point
	RangeProfile        []uint16
	NoiseProfile        []uint16
	AzimuthHeatMap      *mat.Dense // magnitude, range bins x virtual antennas
	RangeDopplerHeatMap *mat.Dense // range bins x doppler bins
	Stats               *Stats
	SideInfo            []SideInfo
	Temperature         *Temperature
	Unknown             []Record

	// Decoded lists record types in payload order, including unknown ones.
	Decoded []Type
	// Warnings describes every truncation or fallback applied.
	Warnings []string
	// Truncated is set when decoding stopped before NumTLVs records.
	Truncated bool
}

// SNR returns the side-info SNR column, or nil when absent.
func (f *Frame) SNR() []float32 {
	if len(f.SideInfo) == 0 {
		return nil
	}
	out := make([]float32, len(f.SideInfo))
	for i, s := range f.SideInfo {
		out[i] = s.SNR
	}
	return out
}
