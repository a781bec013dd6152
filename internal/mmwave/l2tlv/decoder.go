package l2tlv

import (
	"encoding/binary"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/mmwave/internal/mmwave/l1frames"
	"github.com/banshee-data/mmwave/internal/monitoring"
)

const (
	DefaultRangeBins       = 256
	DefaultVirtualAntennas = 4
)

var warnLog = monitoring.EveryN{N: 100}

// Decoder turns raw frames into typed records. The bin counts come from
// the active chirp profile and are only used to shape the heat maps.
type Decoder struct {
	RangeBins       int
	DopplerBins     int
	VirtualAntennas int
}

// Decode decodes raw.Payload using the TLV count from raw.Header.
func (d Decoder) Decode(raw *l1frames.RawFrame) *Frame {
	f := d.DecodePayload(raw.Header.NumTLVs, raw.Payload)
	f.Header = raw.Header
	return f
}

// DecodePayload walks up to numTLVs records in payload.
func (d Decoder) DecodePayload(numTLVs uint32, payload []byte) *Frame {
	f := &Frame{}
	le := binary.LittleEndian
	idx := 0
	for i := uint32(0); i < numTLVs; i++ {
		if idx+tlvHeaderSize > len(payload) {
			f.warn("insufficient data for tlv header %d/%d at offset %d", i+1, numTLVs, idx)
			f.Truncated = true
			break
		}
		typ := Type(le.Uint32(payload[idx : idx+4]))
		length := uint64(le.Uint32(payload[idx+4 : idx+8]))
		if uint64(idx+tlvHeaderSize)+length > uint64(len(payload)) {
			f.warn("tlv %s declares %d bytes but only %d remain", typ, length, len(payload)-idx-tlvHeaderSize)
			f.Truncated = true
			break
		}
		start := idx + tlvHeaderSize
		value := payload[start : start+int(length)]
		d.dispatch(f, typ, value)
		f.Decoded = append(f.Decoded, typ)
		idx = start + int(length)
	}
	return f
}

func (f *Frame) warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	f.Warnings = append(f.Warnings, msg)
	warnLog.Logf("[l2tlv] %s", msg)
}

func (d Decoder) dispatch(f *Frame, typ Type, v []byte) {
	switch typ {
	case TypeDetectedPoints:
		f.Points = decodePoints(f, v)
	case TypeRangeProfile:
		f.RangeProfile = decodeUint16s(f, typ, v)
	case TypeNoiseProfile:
		f.NoiseProfile = decodeUint16s(f, typ, v)
	case TypeAzimuthStaticHeatMap:
		f.AzimuthHeatMap = d.decodeAzimuth(f, v)
	case TypeRangeDopplerHeatMap:
		f.RangeDopplerHeatMap = d.decodeRangeDoppler(f, v)
	case TypeStats:
		if len(v) != statsSize {
			f.warn("stats record has %d bytes, want %d", len(v), statsSize)
			f.Unknown = append(f.Unknown, Record{Type: typ, Value: clone(v)})
			return
		}
		f.Stats = decodeStats(v)
	case TypeSideInfo:
		f.SideInfo = decodeSideInfo(f, v)
	case TypeTemperatureStats:
		t, ok := decodeTemperature(f, v)
		if !ok {
			f.Unknown = append(f.Unknown, Record{Type: typ, Value: clone(v)})
			return
		}
		f.Temperature = t
	default:
		f.Unknown = append(f.Unknown, Record{Type: typ, Value: clone(v)})
	}
}

func clone(v []byte) []byte {
	return append([]byte(nil), v...)
}

func decodePoints(f *Frame, v []byte) []Point {
	if rem := len(v) % pointSize; rem != 0 {
		f.warn("point cloud length %d is not a multiple of %d, dropping %d trailing bytes", len(v), pointSize, rem)
	}
	n := len(v) / pointSize
	pts := make([]Point, n)
	le := binary.LittleEndian
	for i := range pts {
		b := v[i*pointSize:]
		pts[i] = Point{
			X:        math.Float32frombits(le.Uint32(b[0:4])),
			Y:        math.Float32frombits(le.Uint32(b[4:8])),
			Z:        math.Float32frombits(le.Uint32(b[8:12])),
			Velocity: math.Float32frombits(le.Uint32(b[12:16])),
		}
	}
	return pts
}

func decodeUint16s(f *Frame, typ Type, v []byte) []uint16 {
	if len(v)%2 != 0 {
		f.warn("%s length %d is odd, truncating last byte", typ, len(v))
	}
	out := make([]uint16, len(v)/2)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(v[2*i:])
	}
	return out
}

func decodeSideInfo(f *Frame, v []byte) []SideInfo {
	if rem := len(v) % sideInfoSize; rem != 0 {
		f.warn("side info length %d is not a multiple of %d, dropping %d trailing bytes", len(v), sideInfoSize, rem)
	}
	out := make([]SideInfo, len(v)/sideInfoSize)
	le := binary.LittleEndian
	for i := range out {
		b := v[i*sideInfoSize:]
		out[i] = SideInfo{
			SNR:   float32(int16(le.Uint16(b[0:2]))) * 0.1,
			Noise: float32(int16(le.Uint16(b[2:4]))) * 0.1,
		}
	}
	return out
}

func decodeStats(v []byte) *Stats {
	le := binary.LittleEndian
	return &Stats{
		InterFrameProcessingTime:   le.Uint32(v[0:4]),
		TransmitOutputTime:         le.Uint32(v[4:8]),
		InterFrameProcessingMargin: le.Uint32(v[8:12]),
		InterChirpProcessingMargin: le.Uint32(v[12:16]),
		ActiveFrameCPULoad:         le.Uint32(v[16:20]),
		InterFrameCPULoad:          le.Uint32(v[20:24]),
	}
}

func decodeTemperature(f *Frame, v []byte) (*Temperature, bool) {
	if len(v) < 4 {
		f.warn("temperature record too short: %d bytes", len(v))
		return nil, false
	}
	le := binary.LittleEndian
	t := &Temperature{ReportValid: int32(le.Uint32(v[0:4]))}
	if len(v) != temperatureSize {
		f.warn("temperature record has %d bytes, want %d; keeping validity flag only", len(v), temperatureSize)
		return t, true
	}
	t.TimeMs = le.Uint32(v[4:8])
	t.Sensors = make([]int16, 10)
	for i := range t.Sensors {
		t.Sensors[i] = int16(le.Uint16(v[8+2*i:]))
	}
	return t, true
}

func (d Decoder) rangeBins() int {
	if d.RangeBins > 0 {
		return d.RangeBins
	}
	return DefaultRangeBins
}

// decodeAzimuth converts (imag, real) int16 pairs into magnitudes shaped
// range bins x virtual antennas.
func (d Decoder) decodeAzimuth(f *Frame, v []byte) *mat.Dense {
	if len(v)%complexSize != 0 {
		f.warn("azimuth heatmap length %d is not a multiple of %d", len(v), complexSize)
		return nil
	}
	total := len(v) / complexSize
	rows := d.rangeBins()
	cols := d.VirtualAntennas
	if cols <= 0 {
		cols = DefaultVirtualAntennas
	}
	if total != rows*cols {
		if total == 0 || total%rows != 0 {
			f.warn("azimuth heatmap has %d complex values, want %dx%d", total, rows, cols)
			return nil
		}
		cols = total / rows
	}
	le := binary.LittleEndian
	data := make([]float64, total)
	for i := range data {
		im := float64(int16(le.Uint16(v[4*i:])))
		re := float64(int16(le.Uint16(v[4*i+2:])))
		data[i] = math.Hypot(re, im)
	}
	return mat.NewDense(rows, cols, data)
}

// decodeRangeDoppler shapes the u16 bins as range x doppler, falling back
// to a near-square shape when the counts disagree with the profile.
func (d Decoder) decodeRangeDoppler(f *Frame, v []byte) *mat.Dense {
	if len(v)%2 != 0 {
		f.warn("range-doppler heatmap length %d is odd, truncating last byte", len(v))
	}
	total := len(v) / 2
	if total == 0 {
		return nil
	}
	rows, cols := d.rangeBins(), d.DopplerBins
	if cols <= 0 || rows*cols != total {
		f.warn("range-doppler heatmap dimensions mismatch: want %dx%d bins, got %d", rows, cols, total)
		rows = int(math.Sqrt(float64(total)))
		if rows == 0 || total%rows != 0 {
			f.warn("range-doppler heatmap cannot be reshaped from %d bins", total)
			return nil
		}
		cols = total / rows
	}
	data := make([]float64, total)
	for i := range data {
		data[i] = float64(binary.LittleEndian.Uint16(v[2*i:]))
	}
	return mat.NewDense(rows, cols, data)
}
