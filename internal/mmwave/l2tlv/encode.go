package l2tlv

import (
	"encoding/binary"
	"math"

	"github.com/banshee-data/mmwave/internal/mmwave/l1frames"
)

// AppendRecord appends one TLV record to b.
func AppendRecord(b []byte, typ Type, value []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, uint32(typ))
	b = binary.LittleEndian.AppendUint32(b, uint32(len(value)))
	return append(b, value...)
}

// EncodePoints encodes detected points as a TypeDetectedPoints value.
func EncodePoints(pts []Point) []byte {
	b := make([]byte, 0, len(pts)*pointSize)
	for _, p := range pts {
		for _, f := range [...]float32{p.X, p.Y, p.Z, p.Velocity} {
			b = binary.LittleEndian.AppendUint32(b, math.Float32bits(f))
		}
	}
	return b
}

// EncodeSideInfo encodes per-point SNR and noise, in dB, as 0.1 dB steps.
func EncodeSideInfo(info []SideInfo) []byte {
	b := make([]byte, 0, len(info)*sideInfoSize)
	for _, s := range info {
		b = binary.LittleEndian.AppendUint16(b, uint16(int16(math.Round(float64(s.SNR)*10))))
		b = binary.LittleEndian.AppendUint16(b, uint16(int16(math.Round(float64(s.Noise)*10))))
	}
	return b
}

// BuildRawFrame assembles a frame from records, filling NumTLVs and the
// packet length in h. Simulators and replay tests use it.
func BuildRawFrame(h l1frames.Header, records ...Record) *l1frames.RawFrame {
	var payload []byte
	for _, r := range records {
		payload = AppendRecord(payload, r.Type, r.Value)
	}
	h.NumTLVs = uint32(len(records))
	h.TotalPacketLen = uint32(l1frames.PreambleSize + len(payload))
	return &l1frames.RawFrame{Header: h, HeaderBytes: h.Bytes(), Payload: payload}
}
