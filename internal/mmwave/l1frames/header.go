package l1frames

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MagicWord marks the start of every frame on the data port.
var MagicWord = [MagicSize]byte{0x02, 0x01, 0x04, 0x03, 0x06, 0x05, 0x08, 0x07}

const (
	MagicSize  = 8
	HeaderSize = 32
	// PreambleSize is the magic word plus header; TotalPacketLen includes it.
	PreambleSize = MagicSize + HeaderSize
)

var ErrShortHeader = errors.New("l1frames: header shorter than 32 bytes")

// Header is the fixed frame header that follows the magic word. All
// fields are little-endian u32 on the wire.
type Header struct {
	Version        uint32
	TotalPacketLen uint32
	Platform       uint32
	FrameNumber    uint32
	TimeCPUCycles  uint32
	NumDetectedObj uint32
	NumTLVs        uint32
	// SubframeNumber is only meaningful when NumDetectedObj > 0.
	SubframeNumber *uint32
}

// ParseHeader decodes the 32 header bytes that follow the magic word.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: got %d", ErrShortHeader, len(b))
	}
	le := binary.LittleEndian
	h := Header{
		Version:        le.Uint32(b[0:4]),
		TotalPacketLen: le.Uint32(b[4:8]),
		Platform:       le.Uint32(b[8:12]),
		FrameNumber:    le.Uint32(b[12:16]),
		TimeCPUCycles:  le.Uint32(b[16:20]),
		NumDetectedObj: le.Uint32(b[20:24]),
		NumTLVs:        le.Uint32(b[24:28]),
	}
	if h.NumDetectedObj > 0 {
		sub := le.Uint32(b[28:32])
		h.SubframeNumber = &sub
	}
	return h, nil
}

// PayloadLen is the number of TLV bytes the header declares, or -1 when
// TotalPacketLen is too small to hold the preamble.
func (h Header) PayloadLen() int {
	if h.TotalPacketLen < PreambleSize {
		return -1
	}
	return int(h.TotalPacketLen) - PreambleSize
}

// Bytes encodes the header in wire order.
func (h Header) Bytes() [HeaderSize]byte {
	var b [HeaderSize]byte
	le := binary.LittleEndian
	le.PutUint32(b[0:4], h.Version)
	le.PutUint32(b[4:8], h.TotalPacketLen)
	le.PutUint32(b[8:12], h.Platform)
	le.PutUint32(b[12:16], h.FrameNumber)
	le.PutUint32(b[16:20], h.TimeCPUCycles)
	le.PutUint32(b[20:24], h.NumDetectedObj)
	le.PutUint32(b[24:28], h.NumTLVs)
	if h.SubframeNumber != nil {
		le.PutUint32(b[28:32], *h.SubframeNumber)
	}
	return b
}

// RawFrame is one header plus its undecoded TLV payload.
type RawFrame struct {
	Header      Header
	HeaderBytes [HeaderSize]byte
	Payload     []byte
}

// BuildPacket assembles a complete wire packet (magic, header, payload),
// overwriting TotalPacketLen to match. Simulators and replay tools use it.
func BuildPacket(h Header, payload []byte) []byte {
	h.TotalPacketLen = uint32(PreambleSize + len(payload))
	hb := h.Bytes()
	out := make([]byte, 0, PreambleSize+len(payload))
	out = append(out, MagicWord[:]...)
	out = append(out, hb[:]...)
	return append(out, payload...)
}
