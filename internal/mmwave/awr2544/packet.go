// Package awr2544 reassembles the raw ADC stream of AWR2544 sensors, which
// send compressed chirp data over Ethernet instead of detected objects over
// UART.
package awr2544

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

const (
	// Magic starts every packet, little-endian on the wire.
	Magic uint32 = 0x01234567
	// HeaderSize covers magic, sequence, frame and chirp numbers.
	HeaderSize = 16
	// FooterSize is the reserved trailer before the CRC.
	FooterSize = 8
	// MaxPacketSize bounds header, payload and footer.
	MaxPacketSize = 1536
)

var (
	ErrShortPacket            = errors.New("awr2544: packet shorter than header, payload and CRC")
	ErrNoMagic                = errors.New("awr2544: magic word not found")
	ErrCRCMismatch            = errors.New("awr2544: CRC mismatch")
	ErrUnsupportedCompression = errors.New("awr2544: only compression ratio 1.0 is supported")
)

// CRCType selects the packet checksum, as set by procChainCfg.
type CRCType int

const (
	CRC16 CRCType = iota // CRC-16/CCITT-FALSE
	CRC32                // CRC-32/IEEE
)

// Size is the checksum length in bytes.
func (c CRCType) Size() int {
	if c == CRC32 {
		return 4
	}
	return 2
}

func (c CRCType) String() string {
	if c == CRC32 {
		return "crc32"
	}
	return "crc16"
}

// Header identifies one packet within the stream.
type Header struct {
	Sequence uint32
	Frame    uint32
	Chirp    uint32
}

// Packet is one parsed datagram. Raw spans header through CRC.
type Packet struct {
	Header
	Payload []byte
	Footer  [FooterSize]byte
	CRC     uint32
	Raw     []byte
}

// ParsePacket locates the magic word in b and slices out a packet with a
// pktLen-byte payload.
func ParsePacket(b []byte, pktLen int, crcType CRCType) (Packet, error) {
	var magic [4]byte
	binary.LittleEndian.PutUint32(magic[:], Magic)
	start := bytes.Index(b, magic[:])
	if start < 0 {
		return Packet{}, ErrNoMagic
	}
	b = b[start:]
	total := HeaderSize + pktLen + FooterSize + crcType.Size()
	if len(b) < total {
		return Packet{}, fmt.Errorf("%w: have %d bytes, need %d", ErrShortPacket, len(b), total)
	}

	p := Packet{
		Header: Header{
			Sequence: binary.LittleEndian.Uint32(b[4:8]),
			Frame:    binary.LittleEndian.Uint32(b[8:12]),
			Chirp:    binary.LittleEndian.Uint32(b[12:16]),
		},
		Payload: b[HeaderSize : HeaderSize+pktLen],
		Raw:     b[:total],
	}
	copy(p.Footer[:], b[HeaderSize+pktLen:])
	crcAt := HeaderSize + pktLen + FooterSize
	if crcType == CRC32 {
		p.CRC = binary.LittleEndian.Uint32(b[crcAt:])
	} else {
		p.CRC = uint32(binary.LittleEndian.Uint16(b[crcAt:]))
	}
	return p, nil
}

// VerifyCRC checks the checksum over header, payload and footer.
func (p Packet) VerifyCRC(crcType CRCType) error {
	span := p.Raw[:len(p.Raw)-crcType.Size()]
	want := checksum(span, crcType)
	if want != p.CRC {
		return fmt.Errorf("%w: frame %d chirp %d: computed %#x, packet %#x", ErrCRCMismatch, p.Frame, p.Chirp, want, p.CRC)
	}
	return nil
}

// Words returns the payload as little-endian 32-bit words.
func (p Packet) Words() []uint32 {
	out := make([]uint32, len(p.Payload)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(p.Payload[i*4:])
	}
	return out
}

func checksum(b []byte, crcType CRCType) uint32 {
	if crcType == CRC32 {
		return crc32.ChecksumIEEE(b)
	}
	return uint32(crc16CCITT(b))
}

// crc16CCITT is CRC-16/CCITT-FALSE: poly 0x1021, init 0xFFFF, no reflection.
func crc16CCITT(b []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, v := range b {
		crc ^= uint16(v) << 8
		for range 8 {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// BuildPacket encodes a packet with an all-zero footer and a valid
// checksum. Simulators and tests use it.
func BuildPacket(h Header, payload []byte, crcType CRCType) []byte {
	out := make([]byte, HeaderSize, HeaderSize+len(payload)+FooterSize+crcType.Size())
	binary.LittleEndian.PutUint32(out[0:], Magic)
	binary.LittleEndian.PutUint32(out[4:], h.Sequence)
	binary.LittleEndian.PutUint32(out[8:], h.Frame)
	binary.LittleEndian.PutUint32(out[12:], h.Chirp)
	out = append(out, payload...)
	out = append(out, make([]byte, FooterSize)...)
	sum := checksum(out, crcType)
	if crcType == CRC32 {
		return binary.LittleEndian.AppendUint32(out, sum)
	}
	return binary.LittleEndian.AppendUint16(out, uint16(sum))
}
