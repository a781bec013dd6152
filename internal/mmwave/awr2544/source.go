package awr2544

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/mmwave/internal/monitoring"
)

// DefaultPort is the UDP port the sensor streams to.
const DefaultPort = 1024

// PayloadFunc receives one UDP payload and its capture or arrival time.
// Returning an error stops the source.
type PayloadFunc func(payload []byte, ts time.Time) error

const pcapngMagic = 0x0A0D0D0A

// ReadPcap replays a pcap or pcapng capture, calling fn for each UDP
// payload sent to port. Port 0 accepts every UDP packet.
func ReadPcap(ctx context.Context, r io.Reader, port int, fn PayloadFunc) error {
	br := bufio.NewReader(r)
	head, err := br.Peek(4)
	if err != nil {
		return fmt.Errorf("read capture header: %w", err)
	}

	var src gopacket.PacketDataSource
	var link layers.LinkType
	if binary.LittleEndian.Uint32(head) == pcapngMagic {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return fmt.Errorf("open pcapng: %w", err)
		}
		src, link = ng, ng.LinkType()
	} else {
		pr, err := pcapgo.NewReader(br)
		if err != nil {
			return fmt.Errorf("open pcap: %w", err)
		}
		src, link = pr, pr.LinkType()
	}

	packets := gopacket.NewPacketSource(src, link)
	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		pkt, err := packets.NextPacket()
		if errors.Is(err, io.EOF) {
			monitoring.Logf("[awr2544] capture complete: %d UDP payloads", count)
			return nil
		}
		if err != nil {
			return fmt.Errorf("read capture: %w", err)
		}
		udpLayer := pkt.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		if port != 0 && int(udp.DstPort) != port {
			continue
		}
		count++
		if err := fn(udp.Payload, pkt.Metadata().Timestamp); err != nil {
			return err
		}
	}
}

// Listener receives the live packet stream on a UDP socket.
type Listener struct {
	Address string
	// RcvBuf is the socket receive buffer in bytes; 0 keeps the OS default.
	RcvBuf int

	packets atomic.Uint64
	bound   atomic.Pointer[net.UDPAddr]
}

// Packets is the number of datagrams received.
func (l *Listener) Packets() uint64 { return l.packets.Load() }

// LocalAddr is the bound address once Run has started, or nil.
func (l *Listener) LocalAddr() *net.UDPAddr { return l.bound.Load() }

// Run reads datagrams until ctx ends, calling fn for each. Reads use a
// 100 ms deadline so cancellation is noticed promptly.
func (l *Listener) Run(ctx context.Context, fn PayloadFunc) error {
	addr, err := net.ResolveUDPAddr("udp", l.Address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	defer conn.Close()
	if l.RcvBuf > 0 {
		if err := conn.SetReadBuffer(l.RcvBuf); err != nil {
			monitoring.Logf("[awr2544] warning: failed to set receive buffer to %d: %v", l.RcvBuf, err)
		}
	}
	local, _ := conn.LocalAddr().(*net.UDPAddr)
	l.bound.Store(local)
	monitoring.Logf("[awr2544] listening on %s", conn.LocalAddr())

	buf := make([]byte, 2*MaxPacketSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("udp read: %w", err)
		}
		l.packets.Add(1)
		if err := fn(buf[:n], time.Now()); err != nil {
			return err
		}
	}
}

// Decode returns a PayloadFunc that feeds acc and passes completed frames
// to emit. Malformed datagrams are logged and skipped.
func Decode(acc *Accumulator, emit func(*Frame) error) PayloadFunc {
	bad := monitoring.EveryN{N: 100}
	return func(payload []byte, _ time.Time) error {
		f, err := acc.PushBytes(payload)
		if err != nil {
			if errors.Is(err, ErrUnsupportedCompression) {
				return err
			}
			bad.Logf("[awr2544] dropping packet: %v", err)
			return nil
		}
		if f == nil {
			return nil
		}
		return emit(f)
	}
}
