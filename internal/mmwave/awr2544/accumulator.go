package awr2544

import (
	"fmt"
	"math"
	"math/cmplx"
	"sync"

	"github.com/banshee-data/mmwave/internal/monitoring"
)

// Frame is one decompressed radar cube.
type Frame struct {
	Number     uint32
	Chirps     int
	RangeBins  int
	RxAntennas int
	// Samples are ordered chirp, range bin, antenna.
	Samples []complex64
}

// At returns the sample for one chirp, range bin and antenna.
func (f *Frame) At(chirp, bin, rx int) complex64 {
	return f.Samples[(chirp*f.RangeBins+bin)*f.RxAntennas+rx]
}

// RangeProfileDB is 20·log10|x| over range for one chirp and antenna.
// Zero samples map to 0 dB.
func (f *Frame) RangeProfileDB(chirp, rx int) []float64 {
	out := make([]float64, f.RangeBins)
	for bin := range out {
		mag := cmplx.Abs(complex128(f.At(chirp, bin, rx)))
		if mag > 0 {
			out[bin] = 20 * math.Log10(mag)
		}
	}
	return out
}

// AccumulatorStats count packet outcomes for a session.
type AccumulatorStats struct {
	Packets     uint64
	Gaps        uint64
	BadFrames   uint64
	CRCFailures uint64
	Frames      uint64
}

// Accumulator collects the packets of one frame and emits the frame once
// its last packet arrives. A sequence gap discards the frame in progress.
// It belongs to a single session and is not shared.
type Accumulator struct {
	cfg Config
	// ChirpZeroOnly keeps only chirp 0 of each frame.
	ChirpZeroOnly bool
	// CheckCRC verifies every packet checksum. Failures are counted and
	// logged but the data is kept.
	CheckCRC bool

	lastSeq  int64
	badFrame int64
	words    []uint32
	crcLog   monitoring.EveryN
	gapLog   monitoring.EveryN

	mu    sync.Mutex
	stats AccumulatorStats
}

// NewAccumulator returns an empty accumulator for cfg.
func NewAccumulator(cfg Config) *Accumulator {
	return &Accumulator{
		cfg:      cfg,
		lastSeq:  -1,
		badFrame: -1,
		crcLog:   monitoring.EveryN{N: 100},
		gapLog:   monitoring.EveryN{N: 20},
	}
}

// Reset discards the frame in progress and the sequence history.
func (a *Accumulator) Reset() {
	a.lastSeq = -1
	a.badFrame = -1
	a.words = a.words[:0]
}

// Stats returns a snapshot of the counters.
func (a *Accumulator) Stats() AccumulatorStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

func (a *Accumulator) count(fn func(*AccumulatorStats)) {
	a.mu.Lock()
	fn(&a.stats)
	a.mu.Unlock()
}

// PushBytes parses one datagram and pushes it.
func (a *Accumulator) PushBytes(b []byte) (*Frame, error) {
	p, err := ParsePacket(b, a.cfg.PktLen, a.cfg.CRCType)
	if err != nil {
		return nil, err
	}
	return a.Push(p)
}

// Push adds a packet. It returns a frame when p completes one, and nil
// otherwise.
func (a *Accumulator) Push(p Packet) (*Frame, error) {
	a.count(func(s *AccumulatorStats) { s.Packets++ })

	if a.CheckCRC {
		if err := p.VerifyCRC(a.cfg.CRCType); err != nil {
			a.count(func(s *AccumulatorStats) { s.CRCFailures++ })
			a.crcLog.Logf("[awr2544] %v", err)
		}
	}

	seq := int64(p.Sequence)
	if seq != a.lastSeq+1 {
		a.gapLog.Logf("[awr2544] packet drop: frame %d seq %d after %d", p.Frame, seq, a.lastSeq)
		a.badFrame = int64(p.Frame)
		a.words = a.words[:0]
		a.count(func(s *AccumulatorStats) {
			s.Gaps++
			s.BadFrames++
		})
	}
	a.lastSeq = seq

	if int64(p.Frame) == a.badFrame {
		return nil, nil
	}
	if !a.ChirpZeroOnly || p.Chirp == 0 {
		a.words = append(a.words, p.Words()...)
	}
	if a.cfg.PktsPerFrame <= 0 || (seq+1)%int64(a.cfg.PktsPerFrame) != 0 {
		return nil, nil
	}

	f, err := a.decompress(p.Frame)
	a.words = a.words[:0]
	if err != nil {
		return nil, err
	}
	a.count(func(s *AccumulatorStats) { s.Frames++ })
	return f, nil
}

// decompress unpacks the collected words. Only the uncompressed layout
// (ratio 1.0) is understood: each word holds imag in the low and real in
// the high 16 bits.
func (a *Accumulator) decompress(number uint32) (*Frame, error) {
	if a.cfg.CompRatio != 1 {
		return nil, fmt.Errorf("%w (ratio %g)", ErrUnsupportedCompression, a.cfg.CompRatio)
	}
	chirps := a.cfg.ChirpsPerFrame
	if a.ChirpZeroOnly {
		chirps = 1
	}
	bins, rx := a.cfg.RangeBins, a.cfg.RxAntennas
	perChirp := bins * rx
	if len(a.words) != chirps*perChirp {
		return nil, fmt.Errorf("awr2544: frame %d has %d samples, want %d", number, len(a.words), chirps*perChirp)
	}

	f := &Frame{Number: number, Chirps: chirps, RangeBins: bins, RxAntennas: rx, Samples: make([]complex64, len(a.words))}
	for c := range chirps {
		chirp := a.words[c*perChirp : (c+1)*perChirp]
		for i, w := range chirp {
			bin, ant := i/rx, i%rx
			if a.cfg.CompMethod == 1 {
				// antenna-major blocks
				ant, bin = i/bins, i%bins
			}
			re := float32(int16(w >> 16))
			im := float32(int16(w))
			f.Samples[(c*bins+bin)*rx+ant] = complex(re, im)
		}
	}
	return f, nil
}
