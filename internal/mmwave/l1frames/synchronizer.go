package l1frames

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/banshee-data/mmwave/internal/monitoring"
)

const (
	// DefaultMaxAttempts bounds the reads spent looking for one frame.
	DefaultMaxAttempts = 10000
	// DefaultMaxBuffer caps the rolling receive buffer and so the largest
	// frame that can be delivered (1 MiB). A 256x64 range-Doppler map
	// alone is 32 KiB.
	DefaultMaxBuffer = 1 << 20
	// initialBuffer is the starting capacity of the receive buffer.
	initialBuffer = 1 << 16
	// DefaultReadSize is the chunk requested from the reader per attempt.
	DefaultReadSize = 4096
)

// ErrStreamEnded is returned once the underlying reader reports EOF and no
// complete frame remains buffered.
var ErrStreamEnded = errors.New("l1frames: stream ended")

// Config tunes the synchroniser. Zero values select the defaults.
type Config struct {
	MaxAttempts int
	MaxBuffer   int
	ReadSize    int
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.MaxBuffer < PreambleSize {
		c.MaxBuffer = DefaultMaxBuffer
	}
	if c.ReadSize <= 0 {
		c.ReadSize = DefaultReadSize
	}
	return c
}

// Stats counts synchroniser outcomes over the life of one session.
type Stats struct {
	FramesReceived uint64
	MissedFrames   uint64
	InvalidPackets uint64
	FailedReads    uint64
	Resets         uint64
	BytesDiscarded uint64
}

// SuccessRate is the share of expected frames that arrived, in percent.
func (s Stats) SuccessRate() float64 {
	expected := s.FramesReceived + s.MissedFrames
	if expected == 0 {
		return 0
	}
	return 100 * float64(s.FramesReceived) / float64(expected)
}

// FrameLoss is the share of expected frames lost to sequence gaps, in percent.
func (s Stats) FrameLoss() float64 {
	expected := s.FramesReceived + s.MissedFrames
	if expected == 0 {
		return 0
	}
	return 100 * float64(s.MissedFrames) / float64(expected)
}

// timeouter matches net.Error and os deadline errors without importing net.
type timeouter interface {
	Timeout() bool
}

// Synchronizer recovers frames from a byte stream. The reader must return
// promptly when no data is available (a serial port opened with a read
// timeout, or a connection with a deadline); a zero-byte read or a timeout
// error counts as one polling attempt.
//
// TryNextFrame is not safe for concurrent use. Stats may be read from any
// goroutine.
type Synchronizer struct {
	r   io.Reader
	cfg Config

	buf     []byte
	readBuf []byte
	eof     bool
	seq     SequenceTracker

	gapLog     monitoring.EveryN
	invalidLog monitoring.EveryN

	mu    sync.Mutex
	stats Stats
}

// NewSynchronizer wraps r.
func NewSynchronizer(r io.Reader, cfg Config) *Synchronizer {
	cfg = cfg.withDefaults()
	return &Synchronizer{
		r:          r,
		cfg:        cfg,
		buf:        make([]byte, 0, min(cfg.MaxBuffer, initialBuffer)),
		readBuf:    make([]byte, cfg.ReadSize),
		gapLog:     monitoring.EveryN{N: 50},
		invalidLog: monitoring.EveryN{N: 50},
	}
}

// TryNextFrame returns the next complete frame in stream order.
//
// It returns (nil, nil) when no frame could be assembled within the attempt
// budget; callers simply poll again. A non-nil error is fatal for the
// session: context cancellation, ErrStreamEnded, or a read failure.
func (s *Synchronizer) TryNextFrame(ctx context.Context) (*RawFrame, error) {
	for attempts := 0; ; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if f := s.extract(); f != nil {
			s.accept(f)
			return f, nil
		}
		if s.eof {
			return nil, ErrStreamEnded
		}
		if attempts >= s.cfg.MaxAttempts {
			return nil, nil
		}
		attempts++

		n, err := s.r.Read(s.readBuf)
		if n > 0 {
			s.push(s.readBuf[:n])
		}
		if err == nil {
			continue
		}
		var to timeouter
		switch {
		case errors.Is(err, io.EOF):
			s.eof = true
		case errors.As(err, &to) && to.Timeout():
		default:
			s.mu.Lock()
			s.stats.FailedReads++
			s.mu.Unlock()
			return nil, fmt.Errorf("l1frames: read data port: %w", err)
		}
	}
}

// Stats returns a snapshot of the counters.
func (s *Synchronizer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Reset drops buffered bytes and sequence history, e.g. after a reconnect.
// Counters are kept.
func (s *Synchronizer) Reset() {
	s.buf = s.buf[:0]
	s.eof = false
	s.seq = SequenceTracker{}
}

func (s *Synchronizer) push(p []byte) {
	s.buf = append(s.buf, p...)
	if over := len(s.buf) - s.cfg.MaxBuffer; over > 0 {
		s.discard(over)
	}
}

func (s *Synchronizer) discard(n int) {
	if n <= 0 {
		return
	}
	s.buf = append(s.buf[:0], s.buf[n:]...)
	s.mu.Lock()
	s.stats.BytesDiscarded += uint64(n)
	s.mu.Unlock()
}

// extract pulls one complete frame off the front of the buffer, discarding
// whatever precedes the first magic word.
func (s *Synchronizer) extract() *RawFrame {
	for {
		idx := bytes.Index(s.buf, MagicWord[:])
		if idx < 0 {
			// Keep a possible partial magic word at the tail.
			s.discard(len(s.buf) - (MagicSize - 1))
			return nil
		}
		s.discard(idx)
		if len(s.buf) < PreambleSize {
			return nil
		}

		hdr, err := ParseHeader(s.buf[MagicSize:PreambleSize])
		if err != nil {
			return nil
		}
		total := int(hdr.TotalPacketLen)
		if hdr.PayloadLen() < 0 || total > s.cfg.MaxBuffer {
			s.mu.Lock()
			s.stats.InvalidPackets++
			s.mu.Unlock()
			s.invalidLog.Logf("[l1frames] invalid packet length %d at frame %d, resyncing", total, hdr.FrameNumber)
			s.discard(1)
			continue
		}
		if len(s.buf) < total {
			return nil
		}

		f := &RawFrame{
			Header:  hdr,
			Payload: append([]byte(nil), s.buf[PreambleSize:total]...),
		}
		copy(f.HeaderBytes[:], s.buf[MagicSize:PreambleSize])
		s.buf = append(s.buf[:0], s.buf[total:]...)
		return f
	}
}

func (s *Synchronizer) accept(f *RawFrame) {
	before := s.seq.Resets
	missed := s.seq.Observe(f.Header.FrameNumber)

	s.mu.Lock()
	s.stats.FramesReceived++
	s.stats.MissedFrames += uint64(missed)
	s.stats.Resets += s.seq.Resets - before
	s.mu.Unlock()

	if missed > 0 {
		s.gapLog.Logf("[l1frames] frame gap: %d missed before frame %d", missed, f.Header.FrameNumber)
	}
}

// SequenceTracker counts gaps in successive frame numbers.
type SequenceTracker struct {
	last   uint32
	seen   bool
	Missed uint64
	// Resets counts frame numbers that failed to increase, which happens
	// when the sensor restarts. They are not counted as missed frames.
	Resets uint64
}

// Observe records frameNumber and returns how many frames were skipped
// since the previous one.
func (t *SequenceTracker) Observe(frameNumber uint32) uint32 {
	if !t.seen {
		t.seen = true
		t.last = frameNumber
		return 0
	}
	var missed uint32
	if frameNumber > t.last {
		missed = frameNumber - t.last - 1
	} else {
		t.Resets++
	}
	t.last = frameNumber
	t.Missed += uint64(missed)
	return missed
}
