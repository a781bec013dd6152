package recorder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/banshee-data/mmwave/internal/mmwave/l1frames"
	"github.com/banshee-data/mmwave/internal/timeutil"
)

// Replayer reads a frame log. It satisfies the frame-source half of a
// device connection.
type Replayer struct {
	header Header
	dec    *cbor.Decoder
	closer io.Closer

	// Speed scales the recorded inter-frame gaps: 1 replays in real time,
	// 2 twice as fast, and 0 without any delay.
	Speed float64

	// Clock paces replay; nil means the real clock.
	Clock timeutil.Clock

	last time.Time
}

// NewReplayer reads the log preamble from r.
func NewReplayer(r io.Reader) (*Replayer, error) {
	br := bufio.NewReaderSize(r, 1<<16)
	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMagic, err)
	}
	if string(magic) != Magic {
		return nil, fmt.Errorf("%w: got %q", ErrBadMagic, magic)
	}
	p := &Replayer{dec: cbor.NewDecoder(br)}
	if err := p.dec.Decode(&p.header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if c, ok := r.(io.Closer); ok {
		p.closer = c
	}
	return p, nil
}

// Open opens a log file.
func Open(path string) (*Replayer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	p, err := NewReplayer(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Header returns the session header.
func (p *Replayer) Header() Header { return p.header }

// Next returns the next frame and its receive time, or io.EOF at the end
// of the log. A log cut off mid-record also ends with io.EOF.
func (p *Replayer) Next() (*l1frames.RawFrame, time.Time, error) {
	var rec Record
	if err := p.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, time.Time{}, io.EOF
		}
		return nil, time.Time{}, err
	}
	h, err := l1frames.ParseHeader(rec.HeaderBytes)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("record %d: %w", rec.Seq, err)
	}
	f := &l1frames.RawFrame{Header: h, Payload: rec.Payload}
	copy(f.HeaderBytes[:], rec.HeaderBytes)
	return f, rec.ReceivedAt, nil
}

// TryNextFrame returns the next frame, paced by Speed. The end of the log
// is reported as l1frames.ErrStreamEnded.
func (p *Replayer) TryNextFrame(ctx context.Context) (*l1frames.RawFrame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, at, err := p.Next()
	if errors.Is(err, io.EOF) {
		return nil, l1frames.ErrStreamEnded
	}
	if err != nil {
		return nil, err
	}
	if p.Speed > 0 && !p.last.IsZero() {
		if gap := at.Sub(p.last); gap > 0 {
			if err := p.wait(ctx, time.Duration(float64(gap)/p.Speed)); err != nil {
				return nil, err
			}
		}
	}
	p.last = at
	return f, nil
}

// Close closes the underlying file, if any.
func (p *Replayer) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}

func (p *Replayer) wait(ctx context.Context, d time.Duration) error {
	clock := p.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clock.After(d):
		return nil
	}
}
