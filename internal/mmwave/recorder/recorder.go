// Package recorder captures raw sensor frames to a CBOR log and replays
// them as a frame source.
//
// A log starts with the Magic bytes, then a CBOR-encoded Header, then one
// CBOR-encoded Record per frame.
package recorder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/banshee-data/mmwave/internal/mmwave/l1frames"
	"github.com/banshee-data/mmwave/internal/monitoring"
)

const (
	// Magic identifies a frame log.
	Magic = "MMWREC01"
	// FileExtension is used by Create.
	FileExtension = ".mmwrec"
	// FormatVersion is written to every header.
	FormatVersion = 1
)

var (
	ErrBadMagic = errors.New("recorder: not a frame log")
	ErrClosed   = errors.New("recorder: closed")
)

// Header describes one recording session.
type Header struct {
	Version   int       `cbor:"version"`
	SessionID uuid.UUID `cbor:"session_id"`
	StartedAt time.Time `cbor:"started_at"`
	// Profile is the chirp profile text the sensor was configured with.
	Profile string `cbor:"profile,omitempty"`
	Source  string `cbor:"source,omitempty"`
}

// Record is one captured frame.
type Record struct {
	Seq         uint64    `cbor:"seq"`
	ReceivedAt  time.Time `cbor:"received_at"`
	HeaderBytes []byte    `cbor:"header"`
	Payload     []byte    `cbor:"payload"`
}

var encMode = mustEncMode()

func mustEncMode() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}

// Recorder appends frames to a log. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	header Header
	buf    *bufio.Writer
	enc    *cbor.Encoder
	closer io.Closer
	seq    uint64
	closed bool
	now    func() time.Time
	path   string
}

// NewRecorder writes the log preamble to w. A zero SessionID or StartedAt
// is filled in.
func NewRecorder(w io.Writer, h Header) (*Recorder, error) {
	if h.SessionID == uuid.Nil {
		h.SessionID = uuid.New()
	}
	if h.StartedAt.IsZero() {
		h.StartedAt = time.Now()
	}
	h.Version = FormatVersion

	buf := bufio.NewWriterSize(w, 1<<16)
	if _, err := buf.WriteString(Magic); err != nil {
		return nil, err
	}
	r := &Recorder{header: h, buf: buf, enc: encMode.NewEncoder(buf), now: time.Now}
	if err := r.enc.Encode(h); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	if err := buf.Flush(); err != nil {
		return nil, err
	}
	if c, ok := w.(io.Closer); ok {
		r.closer = c
	}
	return r, nil
}

// Create starts a new log file in dir named after the session.
func Create(dir string, h Header) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	if h.SessionID == uuid.Nil {
		h.SessionID = uuid.New()
	}
	if h.StartedAt.IsZero() {
		h.StartedAt = time.Now()
	}
	name := fmt.Sprintf("%s_%s%s", h.StartedAt.UTC().Format("20060102_150405"), h.SessionID.String()[:8], FileExtension)
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	r, err := NewRecorder(f, h)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.path = path
	monitoring.Logf("[recorder] recording session %s to %s", h.SessionID, path)
	return r, nil
}

// Header returns the session header.
func (r *Recorder) Header() Header { return r.header }

// Path is the file written by Create, or "".
func (r *Recorder) Path() string { return r.path }

// Count is the number of frames written.
func (r *Recorder) Count() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

// Write appends one frame stamped with the current time.
func (r *Recorder) Write(f *l1frames.RawFrame) error {
	return r.WriteAt(f, r.now())
}

// WriteAt appends one frame with an explicit receive time.
func (r *Recorder) WriteAt(f *l1frames.RawFrame, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	rec := Record{
		Seq:         r.seq,
		ReceivedAt:  at,
		HeaderBytes: f.HeaderBytes[:],
		Payload:     f.Payload,
	}
	if err := r.enc.Encode(rec); err != nil {
		return fmt.Errorf("write record %d: %w", r.seq, err)
	}
	r.seq++
	return r.buf.Flush()
}

// Close flushes the log and closes the underlying file, if any.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.buf.Flush()
	if r.closer != nil {
		err = errors.Join(err, r.closer.Close())
	}
	return err
}

// FrameSource matches pipeline.FrameSource.
type FrameSource interface {
	TryNextFrame(ctx context.Context) (*l1frames.RawFrame, error)
}

// Tee records every frame read from src before returning it. Recording
// failures are logged and do not interrupt the stream.
func Tee(src FrameSource, r *Recorder) FrameSource {
	return &tee{src: src, rec: r, failLog: monitoring.EveryN{N: 100}}
}

type tee struct {
	src     FrameSource
	rec     *Recorder
	failLog monitoring.EveryN
}

func (t *tee) TryNextFrame(ctx context.Context) (*l1frames.RawFrame, error) {
	f, err := t.src.TryNextFrame(ctx)
	if f != nil {
		if werr := t.rec.Write(f); werr != nil {
			t.failLog.Logf("[recorder] failed to record frame %d: %v", f.Header.FrameNumber, werr)
		}
	}
	return f, err
}
