package recorder

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/mmwave/internal/mmwave/l1frames"
	"github.com/banshee-data/mmwave/internal/timeutil"
)

func rawFrame(n uint32, payload ...byte) *l1frames.RawFrame {
	h := l1frames.Header{
		Version:        0x0102,
		TotalPacketLen: uint32(l1frames.PreambleSize + len(payload)),
		Platform:       0x1843,
		FrameNumber:    n,
		NumTLVs:        1,
	}
	return &l1frames.RawFrame{Header: h, HeaderBytes: h.Bytes(), Payload: payload}
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func record(t *testing.T, frames ...*l1frames.RawFrame) (*bytes.Buffer, Header) {
	t.Helper()
	var buf bytes.Buffer
	rec, err := NewRecorder(&buf, Header{Profile: "sensorStop\nsensorStart\n", Source: "test"})
	require.NoError(t, err)
	for i, f := range frames {
		require.NoError(t, rec.WriteAt(f, t0.Add(time.Duration(i)*100*time.Millisecond)))
	}
	assert.Equal(t, uint64(len(frames)), rec.Count())
	require.NoError(t, rec.Close())
	return &buf, rec.Header()
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	frames := []*l1frames.RawFrame{rawFrame(1, 1, 2, 3), rawFrame(2, 4, 5), rawFrame(3, 6)}
	buf, hdr := record(t, frames...)

	assert.NotEqual(t, uuid.Nil, hdr.SessionID)
	assert.Equal(t, FormatVersion, hdr.Version)

	p, err := NewReplayer(buf)
	require.NoError(t, err)
	assert.Equal(t, hdr.SessionID, p.Header().SessionID)
	assert.Equal(t, "sensorStop\nsensorStart\n", p.Header().Profile)
	assert.True(t, hdr.StartedAt.Equal(p.Header().StartedAt))

	for i, want := range frames {
		got, at, err := p.Next()
		require.NoError(t, err)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("frame %d mismatch (-want +got):\n%s", i, diff)
		}
		assert.True(t, t0.Add(time.Duration(i)*100*time.Millisecond).Equal(at))
	}
	_, _, err = p.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReplayer_EndOfLogEndsStream(t *testing.T) {
	t.Parallel()
	buf, _ := record(t, rawFrame(7, 9))
	p, err := NewReplayer(buf)
	require.NoError(t, err)

	ctx := context.Background()
	f, err := p.TryNextFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), f.Header.FrameNumber)

	_, err = p.TryNextFrame(ctx)
	assert.ErrorIs(t, err, l1frames.ErrStreamEnded)
}

func TestReplayer_Pacing(t *testing.T) {
	t.Parallel()
	buf, _ := record(t, rawFrame(1, 1), rawFrame(2, 2), rawFrame(3, 3))

	tests := []struct {
		name  string
		speed float64
		want  []time.Duration
	}{
		{"unpaced", 0, nil},
		{"realtime", 1, []time.Duration{100 * time.Millisecond, 100 * time.Millisecond}},
		{"double speed", 2, []time.Duration{50 * time.Millisecond, 50 * time.Millisecond}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewReplayer(bytes.NewReader(buf.Bytes()))
			require.NoError(t, err)
			p.Speed = tt.speed
			clock := timeutil.NewMockClock(t0)
			p.Clock = clock
			for i := 0; i < 3; i++ {
				_, err := p.TryNextFrame(context.Background())
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, clock.Waits())
		})
	}
}

func TestReplayer_CancelledContext(t *testing.T) {
	t.Parallel()
	buf, _ := record(t, rawFrame(1, 1))
	p, err := NewReplayer(buf)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.TryNextFrame(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReplayer_BadMagic(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		input []byte
	}{
		{"empty", nil},
		{"short", []byte("MMW")},
		{"wrong", []byte("NOTALOGFILE")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewReplayer(bytes.NewReader(tt.input))
			assert.ErrorIs(t, err, ErrBadMagic)
		})
	}
}

func TestReplayer_TruncatedLog(t *testing.T) {
	t.Parallel()
	buf, _ := record(t, rawFrame(1, 1, 2, 3, 4), rawFrame(2, 5, 6, 7, 8))
	data := buf.Bytes()[:buf.Len()-3]

	p, err := NewReplayer(bytes.NewReader(data))
	require.NoError(t, err)
	_, _, err = p.Next()
	require.NoError(t, err)
	_, _, err = p.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestRecorder_WriteAfterClose(t *testing.T) {
	t.Parallel()
	rec, err := NewRecorder(io.Discard, Header{})
	require.NoError(t, err)
	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close())
	assert.ErrorIs(t, rec.Write(rawFrame(1, 1)), ErrClosed)
}

func TestCreateAndOpen(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "logs")
	rec, err := Create(dir, Header{Source: "/dev/ttyUSB1"})
	require.NoError(t, err)
	require.NoError(t, rec.Write(rawFrame(42, 1, 2)))
	require.NoError(t, rec.Close())

	assert.Equal(t, FileExtension, filepath.Ext(rec.Path()))
	_, err = os.Stat(rec.Path())
	require.NoError(t, err)

	p, err := Open(rec.Path())
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, "/dev/ttyUSB1", p.Header().Source)
	f, _, err := p.Next()
	require.NoError(t, err)
	assert.Equal(t, uint32(42), f.Header.FrameNumber)
}

type sliceSource struct {
	frames []*l1frames.RawFrame
}

func (s *sliceSource) TryNextFrame(context.Context) (*l1frames.RawFrame, error) {
	if len(s.frames) == 0 {
		return nil, l1frames.ErrStreamEnded
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, nil
}

func TestTee_RecordsEveryFrame(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	rec, err := NewRecorder(&buf, Header{})
	require.NoError(t, err)

	src := Tee(&sliceSource{frames: []*l1frames.RawFrame{rawFrame(1, 1), rawFrame(2, 2)}}, rec)
	ctx := context.Background()
	var n int
	for {
		_, err := src.TryNextFrame(ctx)
		if errors.Is(err, l1frames.ErrStreamEnded) {
			break
		}
		require.NoError(t, err)
		n++
	}
	require.NoError(t, rec.Close())
	assert.Equal(t, 2, n)

	p, err := NewReplayer(&buf)
	require.NoError(t, err)
	var got []uint32
	for {
		f, _, err := p.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, f.Header.FrameNumber)
	}
	assert.Equal(t, []uint32{1, 2}, got)
}
