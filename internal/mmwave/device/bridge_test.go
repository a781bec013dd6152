package device

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pebbe/zmq4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var bridgeSeq atomic.Int64

// fakeBridge answers control requests like the sensor CLI and pushes data
// messages on demand.
type fakeBridge struct {
	controlEndpoint string
	dataEndpoint    string
	push            *zmq4.Socket

	mu       sync.Mutex
	received []string
	replies  map[string]string
}

func newFakeBridge(t *testing.T) *fakeBridge {
	t.Helper()
	n := bridgeSeq.Add(1)
	b := &fakeBridge{
		controlEndpoint: fmt.Sprintf("inproc://bridge-control-%d", n),
		dataEndpoint:    fmt.Sprintf("inproc://bridge-data-%d", n),
		replies:         make(map[string]string),
	}

	rep, err := zmq4.NewSocket(zmq4.REP)
	require.NoError(t, err)
	require.NoError(t, rep.SetLinger(0))
	require.NoError(t, rep.SetRcvtimeo(50*time.Millisecond))
	require.NoError(t, rep.Bind(b.controlEndpoint))

	push, err := zmq4.NewSocket(zmq4.PUSH)
	require.NoError(t, err)
	require.NoError(t, push.SetLinger(0))
	require.NoError(t, push.Bind(b.dataEndpoint))
	b.push = push

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer rep.Close()
		for ctx.Err() == nil {
			msg, err := rep.Recv(0)
			if err != nil {
				continue
			}
			cmd := strings.TrimSpace(msg)
			b.mu.Lock()
			b.received = append(b.received, cmd)
			reply, ok := b.replies[firstField(cmd)]
			b.mu.Unlock()
			if !ok {
				reply = "Done"
			}
			_, _ = rep.Send("mmwDemo:/>"+cmd+"\r\n"+reply+"\r\nmmwDemo:/>", 0)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		push.Close()
	})
	return b
}

func (b *fakeBridge) setReply(name, reply string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replies[name] = reply
}

func (b *fakeBridge) commands() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.received...)
}

func (b *fakeBridge) options() Options {
	return Options{ControlEndpoint: b.controlEndpoint, DataEndpoint: b.dataEndpoint}
}

func TestBridgeConnection_ConfiguresAndStreams(t *testing.T) {
	b := newFakeBridge(t)
	b.setReply("guiMonitor", "'guiMonitor' is not recognized as a CLI command")

	conn := NewBridgeConnection(b.options())
	require.NoError(t, conn.Connect(context.Background(), testProfile(t)))
	if diff := cmp.Diff(b.commands(), wantSequence); diff != "" {
		t.Errorf("sequence (-got +want):\n%s", diff)
	}

	// one frame split over two messages, then a whole one
	first := packet(7)
	_, err := b.push.SendBytes(first[:20], 0)
	require.NoError(t, err)
	_, err = b.push.SendBytes(first[20:], 0)
	require.NoError(t, err)
	_, err = b.push.SendBytes(packet(8), 0)
	require.NoError(t, err)

	for _, want := range []uint32{7, 8} {
		f, err := conn.TryNextFrame(context.Background())
		require.NoError(t, err)
		require.NotNil(t, f)
		assert.Equal(t, want, f.Header.FrameNumber)
	}

	st := conn.Stats()
	assert.Equal(t, TransportNetwork, st.Transport)
	assert.Equal(t, uint64(2), st.FramesReceived)
	assert.Equal(t, 1, st.CommandsSkipped)

	require.NoError(t, conn.Close())
	sent := b.commands()
	assert.Equal(t, "sensorStop", sent[len(sent)-1])

	_, err = conn.TryNextFrame(context.Background())
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestBridgeConnection_ErrorReplyAborts(t *testing.T) {
	b := newFakeBridge(t)
	b.setReply("channelCfg", "Error -1: invalid rx mask")

	conn := NewBridgeConnection(b.options())
	err := conn.Connect(context.Background(), testProfile(t))
	require.ErrorIs(t, err, ErrRadarConnection)
	if diff := cmp.Diff(b.commands(), wantSequence[:3]); diff != "" {
		t.Errorf("sequence (-got +want):\n%s", diff)
	}
	require.NoError(t, conn.Close())
}

func TestBridgeConnection_IdleDataIsNotAnError(t *testing.T) {
	b := newFakeBridge(t)
	opts := b.options()
	opts.MaxSyncAttempts = 1

	conn := NewBridgeConnection(opts)
	require.NoError(t, conn.Connect(context.Background(), testProfile(t)))
	t.Cleanup(func() { conn.Close() })

	f, err := conn.TryNextFrame(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, f)
}
