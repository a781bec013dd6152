package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pebbe/zmq4"

	"github.com/banshee-data/mmwave/internal/mmwave/l1frames"
	"github.com/banshee-data/mmwave/internal/mmwave/profile"
	"github.com/banshee-data/mmwave/internal/monitoring"
)

const (
	// DefaultControlEndpoint is the bridge's REQ/REP command socket.
	DefaultControlEndpoint = "tcp://127.0.0.1:5557"
	// DefaultDataEndpoint is the bridge's PUSH/PULL data socket.
	DefaultDataEndpoint = "tcp://127.0.0.1:5556"

	bridgeTimeout = time.Second
	bridgeRcvHWM  = 10000
	// bridgeMaxAttempts bounds the receives per TryNextFrame; each one may
	// block for bridgeTimeout.
	bridgeMaxAttempts = 32
)

// errRecvTimeout is reported to the synchroniser when no message arrived.
type errRecvTimeout struct{}

func (errRecvTimeout) Error() string { return "bridge receive timeout" }
func (errRecvTimeout) Timeout() bool { return true }

func isAgain(err error) bool {
	return zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN)
}

// pullReader presents a PULL socket as a byte stream.
type pullReader struct {
	sock    *zmq4.Socket
	pending []byte
}

func (r *pullReader) Read(p []byte) (int, error) {
	if len(r.pending) == 0 {
		msg, err := r.sock.RecvBytes(0)
		if err != nil {
			if isAgain(err) {
				return 0, errRecvTimeout{}
			}
			return 0, err
		}
		r.pending = msg
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

// BridgeConnection talks to a sensor through a network bridge: commands go
// over a REQ socket and each reply carries the CLI output, while the data
// stream arrives as PULL messages. ZeroMQ sockets are not goroutine safe,
// so Close must not race with TryNextFrame.
type BridgeConnection struct {
	opts Options

	mu        sync.Mutex
	control   *zmq4.Socket
	data      *zmq4.Socket
	reader    *l1frames.Synchronizer
	frames    int
	sent      int
	skipped   int
	connected bool
	closed    bool
}

var _ Connection = (*BridgeConnection)(nil)

// NewBridgeConnection returns an unconnected bridge connection.
func NewBridgeConnection(opts Options) *BridgeConnection {
	return &BridgeConnection{opts: opts.withDefaults()}
}

// Connect opens both sockets and configures the sensor from p.
func (c *BridgeConnection) Connect(ctx context.Context, p *profile.Profile) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrStreamClosed
	}
	if c.connected {
		return nil
	}

	control, err := zmq4.NewSocket(zmq4.REQ)
	if err != nil {
		return fmt.Errorf("%w: control socket: %v", ErrRadarConnection, err)
	}
	c.control = control
	if err := configureSocket(control, func(s *zmq4.Socket) error { return s.SetSndtimeo(bridgeTimeout) }); err != nil {
		c.teardownLocked()
		return fmt.Errorf("%w: control socket: %v", ErrRadarConnection, err)
	}
	if err := control.Connect(c.opts.ControlEndpoint); err != nil {
		c.teardownLocked()
		return fmt.Errorf("%w: connect %s: %v", ErrRadarConnection, c.opts.ControlEndpoint, err)
	}

	data, err := zmq4.NewSocket(zmq4.PULL)
	if err != nil {
		c.teardownLocked()
		return fmt.Errorf("%w: data socket: %v", ErrRadarConnection, err)
	}
	c.data = data
	if err := configureSocket(data, func(s *zmq4.Socket) error { return s.SetRcvhwm(bridgeRcvHWM) }); err != nil {
		c.teardownLocked()
		return fmt.Errorf("%w: data socket: %v", ErrRadarConnection, err)
	}
	if err := data.Connect(c.opts.DataEndpoint); err != nil {
		c.teardownLocked()
		return fmt.Errorf("%w: connect %s: %v", ErrRadarConnection, c.opts.DataEndpoint, err)
	}

	for _, cmd := range p.Sequence(c.opts.Overrides) {
		if err := ctx.Err(); err != nil {
			c.teardownLocked()
			return err
		}
		res, err := c.sendLocked(cmd)
		c.sent++
		if res.Skipped {
			c.skipped++
		}
		if err != nil {
			c.teardownLocked()
			return err
		}
	}

	attempts := c.opts.MaxSyncAttempts
	if attempts > bridgeMaxAttempts {
		attempts = bridgeMaxAttempts
	}
	c.reader = l1frames.NewSynchronizer(&pullReader{sock: data}, c.opts.syncConfig(attempts))
	c.connected = true
	monitoring.Logf("device: sensor configured via bridge %s (%d commands, %d skipped), data on %s",
		c.opts.ControlEndpoint, c.sent, c.skipped, c.opts.DataEndpoint)
	return nil
}

func configureSocket(s *zmq4.Socket, extra func(*zmq4.Socket) error) error {
	if err := s.SetLinger(0); err != nil {
		return err
	}
	if err := s.SetRcvtimeo(bridgeTimeout); err != nil {
		return err
	}
	return extra(s)
}

// sendLocked performs one REQ/REP exchange and judges the reply like a
// CLI response.
func (c *BridgeConnection) sendLocked(cmd string) (CommandResult, error) {
	res := CommandResult{Command: cmd}
	if _, err := c.control.Send(cmd+"\n", 0); err != nil {
		return res, fmt.Errorf("%w: send %q: %v", ErrRadarConnection, cmd, err)
	}
	reply, err := c.control.Recv(0)
	if err != nil {
		if isAgain(err) {
			return res, fmt.Errorf("%w: %q: no reply within %s", ErrRadarConnection, cmd, bridgeTimeout)
		}
		return res, fmt.Errorf("%w: %q: %v", ErrRadarConnection, cmd, err)
	}
	col := collector{res: &res}
	for _, line := range strings.Split(strings.ReplaceAll(reply, "\r\n", "\n"), "\n") {
		col.add(line)
	}
	return res, judge(&res, col.prompts)
}

// TryNextFrame returns the next frame reassembled from data messages.
func (c *BridgeConnection) TryNextFrame(ctx context.Context) (*l1frames.RawFrame, error) {
	c.mu.Lock()
	s := c.reader
	switch {
	case c.closed:
		c.mu.Unlock()
		return nil, ErrStreamClosed
	case s == nil:
		c.mu.Unlock()
		return nil, ErrNotConnected
	case c.opts.NumFrames > 0 && c.frames >= c.opts.NumFrames:
		c.mu.Unlock()
		return nil, ErrStreamClosed
	}
	c.mu.Unlock()

	f, err := s.TryNextFrame(ctx)
	if f != nil {
		c.mu.Lock()
		c.frames++
		c.mu.Unlock()
	}
	return f, err
}

// Close sends sensorStop, best effort, and closes both sockets.
func (c *BridgeConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.connected {
		if _, err := c.sendLocked("sensorStop"); err != nil {
			monitoring.Logf("device: sensorStop on close: %v", err)
		}
	}
	err := c.teardownLocked()
	logStats(c.statsLocked())
	return err
}

// Stats returns the connection counters.
func (c *BridgeConnection) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statsLocked()
}

func (c *BridgeConnection) statsLocked() Stats {
	st := Stats{
		Transport:       TransportNetwork,
		CommandsSent:    c.sent,
		CommandsSkipped: c.skipped,
		Connected:       c.connected && !c.closed,
	}
	if c.reader != nil {
		st.Stats = c.reader.Stats()
	}
	return st
}

func (c *BridgeConnection) teardownLocked() error {
	var errs []error
	if c.control != nil {
		if err := c.control.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close control socket: %w", err))
		}
		c.control = nil
	}
	if c.data != nil {
		if err := c.data.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close data socket: %w", err))
		}
		c.data = nil
	}
	c.connected = false
	return errors.Join(errs...)
}
