package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/mmwave/internal/mmwave/l1frames"
	"github.com/banshee-data/mmwave/internal/mmwave/profile"
	"github.com/banshee-data/mmwave/internal/monitoring"
	"github.com/banshee-data/mmwave/internal/serialmux"
)

// SerialConnection drives a sensor attached over two UART ports: the CLI
// port carries commands and the data port carries framed output.
type SerialConnection struct {
	opts Options

	mu          sync.Mutex
	cli         serialmux.SerialMuxInterface
	data        serialmux.SerialPorter
	reader      *l1frames.Synchronizer
	stopMonitor context.CancelFunc
	monitorDone chan struct{}
	frames      int
	sent        int
	skipped     int
	connected   bool
	closed      bool
}

var _ Connection = (*SerialConnection)(nil)

// NewSerialConnection returns an unconnected serial connection.
func NewSerialConnection(opts Options) *SerialConnection {
	return &SerialConnection{opts: opts.withDefaults()}
}

// CLI returns the command mux, or nil before Connect. The monitor uses it
// to expose the sensor console.
func (c *SerialConnection) CLI() serialmux.SerialMuxInterface {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cli
}

// Connect opens both ports and configures the sensor from p.
func (c *SerialConnection) Connect(ctx context.Context, p *profile.Profile) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrStreamClosed
	}
	if c.connected {
		return nil
	}

	cli := c.opts.CLI
	if cli == nil {
		m, err := serialmux.NewRealSerialMux(c.opts.CLIPort, serialmux.PortOptions{BaudRate: c.opts.CLIBaud})
		if err != nil {
			return fmt.Errorf("%w: open CLI port: %v", ErrRadarConnection, err)
		}
		cli = m
	}
	c.cli = cli

	mctx, cancel := context.WithCancel(context.Background())
	c.stopMonitor = cancel
	c.monitorDone = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		if err := cli.Monitor(mctx); err != nil && !errors.Is(err, context.Canceled) {
			monitoring.Logf("device: CLI monitor stopped: %v", err)
		}
	}(c.monitorDone)

	if err := cli.Initialize(); err != nil {
		c.teardownLocked()
		return fmt.Errorf("%w: %v", ErrRadarConnection, err)
	}

	mode := serialmux.DataPortMode()
	mode.BaudRate = c.opts.DataBaud
	data, err := c.opts.Opener(c.opts.DataPort, mode)
	if err != nil {
		c.teardownLocked()
		return fmt.Errorf("%w: open data port: %v", ErrRadarConnection, err)
	}
	if tp, ok := data.(serialmux.TimeoutSerialPorter); ok {
		if err := tp.SetReadTimeout(c.opts.ReadTimeout); err != nil {
			data.Close()
			c.teardownLocked()
			return fmt.Errorf("%w: data port timeout: %v", ErrRadarConnection, err)
		}
	}
	c.data = data

	results, err := NewCommandChannel(cli).Run(ctx, p.Sequence(c.opts.Overrides))
	c.sent += len(results)
	c.skipped += countSkipped(results)
	if err != nil {
		c.teardownLocked()
		return err
	}

	c.reader = l1frames.NewSynchronizer(data, c.opts.syncConfig(c.opts.MaxSyncAttempts))
	c.connected = true
	monitoring.Logf("device: sensor configured on %s (%d commands, %d skipped), data on %s at %d baud",
		c.opts.CLIPort, c.sent, c.skipped, c.opts.DataPort, c.opts.DataBaud)
	return nil
}

// TryNextFrame returns the next frame, (nil, nil) when none arrived within
// the attempt budget, or ErrStreamClosed once NumFrames frames were read.
func (c *SerialConnection) TryNextFrame(ctx context.Context) (*l1frames.RawFrame, error) {
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

// Close stops the sensor, best effort, and releases both ports.
func (c *SerialConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.connected && c.cli != nil {
		ctx, cancel := context.WithTimeout(context.Background(), profile.Timeout("sensorStop")+DefaultResponseGrace)
		if _, err := NewCommandChannel(c.cli).Send(ctx, "sensorStop"); err != nil {
			monitoring.Logf("device: sensorStop on close: %v", err)
		}
		cancel()
	}
	err := c.teardownLocked()
	logStats(c.statsLocked())
	return err
}

// Stats returns the connection counters.
func (c *SerialConnection) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statsLocked()
}

func (c *SerialConnection) statsLocked() Stats {
	st := Stats{
		Transport:       TransportSerial,
		CommandsSent:    c.sent,
		CommandsSkipped: c.skipped,
		Connected:       c.connected && !c.closed,
	}
	if c.reader != nil {
		st.Stats = c.reader.Stats()
	}
	return st
}

func (c *SerialConnection) teardownLocked() error {
	var errs []error
	if c.stopMonitor != nil {
		c.stopMonitor()
		c.stopMonitor = nil
	}
	if c.cli != nil {
		if err := c.cli.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close CLI port: %w", err))
		}
		c.cli = nil
	}
	if c.data != nil {
		if err := c.data.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close data port: %w", err))
		}
		c.data = nil
	}
	if c.monitorDone != nil {
		<-c.monitorDone
		c.monitorDone = nil
	}
	c.connected = false
	return errors.Join(errs...)
}
