// Package device connects to an mmWave sensor, configures it from a
// profile, and yields raw frames from its data stream.
//
// Two transports are supported: a locally attached sensor on a CLI and a
// data serial port, and a network bridge exposing the same two channels
// over ZeroMQ.
package device

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/banshee-data/mmwave/internal/config"
	"github.com/banshee-data/mmwave/internal/mmwave/l1frames"
	"github.com/banshee-data/mmwave/internal/mmwave/profile"
	"github.com/banshee-data/mmwave/internal/monitoring"
	"github.com/banshee-data/mmwave/internal/serialmux"
)

var (
	// ErrRadarConnection wraps configuration failures reported by the device.
	ErrRadarConnection = errors.New("radar connection error")
	// ErrNotConnected is returned when frames are requested before Connect.
	ErrNotConnected = errors.New("radar not connected")
	// ErrUnknownTransport is returned by NewConnection for an unsupported name.
	ErrUnknownTransport = errors.New("unknown transport")
	// ErrStreamClosed is returned once the configured frame count is reached
	// or after Close.
	ErrStreamClosed = errors.New("radar stream closed")
)

// Transport names accepted by NewConnection.
const (
	TransportAuto    = "auto"
	TransportSerial  = "serial"
	TransportNetwork = "network"
)

// Connection is a configured sensor producing raw frames.
type Connection interface {
	// Connect opens the channels and sends the profile's command sequence.
	Connect(ctx context.Context, p *profile.Profile) error
	// TryNextFrame behaves like l1frames.Synchronizer.TryNextFrame.
	TryNextFrame(ctx context.Context) (*l1frames.RawFrame, error)
	Close() error
	Stats() Stats
}

// Stats summarise a connection's lifetime.
type Stats struct {
	l1frames.Stats
	Transport       string
	CommandsSent    int
	CommandsSkipped int // not recognised by the firmware
	Connected       bool
}

// Options configure a connection. Zero values take defaults.
type Options struct {
	CLIPort         string
	DataPort        string
	CLIBaud         int
	DataBaud        int
	ReadTimeout     time.Duration
	ControlEndpoint string
	DataEndpoint    string
	NumFrames       int // 0 = unlimited
	MaxSyncAttempts int
	MaxFrameBytes   int // 0 = l1frames.DefaultMaxBuffer
	Overrides       profile.Overrides

	// Opener opens the data port; tests substitute a fake.
	Opener serialmux.SerialPortOpener
	// CLI, when set, is used instead of opening CLIPort.
	CLI serialmux.SerialMuxInterface
}

// OptionsFromTuning builds Options from the tuning config, including the
// radar overrides applied to the profile.
func OptionsFromTuning(cfg *config.TuningConfig) Options {
	clutter := cfg.GetClutterRemoval()
	mob := cfg.GetMOBEnabled()
	thr := cfg.GetMOBThreshold()
	numFrames := cfg.GetNumFrames()
	o := Options{
		CLIPort:         cfg.GetCLIPort(),
		DataPort:        cfg.GetDataPort(),
		CLIBaud:         cfg.GetCLIBaud(),
		DataBaud:        cfg.GetDataBaud(),
		ReadTimeout:     cfg.GetReadTimeout(),
		ControlEndpoint: cfg.GetControlEndpoint(),
		DataEndpoint:    cfg.GetDataEndpoint(),
		NumFrames:       numFrames,
		MaxSyncAttempts: cfg.GetMaxSyncAttempts(),
		MaxFrameBytes:   cfg.GetMaxFrameBytes(),
		Overrides: profile.Overrides{
			ClutterRemoval: &clutter,
			NumFrames:      &numFrames,
			MOBEnabled:     &mob,
			MOBThreshold:   &thr,
			DataBaud:       cfg.GetDataBaud(),
		},
	}
	if period := cfg.GetFramePeriodMs(); period > 0 {
		fps := 1000 / period
		o.Overrides.FPS = &fps
	}
	return o
}

func (o Options) withDefaults() Options {
	if o.CLIPort == "" {
		o.CLIPort = "/dev/ttyUSB0"
	}
	if o.DataPort == "" {
		o.DataPort = "/dev/ttyUSB1"
	}
	if o.CLIBaud <= 0 {
		o.CLIBaud = serialmux.CLIBaudRate
	}
	if o.DataBaud <= 0 {
		o.DataBaud = serialmux.DataBaudRate
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 100 * time.Millisecond
	}
	if o.ControlEndpoint == "" {
		o.ControlEndpoint = DefaultControlEndpoint
	}
	if o.DataEndpoint == "" {
		o.DataEndpoint = DefaultDataEndpoint
	}
	if o.MaxSyncAttempts <= 0 {
		o.MaxSyncAttempts = l1frames.DefaultMaxAttempts
	}
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = l1frames.DefaultMaxBuffer
	}
	if o.Overrides.DataBaud <= 0 {
		o.Overrides.DataBaud = o.DataBaud
	}
	if o.Opener == nil {
		o.Opener = serialmux.RealOpener
	}
	return o
}

func (o Options) syncConfig(attempts int) l1frames.Config {
	return l1frames.Config{MaxAttempts: attempts, MaxBuffer: o.MaxFrameBytes}
}

// NewConnection returns an unconnected Connection for the named transport.
// "auto" picks the serial transport when the CLI port exists and the
// network bridge otherwise.
func NewConnection(transport string, opts Options) (Connection, error) {
	opts = opts.withDefaults()
	switch strings.ToLower(strings.TrimSpace(transport)) {
	case TransportSerial:
		return NewSerialConnection(opts), nil
	case TransportNetwork:
		return NewBridgeConnection(opts), nil
	case TransportAuto, "":
		if opts.CLI != nil {
			return NewSerialConnection(opts), nil
		}
		if _, err := os.Stat(opts.CLIPort); err == nil {
			monitoring.Logf("device: using serial transport on %s", opts.CLIPort)
			return NewSerialConnection(opts), nil
		}
		monitoring.Logf("device: no serial sensor at %s, falling back to bridge %s", opts.CLIPort, opts.ControlEndpoint)
		return NewBridgeConnection(opts), nil
	}
	return nil, fmt.Errorf("%w %q (want auto, serial or network)", ErrUnknownTransport, transport)
}

func logStats(s Stats) {
	monitoring.Logf("device: %s session closed: %d frames, %d missed (%.1f%% success, %.1f%% loss), %d invalid packets, %d failed reads, %d resets",
		s.Transport, s.FramesReceived, s.MissedFrames, s.SuccessRate(), s.FrameLoss(),
		s.InvalidPackets, s.FailedReads, s.Resets)
}
