package serialmux

import (
	"io"
	"time"
)

// SerialPorter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// SerialPortMode defines serial port configuration parameters.
type SerialPortMode struct {
	BaudRate int
	DataBits int
	Parity   Parity
	StopBits StopBits
}

// Parity defines serial port parity options.
type Parity int

const (
	NoParity Parity = iota
	OddParity
	EvenParity
)

// StopBits defines serial port stop bit options.
type StopBits int

const (
	OneStopBit StopBits = iota
	TwoStopBits
)

const (
	// CLIBaudRate is the sensor command port rate.
	CLIBaudRate = 115200
	// DataBaudRate is the sensor data port rate.
	DataBaudRate = 460800
)

// DefaultSerialPortMode returns the default mode for the sensor CLI port.
func DefaultSerialPortMode() *SerialPortMode {
	return &SerialPortMode{
		BaudRate: CLIBaudRate,
		DataBits: 8,
		Parity:   NoParity,
		StopBits: OneStopBit,
	}
}

// DataPortMode returns the mode for the sensor data port.
func DataPortMode() *SerialPortMode {
	m := DefaultSerialPortMode()
	m.BaudRate = DataBaudRate
	return m
}

// Options converts the mode into PortOptions.
func (m *SerialPortMode) Options() PortOptions {
	opts := PortOptions{BaudRate: m.BaudRate, DataBits: m.DataBits, StopBits: 1, Parity: "N"}
	if m.StopBits == TwoStopBits {
		opts.StopBits = 2
	}
	switch m.Parity {
	case OddParity:
		opts.Parity = "O"
	case EvenParity:
		opts.Parity = "E"
	}
	return opts
}

// SerialPortFactory defines an interface for creating serial ports.
type SerialPortFactory interface {
	// Open opens a serial port at the specified path with the given mode.
	Open(path string, mode *SerialPortMode) (SerialPorter, error)
}

// SerialPortOpener is a function type for opening serial ports.
type SerialPortOpener func(path string, mode *SerialPortMode) (SerialPorter, error)

// Open implements SerialPortFactory.
func (f SerialPortOpener) Open(path string, mode *SerialPortMode) (SerialPorter, error) {
	return f(path, mode)
}

// TimeoutSerialPorter extends SerialPorter with timeout capabilities.
// This is an optional interface that serial ports may implement.
type TimeoutSerialPorter interface {
	SerialPorter
	// SetReadTimeout sets the read timeout for the serial port.
	SetReadTimeout(timeout time.Duration) error
}
