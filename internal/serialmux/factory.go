package serialmux

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// NewRealSerialMux creates a SerialMux instance backed by a real serial port at the
// given path using the provided serial options.
func NewRealSerialMux(path string, opts PortOptions) (*SerialMux[serial.Port], error) {
	port, err := OpenPort(path, opts, 0)
	if err != nil {
		return nil, err
	}
	return NewSerialMux[serial.Port](port), nil
}

// OpenPort opens a serial port. A positive readTimeout makes Read return
// (0, nil) when no data arrives in time.
func OpenPort(path string, opts PortOptions, readTimeout time.Duration) (serial.Port, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if readTimeout > 0 {
		if err := port.SetReadTimeout(readTimeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("set read timeout on %s: %w", path, err)
		}
	}
	return port, nil
}

// RealOpener opens ports with go.bug.st/serial. The returned port
// implements TimeoutSerialPorter.
func RealOpener(path string, mode *SerialPortMode) (SerialPorter, error) {
	return OpenPort(path, mode.Options(), 0)
}
