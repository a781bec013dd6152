package serialmux

import (
	"testing"
	"time"
)

const missingPort = "/dev/nonexistent-serial-port-12345"

func TestNewRealSerialMux_MissingPort(t *testing.T) {
	mux, err := NewRealSerialMux(missingPort, PortOptions{})
	if err == nil {
		mux.Close()
		t.Fatal("expected error when opening non-existent serial port")
	}
	if mux != nil {
		t.Error("expected nil mux when error is returned")
	}
}

func TestOpenPort_Errors(t *testing.T) {
	if _, err := OpenPort(missingPort, PortOptions{BaudRate: 12345}, 0); err == nil {
		t.Error("expected error for invalid options")
	}
	if _, err := OpenPort(missingPort, PortOptions{}, 100*time.Millisecond); err == nil {
		t.Error("expected error for missing port")
	}
	if _, err := RealOpener(missingPort, DataPortMode()); err == nil {
		t.Error("expected error from RealOpener for missing port")
	}
}
