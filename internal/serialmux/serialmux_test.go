package serialmux

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

// TestSerialPort implements SerialPorter for testing SerialMux operations
type TestSerialPort struct {
	readData    []byte
	readIndex   int
	readErr     error
	writtenData bytes.Buffer
	writeErr    error
	shortWrite  bool
	closeErr    error
	closed      bool
	mu          sync.Mutex
}

func NewTestSerialPort(data string) *TestSerialPort {
	return &TestSerialPort{
		readData: []byte(data),
	}
}

func (p *TestSerialPort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.EOF
	}
	if p.readIndex >= len(p.readData) {
		if p.readErr != nil {
			return 0, p.readErr
		}
		// simulate waiting for more data
		p.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		p.mu.Lock()
		if p.closed {
			return 0, io.EOF
		}
		return 0, nil
	}
	n := copy(buf, p.readData[p.readIndex:])
	p.readIndex += n
	return n, nil
}

func (p *TestSerialPort) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	if p.shortWrite {
		return len(data) - 1, nil
	}
	return p.writtenData.Write(data)
}

func (p *TestSerialPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return p.closeErr
}

func (p *TestSerialPort) SetWriteError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeErr = err
}

func (p *TestSerialPort) WrittenData() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writtenData.String()
}

func TestNewSerialMux(t *testing.T) {
	port := NewTestSerialPort("")
	mux := NewSerialMux(port)

	if mux.port != port {
		t.Error("SerialMux port not set correctly")
	}
	if mux.subscribers == nil {
		t.Error("SerialMux subscribers map not initialized")
	}
}

func TestSerialMux_SubscribeUnsubscribe(t *testing.T) {
	mux := NewSerialMux(NewTestSerialPort(""))

	id1, _ := mux.Subscribe()
	id2, ch2 := mux.Subscribe()
	if id1 == "" || id2 == "" || id1 == id2 {
		t.Fatalf("expected two distinct IDs, got %q and %q", id1, id2)
	}

	mux.Unsubscribe(id2)
	if _, ok := <-ch2; ok {
		t.Error("expected channel to be closed after Unsubscribe")
	}
	mux.Unsubscribe("does-not-exist")

	mux.subscriberMu.Lock()
	defer mux.subscriberMu.Unlock()
	if len(mux.subscribers) != 1 {
		t.Errorf("expected 1 subscriber, got %d", len(mux.subscribers))
	}
}

func TestSerialMux_SendCommand(t *testing.T) {
	tests := []struct {
		name    string
		command string
		want    string
	}{
		{"appends newline", "sensorStop", "sensorStop\n"},
		{"keeps newline", "flushCfg\n", "flushCfg\n"},
		{"empty command", "", "\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := NewTestSerialPort("")
			mux := NewSerialMux(port)
			if err := mux.SendCommand(tt.command); err != nil {
				t.Fatalf("SendCommand() error = %v", err)
			}
			if got := port.WrittenData(); got != tt.want {
				t.Errorf("wrote %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSerialMux_SendCommand_Errors(t *testing.T) {
	port := NewTestSerialPort("")
	port.SetWriteError(errors.New("boom"))
	mux := NewSerialMux(port)
	if err := mux.SendCommand("sensorStop"); err == nil {
		t.Error("expected write error")
	}

	short := NewTestSerialPort("")
	short.shortWrite = true
	if err := NewSerialMux(short).SendCommand("sensorStop"); !errors.Is(err, ErrWriteFailed) {
		t.Errorf("expected ErrWriteFailed, got %v", err)
	}
}

func TestSerialMux_Initialize(t *testing.T) {
	port := NewTestSerialPort("")
	mux := NewSerialMux(port)
	if err := mux.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if got := port.WrittenData(); got != "\n" {
		t.Errorf("Initialize wrote %q, want a bare newline", got)
	}

	port.SetWriteError(errors.New("boom"))
	if err := mux.Initialize(); err == nil {
		t.Error("expected error from Initialize when write fails")
	}
}

func TestSerialMux_Monitor(t *testing.T) {
	port := NewTestSerialPort("mmwDemo:/>sensorStop\r\n\r\nDone\r\n")
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- mux.Monitor(ctx) }()

	want := []string{"mmwDemo:/>sensorStop", "Done"}
	for _, w := range want {
		select {
		case got := <-ch:
			if got != w {
				t.Errorf("got line %q, want %q", got, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", w)
		}
	}

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Monitor() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return after cancel")
	}
}

func TestSerialMux_Monitor_ReadError(t *testing.T) {
	port := NewTestSerialPort("")
	port.readErr = errors.New("device unplugged")
	mux := NewSerialMux(port)

	err := mux.Monitor(context.Background())
	if err == nil || err.Error() != "device unplugged" {
		t.Errorf("Monitor() error = %v, want device unplugged", err)
	}
}

func TestSerialMux_Close(t *testing.T) {
	port := NewTestSerialPort("")
	port.closeErr = errors.New("close failed")
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	if err := mux.Close(); err == nil {
		t.Error("expected close error to propagate")
	}
	if _, ok := <-ch; ok {
		t.Error("expected subscriber channel to be closed")
	}
	if !port.closed {
		t.Error("expected port to be closed")
	}
}

func TestRandomID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := randomID()
		if len(id) != 16 {
			t.Fatalf("randomID() length = %d, want 16", len(id))
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
