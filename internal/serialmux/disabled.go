package serialmux

import (
	"context"
	"net/http"
	"sync"
)

// DisabledSerialMux stands in for the sensor CLI when frames come from a
// replayed log or the network bridge. Commands are accepted and recorded
// but never reach a device; each one is answered on the subscriber feed
// with a line saying it was ignored, so the debug console stays usable.
type DisabledSerialMux struct {
	mu          sync.Mutex
	subscribers map[string]chan string
	sent        []string
	closing     bool
}

// IgnoredSuffix ends the feed line published for every command.
const IgnoredSuffix = " ignored: sensor CLI not attached"

func NewDisabledSerialMux() *DisabledSerialMux {
	return &DisabledSerialMux{subscribers: make(map[string]chan string)}
}

// Subscribe returns a buffered feed. After Close it returns a closed
// channel so readers never block.
func (d *DisabledSerialMux) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, 16)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		close(ch)
		return id, ch
	}
	d.subscribers[id] = ch
	return id, ch
}

func (d *DisabledSerialMux) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.subscribers[id]; ok {
		close(ch)
		delete(d.subscribers, id)
	}
}

// SendCommand records command and tells subscribers it was ignored. Full
// subscribers miss the line.
func (d *DisabledSerialMux) SendCommand(command string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		return nil
	}
	d.sent = append(d.sent, command)
	line := command + IgnoredSuffix
	for _, ch := range d.subscribers {
		select {
		case ch <- line:
		default:
		}
	}
	return nil
}

// Sent returns every command received, in order.
func (d *DisabledSerialMux) Sent() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.sent...)
}

func (d *DisabledSerialMux) Monitor(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }

func (d *DisabledSerialMux) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		return nil
	}
	d.closing = true
	for id, ch := range d.subscribers {
		close(ch)
		delete(d.subscribers, id)
	}
	return nil
}

func (d *DisabledSerialMux) Initialize() error { return nil }

// AttachAdminRoutes serves the same console, command API and tail as a
// live mux, backed by the ignored-command feed.
func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	attachAdminRoutes(mux, d)
}

var (
	_ SerialMuxInterface = (*DisabledSerialMux)(nil)
	_ SerialMuxInterface = (*SerialMux[SerialPorter])(nil)
)
