// Package monitor serves live debug views of the radar pipeline: echarts
// heat maps and scatter plots, PNG profiles, JSON stats, a websocket feed
// of confirmed tracks and a gRPC health service.
package monitor

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"tailscale.com/tsweb"

	"github.com/banshee-data/mmwave/internal/httputil"
	"github.com/banshee-data/mmwave/internal/mmwave/awr2544"
	"github.com/banshee-data/mmwave/internal/mmwave/l2tlv"
	"github.com/banshee-data/mmwave/internal/mmwave/pipeline"
	"github.com/banshee-data/mmwave/internal/mmwave/profile"
	"github.com/banshee-data/mmwave/internal/monitoring"
)

// Axes scale heat-map bins to physical units.
type Axes struct {
	RangeStep          float64 // metres per range bin
	VelocityResolution float64 // m/s per Doppler bin
}

// AxesFromParams derives the axes of the active profile.
func AxesFromParams(p profile.Params) Axes {
	return Axes{
		RangeStep:          p.RangeStep,
		VelocityResolution: l2tlv.VelocityResolution(p.RampEndTimeUs, p.ChirpsPerFrame),
	}
}

// Options configure a Monitor.
type Options struct {
	Axes Axes
	// Stats, when set, is embedded in the /stats response under "pipeline".
	Stats func() any
	// Health, when set, is marked serving once frames arrive.
	Health *Health
	// BroadcastBuffer bounds the websocket queue; full queues drop frames.
	BroadcastBuffer int
}

// Monitor is a pipeline.Sink that keeps the latest result for display.
type Monitor struct {
	opts Options

	mu     sync.RWMutex
	latest *pipeline.Result
	adc    *awr2544.Frame

	frames    atomic.Uint64
	adcFrames atomic.Uint64
	wsDropped atomic.Uint64
	serving   atomic.Bool

	hub *hub
}

var _ pipeline.Sink = (*Monitor)(nil)

func New(opts Options) *Monitor {
	if opts.BroadcastBuffer <= 0 {
		opts.BroadcastBuffer = 16
	}
	if opts.Axes.VelocityResolution <= 0 {
		opts.Axes.VelocityResolution = l2tlv.VelocityResolution(0, 0)
	}
	if opts.Axes.RangeStep <= 0 {
		opts.Axes.RangeStep = l2tlv.DefaultRangeStep
	}
	return &Monitor{opts: opts, hub: newHub(opts.BroadcastBuffer)}
}

// OnFrame stores r as the latest result and queues its tracks for the
// websocket feed. It never blocks.
func (m *Monitor) OnFrame(r pipeline.Result) {
	m.mu.Lock()
	m.latest = &r
	m.mu.Unlock()
	m.frames.Add(1)

	if m.opts.Health != nil && !m.serving.Swap(true) {
		m.opts.Health.SetServing(true)
	}

	payload, err := json.Marshal(newTrackMessage(r))
	if err != nil {
		monitoring.Logf("[monitor] failed to encode tracks: %v", err)
		return
	}
	if !m.hub.offer(payload) {
		m.wsDropped.Add(1)
	}
}

// OnADCFrame stores a raw ADC frame from the AWR2544 Ethernet stream.
func (m *Monitor) OnADCFrame(f *awr2544.Frame) error {
	m.mu.Lock()
	m.adc = f
	m.mu.Unlock()
	m.adcFrames.Add(1)
	return nil
}

// Stopped marks the health service as not serving.
func (m *Monitor) Stopped() {
	if m.opts.Health != nil {
		m.serving.Store(false)
		m.opts.Health.SetServing(false)
	}
}

func (m *Monitor) snapshot() (*pipeline.Result, *awr2544.Frame) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest, m.adc
}

// Stats is the /stats response.
type Stats struct {
	Frames          uint64    `json:"frames"`
	ADCFrames       uint64    `json:"adc_frames"`
	LastFrameNumber uint32    `json:"last_frame_number"`
	LastReceivedAt  time.Time `json:"last_received_at,omitempty"`
	LatencyMs       float64   `json:"latency_ms"`
	Points          int       `json:"points"`
	Clusters        int       `json:"clusters"`
	Tracks          int       `json:"tracks"`
	Warnings        []string  `json:"warnings,omitempty"`
	WSClients       int       `json:"ws_clients"`
	WSDropped       uint64    `json:"ws_dropped"`
	Pipeline        any       `json:"pipeline,omitempty"`
}

func (m *Monitor) Stats() Stats {
	s := Stats{
		Frames:    m.frames.Load(),
		ADCFrames: m.adcFrames.Load(),
		WSClients: m.hub.clientCount(),
		WSDropped: m.wsDropped.Load(),
	}
	if r, _ := m.snapshot(); r != nil {
		s.LastReceivedAt = r.ReceivedAt
		s.LatencyMs = float64(r.Latency) / float64(time.Millisecond)
		s.Clusters = len(r.Clusters)
		s.Tracks = len(r.Tracks)
		if r.Raw != nil {
			s.LastFrameNumber = r.Raw.Header.FrameNumber
		}
		if r.Points != nil {
			s.Points = r.Points.Len()
		}
		if r.Frame != nil {
			s.Warnings = r.Frame.Warnings
		}
	}
	if m.opts.Stats != nil {
		s.Pipeline = m.opts.Stats()
	}
	return s
}

func (m *Monitor) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("mmwave/heatmap", "range-Doppler heat map of the latest frame", m.handleHeatmap)
	debug.HandleFunc("mmwave/points", "point cloud, clusters and tracks of the latest frame", m.handlePoints)
	debug.HandleFunc("mmwave/profile.png", "range and noise profiles in dB", m.handleProfilePNG)
	debug.HandleFunc("mmwave/adc.png", "AWR2544 chirp 0 range profile per antenna", m.handleADCPNG)
	debug.HandleFunc("mmwave/stats", "pipeline stats as JSON", m.handleStats)
	debug.Handle("mmwave/ws", "websocket stream of confirmed tracks", http.HandlerFunc(m.handleWS))
}

func (m *Monitor) handleStats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, m.Stats())
}

// TrackState is one confirmed track on the websocket feed.
type TrackState struct {
	ID       uint64     `json:"id"`
	Status   string     `json:"status"`
	Position [3]float32 `json:"position"`
	Velocity [3]float32 `json:"velocity"`
	Speed    float32    `json:"speed"`
	Hits     uint32     `json:"hits"`
	Age      uint32     `json:"age"`
}

// TrackMessage is sent once per frame.
type TrackMessage struct {
	Type      string       `json:"type"`
	Frame     uint32       `json:"frame"`
	Timestamp time.Time    `json:"timestamp"`
	Tracks    []TrackState `json:"tracks"`
}

func newTrackMessage(r pipeline.Result) TrackMessage {
	msg := TrackMessage{Type: "tracks", Timestamp: r.ReceivedAt, Tracks: make([]TrackState, 0, len(r.Tracks))}
	if r.Raw != nil {
		msg.Frame = r.Raw.Header.FrameNumber
	}
	for i := range r.Tracks {
		t := &r.Tracks[i]
		msg.Tracks = append(msg.Tracks, TrackState{
			ID:       t.ID,
			Status:   string(t.Status),
			Position: t.Position(),
			Velocity: t.Velocity(),
			Speed:    t.Speed(),
			Hits:     t.Hits,
			Age:      t.Age,
		})
	}
	return msg
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}
