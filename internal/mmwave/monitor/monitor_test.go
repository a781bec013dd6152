package monitor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/mmwave/internal/mmwave/awr2544"
	"github.com/banshee-data/mmwave/internal/mmwave/l1frames"
	"github.com/banshee-data/mmwave/internal/mmwave/l2tlv"
	"github.com/banshee-data/mmwave/internal/mmwave/l3points"
	"github.com/banshee-data/mmwave/internal/mmwave/l4perception"
	"github.com/banshee-data/mmwave/internal/mmwave/l5tracks"
	"github.com/banshee-data/mmwave/internal/mmwave/pipeline"
	"github.com/banshee-data/mmwave/internal/mmwave/profile"
)

func testResult(t *testing.T, frame uint32) pipeline.Result {
	t.Helper()
	rd := mat.NewDense(8, 4, nil)
	for i := 0; i < 8; i++ {
		for j := 0; j < 4; j++ {
			rd.Set(i, j, float64(i*4+j))
		}
	}
	pc, err := l3points.New(
		[]float32{1, 2, 3}, []float32{0.5, -0.5, 0},
		[]float32{0, 0.1, -0.1}, nil, nil, []float32{10, 12, 14},
		l3points.Metadata{FrameNumber: frame},
	)
	require.NoError(t, err)
	hdr := l1frames.Header{FrameNumber: frame}
	return pipeline.Result{
		ReceivedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Raw:        &l1frames.RawFrame{Header: hdr},
		Frame: &l2tlv.Frame{
			Header:              hdr,
			RangeProfile:        []uint16{100, 200, 300, 400, 300, 200, 100, 50},
			NoiseProfile:        []uint16{10, 10, 10, 10, 10, 10, 10, 10},
			RangeDopplerHeatMap: rd,
		},
		Points:   pc,
		Clusters: []l4perception.Cluster{{Label: 1, Centroid: [3]float32{0.1, 2, 0}, NumPoints: 3}},
		Tracks: []l5tracks.Track{{
			ID: 4, State: [6]float32{0.1, 2, 0, 3, 4, 0}, Hits: 5, Age: 6, Status: l5tracks.TrackConfirmed,
		}},
		Latency: 2 * time.Millisecond,
	}
}

func newServer(t *testing.T, m *Monitor) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	m.AttachAdminRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestAxesFromParams(t *testing.T) {
	t.Parallel()
	a := AxesFromParams(profile.Params{RangeStep: 0.05, RampEndTimeUs: 60, ChirpsPerFrame: 32})
	assert.Equal(t, 0.05, a.RangeStep)
	assert.InDelta(t, l2tlv.VelocityResolution(60, 32), a.VelocityResolution, 1e-12)
}

func TestRoutes_NoDataYet(t *testing.T) {
	t.Parallel()
	srv := newServer(t, New(Options{}))
	for _, path := range []string{"heatmap", "points", "profile.png", "adc.png"} {
		t.Run(path, func(t *testing.T) {
			resp, _ := get(t, srv.URL+"/debug/mmwave/"+path)
			assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		})
	}
}

func TestRoutes_LatestFrame(t *testing.T) {
	t.Parallel()
	m := New(Options{Stats: func() any { return map[string]int{"queued": 2} }})
	m.OnFrame(testResult(t, 41))
	m.OnFrame(testResult(t, 42))
	srv := newServer(t, m)

	tests := []struct {
		path        string
		contentType string
		contains    string
	}{
		{"heatmap", "text/html", "mmWave Range-Doppler"},
		{"points", "text/html", "mmWave Points"},
		{"points?units=kph", "text/html", "mmWave Points"},
		{"profile.png", "image/png", "\x89PNG"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, body := get(t, srv.URL+"/debug/mmwave/"+tt.path)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Contains(t, resp.Header.Get("Content-Type"), tt.contentType)
			assert.Contains(t, string(body), tt.contains)
		})
	}

	t.Run("bad units", func(t *testing.T) {
		resp, body := get(t, srv.URL+"/debug/mmwave/points?units=knots")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, string(body), "unknown speed unit")
	})

	t.Run("stats", func(t *testing.T) {
		resp, body := get(t, srv.URL+"/debug/mmwave/stats")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var s Stats
		require.NoError(t, json.Unmarshal(body, &s))
		assert.Equal(t, uint64(2), s.Frames)
		assert.Equal(t, uint32(42), s.LastFrameNumber)
		assert.Equal(t, 3, s.Points)
		assert.Equal(t, 1, s.Clusters)
		assert.Equal(t, 1, s.Tracks)
		assert.InDelta(t, 2.0, s.LatencyMs, 1e-9)
		assert.Equal(t, map[string]any{"queued": float64(2)}, s.Pipeline)
	})
}

func TestADCPlot(t *testing.T) {
	t.Parallel()
	m := New(Options{})
	f := &awr2544.Frame{Number: 3, Chirps: 1, RangeBins: 4, RxAntennas: 2, Samples: make([]complex64, 8)}
	for i := range f.Samples {
		f.Samples[i] = complex(float32(i+1), 0)
	}
	require.NoError(t, m.OnADCFrame(f))
	srv := newServer(t, m)

	resp, body := get(t, srv.URL+"/debug/mmwave/adc.png")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(string(body), "\x89PNG"))
	assert.Equal(t, uint64(1), m.Stats().ADCFrames)
}

func TestHealthFollowsFrames(t *testing.T) {
	t.Parallel()
	h := NewHealth()
	m := New(Options{Health: h})
	ctx := context.Background()
	check := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := h.Server().Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
		require.NoError(t, err)
		return resp.Status
	}

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())
	m.OnFrame(testResult(t, 1))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check())
	m.Stopped()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())
}

func TestWebsocketStreamsTracks(t *testing.T) {
	t.Parallel()
	m := New(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go m.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(m.handleWS))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var hello map[string]any
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "hello", hello["type"])
	assert.Equal(t, 1, m.Stats().WSClients)

	m.OnFrame(testResult(t, 9))

	var msg TrackMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "tracks", msg.Type)
	assert.Equal(t, uint32(9), msg.Frame)
	require.Len(t, msg.Tracks, 1)
	assert.Equal(t, uint64(4), msg.Tracks[0].ID)
	assert.Equal(t, "confirmed", msg.Tracks[0].Status)
	assert.InDelta(t, 5.0, msg.Tracks[0].Speed, 1e-6)
}

func TestOnFrame_DropsWhenNobodyDrains(t *testing.T) {
	t.Parallel()
	m := New(Options{BroadcastBuffer: 2})
	for i := 0; i < 5; i++ {
		m.OnFrame(testResult(t, uint32(i)))
	}
	assert.Equal(t, uint64(3), m.Stats().WSDropped)
}
