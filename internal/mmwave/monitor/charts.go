package monitor

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/mmwave/internal/httputil"
	"github.com/banshee-data/mmwave/internal/mmwave/l2tlv"
	"github.com/banshee-data/mmwave/internal/units"
)

var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// handleHeatmap renders the latest range-Doppler map in dB.
// Query params:
//   - max_rows (optional; default 256) range bins shown, downsampled by stride
func (m *Monitor) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	res, _ := m.snapshot()
	if res == nil || res.Frame == nil || res.Frame.RangeDopplerHeatMap == nil {
		httputil.NotFound(w, "no range-Doppler heat map available")
		return
	}
	maxRows := 256
	if s := r.URL.Query().Get("max_rows"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v >= 8 && v <= 4096 {
			maxRows = v
		}
	}

	db := l2tlv.RangeDopplerDB(res.Frame.RangeDopplerHeatMap)
	rows, cols := db.Dims()
	stride := 1
	if rows > maxRows {
		stride = int(math.Ceil(float64(rows) / float64(maxRows)))
	}

	rangeAxis := l2tlv.RangeAxis(rows, m.opts.Axes.RangeStep)
	dopplerAxis := l2tlv.DopplerAxis(cols, m.opts.Axes.VelocityResolution)
	xLabels := make([]string, cols)
	for c, v := range dopplerAxis {
		xLabels[c] = strconv.FormatFloat(v, 'f', 2, 64)
	}
	var yLabels []string
	data := make([]opts.HeatMapData, 0, (rows/stride+1)*cols)
	lo, hi := math.Inf(1), math.Inf(-1)
	for row := 0; row < rows; row += stride {
		y := len(yLabels)
		yLabels = append(yLabels, strconv.FormatFloat(rangeAxis[row], 'f', 2, 64))
		for c := 0; c < cols; c++ {
			v := db.At(row, c)
			lo, hi = math.Min(lo, v), math.Max(hi, v)
			data = append(data, opts.HeatMapData{Value: [3]interface{}{c, y, math.Round(v*10) / 10}})
		}
	}
	if hi <= lo {
		hi = lo + 1
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "mmWave Range-Doppler", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Range-Doppler (dB)", Subtitle: fmt.Sprintf("frame=%d bins=%dx%d stride=%d", res.Frame.Header.FrameNumber, rows, cols, stride)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Data: xLabels, Name: "Velocity (m/s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Data: yLabels, Name: "Range (m)", NameLocation: "middle", NameGap: 40}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        float32(lo),
			Max:        float32(hi),
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	hm.SetXAxis(xLabels).AddSeries("range-doppler", data)
	renderChart(w, hm)
}

// handlePoints renders the latest point cloud on the ground plane with
// cluster centroids and confirmed tracks overlaid.
// Query params:
//   - units (optional; mps, mph or kph) for track speed labels
func (m *Monitor) handlePoints(w http.ResponseWriter, r *http.Request) {
	unit, err := units.Parse(r.URL.Query().Get("units"))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	res, _ := m.snapshot()
	if res == nil || res.Points == nil {
		httputil.NotFound(w, "no point cloud available")
		return
	}

	xs, ys := res.Points.ToCartesian2D()
	points := make([]opts.ScatterData, 0, len(xs))
	maxAbs := 1.0
	for i := range xs {
		maxAbs = math.Max(maxAbs, math.Max(math.Abs(float64(xs[i])), math.Abs(float64(ys[i]))))
		points = append(points, opts.ScatterData{Value: []interface{}{xs[i], ys[i], res.Points.Velocity[i]}})
	}
	centroids := make([]opts.ScatterData, 0, len(res.Clusters))
	for _, c := range res.Clusters {
		centroids = append(centroids, opts.ScatterData{Value: []interface{}{c.Centroid[0], c.Centroid[1]}, Name: fmt.Sprintf("cluster %d (%d pts)", c.Label, c.NumPoints)})
	}
	tracks := make([]opts.ScatterData, 0, len(res.Tracks))
	for i := range res.Tracks {
		t := &res.Tracks[i]
		p := t.Position()
		tracks = append(tracks, opts.ScatterData{Value: []interface{}{p[0], p[1]}, Name: fmt.Sprintf("track %d %.1f %s", t.ID, units.ConvertSpeed(float64(t.Speed()), unit), units.Label(unit))})
	}
	pad := maxAbs * 1.05

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "mmWave Points", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Point cloud", Subtitle: fmt.Sprintf("points=%d clusters=%d tracks=%d", len(points), len(centroids), len(tracks))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("points", points, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	scatter.AddSeries("clusters", centroids, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 12}))
	scatter.AddSeries("tracks", tracks, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 16}))
	renderChart(w, scatter)
}

type renderer interface {
	Render(w io.Writer) error
}

func renderChart(w http.ResponseWriter, c renderer) {
	var buf bytes.Buffer
	if err := c.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
