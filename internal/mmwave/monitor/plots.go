package monitor

import (
	"bytes"
	"fmt"
	"image/color"
	"math"
	"net/http"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/mmwave/internal/httputil"
	"github.com/banshee-data/mmwave/internal/mmwave/l2tlv"
)

var lineColors = []color.Color{
	color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 255},
	color.RGBA{R: 0xff, G: 0x7f, B: 0x0e, A: 255},
	color.RGBA{R: 0x2c, G: 0xa0, B: 0x2c, A: 255},
	color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 255},
}

// series is one named line of y values over a shared x axis.
type series struct {
	name string
	y    []float64
}

// profilePlot draws each series against x. Non-finite values are skipped.
func profilePlot(title, xLabel, yLabel string, x []float64, lines ...series) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = yLabel
	p.Add(plotter.NewGrid())

	for i, s := range lines {
		pts := make(plotter.XYs, 0, len(s.y))
		for j, v := range s.y {
			if j >= len(x) || math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			pts = append(pts, plotter.XY{X: x[j], Y: v})
		}
		if len(pts) == 0 {
			continue
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.name, err)
		}
		line.Color = lineColors[i%len(lineColors)]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(s.name, line)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

func writePNG(w http.ResponseWriter, p *plot.Plot) {
	wt, err := p.WriterTo(10*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

func (m *Monitor) handleProfilePNG(w http.ResponseWriter, r *http.Request) {
	res, _ := m.snapshot()
	if res == nil || res.Frame == nil || (len(res.Frame.RangeProfile) == 0 && len(res.Frame.NoiseProfile) == 0) {
		httputil.NotFound(w, "no range profile available")
		return
	}
	f := res.Frame
	n := max(len(f.RangeProfile), len(f.NoiseProfile))
	var lines []series
	if len(f.RangeProfile) > 0 {
		lines = append(lines, series{name: "range", y: l2tlv.RangeProfileDB(f.RangeProfile)})
	}
	if len(f.NoiseProfile) > 0 {
		lines = append(lines, series{name: "noise", y: l2tlv.NoiseProfileDB(f.NoiseProfile)})
	}
	p, err := profilePlot(fmt.Sprintf("Frame %d", f.Header.FrameNumber), "Range (m)", "Power (dB)",
		l2tlv.RangeAxis(n, m.opts.Axes.RangeStep), lines...)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	writePNG(w, p)
}

func (m *Monitor) handleADCPNG(w http.ResponseWriter, r *http.Request) {
	_, adc := m.snapshot()
	if adc == nil {
		httputil.NotFound(w, "no ADC frame available")
		return
	}
	lines := make([]series, adc.RxAntennas)
	for rx := range lines {
		lines[rx] = series{name: fmt.Sprintf("rx%d", rx), y: adc.RangeProfileDB(0, rx)}
	}
	p, err := profilePlot(fmt.Sprintf("ADC frame %d, chirp 0", adc.Number), "Range (m)", "Magnitude (dB)",
		l2tlv.RangeAxis(adc.RangeBins, m.opts.Axes.RangeStep), lines...)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	writePNG(w, p)
}
