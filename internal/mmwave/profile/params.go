package profile

import (
	"math"
	"math/bits"
	"strconv"
	"strings"

	"github.com/banshee-data/mmwave/internal/monitoring"
)

const (
	speedOfLight     = 3e8
	defaultRangeStep = 0.044
	defaultRangeBins = 256
)

// Params are the radar parameters derived from a profile.
type Params struct {
	RxAntennas     int
	TxAntennas     int
	ADCSamples     int
	SampleRateKsps int
	FreqSlope      float64 // MHz/us
	RampEndTimeUs  float64
	ChirpsPerFrame int
	NumDopplerBins int
	NumFrames      int // 0 = unlimited
	FramePeriodMs  float64
	RangeStep      float64 // metres per range bin
	RangeBins      int
	MaxRange       float64

	ClutterRemoval bool
	MOBEnabled     bool
	MOBThreshold   float64
	TriggerMode    TriggerMode
}

// FPS is the frame rate implied by FramePeriodMs, or 0 when unknown.
func (p Params) FPS() float64 {
	if p.FramePeriodMs <= 0 {
		return 0
	}
	return 1000 / p.FramePeriodMs
}

// VirtualAntennas is Rx × Tx, or 0 when either is unknown.
func (p Params) VirtualAntennas() int {
	return p.RxAntennas * p.TxAntennas
}

// Params derives radar parameters from the profile. A malformed line is
// logged and skipped so one bad command does not lose the rest.
func (p *Profile) Params() Params {
	var out Params
	var haveProfileCfg bool

	for _, c := range p.Commands {
		var err error
		switch c.Kind {
		case KindChannelCfg:
			var rx, tx int
			if rx, err = c.intArg(0); err == nil {
				if tx, err = c.intArg(1); err == nil {
					out.RxAntennas = bits.OnesCount(uint(rx))
					out.TxAntennas = bits.OnesCount(uint(tx))
				}
			}
		case KindProfileCfg:
			var samples, rate int
			var slope, ramp float64
			if samples, err = c.intArg(9); err != nil {
				break
			}
			if rate, err = c.intArg(10); err != nil {
				break
			}
			if slope, err = c.floatArg(7); err != nil {
				break
			}
			if ramp, err = c.floatArg(4); err != nil {
				break
			}
			out.ADCSamples, out.SampleRateKsps, out.FreqSlope, out.RampEndTimeUs = samples, rate, slope, ramp
			haveProfileCfg = true
		case KindFrameCfg:
			var start, end, loops, frames int
			var period float64
			if start, err = c.intArg(0); err != nil {
				break
			}
			if end, err = c.intArg(1); err != nil {
				break
			}
			if loops, err = c.intArg(2); err != nil {
				break
			}
			if frames, err = c.intArg(3); err != nil {
				break
			}
			if period, err = c.floatArg(4); err != nil {
				break
			}
			out.ChirpsPerFrame = (end - start + 1) * loops
			out.NumDopplerBins = loops
			out.NumFrames = frames
			out.FramePeriodMs = period
		case KindMultiObjBeamForming:
			if len(c.Args) >= 3 {
				var en int
				var thr float64
				if en, err = c.intArg(1); err == nil {
					if thr, err = c.floatArg(2); err == nil {
						out.MOBEnabled, out.MOBThreshold = en == 1, thr
					}
				}
			}
		case KindClutterRemoval:
			if len(c.Args) >= 2 {
				var en int
				if en, err = c.intArg(1); err == nil {
					out.ClutterRemoval = en == 1
				}
			}
		case KindTriggerMode:
			var m int
			if m, err = c.intArg(0); err == nil {
				out.TriggerMode, err = ParseTriggerMode(m)
			}
		}
		if err != nil {
			monitoring.Logf("profile: skipping malformed line %q: %v", c.String(), err)
		}
	}

	if haveProfileCfg {
		out.RangeBins = out.ADCSamples
	}
	if step, ok := p.commentRangeStep(); ok {
		out.RangeStep = step
	} else if haveProfileCfg && out.SampleRateKsps > 0 {
		samplingTimeUs := float64(out.ADCSamples) / (float64(out.SampleRateKsps) * 1e-3)
		bandwidthGHz := out.FreqSlope * samplingTimeUs * 1e-3
		if bandwidthGHz > 0 {
			out.RangeStep = speedOfLight / (2 * bandwidthGHz * 1e9)
		}
	}
	if out.RangeStep <= 0 || math.IsInf(out.RangeStep, 0) {
		out.RangeStep = defaultRangeStep
	}
	if out.RangeBins == 0 {
		out.RangeBins = defaultRangeBins
	}
	out.MaxRange = out.RangeStep * float64(out.RangeBins)
	return out
}

// commentRangeStep extracts the value following "m/bin" on a
// "Range resolution" comment line.
func (p *Profile) commentRangeStep() (float64, bool) {
	for _, line := range p.Comments {
		if !strings.Contains(line, "Range resolution") || !strings.Contains(line, "m/bin") {
			continue
		}
		parts := strings.Fields(line)
		for i, part := range parts {
			if part == "m/bin" && i+1 < len(parts) {
				v, err := strconv.ParseFloat(parts[i+1], 64)
				if err != nil || v <= 0 {
					return 0, false
				}
				return v, true
			}
		}
		return 0, false
	}
	return 0, false
}
