package profile

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// DefaultDataBaud is the data port rate announced with configDataPort.
const DefaultDataBaud = 460800

// Overrides rewrite profile lines before they are sent. Nil fields leave
// the profile's own value in place.
type Overrides struct {
	ClutterRemoval *bool
	NumFrames      *int
	FPS            *float64
	MOBEnabled     *bool
	MOBThreshold   *float64
	DataBaud       int // 0 = DefaultDataBaud
}

// Sequence returns the CLI commands to configure and start the sensor:
// sensorStop and flushCfg, then dfeDataOutputMode, channelCfg and adcCfg,
// then every remaining command in file order, then configDataPort, and
// finally sensorStart.
func (p *Profile) Sequence(o Overrides) []string {
	var dfe, channel, adc, other []string
	for _, c := range p.Commands {
		switch c.Kind {
		case KindSensorStop, KindFlushCfg, KindSensorStart, KindConfigDataPort:
			continue
		case KindDfeDataOutputMode:
			dfe = append(dfe, c.String())
		case KindChannelCfg:
			channel = append(channel, c.String())
		case KindAdcCfg:
			adc = append(adc, c.String())
		default:
			other = append(other, p.rewrite(c, o))
		}
	}

	baud := o.DataBaud
	if baud <= 0 {
		baud = DefaultDataBaud
	}
	seq := []string{"sensorStop", "flushCfg"}
	seq = append(seq, dfe...)
	seq = append(seq, channel...)
	seq = append(seq, adc...)
	seq = append(seq, other...)
	seq = append(seq, "configDataPort "+strconv.Itoa(baud)+" 0", "sensorStart")
	return seq
}

// ConfigureSequence is Sequence without the trailing sensorStart, for
// devices started separately by a trigger.
func (p *Profile) ConfigureSequence(o Overrides) []string {
	seq := p.Sequence(o)
	return seq[:len(seq)-1]
}

func (p *Profile) rewrite(c Command, o Overrides) string {
	switch c.Kind {
	case KindClutterRemoval:
		if o.ClutterRemoval != nil {
			return "clutterRemoval -1 " + boolArg(*o.ClutterRemoval)
		}
	case KindMultiObjBeamForming:
		if o.MOBEnabled != nil || o.MOBThreshold != nil {
			params := p.Params()
			en, thr := params.MOBEnabled, params.MOBThreshold
			if o.MOBEnabled != nil {
				en = *o.MOBEnabled
			}
			if o.MOBThreshold != nil {
				thr = *o.MOBThreshold
			}
			return "multiObjBeamForming -1 " + boolArg(en) + " " + strconv.FormatFloat(thr, 'f', -1, 64)
		}
	case KindFrameCfg:
		args := append([]string(nil), c.Args...)
		if o.NumFrames != nil && len(args) > 3 {
			args[3] = strconv.Itoa(*o.NumFrames)
		}
		if o.FPS != nil && *o.FPS > 0 && len(args) > 4 {
			args[4] = strconv.Itoa(int(math.Round(1000 / *o.FPS)))
		}
		return Command{Kind: c.Kind, Name: c.Name, Args: args}.String()
	}
	return c.String()
}

func boolArg(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Timeout returns how long to wait for the response to a CLI command.
func Timeout(cmd string) time.Duration {
	switch {
	case strings.HasPrefix(cmd, "sensorStart"):
		return 200 * time.Millisecond
	case strings.HasPrefix(cmd, "sensorStop"):
		return 100 * time.Millisecond
	case strings.HasPrefix(cmd, "profileCfg"),
		strings.HasPrefix(cmd, "frameCfg"),
		strings.HasPrefix(cmd, "chirpCfg"):
		return 150 * time.Millisecond
	case strings.HasPrefix(cmd, "version"), strings.HasPrefix(cmd, "get"):
		return 200 * time.Millisecond
	}
	return 50 * time.Millisecond
}
