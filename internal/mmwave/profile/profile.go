// Package profile parses mmWave sensor configuration profiles (.cfg files),
// derives the radar parameters the decoders need, and produces the ordered
// command sequence sent over the CLI port.
package profile

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrInvalidTriggerMode is returned for a triggerMode outside 0..2.
	ErrInvalidTriggerMode = errors.New("invalid trigger mode")
	// ErrMissingParameter is returned when a required command is absent.
	ErrMissingParameter = errors.New("missing profile parameter")
)

// Kind identifies a profile command.
type Kind int

const (
	KindOther Kind = iota
	KindSensorStop
	KindSensorStart
	KindFlushCfg
	KindDfeDataOutputMode
	KindChannelCfg
	KindAdcCfg
	KindProfileCfg
	KindChirpCfg
	KindFrameCfg
	KindClutterRemoval
	KindMultiObjBeamForming
	KindConfigDataPort
	KindCompressionCfg
	KindProcChainCfg
	KindTriggerMode
)

var kindNames = map[string]Kind{
	"sensorStop":          KindSensorStop,
	"sensorStart":         KindSensorStart,
	"flushCfg":            KindFlushCfg,
	"dfeDataOutputMode":   KindDfeDataOutputMode,
	"channelCfg":          KindChannelCfg,
	"adcCfg":              KindAdcCfg,
	"profileCfg":          KindProfileCfg,
	"chirpCfg":            KindChirpCfg,
	"frameCfg":            KindFrameCfg,
	"clutterRemoval":      KindClutterRemoval,
	"multiObjBeamForming": KindMultiObjBeamForming,
	"configDataPort":      KindConfigDataPort,
	"compressionCfg":      KindCompressionCfg,
	"procChainCfg":        KindProcChainCfg,
	"triggerMode":         KindTriggerMode,
}

// KindOf returns the Kind for a command name. Unknown names are KindOther.
func KindOf(name string) Kind {
	if k, ok := kindNames[name]; ok {
		return k
	}
	return KindOther
}

func (k Kind) String() string {
	for name, kind := range kindNames {
		if kind == k {
			return name
		}
	}
	return "other"
}

// Command is one non-comment profile line.
type Command struct {
	Kind Kind
	Name string
	Args []string
}

// String renders the command as sent to the device.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

func (c Command) intArg(i int) (int, error) {
	if i < 0 {
		i += len(c.Args)
	}
	if i < 0 || i >= len(c.Args) {
		return 0, fmt.Errorf("%s: argument %d: %w", c.Name, i, ErrMissingParameter)
	}
	return strconv.Atoi(c.Args[i])
}

func (c Command) floatArg(i int) (float64, error) {
	if i < 0 {
		i += len(c.Args)
	}
	if i < 0 || i >= len(c.Args) {
		return 0, fmt.Errorf("%s: argument %d: %w", c.Name, i, ErrMissingParameter)
	}
	return strconv.ParseFloat(c.Args[i], 64)
}

// Profile is a parsed configuration profile.
type Profile struct {
	Commands []Command
	Comments []string // lines starting with %, without the marker
}

// Parse reads a profile. Blank lines are ignored, comment lines are kept in
// Comments, and every other line becomes a Command. A triggerMode outside
// 0..2 is rejected.
func Parse(text string) (*Profile, error) {
	p := &Profile{}
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "%") {
			p.Comments = append(p.Comments, strings.TrimSpace(strings.TrimPrefix(line, "%")))
			continue
		}
		fields := strings.Fields(line)
		cmd := Command{Kind: KindOf(fields[0]), Name: fields[0], Args: fields[1:]}
		if cmd.Kind == KindTriggerMode {
			mode, err := cmd.intArg(0)
			if err != nil {
				return nil, fmt.Errorf("triggerMode: %w", err)
			}
			if _, err := ParseTriggerMode(mode); err != nil {
				return nil, err
			}
		}
		p.Commands = append(p.Commands, cmd)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	return p, nil
}

// Find returns the first command of the given kind.
func (p *Profile) Find(k Kind) (Command, bool) {
	for _, c := range p.Commands {
		if c.Kind == k {
			return c, true
		}
	}
	return Command{}, false
}

// Require checks that every listed kind is present.
func (p *Profile) Require(kinds ...Kind) error {
	for _, k := range kinds {
		if _, ok := p.Find(k); !ok {
			return fmt.Errorf("%s: %w", k, ErrMissingParameter)
		}
	}
	return nil
}

// TriggerMode selects how frames are started.
type TriggerMode int

const (
	TriggerTimer    TriggerMode = 0
	TriggerSoftware TriggerMode = 1
	TriggerHardware TriggerMode = 2
)

// ParseTriggerMode validates a numeric trigger mode.
func ParseTriggerMode(v int) (TriggerMode, error) {
	switch TriggerMode(v) {
	case TriggerTimer, TriggerSoftware, TriggerHardware:
		return TriggerMode(v), nil
	}
	return 0, fmt.Errorf("%w: %d (want 0 timer, 1 software or 2 hardware)", ErrInvalidTriggerMode, v)
}

func (m TriggerMode) String() string {
	switch m {
	case TriggerTimer:
		return "timer"
	case TriggerSoftware:
		return "software"
	case TriggerHardware:
		return "hardware"
	}
	return "TriggerMode(" + strconv.Itoa(int(m)) + ")"
}

// Command renders the triggerMode CLI command.
func (m TriggerMode) Command() string {
	return "triggerMode " + strconv.Itoa(int(m))
}
