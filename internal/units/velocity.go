// Package units converts the metres-per-second speeds produced by the
// tracker into display units.
package units

import (
	"fmt"
	"strings"
)

// Unit names accepted by the admin endpoints.
const (
	MPS = "mps"
	MPH = "mph"
	KPH = "kph"
)

var valid = []string{MPS, MPH, KPH}

// Parse validates a unit name. An empty name selects MPS.
func Parse(s string) (string, error) {
	switch s = strings.ToLower(strings.TrimSpace(s)); s {
	case "":
		return MPS, nil
	case MPS, MPH, KPH:
		return s, nil
	case "kmph", "kmh":
		return KPH, nil
	}
	return "", fmt.Errorf("unknown speed unit %q (want one of %s)", s, strings.Join(valid, ", "))
}

// ConvertSpeed converts metres per second to unit. Unknown units are
// returned unchanged.
func ConvertSpeed(mps float64, unit string) float64 {
	switch unit {
	case MPH:
		return mps * 2.2369362920544
	case KPH:
		return mps * 3.6
	default:
		return mps
	}
}

// Label is the short suffix used when printing a speed in unit.
func Label(unit string) string {
	switch unit {
	case MPH:
		return "mph"
	case KPH:
		return "km/h"
	default:
		return "m/s"
	}
}
