package serialmux

import "strings"

// Prompt is the sensor CLI prompt printed after each command completes.
const Prompt = "mmwDemo:/>"

// LineKind classifies one line of CLI output.
type LineKind int

const (
	LineOther LineKind = iota
	LineDone
	LinePrompt
	LineError
	LineUnrecognized // firmware does not know the command
)

func (k LineKind) String() string {
	switch k {
	case LineDone:
		return "done"
	case LinePrompt:
		return "prompt"
	case LineError:
		return "error"
	case LineUnrecognized:
		return "unrecognized"
	}
	return "other"
}

// ClassifyLine inspects a single CLI response line. Error lines that are
// only debug chatter (Debug:, PHY, Ignored:) are reported as LineOther.
func ClassifyLine(line string) LineKind {
	line = strings.TrimSpace(line)
	switch {
	case strings.EqualFold(line, "Done"):
		return LineDone
	case line == Prompt:
		return LinePrompt
	case strings.Contains(line, "is not recognized as a CLI command"):
		return LineUnrecognized
	case strings.Contains(line, "Error") &&
		!strings.Contains(line, "Debug:") &&
		!strings.Contains(line, "PHY") &&
		!strings.Contains(line, "Ignored:"):
		return LineError
	}
	return LineOther
}

// Response is the outcome of one CLI command.
type Response struct {
	Lines        []string
	Done         bool
	Unrecognized bool
	Error        string // first error line, if any
}

// PromptOnly reports whether the only non-empty output was the prompt.
func (r Response) PromptOnly() bool {
	seen := false
	for _, l := range r.Lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		if ClassifyLine(l) != LinePrompt {
			return false
		}
		seen = true
	}
	return seen
}

// Complete reports whether no more output is expected for the command.
func (r Response) Complete() bool {
	if r.Done || r.Error != "" || r.Unrecognized {
		return true
	}
	if n := len(r.Lines); n > 0 && ClassifyLine(r.Lines[n-1]) == LinePrompt {
		return true
	}
	return false
}

// Add appends a line and updates the flags.
func (r *Response) Add(line string) {
	r.Lines = append(r.Lines, line)
	switch ClassifyLine(line) {
	case LineDone:
		r.Done = true
	case LineUnrecognized:
		r.Unrecognized = true
	case LineError:
		if r.Error == "" {
			r.Error = strings.TrimSpace(line)
		}
	}
}
