package device

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/mmwave/internal/mmwave/profile"
	"github.com/banshee-data/mmwave/internal/monitoring"
	"github.com/banshee-data/mmwave/internal/serialmux"
)

// DefaultResponseGrace is added to each command's profile timeout while
// waiting for its response.
const DefaultResponseGrace = 500 * time.Millisecond

// CommandResult records how one CLI command was answered.
type CommandResult struct {
	Command  string
	Response serialmux.Response
	Skipped  bool // unrecognised by the firmware
}

// CommandChannel sends CLI commands through a SerialMux and waits for
// each response.
type CommandChannel struct {
	mux   serialmux.SerialMuxInterface
	Grace time.Duration
}

// NewCommandChannel wraps mux. The mux's Monitor must be running.
func NewCommandChannel(mux serialmux.SerialMuxInterface) *CommandChannel {
	return &CommandChannel{mux: mux, Grace: DefaultResponseGrace}
}

// Send writes cmd and collects its response. A "Done" line or a bare
// prompt is success, an unrecognised command is skipped with a warning,
// and an error line or a response without "Done" fails with
// ErrRadarConnection.
func (c *CommandChannel) Send(ctx context.Context, cmd string) (CommandResult, error) {
	res := CommandResult{Command: cmd}

	id, lines := c.mux.Subscribe()
	defer c.mux.Unsubscribe(id)

	if err := c.mux.SendCommand(cmd); err != nil {
		return res, fmt.Errorf("%w: send %q: %v", ErrRadarConnection, cmd, err)
	}

	timer := time.NewTimer(profile.Timeout(cmd) + c.Grace)
	defer timer.Stop()

	col := collector{res: &res}
collect:
	for {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-timer.C:
			break collect
		case line, ok := <-lines:
			if !ok {
				break collect
			}
			if col.add(line) {
				break collect
			}
		}
	}

	return res, judge(&res, col.prompts)
}

// collector feeds CLI output into a result, dropping the echoed command
// and prompts printed before the response proper.
type collector struct {
	res     *CommandResult
	prompts int
}

// add reports whether the response is complete.
func (c *collector) add(line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false
	case strings.TrimSpace(strings.TrimPrefix(line, serialmux.Prompt)) == c.res.Command:
		return false
	case len(c.res.Response.Lines) == 0 && serialmux.ClassifyLine(line) == serialmux.LinePrompt:
		c.prompts++
		return false
	}
	c.res.Response.Add(line)
	return c.res.Response.Complete()
}

// judge applies the response rules to a collected response. prompts counts
// bare prompt lines that were not added to the response.
func judge(res *CommandResult, prompts int) error {
	r := res.Response
	switch {
	case r.Unrecognized:
		res.Skipped = true
		monitoring.Logf("device: warning: %q not recognized by firmware, skipping", res.Command)
		return nil
	case r.Error != "":
		return fmt.Errorf("%w: %q: %s", ErrRadarConnection, res.Command, r.Error)
	case r.Done:
		return nil
	case len(r.Lines) == 0 && prompts > 0, r.PromptOnly():
		return nil
	}
	return fmt.Errorf("%w: %q: no Done in response %q", ErrRadarConnection, res.Command, strings.Join(r.Lines, " | "))
}

// Run sends cmds in order and stops at the first failure.
func (c *CommandChannel) Run(ctx context.Context, cmds []string) ([]CommandResult, error) {
	results := make([]CommandResult, 0, len(cmds))
	for _, cmd := range cmds {
		res, err := c.Send(ctx, cmd)
		results = append(results, res)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// countSkipped returns how many results were skipped.
func countSkipped(results []CommandResult) int {
	n := 0
	for _, r := range results {
		if r.Skipped {
			n++
		}
	}
	return n
}
