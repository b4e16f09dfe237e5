package errors

import (
	"fmt"
	"time"
)

// reportMessage is what the chat bot reporters post for one error.
type reportMessage struct {
	title      string
	lastReport *time.Time
	sinceLast  int
	err        error
	stacks     []string
}

// compose builds the message unless the creating call site is still inside its silent window.
func (b *rateLimiter) compose(title string, err error, stacks []string) (*reportMessage, bool) {
	limited, stats := b.StackBasedRateLimited(stacks[2])
	if limited {
		return nil, false
	}
	return &reportMessage{
		title:      title,
		lastReport: stats.lastReportTime,
		sinceLast:  stats.occurCountSinceLastReport,
		err:        err,
		stacks:     stacks,
	}, true
}

// lines renders the message body, one entry per line without trailing newlines.
func (m *reportMessage) lines() []string {
	out := []string{
		fmt.Sprintf("Last Report: %v", formatReportTime(m.lastReport)),
		fmt.Sprintf("Error Count Since Last Report: %v", m.sinceLast),
		fmt.Sprintf("Message: %v", m.err.Error()),
		"Stacks:",
	}
	for _, s := range m.stacks {
		out = append(out, "    "+s)
	}
	return out
}

func formatReportTime(t *time.Time) string {
	if t == nil {
		return "none"
	}
	return t.Format("2006.01.02 15:04")
}
