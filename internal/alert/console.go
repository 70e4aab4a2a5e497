package alert

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/dwsmith1983/metricwatch/pkg/types"
)

// ConsoleSink writes messages to the terminal with color.
type ConsoleSink struct {
	out io.Writer
}

// NewConsoleSink creates a console sink writing to stdout.
func NewConsoleSink() *ConsoleSink {
	return &ConsoleSink{out: os.Stdout}
}

// Name returns the sink identifier.
func (s *ConsoleSink) Name() string { return "console" }

// Send prints the subject, colored by severity, followed by the body.
// Messages without a level are classified by their subject prefix.
func (s *ConsoleSink) Send(_ context.Context, msg Message) error {
	c := color.New(color.FgCyan)
	switch {
	case msg.Level == types.AlertLevelError, msg.Level == "" && strings.HasPrefix(msg.Subject, "ERROR"):
		c = color.New(color.FgRed, color.Bold)
	case msg.Level == types.AlertLevelWarning, msg.Level == "" && strings.HasPrefix(msg.Subject, "WARN"):
		c = color.New(color.FgYellow)
	}
	if _, err := c.Fprintf(s.out, "[ALERT] %s -> %s\n", msg.Subject, msg.Recipient); err != nil {
		return err
	}
	_, err := io.WriteString(s.out, indent(msg.Body)+"\n")
	return err
}

func indent(body string) string {
	return "  " + strings.ReplaceAll(strings.TrimRight(body, "\n"), "\n", "\n  ")
}
