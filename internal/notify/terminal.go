package notify

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"stock-alert/internal/models"
)

// TerminalNotifier prints alerts to a terminal. Used by the CLI when a run is
// executed in the foreground.
type TerminalNotifier struct {
	mu           sync.Mutex
	out          io.Writer
	bellEnabled  bool
	colorEnabled bool
	now          func() time.Time
}

// NewTerminalNotifier creates a TerminalNotifier writing to out.
func NewTerminalNotifier(out io.Writer, colorEnabled bool) *TerminalNotifier {
	return &TerminalNotifier{
		out:          out,
		colorEnabled: colorEnabled,
		now:          time.Now,
	}
}

// SetBellEnabled enables or disables the terminal bell.
func (tn *TerminalNotifier) SetBellEnabled(enabled bool) {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	tn.bellEnabled = enabled
}

func (tn *TerminalNotifier) Name() string { return "terminal" }

func (tn *TerminalNotifier) IsEnabled() bool { return tn.out != nil }

// Send writes one formatted alert.
func (tn *TerminalNotifier) Send(_ context.Context, msg models.AlertMessage) error {
	tn.mu.Lock()
	defer tn.mu.Unlock()

	line := FormatTerminal(msg, tn.now(), tn.colorEnabled)
	if tn.bellEnabled {
		line = "\a" + line
	}
	_, err := fmt.Fprintln(tn.out, line)
	return err
}

// FormatTerminal renders an alert as one or two terminal lines.
func FormatTerminal(msg models.AlertMessage, at time.Time, colorEnabled bool) string {
	indicator := "🔔 ALERT"
	paint := color.New(color.FgYellow, color.Bold)
	switch msg.Signature.Type() {
	case models.RuleAbove, models.RulePctJump:
		indicator = "📈 ALERT"
		paint = color.New(color.FgGreen, color.Bold)
	case models.RuleBelow, models.RulePctDrop:
		indicator = "📉 ALERT"
		paint = color.New(color.FgRed, color.Bold)
	case models.RuleEarningsReminder:
		indicator = "📅 EARNINGS"
		paint = color.New(color.FgCyan, color.Bold)
	}

	header := fmt.Sprintf("[%s] %s", at.Format("15:04:05"), indicator)
	if colorEnabled {
		paint.EnableColor()
	} else {
		paint.DisableColor()
	}
	header = paint.Sprint(header)

	var sb strings.Builder
	sb.WriteString(header)
	sb.WriteString(" | ")
	sb.WriteString(Plain(msg.Title))
	if msg.Body != "" {
		sb.WriteString("\n    → ")
		sb.WriteString(msg.Body)
	}
	return sb.String()
}
