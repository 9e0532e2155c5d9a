package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"stock-alert/internal/models"
)

// Output handles formatted output for the CLI.
type Output struct {
	writer       io.Writer
	jsonMode     bool
	colorEnabled bool

	green, red, yellow, cyan, bold, dim *color.Color
}

// NewOutput creates an Output for cmd honoring --json and --no-color.
func NewOutput(cmd *cobra.Command) *Output {
	jsonMode, _ := cmd.Flags().GetBool("json")
	noColor, _ := cmd.Flags().GetBool("no-color")
	return newOutput(cmd.OutOrStdout(), jsonMode, !jsonMode && !noColor && isTerminal())
}

func newOutput(w io.Writer, jsonMode, colorEnabled bool) *Output {
	o := &Output{
		writer:       w,
		jsonMode:     jsonMode,
		colorEnabled: colorEnabled,
		green:        color.New(color.FgGreen),
		red:          color.New(color.FgRed),
		yellow:       color.New(color.FgYellow),
		cyan:         color.New(color.FgCyan),
		bold:         color.New(color.Bold),
		dim:          color.New(color.Faint),
	}
	for _, c := range []*color.Color{o.green, o.red, o.yellow, o.cyan, o.bold, o.dim} {
		if colorEnabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return o
}

func isTerminal() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// IsJSON returns true if JSON output mode is enabled.
func (o *Output) IsJSON() bool {
	return o.jsonMode
}

// ColorEnabled reports whether ANSI colors are written.
func (o *Output) ColorEnabled() bool {
	return o.colorEnabled
}

// Writer returns the underlying writer.
func (o *Output) Writer() io.Writer {
	return o.writer
}

// JSON outputs data as indented JSON.
func (o *Output) JSON(data interface{}) error {
	encoder := json.NewEncoder(o.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// Println prints a message with newline.
func (o *Output) Println(args ...interface{}) {
	fmt.Fprintln(o.writer, args...)
}

// Printf prints a formatted message.
func (o *Output) Printf(format string, args ...interface{}) {
	fmt.Fprintf(o.writer, format, args...)
}

// Success prints a success message in green.
func (o *Output) Success(format string, args ...interface{}) {
	o.line(o.green, format, args...)
}

// Error prints an error message in red.
func (o *Output) Error(format string, args ...interface{}) {
	o.line(o.red, format, args...)
}

// Warning prints a warning message in yellow.
func (o *Output) Warning(format string, args ...interface{}) {
	o.line(o.yellow, format, args...)
}

// Info prints an info message in cyan.
func (o *Output) Info(format string, args ...interface{}) {
	o.line(o.cyan, format, args...)
}

// Bold prints a bold message.
func (o *Output) Bold(format string, args ...interface{}) {
	o.line(o.bold, format, args...)
}

// Dim prints a dimmed message.
func (o *Output) Dim(format string, args ...interface{}) {
	o.line(o.dim, format, args...)
}

func (o *Output) line(c *color.Color, format string, args ...interface{}) {
	fmt.Fprintln(o.writer, c.Sprintf(format, args...))
}

// Green returns green colored text.
func (o *Output) Green(text string) string { return o.green.Sprint(text) }

// Red returns red colored text.
func (o *Output) Red(text string) string { return o.red.Sprint(text) }

// Yellow returns yellow colored text.
func (o *Output) Yellow(text string) string { return o.yellow.Sprint(text) }

// DimText returns dimmed text.
func (o *Output) DimText(text string) string { return o.dim.Sprint(text) }

// FormatChange renders a signed change and percent, green when up.
func (o *Output) FormatChange(change, pct *float64) string {
	if change == nil && pct == nil {
		return Missing
	}
	var c, p float64
	if change != nil {
		c = *change
	}
	if pct != nil {
		p = *pct
	}
	text := FormatChange(c, p)
	switch {
	case c > 0 || (change == nil && p > 0):
		return o.Green(text)
	case c < 0 || (change == nil && p < 0):
		return o.Red(text)
	}
	return text
}

// StatusCode colors a run or symbol status code.
func (o *Output) StatusCode(code models.StatusCode) string {
	switch code {
	case models.StatusOK:
		return o.Green(string(code))
	case models.StatusPartial, models.StatusRateLimited, models.StatusMarketClosed,
		models.StatusInterrupted, models.StatusInterruptedTimeout, models.StatusManualReset:
		return o.Yellow(string(code))
	case "":
		return o.DimText(Missing)
	default:
		return o.Red(string(code))
	}
}

// WindowStatus renders the notify window state.
func (o *Output) WindowStatus(open bool) string {
	if open {
		return o.Green("● OPEN")
	}
	return o.Red("● CLOSED")
}

// Table represents a simple table for output.
type Table struct {
	headers []string
	rows    [][]string
	output  *Output
}

// NewTable creates a new table.
func NewTable(output *Output, headers ...string) *Table {
	return &Table{headers: headers, output: output}
}

// AddRow adds a row to the table.
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Render writes the table with padded columns.
func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = visibleLen(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && visibleLen(cell) > widths[i] {
				widths[i] = visibleLen(cell)
			}
		}
	}

	t.printRow(t.headers, widths, true)
	parts := make([]string, len(widths))
	for i, w := range widths {
		parts[i] = strings.Repeat("─", w)
	}
	t.output.Println(t.output.DimText(strings.Join(parts, "──")))
	for _, row := range t.rows {
		t.printRow(row, widths, false)
	}
}

func (t *Table) printRow(cells []string, widths []int, header bool) {
	var parts []string
	for i, cell := range cells {
		if i >= len(widths) {
			break
		}
		padded := cell + strings.Repeat(" ", max(0, widths[i]-visibleLen(cell)))
		if header {
			padded = t.output.bold.Sprint(padded)
		}
		parts = append(parts, padded)
	}
	t.output.Println(strings.TrimRight(strings.Join(parts, "  "), " "))
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// visibleLen counts runes outside ANSI escape sequences.
func visibleLen(s string) int {
	return len([]rune(ansiPattern.ReplaceAllString(s, "")))
}
