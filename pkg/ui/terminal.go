package ui

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/charmbracelet/lipgloss"
)

// ASCIILogo is printed by commands that talk to a human
const ASCIILogo = `
   ┌┬┐┌─┐┌─┐┌┐┌┌─┐┌─┐┌┬┐┌─┐┬ ┬
   ││││ ││ ││││├┤ ├┤  │ │  ├─┤
   ┴ ┴└─┘└─┘┘└┘└  └─┘ ┴ └─┘┴ ┴
   resilient fetching for hostile hosts
`

var (
	cyan    = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	yellow  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	red     = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	green   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	magenta = lipgloss.NewStyle().Foreground(lipgloss.Color("5"))
	dim     = lipgloss.NewStyle().Faint(true)
)

// Color functions for terminal output
var (
	Cyan    = colorize(cyan)
	Yellow  = colorize(yellow)
	Red     = colorize(red)
	Green   = colorize(green)
	Magenta = colorize(magenta)
	Dim     = colorize(dim)
)

var (
	quiet   atomic.Bool
	noColor atomic.Bool
	out     io.Writer = os.Stdout
)

func colorize(style lipgloss.Style) func(string) string {
	return func(text string) string {
		if noColor.Load() {
			return text
		}
		return style.Render(text)
	}
}

// SetQuietMode suppresses everything except errors
func SetQuietMode(q bool) { quiet.Store(q) }

// IsQuiet reports whether quiet mode is on
func IsQuiet() bool { return quiet.Load() }

// SetNoColor disables styling
func SetNoColor(v bool) { noColor.Store(v) }

// SetOutput redirects the Print helpers; nil restores stdout
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	out = w
}

// PrintLogo prints the ASCII logo
func PrintLogo() {
	if IsQuiet() {
		return
	}
	fmt.Fprint(out, Cyan(ASCIILogo))
}

// PrintError prints an error message in red. Errors are shown even in quiet
// mode.
func PrintError(msg string, args ...interface{}) {
	if len(args) > 0 {
		fmt.Fprintln(out, Red(msg+": "+fmt.Sprintf("%v", args[0])))
	} else {
		fmt.Fprintln(out, Red(msg))
	}
}

// PrintSuccess prints a success message in green
func PrintSuccess(msg string) {
	if IsQuiet() {
		return
	}
	fmt.Fprintln(out, Green(msg))
}

// PrintInfo prints a label and value
func PrintInfo(label string, value string) {
	if IsQuiet() {
		return
	}
	fmt.Fprintf(out, "%s: %s\n", Cyan(label), Yellow(value))
}

// PrintWarning prints a warning message in yellow
func PrintWarning(msg string, args ...interface{}) {
	if IsQuiet() {
		return
	}
	if len(args) > 0 {
		fmt.Fprintln(out, Yellow(msg+": "+fmt.Sprintf("%v", args[0])))
	} else {
		fmt.Fprintln(out, Yellow(msg))
	}
}

// PrintHighlight prints a highlighted message in magenta
func PrintHighlight(msg string) {
	if IsQuiet() {
		return
	}
	fmt.Fprintln(out, Magenta(msg))
}
