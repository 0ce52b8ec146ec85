// Package output renders keg's terminal output: tables and reports for
// package operations, dependency trees, progress indicators, and
// machine-readable encodings of the same data.
//
// Styling is applied only when stdout is a terminal and NO_COLOR is unset.
// Progress indicators are safe for concurrent use.
package output

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// colorDisabled is set by DisableColor.
var colorDisabled bool

// DisableColor turns styling off for the rest of the process.
func DisableColor() { colorDisabled = true }

// IsColorEnabled returns true if styled output should be emitted.
// It checks that os.Stdout is a TTY and that the NO_COLOR env var is not set.
func IsColorEnabled() bool {
	if colorDisabled || os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd())
}

func render(style lipgloss.Style, text string) string {
	if !IsColorEnabled() {
		return text
	}
	return style.Render(text)
}

// Heading styles a section title.
func Heading(text string) string { return render(headingStyle, text) }

// Success styles a completed-item marker or message.
func Success(text string) string { return render(successStyle, text) }

// Warning styles a warning marker or message.
func Warning(text string) string { return render(warningStyle, text) }

// Error styles a failure marker or message.
func Error(text string) string { return render(errorStyle, text) }

// Muted styles secondary detail.
func Muted(text string) string { return render(mutedStyle, text) }
