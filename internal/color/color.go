// Package color provides terminal styling helpers backed by lipgloss.
// All functions return their input unchanged when Enabled is false, so
// callers need not guard their output. Call Init once at program start.
package color

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// Enabled is true when colour output is supported.
var Enabled bool

var renderer = newRenderer()

func newRenderer() *lipgloss.Renderer {
	r := lipgloss.NewRenderer(os.Stdout)
	r.SetColorProfile(termenv.ANSI)
	return r
}

// Init sets Enabled for output written to f (os.Stdout when nil).
func Init(f *os.File) {
	if f == nil {
		f = os.Stdout
	}
	Enabled = Detect(f)
}

// Detect reports whether f is a colour-capable terminal. Colour is
// suppressed when:
//   - NO_COLOR env var is set (https://no-color.org)
//   - TERM=dumb
//   - f is not a terminal (piped, redirected, etc.)
//   - the terminal only supports ASCII
func Detect(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	if !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()) {
		return false
	}
	return termenv.ColorProfile() != termenv.Ascii
}

func paint(st lipgloss.Style, s string) string {
	if !Enabled || s == "" {
		return s
	}
	return st.Render(s)
}

func fg(c string) lipgloss.Style { return renderer.NewStyle().Foreground(lipgloss.Color(c)) }

func Bold(s string) string       { return paint(renderer.NewStyle().Bold(true), s) }
func Dim(s string) string        { return paint(renderer.NewStyle().Faint(true), s) }
func Red(s string) string        { return paint(fg("1"), s) }
func Green(s string) string      { return paint(fg("2"), s) }
func Yellow(s string) string     { return paint(fg("3"), s) }
func Cyan(s string) string       { return paint(fg("6"), s) }
func BoldRed(s string) string    { return paint(fg("1").Bold(true), s) }
func BoldGreen(s string) string  { return paint(fg("2").Bold(true), s) }
func BoldYellow(s string) string { return paint(fg("3").Bold(true), s) }
func BoldCyan(s string) string   { return paint(fg("6").Bold(true), s) }
