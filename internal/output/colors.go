package output

import (
	"github.com/fatih/color"
)

// ColorScheme defines the colors used for the elements of the console output
type ColorScheme struct {
	Title    *color.Color
	Rule     *color.Color
	Label    *color.Color
	Value    *color.Color
	Progress *color.Color
	Dim      *color.Color
	Pass     *color.Color
	Warn     *color.Color
	Fail     *color.Color
}

// DefaultColorScheme returns the default color scheme
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Title:    color.New(color.Bold),
		Rule:     color.New(color.FgCyan),
		Label:    color.New(color.Bold),
		Value:    color.New(color.FgCyan),
		Progress: color.New(color.FgGreen),
		Dim:      color.New(color.Faint),
		Pass:     color.New(color.FgGreen),
		Warn:     color.New(color.FgYellow),
		Fail:     color.New(color.FgRed),
	}
}

// NoColorScheme returns a color scheme with all colors disabled
func NoColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()
	for _, c := range scheme.all() {
		c.DisableColor()
	}
	return scheme
}

// ForceColorScheme returns a color scheme that colors even when stdout is
// not a terminal
func ForceColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()
	for _, c := range scheme.all() {
		c.EnableColor()
	}
	return scheme
}

func (s *ColorScheme) all() []*color.Color {
	return []*color.Color{s.Title, s.Rule, s.Label, s.Value, s.Progress, s.Dim, s.Pass, s.Warn, s.Fail}
}

// rate picks pass, warn or fail for a failure ratio
func (s *ColorScheme) rate(failRate float64) *color.Color {
	switch {
	case failRate > 0.05:
		return s.Fail
	case failRate > 0.01:
		return s.Warn
	default:
		return s.Pass
	}
}

// SuccessIcon returns a checkmark symbol with appropriate color
func SuccessIcon(noColor bool) string {
	if noColor {
		return "✓"
	}
	return color.New(color.FgGreen).Sprint("✓")
}

// ErrorIcon returns an X symbol with appropriate color
func ErrorIcon(noColor bool) string {
	if noColor {
		return "✗"
	}
	return color.New(color.FgRed).Sprint("✗")
}
