// Package theme provides the Lip Gloss color palette and reusable styles
// for the stressmon dashboard. It is a leaf package with no internal
// imports other than the client types it colors.
package theme

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/hileamlakB/stress-api-sub000/internal/client"
)

// Status colors.
var (
	ColorPending   = lipgloss.Color("#7c3aed")
	ColorRunning   = lipgloss.Color("#2563eb")
	ColorCompleted = lipgloss.Color("#16a34a")
	ColorFailed    = lipgloss.Color("#dc2626")
	ColorStopped   = lipgloss.Color("#d97706")
	ColorDefault   = lipgloss.Color("#9ca3af")
)

// Success rate thresholds.
var (
	ColorRateGood = lipgloss.Color("#22c55e") // >=99%
	ColorRateFair = lipgloss.Color("#d97706") // 90-99%
	ColorRatePoor = lipgloss.Color("#dc2626") // <90%
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorAccent  = lipgloss.Color("#06b6d4")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
)

// StatusColor returns the color for a test status.
func StatusColor(s client.Status) lipgloss.Color {
	switch s {
	case client.StatusPending:
		return ColorPending
	case client.StatusRunning:
		return ColorRunning
	case client.StatusCompleted:
		return ColorCompleted
	case client.StatusFailed:
		return ColorFailed
	case client.StatusStopped:
		return ColorStopped
	default:
		return ColorDefault
	}
}

// StatusGlyph returns a Unicode glyph representing a test status.
func StatusGlyph(s client.Status) string {
	switch s {
	case client.StatusPending:
		return "◎"
	case client.StatusRunning:
		return "●>"
	case client.StatusCompleted:
		return "✓"
	case client.StatusFailed:
		return "✗"
	case client.StatusStopped:
		return "■"
	default:
		return "·"
	}
}

// SuccessRateColor returns the color for a success percentage in [0,100].
func SuccessRateColor(pct float64) lipgloss.Color {
	switch {
	case pct >= 99:
		return ColorRateGood
	case pct >= 90:
		return ColorRateFair
	default:
		return ColorRatePoor
	}
}

// Reusable styles.
var (
	StyleHeader = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
		Foreground(ColorDimmed)

	StyleSelected = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorAccent)
)
