// Package theme provides the Lip Gloss palette and shared styles for the
// console. It is a leaf package with no internal imports.
package theme

import "github.com/charmbracelet/lipgloss"

// Connection state colors.
var (
	ColorDisconnected = lipgloss.Color("#6b7280")
	ColorConnecting   = lipgloss.Color("#d97706")
	ColorConnected    = lipgloss.Color("#22c55e")
	ColorClosed       = lipgloss.Color("#dc2626")
)

// Event colors.
var (
	ColorStatus   = lipgloss.Color("#2563eb")
	ColorEntity   = lipgloss.Color("#06b6d4")
	ColorRequest  = lipgloss.Color("#7c3aed")
	ColorComplete = lipgloss.Color("#16a34a")
	ColorErrored  = lipgloss.Color("#dc2626")
	ColorCommand  = lipgloss.Color("#a855f7")
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDefault = lipgloss.Color("#9ca3af")
)

// Progress bar thresholds.
var (
	ColorProgressLow  = lipgloss.Color("#d97706") // <50%
	ColorProgressMid  = lipgloss.Color("#2563eb") // 50-99%
	ColorProgressDone = lipgloss.Color("#22c55e")
)

// StateColor returns the color for a connection state name.
func StateColor(state string) lipgloss.Color {
	switch state {
	case "connected":
		return ColorConnected
	case "connecting":
		return ColorConnecting
	case "closed":
		return ColorClosed
	case "disconnected":
		return ColorDisconnected
	default:
		return ColorDefault
	}
}

// StateGlyph returns the indicator shown next to a connection state.
func StateGlyph(state string) string {
	switch state {
	case "connected":
		return "●"
	case "connecting":
		return "◌"
	case "closed":
		return "✗"
	default:
		return "○"
	}
}

// ProgressColor returns the bar color for a completion fraction.
func ProgressColor(frac float64) lipgloss.Color {
	switch {
	case frac >= 1:
		return ColorProgressDone
	case frac >= 0.5:
		return ColorProgressMid
	default:
		return ColorProgressLow
	}
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
		Foreground(ColorDimmed)

	StyleError = lipgloss.NewStyle().
		Foreground(ColorErrored)
)
