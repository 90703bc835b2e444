// Package status renders the connection bar and the request progress bar.
package status

import (
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/harmonica"
	"github.com/charmbracelet/lipgloss"

	"github.com/synthea-ws/genclient/internal/theme"
)

const fps = 60

// FrameMsg advances the progress animation by one frame.
type FrameMsg struct{}

// Frame schedules the next animation frame.
func Frame() tea.Cmd {
	return tea.Tick(time.Second/fps, func(time.Time) tea.Msg { return FrameMsg{} })
}

// Model holds the status bar state.
type Model struct {
	State      string
	Transport  string
	Endpoint   string
	Identifier string
	Count      int
	Population int
	Completed  bool
	Width      int

	spring harmonica.Spring
	pos    float64
	vel    float64
	target float64
}

// New creates a status bar model.
func New() Model {
	return Model{
		State:  "disconnected",
		spring: harmonica.NewSpring(harmonica.FPS(fps), 6.0, 1.0),
	}
}

// SetProgress updates the counters and the bar's target.
func (m *Model) SetProgress(count, population int, completed bool) {
	m.Count = count
	m.Population = population
	m.Completed = completed
	m.target = Fraction(count, population, completed)
}

// Reset clears the request and snaps the bar back to empty.
func (m *Model) Reset() {
	m.Identifier = ""
	m.SetProgress(0, m.Population, false)
	m.pos, m.vel = 0, 0
}

// Step advances the bar one frame and reports whether it is still moving.
func (m *Model) Step() bool {
	m.pos, m.vel = m.spring.Update(m.pos, m.vel, m.target)
	if math.Abs(m.pos-m.target) < 0.001 && math.Abs(m.vel) < 0.001 {
		m.pos, m.vel = m.target, 0
		return false
	}
	return true
}

// Fraction is the share of the population received so far.
func Fraction(count, population int, completed bool) float64 {
	if completed {
		return 1
	}
	if population <= 0 {
		return 0
	}
	f := float64(count) / float64(population)
	if f > 1 {
		f = 1
	}
	return f
}

// View renders the status bar.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	stateStr := lipgloss.NewStyle().Foreground(theme.StateColor(m.State)).
		Render(theme.StateGlyph(m.State) + " " + m.State)

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	parts := []string{stateStr}
	if m.Transport != "" {
		parts = append(parts, theme.StyleDimmed.Render(m.Transport+" "+m.Endpoint))
	}
	id := m.Identifier
	if id == "" {
		id = "no request"
	}
	parts = append(parts, lipgloss.NewStyle().Foreground(theme.ColorRequest).Render(id))

	top := strings.Join(parts, sep)
	bottom := m.progressLine(width - 4)

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(lipgloss.JoinVertical(lipgloss.Left, top, bottom))
}

func (m Model) progressLine(width int) string {
	label := fmt.Sprintf(" %d/%d", m.Count, m.Population)
	if m.Completed {
		label = " done"
	}
	barW := width - len(label)
	if barW < 10 {
		barW = 10
	}

	pos := m.pos
	if pos < 0 {
		pos = 0
	}
	if pos > 1 {
		pos = 1
	}
	filled := int(math.Round(pos * float64(barW)))
	bar := lipgloss.NewStyle().Foreground(theme.ProgressColor(m.target)).
		Render(strings.Repeat("█", filled))
	rest := theme.StyleDimmed.Render(strings.Repeat("░", barW-filled))
	return bar + rest + label
}
