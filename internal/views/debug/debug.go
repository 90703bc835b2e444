// Package debug provides a scrollable log of session events.
package debug

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/synthea-ws/genclient/internal/theme"
)

const maxEntries = 200

// Kind tags an entry with where it came from.
type Kind string

const (
	KindConn    Kind = "conn"
	KindStatus  Kind = "stat"
	KindError   Kind = "err"
	KindCommand Kind = "cmd"
	KindEntity  Kind = "ent"
)

// Entry is a single log line.
type Entry struct {
	Time    time.Time
	Kind    Kind
	Message string
}

// Model holds debug log state.
type Model struct {
	Entries []Entry
	Offset  int // scroll offset from the bottom

	now func() time.Time
}

// New creates an empty debug model.
func New() Model {
	return Model{now: time.Now}
}

// Add appends an entry, caps the buffer and scrolls back to the bottom.
func (m *Model) Add(kind Kind, message string) {
	now := time.Now
	if m.now != nil {
		now = m.now
	}
	m.Entries = append(m.Entries, Entry{
		Time:    now(),
		Kind:    kind,
		Message: message,
	})
	if len(m.Entries) > maxEntries {
		m.Entries = m.Entries[len(m.Entries)-maxEntries:]
	}
	m.Offset = 0
}

// Addf is Add with formatting.
func (m *Model) Addf(kind Kind, format string, args ...any) {
	m.Add(kind, fmt.Sprintf(format, args...))
}

// Clear drops every entry.
func (m *Model) Clear() {
	m.Entries = nil
	m.Offset = 0
}

// Last returns the newest entry of kind, if any.
func (m Model) Last(kind Kind) (Entry, bool) {
	for i := len(m.Entries) - 1; i >= 0; i-- {
		if m.Entries[i].Kind == kind {
			return m.Entries[i], true
		}
	}
	return Entry{}, false
}

// ScrollUp moves the viewport up.
func (m *Model) ScrollUp(n int) {
	m.Offset += n
	max := len(m.Entries) - 1
	if max < 0 {
		max = 0
	}
	if m.Offset > max {
		m.Offset = max
	}
}

// ScrollDown moves the viewport down.
func (m *Model) ScrollDown(n int) {
	m.Offset -= n
	if m.Offset < 0 {
		m.Offset = 0
	}
}

func panelStyle(width int) lipgloss.Style {
	return lipgloss.NewStyle().
		Width(width).
		Padding(1, 2).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder)
}

// View renders the log as an overlay panel.
func (m Model) View(width, height int) string {
	innerW := width - 4
	if innerW < 20 {
		innerW = 20
	}
	visible := height - 6
	if visible < 3 {
		visible = 3
	}

	title := theme.StyleHeader.Render(" EVENT LOG ")
	help := theme.StyleDimmed.Render(fmt.Sprintf("j/k:scroll  C:clear  esc:close  %d entries", len(m.Entries)))

	if len(m.Entries) == 0 {
		body := theme.StyleDimmed.Render("  No events recorded yet.")
		return panelStyle(innerW).Render(lipgloss.JoinVertical(lipgloss.Left, title, "", body, "", help))
	}

	end := len(m.Entries) - m.Offset
	if end < 0 {
		end = 0
	}
	start := end - visible
	if start < 0 {
		start = 0
	}

	lines := make([]string, 0, end-start)
	for _, e := range m.Entries[start:end] {
		ts := theme.StyleDimmed.Render(e.Time.Format("15:04:05.000"))
		kind := lipgloss.NewStyle().Foreground(kindColor(e.Kind)).Width(4).Render(string(e.Kind))
		msg := truncate(e.Message, innerW-23)
		lines = append(lines, fmt.Sprintf("%s %s %s", ts, kind, msg))
	}

	more := ""
	if m.Offset > 0 {
		more = theme.StyleDimmed.Render(fmt.Sprintf(" ↓ %d more", m.Offset))
	}
	return panelStyle(innerW).Render(lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(lines, "\n"), more, help))
}

// truncate shortens s to limit characters plus an ellipsis. A limit of zero
// or less leaves s alone.
func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit+3 {
		return s
	}
	return string(r[:limit]) + "..."
}

func kindColor(k Kind) lipgloss.Color {
	switch k {
	case KindConn:
		return theme.ColorConnected
	case KindStatus:
		return theme.ColorStatus
	case KindError:
		return theme.ColorErrored
	case KindCommand:
		return theme.ColorCommand
	case KindEntity:
		return theme.ColorEntity
	default:
		return theme.ColorDimmed
	}
}
