// Package help renders the key reference overlay.
package help

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/synthea-ws/genclient/internal/theme"
)

const intro = `# genclient

Drives one generation request over a single connection.
Configure first; the service answers with the request identifier,
after which start, stop, pause and update apply to that request.
`

// Markdown builds the key table for bindings.
func Markdown(bindings []key.Binding) string {
	var b strings.Builder
	b.WriteString(intro)
	b.WriteString("\n| Key | Action |\n|---|---|\n")
	for _, k := range bindings {
		h := k.Help()
		if h.Key == "" {
			continue
		}
		fmt.Fprintf(&b, "| `%s` | %s |\n", h.Key, h.Desc)
	}
	return b.String()
}

// Model caches the rendered overlay per width.
type Model struct {
	bindings []key.Binding
	width    int
	rendered string
}

// New creates a help model for bindings.
func New(bindings []key.Binding) Model {
	return Model{bindings: bindings}
}

// View renders the overlay at width. Rendering falls back to the plain
// markdown if glamour fails.
func (m *Model) View(width int) string {
	if width < 40 {
		width = 40
	}
	if m.rendered == "" || m.width != width {
		m.width = width
		m.rendered = render(Markdown(m.bindings), width-6)
	}
	footer := theme.StyleDimmed.Render("esc:close")
	return theme.StyleBorder.
		Width(width - 2).
		Render(lipgloss.JoinVertical(lipgloss.Left, m.rendered, footer))
}

func render(md string, wrap int) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(wrap),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimRight(out, "\n")
}
