package app

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines all keyboard bindings for the console.
type KeyMap struct {
	Configure key.Binding
	Start     key.Binding
	Stop      key.Binding
	Pause     key.Binding
	Update    key.Binding
	More      key.Binding
	Less      key.Binding
	Reconnect key.Binding
	Debug     key.Binding
	Help      key.Binding
	Up        key.Binding
	Down      key.Binding
	ClearLog  key.Binding
	Enter     key.Binding
	Escape    key.Binding
	Quit      key.Binding
	ForceQuit key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Configure: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "configure a new request"),
		),
		Start: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "start the request"),
		),
		Stop: key.NewBinding(
			key.WithKeys("x"),
			key.WithHelp("x", "stop the request"),
		),
		Pause: key.NewBinding(
			key.WithKeys("p"),
			key.WithHelp("p", "pause the request"),
		),
		Update: key.NewBinding(
			key.WithKeys("u"),
			key.WithHelp("u", "edit and send update-request"),
		),
		More: key.NewBinding(
			key.WithKeys("+", "="),
			key.WithHelp("+", "population +10"),
		),
		Less: key.NewBinding(
			key.WithKeys("-", "_"),
			key.WithHelp("-", "population -10"),
		),
		Reconnect: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "reconnect"),
		),
		Debug: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "event log"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "scroll log up"),
		),
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "scroll log down"),
		),
		ClearLog: key.NewBinding(
			key.WithKeys("C"),
			key.WithHelp("C", "clear event log"),
		),
		Enter: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "send update"),
		),
		Escape: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "close overlay"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q"),
			key.WithHelp("q", "quit"),
		),
		ForceQuit: key.NewBinding(
			key.WithKeys("ctrl+c"),
		),
	}
}

// HelpBindings lists the bindings shown in the help overlay.
func (k KeyMap) HelpBindings() []key.Binding {
	return []key.Binding{
		k.Configure, k.Start, k.Stop, k.Pause, k.Update,
		k.More, k.Less, k.Reconnect, k.Debug, k.Up, k.Down,
		k.ClearLog, k.Help, k.Escape, k.Quit,
	}
}
