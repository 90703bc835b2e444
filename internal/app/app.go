package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/synthea-ws/genclient/internal/protocol"
	"github.com/synthea-ws/genclient/internal/session"
	"github.com/synthea-ws/genclient/internal/theme"
	"github.com/synthea-ws/genclient/internal/views/debug"
	"github.com/synthea-ws/genclient/internal/views/help"
	"github.com/synthea-ws/genclient/internal/views/status"
)

// Overlay identifies which modal is active.
type Overlay int

const (
	OverlayNone Overlay = iota
	OverlayDebug
	OverlayHelp
	OverlayUpdate
)

const populationStep = 10

// Session is the part of *session.Session the console drives.
type Session interface {
	Connect(ctx context.Context, endpoint string) error
	Close() error
	Configure(cfg protocol.Configuration) error
	Start() error
	Stop() error
	Pause() error
	UpdateRequest(cfg protocol.Configuration) error
	SetEntityHandler(h session.EntityHandler)
	SetMessageHandler(h session.MessageHandler)
	State() session.State
	Identifier() (string, bool)
	Count() int
}

// Options describe where to connect and what to request.
type Options struct {
	Endpoint  string
	Transport string
	Request   protocol.Configuration
}

// --- Bubble Tea messages ---

// eventMsg carries a session event into the update loop.
type eventMsg struct{ ev session.Event }

// entityMsg reports an entity and the count after it.
type entityMsg struct {
	payload json.RawMessage
	count   int
}

// connectDoneMsg is returned by the connect command.
type connectDoneMsg struct{ err error }

// commandDoneMsg is returned after a command was handed to the session.
type commandDoneMsg struct {
	name string
	err  error
}

// Model is the root Bubble Tea model.
type Model struct {
	sess   Session
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc
	events chan tea.Msg

	keys   KeyMap
	width  int
	height int

	overlay Overlay
	request protocol.Configuration

	statusBar status.Model
	debugLog  debug.Model
	help      *help.Model
	input     textinput.Model

	lastMessage string
	lastIsError bool
	animating   bool
	entities    int
}

// New creates the root model and routes the session's callbacks into it.
func New(sess Session, opts Options) Model {
	ctx, cancel := context.WithCancel(context.Background())
	keys := DefaultKeyMap()

	request := opts.Request.Clone()
	if _, ok := request.Population(); !ok {
		request = request.With(protocol.KeyPopulation, protocol.DefaultPopulation)
	}
	pop, _ := request.Population()

	hm := help.New(keys.HelpBindings())

	ti := textinput.New()
	ti.Prompt = "update> "
	ti.Placeholder = `{"population": 100}`
	ti.CharLimit = 1024

	m := Model{
		sess:      sess,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		events:    make(chan tea.Msg, 256),
		keys:      keys,
		request:   request,
		statusBar: status.New(),
		debugLog:  debug.New(),
		help:      &hm,
		input:     ti,
	}
	m.statusBar.Transport = opts.Transport
	m.statusBar.Endpoint = opts.Endpoint
	m.statusBar.Population = pop

	events := m.events
	sess.SetMessageHandler(func(ev session.Event) {
		forward(ctx, events, eventMsg{ev: ev})
	})
	sess.SetEntityHandler(func(payload json.RawMessage) {
		forward(ctx, events, entityMsg{payload: payload, count: sess.Count()})
	})
	return m
}

// forward hands msg to the update loop, giving up once the console exits.
func forward(ctx context.Context, ch chan<- tea.Msg, msg tea.Msg) {
	select {
	case ch <- msg:
	case <-ctx.Done():
	}
}

// waitEvent blocks until the session reports something.
func (m Model) waitEvent() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-m.events:
			return msg
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m Model) connect() tea.Cmd {
	sess, ctx, endpoint := m.sess, m.ctx, m.opts.Endpoint
	return func() tea.Msg {
		return connectDoneMsg{err: sess.Connect(ctx, endpoint)}
	}
}

func (m Model) command(name string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return commandDoneMsg{name: name, err: fn()}
	}
}

// Init connects and starts listening for session events.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.connect(), m.waitEvent())
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		m.input.Width = msg.Width - 12
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case eventMsg:
		m.handleEvent(msg.ev)
		anim := m.animate()
		return m, tea.Batch(m.waitEvent(), anim)

	case entityMsg:
		m.entities++
		m.statusBar.SetProgress(msg.count, m.statusBar.Population, false)
		m.debugLog.Addf(debug.KindEntity, "entity #%d (%d bytes)", msg.count, len(msg.payload))
		anim := m.animate()
		return m, tea.Batch(m.waitEvent(), anim)

	case connectDoneMsg:
		if msg.err != nil {
			m.debugLog.Add(debug.KindError, msg.err.Error())
		}
		return m, nil

	case commandDoneMsg:
		if msg.err != nil {
			m.debugLog.Addf(debug.KindError, "%s: %v", msg.name, msg.err)
		} else {
			m.debugLog.Addf(debug.KindCommand, "%s sent", msg.name)
		}
		return m, nil

	case status.FrameMsg:
		if m.statusBar.Step() {
			return m, status.Frame()
		}
		m.animating = false
		return m, nil
	}

	if m.overlay == OverlayUpdate {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

// animate starts the progress animation unless a frame is already pending.
func (m *Model) animate() tea.Cmd {
	if m.animating {
		return nil
	}
	m.animating = true
	return status.Frame()
}

func (m *Model) handleEvent(ev session.Event) {
	m.statusBar.State = m.sess.State().String()

	switch ev.Kind {
	case session.EventConnected:
		m.debugLog.Add(debug.KindConn, ev.Message)
	case session.EventDisconnected:
		m.statusBar.State = session.Closed.String()
		m.statusBar.Reset()
		m.debugLog.Add(debug.KindConn, ev.Message)
	case session.EventIdentifier:
		m.statusBar.Reset()
		m.statusBar.Identifier = ev.Identifier
		if pop, ok := echoedPopulation(ev.Configuration); ok {
			m.statusBar.Population = pop
		}
		m.statusBar.SetProgress(0, m.statusBar.Population, false)
		m.debugLog.Addf(debug.KindStatus, "request %s", ev.Identifier)
	case session.EventStatus:
		if pop, ok := echoedPopulation(ev.Configuration); ok {
			m.statusBar.Population = pop
		}
		m.statusBar.SetProgress(m.sess.Count(), m.statusBar.Population, ev.Terminal)
		m.debugLog.Add(debug.KindStatus, ev.Message)
	case session.EventError, session.EventLocalError:
		text := ev.Message
		if ev.Err != nil {
			text = ev.Err.Error()
		}
		m.debugLog.Add(debug.KindError, text)
	}

	if ev.Kind == session.EventIdentifier {
		return
	}
	m.lastMessage = ev.Message
	m.lastIsError = ev.Kind == session.EventError || ev.Kind == session.EventLocalError
}

func echoedPopulation(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	cfg, err := protocol.DecodeConfiguration(raw)
	if err != nil {
		return 0, false
	}
	return cfg.Population()
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.ForceQuit) {
		return m.quit()
	}

	switch m.overlay {
	case OverlayUpdate:
		return m.handleUpdateKey(msg)
	case OverlayDebug:
		switch {
		case key.Matches(msg, m.keys.Up):
			m.debugLog.ScrollUp(1)
			return m, nil
		case key.Matches(msg, m.keys.Down):
			m.debugLog.ScrollDown(1)
			return m, nil
		case key.Matches(msg, m.keys.ClearLog):
			m.debugLog.Clear()
			return m, nil
		}
	}
	if m.overlay != OverlayNone {
		switch {
		case key.Matches(msg, m.keys.Escape):
			m.overlay = OverlayNone
		case key.Matches(msg, m.keys.Quit):
			return m.quit()
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m.quit()

	case key.Matches(msg, m.keys.Configure):
		cfg := m.request.Clone()
		return m, m.command("configure", func() error { return m.sess.Configure(cfg) })

	case key.Matches(msg, m.keys.Start):
		return m, m.command("start", m.sess.Start)

	case key.Matches(msg, m.keys.Stop):
		return m, m.command("stop", m.sess.Stop)

	case key.Matches(msg, m.keys.Pause):
		return m, m.command("pause", m.sess.Pause)

	case key.Matches(msg, m.keys.Update):
		raw, err := json.Marshal(m.request)
		if err != nil {
			m.debugLog.Add(debug.KindError, err.Error())
			return m, nil
		}
		m.input.SetValue(string(raw))
		m.input.CursorEnd()
		m.overlay = OverlayUpdate
		focus := m.input.Focus()
		return m, focus

	case key.Matches(msg, m.keys.More):
		m.setPopulation(m.population() + populationStep)
		return m, nil

	case key.Matches(msg, m.keys.Less):
		m.setPopulation(m.population() - populationStep)
		return m, nil

	case key.Matches(msg, m.keys.Reconnect):
		sess := m.sess
		m.statusBar.Reset()
		m.debugLog.Add(debug.KindCommand, "reconnect")
		return m, tea.Sequence(
			m.command("close", sess.Close),
			m.connect(),
		)

	case key.Matches(msg, m.keys.Debug):
		m.overlay = OverlayDebug
		return m, nil

	case key.Matches(msg, m.keys.Help):
		m.overlay = OverlayHelp
		return m, nil
	}

	return m, nil
}

func (m Model) handleUpdateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Escape):
		m.input.Blur()
		m.overlay = OverlayNone
		return m, nil

	case key.Matches(msg, m.keys.Enter):
		cfg, err := protocol.DecodeConfiguration([]byte(m.input.Value()))
		if err != nil || cfg == nil {
			m.lastMessage = "update: configuration must be a JSON object"
			m.lastIsError = true
			return m, nil
		}
		m.input.Blur()
		m.overlay = OverlayNone
		m.request = cfg
		if pop, ok := cfg.Population(); ok {
			m.statusBar.Population = pop
		}
		return m, m.command("update-request", func() error { return m.sess.UpdateRequest(cfg) })
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) population() int {
	n, _ := m.request.Population()
	return n
}

func (m *Model) setPopulation(n int) {
	if n < 1 {
		n = 1
	}
	m.request = m.request.With(protocol.KeyPopulation, n)
	if _, ok := m.sess.Identifier(); !ok || m.statusBar.Completed {
		m.statusBar.SetProgress(m.statusBar.Count, n, m.statusBar.Completed)
	}
	m.debugLog.Addf(debug.KindCommand, "population %d", n)
}

func (m Model) quit() (tea.Model, tea.Cmd) {
	m.cancel()
	_ = m.sess.Close()
	return m, tea.Quit
}

// View renders the console.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	switch m.overlay {
	case OverlayDebug:
		return m.debugLog.View(m.width, m.height)
	case OverlayHelp:
		return m.help.View(m.width)
	}

	sections := []string{
		m.statusBar.View(),
		m.renderRequest(),
		m.renderMessage(),
	}
	if m.overlay == OverlayUpdate {
		sections = append(sections, theme.StyleBorder.Width(m.width-2).Render(m.input.View()))
	}
	sections = append(sections,
		theme.StyleDimmed.Render("  c:configure  s:start  x:stop  p:pause  u:update  +/-:population  r:reconnect  d:log  ?:help  q:quit"))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderRequest() string {
	raw, err := json.Marshal(m.request)
	if err != nil {
		raw = []byte("{}")
	}
	lines := []string{
		theme.StyleHeader.Render("REQUEST"),
		"  next configuration: " + theme.StyleDimmed.Render(string(raw)),
		fmt.Sprintf("  entities this session: %d", m.entities),
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m Model) renderMessage() string {
	if m.lastMessage == "" {
		return theme.StyleDimmed.Render("  No messages yet")
	}
	style := lipgloss.NewStyle().Foreground(theme.ColorStatus)
	if m.lastIsError {
		style = theme.StyleError
	}
	if m.sess.State() == session.Closed {
		style = lipgloss.NewStyle().Foreground(theme.ColorClosed)
	}
	return "  " + style.Render(m.lastMessage)
}
