package app

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synthea-ws/genclient/internal/protocol"
	"github.com/synthea-ws/genclient/internal/session"
	"github.com/synthea-ws/genclient/internal/views/debug"
)

type fakeSession struct {
	mu         sync.Mutex
	calls      []string
	configured protocol.Configuration
	updated    protocol.Configuration
	state      session.State
	identifier string
	count      int
	onMessage  session.MessageHandler
	onEntity   session.EntityHandler
}

func (f *fakeSession) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeSession) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeSession) Connect(ctx context.Context, endpoint string) error {
	f.record("connect " + endpoint)
	f.state = session.Connected
	return nil
}

func (f *fakeSession) Close() error {
	f.record("close")
	f.state = session.Closed
	return nil
}

func (f *fakeSession) Configure(cfg protocol.Configuration) error {
	f.record("configure")
	f.configured = cfg
	return nil
}

func (f *fakeSession) Start() error { f.record("start"); return nil }
func (f *fakeSession) Stop() error  { f.record("stop"); return nil }
func (f *fakeSession) Pause() error { f.record("pause"); return nil }

func (f *fakeSession) UpdateRequest(cfg protocol.Configuration) error {
	f.record("update-request")
	f.updated = cfg
	return nil
}

func (f *fakeSession) SetEntityHandler(h session.EntityHandler)   { f.onEntity = h }
func (f *fakeSession) SetMessageHandler(h session.MessageHandler) { f.onMessage = h }
func (f *fakeSession) State() session.State                       { return f.state }
func (f *fakeSession) Count() int                                 { return f.count }

func (f *fakeSession) Identifier() (string, bool) {
	return f.identifier, f.identifier != ""
}

func runeKey(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func newModel(t *testing.T) (Model, *fakeSession) {
	t.Helper()
	f := &fakeSession{}
	m := New(f, Options{Endpoint: "ws://mock/ws", Transport: "websocket"})
	t.Cleanup(m.cancel)
	return m, f
}

func press(t *testing.T, m Model, k tea.KeyMsg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(k)
	return next.(Model), cmd
}

func TestNewDefaultsPopulation(t *testing.T) {
	m, _ := newModel(t)
	assert.Equal(t, protocol.DefaultPopulation, m.population())
	assert.Equal(t, protocol.DefaultPopulation, m.statusBar.Population)

	f := &fakeSession{}
	m = New(f, Options{Request: protocol.Configuration{"population": 7, "state": "Ohio"}})
	defer m.cancel()
	assert.Equal(t, 7, m.population())
	assert.Equal(t, 7, m.statusBar.Population)
}

func TestInitConnects(t *testing.T) {
	m, f := newModel(t)
	msg := m.connect()()
	assert.Equal(t, connectDoneMsg{}, msg)
	assert.Equal(t, []string{"connect ws://mock/ws"}, f.Calls())
}

func TestCommandKeys(t *testing.T) {
	tests := []struct {
		key  string
		call string
	}{
		{"c", "configure"},
		{"s", "start"},
		{"x", "stop"},
		{"p", "pause"},
	}
	for _, tt := range tests {
		t.Run(tt.call, func(t *testing.T) {
			m, f := newModel(t)
			m, cmd := press(t, m, runeKey(tt.key))
			require.NotNil(t, cmd)

			done := cmd()
			assert.Equal(t, commandDoneMsg{name: tt.call}, done)
			assert.Equal(t, []string{tt.call}, f.Calls())

			next, _ := m.Update(done)
			last := next.(Model).debugLog.Entries
			require.NotEmpty(t, last)
			assert.Equal(t, debug.KindCommand, last[len(last)-1].Kind)
		})
	}
}

func TestConfigureSendsCurrentRequest(t *testing.T) {
	m, f := newModel(t)
	m, _ = press(t, m, runeKey("+"))
	m, _ = press(t, m, runeKey("+"))
	_, cmd := press(t, m, runeKey("c"))
	cmd()
	assert.Equal(t, protocol.Configuration{"population": protocol.DefaultPopulation + 2*populationStep}, f.configured)
}

func TestPopulationKeysClamp(t *testing.T) {
	f := &fakeSession{}
	m := New(f, Options{Request: protocol.PopulationConfig(15)})
	defer m.cancel()

	m, _ = press(t, m, runeKey("-"))
	assert.Equal(t, 5, m.population())
	m, _ = press(t, m, runeKey("-"))
	assert.Equal(t, 1, m.population())
	assert.Equal(t, 1, m.statusBar.Population)
}

func TestHandlersBridgeIntoUpdateLoop(t *testing.T) {
	m, f := newModel(t)
	require.NotNil(t, f.onMessage)
	require.NotNil(t, f.onEntity)

	f.onMessage(session.Event{Kind: session.EventConnected, Message: "Connected"})
	assert.Equal(t, eventMsg{ev: session.Event{Kind: session.EventConnected, Message: "Connected"}}, m.waitEvent()())

	f.count = 3
	f.onEntity(json.RawMessage(`{}`))
	assert.Equal(t, entityMsg{payload: json.RawMessage(`{}`), count: 3}, m.waitEvent()())
}

func TestWaitEventStopsOnQuit(t *testing.T) {
	m, f := newModel(t)
	wait := m.waitEvent()

	next, cmd := m.Update(runeKey("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
	assert.Nil(t, wait())
	assert.Equal(t, []string{"close"}, f.Calls())
	assert.Equal(t, session.Closed, next.(Model).sess.State())
}

func TestRequestLifecycle(t *testing.T) {
	m, f := newModel(t)
	step := func(msg tea.Msg) {
		next, _ := m.Update(msg)
		m = next.(Model)
	}

	f.state = session.Connected
	step(eventMsg{ev: session.Event{Kind: session.EventConnected, Message: "Connected"}})
	assert.Equal(t, "connected", m.statusBar.State)

	f.identifier = "abc"
	step(eventMsg{ev: session.Event{
		Kind:          session.EventIdentifier,
		Identifier:    "abc",
		Message:       "abc",
		Configuration: json.RawMessage(`{"population":4,"seed":1}`),
	}})
	assert.Equal(t, "abc", m.statusBar.Identifier)
	assert.Equal(t, 4, m.statusBar.Population)

	for i := 1; i <= 3; i++ {
		step(entityMsg{payload: json.RawMessage(`{}`), count: i})
	}
	assert.Equal(t, 3, m.statusBar.Count)
	assert.Equal(t, 3, m.entities)

	f.count = 0
	step(eventMsg{ev: session.Event{Kind: session.EventStatus, Message: "Completed", Terminal: true}})
	assert.True(t, m.statusBar.Completed)
	assert.Equal(t, "Completed", m.lastMessage)
	assert.False(t, m.lastIsError)

	step(eventMsg{ev: session.Event{Kind: session.EventError, Message: "No such request"}})
	assert.True(t, m.lastIsError)
	e, ok := m.debugLog.Last(debug.KindError)
	require.True(t, ok)
	assert.Equal(t, "No such request", e.Message)

	f.state = session.Closed
	step(eventMsg{ev: session.Event{Kind: session.EventDisconnected, Message: "Connection closed", WasConnected: true}})
	assert.Equal(t, "closed", m.statusBar.State)
	assert.Empty(t, m.statusBar.Identifier)
}

func TestUpdateOverlaySendsConfiguration(t *testing.T) {
	m, f := newModel(t)
	m, _ = press(t, m, runeKey("u"))
	assert.Equal(t, OverlayUpdate, m.overlay)
	assert.Equal(t, `{"population":50}`, m.input.Value())

	m.input.SetValue(`{"population": 120, "state": "Utah"}`)
	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Equal(t, OverlayNone, m.overlay)
	assert.Equal(t, 120, m.statusBar.Population)

	assert.Equal(t, commandDoneMsg{name: "update-request"}, cmd())
	pop, ok := f.updated.Population()
	assert.True(t, ok)
	assert.Equal(t, 120, pop)
	state, _ := f.updated.String("state")
	assert.Equal(t, "Utah", state)
}

func TestUpdateOverlayRejectsInvalidJSON(t *testing.T) {
	m, f := newModel(t)
	m, _ = press(t, m, runeKey("u"))
	m.input.SetValue(`[1,2]`)
	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Equal(t, OverlayUpdate, m.overlay)
	assert.True(t, m.lastIsError)
	assert.Empty(t, f.Calls())

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, OverlayNone, m.overlay)
}

func TestOverlaysSwallowCommandKeys(t *testing.T) {
	m, f := newModel(t)
	m, _ = press(t, m, runeKey("d"))
	assert.Equal(t, OverlayDebug, m.overlay)

	_, cmd := press(t, m, runeKey("s"))
	assert.Nil(t, cmd)
	assert.Empty(t, f.Calls())

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	m, _ = press(t, m, runeKey("?"))
	assert.Equal(t, OverlayHelp, m.overlay)
}

func TestView(t *testing.T) {
	m, _ := newModel(t)
	assert.Equal(t, "Initializing...", m.View())

	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 30})
	m = next.(Model)
	v := m.View()
	assert.Contains(t, v, "no request")
	assert.Contains(t, v, "No messages yet")
	assert.Contains(t, v, "c:configure")

	m, _ = press(t, m, runeKey("d"))
	assert.Contains(t, m.View(), "EVENT LOG")
}
