// Package app is the Bubble Tea dashboard for one monitored load test. It
// subscribes to the monitor's broadcasts and re-reads the session on every
// event.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/hileamlakB/stress-api-sub000/internal/report"
	"github.com/hileamlakB/stress-api-sub000/internal/session"
	"github.com/hileamlakB/stress-api-sub000/internal/subscription"
	"github.com/hileamlakB/stress-api-sub000/internal/tui/theme"
	"github.com/hileamlakB/stress-api-sub000/internal/tui/views/dashboard"
	"github.com/hileamlakB/stress-api-sub000/internal/tui/views/status"
)

const (
	eventBuffer = 128
	stopTimeout = 10 * time.Second
)

// Monitor is the part of the lifecycle controller the dashboard uses.
type Monitor interface {
	Session(testID string) (*session.State, bool)
	StopTest(ctx context.Context, testID string) error
	Subscribe(testID string, ch subscription.Channel, l subscription.Listener)
	Unsubscribe(testID string, ch subscription.Channel, l subscription.Listener)
}

// bridge is the registry listener that hands events to the Bubble Tea loop.
type bridge struct {
	events chan subscription.Event
	done   chan struct{}
	once   sync.Once
}

func newBridge() *bridge {
	return &bridge{
		events: make(chan subscription.Event, eventBuffer),
		done:   make(chan struct{}),
	}
}

func (b *bridge) Notify(e subscription.Event) {
	select {
	case b.events <- e:
	case <-b.done:
	}
}

func (b *bridge) close() {
	b.once.Do(func() { close(b.done) })
}

// Bubble Tea messages.
type (
	eventMsg        subscription.Event
	stopDoneMsg     struct{ err error }
	bridgeClosedMsg struct{}
)

func waitForEvent(b *bridge) tea.Cmd {
	return func() tea.Msg {
		select {
		case e := <-b.events:
			return eventMsg(e)
		case <-b.done:
			return bridgeClosedMsg{}
		}
	}
}

// Model is the root Bubble Tea model.
type Model struct {
	mon    Monitor
	testID string
	bridge *bridge
	keys   KeyMap

	width  int
	height int

	state      *session.State
	stopping   bool
	report     string
	showReport bool
	notice     string
	noticeErr  bool

	spinner   spinner.Model
	help      help.Model
	statusBar status.Model
	dashboard dashboard.Model
}

// New creates the dashboard for testID and subscribes it to both channels.
// Call Close, or quit the program, to unsubscribe.
func New(mon Monitor, testID string) Model {
	m := Model{
		mon:       mon,
		testID:    testID,
		bridge:    newBridge(),
		keys:      DefaultKeyMap(),
		spinner:   spinner.New(spinner.WithSpinner(spinner.Dot)),
		help:      help.New(),
		statusBar: status.New(testID),
		dashboard: dashboard.New(),
	}
	mon.Subscribe(testID, subscription.Summary, m.bridge)
	mon.Subscribe(testID, subscription.Metrics, m.bridge)
	m.refresh()
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.bridge), m.spinner.Tick)
}

// Close unsubscribes the dashboard. It is safe to call more than once.
func (m Model) Close() {
	m.mon.Unsubscribe(m.testID, subscription.Summary, m.bridge)
	m.mon.Unsubscribe(m.testID, subscription.Metrics, m.bridge)
	m.bridge.close()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		m.dashboard.Width = msg.Width
		m.help.Width = msg.Width
		if m.state != nil && m.state.FinalResults != nil {
			m.renderReport()
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case eventMsg:
		m.handleEvent(subscription.Event(msg))
		return m, waitForEvent(m.bridge)

	case stopDoneMsg:
		m.stopping = false
		if msg.err != nil {
			m.setNotice(fmt.Sprintf("stop failed: %v", msg.err), true)
		} else {
			m.setNotice("stop requested", false)
		}
		return m, nil

	case bridgeClosedMsg:
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.statusBar.Spinner = m.spinner.View()
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.Close()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Escape):
		m.showReport = false

	case key.Matches(msg, m.keys.Report):
		if m.report != "" {
			m.showReport = !m.showReport
		}

	case key.Matches(msg, m.keys.Up):
		m.dashboard.Move(-1)

	case key.Matches(msg, m.keys.Down):
		m.dashboard.Move(1)

	case key.Matches(msg, m.keys.Stop):
		if m.stopping || (m.state != nil && m.state.IsTerminal()) {
			return m, nil
		}
		m.stopping = true
		m.setNotice("stopping...", false)
		return m, m.stopTest()
	}
	return m, nil
}

func (m Model) stopTest() tea.Cmd {
	mon, id := m.mon, m.testID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		return stopDoneMsg{err: mon.StopTest(ctx, id)}
	}
}

func (m *Model) handleEvent(e subscription.Event) {
	m.refresh()
	switch p := e.Payload.(type) {
	case subscription.WaitingPayload:
		m.statusBar.SetWaiting(p.Attempts, p.Exhausted)
		if p.Exhausted {
			m.setNotice("no data received, polling stopped", true)
		}
	case subscription.SummaryPayload:
		if m.state != nil && !m.state.Waiting {
			m.statusBar.SetWaiting(0, false)
		}
	case subscription.NotFoundPayload:
		m.setNotice(fmt.Sprintf("test not found: %v", p.Err), true)
	case subscription.ResultsPayload:
		if p.Err != nil {
			m.setNotice(fmt.Sprintf("final results unavailable: %v", p.Err), true)
			return
		}
		m.renderReport()
		m.setNotice("final results ready, press r", false)
	}
}

// refresh re-reads the session. A session that is no longer monitored
// keeps the last state on screen.
func (m *Model) refresh() {
	st, ok := m.mon.Session(m.testID)
	if !ok {
		return
	}
	m.state = st
	m.statusBar.State = st
	m.dashboard.SetState(st)
}

func (m *Model) renderReport() {
	if m.state == nil {
		return
	}
	out, err := report.Render(m.state, report.WithWordWrap(m.width-4))
	if err != nil {
		m.setNotice(fmt.Sprintf("report: %v", err), true)
		return
	}
	m.report = out
}

func (m *Model) setNotice(s string, isErr bool) {
	m.notice = s
	m.noticeErr = isErr
}

func (m Model) View() string {
	if m.showReport {
		return lipgloss.JoinVertical(lipgloss.Left,
			m.report,
			theme.StyleDimmed.Render("  esc/r back  q quit"),
		)
	}

	sections := []string{
		m.statusBar.View(),
		m.dashboard.View(),
	}
	if m.notice != "" {
		color := theme.ColorAccent
		if m.noticeErr {
			color = theme.ColorDanger
		}
		sections = append(sections, "", lipgloss.NewStyle().Foreground(color).Render("  "+m.notice))
	}
	sections = append(sections, "", "  "+m.help.View(m.keys))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}
