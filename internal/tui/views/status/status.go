package status

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/hileamlakB/stress-api-sub000/internal/session"
	"github.com/hileamlakB/stress-api-sub000/internal/tui/theme"
)

// Model holds the status bar state.
type Model struct {
	TestID       string
	State        *session.State
	WaitAttempts int
	Exhausted    bool
	Spinner      string
	Width        int
}

// New creates a status bar model for testID.
func New(testID string) Model {
	return Model{TestID: testID}
}

// SetWaiting records the latest no-data notice.
func (m *Model) SetWaiting(attempts int, exhausted bool) {
	m.WaitAttempts = attempts
	m.Exhausted = exhausted
}

// View renders the status bar.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}
	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")

	if m.State == nil {
		content := lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("○ Connecting...") +
			sep + theme.StyleDimmed.Render(m.TestID)
		return m.frame(width, content)
	}

	st := m.State
	color := theme.StatusColor(st.Status)
	statusStr := lipgloss.NewStyle().Foreground(color).Bold(true).
		Render(fmt.Sprintf("%s %s", theme.StatusGlyph(st.Status), st.Status))
	if m.Spinner != "" && !st.IsTerminal() {
		statusStr = m.Spinner + " " + statusStr
	}

	elapsed := formatElapsed(st.Elapsed)
	if st.ElapsedFinal {
		elapsed += " (final)"
	}

	progress := fmt.Sprintf("%d requests", st.CompletedRequests)
	if st.TotalRequests > 0 {
		progress = fmt.Sprintf("%d/%d requests", st.CompletedRequests, st.TotalRequests)
	}

	content := statusStr + sep +
		theme.StyleHeader.Render(st.TestID) + sep +
		elapsed + sep +
		progress

	switch {
	case st.NotFound:
		content += sep + lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("test not found")
	case m.Exhausted:
		content += sep + lipgloss.NewStyle().Foreground(theme.ColorDanger).
			Render(fmt.Sprintf("no data after %d polls", m.WaitAttempts))
	case st.Waiting:
		content += sep + lipgloss.NewStyle().Foreground(theme.ColorWarning).
			Render(fmt.Sprintf("waiting for data (%d)", m.WaitAttempts))
	}
	return m.frame(width, content)
}

func (m Model) frame(width int, content string) string {
	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}

// formatElapsed renders d as m:ss, or h:mm:ss past an hour.
func formatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d/time.Minute) % 60
	s := int(d/time.Second) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
