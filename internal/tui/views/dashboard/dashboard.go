// Package dashboard renders the aggregate stats row, the overall progress
// bar and the per-level table for one monitored test.
package dashboard

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"github.com/hileamlakB/stress-api-sub000/internal/client"
	"github.com/hileamlakB/stress-api-sub000/internal/session"
	"github.com/hileamlakB/stress-api-sub000/internal/tui/theme"
)

// Model holds the dashboard state.
type Model struct {
	Width    int
	Selected int
	levels   []client.LevelRecord
	state    *session.State
	bar      progress.Model
}

// New creates a dashboard model.
func New() Model {
	return Model{
		bar: progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
	}
}

// SetState replaces the rendered session. The selection is clamped to the
// new level count.
func (m *Model) SetState(st *session.State) {
	m.state = st
	m.levels = nil
	if st != nil {
		m.levels = st.SortedLevels()
	}
	m.clamp()
}

// Levels returns the number of level rows.
func (m Model) Levels() int {
	return len(m.levels)
}

// Move shifts the selected level by delta.
func (m *Model) Move(delta int) {
	m.Selected += delta
	m.clamp()
}

// SelectedLevel returns the highlighted level record.
func (m Model) SelectedLevel() (client.LevelRecord, bool) {
	if m.Selected < 0 || m.Selected >= len(m.levels) {
		return client.LevelRecord{}, false
	}
	return m.levels[m.Selected], true
}

func (m *Model) clamp() {
	if m.Selected >= len(m.levels) {
		m.Selected = len(m.levels) - 1
	}
	if m.Selected < 0 {
		m.Selected = 0
	}
}

// View renders the full dashboard: stats row, progress, levels and the
// selected level's endpoint breakdown.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	sections := []string{m.renderStatsRow(width)}
	if bar := m.renderProgress(width); bar != "" {
		sections = append(sections, bar)
	}
	sections = append(sections, m.renderLevels(width))
	if detail := m.renderEndpoints(); detail != "" {
		sections = append(sections, detail)
	}
	if auth := m.renderAuth(); auth != "" {
		sections = append(sections, auth)
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// totals sums request counts and the request-weighted average latency
// across levels.
func (m Model) totals() (total, ok int64, avg float64) {
	var weighted float64
	for _, l := range m.levels {
		total += l.TotalRequests
		ok += l.SuccessfulRequests
		weighted += l.ResponseTime.Avg * float64(l.TotalRequests)
	}
	if total > 0 {
		avg = weighted / float64(total)
	}
	return total, ok, avg
}

// renderStatsRow shows aggregate counts in a single row.
func (m Model) renderStatsRow(width int) string {
	total, ok, avg := m.totals()
	rate := successRate(ok, total)

	statStyle := lipgloss.NewStyle().Padding(0, 1)
	stats := []string{
		statStyle.Foreground(theme.ColorBright).Render(
			fmt.Sprintf("Levels: %d", len(m.levels))),
		statStyle.Foreground(theme.ColorAccent).Render(
			fmt.Sprintf("Requests: %s", formatCount(total))),
		statStyle.Foreground(theme.SuccessRateColor(rate)).Render(
			fmt.Sprintf("Success: %.1f%%", rate)),
		statStyle.Foreground(theme.ColorDanger).Render(
			fmt.Sprintf("Failed: %s", formatCount(total-ok))),
		statStyle.Foreground(theme.ColorWarning).Render(
			fmt.Sprintf("Avg: %s", formatMillis(avg))),
	}

	content := strings.Join(stats, lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | "))

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}

// renderProgress draws completed over expected requests. Without a known
// total only the counter is shown.
func (m Model) renderProgress(width int) string {
	if m.state == nil || m.state.TotalRequests <= 0 {
		return ""
	}
	frac := float64(m.state.CompletedRequests) / float64(m.state.TotalRequests)
	if frac > 1 {
		frac = 1
	}
	bar := m.bar
	bar.Width = max(10, width-20)
	return fmt.Sprintf("  %s %3.0f%%", bar.ViewAs(frac), frac*100)
}

// Column widths (fixed layout).
const (
	colLevel    = 8
	colRequests = 10
	colFailed   = 8
	colRate     = 18
	colAvg      = 10
	colMin      = 10
	colMax      = 10
)

// renderLevels renders one row per concurrency level.
func (m Model) renderLevels(width int) string {
	header := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorBright).
		Render("  Concurrency levels")

	if len(m.levels) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left,
			header,
			theme.StyleDimmed.Render("  No level data yet"),
		)
	}

	dimStyle := lipgloss.NewStyle().Foreground(theme.ColorDimmed)
	brightStyle := lipgloss.NewStyle().Foreground(theme.ColorBright).Bold(true)

	tableHeader := fmt.Sprintf("  %-*s %*s %*s %-*s %*s %*s %*s",
		colLevel, "Level",
		colRequests, "Requests",
		colFailed, "Failed",
		colRate, "Success",
		colAvg, "Avg",
		colMin, "Min",
		colMax, "Max",
	)
	lines := []string{
		header,
		dimStyle.Render(tableHeader),
		dimStyle.Render("  " + strings.Repeat("─", min(width-4, colLevel+colRequests+colFailed+colRate+colAvg+colMin+colMax+6))),
	}

	for i, l := range m.levels {
		marker := "  "
		levelStyle := brightStyle
		if i == m.Selected {
			marker = theme.StyleSelected.Render("▸ ")
			levelStyle = theme.StyleSelected
		}

		levelStr := levelStyle.Width(colLevel).Render(fmt.Sprintf("c=%d", l.Concurrency))
		reqStr := brightStyle.Width(colRequests).Align(lipgloss.Right).
			Render(formatCount(l.TotalRequests))
		failStr := lipgloss.NewStyle().Foreground(theme.ColorDanger).Width(colFailed).Align(lipgloss.Right).
			Render(formatCount(l.FailedRequests))
		rateStr := lipgloss.NewStyle().Width(colRate).
			Render(renderRateBar(levelRate(l), colRate-1))
		avgStr := dimStyle.Width(colAvg).Align(lipgloss.Right).Render(formatMillis(l.ResponseTime.Avg))
		minStr := dimStyle.Width(colMin).Align(lipgloss.Right).Render(formatMillis(l.ResponseTime.Min))
		maxStr := dimStyle.Width(colMax).Align(lipgloss.Right).Render(formatMillis(l.ResponseTime.Max))

		lines = append(lines, fmt.Sprintf("%s%s %s %s %s %s %s %s",
			marker, levelStr, reqStr, failStr, rateStr, avgStr, minStr, maxStr))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// renderEndpoints lists the endpoint breakdown of the selected level.
func (m Model) renderEndpoints() string {
	l, ok := m.SelectedLevel()
	if !ok || len(l.Endpoints) == 0 {
		return ""
	}

	paths := make([]string, 0, len(l.Endpoints))
	for p := range l.Endpoints {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	lines := []string{
		"",
		theme.StyleHeader.Render(fmt.Sprintf("  Endpoints at c=%d", l.Concurrency)),
	}
	for _, p := range paths {
		e := l.Endpoints[p]
		rate := lipgloss.NewStyle().Foreground(theme.SuccessRateColor(e.SuccessRate)).
			Render(fmt.Sprintf("%5.1f%%", e.SuccessRate))
		lines = append(lines, fmt.Sprintf("    %-28s %8s req  %s  avg %s",
			truncate(p, 28), formatCount(e.TotalRequests), rate, formatMillis(e.ResponseTime.Avg)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// renderAuth summarises multi-account authentication.
func (m Model) renderAuth() string {
	if m.state == nil || len(m.state.AuthSessions) == 0 {
		return ""
	}
	var ok int
	var failed []string
	for _, a := range m.state.AuthSessions {
		if a.Success {
			ok++
		} else {
			failed = append(failed, a.Account)
		}
	}
	line := fmt.Sprintf("  Auth: %d/%d accounts", ok, len(m.state.AuthSessions))
	if len(failed) > 0 {
		line += lipgloss.NewStyle().Foreground(theme.ColorDanger).
			Render("  failed: " + strings.Join(failed, ", "))
	}
	return "\n" + line
}

// renderRateBar draws a small bar for a success percentage in [0,100].
func renderRateBar(pct float64, barWidth int) string {
	if barWidth < 8 {
		barWidth = 8
	}

	// Reserve space for percentage label (e.g. " 100%").
	labelWidth := 5
	fillWidth := barWidth - labelWidth
	if fillWidth < 3 {
		fillWidth = 3
	}

	filled := max(0, min(int(pct/100*float64(fillWidth)), fillWidth))
	empty := fillWidth - filled

	color := theme.SuccessRateColor(pct)
	bar := lipgloss.NewStyle().Foreground(color).Render(strings.Repeat("█", filled))
	bar += lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(strings.Repeat("░", empty))
	label := fmt.Sprintf(" %3.0f%%", pct)

	return bar + lipgloss.NewStyle().Foreground(color).Render(label)
}

// levelRate is zero for a level that carries no rate at all.
func levelRate(l client.LevelRecord) float64 {
	rate, _ := l.SuccessRate()
	return rate
}

func successRate(ok, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(ok) * 100 / float64(total)
}

// formatMillis renders a latency in milliseconds, switching to seconds at 1s.
func formatMillis(ms float64) string {
	if ms >= 1000 {
		return fmt.Sprintf("%.2fs", ms/1000)
	}
	return fmt.Sprintf("%.1fms", ms)
}

// formatCount formats large numbers with K/M suffixes.
func formatCount(n int64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
