// Package report turns a finished monitor session into a markdown report
// and renders it for the terminal with glamour.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"

	"github.com/hileamlakB/stress-api-sub000/internal/client"
	"github.com/hileamlakB/stress-api-sub000/internal/session"
)

const slowestSamples = 5

type options struct {
	wrap  int
	style string
}

type Option func(*options)

// WithWordWrap sets the wrap width. Values below 40 are raised to 40.
func WithWordWrap(width int) Option {
	return func(o *options) {
		o.wrap = max(40, width)
	}
}

// WithStyle selects a glamour standard style such as "dark" or "notty".
// The default detects the terminal background.
func WithStyle(name string) Option {
	return func(o *options) {
		o.style = name
	}
}

// Render builds the report for st and renders it as styled terminal text.
func Render(st *session.State, opts ...Option) (string, error) {
	o := options{wrap: 100}
	for _, opt := range opts {
		opt(&o)
	}

	styleOpt := glamour.WithAutoStyle()
	if o.style != "" {
		styleOpt = glamour.WithStandardStyle(o.style)
	}
	renderer, err := glamour.NewTermRenderer(styleOpt, glamour.WithWordWrap(o.wrap))
	if err != nil {
		return "", fmt.Errorf("create renderer: %w", err)
	}
	out, err := renderer.Render(Markdown(st))
	if err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return out, nil
}

// Markdown builds the report for st. Final results take precedence over
// the live level records when both are present.
func Markdown(st *session.State) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Load test %s\n\n", st.TestID)
	fmt.Fprintf(&b, "**Status:** %s · **Elapsed:** %s · **Requests:** %s\n\n",
		st.Status, st.Elapsed.Round(100*time.Millisecond), progress(st))
	if st.NotFound {
		b.WriteString("> The server no longer knows this test.\n\n")
	}

	levels := st.SortedLevels()
	res := st.FinalResults
	if res != nil && len(res.Levels) > 0 {
		levels = append([]client.LevelRecord(nil), res.Levels...)
		sort.Slice(levels, func(i, j int) bool { return levels[i].Concurrency < levels[j].Concurrency })
	}

	b.WriteString("## Summary\n\n")
	sum := summarize(res, levels)
	b.WriteString("| Total | Successful | Failed | Success | Avg | Min | Max |\n")
	b.WriteString("|---:|---:|---:|---:|---:|---:|---:|\n")
	fmt.Fprintf(&b, "| %d | %d | %d | %.1f%% | %s | %s | %s |\n\n",
		sum.TotalRequests, sum.SuccessfulRequests, sum.FailedRequests,
		rate(sum.SuccessfulRequests, sum.TotalRequests),
		millis(sum.AvgResponseTime), millis(sum.MinResponseTime), millis(sum.MaxResponseTime))

	if len(levels) > 0 {
		b.WriteString("## Concurrency levels\n\n")
		b.WriteString("| Level | Requests | Failed | Success | Avg | Min | Max |\n")
		b.WriteString("|---:|---:|---:|---:|---:|---:|---:|\n")
		for _, l := range levels {
			pct, _ := l.SuccessRate()
			fmt.Fprintf(&b, "| %d | %d | %d | %.1f%% | %s | %s | %s |\n",
				l.Concurrency, l.TotalRequests, l.FailedRequests, pct,
				millis(l.ResponseTime.Avg), millis(l.ResponseTime.Min), millis(l.ResponseTime.Max))
		}
		b.WriteString("\n")
	}

	if res != nil && len(res.Samples) > 0 {
		samples := append([]client.RequestSample(nil), res.Samples...)
		sort.SliceStable(samples, func(i, j int) bool { return samples[i].ResponseTime > samples[j].ResponseTime })
		if len(samples) > slowestSamples {
			samples = samples[:slowestSamples]
		}
		b.WriteString("## Slowest requests\n\n")
		b.WriteString("| Method | Endpoint | Level | Status | Time |\n")
		b.WriteString("|---|---|---:|---:|---:|\n")
		for _, s := range samples {
			fmt.Fprintf(&b, "| %s | `%s` | %d | %d | %s |\n",
				s.Method, s.Endpoint, s.Concurrency, s.StatusCode, millis(s.ResponseTime))
		}
		b.WriteString("\n")
	}

	if len(st.AuthSessions) > 0 {
		b.WriteString("## Authentication\n\n")
		for _, a := range st.AuthSessions {
			if a.Success {
				fmt.Fprintf(&b, "- `%s` ok\n", a.Account)
			} else {
				fmt.Fprintf(&b, "- `%s` failed: %s\n", a.Account, a.Error)
			}
		}
		b.WriteString("\n")
	}

	if res == nil && st.IsTerminal() {
		b.WriteString("_Final results were not available._\n")
	}
	return b.String()
}

// summarize prefers the server's summary and otherwise derives one from
// the level records.
func summarize(res *client.FinalResults, levels []client.LevelRecord) client.ResultSummary {
	if res != nil && res.Summary.TotalRequests > 0 {
		return res.Summary
	}
	var sum client.ResultSummary
	var weighted float64
	first := true
	for _, l := range levels {
		sum.TotalRequests += l.TotalRequests
		sum.SuccessfulRequests += l.SuccessfulRequests
		sum.FailedRequests += l.FailedRequests
		weighted += l.ResponseTime.Avg * float64(l.TotalRequests)
		if first || l.ResponseTime.Min < sum.MinResponseTime {
			sum.MinResponseTime = l.ResponseTime.Min
		}
		first = false
		sum.MaxResponseTime = max(sum.MaxResponseTime, l.ResponseTime.Max)
	}
	if sum.TotalRequests > 0 {
		sum.AvgResponseTime = weighted / float64(sum.TotalRequests)
	}
	return sum
}

func progress(st *session.State) string {
	if st.TotalRequests > 0 {
		return fmt.Sprintf("%d/%d", st.CompletedRequests, st.TotalRequests)
	}
	return fmt.Sprintf("%d", st.CompletedRequests)
}

func rate(ok, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(ok) * 100 / float64(total)
}

func millis(ms float64) string {
	return fmt.Sprintf("%.1f ms", ms)
}
