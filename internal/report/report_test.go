package report

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hileamlakB/stress-api-sub000/internal/client"
	"github.com/hileamlakB/stress-api-sub000/internal/session"
)

func finishedState() *session.State {
	st := session.New("t1", time.Now())
	st.Status = client.StatusCompleted
	st.Elapsed = 4 * time.Second
	st.ElapsedFinal = true
	st.CompletedRequests = 40
	st.TotalRequests = 40
	st.Levels[1] = client.LevelRecord{Concurrency: 1, TotalRequests: 20, SuccessfulRequests: 20,
		ResponseTime: client.ResponseTimeStats{Avg: 10, Min: 8, Max: 12}}
	st.Levels[10] = client.LevelRecord{Concurrency: 10, TotalRequests: 20, SuccessfulRequests: 18, FailedRequests: 2,
		ResponseTime: client.ResponseTimeStats{Avg: 30, Min: 20, Max: 60}}
	st.AuthSessions = []client.AuthSession{
		{Account: "alice", Success: true},
		{Account: "bob", Error: "invalid credentials"},
	}
	return st
}

func TestMarkdownFromLevelsWithoutResults(t *testing.T) {
	md := Markdown(finishedState())

	assert.Contains(t, md, "# Load test t1")
	assert.Contains(t, md, "**Requests:** 40/40")
	// 40 total, 38 ok, avg (10*20+30*20)/40 = 20
	assert.Contains(t, md, "| 40 | 38 | 2 | 95.0% | 20.0 ms | 8.0 ms | 60.0 ms |")
	assert.Contains(t, md, "| 10 | 20 | 2 | 90.0% | 30.0 ms | 20.0 ms | 60.0 ms |")
	assert.Contains(t, md, "- `bob` failed: invalid credentials")
	assert.Contains(t, md, "Final results were not available")
	assert.Less(t, strings.Index(md, "| 1 | 20 |"), strings.Index(md, "| 10 | 20 |"), "levels sorted by concurrency")
}

func TestMarkdownPrefersFinalResults(t *testing.T) {
	st := finishedState()
	st.FinalResults = &client.FinalResults{
		TestID: "t1",
		Status: client.StatusCompleted,
		Summary: client.ResultSummary{TotalRequests: 42, SuccessfulRequests: 42,
			AvgResponseTime: 11, MinResponseTime: 1, MaxResponseTime: 99},
		Levels: []client.LevelRecord{{Concurrency: 5, TotalRequests: 42, SuccessfulRequests: 42}},
		Samples: []client.RequestSample{
			{Endpoint: "/fast", Method: "GET", Concurrency: 5, StatusCode: 200, ResponseTime: 1},
			{Endpoint: "/slow", Method: "POST", Concurrency: 5, StatusCode: 503, ResponseTime: 99},
		},
	}
	md := Markdown(st)

	assert.Contains(t, md, "| 42 | 42 | 0 | 100.0% | 11.0 ms | 1.0 ms | 99.0 ms |")
	assert.Contains(t, md, "| 5 | 42 |")
	assert.NotContains(t, md, "| 10 | 20 |")
	assert.Less(t, strings.Index(md, "`/slow`"), strings.Index(md, "`/fast`"), "slowest first")
	assert.NotContains(t, md, "Final results were not available")
}

func TestMarkdownNotFound(t *testing.T) {
	st := session.New("gone", time.Now())
	st.Status = client.StatusFailed
	st.NotFound = true
	md := Markdown(st)
	assert.Contains(t, md, "no longer knows this test")
	assert.NotContains(t, md, "## Concurrency levels")
}

func TestRender(t *testing.T) {
	out, err := Render(finishedState(), WithStyle("notty"), WithWordWrap(80))
	require.NoError(t, err)
	assert.Contains(t, out, "Load test t1")
	assert.Contains(t, out, "alice")
}
