package aggregator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hileamlakB/stress-api-sub000/internal/client"
	"github.com/hileamlakB/stress-api-sub000/internal/session"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestAggregator() (*Aggregator, *fakeClock, *session.State) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	return New(WithClock(clock.Now)), clock, session.New("t1", clock.t)
}

func level(c int, total int64) client.LevelRecord {
	return client.LevelRecord{Concurrency: c, TotalRequests: total, SuccessfulRequests: total}
}

func TestFinalFetchTriggeredOnce(t *testing.T) {
	a, _, s := newTestAggregator()

	fetches := 0
	for i := 0; i < 5; i++ {
		out := a.ApplySnapshot(s, &client.Summary{Status: client.StatusRunning, ResultsAvailable: true})
		if out.FetchResults {
			fetches++
		}
	}
	out := a.ApplySnapshot(s, &client.Summary{Status: client.StatusCompleted, ResultsAvailable: true})
	if out.FetchResults {
		fetches++
	}
	assert.Equal(t, 1, fetches)
	assert.True(t, s.ResultsRequested)
}

func TestFinalFetchLatchedWhenFlagDisappears(t *testing.T) {
	a, _, s := newTestAggregator()

	require.True(t, a.ApplySnapshot(s, &client.Summary{Status: client.StatusRunning, ResultsAvailable: true}).FetchResults)
	assert.False(t, a.ApplySnapshot(s, &client.Summary{Status: client.StatusRunning}).FetchResults)
	assert.False(t, a.ApplySnapshot(s, &client.Summary{Status: client.StatusCompleted}).FetchResults)
}

func TestFinalFetchOnTerminalStatus(t *testing.T) {
	for _, st := range []client.Status{client.StatusCompleted, client.StatusFailed, client.StatusStopped} {
		t.Run(string(st), func(t *testing.T) {
			a, _, s := newTestAggregator()
			assert.False(t, a.ApplySnapshot(s, &client.Summary{Status: client.StatusRunning}).FetchResults)
			out := a.ApplySnapshot(s, &client.Summary{Status: st})
			assert.True(t, out.FetchResults)
			assert.True(t, out.Terminal)
		})
	}
}

func TestElapsedMonotonicWhileRunningThenFrozen(t *testing.T) {
	a, clock, s := newTestAggregator()
	serverElapsed := 999.0

	a.ApplySnapshot(s, &client.Summary{Status: client.StatusPending})
	assert.Zero(t, s.Elapsed, "pending sessions do not accumulate elapsed time")

	clock.Advance(time.Second)
	a.ApplySnapshot(s, &client.Summary{Status: client.StatusRunning, ElapsedTime: &serverElapsed})
	assert.Equal(t, time.Second, s.Elapsed, "client clock overrides server elapsed")

	prev := s.Elapsed
	for i := 0; i < 5; i++ {
		clock.Advance(700 * time.Millisecond)
		if i%2 == 0 {
			a.ApplyMetrics(s, client.MetricsBatch{})
		} else {
			a.ApplySnapshot(s, &client.Summary{Status: client.StatusRunning})
		}
		assert.GreaterOrEqual(t, s.Elapsed, prev)
		prev = s.Elapsed
	}

	clock.Advance(time.Second)
	a.ApplySnapshot(s, &client.Summary{Status: client.StatusCompleted})
	frozen := s.Elapsed
	assert.True(t, s.ElapsedFinal)
	assert.Equal(t, 5500*time.Millisecond, frozen)

	clock.Advance(time.Hour)
	a.ApplySnapshot(s, &client.Summary{Status: client.StatusCompleted})
	a.ApplyMetrics(s, client.MetricsBatch{})
	a.MarkWaiting(s, 3)
	assert.Equal(t, frozen, s.Elapsed)
}

func TestElapsedIgnoresClockGoingBackwards(t *testing.T) {
	a, clock, s := newTestAggregator()
	clock.Advance(5 * time.Second)
	a.ApplySnapshot(s, &client.Summary{Status: client.StatusRunning})
	clock.Advance(-3 * time.Second)
	a.ApplySnapshot(s, &client.Summary{Status: client.StatusRunning})
	assert.Equal(t, 5*time.Second, s.Elapsed)
}

func TestStatusNeverLeavesTerminal(t *testing.T) {
	a, _, s := newTestAggregator()
	a.ApplySnapshot(s, &client.Summary{Status: client.StatusStopped})
	a.ApplySnapshot(s, &client.Summary{Status: client.StatusRunning})
	a.ApplySnapshot(s, &client.Summary{Status: client.StatusPending})
	assert.Equal(t, client.StatusStopped, s.Status)
}

func TestCompletedRequestsNonDecreasing(t *testing.T) {
	a, _, s := newTestAggregator()
	a.ApplySnapshot(s, &client.Summary{Status: client.StatusRunning, CompletedRequests: 50})

	stale := int64(30)
	a.ApplyMetrics(s, client.MetricsBatch{CompletedRequests: &stale})
	assert.EqualValues(t, 50, s.CompletedRequests)

	fresh := int64(80)
	a.ApplyMetrics(s, client.MetricsBatch{CompletedRequests: &fresh})
	assert.EqualValues(t, 80, s.CompletedRequests)

	a.ApplySnapshot(s, &client.Summary{Status: client.StatusRunning, CompletedRequests: 60})
	assert.EqualValues(t, 80, s.CompletedRequests)
}

func TestLevelLastWriteWinsWithoutRegressingTotal(t *testing.T) {
	a, _, s := newTestAggregator()
	first := level(10, 100)
	first.Endpoints = map[string]client.EndpointResult{"/a": {Endpoint: "/a"}}
	a.ApplySnapshot(s, &client.Summary{Status: client.StatusRunning, Levels: []client.LevelRecord{first, level(20, 5)}})

	replacement := client.LevelRecord{
		Concurrency:        10,
		TotalRequests:      40,
		SuccessfulRequests: 30,
		ResponseTime:       client.ResponseTimeStats{Avg: 12},
		Endpoints:          map[string]client.EndpointResult{"/b": {Endpoint: "/b"}},
	}
	a.ApplySnapshot(s, &client.Summary{Status: client.StatusRunning, Levels: []client.LevelRecord{replacement}})

	got := s.Levels[10]
	assert.EqualValues(t, 100, got.TotalRequests)
	assert.EqualValues(t, 75, got.SuccessfulRequests, "rescaled to the replacement's 75%")
	assert.EqualValues(t, 25, got.FailedRequests)
	assert.Equal(t, 12.0, got.ResponseTime.Avg)
	assert.Contains(t, got.Endpoints, "/b")
	assert.NotContains(t, got.Endpoints, "/a", "records are replaced wholesale")
	assert.Len(t, s.Levels, 2, "levels are never removed")
}

func TestCountlessBatchKeepsLevelCountsConsistent(t *testing.T) {
	a, _, s := newTestAggregator()
	a.ApplySnapshot(s, &client.Summary{Status: client.StatusRunning, Levels: []client.LevelRecord{{
		Concurrency: 10, TotalRequests: 100, SuccessfulRequests: 95, FailedRequests: 5,
	}}})

	a.ApplyMetrics(s, client.MetricsBatch{Metrics: []client.EndpointMetric{
		{Endpoint: "/api/users", ConcurrentRequests: 10, AvgResponseTime: 12, SuccessRate: 95},
	}})

	got := s.Levels[10]
	assert.EqualValues(t, 100, got.TotalRequests)
	assert.EqualValues(t, 95, got.SuccessfulRequests)
	assert.EqualValues(t, 5, got.FailedRequests)
	assert.Equal(t, got.TotalRequests, got.SuccessfulRequests+got.FailedRequests)
	rate, ok := got.SuccessRate()
	assert.True(t, ok)
	assert.InDelta(t, 95.0, rate, 1e-9)
}

func TestCountlessBatchWithoutRateKeepsOldCounts(t *testing.T) {
	a, _, s := newTestAggregator()
	a.ApplySnapshot(s, &client.Summary{Status: client.StatusRunning, Levels: []client.LevelRecord{{
		Concurrency: 10, TotalRequests: 100, SuccessfulRequests: 90, FailedRequests: 10,
	}}})

	a.ApplySnapshot(s, &client.Summary{Status: client.StatusRunning, Levels: []client.LevelRecord{{
		Concurrency: 10, ResponseTime: client.ResponseTimeStats{Avg: 7},
	}}})

	got := s.Levels[10]
	assert.EqualValues(t, 100, got.TotalRequests)
	assert.EqualValues(t, 90, got.SuccessfulRequests)
	assert.EqualValues(t, 10, got.FailedRequests)
	assert.Equal(t, 7.0, got.ResponseTime.Avg)
}

func TestStreamOnlyLevelReportsEndpointRate(t *testing.T) {
	a, _, s := newTestAggregator()
	a.ApplyMetrics(s, client.MetricsBatch{Metrics: []client.EndpointMetric{
		{Endpoint: "/api/users", ConcurrentRequests: 10, SuccessRate: 90},
		{Endpoint: "/api/orders", ConcurrentRequests: 10, SuccessRate: 100},
	}})

	got := s.Levels[10]
	assert.Zero(t, got.TotalRequests)
	rate, ok := got.SuccessRate()
	assert.True(t, ok)
	assert.InDelta(t, 95.0, rate, 1e-9)
}

func TestApplyMetricsBuildsLevelRecords(t *testing.T) {
	a, _, s := newTestAggregator()
	a.ApplyMetrics(s, client.MetricsBatch{Metrics: []client.EndpointMetric{
		{Endpoint: "/api/users", ConcurrentRequests: 10, AvgResponseTime: 10, MinResponseTime: 2, MaxResponseTime: 30, SuccessRate: 95, Requests: 20},
		{Endpoint: "/api/orders", ConcurrentRequests: 10, AvgResponseTime: 40, MinResponseTime: 5, MaxResponseTime: 90, SuccessRate: 50, Requests: 10},
		{Endpoint: "/api/users", ConcurrentRequests: 50, AvgResponseTime: 80, MinResponseTime: 10, MaxResponseTime: 200, SuccessRate: 100},
	}})

	require.Len(t, s.Levels, 2)
	l10 := s.Levels[10]
	assert.EqualValues(t, 30, l10.TotalRequests)
	assert.EqualValues(t, 24, l10.SuccessfulRequests)
	assert.EqualValues(t, 6, l10.FailedRequests)
	assert.InDelta(t, 20.0, l10.ResponseTime.Avg, 1e-9)
	assert.Equal(t, 2.0, l10.ResponseTime.Min)
	assert.Equal(t, 90.0, l10.ResponseTime.Max)
	assert.Len(t, l10.Endpoints, 2)

	l50 := s.Levels[50]
	assert.Equal(t, 80.0, l50.ResponseTime.Avg)
	assert.Equal(t, 100.0, l50.Endpoints["/api/users"].SuccessRate)
}

func TestAuthSessionsAppendOnly(t *testing.T) {
	a, _, s := newTestAggregator()
	alice := client.AuthSession{Account: "alice", Success: true}
	bob := client.AuthSession{Account: "bob", Error: "401"}

	a.ApplySnapshot(s, &client.Summary{Status: client.StatusRunning, AuthSessions: []client.AuthSession{alice}})
	a.ApplySnapshot(s, &client.Summary{Status: client.StatusRunning})
	a.ApplySnapshot(s, &client.Summary{Status: client.StatusRunning, AuthSessions: []client.AuthSession{alice, bob}})

	require.Len(t, s.AuthSessions, 2)
	assert.Equal(t, "bob", s.AuthSessions[1].Account)
}

func TestDataResetsRetryCount(t *testing.T) {
	a, _, s := newTestAggregator()
	a.MarkWaiting(s, 4)
	assert.True(t, s.Waiting)
	assert.Equal(t, 4, s.RetryCount)

	a.ApplySnapshot(s, &client.Summary{Status: client.StatusRunning, Levels: []client.LevelRecord{level(1, 1)}})
	assert.False(t, s.Waiting)
	assert.Zero(t, s.RetryCount)
}

func TestMarkNotFound(t *testing.T) {
	a, _, s := newTestAggregator()
	a.MarkNotFound(s)
	assert.Equal(t, client.StatusFailed, s.Status)
	assert.True(t, s.NotFound)
	assert.True(t, s.ElapsedFinal)
	assert.False(t, a.ApplySnapshot(s, &client.Summary{Status: client.StatusFailed, ResultsAvailable: true}).FetchResults)
}

func TestApplyResultsOnce(t *testing.T) {
	a, _, s := newTestAggregator()
	first := &client.FinalResults{TestID: "t1", Summary: client.ResultSummary{TotalRequests: 70}, Levels: []client.LevelRecord{level(5, 70)}}
	assert.True(t, a.ApplyResults(s, first))
	assert.False(t, a.ApplyResults(s, &client.FinalResults{TestID: "t1"}))
	assert.Same(t, first, s.FinalResults)
	assert.EqualValues(t, 70, s.CompletedRequests)
	assert.EqualValues(t, 70, s.Levels[5].TotalRequests)
}
