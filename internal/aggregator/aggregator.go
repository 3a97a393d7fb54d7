// Package aggregator reconciles poll snapshots and streamed metric batches
// into a session and decides when the final results are fetched.
package aggregator

import (
	"math"
	"time"

	"github.com/charmbracelet/log"

	"github.com/hileamlakB/stress-api-sub000/internal/client"
	"github.com/hileamlakB/stress-api-sub000/internal/logging"
	"github.com/hileamlakB/stress-api-sub000/internal/session"
)

// Option customizes an Aggregator.
type Option func(*Aggregator)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// Aggregator is stateless apart from its clock; all per-test state lives
// in the session it is handed. Callers serialize access to a session.
type Aggregator struct {
	now    func() time.Time
	logger *log.Logger
}

// New returns an aggregator using the real clock unless WithClock is given.
func New(options ...Option) *Aggregator {
	a := &Aggregator{
		now:    time.Now,
		logger: logging.Discard(),
	}
	for _, option := range options {
		option(a)
	}
	return a
}

// Now returns the aggregator's current time.
func (a *Aggregator) Now() time.Time {
	return a.now()
}

// Outcome tells the caller what an update requires next.
type Outcome struct {
	// FetchResults is set exactly once per session: on the first update that
	// reaches a terminal status or flags results as available.
	FetchResults bool
	// Terminal is set on the update that moved the session into a terminal status.
	Terminal bool
}

// ApplySnapshot merges a poll snapshot into s.
func (a *Aggregator) ApplySnapshot(s *session.State, sum *client.Summary) Outcome {
	var out Outcome
	now := a.now()

	a.tick(s, now)
	if sum.Status != s.Status {
		prev := s.Status
		if s.Transition(sum.Status) {
			a.logger.Debug("status transition", "test_id", s.TestID, "from", prev, "to", s.Status)
			if s.IsTerminal() {
				a.freeze(s, now)
				out.Terminal = true
			} else {
				a.tick(s, now)
			}
		}
	}

	if sum.CompletedRequests > s.CompletedRequests {
		s.CompletedRequests = sum.CompletedRequests
	}
	if sum.TotalRequests > s.TotalRequests {
		s.TotalRequests = sum.TotalRequests
	}
	for _, r := range sum.Levels {
		mergeLevel(s, r)
	}
	if n := len(s.AuthSessions); len(sum.AuthSessions) > n {
		s.AuthSessions = append(s.AuthSessions, sum.AuthSessions[n:]...)
	}
	if sum.HasData() {
		s.RetryCount = 0
		s.Waiting = false
	}

	if !s.ResultsRequested && (s.IsTerminal() || sum.ResultsAvailable) {
		s.ResultsRequested = true
		out.FetchResults = true
	}
	s.UpdatedAt = now
	return out
}

// ApplyMetrics merges a streamed batch into s. Records are grouped by
// concurrency level and each level replaces the stored one.
func (a *Aggregator) ApplyMetrics(s *session.State, batch client.MetricsBatch) {
	now := a.now()
	a.tick(s, now)

	if batch.CompletedRequests != nil && *batch.CompletedRequests > s.CompletedRequests {
		s.CompletedRequests = *batch.CompletedRequests
	}
	for _, r := range LevelsFromMetrics(batch.Metrics) {
		mergeLevel(s, r)
	}
	s.UpdatedAt = now
}

// ApplyResults stores the final results. It reports false if results were
// already stored.
func (a *Aggregator) ApplyResults(s *session.State, res *client.FinalResults) bool {
	if s.FinalResults != nil || res == nil {
		return false
	}
	s.FinalResults = res
	for _, r := range res.Levels {
		mergeLevel(s, r)
	}
	if res.Summary.TotalRequests > s.CompletedRequests {
		s.CompletedRequests = res.Summary.TotalRequests
	}
	s.UpdatedAt = a.now()
	return true
}

// MarkWaiting records consecutive polls without per-level data.
func (a *Aggregator) MarkWaiting(s *session.State, attempts int) {
	now := a.now()
	a.tick(s, now)
	s.RetryCount = attempts
	s.Waiting = true
	s.UpdatedAt = now
}

// MarkNotFound fails the session for an unknown test id. The final-results
// trigger is disarmed since there is nothing to fetch.
func (a *Aggregator) MarkNotFound(s *session.State) {
	now := a.now()
	a.tick(s, now)
	if s.Transition(client.StatusFailed) {
		a.freeze(s, now)
	}
	s.NotFound = true
	s.ResultsRequested = true
	s.UpdatedAt = now
}

// tick recomputes elapsed time while running. Elapsed never decreases.
func (a *Aggregator) tick(s *session.State, now time.Time) {
	if s.Status != client.StatusRunning || s.ElapsedFinal {
		return
	}
	if d := now.Sub(s.StartedAt); d > s.Elapsed {
		s.Elapsed = d
	}
}

func (a *Aggregator) freeze(s *session.State, now time.Time) {
	if s.ElapsedFinal {
		return
	}
	if d := now.Sub(s.StartedAt); d > s.Elapsed {
		s.Elapsed = d
	}
	s.ElapsedFinal = true
}

// mergeLevel replaces the record for r's level; TotalRequests never regresses.
// When the previous total is kept, the successful and failed counts are
// rescaled to r's success rate so they still add up to the total.
func mergeLevel(s *session.State, r client.LevelRecord) {
	if r.Concurrency <= 0 {
		return
	}
	r = r.Clone()
	if old, ok := s.Levels[r.Concurrency]; ok && old.TotalRequests > r.TotalRequests {
		r.TotalRequests = old.TotalRequests
		if rate, ok := r.SuccessRate(); ok {
			r.SuccessfulRequests = int64(math.Round(float64(r.TotalRequests) * rate / 100))
		} else {
			r.SuccessfulRequests = old.SuccessfulRequests
		}
		r.FailedRequests = r.TotalRequests - r.SuccessfulRequests
	}
	s.Levels[r.Concurrency] = r
}

// LevelsFromMetrics folds streamed endpoint records into one record per
// concurrency level. Response-time averages are weighted by request count
// when counts are present.
func LevelsFromMetrics(metrics []client.EndpointMetric) []client.LevelRecord {
	byLevel := make(map[int]*client.LevelRecord)
	weights := make(map[int]float64)
	var order []int

	for _, m := range metrics {
		rec, ok := byLevel[m.ConcurrentRequests]
		if !ok {
			rec = &client.LevelRecord{
				Concurrency:  m.ConcurrentRequests,
				Endpoints:    make(map[string]client.EndpointResult),
				ResponseTime: client.ResponseTimeStats{Min: math.Inf(1)},
			}
			byLevel[m.ConcurrentRequests] = rec
			order = append(order, m.ConcurrentRequests)
		}

		successful := int64(math.Round(float64(m.Requests) * m.SuccessRate / 100))
		rec.Endpoints[m.Endpoint] = client.EndpointResult{
			Endpoint:           m.Endpoint,
			TotalRequests:      m.Requests,
			SuccessfulRequests: successful,
			SuccessRate:        m.SuccessRate,
			ResponseTime: client.ResponseTimeStats{
				Avg: m.AvgResponseTime,
				Min: m.MinResponseTime,
				Max: m.MaxResponseTime,
			},
		}
		rec.TotalRequests += m.Requests
		rec.SuccessfulRequests += successful

		w := float64(m.Requests)
		if w == 0 {
			w = 1
		}
		rec.ResponseTime.Avg += m.AvgResponseTime * w
		weights[m.ConcurrentRequests] += w
		rec.ResponseTime.Min = math.Min(rec.ResponseTime.Min, m.MinResponseTime)
		rec.ResponseTime.Max = math.Max(rec.ResponseTime.Max, m.MaxResponseTime)
	}

	out := make([]client.LevelRecord, 0, len(order))
	for _, level := range order {
		rec := byLevel[level]
		rec.ResponseTime.Avg /= weights[level]
		rec.FailedRequests = rec.TotalRequests - rec.SuccessfulRequests
		out = append(out, *rec)
	}
	return out
}
