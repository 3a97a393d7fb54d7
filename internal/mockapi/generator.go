package mockapi

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/hileamlakB/stress-api-sub000/internal/client"
)

const maxSamples = 50

type endpointStats struct {
	method    string
	requests  int64
	successes int64
	sumRT     float64
	minRT     float64
	maxRT     float64
}

func (e *endpointStats) record(rt float64, ok bool) {
	if e.requests == 0 || rt < e.minRT {
		e.minRT = rt
	}
	if rt > e.maxRT {
		e.maxRT = rt
	}
	e.requests++
	e.sumRT += rt
	if ok {
		e.successes++
	}
}

func (e *endpointStats) avg() float64 {
	if e.requests == 0 {
		return 0
	}
	return e.sumRT / float64(e.requests)
}

func (e *endpointStats) successRate() float64 {
	if e.requests == 0 {
		return 0
	}
	return float64(e.successes) * 100 / float64(e.requests)
}

type levelStats struct {
	concurrency int
	paths       []string
	endpoints   map[string]*endpointStats
}

func (l *levelStats) total() int64 {
	var n int64
	for _, e := range l.endpoints {
		n += e.requests
	}
	return n
}

func (l *levelStats) record() client.LevelRecord {
	rec := client.LevelRecord{
		Concurrency: l.concurrency,
		Endpoints:   make(map[string]client.EndpointResult, len(l.endpoints)),
	}
	var sum float64
	first := true
	for _, path := range l.paths {
		e := l.endpoints[path]
		if e.requests == 0 {
			continue
		}
		rec.TotalRequests += e.requests
		rec.SuccessfulRequests += e.successes
		sum += e.sumRT
		if first || e.minRT < rec.ResponseTime.Min {
			rec.ResponseTime.Min = e.minRT
		}
		first = false
		rec.ResponseTime.Max = math.Max(rec.ResponseTime.Max, e.maxRT)
		rec.Endpoints[path] = client.EndpointResult{
			Endpoint:           path,
			TotalRequests:      e.requests,
			SuccessfulRequests: e.successes,
			SuccessRate:        e.successRate(),
			ResponseTime:       client.ResponseTimeStats{Avg: e.avg(), Min: e.minRT, Max: e.maxRT},
		}
	}
	rec.FailedRequests = rec.TotalRequests - rec.SuccessfulRequests
	if rec.TotalRequests > 0 {
		rec.ResponseTime.Avg = sum / float64(rec.TotalRequests)
	}
	return rec
}

// mockRun simulates one submitted load test. Levels run in order; each
// level finishes once it has issued RequestsPerLevel requests.
type mockRun struct {
	mu         sync.Mutex
	id         string
	cfg        client.TestConfig
	status     client.Status
	startedAt  time.Time
	finishedAt time.Time
	levelIdx   int
	levels     []*levelStats
	completed  int64
	auth       []client.AuthSession
	samples    []client.RequestSample
	seq        uint64
	rng        *rand.Rand
	cancel     context.CancelFunc
}

func newMockRun(id string, cfg client.TestConfig, now time.Time, seed int64) *mockRun {
	r := &mockRun{
		id:        id,
		cfg:       cfg,
		status:    client.StatusPending,
		startedAt: now,
		rng:       rand.New(rand.NewSource(seed)),
		cancel:    func() {},
	}
	for _, c := range cfg.ConcurrencyLevels {
		ls := &levelStats{concurrency: c, endpoints: make(map[string]*endpointStats)}
		for _, ep := range cfg.Endpoints {
			if _, ok := ls.endpoints[ep.Path]; ok {
				continue
			}
			ls.paths = append(ls.paths, ep.Path)
			ls.endpoints[ep.Path] = &endpointStats{method: strings.ToUpper(ep.Method)}
		}
		r.levels = append(r.levels, ls)
	}
	return r
}

func (r *mockRun) totalRequests() int64 {
	return int64(len(r.levels)) * int64(r.cfg.RequestsPerLevel)
}

// advance moves the simulation one tick forward, issuing up to perTick
// requests, and returns the frame to push with its sequence number. It
// returns false when nothing was issued.
func (r *mockRun) advance(now time.Time, perTick int) (client.MetricsPayload, uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.status == client.StatusPending:
		r.status = client.StatusRunning
		r.authenticate(now)
		return client.MetricsPayload{}, 0, false
	case r.status.IsTerminal():
		return client.MetricsPayload{}, 0, false
	}

	ls := r.levels[r.levelIdx]
	n := int64(perTick)
	if remaining := int64(r.cfg.RequestsPerLevel) - ls.total(); remaining < n {
		n = remaining
	}
	for i := int64(0); i < n; i++ {
		path := ls.paths[int(ls.total())%len(ls.paths)]
		r.issue(now, ls, path)
	}
	r.completed += n

	completed := r.completed
	payload := client.MetricsPayload{CompletedRequests: &completed}
	for _, path := range ls.paths {
		e := ls.endpoints[path]
		if e.requests == 0 {
			continue
		}
		payload.Metrics = append(payload.Metrics, client.EndpointMetric{
			Endpoint:           path,
			ConcurrentRequests: ls.concurrency,
			AvgResponseTime:    e.avg(),
			MinResponseTime:    e.minRT,
			MaxResponseTime:    e.maxRT,
			SuccessRate:        e.successRate(),
			Requests:           e.requests,
		})
	}

	if ls.total() >= int64(r.cfg.RequestsPerLevel) {
		r.levelIdx++
		if r.levelIdx == len(r.levels) {
			r.finish(client.StatusCompleted, now)
		}
	}
	r.seq++
	return payload, r.seq, len(payload.Metrics) > 0
}

// issue simulates one request. Latency and failures grow with concurrency.
func (r *mockRun) issue(now time.Time, ls *levelStats, path string) {
	e := ls.endpoints[path]
	base := 15 + float64(ls.concurrency)*0.8
	rt := math.Round((base+r.rng.Float64()*base*0.6)*100) / 100
	failPct := math.Min(float64(ls.concurrency)/25, 20)
	ok := r.rng.Float64()*100 >= failPct
	e.record(rt, ok)

	if len(r.samples) < maxSamples {
		code := 200
		if !ok {
			code = 503
		}
		r.samples = append(r.samples, client.RequestSample{
			Endpoint:     path,
			Method:       e.method,
			Concurrency:  ls.concurrency,
			StatusCode:   code,
			ResponseTime: rt,
			Success:      ok,
			Timestamp:    now,
		})
	}
}

func (r *mockRun) authenticate(now time.Time) {
	if !r.cfg.MultiAccount() {
		return
	}
	for _, acct := range r.cfg.Auth.Accounts {
		s := client.AuthSession{Account: acct.Username, AuthenticatedAt: now, Success: acct.Password != ""}
		if !s.Success {
			s.Error = "invalid credentials"
		}
		r.auth = append(r.auth, s)
	}
}

func (r *mockRun) finish(status client.Status, now time.Time) {
	r.status = status
	r.finishedAt = now
}

// stop ends a test that has not finished yet. It reports whether the
// status changed.
func (r *mockRun) stop(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.IsTerminal() {
		return false
	}
	r.finish(client.StatusStopped, now)
	return true
}

func (r *mockRun) terminal() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status.IsTerminal()
}

func (r *mockRun) elapsed(now time.Time) float64 {
	end := now
	if !r.finishedAt.IsZero() {
		end = r.finishedAt
	}
	return end.Sub(r.startedAt).Seconds()
}

func (r *mockRun) levelRecords() []client.LevelRecord {
	var out []client.LevelRecord
	for _, ls := range r.levels {
		if ls.total() > 0 {
			out = append(out, ls.record())
		}
	}
	return out
}

func (r *mockRun) summary(now time.Time) *client.Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	elapsed := r.elapsed(now)
	return &client.Summary{
		TestID:            r.id,
		Status:            r.status,
		ElapsedTime:       &elapsed,
		CompletedRequests: r.completed,
		TotalRequests:     r.totalRequests(),
		Levels:            r.levelRecords(),
		AuthSessions:      append([]client.AuthSession(nil), r.auth...),
		ResultsAvailable:  r.status.IsTerminal(),
	}
}

// results returns the final results, or false while the test is running.
func (r *mockRun) results(now time.Time) (*client.FinalResults, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.status.IsTerminal() {
		return nil, false
	}

	res := &client.FinalResults{
		TestID:  r.id,
		Status:  r.status,
		Levels:  r.levelRecords(),
		Samples: append([]client.RequestSample(nil), r.samples...),
	}
	var sum float64
	first := true
	for _, l := range res.Levels {
		res.Summary.TotalRequests += l.TotalRequests
		res.Summary.SuccessfulRequests += l.SuccessfulRequests
		sum += l.ResponseTime.Avg * float64(l.TotalRequests)
		if first || l.ResponseTime.Min < res.Summary.MinResponseTime {
			res.Summary.MinResponseTime = l.ResponseTime.Min
		}
		first = false
		res.Summary.MaxResponseTime = math.Max(res.Summary.MaxResponseTime, l.ResponseTime.Max)
	}
	res.Summary.FailedRequests = res.Summary.TotalRequests - res.Summary.SuccessfulRequests
	if res.Summary.TotalRequests > 0 {
		res.Summary.AvgResponseTime = sum / float64(res.Summary.TotalRequests)
	}
	res.Summary.ElapsedSeconds = r.elapsed(now)
	return res, true
}
