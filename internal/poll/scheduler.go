// Package poll runs the per-test summary polling loop.
package poll

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"

	"github.com/hileamlakB/stress-api-sub000/internal/client"
	"github.com/hileamlakB/stress-api-sub000/internal/logging"
	"github.com/hileamlakB/stress-api-sub000/internal/metrics"
)

const (
	defaultInterval      = 1 * time.Second
	defaultMaxEmptyPolls = 10
)

// Fetcher is the pull channel.
type Fetcher interface {
	FetchSummary(ctx context.Context, testID string) (*client.Summary, error)
}

// Sink receives poll outcomes. Calls for one handle never overlap.
type Sink interface {
	// Snapshot receives every successfully decoded summary.
	Snapshot(h *Handle, sum *client.Summary)
	// NoData follows a snapshot without per-level data while the test is
	// still pending or running. Exhausted is set on the last attempt.
	NoData(h *Handle, attempts int, exhausted bool)
	// NotFound is the final call for an unknown test id.
	NotFound(h *Handle, err error)
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the delay between polls.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithMaxEmptyPolls sets how many consecutive polls without data are
// tolerated before polling stops.
func WithMaxEmptyPolls(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxEmpty = n
		}
	}
}

// WithLogger sets the logger; nil keeps the default.
func WithLogger(logger *log.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records poll outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// Scheduler runs one polling loop per started test.
type Scheduler struct {
	fetcher  Fetcher
	interval time.Duration
	maxEmpty int
	logger   *log.Logger
	metrics  *metrics.Metrics
}

// NewScheduler returns a scheduler fetching summaries through fetcher.
func NewScheduler(fetcher Fetcher, options ...Option) *Scheduler {
	s := &Scheduler{
		fetcher:  fetcher,
		interval: defaultInterval,
		maxEmpty: defaultMaxEmptyPolls,
		logger:   logging.Discard(),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Handle controls one polling loop.
type Handle struct {
	testID string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// TestID returns the polled test id.
func (h *Handle) TestID() string { return h.testID }

// Stop cancels the loop without waiting for it. In-flight fetches are
// abandoned and their results never reach the sink.
func (h *Handle) Stop() { h.cancel() }

// Done is closed once the polling goroutine has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Active reports whether the loop is still scheduled.
func (h *Handle) Active() bool {
	select {
	case <-h.done:
		return false
	default:
		return h.ctx.Err() == nil
	}
}

// Start polls testID immediately and then every interval until a terminal
// snapshot, a not-found response, the empty-poll bound, or Stop.
func (s *Scheduler) Start(testID string, sink Sink) *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		testID: testID,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run(h, sink)
	return h
}

// Stop is Handle.Stop; a nil handle is ignored.
func (s *Scheduler) Stop(h *Handle) {
	if h != nil {
		h.Stop()
	}
}

func (s *Scheduler) run(h *Handle, sink Sink) {
	defer close(h.done)
	defer h.cancel()

	logger := s.logger.With("test_id", h.testID)
	attempts := 0
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-timer.C:
		}

		if s.poll(h, sink, logger, &attempts) {
			logger.Debug("polling finished", "empty_polls", attempts)
			return
		}
		timer.Reset(s.interval)
	}
}

// poll performs one fetch and reports whether polling is over.
func (s *Scheduler) poll(h *Handle, sink Sink, logger *log.Logger, attempts *int) bool {
	start := time.Now()
	sum, err := s.fetcher.FetchSummary(h.ctx, h.testID)
	took := time.Since(start).Seconds()
	if h.ctx.Err() != nil {
		return true
	}

	if err != nil {
		if errors.Is(err, client.ErrNotFound) {
			s.metrics.Poll("not_found", took)
			logger.Warn("test not found", "err", err)
			sink.NotFound(h, err)
			return true
		}
		s.metrics.Poll("error", took)
		logger.Warn("summary poll failed", "err", err)
		return false
	}

	switch {
	case sum.Status.IsTerminal():
		s.metrics.Poll("terminal", took)
		sink.Snapshot(h, sum)
		return true
	case sum.HasData():
		s.metrics.Poll("data", took)
		*attempts = 0
		sink.Snapshot(h, sum)
		return false
	}

	s.metrics.Poll("empty", took)
	*attempts++
	exhausted := *attempts >= s.maxEmpty
	sink.Snapshot(h, sum)
	sink.NoData(h, *attempts, exhausted)
	if exhausted {
		logger.Warn("no metrics after max polls", "attempts", *attempts)
	}
	return exhausted
}
