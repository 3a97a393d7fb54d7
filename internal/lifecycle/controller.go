// Package lifecycle wires the push and pull channels of each monitored test
// into one session and tears them down again.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/hileamlakB/stress-api-sub000/internal/aggregator"
	"github.com/hileamlakB/stress-api-sub000/internal/client"
	"github.com/hileamlakB/stress-api-sub000/internal/logging"
	"github.com/hileamlakB/stress-api-sub000/internal/metrics"
	"github.com/hileamlakB/stress-api-sub000/internal/poll"
	"github.com/hileamlakB/stress-api-sub000/internal/session"
	"github.com/hileamlakB/stress-api-sub000/internal/stream"
	"github.com/hileamlakB/stress-api-sub000/internal/subscription"
)

var (
	ErrClosed      = errors.New("controller closed")
	ErrEmptyTestID = errors.New("empty test id")
)

const inboxSize = 64

// API is the remote load-test service.
type API interface {
	SubmitTest(ctx context.Context, cfg client.TestConfig) (client.SubmitResponse, error)
	FetchSummary(ctx context.Context, testID string) (*client.Summary, error)
	FetchFinalResults(ctx context.Context, testID string) (*client.FinalResults, error)
	StopTest(ctx context.Context, testID string) error
}

// Option configures a Controller.
type Option func(*Controller)

// WithStream enables the push channel. Without it sessions are fed by
// polling alone.
func WithStream(m *stream.Manager) Option {
	return func(c *Controller) {
		c.streams = m
	}
}

// WithPolling overrides the poll interval and the empty-poll bound.
func WithPolling(interval time.Duration, maxEmptyPolls int) Option {
	return func(c *Controller) {
		c.pollOpts = append(c.pollOpts, poll.WithInterval(interval), poll.WithMaxEmptyPolls(maxEmptyPolls))
	}
}

// WithClock sets the clock used for elapsed time.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.aggOpts = append(c.aggOpts, aggregator.WithClock(now))
	}
}

// WithLogger sets the controller logger; nil keeps the discarding default.
func WithLogger(logger *log.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records session and final-fetch metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// Controller owns every monitored session. At most one monitor runs per
// test id.
type Controller struct {
	api      API
	registry *subscription.Registry
	streams  *stream.Manager
	poller   *poll.Scheduler
	agg      *aggregator.Aggregator
	store    *session.Store
	logger   *log.Logger
	metrics  *metrics.Metrics

	pollOpts []poll.Option
	aggOpts  []aggregator.Option

	mu       sync.Mutex
	monitors map[string]*monitor
	closed   bool
}

// NewController creates a controller broadcasting through registry.
func NewController(api API, registry *subscription.Registry, options ...Option) *Controller {
	c := &Controller{
		api:      api,
		registry: registry,
		store:    session.NewStore(),
		logger:   logging.Discard(),
		monitors: make(map[string]*monitor),
	}
	for _, option := range options {
		option(c)
	}
	if c.registry == nil {
		c.registry = subscription.NewRegistry(subscription.WithLogger(c.logger), subscription.WithMetrics(c.metrics))
	}
	c.agg = aggregator.New(append([]aggregator.Option{aggregator.WithLogger(c.logger)}, c.aggOpts...)...)
	c.poller = poll.NewScheduler(api, append([]poll.Option{
		poll.WithLogger(c.logger.WithPrefix("poll")),
		poll.WithMetrics(c.metrics),
	}, c.pollOpts...)...)
	return c
}

// Registry returns the registry used for broadcasts.
func (c *Controller) Registry() *subscription.Registry {
	return c.registry
}

// StartTest submits cfg and starts monitoring the returned test id.
// Submission is not retried.
func (c *Controller) StartTest(ctx context.Context, cfg client.TestConfig) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", fmt.Errorf("invalid test config: %w", err)
	}
	if c.isClosed() {
		return "", ErrClosed
	}

	resp, err := c.api.SubmitTest(ctx, cfg)
	if err != nil {
		return "", fmt.Errorf("submit test: %w", err)
	}
	if resp.TestID == "" {
		return "", fmt.Errorf("submit test: %w", ErrEmptyTestID)
	}
	c.logger.Info("test submitted", "test_id", resp.TestID, "status", resp.Status)

	if _, err := c.StartMonitoring(resp.TestID); err != nil {
		return "", err
	}
	return resp.TestID, nil
}

// StartMonitoring opens the push and pull channels for testID. An id that is
// already monitored keeps its existing session, which is returned.
func (c *Controller) StartMonitoring(testID string) (*session.State, error) {
	if testID == "" {
		return nil, ErrEmptyTestID
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if _, ok := c.monitors[testID]; ok {
		st, _ := c.store.Get(testID)
		return st, nil
	}

	st := session.New(testID, c.agg.Now())
	c.store.Add(st)
	snapshot := st.Clone()

	m := c.newMonitor(st)
	if c.streams != nil {
		m.stream = c.streams.Open(testID, m.deliverBatch)
	}
	m.poll = c.poller.Start(testID, m)
	c.monitors[testID] = m
	go c.run(m)

	c.metrics.SetActiveSessions(c.store.ActiveCount())
	c.logger.Info("monitoring started", "test_id", testID, "push", m.stream != nil)
	return snapshot, nil
}

// StopMonitoring closes both channels and discards the session. It does not
// wait for in-flight work: anything arriving afterwards is dropped, even
// when testID is monitored again, and no new broadcast for testID starts
// once it returns. Unknown ids are ignored.
func (c *Controller) StopMonitoring(testID string) {
	c.mu.Lock()
	m, ok := c.monitors[testID]
	if ok {
		delete(c.monitors, testID)
		m.cancel()
		c.store.RemoveOwned(m.session)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	if m.stream != nil {
		m.stream.Close()
	}
	m.poll.Stop()
	c.metrics.SetActiveSessions(c.store.ActiveCount())
	c.logger.Info("monitoring stopped", "test_id", testID)
}

// StopTest asks the server to stop a running test. Monitoring continues and
// observes the resulting terminal status.
func (c *Controller) StopTest(ctx context.Context, testID string) error {
	if testID == "" {
		return ErrEmptyTestID
	}
	if err := c.api.StopTest(ctx, testID); err != nil {
		return fmt.Errorf("stop test %s: %w", testID, err)
	}
	return nil
}

func (c *Controller) Subscribe(testID string, ch subscription.Channel, l subscription.Listener) {
	c.registry.Subscribe(testID, ch, l)
}

func (c *Controller) Unsubscribe(testID string, ch subscription.Channel, l subscription.Listener) {
	c.registry.Unsubscribe(testID, ch, l)
}

// Session returns a copy of the live session for testID.
func (c *Controller) Session(testID string) (*session.State, bool) {
	return c.store.Get(testID)
}

// Active returns the monitored test ids in order.
func (c *Controller) Active() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.monitors))
	for id := range c.monitors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close stops every monitor and drops their listeners. Later starts fail
// with ErrClosed.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	ids := make([]string, 0, len(c.monitors))
	for id := range c.monitors {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.StopMonitoring(id)
		c.registry.Clear(id)
	}
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
