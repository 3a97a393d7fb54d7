package lifecycle

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/hileamlakB/stress-api-sub000/internal/aggregator"
	"github.com/hileamlakB/stress-api-sub000/internal/client"
	"github.com/hileamlakB/stress-api-sub000/internal/poll"
	"github.com/hileamlakB/stress-api-sub000/internal/session"
	"github.com/hileamlakB/stress-api-sub000/internal/stream"
	"github.com/hileamlakB/stress-api-sub000/internal/subscription"
)

// monitor is one session's event loop. The stream and poll goroutines only
// post messages; run applies them one at a time.
type monitor struct {
	testID string
	ctx    context.Context
	cancel context.CancelFunc
	inbox  chan message
	done   chan struct{}
	logger *log.Logger

	// session is the value this monitor added to the store. A restart of
	// the same test id stores a new one, so writes are matched by pointer.
	session *session.State

	// Set before run starts and never reassigned.
	stream *stream.Handle
	poll   *poll.Handle
}

type message interface{}

type batchMsg struct {
	gen   uint64
	batch client.MetricsBatch
}

type snapshotMsg struct {
	h   *poll.Handle
	sum *client.Summary
}

type noDataMsg struct {
	h         *poll.Handle
	attempts  int
	exhausted bool
}

type notFoundMsg struct {
	h   *poll.Handle
	err error
}

type resultsMsg struct {
	res *client.FinalResults
	err error
}

func (c *Controller) newMonitor(st *session.State) *monitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &monitor{
		testID:  st.TestID,
		ctx:     ctx,
		cancel:  cancel,
		inbox:   make(chan message, inboxSize),
		done:    make(chan struct{}),
		logger:  c.logger.With("test_id", st.TestID),
		session: st,
	}
}

// post hands msg to the loop unless the monitor has been stopped.
func (m *monitor) post(msg message) {
	select {
	case m.inbox <- msg:
	case <-m.ctx.Done():
	}
}

func (m *monitor) deliverBatch(gen uint64, batch client.MetricsBatch) {
	m.post(batchMsg{gen: gen, batch: batch})
}

// poll.Sink

func (m *monitor) Snapshot(h *poll.Handle, sum *client.Summary) {
	m.post(snapshotMsg{h: h, sum: sum})
}

func (m *monitor) NoData(h *poll.Handle, attempts int, exhausted bool) {
	m.post(noDataMsg{h: h, attempts: attempts, exhausted: exhausted})
}

func (m *monitor) NotFound(h *poll.Handle, err error) {
	m.post(notFoundMsg{h: h, err: err})
}

func (c *Controller) run(m *monitor) {
	defer close(m.done)
	for {
		select {
		case <-m.ctx.Done():
			return
		case msg := <-m.inbox:
			if m.ctx.Err() != nil {
				return
			}
			c.handle(m, msg)
		}
	}
}

func (c *Controller) handle(m *monitor, msg message) {
	switch msg := msg.(type) {
	case batchMsg:
		if m.stream == nil || !m.stream.Current(msg.gen) {
			m.logger.Debug("dropping stale batch", "gen", msg.gen)
			return
		}
		if _, ok := c.update(m, func(s *session.State) { c.agg.ApplyMetrics(s, msg.batch) }); !ok {
			return
		}
		c.broadcast(m, subscription.Metrics, subscription.MetricsPayload{Batch: msg.batch})

	case snapshotMsg:
		if msg.h != m.poll {
			return
		}
		var out aggregator.Outcome
		st, ok := c.update(m, func(s *session.State) { out = c.agg.ApplySnapshot(s, msg.sum) })
		if !ok {
			return
		}
		c.broadcast(m, subscription.Summary, subscription.SummaryPayload{State: st})
		if out.Terminal {
			m.logger.Info("test finished", "status", st.Status, "elapsed", st.Elapsed, "completed", st.CompletedRequests)
			c.closeStream(m)
		}
		if out.FetchResults {
			go c.fetchResults(m)
		}

	case noDataMsg:
		if msg.h != m.poll {
			return
		}
		if _, ok := c.update(m, func(s *session.State) { c.agg.MarkWaiting(s, msg.attempts) }); !ok {
			return
		}
		c.broadcast(m, subscription.Summary, subscription.WaitingPayload{Attempts: msg.attempts, Exhausted: msg.exhausted})

	case notFoundMsg:
		if msg.h != m.poll {
			return
		}
		if _, ok := c.update(m, c.agg.MarkNotFound); !ok {
			return
		}
		c.closeStream(m)
		c.broadcast(m, subscription.Summary, subscription.NotFoundPayload{Err: msg.err})

	case resultsMsg:
		if msg.err != nil {
			c.metrics.FinalFetch(false)
			m.logger.Error("final results fetch failed", "err", msg.err)
			c.broadcast(m, subscription.Summary, subscription.ResultsPayload{Err: msg.err})
			return
		}
		var stored bool
		if _, ok := c.update(m, func(s *session.State) { stored = c.agg.ApplyResults(s, msg.res) }); !ok || !stored {
			return
		}
		c.metrics.FinalFetch(true)
		m.logger.Info("final results received", "levels", len(msg.res.Levels))
		c.broadcast(m, subscription.Summary, subscription.ResultsPayload{Results: msg.res})
	}
	c.metrics.SetActiveSessions(c.store.ActiveCount())
}

// update applies fn to m's own session. It reports false once m has been
// stopped, even if the test id is being monitored again.
func (c *Controller) update(m *monitor, fn func(*session.State)) (*session.State, bool) {
	return c.store.UpdateOwned(m.session, fn)
}

func (c *Controller) broadcast(m *monitor, ch subscription.Channel, p subscription.Payload) {
	c.registry.BroadcastContext(m.ctx, m.testID, ch, p)
}

// closeStream ends the push channel once nothing more is expected on it.
func (c *Controller) closeStream(m *monitor) {
	if m.stream != nil {
		m.stream.Close()
	}
}

func (c *Controller) fetchResults(m *monitor) {
	res, err := c.api.FetchFinalResults(m.ctx, m.testID)
	if m.ctx.Err() != nil {
		return
	}
	m.post(resultsMsg{res: res, err: err})
}
