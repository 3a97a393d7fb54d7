package cli

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/hileamlakB/stress-api-sub000/internal/subscription"
)

// observer is the --plain listener. It logs each event and closes Done
// once the session can change no further: final results arrived (or
// failed), the test is unknown, or polling gave up waiting for data.
type observer struct {
	logger *log.Logger
	done   chan struct{}
	once   sync.Once
}

func newObserver(logger *log.Logger) *observer {
	return &observer{logger: logger, done: make(chan struct{})}
}

func (o *observer) Done() <-chan struct{} {
	return o.done
}

func (o *observer) finish() {
	o.once.Do(func() { close(o.done) })
}

func (o *observer) Notify(e subscription.Event) {
	switch p := e.Payload.(type) {
	case subscription.MetricsPayload:
		o.logger.Debug("metrics batch", "seq", p.Batch.Seq, "records", len(p.Batch.Metrics))
	case subscription.SummaryPayload:
		if p.State == nil {
			return
		}
		o.logger.Info("progress",
			"status", p.State.Status,
			"completed", p.State.CompletedRequests,
			"total", p.State.TotalRequests,
			"levels", len(p.State.Levels),
			"elapsed", p.State.Elapsed.Round(100*time.Millisecond),
		)
	case subscription.WaitingPayload:
		if p.Exhausted {
			o.logger.Error("no data received, giving up", "attempts", p.Attempts)
			o.finish()
			return
		}
		o.logger.Warn("waiting for data", "attempts", p.Attempts)
	case subscription.NotFoundPayload:
		o.logger.Error("test not found", "err", p.Err)
		o.finish()
	case subscription.ResultsPayload:
		if p.Err != nil {
			o.logger.Error("final results unavailable", "err", p.Err)
		} else {
			o.logger.Info("final results received", "total", p.Results.Summary.TotalRequests)
		}
		o.finish()
	}
}
