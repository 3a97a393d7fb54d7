package subscription

import (
	"github.com/hileamlakB/stress-api-sub000/internal/client"
	"github.com/hileamlakB/stress-api-sub000/internal/session"
)

// Channel names a per-test broadcast stream.
type Channel string

const (
	// Metrics carries streamed endpoint metric batches.
	Metrics Channel = "metrics"
	// Summary carries snapshots, waiting notices, not-found and final results.
	Summary Channel = "summary"
)

// Payload is the closed set of values a listener can receive.
type Payload interface {
	isPayload()
}

// MetricsPayload is a decoded push-channel batch.
type MetricsPayload struct {
	Batch client.MetricsBatch
}

// SummaryPayload is the session after a reconciled update.
type SummaryPayload struct {
	State *session.State
}

// WaitingPayload reports polls that returned no per-level data yet.
// Exhausted is set on the last attempt, after which polling has stopped.
type WaitingPayload struct {
	Attempts  int
	Exhausted bool
}

// NotFoundPayload is the terminal notice for an unknown test id.
type NotFoundPayload struct {
	Err error
}

// ResultsPayload carries the final results, delivered once per session.
// Err is set instead when the single fetch attempt failed.
type ResultsPayload struct {
	Results *client.FinalResults
	Err     error
}

func (MetricsPayload) isPayload()  {}
func (SummaryPayload) isPayload()  {}
func (WaitingPayload) isPayload()  {}
func (NotFoundPayload) isPayload() {}
func (ResultsPayload) isPayload()  {}

// Event is what a listener receives.
type Event struct {
	TestID  string
	Channel Channel
	Payload Payload
}
