// Package client provides the HTTP and push-channel wire types for the
// stress-api load-test server. Types are validated at the decode boundary so
// the rest of the monitor never sees undefined fields.
package client

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state the server reports for a test.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusStopped:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions can follow s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusStopped
}

// MessageType identifies the kind of push-channel message.
type MessageType string

const (
	MsgMetrics MessageType = "metrics"
	MsgError   MessageType = "error"
)

// WSMessage is the envelope for push-channel frames.
type WSMessage struct {
	Type    MessageType     `json:"type"`
	Seq     uint64          `json:"seq"`
	Payload json.RawMessage `json:"payload"`
}

// MetricsPayload is the payload of a MsgMetrics frame.
type MetricsPayload struct {
	CompletedRequests *int64           `json:"completedRequests,omitempty"`
	Metrics           []EndpointMetric `json:"metrics"`
}

// EndpointMetric is one streamed record for an endpoint at a concurrency level.
// Response times are milliseconds; SuccessRate is a percentage.
type EndpointMetric struct {
	Endpoint           string  `json:"endpoint"`
	ConcurrentRequests int     `json:"concurrentRequests"`
	AvgResponseTime    float64 `json:"avgResponseTime"`
	MinResponseTime    float64 `json:"minResponseTime"`
	MaxResponseTime    float64 `json:"maxResponseTime"`
	SuccessRate        float64 `json:"successRate"`
	Requests           int64   `json:"requests,omitempty"`
}

// MetricsBatch is a decoded push-channel frame.
type MetricsBatch struct {
	Seq               uint64
	CompletedRequests *int64
	Metrics           []EndpointMetric
}

// ResponseTimeStats summarises response times in milliseconds.
type ResponseTimeStats struct {
	Avg float64 `json:"avg"`
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// EndpointResult is the per-endpoint breakdown inside a LevelRecord.
type EndpointResult struct {
	Endpoint           string            `json:"endpoint"`
	TotalRequests      int64             `json:"totalRequests"`
	SuccessfulRequests int64             `json:"successfulRequests"`
	SuccessRate        float64           `json:"successRate"`
	ResponseTime       ResponseTimeStats `json:"responseTime"`
}

// LevelRecord is the result for one concurrency level.
type LevelRecord struct {
	Concurrency        int                       `json:"concurrency"`
	TotalRequests      int64                     `json:"totalRequests"`
	SuccessfulRequests int64                     `json:"successfulRequests"`
	FailedRequests     int64                     `json:"failedRequests"`
	ResponseTime       ResponseTimeStats         `json:"responseTime"`
	Endpoints          map[string]EndpointResult `json:"endpoints,omitempty"`
}

// Clone returns a deep copy of r.
func (r LevelRecord) Clone() LevelRecord {
	if r.Endpoints != nil {
		eps := make(map[string]EndpointResult, len(r.Endpoints))
		for k, v := range r.Endpoints {
			eps[k] = v
		}
		r.Endpoints = eps
	}
	return r
}

// SuccessRate returns the level's success percentage. A record without
// request counts falls back to the mean of its endpoint rates; ok is false
// when neither is present.
func (r LevelRecord) SuccessRate() (rate float64, ok bool) {
	if r.TotalRequests > 0 {
		return float64(r.SuccessfulRequests) * 100 / float64(r.TotalRequests), true
	}
	if len(r.Endpoints) == 0 {
		return 0, false
	}
	for _, e := range r.Endpoints {
		rate += e.SuccessRate
	}
	return rate / float64(len(r.Endpoints)), true
}

// AuthSession is the outcome of authenticating one account in a
// multi-account test.
type AuthSession struct {
	Account         string    `json:"account"`
	Success         bool      `json:"success"`
	Error           string    `json:"error,omitempty"`
	AuthenticatedAt time.Time `json:"authenticatedAt,omitempty"`
}

// Summary is the point-in-time progress snapshot returned by the poll endpoint.
type Summary struct {
	TestID            string        `json:"testId"`
	Status            Status        `json:"status"`
	ElapsedTime       *float64      `json:"elapsedTime,omitempty"`
	CompletedRequests int64         `json:"completedRequests"`
	TotalRequests     int64         `json:"totalRequests,omitempty"`
	Levels            []LevelRecord `json:"perLevelMetrics"`
	AuthSessions      []AuthSession `json:"authSessions,omitempty"`
	ResultsAvailable  bool          `json:"resultsAvailable"`
}

// HasData reports whether the snapshot carries per-level metrics.
func (s *Summary) HasData() bool {
	return s != nil && len(s.Levels) > 0
}

// ResultSummary aggregates a finished test.
type ResultSummary struct {
	TotalRequests      int64   `json:"totalRequests"`
	SuccessfulRequests int64   `json:"successfulRequests"`
	FailedRequests     int64   `json:"failedRequests"`
	AvgResponseTime    float64 `json:"avgResponseTime"`
	MinResponseTime    float64 `json:"minResponseTime"`
	MaxResponseTime    float64 `json:"maxResponseTime"`
	ElapsedSeconds     float64 `json:"elapsedSeconds"`
}

// RequestSample is one recorded request from the finished test.
type RequestSample struct {
	Endpoint     string    `json:"endpoint"`
	Method       string    `json:"method"`
	Concurrency  int       `json:"concurrency"`
	StatusCode   int       `json:"statusCode"`
	ResponseTime float64   `json:"responseTime"`
	Success      bool      `json:"success"`
	Timestamp    time.Time `json:"timestamp"`
}

// FinalResults is the full result payload of a finished test.
type FinalResults struct {
	TestID  string          `json:"testId"`
	Status  Status          `json:"status"`
	Summary ResultSummary   `json:"summary"`
	Levels  []LevelRecord   `json:"perLevelMetrics,omitempty"`
	Samples []RequestSample `json:"perRequestSamples,omitempty"`
}

// SubmitResponse is returned when a test is accepted.
type SubmitResponse struct {
	TestID string `json:"testId"`
	Status Status `json:"status"`
}
