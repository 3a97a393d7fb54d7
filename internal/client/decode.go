package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrMalformed marks a payload that failed decoding or validation.
var ErrMalformed = errors.New("malformed payload")

// Validate checks a streamed record.
func (m EndpointMetric) Validate() error {
	switch {
	case m.Endpoint == "":
		return fmt.Errorf("%w: endpoint is empty", ErrMalformed)
	case m.ConcurrentRequests <= 0:
		return fmt.Errorf("%w: concurrency %d is not positive", ErrMalformed, m.ConcurrentRequests)
	case badFloat(m.AvgResponseTime), badFloat(m.MinResponseTime), badFloat(m.MaxResponseTime):
		return fmt.Errorf("%w: response time out of range", ErrMalformed)
	case badFloat(m.SuccessRate) || m.SuccessRate > 100:
		return fmt.Errorf("%w: success rate %v out of range", ErrMalformed, m.SuccessRate)
	case m.Requests < 0:
		return fmt.Errorf("%w: negative request count", ErrMalformed)
	}
	return nil
}

// Validate checks a per-level record.
func (r LevelRecord) Validate() error {
	switch {
	case r.Concurrency <= 0:
		return fmt.Errorf("%w: concurrency %d is not positive", ErrMalformed, r.Concurrency)
	case r.TotalRequests < 0, r.SuccessfulRequests < 0, r.FailedRequests < 0:
		return fmt.Errorf("%w: negative request count at level %d", ErrMalformed, r.Concurrency)
	case r.SuccessfulRequests > r.TotalRequests:
		return fmt.Errorf("%w: successful exceeds total at level %d", ErrMalformed, r.Concurrency)
	}
	return nil
}

// Validate checks the snapshot and drops invalid level records in place.
// An unknown status invalidates the whole snapshot.
func (s *Summary) Validate() error {
	if !s.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrMalformed, s.Status)
	}
	if s.CompletedRequests < 0 {
		return fmt.Errorf("%w: negative completed requests", ErrMalformed)
	}
	levels := s.Levels[:0]
	for _, r := range s.Levels {
		if r.Validate() == nil {
			levels = append(levels, r)
		}
	}
	s.Levels = levels
	return nil
}

func badFloat(f float64) bool {
	return f < 0 || math.IsNaN(f) || math.IsInf(f, 0)
}

// DecodeMetrics decodes one push-channel frame. Frames are either a
// MsgMetrics envelope or a bare JSON array of records. Invalid records are
// dropped; a frame with no valid records left is malformed.
func DecodeMetrics(data []byte) (MetricsBatch, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return MetricsBatch{}, fmt.Errorf("%w: empty frame", ErrMalformed)
	}

	var batch MetricsBatch
	if data[0] == '[' {
		if err := json.Unmarshal(data, &batch.Metrics); err != nil {
			return MetricsBatch{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	} else {
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return MetricsBatch{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if msg.Type != MsgMetrics {
			return MetricsBatch{}, fmt.Errorf("%w: unexpected message type %q", ErrMalformed, msg.Type)
		}
		var p MetricsPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return MetricsBatch{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if p.CompletedRequests != nil && *p.CompletedRequests < 0 {
			p.CompletedRequests = nil
		}
		batch = MetricsBatch{Seq: msg.Seq, CompletedRequests: p.CompletedRequests, Metrics: p.Metrics}
	}

	valid := batch.Metrics[:0]
	for _, m := range batch.Metrics {
		if m.Validate() == nil {
			valid = append(valid, m)
		}
	}
	batch.Metrics = valid
	if len(batch.Metrics) == 0 && batch.CompletedRequests == nil {
		return MetricsBatch{}, fmt.Errorf("%w: no valid records", ErrMalformed)
	}
	return batch, nil
}

// DecodeSummary decodes and validates a poll snapshot.
func DecodeSummary(data []byte) (*Summary, error) {
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// DecodeFinalResults decodes the final result payload, dropping invalid levels.
func DecodeFinalResults(data []byte) (*FinalResults, error) {
	var r FinalResults
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if r.Status != "" && !r.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrMalformed, r.Status)
	}
	levels := r.Levels[:0]
	for _, l := range r.Levels {
		if l.Validate() == nil {
			levels = append(levels, l)
		}
	}
	r.Levels = levels
	return &r, nil
}
