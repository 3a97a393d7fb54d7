package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMetrics(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		wantErr   bool
		wantCount int
		wantSeq   uint64
	}{
		{
			name:      "envelope",
			data:      `{"type":"metrics","seq":7,"payload":{"completedRequests":40,"metrics":[{"endpoint":"/api/users","concurrentRequests":10,"avgResponseTime":12.5,"minResponseTime":3,"maxResponseTime":40,"successRate":95}]}}`,
			wantCount: 1,
			wantSeq:   7,
		},
		{
			name:      "bare array",
			data:      `[{"endpoint":"/a","concurrentRequests":1,"successRate":100},{"endpoint":"/b","concurrentRequests":2,"successRate":50}]`,
			wantCount: 2,
		},
		{
			name:      "invalid records dropped",
			data:      `[{"endpoint":"/a","concurrentRequests":1,"successRate":100},{"endpoint":"","concurrentRequests":2},{"endpoint":"/c","concurrentRequests":3,"successRate":140}]`,
			wantCount: 1,
		},
		{name: "only invalid records", data: `[{"endpoint":"/a","concurrentRequests":0}]`, wantErr: true},
		{name: "not json", data: `hello`, wantErr: true},
		{name: "empty", data: `   `, wantErr: true},
		{name: "wrong type", data: `{"type":"error","payload":{}}`, wantErr: true},
		{name: "payload wrong shape", data: `{"type":"metrics","payload":[1,2]}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch, err := DecodeMetrics([]byte(tt.data))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformed)
				return
			}
			require.NoError(t, err)
			assert.Len(t, batch.Metrics, tt.wantCount)
			assert.Equal(t, tt.wantSeq, batch.Seq)
		})
	}
}

func TestDecodeMetricsCompletedOnly(t *testing.T) {
	batch, err := DecodeMetrics([]byte(`{"type":"metrics","payload":{"completedRequests":12,"metrics":[]}}`))
	require.NoError(t, err)
	require.NotNil(t, batch.CompletedRequests)
	assert.EqualValues(t, 12, *batch.CompletedRequests)
	assert.Empty(t, batch.Metrics)
}

func TestDecodeSummary(t *testing.T) {
	s, err := DecodeSummary([]byte(`{
		"testId":"t1","status":"running","completedRequests":20,
		"perLevelMetrics":[
			{"concurrency":5,"totalRequests":20,"successfulRequests":19},
			{"concurrency":0,"totalRequests":1},
			{"concurrency":10,"totalRequests":3,"successfulRequests":4}
		],
		"resultsAvailable":false}`))
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, s.Status)
	require.Len(t, s.Levels, 1)
	assert.Equal(t, 5, s.Levels[0].Concurrency)
	assert.True(t, s.HasData())
}

func TestDecodeSummaryRejectsUnknownStatus(t *testing.T) {
	_, err := DecodeSummary([]byte(`{"testId":"t1","status":"exploded"}`))
	require.ErrorIs(t, err, ErrMalformed)
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusRunning.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusStopped.IsTerminal())
	assert.False(t, Status("bogus").Valid())
}

func TestTestConfigValidate(t *testing.T) {
	good := TestConfig{
		TargetURL:         "http://localhost:9000",
		Endpoints:         []EndpointSpec{{Method: "GET", Path: "/api/users"}},
		ConcurrencyLevels: []int{1, 10},
		RequestsPerLevel:  100,
	}
	require.NoError(t, good.Validate())

	bad := TestConfig{
		TargetURL:         "localhost",
		Endpoints:         []EndpointSpec{{Method: "FETCH", Path: "api"}},
		ConcurrencyLevels: []int{0},
		Strategy:          "zigzag",
		Auth:              &AuthConfig{Type: AuthMultiple},
	}
	err := bad.Validate()
	require.Error(t, err)
	for _, want := range []string{"target_url", "unsupported method", "must start with /", "not positive", "requests_per_level", "zigzag", "accounts"} {
		assert.Contains(t, err.Error(), want)
	}
}
