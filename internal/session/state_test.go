package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hileamlakB/stress-api-sub000/internal/client"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to client.Status
		want     bool
	}{
		{client.StatusPending, client.StatusRunning, true},
		{client.StatusPending, client.StatusCompleted, true},
		{client.StatusPending, client.StatusFailed, true},
		{client.StatusRunning, client.StatusStopped, true},
		{client.StatusRunning, client.StatusPending, false},
		{client.StatusRunning, client.StatusRunning, false},
		{client.StatusCompleted, client.StatusRunning, false},
		{client.StatusFailed, client.StatusCompleted, false},
		{client.StatusStopped, client.StatusPending, false},
		{client.StatusPending, client.Status("bogus"), false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"→"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTransitionAbsorbing(t *testing.T) {
	s := New("t1", time.Now())
	require.True(t, s.Transition(client.StatusRunning))
	require.True(t, s.Transition(client.StatusCompleted))
	assert.False(t, s.Transition(client.StatusFailed))
	assert.Equal(t, client.StatusCompleted, s.Status)
	assert.True(t, s.IsTerminal())
}

func TestCloneIsDeep(t *testing.T) {
	s := New("t1", time.Now())
	s.Levels[10] = client.LevelRecord{
		Concurrency:   10,
		TotalRequests: 5,
		Endpoints:     map[string]client.EndpointResult{"/a": {Endpoint: "/a", TotalRequests: 5}},
	}
	s.AuthSessions = []client.AuthSession{{Account: "alice", Success: true}}
	s.FinalResults = &client.FinalResults{TestID: "t1", Levels: []client.LevelRecord{{Concurrency: 10}}}

	c := s.Clone()
	c.Levels[10].Endpoints["/a"] = client.EndpointResult{Endpoint: "/a", TotalRequests: 99}
	c.Levels[20] = client.LevelRecord{Concurrency: 20}
	c.AuthSessions[0].Account = "mallory"
	c.FinalResults.Levels[0].Concurrency = 99

	assert.EqualValues(t, 5, s.Levels[10].Endpoints["/a"].TotalRequests)
	assert.Len(t, s.Levels, 1)
	assert.Equal(t, "alice", s.AuthSessions[0].Account)
	assert.Equal(t, 10, s.FinalResults.Levels[0].Concurrency)
}

func TestSortedLevels(t *testing.T) {
	s := New("t1", time.Now())
	for _, c := range []int{50, 1, 10} {
		s.Levels[c] = client.LevelRecord{Concurrency: c}
	}
	levels := s.SortedLevels()
	require.Len(t, levels, 3)
	assert.Equal(t, []int{1, 10, 50}, []int{levels[0].Concurrency, levels[1].Concurrency, levels[2].Concurrency})
}
