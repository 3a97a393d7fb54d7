package dashboard

import (
	"strings"
	"testing"
	"time"

	"github.com/hileamlakB/stress-api-sub000/internal/client"
	"github.com/hileamlakB/stress-api-sub000/internal/session"
)

func usersState() *session.State {
	st := session.New("t1", time.Now())
	st.Status = client.StatusRunning
	st.CompletedRequests = 50
	st.TotalRequests = 100
	st.Levels[10] = client.LevelRecord{
		Concurrency: 10, TotalRequests: 30, SuccessfulRequests: 24, FailedRequests: 6,
		ResponseTime: client.ResponseTimeStats{Avg: 20, Min: 5, Max: 90},
		Endpoints: map[string]client.EndpointResult{
			"/api/users": {Endpoint: "/api/users", TotalRequests: 30, SuccessfulRequests: 24, SuccessRate: 80,
				ResponseTime: client.ResponseTimeStats{Avg: 20, Min: 5, Max: 90}},
		},
	}
	st.Levels[1] = client.LevelRecord{
		Concurrency: 1, TotalRequests: 20, SuccessfulRequests: 20,
		ResponseTime: client.ResponseTimeStats{Avg: 10, Min: 8, Max: 12},
	}
	return st
}

func TestFormatCount(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1500, "1.5K"},
		{2_300_000, "2.3M"},
	}
	for _, tt := range tests {
		if got := formatCount(tt.n); got != tt.want {
			t.Errorf("formatCount(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestFormatMillis(t *testing.T) {
	if got := formatMillis(12.34); got != "12.3ms" {
		t.Errorf("got %q", got)
	}
	if got := formatMillis(1500); got != "1.50s" {
		t.Errorf("got %q", got)
	}
}

func TestTotalsWeightAverageByRequests(t *testing.T) {
	m := New()
	m.SetState(usersState())
	total, ok, avg := m.totals()
	if total != 50 || ok != 44 {
		t.Fatalf("totals = %d/%d", ok, total)
	}
	// (20*30 + 10*20) / 50
	if avg != 16 {
		t.Errorf("avg = %v, want 16", avg)
	}
}

func TestSelectionFollowsSortedLevels(t *testing.T) {
	m := New()
	m.SetState(usersState())
	if m.Levels() != 2 {
		t.Fatalf("levels = %d", m.Levels())
	}
	l, ok := m.SelectedLevel()
	if !ok || l.Concurrency != 1 {
		t.Fatalf("first selection = %+v", l)
	}
	m.Move(5)
	l, _ = m.SelectedLevel()
	if l.Concurrency != 10 {
		t.Errorf("selection not clamped: %d", l.Concurrency)
	}
	m.Move(-5)
	if m.Selected != 0 {
		t.Errorf("selected = %d", m.Selected)
	}

	m.Selected = 1
	m.SetState(session.New("t1", time.Now()))
	if _, ok := m.SelectedLevel(); ok {
		t.Error("empty state should have no selection")
	}
}

func TestViewRendersLevelsAndEndpoints(t *testing.T) {
	m := New()
	m.Width = 120
	m.SetState(usersState())
	m.Move(1)
	out := m.View()
	for _, want := range []string{"Levels: 2", "c=1", "c=10", "Endpoints at c=10", "/api/users", "Success: 88.0%"} {
		if !strings.Contains(out, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestViewWithoutData(t *testing.T) {
	m := New()
	m.SetState(session.New("t1", time.Now()))
	if out := m.View(); !strings.Contains(out, "No level data yet") {
		t.Errorf("unexpected view: %q", out)
	}
}
