package session

import (
	"sort"
	"time"

	"github.com/hileamlakB/stress-api-sub000/internal/client"
)

// CanTransition reports whether a session may move from one status to
// another. Terminal statuses are absorbing and running never returns to
// pending.
func CanTransition(from, to client.Status) bool {
	if from == to || from.IsTerminal() || !to.Valid() {
		return false
	}
	switch from {
	case client.StatusPending:
		return true
	case client.StatusRunning:
		return to.IsTerminal()
	}
	return false
}

// State is the monitor's view of one load test.
type State struct {
	TestID            string                     `json:"testId"`
	Status            client.Status              `json:"status"`
	StartedAt         time.Time                  `json:"startedAt"`
	Elapsed           time.Duration              `json:"elapsed"`
	ElapsedFinal      bool                       `json:"elapsedFinal"`
	CompletedRequests int64                      `json:"completedRequests"`
	TotalRequests     int64                      `json:"totalRequests,omitempty"`
	Levels            map[int]client.LevelRecord `json:"levels"`
	AuthSessions      []client.AuthSession       `json:"authSessions,omitempty"`
	FinalResults      *client.FinalResults       `json:"finalResults,omitempty"`
	RetryCount        int                        `json:"retryCount"`
	ResultsRequested  bool                       `json:"resultsRequested"`
	NotFound          bool                       `json:"notFound,omitempty"`
	Waiting           bool                       `json:"waiting,omitempty"`
	UpdatedAt         time.Time                  `json:"updatedAt"`
}

// New creates a pending session started at now.
func New(testID string, now time.Time) *State {
	return &State{
		TestID:    testID,
		Status:    client.StatusPending,
		StartedAt: now,
		UpdatedAt: now,
		Levels:    make(map[int]client.LevelRecord),
	}
}

// IsTerminal reports whether the session has reached a terminal status.
func (s *State) IsTerminal() bool {
	return s.Status.IsTerminal()
}

// Transition moves the session to a new status when allowed.
func (s *State) Transition(to client.Status) bool {
	if !CanTransition(s.Status, to) {
		return false
	}
	s.Status = to
	return true
}

// SortedLevels returns the level records ordered by concurrency.
func (s *State) SortedLevels() []client.LevelRecord {
	out := make([]client.LevelRecord, 0, len(s.Levels))
	for _, r := range s.Levels {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Concurrency < out[j].Concurrency })
	return out
}

// Clone returns a deep copy of the state so the copy can be read while the
// original keeps changing.
func (s *State) Clone() *State {
	c := *s
	c.Levels = make(map[int]client.LevelRecord, len(s.Levels))
	for k, v := range s.Levels {
		c.Levels[k] = v.Clone()
	}
	if s.AuthSessions != nil {
		c.AuthSessions = append([]client.AuthSession(nil), s.AuthSessions...)
	}
	if s.FinalResults != nil {
		fr := *s.FinalResults
		fr.Levels = make([]client.LevelRecord, len(s.FinalResults.Levels))
		for i, l := range s.FinalResults.Levels {
			fr.Levels[i] = l.Clone()
		}
		fr.Samples = append([]client.RequestSample(nil), s.FinalResults.Samples...)
		c.FinalResults = &fr
	}
	return &c
}
