package session

import (
	"sort"
	"sync"
)

// Store holds the live sessions keyed by test id. Readers always receive
// copies; writers mutate through Update so every change happens under the
// store lock.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*State
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*State),
	}
}

// Get returns a copy of the session for id.
func (s *Store) Get(id string) (*State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return st.Clone(), true
}

// GetAll returns copies of every session, ordered by test id.
func (s *Store) GetAll() []*State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*State, 0, len(s.sessions))
	for _, st := range s.sessions {
		result = append(result, st.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].TestID < result[j].TestID })
	return result
}

// Add stores state unless a session with the same id exists. It reports
// whether state was added.
func (s *Store) Add(state *State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[state.TestID]; ok {
		return false
	}
	s.sessions[state.TestID] = state
	return true
}

// Update applies fn to the live session for id under the write lock and
// returns a copy of the result. It reports false when id is unknown.
func (s *Store) Update(id string, fn func(*State)) (*State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	fn(st)
	return st.Clone(), true
}

// Remove deletes the session for id, whichever one is stored.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// UpdateOwned is Update restricted to st, the value previously passed to
// Add. It reports false once st has been removed or replaced by a newer
// session for the same id.
func (s *Store) UpdateOwned(st *State, fn func(*State)) (*State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.sessions[st.TestID]; !ok || cur != st {
		return nil, false
	}
	fn(st)
	return st.Clone(), true
}

// RemoveOwned deletes st if it is still the stored session for its id.
func (s *Store) RemoveOwned(st *State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[st.TestID] == st {
		delete(s.sessions, st.TestID)
	}
}

// ActiveCount returns the number of sessions not yet in a terminal status.
func (s *Store) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, st := range s.sessions {
		if !st.IsTerminal() {
			count++
		}
	}
	return count
}
