// Package subscription fans monitor updates out to listeners registered per
// test id and channel.
package subscription

import (
	"context"
	"reflect"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/hileamlakB/stress-api-sub000/internal/logging"
	"github.com/hileamlakB/stress-api-sub000/internal/metrics"
)

// Listener receives broadcast events. Implementations must be comparable
// (typically pointers) because registration is keyed by listener identity.
type Listener interface {
	Notify(Event)
}

type funcListener struct {
	fn func(Event)
}

func (f *funcListener) Notify(e Event) { f.fn(e) }

// ListenerFunc wraps fn in a Listener. Each call returns a distinct
// listener; keep the returned value to unsubscribe later.
func ListenerFunc(fn func(Event)) Listener {
	return &funcListener{fn: fn}
}

type key struct {
	testID  string
	channel Channel
}

// Option customizes registry construction.
type Option func(*Registry)

// WithLogger configures the logger used for rejected listeners and panics.
func WithLogger(logger *log.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records deliveries and listener panics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// Registry is the process-wide listener registry. Listener sets are ordered
// by registration and mutated only by Subscribe, Unsubscribe and Clear.
type Registry struct {
	mu        sync.RWMutex
	listeners map[key][]Listener
	logger    *log.Logger
	metrics   *metrics.Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry(options ...Option) *Registry {
	r := &Registry{
		listeners: make(map[key][]Listener),
		logger:    logging.Discard(),
	}
	for _, option := range options {
		option(r)
	}
	return r
}

// Subscribe registers l for (testID, ch). Registering the same listener
// twice is a no-op.
func (r *Registry) Subscribe(testID string, ch Channel, l Listener) {
	if l == nil {
		return
	}
	if !reflect.TypeOf(l).Comparable() {
		r.logger.Warn("ignoring non-comparable listener", "test_id", testID, "channel", ch, "type", reflect.TypeOf(l).String())
		return
	}

	k := key{testID, ch}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.listeners[k] {
		if existing == l {
			return
		}
	}
	r.listeners[k] = append(r.listeners[k], l)
}

// Unsubscribe removes l from (testID, ch). Removing an absent listener is
// a no-op.
func (r *Registry) Unsubscribe(testID string, ch Channel, l Listener) {
	if l == nil || !reflect.TypeOf(l).Comparable() {
		return
	}

	k := key{testID, ch}
	r.mu.Lock()
	defer r.mu.Unlock()
	current := r.listeners[k]
	for i, existing := range current {
		if existing != l {
			continue
		}
		next := make([]Listener, 0, len(current)-1)
		next = append(next, current[:i]...)
		next = append(next, current[i+1:]...)
		if len(next) == 0 {
			delete(r.listeners, k)
		} else {
			r.listeners[k] = next
		}
		return
	}
}

// Clear drops every listener for testID on all channels.
func (r *Registry) Clear(testID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.listeners {
		if k.testID == testID {
			delete(r.listeners, k)
		}
	}
}

// Count returns the number of listeners for (testID, ch).
func (r *Registry) Count(testID string, ch Channel) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners[key{testID, ch}])
}

// Broadcast delivers p synchronously to every listener currently registered
// for (testID, ch) and returns the number of successful deliveries.
func (r *Registry) Broadcast(testID string, ch Channel, p Payload) int {
	return r.BroadcastContext(context.Background(), testID, ch, p)
}

// BroadcastContext is Broadcast that stops before the next listener once
// ctx is done.
func (r *Registry) BroadcastContext(ctx context.Context, testID string, ch Channel, p Payload) int {
	listeners := r.snapshot(key{testID, ch})
	if len(listeners) == 0 {
		return 0
	}

	e := Event{TestID: testID, Channel: ch, Payload: p}
	delivered := 0
	for _, l := range listeners {
		if ctx.Err() != nil {
			break
		}
		if r.deliver(l, e) {
			delivered++
		}
	}
	return delivered
}

func (r *Registry) snapshot(k key) []Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	current := r.listeners[k]
	if len(current) == 0 {
		return nil
	}
	out := make([]Listener, len(current))
	copy(out, current)
	return out
}

func (r *Registry) deliver(l Listener, e Event) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.ListenerPanic()
			r.logger.Error("listener panicked", "test_id", e.TestID, "channel", e.Channel, "panic", rec)
			ok = false
		}
	}()
	l.Notify(e)
	r.metrics.Delivered(string(e.Channel))
	return true
}
