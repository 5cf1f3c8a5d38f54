package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// UpstreamHealth is a snapshot of one upstream's call ledger and breaker state.
type UpstreamHealth struct {
	Name         string
	CircuitState gobreaker.State

	// Calls and Failures count every call recorded since startup.
	Calls    uint64
	Failures uint64

	// ConsecutiveFailures resets on the first successful call.
	ConsecutiveFailures uint32

	LastSuccessAt *time.Time
	LastFailureAt *time.Time
	LastError     string
}

// Open reports whether calls to the upstream are being short-circuited.
func (h UpstreamHealth) Open() bool {
	return h.CircuitState == gobreaker.StateOpen
}

// Degraded reports whether the most recent call failed or the breaker is
// half-open and running a trial call. An open circuit is not degraded, it is down.
func (h UpstreamHealth) Degraded() bool {
	if h.Open() {
		return false
	}
	return h.CircuitState == gobreaker.StateHalfOpen || h.ConsecutiveFailures > 0
}

// Registry is the ledger the resilient clients report every call to.
// The ops endpoints read it to decide readiness.
type Registry struct {
	mu        sync.RWMutex
	upstreams map[string]*ledger
}

type ledger struct {
	client              *Client
	calls               uint64
	failures            uint64
	consecutiveFailures uint32
	lastSuccessAt       time.Time
	lastFailureAt       time.Time
	lastError           string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{upstreams: make(map[string]*ledger)}
}

// Register starts a ledger for client under name, replacing any earlier one.
func (r *Registry) Register(name string, client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upstreams[name] = &ledger{client: client}
}

// Record adds one call outcome to the named upstream's ledger. A nil err is a
// success. Unknown names are ignored.
func (r *Registry) Record(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.upstreams[name]
	if !ok {
		return
	}

	l.calls++
	if err == nil {
		l.consecutiveFailures = 0
		l.lastSuccessAt = time.Now()
		return
	}
	l.failures++
	l.consecutiveFailures++
	l.lastFailureAt = time.Now()
	l.lastError = err.Error()
}

// Health returns the snapshot for one upstream.
func (r *Registry) Health(name string) (UpstreamHealth, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.upstreams[name]
	if !ok {
		return UpstreamHealth{}, false
	}
	return l.snapshot(name), true
}

// Snapshot returns every upstream's health, ordered by name.
func (r *Registry) Snapshot() []UpstreamHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]UpstreamHealth, 0, len(r.upstreams))
	for name, l := range r.upstreams {
		out = append(out, l.snapshot(name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AnyOpen reports whether at least one upstream circuit is open.
func (r *Registry) AnyOpen() bool {
	for _, h := range r.Snapshot() {
		if h.Open() {
			return true
		}
	}
	return false
}

func (l *ledger) snapshot(name string) UpstreamHealth {
	return UpstreamHealth{
		Name:                name,
		CircuitState:        l.client.CircuitBreakerState(),
		Calls:               l.calls,
		Failures:            l.failures,
		ConsecutiveFailures: l.consecutiveFailures,
		LastSuccessAt:       timePtr(l.lastSuccessAt),
		LastFailureAt:       timePtr(l.lastFailureAt),
		LastError:           l.lastError,
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
