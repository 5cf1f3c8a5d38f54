// Package resilience provides HTTP client wrappers with circuit breakers,
// opt-in retries and opt-in short-circuiting for upstream provider calls.
package resilience

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// CircuitBreakerConfig mirrors the gobreaker settings a Client uses.
type CircuitBreakerConfig struct {
	Name string

	// MaxRequests is how many trial calls pass while half-open.
	MaxRequests uint32

	// Interval clears the closed-state counts periodically. Zero never clears.
	Interval time.Duration

	// Timeout is how long the circuit stays open before a trial call.
	Timeout time.Duration

	// ReadyToTrip decides from the counts whether to open. Nil never opens.
	ReadyToTrip func(counts gobreaker.Counts) bool

	OnStateChange func(name string, from gobreaker.State, to gobreaker.State)
}

// DefaultCircuitBreakerConfig returns a breaker that only counts outcomes.
// It never opens, so every call reaches the upstream; set ReadyToTrip to
// enable short-circuiting.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:        name,
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: NeverTrip,
	}
}

// NeverTrip keeps the circuit closed regardless of failures.
func NeverTrip(gobreaker.Counts) bool {
	return false
}

// ConsecutiveFailuresTrip opens the circuit after n consecutive failed calls.
// n == 0 returns NeverTrip.
func ConsecutiveFailuresTrip(n uint32) func(gobreaker.Counts) bool {
	if n == 0 {
		return NeverTrip
	}
	return func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= n
	}
}

// NewCircuitBreaker builds a gobreaker breaker from cfg.
func NewCircuitBreaker[T any](cfg CircuitBreakerConfig) *gobreaker.CircuitBreaker[T] {
	// gobreaker substitutes its own trip policy for a nil ReadyToTrip.
	trip := cfg.ReadyToTrip
	if trip == nil {
		trip = NeverTrip
	}
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:          cfg.Name,
		MaxRequests:   cfg.MaxRequests,
		Interval:      cfg.Interval,
		Timeout:       cfg.Timeout,
		ReadyToTrip:   trip,
		OnStateChange: cfg.OnStateChange,
	})
}

// LogStateChanges returns an OnStateChange callback that logs every circuit
// transition. Transitions into the open state are logged as warnings.
func LogStateChanges(logger zerolog.Logger) func(name string, from, to gobreaker.State) {
	return func(name string, from, to gobreaker.State) {
		event := logger.Info()
		if to == gobreaker.StateOpen {
			event = logger.Warn()
		}
		event.
			Str("provider", name).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("circuit breaker state changed")
	}
}
