package resilience

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned without calling the upstream while its breaker
// is open or already running its half-open trial.
var ErrCircuitOpen = errors.New("circuit breaker is open")

const (
	defaultInitialInterval = 100 * time.Millisecond
	defaultMaxInterval     = 5 * time.Second
)

// ClientConfig configures a Client for one upstream endpoint.
type ClientConfig struct {
	// Name keys the breaker, its log lines and the Registry entry.
	Name string

	// Timeout bounds each attempt. Zero leaves only the transport's limits.
	Timeout time.Duration

	// MaxRetries is how many more attempts follow a failed one. Zero means
	// every call is a single attempt.
	MaxRetries uint64

	// InitialInterval and MaxInterval shape the exponential backoff between
	// attempts. Zero picks 100ms and 5s.
	InitialInterval time.Duration
	MaxInterval     time.Duration

	// CircuitBreaker defaults to DefaultCircuitBreakerConfig(Name).
	CircuitBreaker *CircuitBreakerConfig

	Transport http.RoundTripper

	// Registry, when set, is told the outcome of every call.
	Registry *Registry
}

// DefaultClientConfig returns the defaults for upstream calls: one attempt
// per call, no client timeout and a breaker that never opens.
func DefaultClientConfig(name string) ClientConfig {
	cb := DefaultCircuitBreakerConfig(name)
	return ClientConfig{
		Name:            name,
		InitialInterval: defaultInitialInterval,
		MaxInterval:     defaultMaxInterval,
		CircuitBreaker:  &cb,
	}
}

// Client sends requests to one upstream through a circuit breaker, retrying
// 5xx answers and transport errors when configured to.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
}

// NewClient builds a Client and registers it with cfg.Registry.
func NewClient(cfg ClientConfig) *Client {
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = defaultInitialInterval
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = defaultMaxInterval
	}
	cb := DefaultCircuitBreakerConfig(cfg.Name)
	if cfg.CircuitBreaker != nil {
		cb = *cfg.CircuitBreaker
	}

	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport},
		breaker: NewCircuitBreaker[*http.Response](cb), //nolint:bodyclose // type param, not response
	}
	if cfg.Registry != nil {
		cfg.Registry.Register(cfg.Name, c)
	}
	return c
}

// Name returns the upstream name the client was built for.
func (c *Client) Name() string {
	return c.cfg.Name
}

// Do sends req under its own context. A 5xx that survives every attempt is
// returned as a response, not an error; the caller closes its body.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.DoWithContext(req.Context(), req)
}

// DoWithContext sends req under ctx.
func (c *Client) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := c.send(ctx, req)

	if c.cfg.Registry != nil {
		outcome := err
		if outcome == nil && resp.StatusCode >= http.StatusInternalServerError {
			outcome = &ServerError{StatusCode: resp.StatusCode}
		}
		c.cfg.Registry.Record(c.cfg.Name, outcome)
	}
	return resp, err
}

func (c *Client) send(ctx context.Context, req *http.Request) (*http.Response, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialInterval
	bo.MaxInterval = c.cfg.MaxInterval
	bo.MaxElapsedTime = 0

	// last holds the most recent response; earlier ones are closed as they
	// are replaced.
	var last *http.Response
	keep := func(resp *http.Response) {
		if resp == nil {
			return
		}
		if last != nil {
			_ = last.Body.Close()
		}
		last = resp
	}

	attempt := func() error {
		resp, err := c.breaker.Execute(func() (*http.Response, error) { //nolint:bodyclose // kept and closed by keep
			resp, err := c.http.Do(req.Clone(ctx))
			if err == nil && resp.StatusCode >= http.StatusInternalServerError {
				// Counted against the breaker, yet still handed back.
				return resp, &ServerError{StatusCode: resp.StatusCode}
			}
			return resp, err
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(ErrCircuitOpen)
		}
		keep(resp)
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, c.cfg.MaxRetries), ctx)
	err := backoff.Retry(attempt, policy)
	switch {
	case err == nil:
		return last, nil
	case last != nil && !errors.Is(err, ErrCircuitOpen):
		return last, nil
	default:
		if last != nil {
			_ = last.Body.Close()
		}
		return nil, err
	}
}

// ServerError is the breaker-facing error for a 5xx answer.
type ServerError struct {
	StatusCode int
}

func (e *ServerError) Error() string {
	return "server error: " + http.StatusText(e.StatusCode)
}

// CircuitBreakerState returns the breaker's current state.
func (c *Client) CircuitBreakerState() gobreaker.State {
	return c.breaker.State()
}
