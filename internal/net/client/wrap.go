package client

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/hevygrow/internal/metrics"
	"github.com/sawpanic/hevygrow/internal/net/budget"
	"github.com/sawpanic/hevygrow/internal/net/ratelimit"
)

// Identity carries the fixed headers every request to the remote API needs
type Identity struct {
	APIKey    string
	AuthToken string
	Platform  string
	UserAgent string
}

// WrapperConfig configures the HTTP client wrapper
type WrapperConfig struct {
	Name           string
	Identity       Identity
	RateLimiter    *ratelimit.Limiter
	BudgetTracker  *budget.Tracker
	CircuitBreaker *gobreaker.CircuitBreaker
}

// Wrapper is an http.RoundTripper that stamps identity headers and applies
// the budget, rate limit and circuit breaker in that order.
type Wrapper struct {
	config    WrapperConfig
	transport http.RoundTripper
}

// NewWrapper creates a new HTTP client wrapper around transport
func NewWrapper(config WrapperConfig, transport http.RoundTripper) *Wrapper {
	if transport == nil {
		transport = http.DefaultTransport
	}
	if config.Identity.UserAgent == "" {
		config.Identity.UserAgent = "hevygrow/1.0"
	}
	return &Wrapper{config: config, transport: transport}
}

// NewHTTPClient returns an *http.Client whose transport is the wrapper
func NewHTTPClient(config WrapperConfig, timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: NewWrapper(config, nil),
		Timeout:   timeout,
	}
}

// errServerStatus marks a 5xx response as a breaker failure while still
// handing the response back to the caller.
var errServerStatus = errors.New("server error status")

// RoundTrip implements http.RoundTripper
func (w *Wrapper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	w.stampHeaders(req)

	if err := w.config.BudgetTracker.Consume(); err != nil {
		return nil, &ProviderError{Provider: w.config.Name, Type: "budget", Err: err}
	}

	if err := w.config.RateLimiter.Wait(req.Context(), req.URL.Host); err != nil {
		return nil, &ProviderError{
			Provider: w.config.Name,
			Type:     "rate_limit",
			Err:      fmt.Errorf("rate limit wait failed: %w", err),
		}
	}

	if e := log.Debug(); e.Enabled() {
		e.Str("provider", w.config.Name).
			Str("path", req.URL.Path).
			Int64("budget_remaining", w.config.BudgetTracker.Remaining()).
			Float64("tokens", w.config.RateLimiter.Tokens(req.URL.Host)).
			Msg("request admitted")
	}

	if w.config.CircuitBreaker == nil {
		resp, err := w.transport.RoundTrip(req)
		if err != nil {
			return nil, &ProviderError{Provider: w.config.Name, Type: "transport", Err: err}
		}
		return resp, nil
	}

	result, err := w.config.CircuitBreaker.Execute(func() (interface{}, error) {
		resp, err := w.transport.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return resp, errServerStatus
		}
		return resp, nil
	})

	if resp, ok := result.(*http.Response); ok && resp != nil {
		return resp, nil
	}

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, &ProviderError{Provider: w.config.Name, Type: "circuit", Err: err}
	case err != nil:
		return nil, &ProviderError{Provider: w.config.Name, Type: "transport", Err: err}
	}
	return nil, &ProviderError{Provider: w.config.Name, Type: "transport", Err: errors.New("empty response")}
}

func (w *Wrapper) stampHeaders(req *http.Request) {
	id := w.config.Identity
	if id.APIKey != "" {
		req.Header.Set("x-api-key", id.APIKey)
	}
	if id.AuthToken != "" {
		req.Header.Set("auth-token", id.AuthToken)
	}
	if id.Platform != "" {
		req.Header.Set("Hevy-Platform", id.Platform)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json, text/plain, */*")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", id.UserAgent)
	}
}

// NewBreaker builds the outbound circuit breaker. It opens after
// failureThreshold consecutive network or 5xx failures and stays open for
// openTimeout. A zero threshold returns nil (no breaker).
func NewBreaker(name string, failureThreshold uint32, openTimeout time.Duration, reg *metrics.Registry) *gobreaker.CircuitBreaker {
	if failureThreshold == 0 {
		return nil
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state changed")
			reg.SetBreakerState(name, int(to))
		},
	})
}

// ProviderError represents a request that never produced a response
type ProviderError struct {
	Provider string `json:"provider"`
	Type     string `json:"type"` // "budget", "rate_limit", "circuit", "transport"
	Err      error  `json:"-"`
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s %s error: %v", e.Provider, e.Type, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsBudgetExhausted returns true if the daily request budget refused the call
func (e *ProviderError) IsBudgetExhausted() bool {
	return e.Type == "budget"
}

// IsCircuitOpen returns true if the breaker refused the call
func (e *ProviderError) IsCircuitOpen() bool {
	return e.Type == "circuit"
}
