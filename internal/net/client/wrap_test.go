package client

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/hevygrow/internal/metrics"
	"github.com/sawpanic/hevygrow/internal/net/budget"
)

func TestWrapper_StampsIdentityHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewHTTPClient(WrapperConfig{
		Name: "api",
		Identity: Identity{
			APIKey:    "key",
			AuthToken: "token",
			Platform:  "web",
		},
	}, time.Second)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "key", got.Get("x-api-key"))
	assert.Equal(t, "token", got.Get("auth-token"))
	assert.Equal(t, "web", got.Get("Hevy-Platform"))
	assert.Equal(t, "application/json, text/plain, */*", got.Get("Accept"))
	assert.Equal(t, "hevygrow/1.0", got.Get("User-Agent"))
}

func TestWrapper_BudgetExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewHTTPClient(WrapperConfig{
		Name:          "api",
		BudgetTracker: budget.NewTracker(1, 0),
	}, time.Second)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	_, err = client.Get(srv.URL)
	require.Error(t, err)

	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.True(t, perr.IsBudgetExhausted())
}

func TestWrapper_LogsRemainingBudgetAtDebug(t *testing.T) {
	var buf bytes.Buffer
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	log.Logger = zerolog.New(&buf)
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	defer func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	}()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewHTTPClient(WrapperConfig{
		Name:          "api",
		BudgetTracker: budget.NewTracker(5, 0),
	}, time.Second)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Contains(t, buf.String(), `"message":"request admitted"`)
	assert.Contains(t, buf.String(), `"budget_remaining":4`)
}

func TestWrapper_BreakerOpensOnServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	reg := metrics.NewRegistry()
	client := NewHTTPClient(WrapperConfig{
		Name:           "api",
		CircuitBreaker: NewBreaker("api", 2, time.Minute, reg),
	}, time.Second)

	for i := 0; i < 2; i++ {
		resp, err := client.Get(srv.URL)
		require.NoError(t, err, "5xx responses are still handed back")
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		resp.Body.Close()
	}

	_, err := client.Get(srv.URL)
	require.Error(t, err)

	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.True(t, perr.IsCircuitOpen())
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits), "open breaker must not reach the server")
}

func TestWrapper_ClientErrorsDoNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewHTTPClient(WrapperConfig{
		Name:           "api",
		CircuitBreaker: NewBreaker("api", 1, time.Minute, nil),
	}, time.Second)

	for i := 0; i < 5; i++ {
		resp, err := client.Get(srv.URL)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	}
}

func TestNewBreaker_ZeroThresholdDisables(t *testing.T) {
	assert.Nil(t, NewBreaker("api", 0, time.Minute, nil))
}
