// Package hevy is the Feed Client: typed access to the remote fitness API.
//
// Every operation follows one contract. Ordinary failures (network errors,
// unexpected statuses, decode errors) are logged and turned into an empty
// result. A 429 triggers the shared rate-limit backoff and also yields an
// empty result; the request is not retried. A 400 on a write is a clean
// negative. The only error a caller ever has to branch on is
// ErrDailyLimitReached from Follow.
package hevy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/hevygrow/internal/metrics"
	"github.com/sawpanic/hevygrow/internal/net/client"
)

// ErrDailyLimitReached is returned by Follow when the service refuses any
// further follows today.
var ErrDailyLimitReached = errors.New("daily follow limit reached")

const dailyLimitMarker = "daily-limit-reached"

const maxBodyBytes = 8 << 20

// Backoffer performs the shared rate-limit wait
type Backoffer interface {
	Backoff(ctx context.Context) error
}

// Client talks to the remote API through an already wrapped *http.Client
type Client struct {
	baseURL string
	http    *http.Client
	backoff Backoffer
	metrics *metrics.Registry
}

// NewClient returns a Feed Client rooted at baseURL
func NewClient(baseURL string, httpClient *http.Client, backoff Backoffer, reg *metrics.Registry) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		backoff: backoff,
		metrics: reg,
	}
}

// response is what do hands back; status 0 means no response arrived
type response struct {
	status int
	body   []byte
}

func (r response) ok() bool {
	return r.status >= 200 && r.status < 300
}

func (c *Client) do(ctx context.Context, endpoint, method, path string, query url.Values, payload interface{}) (response, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return response{}, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return response{}, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.RecordResponse(endpoint, 0)
		return response{}, err
	}
	defer resp.Body.Close()

	c.metrics.RecordResponse(endpoint, resp.StatusCode)

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return response{status: resp.StatusCode}, fmt.Errorf("read body: %w", err)
	}

	log.Debug().
		Str("endpoint", endpoint).
		Str("method", method).
		Int("status", resp.StatusCode).
		Int("bytes", len(data)).
		Msg("api response")

	return response{status: resp.StatusCode, body: data}, nil
}

// rateLimited runs the backoff when the response was a 429
func (c *Client) rateLimited(ctx context.Context, endpoint string, r response) bool {
	if r.status != http.StatusTooManyRequests {
		return false
	}
	log.Warn().Str("endpoint", endpoint).Msg("rate limited by remote api")
	if c.backoff != nil {
		_ = c.backoff.Backoff(ctx)
	}
	return true
}

func (c *Client) getJSON(ctx context.Context, endpoint, path string, query url.Values, out interface{}) bool {
	r, err := c.do(ctx, endpoint, http.MethodGet, path, query, nil)
	if err != nil {
		failureEvent(err).Str("endpoint", endpoint).Msg("api request failed")
		return false
	}
	if c.rateLimited(ctx, endpoint, r) {
		return false
	}
	if !r.ok() {
		log.Warn().Str("endpoint", endpoint).Int("status", r.status).Msg("unexpected api status")
		return false
	}
	if err := json.Unmarshal(r.body, out); err != nil {
		log.Error().Err(err).Str("endpoint", endpoint).Msg("failed to decode api response")
		return false
	}
	return true
}

// DiscoverFeed fetches one page of the discovery feed. A zero index asks for
// the first page.
func (c *Client) DiscoverFeed(ctx context.Context, index FeedIndex) []Workout {
	path := "/discover_feed_workouts_paged"
	if !index.IsZero() {
		path += "/" + url.PathEscape(string(index))
	}

	var page workoutsPage
	if !c.getJSON(ctx, "discover_feed", path, nil, &page) {
		return nil
	}
	return page.Workouts
}

// UserWorkouts fetches a user's workouts, most recent first
func (c *Client) UserWorkouts(ctx context.Context, username string, limit, offset int) []Workout {
	q := url.Values{}
	q.Set("username", username)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var page workoutsPage
	if !c.getJSON(ctx, "user_workouts", "/user_workouts_paged", q, &page) {
		return nil
	}
	return page.Workouts
}

// LastWorkoutID returns the id of the user's most recent workout, or ""
func (c *Client) LastWorkoutID(ctx context.Context, username string) string {
	workouts := c.UserWorkouts(ctx, username, 1, 0)
	if len(workouts) == 0 {
		return ""
	}
	return workouts[0].ID
}

// Following lists the usernames the given account follows
func (c *Client) Following(ctx context.Context, username string) []string {
	var users []Interaction
	if !c.getJSON(ctx, "following", "/following/"+url.PathEscape(username), nil, &users) {
		return nil
	}
	return usernames(users)
}

// WorkoutLikers lists the usernames that liked a workout
func (c *Client) WorkoutLikers(ctx context.Context, workoutID string) []string {
	var users []Interaction
	if !c.getJSON(ctx, "workout_likes", "/workout_likes/"+url.PathEscape(workoutID), nil, &users) {
		return nil
	}
	return usernames(users)
}

// CurrentUsername resolves the username of the authenticated account. Unlike
// the other reads it returns an error, because callers cannot proceed
// without it.
func (c *Client) CurrentUsername(ctx context.Context) (string, error) {
	r, err := c.do(ctx, "account", http.MethodGet, "/user/account", nil, nil)
	if err != nil {
		return "", fmt.Errorf("fetch account: %w", err)
	}
	if c.rateLimited(ctx, "account", r) {
		return "", fmt.Errorf("fetch account: rate limited")
	}
	if !r.ok() {
		return "", fmt.Errorf("fetch account: unexpected status %d", r.status)
	}

	var acc account
	if err := json.Unmarshal(r.body, &acc); err != nil {
		return "", fmt.Errorf("decode account: %w", err)
	}
	if acc.Username == "" {
		return "", errors.New("username not found in account response")
	}
	return acc.Username, nil
}

// Follow follows username. It reports whether the follow took effect and
// returns ErrDailyLimitReached when the service signals its daily ceiling.
func (c *Client) Follow(ctx context.Context, username string) (bool, error) {
	r, err := c.do(ctx, "follow", http.MethodPost, "/follow", nil, map[string]string{"username": username})
	if err != nil {
		failureEvent(err).Str("username", username).Msg("failed to follow")
		return false, nil
	}
	if c.rateLimited(ctx, "follow", r) {
		return false, nil
	}

	switch {
	case r.status == http.StatusBadRequest:
		log.Warn().Str("username", username).Msg("follow rejected (400)")
		return false, nil
	case r.status == http.StatusForbidden && isDailyLimit(r.body):
		log.Warn().Str("username", username).Msg("daily follow limit reached for today")
		return false, ErrDailyLimitReached
	case !r.ok():
		log.Error().Str("username", username).Int("status", r.status).Msg("failed to follow")
		return false, nil
	}
	return true, nil
}

// Unfollow unfollows username and reports whether it took effect
func (c *Client) Unfollow(ctx context.Context, username string) bool {
	return c.write(ctx, "unfollow", "/unfollow", map[string]string{"username": username}, username)
}

// LikeWorkout likes a workout and reports whether it took effect
func (c *Client) LikeWorkout(ctx context.Context, workoutID string) bool {
	return c.write(ctx, "like", "/workout/like/"+url.PathEscape(workoutID), nil, workoutID)
}

func (c *Client) write(ctx context.Context, endpoint, path string, payload interface{}, subject string) bool {
	r, err := c.do(ctx, endpoint, http.MethodPost, path, nil, payload)
	if err != nil {
		failureEvent(err).Str("endpoint", endpoint).Str("subject", subject).Msg("write action failed")
		return false
	}
	if c.rateLimited(ctx, endpoint, r) {
		return false
	}
	if r.status == http.StatusBadRequest {
		log.Warn().Str("endpoint", endpoint).Str("subject", subject).Msg("write action rejected (400)")
		return false
	}
	if !r.ok() {
		log.Error().Str("endpoint", endpoint).Str("subject", subject).Int("status", r.status).
			Msg("write action failed")
		return false
	}
	return true
}

// failureCause names why a request produced no response. Calls refused
// locally by the breaker or the daily budget are expected.
func failureCause(err error) string {
	var perr *client.ProviderError
	if errors.As(err, &perr) {
		switch {
		case perr.IsCircuitOpen():
			return "circuit_open"
		case perr.IsBudgetExhausted():
			return "budget_exhausted"
		}
	}
	return "transport"
}

func failureEvent(err error) *zerolog.Event {
	cause := failureCause(err)
	if cause == "transport" {
		return log.Error().Err(err).Str("cause", cause)
	}
	return log.Warn().Err(err).Str("cause", cause)
}

func isDailyLimit(body []byte) bool {
	var e apiError
	if err := json.Unmarshal(body, &e); err != nil {
		return false
	}
	return e.Error == dailyLimitMarker
}

func usernames(users []Interaction) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		if u.Username != "" {
			out = append(out, u.Username)
		}
	}
	return out
}
