// Package engine implements the follow, unfollow and like runs.
//
// Each run owns one pass over the feed or the following list and always
// ends the same way: mutated state is persisted, exactly one summary is sent
// to the notifier, and an Outcome describing the terminal state is returned.
// Interruption is context cancellation; it short-circuits the pass but not
// the cleanup.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/hevygrow/internal/eligibility"
	"github.com/sawpanic/hevygrow/internal/hevy"
	"github.com/sawpanic/hevygrow/internal/history"
	"github.com/sawpanic/hevygrow/internal/metrics"
	"github.com/sawpanic/hevygrow/internal/notify"
	"github.com/sawpanic/hevygrow/internal/state"
)

// Engine names, also used as metric labels
const (
	NameFollow   = "follow"
	NameUnfollow = "unfollow"
	NameLike     = "like"
)

const cleanupTimeout = 30 * time.Second

// API is the Feed Client surface the engines drive
type API interface {
	eligibility.WorkoutFetcher
	DiscoverFeed(ctx context.Context, index hevy.FeedIndex) []hevy.Workout
	LastWorkoutID(ctx context.Context, username string) string
	Following(ctx context.Context, username string) []string
	WorkoutLikers(ctx context.Context, workoutID string) []string
	CurrentUsername(ctx context.Context) (string, error)
	Follow(ctx context.Context, username string) (bool, error)
	Unfollow(ctx context.Context, username string) bool
	LikeWorkout(ctx context.Context, workoutID string) bool
}

// Pacer spaces out actions
type Pacer interface {
	Delay(ctx context.Context) error
}

// Runner is anything that performs one run
type Runner interface {
	Name() string
	Run(ctx context.Context) Outcome
}

// Deps are the collaborators shared by all engines. History, Metrics and Now
// are optional.
type Deps struct {
	API      API
	Store    state.Store
	Pacer    Pacer
	Notifier notify.Notifier
	History  history.Recorder
	Metrics  *metrics.Registry
	Now      func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Notifier == nil {
		d.Notifier = notify.Nop{}
	}
	if d.History == nil {
		d.History = history.Nop{}
	}
	return d
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Status is the terminal state of a run
type Status string

const (
	StatusDone        Status = "done"
	StatusInterrupted Status = "interrupted"
	StatusDailyLimit  Status = "daily_limit"
	StatusFailed      Status = "failed"
)

// Unfollowed is one unfollow with the reason behind it
type Unfollowed struct {
	Username string             `json:"username"`
	Reason   eligibility.Reason `json:"reason"`
}

// Outcome summarizes a finished run
type Outcome struct {
	Engine     string       `json:"engine"`
	RunID      string       `json:"run_id"`
	Status     Status       `json:"status"`
	Error      string       `json:"error,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Followed   []string     `json:"followed,omitempty"`
	Unfollowed []Unfollowed `json:"unfollowed,omitempty"`
	Liked      []string     `json:"liked,omitempty"`
	Message    string       `json:"message"`

	Err error `json:"-"`
}

// Duration is how long the run took
func (o Outcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}

// run carries per-run bookkeeping through an engine pass
type run struct {
	deps Deps
	out  *Outcome
	log  zerolog.Logger
}

// hooks let each engine plug its persistence and message into execute
type hooks struct {
	pass    func(ctx context.Context, r *run) error
	persist func(ctx context.Context) error
	message func(o *Outcome) string
}

// execute runs pass, classifies how it ended, then persists and notifies
// on a context that survives cancellation.
func execute(ctx context.Context, engine string, deps Deps, h hooks) Outcome {
	out := &Outcome{
		Engine:    engine,
		RunID:     uuid.NewString(),
		StartedAt: deps.now(),
	}
	r := &run{
		deps: deps,
		out:  out,
		log:  log.With().Str("engine", engine).Str("run_id", out.RunID).Logger(),
	}

	r.log.Info().Msg("run started")
	err := r.guard(ctx, h.pass)
	out.Status = classify(ctx, err)
	if out.Status == StatusFailed {
		out.Err = err
		out.Error = err.Error()
		r.log.Error().Err(err).Msg("run failed")
	}

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if h.persist != nil {
		if perr := h.persist(cleanupCtx); perr != nil {
			r.log.Error().Err(perr).Msg("failed to persist state")
		}
	}

	out.Message = h.message(out)
	if nerr := deps.Notifier.Notify(cleanupCtx, out.Message); nerr != nil {
		r.log.Error().Err(nerr).Msg("failed to send notification")
	}

	out.FinishedAt = deps.now()
	deps.Metrics.RecordRun(engine, string(out.Status), out.Duration())

	r.log.Info().
		Str("status", string(out.Status)).
		Int("followed", len(out.Followed)).
		Int("unfollowed", len(out.Unfollowed)).
		Int("liked", len(out.Liked)).
		Dur("took", out.Duration()).
		Msg("run finished")
	return *out
}

// guard converts a panic inside the pass into an error
func (r *run) guard(ctx context.Context, pass func(context.Context, *run) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().Str("stack", string(debug.Stack())).Msg("run panicked")
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return pass(ctx, r)
}

// classify maps how a pass ended to a status. A pass that returned cleanly
// after the context was cancelled was cut short by an empty response, so it
// counts as interrupted.
func classify(ctx context.Context, err error) Status {
	switch {
	case err == nil:
		if ctx.Err() != nil {
			return StatusInterrupted
		}
		return StatusDone
	case errors.Is(err, hevy.ErrDailyLimitReached):
		return StatusDailyLimit
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		if ctx.Err() != nil {
			return StatusInterrupted
		}
		return StatusFailed
	default:
		return StatusFailed
	}
}

// recordAction counts a successful action and appends it to the ledger.
// The ledger write outlives an interruption of the run.
func (r *run) recordAction(ctx context.Context, action, username, workoutID, reason string) {
	r.deps.Metrics.RecordAction(r.out.Engine, action)
	err := r.deps.History.Record(context.WithoutCancel(ctx), history.Action{
		RunID:     r.out.RunID,
		Engine:    r.out.Engine,
		Action:    action,
		Username:  username,
		WorkoutID: workoutID,
		Reason:    reason,
		At:        r.deps.now(),
	})
	if err != nil {
		r.log.Warn().Err(err).Str("username", username).Msg("failed to record action")
	}
}

// loadSnapshot reads the persisted documents an evaluation needs
func loadSnapshot(ctx context.Context, store state.Store) (eligibility.Snapshot, error) {
	whitelist, err := store.LoadWhitelist(ctx)
	if err != nil {
		return eligibility.Snapshot{}, fmt.Errorf("load whitelist: %w", err)
	}
	unfollowed, err := store.LoadUnfollowed(ctx)
	if err != nil {
		return eligibility.Snapshot{}, fmt.Errorf("load unfollowed: %w", err)
	}
	cache, err := store.LoadFollowCache(ctx)
	if err != nil {
		return eligibility.Snapshot{}, fmt.Errorf("load follow cache: %w", err)
	}
	if whitelist == nil {
		whitelist = state.Set{}
	}
	if unfollowed == nil {
		unfollowed = state.Set{}
	}
	if cache == nil {
		cache = state.FollowCache{}
	}
	return eligibility.Snapshot{Whitelist: whitelist, Unfollowed: unfollowed, Cache: cache}, nil
}

// statusPrefix is prepended to messages of runs that did not end cleanly
func statusPrefix(o *Outcome) string {
	switch o.Status {
	case StatusInterrupted:
		return "Run interrupted. "
	case StatusFailed:
		return fmt.Sprintf("Run failed: %s\n", o.Error)
	}
	return ""
}
