// Package eligibility decides who to follow and who to unfollow from
// activity recency and elapsed-time thresholds.
package eligibility

import (
	"context"
	"fmt"
	"time"

	"github.com/sawpanic/hevygrow/internal/config"
	"github.com/sawpanic/hevygrow/internal/hevy"
	"github.com/sawpanic/hevygrow/internal/state"
)

// MaxFollowAge is how recent a candidate's last workout must be to follow them
const MaxFollowAge = 30 * 24 * time.Hour

const day = 24 * time.Hour

// WorkoutFetcher is the slice of the Feed Client the evaluator needs
type WorkoutFetcher interface {
	UserWorkouts(ctx context.Context, username string, limit, offset int) []hevy.Workout
}

// Snapshot is the persisted state an evaluation reads
type Snapshot struct {
	Whitelist  state.Set
	Unfollowed state.Set
	Cache      state.FollowCache
}

// ReasonKind classifies why a user should be unfollowed
type ReasonKind string

const (
	Inactive     ReasonKind = "inactive"
	NoFollowBack ReasonKind = "no_follow_back"
)

// Reason is an unfollow decision with the number of whole days that
// triggered it.
type Reason struct {
	Kind ReasonKind `json:"kind"`
	Days int        `json:"days"`
}

func (r Reason) String() string {
	if r.Kind == Inactive {
		return fmt.Sprintf("inactive for %d days", r.Days)
	}
	return fmt.Sprintf("no follow back after %d days", r.Days)
}

// Evaluator applies the follow and unfollow rules
type Evaluator struct {
	api                 WorkoutFetcher
	lookback            int
	inactiveThreshold   time.Duration
	followBackThreshold time.Duration
}

// New builds an evaluator from the follow and unfollow settings
func New(api WorkoutFetcher, follow config.FollowConfig, unfollow config.UnfollowConfig) *Evaluator {
	lookback := follow.WorkoutLookback
	if lookback <= 0 {
		lookback = 3
	}
	return &Evaluator{
		api:                 api,
		lookback:            lookback,
		inactiveThreshold:   time.Duration(unfollow.InactiveThreshold) * day,
		followBackThreshold: time.Duration(unfollow.FollowBackThreshold) * day,
	}
}

// ShouldFollow reports whether username is a fresh, recently active user.
// Users already handled (ledger, cache or whitelist) are rejected without a
// network call. A true result means one lookup was spent; callers pace
// themselves before acting on it.
func (e *Evaluator) ShouldFollow(ctx context.Context, username string, snap Snapshot, now time.Time) bool {
	if username == "" || snap.Unfollowed.Has(username) || snap.Cache.Has(username) || snap.Whitelist.Has(username) {
		return false
	}

	last, ok := e.lastWorkout(ctx, username)
	if !ok {
		return false
	}
	return now.Sub(last) <= MaxFollowAge
}

// ShouldUnfollow returns the reason to unfollow username, if any. Only users
// in the follow cache with a recorded follow time are considered, and they
// cost no lookup otherwise. Inactivity wins over a missing follow back when
// both hold.
func (e *Evaluator) ShouldUnfollow(ctx context.Context, username string, snap Snapshot, now time.Time) (Reason, bool) {
	if snap.Whitelist.Has(username) || snap.Unfollowed.Has(username) {
		return Reason{}, false
	}
	entry, cached := snap.Cache[username]
	if !cached || entry.FollowTime == 0 {
		return Reason{}, false
	}

	last, ok := e.lastWorkout(ctx, username)
	if !ok {
		return Reason{}, false
	}

	if idle := now.Sub(last); idle > e.inactiveThreshold {
		return Reason{Kind: Inactive, Days: wholeDays(idle)}, true
	}
	if since := now.Sub(entry.Followed()); since > e.followBackThreshold {
		return Reason{Kind: NoFollowBack, Days: wholeDays(since)}, true
	}
	return Reason{}, false
}

func (e *Evaluator) lastWorkout(ctx context.Context, username string) (time.Time, bool) {
	workouts := e.api.UserWorkouts(ctx, username, e.lookback, 0)
	if len(workouts) == 0 {
		return time.Time{}, false
	}
	return workouts[0].EndTime.Time(), true
}

func wholeDays(d time.Duration) int {
	return int(d / day)
}
