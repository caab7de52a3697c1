package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/hevygrow/internal/config"
	"github.com/sawpanic/hevygrow/internal/hevy"
)

func TestFollowEngine_CommentersBeforeLikers(t *testing.T) {
	h := newHarness()
	h.api.pages[""] = []hevy.Workout{workout("w1", "0", []string{"a"}, []string{"b"})}
	h.api.lastWorkout["a"] = daysAgo(2)
	h.api.lastWorkout["b"] = daysAgo(2)

	out := NewFollowEngine(config.FollowConfig{TargetCount: 2}, h.evaluator(), h.deps()).Run(context.Background())

	assert.Equal(t, StatusDone, out.Status)
	assert.Equal(t, []string{"a", "b"}, out.Followed)
	assert.Equal(t, []string{"a", "b"}, h.api.followed)
	assert.Len(t, h.store.cache, 2)
	assert.Equal(t, testNow.Unix(), h.store.cache["a"].FollowTime)
	assert.Equal(t, 1, h.store.cacheSaves)

	require.Len(t, h.notifier.messages, 1)
	assert.Equal(t, "Followed 2 new users:\n- a\n- b", h.notifier.messages[0])
	assert.Equal(t, 2.0, h.metrics.ActionTotal(NameFollow, "follow"))
	assert.Equal(t, 1.0, h.metrics.RunTotal(NameFollow, "done"))
	require.Len(t, h.history.actions, 2)
	assert.Equal(t, out.RunID, h.history.actions[0].RunID)
	assert.Equal(t, "w1", h.history.actions[0].WorkoutID)
}

func TestFollowEngine_NeverExceedsTarget(t *testing.T) {
	h := newHarness()
	names := []string{"a", "b", "c", "d", "e"}
	h.api.pages[""] = []hevy.Workout{workout("w1", "7", names, nil)}
	h.api.pages["7"] = []hevy.Workout{workout("w2", "6", []string{"f", "g"}, nil)}
	for _, n := range append(names, "f", "g") {
		h.api.lastWorkout[n] = daysAgo(1)
	}

	out := NewFollowEngine(config.FollowConfig{TargetCount: 3}, h.evaluator(), h.deps()).Run(context.Background())

	assert.Equal(t, StatusDone, out.Status)
	assert.Len(t, h.api.followed, 3)
	assert.Equal(t, []hevy.FeedIndex{""}, h.api.feedCalls, "target reached before the next page")
}

func TestFollowEngine_SkipsHandledAndStaleUsers(t *testing.T) {
	h := newHarness()
	h.store.unfollowed.Add("gone")
	h.store.cache.Add("known", daysAgo(3))
	h.store.whitelist.Add("friend")
	h.api.pages[""] = []hevy.Workout{workout("w1", "0", []string{"gone", "known", "friend", "stale", "fresh"}, nil)}
	for _, n := range []string{"gone", "known", "friend", "fresh"} {
		h.api.lastWorkout[n] = daysAgo(1)
	}
	h.api.lastWorkout["stale"] = daysAgo(45)

	out := NewFollowEngine(config.FollowConfig{TargetCount: 10}, h.evaluator(), h.deps()).Run(context.Background())

	assert.Equal(t, []string{"fresh"}, out.Followed)
	assert.Equal(t, []string{"stale", "fresh"}, h.api.lookups, "handled users cost no lookups")
	assert.Contains(t, h.store.cache, "known")
}

func TestFollowEngine_DailyLimitStopsImmediately(t *testing.T) {
	h := newHarness()
	h.api.pages[""] = []hevy.Workout{workout("w1", "5", []string{"a", "b", "c"}, nil)}
	h.api.pages["5"] = []hevy.Workout{workout("w2", "0", []string{"d"}, nil)}
	for _, n := range []string{"a", "b", "c", "d"} {
		h.api.lastWorkout[n] = daysAgo(1)
	}
	h.api.followErr["b"] = hevy.ErrDailyLimitReached

	var attempts int
	h.api.onFollow = func() { attempts++ }

	out := NewFollowEngine(config.FollowConfig{TargetCount: 10}, h.evaluator(), h.deps()).Run(context.Background())

	assert.Equal(t, StatusDailyLimit, out.Status)
	assert.Equal(t, 2, attempts, "no follow attempted after the daily limit")
	assert.Equal(t, []string{"a"}, out.Followed)
	assert.Equal(t, []hevy.FeedIndex{""}, h.api.feedCalls)
	assert.Contains(t, h.store.cache, "a", "cache persisted after abort")

	require.Len(t, h.notifier.messages, 1)
	assert.Contains(t, h.notifier.messages[0], "Daily follow limit reached")
	assert.NotContains(t, h.notifier.messages[0], "No new users followed")
}

func TestFollowEngine_DailyLimitWithNothingFollowed(t *testing.T) {
	h := newHarness()
	h.api.pages[""] = []hevy.Workout{workout("w1", "0", []string{"a"}, nil)}
	h.api.lastWorkout["a"] = daysAgo(1)
	h.api.followErr["a"] = hevy.ErrDailyLimitReached

	out := NewFollowEngine(config.FollowConfig{TargetCount: 10}, h.evaluator(), h.deps()).Run(context.Background())

	assert.Equal(t, StatusDailyLimit, out.Status)
	require.Len(t, h.notifier.messages, 1)
	assert.Equal(t, "Daily follow limit reached. No new users were followed today.", h.notifier.messages[0])
}

func TestFollowEngine_RejectedFollowMovesOn(t *testing.T) {
	h := newHarness()
	h.api.pages[""] = []hevy.Workout{
		workout("w1", "3", []string{"a"}, []string{"b"}),
		workout("w2", "0", []string{"a"}, nil),
	}
	h.api.lastWorkout["a"] = daysAgo(1)
	h.api.lastWorkout["b"] = daysAgo(1)
	h.api.followReject["a"] = true

	var attempts int
	h.api.onFollow = func() { attempts++ }

	out := NewFollowEngine(config.FollowConfig{TargetCount: 10}, h.evaluator(), h.deps()).Run(context.Background())

	assert.Equal(t, StatusDone, out.Status)
	assert.Equal(t, []string{"b"}, out.Followed)
	assert.Equal(t, 2, attempts, "a rejected candidate is not retried")
}

func TestFollowEngine_EmptyFeed(t *testing.T) {
	h := newHarness()

	out := NewFollowEngine(config.FollowConfig{TargetCount: 5}, h.evaluator(), h.deps()).Run(context.Background())

	assert.Equal(t, StatusDone, out.Status)
	require.Len(t, h.notifier.messages, 1)
	assert.Equal(t, "No new users followed.", h.notifier.messages[0])
	assert.Equal(t, 1, h.store.cacheSaves)
}

// A 429 surfaces as an empty page, which ends pagination early.
func TestFollowEngine_RateLimitedPageEndsRun(t *testing.T) {
	h := newHarness()
	h.api.pages[""] = []hevy.Workout{workout("w1", "9", nil, nil)}

	out := NewFollowEngine(config.FollowConfig{TargetCount: 5}, h.evaluator(), h.deps()).Run(context.Background())

	assert.Equal(t, StatusDone, out.Status)
	assert.Equal(t, []hevy.FeedIndex{"", "9"}, h.api.feedCalls)
}

func TestFollowEngine_InterruptStillPersistsAndNotifies(t *testing.T) {
	h := newHarness()
	h.api.pages[""] = []hevy.Workout{workout("w1", "0", []string{"a", "b", "c"}, nil)}
	for _, n := range []string{"a", "b", "c"} {
		h.api.lastWorkout[n] = daysAgo(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// delays: before a, after a, before b -> cancel while waiting to follow b
	h.pacer.cancel = cancel
	h.pacer.cancelAt = 3

	out := NewFollowEngine(config.FollowConfig{TargetCount: 10}, h.evaluator(), h.deps()).Run(ctx)

	assert.Equal(t, StatusInterrupted, out.Status)
	assert.Equal(t, []string{"a"}, out.Followed)
	assert.Equal(t, 1, h.store.cacheSaves)
	assert.Contains(t, h.store.cache, "a")
	require.Len(t, h.notifier.messages, 1)
	assert.Equal(t, "Run interrupted. Followed 1 new users:\n- a", h.notifier.messages[0])
}

func TestFollowEngine_PanicIsFatalToRun(t *testing.T) {
	h := newHarness()
	h.api.panicOnFeed = true

	out := NewFollowEngine(config.FollowConfig{TargetCount: 5}, h.evaluator(), h.deps()).Run(context.Background())

	assert.Equal(t, StatusFailed, out.Status)
	assert.Contains(t, out.Error, "feed exploded")
	require.Len(t, h.notifier.messages, 1)
	assert.Contains(t, h.notifier.messages[0], "Run failed")
	assert.Equal(t, 1, h.store.cacheSaves)
}

func TestFollowEngine_LoadFailureSkipsPersist(t *testing.T) {
	h := newHarness()
	h.store.loadErr = errors.New("redis down")

	out := NewFollowEngine(config.FollowConfig{TargetCount: 5}, h.evaluator(), h.deps()).Run(context.Background())

	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, 0, h.store.cacheSaves)
	require.Len(t, h.notifier.messages, 1)
	assert.Contains(t, h.notifier.messages[0], "redis down")
}

func TestFollowEngine_NotifierFailureIsNotFatal(t *testing.T) {
	h := newHarness()
	h.notifier.err = errors.New("webhook down")

	out := NewFollowEngine(config.FollowConfig{TargetCount: 5}, h.evaluator(), h.deps()).Run(context.Background())

	assert.Equal(t, StatusDone, out.Status)
	assert.Len(t, h.notifier.messages, 1)
}

func TestFollowEngine_CancelDuringFeedFetchIsInterrupted(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.api.onFeed = cancel

	out := NewFollowEngine(config.FollowConfig{TargetCount: 5}, h.evaluator(), h.deps()).Run(ctx)

	assert.Equal(t, StatusInterrupted, out.Status)
	require.Len(t, h.notifier.messages, 1)
	assert.Equal(t, "Run interrupted. No new users followed.", h.notifier.messages[0])
}
