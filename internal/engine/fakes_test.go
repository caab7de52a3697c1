package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sawpanic/hevygrow/internal/config"
	"github.com/sawpanic/hevygrow/internal/eligibility"
	"github.com/sawpanic/hevygrow/internal/hevy"
	"github.com/sawpanic/hevygrow/internal/history"
	"github.com/sawpanic/hevygrow/internal/metrics"
	"github.com/sawpanic/hevygrow/internal/state"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func daysAgo(n int) time.Time {
	return testNow.Add(-time.Duration(n) * 24 * time.Hour)
}

// fakeAPI is an in-memory Feed Client
type fakeAPI struct {
	pages        map[hevy.FeedIndex][]hevy.Workout
	lastWorkout  map[string]time.Time
	workoutIDs   map[string]string
	likers       map[string][]string
	following    []string
	me           string
	meErr        error
	followErr    map[string]error
	followReject map[string]bool

	feedCalls   []hevy.FeedIndex
	lookups     []string
	followed    []string
	unfollowed  []string
	liked       []string
	onFollow    func()
	onFeed      func()
	panicOnFeed bool

	// failLookups and failLikes make the first n calls for a user or
	// workout come back empty
	failLookups map[string]int
	failLikes   map[string]int
	idLookups   []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		pages:        map[hevy.FeedIndex][]hevy.Workout{},
		lastWorkout:  map[string]time.Time{},
		workoutIDs:   map[string]string{},
		likers:       map[string][]string{},
		followErr:    map[string]error{},
		followReject: map[string]bool{},
		failLookups:  map[string]int{},
		failLikes:    map[string]int{},
		me:           "me",
	}
}

func (f *fakeAPI) DiscoverFeed(ctx context.Context, index hevy.FeedIndex) []hevy.Workout {
	if f.panicOnFeed {
		panic("feed exploded")
	}
	f.feedCalls = append(f.feedCalls, index)
	if f.onFeed != nil {
		f.onFeed()
	}
	return f.pages[index]
}

func (f *fakeAPI) UserWorkouts(ctx context.Context, username string, limit, offset int) []hevy.Workout {
	f.lookups = append(f.lookups, username)
	t, ok := f.lastWorkout[username]
	if !ok {
		return nil
	}
	return []hevy.Workout{{ID: username + "-latest", EndTime: hevy.Epoch(t.Unix())}}
}

func (f *fakeAPI) LastWorkoutID(ctx context.Context, username string) string {
	f.idLookups = append(f.idLookups, username)
	if f.failLookups[username] > 0 {
		f.failLookups[username]--
		return ""
	}
	return f.workoutIDs[username]
}

func (f *fakeAPI) Following(ctx context.Context, username string) []string {
	return f.following
}

func (f *fakeAPI) WorkoutLikers(ctx context.Context, workoutID string) []string {
	return f.likers[workoutID]
}

func (f *fakeAPI) CurrentUsername(ctx context.Context) (string, error) {
	if f.meErr != nil {
		return "", f.meErr
	}
	return f.me, nil
}

func (f *fakeAPI) Follow(ctx context.Context, username string) (bool, error) {
	if f.onFollow != nil {
		f.onFollow()
	}
	if err := f.followErr[username]; err != nil {
		return false, err
	}
	if f.followReject[username] {
		return false, nil
	}
	f.followed = append(f.followed, username)
	return true, nil
}

func (f *fakeAPI) Unfollow(ctx context.Context, username string) bool {
	f.unfollowed = append(f.unfollowed, username)
	return true
}

func (f *fakeAPI) LikeWorkout(ctx context.Context, workoutID string) bool {
	if f.failLikes[workoutID] > 0 {
		f.failLikes[workoutID]--
		return false
	}
	f.liked = append(f.liked, workoutID)
	return true
}

// memStore is an in-memory state.Store that counts saves
type memStore struct {
	whitelist  state.Set
	unfollowed state.Set
	cache      state.FollowCache
	loadErr    error

	unfollowedSaves int
	cacheSaves      int
}

func newMemStore() *memStore {
	return &memStore{whitelist: state.Set{}, unfollowed: state.Set{}, cache: state.FollowCache{}}
}

func (m *memStore) LoadWhitelist(ctx context.Context) (state.Set, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return copySet(m.whitelist), nil
}

func (m *memStore) LoadUnfollowed(ctx context.Context) (state.Set, error) {
	return copySet(m.unfollowed), nil
}

func (m *memStore) SaveUnfollowed(ctx context.Context, s state.Set) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	m.unfollowedSaves++
	m.unfollowed = copySet(s)
	return nil
}

func (m *memStore) LoadFollowCache(ctx context.Context) (state.FollowCache, error) {
	out := state.FollowCache{}
	for k, v := range m.cache {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) SaveFollowCache(ctx context.Context, c state.FollowCache) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	m.cacheSaves++
	m.cache = state.FollowCache{}
	for k, v := range c {
		m.cache[k] = v
	}
	return nil
}

func copySet(s state.Set) state.Set {
	return state.NewSet(s.Sorted()...)
}

// countingPacer never sleeps; it can cancel the run after n delays
type countingPacer struct {
	calls    int
	cancelAt int
	cancel   context.CancelFunc
}

func (p *countingPacer) Delay(ctx context.Context) error {
	p.calls++
	if p.cancel != nil && p.calls == p.cancelAt {
		p.cancel()
	}
	return ctx.Err()
}

// recordingNotifier keeps every message
type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (n *recordingNotifier) Notify(ctx context.Context, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return n.err
}

// recordingHistory keeps every recorded action
type recordingHistory struct {
	actions []history.Action
}

func (h *recordingHistory) Record(ctx context.Context, a history.Action) error {
	if ctx.Err() != nil {
		return errors.New("history context cancelled")
	}
	h.actions = append(h.actions, a)
	return nil
}

type harness struct {
	api      *fakeAPI
	store    *memStore
	pacer    *countingPacer
	notifier *recordingNotifier
	history  *recordingHistory
	metrics  *metrics.Registry
}

func newHarness() *harness {
	return &harness{
		api:      newFakeAPI(),
		store:    newMemStore(),
		pacer:    &countingPacer{},
		notifier: &recordingNotifier{},
		history:  &recordingHistory{},
		metrics:  metrics.NewRegistry(),
	}
}

func (h *harness) deps() Deps {
	return Deps{
		API:      h.api,
		Store:    h.store,
		Pacer:    h.pacer,
		Notifier: h.notifier,
		History:  h.history,
		Metrics:  h.metrics,
		Now:      func() time.Time { return testNow },
	}
}

func (h *harness) evaluator() *eligibility.Evaluator {
	return eligibility.New(h.api,
		config.FollowConfig{WorkoutLookback: 3},
		config.UnfollowConfig{InactiveThreshold: 21, FollowBackThreshold: 7},
	)
}

func workout(id string, index hevy.FeedIndex, comments, likes []string) hevy.Workout {
	w := hevy.Workout{ID: id, Index: index}
	for _, c := range comments {
		w.Comments = append(w.Comments, hevy.Interaction{Username: c})
	}
	for _, l := range likes {
		w.Likes = append(w.Likes, hevy.Interaction{Username: l})
	}
	return w
}
