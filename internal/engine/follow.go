package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sawpanic/hevygrow/internal/config"
	"github.com/sawpanic/hevygrow/internal/eligibility"
	"github.com/sawpanic/hevygrow/internal/hevy"
)

// FollowEngine walks the discovery feed and follows recently active users
// who interacted with feed workouts, commenters first.
type FollowEngine struct {
	cfg  config.FollowConfig
	eval *eligibility.Evaluator
	deps Deps
}

// NewFollowEngine builds a follow engine
func NewFollowEngine(cfg config.FollowConfig, eval *eligibility.Evaluator, deps Deps) *FollowEngine {
	return &FollowEngine{cfg: cfg, eval: eval, deps: deps.withDefaults()}
}

func (e *FollowEngine) Name() string { return NameFollow }

// Run performs one follow pass. It stops when target_count follows have
// succeeded, the feed runs out, the service reports its daily limit or ctx
// is cancelled. The follow cache is saved whenever it was loaded.
func (e *FollowEngine) Run(ctx context.Context) Outcome {
	var (
		snap   eligibility.Snapshot
		loaded bool
	)

	return execute(ctx, NameFollow, e.deps, hooks{
		pass: func(ctx context.Context, r *run) error {
			var err error
			if snap, err = loadSnapshot(ctx, e.deps.Store); err != nil {
				return err
			}
			loaded = true
			return e.pass(ctx, r, snap)
		},
		persist: func(ctx context.Context) error {
			if !loaded {
				return nil
			}
			return e.deps.Store.SaveFollowCache(ctx, snap.Cache)
		},
		message: followMessage,
	})
}

func (e *FollowEngine) pass(ctx context.Context, r *run, snap eligibility.Snapshot) error {
	target := e.cfg.TargetCount
	if target <= 0 {
		r.log.Info().Msg("follow target is zero, nothing to do")
		return nil
	}

	attempted := make(map[string]struct{})
	var index hevy.FeedIndex

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		workouts := e.deps.API.DiscoverFeed(ctx, index)
		if len(workouts) == 0 {
			r.log.Info().Int("page", page).Msg("discovery feed exhausted")
			return nil
		}
		r.log.Debug().Int("page", page).Int("workouts", len(workouts)).Msg("fetched feed page")

		for _, w := range workouts {
			for _, name := range candidates(w) {
				if err := ctx.Err(); err != nil {
					return err
				}
				if _, seen := attempted[name]; seen {
					continue
				}
				attempted[name] = struct{}{}

				if !e.eval.ShouldFollow(ctx, name, snap, e.deps.now()) {
					continue
				}

				if err := e.deps.Pacer.Delay(ctx); err != nil {
					return err
				}

				ok, err := e.deps.API.Follow(ctx, name)
				if errors.Is(err, hevy.ErrDailyLimitReached) {
					return err
				}
				if !ok {
					r.log.Warn().Str("username", name).Msg("follow did not take effect, moving on")
					continue
				}

				snap.Cache.Add(name, e.deps.now())
				r.out.Followed = append(r.out.Followed, name)
				r.recordAction(ctx, "follow", name, w.ID, "")
				r.log.Info().Str("username", name).Int("count", len(r.out.Followed)).Msg("followed user")

				if len(r.out.Followed) >= target {
					r.log.Info().Int("target", target).Msg("follow target reached")
					return nil
				}
				if err := e.deps.Pacer.Delay(ctx); err != nil {
					return err
				}
			}
		}

		index = workouts[len(workouts)-1].Index
		if index.IsZero() {
			r.log.Info().Int("page", page).Msg("no further feed pages")
			return nil
		}
		if err := e.deps.Pacer.Delay(ctx); err != nil {
			return err
		}
	}
}

// candidates lists a workout's commenters then likers in feed order
func candidates(w hevy.Workout) []string {
	out := make([]string, 0, len(w.Comments)+len(w.Likes))
	for _, c := range w.Comments {
		if c.Username != "" {
			out = append(out, c.Username)
		}
	}
	for _, l := range w.Likes {
		if l.Username != "" {
			out = append(out, l.Username)
		}
	}
	return out
}

func followMessage(o *Outcome) string {
	var b strings.Builder

	switch {
	case o.Status == StatusDailyLimit && len(o.Followed) == 0:
		return "Daily follow limit reached. No new users were followed today."
	case o.Status == StatusDailyLimit:
		fmt.Fprintf(&b, "Daily follow limit reached after following %d users:", len(o.Followed))
	case len(o.Followed) == 0:
		return statusPrefix(o) + "No new users followed."
	default:
		fmt.Fprintf(&b, "%sFollowed %d new users:", statusPrefix(o), len(o.Followed))
	}

	for _, name := range o.Followed {
		b.WriteString("\n- ")
		b.WriteString(name)
	}
	return b.String()
}
