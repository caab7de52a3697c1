package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sawpanic/hevygrow/internal/config"
	"github.com/sawpanic/hevygrow/internal/eligibility"
)

// errNoUsername aborts an unfollow run before anything is evaluated
var errNoUsername = errors.New("could not resolve own username")

// UnfollowEngine unfollows users the agent followed who went inactive or
// never followed back.
type UnfollowEngine struct {
	cfg  config.UnfollowConfig
	eval *eligibility.Evaluator
	deps Deps
}

// NewUnfollowEngine builds an unfollow engine
func NewUnfollowEngine(cfg config.UnfollowConfig, eval *eligibility.Evaluator, deps Deps) *UnfollowEngine {
	return &UnfollowEngine{cfg: cfg, eval: eval, deps: deps.withDefaults()}
}

func (e *UnfollowEngine) Name() string { return NameUnfollow }

// Run performs one pass over the account's following list. The ledger is
// saved once at the end whatever the outcome, provided it was loaded.
func (e *UnfollowEngine) Run(ctx context.Context) Outcome {
	var (
		snap   eligibility.Snapshot
		loaded bool
	)

	return execute(ctx, NameUnfollow, e.deps, hooks{
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
			return e.deps.Store.SaveUnfollowed(ctx, snap.Unfollowed)
		},
		message: unfollowMessage,
	})
}

func (e *UnfollowEngine) pass(ctx context.Context, r *run, snap eligibility.Snapshot) error {
	me, err := e.deps.API.CurrentUsername(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", errNoUsername, err)
	}

	following := e.deps.API.Following(ctx, me)
	r.log.Info().Str("account", me).Int("following", len(following)).Msg("evaluating following list")

	limit := e.cfg.DailyUnfollowCap
	for _, name := range following {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(r.out.Unfollowed) >= limit {
			r.log.Info().Int("cap", limit).Msg("daily unfollow cap reached")
			return nil
		}

		reason, ok := e.eval.ShouldUnfollow(ctx, name, snap, e.deps.now())
		if !ok {
			continue
		}

		if !e.deps.API.Unfollow(ctx, name) {
			r.log.Warn().Str("username", name).Msg("unfollow did not take effect, moving on")
			continue
		}

		snap.Unfollowed.Add(name)
		r.out.Unfollowed = append(r.out.Unfollowed, Unfollowed{Username: name, Reason: reason})
		r.recordAction(ctx, "unfollow", name, "", reason.String())
		r.log.Info().Str("username", name).Str("reason", reason.String()).Msg("unfollowed user")

		if err := e.deps.Pacer.Delay(ctx); err != nil {
			return err
		}
	}
	return nil
}

func unfollowMessage(o *Outcome) string {
	if errors.Is(o.Err, errNoUsername) {
		return fmt.Sprintf("Unfollow run aborted: %s", o.Error)
	}
	if len(o.Unfollowed) == 0 {
		return statusPrefix(o) + "No users unfollowed."
	}

	var inactive, noFollowBack []string
	for _, u := range o.Unfollowed {
		line := fmt.Sprintf("- %s (%d days)", u.Username, u.Reason.Days)
		if u.Reason.Kind == eligibility.Inactive {
			inactive = append(inactive, line)
		} else {
			noFollowBack = append(noFollowBack, line)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%sUnfollowed %d users.", statusPrefix(o), len(o.Unfollowed))
	if len(inactive) > 0 {
		b.WriteString("\nInactive:\n")
		b.WriteString(strings.Join(inactive, "\n"))
	}
	if len(noFollowBack) > 0 {
		b.WriteString("\nNo follow back:\n")
		b.WriteString(strings.Join(noFollowBack, "\n"))
	}
	return b.String()
}
