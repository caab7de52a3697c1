package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/sawpanic/hevygrow/internal/config"
	"github.com/sawpanic/hevygrow/internal/hevy"
)

// LikeEngine likes the latest workout of users active on the discovery feed.
// It keeps no state between runs.
type LikeEngine struct {
	cfg  config.LikeConfig
	deps Deps
}

// NewLikeEngine builds a like engine
func NewLikeEngine(cfg config.LikeConfig, deps Deps) *LikeEngine {
	return &LikeEngine{cfg: cfg, deps: deps.withDefaults()}
}

func (e *LikeEngine) Name() string { return NameLike }

// Run performs one like pass, stopping at like_cap
func (e *LikeEngine) Run(ctx context.Context) Outcome {
	return execute(ctx, NameLike, e.deps, hooks{
		pass:    e.pass,
		message: likeMessage,
	})
}

// likePass holds the users liked this run; keys are lowercased usernames.
// A failed lookup or like leaves the user eligible when they reappear.
type likePass struct {
	*LikeEngine
	r    *run
	seen map[string]struct{}
}

func (e *LikeEngine) pass(ctx context.Context, r *run) error {
	p := &likePass{LikeEngine: e, r: r, seen: make(map[string]struct{})}
	var index hevy.FeedIndex

	for page := 1; !p.capped(); page++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		workouts := e.deps.API.DiscoverFeed(ctx, index)
		if len(workouts) == 0 {
			r.log.Info().Int("page", page).Msg("discovery feed exhausted")
			return nil
		}

		for _, w := range workouts {
			if w.ID == "" {
				continue
			}
			for _, c := range w.Comments {
				if err := p.like(ctx, c.Username); err != nil || p.capped() {
					return err
				}
			}
			for _, name := range e.deps.API.WorkoutLikers(ctx, w.ID) {
				if err := p.like(ctx, name); err != nil || p.capped() {
					return err
				}
			}
		}

		index = workouts[len(workouts)-1].Index
		if index.IsZero() {
			return nil
		}
		if err := e.deps.Pacer.Delay(ctx); err != nil {
			return err
		}
	}
	r.log.Info().Int("cap", e.cfg.LikeCap).Msg("like cap reached")
	return nil
}

func (p *likePass) capped() bool {
	return len(p.r.out.Liked) >= p.cfg.LikeCap
}

// like likes username's most recent workout unless already liked this run
func (p *likePass) like(ctx context.Context, username string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := strings.ToLower(username)
	if key == "" {
		return nil
	}
	if _, ok := p.seen[key]; ok {
		return nil
	}

	workoutID := p.deps.API.LastWorkoutID(ctx, username)
	if workoutID == "" {
		return nil
	}
	if !p.deps.API.LikeWorkout(ctx, workoutID) {
		p.r.log.Warn().Str("username", username).Str("workout_id", workoutID).Msg("like did not take effect")
		return nil
	}
	p.seen[key] = struct{}{}

	p.r.out.Liked = append(p.r.out.Liked, key)
	p.r.recordAction(ctx, "like", key, workoutID, "")
	p.r.log.Info().Str("username", key).Str("workout_id", workoutID).Int("count", len(p.r.out.Liked)).
		Msg("liked workout")

	if p.capped() {
		return nil
	}
	return p.deps.Pacer.Delay(ctx)
}

func likeMessage(o *Outcome) string {
	if len(o.Liked) == 0 {
		return statusPrefix(o) + "No workouts liked."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%sLiked workouts from %d users:", statusPrefix(o), len(o.Liked))
	for _, name := range o.Liked {
		b.WriteString("\n- ")
		b.WriteString(name)
	}
	return b.String()
}
