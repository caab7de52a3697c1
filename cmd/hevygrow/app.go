package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/hevygrow/internal/config"
	"github.com/sawpanic/hevygrow/internal/eligibility"
	"github.com/sawpanic/hevygrow/internal/engine"
	"github.com/sawpanic/hevygrow/internal/hevy"
	"github.com/sawpanic/hevygrow/internal/history"
	httpserver "github.com/sawpanic/hevygrow/internal/interfaces/http"
	"github.com/sawpanic/hevygrow/internal/metrics"
	"github.com/sawpanic/hevygrow/internal/net/budget"
	"github.com/sawpanic/hevygrow/internal/net/client"
	"github.com/sawpanic/hevygrow/internal/net/ratelimit"
	"github.com/sawpanic/hevygrow/internal/notify"
	"github.com/sawpanic/hevygrow/internal/pace"
	"github.com/sawpanic/hevygrow/internal/scheduler"
	"github.com/sawpanic/hevygrow/internal/state"
)

const runLockFile = ".run.lock"

// app holds everything one process needs, built once from the config
type app struct {
	cfg       *config.Config
	metrics   *metrics.Registry
	history   *history.Postgres
	scheduler *scheduler.Scheduler
	engines   map[string]engine.Runner
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	reg := metrics.NewRegistry()

	pacer := pace.New(cfg.API.RequestDelay.MinDelay(), cfg.API.RequestDelay.MaxDelay(), cfg.API.GetRateLimitDelay())

	httpClient := client.NewHTTPClient(client.WrapperConfig{
		Name: "hevy",
		Identity: client.Identity{
			APIKey:    cfg.API.APIKey,
			AuthToken: cfg.API.AuthToken,
			Platform:  cfg.API.Platform,
		},
		RateLimiter:    ratelimit.NewLimiter(cfg.API.RequestsPerSecond, cfg.API.Burst),
		BudgetTracker:  budget.NewTracker(cfg.API.DailyRequestBudget, 0),
		CircuitBreaker: client.NewBreaker("hevy", cfg.API.Circuit.FailureThreshold, cfg.API.Circuit.OpenTimeout, reg),
	}, cfg.API.Timeout)

	api := hevy.NewClient(cfg.API.BaseURL, httpClient, pacer, reg)

	store, err := state.New(cfg.State)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, metrics: reg}

	deps := engine.Deps{
		API:      api,
		Store:    store,
		Pacer:    pacer,
		Notifier: notify.New(cfg.Notify),
		Metrics:  reg,
	}

	if cfg.History.Enabled {
		pg, err := history.Open(ctx, cfg.History)
		if err != nil {
			return nil, fmt.Errorf("failed to open action history: %w", err)
		}
		a.history = pg
		deps.History = pg
	}

	eval := eligibility.New(api, cfg.Follow, cfg.Unfollow)
	a.engines = map[string]engine.Runner{
		engine.NameFollow:   engine.NewFollowEngine(cfg.Follow, eval, deps),
		engine.NameUnfollow: engine.NewUnfollowEngine(cfg.Unfollow, eval, deps),
		engine.NameLike:     engine.NewLikeEngine(cfg.Like, deps),
	}

	a.scheduler = scheduler.NewScheduler(filepath.Join(cfg.State.Dir, runLockFile))
	return a, nil
}

// runOnce runs a single engine under the run lock
func (a *app) runOnce(ctx context.Context, name string) error {
	res, err := a.scheduler.Run(ctx, a.engines[name])
	if err != nil {
		return err
	}
	if res.Skipped {
		return fmt.Errorf("another %s run is in progress", appName)
	}

	out := res.Outcome
	log.Info().
		Str("engine", out.Engine).
		Str("status", string(out.Status)).
		Dur("took", out.Duration()).
		Msg("run finished")

	if out.Status == engine.StatusFailed {
		return errRunFailed
	}
	return nil
}

// runAuto registers every engine on its schedule and blocks until ctx is done
func (a *app) runAuto(ctx context.Context) error {
	schedules := map[string]string{
		engine.NameFollow:   a.cfg.Scheduler.FollowSchedule,
		engine.NameUnfollow: a.cfg.Scheduler.UnfollowSchedule,
		engine.NameLike:     a.cfg.Scheduler.LikeSchedule,
	}
	for _, name := range []string{engine.NameFollow, engine.NameUnfollow, engine.NameLike} {
		if schedules[name] == "" {
			log.Info().Str("engine", name).Msg("no schedule configured, engine disabled in auto mode")
			continue
		}
		if err := a.scheduler.Add(schedules[name], a.engines[name]); err != nil {
			return err
		}
	}

	if a.cfg.Monitor.Enabled {
		srv := a.monitor()
		go func() {
			if err := srv.Start(); err != nil {
				log.Error().Err(err).Msg("monitor server stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("monitor server shutdown")
			}
		}()
	}

	for _, job := range a.scheduler.ListJobs() {
		log.Info().Str("job", job.Name).Str("schedule", job.Schedule).Msg("job scheduled")
	}

	err := a.scheduler.Start(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *app) monitor() *httpserver.Server {
	cfg := httpserver.DefaultServerConfig()
	cfg.Host = a.cfg.Monitor.Host
	cfg.Port = a.cfg.Monitor.Port

	src := httpserver.Sources{
		Runs:    a.scheduler,
		Metrics: a.metrics.Handler(),
		Version: version,
	}
	if a.history != nil {
		src.Actions = a.history
	}
	return httpserver.NewServer(cfg, src)
}

func (a *app) Close() {
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			log.Warn().Err(err).Msg("closing action history")
		}
	}
}
