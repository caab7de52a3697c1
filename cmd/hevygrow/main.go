package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sawpanic/hevygrow/internal/config"
	"github.com/sawpanic/hevygrow/internal/engine"
	applog "github.com/sawpanic/hevygrow/internal/log"
)

const (
	appName = "hevygrow"
	version = "v1.0.0"
)

// errRunFailed makes a failed single run exit non-zero after its
// notification has already gone out.
var errRunFailed = errors.New("run failed")

type options struct {
	follow     bool
	unfollow   bool
	like       bool
	auto       bool
	configPath string
	logLevel   string
	envFile    string
}

func main() {
	if err := applog.Setup("info", os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errRunFailed) {
			log.Error().Err(err).Msg(appName + " exited with error")
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Grow a Hevy following by following, unfollowing and liking on a schedule",
		Version: version,
		Long: `hevygrow runs one of three engines against the Hevy social feed:

  --follow    follow recently active users found in the discovery feed
  --unfollow  unfollow users who went inactive or never followed back
  --like      like recent workouts of users who interacted with yours
  --auto      run all three on their cron schedules until interrupted`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.validate(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := rootCmd.Flags()
	flags.BoolVar(&opts.follow, "follow", false, "Run the follow engine once")
	flags.BoolVar(&opts.unfollow, "unfollow", false, "Run the unfollow engine once")
	flags.BoolVar(&opts.like, "like", false, "Run the like engine once")
	flags.BoolVar(&opts.auto, "auto", false, "Run all engines on their cron schedules")
	flags.StringVarP(&opts.configPath, "config", "c", "config/config.yaml", "Path to the YAML configuration")
	flags.StringVar(&opts.logLevel, "log-level", "", "Override log.level (debug|info|warn|error)")
	flags.StringVar(&opts.envFile, "env-file", ".env", "Optional dotenv file with secrets")

	return rootCmd
}

func (o *options) validate(flags *pflag.FlagSet) error {
	modes := 0
	for _, set := range []bool{o.follow, o.unfollow, o.like, o.auto} {
		if set {
			modes++
		}
	}
	if modes != 1 {
		return fmt.Errorf("exactly one of --follow, --unfollow, --like or --auto is required")
	}
	if flags.Changed("log-level") {
		if _, err := applog.ParseLevel(o.logLevel); err != nil {
			return err
		}
	}
	return nil
}

func (o *options) engineName() string {
	switch {
	case o.follow:
		return engine.NameFollow
	case o.unfollow:
		return engine.NameUnfollow
	default:
		return engine.NameLike
	}
}

func run(parent context.Context, opts *options) error {
	if parent == nil {
		parent = context.Background()
	}

	if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", opts.envFile, err)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}

	level := cfg.Log.Level
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	if err := applog.Setup(level, os.Stderr); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	if opts.auto {
		return app.runAuto(ctx)
	}
	return app.runOnce(ctx, opts.engineName())
}
