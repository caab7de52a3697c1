package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables consulted after the YAML file is parsed.
const (
	EnvAuthToken     = "AUTH_TOKEN"
	EnvWebhookURL    = "DISCORD_WEBHOOK_URL"
	EnvPostgresDSN   = "HEVYGROW_PG_DSN"
	EnvRedisPassword = "HEVYGROW_REDIS_PASSWORD"
)

// Config is the explicit configuration object handed to every engine.
type Config struct {
	API       APIConfig       `yaml:"api"`
	Follow    FollowConfig    `yaml:"follow"`
	Unfollow  UnfollowConfig  `yaml:"unfollow"`
	Like      LikeConfig      `yaml:"like"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	State     StateConfig     `yaml:"state"`
	History   HistoryConfig   `yaml:"history"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Notify    NotifyConfig    `yaml:"notify"`
	Log       LogConfig       `yaml:"log"`
}

// APIConfig describes the remote service and how politely we talk to it
type APIConfig struct {
	BaseURL            string        `yaml:"base_url"`
	APIKey             string        `yaml:"api_key"`
	Platform           string        `yaml:"platform"`
	AuthToken          string        `yaml:"-"`
	RequestDelay       DelayRange    `yaml:"request_delay"`
	RateLimitDelay     float64       `yaml:"rate_limit_delay"` // seconds
	Timeout            time.Duration `yaml:"timeout"`
	RequestsPerSecond  float64       `yaml:"requests_per_second"`
	Burst              int           `yaml:"burst"`
	DailyRequestBudget int64         `yaml:"daily_request_budget"` // 0 disables the budget
	Circuit            CircuitConfig `yaml:"circuit"`
}

// DelayRange is the uniform [min,max] inter-action delay, in seconds
type DelayRange struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// CircuitConfig configures the outbound circuit breaker
type CircuitConfig struct {
	FailureThreshold uint32        `yaml:"failure_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
}

type FollowConfig struct {
	TargetCount     int `yaml:"target_count"`
	WorkoutLookback int `yaml:"workout_lookback"`
}

type UnfollowConfig struct {
	InactiveThreshold   int `yaml:"inactive_threshold"`    // days
	FollowBackThreshold int `yaml:"follow_back_threshold"` // days
	DailyUnfollowCap    int `yaml:"daily_unfollow_cap"`
}

type LikeConfig struct {
	LikeCap int `yaml:"like_cap"`
}

// SchedulerConfig holds standard 5-field cron expressions for auto mode
type SchedulerConfig struct {
	FollowSchedule   string `yaml:"follow_schedule"`
	UnfollowSchedule string `yaml:"unfollow_schedule"`
	LikeSchedule     string `yaml:"like_schedule"`
}

type StateConfig struct {
	Backend string      `yaml:"backend"` // "file" or "redis"
	Dir     string      `yaml:"dir"`
	Redis   RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"-"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type HistoryConfig struct {
	Enabled      bool          `yaml:"enabled"`
	DSN          string        `yaml:"dsn"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

type MonitorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

type NotifyConfig struct {
	WebhookURL string        `yaml:"webhook_url"`
	Username   string        `yaml:"username"`
	Timeout    time.Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns a configuration with every optional field populated
func Default() *Config {
	return &Config{
		API: APIConfig{
			APIKey:            "shelobs_hevy_web",
			Platform:          "web",
			RequestDelay:      DelayRange{Min: 2, Max: 5},
			RateLimitDelay:    60,
			Timeout:           30 * time.Second,
			RequestsPerSecond: 2,
			Burst:             2,
			Circuit: CircuitConfig{
				FailureThreshold: 5,
				OpenTimeout:      60 * time.Second,
			},
		},
		Follow:   FollowConfig{TargetCount: 50, WorkoutLookback: 3},
		Unfollow: UnfollowConfig{InactiveThreshold: 21, FollowBackThreshold: 7, DailyUnfollowCap: 100},
		Like:     LikeConfig{LikeCap: 50},
		Scheduler: SchedulerConfig{
			FollowSchedule:   "0 9 * * *",
			UnfollowSchedule: "0 21 * * *",
			LikeSchedule:     "0 */6 * * *",
		},
		State: StateConfig{
			Backend: "file",
			Dir:     "data",
			Redis:   RedisConfig{Addr: "localhost:6379", Prefix: "hevygrow:"},
		},
		History: HistoryConfig{QueryTimeout: 10 * time.Second},
		Monitor: MonitorConfig{Host: "127.0.0.1", Port: 9464},
		Notify:  NotifyConfig{Timeout: 15 * time.Second},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads the YAML file at path on top of Default(), applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file read
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAuthToken); v != "" {
		c.API.AuthToken = v
	}
	if v := os.Getenv(EnvWebhookURL); v != "" {
		c.Notify.WebhookURL = v
	}
	if v := os.Getenv(EnvPostgresDSN); v != "" {
		c.History.DSN = v
	}
	if v := os.Getenv(EnvRedisPassword); v != "" {
		c.State.Redis.Password = v
	}
}

// Validate ensures the configuration is usable
func (c *Config) Validate() error {
	if err := c.API.Validate(); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	if c.Follow.TargetCount < 0 {
		return fmt.Errorf("follow.target_count cannot be negative, got %d", c.Follow.TargetCount)
	}
	if c.Follow.WorkoutLookback <= 0 {
		return fmt.Errorf("follow.workout_lookback must be positive, got %d", c.Follow.WorkoutLookback)
	}
	if c.Unfollow.InactiveThreshold <= 0 {
		return fmt.Errorf("unfollow.inactive_threshold must be positive, got %d", c.Unfollow.InactiveThreshold)
	}
	if c.Unfollow.FollowBackThreshold <= 0 {
		return fmt.Errorf("unfollow.follow_back_threshold must be positive, got %d", c.Unfollow.FollowBackThreshold)
	}
	if c.Unfollow.DailyUnfollowCap < 0 {
		return fmt.Errorf("unfollow.daily_unfollow_cap cannot be negative, got %d", c.Unfollow.DailyUnfollowCap)
	}
	if c.Like.LikeCap < 0 {
		return fmt.Errorf("like.like_cap cannot be negative, got %d", c.Like.LikeCap)
	}

	switch c.State.Backend {
	case "file":
		if c.State.Dir == "" {
			return fmt.Errorf("state.dir cannot be empty")
		}
	case "redis":
		if c.State.Redis.Addr == "" {
			return fmt.Errorf("state.redis.addr cannot be empty")
		}
	default:
		return fmt.Errorf("state.backend must be file or redis, got %q", c.State.Backend)
	}

	if c.History.Enabled && c.History.DSN == "" {
		return fmt.Errorf("history.dsn is required when history is enabled")
	}
	if c.Monitor.Enabled && (c.Monitor.Port <= 0 || c.Monitor.Port > 65535) {
		return fmt.Errorf("monitor.port out of range: %d", c.Monitor.Port)
	}
	return nil
}

// Validate ensures the API section is usable
func (a *APIConfig) Validate() error {
	if a.BaseURL == "" {
		return fmt.Errorf("base_url cannot be empty")
	}
	u, err := url.Parse(a.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base_url is not an absolute URL: %q", a.BaseURL)
	}
	a.BaseURL = strings.TrimRight(a.BaseURL, "/")

	if a.RequestDelay.Min < 0 || a.RequestDelay.Max < a.RequestDelay.Min {
		return fmt.Errorf("request_delay must satisfy 0 <= min <= max, got [%g, %g]",
			a.RequestDelay.Min, a.RequestDelay.Max)
	}
	if a.RateLimitDelay < 0 {
		return fmt.Errorf("rate_limit_delay cannot be negative, got %g", a.RateLimitDelay)
	}
	if a.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second cannot be negative, got %g", a.RequestsPerSecond)
	}
	if a.RequestsPerSecond > 0 && a.Burst <= 0 {
		return fmt.Errorf("burst must be positive when requests_per_second is set, got %d", a.Burst)
	}
	if a.DailyRequestBudget < 0 {
		return fmt.Errorf("daily_request_budget cannot be negative, got %d", a.DailyRequestBudget)
	}
	return nil
}

// MinDelay returns the lower bound of the inter-action delay
func (d DelayRange) MinDelay() time.Duration {
	return secondsToDuration(d.Min)
}

// MaxDelay returns the upper bound of the inter-action delay
func (d DelayRange) MaxDelay() time.Duration {
	return secondsToDuration(d.Max)
}

// GetRateLimitDelay returns the 429 backoff as a time.Duration
func (a *APIConfig) GetRateLimitDelay() time.Duration {
	return secondsToDuration(a.RateLimitDelay)
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
