// Package config loads the hallmonitor yaml configuration and answers merged
// per-room policy lookups. A malformed or missing configuration file is a
// fatal startup error; once loaded, the configuration is read-only.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
	"maunium.net/go/mautrix/id"
)

// Config is the full daemon configuration.
type Config struct {
	Bot      BotConfig   `yaml:"bot"`
	Rooms    RoomsConfig `yaml:"rooms"`
	Monitors MonitorSet  `yaml:"monitors"`
}

// BotConfig holds the Matrix session settings for the moderation bot.
type BotConfig struct {
	Homeserver  string `yaml:"homeserver"`
	UserID      string `yaml:"user_id"`
	Password    string `yaml:"password"`
	DeviceID    string `yaml:"device_id"`
	DeviceName  string `yaml:"device_name"`
	DisplayName string `yaml:"display_name"`
	// IgnoredDomains lists sender homeservers whose events are dropped
	// before routing (bridge bots relaying third-party networks).
	IgnoredDomains []string `yaml:"ignored_domains"`
}

// RoomsConfig lists the rooms to watch and any per-room policy overrides.
type RoomsConfig struct {
	Watching  []string                `yaml:"watching"`
	Overrides map[string]RoomOverride `yaml:"overrides"`
}

// RoomOverride adjusts monitor policy for one room. A bare `enabled: false`
// turns every monitor off for the room; `enabled: true` (or an absent flag)
// keeps monitors on, with any sections under `monitors` overriding the
// global defaults per monitor kind.
type RoomOverride struct {
	Enabled  *bool      `yaml:"enabled"`
	Monitors MonitorSet `yaml:"monitors"`
}

// MonitorSet holds per-monitor tuning. A nil section means "no setting at
// this level"; a monitor with no setting at any level is disabled.
type MonitorSet struct {
	RateLimit *RateLimitConfig `yaml:"ratelimit"`
	LinkSpam  *LinkSpamConfig  `yaml:"linkspam"`
	Challenge *ChallengeConfig `yaml:"challenge"`
}

// RateLimitConfig tunes the per-user token bucket.
type RateLimitConfig struct {
	New              TierConfig `yaml:"new"`
	Established      TierConfig `yaml:"established"`
	FillIntervalSecs int        `yaml:"fill_interval_secs"`
	// GracePeriodSecs is how long a bucket stays in the new tier before its
	// one-way upgrade to established.
	GracePeriodSecs int `yaml:"grace_period_secs"`
}

// TierConfig is one rate-limit bucket regime.
type TierConfig struct {
	Tokens   int `yaml:"tokens"`
	Max      int `yaml:"max"`
	FillRate int `yaml:"fill_rate"`
}

func (c *RateLimitConfig) FillInterval() time.Duration {
	return time.Duration(c.FillIntervalSecs) * time.Second
}

func (c *RateLimitConfig) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodSecs) * time.Second
}

// LinkSpamConfig tunes the post-trigger link watcher.
type LinkSpamConfig struct {
	WatchTimeoutSecs int `yaml:"watch_timeout_secs"`
}

func (c *LinkSpamConfig) WatchTimeout() time.Duration {
	return time.Duration(c.WatchTimeoutSecs) * time.Second
}

// ChallengeConfig tunes the join-time challenge gate.
type ChallengeConfig struct {
	TimeoutSecs int        `yaml:"timeout_secs"`
	Questions   []Question `yaml:"questions"`
}

func (c *ChallengeConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// Question is one challenge question. Answer is 1-based among Options
// reaction choices.
type Question struct {
	Body    string `yaml:"body"`
	Answer  int    `yaml:"answer"`
	Options int    `yaml:"options"`
}

// RoomPolicy is the merged, effective monitor policy for one room. A nil
// field disables that monitor.
type RoomPolicy struct {
	RateLimit *RateLimitConfig
	LinkSpam  *LinkSpamConfig
	Challenge *ChallengeConfig
}

// Load reads, defaults, and validates the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	// env overrides for secrets
	if pw := os.Getenv("HALLMONITOR_PASSWORD"); pw != "" {
		cfg.Bot.Password = pw
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Bot.DeviceName == "" {
		cfg.Bot.DeviceName = "hallmonitor"
	}
	if cfg.Bot.DisplayName == "" {
		cfg.Bot.DisplayName = "Hall Monitor"
	}
	cfg.Monitors.applyDefaults()
	for name, ov := range cfg.Rooms.Overrides {
		ov.Monitors.applyDefaults()
		cfg.Rooms.Overrides[name] = ov
	}
}

func (ms *MonitorSet) applyDefaults() {
	if rl := ms.RateLimit; rl != nil {
		if rl.New == (TierConfig{}) {
			rl.New = TierConfig{Tokens: 3, Max: 3, FillRate: 3}
		}
		if rl.Established == (TierConfig{}) {
			rl.Established = TierConfig{Tokens: 30, Max: 30, FillRate: 10}
		}
		if rl.FillIntervalSecs == 0 {
			rl.FillIntervalSecs = 60
		}
		if rl.GracePeriodSecs == 0 {
			rl.GracePeriodSecs = 60
		}
	}
	if ls := ms.LinkSpam; ls != nil {
		if ls.WatchTimeoutSecs == 0 {
			ls.WatchTimeoutSecs = 30
		}
	}
	if ch := ms.Challenge; ch != nil {
		if ch.TimeoutSecs == 0 {
			ch.TimeoutSecs = 60
		}
		for i := range ch.Questions {
			if ch.Questions[i].Options == 0 {
				ch.Questions[i].Options = 4
			}
		}
	}
}

func (cfg *Config) validate() error {
	if cfg.Bot.Homeserver == "" {
		return fmt.Errorf("bot.homeserver is required")
	}
	if cfg.Bot.UserID == "" {
		return fmt.Errorf("bot.user_id is required")
	}
	if cfg.Bot.Password == "" {
		return fmt.Errorf("bot.password is required (or set HALLMONITOR_PASSWORD)")
	}
	if cfg.Bot.DeviceID == "" {
		return fmt.Errorf("bot.device_id is required")
	}
	if len(cfg.Rooms.Watching) == 0 {
		return fmt.Errorf("at least one entry under rooms.watching is required")
	}
	if err := cfg.Monitors.validate("monitors"); err != nil {
		return err
	}
	for name, ov := range cfg.Rooms.Overrides {
		if err := ov.Monitors.validate("rooms.overrides." + name); err != nil {
			return err
		}
	}
	return nil
}

func (ms *MonitorSet) validate(prefix string) error {
	if ch := ms.Challenge; ch != nil {
		for i, q := range ch.Questions {
			if q.Body == "" {
				return fmt.Errorf("%s.challenge.questions[%d]: body is required", prefix, i)
			}
			if q.Options < 2 || q.Options > 9 {
				return fmt.Errorf("%s.challenge.questions[%d]: options must be between 2 and 9", prefix, i)
			}
			if q.Answer < 1 || q.Answer > q.Options {
				return fmt.Errorf("%s.challenge.questions[%d]: answer must be between 1 and %d", prefix, i, q.Options)
			}
		}
	}
	if rl := ms.RateLimit; rl != nil {
		if rl.New.Max <= 0 || rl.Established.Max <= 0 {
			return fmt.Errorf("%s.ratelimit: tier max must be positive", prefix)
		}
	}
	return nil
}

// PolicyFor merges the per-room override over the global defaults,
// independently for each monitor kind. A room override with `enabled: false`
// disables everything for that room; `enabled: true` with no monitor detail
// means "enabled, use global defaults".
func (cfg *Config) PolicyFor(room id.RoomID) RoomPolicy {
	global := cfg.Monitors
	ov, ok := cfg.Rooms.Overrides[room.String()]
	if !ok {
		return RoomPolicy{
			RateLimit: global.RateLimit,
			LinkSpam:  global.LinkSpam,
			Challenge: global.Challenge,
		}
	}
	if ov.Enabled != nil && !*ov.Enabled {
		return RoomPolicy{}
	}
	pol := RoomPolicy{
		RateLimit: global.RateLimit,
		LinkSpam:  global.LinkSpam,
		Challenge: global.Challenge,
	}
	if ov.Monitors.RateLimit != nil {
		pol.RateLimit = ov.Monitors.RateLimit
	}
	if ov.Monitors.LinkSpam != nil {
		pol.LinkSpam = ov.Monitors.LinkSpam
	}
	if ov.Monitors.Challenge != nil {
		pol.Challenge = ov.Monitors.Challenge
	}
	return pol
}
