// Package config provides configuration loading and defaults for the
// Studycord daemon.
//
// Configuration is loaded from a TOML file in the daemon's data directory.
// The package covers Discord connection settings, voice-channel tracking
// rules, report scheduling, milestone badges, and logging, with sensible
// defaults and versioned migration support.
package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"

	"github.com/studycord/studycord/internal/atomicfile"
	"github.com/studycord/studycord/internal/migrate"
	"github.com/studycord/studycord/internal/paths"
)

// TokenEnvVar is the environment variable that overrides the configured
// bot token. Keeps the secret out of config.toml on shared hosts.
const TokenEnvVar = "STUDYCORD_TOKEN"

// ///////////////////////////////////////////////
// Configuration Types
// ///////////////////////////////////////////////

// Config represents the top-level application configuration.
type Config struct {
	// Version is the config schema version used for migrations.
	Version int `toml:"version"`
	// Discord holds bot connection settings.
	Discord DiscordConfig `toml:"discord"`
	// Channels holds the text/voice channel IDs the daemon posts to.
	Channels ChannelsConfig `toml:"channels"`
	// Tracking holds voice-channel tracking rules.
	Tracking TrackingConfig `toml:"tracking"`
	// Report holds daily report and maintenance scheduling settings.
	Report ReportConfig `toml:"report"`
	// Milestones holds cumulative-hour badge settings.
	Milestones MilestonesConfig `toml:"milestones"`
	// Voice holds spoken-announcement settings.
	Voice VoiceConfig `toml:"voice"`
	// Timer holds personal countdown timer settings.
	Timer TimerConfig `toml:"timer"`
	// Log holds logging settings.
	Log LogConfig `toml:"log"`
}

// DiscordConfig holds bot connection settings.
type DiscordConfig struct {
	// Token is the bot token. The STUDYCORD_TOKEN environment variable
	// takes precedence when set.
	Token string `toml:"token"`
	// GuildID is the guild whose voice channels are tracked.
	GuildID string `toml:"guild_id"`
}

// ChannelsConfig holds the channel IDs the daemon talks to.
type ChannelsConfig struct {
	// Log receives join/pause/resume/stop panels.
	Log string `toml:"log"`
	// Summary receives the nightly report.
	Summary string `toml:"summary"`
	// Status receives the live status board and rankings.
	Status string `toml:"status"`
	// Pomodoro is the voice channel for pomodoro announcements; empty disables them.
	Pomodoro string `toml:"pomodoro"`
}

// TrackingConfig holds voice-channel tracking rules.
type TrackingConfig struct {
	// Channels is a list of glob patterns matched against voice channel
	// names; presence in non-matching channels is ignored.
	Channels []string `toml:"channels"`
	// RecoveryBridgeSeconds is the window within which a pre-restart
	// interval is carried into a recovered session as an offset.
	RecoveryBridgeSeconds int `toml:"recovery_bridge_seconds"`
}

// ReportConfig holds daily report and maintenance scheduling settings.
type ReportConfig struct {
	// DailyHour and DailyMinute set the wall-clock maintenance time.
	DailyHour   int `toml:"daily_hour"`
	DailyMinute int `toml:"daily_minute"`
	// Timezone is the IANA zone used for day boundaries and scheduling.
	Timezone string `toml:"timezone"`
	// KeepLogDays is the raw interval retention horizon.
	KeepLogDays int `toml:"keep_log_days"`
	// KeepSummaryDays is the daily summary retention horizon.
	KeepSummaryDays int `toml:"keep_summary_days"`
	// BoardCooldownSeconds is the debounce cooldown between board refreshes.
	BoardCooldownSeconds int `toml:"board_cooldown_seconds"`
	// BoardIntervalMinutes is the unconditional board refresh interval.
	BoardIntervalMinutes int `toml:"board_interval_minutes"`
}

// MilestonesConfig holds cumulative-hour badge settings.
type MilestonesConfig struct {
	// Badges maps hour thresholds (as TOML keys, e.g. "100") to badge names.
	Badges map[string]string `toml:"badges"`
}

// VoiceConfig holds spoken-announcement settings.
type VoiceConfig struct {
	// Enabled turns spoken join/leave announcements on.
	Enabled bool `toml:"enabled"`
	// TTSURL is the HTTP text-to-speech endpoint.
	TTSURL string `toml:"tts_url"`
	// TTSVoice is the synthesis voice identifier.
	TTSVoice string `toml:"tts_voice"`
}

// TimerConfig holds personal countdown timer settings.
type TimerConfig struct {
	// MaxMinutes is the upper bound for a single timer.
	MaxMinutes int `toml:"max_minutes"`
	// CheckIntervalSeconds is the expired-timer sweep interval.
	CheckIntervalSeconds int `toml:"check_interval_seconds"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error, fail).
	Level string `toml:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation.
	MaxSizeMB int `toml:"max_size_mb"`
}

// ///////////////////////////////////////////////
// Default Configuration
// ///////////////////////////////////////////////

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: migrate.Config.CurrentVersion,
		Tracking: TrackingConfig{
			Channels:              []string{"*"},
			RecoveryBridgeSeconds: 600,
		},
		Report: ReportConfig{
			DailyHour:            23,
			DailyMinute:          59,
			Timezone:             "Asia/Tokyo",
			KeepLogDays:          30,
			KeepSummaryDays:      365,
			BoardCooldownSeconds: 5,
			BoardIntervalMinutes: 5,
		},
		Milestones: MilestonesConfig{
			Badges: map[string]string{
				"10":   "Bronze - 10 hours",
				"50":   "Silver - 50 hours",
				"100":  "Gold - 100 hours",
				"500":  "Trophy - 500 hours",
				"1000": "Legend",
			},
		},
		Voice: VoiceConfig{
			Enabled:  false,
			TTSVoice: "ja-JP-NanamiNeural",
		},
		Timer: TimerConfig{
			MaxMinutes:           180,
			CheckIntervalSeconds: 10,
		},
		Log: LogConfig{
			Level:     "info",
			MaxSizeMB: 10,
		},
	}
}

// ///////////////////////////////////////////////
// Derived Accessors
// ///////////////////////////////////////////////

// Milestone pairs an hour threshold with its badge name.
type Milestone struct {
	Hours int
	Badge string
}

// MilestoneList returns the configured milestones sorted by ascending hours.
// Entries with non-numeric or non-positive keys are skipped with a warning.
func (c *Config) MilestoneList() []Milestone {
	out := make([]Milestone, 0, len(c.Milestones.Badges))
	for k, badge := range c.Milestones.Badges {
		hours, err := strconv.Atoi(k)
		if err != nil || hours <= 0 {
			slog.Warn("ignoring invalid milestone threshold", "key", k)
			continue
		}
		out = append(out, Milestone{Hours: hours, Badge: badge})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hours < out[j].Hours })
	return out
}

// TracksChannel reports whether a voice channel name matches any configured
// tracking pattern. Malformed patterns never match.
func (c *Config) TracksChannel(name string) bool {
	for _, pattern := range c.Tracking.Channels {
		ok, err := doublestar.Match(pattern, name)
		if err != nil {
			slog.Warn("invalid channel pattern", "pattern", pattern, "error", err)
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

// Location resolves the configured timezone, falling back to UTC with a
// warning when the zone name is unknown.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Report.Timezone)
	if err != nil {
		slog.Warn("unknown timezone, using UTC", "timezone", c.Report.Timezone, "error", err)
		return time.UTC
	}
	return loc
}

// BotToken returns the effective bot token: the environment variable when
// set, otherwise the configured value.
func (c *Config) BotToken() string {
	if tok := os.Getenv(TokenEnvVar); tok != "" {
		return tok
	}
	return c.Discord.Token
}

// ///////////////////////////////////////////////
// PeekVersion
// ///////////////////////////////////////////////

// PeekVersion reads just the version field from raw TOML bytes.
// Returns 1 if the version field is missing or zero.
func PeekVersion(data []byte) int {
	var v struct {
		Version int `toml:"version"`
	}
	if err := toml.Unmarshal(data, &v); err != nil {
		return 1
	}
	if v.Version == 0 {
		return 1
	}
	return v.Version
}

// ///////////////////////////////////////////////
// Loading and Saving
// ///////////////////////////////////////////////

// Load reads and parses the configuration file from dataDir/config.toml.
// If the file doesn't exist, returns DefaultConfig. A file behind the
// current schema version is backed up and migrated in place.
func Load(dataDir string) (*Config, error) {
	path := filepath.Join(dataDir, paths.ConfigFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	version := PeekVersion(data)
	if version != migrate.Config.CurrentVersion {
		if backupErr := os.WriteFile(path+".bak", data, 0o644); backupErr != nil {
			slog.Warn("failed to write config backup", "error", backupErr)
		}
		var migrateErr error
		data, _, migrateErr = migrate.Config.Run(data, version)
		if migrateErr != nil {
			return nil, fmt.Errorf("migrate config: %w", migrateErr)
		}
	}

	// Start from defaults so new fields get sensible values when the file
	// predates them.
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg.Version = migrate.Config.CurrentVersion
	return cfg, nil
}

// Save writes cfg to dataDir/config.toml atomically.
func Save(dataDir string, cfg *Config) error {
	path := filepath.Join(dataDir, paths.ConfigFile)

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := atomicfile.Write(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// ///////////////////////////////////////////////
// Validation
// ///////////////////////////////////////////////

// Validate reports configuration problems that prevent startup. Softer
// problems (bad milestone keys, bad patterns) are logged at use sites
// instead.
func (c *Config) Validate() error {
	if c.BotToken() == "" {
		return fmt.Errorf("discord token missing: set %s or [discord] token", TokenEnvVar)
	}
	if c.Discord.GuildID == "" {
		return fmt.Errorf("[discord] guild_id missing")
	}
	if c.Report.DailyHour < 0 || c.Report.DailyHour > 23 {
		return fmt.Errorf("[report] daily_hour %d out of range", c.Report.DailyHour)
	}
	if c.Report.DailyMinute < 0 || c.Report.DailyMinute > 59 {
		return fmt.Errorf("[report] daily_minute %d out of range", c.Report.DailyMinute)
	}
	if c.Report.KeepLogDays <= 0 {
		return fmt.Errorf("[report] keep_log_days must be positive")
	}
	if c.Report.KeepSummaryDays < c.Report.KeepLogDays {
		return fmt.Errorf("[report] keep_summary_days must be >= keep_log_days")
	}
	if _, err := time.LoadLocation(c.Report.Timezone); err != nil {
		return fmt.Errorf("[report] timezone: %w", err)
	}
	return nil
}
