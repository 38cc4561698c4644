// Package config provides Viper-based configuration loading for the timer.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
	// Output is a file path, "stdout" or "stderr". Empty means stderr.
	Output string `mapstructure:"output"`
}

// TimerConfig holds clock and session-runner settings.
type TimerConfig struct {
	// TickInterval is the nominal period of the clock source.
	TickInterval time.Duration `mapstructure:"tick_interval"`
	// AutoResetAfter returns a completed session to stopped; 0 disables it.
	AutoResetAfter time.Duration `mapstructure:"auto_reset_after"`
	// SnapshotPath is where a paused session is saved. Empty disables snapshots.
	SnapshotPath string `mapstructure:"snapshot_path"`
	// SnapshotMaxAge is the oldest snapshot restored at startup.
	SnapshotMaxAge time.Duration `mapstructure:"snapshot_max_age"`
}

// DriftConfig selects how long gaps between ticks are treated.
type DriftConfig struct {
	// Policy is "jump" or "freeze".
	Policy string `mapstructure:"policy"`
	// Threshold is the tick delta above which a gap is reported.
	Threshold time.Duration `mapstructure:"threshold"`
}

// TrainingConfig holds the session settings used at startup, in whole seconds.
type TrainingConfig struct {
	// Preset names a preset to load instead of the fields below.
	Preset      string `mapstructure:"preset"`
	PrepareTime int    `mapstructure:"prepare_time"`
	RoundTime   int    `mapstructure:"round_time"`
	WarningTime int    `mapstructure:"warning_time"`
	RestTime    int    `mapstructure:"rest_time"`
	RoundCount  int    `mapstructure:"round_count"`
}

// StorageConfig selects the preset and history backend.
type StorageConfig struct {
	// Driver is "none", "sqlite" or "postgres".
	Driver string `mapstructure:"driver"`
	// SQLitePath is the database file used by the sqlite driver.
	SQLitePath string `mapstructure:"sqlite_path"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// PresetsConfig points at user preset files.
type PresetsConfig struct {
	// Dir holds *.yaml preset files. Empty means built-in presets only.
	Dir string `mapstructure:"dir"`
	// Watch reloads presets when files in Dir change.
	Watch bool `mapstructure:"watch"`
}

// CueConfig controls audio and vibration cues.
type CueConfig struct {
	// Scheme is the default sound scheme: "bell", "whistle" or "beep".
	Scheme          string `mapstructure:"scheme"`
	TerminalBell    bool   `mapstructure:"terminal_bell"`
	EnableCountdown bool   `mapstructure:"enable_countdown"`
	EnableVibration bool   `mapstructure:"enable_vibration"`
	QueueSize       int    `mapstructure:"queue_size"`
}

// ScriptingConfig controls Lua hooks.
type ScriptingConfig struct {
	// Dir holds *.lua hook scripts. Empty disables scripting.
	Dir string `mapstructure:"dir"`
	// InstructionLimit caps the opcodes one hook call may execute.
	InstructionLimit int `mapstructure:"instruction_limit"`
}

// HTTPConfig controls the local control/status API.
type HTTPConfig struct {
	// Addr is the listen address. Empty disables the API.
	Addr string `mapstructure:"addr"`
	// ControlRateLimit is the number of control requests allowed per minute per client.
	ControlRateLimit int `mapstructure:"control_rate_limit"`
}

// Config is the top-level application configuration.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Timer     TimerConfig     `mapstructure:"timer"`
	Drift     DriftConfig     `mapstructure:"drift"`
	Training  TrainingConfig  `mapstructure:"training"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Presets   PresetsConfig   `mapstructure:"presets"`
	Cue       CueConfig       `mapstructure:"cue"`
	Scripting ScriptingConfig `mapstructure:"scripting"`
	HTTP      HTTPConfig      `mapstructure:"http"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string
	for _, err := range []error{
		validateLogging(c.Logging),
		validateTimer(c.Timer),
		validateDrift(c.Drift),
		validateTraining(c.Training),
		validateStorage(c.Storage),
		validateCue(c.Cue),
		validateScripting(c.Scripting),
		validateHTTP(c.HTTP),
	} {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	// A threshold at or below the tick interval would flag every tick as a gap.
	if c.Timer.TickInterval > 0 && c.Drift.Threshold > 0 && c.Drift.Threshold <= c.Timer.TickInterval {
		errs = append(errs, fmt.Sprintf("drift.threshold (%s) must exceed timer.tick_interval (%s)", c.Drift.Threshold, c.Timer.TickInterval))
	}
	// The postgres section only matters when it is the selected driver.
	if c.Storage.Driver == "postgres" {
		if err := validateDatabase(c.Database); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func joined(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s", strings.Join(errs, "; "))
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateTimer(t TimerConfig) error {
	var errs []string
	if t.TickInterval <= 0 || t.TickInterval >= time.Second {
		errs = append(errs, fmt.Sprintf("timer.tick_interval must be in (0, 1s), got %s", t.TickInterval))
	}
	if t.AutoResetAfter < 0 {
		errs = append(errs, "timer.auto_reset_after must not be negative")
	}
	if t.SnapshotMaxAge < 0 {
		errs = append(errs, "timer.snapshot_max_age must not be negative")
	}
	return joined(errs)
}

func validateDrift(d DriftConfig) error {
	var errs []string
	if d.Policy != "jump" && d.Policy != "freeze" {
		errs = append(errs, fmt.Sprintf("drift.policy must be one of [jump, freeze], got %q", d.Policy))
	}
	if d.Threshold <= 0 {
		errs = append(errs, fmt.Sprintf("drift.threshold must be > 0, got %s", d.Threshold))
	}
	return joined(errs)
}

func validateTraining(t TrainingConfig) error {
	if t.Preset != "" {
		return nil
	}
	var errs []string
	if t.PrepareTime < 0 {
		errs = append(errs, fmt.Sprintf("training.prepare_time must be >= 0, got %d", t.PrepareTime))
	}
	if t.RoundTime < 1 {
		errs = append(errs, fmt.Sprintf("training.round_time must be >= 1, got %d", t.RoundTime))
	}
	if t.WarningTime < 0 || t.WarningTime > t.RoundTime {
		errs = append(errs, fmt.Sprintf("training.warning_time must be in [0, round_time], got %d", t.WarningTime))
	}
	if t.RestTime < 0 {
		errs = append(errs, fmt.Sprintf("training.rest_time must be >= 0, got %d", t.RestTime))
	}
	if t.RoundCount < 1 {
		errs = append(errs, fmt.Sprintf("training.round_count must be >= 1, got %d", t.RoundCount))
	}
	return joined(errs)
}

func validateStorage(s StorageConfig) error {
	switch s.Driver {
	case "none", "postgres":
		return nil
	case "sqlite":
		if s.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path must not be empty for the sqlite driver")
		}
		return nil
	}
	return fmt.Errorf("storage.driver must be one of [none, sqlite, postgres], got %q", s.Driver)
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	return joined(errs)
}

func validateCue(c CueConfig) error {
	var errs []string
	validSchemes := map[string]bool{"bell": true, "whistle": true, "beep": true}
	if !validSchemes[c.Scheme] {
		errs = append(errs, fmt.Sprintf("cue.scheme must be one of [bell, whistle, beep], got %q", c.Scheme))
	}
	if c.QueueSize < 1 {
		errs = append(errs, fmt.Sprintf("cue.queue_size must be >= 1, got %d", c.QueueSize))
	}
	return joined(errs)
}

func validateScripting(s ScriptingConfig) error {
	if s.Dir != "" && s.InstructionLimit < 1 {
		return fmt.Errorf("scripting.instruction_limit must be >= 1, got %d", s.InstructionLimit)
	}
	return nil
}

func validateHTTP(h HTTPConfig) error {
	if h.Addr != "" && h.ControlRateLimit < 1 {
		return fmt.Errorf("http.control_rate_limit must be >= 1, got %d", h.ControlRateLimit)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result. An empty path uses defaults and
// environment only.
//
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()

	// Environment variable overrides with BOXING_ prefix
	v.SetEnvPrefix("BOXING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Defaults returns a Viper instance holding only default values.
func Defaults() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("timer.tick_interval", "50ms")
	v.SetDefault("timer.auto_reset_after", "2s")
	v.SetDefault("timer.snapshot_path", "")
	v.SetDefault("timer.snapshot_max_age", "5m")

	v.SetDefault("drift.policy", "jump")
	v.SetDefault("drift.threshold", "3s")

	v.SetDefault("training.preset", "")
	v.SetDefault("training.prepare_time", 10)
	v.SetDefault("training.round_time", 30)
	v.SetDefault("training.warning_time", 10)
	v.SetDefault("training.rest_time", 60)
	v.SetDefault("training.round_count", 10)

	v.SetDefault("storage.driver", "none")
	v.SetDefault("storage.sqlite_path", "boxingtimer.db")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "boxing")
	v.SetDefault("database.password", "boxing")
	v.SetDefault("database.name", "boxingtimer")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("presets.dir", "")
	v.SetDefault("presets.watch", false)

	v.SetDefault("cue.scheme", "bell")
	v.SetDefault("cue.terminal_bell", true)
	v.SetDefault("cue.enable_countdown", true)
	v.SetDefault("cue.enable_vibration", false)
	v.SetDefault("cue.queue_size", 32)

	v.SetDefault("scripting.dir", "")
	v.SetDefault("scripting.instruction_limit", 100000)

	v.SetDefault("http.addr", "")
	v.SetDefault("http.control_rate_limit", 60)
}
