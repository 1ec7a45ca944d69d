// Package config provides Viper-based configuration loading for the swing
// timing server.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DatabaseConfig holds PostgreSQL connection settings for the audit archive.
type DatabaseConfig struct {
	// Enabled toggles the Postgres archive sink. When false no connection is
	// opened and flushed entries go to the file sink only.
	Enabled         bool          `mapstructure:"enabled"`
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

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// SchedulerConfig holds global tick scheduler settings.
type SchedulerConfig struct {
	// TickInterval is the fixed tick rate, default 50ms (20Hz).
	TickInterval time.Duration `mapstructure:"tick_interval"`
	// IdleTimeout evicts participants with no combat activity for this long.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	// SlowTickThreshold triggers a warning for any tick running over it.
	SlowTickThreshold time.Duration `mapstructure:"slow_tick_threshold"`
	// GlobalPulse enables scheduler-driven re-triggering of eligible actors.
	GlobalPulse bool `mapstructure:"global_pulse"`
}

// TimingConfig holds timing-provider settings.
type TimingConfig struct {
	// Provider selects the active formula: "statcurve" or "legacy".
	Provider string `mapstructure:"provider"`
	// WeaponsDir is the directory of weapon timing YAML files. Empty uses
	// built-in class defaults only.
	WeaponsDir string `mapstructure:"weapons_dir"`
	// SharedTimers switches actor timer state to the engine's shared
	// cooldown field instead of independent per-category timers.
	SharedTimers bool `mapstructure:"shared_timers"`
	// LogCancellations reports every action cancellation with its reason.
	LogCancellations bool `mapstructure:"log_cancellations"`
}

// AuditConfig holds audit pipeline settings.
type AuditConfig struct {
	// Enabled toggles the whole audit pipeline.
	Enabled bool `mapstructure:"enabled"`
	// Level is "off", "standard", or "detailed".
	Level string `mapstructure:"level"`
	// BufferSize caps the global in-memory entry buffer.
	BufferSize int `mapstructure:"buffer_size"`
	// FlushInterval is how often the buffer is flushed to durable storage.
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	// Dir is where dated NDJSON log files are written.
	Dir string `mapstructure:"dir"`
	// RetentionDays prunes dated log files older than this. 0 disables.
	RetentionDays int `mapstructure:"retention_days"`
	// PerActorHistory caps each actor's recent-entry history. 0 disables.
	PerActorHistory int `mapstructure:"per_actor_history"`
	// PerTickCap limits entries recorded per tick. 0 means unlimited.
	PerTickCap int `mapstructure:"per_tick_cap"`
	// ThrottleThreshold is the tick duration above which audit detail is
	// automatically reduced.
	ThrottleThreshold time.Duration `mapstructure:"throttle_threshold"`
	// ShadowMode enables the reference-provider comparison.
	ShadowMode bool `mapstructure:"shadow_mode"`
	// ShadowSampleEvery compares one in every N swings.
	ShadowSampleEvery int `mapstructure:"shadow_sample_every"`
	// ShadowThreshold flags comparisons disagreeing by more than this.
	ShadowThreshold time.Duration `mapstructure:"shadow_threshold"`
	// ShadowHistorySize caps the in-memory comparison history.
	ShadowHistorySize int `mapstructure:"shadow_history_size"`
}

// OpsConfig holds the operational HTTP query surface settings.
type OpsConfig struct {
	// Host is the bind address for the ops HTTP listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the ops HTTP listener.
	Port int `mapstructure:"port"`
	// ReadTimeout and WriteTimeout bound ops request handling.
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (o OpsConfig) Addr() string {
	return fmt.Sprintf("%s:%d", o.Host, o.Port)
}

// Config is the top-level application configuration.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Timing    TimingConfig    `mapstructure:"timing"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Ops       OpsConfig       `mapstructure:"ops"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateDatabase(c.Database); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateScheduler(c.Scheduler); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateTiming(c.Timing); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateAudit(c.Audit); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateOps(c.Ops); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Audit knob clamping bounds. Out-of-range values are pulled back in by
// Normalize rather than rejected, so a sloppy config cannot starve or bloat
// the pipeline.
const (
	minAuditBuffer = 10
	maxAuditBuffer = 100_000

	minFlushInterval = time.Second
	maxFlushInterval = 10 * time.Minute

	maxPerActorHistory = 10_000
	maxRetentionDays   = 365
)

// Normalize clamps audit knobs to sane ranges. Load applies it after
// Validate.
//
// Postcondition: All clamped values lie within the documented bounds.
func (c Config) Normalize() Config {
	if c.Audit.BufferSize < minAuditBuffer {
		c.Audit.BufferSize = minAuditBuffer
	}
	if c.Audit.BufferSize > maxAuditBuffer {
		c.Audit.BufferSize = maxAuditBuffer
	}
	if c.Audit.FlushInterval < minFlushInterval {
		c.Audit.FlushInterval = minFlushInterval
	}
	if c.Audit.FlushInterval > maxFlushInterval {
		c.Audit.FlushInterval = maxFlushInterval
	}
	if c.Audit.PerActorHistory < 0 {
		c.Audit.PerActorHistory = 0
	}
	if c.Audit.PerActorHistory > maxPerActorHistory {
		c.Audit.PerActorHistory = maxPerActorHistory
	}
	if c.Audit.PerTickCap < 0 {
		c.Audit.PerTickCap = 0
	}
	if c.Audit.RetentionDays < 0 {
		c.Audit.RetentionDays = 0
	}
	if c.Audit.RetentionDays > maxRetentionDays {
		c.Audit.RetentionDays = maxRetentionDays
	}
	if c.Audit.ShadowSampleEvery < 1 {
		c.Audit.ShadowSampleEvery = 1
	}
	if c.Audit.ShadowHistorySize < 1 {
		c.Audit.ShadowHistorySize = 1000
	}
	return c
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

func validateDatabase(d DatabaseConfig) error {
	if !d.Enabled {
		return nil
	}
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
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateScheduler(s SchedulerConfig) error {
	var errs []string
	if s.TickInterval <= 0 {
		errs = append(errs, fmt.Sprintf("scheduler.tick_interval must be > 0, got %s", s.TickInterval))
	}
	if s.IdleTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("scheduler.idle_timeout must be > 0, got %s", s.IdleTimeout))
	}
	if s.SlowTickThreshold <= 0 {
		errs = append(errs, fmt.Sprintf("scheduler.slow_tick_threshold must be > 0, got %s", s.SlowTickThreshold))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateTiming(t TimingConfig) error {
	validProviders := map[string]bool{"statcurve": true, "legacy": true}
	if !validProviders[t.Provider] {
		return fmt.Errorf("timing.provider must be one of [statcurve, legacy], got %q", t.Provider)
	}
	return nil
}

func validateAudit(a AuditConfig) error {
	var errs []string
	validLevels := map[string]bool{"off": true, "standard": true, "detailed": true}
	if !validLevels[a.Level] {
		errs = append(errs, fmt.Sprintf("audit.level must be one of [off, standard, detailed], got %q", a.Level))
	}
	if a.Enabled && a.Dir == "" {
		errs = append(errs, "audit.dir must not be empty when audit is enabled")
	}
	if a.ThrottleThreshold < 0 {
		errs = append(errs, fmt.Sprintf("audit.throttle_threshold must be >= 0, got %s", a.ThrottleThreshold))
	}
	if a.ShadowThreshold < 0 {
		errs = append(errs, fmt.Sprintf("audit.shadow_threshold must be >= 0, got %s", a.ShadowThreshold))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateOps(o OpsConfig) error {
	var errs []string
	if o.Port < 1 || o.Port > 65535 {
		errs = append(errs, fmt.Sprintf("ops.port must be 1-65535, got %d", o.Port))
	}
	if o.ReadTimeout < 0 {
		errs = append(errs, "ops.read_timeout must not be negative")
	}
	if o.WriteTimeout < 0 {
		errs = append(errs, "ops.write_timeout must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, validates, and normalizes the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid, clamped Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with SWING_ prefix
	v.SetEnvPrefix("SWING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg.Normalize(), nil
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid, clamped Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg.Normalize(), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "swing")
	v.SetDefault("database.password", "swing")
	v.SetDefault("database.name", "swing")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("scheduler.tick_interval", "50ms")
	v.SetDefault("scheduler.idle_timeout", "5s")
	v.SetDefault("scheduler.slow_tick_threshold", "10ms")
	v.SetDefault("scheduler.global_pulse", false)

	v.SetDefault("timing.provider", "statcurve")
	v.SetDefault("timing.weapons_dir", "content/weapons")
	v.SetDefault("timing.shared_timers", false)
	v.SetDefault("timing.log_cancellations", true)

	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.level", "standard")
	v.SetDefault("audit.buffer_size", 5000)
	v.SetDefault("audit.flush_interval", "30s")
	v.SetDefault("audit.dir", "logs/audit")
	v.SetDefault("audit.retention_days", 14)
	v.SetDefault("audit.per_actor_history", 100)
	v.SetDefault("audit.per_tick_cap", 200)
	v.SetDefault("audit.throttle_threshold", "8ms")
	v.SetDefault("audit.shadow_mode", false)
	v.SetDefault("audit.shadow_sample_every", 10)
	v.SetDefault("audit.shadow_threshold", "10ms")
	v.SetDefault("audit.shadow_history_size", 1000)

	v.SetDefault("ops.host", "127.0.0.1")
	v.SetDefault("ops.port", 8190)
	v.SetDefault("ops.read_timeout", "10s")
	v.SetDefault("ops.write_timeout", "30s")
}
