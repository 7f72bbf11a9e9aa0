// Package config provides configuration loading and access for the simulation.
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pthm-cable/grainsim/grid"
	"github.com/pthm-cable/grainsim/systems"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

var configValidate = validator.New()

// Config holds all simulation configuration parameters.
type Config struct {
	Grid      grid.Grid       `yaml:"grid"`
	Engine    EngineConfig    `yaml:"engine"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Bookmarks BookmarksConfig `yaml:"bookmarks"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Store     StoreConfig     `yaml:"store"`
	Output    OutputConfig    `yaml:"output"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// EngineConfig holds stepping parameters.
type EngineConfig struct {
	Seed  uint64 `yaml:"seed"`
	Steps int    `yaml:"steps" validate:"gte=0"` // Default run length

	// Levels below this neither diffuse nor render
	MinFieldLevel float64 `yaml:"min_field_level" validate:"gte=0"`

	// Conflict arbitration: union or exclusive
	Arbitration systems.Arbitration `yaml:"arbitration"`
}

// TelemetryConfig holds telemetry parameters.
type TelemetryConfig struct {
	StatsWindow         int  `yaml:"stats_window" validate:"gte=1"` // Steps per stats window
	BookmarkHistorySize int  `yaml:"bookmark_history_size" validate:"gte=1"`
	PerfCollectorWindow int  `yaml:"perf_collector_window" validate:"gte=1"`
	LogStats            bool `yaml:"log_stats"`
}

// BookmarksConfig holds bookmark detection thresholds.
type BookmarksConfig struct {
	Crash         CrashConfig         `yaml:"crash"`
	ConflictSpike ConflictSpikeConfig `yaml:"conflict_spike"`
	SteadyState   SteadyStateConfig   `yaml:"steady_state"`
}

// CrashConfig holds population crash detection parameters.
type CrashConfig struct {
	DropFraction float64 `yaml:"drop_fraction" validate:"gte=0,lte=1"`
	MinDrop      int     `yaml:"min_drop" validate:"gte=0"`
}

// ConflictSpikeConfig holds conflict spike detection parameters.
type ConflictSpikeConfig struct {
	Multiplier   float64 `yaml:"multiplier" validate:"gte=1"`
	MinConflicts int     `yaml:"min_conflicts" validate:"gte=0"`
}

// SteadyStateConfig holds steady state detection parameters.
type SteadyStateConfig struct {
	CVThreshold   float64 `yaml:"cv_threshold" validate:"gte=0"`
	StableWindows int     `yaml:"stable_windows" validate:"gte=1"`
}

// LoggingConfig holds log handler settings.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

// MetricsConfig holds the Prometheus endpoint. An empty address disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// StoreConfig holds the SQLite run store location. An empty path disables it.
// History samples are written in batches every FlushEvery steps.
type StoreConfig struct {
	Path         string `yaml:"path"`
	FlushEvery   int    `yaml:"flush_every" validate:"gte=1"`
	SnapshotLast bool   `yaml:"snapshot_last"`
}

// OutputConfig holds experiment output settings. An empty dir disables it.
type OutputConfig struct {
	Dir   string `yaml:"dir"`
	Chart bool   `yaml:"chart"` // Render history.png at the end of a run
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	LogLevel slog.Level // Logging.Level parsed
	JSONLogs bool       // Logging.Format == "json"
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	// Start with embedded defaults
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	// Load user config if provided
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := configValidate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Compute derived values
	cfg.computeDerived()

	return cfg, nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	c.Grid = c.Grid.Normalize()
	c.Derived.LogLevel = ParseLevel(c.Logging.Level)
	c.Derived.JSONLogs = strings.EqualFold(c.Logging.Format, "json")
}

// ParseLevel maps a level name to a slog.Level. Unknown names mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
