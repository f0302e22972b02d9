// ABOUTME: Config structs and loader for database, logging, matching, and dedupe settings
// ABOUTME: Matching thresholds are tuned heuristics surfaced as configuration, not constants

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete convocore configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Matching MatchingConfig `yaml:"matching"`
	Dedupe   DedupeConfig   `yaml:"dedupe"`
	Turn     TurnConfig     `yaml:"turn"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MatchingConfig holds the classifier tuning knobs. The floor and gap are
// product-tuned values; do not change them without product guidance.
type MatchingConfig struct {
	// IntentThreshold is the minimum example-phrase similarity for an
	// intent match.
	IntentThreshold float64 `yaml:"intent_threshold"`
	// ConfidenceFloor is the minimum top search score the catalog resolver
	// accepts without asking for clarification.
	ConfidenceFloor float64 `yaml:"confidence_floor"`
	// AmbiguityGap forces clarification when the runner-up is this close to
	// the top score while itself above the floor.
	AmbiguityGap float64 `yaml:"ambiguity_gap"`
	// MaxOptions bounds disambiguation and listing payloads.
	MaxOptions int `yaml:"max_options"`

	StickyTTL    time.Duration `yaml:"-"`
	StickyTTLRaw string        `yaml:"sticky_ttl"`
}

// DedupeConfig holds the in-process duplicate-filter settings.
type DedupeConfig struct {
	MaxSize int           `yaml:"max_size"`
	TTL     time.Duration `yaml:"-"`
	TTLRaw  string        `yaml:"ttl"`
}

// TurnConfig bounds per-turn dependency calls.
type TurnConfig struct {
	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// Default returns a config with the tuned defaults and no database path.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Matching: MatchingConfig{
			IntentThreshold: 0.55,
			ConfidenceFloor: 0.35,
			AmbiguityGap:    0.08,
			MaxOptions:      5,
			StickyTTL:       20 * time.Minute,
		},
		Dedupe: DedupeConfig{MaxSize: 10000, TTL: 10 * time.Minute},
		Turn:   TurnConfig{Timeout: 10 * time.Second},
	}
}

// Load reads a configuration file from the given path. Environment variables
// in the format ${VAR_NAME} are expanded; unset fields keep the tuned
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with environment variable
// values; unset variables become empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required fields are present and in range.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Matching.IntentThreshold < 0 || c.Matching.IntentThreshold > 1 {
		return fmt.Errorf("matching.intent_threshold must be within [0,1]")
	}
	if c.Matching.ConfidenceFloor < 0 || c.Matching.ConfidenceFloor > 1 {
		return fmt.Errorf("matching.confidence_floor must be within [0,1]")
	}
	if c.Matching.AmbiguityGap < 0 || c.Matching.AmbiguityGap > 1 {
		return fmt.Errorf("matching.ambiguity_gap must be within [0,1]")
	}
	if c.Matching.MaxOptions <= 0 {
		return fmt.Errorf("matching.max_options must be positive")
	}
	return nil
}

// parseDurations converts raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Matching.StickyTTLRaw != "" {
		cfg.Matching.StickyTTL, err = time.ParseDuration(cfg.Matching.StickyTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing sticky_ttl %q: %w", cfg.Matching.StickyTTLRaw, err)
		}
	}

	if cfg.Dedupe.TTLRaw != "" {
		cfg.Dedupe.TTL, err = time.ParseDuration(cfg.Dedupe.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing dedupe ttl %q: %w", cfg.Dedupe.TTLRaw, err)
		}
	}

	if cfg.Turn.TimeoutRaw != "" {
		cfg.Turn.Timeout, err = time.ParseDuration(cfg.Turn.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing turn timeout %q: %w", cfg.Turn.TimeoutRaw, err)
		}
	}

	return nil
}
