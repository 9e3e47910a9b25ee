// Package config loads the server configuration from a TOML, YAML or JSON
// file, applies MYAGENT_* environment overrides and validates the result.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MYAGENT_"

// Config is the full server configuration.
type Config struct {
	DataDir  string         `toml:"data_dir" json:"data_dir" yaml:"data_dir"`
	Storage  StorageConfig  `toml:"storage" json:"storage" yaml:"storage"`
	Findings FindingsConfig `toml:"findings" json:"findings" yaml:"findings"`
	Patterns PatternsConfig `toml:"patterns" json:"patterns" yaml:"patterns"`
	Sessions SessionsConfig `toml:"sessions" json:"sessions" yaml:"sessions"`
	Queue    QueueConfig    `toml:"queue" json:"queue" yaml:"queue"`
	Log      LogConfig      `toml:"log" json:"log" yaml:"log"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend string `toml:"backend" json:"backend" yaml:"backend"` // json | sqlite
}

// FindingsConfig tunes the finding store.
type FindingsConfig struct {
	SimilarityThreshold float64 `toml:"similarity_threshold" json:"similarity_threshold" yaml:"similarity_threshold"`
	QueryLimit          int     `toml:"query_limit" json:"query_limit" yaml:"query_limit"`
}

// PatternsConfig tunes the pattern tracker and its seed libraries.
type PatternsConfig struct {
	MinConfidence float64 `toml:"min_confidence" json:"min_confidence" yaml:"min_confidence"`
	LearningRate  float64 `toml:"learning_rate" json:"learning_rate" yaml:"learning_rate"`
	HistoryLimit  int     `toml:"history_limit" json:"history_limit" yaml:"history_limit"`
	SeedFile      string  `toml:"seed_file" json:"seed_file" yaml:"seed_file"`
	Builtin       bool    `toml:"builtin" json:"builtin" yaml:"builtin"`
}

// SessionsConfig tunes the session manager.
type SessionsConfig struct {
	Retention string `toml:"retention" json:"retention" yaml:"retention"` // Go duration, e.g. "168h"
	MaxEvents int    `toml:"max_events" json:"max_events" yaml:"max_events"`
}

// RetentionDuration parses Retention. Call after Validate.
func (s SessionsConfig) RetentionDuration() time.Duration {
	d, _ := time.ParseDuration(s.Retention)
	return d
}

// QueueConfig tunes the priority queues.
type QueueConfig struct {
	PriorityThreshold int `toml:"priority_threshold" json:"priority_threshold" yaml:"priority_threshold"`
	RetryCap          int `toml:"retry_cap" json:"retry_cap" yaml:"retry_cap"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `toml:"level" json:"level" yaml:"level"`   // debug | info | warn | error
	Format string `toml:"format" json:"format" yaml:"format"` // text | json
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	dataDir := ".myagent"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".myagent")
	}
	return &Config{
		DataDir: dataDir,
		Storage: StorageConfig{Backend: "json"},
		Findings: FindingsConfig{
			SimilarityThreshold: 0.85,
			QueryLimit:          20,
		},
		Patterns: PatternsConfig{
			MinConfidence: 0.5,
			LearningRate:  0.1,
			HistoryLimit:  20,
			Builtin:       true,
		},
		Sessions: SessionsConfig{
			Retention: "168h",
			MaxEvents: 1000,
		},
		Queue: QueueConfig{
			PriorityThreshold: 0,
			RetryCap:          3,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds a configuration from defaults, the file at path (if any) and
// the environment. An empty path or a missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func loadFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("config: decode TOML: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: decode YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: decode JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("config: unsupported file extension %q: must be one of: .toml, .yaml, .yml, .json", ext)
	}
	return cfg, nil
}

// ApplyEnvOverrides replaces fields whose MYAGENT_* variable is set.
// Unparseable values are ignored.
func (c *Config) ApplyEnvOverrides() {
	c.DataDir = envStr("DATA_DIR", c.DataDir)
	c.Storage.Backend = envStr("STORAGE_BACKEND", c.Storage.Backend)
	c.Findings.SimilarityThreshold = envFloat("SIMILARITY_THRESHOLD", c.Findings.SimilarityThreshold)
	c.Findings.QueryLimit = envInt("QUERY_LIMIT", c.Findings.QueryLimit)
	c.Patterns.MinConfidence = envFloat("MIN_CONFIDENCE", c.Patterns.MinConfidence)
	c.Patterns.LearningRate = envFloat("LEARNING_RATE", c.Patterns.LearningRate)
	c.Patterns.HistoryLimit = envInt("HISTORY_LIMIT", c.Patterns.HistoryLimit)
	c.Patterns.SeedFile = envStr("PATTERN_SEED_FILE", c.Patterns.SeedFile)
	c.Patterns.Builtin = envBool("PATTERN_BUILTIN", c.Patterns.Builtin)
	c.Sessions.Retention = envStr("SESSION_RETENTION", c.Sessions.Retention)
	c.Sessions.MaxEvents = envInt("SESSION_MAX_EVENTS", c.Sessions.MaxEvents)
	c.Queue.PriorityThreshold = envInt("QUEUE_PRIORITY_THRESHOLD", c.Queue.PriorityThreshold)
	c.Queue.RetryCap = envInt("QUEUE_RETRY_CAP", c.Queue.RetryCap)
	c.Log.Level = envStr("LOG_LEVEL", c.Log.Level)
	c.Log.Format = envStr("LOG_FORMAT", c.Log.Format)
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir is required")
	}
	switch c.Storage.Backend {
	case "json", "sqlite":
	default:
		return fmt.Errorf("storage.backend %q: must be one of: json, sqlite", c.Storage.Backend)
	}
	if t := c.Findings.SimilarityThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("findings.similarity_threshold %v: must be in (0, 1]", t)
	}
	if c.Findings.QueryLimit <= 0 {
		return fmt.Errorf("findings.query_limit must be positive, got %d", c.Findings.QueryLimit)
	}
	if v := c.Patterns.MinConfidence; v < 0 || v > 1 {
		return fmt.Errorf("patterns.min_confidence %v: must be in [0, 1]", v)
	}
	if v := c.Patterns.LearningRate; v <= 0 || v > 1 {
		return fmt.Errorf("patterns.learning_rate %v: must be in (0, 1]", v)
	}
	if c.Patterns.HistoryLimit <= 0 {
		return fmt.Errorf("patterns.history_limit must be positive, got %d", c.Patterns.HistoryLimit)
	}
	d, err := time.ParseDuration(c.Sessions.Retention)
	if err != nil {
		return fmt.Errorf("sessions.retention: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("sessions.retention must be positive, got %s", d)
	}
	if c.Sessions.MaxEvents <= 0 {
		return fmt.Errorf("sessions.max_events must be positive, got %d", c.Sessions.MaxEvents)
	}
	if v := c.Queue.PriorityThreshold; v < 0 || v > 4 {
		return fmt.Errorf("queue.priority_threshold %d: must be 0 (off) or 1..4", v)
	}
	if c.Queue.RetryCap <= 0 {
		return fmt.Errorf("queue.retry_cap must be positive, got %d", c.Queue.RetryCap)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q: must be one of: debug, info, warn, error", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q: must be one of: text, json", c.Log.Format)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
