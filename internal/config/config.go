// Package config loads repoindex configuration.
//
// Values are applied in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User config ($XDG_CONFIG_HOME/repoindex/config.yaml or ~/.config/repoindex/config.yaml)
//  3. Project config (.repoindex.yaml in the project root)
//  4. Environment variables (REPOINDEX_*)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// File and directory names used inside a project.
const (
	ProjectConfigName = ".repoindex.yaml"
	IndexDirName      = ".repoindex"
	IgnoreFileName    = ".repoindex-ignore"
)

// Config represents the complete repoindex configuration.
type Config struct {
	Version   int             `yaml:"version" json:"version"`
	Index     IndexConfig     `yaml:"index" json:"index"`
	Retrieval RetrievalConfig `yaml:"retrieval" json:"retrieval"`
	Refresh   RefreshConfig   `yaml:"refresh" json:"refresh"`
	LogLevel  string          `yaml:"log_level" json:"log_level"`
}

// IndexConfig configures how the index is built.
type IndexConfig struct {
	// Enabled turns indexing on or off entirely.
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Model is the embedding model identifier (hash-256, hash-384, hash-768).
	Model string `yaml:"model" json:"model"`
	// Metric is the similarity metric: cosine or ip.
	Metric string `yaml:"metric" json:"metric"`
	// ChunkMode is auto (structural, paragraph, window) or lines (window only).
	ChunkMode    string `yaml:"chunk_mode" json:"chunk_mode"`
	ChunkLines   int    `yaml:"chunk_lines" json:"chunk_lines"`
	ChunkOverlap int    `yaml:"chunk_overlap" json:"chunk_overlap"`
	// MaxFileSize is the per-file size cap in bytes.
	MaxFileSize int64 `yaml:"max_file_size" json:"max_file_size"`
	Workers     int   `yaml:"workers" json:"workers"`
	BatchSize   int   `yaml:"batch_size" json:"batch_size"`
}

// RetrievalConfig configures query-time behavior.
type RetrievalConfig struct {
	// Enabled controls whether retrieved context is attached for the bridge.
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Threshold is the confidence gate in [0,1].
	Threshold float64 `yaml:"threshold" json:"threshold"`
	// ContextBudget caps the attached context in characters.
	ContextBudget int `yaml:"context_budget" json:"context_budget"`
	DefaultK      int `yaml:"default_k" json:"default_k"`
}

// RefreshConfig configures the background refresh scheduler.
type RefreshConfig struct {
	MinInterval     string `yaml:"min_interval" json:"min_interval"`
	MaxFilesPerPass int    `yaml:"max_files_per_pass" json:"max_files_per_pass"`
	Watch           bool   `yaml:"watch" json:"watch"`
	Debounce        string `yaml:"debounce" json:"debounce"`
}

// Interval returns MinInterval as a duration.
// Validate guarantees it parses.
func (r RefreshConfig) Interval() time.Duration {
	d, _ := time.ParseDuration(r.MinInterval)
	return d
}

// DebounceWindow returns Debounce as a duration.
func (r RefreshConfig) DebounceWindow() time.Duration {
	d, _ := time.ParseDuration(r.Debounce)
	return d
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	workers := runtime.NumCPU()
	if workers > 8 {
		workers = 8
	}

	return &Config{
		Version: 1,
		Index: IndexConfig{
			Enabled:      true,
			Model:        "hash-256",
			Metric:       "cosine",
			ChunkMode:    "auto",
			ChunkLines:   160,
			ChunkOverlap: 32,
			MaxFileSize:  5 * 1024 * 1024,
			Workers:      workers,
			BatchSize:    32,
		},
		Retrieval: RetrievalConfig{
			Enabled:       true,
			Threshold:     0.725,
			ContextBudget: 6000,
			DefaultK:      8,
		},
		Refresh: RefreshConfig{
			MinInterval:     "5m",
			MaxFilesPerPass: 200,
			Watch:           true,
			Debounce:        "2s",
		},
		LogLevel: "warn",
	}
}

// GetUserConfigPath returns the path to the user configuration file.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "repoindex", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "repoindex", "config.yaml")
	}
	return filepath.Join(home, ".config", "repoindex", "config.yaml")
}

// Load loads configuration for the project rooted at dir.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userPath := GetUserConfigPath(); fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if projectPath := filepath.Join(dir, ProjectConfigName); fileExists(projectPath) {
		if err := cfg.loadYAML(projectPath); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadYAML decodes path over the current values; keys absent from the file
// keep their previous value.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies REPOINDEX_* environment variable overrides.
// Unparseable values are ignored.
func (c *Config) applyEnvOverrides() {
	if v, ok := os.LookupEnv("REPOINDEX_INDEXING"); ok {
		c.Index.Enabled = parseSwitch(v)
	}
	if v, ok := os.LookupEnv("REPOINDEX_RETRIEVAL"); ok {
		c.Retrieval.Enabled = parseSwitch(v)
	}
	if v := os.Getenv("REPOINDEX_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			c.Retrieval.Threshold = clamp01(f)
		}
	}
	if v := os.Getenv("REPOINDEX_REFRESH_INTERVAL"); v != "" {
		if _, err := time.ParseDuration(v); err == nil {
			c.Refresh.MinInterval = v
		}
	}
	if v := os.Getenv("REPOINDEX_MODEL"); v != "" {
		c.Index.Model = v
	}
	if v := os.Getenv("REPOINDEX_CHUNK_LINES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Index.ChunkLines = n
		}
	}
	if v := os.Getenv("REPOINDEX_CHUNK_OVERLAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Index.ChunkOverlap = n
		}
	}
	if v := os.Getenv("REPOINDEX_MAX_FILE_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Index.MaxFileSize = n
		}
	}
	if v := os.Getenv("REPOINDEX_CONTEXT_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Retrieval.ContextBudget = n
		}
	}
	if v := os.Getenv("REPOINDEX_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// parseSwitch treats 0, off, false and no as disabled.
func parseSwitch(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "0", "off", "false", "no":
		return false
	default:
		return true
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Retrieval.Threshold < 0 || c.Retrieval.Threshold > 1 {
		return fmt.Errorf("retrieval.threshold must be between 0 and 1, got %f", c.Retrieval.Threshold)
	}
	if c.Retrieval.ContextBudget <= 0 {
		return fmt.Errorf("retrieval.context_budget must be positive, got %d", c.Retrieval.ContextBudget)
	}
	if c.Retrieval.DefaultK <= 0 {
		return fmt.Errorf("retrieval.default_k must be positive, got %d", c.Retrieval.DefaultK)
	}

	switch c.Index.Metric {
	case "cosine", "ip":
	default:
		return fmt.Errorf("index.metric must be 'cosine' or 'ip', got %s", c.Index.Metric)
	}
	switch c.Index.ChunkMode {
	case "auto", "lines":
	default:
		return fmt.Errorf("index.chunk_mode must be 'auto' or 'lines', got %s", c.Index.ChunkMode)
	}
	if c.Index.ChunkLines <= 0 {
		return fmt.Errorf("index.chunk_lines must be positive, got %d", c.Index.ChunkLines)
	}
	if c.Index.ChunkOverlap < 0 {
		return fmt.Errorf("index.chunk_overlap must be non-negative, got %d", c.Index.ChunkOverlap)
	}
	if c.Index.MaxFileSize <= 0 {
		return fmt.Errorf("index.max_file_size must be positive, got %d", c.Index.MaxFileSize)
	}
	if c.Index.Workers <= 0 {
		return fmt.Errorf("index.workers must be positive, got %d", c.Index.Workers)
	}
	if c.Index.BatchSize <= 0 || c.Index.BatchSize > 256 {
		return fmt.Errorf("index.batch_size must be in 1..256, got %d", c.Index.BatchSize)
	}

	if d, err := time.ParseDuration(c.Refresh.MinInterval); err != nil || d < 0 {
		return fmt.Errorf("refresh.min_interval must be a non-negative duration, got %q", c.Refresh.MinInterval)
	}
	if _, err := time.ParseDuration(c.Refresh.Debounce); err != nil {
		return fmt.Errorf("refresh.debounce must be a duration, got %q", c.Refresh.Debounce)
	}
	if c.Refresh.MaxFilesPerPass <= 0 {
		return fmt.Errorf("refresh.max_files_per_pass must be positive, got %d", c.Refresh.MaxFilesPerPass)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.LogLevel)
	}

	return nil
}

// FindProjectRoot walks up from startDir looking for a .git directory or a
// project config file. Returns the absolute startDir if neither is found.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	current := absDir
	for {
		if dirExists(filepath.Join(current, ".git")) || fileExists(filepath.Join(current, ProjectConfigName)) {
			return current, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return absDir, nil
		}
		current = parent
	}
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
