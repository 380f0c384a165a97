// Package config loads layered YAML configuration: built-in defaults, XDG
// user config, project config, then PLOKE_* environment overrides, each
// layer only overriding non-zero fields of the one before it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// SchemaVersion is bumped whenever a new recognized field is added, so
// MergeNewDefaults can backfill existing user configs without clobbering
// customized values.
const SchemaVersion = 1

// OrchestratorConfig controls the indexer orchestrator.
type OrchestratorConfig struct {
	BatchSize int `yaml:"batch_size"`
}

// ProviderConfig controls the embedding provider.
type ProviderConfig struct {
	Provider          string   `yaml:"provider"` // local|huggingface|openai|openrouter|cozo
	Model             string   `yaml:"model"`
	Dimensions        int      `yaml:"dimensions"`
	MaxInFlight       int      `yaml:"max_in_flight"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	MaxAttempts       int      `yaml:"max_attempts"`
	InitialBackoffMs  int      `yaml:"initial_backoff_ms"`
	MaxBackoffMs      int      `yaml:"max_backoff_ms"`
	TimeoutSecs       int      `yaml:"timeout_secs"`
	RequestDimensions int      `yaml:"request_dimensions"`
	InputType         string   `yaml:"input_type"`
	BaseURL           string   `yaml:"base_url"`
	Roots             []string `yaml:"roots"`
}

// RetrievalConfig controls query-time fusion and caching.
type RetrievalConfig struct {
	RRFConstant    int `yaml:"rrf_k"`
	QueryCacheSize int `yaml:"query_cache_size"`
	DefaultTopK    int `yaml:"default_top_k"`
}

// LoggingConfig controls the structured logger
type LoggingConfig struct {
	Level         string `yaml:"level"`
	FilePath      string `yaml:"file"`
	MaxSizeMB     int    `yaml:"max_size_mb"`
	MaxFiles      int    `yaml:"max_files"`
	WriteToStderr bool   `yaml:"write_to_stderr"`
}

// WatchConfig controls the optional fsnotify-backed trigger.
type WatchConfig struct {
	Enabled    bool `yaml:"enabled"`
	DebounceMs int  `yaml:"debounce_ms"`
}

// PathsConfig holds filesystem locations.
type PathsConfig struct {
	DataDir string `yaml:"data_dir"`
}

// Config is the fully merged configuration.
type Config struct {
	SchemaVersion int                `yaml:"schema_version"`
	Paths         PathsConfig        `yaml:"paths"`
	Orchestrator  OrchestratorConfig `yaml:"orchestrator"`
	Provider      ProviderConfig     `yaml:"provider"`
	Retrieval     RetrievalConfig    `yaml:"retrieval"`
	Logging       LoggingConfig      `yaml:"logging"`
	Watch         WatchConfig        `yaml:"watch"`
}

// NewConfig returns the built-in defaults (first merge layer).
func NewConfig() *Config {
	home, err := os.UserHomeDir()
	dataDir := filepath.Join(os.TempDir(), "ploke")
	if err == nil {
		dataDir = filepath.Join(home, ".local", "share", "ploke")
	}
	return &Config{
		SchemaVersion: SchemaVersion,
		Paths:         PathsConfig{DataDir: dataDir},
		Orchestrator:  OrchestratorConfig{BatchSize: 64},
		Provider: ProviderConfig{
			Provider:          "openrouter",
			Model:             "openai/text-embedding-3-small",
			Dimensions:        768,
			MaxInFlight:       4,
			RequestsPerSecond: 0, // unlimited unless set
			MaxAttempts:       3,
			InitialBackoffMs:  500,
			MaxBackoffMs:      16000,
			TimeoutSecs:       30,
		},
		Retrieval: RetrievalConfig{RRFConstant: 60, QueryCacheSize: 256, DefaultTopK: 10},
		Logging:   LoggingConfig{Level: "info", MaxSizeMB: 10, MaxFiles: 5, WriteToStderr: true},
		Watch:     WatchConfig{Enabled: false, DebounceMs: 500},
	}
}

// GetUserConfigDir returns the XDG-compliant user config directory.
func GetUserConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ploke")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "ploke")
	}
	return filepath.Join(home, ".config", "ploke")
}

// GetUserConfigPath returns the path to the user-level config file.
func GetUserConfigPath() string {
	return filepath.Join(GetUserConfigDir(), "config.yaml")
}

// UserConfigExists reports whether a user config file has been written.
func UserConfigExists() bool {
	_, err := os.Stat(GetUserConfigPath())
	return err == nil
}

// Load merges defaults -> user config -> project config (".ploke.yaml" in
// dir) -> PLOKE_* environment overrides, in that order.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if UserConfigExists() {
		var user Config
		if err := loadYAML(GetUserConfigPath(), &user); err != nil {
			return nil, fmt.Errorf("loading user config: %w", err)
		}
		cfg.mergeWith(&user)
	}

	projectPath := filepath.Join(dir, ".ploke.yaml")
	if fileExists(projectPath) {
		var project Config
		if err := loadYAML(projectPath, &project); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
		cfg.mergeWith(&project)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadYAML(path string, out *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}

// mergeWith overlays non-zero fields of other onto c. Zero values in a
// later layer never clobber a set value from an earlier one.
func (c *Config) mergeWith(other *Config) {
	if other.Paths.DataDir != "" {
		c.Paths.DataDir = other.Paths.DataDir
	}
	if other.Orchestrator.BatchSize != 0 {
		c.Orchestrator.BatchSize = other.Orchestrator.BatchSize
	}
	p, op := &c.Provider, &other.Provider
	if op.Provider != "" {
		p.Provider = op.Provider
	}
	if op.Model != "" {
		p.Model = op.Model
	}
	if op.Dimensions != 0 {
		p.Dimensions = op.Dimensions
	}
	if op.MaxInFlight != 0 {
		p.MaxInFlight = op.MaxInFlight
	}
	if op.RequestsPerSecond != 0 {
		p.RequestsPerSecond = op.RequestsPerSecond
	}
	if op.MaxAttempts != 0 {
		p.MaxAttempts = op.MaxAttempts
	}
	if op.InitialBackoffMs != 0 {
		p.InitialBackoffMs = op.InitialBackoffMs
	}
	if op.MaxBackoffMs != 0 {
		p.MaxBackoffMs = op.MaxBackoffMs
	}
	if op.TimeoutSecs != 0 {
		p.TimeoutSecs = op.TimeoutSecs
	}
	if op.RequestDimensions != 0 {
		p.RequestDimensions = op.RequestDimensions
	}
	if op.InputType != "" {
		p.InputType = op.InputType
	}
	if op.BaseURL != "" {
		p.BaseURL = op.BaseURL
	}
	if len(op.Roots) > 0 {
		p.Roots = op.Roots
	}
	if other.Retrieval.RRFConstant != 0 {
		c.Retrieval.RRFConstant = other.Retrieval.RRFConstant
	}
	if other.Retrieval.QueryCacheSize != 0 {
		c.Retrieval.QueryCacheSize = other.Retrieval.QueryCacheSize
	}
	if other.Retrieval.DefaultTopK != 0 {
		c.Retrieval.DefaultTopK = other.Retrieval.DefaultTopK
	}
	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.FilePath != "" {
		c.Logging.FilePath = other.Logging.FilePath
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxFiles != 0 {
		c.Logging.MaxFiles = other.Logging.MaxFiles
	}
	if other.Watch.DebounceMs != 0 {
		c.Watch.DebounceMs = other.Watch.DebounceMs
	}
	// Watch.Enabled is a plain bool: an explicit "false" in a later layer
	// is indistinguishable from "unset" here, a known ambiguity in
	// non-zero-value merging of boolean fields; callers that need an
	// authoritative "explicitly disabled" signal should use the env
	// override (PLOKE_WATCH_ENABLED=false), which always wins.
	if other.Watch.Enabled {
		c.Watch.Enabled = true
	}
}

// applyEnvOverrides applies PLOKE_* environment variables, which always
// win over file-based layers.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PLOKE_DATA_DIR"); v != "" {
		c.Paths.DataDir = v
	}
	if v := os.Getenv("PLOKE_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Orchestrator.BatchSize = n
		}
	}
	if v := os.Getenv("PLOKE_PROVIDER"); v != "" {
		c.Provider.Provider = v
	}
	if v := os.Getenv("PLOKE_MODEL"); v != "" {
		c.Provider.Model = v
	}
	if v := os.Getenv("PLOKE_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Provider.Dimensions = n
		}
	}
	if v := os.Getenv("PLOKE_MAX_IN_FLIGHT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Provider.MaxInFlight = n
		}
	}
	if v := os.Getenv("PLOKE_REQUESTS_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Provider.RequestsPerSecond = f
		}
	}
	if v := os.Getenv("PLOKE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := strings.ToLower(os.Getenv("PLOKE_WATCH_ENABLED")); v != "" {
		c.Watch.Enabled = v == "true" || v == "1"
	}
}

// Validate rejects configs with nonsensical values.
func (c *Config) Validate() error {
	if c.Orchestrator.BatchSize <= 0 {
		return fmt.Errorf("orchestrator.batch_size must be positive")
	}
	if c.Provider.Dimensions <= 0 {
		return fmt.Errorf("provider.dimensions must be positive")
	}
	if c.Provider.MaxInFlight <= 0 {
		return fmt.Errorf("provider.max_in_flight must be positive")
	}
	if c.Provider.MaxAttempts <= 0 {
		return fmt.Errorf("provider.max_attempts must be positive")
	}
	switch c.Provider.Provider {
	case "local", "huggingface", "openai", "openrouter", "cozo":
	default:
		return fmt.Errorf("unrecognized provider %q", c.Provider.Provider)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unrecognized log level %q", c.Logging.Level)
	}
	return nil
}

// WriteYAML writes the merged config to path (used by `ploke config`).
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// MergeNewDefaults backfills fields introduced after a user's config was
// first written (tracked by SchemaVersion), returning the names of fields
// that were added. It never overwrites a value the user already set.
func (c *Config) MergeNewDefaults() []string {
	var added []string
	if c.SchemaVersion >= SchemaVersion {
		return added
	}
	defaults := NewConfig()
	if c.Retrieval.DefaultTopK == 0 {
		c.Retrieval.DefaultTopK = defaults.Retrieval.DefaultTopK
		added = append(added, "retrieval.default_top_k")
	}
	c.SchemaVersion = SchemaVersion
	return added
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
