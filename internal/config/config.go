package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/RichLycus/ProjekUtama-sub000/internal/cache"
	"github.com/RichLycus/ProjekUtama-sub000/internal/llm"
	"github.com/RichLycus/ProjekUtama-sub000/internal/logging"
	"github.com/RichLycus/ProjekUtama-sub000/internal/router"
	"github.com/RichLycus/ProjekUtama-sub000/internal/session"
)

// EnvPrefix prefixes every environment override, e.g. MODEFLOW_LLM_MODEL.
const EnvPrefix = "MODEFLOW"

// Config holds all modeflow configuration. It is loaded from
// ~/.modeflow/config.yaml and can be overridden by environment variables.
type Config struct {
	// DataDir holds the SQLite cache, logs and user pipelines.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir" validate:"required"`

	Logging    LoggingConfig           `mapstructure:"logging" yaml:"logging"`
	Intent     router.IntentConfig     `mapstructure:"intent" yaml:"intent"`
	Complexity router.ComplexityConfig `mapstructure:"complexity" yaml:"complexity"`
	Context    router.ContextConfig    `mapstructure:"context" yaml:"context"`
	Selector   router.SelectorConfig   `mapstructure:"selector" yaml:"selector"`
	Session    SessionConfig           `mapstructure:"session" yaml:"session"`
	Pipelines  PipelinesConfig         `mapstructure:"pipelines" yaml:"pipelines"`
	Cache      CacheConfig             `mapstructure:"cache" yaml:"cache"`
	LLM        LLMConfig               `mapstructure:"llm" yaml:"llm"`
	Retrieval  RetrievalConfig         `mapstructure:"retrieval" yaml:"retrieval"`
	Metrics    MetricsConfig           `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig mirrors logging.Config with file tags.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	File       string `mapstructure:"file" yaml:"file"`
	Console    bool   `mapstructure:"console" yaml:"console"`
	Colored    bool   `mapstructure:"colored" yaml:"colored"`
	ShowCaller bool   `mapstructure:"show_caller" yaml:"show_caller"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days" validate:"gte=0"`
}

// ToLogging converts to the logging package's configuration.
func (c LoggingConfig) ToLogging() logging.Config {
	return logging.Config{
		Level:      c.Level,
		FilePath:   c.File,
		Console:    c.Console,
		Colored:    c.Colored,
		ShowCaller: c.ShowCaller,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
	}
}

// SessionConfig bounds the per-session history the context scorer reads.
type SessionConfig struct {
	MaxHistory int `mapstructure:"max_history" yaml:"max_history" validate:"gt=0"`
}

// PipelinesConfig controls where definitions come from and how modes map
// onto them.
type PipelinesConfig struct {
	// Dir is searched before the built-in definitions.
	Dir   string `mapstructure:"dir" yaml:"dir"`
	Watch bool   `mapstructure:"watch" yaml:"watch"`

	// MaxFallbackDepth bounds how many fallback pipelines one request may chain.
	MaxFallbackDepth int `mapstructure:"max_fallback_depth" yaml:"max_fallback_depth" validate:"gte=0"`

	// Routes maps a mode to a "tier/name" pipeline reference.
	Routes map[string]string `mapstructure:"routes" yaml:"routes"`
}

// DefaultRoutes returns the stock mode routing table.
func DefaultRoutes() map[string]string {
	return map[string]string{
		string(router.ModeFast):     "fast/default",
		string(router.ModeThorough): "thorough/default",
		string(router.ModeHybrid):   "hybrid/default",
		string(router.ModeDepends):  "hybrid/default",
	}
}

// CacheConfig selects and tunes the result cache backend.
type CacheConfig struct {
	// Backend is one of memory, sqlite or redis.
	Backend    string                   `mapstructure:"backend" yaml:"backend" validate:"oneof=memory sqlite redis"`
	MaxEntries int                      `mapstructure:"max_entries" yaml:"max_entries" validate:"gt=0"`
	DefaultTTL time.Duration            `mapstructure:"default_ttl" yaml:"default_ttl" validate:"gt=0"`
	TierTTL    map[string]time.Duration `mapstructure:"tier_ttl" yaml:"tier_ttl"`

	// CleanupInterval runs CleanupExpired periodically; zero disables it.
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval" validate:"gte=0"`

	// SQLiteFile is created inside DataDir.
	SQLiteFile string      `mapstructure:"sqlite_file" yaml:"sqlite_file"`
	Redis      RedisConfig `mapstructure:"redis" yaml:"redis"`
}

// ToCache converts to the cache package's configuration.
func (c CacheConfig) ToCache() cache.Config {
	return cache.Config{
		MaxEntries: c.MaxEntries,
		TierTTL:    c.TierTTL,
		DefaultTTL: c.DefaultTTL,
	}
}

// RedisConfig is the redis section of CacheConfig.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
	DB       int    `mapstructure:"db" yaml:"db" validate:"gte=0"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix"`
}

// ToCache converts to cache.RedisConfig.
func (c RedisConfig) ToCache() cache.RedisConfig {
	return cache.RedisConfig{Addr: c.Addr, Password: c.Password, DB: c.DB, Prefix: c.Prefix}
}

// LLMConfig configures the generation backend and its client-side limits.
type LLMConfig struct {
	Ollama   llm.Config     `mapstructure:"ollama" yaml:"ollama"`
	Limits   llm.Limits     `mapstructure:"limits" yaml:"limits"`
	Timeouts TimeoutsConfig `mapstructure:"timeouts" yaml:"timeouts"`
}

// TimeoutsConfig overrides the transport timeouts picked from the endpoint.
// Zero values keep the defaults.
type TimeoutsConfig struct {
	ConnectionTimeout     time.Duration `mapstructure:"connection_timeout" yaml:"connection_timeout" validate:"gte=0"`
	ResponseHeaderTimeout time.Duration `mapstructure:"response_header_timeout" yaml:"response_header_timeout" validate:"gte=0"`
}

// RetrievalConfig points at an optional document set served by the static
// retriever.
type RetrievalConfig struct {
	// Documents is a YAML or JSON file holding a list of documents.
	Documents string `mapstructure:"documents" yaml:"documents"`
}

// MetricsConfig controls the per-request metrics database.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// File is created inside DataDir.
	File string `mapstructure:"file" yaml:"file"`
	// RetentionDays bounds request rows; daily rollups are kept. Zero keeps
	// everything.
	RetentionDays int `mapstructure:"retention_days" yaml:"retention_days" validate:"gte=0"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".modeflow")

	return &Config{
		DataDir: dataDir,
		Logging: LoggingConfig{
			Level:      "info",
			File:       filepath.Join(dataDir, "logs", "modeflow.log"),
			Console:    true,
			Colored:    true,
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Intent:     router.DefaultIntentConfig(),
		Complexity: router.DefaultComplexityConfig(),
		Context:    router.DefaultContextConfig(),
		Selector:   router.DefaultSelectorConfig(),
		Session:    SessionConfig{MaxHistory: session.DefaultMaxHistory},
		Pipelines: PipelinesConfig{
			Dir:              filepath.Join(dataDir, "pipelines"),
			MaxFallbackDepth: 1,
			Routes:           DefaultRoutes(),
		},
		Cache: CacheConfig{
			Backend:         "memory",
			MaxEntries:      cache.DefaultMaxEntries,
			DefaultTTL:      cache.DefaultTTL,
			TierTTL:         cache.DefaultTierTTL(),
			CleanupInterval: 10 * time.Minute,
			SQLiteFile:      "cache.db",
			Redis: RedisConfig{
				Addr:   "127.0.0.1:6379",
				Prefix: "modeflow:cache:",
			},
		},
		LLM: LLMConfig{
			Ollama: *llm.DefaultConfig(),
			Limits: llm.DefaultLimits(),
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			File:          "metrics.db",
			RetentionDays: 30,
		},
	}
}

// DefaultPath returns ~/.modeflow/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".modeflow", "config.yaml"), nil
}

// Load reads configuration from the default location (~/.modeflow/config.yaml)
// and merges with environment variables. If no config file exists, it creates
// one with default values.
func Load() (*Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath reads configuration from a specific file path and merges with
// environment variables. If the file doesn't exist, it creates one with default
// values. A .env file next to the config or in the working directory is loaded
// first; variables already set in the environment win.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeConfigFile(path, Default()); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	if err := loadDotEnv(filepath.Join(configDir, ".env"), ".env"); err != nil {
		return nil, err
	}

	// Defaults are read first so every key is known to viper, which is what
	// lets AutomaticEnv override keys the file omits.
	defaults, err := yaml.Marshal(Default())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal defaults: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("failed to read defaults: %w", err)
	}

	// Example: MODEFLOW_CACHE_REDIS_ADDR
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.DataDir = expandPath(cfg.DataDir)
	cfg.Logging.File = expandPath(cfg.Logging.File)
	cfg.Pipelines.Dir = expandPath(cfg.Pipelines.Dir)
	cfg.Retrieval.Documents = expandPath(cfg.Retrieval.Documents)

	return &cfg, nil
}

func loadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Save writes the current configuration to the default config file location.
func (c *Config) Save() error {
	path, err := DefaultPath()
	if err != nil {
		return err
	}
	return c.SaveToPath(path)
}

// SaveToPath writes the current configuration to a specific file path.
func (c *Config) SaveToPath(path string) error {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return writeConfigFile(path, c)
}

// GetDataDir returns the modeflow data directory path.
func (c *Config) GetDataDir() string {
	if c.DataDir != "" {
		return expandPath(c.DataDir)
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".modeflow")
}

// EnsureDirectories creates the data, log and pipeline directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.GetDataDir()}
	if c.Logging.File != "" {
		dirs = append(dirs, filepath.Dir(c.Logging.File))
	}
	if c.Pipelines.Dir != "" {
		dirs = append(dirs, c.Pipelines.Dir)
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration for common errors and inconsistencies.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("invalid %s: failed %q check", fe.Namespace(), fe.Tag())
		}
		return err
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}

	if _, err := router.NewIntentClassifier(c.Intent); err != nil {
		return fmt.Errorf("intent: %w", err)
	}
	if _, err := router.NewComplexityAnalyzer(c.Complexity); err != nil {
		return fmt.Errorf("complexity: %w", err)
	}
	if err := c.Selector.Validate(); err != nil {
		return err
	}

	for mode, ref := range c.Pipelines.Routes {
		if !router.Mode(mode).IsValid() {
			return fmt.Errorf("pipelines.routes: unknown mode '%s'", mode)
		}
		tier, name, ok := strings.Cut(ref, "/")
		if !ok || tier == "" || name == "" {
			return fmt.Errorf("pipelines.routes.%s: '%s' is not a tier/name reference", mode, ref)
		}
	}

	if c.Cache.Backend == "redis" && c.Cache.Redis.Addr == "" {
		return fmt.Errorf("cache.redis.addr cannot be empty when backend is redis")
	}
	if c.Cache.Backend == "sqlite" && c.Cache.SQLiteFile == "" {
		return fmt.Errorf("cache.sqlite_file cannot be empty when backend is sqlite")
	}
	for tier, ttl := range c.Cache.TierTTL {
		if ttl <= 0 {
			return fmt.Errorf("cache.tier_ttl.%s must be positive", tier)
		}
	}

	if c.LLM.Ollama.Endpoint == "" {
		return fmt.Errorf("llm.ollama.endpoint cannot be empty")
	}
	if c.LLM.Ollama.Temperature < 0 || c.LLM.Ollama.Temperature > 2 {
		return fmt.Errorf("llm.ollama.temperature must be between 0 and 2")
	}
	if c.LLM.Limits.RequestsPerMinute < 0 || c.LLM.Limits.ConcurrentRequests < 0 {
		return fmt.Errorf("llm.limits cannot be negative")
	}
	if c.Metrics.Enabled && c.Metrics.File == "" {
		return fmt.Errorf("metrics.file cannot be empty when metrics are enabled")
	}

	return nil
}

// writeConfigFile writes a Config struct to a YAML file.
func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// expandPath expands ~ to the user's home directory in a path string.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}
