// Package config loads the agent's configuration: defaults, an optional
// YAML file, and AGENT_* environment variables, with env winning.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

func defaultMemoryDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".surf-memory"
	}
	return filepath.Join(home, ".surf", "memory")
}

// Defaults for every tunable.
const (
	DefaultModelEndpoint = "http://localhost:11434/v1"
	DefaultTextModel     = "qwen2.5:14b"
	DefaultVisionModel   = "qwen2.5-vl:7b"
	DefaultEmbedModel    = "nomic-embed-text"

	DefaultMaxIterations    = 25
	DefaultGoalTimeout      = 5 * time.Minute
	DefaultContextCap       = 100
	DefaultCompactThreshold = 80
	DefaultKeepLast         = 10
	DefaultFatalFailures    = 3

	DefaultSnapshotTTL      = 2 * time.Second
	DefaultSnapshotCacheLRU = 10

	DefaultCircuitFailureThreshold = 3
	DefaultCircuitWindow           = 30 * time.Second
	DefaultCircuitCoolOff          = 60 * time.Second

	DefaultMinSelectorConfidence = 0.5

	DefaultCaptchaHigh   = 0.85
	DefaultCaptchaGood   = 0.75
	DefaultCaptchaMedium = 0.50
)

// AgentConfig is the single configuration value handed down through the
// agent. Every knob has a default; nothing reads the environment after Load.
type AgentConfig struct {
	// Model client.
	ModelEndpoint string `mapstructure:"model_endpoint"`
	TextModel     string `mapstructure:"text_model"`
	VisionModel   string `mapstructure:"vision_model"`
	EmbedModel    string `mapstructure:"embed_model"`
	APIKey        string `mapstructure:"api_key"`

	// Orchestrator limits.
	MaxIterations    int           `mapstructure:"max_iterations"`
	GoalTimeout      time.Duration `mapstructure:"goal_timeout"`
	ContextCap       int           `mapstructure:"context_cap"`
	CompactThreshold int           `mapstructure:"compact_threshold"`
	KeepLast         int           `mapstructure:"keep_last"`
	FatalFailures    int           `mapstructure:"fatal_failures"`

	// Snapshot subsystem.
	SnapshotTTL time.Duration `mapstructure:"snapshot_ttl"`
	DiffMode    bool          `mapstructure:"diff_mode"`
	SnapshotLRU int           `mapstructure:"snapshot_lru"`

	// Circuit breaker.
	CircuitFailureThreshold int           `mapstructure:"circuit_failure_threshold"`
	CircuitWindow           time.Duration `mapstructure:"circuit_window"`
	CircuitCoolOff          time.Duration `mapstructure:"circuit_cool_off"`

	// Site memory.
	MinSelectorConfidence float64 `mapstructure:"min_selector_confidence"`

	// CAPTCHA decision bands.
	CaptchaHigh   float64 `mapstructure:"captcha_high"`
	CaptchaGood   float64 `mapstructure:"captcha_good"`
	CaptchaMedium float64 `mapstructure:"captcha_medium"`

	// Persistence and browser session.
	MemoryDir        string `mapstructure:"memory_dir"`
	DebugBrowserPort int    `mapstructure:"debug_browser_port"`

	// Valence (off by default).
	ValenceEnabled bool `mapstructure:"valence_enabled"`

	// Logging.
	LogFile  string `mapstructure:"log_file"`
	LogLevel string `mapstructure:"log_level"`
}

// Load builds the config from defaults, the optional YAML file at
// configPath, and AGENT_* environment variables (highest precedence).
func Load(configPath string) (*AgentConfig, error) {
	v := viper.New()

	v.SetDefault("model_endpoint", DefaultModelEndpoint)
	v.SetDefault("text_model", DefaultTextModel)
	v.SetDefault("vision_model", DefaultVisionModel)
	v.SetDefault("embed_model", DefaultEmbedModel)
	v.SetDefault("api_key", "")
	v.SetDefault("max_iterations", DefaultMaxIterations)
	v.SetDefault("goal_timeout_ms", int64(DefaultGoalTimeout/time.Millisecond))
	v.SetDefault("context_cap", DefaultContextCap)
	v.SetDefault("compact_threshold", DefaultCompactThreshold)
	v.SetDefault("keep_last", DefaultKeepLast)
	v.SetDefault("fatal_failures", DefaultFatalFailures)
	v.SetDefault("cache_ttl_ms", int64(DefaultSnapshotTTL/time.Millisecond))
	v.SetDefault("diff_mode", true)
	v.SetDefault("snapshot_lru", DefaultSnapshotCacheLRU)
	v.SetDefault("circuit_failure_threshold", DefaultCircuitFailureThreshold)
	v.SetDefault("circuit_window_ms", int64(DefaultCircuitWindow/time.Millisecond))
	v.SetDefault("circuit_cool_off_ms", int64(DefaultCircuitCoolOff/time.Millisecond))
	v.SetDefault("min_selector_confidence", DefaultMinSelectorConfidence)
	v.SetDefault("captcha_high", DefaultCaptchaHigh)
	v.SetDefault("captcha_good", DefaultCaptchaGood)
	v.SetDefault("captcha_medium", DefaultCaptchaMedium)
	v.SetDefault("memory_dir", defaultMemoryDir())
	v.SetDefault("debug_browser_port", 0)
	v.SetDefault("valence_enabled", false)
	v.SetDefault("log_file", "surf-debug.log")
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	cfg := &AgentConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// Durations arrive as millisecond integers (AGENT_GOAL_TIMEOUT_MS and
	// friends); fold them in here so the rest of the program sees
	// time.Duration only.
	cfg.GoalTimeout = time.Duration(v.GetInt64("goal_timeout_ms")) * time.Millisecond
	cfg.SnapshotTTL = time.Duration(v.GetInt64("cache_ttl_ms")) * time.Millisecond
	cfg.CircuitWindow = time.Duration(v.GetInt64("circuit_window_ms")) * time.Millisecond
	cfg.CircuitCoolOff = time.Duration(v.GetInt64("circuit_cool_off_ms")) * time.Millisecond

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the agent cannot run with.
func (c *AgentConfig) Validate() error {
	switch {
	case c.ModelEndpoint == "":
		return fmt.Errorf("config: model_endpoint is required")
	case c.MaxIterations <= 0:
		return fmt.Errorf("config: max_iterations must be positive, got %d", c.MaxIterations)
	case c.GoalTimeout <= 0:
		return fmt.Errorf("config: goal_timeout must be positive, got %v", c.GoalTimeout)
	case c.ContextCap <= 0:
		return fmt.Errorf("config: context_cap must be positive, got %d", c.ContextCap)
	case c.CompactThreshold <= 0 || c.CompactThreshold > c.ContextCap:
		return fmt.Errorf("config: compact_threshold %d must be in (0, context_cap %d]", c.CompactThreshold, c.ContextCap)
	case c.KeepLast <= 0 || c.KeepLast >= c.CompactThreshold:
		return fmt.Errorf("config: keep_last %d must be in (0, compact_threshold %d)", c.KeepLast, c.CompactThreshold)
	case c.SnapshotTTL <= 0:
		return fmt.Errorf("config: cache_ttl must be positive, got %v", c.SnapshotTTL)
	case c.CircuitFailureThreshold <= 0:
		return fmt.Errorf("config: circuit_failure_threshold must be positive, got %d", c.CircuitFailureThreshold)
	case c.MinSelectorConfidence < 0 || c.MinSelectorConfidence > 1:
		return fmt.Errorf("config: min_selector_confidence %v must be in [0, 1]", c.MinSelectorConfidence)
	case !(c.CaptchaHigh > c.CaptchaGood && c.CaptchaGood > c.CaptchaMedium && c.CaptchaMedium > 0):
		return fmt.Errorf("config: captcha bands must descend high > good > medium > 0, got %v/%v/%v",
			c.CaptchaHigh, c.CaptchaGood, c.CaptchaMedium)
	case c.DebugBrowserPort != 0 && (c.DebugBrowserPort < 1024 || c.DebugBrowserPort > 65535):
		return fmt.Errorf("config: debug_browser_port %d out of range", c.DebugBrowserPort)
	}
	return nil
}
