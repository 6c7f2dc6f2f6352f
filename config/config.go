// Package config loads codeloop settings from an optional YAML file and
// CODELOOP_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/martinemde/codeloop/agentloop"
	"github.com/martinemde/codeloop/testrunner"
)

// EnvPrefix is the prefix of environment overrides, e.g. CODELOOP_MODEL_NAME.
const EnvPrefix = "CODELOOP"

// DefaultFile is the config file looked up in the working directory.
const DefaultFile = "codeloop.yaml"

// Config is the complete codeloop configuration.
type Config struct {
	Model     ModelConfig     `mapstructure:"model" yaml:"model"`
	Loop      LoopConfig      `mapstructure:"loop" yaml:"loop"`
	Knowledge KnowledgeConfig `mapstructure:"knowledge" yaml:"knowledge"`
	Tests     TestsConfig     `mapstructure:"tests" yaml:"tests"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Workspace WorkspaceConfig `mapstructure:"workspace" yaml:"workspace"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`

	// Environments names an optional YAML file of extra environment profiles.
	Environments string `mapstructure:"environments" yaml:"environments,omitempty"`
}

// ProviderAuto registers every provider with an API key in the environment.
const ProviderAuto = "auto"

// ModelConfig selects the provider and model.
type ModelConfig struct {
	Provider       string        `mapstructure:"provider" yaml:"provider"`
	Name           string        `mapstructure:"name" yaml:"name"`
	APIKey         string        `mapstructure:"api_key" yaml:"-"`
	MaxTokens      int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature    float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxRetries     int           `mapstructure:"max_retries" yaml:"max_retries"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// LoopConfig holds the executor loop budgets.
type LoopConfig struct {
	MaxToolCalls          int  `mapstructure:"max_tool_calls" yaml:"max_tool_calls"`
	MaxContinues          int  `mapstructure:"max_continues" yaml:"max_continues"`
	ContinuationTailChars int  `mapstructure:"continuation_tail_chars" yaml:"continuation_tail_chars"`
	MaxScoutFiles         int  `mapstructure:"max_scout_files" yaml:"max_scout_files"`
	DisableScout          bool `mapstructure:"disable_scout" yaml:"disable_scout"`
	LoopDetection         bool `mapstructure:"loop_detection" yaml:"loop_detection"`
	LoopDetectionWindow   int  `mapstructure:"loop_detection_window" yaml:"loop_detection_window"`
}

// KnowledgeConfig controls background summarization.
type KnowledgeConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	Threshold     int           `mapstructure:"threshold" yaml:"threshold"`
	MaxConcurrent int           `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// TestsConfig configures the test runner.
type TestsConfig struct {
	Command []string      `mapstructure:"command" yaml:"command"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// StoreConfig locates the conversation database.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// WorkspaceConfig locates the project.
type WorkspaceConfig struct {
	Root string `mapstructure:"root" yaml:"root"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	engine := agentloop.DefaultConfig()
	return &Config{
		Model: ModelConfig{
			Provider:       "anthropic",
			MaxTokens:      engine.MaxTokens,
			Temperature:    0.2,
			RequestTimeout: 2 * time.Minute,
		},
		Loop: LoopConfig{
			MaxToolCalls:          engine.MaxToolCalls,
			MaxContinues:          engine.MaxContinues,
			ContinuationTailChars: engine.ContinuationTailChars,
			MaxScoutFiles:         engine.MaxScoutFiles,
			LoopDetection:         engine.LoopDetection,
			LoopDetectionWindow:   engine.LoopDetectionWindow,
		},
		Knowledge: KnowledgeConfig{
			Enabled:       engine.Knowledge.Enabled,
			Threshold:     engine.Knowledge.Threshold,
			MaxConcurrent: engine.Knowledge.MaxConcurrent,
			Timeout:       engine.Knowledge.Timeout,
		},
		Tests: TestsConfig{
			Command: append([]string(nil), testrunner.DefaultCommand...),
			Timeout: testrunner.DefaultTimeout,
		},
		Store:     StoreConfig{Path: ".codeloop/conversations.db"},
		Workspace: WorkspaceConfig{Root: "."},
		Logging:   LoggingConfig{Level: "info", Format: "console"},
	}
}

// SetDefaults registers every key with its default so environment
// overrides apply to keys absent from the file.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("model.provider", d.Model.Provider)
	v.SetDefault("model.name", d.Model.Name)
	v.SetDefault("model.api_key", d.Model.APIKey)
	v.SetDefault("model.max_tokens", d.Model.MaxTokens)
	v.SetDefault("model.temperature", d.Model.Temperature)
	v.SetDefault("model.max_retries", d.Model.MaxRetries)
	v.SetDefault("model.request_timeout", d.Model.RequestTimeout)

	v.SetDefault("loop.max_tool_calls", d.Loop.MaxToolCalls)
	v.SetDefault("loop.max_continues", d.Loop.MaxContinues)
	v.SetDefault("loop.continuation_tail_chars", d.Loop.ContinuationTailChars)
	v.SetDefault("loop.max_scout_files", d.Loop.MaxScoutFiles)
	v.SetDefault("loop.disable_scout", d.Loop.DisableScout)
	v.SetDefault("loop.loop_detection", d.Loop.LoopDetection)
	v.SetDefault("loop.loop_detection_window", d.Loop.LoopDetectionWindow)

	v.SetDefault("knowledge.enabled", d.Knowledge.Enabled)
	v.SetDefault("knowledge.threshold", d.Knowledge.Threshold)
	v.SetDefault("knowledge.max_concurrent", d.Knowledge.MaxConcurrent)
	v.SetDefault("knowledge.timeout", d.Knowledge.Timeout)

	v.SetDefault("tests.command", d.Tests.Command)
	v.SetDefault("tests.timeout", d.Tests.Timeout)

	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("workspace.root", d.Workspace.Root)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("environments", d.Environments)
}

// Load reads the configuration. An explicit path must exist; with an
// empty path, ./codeloop.yaml is used when present. Environment variables
// override both.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(strings.TrimSuffix(DefaultFile, ".yaml"))
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs
	}
	return &cfg, nil
}

// EngineConfig maps the settings onto agentloop.Config.
func (c *Config) EngineConfig() agentloop.Config {
	temperature := c.Model.Temperature
	return agentloop.Config{
		Model:                 c.Model.Name,
		MaxTokens:             c.Model.MaxTokens,
		Temperature:           &temperature,
		MaxRetries:            c.Model.MaxRetries,
		RequestTimeout:        c.Model.RequestTimeout,
		MaxToolCalls:          c.Loop.MaxToolCalls,
		MaxContinues:          c.Loop.MaxContinues,
		ContinuationTailChars: c.Loop.ContinuationTailChars,
		MaxScoutFiles:         c.Loop.MaxScoutFiles,
		DisableScout:          c.Loop.DisableScout,
		LoopDetection:         c.Loop.LoopDetection,
		LoopDetectionWindow:   c.Loop.LoopDetectionWindow,
		Knowledge: agentloop.KnowledgeConfig{
			Enabled:       c.Knowledge.Enabled,
			Threshold:     c.Knowledge.Threshold,
			MaxConcurrent: c.Knowledge.MaxConcurrent,
			Timeout:       c.Knowledge.Timeout,
		},
	}
}
