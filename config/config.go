// Package config loads taskmesh settings from a YAML file and the
// environment and turns them into constructor options.
//
// Load order:
//  1. built-in defaults
//  2. the YAML file (optional)
//  3. TASKMESH_* environment variables, after LoadEnv has read .env files
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/flow"
	"github.com/hupe1980/taskmesh/logging"
	"github.com/hupe1980/taskmesh/memory"
	"github.com/hupe1980/taskmesh/memory/sqlite"
	"github.com/hupe1980/taskmesh/model"
	"github.com/hupe1980/taskmesh/model/anthropic"
	"github.com/hupe1980/taskmesh/model/openai"
)

// Memory backends.
const (
	MemoryNone     = "none"
	MemoryInMemory = "inmemory"
	MemorySQLite   = "sqlite"
)

// Providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config is the complete taskmesh configuration.
type Config struct {
	Provider ProviderConfig `yaml:"provider"`
	Agent    AgentConfig    `yaml:"agent"`
	Loop     LoopConfig     `yaml:"loop"`
	Task     TaskConfig     `yaml:"task"`
	Memory   MemoryConfig   `yaml:"memory"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ProviderConfig selects the model provider. Zero values keep the adapter
// defaults. APIKey is usually supplied by the environment rather than the file.
type ProviderConfig struct {
	Name        string  `yaml:"name"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int64   `yaml:"max_tokens"`
}

type AgentConfig struct {
	Name         string `yaml:"name"`
	Role         string `yaml:"role"`
	Description  string `yaml:"description"`
	Instructions string `yaml:"instructions"`
}

type LoopConfig struct {
	MaxParallelTools int           `yaml:"max_parallel_tools"`
	RoundTripTimeout time.Duration `yaml:"round_trip_timeout"`
	ToolTimeout      time.Duration `yaml:"tool_timeout"`
	MemoryLimit      int           `yaml:"memory_limit"`
	MaxDepth         int           `yaml:"max_depth"`
	LogToolStarts    bool          `yaml:"log_tool_starts"`
}

type TaskConfig struct {
	Format        core.OutputFormat `yaml:"format"`
	MaxRetries    int               `yaml:"max_retries"`
	MaxToolRounds int               `yaml:"max_tool_rounds"`
	Strict        bool              `yaml:"strict"`
}

type MemoryConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	Limit   int    `yaml:"limit"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			Name: ProviderOpenAI,
		},
		Agent: AgentConfig{
			Name: "assistant",
			Role: "Assistant",
		},
		Loop: LoopConfig{
			MaxParallelTools: 4,
			RoundTripTimeout: 2 * time.Minute,
			ToolTimeout:      30 * time.Second,
			MemoryLimit:      flow.DefaultMemoryLimit,
			MaxDepth:         8,
		},
		Task: TaskConfig{
			Format:        core.FormatText,
			MaxRetries:    core.DefaultMaxRetries,
			MaxToolRounds: core.DefaultMaxToolRounds,
		},
		Memory: MemoryConfig{
			Backend: MemoryNone,
			Limit:   memory.DefaultLimit,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()

		if err := cfg.decode(f); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	return nil
}

// Validate checks the configuration for inconsistent values.
func (c *Config) Validate() error {
	var errs []error

	switch c.Provider.Name {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q", c.Provider.Name))
	}

	if !c.Task.Format.Valid() {
		errs = append(errs, fmt.Errorf("unknown task format %q", c.Task.Format))
	}

	if c.Task.MaxRetries < 0 || c.Task.MaxToolRounds < 0 {
		errs = append(errs, errors.New("task limits must not be negative"))
	}

	if c.Loop.RoundTripTimeout < 0 || c.Loop.ToolTimeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}

	if c.Loop.MemoryLimit < 0 || c.Loop.MaxParallelTools < 0 || c.Loop.MaxDepth < 0 {
		errs = append(errs, errors.New("loop limits must not be negative"))
	}

	switch c.Memory.Backend {
	case MemoryNone, MemoryInMemory:
	case MemorySQLite:
		if strings.TrimSpace(c.Memory.Path) == "" {
			errs = append(errs, errors.New("sqlite memory requires a path"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown memory backend %q", c.Memory.Backend))
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// NewLogger builds the structured logger described by the logging section.
func (c *Config) NewLogger() *logging.TaskLogger {
	level, _ := logging.ParseLevel(c.Logging.Level)
	return logging.NewSlogLogger(level, c.Logging.Format, false)
}

// OpenMemory opens the configured memory gateway. The returned close
// function is never nil. A nil gateway means memory is disabled.
func (c *Config) OpenMemory() (core.MemoryGateway, func() error, error) {
	noop := func() error { return nil }

	switch c.Memory.Backend {
	case MemoryInMemory:
		return memory.NewInMemoryStore(func(o *memory.InMemoryOptions) { o.Limit = c.Memory.Limit }), noop, nil
	case MemorySQLite:
		s, err := sqlite.Open(c.Memory.Path, func(o *sqlite.Options) { o.Limit = c.Memory.Limit })
		if err != nil {
			return nil, noop, fmt.Errorf("open memory: %w", err)
		}

		return s, s.Close, nil
	default:
		return nil, noop, nil
	}
}

// NewModel builds the configured provider adapter.
func (c *Config) NewModel() (model.Model, error) {
	p := c.Provider

	switch p.Name {
	case ProviderOpenAI:
		return openai.NewModel(func(o *openai.Options) {
			if p.Model != "" {
				o.Model = p.Model
			}

			if p.Temperature > 0 {
				o.Temperature = p.Temperature
			}

			if p.MaxTokens > 0 {
				o.MaxCompletionTokens = p.MaxTokens
			}

			o.APIKey = p.APIKey
			o.BaseURL = p.BaseURL
		}), nil
	case ProviderAnthropic:
		return anthropic.NewModel(func(o *anthropic.Options) {
			if p.Model != "" {
				o.Model = sdk.Model(p.Model)
			}

			if p.Temperature > 0 {
				o.Temperature = p.Temperature
			}

			if p.MaxTokens > 0 {
				o.MaxTokens = p.MaxTokens
			}

			o.APIKey = p.APIKey
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", p.Name)
	}
}

// LoopOptions returns an option function applying the loop section.
// Memory, when non-nil, becomes the loop's gateway.
func (c *Config) LoopOptions(mem core.MemoryGateway, logger logging.Logger) func(o *flow.Options) {
	return func(o *flow.Options) {
		o.MaxParallelTools = c.Loop.MaxParallelTools
		o.RoundTripTimeout = c.Loop.RoundTripTimeout
		o.ToolTimeout = c.Loop.ToolTimeout
		o.MemoryLimit = c.Loop.MemoryLimit
		o.MaxDepth = c.Loop.MaxDepth
		o.LogToolStarts = c.Loop.LogToolStarts

		if mem != nil {
			o.Memory = mem
		}

		if logger != nil {
			o.Logger = logger
		}
	}
}

// TaskOptions returns a core.NewTask option applying the task defaults.
func (c *Config) TaskOptions() func(t *core.Task) {
	return func(t *core.Task) {
		t.Format = c.Task.Format
		t.MaxRetries = c.Task.MaxRetries
		t.MaxToolRounds = c.Task.MaxToolRounds
		t.Strict = c.Task.Strict
	}
}
