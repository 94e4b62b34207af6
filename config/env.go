package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/hupe1980/taskmesh/core"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TASKMESH_"

// LoadEnv reads .env files into the process environment without overriding
// variables that are already set. Missing files are skipped; with no paths
// it tries ".env".
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}

	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}

			return fmt.Errorf("load env %s: %w", p, err)
		}
	}

	return nil
}

type lookupFunc func(key string) (string, bool)

// applyEnv overrides file settings with TASKMESH_* variables. Provider API
// keys fall back to the vendor variables.
func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}

	var errs []error

	integer := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}

			*dst = n
		}
	}

	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}

			*dst = d
		}
	}

	str("PROVIDER", &c.Provider.Name)
	str("MODEL", &c.Provider.Model)
	str("API_KEY", &c.Provider.APIKey)
	str("BASE_URL", &c.Provider.BaseURL)

	if c.Provider.APIKey == "" {
		vendor := map[string]string{
			ProviderOpenAI:    "OPENAI_API_KEY",
			ProviderAnthropic: "ANTHROPIC_API_KEY",
		}[c.Provider.Name]

		if v, ok := lookup(vendor); ok && vendor != "" {
			c.Provider.APIKey = v
		}
	}

	str("AGENT_NAME", &c.Agent.Name)
	str("AGENT_ROLE", &c.Agent.Role)

	var format string
	str("TASK_FORMAT", &format)

	if format != "" {
		c.Task.Format = core.OutputFormat(format)
	}

	integer("MAX_RETRIES", &c.Task.MaxRetries)
	integer("MAX_TOOL_ROUNDS", &c.Task.MaxToolRounds)
	integer("MAX_PARALLEL_TOOLS", &c.Loop.MaxParallelTools)
	duration("ROUND_TRIP_TIMEOUT", &c.Loop.RoundTripTimeout)
	duration("TOOL_TIMEOUT", &c.Loop.ToolTimeout)

	str("MEMORY_BACKEND", &c.Memory.Backend)
	str("MEMORY_PATH", &c.Memory.Path)
	integer("MEMORY_LIMIT", &c.Memory.Limit)

	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)

	return errors.Join(errs...)
}
