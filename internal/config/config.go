// Package config handles loading and validating gateway configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/llmrouter/gateway/internal/router"
)

// Config is the top-level configuration for the llmrouter gateway.
type Config struct {
	Server   ServerConfig           `koanf:"server"`
	Aliases  map[string]AliasConfig `koanf:"aliases"`
	Redis    RedisConfig            `koanf:"redis"`
	Cooldown time.Duration          `koanf:"cooldown"`
	OAuth    OAuthConfig            `koanf:"oauth"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `koanf:"port"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// AliasConfig is one client-facing model name's candidate upstream targets.
// More than one target gives the router something to rendezvous-hash and
// fall back across when a target is cooling down.
type AliasConfig struct {
	Targets []router.TargetConfig `koanf:"targets"`
}

// RedisConfig points the router's cooldown store at a Redis instance. Addr
// empty means "run without cooldown tracking": cmd/llmrouter then uses a
// store that never reports a target as cooling down.
type RedisConfig struct {
	Addr string `koanf:"addr"`
}

// OAuthConfig locates the OAuth bearer token used for the non-API-key
// Claude Code session path. TokenFile holds a path rather than the token
// itself, so the token never lives in the YAML config or process env
// directly.
type OAuthConfig struct {
	TokenFile string `koanf:"token_file"`
	Model     string `koanf:"model"`
}

// Load reads configuration from a YAML file, layers environment variable
// overrides on top, and returns a fully populated Config.
func Load(path string) (*Config, error) {
	// Load .env file into the process environment (ignored if not present).
	// This is the equivalent of require('dotenv').config() in Node.
	_ = godotenv.Load()

	// Create a new koanf instance. The "." delimiter tells koanf how to
	// separate nested keys internally (e.g., "server.port").
	k := koanf.New(".")

	// Load the YAML config file. file.Provider reads the file,
	// yaml.Parser() decodes the YAML format into koanf's internal map.
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}

	// Layer environment variables on top. Any env var starting with
	// "LLMROUTER_" can override a config value. The callback transforms
	// the env var name into a koanf key path:
	//   LLMROUTER_SERVER_PORT -> server.port
	if err := k.Load(env.Provider("LLMROUTER_", ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, "LLMROUTER_")),
			"_", ".",
		)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	// Unmarshal the loaded key-value pairs into our Config struct.
	// The "" means start from the root. &cfg passes a pointer so koanf
	// can write into the struct (like passing by reference in Node).
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR_NAME} placeholders in each target's API key. koanf
	// doesn't do this automatically, so we handle it ourselves using
	// os.Getenv to look up the actual environment variable value.
	for name, alias := range cfg.Aliases {
		for i, t := range alias.Targets {
			alias.Targets[i].APIKey = expandEnv(t.APIKey)
		}
		cfg.Aliases[name] = alias
	}
	cfg.OAuth.TokenFile = expandEnv(cfg.OAuth.TokenFile)

	return &cfg, nil
}

// expandEnv resolves a "${VAR_NAME}" placeholder to the environment
// variable's value. Strings not in that shape pass through unchanged.
func expandEnv(s string) string {
	if !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") {
		return s
	}
	return os.Getenv(s[2 : len(s)-1])
}

// TargetsByAlias flattens the config's alias table into the shape
// router.New expects.
func (c *Config) TargetsByAlias() map[string][]router.TargetConfig {
	out := make(map[string][]router.TargetConfig, len(c.Aliases))
	for name, alias := range c.Aliases {
		out[name] = alias.Targets
	}
	return out
}
