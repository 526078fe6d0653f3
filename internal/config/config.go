// Package config loads the kernel's process configuration from environment
// variables layered with an optional kernel.yaml file, using
// gopkg.in/yaml.v3 for the file layer.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the kernel process's complete runtime configuration.
type Config struct {
	Port         int      `yaml:"port"`
	Bind         string   `yaml:"bind"`
	RepoRoot     string   `yaml:"repoRoot"`
	DBPath       string   `yaml:"dbPath"`
	RateLimitRPM int      `yaml:"rateLimitRpm"`
	LogLevel     string   `yaml:"logLevel"`
	StrictMode   bool     `yaml:"strictMode"`
	AuthEnabled  bool     `yaml:"authEnabled"`
	APIKeys      []string `yaml:"apiKeys"`

	// GateCommandAllowlist overrides the default gate command prefix
	// allowlist when kernel.yaml sets one. Empty means "use the built-in
	// defaults" (internal/gates.ValidateCommand's own list).
	GateCommandAllowlist []string `yaml:"gateCommandAllowlist"`
}

// fileOverrides mirrors the subset of Config that kernel.yaml may set;
// kept separate from Config so env defaults are computed first and only
// overridden by fields the YAML file actually sets.
type fileOverrides struct {
	GateCommandAllowlist []string `yaml:"gateCommandAllowlist"`
}

// Default returns the default configuration before env/file layering.
func Default() Config {
	return Config{
		Port:         4177,
		Bind:         "127.0.0.1",
		RepoRoot:     ".",
		DBPath:       "data/kernel.db",
		RateLimitRPM: 300,
		LogLevel:     "info",
		StrictMode:   true,
		AuthEnabled:  false,
	}
}

// Load builds a Config starting from Default(), layering environment
// variables, then an optional kernel.yaml file at yamlPath for the
// gate command allowlist override. A yamlPath that cannot be read (missing
// or otherwise) is not an error: it is skipped without logging and the
// env-layered config is returned. A file that is read but does not parse
// is an error.
func Load(yamlPath string) (Config, error) {
	c := Default()

	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Port = p
	}
	if v := os.Getenv("BIND"); v != "" {
		c.Bind = v
	}
	if v := os.Getenv("REPO_ROOT"); v != "" {
		c.RepoRoot = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("RATE_LIMIT_RPM"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid RATE_LIMIT_RPM %q: %w", v, err)
		}
		c.RateLimitRPM = n
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("STRICT_MODE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid STRICT_MODE %q: %w", v, err)
		}
		c.StrictMode = b
	}
	if v := os.Getenv("AUTH_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid AUTH_ENABLED %q: %w", v, err)
		}
		c.AuthEnabled = b
	}
	if v := os.Getenv("API_KEYS"); v != "" {
		keys := strings.Split(v, ",")
		for i := range keys {
			keys[i] = strings.TrimSpace(keys[i])
		}
		c.APIKeys = keys
	}

	if yamlPath == "" {
		return c, nil
	}

	data, err := os.ReadFile(yamlPath)
	if err != nil {
		return c, nil
	}

	var overrides fileOverrides
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return Config{}, fmt.Errorf("failed to parse %s: %w", yamlPath, err)
	}
	if len(overrides.GateCommandAllowlist) > 0 {
		c.GateCommandAllowlist = overrides.GateCommandAllowlist
	}

	return c, nil
}

// ValidLogLevels is the closed set of accepted LOG_LEVEL values.
var ValidLogLevels = map[string]bool{
	"fatal": true, "error": true, "warn": true, "info": true,
	"debug": true, "trace": true, "silent": true,
}

// Validate checks the configuration's closed-set and range fields.
func (c Config) Validate() error {
	if !ValidLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid LOG_LEVEL %q", c.LogLevel)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if c.RateLimitRPM <= 0 {
		return fmt.Errorf("invalid RATE_LIMIT_RPM %d", c.RateLimitRPM)
	}
	return nil
}
