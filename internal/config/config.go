// Package config loads tokenfusion settings. Precedence, lowest to
// highest: built-in defaults, a config file (YAML or TOML), TOKENFUSION_*
// environment variables, then whatever CLI flags the commands overlay.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/iancoleman/strcase"
	"gopkg.in/yaml.v3"

	"github.com/tokenfusion/tokenfusion/internal/errors"
	"github.com/tokenfusion/tokenfusion/internal/tokens"
)

// Config is the complete configuration for tokenfusion.
type Config struct {
	Tokens TokensConfig `yaml:"tokens" toml:"tokens"`
	Server ServerConfig `yaml:"server" toml:"server"`
	Dev    DevConfig    `yaml:"dev" toml:"dev"`

	// Source is the file this config was loaded from, empty when running
	// on defaults alone.
	Source string `yaml:"-" toml:"-"`
}

// TokensConfig controls token estimation.
type TokensConfig struct {
	Model          string `yaml:"model" toml:"model"`
	MaxInputTokens int    `yaml:"max_input_tokens" toml:"max_input_tokens"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Host           string   `yaml:"host" toml:"host"`
	Port           int      `yaml:"port" toml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
	RateLimit      float64  `yaml:"rate_limit" toml:"rate_limit"`
	RateBurst      int      `yaml:"rate_burst" toml:"rate_burst"`
	MaxBodyBytes   int64    `yaml:"max_body_bytes" toml:"max_body_bytes"`
	TrustedProxies []string `yaml:"trusted_proxies" toml:"trusted_proxies"`
	WatchConfig    bool     `yaml:"watch_config" toml:"watch_config"`
}

// Addr is the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DevConfig contains development/debug options.
type DevConfig struct {
	Debug   bool `yaml:"debug" toml:"debug"`
	Verbose bool `yaml:"verbose" toml:"verbose"`
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		Tokens: TokensConfig{
			Model:          tokens.DefaultModel,
			MaxInputTokens: tokens.DefaultMaxInputTokens,
		},
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           5000,
			AllowedOrigins: []string{"*"},
			RateLimit:      10,
			RateBurst:      20,
			MaxBodyBytes:   1 << 20,
			TrustedProxies: []string{},
			WatchConfig:    false,
		},
		Dev: DevConfig{
			Debug:   false,
			Verbose: false,
		},
	}
}

// LoadConfig loads configuration from a YAML or TOML file, layered over
// the defaults. The extension picks the decoder.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfigError("failed to read config file", err)
	}

	cfg := NewConfig()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, errors.NewConfigError(fmt.Sprintf("failed to parse %s", path), err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.NewConfigError(fmt.Sprintf("failed to parse %s", path), err)
		}
	}

	cfg.Source = path
	return cfg, nil
}

// FindConfigFile searches for a config file in the current directory and
// its parents. The first name found wins; hidden names are checked before
// bare ones and YAML before TOML.
func FindConfigFile() string {
	configNames := []string{
		".tokenfusion.yml", ".tokenfusion.yaml",
		"tokenfusion.yml", "tokenfusion.yaml",
		".tokenfusion.toml", "tokenfusion.toml",
	}

	currentDir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		for _, name := range configNames {
			configPath := filepath.Join(currentDir, name)
			if _, err := os.Stat(configPath); err == nil {
				return configPath
			}
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			break
		}
		currentDir = parentDir
	}

	return ""
}

// Load builds the effective configuration: defaults, the config file at
// path (or the nearest discovered one when path is empty), environment
// overrides, then validation.
func Load(path string) (*Config, error) {
	if path == "" {
		path = FindConfigFile()
	}
	if path == "" {
		cfg := NewConfig()
		if err := cfg.ApplyEnvOverrides(); err != nil {
			return nil, err
		}
		return cfg, cfg.Validate()
	}
	return loadAt(path)
}

func loadAt(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// envPrefix namespaces every environment override.
const envPrefix = "TOKENFUSION"

// envKey derives the canonical variable name for a section and field:
// envKey("tokens", "maxInputTokens") is TOKENFUSION_TOKENS_MAX_INPUT_TOKENS.
func envKey(section, field string) string {
	return envPrefix + "_" + strcase.ToScreamingSnake(section) + "_" + strcase.ToScreamingSnake(field)
}

// ApplyEnvOverrides applies TOKENFUSION_* variables on top of c. List
// values split on commas. A variable that is set but unparsable is a
// config error, not a silent default.
func (c *Config) ApplyEnvOverrides() error {
	if v, ok := os.LookupEnv(envKey("tokens", "model")); ok {
		c.Tokens.Model = v
	}
	if err := envInt(envKey("tokens", "maxInputTokens"), &c.Tokens.MaxInputTokens); err != nil {
		return err
	}

	if v, ok := os.LookupEnv(envKey("server", "host")); ok {
		c.Server.Host = v
	}
	if err := envInt(envKey("server", "port"), &c.Server.Port); err != nil {
		return err
	}
	if v, ok := os.LookupEnv(envKey("server", "allowedOrigins")); ok {
		c.Server.AllowedOrigins = splitList(v)
	}
	if v, ok := os.LookupEnv(envKey("server", "rateLimit")); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return errors.NewConfigError(fmt.Sprintf("%s must be a number", envKey("server", "rateLimit")), err)
		}
		c.Server.RateLimit = f
	}
	if err := envInt(envKey("server", "rateBurst"), &c.Server.RateBurst); err != nil {
		return err
	}
	if v, ok := os.LookupEnv(envKey("server", "maxBodyBytes")); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return errors.NewConfigError(fmt.Sprintf("%s must be an integer", envKey("server", "maxBodyBytes")), err)
		}
		c.Server.MaxBodyBytes = n
	}
	if v, ok := os.LookupEnv(envKey("server", "trustedProxies")); ok {
		c.Server.TrustedProxies = splitList(v)
	}
	if err := envBool(envKey("server", "watchConfig"), &c.Server.WatchConfig); err != nil {
		return err
	}

	if err := envBool(envKey("dev", "debug"), &c.Dev.Debug); err != nil {
		return err
	}
	if err := envBool(envKey("dev", "verbose"), &c.Dev.Verbose); err != nil {
		return err
	}
	return nil
}

func envInt(key string, dst *int) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return errors.NewConfigError(fmt.Sprintf("%s must be an integer", key), err)
	}
	*dst = n
	return nil
}

func envBool(key string, dst *bool) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return errors.NewConfigError(fmt.Sprintf("%s must be a boolean", key), err)
	}
	*dst = b
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Validate rejects configurations the commands cannot run with.
func (c *Config) Validate() error {
	if c.Tokens.Model == "" {
		return errors.NewConfigError("tokens.model must not be empty", nil)
	}
	if c.Tokens.MaxInputTokens < 0 {
		return errors.NewConfigError("tokens.max_input_tokens must not be negative", nil)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.NewConfigError(fmt.Sprintf("server.port %d is out of range (1-65535)", c.Server.Port), nil)
	}
	if c.Server.RateLimit <= 0 {
		return errors.NewConfigError("server.rate_limit must be positive", nil)
	}
	if c.Server.RateBurst < 1 {
		return errors.NewConfigError("server.rate_burst must be at least 1", nil)
	}
	if c.Server.MaxBodyBytes < 1 {
		return errors.NewConfigError("server.max_body_bytes must be positive", nil)
	}
	return nil
}

// watchDebounce swallows the burst of events editors fire per save.
const watchDebounce = 200 * time.Millisecond

// Watch reloads the config file whenever it changes and hands each valid
// result to onChange; parse and validation failures go to onError and the
// previous config stays live. The directory is watched rather than the
// file because editors replace files on save, which would drop a watch on
// the file itself. Close the returned watcher to stop.
func Watch(path string, onChange func(*Config), onError func(error)) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.NewConfigError("failed to start config watcher", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, errors.NewConfigError("failed to watch config directory", err)
	}

	go func() {
		var last time.Time
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if time.Since(last) < watchDebounce {
					continue
				}
				last = time.Now()

				cfg, err := loadAt(path)
				if err != nil {
					if onError != nil {
						onError(err)
					}
					continue
				}
				onChange(cfg)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(err)
				}
			}
		}
	}()

	return watcher, nil
}
