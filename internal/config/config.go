// Package config loads moodtune settings from an optional TOML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ErrMissingCredentials is returned when the Spotify client ID or secret is unset.
var ErrMissingCredentials = errors.New("SPOTIFY_ID and SPOTIFY_SECRET must be set")

type Config struct {
	Addr        string `koanf:"addr"`
	RedirectURI string `koanf:"redirect_uri"`
	LogLevel    string `koanf:"log_level"` // debug, info, warn, error
	DatabaseURL string `koanf:"database_url"`

	Spotify   SpotifyConfig   `koanf:"spotify"`
	LLM       LLMConfig       `koanf:"llm"`
	Recommend RecommendConfig `koanf:"recommend"`
	Auth      AuthConfig      `koanf:"auth"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
}

type SpotifyConfig struct {
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
	BaseURL      string `koanf:"base_url"` // empty means the public Web API
}

type LLMConfig struct {
	Host    string        `koanf:"host"`
	Model   string        `koanf:"model"`
	Timeout time.Duration `koanf:"timeout"`
}

type RecommendConfig struct {
	TierTimeout time.Duration `koanf:"tier_timeout"`
	MinResults  int           `koanf:"min_results"`
}

type AuthConfig struct {
	SafetyMargin time.Duration `koanf:"safety_margin"`
	RetryBackoff time.Duration `koanf:"retry_backoff"`
}

// RateLimitConfig allows Requests per Window per client IP on /api routes,
// with bursts up to Burst.
type RateLimitConfig struct {
	Requests int           `koanf:"requests"`
	Window   time.Duration `koanf:"window"`
	Burst    int           `koanf:"burst"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Addr:        ":8080",
		RedirectURI: "http://127.0.0.1:8080/callback",
		LogLevel:    "info",
		LLM: LLMConfig{
			Host:    "http://localhost:11434",
			Model:   "llama3.1:8b",
			Timeout: 20 * time.Second,
		},
		Recommend: RecommendConfig{
			TierTimeout: 5 * time.Second,
			MinResults:  5,
		},
		Auth: AuthConfig{
			SafetyMargin: 60 * time.Second,
			RetryBackoff: 500 * time.Millisecond,
		},
		RateLimit: RateLimitConfig{
			Requests: 60,
			Window:   time.Minute,
			Burst:    10,
		},
	}
}

// envKeys maps environment variables onto config keys. MOODTUNE_* names
// follow the key path with dots turned into underscores.
var envKeys = map[string]string{
	"SPOTIFY_ID":                  "spotify.client_id",
	"SPOTIFY_SECRET":              "spotify.client_secret",
	"DATABASE_URL":                "database_url",
	"OLLAMA_HOST":                 "llm.host",
	"MOODTUNE_ADDR":               "addr",
	"MOODTUNE_REDIRECT_URI":       "redirect_uri",
	"MOODTUNE_LOG_LEVEL":          "log_level",
	"MOODTUNE_DATABASE_URL":       "database_url",
	"MOODTUNE_SPOTIFY_BASE_URL":   "spotify.base_url",
	"MOODTUNE_LLM_HOST":           "llm.host",
	"MOODTUNE_LLM_MODEL":          "llm.model",
	"MOODTUNE_LLM_TIMEOUT":        "llm.timeout",
	"MOODTUNE_TIER_TIMEOUT":       "recommend.tier_timeout",
	"MOODTUNE_MIN_RESULTS":        "recommend.min_results",
	"MOODTUNE_AUTH_SAFETY_MARGIN": "auth.safety_margin",
	"MOODTUNE_AUTH_RETRY_BACKOFF": "auth.retry_backoff",
	"MOODTUNE_RATELIMIT_REQUESTS": "ratelimit.requests",
	"MOODTUNE_RATELIMIT_WINDOW":   "ratelimit.window",
	"MOODTUNE_RATELIMIT_BURST":    "ratelimit.burst",
}

// Load reads defaults, then the TOML file at path (or the standard locations
// when path is empty), then environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	paths := configPaths()
	if path != "" {
		paths = []string{path}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			if path != "" {
				return nil, fmt.Errorf("reading config: %w", err)
			}
			continue
		}
		if err := k.Load(file.Provider(p), toml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", p, err)
		}
	}

	// OLLAMA_HOST and DATABASE_URL lose to their MOODTUNE_ spellings.
	for _, env := range []string{"SPOTIFY_ID", "SPOTIFY_SECRET", "DATABASE_URL", "OLLAMA_HOST"} {
		if err := setFromEnv(k, env); err != nil {
			return nil, err
		}
	}
	for env := range envKeys {
		if strings.HasPrefix(env, "MOODTUNE_") {
			if err := setFromEnv(k, env); err != nil {
				return nil, err
			}
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setFromEnv(k *koanf.Koanf, env string) error {
	v, ok := os.LookupEnv(env)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	if err := k.Set(envKeys[env], strings.TrimSpace(v)); err != nil {
		return fmt.Errorf("applying %s: %w", env, err)
	}
	return nil
}

func (c *Config) normalize() {
	c.Spotify.BaseURL = strings.TrimSuffix(c.Spotify.BaseURL, "/")
	c.LLM.Host = strings.TrimSuffix(c.LLM.Host, "/")

	d := Default()
	if c.Recommend.MinResults <= 0 {
		c.Recommend.MinResults = d.Recommend.MinResults
	}
	if c.Recommend.TierTimeout <= 0 {
		c.Recommend.TierTimeout = d.Recommend.TierTimeout
	}
	if c.LLM.Timeout <= 0 {
		c.LLM.Timeout = d.LLM.Timeout
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		c.RateLimit.Requests, c.RateLimit.Window = d.RateLimit.Requests, d.RateLimit.Window
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 1
	}
}

// Validate reports settings the server cannot start without.
func (c *Config) Validate() error {
	if c.Spotify.ClientID == "" || c.Spotify.ClientSecret == "" {
		return ErrMissingCredentials
	}
	return nil
}

// HasDatabase reports whether a Postgres URL is configured.
func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}

func configPaths() []string {
	var paths []string

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "moodtune", "config.toml"))
	}

	// ./config.toml wins
	paths = append(paths, "config.toml")

	return paths
}
