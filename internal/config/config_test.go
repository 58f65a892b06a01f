package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate clears the environment variables Load reads and points the default
// search paths at an empty directory.
func isolate(t *testing.T) {
	t.Helper()
	for env := range envKeys {
		t.Setenv(env, "")
	}
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Chdir(dir)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)
	t.Setenv("SPOTIFY_ID", "id")
	t.Setenv("SPOTIFY_SECRET", "secret")

	cfg, err := Load("")
	require.NoError(t, err)

	want := Default()
	want.Spotify.ClientID = "id"
	want.Spotify.ClientSecret = "secret"
	assert.Equal(t, want, *cfg)
	assert.False(t, cfg.HasDatabase())
}

func TestLoad_FileThenEnv(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `
addr = ":9000"
log_level = "debug"
database_url = "postgres://file"

[spotify]
client_id = "file-id"
client_secret = "file-secret"
base_url = "http://localhost:4000/v1/"

[llm]
model = "mistral"
timeout = "45s"

[recommend]
tier_timeout = "2s"
min_results = 8

[ratelimit]
requests = 10
window = "30s"
burst = 3
`)
	t.Setenv("SPOTIFY_SECRET", "env-secret")
	t.Setenv("OLLAMA_HOST", "http://ollama:11434/")
	t.Setenv("MOODTUNE_MIN_RESULTS", "3")
	t.Setenv("DATABASE_URL", "postgres://plain")
	t.Setenv("MOODTUNE_DATABASE_URL", "postgres://prefixed")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "postgres://prefixed", cfg.DatabaseURL)
	assert.Equal(t, "file-id", cfg.Spotify.ClientID)
	assert.Equal(t, "env-secret", cfg.Spotify.ClientSecret)
	assert.Equal(t, "http://localhost:4000/v1", cfg.Spotify.BaseURL)
	assert.Equal(t, "http://ollama:11434", cfg.LLM.Host)
	assert.Equal(t, "mistral", cfg.LLM.Model)
	assert.Equal(t, 45*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 2*time.Second, cfg.Recommend.TierTimeout)
	assert.Equal(t, 3, cfg.Recommend.MinResults)
	assert.Equal(t, RateLimitConfig{Requests: 10, Window: 30 * time.Second, Burst: 3}, cfg.RateLimit)

	// untouched sections keep their defaults
	assert.Equal(t, Default().Auth, cfg.Auth)
}

func TestLoad_MissingCredentials(t *testing.T) {
	isolate(t)
	t.Setenv("SPOTIFY_ID", "only-id")

	_, err := Load("")
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestLoad_ExplicitPathMissing(t *testing.T) {
	isolate(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestLoad_BadTOML(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "addr = \n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   Config
		want func(*testing.T, Config)
	}{
		{
			name: "non-positive min results",
			in:   Config{Recommend: RecommendConfig{MinResults: -1}},
			want: func(t *testing.T, c Config) { assert.Equal(t, 5, c.Recommend.MinResults) },
		},
		{
			name: "zero burst",
			in:   Config{RateLimit: RateLimitConfig{Requests: 5, Window: time.Second}},
			want: func(t *testing.T, c Config) {
				assert.Equal(t, 1, c.RateLimit.Burst)
				assert.Equal(t, 5, c.RateLimit.Requests)
			},
		},
		{
			name: "zero window",
			in:   Config{RateLimit: RateLimitConfig{Requests: 5}},
			want: func(t *testing.T, c Config) {
				assert.Equal(t, Default().RateLimit.Window, c.RateLimit.Window)
				assert.Equal(t, Default().RateLimit.Requests, c.RateLimit.Requests)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.in
			c.normalize()
			tt.want(t, c)
		})
	}
}
