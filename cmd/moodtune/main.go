// Command moodtune serves mood-based music recommendations and mood journal
// insights backed by Spotify and a local language model.
//
// Usage:
//
//	moodtune [-config path] [serve|migrate]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/justestif/moodtune/internal/auth"
	"github.com/justestif/moodtune/internal/config"
	"github.com/justestif/moodtune/internal/db"
	"github.com/justestif/moodtune/internal/insight"
	"github.com/justestif/moodtune/internal/llm"
	"github.com/justestif/moodtune/internal/logging"
	"github.com/justestif/moodtune/internal/recommend"
	"github.com/justestif/moodtune/internal/spotify"
	"github.com/justestif/moodtune/internal/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config.toml (default: ~/.config/moodtune/config.toml, ./config.toml)")
	flag.Parse()

	// A missing .env is fine; the real environment still applies.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger := logging.New(os.Stderr, cfg.LogLevel)
	slog.SetDefault(logger)
	ctx := logging.WithLogger(context.Background(), logger)

	switch cmd := flag.Arg(0); cmd {
	case "", "serve":
		return serve(ctx, cfg, logger)
	case "migrate":
		return migrate(ctx, cfg)
	default:
		return fmt.Errorf("unknown command %q (want serve or migrate)", cmd)
	}
}

func migrate(ctx context.Context, cfg *config.Config) error {
	if !cfg.HasDatabase() {
		return errors.New("migrate needs DATABASE_URL")
	}
	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close()

	return database.Migrate(ctx)
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	httpClient := &http.Client{Timeout: 30 * time.Second}

	oauth, err := auth.NewOAuthClient(cfg.Spotify.ClientID, cfg.Spotify.ClientSecret, cfg.RedirectURI,
		auth.WithHTTPClient(httpClient),
	)
	if err != nil {
		return err
	}

	spotifyClient := spotify.New(
		spotify.WithBaseURL(cfg.Spotify.BaseURL),
		spotify.WithHTTPClient(httpClient),
	)

	orchestrator := recommend.New(spotifyClient,
		recommend.WithTierTimeout(cfg.Recommend.TierTimeout),
		recommend.WithCatalogTokens(oauth),
	)

	generator := insight.New(
		llm.NewClient(cfg.LLM.Host, cfg.LLM.Model, cfg.LLM.Timeout),
		insight.WithTimeout(cfg.LLM.Timeout),
	)

	serverCfg := web.ServerConfig{
		Addr:          cfg.Addr,
		Logger:        logger,
		OAuth:         oauth,
		TokenEndpoint: oauth,
		TokenOptions: []auth.Option{
			auth.WithSafetyMargin(cfg.Auth.SafetyMargin),
			auth.WithRetryBackoff(cfg.Auth.RetryBackoff),
		},
		Profiles:    spotifyClient,
		Recommender: orchestrator,
		Insights:    generator,
		RateLimit: web.RateLimit{
			Requests: cfg.RateLimit.Requests,
			Window:   cfg.RateLimit.Window,
			Burst:    cfg.RateLimit.Burst,
		},
		MinResults:    cfg.Recommend.MinResults,
		SecureCookies: strings.HasPrefix(cfg.RedirectURI, "https://"),
	}

	if cfg.HasDatabase() {
		database, err := db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer database.Close()

		if err := database.Migrate(ctx); err != nil {
			return err
		}

		serverCfg.Users = database.Users()
		serverCfg.Journal = database.Moods()
		serverCfg.SessionRepo = database.Sessions()
	} else {
		logger.Warn("no DATABASE_URL; sessions are in memory and journal endpoints are disabled")
	}

	server, err := web.NewServer(serverCfg)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return server.Run(ctx)
}
