package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/justestif/moodtune/internal/auth"
	"github.com/justestif/moodtune/internal/logging"
)

const (
	// DefaultAddr is the default server address.
	DefaultAddr = "127.0.0.1:8080"

	// DefaultRhythmClusters is how many daily rhythms pattern responses look for.
	DefaultRhythmClusters = 3

	sweepInterval = 5 * time.Minute
)

// RateLimit allows Requests per Window per client on /api routes.
type RateLimit struct {
	Requests int
	Window   time.Duration
	Burst    int
}

// ServerConfig wires the server to its collaborators. Users, Journal and
// SessionRepo are optional; without them the server keeps sessions in
// memory and the journal endpoints answer 503.
type ServerConfig struct {
	Addr   string
	Logger *slog.Logger

	OAuth         Authenticator
	TokenEndpoint auth.TokenEndpoint
	TokenOptions  []auth.Option
	Profiles      ProfileFetcher
	Recommender   Recommender
	Insights      InsightGenerator

	Users       UserStore
	Journal     Journal
	SessionRepo SessionRepository

	RateLimit      RateLimit
	MinResults     int
	RhythmClusters int
	SecureCookies  bool
}

// Server is the moodtune HTTP server.
type Server struct {
	router   chi.Router
	server   *http.Server
	logger   *slog.Logger
	sessions *SessionStore
	handlers *Handlers
	limiter  *rateLimiter
}

// NewServer creates a new web server.
func NewServer(cfg ServerConfig) (*Server, error) {
	switch {
	case cfg.OAuth == nil, cfg.TokenEndpoint == nil:
		return nil, errors.New("web: OAuth and TokenEndpoint are required")
	case cfg.Profiles == nil, cfg.Recommender == nil, cfg.Insights == nil:
		return nil, errors.New("web: Profiles, Recommender and Insights are required")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RhythmClusters <= 0 {
		cfg.RhythmClusters = DefaultRhythmClusters
	}
	if cfg.MinResults <= 0 {
		cfg.MinResults = 5
	}

	sessions := NewSessionStore(cfg.TokenEndpoint, cfg.SessionRepo, cfg.TokenOptions...)

	s := &Server{
		router:   chi.NewRouter(),
		logger:   cfg.Logger,
		sessions: sessions,
		limiter:  newRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window, cfg.RateLimit.Burst),
		handlers: &Handlers{
			oauth:          cfg.OAuth,
			profiles:       cfg.Profiles,
			users:          cfg.Users,
			sessions:       sessions,
			recommender:    cfg.Recommender,
			journal:        cfg.Journal,
			insights:       cfg.Insights,
			minResults:     cfg.MinResults,
			rhythmClusters: cfg.RhythmClusters,
			secureCookies:  cfg.SecureCookies,
			now:            time.Now,
		},
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second, // room for tier timeouts plus the LLM call
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes() {
	h := s.handlers

	s.router.Get("/", h.Index)
	s.router.Get("/healthz", h.Health)

	s.router.Get("/auth/login", h.Login)
	s.router.Get("/callback", h.Callback)
	s.router.Post("/auth/logout", h.Logout)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(s.limiter.middleware)
		r.Use(middleware.NoCache)

		r.Get("/me", h.Me)
		r.Get("/token", h.Token)
		r.Get("/recommendations", h.Recommendations)
		r.Get("/patterns", h.Patterns)
		r.Post("/patterns", h.AnalyzeEntries)
		r.Get("/insight", h.Insight)
	})
}

// ServeHTTP lets the server be used directly as a handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting server", slog.String("addr", s.server.Addr))
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Run starts the server and handles graceful shutdown on interrupt signals
// or when ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, s.logger)

	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	go s.sweep(ctx)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// sweep periodically drops expired sessions and idle rate limit visitors.
func (s *Server) sweep(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger := logging.FromContext(ctx)
			if n := s.sessions.Sweep(ctx); n > 0 {
				logger.Debug("swept expired sessions", slog.Int("count", n))
			}
			if n := s.limiter.sweep(); n > 0 {
				logger.Debug("swept idle rate limit visitors", slog.Int("count", n))
			}
		}
	}
}
