// Package recommend picks tracks for a mood through a chain of progressively
// less personalised sources, so a request always gets an answer.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"


	"github.com/justestif/moodtune/internal/failure"
	"github.com/justestif/moodtune/internal/logging"
	"github.com/justestif/moodtune/internal/mood"
	"github.com/justestif/moodtune/internal/spotify"
)

const (
	// DefaultMinResults is used when the caller asks for zero or fewer.
	DefaultMinResults = 5

	// DefaultTierTimeout bounds each network-backed tier.
	DefaultTierTimeout = 5 * time.Second

	// maxSearchLimit is the search endpoint's page cap.
	maxSearchLimit = 50
)

// Tier identifies which stage of the chain produced a result.
type Tier string

const (
	Primary   Tier = "primary"
	Secondary Tier = "secondary"
	Fallback  Tier = "fallback"
)

// Result is one recommended track.
type Result struct {
	TrackID     string `json:"track_id"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Album       string `json:"album,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	URI         string `json:"uri,omitempty"`
	DurationMs  int    `json:"duration_ms,omitempty"`
	Tier        Tier   `json:"tier"`
	MatchReason string `json:"match_reason"`
}

// Response is the outcome of one Recommend call. Results is never empty.
// AuthExpired reports that the user's token could not be used and the caller
// should send them back through login.
type Response struct {
	Mood        mood.Label `json:"mood"`
	Results     []Result   `json:"results"`
	AuthExpired bool       `json:"auth_expired"`
}

// TrackSource is the music catalogue API.
type TrackSource interface {
	Recommend(ctx context.Context, token string, fv mood.FeatureVector, limit int) ([]spotify.Track, error)
	Search(ctx context.Context, token, query string, limit int) ([]spotify.Track, error)
}

// Tokens supplies a user's access token. *auth.TokenManager implements it.
type Tokens interface {
	ValidAccessToken(ctx context.Context) (string, error)
	ForceRefresh(ctx context.Context, rejected string) (string, error)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTierTimeout bounds each network tier.
func WithTierTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.tierTimeout = d
		}
	}
}

// WithRand sets the source used to shuffle search results.
func WithRand(r *rand.Rand) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.rng = r
		}
	}
}

// AppTokens supplies an app-level catalogue token. *auth.OAuthClient
// implements it.
type AppTokens interface {
	AppToken(ctx context.Context) (string, error)
}

// WithCatalogTokens lets the search tier fall back to an app-level token
// when the user has none. The token fetch counts against the tier timeout.
func WithCatalogTokens(src AppTokens) Option {
	return func(o *Orchestrator) {
		o.appTokens = src
	}
}

// WithCatalog replaces the embedded fallback catalogue.
func WithCatalog(c *Catalog) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.catalog = c
		}
	}
}

// Orchestrator runs the tiers. It holds no per-request state and is safe for
// concurrent use.
type Orchestrator struct {
	source      TrackSource
	tierTimeout time.Duration
	appTokens   AppTokens
	catalog     *Catalog

	mu  sync.Mutex // guards rng
	rng *rand.Rand
}

// New creates an Orchestrator backed by source.
func New(source TrackSource, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		source:      source,
		tierTimeout: DefaultTierTimeout,
		catalog:     DefaultCatalog(),
		rng:         rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// errNoToken marks a tier skipped for lack of any credential.
var errNoToken = errors.New("no access token available")

// Recommend returns tracks for label at intensity. Tiers run strictly in order
// and later tiers only run while fewer than minResults have been collected.
// tokens may be nil for anonymous callers.
func (o *Orchestrator) Recommend(ctx context.Context, tokens Tokens, label mood.Label, intensity, minResults int) Response {
	if minResults <= 0 {
		minResults = DefaultMinResults
	}
	label = mood.ParseLabel(string(label))
	logger := logging.FromContext(ctx).With(slog.String("mood", label.String()))

	resp := Response{Mood: label}
	c := newCollector(minResults)

	var userToken string
	if ctx.Err() == nil {
		results, token, err := o.primary(ctx, tokens, label, intensity, minResults)
		userToken = token
		if err != nil {
			resp.AuthExpired = errors.Is(err, failure.ErrAuthExpired)
			logTierFailure(logger, Primary, err)
		}
		c.add(results)
	}

	if !c.full() && ctx.Err() == nil {
		results, err := o.secondary(ctx, userToken, label, minResults)
		if err != nil {
			logTierFailure(logger, Secondary, err)
		}
		c.add(results)
	}

	if !c.full() {
		c.add(o.catalog.Pick(label, minResults))
	}

	resp.Results = c.out
	logger.Debug("recommendations ready",
		slog.Int("count", len(resp.Results)),
		slog.String("first_tier", string(resp.Results[0].Tier)),
	)
	return resp
}

// primary asks for feature-targeted recommendations. A 401 earns exactly one
// forced refresh and retry. The token it used is returned for reuse.
func (o *Orchestrator) primary(ctx context.Context, tokens Tokens, label mood.Label, intensity, limit int) ([]Result, string, error) {
	if tokens == nil {
		return nil, "", errNoToken
	}

	ctx, cancel := context.WithTimeout(ctx, o.tierTimeout)
	defer cancel()

	token, err := tokens.ValidAccessToken(ctx)
	if err != nil {
		return nil, "", err
	}

	fv := mood.MapToFeatures(label, intensity)
	tracks, err := o.source.Recommend(ctx, token, fv, limit)
	if errors.Is(err, failure.ErrUnauthorized) {
		token, err = tokens.ForceRefresh(ctx, token)
		if err != nil {
			return nil, "", err
		}
		tracks, err = o.source.Recommend(ctx, token, fv, limit)
	}
	if err != nil {
		return nil, token, err
	}

	reason := fmt.Sprintf("matches target energy %.2f, valence %.2f", fv.Energy, fv.Valence)
	return toResults(tracks, Primary, reason), token, nil
}

// secondary searches by the mood's keyword and shuffles the hits.
func (o *Orchestrator) secondary(ctx context.Context, userToken string, label mood.Label, n int) ([]Result, error) {
	ctx, cancel := context.WithTimeout(ctx, o.tierTimeout)
	defer cancel()

	token := userToken
	if token == "" {
		if o.appTokens == nil {
			return nil, errNoToken
		}
		tok, err := o.appTokens.AppToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("getting app token: %w", err)
		}
		token = tok
	}

	keyword := Keyword(label)
	tracks, err := o.source.Search(ctx, token, keyword, min(n*4, maxSearchLimit))
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.rng.Shuffle(len(tracks), func(i, j int) {
		tracks[i], tracks[j] = tracks[j], tracks[i]
	})
	o.mu.Unlock()

	return toResults(tracks, Secondary, "keyword match: "+keyword), nil
}

func toResults(tracks []spotify.Track, tier Tier, reason string) []Result {
	out := make([]Result, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, Result{
			TrackID:     t.ID,
			Title:       t.Name,
			Artist:      t.Artist,
			Album:       t.Album,
			ImageURL:    t.ImageURL,
			URI:         t.URI,
			DurationMs:  t.DurationMs,
			Tier:        tier,
			MatchReason: reason,
		})
	}
	return out
}

func logTierFailure(logger *slog.Logger, tier Tier, err error) {
	level := slog.LevelWarn
	if errors.Is(err, errNoToken) {
		level = slog.LevelDebug
	}
	logger.Log(context.Background(), level, "recommendation tier failed",
		slog.String("tier", string(tier)),
		slog.String("kind", failure.KindOf(err)),
		slog.Any("error", err),
	)
}

// collector accumulates results in tier order, dropping repeats, up to want.
type collector struct {
	want int
	seen map[string]bool
	out  []Result
}

func newCollector(want int) *collector {
	return &collector{want: want, seen: make(map[string]bool)}
}

func (c *collector) add(results []Result) {
	for _, r := range results {
		if c.full() {
			return
		}
		if r.TrackID == "" || c.seen[r.TrackID] {
			continue
		}
		c.seen[r.TrackID] = true
		c.out = append(c.out, r)
	}
}

func (c *collector) full() bool {
	return len(c.out) >= c.want
}
