// Package auth keeps a Spotify OAuth token pair usable for the lifetime of a
// session.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/justestif/moodtune/internal/failure"
	"github.com/justestif/moodtune/internal/logging"
)

const (
	// DefaultSafetyMargin is how long a returned token must stay valid.
	DefaultSafetyMargin = 60 * time.Second

	// DefaultRetryBackoff is the pause before the single refresh retry.
	DefaultRetryBackoff = 500 * time.Millisecond

	// DefaultRefreshTimeout bounds each call to the token endpoint.
	DefaultRefreshTimeout = 10 * time.Second
)

// State is the lifecycle state of a TokenManager.
type State int

const (
	Unauthenticated State = iota
	Valid
	Expiring
	Refreshing
	Invalid
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Valid:
		return "valid"
	case Expiring:
		return "expiring"
	case Refreshing:
		return "refreshing"
	case Invalid:
		return "invalid"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// TokenSet is an access/refresh token pair and the access token's expiry.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// TokenEndpoint talks to the OAuth token endpoint. OAuthClient is the
// production implementation.
type TokenEndpoint interface {
	Exchange(ctx context.Context, code string) (TokenSet, error)
	Refresh(ctx context.Context, refreshToken string) (TokenSet, error)
}

// RefreshHook receives every successfully refreshed token set.
type RefreshHook func(ctx context.Context, set TokenSet)

// Option configures a TokenManager.
type Option func(*TokenManager)

// WithSafetyMargin sets how long a returned token must remain valid.
func WithSafetyMargin(d time.Duration) Option {
	return func(m *TokenManager) {
		if d >= 0 {
			m.safetyMargin = d
		}
	}
}

// WithRetryBackoff sets the pause before retrying a failed refresh.
func WithRetryBackoff(d time.Duration) Option {
	return func(m *TokenManager) {
		if d >= 0 {
			m.retryBackoff = d
		}
	}
}

// WithRefreshTimeout bounds each token endpoint call.
func WithRefreshTimeout(d time.Duration) Option {
	return func(m *TokenManager) {
		if d > 0 {
			m.refreshTimeout = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *TokenManager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithOnRefresh registers a hook called after each successful refresh.
func WithOnRefresh(hook RefreshHook) Option {
	return func(m *TokenManager) {
		m.onRefresh = hook
	}
}

// TokenManager owns one session's token pair. It is safe for concurrent use;
// concurrent callers that need a refresh share a single call to the token
// endpoint.
type TokenManager struct {
	endpoint       TokenEndpoint
	now            func() time.Time
	safetyMargin   time.Duration
	retryBackoff   time.Duration
	refreshTimeout time.Duration
	onRefresh      RefreshHook

	group singleflight.Group

	mu         sync.Mutex
	set        TokenSet
	invalid    bool
	refreshing bool
	generation uint64 // bumped by every install so a stale refresh cannot overwrite it
}

// NewTokenManager returns an unauthenticated manager.
func NewTokenManager(endpoint TokenEndpoint, opts ...Option) *TokenManager {
	m := &TokenManager{
		endpoint:       endpoint,
		now:            time.Now,
		safetyMargin:   DefaultSafetyMargin,
		retryBackoff:   DefaultRetryBackoff,
		refreshTimeout: DefaultRefreshTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetTokens installs a fresh token pair expiring expiresIn from now.
func (m *TokenManager) SetTokens(accessToken, refreshToken string, expiresIn time.Duration) {
	m.Restore(TokenSet{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    m.now().Add(expiresIn),
	})
}

// Restore installs a previously persisted token set as is.
func (m *TokenManager) Restore(set TokenSet) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.set = set
	m.invalid = false
	m.generation++
}

// ExchangeCode trades an authorization code for the initial token set and
// installs it.
func (m *TokenManager) ExchangeCode(ctx context.Context, code string) (TokenSet, error) {
	set, err := m.endpoint.Exchange(ctx, code)
	if err != nil {
		return TokenSet{}, fmt.Errorf("exchanging authorization code: %w", err)
	}
	m.Restore(set)
	return set, nil
}

// State reports where the manager is in its lifecycle.
func (m *TokenManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.invalid:
		return Invalid
	case m.refreshing:
		return Refreshing
	case m.set.AccessToken == "" && m.set.RefreshToken == "":
		return Unauthenticated
	case !m.freshLocked():
		return Expiring
	default:
		return Valid
	}
}

// ExpiresAt returns the current access token's expiry.
func (m *TokenManager) ExpiresAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.set.ExpiresAt
}

// ValidAccessToken returns an access token valid for at least the safety
// margin, refreshing first if needed. It fails with failure.ErrAuthExpired
// when there is no usable token and the caller must re-authenticate.
func (m *TokenManager) ValidAccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	if err := m.usableLocked(); err != nil {
		m.mu.Unlock()
		return "", err
	}
	if m.freshLocked() {
		token := m.set.AccessToken
		m.mu.Unlock()
		return token, nil
	}
	m.mu.Unlock()

	return m.refresh(ctx, "")
}

// ForceRefresh refreshes after an upstream rejected the access token
// rejected. If another caller already replaced that token, the replacement is
// returned without a second refresh.
func (m *TokenManager) ForceRefresh(ctx context.Context, rejected string) (string, error) {
	m.mu.Lock()
	if err := m.usableLocked(); err != nil {
		m.mu.Unlock()
		return "", err
	}
	if m.set.AccessToken != rejected && m.freshLocked() {
		token := m.set.AccessToken
		m.mu.Unlock()
		return token, nil
	}
	m.mu.Unlock()

	return m.refresh(ctx, rejected)
}

func (m *TokenManager) refresh(ctx context.Context, rejected string) (string, error) {
	// The shared call must not die with whichever caller started it.
	shared := context.WithoutCancel(ctx)
	ch := m.group.DoChan("refresh", func() (any, error) {
		shared, cancel := context.WithTimeout(shared, 2*m.refreshTimeout+m.retryBackoff)
		defer cancel()
		return m.doRefresh(shared, rejected)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *TokenManager) doRefresh(ctx context.Context, rejected string) (string, error) {
	m.mu.Lock()
	if err := m.usableLocked(); err != nil {
		m.mu.Unlock()
		return "", err
	}
	// A refresh that finished just before this one started already did the work.
	if m.freshLocked() && (rejected == "" || m.set.AccessToken != rejected) {
		token := m.set.AccessToken
		m.mu.Unlock()
		return token, nil
	}
	refreshToken := m.set.RefreshToken
	if refreshToken == "" {
		m.invalid = true
		m.mu.Unlock()
		return "", fmt.Errorf("no refresh token: %w", failure.ErrAuthExpired)
	}
	gen := m.generation
	m.refreshing = true
	m.mu.Unlock()

	logger := logging.FromContext(ctx)

	next, err := m.callRefresh(ctx, refreshToken)
	if err != nil && !errors.Is(err, ErrGrantRejected) {
		logger.Warn("token refresh failed, retrying",
			slog.String("kind", failure.KindOf(err)),
			slog.Any("error", err),
		)
		if werr := wait(ctx, m.retryBackoff); werr != nil {
			err = werr
		} else {
			next, err = m.callRefresh(ctx, refreshToken)
		}
	}

	m.mu.Lock()
	m.refreshing = false
	if m.generation != gen {
		// Tokens were reinstalled while we were out; theirs win.
		token := m.set.AccessToken
		m.mu.Unlock()
		if err != nil {
			return "", fmt.Errorf("refreshing access token: %w", failure.ErrAuthExpired)
		}
		return token, nil
	}
	if err != nil {
		m.invalid = true
		m.mu.Unlock()
		logger.Warn("token refresh gave up", slog.Any("error", err))
		return "", fmt.Errorf("refreshing access token: %w: %w", failure.ErrAuthExpired, err)
	}

	if next.RefreshToken == "" {
		next.RefreshToken = refreshToken
	}
	if next.ExpiresAt.Before(m.set.ExpiresAt) {
		next.ExpiresAt = m.set.ExpiresAt
	}
	m.set = next
	short := !m.freshLocked()
	m.mu.Unlock()

	if short {
		logger.Warn("refreshed token expires inside the safety margin",
			slog.Time("expires_at", next.ExpiresAt),
			slog.Duration("safety_margin", m.safetyMargin),
		)
	}
	if m.onRefresh != nil {
		m.onRefresh(ctx, next)
	}
	logger.Debug("token refreshed", slog.Time("expires_at", next.ExpiresAt))
	return next.AccessToken, nil
}

// wait sleeps for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *TokenManager) callRefresh(ctx context.Context, refreshToken string) (TokenSet, error) {
	ctx, cancel := context.WithTimeout(ctx, m.refreshTimeout)
	defer cancel()
	return m.endpoint.Refresh(ctx, refreshToken)
}

// usableLocked reports whether a refresh could possibly succeed.
func (m *TokenManager) usableLocked() error {
	switch {
	case m.invalid:
		return fmt.Errorf("session token invalidated: %w", failure.ErrAuthExpired)
	case m.set.AccessToken == "" && m.set.RefreshToken == "":
		return fmt.Errorf("no token installed: %w", failure.ErrAuthExpired)
	}
	return nil
}

func (m *TokenManager) freshLocked() bool {
	return m.set.AccessToken != "" && m.now().Add(m.safetyMargin).Before(m.set.ExpiresAt)
}
