// Package web serves moodtune's HTTP API: Spotify login, per-session token
// access, recommendations, pattern analysis and insights.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/justestif/moodtune/internal/auth"
	"github.com/justestif/moodtune/internal/db"
	"github.com/justestif/moodtune/internal/logging"
)

const (
	sessionCookieName = "session_id"
	sessionTTL        = 24 * time.Hour

	persistTimeout = 5 * time.Second
)

// Session is an authenticated user session. Tokens is the only holder of the
// session's OAuth tokens.
type Session struct {
	ID        string
	UserID    string
	UserName  string
	Tokens    *auth.TokenManager
	CreatedAt time.Time
	ExpiresAt time.Time
}

// SessionRepository persists sessions. *db.SessionRepository implements it.
type SessionRepository interface {
	Create(ctx context.Context, session *db.Session) error
	Get(ctx context.Context, id string) (*db.Session, error)
	Delete(ctx context.Context, id string) error
	UpdateTokens(ctx context.Context, id string, set auth.TokenSet) error
}

// IdentifyFunc resolves the user behind a freshly issued access token.
type IdentifyFunc func(ctx context.Context, accessToken string) (userID, userName string, err error)

// SessionStore owns one TokenManager per live session. Sessions live in
// memory; with a repository they are also written through to it and
// rehydrated from it after a restart.
type SessionStore struct {
	endpoint  auth.TokenEndpoint
	repo      SessionRepository // nil means memory only
	tokenOpts []auth.Option
	now       func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionStore creates a store whose token managers talk to endpoint.
// repo may be nil.
func NewSessionStore(endpoint auth.TokenEndpoint, repo SessionRepository, tokenOpts ...auth.Option) *SessionStore {
	return &SessionStore{
		endpoint:  endpoint,
		repo:      repo,
		tokenOpts: tokenOpts,
		now:       time.Now,
		sessions:  make(map[string]*Session),
	}
}

// Login exchanges an authorization code inside a new session's token
// manager, identifies the user and stores the session.
func (s *SessionStore) Login(ctx context.Context, code string, identify IdentifyFunc) (*Session, error) {
	id, err := auth.NewState()
	if err != nil {
		return nil, fmt.Errorf("generating session id: %w", err)
	}

	tokens := s.newTokenManager(id)
	set, err := tokens.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}

	userID, userName, err := identify(ctx, set.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("identifying user: %w", err)
	}

	now := s.now()
	session := &Session{
		ID:        id,
		UserID:    userID,
		UserName:  userName,
		Tokens:    tokens,
		CreatedAt: now,
		ExpiresAt: now.Add(sessionTTL),
	}

	if s.repo != nil {
		err := s.repo.Create(ctx, &db.Session{
			ID:           id,
			UserID:       userID,
			AccessToken:  set.AccessToken,
			RefreshToken: set.RefreshToken,
			TokenExpiry:  set.ExpiresAt,
			CreatedAt:    now,
			ExpiresAt:    session.ExpiresAt,
		})
		if err != nil {
			return nil, fmt.Errorf("persisting session: %w", err)
		}
	}

	s.mu.Lock()
	s.sessions[id] = session
	s.mu.Unlock()

	return session, nil
}

// Get returns the live session with id, rehydrating it from the repository
// on a cache miss. It returns nil if there is no such session.
func (s *SessionStore) Get(ctx context.Context, id string) *Session {
	if id == "" {
		return nil
	}

	s.mu.RLock()
	session, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		if s.now().Before(session.ExpiresAt) {
			return session
		}
		s.drop(id)
		return nil
	}

	if s.repo == nil {
		return nil
	}
	row, err := s.repo.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			logging.FromContext(ctx).Error("loading session", slog.Any("error", err))
		}
		return nil
	}

	tokens := s.newTokenManager(id)
	tokens.Restore(row.TokenSet())
	session = &Session{
		ID:        row.ID,
		UserID:    row.UserID,
		Tokens:    tokens,
		CreatedAt: row.CreatedAt,
		ExpiresAt: row.ExpiresAt,
	}

	s.mu.Lock()
	// Another request may have rehydrated it first; keep that one.
	if existing, ok := s.sessions[id]; ok {
		session = existing
	} else {
		s.sessions[id] = session
	}
	s.mu.Unlock()
	return session
}

// Delete drops a session and its token manager.
func (s *SessionStore) Delete(ctx context.Context, id string) {
	s.drop(id)
	if s.repo != nil {
		if err := s.repo.Delete(ctx, id); err != nil {
			logging.FromContext(ctx).Error("deleting session", slog.Any("error", err))
		}
	}
}

// expiredDeleter is implemented by repositories that can purge old rows.
type expiredDeleter interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// Sweep removes expired sessions from memory, and from the repository when
// it supports that, and returns how many it dropped from memory.
func (s *SessionStore) Sweep(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	n := 0
	for id, session := range s.sessions {
		if !now.Before(session.ExpiresAt) {
			delete(s.sessions, id)
			n++
		}
	}
	s.mu.Unlock()

	if d, ok := s.repo.(expiredDeleter); ok {
		if _, err := d.DeleteExpired(ctx); err != nil {
			logging.FromContext(ctx).Error("deleting expired sessions", slog.Any("error", err))
		}
	}
	return n
}

// GetFromRequest extracts the session from the request cookie.
func (s *SessionStore) GetFromRequest(r *http.Request) *Session {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return nil
	}
	return s.Get(r.Context(), cookie.Value)
}

func (s *SessionStore) drop(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

func (s *SessionStore) newTokenManager(sessionID string) *auth.TokenManager {
	opts := append([]auth.Option{}, s.tokenOpts...)
	if s.repo != nil {
		opts = append(opts, auth.WithOnRefresh(s.persistTokens(sessionID)))
	}
	return auth.NewTokenManager(s.endpoint, opts...)
}

// persistTokens writes refreshed tokens through so a rehydrated session does
// not start from a consumed refresh token.
func (s *SessionStore) persistTokens(sessionID string) auth.RefreshHook {
	return func(ctx context.Context, set auth.TokenSet) {
		ctx, cancel := context.WithTimeout(ctx, persistTimeout)
		defer cancel()

		if err := s.repo.UpdateTokens(ctx, sessionID, set); err != nil {
			logging.FromContext(ctx).Error("persisting refreshed token",
				slog.String("session", sessionID[:min(8, len(sessionID))]),
				slog.Any("error", err),
			)
		}
	}
}

func setSessionCookie(w http.ResponseWriter, session *Session, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    session.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(sessionTTL.Seconds()),
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}
