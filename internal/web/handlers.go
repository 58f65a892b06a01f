package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/justestif/moodtune/internal/auth"
	"github.com/justestif/moodtune/internal/db"
	"github.com/justestif/moodtune/internal/failure"
	"github.com/justestif/moodtune/internal/insight"
	"github.com/justestif/moodtune/internal/logging"
	"github.com/justestif/moodtune/internal/mood"
	"github.com/justestif/moodtune/internal/patterns"
	"github.com/justestif/moodtune/internal/recommend"
	"github.com/justestif/moodtune/internal/spotify"
)

const stateCookieName = "oauth_state"

// Authenticator builds the provider's consent URL. *auth.OAuthClient implements it.
type Authenticator interface {
	AuthURL(state string) string
}

// ProfileFetcher looks up the user behind an access token. *spotify.Client implements it.
type ProfileFetcher interface {
	CurrentUser(ctx context.Context, token string) (spotify.User, error)
}

// UserStore records profiles seen at login. *db.UserRepository implements it.
type UserStore interface {
	Upsert(ctx context.Context, user *db.User) error
	Get(ctx context.Context, id string) (*db.User, error)
}

// Recommender is the tiered recommendation chain. *recommend.Orchestrator implements it.
type Recommender interface {
	Recommend(ctx context.Context, tokens recommend.Tokens, label mood.Label, intensity, minResults int) recommend.Response
}

// Journal is the read side of the mood log. *db.MoodEntryRepository implements it.
type Journal interface {
	ListForUser(ctx context.Context, userID string, since time.Time) ([]mood.Entry, error)
}

// InsightGenerator turns a pattern into prose. *insight.Generator implements it.
type InsightGenerator interface {
	Generate(ctx context.Context, p patterns.Pattern) insight.Insight
}

// Handlers contains the HTTP handlers.
type Handlers struct {
	oauth       Authenticator
	profiles    ProfileFetcher
	users       UserStore // optional
	sessions    *SessionStore
	recommender Recommender
	journal     Journal // optional
	insights    InsightGenerator

	minResults     int
	rhythmClusters int
	secureCookies  bool
	now            func() time.Time
}

// Login starts the OAuth flow (GET /auth/login).
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	state, err := auth.NewState()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to generate state")
		return
	}

	// Kept in a cookie and compared on callback.
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   300, // 5 minutes
	})

	http.Redirect(w, r, h.oauth.AuthURL(state), http.StatusTemporaryRedirect)
}

// Callback completes the OAuth flow (GET /callback).
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context())

	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "missing state cookie")
		return
	}
	if r.URL.Query().Get("state") != stateCookie.Value {
		writeError(w, http.StatusBadRequest, "bad_request", "state mismatch")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})

	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		writeError(w, http.StatusBadRequest, "access_denied", "spotify auth error: "+errMsg)
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing code")
		return
	}

	session, err := h.sessions.Login(r.Context(), code, h.identify)
	if err != nil {
		logger.Error("login failed", slog.String("kind", failure.KindOf(err)), slog.Any("error", err))
		if errors.Is(err, auth.ErrGrantRejected) {
			writeError(w, http.StatusBadRequest, "invalid_grant", "authorization code rejected")
			return
		}
		writeError(w, http.StatusBadGateway, "upstream", "failed to complete login")
		return
	}

	setSessionCookie(w, session, h.secureCookies)
	logger.Info("user logged in", slog.String("user", session.UserID))
	http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
}

// identify fetches the profile for a new token and records it.
func (h *Handlers) identify(ctx context.Context, accessToken string) (string, string, error) {
	user, err := h.profiles.CurrentUser(ctx, accessToken)
	if err != nil {
		return "", "", err
	}
	if h.users != nil {
		if err := h.users.Upsert(ctx, &db.User{
			ID:          user.ID,
			DisplayName: user.DisplayName,
			Email:       user.Email,
		}); err != nil {
			return "", "", err
		}
	}
	return user.ID, user.DisplayName, nil
}

// Logout ends the session (POST /auth/logout).
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if session := h.sessions.GetFromRequest(r); session != nil {
		h.sessions.Delete(r.Context(), session.ID)
	}

	clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

type indexResponse struct {
	Service       string  `json:"service"`
	Authenticated bool    `json:"authenticated"`
	User          *meUser `json:"user,omitempty"`
}

type meUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Index reports who is logged in (GET /).
func (h *Handlers) Index(w http.ResponseWriter, r *http.Request) {
	resp := indexResponse{Service: "moodtune"}
	if session := h.sessions.GetFromRequest(r); session != nil {
		resp.Authenticated = true
		resp.User = h.profile(r.Context(), session)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Me returns the session's user (GET /api/me).
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	session := h.requireSession(w, r)
	if session == nil {
		return
	}
	writeJSON(w, http.StatusOK, h.profile(r.Context(), session))
}

func (h *Handlers) profile(ctx context.Context, session *Session) *meUser {
	u := &meUser{ID: session.UserID, Name: session.UserName}
	if h.users == nil {
		return u
	}
	if stored, err := h.users.Get(ctx, session.UserID); err == nil {
		u.Name = stored.DisplayName
		u.Email = stored.Email
	}
	return u
}

// requireSession writes 401 and returns nil when the request has no session.
func (h *Handlers) requireSession(w http.ResponseWriter, r *http.Request) *Session {
	session := h.sessions.GetFromRequest(r)
	if session == nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "login required")
	}
	return session
}
