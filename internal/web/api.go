package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/justestif/moodtune/internal/failure"
	"github.com/justestif/moodtune/internal/logging"
	"github.com/justestif/moodtune/internal/mood"
	"github.com/justestif/moodtune/internal/patterns"
	"github.com/justestif/moodtune/internal/recommend"
)

const (
	defaultIntensity  = 5
	maxResults        = 50
	defaultWindowDays = 30
	maxWindowDays     = 365
	maxAnalyzeBody    = 1 << 20
	maxAnalyzeEntries = 10000
)

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Token returns an access token valid for at least the safety margin
// (GET /api/token).
func (h *Handlers) Token(w http.ResponseWriter, r *http.Request) {
	session := h.requireSession(w, r)
	if session == nil {
		return
	}

	token, err := session.Tokens.ValidAccessToken(r.Context())
	if err != nil {
		h.tokenError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		ExpiresAt:   session.Tokens.ExpiresAt(),
	})
}

func (h *Handlers) tokenError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, failure.ErrAuthExpired):
		clearSessionCookie(w)
		writeError(w, http.StatusUnauthorized, "auth_expired", "re-authentication required")
	case r.Context().Err() != nil:
		// Client went away; nothing useful to send.
		w.WriteHeader(http.StatusServiceUnavailable)
	default:
		logging.FromContext(r.Context()).Error("token lookup failed", slog.Any("error", err))
		writeError(w, http.StatusBadGateway, "upstream", "token refresh failed")
	}
}

// Recommendations returns tracks for a mood
// (GET /api/recommendations?mood=&intensity=&limit=). Anonymous callers get
// the search and fallback tiers only.
func (h *Handlers) Recommendations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	raw := q.Get("mood")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "mood is required")
		return
	}
	intensity, err := intParam(q.Get("intensity"), defaultIntensity, 1, 10)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "intensity must be an integer between 1 and 10")
		return
	}
	limit, err := intParam(q.Get("limit"), h.minResults, 1, maxResults)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "limit must be an integer between 1 and 50")
		return
	}

	var tokens recommend.Tokens
	if session := h.sessions.GetFromRequest(r); session != nil {
		tokens = session.Tokens
	}

	resp := h.recommender.Recommend(r.Context(), tokens, mood.ParseLabel(raw), intensity, limit)
	if resp.AuthExpired {
		clearSessionCookie(w)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Patterns analyzes the session user's journal (GET /api/patterns?window=).
func (h *Handlers) Patterns(w http.ResponseWriter, r *http.Request) {
	p, ok := h.journalPattern(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type analyzeRequest struct {
	Entries []mood.Entry `json:"entries"`
	Window  int          `json:"window"`
	Now     *time.Time   `json:"now,omitempty"`
}

// AnalyzeEntries analyzes entries supplied by the caller (POST /api/patterns).
func (h *Handlers) AnalyzeEntries(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAnalyzeBody)

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if len(req.Entries) > maxAnalyzeEntries {
		writeError(w, http.StatusRequestEntityTooLarge, "too_large", "too many entries")
		return
	}
	if req.Window < 0 || req.Window > maxWindowDays {
		writeError(w, http.StatusBadRequest, "bad_request", "window must be between 0 and 365 days")
		return
	}
	for _, e := range req.Entries {
		if e.Intensity < 1 || e.Intensity > 10 || e.CreatedAt.IsZero() {
			writeError(w, http.StatusBadRequest, "bad_request", "entries need an intensity in [1,10] and a created_at")
			return
		}
	}

	opts := []patterns.Option{patterns.WithRhythms(h.rhythmClusters)}
	if req.Window > 0 {
		opts = append(opts, patterns.WithWindow(req.Window))
	}
	if req.Now != nil {
		opts = append(opts, patterns.WithNow(*req.Now))
	}
	writeJSON(w, http.StatusOK, patterns.Analyze(req.Entries, opts...))
}

// Insight summarizes the session user's journal (GET /api/insight?window=).
func (h *Handlers) Insight(w http.ResponseWriter, r *http.Request) {
	p, ok := h.journalPattern(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.insights.Generate(r.Context(), p))
}

// journalPattern loads and analyzes the session user's recent entries. On
// failure it has already written the response.
func (h *Handlers) journalPattern(w http.ResponseWriter, r *http.Request) (patterns.Pattern, bool) {
	session := h.requireSession(w, r)
	if session == nil {
		return patterns.Pattern{}, false
	}
	if h.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "mood journal is not configured")
		return patterns.Pattern{}, false
	}

	window, err := intParam(r.URL.Query().Get("window"), defaultWindowDays, 1, maxWindowDays)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "window must be between 1 and 365 days")
		return patterns.Pattern{}, false
	}

	now := h.now()
	entries, err := h.journal.ListForUser(r.Context(), session.UserID, now.AddDate(0, 0, -window))
	if err != nil {
		logging.FromContext(r.Context()).Error("loading mood entries", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal", "failed to load mood entries")
		return patterns.Pattern{}, false
	}

	return patterns.Analyze(entries,
		patterns.WithWindow(window),
		patterns.WithNow(now),
		patterns.WithRhythms(h.rhythmClusters),
	), true
}

// Health reports liveness (GET /healthz).
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// intParam parses an optional integer query parameter within [lo, hi].
func intParam(raw string, def, lo, hi int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < lo || n > hi {
		return 0, strconv.ErrRange
	}
	return n, nil
}
