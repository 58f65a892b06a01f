package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/justestif/moodtune/internal/failure"
)

func newTestOAuthClient(t *testing.T, handler http.HandlerFunc) *OAuthClient {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := NewOAuthClient("client-id", "client-secret", "http://127.0.0.1:8080/callback",
		WithEndpoint(server.URL+"/authorize", server.URL+"/api/token"),
		WithHTTPClient(server.Client()),
	)
	if err != nil {
		t.Fatalf("NewOAuthClient() error = %v", err)
	}
	c.now = func() time.Time { return testNow }
	return c
}

func TestNewOAuthClient_MissingCredentials(t *testing.T) {
	if _, err := NewOAuthClient("", "secret", ""); !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("NewOAuthClient() error = %v, want ErrMissingCredentials", err)
	}
}

func TestOAuthClient_AuthURL(t *testing.T) {
	c, err := NewOAuthClient("client-id", "secret", "http://127.0.0.1:8080/callback")
	if err != nil {
		t.Fatalf("NewOAuthClient() error = %v", err)
	}

	u, err := url.Parse(c.AuthURL("xyz"))
	if err != nil {
		t.Fatalf("parsing auth URL: %v", err)
	}
	q := u.Query()
	if q.Get("state") != "xyz" {
		t.Errorf("state = %q, want xyz", q.Get("state"))
	}
	if q.Get("client_id") != "client-id" {
		t.Errorf("client_id = %q, want client-id", q.Get("client_id"))
	}
	if !strings.Contains(q.Get("scope"), "user-read-private") {
		t.Errorf("scope = %q, missing user-read-private", q.Get("scope"))
	}
}

func TestOAuthClient_Exchange(t *testing.T) {
	c := newTestOAuthClient(t, func(w http.ResponseWriter, r *http.Request) {
		if user, _, ok := r.BasicAuth(); !ok || user != "client-id" {
			t.Errorf("missing basic auth, got user %q", user)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		if r.Form.Get("grant_type") != "authorization_code" || r.Form.Get("code") != "the-code" {
			t.Errorf("unexpected form: %v", r.Form)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"a1","refresh_token":"r1","token_type":"Bearer","expires_in":3600}`))
	})

	set, err := c.Exchange(context.Background(), "the-code")
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if set.AccessToken != "a1" || set.RefreshToken != "r1" {
		t.Errorf("Exchange() = %+v", set)
	}
	if set.ExpiresAt.IsZero() {
		t.Error("ExpiresAt is zero")
	}
}

func TestOAuthClient_RefreshKeepsRefreshToken(t *testing.T) {
	c := newTestOAuthClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("grant_type") != "refresh_token" || r.Form.Get("refresh_token") != "keep-me" {
			t.Errorf("unexpected form: %v", r.Form)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"a2","token_type":"Bearer"}`))
	})

	set, err := c.Refresh(context.Background(), "keep-me")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if set.AccessToken != "a2" {
		t.Errorf("AccessToken = %q, want a2", set.AccessToken)
	}
	if set.RefreshToken != "keep-me" {
		t.Errorf("RefreshToken = %q, want keep-me", set.RefreshToken)
	}
	if want := testNow.Add(time.Hour); !set.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", set.ExpiresAt, want)
	}
}

func TestOAuthClient_RefreshErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"invalid grant", http.StatusBadRequest, `{"error":"invalid_grant"}`, ErrGrantRejected},
		{"unauthorized client", http.StatusUnauthorized, `{"error":"invalid_client"}`, ErrGrantRejected},
		{"rate limited", http.StatusTooManyRequests, `{"error":"slow_down"}`, failure.ErrRateLimited},
		{"server error", http.StatusBadGateway, `oops`, failure.ErrNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestOAuthClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := c.Refresh(context.Background(), "r")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Refresh() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestOAuthClient_AppToken(t *testing.T) {
	var calls atomic.Int32
	c := newTestOAuthClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = r.ParseForm()
		if r.Form.Get("grant_type") != "client_credentials" {
			t.Errorf("grant_type = %q, want client_credentials", r.Form.Get("grant_type"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"app","token_type":"Bearer","expires_in":3600}`))
	})
	c.now = time.Now

	for range 3 {
		tok, err := c.AppToken(context.Background())
		if err != nil {
			t.Fatalf("AppToken() error = %v", err)
		}
		if tok != "app" {
			t.Errorf("AppToken() = %q, want app", tok)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("token endpoint calls = %d, want 1 (cached)", calls.Load())
	}
}

func TestOAuthClient_AppTokenHonoursContext(t *testing.T) {
	release := make(chan struct{})
	c := newTestOAuthClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.AppToken(ctx)
	if err == nil {
		t.Fatal("AppToken() error = nil, want a timeout")
	}
	if !errors.Is(err, failure.ErrNetwork) {
		t.Errorf("AppToken() error = %v, want ErrNetwork", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("AppToken() took %v with a 50ms deadline", elapsed)
	}
}

func TestNewState(t *testing.T) {
	a, err := NewState()
	if err != nil {
		t.Fatalf("NewState() error = %v", err)
	}
	b, _ := NewState()
	if len(a) != 32 || a == b {
		t.Errorf("NewState() = %q, %q; want distinct 32-char values", a, b)
	}
}
