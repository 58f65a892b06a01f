package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/justestif/moodtune/internal/failure"
	"github.com/justestif/moodtune/internal/logging"
)

// fakeEndpoint is a TokenEndpoint whose refresh results are scripted.
type fakeEndpoint struct {
	calls   atomic.Int32
	release chan struct{} // when non-nil, Refresh blocks until closed
	results []refreshResult
}

type refreshResult struct {
	set TokenSet
	err error
}

func (f *fakeEndpoint) Exchange(_ context.Context, code string) (TokenSet, error) {
	if code == "bad" {
		return TokenSet{}, ErrGrantRejected
	}
	return TokenSet{AccessToken: "access-" + code, RefreshToken: "refresh-" + code, ExpiresAt: testNow.Add(time.Hour)}, nil
}

func (f *fakeEndpoint) Refresh(ctx context.Context, _ string) (TokenSet, error) {
	n := int(f.calls.Add(1)) - 1
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return TokenSet{}, ctx.Err()
		}
	}
	if n >= len(f.results) {
		n = len(f.results) - 1
	}
	return f.results[n].set, f.results[n].err
}

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(ep TokenEndpoint, opts ...Option) *TokenManager {
	base := []Option{
		WithClock(func() time.Time { return testNow }),
		WithRetryBackoff(0),
	}
	return NewTokenManager(ep, append(base, opts...)...)
}

func TestTokenManager_Unauthenticated(t *testing.T) {
	m := newTestManager(&fakeEndpoint{})

	if got := m.State(); got != Unauthenticated {
		t.Errorf("State() = %v, want %v", got, Unauthenticated)
	}

	_, err := m.ValidAccessToken(context.Background())
	if !errors.Is(err, failure.ErrAuthExpired) {
		t.Errorf("ValidAccessToken() error = %v, want ErrAuthExpired", err)
	}
}

func TestTokenManager_FreshTokenSkipsRefresh(t *testing.T) {
	ep := &fakeEndpoint{}
	m := newTestManager(ep)
	m.SetTokens("access", "refresh", time.Hour)

	got, err := m.ValidAccessToken(context.Background())
	if err != nil {
		t.Fatalf("ValidAccessToken() error = %v", err)
	}
	if got != "access" {
		t.Errorf("ValidAccessToken() = %q, want %q", got, "access")
	}
	if ep.calls.Load() != 0 {
		t.Errorf("refresh calls = %d, want 0", ep.calls.Load())
	}
	if m.State() != Valid {
		t.Errorf("State() = %v, want %v", m.State(), Valid)
	}
}

func TestTokenManager_RefreshInsideSafetyMargin(t *testing.T) {
	ep := &fakeEndpoint{results: []refreshResult{
		{set: TokenSet{AccessToken: "new", ExpiresAt: testNow.Add(time.Hour)}},
	}}
	m := newTestManager(ep, WithSafetyMargin(time.Minute))
	m.SetTokens("old", "refresh", 30*time.Second)

	if m.State() != Expiring {
		t.Errorf("State() = %v, want %v", m.State(), Expiring)
	}

	got, err := m.ValidAccessToken(context.Background())
	if err != nil {
		t.Fatalf("ValidAccessToken() error = %v", err)
	}
	if got != "new" {
		t.Errorf("ValidAccessToken() = %q, want %q", got, "new")
	}
}

func TestTokenManager_ShortLivedRefreshIsFlagged(t *testing.T) {
	ep := &fakeEndpoint{results: []refreshResult{
		{set: TokenSet{AccessToken: "brief", ExpiresAt: testNow.Add(30 * time.Second)}},
	}}
	m := newTestManager(ep, WithSafetyMargin(time.Minute))
	m.SetTokens("old", "refresh", 0)

	var buf bytes.Buffer
	ctx := logging.WithLogger(context.Background(), slog.New(slog.NewTextHandler(&buf, nil)))

	got, err := m.ValidAccessToken(ctx)
	if err != nil {
		t.Fatalf("ValidAccessToken() error = %v", err)
	}
	if got != "brief" {
		t.Errorf("ValidAccessToken() = %q, want brief", got)
	}
	if !strings.Contains(buf.String(), "expires inside the safety margin") {
		t.Errorf("missing safety margin warning in log:\n%s", buf.String())
	}
	if m.State() != Expiring {
		t.Errorf("State() = %v, want %v", m.State(), Expiring)
	}
}

func TestWait(t *testing.T) {
	if err := wait(context.Background(), 0); err != nil {
		t.Errorf("wait(0) = %v, want nil", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := wait(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("wait() = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("wait() ignored a cancelled context")
	}
}

func TestTokenManager_RefreshDeduplication(t *testing.T) {
	const callers = 25

	ep := &fakeEndpoint{
		release: make(chan struct{}),
		results: []refreshResult{{set: TokenSet{AccessToken: "new", ExpiresAt: testNow.Add(time.Hour)}}},
	}
	m := newTestManager(ep)
	m.SetTokens("expired", "refresh", 0)

	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tokens[i], errs[i] = m.ValidAccessToken(context.Background())
		}()
	}

	// Let the first refresh start, then give the rest a moment to pile up.
	for ep.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	if m.State() != Refreshing {
		t.Errorf("State() during refresh = %v, want %v", m.State(), Refreshing)
	}
	time.Sleep(20 * time.Millisecond)
	close(ep.release)
	wg.Wait()

	if got := ep.calls.Load(); got != 1 {
		t.Errorf("refresh calls = %d, want 1", got)
	}
	for i := range callers {
		if errs[i] != nil {
			t.Errorf("caller %d error = %v", i, errs[i])
		}
		if tokens[i] != "new" {
			t.Errorf("caller %d token = %q, want %q", i, tokens[i], "new")
		}
	}
}

func TestTokenManager_CallerCancelDoesNotPoisonRefresh(t *testing.T) {
	ep := &fakeEndpoint{
		release: make(chan struct{}),
		results: []refreshResult{{set: TokenSet{AccessToken: "new", ExpiresAt: testNow.Add(time.Hour)}}},
	}
	m := newTestManager(ep)
	m.SetTokens("expired", "refresh", 0)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := m.ValidAccessToken(ctx)
		firstErr <- err
	}()
	for ep.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled caller error = %v, want context.Canceled", err)
	}

	second := make(chan string, 1)
	go func() {
		tok, _ := m.ValidAccessToken(context.Background())
		second <- tok
	}()
	time.Sleep(10 * time.Millisecond)
	close(ep.release)

	if got := <-second; got != "new" {
		t.Errorf("second caller token = %q, want %q", got, "new")
	}
	if got := ep.calls.Load(); got != 1 {
		t.Errorf("refresh calls = %d, want 1", got)
	}
}

func TestTokenManager_RefreshFailures(t *testing.T) {
	good := TokenSet{AccessToken: "new", ExpiresAt: testNow.Add(time.Hour)}
	netErr := fmt.Errorf("dial: %w", failure.ErrNetwork)

	tests := []struct {
		name      string
		results   []refreshResult
		wantCalls int32
		wantToken string
		wantState State
	}{
		{
			name:      "network error retried once then succeeds",
			results:   []refreshResult{{err: netErr}, {set: good}},
			wantCalls: 2,
			wantToken: "new",
			wantState: Valid,
		},
		{
			name:      "rate limit retried once",
			results:   []refreshResult{{err: failure.ErrRateLimited}, {set: good}},
			wantCalls: 2,
			wantToken: "new",
			wantState: Valid,
		},
		{
			name:      "network error twice is terminal",
			results:   []refreshResult{{err: netErr}, {err: netErr}},
			wantCalls: 2,
			wantState: Invalid,
		},
		{
			name:      "invalid grant is not retried",
			results:   []refreshResult{{err: fmt.Errorf("400: %w", ErrGrantRejected)}, {set: good}},
			wantCalls: 1,
			wantState: Invalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep := &fakeEndpoint{results: tt.results}
			m := newTestManager(ep)
			m.SetTokens("expired", "refresh", 0)

			got, err := m.ValidAccessToken(context.Background())
			if tt.wantToken != "" {
				if err != nil {
					t.Fatalf("ValidAccessToken() error = %v", err)
				}
				if got != tt.wantToken {
					t.Errorf("ValidAccessToken() = %q, want %q", got, tt.wantToken)
				}
			} else if !errors.Is(err, failure.ErrAuthExpired) {
				t.Errorf("ValidAccessToken() error = %v, want ErrAuthExpired", err)
			}

			if got := ep.calls.Load(); got != tt.wantCalls {
				t.Errorf("refresh calls = %d, want %d", got, tt.wantCalls)
			}
			if got := m.State(); got != tt.wantState {
				t.Errorf("State() = %v, want %v", got, tt.wantState)
			}
		})
	}
}

func TestTokenManager_InvalidStaysInvalidUntilReinstalled(t *testing.T) {
	ep := &fakeEndpoint{results: []refreshResult{{err: ErrGrantRejected}}}
	m := newTestManager(ep)
	m.SetTokens("expired", "refresh", 0)

	_, _ = m.ValidAccessToken(context.Background())
	_, err := m.ValidAccessToken(context.Background())
	if !errors.Is(err, failure.ErrAuthExpired) {
		t.Errorf("second call error = %v, want ErrAuthExpired", err)
	}
	if got := ep.calls.Load(); got != 1 {
		t.Errorf("refresh calls = %d, want 1 (no automatic retry)", got)
	}

	m.SetTokens("fresh", "refresh2", time.Hour)
	got, err := m.ValidAccessToken(context.Background())
	if err != nil || got != "fresh" {
		t.Errorf("after SetTokens: ValidAccessToken() = %q, %v", got, err)
	}
}

func TestTokenManager_ForceRefresh(t *testing.T) {
	var hooked []TokenSet
	ep := &fakeEndpoint{results: []refreshResult{
		// Server reports an earlier expiry and no new refresh token.
		{set: TokenSet{AccessToken: "new", ExpiresAt: testNow.Add(10 * time.Minute)}},
	}}
	m := newTestManager(ep, WithOnRefresh(func(_ context.Context, set TokenSet) {
		hooked = append(hooked, set)
	}))
	m.SetTokens("current", "refresh", 30*time.Minute)
	before := m.ExpiresAt()

	// A stale rejection does not trigger a refresh.
	got, err := m.ForceRefresh(context.Background(), "some-older-token")
	if err != nil || got != "current" {
		t.Fatalf("ForceRefresh(stale) = %q, %v; want current", got, err)
	}
	if ep.calls.Load() != 0 {
		t.Fatalf("refresh calls = %d, want 0", ep.calls.Load())
	}

	got, err = m.ForceRefresh(context.Background(), "current")
	if err != nil {
		t.Fatalf("ForceRefresh() error = %v", err)
	}
	if got != "new" {
		t.Errorf("ForceRefresh() = %q, want %q", got, "new")
	}
	if m.ExpiresAt().Before(before) {
		t.Errorf("ExpiresAt went backwards: %v < %v", m.ExpiresAt(), before)
	}

	if len(hooked) != 1 {
		t.Fatalf("hook calls = %d, want 1", len(hooked))
	}
	if hooked[0].RefreshToken != "refresh" {
		t.Errorf("hooked RefreshToken = %q, want previous token kept", hooked[0].RefreshToken)
	}
}

func TestTokenManager_ExchangeCode(t *testing.T) {
	m := newTestManager(&fakeEndpoint{})

	set, err := m.ExchangeCode(context.Background(), "abc")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}
	if set.AccessToken != "access-abc" {
		t.Errorf("AccessToken = %q, want %q", set.AccessToken, "access-abc")
	}
	if m.State() != Valid {
		t.Errorf("State() = %v, want %v", m.State(), Valid)
	}

	if _, err := m.ExchangeCode(context.Background(), "bad"); !errors.Is(err, ErrGrantRejected) {
		t.Errorf("ExchangeCode(bad) error = %v, want ErrGrantRejected", err)
	}
}
