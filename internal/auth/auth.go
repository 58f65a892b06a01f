package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/justestif/moodtune/internal/failure"
)

const (
	// defaultExpiresIn is assumed when the token endpoint omits expires_in.
	defaultExpiresIn = time.Hour

	// appTokenMargin is how long a cached app token must still be valid to be
	// handed out.
	appTokenMargin = time.Minute
)

var (
	// ErrMissingCredentials is returned when the client ID or secret is empty.
	ErrMissingCredentials = errors.New("missing Spotify client ID or secret")

	// ErrGrantRejected means the token endpoint refused the code or refresh
	// token (400/401, invalid_grant). Retrying will not help.
	ErrGrantRejected = errors.New("grant rejected by token endpoint")
)

// Scopes requested at login.
var Scopes = []string{
	spotifyauth.ScopeUserReadPrivate,
	spotifyauth.ScopeUserReadEmail,
	spotifyauth.ScopeUserLibraryRead,
}

// OAuthClient performs the authorization-code flow against Spotify's
// accounts service.
type OAuthClient struct {
	cfg        *oauth2.Config
	httpClient *http.Client
	now        func() time.Time

	appMu    sync.Mutex
	appToken *oauth2.Token
}

// OAuthOption configures an OAuthClient.
type OAuthOption func(*OAuthClient)

// WithEndpoint overrides the authorize and token URLs.
func WithEndpoint(authURL, tokenURL string) OAuthOption {
	return func(c *OAuthClient) {
		c.cfg.Endpoint.AuthURL = authURL
		c.cfg.Endpoint.TokenURL = tokenURL
	}
}

// WithHTTPClient sets the client used for token requests.
func WithHTTPClient(hc *http.Client) OAuthOption {
	return func(c *OAuthClient) {
		c.httpClient = hc
	}
}

// NewOAuthClient creates a client for the given app credentials.
// Returns ErrMissingCredentials if either is empty.
func NewOAuthClient(clientID, clientSecret, redirectURL string, opts ...OAuthOption) (*OAuthClient, error) {
	if clientID == "" || clientSecret == "" {
		return nil, ErrMissingCredentials
	}

	c := &OAuthClient{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   spotifyauth.AuthURL,
				TokenURL:  spotifyauth.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// AuthURL returns the consent page URL carrying state.
func (c *OAuthClient) AuthURL(state string) string {
	return c.cfg.AuthCodeURL(state)
}

// Exchange trades an authorization code for a token set.
func (c *OAuthClient) Exchange(ctx context.Context, code string) (TokenSet, error) {
	tok, err := c.cfg.Exchange(c.withHTTPClient(ctx), code)
	if err != nil {
		return TokenSet{}, classifyTokenError(err)
	}
	return c.toTokenSet(tok), nil
}

// Refresh uses refreshToken to obtain a new access token. If the response
// carries no refresh token the old one is kept.
func (c *OAuthClient) Refresh(ctx context.Context, refreshToken string) (TokenSet, error) {
	src := c.cfg.TokenSource(c.withHTTPClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return TokenSet{}, classifyTokenError(err)
	}

	set := c.toTokenSet(tok)
	if set.RefreshToken == "" {
		set.RefreshToken = refreshToken
	}
	return set, nil
}

// AppToken returns a client-credentials access token for catalogue calls
// that need no user. Tokens are cached until they come within a minute of
// expiry. The token request honours ctx, so a hung accounts service cannot
// outlive the caller's deadline.
func (c *OAuthClient) AppToken(ctx context.Context) (string, error) {
	c.appMu.Lock()
	if tok := c.appToken; tok != nil && c.now().Add(appTokenMargin).Before(tok.Expiry) {
		c.appMu.Unlock()
		return tok.AccessToken, nil
	}
	c.appMu.Unlock()

	cc := &clientcredentials.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		TokenURL:     c.cfg.Endpoint.TokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	tok, err := cc.Token(c.withHTTPClient(ctx))
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %w", failure.ErrNetwork, ctx.Err())
		}
		return "", classifyTokenError(err)
	}
	if tok.Expiry.IsZero() {
		tok.Expiry = c.now().Add(defaultExpiresIn)
	}

	c.appMu.Lock()
	c.appToken = tok
	c.appMu.Unlock()
	return tok.AccessToken, nil
}

func (c *OAuthClient) withHTTPClient(ctx context.Context) context.Context {
	if c.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func (c *OAuthClient) toTokenSet(tok *oauth2.Token) TokenSet {
	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		expiresAt = c.now().Add(defaultExpiresIn)
	}
	return TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    expiresAt,
	}
}

// classifyTokenError maps token endpoint failures onto the failure taxonomy.
func classifyTokenError(err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return fmt.Errorf("%w: %w", failure.ErrNetwork, err)
	}

	status := 0
	if re.Response != nil {
		status = re.Response.StatusCode
	}

	switch {
	case re.ErrorCode == "invalid_grant":
		return fmt.Errorf("%w: %w", ErrGrantRejected, err)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", failure.ErrRateLimited, err)
	case status >= 500:
		return fmt.Errorf("%w: %w", failure.ErrNetwork, err)
	default:
		return fmt.Errorf("%w: %w", ErrGrantRejected, err)
	}
}

// NewState creates a random OAuth state value.
func NewState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
