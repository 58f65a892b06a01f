// Package spotify provides a wrapper around the Spotify Web API.
package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"

	"github.com/justestif/moodtune/internal/failure"
)

// Client calls the Web API with a caller-supplied access token per request,
// so one Client serves every session.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API root. Used in tests.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" && !strings.HasSuffix(u, "/") {
			u += "/"
		}
		c.baseURL = u
	}
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a new Spotify client wrapper.
func New(opts ...Option) *Client {
	c := &Client{httpClient: http.DefaultClient}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// api returns a library client authenticated with token.
func (c *Client) api(ctx context.Context, token string) *spotify.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	hc := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))

	var opts []spotify.ClientOption
	if c.baseURL != "" {
		opts = append(opts, spotify.WithBaseURL(c.baseURL))
	}
	return spotify.New(hc, opts...)
}

// User is the subset of the current user's profile we store.
type User struct {
	ID          string
	DisplayName string
	Email       string
}

// CurrentUser returns the profile of the token's owner.
func (c *Client) CurrentUser(ctx context.Context, token string) (User, error) {
	u, err := c.api(ctx, token).CurrentUser(ctx)
	if err != nil {
		return User{}, fmt.Errorf("getting current user: %w", classifyError(err))
	}
	return User{ID: u.ID, DisplayName: u.DisplayName, Email: u.Email}, nil
}

// classifyError maps library errors onto the failure taxonomy while keeping
// the original error in the chain.
func classifyError(err error) error {
	status := 0
	var se spotify.Error
	var sep *spotify.Error
	switch {
	case errors.As(err, &se):
		status = se.Status
	case errors.As(err, &sep) && sep != nil:
		status = sep.Status
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError

	switch {
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", failure.ErrUnauthorized, err)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", failure.ErrRateLimited, err)
	case status >= 500:
		return fmt.Errorf("%w: %w", failure.ErrNetwork, err)
	case status != 0:
		return fmt.Errorf("%w: %w", failure.ErrMalformedResponse, err)
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr), errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: %w", failure.ErrMalformedResponse, err)
	default:
		return fmt.Errorf("%w: %w", failure.ErrNetwork, err)
	}
}
