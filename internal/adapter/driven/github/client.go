// Package github wraps the go-github client for token validation. Only the
// authenticated-viewer lookup is needed here; workflows talk to GitHub
// through the execution engine, not through this service.
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
)

// Identity describes the account a token belongs to.
type Identity struct {
	Login string
	Name  string
}

// Client is a thin wrapper over go-github scoped to one access token.
type Client struct {
	gh *gh.Client
}

// NewClient builds a client with the transport stack used for all GitHub
// calls:
//  1. httpcache (ETag-based conditional request caching)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  3. go-github with bearer auth
func NewClient(token string) *Client {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)
	client := gh.NewClient(rateLimitClient).WithAuthToken(token)

	return &Client{gh: client}
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and
// base URL. This constructor is intended for testing, allowing injection of
// an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL string) (*Client, error) {
	client := gh.NewClient(httpClient)

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	client.BaseURL = u

	return &Client{gh: client}, nil
}

// CurrentUser returns the identity behind the token. A 401 surfaces as a
// *github.ErrorResponse from go-github; callers use IsAuthError to tell a
// rejected token from an unreachable API.
func (c *Client) CurrentUser(ctx context.Context) (*Identity, error) {
	user, resp, err := c.gh.Users.Get(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("fetching authenticated user: %w", err)
	}

	logRateLimit(resp)

	return &Identity{
		Login: user.GetLogin(),
		Name:  user.GetName(),
	}, nil
}

// IsAuthError reports whether err is GitHub rejecting the credential
// rather than a transport failure.
func IsAuthError(err error) bool {
	var ghErr *gh.ErrorResponse
	if !errors.As(err, &ghErr) {
		return false
	}
	code := ghErr.Response.StatusCode
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

// logRateLimit logs the GitHub API rate limit status after each call.
func logRateLimit(resp *gh.Response) {
	if resp == nil {
		return
	}

	slog.Debug("github api call",
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Remaining < 100 {
		slog.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}
