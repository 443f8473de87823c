// Package provider implements the outbound OAuth token endpoint client.
// One generic routine covers every provider; the differences between them
// (form vs JSON bodies, client auth placement, redirect_uri handling) come
// from the service descriptor, not from per-provider code.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/canvasflow/authvault/internal/domain/model"
	"github.com/canvasflow/authvault/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.OAuthExchanger = (*TokenClient)(nil)

const requestTimeout = 30 * time.Second

// errBodySnippetLen caps how much of a non-JSON error body is kept.
const errBodySnippetLen = 200

// TokenClient talks to provider token endpoints.
type TokenClient struct {
	httpClient *http.Client
	limiter    *RateLimiter
	logger     *slog.Logger
}

// NewTokenClient creates a TokenClient with a bounded request timeout. The
// limiter may be shared with other outbound adapters.
func NewTokenClient(limiter *RateLimiter, logger *slog.Logger) *TokenClient {
	return &TokenClient{
		httpClient: &http.Client{Timeout: requestTimeout},
		limiter:    limiter,
		logger:     logger.With("component", "tokenclient"),
	}
}

// ExchangeCode trades an authorization code for tokens.
func (c *TokenClient) ExchangeCode(ctx context.Context, desc *model.ServiceDescriptor, creds model.OAuthClientCreds, code string) (*model.OAuthTokenSet, error) {
	params := map[string]string{
		"grant_type": "authorization_code",
		"code":       code,
	}
	if !desc.OAuth.OmitRedirectURI {
		params["redirect_uri"] = creds.RedirectURL
	}
	return c.post(ctx, "exchange", desc, creds, params)
}

// RefreshToken obtains a fresh access token using a refresh token.
func (c *TokenClient) RefreshToken(ctx context.Context, desc *model.ServiceDescriptor, creds model.OAuthClientCreds, refreshToken string) (*model.OAuthTokenSet, error) {
	params := map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
	}
	return c.post(ctx, "refresh", desc, creds, params)
}

// tokenResponse is the wire shape of a token endpoint reply. Slack wraps
// failures in ok/error on HTTP 200, hence the Ok pointer.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	Scope            string `json:"scope"`
	ExpiresIn        int64  `json:"expires_in"`
	Ok               *bool  `json:"ok"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// standardTokenFields are stripped from the passthrough Extra map.
var standardTokenFields = map[string]bool{
	"access_token": true, "refresh_token": true, "token_type": true,
	"scope": true, "expires_in": true, "ok": true,
	"error": true, "error_description": true,
}

func (c *TokenClient) post(ctx context.Context, op string, desc *model.ServiceDescriptor, creds model.OAuthClientCreds, params map[string]string) (*model.OAuthTokenSet, error) {
	if err := c.limiter.Wait(ctx, desc.Name); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := c.buildRequest(ctx, desc, creds, params)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s token request for %s: %w", op, desc.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read token response for %s: %w", desc.Name, err)
	}

	c.logger.Debug("token endpoint call",
		"service", desc.Name,
		"op", op,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, providerError(op, desc.Name, resp.StatusCode, body)
	}

	var wire tokenResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("decode token response for %s: %w", desc.Name, err)
	}
	if wire.Error != "" || (wire.Ok != nil && !*wire.Ok) {
		return nil, providerError(op, desc.Name, resp.StatusCode, body)
	}
	if wire.AccessToken == "" {
		return nil, &model.ProviderError{
			Op: op, Service: desc.Name, StatusCode: resp.StatusCode,
			ProviderMsg: "response contained no access token",
		}
	}

	tokens := &model.OAuthTokenSet{
		AccessToken:  wire.AccessToken,
		RefreshToken: wire.RefreshToken,
		TokenType:    wire.TokenType,
		Scope:        wire.Scope,
		ExpiresIn:    wire.ExpiresIn,
		ExpiresAt:    model.ComputeExpiry(time.Now(), wire.ExpiresIn),
		Extra:        extraFields(body),
	}
	return tokens, nil
}

// buildRequest assembles the token request in the shape the descriptor
// declares. Client credentials ride in the body unless the provider wants
// HTTP Basic auth.
func (c *TokenClient) buildRequest(ctx context.Context, desc *model.ServiceDescriptor, creds model.OAuthClientCreds, params map[string]string) (*http.Request, error) {
	spec := desc.OAuth
	if !spec.BasicAuthHeader {
		params["client_id"] = creds.ClientID
		params["client_secret"] = creds.ClientSecret
	}

	var body io.Reader
	var contentType string
	switch spec.Format() {
	case model.TokenFormatJSON:
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal token request: %w", err)
		}
		body = bytes.NewReader(encoded)
		contentType = "application/json"
	default:
		form := url.Values{}
		for k, v := range params {
			form.Set(k, v)
		}
		body = strings.NewReader(form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, spec.TokenURL, body)
	if err != nil {
		return nil, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if spec.BasicAuthHeader {
		req.SetBasicAuth(creds.ClientID, creds.ClientSecret)
	}

	return req, nil
}

// providerError shapes a failed reply into a ProviderError, preferring the
// provider's own error fields over a raw body snippet.
func providerError(op, service string, status int, body []byte) error {
	var wire tokenResponse
	if err := json.Unmarshal(body, &wire); err == nil && wire.Error != "" {
		msg := wire.Error
		if wire.ErrorDescription != "" {
			msg += ": " + wire.ErrorDescription
		}
		return &model.ProviderError{Op: op, Service: service, StatusCode: status, ProviderMsg: msg}
	}

	snippet := strings.TrimSpace(string(body))
	if len(snippet) > errBodySnippetLen {
		snippet = snippet[:errBodySnippetLen]
	}
	return &model.ProviderError{Op: op, Service: service, StatusCode: status, ProviderMsg: snippet}
}

// extraFields returns the response fields outside the standard token set,
// preserved so provider-specific metadata survives into the payload.
func extraFields(body []byte) map[string]any {
	var all map[string]any
	if err := json.Unmarshal(body, &all); err != nil {
		return nil
	}
	extra := make(map[string]any)
	for k, v := range all {
		if !standardTokenFields[k] {
			extra[k] = v
		}
	}
	if len(extra) == 0 {
		return nil
	}
	return extra
}
