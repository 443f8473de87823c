// Package probe implements live credential checks against provider
// endpoints. Every check runs under a bounded timeout and has no side
// effects on the provider beyond the probe call itself. Services without a
// known probe are accepted optimistically so an unrecognized provider never
// blocks a save.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/canvasflow/authvault/internal/adapter/driven/github"
	"github.com/canvasflow/authvault/internal/adapter/driven/provider"
	"github.com/canvasflow/authvault/internal/domain/model"
)

const (
	defaultTimeout = 10 * time.Second

	defaultSlackAuthURL      = "https://slack.com/api/auth.test"
	defaultGoogleUserinfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

	maxProbeBodyLen = 1 << 20
)

// githubIdentityClient is the slice of the GitHub adapter the probe needs.
type githubIdentityClient interface {
	CurrentUser(ctx context.Context) (*github.Identity, error)
}

// Checker verifies decrypted credential payloads against the live services
// named by their descriptors. It implements driven.CredentialChecker.
type Checker struct {
	httpClient *http.Client
	limiter    *provider.RateLimiter
	timeout    time.Duration
	logger     *slog.Logger

	// newGitHubClient builds the identity client for a token. Swapped in
	// tests for a client aimed at a local server.
	newGitHubClient func(token string) githubIdentityClient
}

// NewChecker creates a Checker. A non-positive timeout falls back to the
// default probe budget.
func NewChecker(limiter *provider.RateLimiter, timeout time.Duration, logger *slog.Logger) *Checker {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Checker{
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		timeout:    timeout,
		logger:     logger.With("component", "probe"),
		newGitHubClient: func(token string) githubIdentityClient {
			return github.NewClient(token)
		},
	}
}

// Check dispatches on the descriptor's probe kind. It never returns an
// error: rejection, unreachability, and success are all expressed in the
// result, and the call returns within the configured timeout.
func (c *Checker) Check(ctx context.Context, desc *model.ServiceDescriptor, payload map[string]any) model.ValidationResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx, desc.Name); err != nil {
		return unreachable(desc.DisplayName, err)
	}

	var result model.ValidationResult
	switch desc.Probe {
	case model.ProbeSlack:
		result = c.checkSlack(ctx, desc, payload)
	case model.ProbeGitHub:
		result = c.checkGitHub(ctx, payload)
	case model.ProbeGoogle:
		result = c.checkGoogle(ctx, desc, payload)
	case model.ProbeHTTPBearer:
		result = c.checkBearer(ctx, desc, payload)
	case model.ProbePostgres:
		result = c.checkDatabase(ctx, "pgx", postgresDSN(payload, c.timeout), desc.DisplayName)
	case model.ProbeMySQL:
		result = c.checkDatabase(ctx, "mysql", mysqlDSN(payload, c.timeout), desc.DisplayName)
	default:
		result = model.ValidationResult{Valid: true, Message: "not checked"}
	}

	c.logger.Debug("credential probe finished",
		"service", desc.Name,
		"probe", desc.Probe,
		"valid", result.Valid,
		"unreachable", result.Unreachable,
	)

	return result
}

// slackAuthResponse is the wire shape of Slack's auth.test call. Slack
// reports failures as ok:false with HTTP 200, not via status codes.
type slackAuthResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	Team  string `json:"team"`
	User  string `json:"user"`
}

func (c *Checker) checkSlack(ctx context.Context, desc *model.ServiceDescriptor, payload map[string]any) model.ValidationResult {
	token, ok := bearerToken(payload)
	if !ok {
		return rejected("credential payload has no token")
	}

	endpoint := desc.ValidateURL
	if endpoint == "" {
		endpoint = defaultSlackAuthURL
	}

	resp, err := c.bearerRequest(ctx, http.MethodPost, endpoint, token)
	if err != nil {
		return unreachable(desc.DisplayName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return rejected("Invalid Slack token")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(desc.DisplayName, resp.StatusCode)
	}

	var auth slackAuthResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProbeBodyLen)).Decode(&auth); err != nil {
		return unreachable(desc.DisplayName, fmt.Errorf("decoding auth.test response: %w", err))
	}

	if !auth.OK {
		msg := "Invalid Slack token"
		if auth.Error != "" {
			msg = fmt.Sprintf("Invalid Slack token (%s)", auth.Error)
		}
		return rejected(msg)
	}

	metadata := map[string]string{}
	if auth.Team != "" {
		metadata["team"] = auth.Team
	}
	if auth.User != "" {
		metadata["user"] = auth.User
	}

	return model.ValidationResult{Valid: true, Metadata: metadata}
}

func (c *Checker) checkGitHub(ctx context.Context, payload map[string]any) model.ValidationResult {
	token, ok := bearerToken(payload)
	if !ok {
		return rejected("credential payload has no token")
	}

	identity, err := c.newGitHubClient(token).CurrentUser(ctx)
	if err != nil {
		if github.IsAuthError(err) {
			return rejected("Invalid GitHub token")
		}
		return unreachable("GitHub", err)
	}

	return model.ValidationResult{
		Valid:    true,
		Metadata: map[string]string{"login": identity.Login},
	}
}

func (c *Checker) checkGoogle(ctx context.Context, desc *model.ServiceDescriptor, payload map[string]any) model.ValidationResult {
	token, ok := bearerToken(payload)
	if !ok {
		return rejected("credential payload has no token")
	}

	endpoint := desc.ValidateURL
	if endpoint == "" {
		endpoint = defaultGoogleUserinfoURL
	}

	resp, err := c.bearerRequest(ctx, http.MethodGet, endpoint, token)
	if err != nil {
		return unreachable(desc.DisplayName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return rejected("Invalid Google token")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(desc.DisplayName, resp.StatusCode)
	}

	var userinfo struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProbeBodyLen)).Decode(&userinfo); err != nil {
		return unreachable(desc.DisplayName, fmt.Errorf("decoding userinfo response: %w", err))
	}

	metadata := map[string]string{}
	if userinfo.Email != "" {
		metadata["email"] = userinfo.Email
	}

	return model.ValidationResult{Valid: true, Metadata: metadata}
}

// checkBearer is the generic probe for services whose descriptor only
// supplies a URL that answers 2xx to an authorized GET.
func (c *Checker) checkBearer(ctx context.Context, desc *model.ServiceDescriptor, payload map[string]any) model.ValidationResult {
	if desc.ValidateURL == "" {
		return model.ValidationResult{Valid: true, Message: "not checked"}
	}

	token, ok := bearerToken(payload)
	if !ok {
		return rejected("credential payload has no token")
	}

	resp, err := c.bearerRequest(ctx, http.MethodGet, desc.ValidateURL, token)
	if err != nil {
		return unreachable(desc.DisplayName, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxProbeBodyLen)) //nolint:errcheck

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return model.ValidationResult{Valid: true}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return rejected(fmt.Sprintf("%s rejected the credential (HTTP %d)", desc.DisplayName, resp.StatusCode))
	default:
		return apiError(desc.DisplayName, resp.StatusCode)
	}
}

func (c *Checker) bearerRequest(ctx context.Context, method, endpoint, token string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	return c.httpClient.Do(req)
}

// bearerToken pulls the secret out of a payload regardless of which field
// name the credential kind stores it under.
func bearerToken(payload map[string]any) (string, bool) {
	for _, key := range []string{"access_token", "api_key", "token"} {
		if v, ok := payload[key].(string); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

func rejected(msg string) model.ValidationResult {
	return model.ValidationResult{Valid: false, Message: msg}
}

func unreachable(service string, err error) model.ValidationResult {
	return model.ValidationResult{
		Valid:       false,
		Unreachable: true,
		Message:     fmt.Sprintf("%s unreachable: %v", service, err),
	}
}

// apiError covers non-auth failure statuses. The provider answered, so the
// credential's validity is unknown rather than rejected.
func apiError(service string, status int) model.ValidationResult {
	return model.ValidationResult{
		Valid:       false,
		Unreachable: true,
		Message:     fmt.Sprintf("%s returned HTTP %d", service, status),
	}
}
