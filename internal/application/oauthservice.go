package application

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/canvasflow/authvault/internal/domain/model"
	"github.com/canvasflow/authvault/internal/domain/port/driven"
)

const (
	// stateTokenBytes keeps state tokens at 256 bits of entropy, the floor
	// for an unguessable state parameter.
	stateTokenBytes = 32

	defaultStateTTL = 10 * time.Minute
)

// AuthorizationRequest is what a caller needs to send a user to a
// provider's consent page.
type AuthorizationRequest struct {
	AuthorizationURL string
	State            string
}

// OAuthService drives the authorization-code flow: issuing authorization
// URLs with one-time state, exchanging callback codes for tokens, and
// refreshing access tokens.
type OAuthService struct {
	catalog   driven.ServiceCatalog
	states    driven.OAuthStateStore
	exchanger driven.OAuthExchanger
	checker   driven.CredentialChecker
	clients   map[string]model.OAuthClientCreds
	stateTTL  time.Duration
}

// NewOAuthService creates an OAuthService. clients is keyed by lowercase
// service name; a non-positive stateTTL falls back to the default.
func NewOAuthService(
	catalog driven.ServiceCatalog,
	states driven.OAuthStateStore,
	exchanger driven.OAuthExchanger,
	checker driven.CredentialChecker,
	clients map[string]model.OAuthClientCreds,
	stateTTL time.Duration,
) *OAuthService {
	if stateTTL <= 0 {
		stateTTL = defaultStateTTL
	}

	return &OAuthService{
		catalog:   catalog,
		states:    states,
		exchanger: exchanger,
		checker:   checker,
		clients:   clients,
		stateTTL:  stateTTL,
	}
}

// BeginAuthorization issues a consent URL and its one-time state for the
// given service and owner. redirectURL is the caller's post-auth target,
// carried through the state entry untouched.
func (s *OAuthService) BeginAuthorization(ctx context.Context, service, ownerID, redirectURL string) (*AuthorizationRequest, error) {
	desc, err := s.catalog.Get(service)
	if err != nil {
		return nil, err
	}
	if desc.Kind != model.AuthKindOAuth2 {
		return nil, &model.ValidationError{Msg: fmt.Sprintf("service %s does not use oauth2", desc.Name)}
	}
	if desc.OAuth == nil {
		return nil, &model.ConfigError{Msg: fmt.Sprintf("service %s has no oauth endpoints", desc.Name)}
	}

	creds, ok := s.clients[desc.Name]
	if !ok || creds.ClientID == "" || creds.RedirectURL == "" {
		return nil, &model.ConfigError{Msg: fmt.Sprintf("oauth client for %s is not configured", desc.Name)}
	}

	token, err := newStateToken()
	if err != nil {
		return nil, fmt.Errorf("generating state token: %w", err)
	}

	now := time.Now()
	state := model.OAuthState{
		Token:       token,
		Service:     desc.Name,
		OwnerID:     ownerID,
		RedirectURL: redirectURL,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.stateTTL),
	}
	if err := s.states.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("saving oauth state: %w", err)
	}

	authURL, err := buildAuthorizationURL(desc.OAuth, creds, token)
	if err != nil {
		return nil, err
	}

	slog.Debug("authorization request issued", "service", desc.Name, "owner_id", ownerID)

	return &AuthorizationRequest{AuthorizationURL: authURL, State: token}, nil
}

// Exchange completes a provider callback. The state is consumed before
// anything else happens: a token that is absent, expired, or issued for a
// different service never reaches the provider's token endpoint.
func (s *OAuthService) Exchange(ctx context.Context, service, code, stateToken string) (*model.OAuthTokenSet, *model.OAuthState, error) {
	state, err := s.states.Consume(ctx, stateToken)
	if err != nil {
		return nil, nil, err
	}

	if !strings.EqualFold(state.Service, service) {
		slog.Warn("oauth state service mismatch", "issued_for", state.Service, "callback", service)
		return nil, nil, model.ErrStateMismatch
	}

	desc, err := s.catalog.Get(service)
	if err != nil {
		return nil, nil, err
	}

	creds, ok := s.clients[desc.Name]
	if !ok || creds.ClientSecret == "" {
		return nil, nil, &model.ConfigError{Msg: fmt.Sprintf("oauth client secret for %s is not configured", desc.Name)}
	}

	tokens, err := s.exchanger.ExchangeCode(ctx, desc, creds, code)
	if err != nil {
		return nil, nil, err
	}
	if tokens.ExpiresAt == nil {
		tokens.ExpiresAt = model.ComputeExpiry(time.Now(), tokens.ExpiresIn)
	}

	slog.Info("oauth code exchanged",
		"service", desc.Name,
		"owner_id", state.OwnerID,
		"has_refresh_token", tokens.RefreshToken != "",
	)

	return tokens, state, nil
}

// Refresh trades a refresh token for a fresh access token. The returned set
// may lack a refresh token when the provider does not rotate them; merging
// with the previous set is the caller's job.
func (s *OAuthService) Refresh(ctx context.Context, service, refreshToken string) (*model.OAuthTokenSet, error) {
	desc, err := s.catalog.Get(service)
	if err != nil {
		return nil, err
	}
	if desc.Kind != model.AuthKindOAuth2 {
		return nil, &model.ValidationError{Msg: fmt.Sprintf("service %s does not use oauth2", desc.Name)}
	}

	creds, ok := s.clients[desc.Name]
	if !ok || creds.ClientSecret == "" {
		return nil, &model.ConfigError{Msg: fmt.Sprintf("oauth client secret for %s is not configured", desc.Name)}
	}

	tokens, err := s.exchanger.RefreshToken(ctx, desc, creds, refreshToken)
	if err != nil {
		return nil, err
	}
	if tokens.ExpiresAt == nil {
		tokens.ExpiresAt = model.ComputeExpiry(time.Now(), tokens.ExpiresIn)
	}

	return tokens, nil
}

// ValidateAccessToken reports whether the token still works against the
// service's live probe. Services without a probe are assumed valid. The
// answer is advisory; this never returns an error.
func (s *OAuthService) ValidateAccessToken(ctx context.Context, service, accessToken string) bool {
	desc, err := s.catalog.Get(service)
	if err != nil {
		return false
	}

	result := s.checker.Check(ctx, desc, map[string]any{model.PayloadAccessToken: accessToken})
	return result.Valid
}

// buildAuthorizationURL assembles the provider consent URL. Extra
// per-service parameters come from the descriptor, keeping provider quirks
// in catalog data instead of code.
func buildAuthorizationURL(spec *model.OAuthSpec, creds model.OAuthClientCreds, state string) (string, error) {
	u, err := url.Parse(spec.AuthURL)
	if err != nil {
		return "", fmt.Errorf("parsing authorize URL: %w", err)
	}

	q := u.Query()
	q.Set("client_id", creds.ClientID)
	q.Set("redirect_uri", creds.RedirectURL)
	q.Set("response_type", "code")
	if scopes := spec.JoinedScopes(); scopes != "" {
		q.Set("scope", scopes)
	}
	q.Set("state", state)
	for key, value := range spec.ExtraAuthParams {
		q.Set(key, value)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// newStateToken returns a fresh random token in URL-safe base64.
func newStateToken() (string, error) {
	buf := make([]byte, stateTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
