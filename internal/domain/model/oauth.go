package model

import "time"

// Payload keys shared by every OAuth credential payload. Non-standard fields
// returned by a provider are preserved under their own names alongside these.
const (
	PayloadAccessToken  = "access_token"
	PayloadRefreshToken = "refresh_token"
	PayloadTokenType    = "token_type"
	PayloadScope        = "scope"
	PayloadExpiresAt    = "expires_at" // RFC 3339; absent when the provider reports no expiry.
)

// OAuthTokenSet is the outcome of a token endpoint call, either a code
// exchange or a refresh. ExpiresAt is computed locally from ExpiresIn at
// receipt time; provider-reported absolute timestamps are ignored.
type OAuthTokenSet struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	ExpiresIn    int64
	ExpiresAt    *time.Time
	Extra        map[string]any
}

// Merge fills fields the provider omitted from prev. Providers that do not
// rotate refresh tokens return only a new access token; the previous refresh
// token stays in effect.
func (t *OAuthTokenSet) Merge(prev *OAuthTokenSet) {
	if prev == nil {
		return
	}
	if t.RefreshToken == "" {
		t.RefreshToken = prev.RefreshToken
	}
	if t.TokenType == "" {
		t.TokenType = prev.TokenType
	}
	if t.Scope == "" {
		t.Scope = prev.Scope
	}
}

// ComputeExpiry converts a relative expires_in to an absolute timestamp.
// Non-positive expiresIn means the provider reported no expiry; such tokens
// are treated as non-expiring.
func ComputeExpiry(now time.Time, expiresIn int64) *time.Time {
	if expiresIn <= 0 {
		return nil
	}
	at := now.Add(time.Duration(expiresIn) * time.Second)
	return &at
}

// OAuthClientCreds is the app registration this deployment holds with a
// provider. Sourced from process configuration, never from storage.
type OAuthClientCreds struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// OAuthState is a pending authorization round-trip. The token is the CSRF
// state parameter; a state is consumed exactly once and rejected after
// ExpiresAt.
type OAuthState struct {
	Token       string
	Service     string
	OwnerID     string
	RedirectURL string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the state is past its TTL at the given instant.
func (s *OAuthState) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
