package model

import "strings"

// ServiceDescriptor describes one integratable service from the catalog.
// Adding a provider is a catalog change, not a code change: endpoints,
// scopes, quirky token-request shapes, and the validation probe are all
// data here.
type ServiceDescriptor struct {
	Name        string
	DisplayName string
	Kind        AuthKind
	Probe       ProbeKind
	EngineType  string // Credential type name at the execution engine.
	ValidateURL string // Identity endpoint probed with a bearer token.
	OAuth       *OAuthSpec
	Fields      []FieldSpec
	DocsMD      string
}

// OAuthSpec holds the provider-specific shape of the authorization and
// token endpoints.
type OAuthSpec struct {
	AuthURL         string
	TokenURL        string
	Scopes          []string
	ScopeSeparator  string // Defaults to a single space.
	ExtraAuthParams map[string]string
	TokenFormat     TokenFormat // Defaults to form.
	BasicAuthHeader bool
	OmitRedirectURI bool
}

// JoinedScopes joins the scope list with the provider's separator.
func (o *OAuthSpec) JoinedScopes() string {
	sep := o.ScopeSeparator
	if sep == "" {
		sep = " "
	}
	return strings.Join(o.Scopes, sep)
}

// Format returns the token request encoding, defaulting to form.
func (o *OAuthSpec) Format() TokenFormat {
	if o.TokenFormat == "" {
		return TokenFormatForm
	}
	return o.TokenFormat
}

// FieldSpec describes one user-supplied field for api_key, basic, and
// database credentials.
type FieldSpec struct {
	Name     string
	Label    string
	Required bool
	Secret   bool
}
