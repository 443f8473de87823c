package model

// AuthKind represents how a service authenticates.
type AuthKind string

const (
	AuthKindOAuth2   AuthKind = "oauth2"
	AuthKindAPIKey   AuthKind = "api_key"
	AuthKindBasic    AuthKind = "basic"
	AuthKindDatabase AuthKind = "database"
)

// ProbeKind selects the liveness check used to validate a credential.
type ProbeKind string

const (
	ProbeNone       ProbeKind = ""            // No live check; accepted optimistically.
	ProbeSlack      ProbeKind = "slack"       // auth.test identity call.
	ProbeGitHub     ProbeKind = "github"      // Authenticated viewer lookup.
	ProbeGoogle     ProbeKind = "google"      // Userinfo endpoint.
	ProbeHTTPBearer ProbeKind = "http-bearer" // Generic GET with bearer token.
	ProbePostgres   ProbeKind = "postgres"    // Short-lived connection ping.
	ProbeMySQL      ProbeKind = "mysql"       // Short-lived connection ping.
)

// TokenFormat is the encoding a provider expects on its token endpoint.
type TokenFormat string

const (
	TokenFormatForm TokenFormat = "form" // application/x-www-form-urlencoded (the OAuth default).
	TokenFormatJSON TokenFormat = "json" // JSON request body (Notion-style providers).
)
