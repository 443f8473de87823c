// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/canvasflow/authvault/internal/domain/model"
)

// minMasterSecretLen is the shortest master secret accepted at startup. The
// secret is stretched through a KDF, so length is the only requirement.
const minMasterSecretLen = 16

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr   string
	DBPath       string
	MasterSecret string

	StateTTL         time.Duration
	RefreshInterval  time.Duration
	RefreshLookahead time.Duration
	ProbeTimeout     time.Duration

	// CallbackBaseURL is this deployment's externally reachable base URL,
	// used to derive per-service OAuth redirect URIs that are not set
	// explicitly.
	CallbackBaseURL string
	CatalogPath     string

	EngineURL    string
	EngineAPIKey string

	ValidateOnStore bool

	// OAuthClients holds the app registrations discovered from the
	// environment, keyed by lowercase service name.
	OAuthClients map[string]model.OAuthClientCreds
}

// HasEngine reports whether an execution engine is configured. Without one,
// credentials are stored but never provisioned downstream.
func (c *Config) HasEngine() bool {
	return c.EngineURL != "" && c.EngineAPIKey != ""
}

// Load reads configuration from environment variables and returns a validated
// Config. AUTHVAULT_MASTER_SECRET is required and must be at least 16 bytes;
// everything else has a default. Per-service OAuth clients are discovered by
// scanning for AUTHVAULT_OAUTH_<SERVICE>_CLIENT_ID / _CLIENT_SECRET /
// _REDIRECT_URL; a client without an explicit redirect URL gets one derived
// from AUTHVAULT_CALLBACK_BASE_URL.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:       "127.0.0.1:8090",
		DBPath:           "authvault.db",
		MasterSecret:     os.Getenv("AUTHVAULT_MASTER_SECRET"),
		StateTTL:         10 * time.Minute,
		RefreshInterval:  30 * time.Minute,
		RefreshLookahead: time.Hour,
		ProbeTimeout:     10 * time.Second,
		CallbackBaseURL:  os.Getenv("AUTHVAULT_CALLBACK_BASE_URL"),
		CatalogPath:      os.Getenv("AUTHVAULT_CATALOG_PATH"),
		EngineURL:        os.Getenv("AUTHVAULT_ENGINE_URL"),
		EngineAPIKey:     os.Getenv("AUTHVAULT_ENGINE_API_KEY"),
		ValidateOnStore:  true,
	}

	if len(cfg.MasterSecret) < minMasterSecretLen {
		return nil, &model.ConfigError{
			Msg: fmt.Sprintf("AUTHVAULT_MASTER_SECRET must be set and at least %d bytes", minMasterSecretLen),
		}
	}

	if v, ok := os.LookupEnv("AUTHVAULT_LISTEN_ADDR"); ok {
		cfg.ListenAddr = v
	}
	if v, ok := os.LookupEnv("AUTHVAULT_DB_PATH"); ok {
		cfg.DBPath = v
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"AUTHVAULT_STATE_TTL", &cfg.StateTTL},
		{"AUTHVAULT_REFRESH_INTERVAL", &cfg.RefreshInterval},
		{"AUTHVAULT_REFRESH_LOOKAHEAD", &cfg.RefreshLookahead},
		{"AUTHVAULT_PROBE_TIMEOUT", &cfg.ProbeTimeout},
	}
	for _, d := range durations {
		v, ok := os.LookupEnv(d.name)
		if !ok {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("%s has invalid duration %q: %w", d.name, v, err)
		}
		if parsed <= 0 {
			return nil, fmt.Errorf("%s must be positive, got %q", d.name, v)
		}
		*d.dst = parsed
	}

	if v, ok := os.LookupEnv("AUTHVAULT_VALIDATE_ON_STORE"); ok {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("AUTHVAULT_VALIDATE_ON_STORE has invalid boolean %q: %w", v, err)
		}
		cfg.ValidateOnStore = parsed
	}

	cfg.OAuthClients = loadOAuthClients(os.Environ(), cfg.CallbackBaseURL)

	return cfg, nil
}

// oauthClientSuffixes maps the recognized variable suffixes to setters.
// Anything under AUTHVAULT_OAUTH_ that does not end in one of these is
// ignored.
var oauthClientSuffixes = []struct {
	suffix string
	set    func(c *model.OAuthClientCreds, v string)
}{
	{"_CLIENT_ID", func(c *model.OAuthClientCreds, v string) { c.ClientID = v }},
	{"_CLIENT_SECRET", func(c *model.OAuthClientCreds, v string) { c.ClientSecret = v }},
	{"_REDIRECT_URL", func(c *model.OAuthClientCreds, v string) { c.RedirectURL = v }},
}

// loadOAuthClients scans environ for AUTHVAULT_OAUTH_<SERVICE>_* variables
// and assembles per-service client registrations.
func loadOAuthClients(environ []string, callbackBaseURL string) map[string]model.OAuthClientCreds {
	const prefix = "AUTHVAULT_OAUTH_"

	clients := make(map[string]model.OAuthClientCreds)
	for _, entry := range environ {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(key, prefix) || value == "" {
			continue
		}
		rest := strings.TrimPrefix(key, prefix)

		for _, s := range oauthClientSuffixes {
			name, found := strings.CutSuffix(rest, s.suffix)
			if !found || name == "" {
				continue
			}
			service := strings.ToLower(name)
			client := clients[service]
			s.set(&client, value)
			clients[service] = client
			break
		}
	}

	if callbackBaseURL != "" {
		base := strings.TrimRight(callbackBaseURL, "/")
		for service, client := range clients {
			if client.RedirectURL == "" {
				client.RedirectURL = base + "/api/v1/oauth/" + service + "/callback"
				clients[service] = client
			}
		}
	}

	return clients
}
