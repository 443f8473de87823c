package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvasflow/authvault/internal/domain/model"
)

const testSecret = "0123456789abcdef-master"

// isolateConfigEnv saves and unsets all AUTHVAULT_ env vars so tests don't
// inherit values from the host environment (e.g. a running dev server).
// t.Cleanup restores original values after the test.
func isolateConfigEnv(t *testing.T) {
	t.Helper()
	for _, entry := range os.Environ() {
		key, orig, _ := strings.Cut(entry, "=")
		if !strings.HasPrefix(key, "AUTHVAULT_") {
			continue
		}
		t.Cleanup(func() { os.Setenv(key, orig) })
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("AUTHVAULT_MASTER_SECRET", testSecret)

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8090", cfg.ListenAddr)
	assert.Equal(t, "authvault.db", cfg.DBPath)
	assert.Equal(t, testSecret, cfg.MasterSecret)
	assert.Equal(t, 10*time.Minute, cfg.StateTTL)
	assert.Equal(t, 30*time.Minute, cfg.RefreshInterval)
	assert.Equal(t, time.Hour, cfg.RefreshLookahead)
	assert.Equal(t, 10*time.Second, cfg.ProbeTimeout)
	assert.True(t, cfg.ValidateOnStore)
	assert.False(t, cfg.HasEngine())
	assert.Empty(t, cfg.OAuthClients)
}

func TestLoad_Overrides(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("AUTHVAULT_MASTER_SECRET", testSecret)
	t.Setenv("AUTHVAULT_LISTEN_ADDR", "0.0.0.0:9090")
	t.Setenv("AUTHVAULT_DB_PATH", "/tmp/vault.db")
	t.Setenv("AUTHVAULT_STATE_TTL", "5m")
	t.Setenv("AUTHVAULT_REFRESH_INTERVAL", "15m")
	t.Setenv("AUTHVAULT_REFRESH_LOOKAHEAD", "2h")
	t.Setenv("AUTHVAULT_PROBE_TIMEOUT", "3s")
	t.Setenv("AUTHVAULT_VALIDATE_ON_STORE", "false")
	t.Setenv("AUTHVAULT_ENGINE_URL", "http://engine:5678")
	t.Setenv("AUTHVAULT_ENGINE_API_KEY", "n8n-key")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9090", cfg.ListenAddr)
	assert.Equal(t, "/tmp/vault.db", cfg.DBPath)
	assert.Equal(t, 5*time.Minute, cfg.StateTTL)
	assert.Equal(t, 15*time.Minute, cfg.RefreshInterval)
	assert.Equal(t, 2*time.Hour, cfg.RefreshLookahead)
	assert.Equal(t, 3*time.Second, cfg.ProbeTimeout)
	assert.False(t, cfg.ValidateOnStore)
	assert.True(t, cfg.HasEngine())
}

func TestLoad_MissingMasterSecret(t *testing.T) {
	isolateConfigEnv(t)

	_, err := Load()

	var configErr *model.ConfigError
	require.ErrorAs(t, err, &configErr)
	assert.Contains(t, configErr.Msg, "AUTHVAULT_MASTER_SECRET")
}

func TestLoad_ShortMasterSecret(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("AUTHVAULT_MASTER_SECRET", "too-short")

	_, err := Load()

	var configErr *model.ConfigError
	assert.ErrorAs(t, err, &configErr)
}

func TestLoad_InvalidDuration(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("AUTHVAULT_MASTER_SECRET", testSecret)
	t.Setenv("AUTHVAULT_REFRESH_INTERVAL", "not-a-duration")

	_, err := Load()
	assert.ErrorContains(t, err, "AUTHVAULT_REFRESH_INTERVAL")
}

func TestLoad_NegativeDuration(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("AUTHVAULT_MASTER_SECRET", testSecret)
	t.Setenv("AUTHVAULT_STATE_TTL", "-10m")

	_, err := Load()
	assert.ErrorContains(t, err, "must be positive")
}

func TestLoad_OAuthClientScan(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("AUTHVAULT_MASTER_SECRET", testSecret)
	t.Setenv("AUTHVAULT_OAUTH_GITHUB_CLIENT_ID", "gh-client")
	t.Setenv("AUTHVAULT_OAUTH_GITHUB_CLIENT_SECRET", "gh-secret")
	t.Setenv("AUTHVAULT_OAUTH_GITHUB_REDIRECT_URL", "https://vault.example.com/custom/callback")
	t.Setenv("AUTHVAULT_OAUTH_SLACK_CLIENT_ID", "sl-client")
	t.Setenv("AUTHVAULT_OAUTH_SLACK_CLIENT_SECRET", "sl-secret")
	t.Setenv("AUTHVAULT_CALLBACK_BASE_URL", "https://vault.example.com/")

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.OAuthClients, 2)

	github := cfg.OAuthClients["github"]
	assert.Equal(t, "gh-client", github.ClientID)
	assert.Equal(t, "gh-secret", github.ClientSecret)
	assert.Equal(t, "https://vault.example.com/custom/callback", github.RedirectURL, "explicit redirect URL wins over the derived one")

	slack := cfg.OAuthClients["slack"]
	assert.Equal(t, "sl-client", slack.ClientID)
	assert.Equal(t, "https://vault.example.com/api/v1/oauth/slack/callback", slack.RedirectURL, "redirect URL derived from the callback base")
}

func TestLoad_OAuthClientScanIgnoresUnrecognized(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("AUTHVAULT_MASTER_SECRET", testSecret)
	t.Setenv("AUTHVAULT_OAUTH_GITHUB_SOMETHING_ELSE", "value")
	t.Setenv("AUTHVAULT_OAUTH_CLIENT_ID", "no service name")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.OAuthClients)
}
