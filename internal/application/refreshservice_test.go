package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvasflow/authvault/internal/adapter/driven/memory"
	"github.com/canvasflow/authvault/internal/application"
	"github.com/canvasflow/authvault/internal/domain/model"
)

const schedulerWait = 3 * time.Second

type schedulerFixture struct {
	scheduler *application.RefreshScheduler
	store     *mockCredentialStore
	exchanger *mockExchanger
}

func newSchedulerFixture(t *testing.T, interval, lookahead time.Duration) *schedulerFixture {
	t.Helper()

	store := newMockCredentialStore()
	exchanger := &mockExchanger{}
	catalog := newMockCatalog(githubDescriptor(), slackDescriptor())
	clients := map[string]model.OAuthClientCreds{
		"github": {ClientID: "gh-client", ClientSecret: "gh-secret", RedirectURL: "https://vault.example.com/cb"},
		"slack":  {ClientID: "sl-client", ClientSecret: "sl-secret", RedirectURL: "https://vault.example.com/cb"},
	}
	oauth := application.NewOAuthService(catalog, memory.NewStateStore(), exchanger, &mockChecker{}, clients, 0)

	scheduler := application.NewRefreshScheduler(store, oauth, interval, lookahead)
	t.Cleanup(scheduler.Stop)

	return &schedulerFixture{scheduler: scheduler, store: store, exchanger: exchanger}
}

// oauthCred seeds an OAuth credential whose access token expires expiresIn
// from now. A zero refreshToken stores a payload without one.
func (fx *schedulerFixture) oauthCred(id, service, refreshToken string, expiresIn time.Duration) {
	payload := map[string]any{
		model.PayloadAccessToken: "old-access-" + id,
		model.PayloadExpiresAt:   time.Now().Add(expiresIn).UTC().Format(time.RFC3339),
	}
	if refreshToken != "" {
		payload[model.PayloadRefreshToken] = refreshToken
	}

	fx.store.add(model.Credential{
		ID:      id,
		OwnerID: "user-1",
		Service: service,
		Type:    model.AuthKindOAuth2,
		Valid:   true,
	}, payload)
}

// waitForScan blocks until the scheduler reports a completed scan.
func (fx *schedulerFixture) waitForScan(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return fx.scheduler.Status().LastRun != nil
	}, schedulerWait, 10*time.Millisecond, "scan never completed")
}

func TestRefreshScheduler_RefreshesDueCredentials(t *testing.T) {
	fx := newSchedulerFixture(t, time.Hour, time.Hour)
	fx.oauthCred("cred-due", "github", "ghr_old", 40*time.Minute)
	fx.oauthCred("cred-later", "github", "ghr_other", 3*time.Hour)

	fx.exchanger.refreshFn = func(_ context.Context, _ *model.ServiceDescriptor, _ model.OAuthClientCreds, refreshToken string) (*model.OAuthTokenSet, error) {
		return &model.OAuthTokenSet{AccessToken: "fresh-access", RefreshToken: "ghr_rotated", ExpiresIn: 28800}, nil
	}

	fx.scheduler.Start()
	fx.waitForScan(t)

	require.Equal(t, []string{"ghr_old"}, fx.exchanger.refreshed(), "only the credential inside the lookahead window is refreshed")

	payload := fx.store.payload("cred-due")
	assert.Equal(t, "fresh-access", payload[model.PayloadAccessToken])
	assert.Equal(t, "ghr_rotated", payload[model.PayloadRefreshToken])
	assert.Contains(t, fx.store.validMarks, "cred-due")

	untouched := fx.store.payload("cred-later")
	assert.Equal(t, "old-access-cred-later", untouched[model.PayloadAccessToken])

	status := fx.scheduler.Status()
	assert.Equal(t, 2, status.LastScanned)
	assert.Equal(t, 1, status.LastRefreshed)
	assert.Zero(t, status.LastFailed)
}

func TestRefreshScheduler_KeepsRefreshTokenWithoutRotation(t *testing.T) {
	fx := newSchedulerFixture(t, time.Hour, time.Hour)
	fx.oauthCred("cred-1", "github", "ghr_keep", 30*time.Minute)

	// Provider returns only a new access token, no rotation.
	fx.exchanger.refreshFn = func(context.Context, *model.ServiceDescriptor, model.OAuthClientCreds, string) (*model.OAuthTokenSet, error) {
		return &model.OAuthTokenSet{AccessToken: "fresh-access", ExpiresIn: 3600}, nil
	}

	fx.scheduler.Start()
	fx.waitForScan(t)

	payload := fx.store.payload("cred-1")
	assert.Equal(t, "fresh-access", payload[model.PayloadAccessToken])
	assert.Equal(t, "ghr_keep", payload[model.PayloadRefreshToken], "prior refresh token survives a non-rotating refresh")
}

func TestRefreshScheduler_FailureIsolation(t *testing.T) {
	fx := newSchedulerFixture(t, time.Hour, time.Hour)
	fx.oauthCred("cred-broken", "slack", "xoxr_dead", 10*time.Minute)
	fx.oauthCred("cred-healthy", "github", "ghr_live", 10*time.Minute)

	fx.exchanger.refreshFn = func(_ context.Context, desc *model.ServiceDescriptor, _ model.OAuthClientCreds, _ string) (*model.OAuthTokenSet, error) {
		if desc.Name == "slack" {
			return nil, &model.ProviderError{Op: "refresh", Service: "slack", StatusCode: 400, ProviderMsg: "invalid_grant"}
		}
		return &model.OAuthTokenSet{AccessToken: "fresh-access", ExpiresIn: 3600}, nil
	}

	fx.scheduler.Start()
	fx.waitForScan(t)

	// The slack failure is recorded and does not stop the github refresh.
	assert.Contains(t, fx.store.invalidMarks["cred-broken"], "invalid_grant")
	assert.Equal(t, "fresh-access", fx.store.payload("cred-healthy")[model.PayloadAccessToken])
	assert.Contains(t, fx.store.validMarks, "cred-healthy")

	status := fx.scheduler.Status()
	assert.Equal(t, 1, status.LastRefreshed)
	assert.Equal(t, 1, status.LastFailed)
}

func TestRefreshScheduler_SkipsCredentialWithoutRefreshToken(t *testing.T) {
	fx := newSchedulerFixture(t, time.Hour, time.Hour)
	fx.oauthCred("cred-no-refresh", "github", "", 10*time.Minute)

	fx.scheduler.Start()
	fx.waitForScan(t)

	assert.Empty(t, fx.exchanger.refreshed())
	assert.Empty(t, fx.store.invalidMarks, "a skipped credential is not an error")
}

func TestRefreshScheduler_NonExpiringTokenNeverDue(t *testing.T) {
	fx := newSchedulerFixture(t, time.Hour, time.Hour)
	fx.store.add(model.Credential{
		ID:      "cred-static",
		OwnerID: "user-1",
		Service: "github",
		Type:    model.AuthKindOAuth2,
		Valid:   true,
	}, map[string]any{
		model.PayloadAccessToken:  "gho_static",
		model.PayloadRefreshToken: "ghr_static",
	})

	fx.scheduler.Start()
	fx.waitForScan(t)

	assert.Empty(t, fx.exchanger.refreshed(), "a token with no expiry hint is never refreshed")
}

func TestRefreshScheduler_DecryptFailureMarksInvalid(t *testing.T) {
	fx := newSchedulerFixture(t, time.Hour, time.Hour)
	fx.oauthCred("cred-ok", "github", "ghr_live", 10*time.Minute)
	fx.store.add(model.Credential{
		ID:      "cred-garbled",
		OwnerID: "user-1",
		Service: "github",
		Type:    model.AuthKindOAuth2,
		Valid:   true,
	}, nil)
	fx.store.decryptErr["cred-garbled"] = &model.DecryptionError{ID: "cred-garbled", Err: model.ErrDecryptFailed}

	fx.scheduler.Start()
	fx.waitForScan(t)

	assert.Contains(t, fx.store.invalidMarks, "cred-garbled")
	assert.Contains(t, fx.store.validMarks, "cred-ok", "a garbled record does not stop the scan")
}

func TestRefreshScheduler_StartIdempotentStopClean(t *testing.T) {
	fx := newSchedulerFixture(t, time.Hour, time.Hour)

	fx.scheduler.Start()
	fx.scheduler.Start() // no-op
	assert.True(t, fx.scheduler.Status().Running)

	fx.waitForScan(t)

	fx.scheduler.Stop()
	assert.False(t, fx.scheduler.Status().Running)
	fx.scheduler.Stop() // no-op
}

func TestRefreshScheduler_PeriodicScans(t *testing.T) {
	fx := newSchedulerFixture(t, 25*time.Millisecond, time.Hour)
	fx.oauthCred("cred-due", "github", "ghr_old", 10*time.Minute)

	// Each refresh returns a short-lived token, keeping the credential
	// inside the lookahead window for the next scan.
	fx.exchanger.refreshFn = func(context.Context, *model.ServiceDescriptor, model.OAuthClientCreds, string) (*model.OAuthTokenSet, error) {
		return &model.OAuthTokenSet{AccessToken: "fresh-access", ExpiresIn: 60}, nil
	}

	fx.scheduler.Start()

	// The immediate scan plus at least one ticker-driven scan.
	require.Eventually(t, func() bool {
		return len(fx.exchanger.refreshed()) >= 2
	}, schedulerWait, 10*time.Millisecond)
}

func TestRefreshScheduler_RefreshWithoutExpiryEndsRefreshCycle(t *testing.T) {
	fx := newSchedulerFixture(t, 25*time.Millisecond, time.Hour)
	fx.oauthCred("cred-1", "github", "ghr_old", 10*time.Minute)

	// Provider answers without expires_in; the stored expiry stamp is
	// dropped and the token reads as non-expiring from then on.
	fx.exchanger.refreshFn = func(context.Context, *model.ServiceDescriptor, model.OAuthClientCreds, string) (*model.OAuthTokenSet, error) {
		return &model.OAuthTokenSet{AccessToken: "fresh-access"}, nil
	}

	fx.scheduler.Start()

	require.Eventually(t, func() bool {
		fx.store.mu.Lock()
		defer fx.store.mu.Unlock()
		return fx.store.listCalls >= 3
	}, schedulerWait, 10*time.Millisecond, "later scans never ran")

	assert.Len(t, fx.exchanger.refreshed(), 1, "a token refreshed without an expiry hint is not due again")
	_, hasExpiry := fx.store.payload("cred-1")[model.PayloadExpiresAt]
	assert.False(t, hasExpiry)
}

func TestRefreshScheduler_StopPersistsInFlightRefresh(t *testing.T) {
	fx := newSchedulerFixture(t, time.Hour, time.Hour)
	fx.oauthCred("cred-1", "github", "ghr_old", 10*time.Minute)

	// The token endpoint answers with rotated tokens only once shutdown has
	// begun; the rotation must still reach the store.
	entered := make(chan struct{})
	fx.exchanger.refreshFn = func(ctx context.Context, _ *model.ServiceDescriptor, _ model.OAuthClientCreds, _ string) (*model.OAuthTokenSet, error) {
		close(entered)
		<-ctx.Done()
		return &model.OAuthTokenSet{AccessToken: "fresh-access", RefreshToken: "ghr_rotated", ExpiresIn: 28800}, nil
	}

	fx.scheduler.Start()
	select {
	case <-entered:
	case <-time.After(schedulerWait):
		t.Fatal("refresh never started")
	}

	fx.scheduler.Stop()

	payload := fx.store.payload("cred-1")
	assert.Equal(t, "fresh-access", payload[model.PayloadAccessToken])
	assert.Equal(t, "ghr_rotated", payload[model.PayloadRefreshToken], "rotated refresh token must survive shutdown")
	assert.Contains(t, fx.store.validMarks, "cred-1")
	assert.Empty(t, fx.store.invalidMarks, "a shutdown is not a credential failure")
}

func TestRefreshScheduler_StatusDefaults(t *testing.T) {
	fx := newSchedulerFixture(t, 0, 0)

	status := fx.scheduler.Status()
	assert.False(t, status.Running)
	assert.Equal(t, 30*time.Minute, status.Interval)
	assert.Equal(t, time.Hour, status.Lookahead)
	assert.Nil(t, status.LastRun)
}

func TestRefreshScheduler_ListFailureLeavesStoreUntouched(t *testing.T) {
	store := newMockCredentialStore()
	exchanger := &mockExchanger{}
	oauth := application.NewOAuthService(newMockCatalog(githubDescriptor()), memory.NewStateStore(), exchanger, &mockChecker{}, nil, 0)
	scheduler := application.NewRefreshScheduler(store, oauth, time.Hour, time.Hour)
	t.Cleanup(scheduler.Stop)

	store.listErr = errors.New("database is locked")

	scheduler.Start()

	// The scan aborts on the list error without touching any credential.
	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.listCalls > 0
	}, schedulerWait, 10*time.Millisecond)
	assert.Empty(t, exchanger.refreshed())
}
