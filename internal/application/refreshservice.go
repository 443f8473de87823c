package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/canvasflow/authvault/internal/domain/model"
	"github.com/canvasflow/authvault/internal/domain/port/driven"
)

const (
	defaultRefreshInterval  = 30 * time.Minute
	defaultRefreshLookahead = time.Hour

	// refreshConcurrency bounds parallel token-endpoint calls per scan.
	refreshConcurrency = 4

	// perRefreshTimeout bounds a single credential's refresh round-trip.
	perRefreshTimeout = 30 * time.Second

	// persistTimeout bounds the store writes that follow a token-endpoint
	// call.
	persistTimeout = 10 * time.Second
)

// SchedulerStatus is a snapshot of the refresh loop for the ops endpoint.
// The Last* fields describe the most recently completed scan.
type SchedulerStatus struct {
	Running       bool
	Interval      time.Duration
	Lookahead     time.Duration
	LastRun       *time.Time
	LastScanned   int
	LastRefreshed int
	LastFailed    int
}

// dueCredential is a decrypted record whose access token expires inside the
// lookahead window.
type dueCredential struct {
	cred         model.Credential
	payload      map[string]any
	refreshToken string
}

// RefreshScheduler keeps OAuth credentials fresh: it periodically scans for
// access tokens expiring inside the lookahead window and refreshes them
// before a workflow hits a dead token.
type RefreshScheduler struct {
	store     driven.CredentialStore
	oauth     *OAuthService
	interval  time.Duration
	lookahead time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	lastRun       *time.Time
	lastScanned   int
	lastRefreshed int
	lastFailed    int
}

// NewRefreshScheduler creates a RefreshScheduler. Non-positive interval or
// lookahead fall back to the defaults.
func NewRefreshScheduler(store driven.CredentialStore, oauth *OAuthService, interval, lookahead time.Duration) *RefreshScheduler {
	if interval <= 0 {
		interval = defaultRefreshInterval
	}
	if lookahead <= 0 {
		lookahead = defaultRefreshLookahead
	}

	return &RefreshScheduler{
		store:     store,
		oauth:     oauth,
		interval:  interval,
		lookahead: lookahead,
	}
}

// Start launches the refresh loop: an immediate scan, then one per
// interval. Calling Start on a running scheduler is a no-op.
func (s *RefreshScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		slog.Debug("refresh scheduler already running")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go s.run(ctx)

	slog.Info("refresh scheduler started", "interval", s.interval, "lookahead", s.lookahead)
}

// Stop cancels the loop and waits for the in-flight scan to wind down:
// credentials not yet picked up are left for the next start, ones mid-refresh
// complete their store writes first. Stopping a stopped scheduler is a no-op.
func (s *RefreshScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	slog.Info("refresh scheduler stopped")
}

// Status reports the loop state and the counts from the last scan.
func (s *RefreshScheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := SchedulerStatus{
		Running:       s.running,
		Interval:      s.interval,
		Lookahead:     s.lookahead,
		LastScanned:   s.lastScanned,
		LastRefreshed: s.lastRefreshed,
		LastFailed:    s.lastFailed,
	}
	if s.lastRun != nil {
		at := *s.lastRun
		status.LastRun = &at
	}
	return status
}

// run is the loop goroutine. Scans execute serially on this goroutine, so
// runs never overlap; a tick that lands mid-scan is simply dropped.
func (s *RefreshScheduler) run(ctx context.Context) {
	defer s.wg.Done()

	s.scan(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scan(ctx)
		}
	}
}

// scan finds due credentials and refreshes them concurrently. A failing
// credential is recorded and skipped; it never stops the others.
func (s *RefreshScheduler) scan(ctx context.Context) {
	start := time.Now()

	creds, err := s.store.ListByKind(ctx, model.AuthKindOAuth2)
	if err != nil {
		slog.Error("refresh scan failed to list credentials", "error", err)
		return
	}

	due := s.collectDue(ctx, creds)

	var resultMu sync.Mutex
	var refreshed, failed int

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(refreshConcurrency)

	for _, item := range due {
		g.Go(func() error {
			// Shutdown stops picking up new credentials; the ones already
			// in flight run to completion.
			if gctx.Err() != nil {
				return nil
			}

			err := s.refreshOne(gctx, item)

			resultMu.Lock()
			if err != nil {
				failed++
			} else {
				refreshed++
			}
			resultMu.Unlock()

			return nil
		})
	}
	g.Wait() //nolint:errcheck

	now := time.Now()
	s.mu.Lock()
	s.lastRun = &now
	s.lastScanned = len(creds)
	s.lastRefreshed = refreshed
	s.lastFailed = failed
	s.mu.Unlock()

	slog.Info("refresh scan complete",
		"scanned", len(creds),
		"due", len(due),
		"refreshed", refreshed,
		"failed", failed,
		"duration", time.Since(start).Round(time.Millisecond),
	)
}

// collectDue decrypts each OAuth credential and keeps the ones that hold a
// refresh token and expire within the lookahead window. Expiry lives only
// inside the sealed payload, so the filter has to decrypt.
func (s *RefreshScheduler) collectDue(ctx context.Context, creds []model.Credential) []dueCredential {
	horizon := time.Now().Add(s.lookahead)

	var due []dueCredential
	for _, cred := range creds {
		if ctx.Err() != nil {
			return due
		}

		decrypted, err := s.store.GetDecrypted(ctx, cred.ID)
		if err != nil {
			var decryptErr *model.DecryptionError
			if errors.As(err, &decryptErr) {
				slog.Error("credential payload cannot be decrypted", "credential_id", cred.ID, "service", cred.Service)
				if markErr := s.store.MarkInvalid(ctx, cred.ID, decryptErr.Err.Error()); markErr != nil {
					slog.Error("marking credential invalid failed", "credential_id", cred.ID, "error", markErr)
				}
			} else {
				slog.Error("loading credential failed", "credential_id", cred.ID, "error", err)
			}
			continue
		}

		refreshToken := payloadString(decrypted.Payload, model.PayloadRefreshToken)
		if refreshToken == "" {
			slog.Debug("credential has no refresh token, skipping", "credential_id", cred.ID, "service", cred.Service)
			continue
		}

		expiresAt, ok := payloadExpiry(decrypted.Payload)
		if !ok {
			// No expiry hint means the token never goes stale on its own.
			continue
		}
		if expiresAt.After(horizon) {
			continue
		}

		due = append(due, dueCredential{
			cred:         decrypted.Credential,
			payload:      decrypted.Payload,
			refreshToken: refreshToken,
		})
	}

	return due
}

// refreshOne refreshes a single credential and persists the merged result.
// The token-endpoint call gets its own timeout. Store writes run on a
// detached context: once the provider may have rotated the refresh token,
// losing the persist would strand the credential on tokens the provider no
// longer honors, so a shutdown mid-refresh lets the writes finish.
func (s *RefreshScheduler) refreshOne(ctx context.Context, item dueCredential) error {
	callCtx, cancel := context.WithTimeout(ctx, perRefreshTimeout)
	tokens, err := s.oauth.Refresh(callCtx, item.cred.Service, item.refreshToken)
	cancel()

	persistCtx, cancelPersist := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancelPersist()

	if err != nil {
		// A shutdown that interrupts the call itself is not a credential
		// failure; the record stays untouched for the next run.
		if errors.Is(err, context.Canceled) {
			return err
		}
		slog.Error("token refresh failed",
			"credential_id", item.cred.ID,
			"service", item.cred.Service,
			"error", err,
		)
		if markErr := s.store.MarkInvalid(persistCtx, item.cred.ID, "refresh failed: "+err.Error()); markErr != nil {
			slog.Error("marking credential invalid failed", "credential_id", item.cred.ID, "error", markErr)
		}
		return err
	}

	// Providers that do not rotate refresh tokens return only a new access
	// token; the previous refresh token stays in effect.
	tokens.Merge(&model.OAuthTokenSet{
		RefreshToken: item.refreshToken,
		TokenType:    payloadString(item.payload, model.PayloadTokenType),
		Scope:        payloadString(item.payload, model.PayloadScope),
	})

	updated := make(map[string]any, len(item.payload)+5)
	for k, v := range item.payload {
		updated[k] = v
	}
	for k, v := range tokens.Extra {
		updated[k] = v
	}
	updated[model.PayloadAccessToken] = tokens.AccessToken
	updated[model.PayloadRefreshToken] = tokens.RefreshToken
	if tokens.TokenType != "" {
		updated[model.PayloadTokenType] = tokens.TokenType
	}
	if tokens.Scope != "" {
		updated[model.PayloadScope] = tokens.Scope
	}
	if tokens.ExpiresAt != nil {
		updated[model.PayloadExpiresAt] = tokens.ExpiresAt.UTC().Format(time.RFC3339)
	} else {
		delete(updated, model.PayloadExpiresAt)
	}

	if err := s.store.UpdatePayload(persistCtx, item.cred.ID, updated); err != nil {
		slog.Error("storing refreshed tokens failed", "credential_id", item.cred.ID, "error", err)
		return err
	}
	if err := s.store.MarkValid(persistCtx, item.cred.ID); err != nil {
		slog.Error("marking credential valid failed", "credential_id", item.cred.ID, "error", err)
	}

	slog.Info("access token refreshed",
		"credential_id", item.cred.ID,
		"service", item.cred.Service,
		"rotated", tokens.RefreshToken != item.refreshToken,
	)

	return nil
}

func payloadString(payload map[string]any, key string) string {
	v, _ := payload[key].(string)
	return v
}

// payloadExpiry parses the stored expiry stamp. Records without one, or
// with one that does not parse, read as non-expiring.
func payloadExpiry(payload map[string]any) (time.Time, bool) {
	raw := payloadString(payload, model.PayloadExpiresAt)
	if raw == "" {
		return time.Time{}, false
	}

	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		slog.Debug("unparseable expiry stamp", "value", raw)
		return time.Time{}, false
	}
	return at, true
}
