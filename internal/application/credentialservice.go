// Package application contains use-case orchestration services.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/canvasflow/authvault/internal/domain/model"
	"github.com/canvasflow/authvault/internal/domain/port/driven"
)

// OAuthCompletion is the outcome of a finished authorization flow: the
// stored credential plus the caller's original post-auth redirect target.
type OAuthCompletion struct {
	Credential  *model.Credential
	RedirectURL string
}

// CredentialService orchestrates the credential lifecycle: completing OAuth
// flows, accepting directly submitted secrets, and mirroring records to the
// execution engine.
type CredentialService struct {
	store           driven.CredentialStore
	catalog         driven.ServiceCatalog
	oauth           *OAuthService
	checker         driven.CredentialChecker
	engine          driven.EngineClient
	validateOnStore bool
}

// NewCredentialService creates a CredentialService. engine may be nil when
// no execution engine is configured; provisioning is skipped then.
func NewCredentialService(
	store driven.CredentialStore,
	catalog driven.ServiceCatalog,
	oauth *OAuthService,
	checker driven.CredentialChecker,
	engine driven.EngineClient,
	validateOnStore bool,
) *CredentialService {
	return &CredentialService{
		store:           store,
		catalog:         catalog,
		oauth:           oauth,
		checker:         checker,
		engine:          engine,
		validateOnStore: validateOnStore,
	}
}

// CompleteOAuth finishes a provider callback: exchanges the code, stores
// the tokens under the owner from the consumed state, and provisions the
// engine. An owner re-authorizing a service updates their existing record
// instead of growing duplicates.
func (s *CredentialService) CompleteOAuth(ctx context.Context, service, code, stateToken string) (*OAuthCompletion, error) {
	tokens, state, err := s.oauth.Exchange(ctx, service, code, stateToken)
	if err != nil {
		return nil, err
	}

	desc, err := s.catalog.Get(service)
	if err != nil {
		return nil, err
	}

	payload := oauthPayload(tokens)

	cred, err := s.upsertOAuthCredential(ctx, state.OwnerID, desc, payload)
	if err != nil {
		return nil, err
	}

	s.provisionEngine(ctx, cred, desc, payload)

	slog.Info("oauth credential stored",
		"credential_id", cred.ID,
		"service", desc.Name,
		"owner_id", state.OwnerID,
	)

	return &OAuthCompletion{Credential: cred, RedirectURL: state.RedirectURL}, nil
}

// SubmitCredential stores a directly supplied secret (API key, database
// settings) after checking the catalog's required fields. When configured,
// the credential is probed immediately and its validity recorded.
func (s *CredentialService) SubmitCredential(ctx context.Context, ownerID, service, name string, fields map[string]any) (*model.Credential, error) {
	desc, err := s.catalog.Get(service)
	if err != nil {
		return nil, err
	}

	if missing := missingRequiredFields(desc, fields); len(missing) > 0 {
		return nil, &model.ValidationError{Msg: "missing required fields: " + strings.Join(missing, ", ")}
	}

	if name == "" {
		name = desc.DisplayName
	}

	cred, err := s.store.Create(ctx, ownerID, desc.Name, desc.Kind, name, fields)
	if err != nil {
		return nil, err
	}

	provision := true
	if s.validateOnStore {
		result := s.checker.Check(ctx, desc, fields)
		if result.Valid {
			if err := s.store.MarkValid(ctx, cred.ID); err != nil {
				slog.Error("marking credential valid failed", "credential_id", cred.ID, "error", err)
			}
		} else {
			provision = false
			if err := s.store.MarkInvalid(ctx, cred.ID, result.Message); err != nil {
				slog.Error("marking credential invalid failed", "credential_id", cred.ID, "error", err)
			}
			slog.Warn("stored credential failed validation",
				"credential_id", cred.ID,
				"service", desc.Name,
				"unreachable", result.Unreachable,
			)
		}
	}

	if provision {
		s.provisionEngine(ctx, cred, desc, fields)
	}

	return s.store.Get(ctx, cred.ID)
}

// List returns an owner's credentials, optionally restricted to valid ones.
func (s *CredentialService) List(ctx context.Context, ownerID string, validOnly bool) ([]model.Credential, error) {
	return s.store.ListByOwner(ctx, ownerID, validOnly)
}

// Get returns a single credential record without its payload.
func (s *CredentialService) Get(ctx context.Context, id string) (*model.Credential, error) {
	return s.store.Get(ctx, id)
}

// Delete removes a credential, deprovisioning it from the engine first. A
// failed engine delete does not block removal here.
func (s *CredentialService) Delete(ctx context.Context, id string) error {
	cred, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}

	if s.engine != nil && cred.EngineCredentialID != "" {
		if err := s.engine.DeleteCredential(ctx, cred.EngineCredentialID); err != nil {
			slog.Warn("engine deprovisioning failed",
				"credential_id", id,
				"engine_id", cred.EngineCredentialID,
				"error", err,
			)
		}
	}

	return s.store.Delete(ctx, id)
}

// upsertOAuthCredential updates the owner's existing record for the service
// or creates a new one. The lookup is kind-scoped, so a directly submitted
// credential for the same service is never overwritten by an OAuth flow.
func (s *CredentialService) upsertOAuthCredential(ctx context.Context, ownerID string, desc *model.ServiceDescriptor, payload map[string]any) (*model.Credential, error) {
	existing, err := s.store.FindByOwnerServiceAndType(ctx, ownerID, desc.Name, desc.Kind)
	switch {
	case err == nil:
		if err := s.store.UpdatePayload(ctx, existing.ID, payload); err != nil {
			return nil, fmt.Errorf("updating credential payload: %w", err)
		}
		if err := s.store.MarkValid(ctx, existing.ID); err != nil {
			return nil, fmt.Errorf("marking credential valid: %w", err)
		}
		return s.store.Get(ctx, existing.ID)
	case errors.Is(err, model.ErrNotFound):
		return s.store.Create(ctx, ownerID, desc.Name, desc.Kind, desc.DisplayName, payload)
	default:
		return nil, err
	}
}

// provisionEngine mirrors the credential to the execution engine. The
// engine has no update call, so a re-authorization replaces the remote
// credential. Failures log and leave the record usable without an engine
// id.
func (s *CredentialService) provisionEngine(ctx context.Context, cred *model.Credential, desc *model.ServiceDescriptor, payload map[string]any) {
	if s.engine == nil || desc.EngineType == "" {
		return
	}

	if cred.EngineCredentialID != "" {
		if err := s.engine.DeleteCredential(ctx, cred.EngineCredentialID); err != nil {
			slog.Warn("replacing engine credential failed",
				"credential_id", cred.ID,
				"engine_id", cred.EngineCredentialID,
				"error", err,
			)
		}
	}

	engineID, err := s.engine.CreateCredential(ctx, cred.Name, desc.EngineType, payload)
	if err != nil {
		slog.Error("engine provisioning failed", "credential_id", cred.ID, "service", desc.Name, "error", err)
		return
	}

	if err := s.store.SetEngineCredentialID(ctx, cred.ID, engineID); err != nil {
		slog.Error("recording engine credential id failed", "credential_id", cred.ID, "error", err)
		return
	}
	cred.EngineCredentialID = engineID
}

// oauthPayload flattens a token set into the stored payload shape. Standard
// fields win over same-named extras.
func oauthPayload(tokens *model.OAuthTokenSet) map[string]any {
	payload := make(map[string]any, len(tokens.Extra)+5)
	for k, v := range tokens.Extra {
		payload[k] = v
	}

	payload[model.PayloadAccessToken] = tokens.AccessToken
	if tokens.RefreshToken != "" {
		payload[model.PayloadRefreshToken] = tokens.RefreshToken
	}
	if tokens.TokenType != "" {
		payload[model.PayloadTokenType] = tokens.TokenType
	}
	if tokens.Scope != "" {
		payload[model.PayloadScope] = tokens.Scope
	}
	if tokens.ExpiresAt != nil {
		payload[model.PayloadExpiresAt] = tokens.ExpiresAt.UTC().Format(time.RFC3339)
	}

	return payload
}

// missingRequiredFields lists catalog-required fields that are absent or
// blank in the submission.
func missingRequiredFields(desc *model.ServiceDescriptor, fields map[string]any) []string {
	var missing []string
	for _, f := range desc.Fields {
		if !f.Required {
			continue
		}
		v, ok := fields[f.Name]
		if !ok {
			missing = append(missing, f.Name)
			continue
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			missing = append(missing, f.Name)
		}
	}
	return missing
}
