package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/canvasflow/authvault/internal/domain/model"
	"github.com/canvasflow/authvault/internal/domain/port/driven"
)

// ValidatorService runs on-demand credential checks and records the
// outcome on the stored record.
type ValidatorService struct {
	store   driven.CredentialStore
	catalog driven.ServiceCatalog
	checker driven.CredentialChecker
}

// NewValidatorService creates a ValidatorService.
func NewValidatorService(store driven.CredentialStore, catalog driven.ServiceCatalog, checker driven.CredentialChecker) *ValidatorService {
	return &ValidatorService{
		store:   store,
		catalog: catalog,
		checker: checker,
	}
}

// ValidateCredential probes the credential against its live service and
// persists the outcome, so the record's validity always reflects the last
// attempt. A payload that no longer decrypts marks the record invalid
// instead of erroring.
func (s *ValidatorService) ValidateCredential(ctx context.Context, id string) (model.ValidationResult, error) {
	decrypted, err := s.store.GetDecrypted(ctx, id)
	if err != nil {
		var decryptErr *model.DecryptionError
		if errors.As(err, &decryptErr) {
			reason := decryptErr.Err.Error()
			if markErr := s.store.MarkInvalid(ctx, id, reason); markErr != nil {
				slog.Error("marking credential invalid failed", "credential_id", id, "error", markErr)
			}
			return model.ValidationResult{Valid: false, Message: reason}, nil
		}
		return model.ValidationResult{}, err
	}

	desc, err := s.catalog.Get(decrypted.Service)
	if err != nil {
		return model.ValidationResult{}, err
	}

	result := s.checker.Check(ctx, desc, decrypted.Payload)

	if result.Valid {
		err = s.store.MarkValid(ctx, id)
	} else {
		err = s.store.MarkInvalid(ctx, id, result.Message)
	}
	if err != nil {
		return model.ValidationResult{}, fmt.Errorf("recording validation result: %w", err)
	}

	slog.Info("credential validated",
		"credential_id", id,
		"service", decrypted.Service,
		"valid", result.Valid,
		"unreachable", result.Unreachable,
	)

	return result, nil
}
