package driven

import (
	"context"

	"github.com/canvasflow/authvault/internal/domain/model"
)

// CredentialStore defines the driven port for encrypted credential
// persistence. The adapter layer owns encryption and decryption; payloads
// cross this interface as plaintext maps and are sealed before they touch
// storage.
type CredentialStore interface {
	// Create encrypts the payload and inserts a new credential record.
	// An empty payload map is legal.
	Create(ctx context.Context, ownerID, service string, kind model.AuthKind, name string, payload map[string]any) (*model.Credential, error)

	// Get returns the encrypted record without touching the payload.
	// Returns model.ErrNotFound when no such credential exists.
	Get(ctx context.Context, id string) (*model.Credential, error)

	// GetDecrypted returns the record together with its decrypted payload.
	// A payload that cannot be opened returns *model.DecryptionError and no
	// partial data.
	GetDecrypted(ctx context.Context, id string) (*model.DecryptedCredential, error)

	// ListByOwner returns the owner's credentials, newest first. With
	// validOnly set, records marked invalid are skipped.
	ListByOwner(ctx context.Context, ownerID string, validOnly bool) ([]model.Credential, error)

	// ListByKind returns every credential of the given auth kind across all
	// owners. Used by the refresh scheduler to find OAuth credentials.
	ListByKind(ctx context.Context, kind model.AuthKind) ([]model.Credential, error)

	// FindByOwnerAndService returns the owner's newest credential for a
	// service, or model.ErrNotFound.
	FindByOwnerAndService(ctx context.Context, ownerID, service string) (*model.Credential, error)

	// FindByOwnerServiceAndType narrows FindByOwnerAndService to one auth
	// kind, so an OAuth re-authorization never touches a directly submitted
	// credential for the same service. Returns model.ErrNotFound when no
	// record of that kind exists.
	FindByOwnerServiceAndType(ctx context.Context, ownerID, service string, kind model.AuthKind) (*model.Credential, error)

	// UpdatePayload re-encrypts and replaces the stored payload. Each call
	// seals with a fresh nonce, so identical payloads never share
	// ciphertext.
	UpdatePayload(ctx context.Context, id string, payload map[string]any) error

	// MarkValid records a successful validation or refresh, clearing any
	// prior error.
	MarkValid(ctx context.Context, id string) error

	// MarkInvalid records a failed validation or refresh with the reason.
	MarkInvalid(ctx context.Context, id, reason string) error

	// SetEngineCredentialID stores the id assigned by the execution engine
	// after provisioning and stamps the credential's last-used time.
	SetEngineCredentialID(ctx context.Context, id, engineID string) error

	// Delete removes the credential. Returns model.ErrNotFound when the id
	// does not exist.
	Delete(ctx context.Context, id string) error
}
