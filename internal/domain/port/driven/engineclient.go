package driven

import "context"

// EngineClient defines the driven port for the workflow execution engine's
// credential API. Deployed workflows reference credentials by the opaque id
// the engine assigns here.
type EngineClient interface {
	// CreateCredential registers a credential with the engine and returns
	// the engine's id for it. Data is the decrypted payload shaped for the
	// engine credential type.
	CreateCredential(ctx context.Context, name, engineType string, data map[string]any) (string, error)

	// DeleteCredential removes a previously provisioned credential.
	DeleteCredential(ctx context.Context, engineID string) error
}
