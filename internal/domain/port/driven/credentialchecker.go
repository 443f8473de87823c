package driven

import (
	"context"

	"github.com/canvasflow/authvault/internal/domain/model"
)

// CredentialChecker defines the driven port for live credential probes.
type CredentialChecker interface {
	// Check verifies the decrypted payload against the live service chosen
	// by the descriptor's probe kind. It never returns an error: rejection,
	// unreachability, and success are all expressed in the result. Checks
	// finish within the checker's configured timeout.
	Check(ctx context.Context, desc *model.ServiceDescriptor, payload map[string]any) model.ValidationResult
}
