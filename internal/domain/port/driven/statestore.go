package driven

import (
	"context"

	"github.com/canvasflow/authvault/internal/domain/model"
)

// OAuthStateStore defines the driven port for pending OAuth authorization
// state. States are short-lived and consumed exactly once.
type OAuthStateStore interface {
	// Save stores a pending state under its token.
	Save(ctx context.Context, state model.OAuthState) error

	// Consume atomically looks up and deletes the state. A token that was
	// never issued, was already consumed, or has expired returns
	// model.ErrInvalidState. Under concurrent calls with the same token,
	// exactly one caller receives the state.
	Consume(ctx context.Context, token string) (*model.OAuthState, error)
}
