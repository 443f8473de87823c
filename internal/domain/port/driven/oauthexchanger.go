package driven

import (
	"context"

	"github.com/canvasflow/authvault/internal/domain/model"
)

// OAuthExchanger defines the driven port for a provider's token endpoint.
// Request shape (form vs JSON body, client auth placement, redirect_uri
// presence) is driven entirely by the descriptor's OAuth spec.
type OAuthExchanger interface {
	// ExchangeCode trades an authorization code for tokens. Failures from
	// the provider surface as *model.ProviderError with Op "exchange".
	ExchangeCode(ctx context.Context, desc *model.ServiceDescriptor, creds model.OAuthClientCreds, code string) (*model.OAuthTokenSet, error)

	// RefreshToken obtains a fresh access token. The returned set may lack
	// a refresh token when the provider does not rotate them. Failures
	// surface as *model.ProviderError with Op "refresh".
	RefreshToken(ctx context.Context, desc *model.ServiceDescriptor, creds model.OAuthClientCreds, refreshToken string) (*model.OAuthTokenSet, error)
}
