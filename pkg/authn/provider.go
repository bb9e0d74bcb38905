package authn

import (
	"context"
	"slices"
)

// Provider verifies the credentials of tokens it is capable of.
//
// Authenticate calls Token.Authenticated or Token.Rejected. A returned error
// signals an infrastructure failure (e.g. an unreachable account store), not
// wrong credentials.
type Provider interface {
	Name() string
	TokenTypes() []string
	Authenticate(ctx context.Context, t *Token) error
}

// CanAuthenticate reports whether p is configured for the token's provider
// name and supports its type.
func CanAuthenticate(p Provider, t *Token) bool {
	return p.Name() == t.ProviderName() && slices.Contains(p.TokenTypes(), t.Type())
}
