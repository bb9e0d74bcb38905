package account

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/rhuss/keystone/pkg/policy"
)

// Outcome is the result of one authentication attempt against an account.
type Outcome int

const (
	// Succeeded records a successful authentication.
	Succeeded Outcome = iota + 1

	// Failed records a rejected credential.
	Failed
)

// Account is an identity record with role assignments and authentication
// bookkeeping.
type Account struct {
	Identifier   string `json:"identifier"`
	ProviderName string `json:"providerName"`

	// CredentialsSource is provider specific, e.g. a bcrypt hash. It is never
	// serialized into sessions.
	CredentialsSource string `json:"-"`

	CreatedAt      time.Time  `json:"createdAt"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	FailedAttempts int        `json:"failedAttempts"`
	LastSuccessAt  *time.Time `json:"lastSuccessAt,omitempty"`
	RoleIDs        []string   `json:"roles,omitempty"`
}

// New creates an account for the given identifier and provider.
func New(identifier, providerName string, now time.Time) *Account {
	return &Account{
		Identifier:   identifier,
		ProviderName: providerName,
		CreatedAt:    now,
	}
}

// Key renders the composite identity, e.g. "DefaultProvider/alice".
func (a *Account) Key() string {
	return a.ProviderName + "/" + a.Identifier
}

// IsActive reports whether the account has not expired at now.
func (a *Account) IsActive(now time.Time) bool {
	return a.ExpiresAt == nil || a.ExpiresAt.After(now)
}

// AuthenticationAttempted records an authentication attempt. A success
// resets the failure counter and stamps the success time.
func (a *Account) AuthenticationAttempted(outcome Outcome, now time.Time) {
	switch outcome {
	case Succeeded:
		t := now
		a.LastSuccessAt = &t
		a.FailedAttempts = 0
	case Failed:
		a.FailedAttempts++
	}
}

// Roles resolves the assigned role identifiers against the graph.
// Identifiers the graph does not define and abstract roles are dropped from
// the account.
func (a *Account) Roles(g *policy.Graph) []*policy.Role {
	resolved, unknown := g.Resolve(a.RoleIDs)
	if len(unknown) > 0 {
		slog.Warn("pruning undefined roles from account",
			"account", a.Key(), "roles", unknown)
	}
	roles := make([]*policy.Role, 0, len(resolved))
	var abstract []string
	for _, r := range resolved {
		if r.Abstract {
			abstract = append(abstract, r.ID)
			continue
		}
		roles = append(roles, r)
	}
	if len(abstract) > 0 {
		slog.Warn("pruning abstract roles from account",
			"account", a.Key(), "roles", abstract)
	}
	if drop := append(unknown, abstract...); len(drop) > 0 {
		a.RoleIDs = slices.DeleteFunc(a.RoleIDs, func(id string) bool {
			return slices.Contains(drop, id)
		})
	}
	return roles
}

// HasRole reports whether the role identifier is assigned directly.
func (a *Account) HasRole(id string) bool {
	return slices.Contains(a.RoleIDs, id)
}

// AddRole assigns a role. Abstract roles cannot be assigned.
func (a *Account) AddRole(r *policy.Role) error {
	if r.Abstract {
		return fmt.Errorf("abstract role %s cannot be assigned to account %s", r.ID, a.Key())
	}
	if !a.HasRole(r.ID) {
		a.RoleIDs = append(a.RoleIDs, r.ID)
	}
	return nil
}

// RemoveRole unassigns a role identifier.
func (a *Account) RemoveRole(id string) {
	a.RoleIDs = slices.DeleteFunc(a.RoleIDs, func(r string) bool { return r == id })
}

// SetRoles replaces the role assignments. It fails without changes if any
// role is abstract.
func (a *Account) SetRoles(roles []*policy.Role) error {
	ids := make([]string, 0, len(roles))
	for _, r := range roles {
		if r.Abstract {
			return fmt.Errorf("abstract role %s cannot be assigned to account %s", r.ID, a.Key())
		}
		if !slices.Contains(ids, r.ID) {
			ids = append(ids, r.ID)
		}
	}
	a.RoleIDs = ids
	return nil
}

// Clone returns a deep copy.
func (a *Account) Clone() *Account {
	c := *a
	c.RoleIDs = slices.Clone(a.RoleIDs)
	if a.ExpiresAt != nil {
		t := *a.ExpiresAt
		c.ExpiresAt = &t
	}
	if a.LastSuccessAt != nil {
		t := *a.LastSuccessAt
		c.LastSuccessAt = &t
	}
	return &c
}

// ReadProperty exposes account fields to row-security operands such as
// "context.securityContext.account.identifier".
func (a *Account) ReadProperty(name string) (any, bool) {
	switch name {
	case "identifier", "accountIdentifier":
		return a.Identifier, true
	case "providerName", "authenticationProviderName":
		return a.ProviderName, true
	case "roles":
		return slices.Clone(a.RoleIDs), true
	case "createdAt", "creationDate":
		return a.CreatedAt, true
	case "expiresAt", "expirationDate":
		if a.ExpiresAt == nil {
			return nil, true
		}
		return *a.ExpiresAt, true
	case "failedAttempts", "failedAuthenticationCount":
		return a.FailedAttempts, true
	}
	return nil, false
}

// PrimaryKey returns the identifying property values, so an account can be
// compared against a to-one association by row-security constraints.
func (a *Account) PrimaryKey() map[string]any {
	return map[string]any{
		"identifier":   a.Identifier,
		"providerName": a.ProviderName,
	}
}

// Store persists accounts.
type Store interface {
	// Find returns the account for the identifier and provider, or ErrNotFound.
	Find(ctx context.Context, identifier, providerName string) (*Account, error)

	// Create stores a new account, or returns ErrConflict.
	Create(ctx context.Context, a *Account) error

	// Update replaces an existing account, or returns ErrNotFound.
	Update(ctx context.Context, a *Account) error

	// Delete removes an account, or returns ErrNotFound.
	Delete(ctx context.Context, identifier, providerName string) error

	// List returns all accounts of a provider ordered by identifier.
	List(ctx context.Context, providerName string) ([]*Account, error)
}
