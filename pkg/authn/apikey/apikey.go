// Package apikey authenticates API key and bearer tokens against a static
// key set using SHA-256 hashing and constant-time comparison.
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rhuss/keystone/pkg/account"
	"github.com/rhuss/keystone/pkg/api"
	"github.com/rhuss/keystone/pkg/authn"
	"github.com/rhuss/keystone/pkg/policy"
)

// Key is the configuration format for one API key.
type Key struct {
	Key     string
	Account string
	Roles   []string
}

type entry struct {
	hash       [32]byte
	identifier string
	roles      []string
}

// Provider validates keys against the configured set. Plaintext keys are
// not kept.
type Provider struct {
	name    string
	keys    []entry
	started time.Time
}

var _ authn.Provider = (*Provider)(nil)

// New creates an API key provider from raw keys.
func New(name string, keys []Key) *Provider {
	p := &Provider{name: name, started: time.Now()}
	for _, k := range keys {
		p.keys = append(p.keys, entry{
			hash:       sha256.Sum256([]byte(k.Key)),
			identifier: k.Account,
			roles:      slices.Clone(k.Roles),
		})
	}
	return p
}

// CheckRoles verifies the configured key roles against the policy: every
// role must be defined and assignable.
func (p *Provider) CheckRoles(g *policy.Graph) error {
	var errs []error
	for _, k := range p.keys {
		for _, id := range k.roles {
			r, err := g.Role(id)
			if err != nil {
				errs = append(errs, fmt.Errorf("key of account %s: %w", k.identifier, err))
				continue
			}
			if r.Abstract {
				errs = append(errs, fmt.Errorf("key of account %s: abstract role %s cannot be assigned", k.identifier, id))
			}
		}
	}
	if len(errs) > 0 {
		return api.NewConfigurationError(p.name, "invalid api key roles").WithCause(errors.Join(errs...))
	}
	return nil
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) TokenTypes() []string {
	return []string{authn.TypeAPIKey, authn.TypeBearer}
}

// Authenticate compares the presented key with every configured key.
func (p *Provider) Authenticate(_ context.Context, t *authn.Token) error {
	creds := t.Credentials()
	key := creds["key"]
	if key == "" {
		key = creds["token"]
	}
	if key == "" {
		return t.Rejected()
	}

	sum := sha256.Sum256([]byte(key))
	var match *entry
	for i := range p.keys {
		if subtle.ConstantTimeCompare(sum[:], p.keys[i].hash[:]) == 1 && match == nil {
			match = &p.keys[i]
		}
	}
	if match == nil {
		return t.Rejected()
	}

	acc := account.New(match.identifier, p.name, p.started)
	acc.RoleIDs = slices.Clone(match.roles)
	return t.Authenticated(acc)
}
