// Package password authenticates username/password tokens against
// persisted accounts whose credentials source is a bcrypt hash.
package password

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/rhuss/keystone/pkg/account"
	"github.com/rhuss/keystone/pkg/authn"
	"github.com/rhuss/keystone/pkg/observability"
)

// dummyHash is compared against when the account does not exist, so unknown
// and known usernames take the same time.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("keystone-dummy-password"), bcrypt.DefaultCost)

// HashPassword hashes a plaintext password for storage as an account's
// credentials source.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Provider authenticates against an account.Store.
type Provider struct {
	name     string
	accounts account.Store
	throttle *throttle
	now      func() time.Time
}

var _ authn.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithThrottle limits authentication attempts per account identifier to
// perMinute with the given burst. Zero disables throttling.
func WithThrottle(perMinute, burst int) Option {
	return func(p *Provider) {
		if perMinute <= 0 {
			p.throttle = nil
			return
		}
		p.throttle = newThrottle(rate.Limit(float64(perMinute)/60), burst)
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// New creates a password provider named name.
func New(name string, accounts account.Store, opts ...Option) *Provider {
	p := &Provider{name: name, accounts: accounts, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) TokenTypes() []string {
	return []string{authn.TypeUsernamePassword, authn.TypeHTTPBasic}
}

// Authenticate verifies the token's username and password.
func (p *Provider) Authenticate(ctx context.Context, t *authn.Token) error {
	creds := t.Credentials()
	username, password := creds["username"], creds["password"]
	if username == "" {
		return t.Rejected()
	}

	if p.throttle != nil && !p.throttle.allow(username, p.now()) {
		observability.LoginThrottledTotal.WithLabelValues(p.name).Inc()
		slog.Warn("authentication throttled", "provider", p.name, "account", username)
		return t.Rejected()
	}

	acc, err := p.accounts.Find(ctx, username, p.name)
	if errors.Is(err, account.ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return t.Rejected()
	}
	if err != nil {
		return fmt.Errorf("loading account %s: %w", username, err)
	}

	now := p.now()
	if !acc.IsActive(now) {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		slog.Info("authentication refused for expired account", "provider", p.name, "account", username)
		return t.Rejected()
	}

	if err := bcrypt.CompareHashAndPassword([]byte(acc.CredentialsSource), []byte(password)); err != nil {
		acc.AuthenticationAttempted(account.Failed, now)
		p.save(ctx, acc)
		return t.Rejected()
	}

	acc.AuthenticationAttempted(account.Succeeded, now)
	p.save(ctx, acc)
	return t.Authenticated(acc)
}

// save persists bookkeeping. A failed write does not change the verdict.
func (p *Provider) save(ctx context.Context, acc *account.Account) {
	if err := p.accounts.Update(ctx, acc); err != nil {
		slog.Warn("failed to record authentication attempt",
			"provider", p.name, "account", acc.Identifier, "error", err)
	}
}
