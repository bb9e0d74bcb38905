package authn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/rhuss/keystone/pkg/api"
	"github.com/rhuss/keystone/pkg/debug"
	"github.com/rhuss/keystone/pkg/observability"
	"github.com/rhuss/keystone/pkg/session"
)

// Strategy decides how many tokens must authenticate.
type Strategy int

const (
	// AnyToken never fails; authentication is optional.
	AnyToken Strategy = iota

	// OneToken stops at the first successful token.
	OneToken

	// AllTokens requires every token to authenticate.
	AllTokens

	// AtLeastOneToken tries every token and requires one success.
	AtLeastOneToken
)

var strategyNames = map[Strategy]string{
	AnyToken:        "anyToken",
	OneToken:        "oneToken",
	AllTokens:       "allTokens",
	AtLeastOneToken: "atLeastOneToken",
}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// ParseStrategy parses a configured strategy name such as "atLeastOneToken".
func ParseStrategy(s string) (Strategy, error) {
	for st, name := range strategyNames {
		if name == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown authentication strategy %q", s)
}

// TokenSpec configures one token. Manager.Tokens creates a fresh Token from
// every spec, in order.
type TokenSpec struct {
	ProviderName string
	Kind         Kind
	Patterns     []RequestPattern
	EntryPoint   EntryPoint
}

// AuthenticatedFunc is called for every token a provider accepted.
type AuthenticatedFunc func(ctx context.Context, t *Token)

// LoggedOutFunc is called after a logout reset the tokens.
type LoggedOutFunc func(ctx context.Context, tokens []*Token)

// Manager authenticates tokens against the configured providers.
type Manager struct {
	strategy      Strategy
	providers     []Provider
	specs         []TokenSpec
	authenticated []AuthenticatedFunc
	loggedOut     []LoggedOutFunc
}

// NewManager validates the provider and token configuration.
func NewManager(strategy Strategy, providers []Provider, specs []TokenSpec) (*Manager, error) {
	var errs []error
	if _, ok := strategyNames[strategy]; !ok {
		errs = append(errs, fmt.Errorf("unknown strategy %d", int(strategy)))
	}
	if len(specs) == 0 {
		errs = append(errs, errors.New("no tokens configured"))
	}
	names := make(map[string]bool, len(providers))
	for _, p := range providers {
		if names[p.Name()] {
			errs = append(errs, fmt.Errorf("provider %q configured twice", p.Name()))
		}
		names[p.Name()] = true
	}
	tokenProviders := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if tokenProviders[spec.ProviderName] {
			errs = append(errs, fmt.Errorf("provider %q has more than one token", spec.ProviderName))
		}
		tokenProviders[spec.ProviderName] = true
		if spec.Kind == nil {
			errs = append(errs, fmt.Errorf("token for provider %q has no type", spec.ProviderName))
			continue
		}
		probe := NewToken(spec.ProviderName, spec.Kind)
		if !slices.ContainsFunc(providers, func(p Provider) bool { return CanAuthenticate(p, probe) }) {
			errs = append(errs, fmt.Errorf("no provider %q accepts %s tokens", spec.ProviderName, spec.Kind.Name()))
		}
	}
	if len(errs) > 0 {
		return nil, api.NewConfigurationError("authentication", "invalid authentication configuration").
			WithCause(errors.Join(errs...))
	}
	return &Manager{strategy: strategy, providers: providers, specs: specs}, nil
}

// Strategy returns the configured strategy.
func (m *Manager) Strategy() Strategy {
	return m.strategy
}

// Tokens returns fresh tokens in configured order.
func (m *Manager) Tokens() []*Token {
	tokens := make([]*Token, 0, len(m.specs))
	for _, spec := range m.specs {
		opts := []TokenOption{WithRequestPatterns(spec.Patterns...)}
		if spec.EntryPoint != nil {
			opts = append(opts, WithEntryPoint(spec.EntryPoint))
		}
		tokens = append(tokens, NewToken(spec.ProviderName, spec.Kind, opts...))
	}
	return tokens
}

// OnAuthenticated registers a listener for successful authentications.
func (m *Manager) OnAuthenticated(fn AuthenticatedFunc) {
	m.authenticated = append(m.authenticated, fn)
}

// OnLoggedOut registers a listener for logouts.
func (m *Manager) OnLoggedOut(fn LoggedOutFunc) {
	m.loggedOut = append(m.loggedOut, fn)
}

// Authenticate walks the tokens in order and applies the strategy. It
// reports whether at least one token is authenticated. The session handle
// may be nil when no session support is wanted.
func (m *Manager) Authenticate(ctx context.Context, tokens []*Token, sess *session.Handle) (bool, error) {
	if len(tokens) == 0 {
		return false, api.NewConfigurationError("authentication", "no authentication tokens configured")
	}

	authenticated := false
	for _, t := range tokens {
		if t.Status() == AuthenticationNeeded {
			if err := m.attempt(ctx, t); err != nil {
				return false, err
			}
		}

		if !t.IsAuthenticated() {
			if m.strategy == AllTokens {
				slog.Warn("authentication failed",
					"provider", t.ProviderName(), "type", t.Type(), "status", t.Status())
				return false, api.NewAuthenticationRequiredError("all_tokens_required",
					fmt.Sprintf("could not authenticate token %s", t))
			}
			continue
		}

		if !t.Stateless() && sess != nil {
			if err := bindSession(ctx, sess, t); err != nil {
				return false, err
			}
		}
		if m.strategy == OneToken {
			return true, nil
		}
		authenticated = true
	}

	if !authenticated && m.strategy != AnyToken {
		return false, api.NewAuthenticationRequiredError("no_token_authenticated",
			"could not authenticate any token, might be missing or wrong credentials")
	}
	return authenticated, nil
}

// attempt hands the token to the first capable provider.
func (m *Manager) attempt(ctx context.Context, t *Token) error {
	for _, p := range m.providers {
		if !CanAuthenticate(p, t) {
			continue
		}
		start := time.Now()
		err := p.Authenticate(ctx, t)
		observability.AuthenticationLatency.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())
		if err != nil {
			observability.AuthenticationAttemptsTotal.WithLabelValues(p.Name(), "error").Inc()
			return fmt.Errorf("provider %s: %w", p.Name(), err)
		}
		observability.AuthenticationAttemptsTotal.WithLabelValues(p.Name(), t.Status().String()).Inc()

		if t.IsAuthenticated() {
			slog.Debug("authentication succeeded",
				"provider", p.Name(), "type", t.Type(), "account", t.Account().Identifier)
			for _, fn := range m.authenticated {
				fn(ctx, t)
			}
		} else {
			slog.Info("authentication failed",
				"provider", p.Name(), "type", t.Type(), "status", t.Status())
		}
		return nil
	}
	debug.Log("authn", "no provider for token", "provider", t.ProviderName(), "type", t.Type())
	return nil
}

func bindSession(ctx context.Context, sess *session.Handle, t *Token) error {
	s, err := sess.Start(ctx)
	if err != nil {
		return fmt.Errorf("binding session for %s: %w", t.ProviderName(), err)
	}
	if err := s.AddTag(session.AccountTag(t.Account().Identifier)); err != nil {
		return fmt.Errorf("tagging session: %w", err)
	}
	return nil
}

// Logout resets every token, notifies listeners and destroys the session.
func (m *Manager) Logout(ctx context.Context, tokens []*Token, sess *session.Handle) error {
	for _, t := range tokens {
		t.Reset()
	}
	for _, fn := range m.loggedOut {
		fn(ctx, tokens)
	}
	if sess == nil {
		return nil
	}
	return sess.Destroy(ctx, "logout")
}
