package authn

import (
	"fmt"
	"maps"
	"net/http"

	"github.com/rhuss/keystone/pkg/account"
	"github.com/rhuss/keystone/pkg/debug"
)

// RequestPattern decides whether a token is active for a request. Patterns
// of the same Type are alternatives; different types must all match.
type RequestPattern interface {
	Type() string
	Matches(r *http.Request) bool
}

// Token carries the credentials for one provider through a request. It is
// not safe for concurrent use.
type Token struct {
	providerName string
	kind         Kind
	patterns     []RequestPattern
	entryPoint   EntryPoint

	status      Status
	credentials Credentials
	digest      string
	account     *account.Account
}

// TokenOption configures a Token.
type TokenOption func(*Token)

// WithRequestPatterns limits the token to matching requests.
func WithRequestPatterns(patterns ...RequestPattern) TokenOption {
	return func(t *Token) { t.patterns = append(t.patterns, patterns...) }
}

// WithEntryPoint sets how a client is asked for credentials.
func WithEntryPoint(ep EntryPoint) TokenOption {
	return func(t *Token) { t.entryPoint = ep }
}

// NewToken creates a token for the named provider in NoCredentialsGiven.
func NewToken(providerName string, kind Kind, opts ...TokenOption) *Token {
	t := &Token{
		providerName: providerName,
		kind:         kind,
		status:       NoCredentialsGiven,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Token) ProviderName() string              { return t.providerName }
func (t *Token) Type() string                      { return t.kind.Name() }
func (t *Token) Stateless() bool                   { return t.kind.Stateless() }
func (t *Token) Status() Status                    { return t.status }
func (t *Token) Account() *account.Account         { return t.account }
func (t *Token) RequestPatterns() []RequestPattern { return t.patterns }
func (t *Token) EntryPoint() EntryPoint            { return t.entryPoint }

// IsAuthenticated reports whether a provider accepted the credentials.
func (t *Token) IsAuthenticated() bool {
	return t.status == AuthenticationSuccessful
}

// Credentials returns a copy of the extracted credentials.
func (t *Token) Credentials() Credentials {
	return maps.Clone(t.credentials)
}

// UpdateCredentials extracts credentials from the request and moves the
// token accordingly. Re-presenting the credentials a successful token was
// authenticated with changes nothing. It reports whether the status changed.
func (t *Token) UpdateCredentials(r *http.Request) bool {
	creds, presence := t.kind.Extract(r)
	before := t.status
	switch presence {
	case Absent:
		t.credentials = nil
		t.digest = ""
		t.account = nil
		t.status = NoCredentialsGiven
	case Present:
		digest := creds.Digest()
		if t.status == AuthenticationSuccessful && sameDigest(t.digest, digest) {
			return false
		}
		t.credentials = creds
		t.digest = digest
		t.account = nil
		t.status = AuthenticationNeeded
	}
	if t.status != before {
		debug.Log("authn", "token credentials updated",
			"provider", t.providerName, "type", t.Type(), "from", before, "to", t.status)
		return true
	}
	return false
}

// Authenticated binds the account after a provider accepted the credentials.
func (t *Token) Authenticated(acc *account.Account) error {
	if acc == nil {
		return fmt.Errorf("authenticated token %s without account", t.providerName)
	}
	if err := ValidateTransition(t.status, AuthenticationSuccessful); err != nil {
		return err
	}
	t.status = AuthenticationSuccessful
	t.account = acc
	return nil
}

// Rejected marks the credentials as wrong.
func (t *Token) Rejected() error {
	if err := ValidateTransition(t.status, WrongCredentials); err != nil {
		return err
	}
	t.status = WrongCredentials
	t.account = nil
	return nil
}

// Reset drops credentials and account, e.g. on logout.
func (t *Token) Reset() {
	t.status = NoCredentialsGiven
	t.credentials = nil
	t.digest = ""
	t.account = nil
}

// TokenState is the session persisted form of a token. Raw credentials are
// never persisted; only their digest is, for idempotent re-authentication.
type TokenState struct {
	Provider string           `json:"provider"`
	Type     string           `json:"type"`
	Status   Status           `json:"status"`
	Digest   string           `json:"digest,omitempty"`
	Account  *account.Account `json:"account,omitempty"`
}

// State captures the token for persistence.
func (t *Token) State() TokenState {
	st := TokenState{
		Provider: t.providerName,
		Type:     t.Type(),
		Status:   t.status,
	}
	if t.status == AuthenticationSuccessful {
		st.Digest = t.digest
		st.Account = t.account.Clone()
	}
	return st
}

// Restore applies persisted state to a freshly configured token. A token
// persisted while awaiting authentication lost its credentials and restores
// as NoCredentialsGiven.
func (t *Token) Restore(st TokenState) error {
	if st.Provider != t.providerName || st.Type != t.Type() {
		return fmt.Errorf("token state for %s/%s does not fit token %s/%s",
			st.Provider, st.Type, t.providerName, t.Type())
	}
	t.Reset()
	switch st.Status {
	case AuthenticationSuccessful:
		if st.Account == nil {
			return nil
		}
		t.status = AuthenticationSuccessful
		t.digest = st.Digest
		t.account = st.Account
	case WrongCredentials:
		t.status = WrongCredentials
	}
	return nil
}

func (t *Token) String() string {
	return fmt.Sprintf("%s(%s): %s", t.Type(), t.providerName, t.status)
}
