package security

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/rhuss/keystone/pkg/account"
	"github.com/rhuss/keystone/pkg/api"
	"github.com/rhuss/keystone/pkg/authn"
	"github.com/rhuss/keystone/pkg/debug"
	"github.com/rhuss/keystone/pkg/policy"
	"github.com/rhuss/keystone/pkg/session"
)

// Session keys used by the security context.
const (
	sessionKeyTokens      = "keystone.tokens"
	sessionKeyCSRF        = "keystone.csrf"
	sessionKeyIntercepted = "keystone.intercepted"
)

// HashUninitialized is the context hash when no hash can be computed.
const HashUninitialized = "__uninitialized__"

type initState int

const (
	uninitialized initState = iota
	initializing
	initialized
)

var defaultGlobals = NewGlobals()

// Factory holds the long-lived collaborators shared by all contexts.
type Factory struct {
	Manager      *authn.Manager
	Graph        *policy.Graph
	Globals      *Globals
	CSRFStrategy CSRFStrategy
}

// NewContext creates the security context for one request. sess may be nil
// when sessions are not used; r may be nil and set later with SetRequest.
func (f *Factory) NewContext(r *http.Request, sess *session.Handle) *Context {
	globals := f.Globals
	if globals == nil {
		globals = defaultGlobals
	}
	return &Context{
		manager:  f.Manager,
		graph:    f.Graph,
		globals:  globals,
		csrf:     f.CSRFStrategy,
		sessions: sess,
		request:  r,
	}
}

// Context is the security state of one request. It is not safe for
// concurrent use.
type Context struct {
	manager  *authn.Manager
	graph    *policy.Graph
	globals  *Globals
	csrf     CSRFStrategy
	sessions *session.Handle
	request  *http.Request

	state     initState
	tokens    []*authn.Token
	active    []*authn.Token
	persisted map[string][]byte

	// verdict of the last manager pass, valid while verdictSet
	verdictSet    bool
	verdict       bool
	verdictErr    error
	roles         []*policy.Role
	authenticated bool
	hash          string
	requestCSRF   string
}

// SetRequest sets the request the context is initialized from.
func (c *Context) SetRequest(r *http.Request) {
	c.request = r
}

// Request returns the current request.
func (c *Context) Request() *http.Request {
	return c.request
}

// Session returns the session handle, which may be nil.
func (c *Context) Session() *session.Handle {
	return c.sessions
}

// CanBeInitialized reports whether a request is available.
func (c *Context) CanBeInitialized() bool {
	return c.request != nil
}

// IsInitialized reports whether Initialize completed.
func (c *Context) IsInitialized() bool {
	return c.state == initialized
}

// Initialize merges persisted and configured tokens, selects the tokens
// active for the request and updates their credentials. Calling it again
// is a no-op.
func (c *Context) Initialize(ctx context.Context) error {
	if c.state != uninitialized {
		return nil
	}
	if c.request == nil {
		return api.NewConfigurationError("security context", "cannot initialize without a request")
	}
	c.state = initializing

	stored, err := c.loadTokenStates(ctx)
	if err != nil {
		c.state = uninitialized
		return err
	}

	c.tokens = c.manager.Tokens()
	c.persisted = make(map[string][]byte)
	for _, t := range c.tokens {
		if t.Stateless() {
			continue
		}
		raw, ok := stored[t.ProviderName()]
		if !ok {
			continue
		}
		var st authn.TokenState
		if err := json.Unmarshal(raw, &st); err != nil {
			slog.Warn("discarding unreadable token state", "provider", t.ProviderName(), "error", err)
			continue
		}
		if err := t.Restore(st); err != nil {
			debug.Log("authn", "discarding stale token state", "provider", t.ProviderName(), "error", err)
			continue
		}
		c.persisted[t.ProviderName()], _ = json.Marshal(t.State())
	}

	c.active = c.active[:0]
	for _, t := range c.tokens {
		if !IsActive(t, c.request) {
			debug.Log("authn", "token inactive for request", "provider", t.ProviderName(), "path", c.request.URL.Path)
			continue
		}
		t.UpdateCredentials(c.request)
		c.active = append(c.active, t)
	}
	c.state = initialized
	return nil
}

func (c *Context) loadTokenStates(ctx context.Context) (map[string]json.RawMessage, error) {
	states := make(map[string]json.RawMessage)
	if c.sessions == nil {
		return states, nil
	}
	sess, err := c.sessions.Resume(ctx)
	if err != nil || sess == nil {
		return states, err
	}
	if data, ok := sess.Get(sessionKeyTokens); ok {
		if err := json.Unmarshal(data, &states); err != nil {
			slog.Warn("discarding unreadable session tokens", "session", sess.ID(), "error", err)
			return make(map[string]json.RawMessage), nil
		}
	}
	return states, nil
}

// AuthenticationTokens returns the tokens active for the request.
func (c *Context) AuthenticationTokens(ctx context.Context) ([]*authn.Token, error) {
	if err := c.Initialize(ctx); err != nil {
		return nil, err
	}
	return c.active, nil
}

// AuthenticationTokensOfType returns the active tokens of one type.
func (c *Context) AuthenticationTokensOfType(ctx context.Context, tokenType string) ([]*authn.Token, error) {
	tokens, err := c.AuthenticationTokens(ctx)
	if err != nil {
		return nil, err
	}
	var out []*authn.Token
	for _, t := range tokens {
		if t.Type() == tokenType {
			out = append(out, t)
		}
	}
	return out, nil
}

// Authenticate runs the authentication manager over the active tokens and
// refreshes the roles from its verdict.
func (c *Context) Authenticate(ctx context.Context) error {
	if err := c.Initialize(ctx); err != nil {
		return err
	}
	c.RefreshRoles()
	c.verdictSet = false
	_, err := c.authenticate(ctx)
	return err
}

// authenticate returns the manager verdict, running the manager at most
// once until the verdict is reset.
func (c *Context) authenticate(ctx context.Context) (bool, error) {
	if c.verdictSet {
		return c.verdict, c.verdictErr
	}
	var (
		ok  bool
		err error
	)
	if len(c.active) == 0 {
		err = api.NewAuthenticationRequiredError("no_active_tokens",
			"no authentication token is active for this request")
	} else {
		ok, err = c.manager.Authenticate(ctx, c.active, c.sessions)
	}
	if errors.Is(err, api.ErrAuthenticationRequired) {
		ok = false
	}
	c.setVerdict(ok, err)
	return ok, err
}

func (c *Context) setVerdict(ok bool, err error) {
	c.verdictSet = true
	c.verdict = ok
	c.verdictErr = err
}

// RefreshRoles drops the memoized roles and context hash.
func (c *Context) RefreshRoles() {
	c.roles = nil
	c.authenticated = false
	c.hash = ""
}

// Roles returns the roles of the current request: Everybody, then
// Anonymous or AuthenticatedUser plus the account roles with all their
// parents. Tokens are authenticated lazily; failing authentication is
// not an error here and yields the anonymous roles.
func (c *Context) Roles(ctx context.Context) ([]*policy.Role, error) {
	if c.roles != nil {
		return c.roles, nil
	}
	if err := c.Initialize(ctx); err != nil {
		return nil, err
	}
	authenticated, err := c.authenticate(ctx)
	if err != nil && !errors.Is(err, api.ErrAuthenticationRequired) {
		return nil, err
	}

	var assigned []*policy.Role
	if authenticated {
		for _, t := range c.active {
			if t.IsAuthenticated() {
				assigned = append(assigned, t.Account().Roles(c.graph)...)
			}
		}
	}

	everybody, err := c.graph.Role(policy.Everybody)
	if err != nil {
		return nil, err
	}
	seed := []*policy.Role{everybody}
	if authenticated {
		user, err := c.graph.Role(policy.AuthenticatedUser)
		if err != nil {
			return nil, err
		}
		seed = append(seed, user)
		seed = append(seed, assigned...)
	} else {
		anonymous, err := c.graph.Role(policy.Anonymous)
		if err != nil {
			return nil, err
		}
		seed = append(seed, anonymous)
	}

	c.roles = c.graph.Closure(seed...)
	c.authenticated = authenticated
	debug.Log("authz", "roles computed", "roles", RoleIDs(c.roles))
	return c.roles, nil
}

// RoleIDs returns the identifiers of roles.
func RoleIDs(roles []*policy.Role) []string {
	ids := make([]string, len(roles))
	for i, r := range roles {
		ids[i] = r.ID
	}
	return ids
}

// HasRole reports whether the current request has the role, directly or
// through a parent.
func (c *Context) HasRole(ctx context.Context, id string) (bool, error) {
	if id == policy.Everybody {
		return true, nil
	}
	roles, err := c.Roles(ctx)
	if err != nil {
		return false, err
	}
	switch id {
	case policy.Anonymous:
		return !c.authenticated, nil
	case policy.AuthenticatedUser:
		return c.authenticated, nil
	}
	return slices.ContainsFunc(roles, func(r *policy.Role) bool { return r.ID == id }), nil
}

// IsAuthenticated reports whether the authentication manager accepted the
// active tokens under its strategy.
func (c *Context) IsAuthenticated(ctx context.Context) (bool, error) {
	if _, err := c.Roles(ctx); err != nil {
		return false, err
	}
	return c.authenticated, nil
}

// Account returns the account of the first authenticated active token, or
// nil when the request is not authenticated.
func (c *Context) Account(ctx context.Context) (*account.Account, error) {
	if _, err := c.Roles(ctx); err != nil || !c.authenticated {
		return nil, err
	}
	for _, t := range c.active {
		if t.IsAuthenticated() {
			return t.Account(), nil
		}
	}
	return nil, nil
}

// AccountByProviderName returns the account authenticated by the named
// provider, or nil when the request is not authenticated.
func (c *Context) AccountByProviderName(ctx context.Context, providerName string) (*account.Account, error) {
	if _, err := c.Roles(ctx); err != nil || !c.authenticated {
		return nil, err
	}
	for _, t := range c.active {
		if t.ProviderName() == providerName && t.IsAuthenticated() {
			return t.Account(), nil
		}
	}
	return nil, nil
}

// Logout resets every token and destroys the session if the request is
// authenticated.
func (c *Context) Logout(ctx context.Context) error {
	authenticated, err := c.IsAuthenticated(ctx)
	if err != nil || !authenticated {
		return err
	}
	if err := c.manager.Logout(ctx, c.tokens, c.sessions); err != nil {
		return err
	}
	c.persisted = make(map[string][]byte)
	c.requestCSRF = ""
	c.RefreshRoles()
	c.setVerdict(false, nil)
	return nil
}

// Clear returns the context to its uninitialized state.
func (c *Context) Clear() {
	c.state = uninitialized
	c.tokens = nil
	c.active = nil
	c.persisted = nil
	c.requestCSRF = ""
	c.verdictSet = false
	c.RefreshRoles()
}

// Persist writes changed session token state back to the session. Only
// the providers whose state changed in this request are overwritten, so
// concurrent requests of the same session do not lose each other's updates.
// Session tokens of providers that are no longer configured are dropped.
func (c *Context) Persist(ctx context.Context) error {
	if c.state != initialized || c.sessions == nil {
		return nil
	}
	sess := c.sessions.Current()
	if sess == nil {
		return nil
	}

	configured := make(map[string]bool, len(c.tokens))
	changed := make(map[string]json.RawMessage)
	for _, t := range c.tokens {
		if t.Stateless() {
			continue
		}
		configured[t.ProviderName()] = true
		data, err := json.Marshal(t.State())
		if err != nil {
			return fmt.Errorf("encoding token state: %w", err)
		}
		if !bytes.Equal(data, c.persisted[t.ProviderName()]) {
			changed[t.ProviderName()] = data
		}
	}
	if len(changed) == 0 {
		return nil
	}

	err := sess.Modify(sessionKeyTokens, func(old []byte) ([]byte, error) {
		states := make(map[string]json.RawMessage)
		if len(old) > 0 {
			if err := json.Unmarshal(old, &states); err != nil {
				slog.Warn("overwriting unreadable session tokens", "session", sess.ID(), "error", err)
				states = make(map[string]json.RawMessage)
			}
		}
		for provider := range states {
			if !configured[provider] {
				delete(states, provider)
			}
		}
		for provider, data := range changed {
			states[provider] = data
		}
		return json.Marshal(states)
	})
	if err != nil {
		return fmt.Errorf("persisting session tokens: %w", err)
	}
	for provider, data := range changed {
		c.persisted[provider] = data
	}
	debug.Log("session", "token state persisted", "session", sess.ID(), "providers", len(changed))
	return nil
}

// ContextHash identifies the authorization state of the request: the
// current roles plus every cache-aware global object.
func (c *Context) ContextHash(ctx context.Context) string {
	if AuthorizationChecksDisabled(ctx) || !c.CanBeInitialized() {
		return HashUninitialized
	}
	if c.hash != "" {
		return c.hash
	}
	roles, err := c.Roles(ctx)
	if err != nil {
		slog.Warn("cannot compute context hash", "error", err)
		return HashUninitialized
	}

	ids := RoleIDs(roles)
	slices.Sort(ids)
	parts := []string{strings.Join(ids, "|")}

	suspended := SuspendAuthorization(ctx)
	for _, name := range c.globals.Names() {
		obj, err := c.globals.resolve(suspended, c, name)
		if err != nil {
			slog.Warn("cannot resolve global object for context hash", "name", name, "error", err)
			continue
		}
		if ca, ok := obj.(CacheAware); ok {
			parts = append(parts, name+"<"+ca.CacheEntryIdentifier()+">")
		}
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	c.hash = hex.EncodeToString(sum[:])
	return c.hash
}

// Global resolves a registered global object.
func (c *Context) Global(ctx context.Context, name string) (any, error) {
	return c.globals.resolve(ctx, c, name)
}

// CSRFProtectionToken returns a token for the configured strategy and
// remembers it in the session.
func (c *Context) CSRFProtectionToken(ctx context.Context) (string, error) {
	if c.csrf == OnePerRequest && c.requestCSRF != "" {
		return c.requestCSRF, nil
	}
	if c.sessions == nil {
		return "", api.NewConfigurationError("security context", "CSRF protection requires sessions")
	}
	sess, err := c.sessions.Start(ctx)
	if err != nil {
		return "", err
	}

	var token string
	err = sess.Modify(sessionKeyCSRF, func(old []byte) ([]byte, error) {
		var tokens csrfTokens
		if len(old) > 0 {
			if err := json.Unmarshal(old, &tokens); err != nil {
				tokens = nil
			}
		}
		if c.csrf == OnePerSession && len(tokens) > 0 {
			token = tokens[0]
			return old, nil
		}
		token = api.NewCSRFToken()
		return json.Marshal(tokens.add(token))
	})
	if err != nil {
		return "", fmt.Errorf("storing csrf token: %w", err)
	}
	if c.csrf == OnePerRequest {
		c.requestCSRF = token
	}
	return token, nil
}

// IsCSRFProtectionTokenValid reports whether token was issued for this
// session. With OnePerURI a valid token is consumed.
func (c *Context) IsCSRFProtectionTokenValid(ctx context.Context, token string) (bool, error) {
	if !api.ValidateCSRFToken(token) || c.sessions == nil {
		return false, nil
	}
	sess, err := c.sessions.Resume(ctx)
	if err != nil || sess == nil {
		return false, err
	}

	valid := false
	err = sess.Modify(sessionKeyCSRF, func(old []byte) ([]byte, error) {
		var tokens csrfTokens
		if len(old) == 0 || json.Unmarshal(old, &tokens) != nil {
			return old, nil
		}
		valid = slices.Contains(tokens, token)
		if !valid || c.csrf != OnePerURI {
			return old, nil
		}
		return json.Marshal(tokens.remove(token))
	})
	if err != nil {
		return false, fmt.Errorf("checking csrf token: %w", err)
	}
	return valid, nil
}

// InterceptedRequest is the request to resume after a successful login.
type InterceptedRequest struct {
	Method string `json:"method"`
	URI    string `json:"uri"`
}

// SetInterceptedRequest remembers r for redirect after login. A nil r
// forgets it.
func (c *Context) SetInterceptedRequest(ctx context.Context, r *http.Request) error {
	if c.sessions == nil {
		return nil
	}
	if r == nil {
		sess, err := c.sessions.Resume(ctx)
		if err != nil || sess == nil {
			return err
		}
		sess.Remove(sessionKeyIntercepted)
		return nil
	}
	sess, err := c.sessions.Start(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(InterceptedRequest{Method: r.Method, URI: r.URL.RequestURI()})
	if err != nil {
		return err
	}
	sess.Put(sessionKeyIntercepted, data)
	return nil
}

// InterceptedRequest returns the remembered request, or nil.
func (c *Context) InterceptedRequest(ctx context.Context) (*InterceptedRequest, error) {
	if c.sessions == nil {
		return nil, nil
	}
	sess, err := c.sessions.Resume(ctx)
	if err != nil || sess == nil {
		return nil, err
	}
	data, ok := sess.Get(sessionKeyIntercepted)
	if !ok {
		return nil, nil
	}
	var ir InterceptedRequest
	if err := json.Unmarshal(data, &ir); err != nil {
		return nil, fmt.Errorf("decoding intercepted request: %w", err)
	}
	return &ir, nil
}

// PropertyView exposes the context to property paths such as
// "account.identifier".
type PropertyView struct {
	ctx context.Context
	sc  *Context
}

// View binds the context to ctx for property reads.
func (c *Context) View(ctx context.Context) PropertyView {
	return PropertyView{ctx: ctx, sc: c}
}

// ReadProperty supports "account", "roles" and "authenticated".
func (v PropertyView) ReadProperty(name string) (any, bool) {
	switch name {
	case "account":
		acc, err := v.sc.Account(v.ctx)
		if err != nil {
			slog.Warn("reading security context account", "error", err)
		}
		if acc == nil {
			return nil, true
		}
		return acc, true
	case "roles":
		roles, err := v.sc.Roles(v.ctx)
		if err != nil {
			return nil, true
		}
		return RoleIDs(roles), true
	case "authenticated":
		ok, _ := v.sc.IsAuthenticated(v.ctx)
		return ok, true
	}
	return nil, false
}
