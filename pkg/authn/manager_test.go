package authn

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rhuss/keystone/pkg/account"
	"github.com/rhuss/keystone/pkg/api"
	"github.com/rhuss/keystone/pkg/session"
)

// fakeProvider accepts the credential values it knows.
type fakeProvider struct {
	name   string
	types  []string
	accept map[string]string // token or username -> account identifier
	err    error
	calls  int
}

func (p *fakeProvider) Name() string         { return p.name }
func (p *fakeProvider) TokenTypes() []string { return p.types }

func (p *fakeProvider) Authenticate(_ context.Context, t *Token) error {
	p.calls++
	if p.err != nil {
		return p.err
	}
	creds := t.Credentials()
	value := creds["token"]
	if value == "" {
		value = creds["username"]
	}
	if id, ok := p.accept[value]; ok {
		return t.Authenticated(account.New(id, p.name, time.Now()))
	}
	return t.Rejected()
}

func newFake(name string, accept map[string]string) *fakeProvider {
	return &fakeProvider{
		name:   name,
		types:  []string{TypeBearer, TypeUsernamePassword},
		accept: accept,
	}
}

// presented returns a bearer token for provider that carries value.
func presented(provider, value string) *Token {
	tok := NewToken(provider, Bearer{})
	tok.UpdateCredentials(bearerRequest(value))
	return tok
}

func newTestManager(t *testing.T, strategy Strategy, providers ...*fakeProvider) *Manager {
	t.Helper()
	var ps []Provider
	var specs []TokenSpec
	for _, p := range providers {
		ps = append(ps, p)
		specs = append(specs, TokenSpec{ProviderName: p.name, Kind: Bearer{}})
	}
	m, err := NewManager(strategy, ps, specs)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m
}

func TestAllTokens(t *testing.T) {
	a := newFake("A", map[string]string{"a": "alice"})
	b := newFake("B", map[string]string{"b": "bob"})
	m := newTestManager(t, AllTokens, a, b)

	t.Run("all succeed", func(t *testing.T) {
		ok, err := m.Authenticate(context.Background(), []*Token{presented("A", "a"), presented("B", "b")}, nil)
		if err != nil || !ok {
			t.Errorf("Authenticate() = %v, %v, want true, nil", ok, err)
		}
	})

	t.Run("one fails", func(t *testing.T) {
		ok, err := m.Authenticate(context.Background(), []*Token{presented("A", "a"), presented("B", "wrong")}, nil)
		if ok {
			t.Error("Authenticate() = true, want false")
		}
		if !errors.Is(err, api.ErrAuthenticationRequired) {
			t.Errorf("error = %v, want authentication required", err)
		}
	})

	t.Run("one without credentials", func(t *testing.T) {
		_, err := m.Authenticate(context.Background(), []*Token{presented("A", "a"), NewToken("B", Bearer{})}, nil)
		if !errors.Is(err, api.ErrAuthenticationRequired) {
			t.Errorf("error = %v, want authentication required", err)
		}
	})
}

func TestOneTokenStopsAtFirstSuccess(t *testing.T) {
	a := newFake("A", nil)
	b := newFake("B", map[string]string{"b": "bob"})
	c := newFake("C", map[string]string{"c": "carol"})
	m := newTestManager(t, OneToken, a, b, c)

	tokens := []*Token{presented("A", "x"), presented("B", "b"), presented("C", "c")}
	ok, err := m.Authenticate(context.Background(), tokens, nil)
	if err != nil || !ok {
		t.Fatalf("Authenticate() = %v, %v, want true, nil", ok, err)
	}
	if a.calls != 1 || b.calls != 1 {
		t.Errorf("calls A=%d B=%d, want 1 each", a.calls, b.calls)
	}
	if c.calls != 0 {
		t.Errorf("provider C called %d times after B succeeded", c.calls)
	}
	if tokens[0].Status() != WrongCredentials {
		t.Errorf("token A status = %s, want WRONG_CREDENTIALS", tokens[0].Status())
	}
	if tokens[2].Status() != AuthenticationNeeded {
		t.Errorf("token C status = %s, want AUTHENTICATION_NEEDED", tokens[2].Status())
	}
}

func TestAtLeastOneAndAnyToken(t *testing.T) {
	a := newFake("A", nil)
	b := newFake("B", map[string]string{"b": "bob"})

	t.Run("at least one, one succeeds", func(t *testing.T) {
		m := newTestManager(t, AtLeastOneToken, a, b)
		ok, err := m.Authenticate(context.Background(), []*Token{presented("A", "x"), presented("B", "b")}, nil)
		if err != nil || !ok {
			t.Errorf("Authenticate() = %v, %v, want true, nil", ok, err)
		}
	})

	t.Run("at least one, none succeeds", func(t *testing.T) {
		m := newTestManager(t, AtLeastOneToken, a, b)
		_, err := m.Authenticate(context.Background(), []*Token{presented("A", "x"), NewToken("B", Bearer{})}, nil)
		apiErr := api.AsError(err)
		if !errors.Is(err, api.ErrAuthenticationRequired) || apiErr.Code != "no_token_authenticated" {
			t.Errorf("error = %v, want no_token_authenticated", err)
		}
	})

	t.Run("any token, none succeeds", func(t *testing.T) {
		m := newTestManager(t, AnyToken, a, b)
		ok, err := m.Authenticate(context.Background(), []*Token{presented("A", "x")}, nil)
		if err != nil || ok {
			t.Errorf("Authenticate() = %v, %v, want false, nil", ok, err)
		}
	})
}

func TestAuthenticateIdempotent(t *testing.T) {
	a := newFake("A", map[string]string{"a": "alice"})
	m := newTestManager(t, AtLeastOneToken, a)

	tok := presented("A", "a")
	for i := 0; i < 3; i++ {
		ok, err := m.Authenticate(context.Background(), []*Token{tok}, nil)
		if err != nil || !ok {
			t.Fatalf("pass %d: Authenticate() = %v, %v", i, ok, err)
		}
		tok.UpdateCredentials(bearerRequest("a"))
	}
	if a.calls != 1 {
		t.Errorf("provider called %d times, want 1", a.calls)
	}
}

func TestAuthenticateErrors(t *testing.T) {
	a := newFake("A", nil)
	m := newTestManager(t, AtLeastOneToken, a)

	if _, err := m.Authenticate(context.Background(), nil, nil); !errors.Is(err, api.ErrConfiguration) {
		t.Errorf("no tokens: error = %v, want configuration error", err)
	}

	boom := errors.New("store down")
	a.err = boom
	_, err := m.Authenticate(context.Background(), []*Token{presented("A", "a")}, nil)
	if !errors.Is(err, boom) {
		t.Errorf("provider failure: error = %v, want %v", err, boom)
	}
}

func TestAuthenticateBindsSession(t *testing.T) {
	p := newFake("Default", map[string]string{"alice": "alice"})
	m, err := NewManager(OneToken, []Provider{p}, []TokenSpec{{ProviderName: "Default", Kind: UsernamePassword{}}})
	if err != nil {
		t.Fatal(err)
	}
	store := session.NewMemoryStore(time.Hour)
	handle := session.NewHandle(store, "")

	var notified []string
	m.OnAuthenticated(func(_ context.Context, t *Token) {
		notified = append(notified, t.Account().Identifier)
	})

	tokens := m.Tokens()
	tokens[0].UpdateCredentials(formRequest("alice", "secret"))
	if _, err := m.Authenticate(context.Background(), tokens, handle); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if !handle.IsStarted() {
		t.Fatal("no session started for a session token")
	}
	if !handle.Current().HasTag(session.AccountTag("alice")) {
		t.Errorf("session tags = %v, want account tag", handle.Current().Tags())
	}
	if len(notified) != 1 || notified[0] != "alice" {
		t.Errorf("listener notified = %v, want [alice]", notified)
	}

	t.Run("stateless token starts no session", func(t *testing.T) {
		b := newFake("Api", map[string]string{"k": "svc"})
		m := newTestManager(t, OneToken, b)
		h := session.NewHandle(store, "")
		if _, err := m.Authenticate(context.Background(), []*Token{presented("Api", "k")}, h); err != nil {
			t.Fatal(err)
		}
		if h.IsStarted() {
			t.Error("stateless token started a session")
		}
	})

	t.Run("logout", func(t *testing.T) {
		var loggedOut int
		m.OnLoggedOut(func(_ context.Context, tokens []*Token) { loggedOut = len(tokens) })
		id := handle.ID()
		if err := m.Logout(context.Background(), tokens, handle); err != nil {
			t.Fatalf("Logout() error = %v", err)
		}
		if tokens[0].Status() != NoCredentialsGiven || tokens[0].Account() != nil {
			t.Errorf("token after logout = %s", tokens[0])
		}
		if loggedOut != 1 {
			t.Errorf("logged-out listener saw %d tokens, want 1", loggedOut)
		}
		if _, err := store.Get(context.Background(), id); !errors.Is(err, session.ErrNotFound) {
			t.Errorf("session after logout: error = %v, want ErrNotFound", err)
		}
	})
}

func TestNewManagerValidation(t *testing.T) {
	a := newFake("A", nil)
	tests := []struct {
		name      string
		providers []Provider
		specs     []TokenSpec
	}{
		{"no tokens", []Provider{a}, nil},
		{"unknown provider", []Provider{a}, []TokenSpec{{ProviderName: "B", Kind: Bearer{}}}},
		{"unsupported type", []Provider{a}, []TokenSpec{{ProviderName: "A", Kind: APIKey{}}}},
		{"duplicate provider", []Provider{a, a}, []TokenSpec{{ProviderName: "A", Kind: Bearer{}}}},
		{"missing kind", []Provider{a}, []TokenSpec{{ProviderName: "A"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManager(AtLeastOneToken, tt.providers, tt.specs)
			if !errors.Is(err, api.ErrConfiguration) {
				t.Errorf("NewManager() error = %v, want configuration error", err)
			}
		})
	}
}

func TestParseStrategy(t *testing.T) {
	for _, s := range []Strategy{AnyToken, OneToken, AllTokens, AtLeastOneToken} {
		got, err := ParseStrategy(s.String())
		if err != nil || got != s {
			t.Errorf("ParseStrategy(%q) = %v, %v", s.String(), got, err)
		}
	}
	if _, err := ParseStrategy("everyToken"); err == nil {
		t.Error("ParseStrategy(everyToken) succeeded")
	}
}

func TestEntryPoints(t *testing.T) {
	cause := api.NewAuthenticationRequiredError("no_token_authenticated", "login first")

	t.Run("basic", func(t *testing.T) {
		w := httptest.NewRecorder()
		HTTPBasicEntryPoint{Realm: "keystone"}.StartAuthentication(w, httptest.NewRequest(http.MethodGet, "/", nil), cause)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
		if got := w.Header().Get("WWW-Authenticate"); got != `Basic realm="keystone"` {
			t.Errorf("WWW-Authenticate = %q", got)
		}
	})

	t.Run("redirect", func(t *testing.T) {
		w := httptest.NewRecorder()
		WebRedirectEntryPoint{URI: "/login"}.StartAuthentication(w, httptest.NewRequest(http.MethodGet, "/admin", nil), cause)
		if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/login" {
			t.Errorf("status = %d location = %q", w.Code, w.Header().Get("Location"))
		}
	})

	t.Run("unauthorized", func(t *testing.T) {
		w := httptest.NewRecorder()
		UnauthorizedEntryPoint{}.StartAuthentication(w, httptest.NewRequest(http.MethodGet, "/", nil), cause)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
		if got := w.Body.String(); !strings.Contains(got, "no_token_authenticated") {
			t.Errorf("body = %s", got)
		}
	})
}
