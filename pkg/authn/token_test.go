package authn

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rhuss/keystone/pkg/account"
)

func bearerRequest(token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func formRequest(username, password string) *http.Request {
	form := url.Values{"username": {username}, "password": {password}}
	r := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{NoCredentialsGiven, "NO_CREDENTIALS_GIVEN"},
		{AuthenticationNeeded, "AUTHENTICATION_NEEDED"},
		{WrongCredentials, "WRONG_CREDENTIALS"},
		{AuthenticationSuccessful, "AUTHENTICATION_SUCCESSFUL"},
		{Status(42), "Status(42)"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{NoCredentialsGiven, AuthenticationNeeded, true},
		{AuthenticationNeeded, AuthenticationSuccessful, true},
		{AuthenticationNeeded, WrongCredentials, true},
		{AuthenticationSuccessful, NoCredentialsGiven, true},
		{NoCredentialsGiven, AuthenticationSuccessful, false},
		{WrongCredentials, AuthenticationSuccessful, false},
		{AuthenticationSuccessful, WrongCredentials, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if (err == nil) != tt.ok {
				t.Errorf("ValidateTransition() error = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestTokenUpdateCredentials(t *testing.T) {
	tok := NewToken("Default", Bearer{})
	if tok.Status() != NoCredentialsGiven {
		t.Fatalf("initial status = %s", tok.Status())
	}

	if !tok.UpdateCredentials(bearerRequest("abc")) {
		t.Error("UpdateCredentials with new token reported no change")
	}
	if tok.Status() != AuthenticationNeeded {
		t.Errorf("status = %s, want AUTHENTICATION_NEEDED", tok.Status())
	}
	if got := tok.Credentials()["token"]; got != "abc" {
		t.Errorf("credentials token = %q, want %q", got, "abc")
	}

	tok.UpdateCredentials(bearerRequest(""))
	if tok.Status() != NoCredentialsGiven {
		t.Errorf("status after absent header = %s, want NO_CREDENTIALS_GIVEN", tok.Status())
	}
	if tok.Credentials() != nil {
		t.Errorf("credentials after absent header = %v, want nil", tok.Credentials())
	}
}

func TestTokenIdempotentCredentials(t *testing.T) {
	tok := NewToken("Default", Bearer{})
	tok.UpdateCredentials(bearerRequest("abc"))
	acc := account.New("alice", "Default", time.Now())
	if err := tok.Authenticated(acc); err != nil {
		t.Fatalf("Authenticated() error = %v", err)
	}

	if tok.UpdateCredentials(bearerRequest("abc")) {
		t.Error("re-presenting identical credentials changed the token")
	}
	if !tok.IsAuthenticated() || tok.Account() != acc {
		t.Error("identical credentials dropped the authenticated account")
	}

	tok.UpdateCredentials(bearerRequest("other"))
	if tok.Status() != AuthenticationNeeded {
		t.Errorf("status after new credentials = %s, want AUTHENTICATION_NEEDED", tok.Status())
	}
	if tok.Account() != nil {
		t.Error("new credentials kept the previous account")
	}
}

func TestTokenOnlySuccessBindsAccount(t *testing.T) {
	tok := NewToken("Default", Bearer{})
	if err := tok.Authenticated(account.New("alice", "Default", time.Now())); err == nil {
		t.Error("Authenticated() without credentials succeeded")
	}
	tok.UpdateCredentials(bearerRequest("abc"))
	if err := tok.Rejected(); err != nil {
		t.Fatalf("Rejected() error = %v", err)
	}
	if tok.Account() != nil {
		t.Error("rejected token has an account")
	}
	if err := tok.Authenticated(nil); err == nil {
		t.Error("Authenticated(nil) succeeded")
	}
}

func TestUsernamePasswordKind(t *testing.T) {
	tok := NewToken("Default", UsernamePassword{})

	tok.UpdateCredentials(formRequest("alice", "secret"))
	if tok.Status() != AuthenticationNeeded {
		t.Fatalf("status = %s, want AUTHENTICATION_NEEDED", tok.Status())
	}
	creds := tok.Credentials()
	if creds["username"] != "alice" || creds["password"] != "secret" {
		t.Errorf("credentials = %v", creds)
	}

	// Requests that do not post the form leave a session token alone.
	tok.UpdateCredentials(httptest.NewRequest(http.MethodGet, "/", nil))
	if tok.Status() != AuthenticationNeeded {
		t.Errorf("status after GET = %s, want AUTHENTICATION_NEEDED", tok.Status())
	}
	if tok.Stateless() {
		t.Error("UsernamePassword token is stateless")
	}
}

func TestHeaderKinds(t *testing.T) {
	basic := httptest.NewRequest(http.MethodGet, "/", nil)
	basic.SetBasicAuth("alice", "secret")
	apiKey := httptest.NewRequest(http.MethodGet, "/", nil)
	apiKey.Header.Set("X-API-Key", "k-1")
	custom := httptest.NewRequest(http.MethodGet, "/", nil)
	custom.Header.Set("X-Token", "k-2")

	tests := []struct {
		name string
		kind Kind
		req  *http.Request
		key  string
		want string
	}{
		{"basic", HTTPBasic{}, basic, "username", "alice"},
		{"bearer", Bearer{}, bearerRequest("tok"), "token", "tok"},
		{"api key", APIKey{}, apiKey, "key", "k-1"},
		{"api key custom header", APIKey{Header: "X-Token"}, custom, "key", "k-2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creds, presence := tt.kind.Extract(tt.req)
			if presence != Present {
				t.Fatalf("presence = %d, want Present", presence)
			}
			if creds[tt.key] != tt.want {
				t.Errorf("credentials[%s] = %q, want %q", tt.key, creds[tt.key], tt.want)
			}
			if !tt.kind.Stateless() {
				t.Error("header token is not stateless")
			}
			if _, presence := tt.kind.Extract(httptest.NewRequest(http.MethodGet, "/", nil)); presence != Absent {
				t.Errorf("presence without header = %d, want Absent", presence)
			}
		})
	}
}

func TestTokenStateRoundTrip(t *testing.T) {
	tok := NewToken("Default", UsernamePassword{})
	tok.UpdateCredentials(formRequest("alice", "secret"))
	acc := account.New("alice", "Default", time.Now())
	acc.RoleIDs = []string{"Acme.Blog:Editor"}
	acc.CredentialsSource = "bcrypt-hash"
	if err := tok.Authenticated(acc); err != nil {
		t.Fatal(err)
	}

	data, err := json.Marshal(tok.State())
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "secret") || strings.Contains(string(data), "bcrypt-hash") {
		t.Errorf("persisted state leaks secrets: %s", data)
	}

	var st TokenState
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatal(err)
	}
	restored := NewToken("Default", UsernamePassword{})
	if err := restored.Restore(st); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if !restored.IsAuthenticated() {
		t.Fatalf("restored status = %s", restored.Status())
	}
	if restored.Account().Identifier != "alice" || !restored.Account().HasRole("Acme.Blog:Editor") {
		t.Errorf("restored account = %+v", restored.Account())
	}

	// Same login posted again stays authenticated without a provider.
	if restored.UpdateCredentials(formRequest("alice", "secret")) {
		t.Error("re-posting identical credentials changed the restored token")
	}

	if err := NewToken("Other", UsernamePassword{}).Restore(st); err == nil {
		t.Error("Restore() into a token of another provider succeeded")
	}
}

func TestRestoreNeededFallsBack(t *testing.T) {
	tok := NewToken("Default", UsernamePassword{})
	err := tok.Restore(TokenState{Provider: "Default", Type: TypeUsernamePassword, Status: AuthenticationNeeded})
	if err != nil {
		t.Fatal(err)
	}
	if tok.Status() != NoCredentialsGiven {
		t.Errorf("status = %s, want NO_CREDENTIALS_GIVEN", tok.Status())
	}
}
