package authz

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rhuss/keystone/pkg/api"
	"github.com/rhuss/keystone/pkg/authn"
	"github.com/rhuss/keystone/pkg/authn/apikey"
	"github.com/rhuss/keystone/pkg/policy"
	"github.com/rhuss/keystone/pkg/security"
)

const testPolicy = `
privilegeTargets:
  MethodPrivilege:
    'Blog:ReadPosts':
      matcher: 'blog\.PostService->(List|Show)'
    'Blog:PublishPosts':
      matcher: 'blog\.PostService->Publish'
    'Blog:DeletePosts':
      matcher: 'blog\.PostService->Delete'
    'Blog:ManageSection':
      matcher: 'blog\.SectionService->{parameters.action}'
      parameters:
        action: {}
roles:
  'Keystone:Everybody':
    privileges:
      - privilegeTarget: 'Blog:ReadPosts'
        permission: GRANT
  'Blog:Author':
    privileges:
      - privilegeTarget: 'Blog:ManageSection'
        permission: GRANT
        parameters:
          action: Rename
  'Blog:Editor':
    parentRoles: ['Blog:Author']
    privileges:
      - privilegeTarget: 'Blog:PublishPosts'
        permission: GRANT
  'Blog:Spammer':
    privileges:
      - privilegeTarget: 'Blog:PublishPosts'
        permission: DENY
`

func testGraph(t *testing.T) *policy.Graph {
	t.Helper()
	g, err := policy.Parse([]byte(testPolicy), policy.DefaultTypes())
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func rolesOf(t *testing.T, g *policy.Graph, ids ...string) []*policy.Role {
	t.Helper()
	roles, unknown := g.Resolve(append([]string{policy.Everybody}, ids...))
	if len(unknown) > 0 {
		t.Fatalf("unknown roles %v", unknown)
	}
	return g.Closure(roles...)
}

func method(typ, name string) policy.MethodSubject {
	return policy.MethodSubject{Type: typ, Method: name}
}

func TestIsGrantedForRoles(t *testing.T) {
	g := testGraph(t)
	anonymous := rolesOf(t, g, policy.Anonymous)
	editor := rolesOf(t, g, policy.AuthenticatedUser, "Blog:Editor")
	spammingEditor := rolesOf(t, g, policy.AuthenticatedUser, "Blog:Editor", "Blog:Spammer")

	tests := []struct {
		name    string
		roles   []*policy.Role
		subject policy.MethodSubject
		abstain bool
		want    bool
	}{
		{"everybody grant", anonymous, method("blog.PostService", "List"), false, true},
		{"no privilege of type matches", anonymous, method("shop.CartService", "Add"), false, true},
		{"configured target without vote", anonymous, method("blog.PostService", "Publish"), false, false},
		{"configured target, allow if all abstain", anonymous, method("blog.PostService", "Publish"), true, true},
		{"editor grant", editor, method("blog.PostService", "Publish"), false, true},
		{"deny wins", spammingEditor, method("blog.PostService", "Publish"), false, false},
		{"deny wins over allow if all abstain", spammingEditor, method("blog.PostService", "Publish"), true, false},
		{"inherited parameterized grant", editor, method("blog.SectionService", "Rename"), false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewManager(tt.abstain).IsGrantedForRoles(tt.roles, policy.MethodPrivilegeType, tt.subject)
			if err != nil {
				t.Fatalf("IsGrantedForRoles() error = %v", err)
			}
			if d.Granted != tt.want {
				t.Errorf("Granted = %v, want %v\n%s", d.Granted, tt.want, d.Reason)
			}
		})
	}
}

func TestDecisionReason(t *testing.T) {
	g := testGraph(t)
	editor := rolesOf(t, g, policy.AuthenticatedUser, "Blog:Editor")

	d, err := NewManager(false).IsGrantedForRoles(editor, policy.MethodPrivilegeType, method("blog.PostService", "Publish"))
	if err != nil {
		t.Fatal(err)
	}
	if d.Tally != (Tally{Granted: 1, Abstained: 1}) {
		t.Errorf("Tally = %+v, want 1 granted 1 abstained", d.Tally)
	}
	for _, want := range []string{
		"Evaluated following 2 privilege target(s):",
		`"Blog:PublishPosts": GRANT`,
		`"Blog:PublishPosts": ABSTAIN`,
		"(1 granted, 0 denied, 1 abstained)",
	} {
		if !strings.Contains(d.Reason, want) {
			t.Errorf("Reason missing %q:\n%s", want, d.Reason)
		}
	}

	d, _ = NewManager(false).IsGrantedForRoles(editor, policy.MethodPrivilegeType, method("shop.CartService", "Add"))
	if !strings.Contains(d.Reason, "No privilege") {
		t.Errorf("fail-open reason = %q", d.Reason)
	}
}

func TestIsPrivilegeTargetGrantedForRoles(t *testing.T) {
	g := testGraph(t)
	anonymous := rolesOf(t, g, policy.Anonymous)
	editor := rolesOf(t, g, policy.AuthenticatedUser, "Blog:Editor")
	spammingEditor := rolesOf(t, g, policy.AuthenticatedUser, "Blog:Editor", "Blog:Spammer")
	rename := policy.Parameter{Name: "action", Value: "Rename"}
	remove := policy.Parameter{Name: "action", Value: "Remove"}

	tests := []struct {
		name    string
		roles   []*policy.Role
		target  string
		params  []policy.Parameter
		abstain bool
		want    bool
	}{
		{"grant", editor, "Blog:PublishPosts", nil, false, true},
		{"deny wins", spammingEditor, "Blog:PublishPosts", nil, false, false},
		{"abstain only", anonymous, "Blog:DeletePosts", nil, false, false},
		{"abstain only, allow if all abstain", anonymous, "Blog:DeletePosts", nil, true, true},
		{"not found", anonymous, "Blog:Unknown", nil, true, false},
		{"parameters match", editor, "Blog:ManageSection", []policy.Parameter{rename}, false, true},
		{"parameters differ", editor, "Blog:ManageSection", []policy.Parameter{remove}, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewManager(tt.abstain).IsPrivilegeTargetGrantedForRoles(tt.roles, tt.target, tt.params...)
			if d.Granted != tt.want {
				t.Errorf("Granted = %v, want %v\n%s", d.Granted, tt.want, d.Reason)
			}
		})
	}
}

func newSecurityContext(t *testing.T, key string) *security.Context {
	t.Helper()
	provider := apikey.New("Api", []apikey.Key{
		{Key: "k-editor", Account: "ed", Roles: []string{"Blog:Editor"}},
		{Key: "k-spammer", Account: "spam", Roles: []string{"Blog:Spammer"}},
	})
	mgr, err := authn.NewManager(authn.AnyToken, []authn.Provider{provider},
		[]authn.TokenSpec{{ProviderName: "Api", Kind: authn.APIKey{}}})
	if err != nil {
		t.Fatal(err)
	}
	f := &security.Factory{Manager: mgr, Graph: testGraph(t)}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if key != "" {
		r.Header.Set("X-API-Key", key)
	}
	return f.NewContext(r, nil)
}

func TestIsGranted(t *testing.T) {
	ctx := context.Background()
	m := NewManager(false)
	publish := method("blog.PostService", "Publish")

	ok, err := m.IsGranted(ctx, newSecurityContext(t, "k-editor"), policy.MethodPrivilegeType, publish)
	if err != nil || !ok {
		t.Errorf("editor IsGranted() = %v, %v", ok, err)
	}
	ok, _ = m.IsGranted(ctx, newSecurityContext(t, ""), policy.MethodPrivilegeType, publish)
	if ok {
		t.Error("anonymous granted publish")
	}
	ok, err = m.IsGranted(security.SuspendAuthorization(ctx), nil, policy.MethodPrivilegeType, publish)
	if err != nil || !ok {
		t.Errorf("suspended IsGranted() = %v, %v, want true", ok, err)
	}

	ok, err = m.IsPrivilegeTargetGranted(ctx, newSecurityContext(t, "k-editor"), "Blog:PublishPosts")
	if err != nil || !ok {
		t.Errorf("IsPrivilegeTargetGranted() = %v, %v", ok, err)
	}
}

func TestEnforce(t *testing.T) {
	ctx := context.Background()
	m := NewManager(false)
	publish := method("blog.PostService", "Publish")

	if err := m.Enforce(ctx, newSecurityContext(t, "k-editor"), policy.MethodPrivilegeType, publish); err != nil {
		t.Errorf("editor Enforce() = %v", err)
	}

	err := m.Enforce(ctx, newSecurityContext(t, "k-spammer"), policy.MethodPrivilegeType, publish)
	if !errors.Is(err, api.ErrAccessDenied) {
		t.Errorf("spammer Enforce() = %v, want access denied", err)
	}
	if errors.Is(err, api.ErrAuthenticationRequired) {
		t.Error("authenticated denial asks for authentication")
	}

	err = m.Enforce(ctx, newSecurityContext(t, ""), policy.MethodPrivilegeType, publish)
	if !errors.Is(err, api.ErrAccessDenied) || !errors.Is(err, api.ErrAuthenticationRequired) {
		t.Errorf("anonymous Enforce() = %v, want access denied requiring authentication", err)
	}
}
