package account

import (
	"testing"
	"time"

	"github.com/rhuss/keystone/pkg/policy"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testGraph(t *testing.T) *policy.Graph {
	t.Helper()
	g, err := policy.Parse([]byte(`
roles:
  'Blog:Author': {}
  'Blog:Editor':
    parentRoles: ['Blog:Author']
  'Blog:Staff':
    abstract: true
`), policy.DefaultTypes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return g
}

func TestAuthenticationAttempted(t *testing.T) {
	a := New("alice", "DefaultProvider", now)

	a.AuthenticationAttempted(Failed, now)
	a.AuthenticationAttempted(Failed, now)
	if a.FailedAttempts != 2 {
		t.Errorf("FailedAttempts = %d, want 2", a.FailedAttempts)
	}
	if a.LastSuccessAt != nil {
		t.Error("LastSuccessAt set after failures")
	}

	later := now.Add(time.Minute)
	a.AuthenticationAttempted(Succeeded, later)
	if a.FailedAttempts != 0 {
		t.Errorf("FailedAttempts = %d after success, want 0", a.FailedAttempts)
	}
	if a.LastSuccessAt == nil || !a.LastSuccessAt.Equal(later) {
		t.Errorf("LastSuccessAt = %v, want %v", a.LastSuccessAt, later)
	}
}

func TestIsActive(t *testing.T) {
	a := New("alice", "p", now)
	if !a.IsActive(now) {
		t.Error("account without expiration should be active")
	}
	exp := now.Add(time.Hour)
	a.ExpiresAt = &exp
	if !a.IsActive(now) {
		t.Error("account should be active before expiration")
	}
	if a.IsActive(exp) {
		t.Error("account should be inactive at expiration")
	}
}

func TestRoles_PrunesUnknown(t *testing.T) {
	g := testGraph(t)
	a := New("alice", "p", now)
	a.RoleIDs = []string{"Blog:Editor", "Blog:Removed", "Blog:Author"}

	roles := a.Roles(g)
	if len(roles) != 2 || roles[0].ID != "Blog:Editor" || roles[1].ID != "Blog:Author" {
		t.Errorf("Roles() = %v, want [Blog:Editor Blog:Author]", roles)
	}
	if a.HasRole("Blog:Removed") {
		t.Error("undefined role should be pruned from RoleIDs")
	}
}

func TestRoles_PrunesAbstract(t *testing.T) {
	g := testGraph(t)
	a := New("bot", "Api", now)
	a.RoleIDs = []string{"Blog:Staff", policy.AuthenticatedUser, "Blog:Author", policy.Everybody}

	roles := a.Roles(g)
	if len(roles) != 1 || roles[0].ID != "Blog:Author" {
		t.Errorf("Roles() = %v, want [Blog:Author]", roles)
	}
	for _, id := range []string{"Blog:Staff", policy.AuthenticatedUser, policy.Everybody} {
		if a.HasRole(id) {
			t.Errorf("abstract role %s should be pruned from RoleIDs", id)
		}
	}
}

func TestAddRole(t *testing.T) {
	g := testGraph(t)
	a := New("alice", "p", now)

	editor, _ := g.Role("Blog:Editor")
	if err := a.AddRole(editor); err != nil {
		t.Fatalf("AddRole: %v", err)
	}
	if err := a.AddRole(editor); err != nil {
		t.Fatalf("AddRole twice: %v", err)
	}
	if len(a.RoleIDs) != 1 {
		t.Errorf("RoleIDs = %v, want one entry", a.RoleIDs)
	}

	staff, _ := g.Role("Blog:Staff")
	if err := a.AddRole(staff); err == nil {
		t.Error("AddRole(abstract) should fail")
	}
	everybody, _ := g.Role(policy.Everybody)
	if err := a.SetRoles([]*policy.Role{editor, everybody}); err == nil {
		t.Error("SetRoles with system role should fail")
	}
	if len(a.RoleIDs) != 1 {
		t.Errorf("failed SetRoles changed RoleIDs to %v", a.RoleIDs)
	}

	a.RemoveRole("Blog:Editor")
	if a.HasRole("Blog:Editor") {
		t.Error("RemoveRole did not remove the role")
	}
}

func TestClone(t *testing.T) {
	exp := now.Add(time.Hour)
	a := New("alice", "p", now)
	a.ExpiresAt = &exp
	a.RoleIDs = []string{"Blog:Author"}

	c := a.Clone()
	c.RoleIDs[0] = "Blog:Editor"
	*c.ExpiresAt = now

	if a.RoleIDs[0] != "Blog:Author" {
		t.Error("Clone shares RoleIDs")
	}
	if !a.ExpiresAt.Equal(exp) {
		t.Error("Clone shares ExpiresAt")
	}
}

func TestReadProperty(t *testing.T) {
	a := New("alice", "DefaultProvider", now)
	tests := []struct {
		name string
		want any
		ok   bool
	}{
		{"identifier", "alice", true},
		{"accountIdentifier", "alice", true},
		{"providerName", "DefaultProvider", true},
		{"expiresAt", nil, true},
		{"credentialsSource", nil, false},
	}
	for _, tt := range tests {
		got, ok := a.ReadProperty(tt.name)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ReadProperty(%q) = %v, %v; want %v, %v", tt.name, got, ok, tt.want, tt.ok)
		}
	}
}
