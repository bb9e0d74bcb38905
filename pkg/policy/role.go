package policy

import "strings"

// System roles. They are abstract and present in every graph.
const (
	Everybody         = "Keystone:Everybody"
	Anonymous         = "Keystone:Anonymous"
	AuthenticatedUser = "Keystone:AuthenticatedUser"
)

// IsSystemRole reports whether id names one of the implicit system roles.
func IsSystemRole(id string) bool {
	return id == Everybody || id == Anonymous || id == AuthenticatedUser
}

// Role is a named, inheritable bundle of privileges. Roles are owned by a
// Graph and must not be modified after the graph is built.
type Role struct {
	ID          string
	Abstract    bool
	Label       string
	Description string

	parents   []string
	ancestors []string
	own       []*Privilege
	effective []*Privilege
}

// PackageKey returns the part of the identifier before the colon.
func (r *Role) PackageKey() string {
	pkg, _, _ := strings.Cut(r.ID, ":")
	return pkg
}

// Name returns the part of the identifier after the colon.
func (r *Role) Name() string {
	_, name, _ := strings.Cut(r.ID, ":")
	return name
}

// Parents returns the identifiers of the direct parent roles, in declaration order.
func (r *Role) Parents() []string {
	return r.parents
}

// AllParents returns the identifiers of every transitive parent role.
func (r *Role) AllParents() []string {
	return r.ancestors
}

// HasParent reports whether id is a transitive parent of the role.
func (r *Role) HasParent(id string) bool {
	for _, a := range r.ancestors {
		if a == id {
			return true
		}
	}
	return false
}

// OwnPrivileges returns the privileges declared directly on the role.
func (r *Role) OwnPrivileges() []*Privilege {
	return r.own
}

// Privileges returns the effective privileges: the role's own followed by
// every inherited privilege, at most one per signature. A role's own
// privilege shadows an inherited one for the same signature; between
// parents, the earlier declared parent wins.
func (r *Role) Privileges() []*Privilege {
	return r.effective
}

// PrivilegesByType returns the effective privileges of the given type.
func (r *Role) PrivilegesByType(privilegeType string) []*Privilege {
	var out []*Privilege
	for _, p := range r.effective {
		if p.Type() == privilegeType {
			out = append(out, p)
		}
	}
	return out
}

// PrivilegeForTarget returns the effective privilege for targetID bound to
// exactly params, or nil.
func (r *Role) PrivilegeForTarget(targetID string, params []Parameter) *Privilege {
	for _, p := range r.effective {
		if p.TargetID() == targetID && p.matchesParameters(params) {
			return p
		}
	}
	return nil
}

// String returns the role identifier.
func (r *Role) String() string {
	return r.ID
}
