package policy

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rhuss/keystone/pkg/api"
	"gopkg.in/yaml.v3"
)

// Graph is the immutable role and privilege-target graph.
type Graph struct {
	roles       map[string]*Role
	roleOrder   []string
	targets     map[string]*Target
	targetOrder []string
}

// Role returns the role with the given identifier.
func (g *Graph) Role(id string) (*Role, error) {
	r, ok := g.roles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRole, id)
	}
	return r, nil
}

// HasRole reports whether the graph defines the role.
func (g *Graph) HasRole(id string) bool {
	_, ok := g.roles[id]
	return ok
}

// Roles returns all roles ordered by identifier.
func (g *Graph) Roles() []*Role {
	out := make([]*Role, len(g.roleOrder))
	for i, id := range g.roleOrder {
		out[i] = g.roles[id]
	}
	return out
}

// Target returns the privilege target with the given identifier.
func (g *Graph) Target(id string) (*Target, error) {
	t, ok := g.targets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, id)
	}
	return t, nil
}

// Targets returns all privilege targets ordered by identifier.
func (g *Graph) Targets() []*Target {
	out := make([]*Target, len(g.targetOrder))
	for i, id := range g.targetOrder {
		out[i] = g.targets[id]
	}
	return out
}

// Resolve maps role identifiers to roles. Identifiers not defined in the
// graph are returned separately so callers can prune them.
func (g *Graph) Resolve(ids []string) (roles []*Role, unknown []string) {
	for _, id := range ids {
		if r, ok := g.roles[id]; ok {
			roles = append(roles, r)
		} else {
			unknown = append(unknown, id)
		}
	}
	return roles, unknown
}

// Closure returns the given roles together with all their transitive
// parents, each role once, in first-seen order.
func (g *Graph) Closure(roles ...*Role) []*Role {
	seen := make(map[string]bool)
	var out []*Role
	add := func(r *Role) {
		if !seen[r.ID] {
			seen[r.ID] = true
			out = append(out, r)
		}
	}
	for _, r := range roles {
		add(r)
		for _, a := range r.ancestors {
			add(g.roles[a])
		}
	}
	return out
}

// TargetDefinition declares a privilege target for the Builder.
type TargetDefinition struct {
	ID         string
	Type       string
	Matcher    yaml.Node
	Parameters []string
}

// PrivilegeDefinition declares one privilege of a role.
type PrivilegeDefinition struct {
	Target     string
	Permission Permission
	Parameters []Parameter
}

// RoleDefinition declares a role for the Builder.
type RoleDefinition struct {
	ID          string
	Abstract    bool
	Label       string
	Description string
	Parents     []string
	Privileges  []PrivilegeDefinition
}

// Builder assembles and validates a Graph.
type Builder struct {
	types   Types
	targets []TargetDefinition
	roles   []RoleDefinition
}

// NewBuilder returns a Builder that compiles matchers with the given types.
func NewBuilder(types Types) *Builder {
	return &Builder{types: types}
}

// AddTarget registers a privilege target.
func (b *Builder) AddTarget(def TargetDefinition) *Builder {
	b.targets = append(b.targets, def)
	return b
}

// AddRole registers a role.
func (b *Builder) AddRole(def RoleDefinition) *Builder {
	b.roles = append(b.roles, def)
	return b
}

// Build validates the definitions and returns the graph. All problems found
// are reported together as a configuration error.
func (b *Builder) Build() (*Graph, error) {
	g := &Graph{
		roles:   make(map[string]*Role),
		targets: make(map[string]*Target),
	}
	var errs []error

	for _, def := range b.targets {
		if err := g.addTarget(def, b.types); err != nil {
			errs = append(errs, err)
		}
	}

	defs := make(map[string]RoleDefinition)
	for _, id := range []string{Everybody, Anonymous, AuthenticatedUser} {
		defs[id] = RoleDefinition{ID: id, Abstract: true}
	}
	for _, def := range b.roles {
		if !ValidIdentifier(def.ID) {
			errs = append(errs, fmt.Errorf("role %q: identifier must have the form Package:Name", def.ID))
			continue
		}
		if IsSystemRole(def.ID) {
			if len(def.Parents) > 0 {
				errs = append(errs, fmt.Errorf("role %s: system roles cannot have parents", def.ID))
			}
			def.Abstract = true
			def.Parents = nil
		} else if _, dup := defs[def.ID]; dup {
			errs = append(errs, fmt.Errorf("role %s: defined twice", def.ID))
			continue
		}
		defs[def.ID] = def
	}

	for id, def := range defs {
		r := &Role{
			ID:          id,
			Abstract:    def.Abstract,
			Label:       def.Label,
			Description: def.Description,
			parents:     def.Parents,
		}
		for _, pd := range def.Privileges {
			p, err := g.newPrivilege(id, pd)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if r.privilegeBySignature(p.Signature()) != nil {
				errs = append(errs, fmt.Errorf("role %s: privilege %s declared twice", id, p.Signature()))
				continue
			}
			r.own = append(r.own, p)
		}
		g.roles[id] = r
		g.roleOrder = append(g.roleOrder, id)
	}
	sort.Strings(g.roleOrder)

	for _, id := range g.roleOrder {
		for _, parent := range g.roles[id].parents {
			if _, ok := g.roles[parent]; !ok {
				errs = append(errs, fmt.Errorf("role %s: parent %w: %s", id, ErrUnknownRole, parent))
			}
		}
	}
	if len(errs) == 0 {
		if err := g.computeClosures(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, api.NewConfigurationError("policy", "invalid policy").WithCause(errors.Join(errs...))
	}

	g.seedEverybody()
	for _, id := range g.roleOrder {
		g.computeEffective(g.roles[id])
	}
	return g, nil
}

func (g *Graph) addTarget(def TargetDefinition, types Types) error {
	if !ValidIdentifier(def.ID) {
		return fmt.Errorf("privilege target %q: identifier must have the form Package:Name", def.ID)
	}
	if _, dup := g.targets[def.ID]; dup {
		return fmt.Errorf("privilege target %s: defined twice", def.ID)
	}
	kind, ok := types[def.Type]
	if !ok {
		return fmt.Errorf("privilege target %s: unknown privilege type %q", def.ID, def.Type)
	}
	t := &Target{
		ID:         def.ID,
		Type:       def.Type,
		Parameters: append([]string(nil), def.Parameters...),
		matcher:    def.Matcher,
		kind:       kind,
	}
	sort.Strings(t.Parameters)
	if !t.HasParameters() {
		if _, err := t.compile(nil); err != nil {
			return fmt.Errorf("privilege target %s: matcher: %w", def.ID, err)
		}
	}
	g.targets[def.ID] = t
	g.targetOrder = append(g.targetOrder, def.ID)
	sort.Strings(g.targetOrder)
	return nil
}

func (g *Graph) newPrivilege(roleID string, def PrivilegeDefinition) (*Privilege, error) {
	t, ok := g.targets[def.Target]
	if !ok {
		return nil, fmt.Errorf("role %s: %w: %s", roleID, ErrUnknownTarget, def.Target)
	}
	if err := t.checkParameters(def.Parameters); err != nil {
		return nil, fmt.Errorf("role %s: %w", roleID, err)
	}
	m, err := t.compile(def.Parameters)
	if err != nil {
		return nil, fmt.Errorf("role %s: privilege target %s: matcher: %w", roleID, t.ID, err)
	}
	return &Privilege{
		Target:     t,
		Permission: def.Permission,
		Parameters: sortParameters(def.Parameters),
		Role:       roleID,
		matcher:    m,
	}, nil
}

// computeClosures fills every role's ancestor list and rejects cycles.
func (g *Graph) computeClosures() error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(g.roles))

	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		switch state[id] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("role inheritance cycle: %v", append(path, id))
		}
		state[id] = visiting
		r := g.roles[id]
		seen := make(map[string]bool)
		var ancestors []string
		for _, parent := range r.parents {
			if err := visit(parent, append(path, id)); err != nil {
				return err
			}
			for _, a := range append([]string{parent}, g.roles[parent].ancestors...) {
				if !seen[a] {
					seen[a] = true
					ancestors = append(ancestors, a)
				}
			}
		}
		r.ancestors = ancestors
		state[id] = done
		return nil
	}

	for _, id := range g.roleOrder {
		if err := visit(id, nil); err != nil {
			return err
		}
	}
	return nil
}

// seedEverybody adds an ABSTAIN privilege on Everybody for every
// parameterless target it does not configure.
func (g *Graph) seedEverybody() {
	everybody := g.roles[Everybody]
	for _, id := range g.targetOrder {
		t := g.targets[id]
		if t.HasParameters() {
			continue
		}
		p := &Privilege{Target: t, Permission: Abstain, Role: Everybody}
		if everybody.privilegeBySignature(p.Signature()) != nil {
			continue
		}
		m, err := t.compile(nil)
		if err != nil {
			// compiled successfully in addTarget
			continue
		}
		p.matcher = m
		everybody.own = append(everybody.own, p)
	}
}

func (g *Graph) computeEffective(r *Role) {
	seen := make(map[string]bool)
	var eff []*Privilege
	for _, p := range r.own {
		seen[p.Signature()] = true
		eff = append(eff, p)
	}
	for _, a := range r.ancestors {
		for _, p := range g.roles[a].own {
			if !seen[p.Signature()] {
				seen[p.Signature()] = true
				eff = append(eff, p)
			}
		}
	}
	r.effective = eff
}

func (r *Role) privilegeBySignature(sig string) *Privilege {
	for _, p := range r.own {
		if p.Signature() == sig {
			return p
		}
	}
	return nil
}
