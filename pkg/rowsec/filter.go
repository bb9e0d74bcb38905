package rowsec

import (
	"context"
	"fmt"
	"strings"

	"github.com/rhuss/keystone/pkg/debug"
	"github.com/rhuss/keystone/pkg/observability"
	"github.com/rhuss/keystone/pkg/policy"
	"github.com/rhuss/keystone/pkg/security"
)

// Filter builds the row filter of an entity for the current roles.
type Filter struct {
	generator *Generator
}

// NewFilter creates a filter rendering constraints with g.
func NewFilter(g *Generator) *Filter {
	return &Filter{generator: g}
}

// Generator returns the generator used to render constraints.
func (f *Filter) Generator() *Generator {
	return f.generator
}

// Constraint returns the predicate that rows of entity, selected as alias,
// must satisfy for the caller of sc. The fragment is empty when nothing is
// hidden or authorization checks are suspended.
func (f *Filter) Constraint(ctx context.Context, sc *security.Context, entity, alias string, offset int) (Fragment, error) {
	if security.AuthorizationChecksDisabled(ctx) {
		return Fragment{}, nil
	}
	roles, err := sc.Roles(ctx)
	if err != nil {
		return Fragment{}, err
	}
	return f.ConstraintForRoles(ctx, sc, roles, entity, alias, offset)
}

// ConstraintForRoles is Constraint for an explicit role set. Each entity
// privilege target is decided over all roles, DENY overriding GRANT; the
// rows of every target that is not granted are excluded.
func (f *Filter) ConstraintForRoles(ctx context.Context, r Resolver, roles []*policy.Role, entity, alias string, offset int) (Fragment, error) {
	type verdict struct {
		matcher *EntityMatcher
		granted bool
		denied  bool
	}
	var order []string
	targets := make(map[string]*verdict)
	seen := make(map[*policy.Privilege]bool)

	for _, role := range roles {
		for _, p := range role.PrivilegesByType(EntityPrivilegeType) {
			if seen[p] {
				continue
			}
			seen[p] = true
			m, ok := p.Matcher().(*EntityMatcher)
			if !ok || m.Entity() != entity {
				continue
			}
			v, ok := targets[p.Signature()]
			if !ok {
				v = &verdict{matcher: m}
				targets[p.Signature()] = v
				order = append(order, p.Signature())
			}
			v.granted = v.granted || p.IsGranted()
			v.denied = v.denied || p.IsDenied()
		}
	}

	var parts []string
	var args []any
	for _, sig := range order {
		v := targets[sig]
		if v.granted && !v.denied {
			continue
		}
		frag, err := f.generator.Generate(ctx, r, entity, alias, v.matcher.Constraint(), offset+len(args))
		if err != nil {
			return Fragment{}, fmt.Errorf("privilege %s: %w", sig, err)
		}
		parts = append(parts, group(frag.SQL)+" IS NOT TRUE")
		args = append(args, frag.Args...)
	}
	if len(parts) == 0 {
		return Fragment{}, nil
	}

	observability.RowSecurityConstraintsTotal.WithLabelValues(entity).Inc()
	out := Fragment{SQL: strings.Join(parts, " AND "), Args: args}
	debug.Log("rowsec", "filter generated", "entity", entity, "hidden_targets", len(parts), "sql", out.SQL)
	return out, nil
}
