package rowsec

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/rhuss/keystone/pkg/policy"
)

// EntityPrivilegeType is the policy file key for entity privileges.
const EntityPrivilegeType = "EntityPrivilege"

// EntitySubject asks about rows of an entity.
type EntitySubject struct {
	Entity string
}

// EntityPrivilege compiles matchers of the form
//
//	matcher:
//	  entity: Post
//	  constraint:
//	    property: owner
//	    operator: equals
//	    operand: context.securityContext.account
type EntityPrivilege struct {
	schema *Schema
}

// NewEntityPrivilege returns the privilege type for entities of s.
func NewEntityPrivilege(s *Schema) *EntityPrivilege {
	return &EntityPrivilege{schema: s}
}

// Name implements policy.PrivilegeType.
func (*EntityPrivilege) Name() string { return EntityPrivilegeType }

// Compile implements policy.PrivilegeType. Constraints are validated against
// the schema, so unsupported paths fail at policy load.
func (p *EntityPrivilege) Compile(matcher *yaml.Node) (policy.SubjectMatcher, error) {
	if matcher.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: entity matcher must be a mapping with entity and constraint", matcher.Line)
	}
	var doc struct {
		Entity     string    `yaml:"entity"`
		Constraint yaml.Node `yaml:"constraint"`
	}
	if err := matcher.Decode(&doc); err != nil {
		return nil, fmt.Errorf("entity matcher: %w", err)
	}
	if doc.Entity == "" {
		return nil, fmt.Errorf("line %d: entity matcher has no entity", matcher.Line)
	}
	if doc.Constraint.Kind == 0 {
		return nil, fmt.Errorf("entity matcher for %s has no constraint", doc.Entity)
	}
	c, err := ParseConstraint(&doc.Constraint)
	if err != nil {
		return nil, fmt.Errorf("entity matcher for %s: %w", doc.Entity, err)
	}
	if err := Validate(p.schema, doc.Entity, c); err != nil {
		return nil, err
	}
	return &EntityMatcher{entity: doc.Entity, constraint: c}, nil
}

// EntityMatcher is a compiled entity privilege matcher.
type EntityMatcher struct {
	entity     string
	constraint Constraint
}

// Entity returns the entity the matcher applies to.
func (m *EntityMatcher) Entity() string { return m.entity }

// Constraint returns the rows the matcher selects.
func (m *EntityMatcher) Constraint() Constraint { return m.constraint }

// MatchesSubject reports whether the subject names the matcher's entity.
func (m *EntityMatcher) MatchesSubject(subject any) (bool, error) {
	switch s := subject.(type) {
	case EntitySubject:
		return s.Entity == m.entity, nil
	case *EntitySubject:
		return s.Entity == m.entity, nil
	case string:
		return s == m.entity, nil
	}
	return false, fmt.Errorf("entity privileges only support EntitySubject, got %T", subject)
}
