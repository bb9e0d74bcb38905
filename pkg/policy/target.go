package policy

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// SubjectMatcher decides whether a concrete subject is covered by a privilege.
// Implementations are produced by a PrivilegeType from a target's matcher.
type SubjectMatcher interface {
	MatchesSubject(subject any) (bool, error)
}

// PrivilegeType compiles target matchers of one kind, for example method
// patterns or entity constraints.
type PrivilegeType interface {
	// Name is the key used under privilegeTargets in policy files.
	Name() string

	// Compile turns a matcher (with parameter placeholders already bound)
	// into a SubjectMatcher. Errors are reported as configuration errors.
	Compile(matcher *yaml.Node) (SubjectMatcher, error)
}

// Types indexes privilege types by name.
type Types map[string]PrivilegeType

// NewTypes builds a registry from the given privilege types.
func NewTypes(types ...PrivilegeType) Types {
	t := make(Types, len(types))
	for _, pt := range types {
		t[pt.Name()] = pt
	}
	return t
}

// DefaultTypes returns a registry holding the built-in MethodPrivilege type.
func DefaultTypes() Types {
	return NewTypes(MethodPrivilege{})
}

// Target is a declared decision point that privileges vote on.
type Target struct {
	ID         string
	Type       string
	Parameters []string

	matcher yaml.Node
	kind    PrivilegeType
}

// HasParameters reports whether the target declares parameters.
func (t *Target) HasParameters() bool {
	return len(t.Parameters) > 0
}

// compile binds parameter values into the matcher and compiles it.
func (t *Target) compile(params []Parameter) (SubjectMatcher, error) {
	bound := cloneNode(&t.matcher)
	if len(params) > 0 {
		values := make(map[string]string, len(params))
		for _, p := range params {
			values[p.Name] = p.Value
		}
		bindParameters(bound, values)
	}
	return t.kind.Compile(bound)
}

// checkParameters verifies that params bind exactly the declared parameters.
func (t *Target) checkParameters(params []Parameter) error {
	declared := make(map[string]bool, len(t.Parameters))
	for _, name := range t.Parameters {
		declared[name] = true
	}
	seen := make(map[string]bool, len(params))
	for _, p := range params {
		if !declared[p.Name] {
			return fmt.Errorf("parameter %q is not declared by target %s", p.Name, t.ID)
		}
		seen[p.Name] = true
	}
	var missing []string
	for _, name := range t.Parameters {
		if !seen[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("target %s requires parameters %s", t.ID, strings.Join(missing, ", "))
	}
	return nil
}

// Parameter binds a value to a named target parameter.
type Parameter struct {
	Name  string
	Value string
}

// sortParameters returns a copy of params ordered by name.
func sortParameters(params []Parameter) []Parameter {
	out := append([]Parameter(nil), params...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ParameterSignature renders params in canonical order, e.g. `kind="news",site="a"`.
func ParameterSignature(params []Parameter) string {
	sorted := sortParameters(params)
	parts := make([]string, len(sorted))
	for i, p := range sorted {
		parts[i] = fmt.Sprintf("%s=%q", p.Name, p.Value)
	}
	return strings.Join(parts, ",")
}

func cloneNode(n *yaml.Node) *yaml.Node {
	c := *n
	if len(n.Content) > 0 {
		c.Content = make([]*yaml.Node, len(n.Content))
		for i, child := range n.Content {
			c.Content[i] = cloneNode(child)
		}
	}
	return &c
}

// bindParameters replaces {parameters.name} placeholders in every scalar.
func bindParameters(n *yaml.Node, values map[string]string) {
	if n.Kind == yaml.ScalarNode {
		for name, v := range values {
			n.Value = strings.ReplaceAll(n.Value, "{parameters."+name+"}", v)
		}
		return
	}
	for _, child := range n.Content {
		bindParameters(child, values)
	}
}
