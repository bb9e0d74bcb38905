package policy

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// MethodPrivilegeType is the policy file key for method privileges.
const MethodPrivilegeType = "MethodPrivilege"

// MethodSubject identifies an operation invocation, e.g. the method
// "Publish" on the service "blog.PostService".
type MethodSubject struct {
	Type   string
	Method string
}

// String renders the subject as matched by method privileges: "Type->Method".
func (s MethodSubject) String() string {
	return s.Type + "->" + s.Method
}

// MethodPrivilege matches MethodSubjects against an anchored regular
// expression over "Type->Method":
//
//	matcher: 'blog\.PostService->(Publish|Delete)'
type MethodPrivilege struct{}

// Name implements PrivilegeType.
func (MethodPrivilege) Name() string { return MethodPrivilegeType }

// Compile implements PrivilegeType.
func (MethodPrivilege) Compile(matcher *yaml.Node) (SubjectMatcher, error) {
	if matcher.Kind != yaml.ScalarNode {
		return nil, fmt.Errorf("method matcher must be a string")
	}
	expr := strings.TrimSpace(matcher.Value)
	if expr == "" {
		return nil, fmt.Errorf("method matcher is empty")
	}
	if !strings.Contains(expr, "->") {
		return nil, fmt.Errorf("method matcher %q must have the form Type->Method", expr)
	}
	re, err := regexp.Compile(`^(?:` + expr + `)$`)
	if err != nil {
		return nil, fmt.Errorf("method matcher %q: %w", expr, err)
	}
	return methodMatcher{re: re}, nil
}

type methodMatcher struct {
	re *regexp.Regexp
}

func (m methodMatcher) MatchesSubject(subject any) (bool, error) {
	switch s := subject.(type) {
	case MethodSubject:
		return m.re.MatchString(s.String()), nil
	case *MethodSubject:
		return m.re.MatchString(s.String()), nil
	default:
		return false, fmt.Errorf("method privileges only support MethodSubject, got %T", subject)
	}
}
