package policy

import (
	"fmt"
	"strings"
)

// Permission is the verdict a privilege casts for its target.
type Permission int

const (
	// Abstain neither grants nor denies. It records that the target is known
	// to the role without deciding anything.
	Abstain Permission = iota

	// Grant allows access unless another privilege denies it.
	Grant

	// Deny refuses access regardless of any grant.
	Deny
)

// String returns the upper-case name used in policy files and log output.
func (p Permission) String() string {
	switch p {
	case Grant:
		return "GRANT"
	case Deny:
		return "DENY"
	default:
		return "ABSTAIN"
	}
}

// ParsePermission converts a policy file value to a Permission.
func ParsePermission(s string) (Permission, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "GRANT":
		return Grant, nil
	case "DENY":
		return Deny, nil
	case "ABSTAIN":
		return Abstain, nil
	default:
		return Abstain, fmt.Errorf("unknown permission %q (expected GRANT, DENY or ABSTAIN)", s)
	}
}
