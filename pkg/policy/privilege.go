package policy

import (
	"fmt"
	"strings"
)

// Privilege is one role's verdict on one target, with bound parameters.
type Privilege struct {
	Target     *Target
	Permission Permission
	Parameters []Parameter

	// Role is the identifier of the role that declares the privilege.
	// Inherited privileges keep the declaring role.
	Role string

	matcher SubjectMatcher
}

// TargetID returns the identifier of the privilege target.
func (p *Privilege) TargetID() string {
	return p.Target.ID
}

// Type returns the privilege type name of the target.
func (p *Privilege) Type() string {
	return p.Target.Type
}

// IsGranted reports whether the privilege grants access.
func (p *Privilege) IsGranted() bool { return p.Permission == Grant }

// IsDenied reports whether the privilege denies access.
func (p *Privilege) IsDenied() bool { return p.Permission == Deny }

// IsAbstained reports whether the privilege abstains.
func (p *Privilege) IsAbstained() bool { return p.Permission == Abstain }

// Matcher returns the compiled subject matcher. Privilege types that expose
// more than subject matching (entity constraints) are reached through it.
func (p *Privilege) Matcher() SubjectMatcher {
	return p.matcher
}

// MatchesSubject reports whether the privilege covers subject.
func (p *Privilege) MatchesSubject(subject any) (bool, error) {
	return p.matcher.MatchesSubject(subject)
}

// Signature identifies the privilege by target and parameter values. Two
// privileges with the same signature vote on the same decision.
func (p *Privilege) Signature() string {
	return p.Target.ID + "(" + ParameterSignature(p.Parameters) + ")"
}

// matchesParameters reports whether the bound parameters equal params,
// regardless of order.
func (p *Privilege) matchesParameters(params []Parameter) bool {
	return ParameterSignature(p.Parameters) == ParameterSignature(params)
}

// String renders the privilege for decision reasons, e.g.
// `"Acme:EditNews" (with parameters: kind: "news"): GRANT`.
func (p *Privilege) String() string {
	name := fmt.Sprintf("%q", p.Target.ID)
	if len(p.Parameters) > 0 {
		parts := make([]string, 0, len(p.Parameters))
		for _, param := range sortParameters(p.Parameters) {
			parts = append(parts, fmt.Sprintf("%s: %q", param.Name, param.Value))
		}
		name += " (with parameters: " + strings.Join(parts, ", ") + ")"
	}
	return name + ": " + p.Permission.String()
}
