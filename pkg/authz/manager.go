package authz

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rhuss/keystone/pkg/api"
	"github.com/rhuss/keystone/pkg/debug"
	"github.com/rhuss/keystone/pkg/observability"
	"github.com/rhuss/keystone/pkg/policy"
	"github.com/rhuss/keystone/pkg/security"
)

// Manager evaluates privileges.
type Manager struct {
	allowIfAllAbstain bool
}

// NewManager creates a privilege manager. With allowIfAllAbstain, a check
// where every matching privilege abstains is granted.
func NewManager(allowIfAllAbstain bool) *Manager {
	return &Manager{allowIfAllAbstain: allowIfAllAbstain}
}

// IsGrantedForRoles decides whether roles may access subject under the
// privileges of privilegeType.
func (m *Manager) IsGrantedForRoles(roles []*policy.Role, privilegeType string, subject any) (Decision, error) {
	candidates := dedupe(roles, func(r *policy.Role) []*policy.Privilege {
		return r.PrivilegesByType(privilegeType)
	})

	var matching []*policy.Privilege
	for _, p := range candidates {
		ok, err := p.MatchesSubject(subject)
		if err != nil {
			return Decision{}, fmt.Errorf("matching %s against %v: %w", p.TargetID(), subject, err)
		}
		if ok {
			matching = append(matching, p)
		}
	}

	if len(matching) == 0 {
		return Decision{
			Granted: true,
			Reason:  fmt.Sprintf("No privilege of type %q matched the subject", privilegeType),
		}, nil
	}

	var tally Tally
	for _, p := range matching {
		tally.count(p)
	}
	return m.decide(matching, tally), nil
}

// IsPrivilegeTargetGrantedForRoles decides a privilege target with the
// given parameters. A target no role votes on is denied.
func (m *Manager) IsPrivilegeTargetGrantedForRoles(roles []*policy.Role, targetID string, params ...policy.Parameter) Decision {
	found := dedupe(roles, func(r *policy.Role) []*policy.Privilege {
		return []*policy.Privilege{r.PrivilegeForTarget(targetID, params)}
	})
	if len(found) == 0 {
		return Decision{
			Granted: false,
			Reason:  fmt.Sprintf("No privilege for target %q found", targetID),
		}
	}
	var tally Tally
	for _, p := range found {
		tally.count(p)
	}
	return m.decide(found, tally)
}

func (m *Manager) decide(privileges []*policy.Privilege, tally Tally) Decision {
	granted := false
	switch {
	case tally.Denied > 0:
	case tally.Granted > 0:
		granted = true
	default:
		granted = m.allowIfAllAbstain
	}
	return Decision{
		Granted:    granted,
		Reason:     evaluated(privileges, tally),
		Tally:      tally,
		Privileges: privileges,
	}
}

// IsGranted checks subject against the roles of the security context.
// Suspended authorization grants everything.
func (m *Manager) IsGranted(ctx context.Context, sc *security.Context, privilegeType string, subject any) (bool, error) {
	d, err := m.check(ctx, sc, privilegeType, subject)
	return d.Granted, err
}

// IsPrivilegeTargetGranted checks a privilege target against the roles of
// the security context.
func (m *Manager) IsPrivilegeTargetGranted(ctx context.Context, sc *security.Context, targetID string, params ...policy.Parameter) (bool, error) {
	if security.AuthorizationChecksDisabled(ctx) {
		return true, nil
	}
	roles, err := sc.Roles(ctx)
	if err != nil {
		return false, err
	}
	d := m.IsPrivilegeTargetGrantedForRoles(roles, targetID, params...)
	record("target", d)
	debug.Log("authz", "privilege target decided", "target", targetID, "granted", d.Granted, "tally", d.Tally.String())
	return d.Granted, nil
}

// Enforce returns an access-denied error unless subject is granted. When the
// request is not authenticated the error also signals that authentication
// is required, so callers can ask for credentials.
func (m *Manager) Enforce(ctx context.Context, sc *security.Context, privilegeType string, subject any) error {
	d, err := m.check(ctx, sc, privilegeType, subject)
	if err != nil || d.Granted {
		return err
	}

	denied := api.NewAccessDeniedError(fmt.Sprint(subject), d.Reason)
	slog.Warn("access denied",
		"type", privilegeType,
		"subject", fmt.Sprint(subject),
		"granted", d.Tally.Granted,
		"denied", d.Tally.Denied,
		"abstained", d.Tally.Abstained,
	)

	authenticated, err := sc.IsAuthenticated(ctx)
	if err != nil {
		return err
	}
	if !authenticated {
		return api.NewAuthenticationRequiredError("access_denied_anonymous",
			"authentication required to access "+fmt.Sprint(subject)).WithCause(denied)
	}
	return denied
}

func (m *Manager) check(ctx context.Context, sc *security.Context, privilegeType string, subject any) (Decision, error) {
	if security.AuthorizationChecksDisabled(ctx) {
		return Decision{Granted: true, Reason: "Authorization checks are disabled"}, nil
	}
	roles, err := sc.Roles(ctx)
	if err != nil {
		return Decision{}, err
	}
	d, err := m.IsGrantedForRoles(roles, privilegeType, subject)
	if err != nil {
		return Decision{}, err
	}
	record(privilegeType, d)
	if debug.TraceIsEnabled("authz") {
		debug.Trace("authz", "privilege decided", "type", privilegeType, "subject", fmt.Sprint(subject), "reason", d.Reason)
	} else {
		debug.Log("authz", "privilege decided", "type", privilegeType, "subject", fmt.Sprint(subject), "granted", d.Granted)
	}
	return d, nil
}

func record(kind string, d Decision) {
	decision := "denied"
	if d.Granted {
		decision = "granted"
	}
	observability.AuthorizationDecisionsTotal.WithLabelValues(kind, decision).Inc()
}
