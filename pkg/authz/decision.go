package authz

import (
	"fmt"
	"strings"

	"github.com/rhuss/keystone/pkg/policy"
)

// Tally counts the votes behind a decision.
type Tally struct {
	Granted   int
	Denied    int
	Abstained int
}

func (t *Tally) count(p *policy.Privilege) {
	switch {
	case p.IsGranted():
		t.Granted++
	case p.IsDenied():
		t.Denied++
	default:
		t.Abstained++
	}
}

func (t Tally) String() string {
	return fmt.Sprintf("%d granted, %d denied, %d abstained", t.Granted, t.Denied, t.Abstained)
}

// Decision is the outcome of a privilege check.
type Decision struct {
	Granted    bool
	Reason     string
	Tally      Tally
	Privileges []*policy.Privilege
}

func evaluated(privileges []*policy.Privilege, tally Tally) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Evaluated following %d privilege target(s):\n", len(privileges))
	for _, p := range privileges {
		b.WriteString(p.String())
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "(%s)", tally)
	return b.String()
}

// dedupe collects privileges across roles. Inherited privileges are shared
// between a role and its parents and count once.
func dedupe(roles []*policy.Role, collect func(*policy.Role) []*policy.Privilege) []*policy.Privilege {
	seen := make(map[*policy.Privilege]bool)
	var out []*policy.Privilege
	for _, r := range roles {
		for _, p := range collect(r) {
			if p != nil && !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}
