// Package policy holds the immutable role graph that authorization decisions
// are made against.
//
// A policy consists of privilege targets and roles. A privilege target names a
// protectable decision point ("edit any article", "see invoices of customer X")
// together with a matcher that decides which concrete subjects it covers. The
// matcher syntax belongs to the target's privilege type; types are pluggable
// through [Types]. A role bundles privileges, each a GRANT, DENY or ABSTAIN
// verdict for one target with optional parameter bindings, and inherits the
// privileges of its parent roles.
//
// The graph is built once by [Builder.Build] (or [Load] from YAML), checked for
// unknown roles, cycles and broken matchers, and is read-only afterwards. Role
// closures and effective privilege sets are computed during the build, so
// lookups are plain map and slice reads and safe for concurrent use.
//
// Three abstract system roles always exist: [Everybody], [Anonymous] and
// [AuthenticatedUser]. Every parameterless target that [Everybody] does not
// configure explicitly receives an ABSTAIN privilege on it, which turns a
// target nobody votes on into a refusal rather than an unconfigured type.
package policy
