// Package authz decides privileges for a set of roles.
//
// Decisions by privilege type fail open: a subject no privilege of the type
// matches is granted. Decisions by privilege target fail closed: a target no
// role votes on is denied. In both cases a DENY overrides any GRANT.
package authz
