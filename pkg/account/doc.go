// Package account defines the identity record that authentication binds to
// tokens and authorization reads roles from.
//
// An account is identified by the pair (identifier, provider name): the same
// login name may exist once per authentication provider. Accounts carry role
// identifiers rather than roles; [Account.Roles] resolves them against the
// policy graph and prunes identifiers the policy no longer defines.
//
// Storage adapters live in pkg/storage/memory and pkg/storage/postgres and
// implement [Store].
package account
