// Package storage groups the account storage adapters.
//
// Adapters (memory, postgres) implement the account.Store interface defined
// in pkg/account and return the account.ErrNotFound and account.ErrConflict
// sentinels. This package contains only the shared configuration helpers.
package storage
