// Package memory provides an in-memory implementation of account.Store for
// tests and single-instance deployments. Accounts are lost when the process
// restarts.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/rhuss/keystone/pkg/account"
)

// Store is an in-memory account store.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]*account.Account
}

// Ensure Store implements account.Store at compile time.
var _ account.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{accounts: make(map[string]*account.Account)}
}

func key(identifier, providerName string) string {
	return providerName + "/" + identifier
}

// Find returns a copy of the stored account.
func (s *Store) Find(_ context.Context, identifier, providerName string) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[key(identifier, providerName)]
	if !ok {
		return nil, account.ErrNotFound
	}
	return a.Clone(), nil
}

// Create stores a copy of a new account.
func (s *Store) Create(_ context.Context, a *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := a.Key()
	if _, exists := s.accounts[k]; exists {
		return account.ErrConflict
	}
	s.accounts[k] = a.Clone()
	return nil
}

// Update replaces a stored account.
func (s *Store) Update(_ context.Context, a *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := a.Key()
	if _, exists := s.accounts[k]; !exists {
		return account.ErrNotFound
	}
	s.accounts[k] = a.Clone()
	return nil
}

// Delete removes an account.
func (s *Store) Delete(_ context.Context, identifier, providerName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(identifier, providerName)
	if _, exists := s.accounts[k]; !exists {
		return account.ErrNotFound
	}
	delete(s.accounts, k)
	return nil
}

// List returns copies of all accounts of a provider ordered by identifier.
func (s *Store) List(_ context.Context, providerName string) ([]*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*account.Account
	for _, a := range s.accounts {
		if a.ProviderName == providerName {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out, nil
}
