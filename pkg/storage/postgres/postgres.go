// Package postgres provides a PostgreSQL implementation of account.Store.
// It uses pgx/v5 for connection pooling and stores role assignments as a
// TEXT[] column.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/rhuss/keystone/pkg/account"
)

// Store is a PostgreSQL-backed account store.
type Store struct {
	pool *pgxpool.Pool
}

// Ensure Store implements account.Store at compile time.
var _ account.Store = (*Store)(nil)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

const selectColumns = `
	SELECT account_identifier, provider_name, credentials_source, created_at,
	       expires_at, failed_attempts, last_success_at, roles
	FROM accounts`

// Find returns the account for the identifier and provider.
func (s *Store) Find(ctx context.Context, identifier, providerName string) (*account.Account, error) {
	row := s.pool.QueryRow(ctx,
		selectColumns+" WHERE account_identifier = $1 AND provider_name = $2",
		identifier, providerName,
	)
	a, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, account.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying account: %w", err)
	}
	return a, nil
}

// Create inserts a new account.
func (s *Store) Create(ctx context.Context, a *account.Account) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (
			account_identifier, provider_name, credentials_source, created_at,
			expires_at, failed_attempts, last_success_at, roles
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		a.Identifier, a.ProviderName, a.CredentialsSource, a.CreatedAt,
		a.ExpiresAt, a.FailedAttempts, a.LastSuccessAt, roleArray(a.RoleIDs),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return account.ErrConflict
		}
		return fmt.Errorf("inserting account: %w", err)
	}
	return nil
}

// Update replaces the mutable columns of an existing account.
func (s *Store) Update(ctx context.Context, a *account.Account) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE accounts
		SET credentials_source = $3, expires_at = $4, failed_attempts = $5,
		    last_success_at = $6, roles = $7
		WHERE account_identifier = $1 AND provider_name = $2
	`,
		a.Identifier, a.ProviderName, a.CredentialsSource, a.ExpiresAt,
		a.FailedAttempts, a.LastSuccessAt, roleArray(a.RoleIDs),
	)
	if err != nil {
		return fmt.Errorf("updating account: %w", err)
	}
	if result.RowsAffected() == 0 {
		return account.ErrNotFound
	}
	return nil
}

// Delete removes an account.
func (s *Store) Delete(ctx context.Context, identifier, providerName string) error {
	result, err := s.pool.Exec(ctx,
		"DELETE FROM accounts WHERE account_identifier = $1 AND provider_name = $2",
		identifier, providerName,
	)
	if err != nil {
		return fmt.Errorf("deleting account: %w", err)
	}
	if result.RowsAffected() == 0 {
		return account.ErrNotFound
	}
	return nil
}

// List returns all accounts of a provider ordered by identifier.
func (s *Store) List(ctx context.Context, providerName string) ([]*account.Account, error) {
	rows, err := s.pool.Query(ctx,
		selectColumns+" WHERE provider_name = $1 ORDER BY account_identifier",
		providerName,
	)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	var out []*account.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DB returns a database/sql handle sharing the pool, for callers that run
// row-security filtered queries through database/sql.
func (s *Store) DB() *sql.DB {
	return stdlib.OpenDBFromPool(s.pool)
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func scanAccount(row pgx.Row) (*account.Account, error) {
	var a account.Account
	err := row.Scan(
		&a.Identifier, &a.ProviderName, &a.CredentialsSource, &a.CreatedAt,
		&a.ExpiresAt, &a.FailedAttempts, &a.LastSuccessAt, &a.RoleIDs,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// roleArray avoids writing NULL into the NOT NULL roles column.
func roleArray(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

// isDuplicateKey checks if the error is a PostgreSQL unique violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
