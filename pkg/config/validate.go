package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/rhuss/keystone/pkg/policy"
	"github.com/rhuss/keystone/pkg/storage"
)

var (
	strategies     = []string{"anyToken", "oneToken", "allTokens", "atLeastOneToken"}
	csrfStrategies = []string{"onePerSession", "onePerRequest", "onePerUri"}
	providerTypes  = []string{"password", "apikey", "jwt"}
	tokenKinds     = []string{"UsernamePassword", "HTTPBasic", "Bearer", "APIKey"}
	patternTypes   = []string{"Path", "Host", "Method", "Ip"}
	entryPoints    = []string{"", "HTTPBasic", "WebRedirect", "Unauthorized"}
	logFormats     = []string{"text", "json"}
)

// Validate checks the configuration for required fields and valid values.
// All problems are reported together, each with its field path.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}

	if c.Security.PolicyFile == "" {
		errs = append(errs, fmt.Errorf("security.policy_file is required"))
	}
	errs = append(errs, oneOf("security.strategy", c.Security.Strategy, strategies))
	errs = append(errs, oneOf("security.csrf_strategy", c.Security.CSRFStrategy, csrfStrategies))
	if len(c.Security.Providers) == 0 {
		errs = append(errs, fmt.Errorf("security.providers needs at least one provider"))
	}
	names := make(map[string]bool)
	for i, p := range c.Security.Providers {
		errs = append(errs, p.validate(fmt.Sprintf("security.providers[%d]", i))...)
		if names[p.Name] {
			errs = append(errs, fmt.Errorf("security.providers[%d].name %q is used twice", i, p.Name))
		}
		names[p.Name] = true
	}

	if c.Session.CookieName == "" {
		errs = append(errs, fmt.Errorf("session.cookie_name is required"))
	}
	if c.Session.IdleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("session.idle_timeout must be > 0, got %v", c.Session.IdleTimeout))
	}

	if err := storage.ValidateBackend(c.Storage.Type); err != nil {
		errs = append(errs, fmt.Errorf("storage.type must be a supported backend: %w", err))
	}
	postgres := strings.EqualFold(c.Storage.Type, storage.BackendPostgres)
	if postgres && c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
		errs = append(errs, fmt.Errorf("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
	}
	if c.RowSecurity.SchemaFile != "" && !postgres {
		errs = append(errs, fmt.Errorf("row_security.schema_file requires storage.type \"postgres\""))
	}

	errs = append(errs, oneOf("logging.format", c.Logging.Format, logFormats))

	return errors.Join(errs...)
}

func (p ProviderConfig) validate(path string) []error {
	var errs []error
	if p.Name == "" {
		errs = append(errs, fmt.Errorf("%s.name is required", path))
	}
	errs = append(errs, oneOf(path+".type", p.Type, providerTypes))
	if p.Token != "" {
		errs = append(errs, oneOf(path+".token", p.Token, tokenKinds))
	}
	for j, pat := range p.Patterns {
		errs = append(errs, oneOf(fmt.Sprintf("%s.patterns[%d].type", path, j), pat.Type, patternTypes))
	}
	errs = append(errs, oneOf(path+".entry_point.type", p.EntryPoint.Type, entryPoints))
	if p.EntryPoint.Type == "WebRedirect" && p.EntryPoint.URI == "" {
		errs = append(errs, fmt.Errorf("%s.entry_point.uri is required for WebRedirect", path))
	}

	switch p.Type {
	case "apikey":
		if len(p.APIKeys) == 0 {
			errs = append(errs, fmt.Errorf("%s.api_keys is required for apikey providers", path))
		}
		for j, k := range p.APIKeys {
			if k.Key == "" && k.KeyFile == "" {
				errs = append(errs, fmt.Errorf("%s.api_keys[%d] needs key or key_file", path, j))
			}
			if k.Account == "" {
				errs = append(errs, fmt.Errorf("%s.api_keys[%d].account is required", path, j))
			}
			errs = append(errs, assignable(fmt.Sprintf("%s.api_keys[%d].roles", path, j), k.Roles)...)
		}
	case "jwt":
		if p.JWT.Secret == "" && p.JWT.SecretFile == "" && p.JWT.JWKSURL == "" {
			errs = append(errs, fmt.Errorf("%s.jwt needs secret, secret_file or jwks_url", path))
		}
	case "password":
		if p.Throttle.PerMinute < 0 || p.Throttle.Burst < 0 {
			errs = append(errs, fmt.Errorf("%s.throttle values must not be negative", path))
		}
		for j, a := range p.Accounts {
			if a.Identifier == "" {
				errs = append(errs, fmt.Errorf("%s.accounts[%d].identifier is required", path, j))
			}
			if !strings.HasPrefix(a.PasswordHash, "$2") {
				errs = append(errs, fmt.Errorf("%s.accounts[%d].password_hash must be a bcrypt hash", path, j))
			}
			errs = append(errs, assignable(fmt.Sprintf("%s.accounts[%d].roles", path, j), a.Roles)...)
		}
	}
	return errs
}

// assignable rejects system roles, which are abstract and never assigned to
// accounts. Other abstract roles are checked once the policy is loaded.
func assignable(field string, roles []string) []error {
	var errs []error
	for _, id := range roles {
		if policy.IsSystemRole(id) {
			errs = append(errs, fmt.Errorf("%s: system role %s cannot be assigned", field, id))
		}
	}
	return errs
}

// oneOf returns nil when value is allowed. errors.Join skips nil errors.
func oneOf(field, value string, allowed []string) error {
	if slices.Contains(allowed, value) {
		return nil
	}
	quoted := make([]string, 0, len(allowed))
	for _, a := range allowed {
		if a != "" {
			quoted = append(quoted, fmt.Sprintf("%q", a))
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", field, strings.Join(quoted, ", "), value)
}
