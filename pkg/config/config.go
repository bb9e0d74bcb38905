// Package config provides unified configuration for keystone.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (KEYSTONE_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Config holds all configuration for the keystone server.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Security      SecurityConfig      `yaml:"security"`
	Session       SessionConfig       `yaml:"session"`
	Storage       StorageConfig       `yaml:"storage"`
	RowSecurity   RowSecurityConfig   `yaml:"row_security"`
	Observability ObservabilityConfig `yaml:"observability"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`          // default: 8080
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"` // default: 30s
}

// SecurityConfig holds the authentication and authorization setup.
type SecurityConfig struct {
	PolicyFile        string           `yaml:"policy_file"`
	Strategy          string           `yaml:"strategy"`             // default: "oneToken"
	AllowIfAllAbstain bool             `yaml:"allow_if_all_abstain"` // default: false
	CSRFStrategy      string           `yaml:"csrf_strategy"`        // default: "onePerSession"
	Providers         []ProviderConfig `yaml:"providers"`
}

// ProviderConfig describes one authentication provider and its token.
type ProviderConfig struct {
	Name       string           `yaml:"name"`
	Type       string           `yaml:"type"`  // "password", "apikey" or "jwt"
	Token      string           `yaml:"token"` // token kind, default depends on type
	Patterns   []PatternConfig  `yaml:"patterns"`
	EntryPoint EntryPointConfig `yaml:"entry_point"`

	Throttle ThrottleConfig  `yaml:"throttle"` // password only
	Accounts []AccountConfig `yaml:"accounts"` // password only, seeded at startup
	APIKeys  []APIKeyConfig  `yaml:"api_keys"` // apikey only
	JWT      JWTConfig       `yaml:"jwt"`      // jwt only
}

// PatternConfig restricts the requests a provider's token is active for.
type PatternConfig struct {
	Type  string `yaml:"type"` // "Path", "Host", "Method" or "Ip"
	Value string `yaml:"value"`
}

// EntryPointConfig describes how an unauthenticated client is challenged.
type EntryPointConfig struct {
	Type  string `yaml:"type"` // "HTTPBasic", "WebRedirect" or "Unauthorized"
	Realm string `yaml:"realm"`
	URI   string `yaml:"uri"`
}

// ThrottleConfig limits password attempts per account.
type ThrottleConfig struct {
	PerMinute int `yaml:"per_minute"` // 0 disables throttling
	Burst     int `yaml:"burst"`
}

// AccountConfig seeds a password account. Existing accounts are left as
// they are.
type AccountConfig struct {
	Identifier   string   `yaml:"identifier"`
	PasswordHash string   `yaml:"password_hash"`
	Roles        []string `yaml:"roles"`
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key     string   `yaml:"key"`
	KeyFile string   `yaml:"key_file"` // _file variant for key
	Account string   `yaml:"account"`
	Roles   []string `yaml:"roles"`
}

// JWTConfig holds bearer token validation settings.
type JWTConfig struct {
	Secret     string        `yaml:"secret"`
	SecretFile string        `yaml:"secret_file"` // _file variant for secret
	JWKSURL    string        `yaml:"jwks_url"`
	Issuer     string        `yaml:"issuer"`
	Audience   string        `yaml:"audience"`
	UserClaim  string        `yaml:"user_claim"`  // default: "sub"
	RolesClaim string        `yaml:"roles_claim"` // default: "roles"
	CacheTTL   time.Duration `yaml:"cache_ttl"`
}

// SessionConfig holds session cookie settings.
type SessionConfig struct {
	CookieName    string        `yaml:"cookie_name"`    // default: "keystone_session"
	IdleTimeout   time.Duration `yaml:"idle_timeout"`   // default: 30m
	SecureCookie  bool          `yaml:"secure_cookie"`  // default: true
	CollectPeriod time.Duration `yaml:"collect_period"` // default: 1m
}

// StorageConfig holds account storage settings.
type StorageConfig struct {
	Type     string         `yaml:"type"` // "memory" or "postgres", default: "memory"
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 25
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: false
}

// RowSecurityConfig enables entity privileges and filtered queries.
type RowSecurityConfig struct {
	SchemaFile string `yaml:"schema_file"` // empty disables EntityPrivilege
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// LoggingConfig holds log level, format and debug categories.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // default: "INFO"
	Format string `yaml:"format"` // "text" or "json", default: "text"
	Debug  string `yaml:"debug"`  // comma-separated debug categories
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Security: SecurityConfig{
			Strategy:     "oneToken",
			CSRFStrategy: "onePerSession",
		},
		Session: SessionConfig{
			CookieName:    "keystone_session",
			IdleTimeout:   30 * time.Minute,
			SecureCookie:  true,
			CollectPeriod: time.Minute,
		},
		Storage: StorageConfig{
			Type: "memory",
			Postgres: PostgresConfig{
				MaxConns: 25,
			},
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}
