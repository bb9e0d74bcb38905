package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rhuss/keystone/pkg/debug"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, KEYSTONE_CONFIG env, ./config.yaml, /etc/keystone/config.yaml)
//  3. KEYSTONE_* environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
		debug.Log("config", "config file loaded", "path", filePath)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. KEYSTONE_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/keystone/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv("KEYSTONE_CONFIG"); envPath != "" {
		return envPath
	}
	for _, path := range []string{"config.yaml", "/etc/keystone/config.yaml"} {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnvOverrides maps KEYSTONE_* environment variables to config fields.
// Malformed numbers and durations are reported instead of ignored.
func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"KEYSTONE_POLICY_FILE":    &cfg.Security.PolicyFile,
		"KEYSTONE_STRATEGY":       &cfg.Security.Strategy,
		"KEYSTONE_CSRF_STRATEGY":  &cfg.Security.CSRFStrategy,
		"KEYSTONE_SESSION_COOKIE": &cfg.Session.CookieName,
		"KEYSTONE_STORAGE":        &cfg.Storage.Type,
		"KEYSTONE_POSTGRES_DSN":   &cfg.Storage.Postgres.DSN,
		"KEYSTONE_ROWSEC_SCHEMA":  &cfg.RowSecurity.SchemaFile,
		"KEYSTONE_LOG_FORMAT":     &cfg.Logging.Format,
		"KEYSTONE_METRICS_PATH":   &cfg.Observability.Metrics.Path,
	}
	for name, field := range strs {
		if v := os.Getenv(name); v != "" {
			*field = v
		}
	}

	var errs []string
	if v := os.Getenv("KEYSTONE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("KEYSTONE_PORT: %v", err))
		} else {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("KEYSTONE_SESSION_IDLE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("KEYSTONE_SESSION_IDLE_TIMEOUT: %v", err))
		} else {
			cfg.Session.IdleTimeout = d
		}
	}
	if v := os.Getenv("KEYSTONE_ALLOW_IF_ALL_ABSTAIN"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("KEYSTONE_ALLOW_IF_ALL_ABSTAIN: %v", err))
		} else {
			cfg.Security.AllowIfAllAbstain = b
		}
	}
	if v := os.Getenv("KEYSTONE_METRICS_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("KEYSTONE_METRICS_ENABLED: %v", err))
		} else {
			cfg.Observability.Metrics.Enabled = b
		}
	}

	// KEYSTONE_PROVIDERS: JSON array of provider configs, replacing the file's.
	if v := os.Getenv("KEYSTONE_PROVIDERS"); v != "" {
		providers, err := parseProvidersJSON(v)
		if err != nil {
			errs = append(errs, err.Error())
		} else {
			cfg.Security.Providers = providers
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// parseProvidersJSON parses a JSON array of provider configurations. JSON
// keys follow the YAML field names.
func parseProvidersJSON(jsonStr string) ([]ProviderConfig, error) {
	if !json.Valid([]byte(jsonStr)) {
		return nil, errors.New("parsing KEYSTONE_PROVIDERS: invalid JSON")
	}
	// YAML is a superset of JSON, so the yaml tags apply.
	var providers []ProviderConfig
	if err := yaml.Unmarshal([]byte(jsonStr), &providers); err != nil {
		return nil, fmt.Errorf("parsing KEYSTONE_PROVIDERS: %w", err)
	}
	return providers, nil
}

// resolveFileReferences reads _file fields and populates the corresponding value fields.
// For each field ending in _file, if the value field is empty and the file field is set,
// the file is read, whitespace is trimmed, and the value field is populated.
func resolveFileReferences(cfg *Config) error {
	if cfg.Storage.Postgres.DSNFile != "" && cfg.Storage.Postgres.DSN == "" {
		val, err := readSecretFile(cfg.Storage.Postgres.DSNFile)
		if err != nil {
			return fmt.Errorf("storage.postgres.dsn_file: %w", err)
		}
		cfg.Storage.Postgres.DSN = val
	}

	for i := range cfg.Security.Providers {
		p := &cfg.Security.Providers[i]
		if p.JWT.SecretFile != "" && p.JWT.Secret == "" {
			val, err := readSecretFile(p.JWT.SecretFile)
			if err != nil {
				return fmt.Errorf("security.providers[%d].jwt.secret_file: %w", i, err)
			}
			p.JWT.Secret = val
		}
		for j := range p.APIKeys {
			if p.APIKeys[j].KeyFile != "" && p.APIKeys[j].Key == "" {
				val, err := readSecretFile(p.APIKeys[j].KeyFile)
				if err != nil {
					return fmt.Errorf("security.providers[%d].api_keys[%d].key_file: %w", i, j, err)
				}
				p.APIKeys[j].Key = val
			}
		}
	}
	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
