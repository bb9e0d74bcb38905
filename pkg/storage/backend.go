package storage

import (
	"fmt"
	"strings"
)

// Backend names accepted by the storage configuration.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// ValidateBackend checks that name is a supported storage backend.
func ValidateBackend(name string) error {
	switch strings.ToLower(name) {
	case BackendMemory, BackendPostgres:
		return nil
	}
	return fmt.Errorf("unsupported storage backend %q (expected %s or %s)", name, BackendMemory, BackendPostgres)
}
