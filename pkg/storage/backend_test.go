package storage

import "testing"

func TestValidateBackend(t *testing.T) {
	for _, name := range []string{"memory", "postgres", "Postgres"} {
		if err := ValidateBackend(name); err != nil {
			t.Errorf("ValidateBackend(%q) = %v, want nil", name, err)
		}
	}
	if err := ValidateBackend("redis"); err == nil {
		t.Error("ValidateBackend(redis) should fail")
	}
}
