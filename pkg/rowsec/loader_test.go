package rowsec

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rhuss/keystone/pkg/api"
)

const schemaYAML = `
entities:
  Account:
    table: accounts
    primaryKey: [identifier, providerName]
    properties:
      identifier: {}
      providerName: {column: provider_name}
  Document:
    table: documents
    primaryKey: [id]
    properties:
      id: {}
      status: {column: doc_status}
      owner:
        kind: toOne
        target: Account
        joinColumns:
          - {column: owner_identifier, referenced: identifier}
          - {column: owner_provider, referenced: providerName}
      tags: {kind: toMany, target: Tag}
  Tag:
    table: tags
    primaryKey: [id]
    properties:
      id: {}
`

func TestParseSchema(t *testing.T) {
	s, err := ParseSchema([]byte(schemaYAML))
	if err != nil {
		t.Fatalf("ParseSchema: %v", err)
	}

	if got := strings.Join(s.Entities(), ","); got != "Account,Document,Tag" {
		t.Errorf("Entities() = %s", got)
	}
	doc, err := s.Entity("Document")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Table != "documents" {
		t.Errorf("table = %q, want documents", doc.Table)
	}
	if got := doc.Properties["id"].Column; got != "id" {
		t.Errorf("id column = %q, want default id", got)
	}
	if got := doc.Properties["status"].Column; got != "doc_status" {
		t.Errorf("status column = %q, want doc_status", got)
	}
	owner := doc.Properties["owner"]
	if owner.Kind != ToOne || owner.Target != "Account" || len(owner.JoinColumns) != 2 {
		t.Errorf("owner = %+v", owner)
	}
	if owner.JoinColumns[1] != (JoinColumn{Column: "owner_provider", Referenced: "providerName"}) {
		t.Errorf("join column = %+v", owner.JoinColumns[1])
	}
	if doc.Properties["tags"].Kind != ToMany {
		t.Errorf("tags kind = %v, want ToMany", doc.Properties["tags"].Kind)
	}
}

func TestParseSchemaGeneratesFilters(t *testing.T) {
	s, err := ParseSchema([]byte(schemaYAML))
	if err != nil {
		t.Fatal(err)
	}
	c := Comparison{Property: "owner", Operator: Equals, Operand: GlobalLookup{Object: "account"}}
	frag, err := NewGenerator(s).Generate(t.Context(), globals{"account": alice()}, "Document", "d", c, 0)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	want := "(d.owner_identifier = $1 AND d.owner_provider = $2)"
	if frag.SQL != want {
		t.Errorf("SQL = %q, want %q", frag.SQL, want)
	}
}

func TestParseSchemaErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown kind",
			yaml: "entities:\n  A:\n    table: a\n    primaryKey: [id]\n    properties:\n      id: {kind: manyToMany}\n",
			want: "unknown kind",
		},
		{
			name: "unknown field",
			yaml: "entities:\n  A:\n    tabel: a\n",
			want: "parsing schema",
		},
		{
			name: "unknown target",
			yaml: "entities:\n  A:\n    table: a\n    primaryKey: [id]\n    properties:\n      id: {}\n      b: {kind: toOne, target: B, joinColumns: [{column: b_id, referenced: id}]}\n",
			want: "unknown entity",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSchema([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, api.ErrConfiguration) {
				t.Errorf("error %v is not a configuration error", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	if err := os.WriteFile(path, []byte(schemaYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSchema(path); err != nil {
		t.Fatalf("LoadSchema: %v", err)
	}
	if _, err := LoadSchema(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, api.ErrConfiguration) {
		t.Errorf("missing file error = %v, want configuration error", err)
	}
}
