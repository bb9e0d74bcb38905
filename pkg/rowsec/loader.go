package rowsec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/rhuss/keystone/pkg/api"
	"gopkg.in/yaml.v3"
)

// schemaDocument is the YAML layout of a schema file:
//
//	entities:
//	  Document:
//	    table: documents
//	    primaryKey: [id]
//	    properties:
//	      id: {column: id}
//	      owner:
//	        kind: toOne
//	        target: Account
//	        joinColumns:
//	          - {column: owner_identifier, referenced: identifier}
//	      tags: {kind: toMany, target: Tag}
type schemaDocument struct {
	Entities map[string]entityDocument `yaml:"entities"`
}

type entityDocument struct {
	Table      string                      `yaml:"table"`
	PrimaryKey []string                    `yaml:"primaryKey"`
	Properties map[string]propertyDocument `yaml:"properties"`
}

type propertyDocument struct {
	Kind        string       `yaml:"kind"`
	Column      string       `yaml:"column"`
	Target      string       `yaml:"target"`
	Inverse     bool         `yaml:"inverse"`
	JoinColumns []JoinColumn `yaml:"joinColumns"`
}

var kindNames = map[string]Kind{
	"":       Scalar,
	"scalar": Scalar,
	"toOne":  ToOne,
	"toMany": ToMany,
}

// LoadSchema reads a schema file.
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, api.NewConfigurationError(path, "reading rowsec schema").WithCause(err)
	}
	s, err := ParseSchema(data)
	if err != nil {
		return nil, fmt.Errorf("rowsec schema %s: %w", path, err)
	}
	slog.Info("rowsec schema loaded", "path", path, "entities", len(s.entities))
	return s, nil
}

// ParseSchema builds a schema from YAML. Scalar properties without a
// column are stored in a column of the same name.
func ParseSchema(data []byte) (*Schema, error) {
	var doc schemaDocument
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, api.NewConfigurationError("rowsec schema", "parsing schema YAML").WithCause(err)
	}

	var (
		entities []*Entity
		errs     []error
	)
	for _, name := range sortedKeys(doc.Entities) {
		ed := doc.Entities[name]
		e := &Entity{
			Name:       name,
			Table:      ed.Table,
			PrimaryKey: ed.PrimaryKey,
			Properties: make(map[string]Property, len(ed.Properties)),
		}
		for _, pname := range sortedKeys(ed.Properties) {
			pd := ed.Properties[pname]
			kind, ok := kindNames[pd.Kind]
			if !ok {
				errs = append(errs, fmt.Errorf("entity %s: property %s has unknown kind %q", name, pname, pd.Kind))
				continue
			}
			p := Property{
				Kind:        kind,
				Column:      pd.Column,
				Target:      pd.Target,
				JoinColumns: pd.JoinColumns,
				Inverse:     pd.Inverse,
			}
			if kind == Scalar && p.Column == "" {
				p.Column = pname
			}
			e.Properties[pname] = p
		}
		entities = append(entities, e)
	}
	if len(errs) > 0 {
		return nil, api.NewConfigurationError("rowsec schema", "invalid schema").WithCause(errors.Join(errs...))
	}
	return NewSchema(entities...)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
