package rowsec

import (
	"errors"
	"fmt"
	"slices"

	"github.com/rhuss/keystone/pkg/api"
)

// Kind is the shape of an entity property.
type Kind int

const (
	// Scalar properties map to a single column.
	Scalar Kind = iota

	// ToOne associations are owned through foreign key columns.
	ToOne

	// ToMany associations are collection valued.
	ToMany
)

// JoinColumn maps a foreign key column to a property of the target entity.
type JoinColumn struct {
	Column     string
	Referenced string
}

// Property describes how an entity property is stored.
type Property struct {
	Kind        Kind
	Column      string
	Target      string
	JoinColumns []JoinColumn

	// Inverse marks the non-owning side of an association, which has no
	// columns in the entity's table.
	Inverse bool
}

// Entity describes a table.
type Entity struct {
	Name       string
	Table      string
	PrimaryKey []string
	Properties map[string]Property
}

// Schema is the validated set of entities filters can be generated for.
type Schema struct {
	entities map[string]*Entity
}

// NewSchema validates the entities and their associations.
func NewSchema(entities ...*Entity) (*Schema, error) {
	s := &Schema{entities: make(map[string]*Entity, len(entities))}
	var errs []error
	for _, e := range entities {
		if _, dup := s.entities[e.Name]; dup {
			errs = append(errs, fmt.Errorf("entity %s defined twice", e.Name))
			continue
		}
		s.entities[e.Name] = e
	}
	for _, e := range entities {
		errs = append(errs, s.validate(e)...)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, api.NewConfigurationError("rowsec schema", "invalid schema").WithCause(err)
	}
	return s, nil
}

func (s *Schema) validate(e *Entity) []error {
	var errs []error
	if e.Table == "" {
		errs = append(errs, fmt.Errorf("entity %s: no table", e.Name))
	}
	if len(e.PrimaryKey) == 0 {
		errs = append(errs, fmt.Errorf("entity %s: no primary key", e.Name))
	}
	for _, pk := range e.PrimaryKey {
		if p, ok := e.Properties[pk]; !ok || p.Kind != Scalar {
			errs = append(errs, fmt.Errorf("entity %s: primary key %s is not a scalar property", e.Name, pk))
		}
	}
	for _, name := range sortedNames(e.Properties) {
		p := e.Properties[name]
		switch p.Kind {
		case Scalar:
			if p.Column == "" {
				errs = append(errs, fmt.Errorf("entity %s: property %s has no column", e.Name, name))
			}
		case ToOne, ToMany:
			target, ok := s.entities[p.Target]
			if !ok {
				errs = append(errs, fmt.Errorf("entity %s: property %s targets unknown entity %q", e.Name, name, p.Target))
				continue
			}
			if p.Kind == ToMany || p.Inverse {
				continue
			}
			if len(p.JoinColumns) == 0 {
				errs = append(errs, fmt.Errorf("entity %s: association %s has no join columns", e.Name, name))
			}
			for _, jc := range p.JoinColumns {
				if ref, ok := target.Properties[jc.Referenced]; !ok || ref.Kind != Scalar {
					errs = append(errs, fmt.Errorf("entity %s: association %s references %s.%s, which is not a scalar property",
						e.Name, name, target.Name, jc.Referenced))
				}
			}
		}
	}
	return errs
}

// Entity returns the named entity.
func (s *Schema) Entity(name string) (*Entity, error) {
	e, ok := s.entities[name]
	if !ok {
		return nil, api.NewConfigurationError("rowsec schema", fmt.Sprintf("unknown entity %q", name))
	}
	return e, nil
}

// Entities returns the entity names in order.
func (s *Schema) Entities() []string {
	names := make([]string, 0, len(s.entities))
	for n := range s.entities {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// property resolves one path segment on e.
func (s *Schema) property(e *Entity, name string) (Property, error) {
	p, ok := e.Properties[name]
	if !ok {
		return Property{}, api.NewConfigurationError(e.Name, fmt.Sprintf("unknown property %q", name))
	}
	if p.Kind == ToMany {
		return Property{}, api.NewUnsupportedConstraintError(e.Name,
			fmt.Sprintf("property %q is collection valued", name))
	}
	if p.Inverse {
		return Property{}, api.NewUnsupportedConstraintError(e.Name,
			fmt.Sprintf("property %q is the inverse side of an association", name))
	}
	return p, nil
}

func sortedNames(m map[string]Property) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
