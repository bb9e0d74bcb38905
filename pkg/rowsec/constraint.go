package rowsec

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rhuss/keystone/pkg/api"
)

// Operator compares a property with an operand.
type Operator string

// Supported operators.
const (
	Equals         Operator = "equals"
	NotEquals      Operator = "notEquals"
	LessThan       Operator = "lessThan"
	LessOrEqual    Operator = "lessOrEqual"
	GreaterThan    Operator = "greaterThan"
	GreaterOrEqual Operator = "greaterOrEqual"
	Like           Operator = "like"
	NotLike        Operator = "notLike"
	In             Operator = "in"
	NotIn          Operator = "notIn"
)

var sqlOperators = map[Operator]string{
	Equals:         "=",
	NotEquals:      "<>",
	LessThan:       "<",
	LessOrEqual:    "<=",
	GreaterThan:    ">",
	GreaterOrEqual: ">=",
	Like:           "LIKE",
	NotLike:        "NOT LIKE",
}

func (o Operator) valid() bool {
	_, ok := sqlOperators[o]
	return ok || o == In || o == NotIn
}

// Constraint is a node of a row constraint tree: And, Or, Not or Comparison.
type Constraint interface {
	constraint()
}

// And matches when every child matches. An empty And matches everything.
type And []Constraint

// Or matches when any child matches. An empty Or matches nothing.
type Or []Constraint

// Not negates its child.
type Not struct {
	Constraint Constraint
}

// Comparison compares the property at a dotted path, e.g. "owner.department.name".
type Comparison struct {
	Property string
	Operator Operator
	Operand  Operand
}

func (And) constraint()        {}
func (Or) constraint()         {}
func (Not) constraint()        {}
func (Comparison) constraint() {}

// ParseConstraint reads a constraint tree from YAML.
func ParseConstraint(n *yaml.Node) (Constraint, error) {
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: constraint must be a mapping", n.Line)
	}
	fields := make(map[string]*yaml.Node, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		fields[n.Content[i].Value] = n.Content[i+1]
	}

	if len(fields) == 1 {
		for key, child := range fields {
			switch key {
			case "and", "or":
				return parseJunction(key, child)
			case "not":
				inner, err := ParseConstraint(child)
				if err != nil {
					return nil, err
				}
				return Not{Constraint: inner}, nil
			}
		}
	}

	prop, op, operand := fields["property"], fields["operator"], fields["operand"]
	if prop == nil || op == nil || operand == nil || len(fields) != 3 {
		return nil, fmt.Errorf("line %d: expected and, or, not or property/operator/operand", n.Line)
	}
	c := Comparison{Property: strings.TrimSpace(prop.Value), Operator: Operator(op.Value)}
	if c.Property == "" {
		return nil, fmt.Errorf("line %d: empty property", prop.Line)
	}
	if !c.Operator.valid() {
		return nil, fmt.Errorf("line %d: unknown operator %q", op.Line, op.Value)
	}
	parsed, err := ParseOperand(operand)
	if err != nil {
		return nil, err
	}
	c.Operand = parsed
	return c, nil
}

func parseJunction(key string, n *yaml.Node) (Constraint, error) {
	if n.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("line %d: %s expects a list", n.Line, key)
	}
	children := make([]Constraint, 0, len(n.Content))
	for _, item := range n.Content {
		c, err := ParseConstraint(item)
		if err != nil {
			return nil, err
		}
		children = append(children, c)
	}
	if key == "and" {
		return And(children), nil
	}
	return Or(children), nil
}

// Validate checks every property path of c against the entity. Collection
// valued and inverse side paths are unsupported.
func Validate(s *Schema, entity string, c Constraint) error {
	e, err := s.Entity(entity)
	if err != nil {
		return err
	}
	return validate(s, e, c)
}

func validate(s *Schema, e *Entity, c Constraint) error {
	switch c := c.(type) {
	case And:
		for _, child := range c {
			if err := validate(s, e, child); err != nil {
				return err
			}
		}
	case Or:
		for _, child := range c {
			if err := validate(s, e, child); err != nil {
				return err
			}
		}
	case Not:
		return validate(s, e, c.Constraint)
	case Comparison:
		return validatePath(s, e, strings.Split(c.Property, "."), c.Operator)
	}
	return nil
}

func validatePath(s *Schema, e *Entity, path []string, op Operator) error {
	p, err := s.property(e, path[0])
	if err != nil {
		return err
	}
	rest := path[1:]
	switch {
	case p.Kind == Scalar && len(rest) > 0:
		return api.NewConfigurationError(e.Name, fmt.Sprintf("scalar property %q has no property %q", path[0], rest[0]))
	case p.Kind == ToOne && len(rest) == 0 && !associationOperator(op):
		return api.NewUnsupportedConstraintError(e.Name,
			fmt.Sprintf("association %q only supports equals, notEquals, in and notIn", path[0]))
	case p.Kind == ToOne && len(rest) > 0:
		target, err := s.Entity(p.Target)
		if err != nil {
			return err
		}
		return validatePath(s, target, rest, op)
	}
	return nil
}

func associationOperator(op Operator) bool {
	return op == Equals || op == NotEquals || op == In || op == NotIn
}
