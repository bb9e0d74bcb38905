package rowsec

import (
	"context"
	"fmt"
	"strings"

	"github.com/rhuss/keystone/pkg/api"
)

// Fragment is a SQL predicate with its positional arguments.
type Fragment struct {
	SQL  string
	Args []any
}

// IsEmpty reports whether the fragment filters nothing.
func (f Fragment) IsEmpty() bool {
	return f.SQL == ""
}

// Generator renders constraints into SQL predicates.
type Generator struct {
	schema *Schema
}

// NewGenerator creates a generator for the schema.
func NewGenerator(s *Schema) *Generator {
	return &Generator{schema: s}
}

// Schema returns the schema constraints are rendered against.
func (g *Generator) Schema() *Schema {
	return g.schema
}

// Generate renders c for rows of entity selected as alias. Placeholders are
// numbered from offset+1, so the fragment can be appended to a query that
// already binds offset arguments. Associations are compared on their
// foreign key columns; nested paths become IN subqueries, never joins.
func (g *Generator) Generate(ctx context.Context, r Resolver, entity, alias string, c Constraint, offset int) (Fragment, error) {
	e, err := g.schema.Entity(entity)
	if err != nil {
		return Fragment{}, err
	}
	b := &builder{ctx: ctx, resolver: r, schema: g.schema, offset: offset}
	sql, err := b.render(e, alias, c)
	if err != nil {
		return Fragment{}, err
	}
	return Fragment{SQL: sql, Args: b.args}, nil
}

type builder struct {
	ctx        context.Context
	resolver   Resolver
	schema     *Schema
	offset     int
	args       []any
	subqueries int
}

func (b *builder) bind(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", b.offset+len(b.args))
}

func (b *builder) render(e *Entity, alias string, c Constraint) (string, error) {
	switch c := c.(type) {
	case And:
		return b.junction(e, alias, c, " AND ", "1 = 1")
	case Or:
		return b.junction(e, alias, c, " OR ", "1 = 0")
	case Not:
		inner, err := b.render(e, alias, c.Constraint)
		if err != nil {
			return "", err
		}
		return "NOT " + group(inner), nil
	case Comparison:
		value, err := c.Operand.Resolve(b.ctx, b.resolver)
		if err != nil {
			return "", fmt.Errorf("resolving operand of %s: %w", c.Property, err)
		}
		return b.path(e, alias, strings.Split(c.Property, "."), c.Operator, value)
	}
	return "", fmt.Errorf("unknown constraint %T", c)
}

func (b *builder) junction(e *Entity, alias string, children []Constraint, sep, empty string) (string, error) {
	if len(children) == 0 {
		return empty, nil
	}
	parts := make([]string, 0, len(children))
	for _, child := range children {
		part, err := b.render(e, alias, child)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

func (b *builder) path(e *Entity, alias string, path []string, op Operator, value any) (string, error) {
	p, err := b.schema.property(e, path[0])
	if err != nil {
		return "", err
	}
	rest := path[1:]

	switch {
	case p.Kind == Scalar:
		if len(rest) > 0 {
			return "", api.NewConfigurationError(e.Name, fmt.Sprintf("scalar property %q has no property %q", path[0], rest[0]))
		}
		return b.scalar(alias+"."+p.Column, op, value), nil
	case len(rest) == 0:
		return b.association(e, alias, path[0], p, op, value)
	}

	target, err := b.schema.Entity(p.Target)
	if err != nil {
		return "", err
	}
	b.subqueries++
	sub := fmt.Sprintf("sub%d", b.subqueries)
	inner, err := b.path(target, sub, rest, op, value)
	if err != nil {
		return "", err
	}
	fks := make([]string, len(p.JoinColumns))
	refs := make([]string, len(p.JoinColumns))
	for i, jc := range p.JoinColumns {
		fks[i] = alias + "." + jc.Column
		refs[i] = sub + "." + target.Properties[jc.Referenced].Column
	}
	lhs := fks[0]
	if len(fks) > 1 {
		lhs = "(" + strings.Join(fks, ", ") + ")"
	}
	return fmt.Sprintf("%s IN (SELECT %s FROM %s %s WHERE %s)",
		lhs, strings.Join(refs, ", "), target.Table, sub, inner), nil
}

func (b *builder) scalar(column string, op Operator, value any) string {
	switch op {
	case In, NotIn:
		return b.list(column, op, values(value))
	case Equals:
		if isNil(value) {
			return column + " IS NULL"
		}
	case NotEquals:
		if isNil(value) {
			return column + " IS NOT NULL"
		}
	}
	return column + " " + sqlOperators[op] + " " + b.bind(value)
}

func (b *builder) list(column string, op Operator, vals []any) string {
	if len(vals) == 0 {
		if op == In {
			return "1 = 0"
		}
		return "1 = 1"
	}
	var placeholders []string
	hasNull := false
	for _, v := range vals {
		if isNil(v) {
			hasNull = true
			continue
		}
		placeholders = append(placeholders, b.bind(v))
	}

	var expr, nullExpr, join string
	if op == In {
		if len(placeholders) > 0 {
			expr = column + " IN (" + strings.Join(placeholders, ", ") + ")"
		}
		nullExpr, join = column+" IS NULL", " OR "
	} else {
		if len(placeholders) > 0 {
			expr = column + " NOT IN (" + strings.Join(placeholders, ", ") + ")"
		}
		nullExpr, join = column+" IS NOT NULL", " AND "
	}
	switch {
	case !hasNull:
		return expr
	case expr == "":
		return nullExpr
	}
	return "(" + expr + join + nullExpr + ")"
}

// association compares the foreign key columns of a to-one association
// with the primary key of the operand object(s).
func (b *builder) association(e *Entity, alias, name string, p Property, op Operator, value any) (string, error) {
	if !associationOperator(op) {
		return "", api.NewUnsupportedConstraintError(e.Name,
			fmt.Sprintf("association %q only supports equals, notEquals, in and notIn", name))
	}
	objects := []any{value}
	if op == In || op == NotIn {
		objects = values(value)
	}

	keys := make([][]any, 0, len(objects))
	for _, obj := range objects {
		k, err := foreignKey(e, name, p, obj)
		if err != nil {
			return "", err
		}
		keys = append(keys, k)
	}

	if len(p.JoinColumns) == 1 {
		column := alias + "." + p.JoinColumns[0].Column
		flat := make([]any, len(keys))
		for i, k := range keys {
			flat[i] = k[0]
		}
		if op == In || op == NotIn {
			return b.list(column, op, flat), nil
		}
		return b.scalar(column, op, flat[0]), nil
	}

	if len(keys) == 0 {
		if op == In {
			return "1 = 0", nil
		}
		return "1 = 1", nil
	}
	matches := make([]string, len(keys))
	for i, k := range keys {
		conds := make([]string, len(k))
		for j, jc := range p.JoinColumns {
			column := alias + "." + jc.Column
			if isNil(k[j]) {
				conds[j] = column + " IS NULL"
			} else {
				conds[j] = column + " = " + b.bind(k[j])
			}
		}
		matches[i] = group(strings.Join(conds, " AND "))
	}
	expr := matches[0]
	if len(matches) > 1 {
		expr = "(" + strings.Join(matches, " OR ") + ")"
	}
	if op == NotEquals || op == NotIn {
		return "NOT " + group(expr), nil
	}
	return expr, nil
}

// foreignKey returns the values the join columns must hold to reference
// obj. A nil object references nothing, so every column is NULL.
func foreignKey(e *Entity, name string, p Property, obj any) ([]any, error) {
	key := make([]any, len(p.JoinColumns))
	if isNil(obj) {
		return key, nil
	}
	pk, ok := obj.(Identifiable)
	if !ok {
		if len(p.JoinColumns) != 1 {
			return nil, api.NewConfigurationError(e.Name,
				fmt.Sprintf("association %q has a composite key; operand %T has no primary key", name, obj))
		}
		key[0] = obj
		return key, nil
	}
	primary := pk.PrimaryKey()
	for i, jc := range p.JoinColumns {
		v, ok := primary[jc.Referenced]
		if !ok {
			return nil, api.NewConfigurationError(e.Name,
				fmt.Sprintf("operand for association %q lacks key %q", name, jc.Referenced))
		}
		key[i] = v
	}
	return key, nil
}

// group parenthesizes expr unless it already is a single parenthesized group.
func group(expr string) string {
	if strings.HasPrefix(expr, "(") {
		depth := 0
		for i, r := range expr {
			switch r {
			case '(':
				depth++
			case ')':
				depth--
				if depth == 0 && i < len(expr)-1 {
					return "(" + expr + ")"
				}
			}
		}
		return expr
	}
	return "(" + expr + ")"
}
