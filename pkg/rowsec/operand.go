package rowsec

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rhuss/keystone/pkg/security"
)

// lookupPrefix marks an operand that reads a global object, as in
// "context.securityContext.account".
const lookupPrefix = "context."

// PropertyReader exposes named properties to global lookups.
type PropertyReader interface {
	ReadProperty(name string) (any, bool)
}

// Identifiable values are compared with association foreign keys by their
// primary key, keyed by property name.
type Identifiable interface {
	PrimaryKey() map[string]any
}

// Resolver provides the global objects lookups start from.
type Resolver interface {
	Global(ctx context.Context, name string) (any, error)
}

// Operand is Literal or GlobalLookup.
type Operand interface {
	Resolve(ctx context.Context, r Resolver) (any, error)
}

// Literal is a constant operand. Lists are []any.
type Literal struct {
	Value any
}

// Resolve returns the constant.
func (l Literal) Resolve(context.Context, Resolver) (any, error) {
	return l.Value, nil
}

// GlobalLookup reads Path from the global Object.
type GlobalLookup struct {
	Object string
	Path   []string
}

// Resolve reads the value with authorization checks suspended. A nil object
// along the path resolves to nil.
func (g GlobalLookup) Resolve(ctx context.Context, r Resolver) (any, error) {
	ctx = security.SuspendAuthorization(ctx)
	obj, err := r.Global(ctx, g.Object)
	if err != nil {
		return nil, err
	}
	for i, name := range g.Path {
		if isNil(obj) {
			return nil, nil
		}
		var ok bool
		switch o := obj.(type) {
		case PropertyReader:
			obj, ok = o.ReadProperty(name)
		case map[string]any:
			obj, ok = o[name]
		default:
			return nil, fmt.Errorf("%s: cannot read %q of %T", g, name, obj)
		}
		if !ok {
			return nil, fmt.Errorf("%s: no property %q at %s", g, name, strings.Join(g.Path[:i], "."))
		}
	}
	if isNil(obj) {
		return nil, nil
	}
	return obj, nil
}

func (g GlobalLookup) String() string {
	return lookupPrefix + strings.Join(append([]string{g.Object}, g.Path...), ".")
}

// ParseOperand reads an operand from YAML. Strings starting with "context."
// are lookups; everything else decodes to a literal.
func ParseOperand(n *yaml.Node) (Operand, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Tag == "!!str" && strings.HasPrefix(n.Value, lookupPrefix) {
			parts := strings.Split(strings.TrimPrefix(n.Value, lookupPrefix), ".")
			for _, p := range parts {
				if p == "" {
					return nil, fmt.Errorf("line %d: malformed lookup %q", n.Line, n.Value)
				}
			}
			return GlobalLookup{Object: parts[0], Path: parts[1:]}, nil
		}
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return Literal{Value: v}, nil
	case yaml.SequenceNode:
		values := make([]any, 0, len(n.Content))
		for _, item := range n.Content {
			if item.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: list operands hold scalars only", item.Line)
			}
			var v any
			if err := item.Decode(&v); err != nil {
				return nil, fmt.Errorf("line %d: %w", item.Line, err)
			}
			values = append(values, v)
		}
		return Literal{Value: values}, nil
	}
	return nil, fmt.Errorf("line %d: operand must be a scalar or a list", n.Line)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// values flattens a slice operand; anything else is a single value.
func values(v any) []any {
	if v == nil {
		return nil
	}
	if list, ok := v.([]any); ok {
		return list
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice || rv.Type().Elem().Kind() == reflect.Uint8 {
		return []any{v}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}
