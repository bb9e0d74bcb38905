package security

import (
	"context"
	"fmt"
	"slices"
)

// CacheAware objects contribute an identifier to the context hash, so
// cached entries are not shared across different values of the object.
type CacheAware interface {
	CacheEntryIdentifier() string
}

// GlobalFunc resolves a global object for the current security context.
type GlobalFunc func(ctx context.Context, sc *Context) (any, error)

// Globals is the registry of named objects that row-security operands can
// reference as "context.<name>.<path>". It is built at startup and read
// concurrently afterwards.
type Globals struct {
	funcs map[string]GlobalFunc
}

// NewGlobals returns a registry that provides "securityContext".
func NewGlobals() *Globals {
	g := &Globals{funcs: make(map[string]GlobalFunc)}
	g.funcs["securityContext"] = func(ctx context.Context, sc *Context) (any, error) {
		return sc.View(ctx), nil
	}
	return g
}

// Register adds a named global object.
func (g *Globals) Register(name string, fn GlobalFunc) error {
	if _, dup := g.funcs[name]; dup {
		return fmt.Errorf("global object %q registered twice", name)
	}
	g.funcs[name] = fn
	return nil
}

// Names returns the registered names, sorted.
func (g *Globals) Names() []string {
	names := make([]string, 0, len(g.funcs))
	for name := range g.funcs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (g *Globals) resolve(ctx context.Context, sc *Context, name string) (any, error) {
	fn, ok := g.funcs[name]
	if !ok {
		return nil, fmt.Errorf("unknown global object %q", name)
	}
	return fn(ctx, sc)
}
