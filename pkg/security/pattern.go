package security

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"regexp"
	"slices"
	"strings"

	"github.com/rhuss/keystone/pkg/authn"
)

// Request pattern types.
const (
	PatternPath   = "Path"
	PatternHost   = "Host"
	PatternMethod = "Method"
	PatternIP     = "Ip"
)

// PathPattern matches the request path against an anchored regular expression.
type PathPattern struct {
	re *regexp.Regexp
}

// NewPathPattern compiles expr, anchoring it at both ends.
func NewPathPattern(expr string) (*PathPattern, error) {
	re, err := regexp.Compile("^(?:" + expr + ")$")
	if err != nil {
		return nil, fmt.Errorf("path pattern %q: %w", expr, err)
	}
	return &PathPattern{re: re}, nil
}

func (p *PathPattern) Type() string { return PatternPath }

func (p *PathPattern) Matches(r *http.Request) bool {
	return p.re.MatchString(r.URL.Path)
}

// HostPattern matches the request host. "*" matches any run of characters,
// so "*.example.com" matches every subdomain.
type HostPattern struct {
	re *regexp.Regexp
}

// NewHostPattern compiles a wildcard host pattern.
func NewHostPattern(pattern string) (*HostPattern, error) {
	parts := strings.Split(strings.ToLower(pattern), "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	re, err := regexp.Compile("^" + strings.Join(parts, ".*") + "$")
	if err != nil {
		return nil, fmt.Errorf("host pattern %q: %w", pattern, err)
	}
	return &HostPattern{re: re}, nil
}

func (p *HostPattern) Type() string { return PatternHost }

func (p *HostPattern) Matches(r *http.Request) bool {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return p.re.MatchString(strings.ToLower(host))
}

// MethodPattern matches a set of HTTP methods.
type MethodPattern struct {
	methods []string
}

// NewMethodPattern accepts a comma separated method list, e.g. "POST,PUT".
func NewMethodPattern(list string) (*MethodPattern, error) {
	var methods []string
	for _, m := range strings.Split(list, ",") {
		if m = strings.ToUpper(strings.TrimSpace(m)); m != "" {
			methods = append(methods, m)
		}
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("method pattern %q: no methods", list)
	}
	return &MethodPattern{methods: methods}, nil
}

func (p *MethodPattern) Type() string { return PatternMethod }

func (p *MethodPattern) Matches(r *http.Request) bool {
	return slices.Contains(p.methods, r.Method)
}

// IPPattern matches the client address against a CIDR range or single address.
type IPPattern struct {
	prefix netip.Prefix
}

// NewIPPattern parses "10.0.0.0/8" or "192.168.1.7".
func NewIPPattern(s string) (*IPPattern, error) {
	if !strings.Contains(s, "/") {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("ip pattern %q: %w", s, err)
		}
		return &IPPattern{prefix: netip.PrefixFrom(addr, addr.BitLen())}, nil
	}
	prefix, err := netip.ParsePrefix(s)
	if err != nil {
		return nil, fmt.Errorf("ip pattern %q: %w", s, err)
	}
	return &IPPattern{prefix: prefix.Masked()}, nil
}

func (p *IPPattern) Type() string { return PatternIP }

func (p *IPPattern) Matches(r *http.Request) bool {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	return p.prefix.Contains(addr.Unmap())
}

// NewPattern builds a pattern of the named type, as used in configuration.
func NewPattern(patternType, value string) (authn.RequestPattern, error) {
	switch patternType {
	case PatternPath:
		return NewPathPattern(value)
	case PatternHost:
		return NewHostPattern(value)
	case PatternMethod:
		return NewMethodPattern(value)
	case PatternIP:
		return NewIPPattern(value)
	}
	return nil, fmt.Errorf("unknown request pattern type %q", patternType)
}

// IsActive reports whether a token applies to the request: it has no
// patterns, or for every pattern type it uses at least one pattern matches.
func IsActive(t *authn.Token, r *http.Request) bool {
	matched := make(map[string]bool)
	for _, p := range t.RequestPatterns() {
		if _, seen := matched[p.Type()]; !seen {
			matched[p.Type()] = false
		}
		if !matched[p.Type()] && p.Matches(r) {
			matched[p.Type()] = true
		}
	}
	for _, ok := range matched {
		if !ok {
			return false
		}
	}
	return true
}
