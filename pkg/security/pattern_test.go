package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rhuss/keystone/pkg/authn"
)

func mustPattern(t *testing.T, typ, value string) authn.RequestPattern {
	t.Helper()
	p, err := NewPattern(typ, value)
	if err != nil {
		t.Fatalf("NewPattern(%s, %q) error = %v", typ, value, err)
	}
	return p
}

func TestPatterns(t *testing.T) {
	tests := []struct {
		name    string
		typ     string
		value   string
		request func() *http.Request
		want    bool
	}{
		{"path match", PatternPath, "/api/.*", func() *http.Request { return httptest.NewRequest("GET", "/api/posts", nil) }, true},
		{"path anchored", PatternPath, "/api", func() *http.Request { return httptest.NewRequest("GET", "/api/posts", nil) }, false},
		{"host wildcard", PatternHost, "*.example.com", func() *http.Request { return httptest.NewRequest("GET", "http://shop.example.com:8080/", nil) }, true},
		{"host other", PatternHost, "*.example.com", func() *http.Request { return httptest.NewRequest("GET", "http://example.org/", nil) }, false},
		{"method list", PatternMethod, "post, put", func() *http.Request { return httptest.NewRequest("PUT", "/", nil) }, true},
		{"method miss", PatternMethod, "POST", func() *http.Request { return httptest.NewRequest("GET", "/", nil) }, false},
		{"ip cidr", PatternIP, "10.0.0.0/8", func() *http.Request {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = "10.1.2.3:5555"
			return r
		}, true},
		{"ip single", PatternIP, "192.0.2.1", func() *http.Request { return httptest.NewRequest("GET", "/", nil) }, true},
		{"ip miss", PatternIP, "10.0.0.0/8", func() *http.Request { return httptest.NewRequest("GET", "/", nil) }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := mustPattern(t, tt.typ, tt.value)
			if got := p.Matches(tt.request()); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPatternErrors(t *testing.T) {
	for _, tc := range [][2]string{
		{PatternPath, "("},
		{PatternMethod, " , "},
		{PatternIP, "not-an-ip"},
		{"Cookie", "x"},
	} {
		if _, err := NewPattern(tc[0], tc[1]); err == nil {
			t.Errorf("NewPattern(%s, %q) succeeded", tc[0], tc[1])
		}
	}
}

func TestIsActive(t *testing.T) {
	token := func(patterns ...authn.RequestPattern) *authn.Token {
		return authn.NewToken("Default", authn.Bearer{}, authn.WithRequestPatterns(patterns...))
	}
	get := httptest.NewRequest("GET", "/api/posts", nil)

	tests := []struct {
		name string
		tok  *authn.Token
		want bool
	}{
		{"no patterns", token(), true},
		{"or within type", token(mustPattern(t, PatternPath, "/admin/.*"), mustPattern(t, PatternPath, "/api/.*")), true},
		{"and across types", token(mustPattern(t, PatternPath, "/api/.*"), mustPattern(t, PatternMethod, "POST")), false},
		{"all types match", token(mustPattern(t, PatternPath, "/api/.*"), mustPattern(t, PatternMethod, "GET,POST")), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsActive(tt.tok, get); got != tt.want {
				t.Errorf("IsActive() = %v, want %v", got, tt.want)
			}
		})
	}
}
