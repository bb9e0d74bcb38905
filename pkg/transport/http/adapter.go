package http

import (
	"errors"
	"net/http"

	"github.com/rhuss/keystone/pkg/authz"
	"github.com/rhuss/keystone/pkg/observability"
	"github.com/rhuss/keystone/pkg/rowsec"
	"github.com/rhuss/keystone/pkg/transport"
)

// EntityRoute exposes the rows of one entity at GET Path. Access requires
// the method privilege Service->List; the rows returned are limited by the
// caller's row security constraints.
type EntityRoute struct {
	Path    string
	Service string
	Select  rowsec.Select
}

// Routes holds the handlers and collaborators served by the Adapter.
type Routes struct {
	Security   *transport.Security
	Authorizer *authz.Manager

	// Querier is nil without row security; Entities are then not served.
	Querier  *rowsec.Querier
	Entities []EntityRoute

	Health  func(*http.Request) error
	Metrics http.Handler
}

// Adapter serves the login, logout and whoami endpoints and the
// configured entity routes over HTTP.
type Adapter struct {
	routes  Routes
	mux     *http.ServeMux
	handler http.Handler
	config  Config
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	Addr            string
	MaxBodySize     int64
	ShutdownTimeout int // seconds
	MetricsPath     string
	LoginPath       string
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		MaxBodySize:     1 << 20, // 1 MB
		ShutdownTimeout: 30,
		MetricsPath:     "/metrics",
		LoginPath:       "/login",
	}
}

// NewAdapter creates an HTTP adapter. Middleware wraps every route,
// including the unauthenticated health and metrics endpoints.
func NewAdapter(routes Routes, cfg Config, middlewares ...transport.Middleware) (*Adapter, error) {
	if routes.Security == nil {
		return nil, errors.New("http adapter: security middleware is required")
	}
	if len(routes.Entities) > 0 && (routes.Querier == nil || routes.Authorizer == nil) {
		return nil, errors.New("http adapter: entity routes require a querier and an authorizer")
	}

	a := &Adapter{routes: routes, mux: http.NewServeMux(), config: cfg}

	secured := http.NewServeMux()
	secured.Handle("POST "+cfg.LoginPath, transport.LoginHandler())
	secured.Handle("POST /logout", transport.LogoutHandler())
	secured.Handle("GET /whoami", transport.WhoAmIHandler())
	for _, e := range routes.Entities {
		h := transport.Authorize(routes.Authorizer, e.Service, "List")(transport.RowsHandler(routes.Querier, e.Select))
		secured.Handle("GET "+e.Path, h)
	}

	a.mux.Handle("GET /healthz", transport.HealthHandler(routes.Health))
	if routes.Metrics != nil && cfg.MetricsPath != "" {
		a.mux.Handle("GET "+cfg.MetricsPath, routes.Metrics)
	}
	a.mux.Handle("/", a.limitBody(routes.Security.Handler(secured)))

	a.handler = a.mux
	if len(middlewares) > 0 {
		a.handler = transport.Chain(middlewares...)(a.mux)
	}
	return a, nil
}

// Handler returns the http.Handler for this adapter. Use this to integrate
// with an http.Server or test with httptest.
func (a *Adapter) Handler() http.Handler {
	return observability.MetricsMiddleware(a.handler)
}

// IsLogin reports whether r posts the login form. Login requests are
// exempt from CSRF checks.
func (c Config) IsLogin(r *http.Request) bool {
	return r.Method == http.MethodPost && r.URL.Path == c.LoginPath
}

func (a *Adapter) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.config.MaxBodySize > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)
		}
		next.ServeHTTP(w, r)
	})
}
