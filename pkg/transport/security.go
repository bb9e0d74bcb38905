package transport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/rhuss/keystone/pkg/api"
	"github.com/rhuss/keystone/pkg/debug"
	"github.com/rhuss/keystone/pkg/security"
	"github.com/rhuss/keystone/pkg/session"
)

// CSRF token locations checked on unsafe requests.
const (
	CSRFHeader    = "X-CSRF-Token"
	CSRFFormField = "__csrfToken"
)

// CookieConfig describes the session cookie.
type CookieConfig struct {
	Name   string
	Path   string
	Secure bool
	MaxAge time.Duration
}

// Security builds and persists the security context of every request.
type Security struct {
	factory  *security.Factory
	sessions session.Store
	cookie   CookieConfig
	skipCSRF func(*http.Request) bool
}

// SecurityOption configures Security.
type SecurityOption func(*Security)

// WithCSRFExemption exempts matching requests from CSRF checks, typically
// the login form, which is posted before a token could be issued.
func WithCSRFExemption(fn func(*http.Request) bool) SecurityOption {
	return func(s *Security) { s.skipCSRF = fn }
}

// NewSecurity creates the security middleware.
func NewSecurity(factory *security.Factory, sessions session.Store, cookie CookieConfig, opts ...SecurityOption) *Security {
	if cookie.Name == "" {
		cookie.Name = "keystone_session"
	}
	if cookie.Path == "" {
		cookie.Path = "/"
	}
	s := &Security{
		factory:  factory,
		sessions: sessions,
		cookie:   cookie,
		skipCSRF: func(*http.Request) bool { return false },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Middleware returns s as a Middleware.
func (s *Security) Middleware() Middleware {
	return s.Handler
}

// Handler wraps next with the security context lifecycle.
func (s *Security) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented := ""
		if c, err := r.Cookie(s.cookie.Name); err == nil {
			presented = c.Value
		}
		handle := session.NewHandle(s.sessions, presented)
		sc := s.factory.NewContext(r, handle)
		ctx := ContextWithSecurityContext(r.Context(), sc)
		r = r.WithContext(ctx)

		sw := &sessionWriter{ResponseWriter: w}
		sw.before = func() { s.finish(ctx, sw, sc, handle, presented) }
		defer sw.flush()

		if err := sc.Authenticate(ctx); err != nil && !errors.Is(err, api.ErrAuthenticationRequired) {
			HandleError(sw, r, err)
			return
		}

		if s.requiresCSRF(r) {
			if err := s.checkCSRF(ctx, sc, r); err != nil {
				HandleError(sw, r, err)
				return
			}
		}

		next.ServeHTTP(sw, r)
	})
}

// requiresCSRF reports whether r changes state on behalf of a session
// authenticated caller.
func (s *Security) requiresCSRF(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	}
	if s.skipCSRF(r) {
		return false
	}
	tokens, err := SecurityContext(r.Context()).AuthenticationTokens(r.Context())
	if err != nil {
		return false
	}
	for _, t := range tokens {
		if t.IsAuthenticated() && !t.Stateless() {
			return true
		}
	}
	return false
}

func (s *Security) checkCSRF(ctx context.Context, sc *security.Context, r *http.Request) error {
	token := r.Header.Get(CSRFHeader)
	if token == "" {
		token = r.PostFormValue(CSRFFormField)
	}
	valid, err := sc.IsCSRFProtectionTokenValid(ctx, token)
	if err != nil {
		return err
	}
	if !valid {
		debug.Log("transport", "csrf token rejected", "path", r.URL.Path, "present", token != "")
		return api.NewAccessDeniedError(r.URL.Path, "missing or invalid CSRF token")
	}
	return nil
}

// finish persists token state and sets or expires the session cookie. It
// runs once, before the first byte of the response is written.
func (s *Security) finish(ctx context.Context, w http.ResponseWriter, sc *security.Context, handle *session.Handle, presented string) {
	if err := sc.Persist(ctx); err != nil {
		slog.Error("persisting security context", "error", err)
	}
	if _, err := handle.Resume(ctx); err != nil {
		slog.Warn("resuming session for cookie", "error", err)
		return
	}

	current := handle.ID()
	switch {
	case current != "" && current != presented:
		cookie := s.newCookie(current)
		if s.cookie.MaxAge > 0 {
			cookie.MaxAge = int(s.cookie.MaxAge.Seconds())
		}
		http.SetCookie(w, cookie)
		debug.Log("session", "session cookie set", "session", current)
	case current == "" && presented != "":
		cookie := s.newCookie("")
		cookie.MaxAge = -1
		http.SetCookie(w, cookie)
		debug.Log("session", "session cookie expired")
	}
}

func (s *Security) newCookie(value string) *http.Cookie {
	return &http.Cookie{
		Name:     s.cookie.Name,
		Value:    value,
		Path:     s.cookie.Path,
		Secure:   s.cookie.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// sessionWriter runs before once, right before the response header is
// written.
type sessionWriter struct {
	http.ResponseWriter
	before func()
	done   bool
}

func (w *sessionWriter) flush() {
	if !w.done {
		w.done = true
		w.before()
	}
}

func (w *sessionWriter) WriteHeader(status int) {
	w.flush()
	w.ResponseWriter.WriteHeader(status)
}

func (w *sessionWriter) Write(b []byte) (int, error) {
	w.flush()
	return w.ResponseWriter.Write(b)
}

func (w *sessionWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
