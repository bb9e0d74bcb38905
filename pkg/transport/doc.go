// Package transport provides the HTTP middleware chain and handlers that put
// keystone in front of an application.
//
// # Middleware
//
// Middleware wraps an http.Handler. Chain(a, b, c) produces a(b(c(h))).
// Built-in middleware provides panic recovery, request ID assignment
// (X-Request-ID) and structured request logging via log/slog.
//
// # Security
//
// Security is the firewall of the chain. For every request it loads the
// session named by the session cookie, builds a security.Context,
// authenticates the active tokens and stores the context in the request
// context, where handlers find it with SecurityContext. Unsafe requests of
// session authenticated callers must carry a CSRF token. After the handler
// ran, changed token state is persisted to the session and the session
// cookie is set or expired.
//
// # Errors
//
// HandleError renders errors as JSON using the api.Error taxonomy.
// Authentication-required errors are answered by the entry point of the
// first active token instead, after the request was remembered for
// redirect after login.
package transport
