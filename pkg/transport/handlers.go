package transport

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/rhuss/keystone/pkg/api"
	"github.com/rhuss/keystone/pkg/authz"
	"github.com/rhuss/keystone/pkg/policy"
	"github.com/rhuss/keystone/pkg/rowsec"
	"github.com/rhuss/keystone/pkg/security"
)

// WhoAmI describes the caller of a request.
type WhoAmI struct {
	Authenticated bool     `json:"authenticated"`
	Account       string   `json:"account,omitempty"`
	Provider      string   `json:"provider,omitempty"`
	Roles         []string `json:"roles"`
	CSRFToken     string   `json:"csrf_token,omitempty"`
}

func whoAmI(r *http.Request, sc *security.Context) (*WhoAmI, error) {
	ctx := r.Context()
	roles, err := sc.Roles(ctx)
	if err != nil {
		return nil, err
	}
	out := &WhoAmI{Roles: security.RoleIDs(roles)}
	acc, err := sc.Account(ctx)
	if err != nil {
		return nil, err
	}
	if acc != nil {
		out.Authenticated = true
		out.Account = acc.Identifier
		out.Provider = acc.ProviderName
	}
	if out.Authenticated && sc.Session() != nil && sc.Session().IsStarted() {
		token, err := sc.CSRFProtectionToken(ctx)
		if err != nil {
			return nil, err
		}
		out.CSRFToken = token
	}
	return out, nil
}

// WhoAmIHandler answers with the caller's account, roles and, for session
// callers, a CSRF protection token.
func WhoAmIHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc := SecurityContext(r.Context())
		if sc == nil {
			WriteError(w, api.NewConfigurationError("transport", "security middleware not installed"))
			return
		}
		out, err := whoAmI(r, sc)
		if err != nil {
			HandleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	})
}

// LoginHandler authenticates the credentials of the request. After a
// successful login the caller is redirected to the request that required
// authentication, if any.
func LoginHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sc := SecurityContext(ctx)
		if sc == nil {
			WriteError(w, api.NewConfigurationError("transport", "security middleware not installed"))
			return
		}
		if err := sc.Authenticate(ctx); err != nil {
			HandleError(w, r, err)
			return
		}

		intercepted, err := sc.InterceptedRequest(ctx)
		if err != nil {
			slog.Warn("reading intercepted request", "error", err)
		}
		if intercepted != nil {
			if err := sc.SetInterceptedRequest(ctx, nil); err != nil {
				slog.Warn("clearing intercepted request", "error", err)
			}
			http.Redirect(w, r, intercepted.URI, http.StatusSeeOther)
			return
		}

		out, err := whoAmI(r, sc)
		if err != nil {
			HandleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	})
}

// LogoutHandler logs the caller out of every provider.
func LogoutHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sc := SecurityContext(ctx)
		if sc == nil {
			WriteError(w, api.NewConfigurationError("transport", "security middleware not installed"))
			return
		}
		if err := sc.Logout(ctx); err != nil {
			HandleError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// Authorize enforces the method privilege for service->method before
// calling next.
func Authorize(m *authz.Manager, service, method string) Middleware {
	subject := policy.MethodSubject{Type: service, Method: method}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			sc := SecurityContext(ctx)
			if sc == nil {
				WriteError(w, api.NewConfigurationError("transport", "security middleware not installed"))
				return
			}
			if err := m.Enforce(ctx, sc, policy.MethodPrivilegeType, subject); err != nil {
				HandleError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RowsHandler lists the rows of an entity the caller may see. The limit
// query parameter overrides the select's limit.
func RowsHandler(q *rowsec.Querier, sel rowsec.Select) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		s := sel
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				WriteError(w, api.NewInvalidRequestError("limit", "limit must be a positive integer"))
				return
			}
			s.Limit = n
		}

		rows, err := q.Query(ctx, SecurityContext(ctx), s)
		if err != nil {
			HandleError(w, r, err)
			return
		}
		defer rows.Close()

		out, err := scanRows(rows)
		if err != nil {
			slog.Error("reading rows", "entity", s.Entity, "error", err)
			WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entity": s.Entity, "rows": out})
	})
}

func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := []map[string]any{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = vals[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// HealthHandler reports whether check succeeds.
func HealthHandler(check func(r *http.Request) error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r); err != nil {
				slog.Warn("health check failed", "error", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("writing response", "error", err)
	}
}
