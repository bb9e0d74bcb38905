package transport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/rhuss/keystone/pkg/api"
	"github.com/rhuss/keystone/pkg/authn"
)

// HTTPStatusFromError maps an api.Error type to the corresponding HTTP
// status code.
func HTTPStatusFromError(err *api.Error) int {
	switch err.Type {
	case api.ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case api.ErrorTypeAuthenticationRequired:
		return http.StatusUnauthorized
	case api.ErrorTypeAccessDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// WriteErrorResponse writes a JSON error response with the given status.
func WriteErrorResponse(w http.ResponseWriter, apiErr *api.Error, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: apiErr})
}

// WriteError writes err with the status derived from its type. Errors
// outside the api.Error taxonomy, and nil, become a generic server error
// so internal details are not leaked.
func WriteError(w http.ResponseWriter, err error) {
	var apiErr *api.Error
	if err == nil || !errors.As(err, &apiErr) {
		apiErr = api.NewServerError("internal server error")
	}
	if apiErr.Type == api.ErrorTypeConfiguration || apiErr.Type == api.ErrorTypeUnsupportedConstraint {
		slog.Error("security configuration error", "error", err)
		apiErr = api.NewServerError("internal server error")
	}
	WriteErrorResponse(w, apiErr, HTTPStatusFromError(apiErr))
}

// HandleError answers a failed request. Authentication-required errors
// start authentication at the entry point of the first active token that
// has one; the request is remembered so that a login can resume it.
// Everything else is written with WriteError.
func HandleError(w http.ResponseWriter, r *http.Request, err error) {
	if !errors.Is(err, api.ErrAuthenticationRequired) {
		if api.AsError(err).Type == api.ErrorTypeServerError {
			slog.Error("request failed", "request_id", RequestIDFromContext(r.Context()), "error", err)
		}
		WriteError(w, err)
		return
	}

	ctx := r.Context()
	sc := SecurityContext(ctx)
	if sc == nil {
		WriteError(w, err)
		return
	}
	if r.Method == http.MethodGet {
		if serr := sc.SetInterceptedRequest(ctx, r); serr != nil {
			slog.Warn("cannot remember intercepted request", "error", serr)
		}
	}

	tokens, terr := sc.AuthenticationTokens(ctx)
	if terr != nil {
		WriteError(w, terr)
		return
	}
	for _, t := range tokens {
		if ep := t.EntryPoint(); ep != nil {
			ep.StartAuthentication(w, r, err)
			return
		}
	}
	authn.UnauthorizedEntryPoint{}.StartAuthentication(w, r, err)
}
