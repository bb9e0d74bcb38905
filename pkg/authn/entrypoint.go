package authn

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rhuss/keystone/pkg/api"
)

// EntryPoint asks a client for credentials after authentication was
// required but failed.
type EntryPoint interface {
	StartAuthentication(w http.ResponseWriter, r *http.Request, cause error)
}

// HTTPBasicEntryPoint challenges with a WWW-Authenticate header.
type HTTPBasicEntryPoint struct {
	Realm string
}

func (e HTTPBasicEntryPoint) StartAuthentication(w http.ResponseWriter, _ *http.Request, cause error) {
	realm := e.Realm
	if realm == "" {
		realm = "Authentication required"
	}
	w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", realm))
	writeError(w, http.StatusUnauthorized, cause)
}

// WebRedirectEntryPoint sends browsers to a login page.
type WebRedirectEntryPoint struct {
	URI string
}

func (e WebRedirectEntryPoint) StartAuthentication(w http.ResponseWriter, r *http.Request, _ error) {
	http.Redirect(w, r, e.URI, http.StatusSeeOther)
}

// UnauthorizedEntryPoint answers with a JSON 401 error.
type UnauthorizedEntryPoint struct{}

func (UnauthorizedEntryPoint) StartAuthentication(w http.ResponseWriter, _ *http.Request, cause error) {
	writeError(w, http.StatusUnauthorized, cause)
}

func writeError(w http.ResponseWriter, status int, cause error) {
	apiErr := api.NewAuthenticationRequiredError("authentication_required", "authentication required")
	if cause != nil {
		apiErr = api.AsError(cause)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: apiErr})
}
