package authn

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"mime"
	"net/http"
	"slices"
	"strings"
)

// Token type names as providers declare them.
const (
	TypeUsernamePassword = "UsernamePassword"
	TypeHTTPBasic        = "HTTPBasic"
	TypeBearer           = "Bearer"
	TypeAPIKey           = "APIKey"
)

// Credentials are the raw values a token extracted from a request.
type Credentials map[string]string

// Digest is a stable sha256 over the sorted key/value pairs.
func (c Credentials) Digest() string {
	if len(c) == 0 {
		return ""
	}
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(c[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func sameDigest(a, b string) bool {
	return a != "" && subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Presence reports what a Kind found in a request.
type Presence int

const (
	// Unchanged leaves the token state as it is.
	Unchanged Presence = iota

	// Absent means the request carries no credentials for the token.
	Absent

	// Present means fresh credentials were extracted.
	Present
)

// Kind extracts credentials of one token type from requests.
type Kind interface {
	// Name is the token type, e.g. "HTTPBasic".
	Name() string

	// Extract reads credentials from the request.
	Extract(r *http.Request) (Credentials, Presence)

	// Stateless kinds are re-sent with every request and never persisted in
	// a session.
	Stateless() bool
}

// UsernamePassword reads a username and password from a form POST. The
// token is persisted in the session, so requests that do not submit the form
// leave it unchanged.
type UsernamePassword struct {
	UsernameField string
	PasswordField string
}

func (k UsernamePassword) Name() string    { return TypeUsernamePassword }
func (k UsernamePassword) Stateless() bool { return false }

func (k UsernamePassword) Extract(r *http.Request) (Credentials, Presence) {
	if r.Method != http.MethodPost {
		return nil, Unchanged
	}
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || (mt != "application/x-www-form-urlencoded" && mt != "multipart/form-data") {
		return nil, Unchanged
	}
	userField, passField := k.fields()
	username := r.PostFormValue(userField)
	password := r.PostFormValue(passField)
	if username == "" && password == "" {
		return nil, Unchanged
	}
	return Credentials{"username": username, "password": password}, Present
}

func (k UsernamePassword) fields() (string, string) {
	user, pass := k.UsernameField, k.PasswordField
	if user == "" {
		user = "username"
	}
	if pass == "" {
		pass = "password"
	}
	return user, pass
}

// HTTPBasic reads RFC 7617 basic credentials from the Authorization header.
type HTTPBasic struct{}

func (HTTPBasic) Name() string    { return TypeHTTPBasic }
func (HTTPBasic) Stateless() bool { return true }

func (HTTPBasic) Extract(r *http.Request) (Credentials, Presence) {
	username, password, ok := r.BasicAuth()
	if !ok {
		return nil, Absent
	}
	return Credentials{"username": username, "password": password}, Present
}

// Bearer reads a bearer token from the Authorization header.
type Bearer struct{}

func (Bearer) Name() string    { return TypeBearer }
func (Bearer) Stateless() bool { return true }

func (Bearer) Extract(r *http.Request) (Credentials, Presence) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, Absent
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return nil, Absent
	}
	return Credentials{"token": token}, Present
}

// APIKey reads a key from a request header, X-API-Key unless configured.
type APIKey struct {
	Header string
}

func (APIKey) Name() string    { return TypeAPIKey }
func (APIKey) Stateless() bool { return true }

func (k APIKey) Extract(r *http.Request) (Credentials, Presence) {
	header := k.Header
	if header == "" {
		header = "X-API-Key"
	}
	key := strings.TrimSpace(r.Header.Get(header))
	if key == "" {
		return nil, Absent
	}
	return Credentials{"key": key}, Present
}

// KindByName returns the Kind for a configured token type name.
func KindByName(name string) (Kind, bool) {
	switch name {
	case TypeUsernamePassword:
		return UsernamePassword{}, true
	case TypeHTTPBasic:
		return HTTPBasic{}, true
	case TypeBearer:
		return Bearer{}, true
	case TypeAPIKey:
		return APIKey{}, true
	}
	return nil, false
}
