package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/rhuss/keystone/pkg/authn"
	"github.com/rhuss/keystone/pkg/authn/apikey"
	"github.com/rhuss/keystone/pkg/policy"
	"github.com/rhuss/keystone/pkg/rowsec"
	"github.com/rhuss/keystone/pkg/security"
	"github.com/rhuss/keystone/pkg/session"
)

const rowsSchema = `
entities:
  Document:
    table: documents
    primaryKey: [id]
    properties:
      id: {}
      title: {}
      status: {}
`

const rowsPolicy = `
privilegeTargets:
  EntityPrivilege:
    'Docs:Drafts':
      matcher:
        entity: Document
        constraint:
          property: status
          operator: equals
          operand: draft
roles:
  'Docs:Editor':
    privileges:
      - privilegeTarget: 'Docs:Drafts'
        permission: GRANT
`

func newRowsHandler(t *testing.T, sel rowsec.Select) (http.Handler, sqlmock.Sqlmock) {
	t.Helper()
	schema, err := rowsec.ParseSchema([]byte(rowsSchema))
	if err != nil {
		t.Fatal(err)
	}
	graph, err := policy.Parse([]byte(rowsPolicy), policy.NewTypes(policy.MethodPrivilege{}, rowsec.NewEntityPrivilege(schema)))
	if err != nil {
		t.Fatal(err)
	}
	manager, err := authn.NewManager(authn.OneToken,
		[]authn.Provider{apikey.New("Api", []apikey.Key{{Key: "k-editor", Account: "ed", Roles: []string{"Docs:Editor"}}})},
		[]authn.TokenSpec{{ProviderName: "Api", Kind: authn.APIKey{}}})
	if err != nil {
		t.Fatal(err)
	}

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	q := rowsec.NewQuerier(db, rowsec.NewFilter(rowsec.NewGenerator(schema)))
	sec := NewSecurity(&security.Factory{Manager: manager, Graph: graph}, session.NewMemoryStore(time.Hour), CookieConfig{})
	return sec.Middleware()(RowsHandler(q, sel)), mock
}

func TestRowsHandler(t *testing.T) {
	sel := rowsec.Select{Entity: "Document", Columns: []string{"id", "title"}, OrderBy: "e.id"}

	tests := []struct {
		name  string
		key   string
		query string
		url   string
		args  int
	}{
		{
			name:  "editor sees drafts",
			key:   "k-editor",
			url:   "/documents",
			query: "SELECT e.id, e.title FROM documents e ORDER BY e.id",
		},
		{
			name:  "anonymous does not",
			url:   "/documents?limit=5",
			query: "SELECT e.id, e.title FROM documents e WHERE (e.status = $1) IS NOT TRUE ORDER BY e.id LIMIT 5",
			args:  1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, mock := newRowsHandler(t, sel)
			exp := mock.ExpectQuery(tt.query)
			if tt.args > 0 {
				exp.WithArgs("draft")
			}
			exp.WillReturnRows(sqlmock.NewRows([]string{"id", "title"}).
				AddRow(1, []byte("Roadmap")).
				AddRow(2, "Minutes"))

			r := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.key != "" {
				r.Header.Set("X-API-Key", tt.key)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
			}
			var body struct {
				Entity string           `json:"entity"`
				Rows   []map[string]any `json:"rows"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body.Entity != "Document" || len(body.Rows) != 2 {
				t.Fatalf("body = %+v", body)
			}
			if body.Rows[0]["title"] != "Roadmap" {
				t.Errorf("title = %v, want Roadmap", body.Rows[0]["title"])
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestRowsHandlerRejectsBadLimit(t *testing.T) {
	h, _ := newRowsHandler(t, rowsec.Select{Entity: "Document"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents?limit=-1", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestRowsHandlerHidesDatabaseErrors(t *testing.T) {
	h, mock := newRowsHandler(t, rowsec.Select{Entity: "Document"})
	mock.ExpectQuery("SELECT e.* FROM documents e WHERE (e.status = $1) IS NOT TRUE").
		WithArgs("draft").
		WillReturnError(errors.New("connection reset by peer"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if body := rec.Body.String(); strings.Contains(body, "connection reset") {
		t.Errorf("database error leaked: %s", body)
	}
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name   string
		check  func(*http.Request) error
		status int
	}{
		{name: "no check", status: http.StatusOK},
		{name: "healthy", check: func(*http.Request) error { return nil }, status: http.StatusOK},
		{name: "unhealthy", check: func(*http.Request) error { return errors.New("db down") }, status: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			HealthHandler(tt.check).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}

func TestHandlersWithoutSecurityMiddleware(t *testing.T) {
	for name, h := range map[string]http.Handler{
		"whoami": WhoAmIHandler(),
		"login":  LoginHandler(),
		"logout": LogoutHandler(),
	} {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
			if rec.Code != http.StatusInternalServerError {
				t.Errorf("status = %d, want 500", rec.Code)
			}
		})
	}
}
