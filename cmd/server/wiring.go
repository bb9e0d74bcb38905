package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhuss/keystone/pkg/account"
	"github.com/rhuss/keystone/pkg/authn"
	"github.com/rhuss/keystone/pkg/authn/apikey"
	"github.com/rhuss/keystone/pkg/authn/jwt"
	"github.com/rhuss/keystone/pkg/authn/password"
	"github.com/rhuss/keystone/pkg/authz"
	"github.com/rhuss/keystone/pkg/config"
	"github.com/rhuss/keystone/pkg/policy"
	"github.com/rhuss/keystone/pkg/rowsec"
	"github.com/rhuss/keystone/pkg/security"
	"github.com/rhuss/keystone/pkg/session"
	"github.com/rhuss/keystone/pkg/storage"
	"github.com/rhuss/keystone/pkg/storage/memory"
	"github.com/rhuss/keystone/pkg/storage/postgres"
	"github.com/rhuss/keystone/pkg/transport"
	transporthttp "github.com/rhuss/keystone/pkg/transport/http"
)

// app holds the running components.
type app struct {
	server   *transporthttp.Server
	sessions *session.MemoryStore
	closers  []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("closing component", "error", err)
		}
	}
}

// collectSessions removes idle sessions every period until ctx is done.
func (a *app) collectSessions(ctx context.Context, period time.Duration) {
	if period <= 0 {
		return
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.sessions.Collect(ctx); n > 0 {
				slog.Info("idle sessions collected", "count", n)
			}
		}
	}
}

func build(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	accounts, pg, err := openAccounts(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	if pg != nil {
		a.closers = append(a.closers, pg.Close)
	}

	types := policy.DefaultTypes()
	var schema *rowsec.Schema
	if cfg.RowSecurity.SchemaFile != "" {
		schema, err = rowsec.LoadSchema(cfg.RowSecurity.SchemaFile)
		if err != nil {
			return nil, err
		}
		types = policy.NewTypes(policy.MethodPrivilege{}, rowsec.NewEntityPrivilege(schema))
	}
	graph, err := policy.Load(cfg.Security.PolicyFile, types)
	if err != nil {
		return nil, err
	}

	if err := seedAccounts(ctx, accounts, graph, cfg.Security.Providers); err != nil {
		return nil, err
	}
	providers, specs, err := buildTokens(cfg.Security.Providers, accounts, graph)
	if err != nil {
		return nil, err
	}
	strategy, err := authn.ParseStrategy(cfg.Security.Strategy)
	if err != nil {
		return nil, err
	}
	manager, err := authn.NewManager(strategy, providers, specs)
	if err != nil {
		return nil, err
	}
	csrf, err := security.ParseCSRFStrategy(cfg.Security.CSRFStrategy)
	if err != nil {
		return nil, err
	}

	a.sessions = session.NewMemoryStore(cfg.Session.IdleTimeout)
	httpCfg := transporthttp.DefaultConfig()
	sec := transport.NewSecurity(
		&security.Factory{Manager: manager, Graph: graph, CSRFStrategy: csrf},
		a.sessions,
		transport.CookieConfig{
			Name:   cfg.Session.CookieName,
			Secure: cfg.Session.SecureCookie,
		},
		transport.WithCSRFExemption(httpCfg.IsLogin),
	)

	routes := transporthttp.Routes{
		Security:   sec,
		Authorizer: authz.NewManager(cfg.Security.AllowIfAllAbstain),
	}
	if cfg.Observability.Metrics.Enabled {
		routes.Metrics = promhttp.Handler()
	}
	if pg != nil {
		routes.Health = func(r *http.Request) error { return pg.HealthCheck(r.Context()) }
		if schema != nil {
			db := pg.DB()
			a.closers = append(a.closers, db.Close)
			routes.Querier = rowsec.NewQuerier(db, rowsec.NewFilter(rowsec.NewGenerator(schema)))
			routes.Entities = entityRoutes(schema)
		}
	}

	a.server, err = transporthttp.NewServer(routes,
		transporthttp.WithAddr(":"+strconv.Itoa(cfg.Server.Port)),
		transporthttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		transporthttp.WithMetricsPath(cfg.Observability.Metrics.Path),
	)
	if err != nil {
		return nil, err
	}
	ok = true
	return a, nil
}

func openAccounts(ctx context.Context, cfg config.StorageConfig) (account.Store, *postgres.Store, error) {
	if err := storage.ValidateBackend(cfg.Type); err != nil {
		return nil, nil, err
	}
	if !strings.EqualFold(cfg.Type, storage.BackendPostgres) {
		slog.Info("account storage", "type", storage.BackendMemory)
		return memory.New(), nil, nil
	}
	pg, err := postgres.New(ctx, postgres.Config{
		DSN:            cfg.Postgres.DSN,
		MaxConns:       cfg.Postgres.MaxConns,
		MigrateOnStart: cfg.Postgres.MigrateOnStart,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening account storage: %w", err)
	}
	slog.Info("account storage", "type", storage.BackendPostgres)
	return pg, pg, nil
}

// entityRoutes lists every schema entity at /entities/<Name>, guarded by
// the method privilege entities.<Name>->List.
func entityRoutes(s *rowsec.Schema) []transporthttp.EntityRoute {
	var routes []transporthttp.EntityRoute
	for _, name := range s.Entities() {
		routes = append(routes, transporthttp.EntityRoute{
			Path:    "/entities/" + name,
			Service: "entities." + name,
			Select:  rowsec.Select{Entity: name, Limit: 1000},
		})
	}
	return routes
}

// seedAccounts creates the accounts configured for password providers.
// Existing accounts are left untouched.
func seedAccounts(ctx context.Context, store account.Store, g *policy.Graph, providers []config.ProviderConfig) error {
	for _, p := range providers {
		for _, ac := range p.Accounts {
			roles, unknown := g.Resolve(ac.Roles)
			if len(unknown) > 0 {
				return fmt.Errorf("account %s: %w: %s", ac.Identifier, policy.ErrUnknownRole, strings.Join(unknown, ", "))
			}
			acc := account.New(ac.Identifier, p.Name, time.Now())
			acc.CredentialsSource = ac.PasswordHash
			if err := acc.SetRoles(roles); err != nil {
				return fmt.Errorf("account %s: %w", ac.Identifier, err)
			}
			err := store.Create(ctx, acc)
			switch {
			case errors.Is(err, account.ErrConflict):
				slog.Debug("account exists, not seeded", "account", acc.Key())
			case err != nil:
				return fmt.Errorf("seeding account %s: %w", acc.Key(), err)
			default:
				slog.Info("account seeded", "account", acc.Key(), "roles", ac.Roles)
			}
		}
	}
	return nil
}

// buildTokens creates one provider and one token per configured provider.
// Roles configured on providers are checked against graph.
func buildTokens(cfgs []config.ProviderConfig, accounts account.Store, graph *policy.Graph) ([]authn.Provider, []authn.TokenSpec, error) {
	var (
		providers []authn.Provider
		specs     []authn.TokenSpec
	)
	for _, pc := range cfgs {
		p, kind, err := buildProvider(pc, accounts, graph)
		if err != nil {
			return nil, nil, fmt.Errorf("provider %s: %w", pc.Name, err)
		}
		if pc.Token != "" {
			k, ok := authn.KindByName(pc.Token)
			if !ok {
				return nil, nil, fmt.Errorf("provider %s: unknown token %q", pc.Name, pc.Token)
			}
			kind = k
		}
		spec := authn.TokenSpec{ProviderName: pc.Name, Kind: kind, EntryPoint: entryPoint(pc.EntryPoint)}
		for _, pat := range pc.Patterns {
			rp, err := security.NewPattern(pat.Type, pat.Value)
			if err != nil {
				return nil, nil, fmt.Errorf("provider %s: %w", pc.Name, err)
			}
			spec.Patterns = append(spec.Patterns, rp)
		}
		providers = append(providers, p)
		specs = append(specs, spec)
	}
	return providers, specs, nil
}

// buildProvider returns the provider and its default token kind.
func buildProvider(pc config.ProviderConfig, accounts account.Store, graph *policy.Graph) (authn.Provider, authn.Kind, error) {
	switch pc.Type {
	case "password":
		var opts []password.Option
		if pc.Throttle.PerMinute > 0 {
			opts = append(opts, password.WithThrottle(pc.Throttle.PerMinute, pc.Throttle.Burst))
		}
		return password.New(pc.Name, accounts, opts...), authn.UsernamePassword{}, nil
	case "apikey":
		keys := make([]apikey.Key, len(pc.APIKeys))
		for i, k := range pc.APIKeys {
			keys[i] = apikey.Key{Key: k.Key, Account: k.Account, Roles: k.Roles}
		}
		p := apikey.New(pc.Name, keys)
		if err := p.CheckRoles(graph); err != nil {
			return nil, nil, err
		}
		return p, authn.APIKey{}, nil
	case "jwt":
		p, err := jwt.New(pc.Name, jwt.Config{
			Secret:     []byte(pc.JWT.Secret),
			JWKSURL:    pc.JWT.JWKSURL,
			Issuer:     pc.JWT.Issuer,
			Audience:   pc.JWT.Audience,
			UserClaim:  pc.JWT.UserClaim,
			RolesClaim: pc.JWT.RolesClaim,
			CacheTTL:   pc.JWT.CacheTTL,
		})
		if err != nil {
			return nil, nil, err
		}
		return p, authn.Bearer{}, nil
	}
	return nil, nil, fmt.Errorf("unknown provider type %q", pc.Type)
}

func entryPoint(c config.EntryPointConfig) authn.EntryPoint {
	switch c.Type {
	case "HTTPBasic":
		return authn.HTTPBasicEntryPoint{Realm: c.Realm}
	case "WebRedirect":
		return authn.WebRedirectEntryPoint{URI: c.URI}
	case "Unauthorized":
		return authn.UnauthorizedEntryPoint{}
	}
	return nil
}
