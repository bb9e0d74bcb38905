// Package jwt authenticates stateless bearer tokens carrying signed JWTs.
//
// Tokens are verified with an HMAC secret (HS256/384/512) or against RSA keys
// from a JWKS endpoint (RS256/384/512). The subject claim becomes the account
// identifier and the roles claim its role assignments.
package jwt

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/rhuss/keystone/pkg/account"
	"github.com/rhuss/keystone/pkg/authn"
)

// Config holds the JWT provider configuration.
type Config struct {
	// Secret verifies HMAC signed tokens. Either Secret or JWKSURL is required.
	Secret []byte

	// JWKSURL is fetched for RSA verification keys.
	JWKSURL string

	// Issuer is the expected iss claim. Empty skips the check.
	Issuer string

	// Audience is the expected aud claim. Empty skips the check.
	Audience string

	// UserClaim names the account identifier claim. Default: "sub".
	UserClaim string

	// RolesClaim names the role identifiers claim, a JSON array or a
	// space separated string. Default: "roles".
	RolesClaim string

	// CacheTTL controls how long JWKS keys are cached. Default: 1 hour.
	CacheTTL time.Duration

	// HTTPClient fetches the JWKS. Default: http.DefaultClient.
	HTTPClient *http.Client
}

func (c *Config) applyDefaults() {
	if c.UserClaim == "" {
		c.UserClaim = "sub"
	}
	if c.RolesClaim == "" {
		c.RolesClaim = "roles"
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = time.Hour
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
}

// Provider verifies JWT bearer tokens.
type Provider struct {
	name   string
	config Config
	jwks   *jwksCache
}

var _ authn.Provider = (*Provider)(nil)

// New creates a JWT provider. It fails when no verification key source is
// configured.
func New(name string, cfg Config) (*Provider, error) {
	if len(cfg.Secret) == 0 && cfg.JWKSURL == "" {
		return nil, fmt.Errorf("jwt provider %s: secret or jwks url required", name)
	}
	cfg.applyDefaults()
	p := &Provider{name: name, config: cfg}
	if cfg.JWKSURL != "" {
		p.jwks = newJWKSCache(cfg.JWKSURL, cfg.CacheTTL, cfg.HTTPClient)
	}
	return p, nil
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) TokenTypes() []string {
	return []string{authn.TypeBearer}
}

// Authenticate verifies the bearer token and binds an account built from its
// claims.
func (p *Provider) Authenticate(ctx context.Context, t *authn.Token) error {
	raw := t.Credentials()["token"]
	if raw == "" {
		return t.Rejected()
	}

	parsed, err := jwtlib.Parse(raw, func(token *jwtlib.Token) (any, error) {
		return p.verificationKey(ctx, token)
	}, p.parserOptions()...)
	if err != nil {
		slog.Debug("JWT validation failed", "provider", p.name, "error", err)
		return t.Rejected()
	}

	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok || !parsed.Valid {
		return t.Rejected()
	}

	subject := claimString(claims, p.config.UserClaim)
	if subject == "" {
		slog.Debug("JWT without subject", "provider", p.name, "claim", p.config.UserClaim)
		return t.Rejected()
	}

	issued := time.Now()
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		issued = iat.Time
	}
	acc := account.New(subject, p.name, issued)
	acc.RoleIDs = claimList(claims, p.config.RolesClaim)
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		at := exp.Time
		acc.ExpiresAt = &at
	}
	return t.Authenticated(acc)
}

func (p *Provider) verificationKey(ctx context.Context, token *jwtlib.Token) (any, error) {
	switch token.Method.(type) {
	case *jwtlib.SigningMethodHMAC:
		if len(p.config.Secret) == 0 {
			return nil, fmt.Errorf("HMAC tokens not accepted")
		}
		return p.config.Secret, nil
	case *jwtlib.SigningMethodRSA:
		if p.jwks == nil {
			return nil, fmt.Errorf("RSA tokens not accepted")
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token missing kid header")
		}
		return p.jwks.getKey(ctx, kid)
	default:
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
}

func (p *Provider) parserOptions() []jwtlib.ParserOption {
	var methods []string
	if len(p.config.Secret) > 0 {
		methods = append(methods, "HS256", "HS384", "HS512")
	}
	if p.jwks != nil {
		methods = append(methods, "RS256", "RS384", "RS512")
	}
	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods(methods),
		jwtlib.WithExpirationRequired(),
	}
	if p.config.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(p.config.Issuer))
	}
	if p.config.Audience != "" {
		opts = append(opts, jwtlib.WithAudience(p.config.Audience))
	}
	return opts
}

func claimString(claims jwtlib.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}

// claimList accepts a space separated string or a JSON array of strings.
func claimList(claims jwtlib.MapClaims, key string) []string {
	switch v := claims[key].(type) {
	case string:
		if parts := strings.Fields(v); len(parts) > 0 {
			return parts
		}
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
