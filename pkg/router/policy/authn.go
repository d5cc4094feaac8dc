package policy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/agentgateway/agentgateway/pkg/config"
	"github.com/agentgateway/agentgateway/pkg/gwerrors"
)

// Authn verifies a bearer JWT against a JWKS endpoint, populating
// mctx.Claims on success. Later policies' CEL expressions read them
// through the claims variable; no jwt variable is declared.
type Authn struct {
	phase    config.PolicyPhase
	deadline time.Duration
	issuer   string
	audience []string
	cache    *jwk.Cache
	jwksURL  string
}

// NewAuthn builds an Authn policy. ctx is used only to start the JWKS
// auto-refresh cache; it is not held past construction.
func NewAuthn(ctx context.Context, p config.Policy) (*Authn, error) {
	if p.JWKSURL == "" {
		return nil, gwerrors.NewInvalidRequestError("authn policy missing jwks_url", nil)
	}
	cache, err := jwk.NewCache(ctx, httprc.NewClient())
	if err != nil {
		return nil, gwerrors.NewInternalError("creating jwks cache", err)
	}
	if err := cache.Register(ctx, p.JWKSURL); err != nil {
		return nil, gwerrors.NewInternalError("registering jwks url", err)
	}
	return &Authn{
		phase:    p.Phase,
		deadline: p.Deadline,
		issuer:   p.Issuer,
		audience: p.Audience,
		cache:    cache,
		jwksURL:  p.JWKSURL,
	}, nil
}

func (a *Authn) Phase() config.PolicyPhase { return a.phase }
func (a *Authn) Deadline() time.Duration   { return a.deadline }

func (a *Authn) Execute(ctx context.Context, mctx *MatchContext) error {
	authHeader := mctx.Headers["authorization"]
	if authHeader == "" {
		return gwerrors.NewUnauthenticatedError("missing authorization header", nil)
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return gwerrors.NewUnauthenticatedError("authorization header is not a bearer token", nil)
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		return a.keyFor(ctx, t)
	})
	if err != nil || !token.Valid {
		return gwerrors.NewUnauthenticatedError("invalid bearer token", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return gwerrors.NewUnauthenticatedError("token claims are not a map", nil)
	}
	if err := a.validateClaims(claims); err != nil {
		return err
	}

	mctx.Claims = map[string]any(claims)
	return nil
}

func (a *Authn) keyFor(ctx context.Context, token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	kid, ok := token.Header["kid"].(string)
	if !ok {
		return nil, fmt.Errorf("token header missing kid")
	}
	set, err := a.cache.Lookup(ctx, a.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("fetching jwks: %w", err)
	}
	key, ok := set.LookupKeyID(kid)
	if !ok {
		return nil, fmt.Errorf("key id %q not found in jwks", kid)
	}
	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		return nil, fmt.Errorf("exporting jwk: %w", err)
	}
	return raw, nil
}

func (a *Authn) validateClaims(claims jwt.MapClaims) error {
	if a.issuer != "" {
		iss, err := claims.GetIssuer()
		if err != nil || iss != a.issuer {
			return gwerrors.NewUnauthenticatedError("invalid issuer", nil)
		}
	}
	if len(a.audience) > 0 {
		auds, err := claims.GetAudience()
		if err != nil {
			return gwerrors.NewUnauthenticatedError("invalid audience", nil)
		}
		if !audienceOverlaps(a.audience, auds) {
			return gwerrors.NewUnauthenticatedError("invalid audience", nil)
		}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil || exp.Before(time.Now()) {
		return gwerrors.NewUnauthenticatedError("token expired", nil)
	}
	return nil
}

func audienceOverlaps(want, got []string) bool {
	for _, w := range want {
		for _, g := range got {
			if w == g {
				return true
			}
		}
	}
	return false
}
