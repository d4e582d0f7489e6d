package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"pdfcp/internal/domain"
	"pdfcp/internal/repo"
)

const (
	headerActorID   = "X-Actor-Id"
	headerActorName = "X-Actor-Name"
	headerActorRole = "X-Actor-Role"
)

type AuthConfig struct {
	JWTSecret string
	// AllowActorHeaders accepts X-Actor-* headers when no credential is sent.
	AllowActorHeaders bool
}

// ActorResolver finds the actor owning a hashed API key.
type ActorResolver interface {
	ActorByAPIKey(ctx context.Context, hash string) (domain.Actor, error)
}

// Principal is the authenticated caller.
type Principal struct {
	Actor  domain.Actor
	Source string
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func principalFromRequest(ctx context.Context) (Principal, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.Actor.ID != "" {
		return p, nil
	}
	return Principal{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

func actorFromContext(ctx context.Context) (domain.Actor, huma.StatusError) {
	p, err := principalFromRequest(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	return p.Actor, nil
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
}

// SignToken issues an HS256 token for actor, valid for ttl.
func SignToken(secret string, actor domain.Actor, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	if actor.ID == "" {
		return "", errors.New("actor id required")
	}
	now := time.Now()
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  actor.ID,
			IssuedAt: jwt.NewNumericDate(now),
			Issuer:   "pdfcp",
		},
		Name: actor.Name,
		Role: string(actor.Role),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func authenticateJWT(token string, secret string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("subject claim required")
	}
	role, err := parseRole(claims.Role)
	if err != nil {
		return Principal{}, err
	}
	return Principal{
		Actor:  domain.Actor{ID: claims.Subject, Name: claims.Name, Role: role},
		Source: "jwt",
	}, nil
}

func authenticateAPIKey(ctx context.Context, r ActorResolver, key string) (Principal, error) {
	if r == nil {
		return Principal{}, errors.New("api keys not supported")
	}
	if strings.TrimSpace(key) == "" {
		return Principal{}, errors.New("api key required")
	}
	actor, err := r.ActorByAPIKey(ctx, repo.HashAPIKey(key))
	if err != nil {
		return Principal{}, err
	}
	if actor.ID == "" {
		return Principal{}, errors.New("api key missing actor")
	}
	return Principal{Actor: actor, Source: "api_key"}, nil
}

func authenticateHeaders(h http.Header) (Principal, error) {
	role, err := parseRole(h.Get(headerActorRole))
	if err != nil {
		return Principal{}, err
	}
	return Principal{
		Actor: domain.Actor{
			ID:   strings.TrimSpace(h.Get(headerActorID)),
			Name: strings.TrimSpace(h.Get(headerActorName)),
			Role: role,
		},
		Source: "actor_header",
	}, nil
}

// parseRole accepts an empty role; the workflow policy rejects it later.
func parseRole(s string) (domain.ScopeLevel, error) {
	if strings.TrimSpace(s) == "" {
		return "", nil
	}
	return domain.ParseScopeLevel(s)
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func newAuthMiddleware(basePath string, cfg AuthConfig, actors ActorResolver, log *zap.Logger) func(http.Handler) http.Handler {
	open := map[string]bool{
		path.Join(basePath, "health"):       true,
		path.Join(basePath, "openapi.json"): true,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !strings.HasPrefix(req.URL.Path, basePath) || open[req.URL.Path] || req.Method == http.MethodOptions {
				next.ServeHTTP(w, req)
				return
			}
			deny := func(err error) {
				log.Debug("authentication rejected", zap.String("path", req.URL.Path), zap.Error(err))
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			apiKey := strings.TrimSpace(req.Header.Get("X-Api-Key"))
			headerActor := strings.TrimSpace(req.Header.Get(headerActorID))

			var (
				principal Principal
				err       error
			)
			switch {
			case authz != "":
				token, ok := bearerToken(authz)
				if !ok {
					deny(errors.New("malformed authorization header"))
					return
				}
				principal, err = authenticateJWT(token, cfg.JWTSecret)
			case apiKey != "":
				principal, err = authenticateAPIKey(req.Context(), actors, apiKey)
			case headerActor != "" && cfg.AllowActorHeaders:
				principal, err = authenticateHeaders(req.Header)
			default:
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}
			if err != nil {
				deny(err)
				return
			}
			next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	_ = json.NewEncoder(w).Encode(err)
}
