package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
)

const anonymousActor = "anonymous"

var (
	errNoCredentials  = errors.New("authentication required")
	errBadCredentials = errors.New("invalid credentials")
)

// AuthConfig enables bearer auth on the API base path when JWTSecret is set.
// Tokens must be HS256 and carry a subject, which becomes the requester.
type AuthConfig struct {
	JWTSecret string
	Leeway    time.Duration
}

func (c AuthConfig) enabled() bool { return strings.TrimSpace(c.JWTSecret) != "" }

// Principal is the caller attached to the request context.
type Principal struct {
	ActorID string
	Source  string
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// actorID returns the authenticated subject, or "anonymous" on an open API.
func actorID(ctx context.Context) string {
	if p, ok := ctx.Value(principalKey{}).(Principal); ok && p.ActorID != "" {
		return p.ActorID
	}
	return anonymousActor
}

type jwtVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func newJWTVerifier(cfg AuthConfig) jwtVerifier {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(cfg.Leeway))
	}
	return jwtVerifier{secret: []byte(cfg.JWTSecret), parser: jwt.NewParser(opts...)}
}

func (v jwtVerifier) verify(token string) (Principal, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return Principal{}, errBadCredentials
	}
	return Principal{ActorID: claims.Subject, Source: "jwt"}, nil
}

// authenticate reads the Authorization header. A missing header is
// errNoCredentials; anything unusable is errBadCredentials.
func (v jwtVerifier) authenticate(req *http.Request) (Principal, error) {
	authz := strings.TrimSpace(req.Header.Get("Authorization"))
	if authz == "" {
		return Principal{}, errNoCredentials
	}
	scheme, token, ok := strings.Cut(authz, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		return Principal{}, errBadCredentials
	}
	return v.verify(token)
}

func newAuthMiddleware(basePath string, cfg AuthConfig) func(http.Handler) http.Handler {
	anonymous := Principal{ActorID: anonymousActor, Source: "anonymous"}
	verifier := newJWTVerifier(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			// health, docs and openapi stay public
			if !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if !cfg.enabled() {
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), anonymous)))
				return
			}
			principal, err := verifier.authenticate(req)
			switch {
			case errors.Is(err, errNoCredentials):
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", err.Error(), nil))
				return
			case err != nil:
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", err.Error(), nil))
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
