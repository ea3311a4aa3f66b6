package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/qrbooks/commission-engine/commission"
)

type actorKey struct{}

// Claims is the JWT payload: sub is the actor id, role is user or admin.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// ActorFromContext returns the authenticated actor placed by RequireAuth.
func ActorFromContext(ctx context.Context) (commission.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(commission.Actor)
	return a, ok
}

// WithActor stores actor in ctx.
func WithActor(ctx context.Context, actor commission.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// RequireAuth verifies the bearer token and injects the actor into the request context.
func RequireAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
				return
			}
			actor, err := ParseToken(secret, raw)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token", nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

// ParseToken validates an HS256 token and returns its actor.
func ParseToken(secret []byte, raw string) (commission.Actor, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return commission.Actor{}, fmt.Errorf("invalid token: %w", err)
	}
	if claims.Subject == "" {
		return commission.Actor{}, errors.New("token has no subject")
	}
	role := commission.Role(claims.Role)
	switch role {
	case commission.RoleUser, commission.RoleAdmin:
	case "":
		role = commission.RoleUser
	default:
		return commission.Actor{}, fmt.Errorf("unknown role %q", claims.Role)
	}
	return commission.Actor{ID: claims.Subject, Role: role}, nil
}

// SignToken issues an HS256 token for actor. Used by the CLI and tests.
func SignToken(secret []byte, actor commission.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
