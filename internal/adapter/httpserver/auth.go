package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fairyhunter13/global-credit-core/internal/domain"
)

// RoleAdmin is required for mutating admin endpoints (PATCH/DELETE).
const RoleAdmin = "admin"

type apiClaims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type claimsKey struct{}

// ClaimsFrom returns the authenticated claims, if any.
func ClaimsFrom(ctx context.Context) (apiClaims, bool) {
	c, ok := ctx.Value(claimsKey{}).(apiClaims)
	return c, ok
}

// RequireAuth validates the Bearer token and stores its claims in the
// request context. Only the configured HMAC algorithm is accepted.
func (s *Server) RequireAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := s.parseBearer(r)
			if err != nil {
				writeError(w, r, err, nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}

// RequireAdmin allows only tokens carrying the admin role. It must run after
// RequireAuth.
func (s *Server) RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFrom(r.Context())
			if !ok {
				writeError(w, r, fmt.Errorf("%w: authentication required", domain.ErrUnauthorized), nil)
				return
			}
			if claims.Role != RoleAdmin {
				writeError(w, r, fmt.Errorf("%w: admin role required", domain.ErrForbidden), nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) parseBearer(r *http.Request) (apiClaims, error) {
	header := r.Header.Get("Authorization")
	tokenStr, found := strings.CutPrefix(header, "Bearer ")
	if !found || tokenStr == "" {
		return apiClaims{}, fmt.Errorf("%w: missing bearer token", domain.ErrUnauthorized)
	}
	var claims apiClaims
	_, err := jwt.ParseWithClaims(tokenStr, &claims,
		func(*jwt.Token) (any, error) { return []byte(s.Cfg.JWTSecret), nil },
		jwt.WithValidMethods([]string{s.Cfg.JWTAlgorithm}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return apiClaims{}, fmt.Errorf("%w: invalid token: %v", domain.ErrUnauthorized, err)
	}
	return claims, nil
}

type tokenRequest struct {
	Subject string `json:"subject" validate:"required,max=100"`
	Role    string `json:"role" validate:"omitempty,oneof=user admin"`
}

// DevTokenHandler handles POST /v1/auth/token: a development helper that
// mints a bearer token for manual testing. The router never mounts it in
// production.
func (s *Server) DevTokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req tokenRequest
		if err := decodeJSON(w, r, s.Cfg.MaxPayloadBytes(), &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		now := time.Now()
		claims := apiClaims{
			Role: req.Role,
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   req.Subject,
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(s.Cfg.JWTExpiration())),
			},
		}
		signed, err := jwt.NewWithClaims(jwt.GetSigningMethod(s.Cfg.JWTAlgorithm), claims).
			SignedString([]byte(s.Cfg.JWTSecret))
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: token signing failed", domain.ErrInternal), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": signed,
			"token_type":   "bearer",
			"expires_in":   int(s.Cfg.JWTExpiration().Seconds()),
		})
	}
}
