package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	contextKeySubject contextKey = "jwt_subject"
	contextKeyRole    contextKey = "jwt_role"
)

// Role represents an authorized persona within the gateway.
type Role string

const (
	// RoleOperator may mutate settlement state on behalf of parties.
	RoleOperator Role = "operator"
	// RoleViewer may only read.
	RoleViewer Role = "viewer"
)

var allowedRoles = map[Role]struct{}{
	RoleOperator: {},
	RoleViewer:   {},
}

// Claims is the JWT payload the gateway accepts.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

var errInvalidToken = errors.New("auth: invalid token")

// ParseToken validates an HS256 token and returns its claims.
func ParseToken(secret, token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %v", errInvalidToken, t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, errInvalidToken
	}
	if _, ok := allowedRoles[Role(claims.Role)]; !ok {
		return nil, fmt.Errorf("%w: unknown role %q", errInvalidToken, claims.Role)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: missing subject", errInvalidToken)
	}
	return claims, nil
}

// IssueToken mints a short-lived HS256 token. Used by tests and dev tooling.
func IssueToken(secret, subject string, role Role, ttl time.Duration) (string, error) {
	claims := &Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Middleware authenticates requests and stores the subject and role in the
// request context.
func Middleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			const prefix = "Bearer "
			if !strings.HasPrefix(header, prefix) {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			claims, err := ParseToken(secret, strings.TrimSpace(strings.TrimPrefix(header, prefix)))
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), contextKeySubject, claims.Subject)
			ctx = context.WithValue(ctx, contextKeyRole, Role(claims.Role))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects requests whose authenticated role is not in the set.
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	allowed := make(map[Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, ok := RoleFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthenticated", http.StatusUnauthorized)
				return
			}
			if _, ok := allowed[role]; !ok {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SubjectFromContext returns the authenticated subject.
func SubjectFromContext(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(contextKeySubject).(string)
	return subject, ok
}

// RoleFromContext returns the authenticated role.
func RoleFromContext(ctx context.Context) (Role, bool) {
	role, ok := ctx.Value(contextKeyRole).(Role)
	return role, ok
}
