package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// toolContextKey is the context key for the authenticated tool tenant.
type toolContextKey string

const toolTenantIDKey toolContextKey = "tool_tenant_id"

// toolTokenTTL is the lifetime of a tool JWT (1 hour; the AI runtime
// mints a fresh token per conversation).
const toolTokenTTL = time.Hour

// ToolClaims holds the JWT claims for AI tool-call authentication.
type ToolClaims struct {
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

// GenerateToolToken creates a signed JWT the AI runtime presents on tool
// calls for the given tenant.
func GenerateToolToken(secret []byte, tenantID string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(toolTokenTTL)

	claims := ToolClaims{
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    "voxgate",
			Subject:   tenantID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}

	return signed, expiresAt, nil
}

// RequireToolAuth returns middleware that validates JWT bearer tokens on
// the tool-call and ops endpoints. On success it stores the tenant ID in
// the request context.
func RequireToolAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				writeError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			claims := &ToolClaims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return secret, nil
			})
			if err != nil || !token.Valid {
				slog.Debug("tool auth: invalid jwt", "error", err)
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			if claims.TenantID == "" {
				writeError(w, http.StatusUnauthorized, "invalid token claims")
				return
			}

			ctx := context.WithValue(r.Context(), toolTenantIDKey, claims.TenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ToolTenantFromContext retrieves the authenticated tenant ID from the
// request context. Returns "" if not set.
func ToolTenantFromContext(ctx context.Context) string {
	id, _ := ctx.Value(toolTenantIDKey).(string)
	return id
}
