package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// PrincipalValidator validates a bearer token and resolves the principal
// address it authenticates.
type PrincipalValidator interface {
	ValidateToken(tokenString string) (common.Address, error)
}

type contextKeyPrincipal struct{}

// ContextKeyPrincipal is exported for tests that prime contexts directly.
var ContextKeyPrincipal = contextKeyPrincipal{}

// GetPrincipal retrieves the authenticated principal from the context. The
// zero address means "not authenticated".
func GetPrincipal(ctx context.Context) common.Address {
	principal, ok := ctx.Value(ContextKeyPrincipal).(common.Address)
	if !ok {
		return common.Address{}
	}
	return principal
}

// WithPrincipal returns a context carrying the principal. Exported for
// tests and internal wiring.
func WithPrincipal(ctx context.Context, principal common.Address) context.Context {
	return context.WithValue(ctx, ContextKeyPrincipal, principal)
}

// RequireAuth authenticates the request's bearer token and places the
// principal address in the context. Role checks stay in the services: the
// transport only establishes identity.
func RequireAuth(validator PrincipalValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			const bearerPrefix = "Bearer "
			after, ok := strings.CutPrefix(authHeader, bearerPrefix)
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing bearer token")
				return
			}
			principal, err := validator.ValidateToken(after)
			if err != nil {
				ctx := r.Context()
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", GetRequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// writeJSONError writes a JSON error response with the given status code.
func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + errCode + `","error_description":"` + errDesc + `"}`))
}
