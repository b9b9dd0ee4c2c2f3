package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-gateway/internal/common"
)

var errNoToken = errors.New("auth: token missing")

// TokenVerifier resolves a bearer token into an identity.
type TokenVerifier interface {
	Verify(token string) (Identity, error)
}

// Middleware wires authentication context into HTTP handlers.
type Middleware struct {
	Verifier TokenVerifier
}

// RequireAuth enforces that a valid token is present before executing the next handler.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, err := m.authenticateRequest(r)
		if err != nil {
			var appErr *common.AppError
			if errors.As(err, &appErr) {
				common.JSONError(w, http.StatusUnauthorized, appErr.Code, appErr.Message, appErr.Details)
				return
			}
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m Middleware) authenticateRequest(r *http.Request) (context.Context, error) {
	if m.Verifier == nil {
		return r.Context(), errors.New("auth: verifier not configured")
	}
	token := bearerToken(r)
	if token == "" {
		return r.Context(), errNoToken
	}
	identity, err := m.Verifier.Verify(token)
	if err != nil {
		return r.Context(), err
	}
	ctx := r.Context()
	if logger := zerolog.Ctx(ctx); logger.GetLevel() != zerolog.Disabled {
		enriched := logger.With().Str("subject", identity.Subject).Str("customer_id", identity.CustomerID).Logger()
		ctx = enriched.WithContext(ctx)
	}
	if identity.CustomerID != "" {
		ctx = common.WithCustomerID(ctx, identity.CustomerID)
	}
	if identity.Email != "" {
		ctx = common.WithCustomerEmail(ctx, identity.Email)
	}
	return ctx, nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
