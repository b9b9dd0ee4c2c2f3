package middleware

import (
	"net/http"

	"github.com/noah-isme/storefront-gateway/internal/common"
)

// RequireCustomer ensures an authenticated customer identifier exists in the
// request context before subscription routes run.
func RequireCustomer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := common.CustomerID(r.Context()); !ok {
			common.JSONError(w, http.StatusForbidden, "CUSTOMER_REQUIRED", "token is not bound to a customer", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
