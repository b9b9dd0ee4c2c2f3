package audit

import (
	"net/http"
	"strconv"

	"github.com/noah-isme/storefront-gateway/internal/common"
)

// Handler exposes the signed-in customer's change history.
type Handler struct {
	Store Store
}

// List handles GET /api/v1/subscriptions/history.
func (h Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "JOURNAL_DISABLED", "change history is not enabled", nil)
		return
	}
	customerID, ok := common.CustomerID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusForbidden, "CUSTOMER_REQUIRED", "customer account required", nil)
		return
	}
	limit := atoiDefault(r.URL.Query().Get("limit"), 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := atoiDefault(r.URL.Query().Get("offset"), 0)
	if offset < 0 {
		offset = 0
	}

	entries, err := h.Store.ListChanges(r.Context(), ListParams{CustomerID: customerID, Limit: limit, Offset: offset})
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "JOURNAL_QUERY_FAILED", "unable to fetch change history", nil)
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	common.Data(w, http.StatusOK, map[string]any{"items": entries, "limit": limit, "offset": offset})
}

func atoiDefault(value string, fallback int) int {
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
