package pricing

import (
	"net/http"

	"github.com/noah-isme/storefront-gateway/internal/common"
)

// Handler exposes pricing endpoints.
type Handler struct {
	service *Service
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Service *Service
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{service: cfg.Service}
}

// lineRequest mirrors Line with a pointer price so an omitted unitPrice is
// rejected instead of resolving at zero.
type lineRequest struct {
	ProductID string `json:"productId" validate:"required,max=64"`
	UnitPrice *Money `json:"unitPrice" validate:"required"`
	Quantity  int    `json:"quantity" validate:"min=1"`
}

func (l lineRequest) line() Line {
	return Line{ProductID: l.ProductID, UnitPrice: *l.UnitPrice, Quantity: l.Quantity}
}

type quoteRequest struct {
	Lines []lineRequest `json:"lines" validate:"required,min=1,max=100,dive"`
}

// Resolve handles POST /api/v1/pricing/resolve.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req lineRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := common.ValidateStruct(req); err != nil {
		common.WriteError(w, err)
		return
	}
	res, err := h.service.Resolve(r.Context(), req.line())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, res)
}

// Quote handles POST /api/v1/pricing/quote.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := common.ValidateStruct(req); err != nil {
		common.WriteError(w, err)
		return
	}
	lines := make([]Line, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, l.line())
	}
	summary, err := h.service.Quote(r.Context(), lines)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, summary)
}
