package subscription

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/storefront-gateway/internal/common"
	"github.com/noah-isme/storefront-gateway/internal/erp"
)

// Handler exposes the recurring-order endpoints of the signed-in customer.
type Handler struct {
	sessions *Sessions
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Sessions *Sessions
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{sessions: cfg.Sessions}
}

type updateRequest struct {
	Interval     *int    `json:"interval" validate:"omitempty,oneof=1 2 3 6"`
	NextRunDate  *string `json:"nextRunDate" validate:"omitempty,datetime=2006-01-02"`
	Status       *string `json:"status" validate:"omitempty,oneof=active paused canceled"`
	DeliveryDays *[]int  `json:"deliveryDays" validate:"omitempty,max=7,dive,min=1,max=7"`
}

type listResponse struct {
	Items      []Row  `json:"items"`
	Confirming string `json:"confirming,omitempty"`
}

type outcomeResponse struct {
	ROID    string  `json:"roId"`
	Outcome Outcome `json:"outcome"`
	Row     *Row    `json:"row,omitempty"`
}

func (h *Handler) controller(r *http.Request) (*Controller, error) {
	customerID, ok := common.CustomerID(r.Context())
	if !ok {
		return nil, common.NewAppError("CUSTOMER_REQUIRED", "customer account required", http.StatusForbidden, nil)
	}
	return h.sessions.For(customerID)
}

// List handles GET /api/v1/subscriptions. The ERP is queried on first use and
// whenever refresh=true; otherwise the stored workspace is returned.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctrl, err := h.controller(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	loaded, err := ctrl.Loaded(r.Context())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	if !loaded || refresh {
		if err := ctrl.Load(r.Context()); err != nil {
			common.WriteError(w, toAppError(err))
			return
		}
	}
	h.writeList(w, r, ctrl)
}

func (h *Handler) writeList(w http.ResponseWriter, r *http.Request, ctrl *Controller) {
	rows, err := ctrl.Rows(r.Context())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	confirming, err := ctrl.Confirming(r.Context())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, listResponse{Items: rows, Confirming: confirming})
}

// Update handles PATCH /api/v1/subscriptions/{roId}, recording pending edits.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	ctrl, err := h.controller(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	var req updateRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := common.ValidateStruct(req); err != nil {
		common.WriteError(w, err)
		return
	}
	roID := chi.URLParam(r, "roId")
	set := EditSet{Interval: req.Interval}
	if req.NextRunDate != nil {
		date, perr := time.Parse(dateLayout, *req.NextRunDate)
		if perr != nil {
			common.WriteError(w, common.NewAppError("INVALID_SUBSCRIPTION_INPUT", "nextRunDate must be YYYY-MM-DD", http.StatusBadRequest, perr))
			return
		}
		set.NextRunDate = &date
	}
	if req.Status != nil {
		status := Status(*req.Status)
		set.Status = &status
	}
	if req.DeliveryDays != nil {
		set.DeliveryDays = *req.DeliveryDays
		if set.DeliveryDays == nil {
			set.DeliveryDays = []int{}
		}
	}
	err = ctrl.Edit(r.Context(), roID, set)
	if err != nil {
		common.WriteError(w, toAppError(err))
		return
	}
	h.writeRow(w, r, ctrl, roID)
}

func (h *Handler) writeRow(w http.ResponseWriter, r *http.Request, ctrl *Controller, roID string) {
	row, err := ctrl.Row(r.Context(), roID)
	if err != nil {
		common.WriteError(w, toAppError(err))
		return
	}
	common.Data(w, http.StatusOK, row)
}

// Discard handles DELETE /api/v1/subscriptions/{roId}/draft.
func (h *Handler) Discard(w http.ResponseWriter, r *http.Request) {
	ctrl, err := h.controller(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	roID := chi.URLParam(r, "roId")
	if err := ctrl.Discard(r.Context(), roID); err != nil {
		common.WriteError(w, toAppError(err))
		return
	}
	h.writeRow(w, r, ctrl, roID)
}

// Save handles POST /api/v1/subscriptions/{roId}/save.
func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	ctrl, err := h.controller(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	roID := chi.URLParam(r, "roId")
	outcome, err := ctrl.SaveRow(r.Context(), roID)
	if err != nil {
		common.WriteError(w, toAppError(err))
		return
	}
	resp := outcomeResponse{ROID: roID, Outcome: outcome}
	if row, err := ctrl.Row(r.Context(), roID); err == nil {
		resp.Row = &row
	}
	common.Data(w, http.StatusOK, resp)
}

// SaveAll handles POST /api/v1/subscriptions/save. Per-row failures are
// reported in the body; the request itself succeeds.
func (h *Handler) SaveAll(w http.ResponseWriter, r *http.Request) {
	ctrl, err := h.controller(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	results, err := ctrl.SaveAll(r.Context())
	if err != nil {
		common.WriteError(w, toAppError(err))
		return
	}
	common.Data(w, http.StatusOK, map[string]any{"results": results})
}

// RequestCancel handles POST /api/v1/subscriptions/{roId}/cancel.
func (h *Handler) RequestCancel(w http.ResponseWriter, r *http.Request) {
	ctrl, err := h.controller(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	roID := chi.URLParam(r, "roId")
	if err := ctrl.RequestCancel(r.Context(), roID); err != nil {
		common.WriteError(w, toAppError(err))
		return
	}
	common.Data(w, http.StatusAccepted, outcomeResponse{ROID: roID, Outcome: OutcomeNeedsConfirmation})
}

// ConfirmCancel handles POST /api/v1/subscriptions/cancel/confirm.
func (h *Handler) ConfirmCancel(w http.ResponseWriter, r *http.Request) {
	ctrl, err := h.controller(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	roID, outcome, err := ctrl.ConfirmCancel(r.Context())
	if err != nil {
		common.WriteError(w, toAppError(err))
		return
	}
	common.Data(w, http.StatusOK, outcomeResponse{ROID: roID, Outcome: outcome})
}

// DismissCancel handles DELETE /api/v1/subscriptions/cancel.
func (h *Handler) DismissCancel(w http.ResponseWriter, r *http.Request) {
	ctrl, err := h.controller(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	if err := ctrl.DismissCancel(r.Context()); err != nil {
		common.WriteError(w, toAppError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Notices handles GET /api/v1/subscriptions/notices, draining the queue.
func (h *Handler) Notices(w http.ResponseWriter, r *http.Request) {
	ctrl, err := h.controller(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	notices, err := ctrl.DrainNotices(r.Context())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, map[string]any{"notices": notices})
}

func toAppError(err error) error {
	var appErr *common.AppError
	var erpErr *erp.Error
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, ErrRowNotFound):
		return common.NewAppError("SUBSCRIPTION_NOT_FOUND", "subscription not found", http.StatusNotFound, err)
	case errors.Is(err, ErrRowBusy):
		return common.NewAppError("SUBSCRIPTION_BUSY", "subscription update already in progress", http.StatusConflict, err)
	case errors.Is(err, ErrNothingToConfirm):
		return common.NewAppError("NOTHING_TO_CONFIRM", "no cancellation awaiting confirmation", http.StatusConflict, err)
	case errors.Is(err, ErrInvalidInterval), errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrInvalidDate), errors.Is(err, ErrInvalidDeliveryDay):
		return common.NewAppError("INVALID_SUBSCRIPTION_INPUT", err.Error(), http.StatusBadRequest, err)
	case errors.Is(err, erp.ErrInvalidID):
		return common.NewAppError("INVALID_SUBSCRIPTION", "invalid recurring order id", http.StatusBadRequest, err)
	case errors.As(err, &erpErr):
		return common.NewAppError("ERP_REJECTED", "the ERP rejected the change", http.StatusBadGateway, err).
			WithDetails(map[string]string{"detail": erpErr.Detail()})
	default:
		return common.NewAppError("ERP_UNAVAILABLE", "recurring orders are unavailable", http.StatusBadGateway, err).
			WithDetails(map[string]string{"detail": erp.Detail(err)})
	}
}
