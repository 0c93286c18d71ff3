package bill

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/backend-kasir/internal/catalog"
	"github.com/noah-isme/backend-kasir/internal/common"
	"github.com/noah-isme/backend-kasir/internal/discount"
	"github.com/noah-isme/backend-kasir/internal/loyalty"
	"github.com/noah-isme/backend-kasir/internal/payment"
	"github.com/noah-isme/backend-kasir/internal/pricing"
	"github.com/noah-isme/backend-kasir/internal/shift"
)

// Handler exposes the bill endpoints.
type Handler struct {
	Svc *Service
}

// Preview handles POST /api/v1/bills/preview.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "bill service not configured", nil)
		return
	}
	var req Request
	if err := common.DecodeAndValidate(r, &req); err != nil {
		common.WriteError(w, err, http.StatusBadRequest)
		return
	}
	q, err := h.Svc.Preview(r.Context(), req)
	if err != nil {
		h.writeError(w, err, q.Settlement)
		return
	}
	common.Data(w, http.StatusOK, q)
}

// Create handles POST /api/v1/bills.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "bill service not configured", nil)
		return
	}
	raw, _ := common.UserID(r.Context())
	cashierID, err := uuid.Parse(raw)
	if err != nil {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	var req Request
	if err := common.DecodeAndValidate(r, &req); err != nil {
		common.WriteError(w, err, http.StatusBadRequest)
		return
	}
	b, settlement, err := h.Svc.Create(r.Context(), cashierID, req)
	if err != nil {
		h.writeError(w, err, settlement)
		return
	}
	w.Header().Set("Location", "/api/v1/bills/"+b.ID.String())
	common.Data(w, http.StatusCreated, b)
}

// Get handles GET /api/v1/bills/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "bill service not configured", nil)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid bill id", nil)
		return
	}
	b, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err, nil)
		return
	}
	common.Data(w, http.StatusOK, b)
}

// List handles GET /api/v1/bills. Cashiers only see their own bills.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "bill service not configured", nil)
		return
	}
	page, perPage := common.ParsePagination(r, 20, 100)
	f := Filter{Page: page, PerPage: perPage}
	if v := r.URL.Query().Get("shift_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid shift_id", nil)
			return
		}
		f.ShiftID = &id
	}
	if common.Role(r.Context()) != "manager" {
		raw, _ := common.UserID(r.Context())
		id, err := uuid.Parse(raw)
		if err != nil {
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
			return
		}
		f.CashierID = &id
	}
	res, err := h.Svc.List(r.Context(), f)
	if err != nil {
		h.writeError(w, err, nil)
		return
	}
	common.Data(w, http.StatusOK, res)
}

func (h *Handler) writeError(w http.ResponseWriter, err error, settlement *pricing.Settlement) {
	switch {
	case errors.Is(err, pricing.ErrEmptyCart):
		common.JSONError(w, http.StatusUnprocessableEntity, "EMPTY_CART", "cart has no items", nil)
	case errors.Is(err, pricing.ErrInvalidLineItem):
		common.JSONError(w, http.StatusUnprocessableEntity, "INVALID_LINE_ITEM", err.Error(), nil)
	case errors.Is(err, pricing.ErrInsufficientPayment):
		var details any
		if settlement != nil {
			details = map[string]any{"shortfall": settlement.Shortfall}
		}
		common.JSONError(w, http.StatusUnprocessableEntity, "INSUFFICIENT_PAYMENT", "tendered amount does not cover the grand total", details)
	case errors.Is(err, pricing.ErrPaymentMismatch):
		common.JSONError(w, http.StatusUnprocessableEntity, "PAYMENT_MISMATCH", err.Error(), nil)
	case errors.Is(err, pricing.ErrInvalidPayment):
		common.JSONError(w, http.StatusBadRequest, "INVALID_PAYMENT", err.Error(), nil)
	case errors.Is(err, ErrPaymentRequired):
		common.JSONError(w, http.StatusBadRequest, "INVALID_PAYMENT", "payment is required", nil)
	case errors.Is(err, ErrSizeMismatch):
		common.JSONError(w, http.StatusUnprocessableEntity, "INVALID_LINE_ITEM", err.Error(), nil)
	case errors.Is(err, catalog.ErrProductNotFound):
		common.JSONError(w, http.StatusNotFound, "PRODUCT_NOT_FOUND", err.Error(), nil)
	case errors.Is(err, loyalty.ErrCustomerNotFound):
		common.JSONError(w, http.StatusNotFound, "CUSTOMER_NOT_FOUND", "customer not found", nil)
	case errors.Is(err, ErrBillNotFound):
		common.JSONError(w, http.StatusNotFound, "BILL_NOT_FOUND", "bill not found", nil)
	case errors.Is(err, ErrInsufficientStock):
		common.JSONError(w, http.StatusConflict, "INSUFFICIENT_STOCK", err.Error(), nil)
	case errors.Is(err, discount.ErrUsageLimitReached):
		common.JSONError(w, http.StatusConflict, "DISCOUNT_EXHAUSTED", "a discount ran out while billing, price the cart again", nil)
	case errors.Is(err, shift.ErrNoOpenShift):
		common.JSONError(w, http.StatusConflict, "NO_OPEN_SHIFT", "open a shift before billing", nil)
	case errors.Is(err, payment.ErrNotCaptured), errors.Is(err, payment.ErrUnknownReference):
		common.JSONError(w, http.StatusUnprocessableEntity, "PAYMENT_NOT_VERIFIED", err.Error(), nil)
	case errors.Is(err, payment.ErrMissingReference):
		common.JSONError(w, http.StatusBadRequest, "PAYMENT_REFERENCE_REQUIRED", "card or upi reference is required", nil)
	case errors.Is(err, payment.ErrUnavailable):
		common.JSONError(w, http.StatusServiceUnavailable, "PAYMENT_VERIFICATION_UNAVAILABLE", "payment verification is unavailable, retry shortly", nil)
	default:
		common.WriteError(w, err, http.StatusInternalServerError)
	}
}
