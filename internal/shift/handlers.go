package shift

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-kasir/internal/common"
	"github.com/noah-isme/backend-kasir/internal/lock"
)

// Handler exposes shift endpoints for the signed-in cashier.
type Handler struct {
	Svc *Service
}

type openRequest struct {
	OpeningCash decimal.Decimal `json:"opening_cash"`
}

type closeRequest struct {
	CountedCash decimal.Decimal `json:"counted_cash"`
}

// Open handles POST /api/v1/shifts/open.
func (h *Handler) Open(w http.ResponseWriter, r *http.Request) {
	cashierID, ok := h.cashier(w, r)
	if !ok {
		return
	}
	var req openRequest
	if err := common.DecodeAndValidate(r, &req); err != nil {
		common.WriteError(w, err, http.StatusBadRequest)
		return
	}
	sh, err := h.Svc.Open(r.Context(), cashierID, req.OpeningCash)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, sh)
}

// Current handles GET /api/v1/shifts/current.
func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	cashierID, ok := h.cashier(w, r)
	if !ok {
		return
	}
	sh, err := h.Svc.Current(r.Context(), cashierID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, sh)
}

// Close handles POST /api/v1/shifts/close.
func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	cashierID, ok := h.cashier(w, r)
	if !ok {
		return
	}
	var req closeRequest
	if err := common.DecodeAndValidate(r, &req); err != nil {
		common.WriteError(w, err, http.StatusBadRequest)
		return
	}
	summary, err := h.Svc.Close(r.Context(), cashierID, req.CountedCash)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, summary)
}

func (h *Handler) cashier(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "shift service not configured", nil)
		return uuid.Nil, false
	}
	raw, _ := common.UserID(r.Context())
	id, err := uuid.Parse(raw)
	if err != nil {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrShiftAlreadyOpen):
		common.JSONError(w, http.StatusConflict, "SHIFT_ALREADY_OPEN", "a shift is already open for this cashier", nil)
	case errors.Is(err, ErrNoOpenShift):
		common.JSONError(w, http.StatusConflict, "NO_OPEN_SHIFT", "no open shift for this cashier", nil)
	case errors.Is(err, ErrInvalidCash):
		common.JSONError(w, http.StatusBadRequest, "INVALID_CASH", err.Error(), nil)
	case errors.Is(err, lock.ErrNotAcquired):
		common.JSONError(w, http.StatusConflict, "SHIFT_BUSY", "another shift operation is in progress", nil)
	default:
		common.WriteError(w, err, http.StatusInternalServerError)
	}
}
