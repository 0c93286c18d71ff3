package loyalty

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/backend-kasir/internal/common"
)

// Handler exposes customer lookup and loyalty status to the till.
type Handler struct {
	Svc *Service
}

type registerRequest struct {
	Name  string `json:"name" validate:"required,max=120"`
	Phone string `json:"phone" validate:"required,min=6,max=20"`
}

// Loyalty handles GET /api/v1/customers/{id}/loyalty.
func (h *Handler) Loyalty(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "loyalty service not configured", nil)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid customer id", nil)
		return
	}
	st, err := h.Svc.Eligibility(r.Context(), &id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !st.Known {
		h.writeError(w, ErrCustomerNotFound)
		return
	}
	common.Data(w, http.StatusOK, st)
}

// Find handles GET /api/v1/customers?phone=.
func (h *Handler) Find(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "loyalty service not configured", nil)
		return
	}
	phone := strings.TrimSpace(r.URL.Query().Get("phone"))
	if phone == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "phone is required", nil)
		return
	}
	c, err := h.Svc.FindByPhone(r.Context(), phone)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, c)
}

// Register handles POST /api/v1/customers.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "loyalty service not configured", nil)
		return
	}
	var req registerRequest
	if err := common.DecodeAndValidate(r, &req); err != nil {
		common.WriteError(w, err, http.StatusBadRequest)
		return
	}
	c, err := h.Svc.Register(r.Context(), req.Name, req.Phone)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, c)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrCustomerNotFound):
		common.JSONError(w, http.StatusNotFound, "CUSTOMER_NOT_FOUND", "customer not found", nil)
	case errors.Is(err, ErrPhoneTaken):
		common.JSONError(w, http.StatusConflict, "PHONE_TAKEN", "phone already registered", nil)
	default:
		common.WriteError(w, err, http.StatusInternalServerError)
	}
}
