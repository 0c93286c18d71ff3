package auth

import (
	"net/http"

	"github.com/noah-isme/backend-kasir/internal/common"
)

// Handler exposes the login endpoints.
type Handler struct {
	Service *Service
}

type loginRequest struct {
	EmployeeCode string `json:"employee_code" validate:"required,max=32"`
	PIN          string `json:"pin" validate:"required,min=4,max=64"`
}

// Login handles POST /api/v1/auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "auth service not configured", nil)
		return
	}
	var req loginRequest
	if err := common.DecodeAndValidate(r, &req); err != nil {
		common.WriteError(w, err, http.StatusBadRequest)
		return
	}
	result, err := h.Service.Login(r.Context(), req.EmployeeCode, req.PIN)
	if err != nil {
		common.WriteError(w, err, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	common.Data(w, http.StatusOK, result)
}

// Me handles GET /api/v1/auth/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "auth service not configured", nil)
		return
	}
	userID, _ := common.UserID(r.Context())
	emp, err := h.Service.Me(r.Context(), userID)
	if err != nil {
		common.WriteError(w, err, http.StatusInternalServerError)
		return
	}
	common.Data(w, http.StatusOK, emp)
}
