package discount

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/backend-kasir/internal/common"
	"github.com/noah-isme/backend-kasir/internal/pricing"
)

// Handler exposes manager-only discount rule endpoints.
type Handler struct {
	Svc *Service
}

type rulePayload struct {
	Name        string        `json:"name" validate:"required,max=120"`
	Kind        string        `json:"kind" validate:"required,oneof=percentage fixed"`
	Value       pricing.Money `json:"value"`
	ProductIDs  []string      `json:"product_ids" validate:"omitempty,dive,uuid"`
	CategoryIDs []string      `json:"category_ids" validate:"omitempty,dive,uuid"`
	ValidFrom   *time.Time    `json:"valid_from"`
	ValidTo     *time.Time    `json:"valid_to"`
	Priority    int           `json:"priority" validate:"gte=0,lte=1000"`
	UsageLimit  *int32        `json:"usage_limit" validate:"omitempty,gte=0"`
}

// Create handles POST /api/v1/admin/discounts.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "discount service not configured", nil)
		return
	}
	var payload rulePayload
	if err := common.DecodeAndValidate(r, &payload); err != nil {
		common.WriteError(w, err, http.StatusBadRequest)
		return
	}
	rule := Rule{
		Name:        payload.Name,
		Kind:        pricing.DiscountKind(payload.Kind),
		Value:       payload.Value,
		ProductIDs:  mustUUIDs(payload.ProductIDs),
		CategoryIDs: mustUUIDs(payload.CategoryIDs),
		ValidFrom:   payload.ValidFrom,
		ValidTo:     payload.ValidTo,
		Priority:    payload.Priority,
		UsageLimit:  payload.UsageLimit,
	}
	created, err := h.Svc.Create(r.Context(), rule)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, created)
}

// List handles GET /api/v1/admin/discounts.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "discount service not configured", nil)
		return
	}
	rules, err := h.Svc.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if rules == nil {
		rules = []Rule{}
	}
	common.Data(w, http.StatusOK, rules)
}

// Deactivate handles DELETE /api/v1/admin/discounts/{id}.
func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "discount service not configured", nil)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid rule id", nil)
		return
	}
	if err := h.Svc.Deactivate(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidRule):
		common.JSONError(w, http.StatusBadRequest, "INVALID_DISCOUNT_RULE", err.Error(), nil)
	case errors.Is(err, ErrRuleNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "discount rule not found", nil)
	default:
		common.WriteError(w, err, http.StatusInternalServerError)
	}
}

// mustUUIDs parses IDs that already passed the uuid validation tag.
func mustUUIDs(values []string) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(values))
	for _, v := range values {
		out = append(out, uuid.MustParse(v))
	}
	return out
}
