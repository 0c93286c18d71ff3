package catalog

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/backend-kasir/internal/common"
)

// Handler serves product lookups to the till.
type Handler struct {
	Svc *Service
}

// Products handles GET /api/v1/products. With ?sku= it answers a barcode scan
// with a single product instead of a page.
func (h Handler) Products(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	if sku := r.URL.Query().Get("sku"); sku != "" {
		h.respond(w)(h.Svc.BySKU(r.Context(), sku))
		return
	}
	params, err := h.Svc.ParseListParams(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}
	page, err := h.Svc.List(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("X-Total-Count", strconv.FormatInt(page.Total, 10))
	common.DataWithMeta(w, http.StatusOK, page.Items,
		common.Pagination{Page: page.Page, PerPage: page.Limit, TotalItems: int(page.Total)})
}

// Product handles GET /api/v1/products/{id}.
func (h Handler) Product(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid product id", nil)
		return
	}
	h.respond(w)(h.Svc.Get(r.Context(), id))
}

func (h Handler) ready(w http.ResponseWriter) bool {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return false
	}
	return true
}

func (h Handler) respond(w http.ResponseWriter) func(Product, error) {
	return func(p Product, err error) {
		if err != nil {
			writeError(w, err)
			return
		}
		common.Data(w, http.StatusOK, p)
	}
}

func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrProductNotFound) {
		common.JSONError(w, http.StatusNotFound, "PRODUCT_NOT_FOUND", err.Error(), nil)
		return
	}
	common.WriteError(w, err, http.StatusInternalServerError)
}
