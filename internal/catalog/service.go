package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-kasir/internal/cache"
	"github.com/noah-isme/backend-kasir/internal/common"
)

var (
	// ErrProductNotFound is returned when a product is missing or deactivated.
	ErrProductNotFound = errors.New("product not found")
)

// Store is the persistence surface the catalog service needs.
type Store interface {
	ProductsByIDs(ctx context.Context, ids []uuid.UUID) ([]Product, error)
	ProductBySKU(ctx context.Context, sku string) (Product, error)
	ListProducts(ctx context.Context, params ListParams) ([]Product, int64, error)
}

// Product is a sellable catalog entry. Rate is the unit price and TaxRate a percentage.
type Product struct {
	ID         uuid.UUID       `json:"id"`
	SKU        string          `json:"sku"`
	Name       string          `json:"name"`
	Size       string          `json:"size,omitempty"`
	CategoryID *uuid.UUID      `json:"category_id,omitempty"`
	Rate       decimal.Decimal `json:"rate"`
	TaxRate    decimal.Decimal `json:"tax_rate"`
	Stock      decimal.Decimal `json:"stock"`
	Active     bool            `json:"active"`
}

// Service orchestrates catalog lookups and caching.
type Service struct {
	store        Store
	cache        *cache.JSON
	defaultLimit int
	maxLimit     int
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Store        Store
	Cache        *cache.JSON
	DefaultLimit int
	MaxLimit     int
}

// ListParams captures filters for product listing.
type ListParams struct {
	Query      string
	CategoryID *uuid.UUID
	InStock    *bool
	Page       int
	Limit      int
}

// ProductListResult contains list data and pagination metadata.
type ProductListResult struct {
	Items []Product
	Total int64
	Page  int
	Limit int
}

// NewService constructs a Service instance.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("catalog: store is required")
	}
	maxLimit := cfg.MaxLimit
	if maxLimit < 1 {
		maxLimit = 100
	}
	defaultLimit := cfg.DefaultLimit
	if defaultLimit < 1 {
		defaultLimit = 20
	}
	if defaultLimit > maxLimit {
		defaultLimit = maxLimit
	}
	return &Service{store: cfg.Store, cache: cfg.Cache, defaultLimit: defaultLimit, maxLimit: maxLimit}, nil
}

// ParseListParams normalises raw query values into strongly typed filters.
func (s *Service) ParseListParams(values url.Values) (ListParams, error) {
	params := ListParams{Page: 1, Limit: s.defaultLimit}
	params.Query = strings.TrimSpace(values.Get("q"))

	if v := strings.TrimSpace(values.Get("page")); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 1 {
			return params, badRequest("page", "page must be a positive integer", err)
		}
		params.Page = page
	}
	if v := strings.TrimSpace(values.Get("limit")); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil || l < 1 {
			return params, badRequest("limit", "limit must be a positive integer", err)
		}
		params.Limit = min(l, s.maxLimit)
	}
	if v := strings.TrimSpace(values.Get("category")); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return params, badRequest("category", "category must be a UUID", err)
		}
		params.CategoryID = &id
	}
	if v := strings.TrimSpace(values.Get("inStock")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return params, badRequest("inStock", "inStock must be true or false", err)
		}
		params.InStock = &b
	}
	return params, nil
}

// Lookup returns active products keyed by ID, reading through the cache. Any ID
// that is missing or inactive fails the whole lookup with ErrProductNotFound.
func (s *Service) Lookup(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Product, error) {
	ctx, span := otel.Tracer("catalog.Service").Start(ctx, "CatalogService.Lookup")
	defer span.End()

	unique := dedupe(ids)
	span.SetAttributes(attribute.Int("catalog.ids", len(unique)))
	out := make(map[uuid.UUID]Product, len(unique))
	if len(unique) == 0 {
		return out, nil
	}

	keys := make([]string, len(unique))
	for i, id := range unique {
		keys[i] = cache.KeyProduct(id.String())
	}
	misses, err := s.cache.GetMany(ctx, keys, func(i int, raw []byte) error {
		var p Product
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		out[unique[i]] = p
		return nil
	})
	if err != nil {
		// A cache outage degrades to the database.
		misses = misses[:0]
		for i := range unique {
			misses = append(misses, i)
		}
	}
	span.SetAttributes(attribute.Int("catalog.cache_misses", len(misses)))

	if len(misses) > 0 {
		missing := make([]uuid.UUID, len(misses))
		for i, idx := range misses {
			missing[i] = unique[idx]
		}
		rows, err := s.store.ProductsByIDs(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("load products: %w", err)
		}
		for _, p := range rows {
			out[p.ID] = p
			_ = s.cache.Set(ctx, cache.KeyProduct(p.ID.String()), p)
		}
	}

	for _, id := range unique {
		p, ok := out[id]
		if !ok || !p.Active {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, id)
		}
	}
	return out, nil
}

// Get returns a single active product.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Product, error) {
	products, err := s.Lookup(ctx, []uuid.UUID{id})
	if err != nil {
		return Product{}, err
	}
	return products[id], nil
}

// BySKU resolves a scanned barcode to an active product.
func (s *Service) BySKU(ctx context.Context, sku string) (Product, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return Product{}, badRequest("sku", "sku is required", nil)
	}
	var id uuid.UUID
	if hit, err := s.cache.Get(ctx, cache.KeyProductSKU(sku), &id); err == nil && hit {
		return s.Get(ctx, id)
	}
	p, err := s.store.ProductBySKU(ctx, sku)
	if err != nil {
		return Product{}, err
	}
	if !p.Active {
		return Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, sku)
	}
	_ = s.cache.Set(ctx, cache.KeyProductSKU(sku), p.ID)
	_ = s.cache.Set(ctx, cache.KeyProduct(p.ID.String()), p)
	return p, nil
}

// List returns a filtered page of products straight from the store.
func (s *Service) List(ctx context.Context, params ListParams) (ProductListResult, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.Limit < 1 {
		params.Limit = s.defaultLimit
	}
	items, total, err := s.store.ListProducts(ctx, params)
	if err != nil {
		return ProductListResult{}, fmt.Errorf("list products: %w", err)
	}
	return ProductListResult{Items: items, Total: total, Page: params.Page, Limit: params.Limit}, nil
}

// Invalidate drops cached entries, typically after a bill has moved stock.
func (s *Service) Invalidate(ctx context.Context, ids ...uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = cache.KeyProduct(id.String())
	}
	return s.cache.Delete(ctx, keys...)
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func badRequest(field, message string, err error) *common.AppError {
	return &common.AppError{
		Code:       "BAD_REQUEST",
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
		Err:        err,
		Details:    map[string]any{"field": field},
	}
}
