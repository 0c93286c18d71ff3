package bill

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/noah-isme/backend-kasir/internal/catalog"
	"github.com/noah-isme/backend-kasir/internal/discount"
	"github.com/noah-isme/backend-kasir/internal/events"
	"github.com/noah-isme/backend-kasir/internal/loyalty"
	"github.com/noah-isme/backend-kasir/internal/obs"
	"github.com/noah-isme/backend-kasir/internal/payment"
	"github.com/noah-isme/backend-kasir/internal/pricing"
	"github.com/noah-isme/backend-kasir/internal/shift"
)

// Catalog supplies product rates and tax rates.
type Catalog interface {
	Lookup(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]catalog.Product, error)
	Invalidate(ctx context.Context, ids ...uuid.UUID) error
}

// Discounts picks the discount for each line.
type Discounts interface {
	Resolve(ctx context.Context, lines []discount.Line) (discount.Resolution, error)
}

// Loyalty answers whether the customer earns the loyalty discount.
type Loyalty interface {
	Eligibility(ctx context.Context, customerID *uuid.UUID) (loyalty.Status, error)
	Forget(ctx context.Context, customerID uuid.UUID) error
}

// Verifier confirms card and UPI amounts.
type Verifier interface {
	Verify(ctx context.Context, c payment.Check) (pricing.Money, error)
}

// Emitter publishes domain events.
type Emitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) error
}

// Enqueuer schedules post-commit settlement.
type Enqueuer interface {
	EnqueueSettlement(ctx context.Context, p SettlePayload) error
}

// Draft is everything the store needs to write a bill in one transaction.
type Draft struct {
	ID            uuid.UUID
	CashierID     uuid.UUID
	CustomerID    *uuid.UUID
	Quote         Quote
	Method        pricing.PaymentMethod
	Tender        pricing.Tender
	CardReference string
	UPIReference  string
	ChangeDue     pricing.Money
	Sale          shift.Sale
	CreatedAt     time.Time
}

// Store persists bills.
type Store interface {
	// Save locks the cashier's open shift, decrements stock, numbers the bill,
	// writes it with its items, adds the sale to the shift and records discount
	// usage and the loyalty purchase, atomically.
	Save(ctx context.Context, d Draft) (Bill, error)
	Get(ctx context.Context, id uuid.UUID) (Bill, error)
	List(ctx context.Context, f Filter) ([]Bill, int64, error)
}

// Service prices, verifies and records bills.
type Service struct {
	Store     Store
	Catalog   Catalog
	Discounts Discounts
	Loyalty   Loyalty
	Verifier  Verifier
	Events    Emitter
	Queue     Enqueuer
	Logger    zerolog.Logger
	Now       func() time.Time

	meterOnce   sync.Once
	grandTotals metric.Float64Histogram
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Quote prices req. Preview and Create both go through here so the till and
// the stored bill always agree.
func (s *Service) Quote(ctx context.Context, req Request) (Quote, error) {
	if s == nil || s.Catalog == nil || s.Discounts == nil || s.Loyalty == nil {
		return Quote{}, errors.New("bill service not configured")
	}
	ctx, span := otel.Tracer("bill.Service").Start(ctx, "BillService.Quote")
	defer span.End()
	span.SetAttributes(attribute.Int("bill.items", len(req.Items)))

	if len(req.Items) == 0 {
		return Quote{}, pricing.ErrEmptyCart
	}
	ids := make([]uuid.UUID, len(req.Items))
	for i, it := range req.Items {
		ids[i] = it.ProductID
	}
	products, err := s.Catalog.Lookup(ctx, ids)
	if err != nil {
		return Quote{}, err
	}

	lines := make([]discount.Line, len(req.Items))
	for i, it := range req.Items {
		p := products[it.ProductID]
		if it.Size != "" && p.Size != "" && it.Size != p.Size {
			return Quote{}, fmt.Errorf("%w: line %d wants %q, product is %q", ErrSizeMismatch, i+1, it.Size, p.Size)
		}
		lines[i] = discount.Line{
			ProductID:  p.ID,
			CategoryID: p.CategoryID,
			Quantity:   it.Quantity,
			Rate:       p.Rate,
			TaxRate:    p.TaxRate,
		}
	}
	resolution, err := s.Discounts.Resolve(ctx, lines)
	if err != nil {
		return Quote{}, err
	}
	status, err := s.Loyalty.Eligibility(ctx, req.CustomerID)
	if err != nil {
		return Quote{}, err
	}

	pricingItems := make([]pricing.LineItem, len(req.Items))
	for i, it := range req.Items {
		p := products[it.ProductID]
		pricingItems[i] = pricing.LineItem{
			ProductID: p.ID.String(),
			Size:      p.Size,
			Quantity:  it.Quantity,
			Rate:      p.Rate,
			TaxRate:   p.TaxRate,
			Discount:  resolution.Discounts[i],
		}
	}
	totals, err := pricing.ComputeBillTotals(pricingItems, pricing.Options{LoyaltyEligible: status.Eligible})
	if err != nil {
		return Quote{}, err
	}

	q := Quote{Items: make([]Item, len(totals.Items)), Amounts: amountsOf(totals), Loyalty: status}
	for i, res := range totals.Items {
		p := products[req.Items[i].ProductID]
		q.Items[i] = Item{
			LineNo:           i + 1,
			ProductID:        p.ID,
			Name:             p.Name,
			Size:             p.Size,
			Quantity:         res.Quantity,
			Rate:             res.Rate,
			TaxRate:          res.TaxRate,
			Discount:         res.Discount,
			DiscountRuleID:   resolution.RuleIDs[i],
			BaseAmount:       res.BaseAmount,
			DiscountAmount:   res.DiscountAmount,
			DiscountedAmount: res.DiscountedAmount,
			TaxAmount:        res.TaxAmount,
			TotalAmount:      res.TotalAmount,
		}
	}
	span.SetAttributes(
		attribute.String("bill.grand_total", q.GrandTotal.String()),
		attribute.Bool("bill.loyalty_eligible", status.Eligible),
	)
	return q, nil
}

// Preview prices req without writing anything. When a payment block is present
// the settlement is included; an unsettleable tender is reported as an error.
func (s *Service) Preview(ctx context.Context, req Request) (Quote, error) {
	q, err := s.Quote(ctx, req)
	if err != nil {
		s.reject("preview", err)
		return Quote{}, err
	}
	if req.Payment == nil {
		return q, nil
	}
	method, tender, err := tenderOf(*req.Payment, q.GrandTotal)
	if err != nil {
		s.reject("preview", err)
		return Quote{}, err
	}
	settlement, err := pricing.ReconcilePayment(q.GrandTotal, tender, method)
	if err != nil {
		s.reject("preview", err)
		if errors.Is(err, pricing.ErrInsufficientPayment) {
			q.Settlement = &settlement
			return q, err
		}
		return Quote{}, err
	}
	q.Settlement = &settlement
	return q, nil
}

// Create prices, verifies, reconciles and persists a bill for cashierID. Nothing
// is stored unless every step succeeds. Side effects after commit are logged
// rather than failing the sale.
func (s *Service) Create(ctx context.Context, cashierID uuid.UUID, req Request) (Bill, *pricing.Settlement, error) {
	if s == nil || s.Store == nil {
		return Bill{}, nil, errors.New("bill service not configured")
	}
	ctx, span := otel.Tracer("bill.Service").Start(ctx, "BillService.Create")
	defer span.End()

	bill, settlement, err := s.create(ctx, cashierID, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, rejectReason(err))
		s.reject("create", err)
		return Bill{}, settlement, err
	}
	span.SetAttributes(
		attribute.String("bill.id", bill.ID.String()),
		attribute.String("bill.number", bill.Number),
		attribute.String("bill.method", string(bill.PaymentMethod)),
	)
	s.afterCommit(ctx, bill)
	return bill, settlement, nil
}

func (s *Service) create(ctx context.Context, cashierID uuid.UUID, req Request) (Bill, *pricing.Settlement, error) {
	if req.Payment == nil {
		return Bill{}, nil, ErrPaymentRequired
	}
	q, err := s.Quote(ctx, req)
	if err != nil {
		return Bill{}, nil, err
	}
	if req.CustomerID != nil && !q.Loyalty.Known {
		return Bill{}, nil, fmt.Errorf("%w: %s", loyalty.ErrCustomerNotFound, req.CustomerID)
	}
	method, tender, err := tenderOf(*req.Payment, q.GrandTotal)
	if err != nil {
		return Bill{}, nil, err
	}
	tender, err = s.verify(ctx, method, tender, *req.Payment)
	if err != nil {
		return Bill{}, nil, err
	}
	settlement, err := pricing.ReconcilePayment(q.GrandTotal, tender, method)
	if err != nil {
		if errors.Is(err, pricing.ErrInsufficientPayment) {
			return Bill{}, &settlement, err
		}
		return Bill{}, nil, err
	}

	draft := Draft{
		ID:            uuid.New(),
		CashierID:     cashierID,
		CustomerID:    req.CustomerID,
		Quote:         q,
		Method:        method,
		Tender:        tender,
		CardReference: req.Payment.CardReference,
		UPIReference:  req.Payment.UPIReference,
		ChangeDue:     settlement.ChangeDue,
		Sale: shift.Sale{
			Cash: pricing.CashPortion(q.GrandTotal, tender, method),
			Card: tender.CardAmount,
			UPI:  tender.UPIAmount,
		},
		CreatedAt: s.now(),
	}
	bill, err := s.Store.Save(ctx, draft)
	if err != nil {
		return Bill{}, nil, err
	}
	return bill, &settlement, nil
}

// verify swaps declared card and UPI amounts for what the verifier confirms.
func (s *Service) verify(ctx context.Context, method pricing.PaymentMethod, tender pricing.Tender, p PaymentRequest) (pricing.Tender, error) {
	if s.Verifier == nil {
		return tender, nil
	}
	if tender.CardAmount.IsPositive() {
		amount, err := s.Verifier.Verify(ctx, payment.Check{Method: pricing.MethodCard, Reference: p.CardReference, Declared: tender.CardAmount})
		if err != nil {
			return pricing.Tender{}, err
		}
		tender.CardAmount = amount
	}
	if tender.UPIAmount.IsPositive() {
		amount, err := s.Verifier.Verify(ctx, payment.Check{Method: pricing.MethodUPI, Reference: p.UPIReference, Declared: tender.UPIAmount})
		if err != nil {
			return pricing.Tender{}, err
		}
		tender.UPIAmount = amount
	}
	return tender, nil
}

func (s *Service) afterCommit(ctx context.Context, b Bill) {
	log := obs.WithRequestFields(ctx, s.Logger).With().Str("bill_id", b.ID.String()).Str("bill_number", b.Number).Logger()

	if obs.BillsCreatedTotal != nil {
		obs.BillsCreatedTotal.WithLabelValues(string(b.PaymentMethod)).Inc()
	}
	if obs.BillGrandTotal != nil {
		obs.BillGrandTotal.Observe(b.GrandTotal.InexactFloat64())
	}
	s.recordGrandTotal(ctx, b)

	if s.Events != nil {
		payload := map[string]any{
			"bill_id":     b.ID,
			"number":      b.Number,
			"shift_id":    b.ShiftID,
			"cashier_id":  b.CashierID,
			"grand_total": b.GrandTotal,
			"method":      b.PaymentMethod,
		}
		if b.CustomerID != nil {
			payload["customer_id"] = b.CustomerID
		}
		if err := s.Events.Emit(ctx, events.TopicBillCreated, b.ID.String(), payload); err != nil {
			log.Error().Err(err).Msg("emit bill.created")
		}
	}
	if b.CustomerID != nil {
		if err := s.Loyalty.Forget(ctx, *b.CustomerID); err != nil {
			log.Warn().Err(err).Msg("forget loyalty count")
			s.enqueueForget(ctx, b, log)
		}
	}
	if s.Catalog != nil {
		ids := make([]uuid.UUID, len(b.Items))
		for i, it := range b.Items {
			ids[i] = it.ProductID
		}
		if err := s.Catalog.Invalidate(ctx, ids...); err != nil {
			log.Warn().Err(err).Msg("invalidate catalog cache")
		}
	}
	log.Info().
		Str("method", string(b.PaymentMethod)).
		Str("grand_total", b.GrandTotal.StringFixed(2)).
		Int("items", len(b.Items)).
		Msg("bill_created")
}

// enqueueForget hands a failed cache invalidation to the worker. The purchase
// itself is already stored.
func (s *Service) enqueueForget(ctx context.Context, b Bill, log zerolog.Logger) {
	if s.Queue == nil {
		return
	}
	if err := s.Queue.EnqueueSettlement(ctx, SettlePayload{BillID: b.ID, CustomerID: b.CustomerID}); err != nil {
		log.Error().Err(err).Msg("enqueue bill settlement")
	}
}

func (s *Service) recordGrandTotal(ctx context.Context, b Bill) {
	s.meterOnce.Do(func() {
		h, err := otel.Meter("bill.Service").Float64Histogram(
			"bill.grand_total",
			metric.WithDescription("Grand total of committed bills."),
		)
		if err != nil {
			s.Logger.Warn().Err(err).Msg("create grand total histogram")
			return
		}
		s.grandTotals = h
	})
	if s.grandTotals == nil {
		return
	}
	s.grandTotals.Record(ctx, b.GrandTotal.InexactFloat64(),
		metric.WithAttributes(attribute.String("method", string(b.PaymentMethod))))
}

// Get returns a bill with its items.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Bill, error) {
	if s == nil || s.Store == nil {
		return Bill{}, errors.New("bill service not configured")
	}
	return s.Store.Get(ctx, id)
}

// List pages through bills, newest first.
func (s *Service) List(ctx context.Context, f Filter) (ListResult, error) {
	if s == nil || s.Store == nil {
		return ListResult{}, errors.New("bill service not configured")
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage <= 0 {
		f.PerPage = 20
	}
	bills, total, err := s.Store.List(ctx, f)
	if err != nil {
		return ListResult{}, err
	}
	pages := 0
	if total > 0 {
		pages = int((total + int64(f.PerPage) - 1) / int64(f.PerPage))
	}
	return ListResult{Items: bills, Page: f.Page, PerPage: f.PerPage, TotalItems: total, TotalPages: pages}, nil
}

func (s *Service) reject(stage string, err error) {
	if obs.BillRejectionsTotal != nil {
		obs.BillRejectionsTotal.WithLabelValues(stage, rejectReason(err)).Inc()
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, pricing.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, pricing.ErrInvalidLineItem):
		return "invalid_line_item"
	case errors.Is(err, pricing.ErrInsufficientPayment):
		return "insufficient_payment"
	case errors.Is(err, pricing.ErrPaymentMismatch):
		return "payment_mismatch"
	case errors.Is(err, pricing.ErrInvalidPayment), errors.Is(err, ErrPaymentRequired):
		return "invalid_payment"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, discount.ErrUsageLimitReached):
		return "discount_exhausted"
	case errors.Is(err, catalog.ErrProductNotFound), errors.Is(err, ErrSizeMismatch):
		return "unknown_product"
	case errors.Is(err, shift.ErrNoOpenShift):
		return "no_open_shift"
	case errors.Is(err, loyalty.ErrCustomerNotFound):
		return "unknown_customer"
	case errors.Is(err, payment.ErrNotCaptured), errors.Is(err, payment.ErrUnknownReference),
		errors.Is(err, payment.ErrMissingReference), errors.Is(err, payment.ErrUnavailable):
		return "payment_unverified"
	default:
		return "error"
	}
}

// tenderOf turns the payment block into a method and tender. For a pure card or
// UPI sale with no amount the terminal is assumed to have charged the grand total.
func tenderOf(p PaymentRequest, grandTotal pricing.Money) (pricing.PaymentMethod, pricing.Tender, error) {
	method, err := pricing.ParseMethod(p.Method)
	if err != nil {
		return "", pricing.Tender{}, err
	}
	t := pricing.Tender{
		CashTendered: valueOr(p.CashTendered, decimal.Zero),
		CardAmount:   valueOr(p.CardAmount, decimal.Zero),
		UPIAmount:    valueOr(p.UPIAmount, decimal.Zero),
	}
	switch method {
	case pricing.MethodCash:
		t.CardAmount, t.UPIAmount = decimal.Zero, decimal.Zero
	case pricing.MethodCard:
		t.CashTendered, t.UPIAmount = decimal.Zero, decimal.Zero
		t.CardAmount = valueOr(p.CardAmount, grandTotal)
	case pricing.MethodUPI:
		t.CashTendered, t.CardAmount = decimal.Zero, decimal.Zero
		t.UPIAmount = valueOr(p.UPIAmount, grandTotal)
	}
	return method, t, nil
}

func valueOr(v *decimal.Decimal, fallback decimal.Decimal) decimal.Decimal {
	if v == nil {
		return fallback
	}
	return *v
}
