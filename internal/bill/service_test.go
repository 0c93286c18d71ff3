package bill

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-kasir/internal/catalog"
	"github.com/noah-isme/backend-kasir/internal/common"
	"github.com/noah-isme/backend-kasir/internal/discount"
	"github.com/noah-isme/backend-kasir/internal/loyalty"
	"github.com/noah-isme/backend-kasir/internal/payment"
	"github.com/noah-isme/backend-kasir/internal/pricing"
	"github.com/noah-isme/backend-kasir/internal/shift"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func requireMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, got.Equal(d(want)), "want %s, got %s", want, got)
}

type stubCatalog struct {
	products    map[uuid.UUID]catalog.Product
	invalidated []uuid.UUID
}

func (c *stubCatalog) Lookup(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]catalog.Product, error) {
	out := map[uuid.UUID]catalog.Product{}
	for _, id := range ids {
		p, ok := c.products[id]
		if !ok {
			return nil, catalog.ErrProductNotFound
		}
		out[id] = p
	}
	return out, nil
}

func (c *stubCatalog) Invalidate(_ context.Context, ids ...uuid.UUID) error {
	c.invalidated = append(c.invalidated, ids...)
	return nil
}

type stubDiscounts struct {
	rules map[uuid.UUID]discount.Rule
}

func (s *stubDiscounts) Resolve(_ context.Context, lines []discount.Line) (discount.Resolution, error) {
	res := discount.Resolution{Discounts: make([]*pricing.Discount, len(lines)), RuleIDs: make([]*uuid.UUID, len(lines))}
	for i, l := range lines {
		if r, ok := s.rules[l.ProductID]; ok {
			id := r.ID
			res.Discounts[i] = r.Discount()
			res.RuleIDs[i] = &id
		}
	}
	return res, nil
}

type stubLoyalty struct {
	counts    map[uuid.UUID]int64
	policy    loyalty.Policy
	forgot    []uuid.UUID
	forgetErr error
}

func (s *stubLoyalty) Forget(_ context.Context, id uuid.UUID) error {
	if s.forgetErr != nil {
		return s.forgetErr
	}
	s.forgot = append(s.forgot, id)
	return nil
}

func (s *stubLoyalty) Eligibility(_ context.Context, id *uuid.UUID) (loyalty.Status, error) {
	if id == nil {
		return loyalty.Status{}, nil
	}
	n, ok := s.counts[*id]
	if !ok {
		return loyalty.Status{CustomerID: id}, nil
	}
	return loyalty.Status{CustomerID: id, Known: true, PurchaseCount: n, Eligible: s.policy.Eligible(n)}, nil
}

type stubVerifier struct {
	amount *decimal.Decimal
	err    error
	checks []payment.Check
}

func (v *stubVerifier) Verify(_ context.Context, c payment.Check) (pricing.Money, error) {
	v.checks = append(v.checks, c)
	if v.err != nil {
		return pricing.Money{}, v.err
	}
	if v.amount != nil {
		return *v.amount, nil
	}
	return c.Declared, nil
}

// stubStore mirrors PgStore: usage and purchases land with the bill or not at all.
type stubStore struct {
	drafts    []Draft
	err       error
	seq       int64
	usages    map[uuid.UUID]int
	purchases map[uuid.UUID]int
}

func (s *stubStore) Save(_ context.Context, dr Draft) (Bill, error) {
	if s.err != nil {
		return Bill{}, s.err
	}
	s.seq++
	s.drafts = append(s.drafts, dr)
	for _, id := range dr.Quote.RuleIDs() {
		s.usages[id]++
	}
	if dr.CustomerID != nil {
		s.purchases[*dr.CustomerID]++
	}
	return Bill{
		ID: dr.ID, Number: Number(dr.CreatedAt, s.seq), ShiftID: uuid.New(), CashierID: dr.CashierID,
		CustomerID: dr.CustomerID, Items: dr.Quote.Items, Amounts: dr.Quote.Amounts, PaymentMethod: dr.Method,
		Tender: dr.Tender, ChangeDue: dr.ChangeDue, CreatedAt: dr.CreatedAt,
	}, nil
}

func (s *stubStore) Get(_ context.Context, id uuid.UUID) (Bill, error) {
	for _, dr := range s.drafts {
		if dr.ID == id {
			return Bill{ID: id, Items: dr.Quote.Items, Amounts: dr.Quote.Amounts}, nil
		}
	}
	return Bill{}, ErrBillNotFound
}

func (s *stubStore) List(_ context.Context, f Filter) ([]Bill, int64, error) {
	return []Bill{{ID: uuid.New()}}, 41, nil
}

type captureEvents struct{ topics []string }

func (c *captureEvents) Emit(_ context.Context, topic, _ string, _ any) error {
	c.topics = append(c.topics, topic)
	return nil
}

type captureQueue struct {
	payloads []SettlePayload
	err      error
}

func (c *captureQueue) EnqueueSettlement(_ context.Context, p SettlePayload) error {
	c.payloads = append(c.payloads, p)
	return c.err
}

type fixture struct {
	svc      *Service
	store    *stubStore
	catalog  *stubCatalog
	verifier *stubVerifier
	events   *captureEvents
	queue    *captureQueue
	loyalty  *stubLoyalty
	rice     uuid.UUID
	soap     uuid.UUID
	regular  uuid.UUID
	newbie   uuid.UUID
	rule     uuid.UUID
}

func newFixture() *fixture {
	f := &fixture{rice: uuid.New(), soap: uuid.New(), regular: uuid.New(), newbie: uuid.New(), rule: uuid.New()}
	f.catalog = &stubCatalog{products: map[uuid.UUID]catalog.Product{
		f.rice: {ID: f.rice, Name: "Rice 1kg", Size: "1kg", Rate: d("100"), TaxRate: d("5"), Active: true},
		f.soap: {ID: f.soap, Name: "Soap", Rate: d("30"), TaxRate: d("18"), Active: true},
	}}
	f.store = &stubStore{usages: map[uuid.UUID]int{}, purchases: map[uuid.UUID]int{}}
	f.verifier = &stubVerifier{}
	f.events = &captureEvents{}
	f.queue = &captureQueue{}
	f.loyalty = &stubLoyalty{counts: map[uuid.UUID]int64{f.regular: 9, f.newbie: 0}, policy: loyalty.Policy{Threshold: 10}}
	f.svc = &Service{
		Store:   f.store,
		Catalog: f.catalog,
		Discounts: &stubDiscounts{rules: map[uuid.UUID]discount.Rule{
			f.rice: {ID: f.rule, Kind: pricing.DiscountPercentage, Value: d("10"), Active: true},
		}},
		Loyalty:  f.loyalty,
		Verifier: f.verifier,
		Events:   f.events,
		Queue:    f.queue,
		Now:      func() time.Time { return time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC) },
	}
	return f
}

func TestQuoteAppliesDiscountAndTax(t *testing.T) {
	f := newFixture()
	q, err := f.svc.Quote(context.Background(), Request{Items: []ItemRequest{
		{ProductID: f.rice, Quantity: d("2")},
		{ProductID: f.soap, Quantity: d("1")},
	}})
	require.NoError(t, err)
	require.Len(t, q.Items, 2)
	requireMoney(t, "180", q.Items[0].DiscountedAmount)
	requireMoney(t, "9", q.Items[0].TaxAmount)
	require.Equal(t, f.rule, *q.Items[0].DiscountRuleID)
	requireMoney(t, "35.4", q.Items[1].TotalAmount)
	requireMoney(t, "210", q.Subtotal)
	requireMoney(t, "14.4", q.TotalTax)
	requireMoney(t, "224", q.GrandTotal)
	require.Equal(t, []uuid.UUID{f.rule}, q.RuleIDs())
}

func TestQuoteLoyaltyOnTenthPurchase(t *testing.T) {
	f := newFixture()
	req := Request{CustomerID: &f.regular, Items: []ItemRequest{{ProductID: f.rice, Quantity: d("2")}}}
	q, err := f.svc.Quote(context.Background(), req)
	require.NoError(t, err)
	require.True(t, q.Loyalty.Eligible)
	requireMoney(t, "4", q.LoyaltyDiscount)
	requireMoney(t, "185", q.GrandTotal)

	req.CustomerID = &f.newbie
	q, err = f.svc.Quote(context.Background(), req)
	require.NoError(t, err)
	require.False(t, q.Loyalty.Eligible)
	requireMoney(t, "189", q.GrandTotal)
}

func TestQuoteErrors(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Quote(context.Background(), Request{})
	require.ErrorIs(t, err, pricing.ErrEmptyCart)

	_, err = f.svc.Quote(context.Background(), Request{Items: []ItemRequest{{ProductID: f.rice, Quantity: d("0")}}})
	require.ErrorIs(t, err, pricing.ErrInvalidLineItem)

	_, err = f.svc.Quote(context.Background(), Request{Items: []ItemRequest{{ProductID: uuid.New(), Quantity: d("1")}}})
	require.ErrorIs(t, err, catalog.ErrProductNotFound)

	_, err = f.svc.Quote(context.Background(), Request{Items: []ItemRequest{{ProductID: f.rice, Size: "5kg", Quantity: d("1")}}})
	require.ErrorIs(t, err, ErrSizeMismatch)
}

func TestPreviewSettlement(t *testing.T) {
	f := newFixture()
	items := []ItemRequest{{ProductID: f.rice, Quantity: d("2")}}

	q, err := f.svc.Preview(context.Background(), Request{Items: items, Payment: &PaymentRequest{Method: "cash", CashTendered: dp("200")}})
	require.NoError(t, err)
	requireMoney(t, "11", q.Settlement.ChangeDue)

	q, err = f.svc.Preview(context.Background(), Request{Items: items, Payment: &PaymentRequest{Method: "cash", CashTendered: dp("150")}})
	require.ErrorIs(t, err, pricing.ErrInsufficientPayment)
	requireMoney(t, "39", q.Settlement.Shortfall)
	require.Empty(t, f.store.drafts)
}

func TestCreateCashBill(t *testing.T) {
	f := newFixture()
	cashier := uuid.New()
	b, settlement, err := f.svc.Create(context.Background(), cashier, Request{
		CustomerID: &f.regular,
		Items:      []ItemRequest{{ProductID: f.rice, Quantity: d("2")}},
		Payment:    &PaymentRequest{Method: "cash", CashTendered: dp("200")},
	})
	require.NoError(t, err)
	require.Equal(t, "B20240309-000001", b.Number)
	requireMoney(t, "15", settlement.ChangeDue)
	requireMoney(t, "15", b.ChangeDue)

	require.Len(t, f.store.drafts, 1)
	requireMoney(t, "185", f.store.drafts[0].Sale.Cash)
	require.Equal(t, cashier, f.store.drafts[0].CashierID)
	require.Empty(t, f.verifier.checks)

	require.Equal(t, []string{"bill.created"}, f.events.topics)
	require.Equal(t, 1, f.store.usages[f.rule])
	require.Equal(t, 1, f.store.purchases[f.regular])
	require.Equal(t, []uuid.UUID{f.regular}, f.loyalty.forgot)
	require.Empty(t, f.queue.payloads, "cache dropped in line, nothing left for the worker")
	require.Equal(t, []uuid.UUID{f.rice}, f.catalog.invalidated)
}

func TestCreateCountsPurchaseWhenQueueFails(t *testing.T) {
	f := newFixture()
	f.loyalty.forgetErr = errors.New("redis down")
	f.queue.err = errors.New("queue down")
	b, _, err := f.svc.Create(context.Background(), uuid.New(), Request{
		CustomerID: &f.newbie,
		Items:      []ItemRequest{{ProductID: f.rice, Quantity: d("1")}},
		Payment:    &PaymentRequest{Method: "cash", CashTendered: dp("100")},
	})
	require.NoError(t, err)
	require.Equal(t, 1, f.store.purchases[f.newbie])
	require.Equal(t, 1, f.store.usages[f.rule])

	require.Len(t, f.queue.payloads, 1)
	require.Equal(t, b.ID, f.queue.payloads[0].BillID)
	require.Equal(t, f.newbie, *f.queue.payloads[0].CustomerID)
}

func TestCreateKeepsExactAmounts(t *testing.T) {
	f := newFixture()
	oil := uuid.New()
	f.catalog.products[oil] = catalog.Product{ID: oil, Name: "Oil", Rate: d("33.33"), TaxRate: d("18"), Active: true}
	b, _, err := f.svc.Create(context.Background(), uuid.New(), Request{
		Items:   []ItemRequest{{ProductID: oil, Quantity: d("1.5")}},
		Payment: &PaymentRequest{Method: "cash", CashTendered: dp("59")},
	})
	require.NoError(t, err)

	saved := f.store.drafts[0].Quote
	requireMoney(t, "49.995", saved.Subtotal)
	requireMoney(t, "8.9991", saved.TotalTax)
	requireMoney(t, "58.9941", saved.PreRoundGrandTotal)
	requireMoney(t, "0.0059", saved.RoundOff)
	requireMoney(t, "59", saved.GrandTotal)
	requireMoney(t, "8.9991", saved.Items[0].TaxAmount)
	require.True(t, saved.Subtotal.Add(saved.TotalTax).Equal(saved.PreRoundGrandTotal))
	require.True(t, b.PreRoundGrandTotal.Add(b.RoundOff).Equal(b.GrandTotal))
}

func TestCreateMixedUsesVerifiedAmounts(t *testing.T) {
	f := newFixture()
	_, _, err := f.svc.Create(context.Background(), uuid.New(), Request{
		Items:   []ItemRequest{{ProductID: f.rice, Quantity: d("2")}},
		Payment: &PaymentRequest{Method: "mixed", CashTendered: dp("100"), CardAmount: dp("89"), CardReference: "TXN-1"},
	})
	require.NoError(t, err)
	require.Len(t, f.verifier.checks, 1)
	require.Equal(t, pricing.MethodCard, f.verifier.checks[0].Method)
	sale := f.store.drafts[0].Sale
	requireMoney(t, "100", sale.Cash)
	requireMoney(t, "89", sale.Card)
	require.Equal(t, 1, f.store.usages[f.rule])
	require.Empty(t, f.store.purchases)
	require.Empty(t, f.loyalty.forgot)
	require.Empty(t, f.queue.payloads)
}

func TestCreateCardDefaultsToGrandTotal(t *testing.T) {
	f := newFixture()
	b, _, err := f.svc.Create(context.Background(), uuid.New(), Request{
		Items:   []ItemRequest{{ProductID: f.soap, Quantity: d("1")}},
		Payment: &PaymentRequest{Method: "card", CardReference: "TXN-2"},
	})
	require.NoError(t, err)
	requireMoney(t, "35", b.Tender.CardAmount)
	requireMoney(t, "0", b.ChangeDue)
}

func TestCreateRejectsVerifiedMismatch(t *testing.T) {
	f := newFixture()
	f.verifier.amount = dp("30")
	_, _, err := f.svc.Create(context.Background(), uuid.New(), Request{
		Items:   []ItemRequest{{ProductID: f.soap, Quantity: d("1")}},
		Payment: &PaymentRequest{Method: "upi", UPIAmount: dp("35"), UPIReference: "UPI-1"},
	})
	require.ErrorIs(t, err, pricing.ErrPaymentMismatch)
	require.Empty(t, f.store.drafts)
	require.Empty(t, f.events.topics)
}

func TestCreateStoresNothingOnFailure(t *testing.T) {
	cases := map[string]func(f *fixture) (Request, error){
		"no payment": func(f *fixture) (Request, error) {
			return Request{Items: []ItemRequest{{ProductID: f.rice, Quantity: d("1")}}}, ErrPaymentRequired
		},
		"unknown customer": func(f *fixture) (Request, error) {
			id := uuid.New()
			return Request{CustomerID: &id, Items: []ItemRequest{{ProductID: f.rice, Quantity: d("1")}},
				Payment: &PaymentRequest{Method: "cash", CashTendered: dp("500")}}, loyalty.ErrCustomerNotFound
		},
		"verifier down": func(f *fixture) (Request, error) {
			f.verifier.err = payment.ErrUnavailable
			return Request{Items: []ItemRequest{{ProductID: f.rice, Quantity: d("1")}},
				Payment: &PaymentRequest{Method: "card", CardReference: "x"}}, payment.ErrUnavailable
		},
		"discount exhausted": func(f *fixture) (Request, error) {
			f.store.err = fmt.Errorf("%w: %s", discount.ErrUsageLimitReached, f.rule)
			return Request{CustomerID: &f.regular, Items: []ItemRequest{{ProductID: f.rice, Quantity: d("1")}},
				Payment: &PaymentRequest{Method: "cash", CashTendered: dp("500")}}, discount.ErrUsageLimitReached
		},
		"no shift": func(f *fixture) (Request, error) {
			f.store.err = shift.ErrNoOpenShift
			return Request{Items: []ItemRequest{{ProductID: f.rice, Quantity: d("1")}},
				Payment: &PaymentRequest{Method: "cash", CashTendered: dp("500")}}, shift.ErrNoOpenShift
		},
	}
	for name, setup := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture()
			req, want := setup(f)
			_, _, err := f.svc.Create(context.Background(), uuid.New(), req)
			require.ErrorIs(t, err, want)
			require.Empty(t, f.events.topics)
			require.Empty(t, f.queue.payloads)
			require.Empty(t, f.store.purchases)
			require.Empty(t, f.store.usages)
			require.Empty(t, f.loyalty.forgot)
		})
	}
}

func TestListComputesPages(t *testing.T) {
	f := newFixture()
	res, err := f.svc.List(context.Background(), Filter{PerPage: 20})
	require.NoError(t, err)
	require.Equal(t, 1, res.Page)
	require.Equal(t, 3, res.TotalPages)
}

func TestHandlerCreateMapsErrors(t *testing.T) {
	f := newFixture()
	h := &Handler{Svc: f.svc}
	cashier := uuid.NewString()

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/bills", strings.NewReader(body))
		req = req.WithContext(common.WithUserID(req.Context(), cashier))
		rr := httptest.NewRecorder()
		h.Create(rr, req)
		return rr
	}

	rr := post(`{"items":[{"product_id":"` + f.rice.String() + `","quantity":"2"}],"payment":{"method":"cash","cash_tendered":"100"}}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Contains(t, rr.Body.String(), "INSUFFICIENT_PAYMENT")
	require.Contains(t, rr.Body.String(), `"shortfall":"89"`)

	rr = post(`{"items":[],"payment":{"method":"cash","cash_tendered":"100"}}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Contains(t, rr.Body.String(), "EMPTY_CART")

	rr = post(`{"items":[{"product_id":"` + f.rice.String() + `","quantity":"1"}],"payment":{"method":"cheque"}}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "VALIDATION_FAILED")

	rr = post(`{"items":[{"product_id":"` + f.rice.String() + `","quantity":"0"}],"payment":{"method":"cash","cash_tendered":"200"}}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), `"Items[0].Quantity":"dec_min"`)

	rr = post(`{"items":[{"product_id":"` + f.rice.String() + `","quantity":"1.0125"}],"payment":{"method":"cash","cash_tendered":"200"}}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), `"Items[0].Quantity":"dec_places"`)

	f.store.err = discount.ErrUsageLimitReached
	rr = post(`{"items":[{"product_id":"` + f.rice.String() + `","quantity":"1"}],"payment":{"method":"cash","cash_tendered":"200"}}`)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Contains(t, rr.Body.String(), "DISCOUNT_EXHAUSTED")

	f.store.err = nil
	rr = post(`{"items":[{"product_id":"` + f.rice.String() + `","quantity":"1"}],"payment":{"method":"cash","cash_tendered":"200"}}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Contains(t, rr.Body.String(), `"number":"B20240309-000001"`)
	require.NotEmpty(t, rr.Header().Get("Location"))
}

func TestHandlerGet(t *testing.T) {
	f := newFixture()
	h := &Handler{Svc: f.svc}

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", uuid.NewString())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/bills/x", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rr := httptest.NewRecorder()
	h.Get(rr, req)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Contains(t, rr.Body.String(), "BILL_NOT_FOUND")
}

func TestRejectReasonLabels(t *testing.T) {
	require.Equal(t, "insufficient_stock", rejectReason(ErrInsufficientStock))
	require.Equal(t, "discount_exhausted", rejectReason(fmt.Errorf("%w: rule", discount.ErrUsageLimitReached)))
	require.Equal(t, "payment_mismatch", rejectReason(errors.Join(errors.New("x"), pricing.ErrPaymentMismatch)))
	require.Equal(t, "error", rejectReason(errors.New("boom")))
}
