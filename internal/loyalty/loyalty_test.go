package loyalty_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-kasir/internal/cache"
	"github.com/noah-isme/backend-kasir/internal/loyalty"
)

type stubStore struct {
	customers map[uuid.UUID]*loyalty.Customer
	reads     int
}

func newStubStore(cs ...loyalty.Customer) *stubStore {
	s := &stubStore{customers: map[uuid.UUID]*loyalty.Customer{}}
	for i := range cs {
		c := cs[i]
		s.customers[c.ID] = &c
	}
	return s
}

func (s *stubStore) Customer(_ context.Context, id uuid.UUID) (loyalty.Customer, error) {
	s.reads++
	c, ok := s.customers[id]
	if !ok {
		return loyalty.Customer{}, loyalty.ErrCustomerNotFound
	}
	return *c, nil
}

func (s *stubStore) CustomerByPhone(_ context.Context, phone string) (loyalty.Customer, error) {
	for _, c := range s.customers {
		if c.Phone == phone {
			return *c, nil
		}
	}
	return loyalty.Customer{}, loyalty.ErrCustomerNotFound
}

func (s *stubStore) CreateCustomer(_ context.Context, name, phone string) (loyalty.Customer, error) {
	for _, c := range s.customers {
		if c.Phone == phone {
			return loyalty.Customer{}, loyalty.ErrPhoneTaken
		}
	}
	c := loyalty.Customer{ID: uuid.New(), Name: name, Phone: phone}
	s.customers[c.ID] = &c
	return c, nil
}

func newService(t *testing.T, store loyalty.Store, threshold int) (*loyalty.Service, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return &loyalty.Service{
		Store:  store,
		Cache:  cache.NewJSON(client, time.Minute),
		Policy: loyalty.Policy{Threshold: threshold},
		Logger: zerolog.Nop(),
	}, mr
}

func TestPolicy(t *testing.T) {
	p := loyalty.Policy{Threshold: 10}
	require.False(t, p.Eligible(8))
	require.True(t, p.Eligible(9), "the tenth purchase earns the discount")
	require.True(t, p.Eligible(25))
	require.Equal(t, int64(1), p.Remaining(8))
	require.Equal(t, int64(0), p.Remaining(9))

	off := loyalty.Policy{Threshold: 0}
	require.False(t, off.Eligible(1000))
}

func TestEligibilityWalkInAndUnknown(t *testing.T) {
	svc, _ := newService(t, newStubStore(), 10)

	st, err := svc.Eligibility(context.Background(), nil)
	require.NoError(t, err)
	require.False(t, st.Eligible)

	id := uuid.New()
	st, err = svc.Eligibility(context.Background(), &id)
	require.NoError(t, err)
	require.False(t, st.Known)
	require.False(t, st.Eligible)
}

func TestEligibilityCachesCountUntilForgotten(t *testing.T) {
	c := loyalty.Customer{ID: uuid.New(), Name: "Asha", Phone: "9800000000", PurchaseCount: 8}
	store := newStubStore(c)
	svc, mr := newService(t, store, 10)
	ctx := context.Background()

	st, err := svc.Eligibility(ctx, &c.ID)
	require.NoError(t, err)
	require.True(t, st.Known)
	require.False(t, st.Eligible)
	require.Equal(t, int64(1), st.Remaining)
	require.True(t, mr.Exists(cache.KeyLoyaltyCount(c.ID.String())))

	_, err = svc.Eligibility(ctx, &c.ID)
	require.NoError(t, err)
	require.Equal(t, 1, store.reads)

	// A bill commits and bumps the stored count; the cached 8 is now stale.
	store.customers[c.ID].PurchaseCount++
	st, err = svc.Eligibility(ctx, &c.ID)
	require.NoError(t, err)
	require.Equal(t, int64(8), st.PurchaseCount)

	require.NoError(t, svc.Forget(ctx, c.ID))
	require.False(t, mr.Exists(cache.KeyLoyaltyCount(c.ID.String())))

	st, err = svc.Eligibility(ctx, &c.ID)
	require.NoError(t, err)
	require.Equal(t, int64(9), st.PurchaseCount)
	require.True(t, st.Eligible)
}

func TestNormalizePhone(t *testing.T) {
	require.Equal(t, "+919800012345", loyalty.NormalizePhone(" +91 98000-12345 "))
	require.Equal(t, "9800012345", loyalty.NormalizePhone("(980) 001 2345"))
}

func TestHandlers(t *testing.T) {
	c := loyalty.Customer{ID: uuid.New(), Name: "Asha", Phone: "9800000000", PurchaseCount: 3}
	svc, _ := newService(t, newStubStore(c), 10)
	h := &loyalty.Handler{Svc: svc}

	withID := func(req *http.Request, id string) *http.Request {
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("id", id)
		return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	}

	rec := httptest.NewRecorder()
	h.Loyalty(rec, withID(httptest.NewRequest(http.MethodGet, "/", nil), c.ID.String()))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"purchases_until_reward":6`)

	rec = httptest.NewRecorder()
	h.Loyalty(rec, withID(httptest.NewRequest(http.MethodGet, "/", nil), uuid.NewString()))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.Find(rec, httptest.NewRequest(http.MethodGet, "/api/v1/customers?phone=980-000-0000", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), c.ID.String())

	rec = httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/api/v1/customers", strings.NewReader(`{"name":"Ravi","phone":"98000 00000"}`)))
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/api/v1/customers", strings.NewReader(`{"name":"Ravi","phone":"9811111111"}`)))
	require.Equal(t, http.StatusCreated, rec.Code)
}
