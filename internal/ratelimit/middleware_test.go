package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-kasir/internal/common"
)

func postBill(h http.Handler, cashier string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bills", nil)
	req = req.WithContext(common.WithUserID(req.Context(), cashier))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestBillLimitIsPerCashier(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limited := Handler{
		Limiter: Limiter{Client: client, Prefix: "ratelimit:bills"},
		Config:  Config{Key: PerCashier("bill:create"), Window: time.Minute, Max: 2},
	}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	require.Equal(t, http.StatusCreated, postBill(limited, "c1").Code)
	first := postBill(limited, "c1")
	require.Equal(t, http.StatusCreated, first.Code)
	require.Equal(t, "0", first.Header().Get("X-RateLimit-Remaining"))

	blocked := postBill(limited, "c1")
	require.Equal(t, http.StatusTooManyRequests, blocked.Code)
	require.Contains(t, blocked.Body.String(), "RATE_LIMITED")
	require.Equal(t, "2", blocked.Header().Get("X-RateLimit-Limit"))
	require.NotEmpty(t, blocked.Header().Get("Retry-After"))

	require.Equal(t, http.StatusCreated, postBill(limited, "c2").Code, "another till keeps its own budget")
}

func TestBillLimitFailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })

	var reported error
	limited := Handler{
		Limiter: Limiter{Client: client, Prefix: "ratelimit:bills"},
		Config:  Config{Key: PerCashier("bill:create"), Window: time.Second, Max: 1},
		OnError: func(err error) { reported = err },
	}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	require.Equal(t, http.StatusCreated, postBill(limited, "c1").Code)
	require.Error(t, reported)
}

func TestPerCashierKey(t *testing.T) {
	key := PerCashier("bill:create")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bills", nil)
	req.RemoteAddr = "203.0.113.9:4000"
	require.Equal(t, "bill:create:ip:203.0.113.9", key(req))

	req = req.WithContext(common.WithUserID(req.Context(), "emp-7"))
	require.Equal(t, "bill:create:user:emp-7", key(req))
}
