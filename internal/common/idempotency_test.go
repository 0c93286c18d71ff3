package common_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-kasir/internal/common"
)

func newIdem(t *testing.T) common.Idem {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return common.Idem{R: client, TTL: time.Minute}
}

func TestIdemRejectsReplay(t *testing.T) {
	idem := newIdem(t)
	calls := 0
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/bills", nil)
		req.Header.Set("Idempotency-Key", "abc")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if i == 0 {
			require.Equal(t, http.StatusCreated, rr.Code)
		} else {
			require.Equal(t, http.StatusConflict, rr.Code)
			require.Contains(t, rr.Body.String(), "IDEMPOTENT_REPLAY")
		}
	}
	require.Equal(t, 1, calls)
}

func TestIdemReleasesKeyOnRejection(t *testing.T) {
	idem := newIdem(t)
	status := http.StatusUnprocessableEntity
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/bills", nil)
	req.Header.Set("Idempotency-Key", "retry-me")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	status = http.StatusCreated
	req2 := httptest.NewRequest(http.MethodPost, "/api/v1/bills", nil)
	req2.Header.Set("Idempotency-Key", "retry-me")
	rr2 := httptest.NewRecorder()
	h.ServeHTTP(rr2, req2)
	require.Equal(t, http.StatusCreated, rr2.Code)
}

func TestIdemScopesKeysPerUser(t *testing.T) {
	idem := newIdem(t)
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	for _, user := range []string{"cashier-1", "cashier-2"} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/bills", nil)
		req = req.WithContext(common.WithUserID(req.Context(), user))
		req.Header.Set("Idempotency-Key", "same")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		require.Equal(t, http.StatusCreated, rr.Code)
	}
}
