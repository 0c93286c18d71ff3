package shift_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-kasir/internal/common"
	"github.com/noah-isme/backend-kasir/internal/lock"
	"github.com/noah-isme/backend-kasir/internal/shift"
)

type memStore struct {
	shifts map[uuid.UUID]*shift.Shift
}

func (m *memStore) Current(_ context.Context, cashierID uuid.UUID) (shift.Shift, error) {
	for _, sh := range m.shifts {
		if sh.CashierID == cashierID && sh.Status == shift.StatusOpen {
			return *sh, nil
		}
	}
	return shift.Shift{}, shift.ErrNoOpenShift
}

func (m *memStore) Open(_ context.Context, cashierID uuid.UUID, opening decimal.Decimal, at time.Time) (shift.Shift, error) {
	sh := &shift.Shift{ID: uuid.New(), CashierID: cashierID, Status: shift.StatusOpen, OpeningCash: opening, OpenedAt: at}
	m.shifts[sh.ID] = sh
	return *sh, nil
}

func (m *memStore) Close(_ context.Context, id uuid.UUID, counted decimal.Decimal, at time.Time) (shift.Shift, error) {
	sh, ok := m.shifts[id]
	if !ok || sh.Status != shift.StatusOpen {
		return shift.Shift{}, shift.ErrNoOpenShift
	}
	sh.Status = shift.StatusClosed
	sh.CountedCash = &counted
	sh.ClosedAt = &at
	return *sh, nil
}

type recordedEvent struct {
	topic string
	id    string
}

type fakeEmitter struct{ events []recordedEvent }

func (f *fakeEmitter) Emit(_ context.Context, topic, id string, _ any) error {
	f.events = append(f.events, recordedEvent{topic, id})
	return nil
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newService(t *testing.T) (*shift.Service, *memStore, *fakeEmitter) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := &memStore{shifts: map[uuid.UUID]*shift.Shift{}}
	events := &fakeEmitter{}
	return &shift.Service{
		Store:          store,
		Locker:         lock.Locker{R: client, RetryBackoff: time.Millisecond},
		LockTTL:        time.Second,
		Events:         events,
		MaxOpeningCash: d("5000"),
		Logger:         zerolog.Nop(),
	}, store, events
}

func TestOpenRejectsSecondShift(t *testing.T) {
	svc, _, events := newService(t)
	cashier := uuid.New()

	sh, err := svc.Open(context.Background(), cashier, d("1000"))
	require.NoError(t, err)
	require.Equal(t, shift.StatusOpen, sh.Status)

	_, err = svc.Open(context.Background(), cashier, d("1000"))
	require.ErrorIs(t, err, shift.ErrShiftAlreadyOpen)
	require.Len(t, events.events, 1)
	require.Equal(t, shift.TopicOpened, events.events[0].topic)
}

func TestOpenValidatesFloat(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.Open(context.Background(), uuid.New(), d("-1"))
	require.ErrorIs(t, err, shift.ErrInvalidCash)
	_, err = svc.Open(context.Background(), uuid.New(), d("5000.01"))
	require.ErrorIs(t, err, shift.ErrInvalidCash)
}

func TestCloseComputesVariance(t *testing.T) {
	svc, store, events := newService(t)
	cashier := uuid.New()
	sh, err := svc.Open(context.Background(), cashier, d("1000"))
	require.NoError(t, err)
	store.shifts[sh.ID].CashSales = d("2350")
	store.shifts[sh.ID].CardSales = d("980")

	summary, err := svc.Close(context.Background(), cashier, d("3340"))
	require.NoError(t, err)
	require.True(t, summary.ExpectedCash.Equal(d("3350")))
	require.True(t, summary.Variance.Equal(d("-10")))
	require.Equal(t, shift.StatusClosed, summary.Shift.Status)
	require.Equal(t, shift.TopicClosed, events.events[len(events.events)-1].topic)

	_, err = svc.Close(context.Background(), cashier, d("0"))
	require.ErrorIs(t, err, shift.ErrNoOpenShift)
}

func TestHandlers(t *testing.T) {
	svc, _, _ := newService(t)
	h := &shift.Handler{Svc: svc}
	cashier := uuid.NewString()
	authed := func(method, body string) *http.Request {
		req := httptest.NewRequest(method, "/api/v1/shifts", strings.NewReader(body))
		return req.WithContext(common.WithUserID(req.Context(), cashier))
	}

	rec := httptest.NewRecorder()
	h.Current(rec, authed(http.MethodGet, ""))
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "NO_OPEN_SHIFT")

	rec = httptest.NewRecorder()
	h.Open(rec, authed(http.MethodPost, `{"opening_cash":"500"}`))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	h.Open(rec, authed(http.MethodPost, `{"opening_cash":"500"}`))
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "SHIFT_ALREADY_OPEN")

	rec = httptest.NewRecorder()
	h.Close(rec, authed(http.MethodPost, `{"counted_cash":"520"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"variance":"20"`)

	rec = httptest.NewRecorder()
	h.Current(rec, httptest.NewRequest(http.MethodGet, "/api/v1/shifts/current", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
