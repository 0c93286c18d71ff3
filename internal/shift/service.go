// Package shift manages cashier till sessions and their running cash totals.
package shift

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
)

var (
	// ErrShiftAlreadyOpen is returned when the cashier already has an open shift.
	ErrShiftAlreadyOpen = errors.New("shift already open")
	// ErrNoOpenShift is returned when an operation needs an open shift and there is none.
	ErrNoOpenShift = errors.New("no open shift")
	// ErrInvalidCash rejects negative or implausible cash counts.
	ErrInvalidCash = errors.New("invalid cash amount")
)

// Status values for a shift.
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// Event topics emitted by the service.
const (
	TopicOpened = "shift.opened"
	TopicClosed = "shift.closed"
)

// Shift is one cashier's session at a till.
type Shift struct {
	ID          uuid.UUID        `json:"id"`
	CashierID   uuid.UUID        `json:"cashier_id"`
	Status      string           `json:"status"`
	OpeningCash decimal.Decimal  `json:"opening_cash"`
	CashSales   decimal.Decimal  `json:"cash_sales"`
	CardSales   decimal.Decimal  `json:"card_sales"`
	UPISales    decimal.Decimal  `json:"upi_sales"`
	BillCount   int              `json:"bill_count"`
	CountedCash *decimal.Decimal `json:"counted_cash,omitempty"`
	OpenedAt    time.Time        `json:"opened_at"`
	ClosedAt    *time.Time       `json:"closed_at,omitempty"`
}

// Sale is the contribution of one bill to its shift's totals. Cash is net of change.
type Sale struct {
	Cash decimal.Decimal
	Card decimal.Decimal
	UPI  decimal.Decimal
}

// Summary is returned when a shift is closed.
type Summary struct {
	Shift        Shift           `json:"shift"`
	ExpectedCash decimal.Decimal `json:"expected_cash"`
	CountedCash  decimal.Decimal `json:"counted_cash"`
	Variance     decimal.Decimal `json:"variance"`
}

// Store persists shifts.
type Store interface {
	Current(ctx context.Context, cashierID uuid.UUID) (Shift, error)
	Open(ctx context.Context, cashierID uuid.UUID, openingCash decimal.Decimal, at time.Time) (Shift, error)
	Close(ctx context.Context, shiftID uuid.UUID, countedCash decimal.Decimal, at time.Time) (Shift, error)
}

// Locker serialises shift transitions per cashier.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Emitter publishes domain events.
type Emitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) error
}

// Service opens, reads and closes shifts.
type Service struct {
	Store          Store
	Locker         Locker
	LockTTL        time.Duration
	Events         Emitter
	MaxOpeningCash decimal.Decimal
	Logger         zerolog.Logger
	Now            func() time.Time
}

func lockKey(cashierID uuid.UUID) string { return "shift:open:" + cashierID.String() }

// Open starts a shift for the cashier with the counted float.
func (s *Service) Open(ctx context.Context, cashierID uuid.UUID, openingCash decimal.Decimal) (Shift, error) {
	if s == nil || s.Store == nil {
		return Shift{}, errors.New("shift service not configured")
	}
	if openingCash.IsNegative() || (s.MaxOpeningCash.IsPositive() && openingCash.GreaterThan(s.MaxOpeningCash)) {
		return Shift{}, fmt.Errorf("%w: opening cash %s", ErrInvalidCash, openingCash)
	}
	ctx, span := otel.Tracer("shift.Service").Start(ctx, "ShiftService.Open")
	defer span.End()

	var opened Shift
	err := s.withLock(ctx, cashierID, func(ctx context.Context) error {
		if _, err := s.Store.Current(ctx, cashierID); err == nil {
			return ErrShiftAlreadyOpen
		} else if !errors.Is(err, ErrNoOpenShift) {
			return err
		}
		var err error
		opened, err = s.Store.Open(ctx, cashierID, openingCash, s.now())
		return err
	})
	if err != nil {
		span.RecordError(err)
		return Shift{}, err
	}
	s.emit(ctx, TopicOpened, opened.ID, opened)
	return opened, nil
}

// Current returns the cashier's open shift.
func (s *Service) Current(ctx context.Context, cashierID uuid.UUID) (Shift, error) {
	if s == nil || s.Store == nil {
		return Shift{}, errors.New("shift service not configured")
	}
	return s.Store.Current(ctx, cashierID)
}

// Close ends the cashier's open shift and reconciles the drawer against what the
// bills say should be in it.
func (s *Service) Close(ctx context.Context, cashierID uuid.UUID, countedCash decimal.Decimal) (Summary, error) {
	if s == nil || s.Store == nil {
		return Summary{}, errors.New("shift service not configured")
	}
	if countedCash.IsNegative() {
		return Summary{}, fmt.Errorf("%w: counted cash %s", ErrInvalidCash, countedCash)
	}
	ctx, span := otel.Tracer("shift.Service").Start(ctx, "ShiftService.Close")
	defer span.End()

	var closed Shift
	err := s.withLock(ctx, cashierID, func(ctx context.Context) error {
		current, err := s.Store.Current(ctx, cashierID)
		if err != nil {
			return err
		}
		closed, err = s.Store.Close(ctx, current.ID, countedCash, s.now())
		return err
	})
	if err != nil {
		span.RecordError(err)
		return Summary{}, err
	}
	summary := Summarize(closed, countedCash)
	s.emit(ctx, TopicClosed, closed.ID, summary)
	return summary, nil
}

// Summarize computes the drawer reconciliation for a shift.
func Summarize(sh Shift, counted decimal.Decimal) Summary {
	expected := sh.OpeningCash.Add(sh.CashSales)
	return Summary{
		Shift:        sh,
		ExpectedCash: expected,
		CountedCash:  counted,
		Variance:     counted.Sub(expected),
	}
}

func (s *Service) withLock(ctx context.Context, cashierID uuid.UUID, fn func(context.Context) error) error {
	if s.Locker == nil {
		return fn(ctx)
	}
	return s.Locker.WithLock(ctx, lockKey(cashierID), s.LockTTL, fn)
}

func (s *Service) emit(ctx context.Context, topic string, id uuid.UUID, payload any) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Emit(ctx, topic, id.String(), payload); err != nil {
		s.Logger.Error().Err(err).Str("topic", topic).Str("shift_id", id.String()).Msg("emit shift event")
	}
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}
