// Package payment confirms card and UPI amounts before a bill is settled.
package payment

import (
	"context"
	"errors"

	"github.com/noah-isme/backend-kasir/internal/pricing"
)

var (
	// ErrNotCaptured is returned when the acquirer knows the reference but has not captured funds.
	ErrNotCaptured = errors.New("payment not captured")
	// ErrUnknownReference is returned when the acquirer has no record of the reference.
	ErrUnknownReference = errors.New("payment reference not found")
	// ErrMissingReference is returned when a verifier needs a reference and none was supplied.
	ErrMissingReference = errors.New("payment reference required")
	// ErrUnavailable wraps transport failures and an open circuit.
	ErrUnavailable = errors.New("payment verification unavailable")
)

// Check is one non-cash tender to confirm.
type Check struct {
	Method    pricing.PaymentMethod
	Reference string
	Declared  pricing.Money
}

// Verifier confirms a non-cash tender and returns the amount actually captured.
type Verifier interface {
	Verify(ctx context.Context, c Check) (pricing.Money, error)
}

// Manual trusts the amount the cashier keyed from the terminal slip.
type Manual struct{}

// Verify returns the declared amount unchanged.
func (Manual) Verify(_ context.Context, c Check) (pricing.Money, error) {
	return c.Declared, nil
}
