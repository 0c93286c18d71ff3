package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// PaymentMethod enumerates the supported ways of settling a bill.
type PaymentMethod string

const (
	// MethodCash is paid entirely in cash; tendering more than the grand total gives change.
	MethodCash PaymentMethod = "cash"
	// MethodCard is paid entirely by card for exactly the grand total.
	MethodCard PaymentMethod = "card"
	// MethodUPI is paid entirely over UPI for exactly the grand total.
	MethodUPI PaymentMethod = "upi"
	// MethodMixed splits the grand total across cash, card and UPI. Only the
	// cash portion gives change.
	MethodMixed PaymentMethod = "mixed"
)

// ParseMethod normalises user input into a PaymentMethod.
func ParseMethod(value string) (PaymentMethod, error) {
	m := PaymentMethod(strings.ToLower(strings.TrimSpace(value)))
	switch m {
	case MethodCash, MethodCard, MethodUPI, MethodMixed:
		return m, nil
	}
	return "", fmt.Errorf("%w: unsupported method %q", ErrInvalidPayment, value)
}

// Tender holds the amounts collected for a bill. Zero means the instrument was not used.
type Tender struct {
	CashTendered Money `json:"cash_tendered"`
	CardAmount   Money `json:"card_amount"`
	UPIAmount    Money `json:"upi_amount"`
}

// Settlement is the outcome of reconciling a tender against the grand total.
type Settlement struct {
	ChangeDue Money `json:"change_due"`
	Shortfall Money `json:"shortfall"`
}

// ReconcilePayment checks that the tender settles grandTotal under the given method.
// Card and UPI portions are treated as exact; only cash produces change.
// On ErrInsufficientPayment the returned Settlement carries the shortfall.
func ReconcilePayment(grandTotal Money, tender Tender, method PaymentMethod) (Settlement, error) {
	if tender.CashTendered.IsNegative() || tender.CardAmount.IsNegative() || tender.UPIAmount.IsNegative() {
		return Settlement{}, fmt.Errorf("%w: amounts must not be negative", ErrInvalidPayment)
	}
	switch method {
	case MethodCash:
		if tender.CashTendered.LessThan(grandTotal) {
			return Settlement{Shortfall: grandTotal.Sub(tender.CashTendered)},
				fmt.Errorf("%w: cash %s is less than %s", ErrInsufficientPayment, tender.CashTendered, grandTotal)
		}
		return Settlement{ChangeDue: tender.CashTendered.Sub(grandTotal), Shortfall: decimal.Zero}, nil
	case MethodMixed:
		nonCash := tender.CardAmount.Add(tender.UPIAmount)
		if nonCash.GreaterThan(grandTotal) {
			return Settlement{}, fmt.Errorf("%w: card and upi %s exceed %s", ErrPaymentMismatch, nonCash, grandTotal)
		}
		collected := nonCash.Add(tender.CashTendered)
		if collected.LessThan(grandTotal) {
			return Settlement{Shortfall: grandTotal.Sub(collected)},
				fmt.Errorf("%w: collected %s is less than %s", ErrInsufficientPayment, collected, grandTotal)
		}
		cashNeeded := grandTotal.Sub(nonCash)
		return Settlement{ChangeDue: tender.CashTendered.Sub(cashNeeded), Shortfall: decimal.Zero}, nil
	case MethodCard:
		return exactSettlement(grandTotal, tender.CardAmount, method)
	case MethodUPI:
		return exactSettlement(grandTotal, tender.UPIAmount, method)
	default:
		return Settlement{}, fmt.Errorf("%w: unsupported method %q", ErrInvalidPayment, method)
	}
}

func exactSettlement(grandTotal, verified Money, method PaymentMethod) (Settlement, error) {
	if !verified.Equal(grandTotal) {
		return Settlement{}, fmt.Errorf("%w: %s amount %s does not equal %s", ErrPaymentMismatch, method, verified, grandTotal)
	}
	return Settlement{ChangeDue: decimal.Zero, Shortfall: decimal.Zero}, nil
}

// CashPortion is the share of grandTotal settled in cash, net of change.
func CashPortion(grandTotal Money, tender Tender, method PaymentMethod) Money {
	switch method {
	case MethodCash:
		return grandTotal
	case MethodMixed:
		return grandTotal.Sub(tender.CardAmount).Sub(tender.UPIAmount)
	default:
		return decimal.Zero
	}
}
