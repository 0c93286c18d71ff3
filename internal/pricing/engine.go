package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Money represents a monetary value in a single currency with fractional minor units.
type Money = decimal.Decimal

var (
	// ErrInvalidLineItem is returned when a line item carries an unusable quantity, rate, tax rate or discount.
	ErrInvalidLineItem = errors.New("invalid line item")
	// ErrEmptyCart is returned when a bill is computed without any line items.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrInsufficientPayment indicates the tendered amount does not cover the grand total.
	ErrInsufficientPayment = errors.New("insufficient payment")
	// ErrPaymentMismatch indicates a card or UPI amount does not match the amount owed.
	ErrPaymentMismatch = errors.New("payment amount mismatch")
	// ErrInvalidPayment is returned for unknown payment methods or negative tender amounts.
	ErrInvalidPayment = errors.New("invalid payment")
)

// DiscountKind selects how a discount value is interpreted.
type DiscountKind string

const (
	// DiscountPercentage takes Value percent of the line's base amount.
	DiscountPercentage DiscountKind = "percentage"
	// DiscountFixed takes Value per unit, capped at the line's base amount.
	DiscountFixed DiscountKind = "fixed"
)

var (
	hundred = decimal.NewFromInt(100)
	// MinQuantity is the smallest quantity accepted on a line.
	MinQuantity = decimal.RequireFromString("0.01")
	// LoyaltyRate is the share of subtotal plus tax given back to eligible customers.
	LoyaltyRate = decimal.RequireFromString("0.02")
)

// Discount describes a per-line discount resolved before pricing.
type Discount struct {
	Kind  DiscountKind `json:"kind"`
	Value Money        `json:"value"`
}

// LineItem describes one product line in a cart before computation.
type LineItem struct {
	ProductID string    `json:"product_id"`
	Size      string    `json:"size,omitempty"`
	Quantity  Money     `json:"quantity"`
	Rate      Money     `json:"rate"`
	TaxRate   Money     `json:"tax_rate"`
	Discount  *Discount `json:"discount,omitempty"`
}

// LineResult is a LineItem with its computed amounts.
type LineResult struct {
	LineItem
	BaseAmount       Money `json:"base_amount"`
	DiscountAmount   Money `json:"discount_amount"`
	DiscountedAmount Money `json:"discounted_amount"`
	TaxAmount        Money `json:"tax_amount"`
	TotalAmount      Money `json:"total_amount"`
}

// Options carries caller-resolved facts that influence bill totals.
type Options struct {
	LoyaltyEligible bool
}

// Totals aggregates computed line results with loyalty and rounding adjustments.
type Totals struct {
	Items              []LineResult `json:"items"`
	Subtotal           Money        `json:"subtotal"`
	ItemDiscount       Money        `json:"item_discount"`
	TotalDiscount      Money        `json:"total_discount"`
	TotalTax           Money        `json:"total_tax"`
	LoyaltyDiscount    Money        `json:"loyalty_discount"`
	PreRoundGrandTotal Money        `json:"pre_round_grand_total"`
	RoundOff           Money        `json:"round_off"`
	GrandTotal         Money        `json:"grand_total"`
}

// ComputeLineItem prices a single line. Tax is charged on the discounted amount.
func ComputeLineItem(item LineItem) (LineResult, error) {
	if item.Quantity.LessThan(MinQuantity) {
		return LineResult{}, fmt.Errorf("%w: quantity must be at least %s", ErrInvalidLineItem, MinQuantity)
	}
	if item.Rate.IsNegative() {
		return LineResult{}, fmt.Errorf("%w: rate must not be negative", ErrInvalidLineItem)
	}
	if item.TaxRate.IsNegative() {
		return LineResult{}, fmt.Errorf("%w: tax rate must not be negative", ErrInvalidLineItem)
	}

	base := item.Quantity.Mul(item.Rate)
	discount := decimal.Zero
	if d := item.Discount; d != nil {
		if d.Value.IsNegative() {
			return LineResult{}, fmt.Errorf("%w: discount value must not be negative", ErrInvalidLineItem)
		}
		switch d.Kind {
		case DiscountPercentage:
			if d.Value.GreaterThan(hundred) {
				return LineResult{}, fmt.Errorf("%w: percentage discount above 100", ErrInvalidLineItem)
			}
			discount = base.Mul(d.Value).Div(hundred)
		case DiscountFixed:
			discount = decimal.Min(d.Value.Mul(item.Quantity), base)
		default:
			return LineResult{}, fmt.Errorf("%w: unknown discount kind %q", ErrInvalidLineItem, d.Kind)
		}
	}

	discounted := base.Sub(discount)
	tax := discounted.Mul(item.TaxRate).Div(hundred)
	return LineResult{
		LineItem:         item,
		BaseAmount:       base,
		DiscountAmount:   discount,
		DiscountedAmount: discounted,
		TaxAmount:        tax,
		TotalAmount:      discounted.Add(tax),
	}, nil
}

// ComputeBillTotals prices every line and aggregates the bill. Per-line amounts keep
// full precision; only the loyalty discount and the grand total are rounded.
func ComputeBillTotals(items []LineItem, opts Options) (Totals, error) {
	if len(items) == 0 {
		return Totals{}, ErrEmptyCart
	}
	results := make([]LineResult, 0, len(items))
	subtotal := decimal.Zero
	tax := decimal.Zero
	itemDiscount := decimal.Zero
	for i, it := range items {
		res, err := ComputeLineItem(it)
		if err != nil {
			return Totals{}, fmt.Errorf("line %d: %w", i+1, err)
		}
		results = append(results, res)
		subtotal = subtotal.Add(res.DiscountedAmount)
		tax = tax.Add(res.TaxAmount)
		itemDiscount = itemDiscount.Add(res.DiscountAmount)
	}

	loyalty := decimal.Zero
	if opts.LoyaltyEligible {
		loyalty = RoundCurrency(subtotal.Add(tax).Mul(LoyaltyRate))
	}
	preRound := subtotal.Add(tax).Sub(loyalty)
	grand := RoundCurrency(preRound)

	return Totals{
		Items:              results,
		Subtotal:           subtotal,
		ItemDiscount:       itemDiscount,
		TotalDiscount:      itemDiscount.Add(loyalty),
		TotalTax:           tax,
		LoyaltyDiscount:    loyalty,
		PreRoundGrandTotal: preRound,
		RoundOff:           grand.Sub(preRound),
		GrandTotal:         grand,
	}, nil
}

// RoundCurrency rounds to a whole currency unit, half away from zero.
func RoundCurrency(v Money) Money {
	return v.Round(0)
}
