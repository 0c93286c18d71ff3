// Package bill turns a till request into a priced, paid and persisted bill.
package bill

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-kasir/internal/loyalty"
	"github.com/noah-isme/backend-kasir/internal/pricing"
)

var (
	// ErrBillNotFound is returned for unknown bill IDs.
	ErrBillNotFound = errors.New("bill not found")
	// ErrInsufficientStock is returned when a line asks for more than is on hand.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrPaymentRequired is returned when a bill is created without a payment block.
	ErrPaymentRequired = errors.New("payment is required")
	// ErrSizeMismatch is returned when the requested size is not the product's size.
	ErrSizeMismatch = errors.New("size does not match product")
)

// ItemRequest is one scanned line.
type ItemRequest struct {
	ProductID uuid.UUID       `json:"product_id" validate:"required"`
	Size      string          `json:"size,omitempty" validate:"max=32"`
	Quantity  decimal.Decimal `json:"quantity" validate:"dec_min=0.01,dec_places=3"`
}

// PaymentRequest is what the cashier collected. Card and UPI amounts default to
// the grand total when the method is card or upi and no amount is given.
type PaymentRequest struct {
	Method        string           `json:"method" validate:"required,oneof=cash card upi mixed"`
	CashTendered  *decimal.Decimal `json:"cash_tendered,omitempty"`
	CardAmount    *decimal.Decimal `json:"card_amount,omitempty"`
	UPIAmount     *decimal.Decimal `json:"upi_amount,omitempty"`
	CardReference string           `json:"card_reference,omitempty" validate:"max=64"`
	UPIReference  string           `json:"upi_reference,omitempty" validate:"max=64"`
}

// Request is the body of preview and create.
type Request struct {
	CustomerID *uuid.UUID      `json:"customer_id,omitempty"`
	Items      []ItemRequest   `json:"items" validate:"max=200,dive"`
	Payment    *PaymentRequest `json:"payment,omitempty"`
}

// Item is a priced bill line.
type Item struct {
	LineNo           int               `json:"line_no"`
	ProductID        uuid.UUID         `json:"product_id"`
	Name             string            `json:"name"`
	Size             string            `json:"size,omitempty"`
	Quantity         pricing.Money     `json:"quantity"`
	Rate             pricing.Money     `json:"rate"`
	TaxRate          pricing.Money     `json:"tax_rate"`
	Discount         *pricing.Discount `json:"discount,omitempty"`
	DiscountRuleID   *uuid.UUID        `json:"discount_rule_id,omitempty"`
	BaseAmount       pricing.Money     `json:"base_amount"`
	DiscountAmount   pricing.Money     `json:"discount_amount"`
	DiscountedAmount pricing.Money     `json:"discounted_amount"`
	TaxAmount        pricing.Money     `json:"tax_amount"`
	TotalAmount      pricing.Money     `json:"total_amount"`
}

// Amounts are the bill-level figures.
type Amounts struct {
	Subtotal           pricing.Money `json:"subtotal"`
	ItemDiscount       pricing.Money `json:"item_discount"`
	TotalDiscount      pricing.Money `json:"total_discount"`
	TotalTax           pricing.Money `json:"total_tax"`
	LoyaltyDiscount    pricing.Money `json:"loyalty_discount"`
	PreRoundGrandTotal pricing.Money `json:"pre_round_grand_total"`
	RoundOff           pricing.Money `json:"round_off"`
	GrandTotal         pricing.Money `json:"grand_total"`
}

func amountsOf(t pricing.Totals) Amounts {
	return Amounts{
		Subtotal:           t.Subtotal,
		ItemDiscount:       t.ItemDiscount,
		TotalDiscount:      t.TotalDiscount,
		TotalTax:           t.TotalTax,
		LoyaltyDiscount:    t.LoyaltyDiscount,
		PreRoundGrandTotal: t.PreRoundGrandTotal,
		RoundOff:           t.RoundOff,
		GrandTotal:         t.GrandTotal,
	}
}

// Quote is a priced cart. Preview returns it as is; Create persists it.
type Quote struct {
	Items []Item `json:"items"`
	Amounts
	Loyalty    loyalty.Status      `json:"loyalty"`
	Settlement *pricing.Settlement `json:"settlement,omitempty"`
}

// RuleIDs returns the distinct discount rules applied across the quote.
func (q Quote) RuleIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	var out []uuid.UUID
	for _, it := range q.Items {
		if it.DiscountRuleID == nil {
			continue
		}
		if _, ok := seen[*it.DiscountRuleID]; ok {
			continue
		}
		seen[*it.DiscountRuleID] = struct{}{}
		out = append(out, *it.DiscountRuleID)
	}
	return out
}

// Bill is a committed sale.
type Bill struct {
	ID         uuid.UUID  `json:"id"`
	Number     string     `json:"number"`
	ShiftID    uuid.UUID  `json:"shift_id"`
	CashierID  uuid.UUID  `json:"cashier_id"`
	CustomerID *uuid.UUID `json:"customer_id,omitempty"`
	Items      []Item     `json:"items"`
	Amounts
	PaymentMethod pricing.PaymentMethod `json:"payment_method"`
	Tender        pricing.Tender        `json:"tender"`
	CardReference string                `json:"card_reference,omitempty"`
	UPIReference  string                `json:"upi_reference,omitempty"`
	ChangeDue     pricing.Money         `json:"change_due"`
	CreatedAt     time.Time             `json:"created_at"`
}

// Filter narrows List.
type Filter struct {
	ShiftID   *uuid.UUID
	CashierID *uuid.UUID
	Page      int
	PerPage   int
}

// ListResult is a page of bills without their items.
type ListResult struct {
	Items      []Bill `json:"items"`
	Page       int    `json:"page"`
	PerPage    int    `json:"per_page"`
	TotalItems int64  `json:"total_items"`
	TotalPages int    `json:"total_pages"`
}
