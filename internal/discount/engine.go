// Package discount resolves per-line discount rules for a bill.
package discount

import (
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-kasir/internal/pricing"
)

var (
	// ErrRuleInactive is returned when the rule is switched off or not yet valid.
	ErrRuleInactive = errors.New("discount rule not active")
	// ErrRuleExpired is returned when the rule's validity window has passed.
	ErrRuleExpired = errors.New("discount rule expired")
	// ErrUsageLimitReached indicates the rule has been applied to its maximum number of bills.
	ErrUsageLimitReached = errors.New("discount rule usage limit reached")
	// ErrRuleNotFound is returned for unknown rule IDs.
	ErrRuleNotFound = errors.New("discount rule not found")
	// ErrInvalidRule rejects malformed rule definitions.
	ErrInvalidRule = errors.New("invalid discount rule")
)

// Rule captures a discount that applies to individual bill lines.
type Rule struct {
	ID          uuid.UUID            `json:"id"`
	Name        string               `json:"name"`
	Kind        pricing.DiscountKind `json:"kind"`
	Value       pricing.Money        `json:"value"`
	ProductIDs  []uuid.UUID          `json:"product_ids"`
	CategoryIDs []uuid.UUID          `json:"category_ids"`
	ValidFrom   *time.Time           `json:"valid_from,omitempty"`
	ValidTo     *time.Time           `json:"valid_to,omitempty"`
	Priority    int                  `json:"priority"`
	Active      bool                 `json:"active"`
	UsageLimit  *int32               `json:"usage_limit,omitempty"`
	UsedCount   int32                `json:"used_count"`
}

// Line is the part of a bill line a rule is matched against.
type Line struct {
	ProductID  uuid.UUID
	CategoryID *uuid.UUID
	Quantity   pricing.Money
	Rate       pricing.Money
	TaxRate    pricing.Money
}

// Validate ensures the rule can be applied at the provided instant.
func (r Rule) Validate(now time.Time) error {
	if !r.Active {
		return ErrRuleInactive
	}
	if r.ValidFrom != nil && now.Before(*r.ValidFrom) {
		return ErrRuleInactive
	}
	if r.ValidTo != nil && now.After(*r.ValidTo) {
		return ErrRuleExpired
	}
	if r.UsageLimit != nil && *r.UsageLimit >= 0 && r.UsedCount >= *r.UsageLimit {
		return ErrUsageLimitReached
	}
	return nil
}

// Discount converts the rule into the engine's per-line discount.
func (r Rule) Discount() *pricing.Discount {
	return &pricing.Discount{Kind: r.Kind, Value: r.Value}
}

// Matches reports whether the rule's product or category scope covers the line.
// A rule with no scope applies to every line.
func (r Rule) Matches(l Line) bool {
	if len(r.ProductIDs) == 0 && len(r.CategoryIDs) == 0 {
		return true
	}
	if slices.Contains(r.ProductIDs, l.ProductID) {
		return true
	}
	return l.CategoryID != nil && slices.Contains(r.CategoryIDs, *l.CategoryID)
}

// amountFor is the pre-tax discount the rule would grant on l. A rule the engine
// rejects for this line yields ok=false.
func (r Rule) amountFor(l Line) (pricing.Money, bool) {
	res, err := pricing.ComputeLineItem(pricing.LineItem{
		Quantity: l.Quantity,
		Rate:     l.Rate,
		TaxRate:  l.TaxRate,
		Discount: r.Discount(),
	})
	if err != nil {
		return pricing.Money{}, false
	}
	return res.DiscountAmount, true
}

// Best picks the rule applied to a line: the highest priority valid rule that
// matches, with ties going to the larger discount. It returns nil when none apply.
func Best(rules []Rule, l Line, now time.Time) *Rule {
	var (
		best       *Rule
		bestAmount pricing.Money
	)
	for i := range rules {
		r := &rules[i]
		if r.Validate(now) != nil || !r.Matches(l) {
			continue
		}
		amount, ok := r.amountFor(l)
		if !ok {
			continue
		}
		switch {
		case best == nil,
			r.Priority > best.Priority,
			r.Priority == best.Priority && amount.GreaterThan(bestAmount):
			best, bestAmount = r, amount
		}
	}
	return best
}
