package discount

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-kasir/internal/pricing"
)

var now = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func line(product uuid.UUID, qty, rate string) Line {
	return Line{ProductID: product, Quantity: d(qty), Rate: d(rate), TaxRate: d("5")}
}

func TestValidateWindowAndLimit(t *testing.T) {
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	limit := int32(3)

	cases := []struct {
		name string
		rule Rule
		want error
	}{
		{"inactive flag", Rule{Active: false}, ErrRuleInactive},
		{"not started", Rule{Active: true, ValidFrom: &future}, ErrRuleInactive},
		{"expired", Rule{Active: true, ValidTo: &past}, ErrRuleExpired},
		{"limit reached", Rule{Active: true, UsageLimit: &limit, UsedCount: 3}, ErrUsageLimitReached},
		{"valid", Rule{Active: true, ValidFrom: &past, ValidTo: &future, UsageLimit: &limit, UsedCount: 2}, nil},
	}
	for _, tc := range cases {
		if err := tc.rule.Validate(now); err != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestMatchesScope(t *testing.T) {
	prod := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	other := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	cat := uuid.MustParse("33333333-3333-3333-3333-333333333333")

	if !(Rule{}).Matches(Line{ProductID: other}) {
		t.Fatalf("unscoped rule should match everything")
	}
	byProduct := Rule{ProductIDs: []uuid.UUID{prod}}
	if !byProduct.Matches(Line{ProductID: prod}) || byProduct.Matches(Line{ProductID: other}) {
		t.Fatalf("product scope mismatch")
	}
	byCategory := Rule{CategoryIDs: []uuid.UUID{cat}}
	if !byCategory.Matches(Line{ProductID: other, CategoryID: &cat}) {
		t.Fatalf("category scope should match")
	}
	if byCategory.Matches(Line{ProductID: other}) {
		t.Fatalf("line without category should not match category scope")
	}
}

func TestBestPrefersPriorityThenAmount(t *testing.T) {
	prod := uuid.New()
	l := line(prod, "2", "100")

	low := Rule{ID: uuid.New(), Active: true, Kind: pricing.DiscountPercentage, Value: d("50"), Priority: 1}
	high := Rule{ID: uuid.New(), Active: true, Kind: pricing.DiscountPercentage, Value: d("5"), Priority: 5}
	best := Best([]Rule{low, high}, l, now)
	if best == nil || best.ID != high.ID {
		t.Fatalf("expected higher priority rule, got %+v", best)
	}

	pct := Rule{ID: uuid.New(), Active: true, Kind: pricing.DiscountPercentage, Value: d("10"), Priority: 5}
	fixed := Rule{ID: uuid.New(), Active: true, Kind: pricing.DiscountFixed, Value: d("15"), Priority: 5}
	// 10% of 200 = 20; fixed 15 per unit x 2 = 30.
	best = Best([]Rule{pct, fixed}, l, now)
	if best == nil || best.ID != fixed.ID {
		t.Fatalf("expected larger discount on tie, got %+v", best)
	}
}

func TestBestSkipsInvalidAndUnmatched(t *testing.T) {
	prod := uuid.New()
	l := line(prod, "1", "80")
	expired := now.Add(-time.Minute)
	rules := []Rule{
		{ID: uuid.New(), Active: true, Kind: pricing.DiscountFixed, Value: d("5"), ValidTo: &expired, Priority: 9},
		{ID: uuid.New(), Active: true, Kind: pricing.DiscountFixed, Value: d("5"), ProductIDs: []uuid.UUID{uuid.New()}, Priority: 9},
		{ID: uuid.New(), Active: true, Kind: pricing.DiscountPercentage, Value: d("150"), Priority: 9},
	}
	if best := Best(rules, l, now); best != nil {
		t.Fatalf("expected no applicable rule, got %+v", best)
	}
}
