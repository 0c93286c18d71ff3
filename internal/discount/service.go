package discount

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-kasir/internal/pricing"
)

// Store captures the persistence methods required by the discount service.
type Store interface {
	ActiveRules(ctx context.Context) ([]Rule, error)
	ListRules(ctx context.Context) ([]Rule, error)
	InsertRule(ctx context.Context, r Rule) (Rule, error)
	DeactivateRule(ctx context.Context, id uuid.UUID) error
}

// Resolution is the discount chosen for each bill line, by index.
type Resolution struct {
	Discounts []*pricing.Discount
	RuleIDs   []*uuid.UUID
}

// Applied returns the distinct rule IDs used across the bill.
func (r Resolution) Applied() []uuid.UUID {
	seen := map[uuid.UUID]struct{}{}
	var out []uuid.UUID
	for _, id := range r.RuleIDs {
		if id == nil {
			continue
		}
		if _, ok := seen[*id]; ok {
			continue
		}
		seen[*id] = struct{}{}
		out = append(out, *id)
	}
	return out
}

// Service evaluates discount rules and records their usage.
type Service struct {
	Store Store
	Now   func() time.Time
}

// Resolve loads the active rules and picks the best one for every line.
func (s *Service) Resolve(ctx context.Context, lines []Line) (Resolution, error) {
	if s == nil || s.Store == nil {
		return Resolution{}, errors.New("discount service not configured")
	}
	ctx, span := otel.Tracer("discount.Service").Start(ctx, "DiscountService.Resolve")
	defer span.End()

	rules, err := s.Store.ActiveRules(ctx)
	if err != nil {
		return Resolution{}, fmt.Errorf("load discount rules: %w", err)
	}
	now := s.now()
	res := Resolution{
		Discounts: make([]*pricing.Discount, len(lines)),
		RuleIDs:   make([]*uuid.UUID, len(lines)),
	}
	for i, l := range lines {
		if best := Best(rules, l, now); best != nil {
			id := best.ID
			res.Discounts[i] = best.Discount()
			res.RuleIDs[i] = &id
		}
	}
	span.SetAttributes(attribute.Int("discount.rules_loaded", len(rules)), attribute.Int("discount.rules_applied", len(res.Applied())))
	return res, nil
}

// Create validates and stores a new rule.
func (s *Service) Create(ctx context.Context, r Rule) (Rule, error) {
	if s == nil || s.Store == nil {
		return Rule{}, errors.New("discount service not configured")
	}
	if err := checkRule(r); err != nil {
		return Rule{}, err
	}
	r.Name = strings.TrimSpace(r.Name)
	r.Active = true
	r.UsedCount = 0
	return s.Store.InsertRule(ctx, r)
}

// List returns every rule, newest first.
func (s *Service) List(ctx context.Context) ([]Rule, error) {
	if s == nil || s.Store == nil {
		return nil, errors.New("discount service not configured")
	}
	return s.Store.ListRules(ctx)
}

// Deactivate switches a rule off. Bills that already used it are unaffected.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	if s == nil || s.Store == nil {
		return errors.New("discount service not configured")
	}
	return s.Store.DeactivateRule(ctx, id)
}

var hundred = decimal.NewFromInt(100)

func checkRule(r Rule) error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	switch r.Kind {
	case pricing.DiscountPercentage:
		if r.Value.GreaterThan(hundred) {
			return fmt.Errorf("%w: percentage above 100", ErrInvalidRule)
		}
	case pricing.DiscountFixed:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRule, r.Kind)
	}
	if r.Value.IsNegative() {
		return fmt.Errorf("%w: negative value", ErrInvalidRule)
	}
	if r.ValidFrom != nil && r.ValidTo != nil && r.ValidTo.Before(*r.ValidFrom) {
		return fmt.Errorf("%w: valid_to before valid_from", ErrInvalidRule)
	}
	if r.UsageLimit != nil && *r.UsageLimit < 0 {
		return fmt.Errorf("%w: negative usage limit", ErrInvalidRule)
	}
	return nil
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
