package loyalty

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-kasir/internal/cache"
)

var (
	// ErrCustomerNotFound is returned for unknown customer IDs or phone numbers.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrPhoneTaken is returned when registering a phone number that already exists.
	ErrPhoneTaken = errors.New("phone already registered")
)

// Customer is a registered loyalty member.
type Customer struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Phone         string    `json:"phone"`
	PurchaseCount int64     `json:"purchase_count"`
}

// Status is the loyalty view of a customer for the purchase in progress.
type Status struct {
	CustomerID    *uuid.UUID `json:"customer_id,omitempty"`
	Known         bool       `json:"known"`
	PurchaseCount int64      `json:"purchase_count"`
	Eligible      bool       `json:"eligible"`
	Remaining     int64      `json:"purchases_until_reward"`
}

// Store is the persistence surface for customers and their purchases.
type Store interface {
	Customer(ctx context.Context, id uuid.UUID) (Customer, error)
	CustomerByPhone(ctx context.Context, phone string) (Customer, error)
	CreateCustomer(ctx context.Context, name, phone string) (Customer, error)
}

// Service answers eligibility questions and keeps the cached purchase counts fresh.
type Service struct {
	Store  Store
	Cache  *cache.JSON
	Policy Policy
	Logger zerolog.Logger
}

// Eligibility reports the loyalty status for the purchase about to be made. A
// walk-in (nil) or unknown customer is never eligible.
func (s *Service) Eligibility(ctx context.Context, customerID *uuid.UUID) (Status, error) {
	if s == nil || s.Store == nil {
		return Status{}, errors.New("loyalty service not configured")
	}
	if customerID == nil {
		return Status{}, nil
	}
	st := Status{CustomerID: customerID}
	count, err := s.purchaseCount(ctx, *customerID)
	if errors.Is(err, ErrCustomerNotFound) {
		return st, nil
	}
	if err != nil {
		return Status{}, err
	}
	st.Known = true
	st.PurchaseCount = count
	st.Eligible = s.Policy.Eligible(count)
	st.Remaining = s.Policy.Remaining(count)
	return st, nil
}

func (s *Service) purchaseCount(ctx context.Context, id uuid.UUID) (int64, error) {
	key := cache.KeyLoyaltyCount(id.String())
	var count int64
	if hit, err := s.Cache.Get(ctx, key, &count); err == nil && hit {
		return count, nil
	}
	c, err := s.Store.Customer(ctx, id)
	if err != nil {
		return 0, err
	}
	if err := s.Cache.Set(ctx, key, c.PurchaseCount); err != nil {
		s.Logger.Warn().Err(err).Str("customer_id", id.String()).Msg("cache loyalty count")
	}
	return c.PurchaseCount, nil
}

// Forget drops the cached purchase count once a bill for the customer commits,
// so the next eligibility check reads the stored total.
func (s *Service) Forget(ctx context.Context, customerID uuid.UUID) error {
	if s == nil {
		return nil
	}
	if err := s.Cache.Delete(ctx, cache.KeyLoyaltyCount(customerID.String())); err != nil {
		return fmt.Errorf("forget loyalty count: %w", err)
	}
	return nil
}

// Customer returns a customer by ID.
func (s *Service) Customer(ctx context.Context, id uuid.UUID) (Customer, error) {
	if s == nil || s.Store == nil {
		return Customer{}, errors.New("loyalty service not configured")
	}
	return s.Store.Customer(ctx, id)
}

// FindByPhone resolves the number a customer gives at the till.
func (s *Service) FindByPhone(ctx context.Context, phone string) (Customer, error) {
	if s == nil || s.Store == nil {
		return Customer{}, errors.New("loyalty service not configured")
	}
	return s.Store.CustomerByPhone(ctx, NormalizePhone(phone))
}

// Register enrols a new customer.
func (s *Service) Register(ctx context.Context, name, phone string) (Customer, error) {
	if s == nil || s.Store == nil {
		return Customer{}, errors.New("loyalty service not configured")
	}
	return s.Store.CreateCustomer(ctx, strings.TrimSpace(name), NormalizePhone(phone))
}

// NormalizePhone strips formatting so lookups match however the number was typed.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(phone) {
		if r >= '0' && r <= '9' || (r == '+' && i == 0) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
