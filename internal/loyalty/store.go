package loyalty

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore keeps customers and loyalty purchases in Postgres.
type PgStore struct {
	Pool *pgxpool.Pool
}

func (s PgStore) Customer(ctx context.Context, id uuid.UUID) (Customer, error) {
	return s.one(ctx, `SELECT id, name, phone, purchase_count FROM customers WHERE id = $1`, id)
}

func (s PgStore) CustomerByPhone(ctx context.Context, phone string) (Customer, error) {
	return s.one(ctx, `SELECT id, name, phone, purchase_count FROM customers WHERE phone = $1`, phone)
}

func (s PgStore) one(ctx context.Context, query string, arg any) (Customer, error) {
	var c Customer
	err := s.Pool.QueryRow(ctx, query, arg).Scan(&c.ID, &c.Name, &c.Phone, &c.PurchaseCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return Customer{}, ErrCustomerNotFound
	}
	return c, err
}

func (s PgStore) CreateCustomer(ctx context.Context, name, phone string) (Customer, error) {
	c := Customer{Name: name, Phone: phone}
	err := s.Pool.QueryRow(ctx, `INSERT INTO customers (name, phone) VALUES ($1, $2) RETURNING id`, name, phone).Scan(&c.ID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return Customer{}, ErrPhoneTaken
	}
	return c, err
}

// RecordPurchase counts billID towards the customer's purchase total inside the
// bill's own transaction. It reports false when the bill was already counted.
func RecordPurchase(ctx context.Context, tx pgx.Tx, customerID, billID uuid.UUID) (bool, error) {
	tag, err := tx.Exec(ctx, `INSERT INTO loyalty_purchases (bill_id, customer_id) VALUES ($1, $2) ON CONFLICT (bill_id) DO NOTHING`, billID, customerID)
	if err != nil {
		return false, fmt.Errorf("record loyalty purchase: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	tag, err = tx.Exec(ctx, `UPDATE customers SET purchase_count = purchase_count + 1 WHERE id = $1`, customerID)
	if err != nil {
		return false, fmt.Errorf("bump purchase count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, ErrCustomerNotFound
	}
	return true, nil
}
