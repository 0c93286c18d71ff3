package shift

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PgStore keeps shifts in Postgres.
type PgStore struct {
	Pool *pgxpool.Pool
}

const shiftColumns = `id, cashier_id, status, opening_cash, cash_sales, card_sales, upi_sales, bill_count, counted_cash, opened_at, closed_at`

func scanShift(row pgx.Row) (Shift, error) {
	var sh Shift
	err := row.Scan(&sh.ID, &sh.CashierID, &sh.Status, &sh.OpeningCash, &sh.CashSales, &sh.CardSales,
		&sh.UPISales, &sh.BillCount, &sh.CountedCash, &sh.OpenedAt, &sh.ClosedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Shift{}, ErrNoOpenShift
	}
	return sh, err
}

func (s PgStore) Current(ctx context.Context, cashierID uuid.UUID) (Shift, error) {
	return scanShift(s.Pool.QueryRow(ctx, `SELECT `+shiftColumns+` FROM shifts WHERE cashier_id = $1 AND status = 'open'`, cashierID))
}

func (s PgStore) Open(ctx context.Context, cashierID uuid.UUID, openingCash decimal.Decimal, at time.Time) (Shift, error) {
	sh, err := scanShift(s.Pool.QueryRow(ctx, `INSERT INTO shifts (cashier_id, opening_cash, opened_at)
		VALUES ($1, $2, $3) RETURNING `+shiftColumns, cashierID, openingCash, at))
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return Shift{}, ErrShiftAlreadyOpen
	}
	return sh, err
}

func (s PgStore) Close(ctx context.Context, shiftID uuid.UUID, countedCash decimal.Decimal, at time.Time) (Shift, error) {
	return scanShift(s.Pool.QueryRow(ctx, `UPDATE shifts SET status = 'closed', counted_cash = $2, closed_at = $3
		WHERE id = $1 AND status = 'open' RETURNING `+shiftColumns, shiftID, countedCash, at))
}

// LockCurrent selects the cashier's open shift FOR UPDATE inside tx, so a
// concurrent close waits for the bill being written.
func LockCurrent(ctx context.Context, tx pgx.Tx, cashierID uuid.UUID) (Shift, error) {
	return scanShift(tx.QueryRow(ctx, `SELECT `+shiftColumns+` FROM shifts WHERE cashier_id = $1 AND status = 'open' FOR UPDATE`, cashierID))
}

// RecordSale adds a bill's takings to the shift inside tx.
func RecordSale(ctx context.Context, tx pgx.Tx, shiftID uuid.UUID, sale Sale) error {
	tag, err := tx.Exec(ctx, `UPDATE shifts SET cash_sales = cash_sales + $2, card_sales = card_sales + $3,
		upi_sales = upi_sales + $4, bill_count = bill_count + 1 WHERE id = $1 AND status = 'open'`,
		shiftID, sale.Cash, sale.Card, sale.UPI)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNoOpenShift
	}
	return nil
}
