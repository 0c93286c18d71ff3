package bill

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-kasir/internal/common"
	"github.com/noah-isme/backend-kasir/internal/discount"
	"github.com/noah-isme/backend-kasir/internal/loyalty"
	"github.com/noah-isme/backend-kasir/internal/pricing"
	"github.com/noah-isme/backend-kasir/internal/shift"
)

// PgStore writes bills to Postgres.
type PgStore struct {
	Pool *pgxpool.Pool
}

// Number formats a bill number from its sequence value and date.
func Number(at time.Time, seq int64) string {
	return fmt.Sprintf("B%s-%06d", at.UTC().Format("20060102"), seq)
}

func (s PgStore) Save(ctx context.Context, d Draft) (Bill, error) {
	var out Bill
	err := pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		sh, err := shift.LockCurrent(ctx, tx, d.CashierID)
		if err != nil {
			return err
		}
		if err := decrementStock(ctx, tx, d.Quote.Items); err != nil {
			return err
		}
		var seq int64
		if err := tx.QueryRow(ctx, `SELECT nextval('bill_number_seq')`).Scan(&seq); err != nil {
			return fmt.Errorf("next bill number: %w", err)
		}
		b := Bill{
			ID:            d.ID,
			Number:        Number(d.CreatedAt, seq),
			ShiftID:       sh.ID,
			CashierID:     d.CashierID,
			CustomerID:    d.CustomerID,
			Items:         d.Quote.Items,
			Amounts:       d.Quote.Amounts,
			PaymentMethod: d.Method,
			Tender:        d.Tender,
			CardReference: d.CardReference,
			UPIReference:  d.UPIReference,
			ChangeDue:     d.ChangeDue,
			CreatedAt:     d.CreatedAt,
		}
		if _, err := tx.Exec(ctx, `INSERT INTO bills (id, number, shift_id, cashier_id, customer_id, payment_method,
			subtotal, item_discount, total_discount, total_tax, loyalty_discount, pre_round_grand_total, round_off, grand_total,
			cash_tendered, card_amount, upi_amount, card_reference, upi_reference, change_due, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
			b.ID, b.Number, b.ShiftID, b.CashierID, b.CustomerID, string(b.PaymentMethod),
			b.Subtotal, b.ItemDiscount, b.TotalDiscount, b.TotalTax, b.LoyaltyDiscount, b.PreRoundGrandTotal, b.RoundOff, b.GrandTotal,
			b.Tender.CashTendered, b.Tender.CardAmount, b.Tender.UPIAmount, nullText(b.CardReference), nullText(b.UPIReference),
			b.ChangeDue, b.CreatedAt); err != nil {
			return fmt.Errorf("insert bill: %w", err)
		}
		batch := &pgx.Batch{}
		for _, it := range b.Items {
			var kind *string
			var value *decimal.Decimal
			if it.Discount != nil {
				k := string(it.Discount.Kind)
				v := it.Discount.Value
				kind, value = &k, &v
			}
			batch.Queue(`INSERT INTO bill_items (bill_id, line_no, product_id, name, size, quantity, rate, tax_rate,
				discount_kind, discount_value, discount_rule_id, base_amount, discount_amount, discounted_amount, tax_amount, total_amount)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
				b.ID, it.LineNo, it.ProductID, it.Name, it.Size, it.Quantity, it.Rate, it.TaxRate,
				kind, value, it.DiscountRuleID, it.BaseAmount, it.DiscountAmount, it.DiscountedAmount, it.TaxAmount, it.TotalAmount)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert bill items: %w", err)
		}
		if err := shift.RecordSale(ctx, tx, sh.ID, d.Sale); err != nil {
			return err
		}
		for _, id := range d.Quote.RuleIDs() {
			if err := discount.RecordUsage(ctx, tx, id, b.ID); err != nil {
				return err
			}
		}
		if d.CustomerID != nil {
			if _, err := loyalty.RecordPurchase(ctx, tx, *d.CustomerID, b.ID); err != nil {
				return err
			}
		}
		out = b
		return nil
	})
	return out, err
}

// decrementStock takes each product's total quantity off the shelf, failing
// the whole bill if any product would go negative.
func decrementStock(ctx context.Context, tx pgx.Tx, items []Item) error {
	totals := make(map[uuid.UUID]decimal.Decimal, len(items))
	order := make([]uuid.UUID, 0, len(items))
	for _, it := range items {
		if _, ok := totals[it.ProductID]; !ok {
			order = append(order, it.ProductID)
		}
		totals[it.ProductID] = totals[it.ProductID].Add(it.Quantity)
	}
	for _, id := range order {
		tag, err := tx.Exec(ctx, `UPDATE products SET stock = stock - $2, updated_at = now()
			WHERE id = $1 AND stock >= $2`, id, totals[id])
		if err != nil {
			return fmt.Errorf("decrement stock: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: product %s", ErrInsufficientStock, id)
		}
	}
	return nil
}

const billColumns = `id, number, shift_id, cashier_id, customer_id, payment_method,
	subtotal, item_discount, total_discount, total_tax, loyalty_discount, pre_round_grand_total, round_off, grand_total,
	cash_tendered, card_amount, upi_amount, card_reference, upi_reference, change_due, created_at`

func scanBill(row pgx.Row) (Bill, error) {
	var b Bill
	var method string
	var cardRef, upiRef *string
	err := row.Scan(&b.ID, &b.Number, &b.ShiftID, &b.CashierID, &b.CustomerID, &method,
		&b.Subtotal, &b.ItemDiscount, &b.TotalDiscount, &b.TotalTax, &b.LoyaltyDiscount, &b.PreRoundGrandTotal, &b.RoundOff, &b.GrandTotal,
		&b.Tender.CashTendered, &b.Tender.CardAmount, &b.Tender.UPIAmount, &cardRef, &upiRef, &b.ChangeDue, &b.CreatedAt)
	if err != nil {
		return Bill{}, err
	}
	b.PaymentMethod = pricing.PaymentMethod(method)
	if cardRef != nil {
		b.CardReference = *cardRef
	}
	if upiRef != nil {
		b.UPIReference = *upiRef
	}
	return b, nil
}

func (s PgStore) Get(ctx context.Context, id uuid.UUID) (Bill, error) {
	b, err := scanBill(s.Pool.QueryRow(ctx, `SELECT `+billColumns+` FROM bills WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Bill{}, ErrBillNotFound
	}
	if err != nil {
		return Bill{}, err
	}
	rows, err := s.Pool.Query(ctx, `SELECT line_no, product_id, name, size, quantity, rate, tax_rate,
		discount_kind, discount_value, discount_rule_id, base_amount, discount_amount, discounted_amount, tax_amount, total_amount
		FROM bill_items WHERE bill_id = $1 ORDER BY line_no`, id)
	if err != nil {
		return Bill{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		var kind *string
		var value *decimal.Decimal
		if err := rows.Scan(&it.LineNo, &it.ProductID, &it.Name, &it.Size, &it.Quantity, &it.Rate, &it.TaxRate,
			&kind, &value, &it.DiscountRuleID, &it.BaseAmount, &it.DiscountAmount, &it.DiscountedAmount, &it.TaxAmount, &it.TotalAmount); err != nil {
			return Bill{}, err
		}
		if kind != nil && value != nil {
			it.Discount = &pricing.Discount{Kind: pricing.DiscountKind(*kind), Value: *value}
		}
		b.Items = append(b.Items, it)
	}
	return b, rows.Err()
}

func (s PgStore) List(ctx context.Context, f Filter) ([]Bill, int64, error) {
	var where []string
	var args []any
	if f.ShiftID != nil {
		args = append(args, *f.ShiftID)
		where = append(where, fmt.Sprintf("shift_id = $%d", len(args)))
	}
	if f.CashierID != nil {
		args = append(args, *f.CashierID)
		where = append(where, fmt.Sprintf("cashier_id = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}
	var total int64
	if err := s.Pool.QueryRow(ctx, `SELECT count(*) FROM bills`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, f.PerPage, common.Offset(f.Page, f.PerPage))
	rows, err := s.Pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM bills%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		billColumns, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, b)
	}
	return out, total, rows.Err()
}

func nullText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
