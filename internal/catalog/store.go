package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore reads products from Postgres.
type PgStore struct {
	Pool *pgxpool.Pool
}

const productColumns = `id, sku, name, size, category_id, rate, tax_rate, stock, active`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Size, &p.CategoryID, &p.Rate, &p.TaxRate, &p.Stock, &p.Active)
	return p, err
}

func (s PgStore) ProductsByIDs(ctx context.Context, ids []uuid.UUID) ([]Product, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s PgStore) ProductBySKU(ctx context.Context, sku string) (Product, error) {
	p, err := scanProduct(s.Pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE sku = $1`, sku))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, sku)
	}
	return p, err
}

func (s PgStore) ListProducts(ctx context.Context, params ListParams) ([]Product, int64, error) {
	where := []string{"active"}
	args := []any{}
	if params.Query != "" {
		args = append(args, "%"+params.Query+"%")
		where = append(where, fmt.Sprintf("(name ILIKE $%d OR sku ILIKE $%d)", len(args), len(args)))
	}
	if params.CategoryID != nil {
		args = append(args, *params.CategoryID)
		where = append(where, fmt.Sprintf("category_id = $%d", len(args)))
	}
	if params.InStock != nil {
		if *params.InStock {
			where = append(where, "stock > 0")
		} else {
			where = append(where, "stock <= 0")
		}
	}
	clause := strings.Join(where, " AND ")

	var total int64
	if err := s.Pool.QueryRow(ctx, `SELECT count(*) FROM products WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, params.Limit, (params.Page-1)*params.Limit)
	query := fmt.Sprintf(`SELECT %s FROM products WHERE %s ORDER BY name LIMIT $%d OFFSET $%d`,
		productColumns, clause, len(args)-1, len(args))
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := make([]Product, 0, params.Limit)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}
