package main

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-kasir/internal/auth"
	"github.com/noah-isme/backend-kasir/internal/db"
	"github.com/noah-isme/backend-kasir/internal/obs"
)

var (
	staplesCategory  = uuid.MustParse("5a1f3c2e-0000-4000-8000-000000000001")
	personalCategory = uuid.MustParse("5a1f3c2e-0000-4000-8000-000000000002")
)

type employeeSeed struct {
	Code string
	Name string
	Role string
	PIN  string
}

type productSeed struct {
	SKU      string
	Name     string
	Size     string
	Category uuid.UUID
	Rate     string
	TaxRate  string
	Stock    string
}

func main() {
	_ = godotenv.Load()
	logger := obs.NewLogger("console", "info").With().Str("component", "seeder").Logger()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := db.NewPool(ctx, db.PoolConfig{URL: dbURL, ApplicationName: "kasir-seeder"})
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	if err := seedEmployees(ctx, pool, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed employees")
	}
	products, err := seedProducts(ctx, pool)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed products")
	}
	if err := seedDiscounts(ctx, pool, products); err != nil {
		logger.Fatal().Err(err).Msg("seed discount rules")
	}
	if err := seedCustomers(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("seed customers")
	}
	logger.Info().Int("products", len(products)).Msg("seeding completed")
}

func seedEmployees(ctx context.Context, pool *pgxpool.Pool, logger zerolog.Logger) error {
	employees := []employeeSeed{
		{"M001", "Store Manager", auth.RoleManager, "9090"},
		{"C001", "Counter One", auth.RoleCashier, "1111"},
		{"C002", "Counter Two", auth.RoleCashier, "2222"},
	}
	for _, e := range employees {
		hash, err := auth.HashPIN(e.PIN)
		if err != nil {
			return err
		}
		tag, err := pool.Exec(ctx, `
			INSERT INTO employees (code, name, role, pin_hash)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (code) DO NOTHING`, e.Code, e.Name, e.Role, hash)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			logger.Info().Str("code", e.Code).Msg("employee exists, PIN left unchanged")
		}
	}
	return nil
}

func seedProducts(ctx context.Context, pool *pgxpool.Pool) (map[string]uuid.UUID, error) {
	products := []productSeed{
		{"8901000000011", "Basmati Rice", "5kg", staplesCategory, "100", "5", "400"},
		{"8901000000028", "Toor Dal", "1kg", staplesCategory, "145.50", "5", "250"},
		{"8901000000035", "Sunflower Oil", "1L", staplesCategory, "162", "5", "180"},
		{"8901000000042", "Loose Sugar", "", staplesCategory, "44", "0", "500.000"},
		{"8901000000059", "Bath Soap", "125g", personalCategory, "30", "18", "600"},
		{"8901000000066", "Toothpaste", "150g", personalCategory, "95", "18", "300"},
		{"8901000000073", "Shampoo", "340ml", personalCategory, "210", "18", "120"},
	}

	ids := make(map[string]uuid.UUID, len(products))
	batch := &pgx.Batch{}
	for _, p := range products {
		batch.Queue(`
			INSERT INTO products (sku, name, size, category_id, rate, tax_rate, stock)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (sku) DO UPDATE SET
				name = EXCLUDED.name,
				rate = EXCLUDED.rate,
				tax_rate = EXCLUDED.tax_rate,
				updated_at = now()
			RETURNING id`,
			p.SKU, p.Name, p.Size, p.Category,
			decimal.RequireFromString(p.Rate), decimal.RequireFromString(p.TaxRate), decimal.RequireFromString(p.Stock),
		).QueryRow(func(row pgx.Row) error {
			var id uuid.UUID
			if err := row.Scan(&id); err != nil {
				return err
			}
			ids[p.SKU] = id
			return nil
		})
	}
	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return nil, err
	}
	return ids, nil
}

func seedDiscounts(ctx context.Context, pool *pgxpool.Pool, products map[string]uuid.UUID) error {
	var exists bool
	if err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM discount_rules)`).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return nil
	}
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO discount_rules (name, kind, value, product_ids, priority)
			VALUES ('Rice week', 'percentage', 10, $1, 10)`,
			[]uuid.UUID{products["8901000000011"]}); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO discount_rules (name, kind, value, category_ids, priority, valid_to)
			VALUES ('Personal care markdown', 'fixed', 5, $1, 0, now() + INTERVAL '30 days')`,
			[]uuid.UUID{personalCategory})
		return err
	})
}

func seedCustomers(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO customers (name, phone, purchase_count) VALUES
			('Asha Rao', '9800000001', 9),
			('Vikram Shah', '9800000002', 2)
		ON CONFLICT (phone) DO NOTHING`)
	return err
}
