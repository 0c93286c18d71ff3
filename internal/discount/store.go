package discount

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore persists discount rules in Postgres.
type PgStore struct {
	Pool *pgxpool.Pool
}

const ruleColumns = `id, name, kind, value, product_ids, category_ids, valid_from, valid_to, priority, active, usage_limit, used_count`

func scanRules(rows pgx.Rows) ([]Rule, error) {
	defer rows.Close()
	var out []Rule
	for rows.Next() {
		var r Rule
		if err := rows.Scan(&r.ID, &r.Name, &r.Kind, &r.Value, &r.ProductIDs, &r.CategoryIDs,
			&r.ValidFrom, &r.ValidTo, &r.Priority, &r.Active, &r.UsageLimit, &r.UsedCount); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s PgStore) ActiveRules(ctx context.Context) ([]Rule, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+ruleColumns+` FROM discount_rules
		WHERE active AND (valid_to IS NULL OR valid_to > now())
		  AND (usage_limit IS NULL OR used_count < usage_limit)`)
	if err != nil {
		return nil, err
	}
	return scanRules(rows)
}

func (s PgStore) ListRules(ctx context.Context) ([]Rule, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+ruleColumns+` FROM discount_rules ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	return scanRules(rows)
}

func (s PgStore) InsertRule(ctx context.Context, r Rule) (Rule, error) {
	if r.ProductIDs == nil {
		r.ProductIDs = []uuid.UUID{}
	}
	if r.CategoryIDs == nil {
		r.CategoryIDs = []uuid.UUID{}
	}
	err := s.Pool.QueryRow(ctx, `INSERT INTO discount_rules
		(name, kind, value, product_ids, category_ids, valid_from, valid_to, priority, active, usage_limit)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		r.Name, r.Kind, r.Value, r.ProductIDs, r.CategoryIDs, r.ValidFrom, r.ValidTo, r.Priority, r.Active, r.UsageLimit,
	).Scan(&r.ID)
	return r, err
}

func (s PgStore) DeactivateRule(ctx context.Context, id uuid.UUID) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE discount_rules SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return nil
}

// RecordUsage marks the rule as used by billID inside the bill's transaction.
// A rule whose usage limit filled up after the quote was priced returns
// ErrUsageLimitReached so the caller rolls the bill back.
func RecordUsage(ctx context.Context, tx pgx.Tx, ruleID, billID uuid.UUID) error {
	tag, err := tx.Exec(ctx, `INSERT INTO discount_usages (rule_id, bill_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, ruleID, billID)
	if err != nil {
		return fmt.Errorf("record usage of rule %s: %w", ruleID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}
	tag, err = tx.Exec(ctx, `UPDATE discount_rules SET used_count = used_count + 1
		WHERE id = $1 AND (usage_limit IS NULL OR used_count < usage_limit)`, ruleID)
	if err != nil {
		return fmt.Errorf("bump usage of rule %s: %w", ruleID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrUsageLimitReached, ruleID)
	}
	return nil
}
