package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore reads employees from Postgres.
type PgStore struct {
	Pool *pgxpool.Pool
}

const employeeColumns = `id, code, name, role, active, pin_hash`

func (s PgStore) EmployeeByCode(ctx context.Context, code string) (Employee, error) {
	return scanEmployee(s.Pool.QueryRow(ctx, `SELECT `+employeeColumns+` FROM employees WHERE code = $1`, code))
}

func (s PgStore) EmployeeByID(ctx context.Context, id uuid.UUID) (Employee, error) {
	return scanEmployee(s.Pool.QueryRow(ctx, `SELECT `+employeeColumns+` FROM employees WHERE id = $1`, id))
}

func scanEmployee(row pgx.Row) (Employee, error) {
	var e Employee
	if err := row.Scan(&e.ID, &e.Code, &e.Name, &e.Role, &e.Active, &e.PINHash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Employee{}, ErrEmployeeNotFound
		}
		return Employee{}, err
	}
	return e, nil
}
