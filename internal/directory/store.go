package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PostgresDirectory reads the employee/role directory tables. The directory
// is owned by an external system; this engine only queries it.
type PostgresDirectory struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgresDirectory creates a Postgres-backed directory reader
func NewPostgresDirectory(db *sqlx.DB, logger *slog.Logger) *PostgresDirectory {
	return &PostgresDirectory{db: db, logger: logger}
}

type employeeRow struct {
	ID         string         `db:"id"`
	ExternalID string         `db:"external_id"`
	Email      string         `db:"email"`
	Name       string         `db:"name"`
	Title      string         `db:"title"`
	Subsidiary string         `db:"subsidiary"`
	Department string         `db:"department"`
	Status     string         `db:"status"`
	Roles      pq.StringArray `db:"roles"`
	Skills     pq.StringArray `db:"skills"`
	ReportsTo  *string        `db:"reports_to"`
	IsHead     bool           `db:"is_head"`
	Phone      string         `db:"phone"`
}

func (r employeeRow) toEmployee() *Employee {
	return &Employee{
		ID:         r.ID,
		ExternalID: r.ExternalID,
		Email:      r.Email,
		Name:       r.Name,
		Title:      r.Title,
		Subsidiary: r.Subsidiary,
		Department: r.Department,
		Status:     r.Status,
		Roles:      []string(r.Roles),
		Skills:     []string(r.Skills),
		ReportsTo:  r.ReportsTo,
		IsHead:     r.IsHead,
		Phone:      r.Phone,
	}
}

const employeeColumns = `id, external_id, email, name, title, subsidiary,
	department, status, roles, skills, reports_to, is_head, phone`

// GetByID retrieves an employee by id
func (d *PostgresDirectory) GetByID(ctx context.Context, id string) (*Employee, error) {
	return d.getBy(ctx, "id", id)
}

// GetByEmail retrieves an employee by email
func (d *PostgresDirectory) GetByEmail(ctx context.Context, email string) (*Employee, error) {
	return d.getBy(ctx, "email", email)
}

// GetByExternalID retrieves an employee by external id
func (d *PostgresDirectory) GetByExternalID(ctx context.Context, externalID string) (*Employee, error) {
	return d.getBy(ctx, "external_id", externalID)
}

func (d *PostgresDirectory) getBy(ctx context.Context, column, value string) (*Employee, error) {
	query := fmt.Sprintf("SELECT %s FROM employees WHERE %s = $1", employeeColumns, column)

	var row employeeRow
	err := d.db.GetContext(ctx, &row, query, value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up employee by %s: %w", column, err)
	}

	return row.toEmployee(), nil
}

// ListScope retrieves employees within a subsidiary/department scope
func (d *PostgresDirectory) ListScope(ctx context.Context, subsidiary, department string) ([]*Employee, error) {
	query := fmt.Sprintf("SELECT %s FROM employees WHERE subsidiary = $1", employeeColumns)
	args := []any{subsidiary}
	if department != "" {
		query += " AND department = $2"
		args = append(args, department)
	}
	query += " ORDER BY name ASC"

	var rows []employeeRow
	if err := d.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list employees in scope: %w", err)
	}

	employees := make([]*Employee, len(rows))
	for i, row := range rows {
		employees[i] = row.toEmployee()
	}
	return employees, nil
}

type roleProfileRow struct {
	Name          string         `db:"name"`
	Titles        pq.StringArray `db:"titles"`
	Skills        pq.StringArray `db:"skills"`
	MaxConcurrent int            `db:"max_concurrent"`
}

// RoleProfile retrieves the profile for a role name
func (d *PostgresDirectory) RoleProfile(ctx context.Context, role string) (*RoleProfile, error) {
	query := `SELECT name, titles, skills, max_concurrent FROM role_profiles WHERE name = $1`

	var row roleProfileRow
	err := d.db.GetContext(ctx, &row, query, role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up role profile: %w", err)
	}

	return &RoleProfile{
		Name:          row.Name,
		Titles:        []string(row.Titles),
		Skills:        []string(row.Skills),
		MaxConcurrent: row.MaxConcurrent,
	}, nil
}

// DepartmentHead retrieves the declared head of a department
func (d *PostgresDirectory) DepartmentHead(ctx context.Context, subsidiary, department string) (*Employee, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM employees WHERE subsidiary = $1 AND department = $2 AND is_head = true LIMIT 1",
		employeeColumns,
	)

	var row employeeRow
	err := d.db.GetContext(ctx, &row, query, subsidiary, department)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up department head: %w", err)
	}

	return row.toEmployee(), nil
}
