package directory

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no directory record matches a lookup
var ErrNotFound = errors.New("directory record not found")

// Employment status values
const (
	StatusActive   = "active"
	StatusOnLeave  = "on_leave"
	StatusInactive = "inactive"
)

// Employee is one identity in the company directory
type Employee struct {
	ID         string   `db:"id" json:"id"`
	ExternalID string   `db:"external_id" json:"external_id"`
	Email      string   `db:"email" json:"email"`
	Name       string   `db:"name" json:"name"`
	Title      string   `db:"title" json:"title"`
	Subsidiary string   `db:"subsidiary" json:"subsidiary"`
	Department string   `db:"department" json:"department"`
	Status     string   `db:"status" json:"status"`
	Roles      []string `db:"-" json:"roles"`
	Skills     []string `db:"-" json:"skills"`
	ReportsTo  *string  `db:"reports_to" json:"reports_to,omitempty"`
	IsHead     bool     `db:"is_head" json:"is_head"`
	Phone      string   `db:"phone" json:"phone"`
}

// Active reports whether the employee can be assigned work
func (e *Employee) Active() bool {
	return e.Status == StatusActive
}

// HasRole reports whether the employee carries an explicit role grant
func (e *Employee) HasRole(role string) bool {
	for _, r := range e.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// RoleProfile describes a role the assignment resolver can match against.
// MaxConcurrent, when positive, overrides the engine-wide workload ceiling.
type RoleProfile struct {
	Name          string   `db:"name" json:"name"`
	Titles        []string `db:"-" json:"titles"`
	Skills        []string `db:"-" json:"skills"`
	MaxConcurrent int      `db:"max_concurrent" json:"max_concurrent"`
}

// Directory is the identity/role directory the resolver reads. The engine
// never writes through it; workload accounting goes through WorkloadCounter.
type Directory interface {
	GetByID(ctx context.Context, id string) (*Employee, error)
	GetByEmail(ctx context.Context, email string) (*Employee, error)
	GetByExternalID(ctx context.Context, externalID string) (*Employee, error)

	// ListScope returns employees within a subsidiary, optionally narrowed
	// to one department (empty department means the whole subsidiary).
	ListScope(ctx context.Context, subsidiary, department string) ([]*Employee, error)

	// RoleProfile returns the profile for a role name, or ErrNotFound when
	// the role has no profile (title/skill matching still applies).
	RoleProfile(ctx context.Context, role string) (*RoleProfile, error)

	// DepartmentHead returns the declared head of a department, or
	// ErrNotFound when none is declared.
	DepartmentHead(ctx context.Context, subsidiary, department string) (*Employee, error)
}

// WorkloadCounter tracks per-employee active work item counts. Increments
// must be atomic: the engine may run as multiple concurrent instances.
type WorkloadCounter interface {
	Current(ctx context.Context, employeeID string) (int, error)
	Increment(ctx context.Context, employeeID string) (int, error)
	Decrement(ctx context.Context, employeeID string) (int, error)
}
