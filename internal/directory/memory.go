package directory

import (
	"context"
	"sync"
)

// InMemoryDirectory serves a fixed employee set from memory. It backs unit
// tests and local development where no directory database is available.
type InMemoryDirectory struct {
	mu        sync.RWMutex
	employees map[string]*Employee
	profiles  map[string]*RoleProfile
}

// NewInMemoryDirectory creates an empty in-memory directory
func NewInMemoryDirectory() *InMemoryDirectory {
	return &InMemoryDirectory{
		employees: make(map[string]*Employee),
		profiles:  make(map[string]*RoleProfile),
	}
}

// AddEmployee registers or replaces an employee record
func (d *InMemoryDirectory) AddEmployee(emp *Employee) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.employees[emp.ID] = emp
}

// AddRoleProfile registers or replaces a role profile
func (d *InMemoryDirectory) AddRoleProfile(profile *RoleProfile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[profile.Name] = profile
}

// GetByID looks up an employee by primary identifier
func (d *InMemoryDirectory) GetByID(_ context.Context, id string) (*Employee, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	emp, ok := d.employees[id]
	if !ok {
		return nil, ErrNotFound
	}
	return emp, nil
}

// GetByEmail looks up an employee by email address
func (d *InMemoryDirectory) GetByEmail(_ context.Context, email string) (*Employee, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, emp := range d.employees {
		if emp.Email == email {
			return emp, nil
		}
	}
	return nil, ErrNotFound
}

// GetByExternalID looks up an employee by external system identifier
func (d *InMemoryDirectory) GetByExternalID(_ context.Context, externalID string) (*Employee, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, emp := range d.employees {
		if emp.ExternalID == externalID {
			return emp, nil
		}
	}
	return nil, ErrNotFound
}

// ListScope returns employees within a subsidiary, optionally narrowed to one
// department
func (d *InMemoryDirectory) ListScope(_ context.Context, subsidiary, department string) ([]*Employee, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*Employee
	for _, emp := range d.employees {
		if subsidiary != "" && emp.Subsidiary != subsidiary {
			continue
		}
		if department != "" && emp.Department != department {
			continue
		}
		out = append(out, emp)
	}
	return out, nil
}

// RoleProfile returns the profile registered for a role name
func (d *InMemoryDirectory) RoleProfile(_ context.Context, role string) (*RoleProfile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	profile, ok := d.profiles[role]
	if !ok {
		return nil, ErrNotFound
	}
	return profile, nil
}

// DepartmentHead returns the employee flagged as head within the scope
func (d *InMemoryDirectory) DepartmentHead(_ context.Context, subsidiary, department string) (*Employee, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, emp := range d.employees {
		if emp.IsHead && emp.Subsidiary == subsidiary && emp.Department == department {
			return emp, nil
		}
	}
	return nil, ErrNotFound
}

// InMemoryWorkloadCounter counts per-employee work items behind a mutex. Same
// audience as InMemoryDirectory: tests and single-instance local runs.
type InMemoryWorkloadCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewInMemoryWorkloadCounter creates an empty in-memory workload counter
func NewInMemoryWorkloadCounter() *InMemoryWorkloadCounter {
	return &InMemoryWorkloadCounter{counts: make(map[string]int)}
}

// Current returns the employee's active work item count
func (w *InMemoryWorkloadCounter) Current(_ context.Context, employeeID string) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.counts[employeeID], nil
}

// Increment bumps the employee's workload and returns the new count
func (w *InMemoryWorkloadCounter) Increment(_ context.Context, employeeID string) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.counts[employeeID]++
	return w.counts[employeeID], nil
}

// Decrement lowers the employee's workload, flooring at zero
func (w *InMemoryWorkloadCounter) Decrement(_ context.Context, employeeID string) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.counts[employeeID] > 0 {
		w.counts[employeeID]--
	}
	return w.counts[employeeID], nil
}
